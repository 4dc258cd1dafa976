// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package otel

import (
	"go.opentelemetry.io/otel/attribute"
)

// WroteBytesKey is the number of response body bytes written by a REST handler.
const WroteBytesKey = attribute.Key("http.wrote_bytes")

// TransferHeaderKey is the context key of a configured transfer header value.
type TransferHeaderKey string
