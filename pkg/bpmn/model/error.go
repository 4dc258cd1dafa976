// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package model

import "strings"

// ValidationError is returned when a definition is rejected at compile or publish time.
type ValidationError struct {
	Msg      string
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return e.Msg
	}
	return e.Msg + ": " + strings.Join(e.Problems, "; ")
}
