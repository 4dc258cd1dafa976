// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package storage

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInstanceClosed   = errors.New("instance was cancelled or terminated")
	ErrStatusConflict   = errors.New("instance status changed concurrently")
	ErrVersionImmutable = errors.New("published version can not be modified")
	ErrLockNotHeld      = errors.New("lock is not held by the holder")
)
