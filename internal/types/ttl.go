// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/senseyeio/duration"
)

const Day = 24 * time.Hour

// TTL is a configuration duration. It accepts Go durations (90s, 1h30m), a day prefix (1d, 4d8h)
// and ISO-8601 durations (PT30S, P1DT12H) like timers of workflow definitions do.
type TTL time.Duration

func (c TTL) Duration() time.Duration {
	return time.Duration(c)
}

func (c TTL) String() string {
	return time.Duration(c).String()
}

// SetValue is used by cleanenv for env and default values.
func (c *TTL) SetValue(s string) error {
	return c.UnmarshalText([]byte(s))
}

func (c TTL) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *TTL) UnmarshalText(s []byte) error {
	ttl, err := ParseTTL(string(s))
	if err != nil {
		return err
	}
	*c = ttl
	return nil
}

func (c *TTL) UnmarshalJSON(s []byte) error {
	var str string
	if err := json.Unmarshal(s, &str); err != nil {
		return fmt.Errorf("ttl must be a string: %w", err)
	}
	return c.UnmarshalText([]byte(str))
}

func ParseTTL(s string) (TTL, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("invalid ttl: empty value")
	}
	if strings.HasPrefix(s, "P") {
		return parseISO8601(s)
	}
	var days time.Duration
	if i := strings.IndexByte(s, 'd'); i > 0 {
		n, err := strconv.ParseUint(s[:i], 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid ttl %q: %w", s, err)
		}
		days = time.Duration(n) * Day
		s = s[i+1:]
		if s == "" {
			return TTL(days), nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid ttl %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid ttl %q: negative duration", s)
	}
	return TTL(days + d), nil
}

// parseISO8601 rejects years and months, their length depends on the calendar.
func parseISO8601(s string) (TTL, error) {
	if strings.HasSuffix(s, "P") || strings.HasSuffix(s, "T") {
		return 0, fmt.Errorf("invalid ttl %q: missing duration components", s)
	}
	d, err := duration.ParseISO8601(s)
	if err != nil {
		return 0, fmt.Errorf("invalid ttl %q: %w", s, err)
	}
	if d.Y != 0 || d.M != 0 {
		return 0, fmt.Errorf("invalid ttl %q: years and months are not supported", s)
	}
	return TTL(time.Duration(d.W)*7*Day +
		time.Duration(d.D)*Day +
		time.Duration(d.TH)*time.Hour +
		time.Duration(d.TM)*time.Minute +
		time.Duration(d.TS)*time.Second), nil
}
