/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package config provides configuration loading helpers and custom types
// for human-readable configuration values.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v3"
)

// ByteSize represents a size in bytes that can be parsed from both integers
// and human-readable strings (e.g. "1M", "42GB").
type ByteSize uint64

// UnmarshalText implements encoding.TextUnmarshaler,
// which is used by mapstructure.TextUnmarshallerHookFunc.
func (b *ByteSize) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(strings.Trim(string(text), `"`))
	if num, err := strconv.ParseInt(s, 10, 64); err == nil {
		if num < 0 {
			return fmt.Errorf("negative byte size is not allowed: %d", num)
		}
		*b = ByteSize(num)
		return nil
	}
	num, err := bytefmt.ToBytes(s)
	if err != nil {
		return fmt.Errorf("invalid byte size format (%s): %w", s, err)
	}
	*b = ByteSize(num)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	return b.UnmarshalText(data)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		var num uint64
		if err2 := value.Decode(&num); err2 != nil {
			return fmt.Errorf("invalid byte size format: %v", value.Value)
		}
		*b = ByteSize(num)
		return nil
	}
	return b.UnmarshalText([]byte(s))
}

// String implements fmt.Stringer and returns the human-readable representation.
func (b ByteSize) String() string {
	return bytefmt.ByteSize(uint64(b))
}

// TimeDuration represents a time duration that can be parsed from both
// integers (nanoseconds) and human-readable strings (e.g. "1h30m").
type TimeDuration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler,
// which is used by mapstructure.TextUnmarshallerHookFunc.
func (d *TimeDuration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(strings.Trim(string(text), `"`))
	if num, err := strconv.ParseInt(s, 10, 64); err == nil {
		if num < 0 {
			return fmt.Errorf("negative duration is not allowed: %d", num)
		}
		*d = TimeDuration(num)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid time duration format (%s): %w", s, err)
	}
	*d = TimeDuration(dur)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *TimeDuration) UnmarshalJSON(data []byte) error {
	return d.UnmarshalText(data)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		var num int64
		if err2 := value.Decode(&num); err2 != nil {
			return fmt.Errorf("invalid time duration format: %v", value.Value)
		}
		*d = TimeDuration(num)
		return nil
	}
	return d.UnmarshalText([]byte(s))
}

// String implements fmt.Stringer and returns the human-readable representation.
func (d TimeDuration) String() string {
	return time.Duration(d).String()
}
