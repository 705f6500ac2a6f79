// Package topic validates, canonicalizes, and matches hierarchical
// dot-delimited topic names against subscription patterns using "+"
// (single segment) and "#" (trailing, any depth) wildcards.
package topic

import (
	"errors"
	"strings"
)

const (
	// MaxSegments is the maximum number of dot-separated segments a topic
	// or pattern may have.
	MaxSegments = 5
	// MaxLength is the maximum total byte length of a canonical topic or
	// pattern.
	MaxLength = 255
)

var (
	ErrEmpty       = errors.New("topic: empty")
	ErrTooLong     = errors.New("topic: exceeds maximum length")
	ErrTooDeep     = errors.New("topic: exceeds maximum segment depth")
	ErrBadSegment  = errors.New("topic: invalid segment")
	ErrBadWildcard = errors.New("topic: wildcard in disallowed position")
)

// Canonicalize lower-cases a topic or pattern. Callers must still Validate
// or ValidatePattern the result.
func Canonicalize(t string) string {
	return strings.ToLower(t)
}

func isSegmentChar(c byte, first bool) bool {
	if first {
		return c >= 'a' && c <= 'z'
	}
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

func validSegment(seg string) bool {
	if seg == "" {
		return false
	}
	for i := 0; i < len(seg); i++ {
		if !isSegmentChar(seg[i], i == 0) {
			return false
		}
	}
	return true
}

// Validate checks a canonical (non-pattern) topic: [a-z][a-z0-9]*(\.[a-z][a-z0-9]*){0,4},
// total length <= 255.
func Validate(t string) error {
	return validate(t, false)
}

// ValidatePattern checks a subscription pattern, additionally admitting
// "+" as a whole segment and "#" as the final segment.
func ValidatePattern(t string) error {
	return validate(t, true)
}

func validate(t string, pattern bool) error {
	if t == "" {
		return ErrEmpty
	}
	if len(t) > MaxLength {
		return ErrTooLong
	}
	if strings.HasPrefix(t, ".") || strings.HasSuffix(t, ".") || strings.Contains(t, "..") {
		return ErrBadSegment
	}
	segs := strings.Split(t, ".")
	if len(segs) > MaxSegments {
		return ErrTooDeep
	}
	for i, seg := range segs {
		if pattern && seg == "+" {
			continue
		}
		if pattern && seg == "#" {
			if i != len(segs)-1 {
				return ErrBadWildcard
			}
			continue
		}
		if !validSegment(seg) {
			return ErrBadSegment
		}
	}
	return nil
}

// Segments splits an already-canonical topic or pattern into its
// dot-delimited parts.
func Segments(t string) []string {
	return strings.Split(t, ".")
}

// IsSystem reports whether a canonical topic belongs to the system.*
// control-plane namespace.
func IsSystem(t string) bool {
	return t == "system" || strings.HasPrefix(t, "system.")
}
