// Package pathutil checks user-supplied names before they become object keys.
package pathutil

import (
	"errors"
	"strings"
	"unicode"
)

const MaxNameLen = 200

var (
	ErrEmptyName   = errors.New("name is empty")
	ErrNameTooLong = errors.New("name is too long")
	ErrUnsafeName  = errors.New("name contains path separators, dot segments or control characters")
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// CleanFileName returns name trimmed of surrounding space if it is safe to
// use as the last segment of an object key: a single segment, no dot
// segments, no control characters.
func CleanFileName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if len(name) > MaxNameLen {
		return "", ErrNameTooLong
	}
	if strings.ContainsAny(name, `/\`) || HasDotSegments(name) {
		return "", ErrUnsafeName
	}
	for _, r := range name {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return "", ErrUnsafeName
		}
	}
	return name, nil
}
