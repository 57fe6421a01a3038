// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"strings"
	"unicode/utf8"
)

// MergeOverlap joins a chunk with its successor without repeating the text
// the two share at their boundary.
//
// # Description
//
// The longest suffix of a that case-insensitively equals a prefix of b is
// found by trying lengths from min(len(a), len(b)) down to 1. On a match of
// length L the result is a[:len(a)-L] + b. Without any overlap, a is
// trimmed of surrounding whitespace and joined to b by a single space.
// There is no minimum overlap length.
//
// # Outputs
//
//   - string: b is always kept whole. Only the detected overlap, or a's
//     surrounding whitespace when there is none, is dropped from a.
//
// # Examples
//
//	MergeOverlap("the quick brown", "brown fox jumps") // "the quick brown fox jumps"
//	MergeOverlap("abc\n", "xyz")                       // "abc xyz"
func MergeOverlap(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if l := overlapLen(a, b); l > 0 {
		return a[:len(a)-l] + b
	}
	return strings.TrimSpace(a) + " " + b
}

// overlapLen returns the byte length of the longest suffix of a equal to a
// prefix of b under Unicode case folding. Candidate boundaries that would
// split a UTF-8 sequence are skipped.
func overlapLen(a, b string) int {
	for l := min(len(a), len(b)); l > 0; l-- {
		start := len(a) - l
		if !utf8.RuneStart(a[start]) {
			continue
		}
		if l < len(b) && !utf8.RuneStart(b[l]) {
			continue
		}
		if strings.EqualFold(a[start:], b[:l]) {
			return l
		}
	}
	return 0
}
