// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a response holds no complete JSON object.
var ErrNoJSON = errors.New("no JSON object found in response")

// ExtractJSON returns the first complete JSON object in a model response.
//
// # Description
//
// Models wrap JSON in code fences, add a preamble ("Here is my analysis:")
// or trail off with commentary. ExtractJSON strips a leading fence of any
// language tag, then scans from the first '{' to its matching '}' while
// honoring string literals and escapes, and validates the result.
//
// # Outputs
//
//   - []byte: The object, ready for json.Unmarshal.
//   - error: ErrNoJSON, or a validation error for malformed objects.
func ExtractJSON(response string) ([]byte, error) {
	s := stripFence(strings.TrimSpace(response))
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, ErrNoJSON
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				obj := []byte(s[start : i+1])
				if !json.Valid(obj) {
					return nil, fmt.Errorf("malformed JSON object in response")
				}
				return obj, nil
			}
		}
	}
	return nil, ErrNoJSON
}

// stripFence removes a surrounding ``` fence, with or without a language
// tag. Text outside the fence is dropped.
func stripFence(s string) string {
	open := strings.Index(s, "```")
	if open < 0 {
		return s
	}
	rest := s[open+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.Contains(rest[:nl], "{") {
		rest = rest[nl+1:]
	}
	if closing := strings.Index(rest, "```"); closing >= 0 {
		rest = rest[:closing]
	}
	return strings.TrimSpace(rest)
}

// ParseJSON extracts the first JSON object from response and decodes it
// into T. Every caller of a JSON-producing model goes through here and
// applies its own fallback on error.
func ParseJSON[T any](response string) (T, error) {
	var out T
	obj, err := ExtractJSON(response)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(obj, &out); err != nil {
		return out, fmt.Errorf("decode model JSON: %w", err)
	}
	return out, nil
}
