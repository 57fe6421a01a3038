// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sessions

import "strings"

// Markers framing a rendered retrieval context block inside a prompt. The
// literal user question follows the end marker wrapped in QuestionDelimiter.
const (
	ContextBeginMarker = "___begin_context___"
	ContextEndMarker   = "___end_context___"
	QuestionDelimiter  = "$"
)

// WrapQuestion wraps the literal question for embedding after a context
// block.
func WrapQuestion(q string) string {
	return QuestionDelimiter + q + QuestionDelimiter
}

// Redact strips an embedded retrieval context block from a user message.
//
// # Description
//
// Messages without context markers are returned verbatim, so a plain "$5"
// typed by a user is never mangled. When markers are present, the first
// delimiter-wrapped segment after the last end marker is the stored
// question. The wrapper closes at the last delimiter, so a question that
// itself contains the delimiter survives intact. If no wrapped segment
// exists the block itself is cut out and the remaining text is kept.
//
// # Examples
//
//	Redact("___begin_context___\nX\n___end_context___\n...\n$hello$") // "hello"
//	Redact("how much is $5 in rupiah?")                              // unchanged
func Redact(content string) string {
	begin := strings.Index(content, ContextBeginMarker)
	end := strings.LastIndex(content, ContextEndMarker)
	if begin < 0 && end < 0 {
		return content
	}

	tail := content
	if end >= 0 {
		tail = content[end+len(ContextEndMarker):]
	}
	if q, ok := wrappedQuestion(tail); ok {
		return q
	}
	return stripBlock(content)
}

// wrappedQuestion returns the text between the first and the last
// delimiter.
func wrappedQuestion(s string) (string, bool) {
	open := strings.Index(s, QuestionDelimiter)
	if open < 0 {
		return "", false
	}
	rest := s[open+len(QuestionDelimiter):]
	closing := strings.LastIndex(rest, QuestionDelimiter)
	if closing < 0 {
		return "", false
	}
	q := rest[:closing]
	if strings.TrimSpace(q) == "" {
		return "", false
	}
	return q, true
}

// stripBlock removes every begin..end span, and anything after an
// unterminated begin marker.
func stripBlock(content string) string {
	var b strings.Builder
	for {
		begin := strings.Index(content, ContextBeginMarker)
		if begin < 0 {
			b.WriteString(content)
			break
		}
		b.WriteString(content[:begin])
		rest := content[begin:]
		end := strings.Index(rest, ContextEndMarker)
		if end < 0 {
			break
		}
		content = rest[end+len(ContextEndMarker):]
	}
	out := b.String()
	out = strings.ReplaceAll(out, ContextEndMarker, "")
	return strings.TrimSpace(out)
}
