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
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/sessions"
)

// =============================================================================
// Fixed Texts
// =============================================================================

// AnswerLanguageInstruction follows every context block.
const AnswerLanguageInstruction = "Jawablah dalam bahasa yang sama dengan pertanyaan pengguna di bawah ini. " +
	"Answer in the same language as the user's question below."

// Notices used as the block body when retrieval found nothing.
const (
	NoDocumentsNoticeID = "Tidak ada dokumen regulasi yang relevan ditemukan untuk pertanyaan ini. " +
		"Sampaikan kepada pengguna bahwa informasi tersebut tidak tersedia dalam basis data regulasi."
	NoDocumentsNoticeEN = "No relevant regulation documents were found for this question. " +
		"Tell the user that the information is not available in the regulation database."
)

// =============================================================================
// Fragment Rendering
// =============================================================================

// renderFragment formats one numbered fragment block.
func renderFragment(n int, f datatypes.MergedFragment) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(strconv.Itoa(n))
	b.WriteString("] ")
	b.WriteString(citation(f.Metadata))
	b.WriteString("\n")
	if f.Metadata.Title != "" {
		b.WriteString("Judul: ")
		b.WriteString(f.Metadata.Title)
		b.WriteString("\n")
	}
	if f.Metadata.DocumentCode != "" {
		b.WriteString("Kode: ")
		b.WriteString(f.Metadata.DocumentCode)
		b.WriteString("\n")
	}
	b.WriteString(strings.TrimSpace(f.Text))
	return b.String()
}

// citation renders "{type} Nomor {number} Tahun {year}", skipping missing
// parts.
func citation(m datatypes.FragmentMetadata) string {
	parts := make([]string, 0, 5)
	if m.RegulationType != "" {
		parts = append(parts, m.RegulationType)
	}
	if m.Number != "" {
		parts = append(parts, "Nomor", m.Number)
	}
	if m.Year != "" {
		parts = append(parts, "Tahun", m.Year)
	}
	if len(parts) == 0 {
		return "Dokumen"
	}
	return strings.Join(parts, " ")
}

// renderFragments numbers fragments 1..N in slice order.
func renderFragments(fragments []datatypes.MergedFragment) string {
	blocks := make([]string, len(fragments))
	for i, f := range fragments {
		blocks[i] = renderFragment(i+1, f)
	}
	return strings.Join(blocks, "\n\n")
}

// =============================================================================
// Context Block
// =============================================================================

// ContextBlock frames body with the context markers, appends the answer
// language instruction and ends with the wrapped literal question.
func ContextBlock(body, question string) string {
	return strings.Join([]string{
		sessions.ContextBeginMarker,
		body,
		sessions.ContextEndMarker,
		AnswerLanguageInstruction,
		sessions.WrapQuestion(question),
	}, "\n")
}

// NoDocumentsNotice picks the notice language. A language tag wins; the
// character heuristic is only a fallback.
func NoDocumentsNotice(language, normalizedQuery string) string {
	switch language {
	case "id":
		return NoDocumentsNoticeID
	case "":
	default:
		return NoDocumentsNoticeEN
	}
	if LooksEnglish(normalizedQuery) {
		return NoDocumentsNoticeEN
	}
	return NoDocumentsNoticeID
}

var (
	asciiOnly = regexp.MustCompile(`^[A-Za-z0-9_\s.,;:!?'"()\-]+$`)

	// Common Indonesian function words. Indonesian is written in plain ASCII
	// too, so character classes alone cannot tell the two apart.
	indonesianWords = map[string]struct{}{
		"apa": {}, "yang": {}, "dan": {}, "di": {}, "ke": {}, "dari": {}, "itu": {},
		"ini": {}, "bagaimana": {}, "berapa": {}, "siapa": {}, "kapan": {}, "mengapa": {},
		"adalah": {}, "untuk": {}, "dengan": {}, "tentang": {}, "apakah": {}, "dalam": {},
		"tidak": {}, "peraturan": {}, "undang": {}, "pasal": {}, "tahun": {}, "nomor": {},
	}
)

// LooksEnglish is a formatting heuristic: the text must consist solely of
// ASCII word characters and basic punctuation and contain no common
// Indonesian function word.
func LooksEnglish(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || !asciiOnly.MatchString(s) {
		return false
	}
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		if _, ok := indonesianWords[w]; ok {
			return false
		}
	}
	return true
}
