// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"errors"
	"fmt"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrGenerationFailed marks a failed answer synthesis. Nothing is stored
	// for the turn.
	ErrGenerationFailed = errors.New("answer generation failed")

	// ErrTurnTimeout is returned when a deadline-raced turn lost the race.
	// The caller sends the apology; no history is written for the turn.
	ErrTurnTimeout = errors.New("turn deadline exceeded")

	// ErrTurnAbandoned is returned to an abandoned pipeline that finished
	// after its deadline. Its answer is discarded.
	ErrTurnAbandoned = errors.New("turn abandoned after deadline")
)

// GenerationError is a language-model failure during answer synthesis.
//
// It matches ErrGenerationFailed with errors.Is and unwraps to the model
// error.
type GenerationError struct {
	SessionID string
	Err       error
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed for session %s: %v", e.SessionID, e.Err)
}

// Unwrap returns the model error.
func (e *GenerationError) Unwrap() error { return e.Err }

// Is matches ErrGenerationFailed.
func (e *GenerationError) Is(target error) bool { return target == ErrGenerationFailed }

// IsGenerationError reports whether err is or wraps a *GenerationError.
//
// # Example
//
//	resp, err := service.Process(ctx, req)
//	if services.IsGenerationError(err) {
//	    c.JSON(http.StatusBadGateway, gin.H{"error": "answer generation failed"})
//	    return
//	}
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}
