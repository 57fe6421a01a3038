// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/IndoClimate/pkg/fingerprint"
)

// =============================================================================
// Apologies
// =============================================================================

const (
	// DefaultTimeoutApology is sent when a gateway turn missed its deadline.
	DefaultTimeoutApology = "Maaf, permintaan Anda membutuhkan waktu terlalu lama untuk diproses. Silakan coba lagi beberapa saat lagi. / Sorry, your request took too long to process. Please try again shortly."

	// DefaultGenericApology is the retry text after a failed delivery, and
	// the reply when answer generation failed.
	DefaultGenericApology = "Maaf, terjadi kesalahan saat memproses pesan Anda. Silakan coba lagi. / Sorry, something went wrong while processing your message. Please try again."
)

// =============================================================================
// Errors
// =============================================================================

// ErrDeliveryFailed matches every *DeliveryError.
var ErrDeliveryFailed = errors.New("gateway delivery failed")

// DeliveryError reports an undeliverable reply.
//
// # Fields
//
//   - Recipient: Hashed recipient key; the raw key is never carried.
//   - Attempts: Sends attempted, including the apology retry.
//   - ApologyDelivered: True when the reply failed but the apology got
//     through.
//   - Err: Last transport error, nil when the gateway only refused.
type DeliveryError struct {
	Recipient        string
	Attempts         int
	ApologyDelivered bool
	Err              error
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("delivery to %s failed after %d attempts", e.Recipient, e.Attempts)
	if e.ApologyDelivered {
		msg += " (apology delivered)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Is matches ErrDeliveryFailed.
func (e *DeliveryError) Is(target error) bool { return target == ErrDeliveryFailed }

// =============================================================================
// Deliverer
// =============================================================================

// Deliverer sends a reply and, when that fails, one generic apology.
type Deliverer struct {
	sender  Sender
	apology string
}

// NewDeliverer wraps sender. An empty apology uses DefaultGenericApology.
func NewDeliverer(sender Sender, apology string) *Deliverer {
	if apology == "" {
		apology = DefaultGenericApology
	}
	return &Deliverer{sender: sender, apology: apology}
}

// Deliver sends text to the recipient.
//
// # Outputs
//
//   - error: nil when text was delivered. Otherwise a *DeliveryError, also
//     when the apology retry succeeded, since the reply itself was lost.
func (d *Deliverer) Deliver(ctx context.Context, to, text string) error {
	ok, err := d.sender.Send(ctx, to, text)
	if ok && err == nil {
		return nil
	}
	recipient := fingerprint.Hash(to)
	slog.Warn("Gateway delivery failed, sending apology", "recipient", recipient, "error", err)

	retryOK, retryErr := d.sender.Send(ctx, to, d.apology)
	if retryErr != nil {
		err = retryErr
	}
	delivered := retryOK && retryErr == nil
	if !delivered {
		slog.Error("Gateway apology delivery failed", "recipient", recipient, "error", retryErr)
	}
	return &DeliveryError{
		Recipient:        recipient,
		Attempts:         2,
		ApologyDelivered: delivered,
		Err:              err,
	}
}
