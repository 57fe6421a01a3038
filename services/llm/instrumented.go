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
	"context"
	"time"
)

// Observer receives one callback per model call.
type Observer func(profile string, elapsed time.Duration, err error)

// instrumented reports call latency and outcome to an Observer.
type instrumented struct {
	next     Client
	profile  string
	observer Observer
}

// WithObserver wraps c so every Invoke and Stream is reported to obs under
// the profile name. A nil obs returns c unchanged.
func WithObserver(c Client, profile string, obs Observer) Client {
	if obs == nil {
		return c
	}
	return &instrumented{next: c, profile: profile, observer: obs}
}

func (i *instrumented) Invoke(ctx context.Context, system string, messages []Message) (string, error) {
	start := time.Now()
	out, err := i.next.Invoke(ctx, system, messages)
	i.observer(i.profile, time.Since(start), err)
	return out, err
}

func (i *instrumented) Stream(ctx context.Context, system string, messages []Message, onChunk func(string) error) error {
	start := time.Now()
	err := i.next.Stream(ctx, system, messages, onChunk)
	i.observer(i.profile, time.Since(start), err)
	return err
}
