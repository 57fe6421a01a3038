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
	"context"
	"sync"
)

// turnQueue admits turns on one session in arrival order, one at a time.
//
// Each turn installs its own done channel as the session's tail and waits
// on the previous tail, which makes admission strictly FIFO.
type turnQueue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newTurnQueue() *turnQueue {
	return &turnQueue{tails: make(map[string]chan struct{})}
}

// enter blocks until every earlier turn on sessionID has released.
//
// # Outputs
//
//   - func(): Release. Must be called exactly once when enter succeeded.
//   - error: ctx.Err() when ctx ended while waiting. The slot is then
//     released on the caller's behalf once the earlier turns finish, so
//     later turns still wait for them.
func (q *turnQueue) enter(ctx context.Context, sessionID string) (func(), error) {
	done := make(chan struct{})
	q.mu.Lock()
	prev := q.tails[sessionID]
	q.tails[sessionID] = done
	q.mu.Unlock()

	release := func() {
		q.mu.Lock()
		if q.tails[sessionID] == done {
			delete(q.tails, sessionID)
		}
		q.mu.Unlock()
		close(done)
	}

	if prev == nil {
		return release, nil
	}
	select {
	case <-prev:
		return release, nil
	case <-ctx.Done():
		go func() {
			<-prev
			release()
		}()
		return nil, ctx.Err()
	}
}

// pending reports the number of sessions with an admitted or waiting turn.
func (q *turnQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}
