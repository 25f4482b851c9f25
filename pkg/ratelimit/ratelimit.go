// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit provides a token bucket used to pace queries to
// upstream astronomy catalogs. Public TAP and name-resolution services
// throttle aggressively, so the resolver waits for a token rather than
// burning a request it knows will be rejected.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLimited is returned by Allow-style checks when no token is
// available.
var ErrLimited = errors.New("ratelimit: no tokens available")

// Bucket is a token bucket. Tokens refill continuously at a fixed
// rate up to the capacity.
type Bucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	perSecond  float64
	lastRefill time.Time
	now        func() time.Time
}

// NewBucket returns a full bucket holding capacity tokens that refills
// at perSecond tokens per second.
func NewBucket(capacity int, perSecond float64) *Bucket {
	if capacity < 1 {
		capacity = 1
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	b := &Bucket{
		capacity:  float64(capacity),
		tokens:    float64(capacity),
		perSecond: perSecond,
		now:       time.Now,
	}
	b.lastRefill = b.now()
	return b
}

// Allow takes a token if one is available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or the context ends.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refill()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		need := (1 - b.tokens) / b.perSecond
		b.mu.Unlock()

		wait := time.Duration(need * float64(time.Second))
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Available reports the whole tokens currently in the bucket.
func (b *Bucket) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return int(b.tokens)
}

// refill must be called with mu held.
func (b *Bucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.perSecond
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}
