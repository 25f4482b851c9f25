// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/seestar-tools/seestarlink/pkg/breaker"
	"github.com/seestar-tools/seestarlink/pkg/ratelimit"
)

// ResilientConfig tunes the protective wrapper around a remote client.
type ResilientConfig struct {
	// QueryTimeout bounds a single Resolve call. Defaults to 10s.
	QueryTimeout time.Duration
	// Breaker tunes the circuit breaker. Zero values get breaker
	// defaults.
	Breaker breaker.Config
	// RateCapacity and RatePerSecond shape the courtesy token bucket.
	// Defaults: burst of 5, 2 queries per second.
	RateCapacity  int
	RatePerSecond float64
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Resilient wraps a remote Client with a per-query timeout, a circuit
// breaker and a rate limit. A miss (ErrNotFound) passes through
// without being held against the backend; everything else trips the
// breaker's failure counting.
type Resilient struct {
	inner   Client
	breaker *breaker.Breaker
	bucket  *ratelimit.Bucket
	timeout time.Duration
	logger  *slog.Logger
}

// NewResilient wraps inner with the protections in cfg.
func NewResilient(inner Client, cfg ResilientConfig) *Resilient {
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	if cfg.RateCapacity == 0 {
		cfg.RateCapacity = 5
	}
	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bcfg := cfg.Breaker
	if bcfg.OnStateChange == nil {
		bcfg.OnStateChange = func(name string, from, to breaker.State) {
			logger.Warn("catalog circuit state changed",
				slog.String("catalog", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		}
	}

	return &Resilient{
		inner:   inner,
		breaker: breaker.New(inner.Name(), bcfg),
		bucket:  ratelimit.NewBucket(cfg.RateCapacity, cfg.RatePerSecond),
		timeout: cfg.QueryTimeout,
		logger:  logger,
	}
}

func (r *Resilient) Name() string { return r.inner.Name() }

func (r *Resilient) Resolve(ctx context.Context, name string) (*Target, error) {
	if err := r.bucket.Wait(ctx); err != nil {
		return nil, err
	}

	var target *Target
	err := r.breaker.Call(ctx, func(ctx context.Context) error {
		qctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		t, err := r.inner.Resolve(qctx, name)
		if errors.Is(err, ErrNotFound) {
			// A clean miss is a healthy backend.
			target = nil
			return nil
		}
		if err != nil {
			return err
		}
		target = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, ErrNotFound
	}
	return target, nil
}

func (r *Resilient) Suggest(ctx context.Context, name string) []string {
	if r.breaker.State() == breaker.StateOpen {
		return nil
	}
	return r.inner.Suggest(ctx, name)
}

// CircuitState exposes the breaker state for health reporting.
func (r *Resilient) CircuitState() breaker.State {
	return r.breaker.State()
}
