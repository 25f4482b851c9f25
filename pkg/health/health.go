// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package health reports whether the bridge can do useful work: is the
// telescope session live, are the remote catalogs answering. Results
// are cached briefly so probe traffic never hammers the backends.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status of a single check or of the whole service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is one evaluated health check.
type Check struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Critical    bool      `json:"critical"`
	Message     string    `json:"message,omitempty"`
	LastChecked time.Time `json:"last_checked"`
	DurationMS  int64     `json:"duration_ms"`
}

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// Report is the aggregate of every registered check.
type Report struct {
	Status Status  `json:"status"`
	Checks []Check `json:"checks"`
}

type registered struct {
	name     string
	critical bool
	fn       CheckFunc
}

// Checker runs registered checks with short-lived result caching.
type Checker struct {
	mu     sync.Mutex
	checks []registered
	cache  map[string]Check
	ttl    time.Duration
	now    func() time.Time
}

// NewChecker returns a checker that caches results for cacheTTL
// (default 10s).
func NewChecker(cacheTTL time.Duration) *Checker {
	if cacheTTL == 0 {
		cacheTTL = 10 * time.Second
	}
	return &Checker{
		cache: make(map[string]Check),
		ttl:   cacheTTL,
		now:   time.Now,
	}
}

// Register adds a named check. Critical checks gate readiness; a
// failing non-critical check only degrades the report. Registration
// order is report order.
func (c *Checker) Register(name string, critical bool, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, registered{name: name, critical: critical, fn: fn})
}

// Report evaluates every check, serving cached results while fresh.
func (c *Checker) Report(ctx context.Context) Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	rep := Report{Status: StatusHealthy}
	for _, reg := range c.checks {
		check, ok := c.cache[reg.name]
		if !ok || c.now().Sub(check.LastChecked) >= c.ttl {
			check = c.run(ctx, reg)
			c.cache[reg.name] = check
		}
		rep.Checks = append(rep.Checks, check)

		if check.Status == StatusHealthy {
			continue
		}
		if reg.critical {
			rep.Status = StatusUnhealthy
		} else if rep.Status == StatusHealthy {
			rep.Status = StatusDegraded
		}
	}
	return rep
}

func (c *Checker) run(ctx context.Context, reg registered) Check {
	start := c.now()
	err := reg.fn(ctx)
	check := Check{
		Name:        reg.name,
		Critical:    reg.critical,
		LastChecked: c.now(),
		DurationMS:  time.Since(start).Milliseconds(),
		Status:      StatusHealthy,
	}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}

// Handler answers liveness probes. Degraded still returns 200: the
// process is up even when a catalog is down.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		rep := c.Report(ctx)
		code := http.StatusOK
		if rep.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, rep)
	}
}

// ReadinessHandler answers readiness probes. Anything short of fully
// healthy refuses traffic.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		rep := c.Report(ctx)
		code := http.StatusOK
		if rep.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, rep)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// SessionCheck builds a check over anything exposing a state string,
// healthy only while "connected".
func SessionCheck(state func() string) CheckFunc {
	return func(context.Context) error {
		if s := state(); s != "connected" {
			return fmt.Errorf("session is %s", s)
		}
		return nil
	}
}

// CircuitCheck reports a catalog unhealthy while its breaker is open.
func CircuitCheck(circuit func() string) CheckFunc {
	return func(context.Context) error {
		if s := circuit(); s == "open" {
			return fmt.Errorf("circuit is %s", s)
		}
		return nil
	}
}
