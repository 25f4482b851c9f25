// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package resolver turns object names into coordinates by walking a
// prioritized chain of catalog clients with a TTL cache in front.
//
// Solar system bodies are special-cased twice: they route directly to
// the ephemeris client, and their results are never cached because
// the coordinates are only valid at the moment of computation.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/seestar-tools/seestarlink/pkg/catalog"
	"github.com/seestar-tools/seestarlink/pkg/metrics"
)

const (
	// DefaultCacheTTL keeps deep-sky resolutions for a day.
	DefaultCacheTTL = 24 * time.Hour
	// DefaultCacheSize bounds the LRU cache.
	DefaultCacheSize = 256
	// DefaultClientTimeout bounds one client's attempt within a
	// resolution.
	DefaultClientTimeout = 15 * time.Second
)

// NotFoundError carries suggestions assembled from the catalogs when
// every client missed.
type NotFoundError struct {
	Query        string
	Alternatives []string
}

func (e *NotFoundError) Error() string {
	if len(e.Alternatives) == 0 {
		return fmt.Sprintf("target %q not found in any catalog", e.Query)
	}
	return fmt.Sprintf("target %q not found in any catalog (try: %s)",
		e.Query, strings.Join(e.Alternatives, ", "))
}

// Config holds resolver tuning. Zero values get defaults.
type Config struct {
	CacheTTL      time.Duration
	CacheSize     int
	ClientTimeout time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Resolver walks catalog clients in priority order. The first success
// wins; a later client is only consulted after every earlier one has
// missed or failed.
type Resolver struct {
	clients   []catalog.Client
	ephemeris catalog.Client
	cache     *cache
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New builds a resolver over clients in priority order. The client
// named "ephemeris" additionally becomes the direct route for solar
// system names.
func New(cfg Config, clients ...catalog.Client) *Resolver {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.ClientTimeout == 0 {
		cfg.ClientTimeout = DefaultClientTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Resolver{
		clients: clients,
		cache:   newCache(cfg.CacheSize, cfg.CacheTTL),
		timeout: cfg.ClientTimeout,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	for _, c := range clients {
		if c.Name() == "ephemeris" {
			r.ephemeris = c
			break
		}
	}
	return r
}

// Resolve looks up a target name. The catalog.Target it returns is
// shared with the cache and must not be mutated by callers.
func (r *Resolver) Resolve(ctx context.Context, name string) (*catalog.Target, error) {
	query := normalize(name)
	if query == "" {
		return nil, &NotFoundError{Query: name}
	}

	// Moving bodies bypass both the cache and the remote chain.
	if catalog.IsSolarSystem(query) && r.ephemeris != nil {
		return r.tryClient(ctx, r.ephemeris, query)
	}

	if t, ok := r.cache.get(query); ok {
		if r.metrics != nil {
			r.metrics.CacheHits.Inc()
		}
		r.logger.Debug("resolver cache hit", slog.String("query", query))
		return t, nil
	}
	if r.metrics != nil {
		r.metrics.CacheMisses.Inc()
	}

	for _, c := range r.clients {
		t, err := r.tryClient(ctx, c, query)
		if err == nil {
			r.cache.put(query, t)
			return t, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, catalog.ErrNotFound) {
			r.logger.Warn("catalog client failed",
				slog.String("catalog", c.Name()),
				slog.String("query", query),
				slog.Any("error", err),
			)
		}
	}

	return nil, &NotFoundError{
		Query:        name,
		Alternatives: r.alternatives(ctx, query),
	}
}

func (r *Resolver) tryClient(ctx context.Context, c catalog.Client, query string) (*catalog.Target, error) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	t, err := c.Resolve(cctx, query)
	if r.metrics != nil {
		r.metrics.ResolutionDuration.WithLabelValues(c.Name()).Observe(time.Since(start).Seconds())
		outcome := "hit"
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			outcome = "miss"
		case err != nil:
			outcome = "error"
		}
		r.metrics.ResolutionsTotal.WithLabelValues(c.Name(), outcome).Inc()
	}
	if err != nil {
		return nil, err
	}
	r.logger.Info("target resolved",
		slog.String("query", query),
		slog.String("catalog", c.Name()),
		slog.String("name", t.Name),
	)
	return t, nil
}

// alternatives gathers suggestions from every client plus the
// Messier/NGC cross-designations, capped at five.
func (r *Resolver) alternatives(ctx context.Context, query string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s == "" || seen[strings.ToLower(s)] || strings.EqualFold(s, query) {
			return
		}
		seen[strings.ToLower(s)] = true
		out = append(out, s)
	}

	for _, s := range crossDesignations(query) {
		add(s)
	}
	for _, c := range r.clients {
		for _, s := range c.Suggest(ctx, query) {
			add(s)
		}
	}
	sort.Strings(out)
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// CachedTargets lists cache keys, most recently used first.
func (r *Resolver) CachedTargets() []string { return r.cache.keys() }

// ClearCache drops every cached resolution.
func (r *Resolver) ClearCache() {
	r.cache.purge()
	r.logger.Info("resolver cache cleared")
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(strings.TrimSpace(s)), " "))
}

// messierToNGC maps the popular Messier targets to their NGC numbers.
var messierToNGC = map[int]int{
	1: 1952, 31: 224, 42: 1976, 45: 1432, 51: 5194,
	57: 6720, 81: 3031, 82: 3034, 101: 5457, 104: 4594,
}

var ngcToMessier = func() map[int]int {
	m := make(map[int]int, len(messierToNGC))
	for k, v := range messierToNGC {
		m[v] = k
	}
	return m
}()

// crossDesignations offers the other designation family for Messier
// and NGC style queries.
func crossDesignations(query string) []string {
	q := strings.ToUpper(strings.ReplaceAll(query, " ", ""))
	var out []string
	switch {
	case strings.HasPrefix(q, "NGC"):
		if num, err := strconv.Atoi(q[3:]); err == nil {
			if m, ok := ngcToMessier[num]; ok {
				out = append(out, fmt.Sprintf("M%d", m))
			}
		}
	case strings.HasPrefix(q, "MESSIER"):
		if num, err := strconv.Atoi(q[7:]); err == nil {
			out = appendMessier(out, num)
		}
	case strings.HasPrefix(q, "M"):
		if num, err := strconv.Atoi(q[1:]); err == nil {
			out = appendMessier(out, num)
		}
	}
	return out
}

func appendMessier(out []string, num int) []string {
	out = append(out, fmt.Sprintf("Messier %d", num))
	if ngc, ok := messierToNGC[num]; ok {
		out = append(out, fmt.Sprintf("NGC %d", ngc))
	}
	return out
}
