// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound means the catalog answered and does not know the object.
// It is a miss, not a failure, and resolution moves on to the next
// catalog.
var ErrNotFound = errors.New("catalog: object not found")

// CatalogError wraps a backend failure (network, HTTP, malformed
// payload) with the catalog it came from.
type CatalogError struct {
	Catalog string
	Err     error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("catalog %s: %v", e.Catalog, e.Err)
}

func (e *CatalogError) Unwrap() error { return e.Err }

// Target is a resolved astronomical object.
type Target struct {
	Name          string    `json:"name"`
	RAHours       float64   `json:"ra_hours"`
	DecDegrees    float64   `json:"dec_degrees"`
	ObjectType    string    `json:"object_type,omitempty"`
	Magnitude     *float64  `json:"magnitude,omitempty"`
	SourceCatalog string    `json:"source_catalog"`
	SolarSafety   bool      `json:"solar_safety,omitempty"`
	ResolvedAt    time.Time `json:"resolved_at"`
}

// Client is a single name-resolution source.
type Client interface {
	// Name identifies the catalog in logs, metrics and Target.SourceCatalog.
	Name() string
	// Resolve looks up a normalized object name. A miss is ErrNotFound.
	Resolve(ctx context.Context, name string) (*Target, error)
	// Suggest returns alternative names worth trying when Resolve
	// missed. Best effort, may be empty.
	Suggest(ctx context.Context, name string) []string
}

func mag(v float64) *float64 { return &v }
