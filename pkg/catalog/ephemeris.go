// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/seestar-tools/seestarlink/pkg/astro"
)

// planetMagnitudes are rough apparent magnitudes; they vary with
// distance but are good enough to display.
var planetMagnitudes = map[string]float64{
	"mercury": -1.9,
	"venus":   -4.6,
	"mars":    -2.9,
	"jupiter": -2.9,
	"saturn":  0.7,
	"uranus":  5.7,
	"neptune": 7.8,
	"pluto":   15.1,
}

// solarSystemBodies is everything the ephemeris client resolves.
var solarSystemBodies = []string{
	"sun", "moon", "mercury", "venus", "mars", "jupiter",
	"saturn", "uranus", "neptune", "pluto",
}

// IsSolarSystem reports whether the name is a solar system body the
// local ephemeris can place. The resolver uses it to route such names
// straight here and to keep them out of the cache.
func IsSolarSystem(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, b := range solarSystemBodies {
		if n == b {
			return true
		}
	}
	return false
}

// Ephemeris resolves solar system bodies from the local models in
// pkg/astro. Positions are computed at call time and must not be
// cached.
type Ephemeris struct {
	now func() time.Time
}

// NewEphemeris returns a solar system resolver using the wall clock.
func NewEphemeris() *Ephemeris {
	return &Ephemeris{now: time.Now}
}

func (e *Ephemeris) Name() string { return "ephemeris" }

func (e *Ephemeris) Resolve(_ context.Context, name string) (*Target, error) {
	body := strings.ToLower(strings.TrimSpace(name))
	if !IsSolarSystem(body) {
		return nil, ErrNotFound
	}
	at := e.now().UTC()

	t := &Target{
		Name:          titleCase(body),
		SourceCatalog: e.Name(),
		ResolvedAt:    at,
	}
	switch body {
	case "sun":
		t.RAHours, t.DecDegrees = astro.SunPosition(at)
		t.ObjectType = "Star"
		t.Magnitude = mag(-26.7)
		// Pointing at the Sun without a filter destroys the sensor
		// and can blind the operator.
		t.SolarSafety = true
	case "moon":
		t.RAHours, t.DecDegrees = astro.MoonPosition(at)
		t.ObjectType = "Satellite"
		t.Magnitude = mag(-12.9)
	default:
		ra, dec, err := astro.PlanetPosition(body, at)
		if err != nil {
			return nil, &CatalogError{Catalog: e.Name(), Err: err}
		}
		t.RAHours, t.DecDegrees = ra, dec
		t.ObjectType = "Planet"
		if m, ok := planetMagnitudes[body]; ok {
			t.Magnitude = mag(m)
		}
	}
	return t, nil
}

// Suggest matches partial body names, so "jup" offers Jupiter.
func (e *Ephemeris) Suggest(_ context.Context, name string) []string {
	q := strings.ToLower(strings.TrimSpace(name))
	if q == "" {
		return nil
	}
	var out []string
	for _, b := range solarSystemBodies {
		if strings.Contains(b, q) || strings.Contains(q, b) {
			out = append(out, titleCase(b))
		}
	}
	return out
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
