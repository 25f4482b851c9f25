// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package location holds the observer's geographic site and answers
// visibility questions for equatorial coordinates seen from it.
package location

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/seestar-tools/seestarlink/pkg/astro"
)

// MinAltitudeDegrees is the lowest altitude at which a target counts as
// visible. Below this the mount refuses the goto anyway.
const MinAltitudeDegrees = 10.0

var ErrNotConfigured = errors.New("location: observer site not configured")

// Observer is a geographic observing site.
type Observer struct {
	LatitudeDegrees  float64
	LongitudeDegrees float64
	ElevationMeters  float64
	TimezoneID       string
}

// VisibilityResult reports where a target stands in the local sky.
type VisibilityResult struct {
	AltitudeDegrees float64
	AzimuthDegrees  float64
	IsVisible       bool
	Reason          string
}

// Manager guards the current observer site. The site can be
// reconfigured at runtime, so reads and writes are serialized.
type Manager struct {
	mu   sync.RWMutex
	obs  *Observer
	loc  *time.Location
	now  func() time.Time
}

// New returns a Manager with no site configured.
func New() *Manager {
	return &Manager{now: time.Now}
}

// Configure validates and installs a new observer site.
func (m *Manager) Configure(obs Observer) error {
	if obs.LatitudeDegrees < -90 || obs.LatitudeDegrees > 90 {
		return fmt.Errorf("location: latitude %v out of range", obs.LatitudeDegrees)
	}
	if obs.LongitudeDegrees < -180 || obs.LongitudeDegrees > 180 {
		return fmt.Errorf("location: longitude %v out of range", obs.LongitudeDegrees)
	}
	loc := time.UTC
	if obs.TimezoneID != "" {
		l, err := time.LoadLocation(obs.TimezoneID)
		if err != nil {
			return fmt.Errorf("location: timezone %q: %w", obs.TimezoneID, err)
		}
		loc = l
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.obs = &obs
	m.loc = loc
	return nil
}

// Observer returns the configured site, or ErrNotConfigured.
func (m *Manager) Observer() (Observer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.obs == nil {
		return Observer{}, ErrNotConfigured
	}
	return *m.obs, nil
}

// LocalTime converts an instant into the site's timezone.
func (m *Manager) LocalTime(t time.Time) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.obs == nil {
		return time.Time{}, ErrNotConfigured
	}
	return t.In(m.loc), nil
}

// CheckVisible computes the altitude and azimuth of an equatorial
// position at the given instant and decides whether it clears the
// minimum altitude. A zero instant means now.
func (m *Manager) CheckVisible(raHours, decDegrees float64, at time.Time) (VisibilityResult, error) {
	m.mu.RLock()
	obs := m.obs
	now := m.now
	m.mu.RUnlock()
	if obs == nil {
		return VisibilityResult{}, ErrNotConfigured
	}
	if at.IsZero() {
		at = now()
	}

	alt, az := astro.AltAz(raHours, decDegrees, obs.LatitudeDegrees, obs.LongitudeDegrees, at)
	res := VisibilityResult{
		AltitudeDegrees: alt,
		AzimuthDegrees:  az,
		IsVisible:       alt >= MinAltitudeDegrees,
	}
	if !res.IsVisible {
		res.Reason = "below horizon"
	}
	return res, nil
}
