// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"errors"
	"fmt"
)

var (
	// ErrCalibrationUnsupported is returned by StartCalibration: the
	// mount only exposes calibration through the vendor's mobile app.
	ErrCalibrationUnsupported = errors.New("calibration is not remotely controllable on this hardware; use the vendor mobile app")

	// ErrGotoTimeout means the mount never reported a terminal
	// AutoGoto state within the goto deadline.
	ErrGotoTimeout = errors.New("goto did not complete within the deadline")
)

// SolarSafetyError refuses a pointing at the Sun without an explicit
// acknowledgment that a solar filter is installed.
type SolarSafetyError struct {
	Target string
}

func (e *SolarSafetyError) Error() string {
	return fmt.Sprintf("refusing to point at %s: solar observation requires an installed solar filter and explicit acknowledgment", e.Target)
}

// BelowHorizonError refuses a goto to a target under the minimum
// altitude.
type BelowHorizonError struct {
	Target          string
	AltitudeDegrees float64
}

func (e *BelowHorizonError) Error() string {
	return fmt.Sprintf("target %s is below the horizon (altitude %.1f deg)", e.Target, e.AltitudeDegrees)
}

// GotoFailedError carries the mount's own failure reason from an
// AutoGoto event.
type GotoFailedError struct {
	Target string
	Reason string
}

func (e *GotoFailedError) Error() string {
	return fmt.Sprintf("goto %s failed: %s", e.Target, e.Reason)
}
