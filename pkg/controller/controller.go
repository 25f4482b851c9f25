// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/seestar-tools/seestarlink/pkg/catalog"
	"github.com/seestar-tools/seestarlink/pkg/location"
	"github.com/seestar-tools/seestarlink/pkg/metrics"
	"github.com/seestar-tools/seestarlink/pkg/resolver"
	"github.com/seestar-tools/seestarlink/pkg/session"
)

// Link is the slice of the session the controller needs.
type Link interface {
	Send(ctx context.Context, method string, params any) (json.RawMessage, error)
	Subscribe(names ...string) *session.Subscription
	State() session.State
}

// Config holds controller tuning. Zero values get defaults.
type Config struct {
	// GotoTimeout bounds the whole slew. Plate-solving mounts can
	// take a while, hence the long default of 120s.
	GotoTimeout time.Duration
	// PollInterval paces scope_get_equ_coord pokes while a goto is
	// in flight, keeping the link warm and progress observable.
	PollInterval time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Controller drives the telescope through high-level operations.
type Controller struct {
	link     Link
	resolver *resolver.Resolver
	location *location.Manager
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New wires a controller over a session link, a resolver and a
// location manager.
func New(link Link, res *resolver.Resolver, loc *location.Manager, cfg Config) *Controller {
	if cfg.GotoTimeout == 0 {
		cfg.GotoTimeout = 120 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		link:     link,
		resolver: res,
		location: loc,
		cfg:      cfg,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// MosaicOptions enables mosaic capture over a grid of panels.
type MosaicOptions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// GotoOptions tune a single GotoTarget call.
type GotoOptions struct {
	// AcknowledgeSolarRisk confirms a solar filter is installed.
	AcknowledgeSolarRisk bool
	// SkipVisibilityCheck bypasses the altitude gate.
	SkipVisibilityCheck bool
	// LPFilter engages the light pollution filter.
	LPFilter bool
	// Mosaic, if set, requests a mosaic grid.
	Mosaic *MosaicOptions
}

type mosaicParams struct {
	Enable bool `json:"enable"`
	Width  int  `json:"width"`
	Height int  `json:"height"`
}

type startViewParams struct {
	Mode        string        `json:"mode"`
	TargetRADec [2]float64    `json:"target_ra_dec"`
	TargetName  string        `json:"target_name"`
	LPFilter    bool          `json:"lp_filter"`
	AutoCenter  bool          `json:"auto_center"`
	Mosaic      *mosaicParams `json:"mosaic,omitempty"`
}

// GotoTarget resolves a name, runs the safety gates and slews the
// mount, blocking until the AutoGoto sequence reports a terminal
// state. The resolved target is returned even on gate refusal so
// callers can show what was refused and why.
func (c *Controller) GotoTarget(ctx context.Context, name string, opts GotoOptions) (*catalog.Target, error) {
	target, err := c.resolver.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}

	if target.SolarSafety && !opts.AcknowledgeSolarRisk {
		return target, &SolarSafetyError{Target: target.Name}
	}

	if !opts.SkipVisibilityCheck {
		res, err := c.location.CheckVisible(target.RAHours, target.DecDegrees, time.Time{})
		switch {
		case errors.Is(err, location.ErrNotConfigured):
			c.logger.Warn("observer site not configured, skipping visibility gate",
				slog.String("target", target.Name))
		case err != nil:
			return target, fmt.Errorf("visibility check: %w", err)
		case !res.IsVisible:
			if c.metrics != nil {
				c.metrics.VisibilityChecks.WithLabelValues("below_horizon").Inc()
			}
			return target, &BelowHorizonError{Target: target.Name, AltitudeDegrees: res.AltitudeDegrees}
		default:
			if c.metrics != nil {
				c.metrics.VisibilityChecks.WithLabelValues("visible").Inc()
			}
		}
	}

	displayName := target.Name
	params := startViewParams{
		Mode:        "star",
		TargetRADec: [2]float64{round6(target.RAHours * 15.0), round6(target.DecDegrees)},
		TargetName:  displayName,
		LPFilter:    opts.LPFilter,
		AutoCenter:  true,
	}
	if opts.Mosaic != nil {
		w, h := opts.Mosaic.Width, opts.Mosaic.Height
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
		params.Mosaic = &mosaicParams{Enable: true, Width: w, Height: h}
		params.TargetName = fmt.Sprintf("%s (Mosaic %dx%d)", displayName, w, h)
	}

	// Subscribe before sending so a fast mount cannot complete the
	// slew between request and subscription.
	sub := c.link.Subscribe("AutoGoto")
	defer sub.Close()

	c.logger.Info("starting goto",
		slog.String("target", displayName),
		slog.Float64("ra_hours", target.RAHours),
		slog.Float64("dec_degrees", target.DecDegrees),
	)
	if _, err := c.link.Send(ctx, "iscope_start_view", params); err != nil {
		return target, fmt.Errorf("starting view: %w", err)
	}

	if err := c.awaitGoto(ctx, sub, displayName); err != nil {
		return target, err
	}
	c.logger.Info("goto complete", slog.String("target", displayName))
	return target, nil
}

// awaitGoto consumes AutoGoto events until a terminal state, poking
// the mount for coordinates on every poll tick.
func (c *Controller) awaitGoto(ctx context.Context, sub *session.Subscription, name string) error {
	deadline := time.NewTimer(c.cfg.GotoTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(c.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return session.ErrConnectionLost
			}
			switch strings.ToLower(ev.State) {
			case "complete":
				return nil
			case "fail", "failed":
				reason := ev.Error
				if reason == "" {
					reason = "unknown error"
				}
				if reason == "below horizon" {
					return &BelowHorizonError{Target: name}
				}
				return &GotoFailedError{Target: name, Reason: reason}
			default:
				// working, slewing and friends
				c.logger.Debug("goto in progress",
					slog.String("target", name),
					slog.String("state", ev.State),
				)
			}
		case <-poll.C:
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := c.link.Send(pctx, "scope_get_equ_coord", nil)
			cancel()
			if err != nil {
				c.logger.Debug("goto progress poke failed", slog.Any("error", err))
			}
		case <-deadline.C:
			return ErrGotoTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ImagingOptions tune StartImaging.
type ImagingOptions struct {
	Mosaic *MosaicOptions
}

type startStackParams struct {
	Restart bool          `json:"restart"`
	Mosaic  *mosaicParams `json:"mosaic,omitempty"`
}

// StartImaging begins (or restarts) stacking on the current target.
func (c *Controller) StartImaging(ctx context.Context, opts ImagingOptions) error {
	params := startStackParams{Restart: true}
	if opts.Mosaic != nil {
		params.Mosaic = &mosaicParams{Enable: true, Width: opts.Mosaic.Width, Height: opts.Mosaic.Height}
	}
	if _, err := c.link.Send(ctx, "iscope_start_stack", params); err != nil {
		return fmt.Errorf("starting stack: %w", err)
	}
	c.logger.Info("imaging started")
	return nil
}

// StopImaging ends the stacking stage but keeps the view running.
func (c *Controller) StopImaging(ctx context.Context) error {
	if _, err := c.link.Send(ctx, "iscope_stop_view", map[string]string{"stage": "Stack"}); err != nil {
		return fmt.Errorf("stopping stack: %w", err)
	}
	c.logger.Info("imaging stopped")
	return nil
}

// ImagingStatus returns the raw view state for display.
func (c *Controller) ImagingStatus(ctx context.Context) (json.RawMessage, error) {
	return c.link.Send(ctx, "get_view_state", nil)
}

// Park stows the mount. eqMode parks in the equatorial orientation
// instead of alt-az.
func (c *Controller) Park(ctx context.Context, eqMode bool) error {
	if _, err := c.link.Send(ctx, "scope_park", map[string]bool{"equ_mode": eqMode}); err != nil {
		return fmt.Errorf("parking: %w", err)
	}
	c.logger.Info("telescope parked", slog.Bool("eq_mode", eqMode))
	return nil
}

// Unpark raises the arm to the horizon position and verifies the
// device answered afterwards.
func (c *Controller) Unpark(ctx context.Context) (json.RawMessage, error) {
	if _, err := c.link.Send(ctx, "scope_move_to_horizon", nil); err != nil {
		return nil, fmt.Errorf("moving to horizon: %w", err)
	}
	state, err := c.link.Send(ctx, "get_device_state", nil)
	if err != nil {
		return nil, fmt.Errorf("verifying device state: %w", err)
	}
	c.logger.Info("telescope arm opened")
	return state, nil
}

// StartSolarObservation walks the vendor's sun workflow: a sun-mode
// view, the solar scan, and clearing the scan app state.
func (c *Controller) StartSolarObservation(ctx context.Context, acknowledgeSolarRisk bool) error {
	if !acknowledgeSolarRisk {
		return &SolarSafetyError{Target: "Sun"}
	}
	if _, err := c.link.Send(ctx, "iscope_start_view", map[string]string{"mode": "sun"}); err != nil {
		return fmt.Errorf("starting sun view: %w", err)
	}
	if _, err := c.link.Send(ctx, "start_scan_planet", nil); err != nil {
		return fmt.Errorf("starting solar scan: %w", err)
	}
	if _, err := c.link.Send(ctx, "clear_app_state", map[string]string{"name": "ScanSun"}); err != nil {
		return fmt.Errorf("clearing scan state: %w", err)
	}
	c.logger.Info("solar observation started")
	return nil
}

// EquatorialCoordinates is the mount's reported pointing.
type EquatorialCoordinates struct {
	RAHours    float64 `json:"ra"`
	DecDegrees float64 `json:"dec"`
}

// TelescopeStatus is a point-in-time snapshot for display.
type TelescopeStatus struct {
	SessionState string                 `json:"session_state"`
	Coordinates  *EquatorialCoordinates `json:"coordinates,omitempty"`
}

// Status reports the session state and, when connected, the current
// pointing.
func (c *Controller) Status(ctx context.Context) (*TelescopeStatus, error) {
	st := &TelescopeStatus{SessionState: c.link.State().String()}
	if c.link.State() != session.StateConnected {
		return st, nil
	}

	raw, err := c.link.Send(ctx, "scope_get_equ_coord", nil)
	if err != nil {
		return st, fmt.Errorf("reading coordinates: %w", err)
	}
	var coords EquatorialCoordinates
	if err := json.Unmarshal(raw, &coords); err != nil {
		return st, fmt.Errorf("decoding coordinates: %w", err)
	}
	st.Coordinates = &coords
	return st, nil
}

// EmergencyStop aborts every running stage immediately.
func (c *Controller) EmergencyStop(ctx context.Context) error {
	if _, err := c.link.Send(ctx, "iscope_stop_view", map[string]string{"stage": "All"}); err != nil {
		return fmt.Errorf("emergency stop: %w", err)
	}
	c.logger.Warn("emergency stop issued")
	return nil
}

// StartCalibration always refuses; see ErrCalibrationUnsupported.
func (c *Controller) StartCalibration(context.Context) error {
	return ErrCalibrationUnsupported
}

// FocuserPosition reads the current focuser step position.
func (c *Controller) FocuserPosition(ctx context.Context) (int, error) {
	raw, err := c.link.Send(ctx, "get_focuser_position", nil)
	if err != nil {
		return 0, err
	}
	var pos int
	if err := json.Unmarshal(raw, &pos); err != nil {
		return 0, fmt.Errorf("decoding focuser position: %w", err)
	}
	return pos, nil
}

// SetFocuserPosition moves the focuser to an absolute step position.
func (c *Controller) SetFocuserPosition(ctx context.Context, position int) error {
	_, err := c.link.Send(ctx, "set_focuser_position", map[string]int{"position": position})
	return err
}

// WheelState returns the raw filter wheel state.
func (c *Controller) WheelState(ctx context.Context) (json.RawMessage, error) {
	return c.link.Send(ctx, "get_wheel_state", nil)
}

// SetWheelPosition rotates the filter wheel to a slot.
func (c *Controller) SetWheelPosition(ctx context.Context, position int) error {
	_, err := c.link.Send(ctx, "set_wheel_position", map[string]int{"position": position})
	return err
}

// DeviceState returns the raw device state blob.
func (c *Controller) DeviceState(ctx context.Context) (json.RawMessage, error) {
	return c.link.Send(ctx, "get_device_state", nil)
}

// round6 trims coordinates to the precision the mount accepts.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
