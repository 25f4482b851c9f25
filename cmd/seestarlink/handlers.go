// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/seestar-tools/seestarlink/pkg/controller"
	"github.com/seestar-tools/seestarlink/pkg/health"
	"github.com/seestar-tools/seestarlink/pkg/location"
	"github.com/seestar-tools/seestarlink/pkg/resolver"
	"github.com/seestar-tools/seestarlink/pkg/session"
)

// apiServer decodes requests, calls the controller and encodes
// results. No telescope logic lives here.
type apiServer struct {
	ctrl    *controller.Controller
	res     *resolver.Resolver
	loc     *location.Manager
	checker *health.Checker
	logger  *slog.Logger
}

func newAPIServer(ctrl *controller.Controller, res *resolver.Resolver, loc *location.Manager, checker *health.Checker, logger *slog.Logger) *apiServer {
	return &apiServer{ctrl: ctrl, res: res, loc: loc, checker: checker, logger: logger}
}

func (a *apiServer) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.checker.Handler())
	mux.HandleFunc("GET /readyz", a.checker.ReadinessHandler())

	mux.HandleFunc("POST /api/v1/goto", a.handleGoto)
	mux.HandleFunc("POST /api/v1/imaging/start", a.handleStartImaging)
	mux.HandleFunc("POST /api/v1/imaging/stop", a.handleStopImaging)
	mux.HandleFunc("GET /api/v1/imaging/status", a.handleImagingStatus)
	mux.HandleFunc("POST /api/v1/park", a.handlePark)
	mux.HandleFunc("POST /api/v1/unpark", a.handleUnpark)
	mux.HandleFunc("POST /api/v1/solar", a.handleSolar)
	mux.HandleFunc("POST /api/v1/stop", a.handleEmergencyStop)
	mux.HandleFunc("GET /api/v1/status", a.handleStatus)
	mux.HandleFunc("GET /api/v1/resolve", a.handleResolve)
	mux.HandleFunc("GET /api/v1/visibility", a.handleVisibility)
	mux.HandleFunc("GET /api/v1/focuser", a.handleGetFocuser)
	mux.HandleFunc("PUT /api/v1/focuser", a.handleSetFocuser)
	mux.HandleFunc("GET /api/v1/wheel", a.handleGetWheel)
	mux.HandleFunc("PUT /api/v1/wheel", a.handleSetWheel)

	return mux
}

type gotoRequest struct {
	Target               string                    `json:"target"`
	AcknowledgeSolarRisk bool                      `json:"acknowledge_solar_risk"`
	SkipVisibilityCheck  bool                      `json:"skip_visibility_check"`
	LPFilter             bool                      `json:"lp_filter"`
	Mosaic               *controller.MosaicOptions `json:"mosaic,omitempty"`
}

func (a *apiServer) handleGoto(w http.ResponseWriter, r *http.Request) {
	var req gotoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Target == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("target is required"))
		return
	}

	target, err := a.ctrl.GotoTarget(r.Context(), req.Target, controller.GotoOptions{
		AcknowledgeSolarRisk: req.AcknowledgeSolarRisk,
		SkipVisibilityCheck:  req.SkipVisibilityCheck,
		LPFilter:             req.LPFilter,
		Mosaic:               req.Mosaic,
	})
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"target": target})
}

type imagingRequest struct {
	Mosaic *controller.MosaicOptions `json:"mosaic,omitempty"`
}

func (a *apiServer) handleStartImaging(w http.ResponseWriter, r *http.Request) {
	var req imagingRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if err := a.ctrl.StartImaging(r.Context(), controller.ImagingOptions{Mosaic: req.Mosaic}); err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "imaging"})
}

func (a *apiServer) handleStopImaging(w http.ResponseWriter, r *http.Request) {
	if err := a.ctrl.StopImaging(r.Context()); err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (a *apiServer) handleImagingStatus(w http.ResponseWriter, r *http.Request) {
	raw, err := a.ctrl.ImagingStatus(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, json.RawMessage(raw))
}

func (a *apiServer) handlePark(w http.ResponseWriter, r *http.Request) {
	eqMode := r.URL.Query().Get("eq_mode") == "true"
	if err := a.ctrl.Park(r.Context(), eqMode); err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "parked"})
}

func (a *apiServer) handleUnpark(w http.ResponseWriter, r *http.Request) {
	state, err := a.ctrl.Unpark(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"status": "open", "device_state": json.RawMessage(state)})
}

type solarRequest struct {
	AcknowledgeSolarRisk bool `json:"acknowledge_solar_risk"`
}

func (a *apiServer) handleSolar(w http.ResponseWriter, r *http.Request) {
	var req solarRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if err := a.ctrl.StartSolarObservation(r.Context(), req.AcknowledgeSolarRisk); err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "solar observation started"})
}

func (a *apiServer) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if err := a.ctrl.EmergencyStop(r.Context()); err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (a *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.ctrl.Status(r.Context())
	if err != nil {
		// Session state is still worth returning alongside the error.
		a.writeJSON(w, http.StatusBadGateway, map[string]any{"status": st, "error": err.Error()})
		return
	}
	a.writeJSON(w, http.StatusOK, st)
}

func (a *apiServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	target, err := a.res.Resolve(r.Context(), name)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, target)
}

func (a *apiServer) handleVisibility(w http.ResponseWriter, r *http.Request) {
	ra, err1 := strconv.ParseFloat(r.URL.Query().Get("ra_hours"), 64)
	dec, err2 := strconv.ParseFloat(r.URL.Query().Get("dec_degrees"), 64)
	if err1 != nil || err2 != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("ra_hours and dec_degrees are required"))
		return
	}
	var at time.Time
	if s := r.URL.Query().Get("at"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		at = t
	}

	res, err := a.loc.CheckVisible(ra, dec, at)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, res)
}

func (a *apiServer) handleGetFocuser(w http.ResponseWriter, r *http.Request) {
	pos, err := a.ctrl.FocuserPosition(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]int{"position": pos})
}

func (a *apiServer) handleSetFocuser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position int `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.ctrl.SetFocuserPosition(r.Context(), req.Position); err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]int{"position": req.Position})
}

func (a *apiServer) handleGetWheel(w http.ResponseWriter, r *http.Request) {
	raw, err := a.ctrl.WheelState(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, json.RawMessage(raw))
}

func (a *apiServer) handleSetWheel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position int `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.ctrl.SetWheelPosition(r.Context(), req.Position); err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]int{"position": req.Position})
}

// writeDomainError maps typed errors onto HTTP status codes.
func (a *apiServer) writeDomainError(w http.ResponseWriter, err error) {
	var (
		notFound *resolver.NotFoundError
		solar    *controller.SolarSafetyError
		horizon  *controller.BelowHorizonError
		gotoFail *controller.GotoFailedError
		remote   *session.RemoteError
	)
	switch {
	case errors.As(err, &notFound):
		a.writeJSON(w, http.StatusNotFound, map[string]any{
			"error":        notFound.Error(),
			"alternatives": notFound.Alternatives,
		})
	case errors.As(err, &solar), errors.As(err, &horizon):
		a.writeError(w, http.StatusConflict, err)
	case errors.As(err, &gotoFail):
		a.writeError(w, http.StatusBadGateway, err)
	case errors.As(err, &remote):
		a.writeError(w, http.StatusBadGateway, err)
	case errors.Is(err, controller.ErrCalibrationUnsupported):
		a.writeError(w, http.StatusNotImplemented, err)
	case errors.Is(err, controller.ErrGotoTimeout),
		errors.Is(err, session.ErrRequestTimeout):
		a.writeError(w, http.StatusGatewayTimeout, err)
	case errors.Is(err, session.ErrNotConnected),
		errors.Is(err, session.ErrConnectionLost),
		errors.Is(err, session.ErrClosed):
		a.writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, location.ErrNotConfigured):
		a.writeError(w, http.StatusPreconditionFailed, err)
	default:
		a.writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *apiServer) writeError(w http.ResponseWriter, code int, err error) {
	a.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (a *apiServer) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("encoding response", slog.Any("error", err))
	}
}
