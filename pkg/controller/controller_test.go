// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/seestar-tools/seestarlink/pkg/catalog"
	"github.com/seestar-tools/seestarlink/pkg/codec"
	"github.com/seestar-tools/seestarlink/pkg/location"
	"github.com/seestar-tools/seestarlink/pkg/resolver"
	"github.com/seestar-tools/seestarlink/pkg/session"
)

// fakeMount emulates the telescope end to end: UDP handshake ack plus
// a TCP responder that hands each decoded request to a handler.
type fakeMount struct {
	t       *testing.T
	tcpLn   net.Listener
	udpConn *net.UDPConn
	handler func(req codec.Request, w io.Writer)

	mu    sync.Mutex
	conns []net.Conn
}

func newFakeMount(t *testing.T, handler func(req codec.Request, w io.Writer)) *fakeMount {
	t.Helper()

	tcpLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("tcp listen: %v", err)
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("udp listen: %v", err)
	}
	f := &fakeMount{t: t, tcpLn: tcpLn, udpConn: udpConn, handler: handler}

	go func() {
		buf := make([]byte, 2048)
		for {
			_, addr, err := udpConn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			_, _ = udpConn.WriteToUDP([]byte(`{"id":1,"result":"ok"}`), addr)
		}
	}()
	go func() {
		for {
			conn, err := tcpLn.Accept()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.conns = append(f.conns, conn)
			f.mu.Unlock()
			go f.serve(conn)
		}
	}()

	t.Cleanup(func() {
		_ = tcpLn.Close()
		_ = udpConn.Close()
		f.mu.Lock()
		for _, c := range f.conns {
			_ = c.Close()
		}
		f.mu.Unlock()
	})
	return f
}

func (f *fakeMount) serve(conn net.Conn) {
	sc := codec.NewScanner(conn)
	for sc.Scan() {
		req, err := codec.DecodeRequest(sc.Bytes())
		if err != nil {
			continue
		}
		if f.handler != nil {
			f.handler(req, conn)
		}
	}
}

func (f *fakeMount) session(t *testing.T) *session.Session {
	t.Helper()
	s := session.New(session.Config{
		Host:    "127.0.0.1",
		TCPPort: f.tcpLn.Addr().(*net.TCPAddr).Port,
		UDPPort: f.udpConn.LocalAddr().(*net.UDPAddr).Port,
		Logger:  slog.New(slog.NewTextHandler(os.Stdout, nil)),
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(s.Disconnect)
	return s
}

func ok(w io.Writer, id int64, result any) {
	data, _ := json.Marshal(result)
	fmt.Fprintf(w, `{"jsonrpc":"2.0","result":%s,"code":0,"id":%d}`+"\r\n", data, id)
}

func gotoEvent(w io.Writer, state, errMsg string) {
	if errMsg != "" {
		fmt.Fprintf(w, `{"Event":"AutoGoto","state":%q,"error":%q}`+"\r\n", state, errMsg)
		return
	}
	fmt.Fprintf(w, `{"Event":"AutoGoto","state":%q}`+"\r\n", state)
}

// fixedClient resolves every query to one target.
type fixedClient struct {
	target catalog.Target
}

func (c *fixedClient) Name() string { return "fixed" }

func (c *fixedClient) Resolve(_ context.Context, _ string) (*catalog.Target, error) {
	cp := c.target
	return &cp, nil
}

func (c *fixedClient) Suggest(context.Context, string) []string { return nil }

// Circumpolar and never-rising declinations make the visibility gate
// deterministic regardless of when the test runs.
const (
	alwaysUpDec   = 89.0  // from +34 latitude, altitude stays near 34
	neverUpDec    = -89.0 // never rises from +34 latitude
	testLatitude  = 34.0522
	testLongitude = -118.2437
)

func testLocation(t *testing.T) *location.Manager {
	t.Helper()
	m := location.New()
	if err := m.Configure(location.Observer{
		LatitudeDegrees:  testLatitude,
		LongitudeDegrees: testLongitude,
	}); err != nil {
		t.Fatalf("configure location: %v", err)
	}
	return m
}

func newController(t *testing.T, f *fakeMount, client catalog.Client, cfg Config) *Controller {
	t.Helper()
	res := resolver.New(resolver.Config{}, client)
	return New(f.session(t), res, testLocation(t), cfg)
}

func TestGotoTargetCompletes(t *testing.T) {
	var mu sync.Mutex
	var viewParams map[string]any

	f := newFakeMount(t, func(req codec.Request, w io.Writer) {
		switch req.Method {
		case "iscope_start_view":
			mu.Lock()
			data, _ := json.Marshal(req.Params)
			json.Unmarshal(data, &viewParams)
			mu.Unlock()
			ok(w, req.ID, 0)
			gotoEvent(w, "working", "")
			gotoEvent(w, "slewing", "")
			gotoEvent(w, "complete", "")
		default:
			ok(w, req.ID, 0)
		}
	})
	c := newController(t, f, &fixedClient{target: catalog.Target{
		Name: "Polaris", RAHours: 2.5303, DecDegrees: alwaysUpDec,
	}}, Config{GotoTimeout: 5 * time.Second})

	target, err := c.GotoTarget(context.Background(), "polaris", GotoOptions{})
	if err != nil {
		t.Fatalf("GotoTarget failed: %v", err)
	}
	if target.Name != "Polaris" {
		t.Errorf("target = %q", target.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if viewParams["mode"] != "star" {
		t.Errorf("mode = %v", viewParams["mode"])
	}
	if viewParams["auto_center"] != true {
		t.Errorf("auto_center = %v", viewParams["auto_center"])
	}
	coords, _ := viewParams["target_ra_dec"].([]any)
	if len(coords) != 2 {
		t.Fatalf("target_ra_dec = %v", viewParams["target_ra_dec"])
	}
	if ra := coords[0].(float64); ra < 37.95 || ra > 37.96 {
		t.Errorf("RA degrees = %v, want 2.5303h scaled by 15", ra)
	}
}

func TestGotoTargetMountReportsFailure(t *testing.T) {
	f := newFakeMount(t, func(req codec.Request, w io.Writer) {
		ok(w, req.ID, 0)
		if req.Method == "iscope_start_view" {
			gotoEvent(w, "fail", "mount goto failed")
		}
	})
	c := newController(t, f, &fixedClient{target: catalog.Target{
		Name: "Polaris", RAHours: 2.5303, DecDegrees: alwaysUpDec,
	}}, Config{GotoTimeout: 5 * time.Second})

	_, err := c.GotoTarget(context.Background(), "polaris", GotoOptions{})
	var gf *GotoFailedError
	if !errors.As(err, &gf) {
		t.Fatalf("err = %v, want GotoFailedError", err)
	}
	if gf.Reason != "mount goto failed" {
		t.Errorf("Reason = %q", gf.Reason)
	}
}

func TestGotoTargetMountReportsBelowHorizon(t *testing.T) {
	f := newFakeMount(t, func(req codec.Request, w io.Writer) {
		ok(w, req.ID, 0)
		if req.Method == "iscope_start_view" {
			gotoEvent(w, "fail", "below horizon")
		}
	})
	c := newController(t, f, &fixedClient{target: catalog.Target{
		Name: "Polaris", RAHours: 2.5303, DecDegrees: alwaysUpDec,
	}}, Config{GotoTimeout: 5 * time.Second})

	// Skip the local gate so the mount's own answer surfaces.
	_, err := c.GotoTarget(context.Background(), "polaris", GotoOptions{SkipVisibilityCheck: true})
	var bh *BelowHorizonError
	if !errors.As(err, &bh) {
		t.Fatalf("err = %v, want BelowHorizonError", err)
	}
}

func TestGotoTargetVisibilityGate(t *testing.T) {
	sent := make(chan string, 8)
	f := newFakeMount(t, func(req codec.Request, w io.Writer) {
		sent <- req.Method
		ok(w, req.ID, 0)
	})
	c := newController(t, f, &fixedClient{target: catalog.Target{
		Name: "Octans Deep", RAHours: 12, DecDegrees: neverUpDec,
	}}, Config{})

	_, err := c.GotoTarget(context.Background(), "octans deep", GotoOptions{})
	var bh *BelowHorizonError
	if !errors.As(err, &bh) {
		t.Fatalf("err = %v, want BelowHorizonError", err)
	}
	select {
	case m := <-sent:
		t.Errorf("gate refusal still sent %q", m)
	default:
	}
}

func TestGotoTargetSolarSafetyGate(t *testing.T) {
	f := newFakeMount(t, func(req codec.Request, w io.Writer) { ok(w, req.ID, 0) })
	c := newController(t, f, &fixedClient{target: catalog.Target{
		Name: "Sun", RAHours: 6, DecDegrees: alwaysUpDec, SolarSafety: true,
	}}, Config{})

	_, err := c.GotoTarget(context.Background(), "sun", GotoOptions{})
	var ss *SolarSafetyError
	if !errors.As(err, &ss) {
		t.Fatalf("err = %v, want SolarSafetyError", err)
	}
}

func TestGotoTargetMosaicParams(t *testing.T) {
	var mu sync.Mutex
	var viewParams map[string]any

	f := newFakeMount(t, func(req codec.Request, w io.Writer) {
		if req.Method == "iscope_start_view" {
			mu.Lock()
			data, _ := json.Marshal(req.Params)
			json.Unmarshal(data, &viewParams)
			mu.Unlock()
			ok(w, req.ID, 0)
			gotoEvent(w, "complete", "")
			return
		}
		ok(w, req.ID, 0)
	})
	c := newController(t, f, &fixedClient{target: catalog.Target{
		Name: "Polaris", RAHours: 2.5303, DecDegrees: alwaysUpDec,
	}}, Config{GotoTimeout: 5 * time.Second})

	_, err := c.GotoTarget(context.Background(), "polaris", GotoOptions{
		Mosaic: &MosaicOptions{Width: 2, Height: 3},
	})
	if err != nil {
		t.Fatalf("GotoTarget failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	mosaic, _ := viewParams["mosaic"].(map[string]any)
	if mosaic == nil {
		t.Fatalf("params missing mosaic: %v", viewParams)
	}
	if mosaic["enable"] != true || mosaic["width"] != float64(2) || mosaic["height"] != float64(3) {
		t.Errorf("mosaic = %v", mosaic)
	}
	if name, _ := viewParams["target_name"].(string); name != "Polaris (Mosaic 2x3)" {
		t.Errorf("target_name = %q", name)
	}
}

func TestGotoTargetTimeout(t *testing.T) {
	f := newFakeMount(t, func(req codec.Request, w io.Writer) {
		// Acknowledge but never report a terminal state.
		ok(w, req.ID, 0)
	})
	c := newController(t, f, &fixedClient{target: catalog.Target{
		Name: "Polaris", RAHours: 2.5303, DecDegrees: alwaysUpDec,
	}}, Config{GotoTimeout: 200 * time.Millisecond, PollInterval: time.Hour})

	_, err := c.GotoTarget(context.Background(), "polaris", GotoOptions{})
	if !errors.Is(err, ErrGotoTimeout) {
		t.Errorf("err = %v, want ErrGotoTimeout", err)
	}
}

func TestImagingLifecycle(t *testing.T) {
	var mu sync.Mutex
	byMethod := make(map[string]json.RawMessage)

	f := newFakeMount(t, func(req codec.Request, w io.Writer) {
		mu.Lock()
		data, _ := json.Marshal(req.Params)
		byMethod[req.Method] = data
		mu.Unlock()
		if req.Method == "get_view_state" {
			ok(w, req.ID, map[string]string{"stage": "Stack", "state": "working"})
			return
		}
		ok(w, req.ID, 0)
	})
	c := newController(t, f, &fixedClient{}, Config{})
	ctx := context.Background()

	if err := c.StartImaging(ctx, ImagingOptions{}); err != nil {
		t.Fatalf("StartImaging failed: %v", err)
	}
	status, err := c.ImagingStatus(ctx)
	if err != nil {
		t.Fatalf("ImagingStatus failed: %v", err)
	}
	var view map[string]string
	if err := json.Unmarshal(status, &view); err != nil || view["stage"] != "Stack" {
		t.Errorf("view state = %s (%v)", status, err)
	}
	if err := c.StopImaging(ctx); err != nil {
		t.Fatalf("StopImaging failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got := string(byMethod["iscope_start_stack"]); got != `{"restart":true}` {
		t.Errorf("start stack params = %s", got)
	}
	if got := string(byMethod["iscope_stop_view"]); got != `{"stage":"Stack"}` {
		t.Errorf("stop view params = %s", got)
	}
}

func TestParkAndUnpark(t *testing.T) {
	var mu sync.Mutex
	byMethod := make(map[string]json.RawMessage)

	f := newFakeMount(t, func(req codec.Request, w io.Writer) {
		mu.Lock()
		data, _ := json.Marshal(req.Params)
		byMethod[req.Method] = data
		mu.Unlock()
		if req.Method == "get_device_state" {
			ok(w, req.ID, map[string]string{"arm": "open"})
			return
		}
		ok(w, req.ID, 0)
	})
	c := newController(t, f, &fixedClient{}, Config{})
	ctx := context.Background()

	if err := c.Park(ctx, true); err != nil {
		t.Fatalf("Park failed: %v", err)
	}
	state, err := c.Unpark(ctx)
	if err != nil {
		t.Fatalf("Unpark failed: %v", err)
	}
	var dev map[string]string
	if err := json.Unmarshal(state, &dev); err != nil || dev["arm"] != "open" {
		t.Errorf("device state = %s (%v)", state, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got := string(byMethod["scope_park"]); got != `{"equ_mode":true}` {
		t.Errorf("park params = %s", got)
	}
	if _, sent := byMethod["scope_move_to_horizon"]; !sent {
		t.Error("scope_move_to_horizon not sent")
	}
}

func TestSolarObservationSequence(t *testing.T) {
	var mu sync.Mutex
	var order []string

	f := newFakeMount(t, func(req codec.Request, w io.Writer) {
		mu.Lock()
		order = append(order, req.Method)
		mu.Unlock()
		ok(w, req.ID, 0)
	})
	c := newController(t, f, &fixedClient{}, Config{})
	ctx := context.Background()

	var ss *SolarSafetyError
	if err := c.StartSolarObservation(ctx, false); !errors.As(err, &ss) {
		t.Fatalf("err = %v, want SolarSafetyError", err)
	}
	if err := c.StartSolarObservation(ctx, true); err != nil {
		t.Fatalf("StartSolarObservation failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"iscope_start_view", "start_scan_planet", "clear_app_state"}
	var cmds []string
	for _, m := range order {
		if m != "test_connection" {
			cmds = append(cmds, m)
		}
	}
	if len(cmds) != len(want) {
		t.Fatalf("commands = %v", cmds)
	}
	for i := range want {
		if cmds[i] != want[i] {
			t.Errorf("command %d = %q, want %q", i, cmds[i], want[i])
		}
	}
}

func TestStatusReportsCoordinates(t *testing.T) {
	f := newFakeMount(t, func(req codec.Request, w io.Writer) {
		if req.Method == "scope_get_equ_coord" {
			ok(w, req.ID, map[string]float64{"ra": 12.8633, "dec": -30.1292})
			return
		}
		ok(w, req.ID, 0)
	})
	c := newController(t, f, &fixedClient{}, Config{})

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.SessionState != "connected" {
		t.Errorf("SessionState = %q", st.SessionState)
	}
	if st.Coordinates == nil || st.Coordinates.RAHours != 12.8633 || st.Coordinates.DecDegrees != -30.1292 {
		t.Errorf("Coordinates = %+v", st.Coordinates)
	}
}

func TestEmergencyStop(t *testing.T) {
	var mu sync.Mutex
	var params json.RawMessage

	f := newFakeMount(t, func(req codec.Request, w io.Writer) {
		if req.Method == "iscope_stop_view" {
			mu.Lock()
			params, _ = json.Marshal(req.Params)
			mu.Unlock()
		}
		ok(w, req.ID, 0)
	})
	c := newController(t, f, &fixedClient{}, Config{})

	if err := c.EmergencyStop(context.Background()); err != nil {
		t.Fatalf("EmergencyStop failed: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if string(params) != `{"stage":"All"}` {
		t.Errorf("params = %s", params)
	}
}

func TestCalibrationUnsupported(t *testing.T) {
	f := newFakeMount(t, func(req codec.Request, w io.Writer) { ok(w, req.ID, 0) })
	c := newController(t, f, &fixedClient{}, Config{})
	if err := c.StartCalibration(context.Background()); !errors.Is(err, ErrCalibrationUnsupported) {
		t.Errorf("err = %v, want ErrCalibrationUnsupported", err)
	}
}

func TestFocuserAndWheel(t *testing.T) {
	var mu sync.Mutex
	byMethod := make(map[string]json.RawMessage)

	f := newFakeMount(t, func(req codec.Request, w io.Writer) {
		mu.Lock()
		data, _ := json.Marshal(req.Params)
		byMethod[req.Method] = data
		mu.Unlock()
		switch req.Method {
		case "get_focuser_position":
			ok(w, req.ID, 5000)
		case "get_wheel_state":
			ok(w, req.ID, map[string]any{"id": 0, "state": "idle"})
		default:
			ok(w, req.ID, 0)
		}
	})
	c := newController(t, f, &fixedClient{}, Config{})
	ctx := context.Background()

	pos, err := c.FocuserPosition(ctx)
	if err != nil || pos != 5000 {
		t.Errorf("FocuserPosition = %d, %v", pos, err)
	}
	if err := c.SetFocuserPosition(ctx, 4200); err != nil {
		t.Fatalf("SetFocuserPosition failed: %v", err)
	}
	if _, err := c.WheelState(ctx); err != nil {
		t.Fatalf("WheelState failed: %v", err)
	}
	if err := c.SetWheelPosition(ctx, 1); err != nil {
		t.Fatalf("SetWheelPosition failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got := string(byMethod["set_focuser_position"]); got != `{"position":4200}` {
		t.Errorf("focuser params = %s", got)
	}
	if got := string(byMethod["set_wheel_position"]); got != `{"position":1}` {
		t.Errorf("wheel params = %s", got)
	}
}
