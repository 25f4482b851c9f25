// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/seestar-tools/seestarlink/pkg/codec"
)

// fakeScope emulates the telescope: a UDP handshake responder and a TCP
// control listener that feeds each decoded request to a handler.
type fakeScope struct {
	t       *testing.T
	tcpLn   net.Listener
	udpConn *net.UDPConn
	handler func(req codec.Request, w io.Writer)

	mu    sync.Mutex
	conns []net.Conn

	accepted chan net.Conn
}

func newFakeScope(t *testing.T, handler func(req codec.Request, w io.Writer)) *fakeScope {
	t.Helper()

	tcpLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("tcp listen: %v", err)
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("udp listen: %v", err)
	}

	f := &fakeScope{
		t:        t,
		tcpLn:    tcpLn,
		udpConn:  udpConn,
		handler:  handler,
		accepted: make(chan net.Conn, 8),
	}

	// Acknowledge every handshake datagram.
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
			f.accepted <- conn
			go f.serve(conn)
		}
	}()

	t.Cleanup(f.close)
	return f
}

func (f *fakeScope) serve(conn net.Conn) {
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

func (f *fakeScope) close() {
	_ = f.tcpLn.Close()
	_ = f.udpConn.Close()
	f.mu.Lock()
	for _, c := range f.conns {
		_ = c.Close()
	}
	f.mu.Unlock()
}

// dropConns closes every accepted connection, simulating WiFi loss.
func (f *fakeScope) dropConns() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		_ = c.Close()
	}
	f.conns = nil
}

func (f *fakeScope) config() Config {
	tcpPort := f.tcpLn.Addr().(*net.TCPAddr).Port
	udpPort := f.udpConn.LocalAddr().(*net.UDPAddr).Port
	return Config{
		Host:    "127.0.0.1",
		TCPPort: tcpPort,
		UDPPort: udpPort,
		Logger:  slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}
}

func respond(w io.Writer, id int64, result any) {
	data, _ := json.Marshal(result)
	fmt.Fprintf(w, `{"jsonrpc":"2.0","result":%s,"code":0,"id":%d}`+"\r\n", data, id)
}

func respondError(w io.Writer, id int64, code int, msg string) {
	fmt.Fprintf(w, `{"id":%d,"code":%d,"error":%q}`+"\r\n", id, code, msg)
}

func pushEvent(w io.Writer, name, state string) {
	fmt.Fprintf(w, `{"Event":%q,"state":%q,"result":{}}`+"\r\n", name, state)
}

func waitForState(t *testing.T, s *Session, want State, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never became %s (currently %s)", want, s.State())
}

func TestConnectSendDisconnect(t *testing.T) {
	f := newFakeScope(t, func(req codec.Request, w io.Writer) {
		if req.Method == "scope_get_equ_coord" {
			respond(w, req.ID, map[string]float64{"ra": 12.863333, "dec": -30.129167})
		}
	})

	s := New(f.config())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := s.State(); got != StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}

	raw, err := s.Send(context.Background(), "scope_get_equ_coord", nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	var coords struct {
		RA  float64 `json:"ra"`
		Dec float64 `json:"dec"`
	}
	if err := json.Unmarshal(raw, &coords); err != nil {
		t.Fatalf("bad result payload: %v", err)
	}
	if coords.RA != 12.863333 {
		t.Errorf("ra = %v, want 12.863333", coords.RA)
	}

	s.Disconnect()
	if got := s.State(); got != StateDisconnected {
		t.Errorf("state after disconnect = %s", got)
	}
	if _, err := s.Send(context.Background(), "test_connection", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("send after disconnect: %v, want ErrNotConnected", err)
	}
}

func TestResponsesMatchedByIDNotOrder(t *testing.T) {
	// Hold the first request and answer it only after the second, so
	// responses arrive in reverse send order.
	var mu sync.Mutex
	var held *codec.Request
	var heldW io.Writer

	f := newFakeScope(t, func(req codec.Request, w io.Writer) {
		mu.Lock()
		defer mu.Unlock()
		if held == nil {
			r := req
			held, heldW = &r, w
			return
		}
		respond(w, req.ID, map[string]string{"for": req.Method})
		respond(heldW, held.ID, map[string]string{"for": held.Method})
	})

	s := New(f.config())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	results := make(map[string]string)
	var wg sync.WaitGroup
	var resMu sync.Mutex
	for _, method := range []string{"first_command", "second_command"} {
		wg.Add(1)
		go func(m string) {
			defer wg.Done()
			raw, err := s.Send(context.Background(), m, nil)
			if err != nil {
				t.Errorf("Send(%s) failed: %v", m, err)
				return
			}
			var payload struct {
				For string `json:"for"`
			}
			_ = json.Unmarshal(raw, &payload)
			resMu.Lock()
			results[m] = payload.For
			resMu.Unlock()
		}(method)
		// Ensure deterministic arrival order at the fake.
		time.Sleep(50 * time.Millisecond)
	}
	wg.Wait()

	for _, m := range []string{"first_command", "second_command"} {
		if results[m] != m {
			t.Errorf("Send(%s) got response for %q", m, results[m])
		}
	}
}

func TestRemoteError(t *testing.T) {
	f := newFakeScope(t, func(req codec.Request, w io.Writer) {
		respondError(w, req.ID, 203, "mount not ready")
	})

	s := New(f.config())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	_, err := s.Send(context.Background(), "scope_park", map[string]bool{"equ_mode": false})
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Code != 203 || remote.Message != "mount not ready" {
		t.Errorf("unexpected remote error: %+v", remote)
	}
}

func TestRequestTimeout(t *testing.T) {
	f := newFakeScope(t, func(req codec.Request, w io.Writer) {
		// Never answer.
	})

	cfg := f.config()
	cfg.MethodTimeouts = map[string]time.Duration{"slow_op": 150 * time.Millisecond}
	s := New(cfg)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	start := time.Now()
	_, err := s.Send(context.Background(), "slow_op", nil)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}
	if elapsed < 150*time.Millisecond {
		t.Errorf("timed out early: %s", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("timed out late: %s", elapsed)
	}
}

func TestConnectionLostFailsPending(t *testing.T) {
	requests := make(chan struct{}, 1)
	f := newFakeScope(t, func(req codec.Request, w io.Writer) {
		select {
		case requests <- struct{}{}:
		default:
		}
	})

	cfg := f.config()
	cfg.ReconnectBase = 10 * time.Millisecond
	s := New(cfg)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "goto_target", nil)
		errCh <- err
	}()

	<-requests
	f.dropConns()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrConnectionLost) {
			t.Fatalf("expected ErrConnectionLost, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request never failed after connection loss")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	f := newFakeScope(t, func(req codec.Request, w io.Writer) {
		respond(w, req.ID, "ok")
	})

	cfg := f.config()
	cfg.ReconnectBase = 10 * time.Millisecond
	cfg.ReconnectMax = 50 * time.Millisecond
	s := New(cfg)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	<-f.accepted // initial connection
	f.dropConns()

	select {
	case <-f.accepted:
	case <-time.After(3 * time.Second):
		t.Fatal("session never redialed")
	}
	waitForState(t, s, StateConnected, 2*time.Second)

	if _, err := s.Send(context.Background(), "test_connection", nil); err != nil {
		t.Errorf("Send after reconnect failed: %v", err)
	}
}

func TestBackoffNonDecreasingAndCapped(t *testing.T) {
	max := 60 * time.Second
	delay := time.Second
	prev := delay
	for i := 0; i < 20; i++ {
		delay = nextBackoff(delay, max)
		if delay < prev {
			t.Fatalf("backoff decreased: %s -> %s", prev, delay)
		}
		if delay > max {
			t.Fatalf("backoff exceeded cap: %s", delay)
		}
		prev = delay
	}
	if delay != max {
		t.Errorf("backoff never reached cap: %s", delay)
	}
}

func TestSubscriptionFilterAndOrder(t *testing.T) {
	conns := make(chan io.Writer, 1)
	f := newFakeScope(t, nil)

	s := New(f.config())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	conn := <-f.accepted
	conns <- conn

	sub := s.Subscribe("AutoGoto")
	defer sub.Close()
	all := s.Subscribe()
	defer all.Close()

	w := <-conns
	pushEvent(w, "PiStatus", "working")
	pushEvent(w, "AutoGoto", "slewing")
	pushEvent(w, "AutoGoto", "complete")

	states := make([]string, 0, 2)
	timeout := time.After(2 * time.Second)
	for len(states) < 2 {
		select {
		case ev := <-sub.Events():
			if ev.Name != "AutoGoto" {
				t.Fatalf("filtered subscription received %q", ev.Name)
			}
			states = append(states, ev.State)
		case <-timeout:
			t.Fatalf("timed out, got states %v", states)
		}
	}
	if states[0] != "slewing" || states[1] != "complete" {
		t.Errorf("events out of order: %v", states)
	}

	// The unfiltered subscriber sees all three.
	seen := 0
	drain := time.After(2 * time.Second)
	for seen < 3 {
		select {
		case <-all.Events():
			seen++
		case <-drain:
			t.Fatalf("unfiltered subscriber saw %d events, want 3", seen)
		}
	}
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	f := newFakeScope(t, nil)
	s := New(f.config())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	sub := s.Subscribe()
	sub.Close()
	if _, open := <-sub.Events(); open {
		t.Error("closed subscription channel still open")
	}
}

func TestDisconnectClosesSubscriptions(t *testing.T) {
	f := newFakeScope(t, nil)
	s := New(f.config())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	sub := s.Subscribe("AutoGoto")
	s.Disconnect()

	select {
	case _, open := <-sub.Events():
		if open {
			t.Error("expected closed channel after Disconnect")
		}
	case <-time.After(time.Second):
		t.Error("subscription channel not closed after Disconnect")
	}

	// Disconnect is idempotent.
	s.Disconnect()
}

func TestStrictHandshakeTimeout(t *testing.T) {
	// A UDP socket that never answers, and a TCP listener we never reach.
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("udp listen: %v", err)
	}
	defer udpConn.Close()
	tcpLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("tcp listen: %v", err)
	}
	defer tcpLn.Close()

	cfg := Config{
		Host:             "127.0.0.1",
		TCPPort:          tcpLn.Addr().(*net.TCPAddr).Port,
		UDPPort:          udpConn.LocalAddr().(*net.UDPAddr).Port,
		HandshakeTimeout: 100 * time.Millisecond,
		StrictHandshake:  true,
		Logger:           slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}
	s := New(cfg)
	err = s.Connect(context.Background())
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}
	if got := s.State(); got != StateDisconnected {
		t.Errorf("state after failed connect = %s", got)
	}
}

func TestConnectionRefused(t *testing.T) {
	// Reserve a port, then close it so the TCP connect is refused.
	tcpLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("tcp listen: %v", err)
	}
	port := tcpLn.Addr().(*net.TCPAddr).Port
	_ = tcpLn.Close()

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("udp listen: %v", err)
	}
	defer udpConn.Close()

	cfg := Config{
		Host:             "127.0.0.1",
		TCPPort:          port,
		UDPPort:          udpConn.LocalAddr().(*net.UDPAddr).Port,
		HandshakeTimeout: 50 * time.Millisecond,
		ConnectTimeout:   time.Second,
		Logger:           slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}
	s := New(cfg)
	if err := s.Connect(context.Background()); !errors.Is(err, ErrConnectionRefused) {
		t.Fatalf("expected ErrConnectionRefused, got %v", err)
	}
}

func TestMonotonicIDs(t *testing.T) {
	var mu sync.Mutex
	var ids []int64
	f := newFakeScope(t, func(req codec.Request, w io.Writer) {
		mu.Lock()
		ids = append(ids, req.ID)
		mu.Unlock()
		respond(w, req.ID, "ok")
	})

	s := New(f.config())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect()

	for i := 0; i < 5; i++ {
		if _, err := s.Send(context.Background(), "cmd_"+strconv.Itoa(i), nil); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Errorf("ids not strictly increasing: %v", ids)
		}
	}
	if ids[0] <= firstCommandID {
		t.Errorf("first id %d not above seed %d", ids[0], firstCommandID)
	}
}
