// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seestar-tools/seestarlink/pkg/codec"
	"github.com/seestar-tools/seestarlink/pkg/metrics"
)

const (
	// DefaultTCPPort is the telescope's JSON control port.
	DefaultTCPPort = 4700

	// DefaultUDPPort is the telescope's handshake listener.
	DefaultUDPPort = 4720

	// firstCommandID seeds the monotonic request id counter, matching the
	// id range the official app uses.
	firstCommandID = 1000
)

// State is the connection lifecycle state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateInitializing
	StateConnected
	StateDegraded
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateInitializing:
		return "initializing"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Config holds the session configuration.
type Config struct {
	// Host is the telescope's IP address or hostname.
	Host string

	// TCPPort is the control port (default 4700).
	TCPPort int

	// UDPPort is the handshake port (default 4720).
	UDPPort int

	// ConnectTimeout bounds the TCP dial (default 10s).
	ConnectTimeout time.Duration

	// HandshakeTimeout bounds the wait for the UDP acknowledgment
	// (default 2s).
	HandshakeTimeout time.Duration

	// StrictHandshake makes a missing UDP acknowledgment fatal. The
	// hardware frequently stays silent on UDP while perfectly reachable
	// over TCP, so the default is to log and proceed.
	StrictHandshake bool

	// RequestTimeout is the default per-request deadline (default 30s).
	RequestTimeout time.Duration

	// MethodTimeouts overrides the deadline per method. Plate-solving
	// class operations (goto) need materially longer than status queries.
	MethodTimeouts map[string]time.Duration

	// HeartbeatInterval is the test_connection period (default 15s).
	HeartbeatInterval time.Duration

	// HeartbeatMissLimit is the number of consecutive failed heartbeats
	// before the session is marked Degraded (default 2).
	HeartbeatMissLimit int

	// SilenceThreshold is the maximum tolerated inbound silence before a
	// forced reconnect (default 45s).
	SilenceThreshold time.Duration

	// ReconnectBase and ReconnectMax shape the exponential backoff
	// between reconnection attempts (defaults 1s and 60s).
	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	// Logger for session events.
	Logger *slog.Logger

	// Metrics is optional Prometheus instrumentation.
	Metrics *metrics.Metrics
}

// pending is a request awaiting its correlated response.
type pending struct {
	id       int64
	method   string
	issuedAt time.Time
	done     chan outcome
}

type outcome struct {
	result json.RawMessage
	err    error
}

// Session is the exclusive owner of the socket and the pending-request
// table. No other component touches the connection directly.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu           sync.Mutex
	state        State
	conn         net.Conn
	pending      map[int64]*pending
	subs         map[string]*Subscription
	reconnecting bool

	writeMu sync.Mutex

	nextID      atomic.Int64
	lastInbound atomic.Int64 // unix nanos of the last decoded frame

	heartbeatOnce sync.Once
	closeOnce     sync.Once
	closed        chan struct{}
}

// New creates a session for the given telescope. It does not connect.
func New(cfg Config) *Session {
	if cfg.TCPPort == 0 {
		cfg.TCPPort = DefaultTCPPort
	}
	if cfg.UDPPort == 0 {
		cfg.UDPPort = DefaultUDPPort
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 2 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.HeartbeatMissLimit == 0 {
		cfg.HeartbeatMissLimit = 2
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = 45 * time.Second
	}
	if cfg.ReconnectBase == 0 {
		cfg.ReconnectBase = time.Second
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Session{
		cfg:     cfg,
		logger:  cfg.Logger.With(slog.String("host", cfg.Host)),
		state:   StateDisconnected,
		pending: make(map[int64]*pending),
		subs:    make(map[string]*Subscription),
		closed:  make(chan struct{}),
	}
	s.nextID.Store(firstCommandID)
	return s
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Host returns the configured telescope host.
func (s *Session) Host() string {
	return s.cfg.Host
}

// Connect performs the UDP handshake and opens the TCP control channel.
// On success the session is Connected and the read and heartbeat loops
// are running.
func (s *Session) Connect(ctx context.Context) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	s.mu.Lock()
	if s.state != StateDisconnected {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("connect while %s: %w", st, ErrNotConnected)
	}
	s.setStateLocked(StateInitializing)
	s.mu.Unlock()

	conn, err := s.dial(ctx)
	if err != nil {
		s.mu.Lock()
		s.setStateLocked(StateDisconnected)
		s.mu.Unlock()
		return err
	}

	s.lastInbound.Store(time.Now().UnixNano())

	s.mu.Lock()
	s.conn = conn
	s.setStateLocked(StateConnected)
	s.mu.Unlock()

	s.logger.Info("telescope connected",
		slog.String("addr", conn.RemoteAddr().String()))

	go s.readLoop(conn)
	s.heartbeatOnce.Do(func() { go s.heartbeatLoop() })
	return nil
}

// dial runs the UDP handshake followed by the TCP connect.
func (s *Session) dial(ctx context.Context) (net.Conn, error) {
	if err := s.handshake(ctx); err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.TCPPort))
	d := net.Dialer{
		Timeout:   s.cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnectionRefused, addr, err)
	}
	return conn, nil
}

// handshake sends the scan_iscope probe datagram and waits briefly for an
// acknowledgment. The reply payload is treated as an opaque liveness
// signal.
func (s *Session) handshake(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.UDPPort))
	conn, err := net.Dial("udp", addr)
	if err != nil {
		if s.cfg.StrictHandshake {
			return fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
		}
		s.logger.Debug("udp handshake skipped", slog.String("error", err.Error()))
		return nil
	}
	defer conn.Close()

	// The official app announces itself with this exact probe.
	probe, err := json.Marshal(map[string]any{
		"id": 1, "method": "scan_iscope", "params": "",
	})
	if err != nil {
		return err
	}
	if _, err := conn.Write(probe); err != nil {
		if s.cfg.StrictHandshake {
			return fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
		}
		s.logger.Debug("udp handshake send failed", slog.String("error", err.Error()))
		return nil
	}

	deadline := time.Now().Add(s.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	buf := make([]byte, 2048)
	if _, err := conn.Read(buf); err != nil {
		if s.cfg.StrictHandshake {
			return fmt.Errorf("%w: no ack from %s", ErrHandshakeTimeout, addr)
		}
		s.logger.Debug("udp handshake unacknowledged, continuing")
		return nil
	}

	s.logger.Debug("udp handshake acknowledged")
	return nil
}

// Send issues a request and blocks until the matching response, the
// per-method deadline, context cancellation, or session close. A non-zero
// response code surfaces as *RemoteError.
func (s *Session) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	if s.state != StateConnected && s.state != StateDegraded {
		st := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("send %s while %s: %w", method, st, ErrNotConnected)
	}
	conn := s.conn
	id := s.nextID.Add(1)
	p := &pending{
		id:       id,
		method:   method,
		issuedAt: time.Now(),
		done:     make(chan outcome, 1),
	}
	s.pending[id] = p
	s.mu.Unlock()

	frame, err := codec.Encode(codec.Request{ID: id, Method: method, Params: params})
	if err != nil {
		s.removePending(id)
		return nil, err
	}

	s.logger.Debug("sending command",
		slog.Int64("id", id),
		slog.String("method", method))

	s.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, werr := conn.Write(frame)
	s.writeMu.Unlock()
	if werr != nil {
		s.removePending(id)
		s.lost(conn)
		s.countRequest(method, "write_error")
		return nil, fmt.Errorf("write %s: %w", method, ErrConnectionLost)
	}

	timeout := s.timeoutFor(method)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-p.done:
		if out.err != nil {
			s.countRequest(method, "remote_error")
			return nil, out.err
		}
		s.countRequest(method, "ok")
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RequestDuration.WithLabelValues(method).
				Observe(time.Since(p.issuedAt).Seconds())
		}
		return out.result, nil

	case <-timer.C:
		s.removePending(id)
		s.countRequest(method, "timeout")
		return nil, fmt.Errorf("%s after %s: %w", method, timeout, ErrRequestTimeout)

	case <-ctx.Done():
		s.removePending(id)
		s.countRequest(method, "canceled")
		return nil, ctx.Err()

	case <-s.closed:
		return nil, ErrClosed
	}
}

// timeoutFor returns the deadline for a method, honoring per-method
// overrides.
func (s *Session) timeoutFor(method string) time.Duration {
	if d, ok := s.cfg.MethodTimeouts[method]; ok && d > 0 {
		return d
	}
	return s.cfg.RequestTimeout
}

func (s *Session) countRequest(method, outcome string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RequestsTotal.WithLabelValues(method, outcome).Inc()
	}
}

func (s *Session) removePending(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// Disconnect closes the session for good. All outstanding requests fail,
// subscriptions are closed, and the state becomes Disconnected. The
// session cannot be reused afterwards.
func (s *Session) Disconnect() {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
			s.conn = nil
		}
		s.failPendingLocked(ErrClosed)
		for id, sub := range s.subs {
			delete(s.subs, id)
			sub.once.Do(func() { close(sub.ch) })
		}
		s.setStateLocked(StateDisconnected)
		s.mu.Unlock()

		s.logger.Info("telescope disconnected")
	})
}

// lost tears down a dead connection and kicks off reconnection, unless
// the session is closing or the connection has already been replaced.
func (s *Session) lost(conn net.Conn) {
	select {
	case <-s.closed:
		return
	default:
	}

	s.mu.Lock()
	if s.conn != conn {
		// A newer connection is already in place.
		s.mu.Unlock()
		return
	}
	_ = conn.Close()
	s.conn = nil
	s.failPendingLocked(ErrConnectionLost)
	s.setStateLocked(StateReconnecting)
	start := !s.reconnecting
	s.reconnecting = true
	s.mu.Unlock()

	s.logger.Warn("connection lost, reconnecting")
	if start {
		go s.reconnectLoop()
	}
}

// failPendingLocked fails every outstanding request with err. Callers
// hold s.mu.
func (s *Session) failPendingLocked(err error) {
	for id, p := range s.pending {
		delete(s.pending, id)
		p.done <- outcome{err: fmt.Errorf("%s: %w", p.method, err)}
	}
}

// reconnectLoop retries the full handshake with exponential backoff,
// capped and unbounded in attempts, until success or Disconnect.
func (s *Session) reconnectLoop() {
	delay := s.cfg.ReconnectBase
	for attempt := 1; ; attempt++ {
		select {
		case <-s.closed:
			return
		case <-time.After(delay):
		}

		if s.cfg.Metrics != nil {
			s.cfg.Metrics.Reconnects.Inc()
		}
		s.logger.Info("reconnect attempt",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay))

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
		conn, err := s.dial(ctx)
		cancel()
		if err == nil {
			s.lastInbound.Store(time.Now().UnixNano())

			s.mu.Lock()
			select {
			case <-s.closed:
				s.mu.Unlock()
				_ = conn.Close()
				return
			default:
			}
			s.conn = conn
			s.reconnecting = false
			s.setStateLocked(StateConnected)
			s.mu.Unlock()

			s.logger.Info("reconnected",
				slog.Int("attempts", attempt))
			go s.readLoop(conn)
			return
		}

		s.logger.Warn("reconnect failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		delay = nextBackoff(delay, s.cfg.ReconnectMax)
	}
}

// readLoop drains the TCP stream for one connection, matching responses
// to pending requests and fanning events out to subscribers.
func (s *Session) readLoop(conn net.Conn) {
	sc := codec.NewScanner(conn)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		s.lastInbound.Store(time.Now().UnixNano())

		in, err := codec.DecodeInbound(line)
		if err != nil {
			// Malformed frames are dropped, never fatal.
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.DecodeErrors.Inc()
			}
			s.logger.Warn("dropping undecodable frame",
				slog.String("error", err.Error()),
				slog.Int("bytes", len(line)))
			continue
		}

		if in.Response != nil {
			s.dispatchResponse(in.Response)
		} else {
			s.dispatchEvent(in.Event)
		}
	}

	if err := sc.Err(); err != nil {
		s.logger.Debug("read loop ended", slog.String("error", err.Error()))
	}
	s.lost(conn)
}

func (s *Session) dispatchResponse(resp *codec.Response) {
	s.mu.Lock()
	p, ok := s.pending[resp.ID]
	if ok {
		delete(s.pending, resp.ID)
	}
	s.mu.Unlock()

	if !ok {
		// Response for a request that already timed out or was canceled.
		s.logger.Debug("unmatched response", slog.Int64("id", resp.ID))
		return
	}

	if resp.Code != 0 {
		msg := resp.Error
		if msg == "" && len(resp.Result) > 0 {
			msg = string(resp.Result)
		}
		p.done <- outcome{err: &RemoteError{Method: p.method, Code: resp.Code, Message: msg}}
		return
	}
	p.done <- outcome{result: resp.Result}
}

func (s *Session) dispatchEvent(ev *codec.Event) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.EventsTotal.WithLabelValues(ev.Name).Inc()
	}
	s.logger.Debug("event",
		slog.String("event", ev.Name),
		slog.String("state", ev.State))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if !sub.matches(ev.Name) {
			continue
		}
		select {
		case sub.ch <- *ev:
		default:
			s.logger.Warn("dropping event for slow subscriber",
				slog.String("event", ev.Name),
				slog.String("subscription", sub.ID))
		}
	}
}

// heartbeatLoop keeps the connection warm with periodic test_connection
// requests and escalates through Degraded to a forced reconnect.
func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
		}

		st := s.State()
		if st != StateConnected && st != StateDegraded {
			misses = 0
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HeartbeatInterval/3)
		_, err := s.Send(ctx, "test_connection", nil)
		cancel()

		if err == nil {
			misses = 0
			s.mu.Lock()
			if s.state == StateDegraded {
				s.setStateLocked(StateConnected)
				s.logger.Info("heartbeat recovered")
			}
			s.mu.Unlock()
			continue
		}

		misses++
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.HeartbeatMisses.Inc()
		}
		s.logger.Warn("heartbeat failed",
			slog.Int("consecutive", misses),
			slog.String("error", err.Error()))

		if misses < s.cfg.HeartbeatMissLimit {
			continue
		}

		s.mu.Lock()
		if s.state == StateConnected {
			s.setStateLocked(StateDegraded)
		}
		conn := s.conn
		s.mu.Unlock()

		silence := time.Since(time.Unix(0, s.lastInbound.Load()))
		if silence > s.cfg.SilenceThreshold && conn != nil {
			s.logger.Warn("inbound silence threshold exceeded",
				slog.Duration("silence", silence))
			s.lost(conn)
			misses = 0
		}
	}
}

// setStateLocked transitions the state machine. Callers hold s.mu.
func (s *Session) setStateLocked(st State) {
	if s.state == st {
		return
	}
	old := s.state
	s.state = st
	s.logger.Info("session state",
		slog.String("from", old.String()),
		slog.String("to", st.String()))
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SessionState.WithLabelValues(s.cfg.Host).Set(float64(st))
	}
}

// nextBackoff doubles the reconnect delay up to the cap.
func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
