// Package hostws is the host channel of the vadbridge daemon: a single
// WebSocket peer that drives the bridge with start/stop/isActive calls and
// receives every bridge event as a named handler message.
package hostws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cortexswarm/micvad-go/bridge"
	"github.com/cortexswarm/micvad-go/internal/diaglog"
)

const (
	defaultWriteTimeout = 5 * time.Second
	maxRequestBytes     = 64 * 1024
)

// Controller is the session surface the host drives. *bridge.Bridge
// satisfies it.
type Controller interface {
	Start(cfg bridge.SessionConfig)
	Stop()
	IsActive() bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithDiagLog records host connects and disconnects.
func WithDiagLog(d *diaglog.Logger) Option {
	return func(s *Server) { s.diag = d }
}

// WithConnGauge reports host connection changes (+1 on connect, -1 on
// disconnect).
func WithConnGauge(f func(delta int64)) Option {
	return func(s *Server) { s.gauge = f }
}

// WithWriteTimeout bounds each outbound write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// Server accepts one host at a time; a new connection replaces the previous
// one. It implements bridge.Sink.
type Server struct {
	ctrl     Controller
	defaults func() bridge.SessionConfig

	log          *slog.Logger
	diag         *diaglog.Logger
	gauge        func(delta int64)
	writeTimeout time.Duration
	upgrader     websocket.Upgrader

	mu     sync.Mutex
	host   *hostConn
	closed bool
	// serving counts ServeHTTP calls past the closed check.
	serving sync.WaitGroup
}

type hostConn struct {
	id string
	ws *websocket.Conn

	writeMu sync.Mutex
}

// New returns a Server driving ctrl. defaults supplies the session config for
// start calls without params, and the base that params are merged over.
func New(ctrl Controller, defaults func() bridge.SessionConfig, opts ...Option) *Server {
	if defaults == nil {
		defaults = func() bridge.SessionConfig { return bridge.SessionConfig{} }
	}
	s := &Server{
		ctrl:         ctrl,
		defaults:     defaults,
		log:          slog.Default(),
		writeTimeout: defaultWriteTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", diaglog.ComponentHost)
	return s
}

// Connected reports whether a host is attached.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host != nil
}

// ServeHTTP upgrades the request and serves the host until it disconnects.
// After Close it answers 503 without upgrading.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "host channel closed", http.StatusServiceUnavailable)
		return
	}
	s.serving.Add(1)
	s.mu.Unlock()
	defer s.serving.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	ws.SetReadLimit(maxRequestBytes)

	hc := &hostConn{id: uuid.NewString(), ws: ws}
	s.attach(hc, r.RemoteAddr)
	defer s.detach(hc)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("host read ended", "host", hc.id, "err", err)
			}
			return
		}
		resp := s.handle(data)
		if err := s.write(hc, resp); err != nil {
			s.log.Warn("response write failed", "host", hc.id, "err", err)
			return
		}
	}
}

// Close refuses new hosts, disconnects the current one and waits until no
// request handler is running, so the controller receives no further calls.
// http.Server.Shutdown does not do this for upgraded connections.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	hc := s.host
	s.mu.Unlock()

	if hc != nil {
		hc.close(s.writeTimeout)
	}
	s.serving.Wait()
}

func (s *Server) attach(hc *hostConn, remote string) {
	s.mu.Lock()
	prev := s.host
	s.host = hc
	closed := s.closed
	s.mu.Unlock()

	if closed {
		// Close ran during the upgrade; the read loop ends at once.
		_ = hc.ws.Close()
	}

	if prev != nil {
		s.log.Info("host replaced", "old", prev.id, "new", hc.id)
		s.diag.Log(diaglog.LogEntry{Component: diaglog.ComponentHost, Event: diaglog.EventHostReplaced, Payload: map[string]string{"old": prev.id, "new": hc.id}})
		prev.close(s.writeTimeout)
	}
	s.log.Info("host connected", "host", hc.id, "remote", remote)
	s.diag.Log(diaglog.LogEntry{Component: diaglog.ComponentHost, Event: diaglog.EventHostConnect, Payload: map[string]string{"host": hc.id, "remote": remote}})
	if s.gauge != nil {
		s.gauge(1)
	}
}

func (s *Server) detach(hc *hostConn) {
	s.mu.Lock()
	if s.host == hc {
		s.host = nil
	}
	s.mu.Unlock()
	_ = hc.ws.Close()

	s.log.Info("host disconnected", "host", hc.id)
	s.diag.Log(diaglog.LogEntry{Component: diaglog.ComponentHost, Event: diaglog.EventHostDisconnect, Payload: map[string]string{"host": hc.id}})
	if s.gauge != nil {
		s.gauge(-1)
	}
}

// Deliver sends one bridge event to the host. It returns an error wrapping
// bridge.ErrChannelUnavailable when no host is attached or the write fails.
func (s *Server) Deliver(handler, payload string) error {
	s.mu.Lock()
	hc := s.host
	s.mu.Unlock()
	if hc == nil {
		return bridge.ErrChannelUnavailable
	}
	if err := s.write(hc, Message{Handler: handler, Payload: payload}); err != nil {
		// The read loop sees the broken connection and detaches it.
		_ = hc.ws.Close()
		return fmt.Errorf("%w: %v", bridge.ErrChannelUnavailable, err)
	}
	return nil
}

func (s *Server) write(hc *hostConn, v any) error {
	hc.writeMu.Lock()
	defer hc.writeMu.Unlock()
	if err := hc.ws.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return hc.ws.WriteJSON(v)
}

func (hc *hostConn) close(timeout time.Duration) {
	hc.writeMu.Lock()
	_ = hc.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replaced"),
		time.Now().Add(timeout))
	hc.writeMu.Unlock()
	_ = hc.ws.Close()
}

// handle runs one request. Controller calls are made from the read loop so
// that a stop's flushed events are written before its response.
func (s *Server) handle(data []byte) Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Response{Error: "invalid request: " + err.Error()}
	}
	switch req.Method {
	case MethodStart:
		cfg, err := s.sessionConfig(req.Params)
		if err != nil {
			return Response{ID: req.ID, Error: "invalid params: " + err.Error()}
		}
		s.ctrl.Start(cfg)
		return Response{ID: req.ID, Result: true}
	case MethodStop:
		s.ctrl.Stop()
		return Response{ID: req.ID, Result: true}
	case MethodIsActive:
		return Response{ID: req.ID, Result: s.ctrl.IsActive()}
	default:
		return Response{ID: req.ID, Error: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

// sessionConfig merges params over the default session config.
func (s *Server) sessionConfig(params json.RawMessage) (bridge.SessionConfig, error) {
	cfg := s.defaults()
	params = bytes.TrimSpace(params)
	if len(params) == 0 || bytes.Equal(params, []byte("null")) {
		return cfg, nil
	}
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return bridge.SessionConfig{}, err
	}
	if dec.More() {
		return bridge.SessionConfig{}, errors.New("trailing data after params")
	}
	return cfg, nil
}
