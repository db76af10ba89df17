// Package session owns one persistent WebSocket connection to the solver and
// its connect, retry and teardown lifecycle. It knows nothing about the frames
// it carries: inbound text frames are handed to a callback one at a time.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotConnected is returned by Send while the session is not Open.
	ErrNotConnected = errors.New("session: not connected")
	// ErrTransport wraps socket-level failures.
	ErrTransport = errors.New("session: transport failure")
)

// Defaults for Options left at their zero value.
const (
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = 3 * time.Second
	DefaultDialTimeout = 10 * time.Second
)

// State is the lifecycle position of a session.
type State int

const (
	Idle State = iota
	Connecting
	Open
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText lets states appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Conn is the part of a WebSocket connection the session uses.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

// Dial opens a client connection to url.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Timer is a pending callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Options configure a Session.
type Options struct {
	Endpoint    string
	MaxAttempts int
	RetryDelay  time.Duration
	DialTimeout time.Duration
	Dialer      Dialer
	Clock       Clock
	Logger      logrus.FieldLogger
	// OnFrame receives every inbound text frame. Calls never overlap.
	OnFrame func(frame []byte)
	// OnStateChange, if set, is called after every transition with the
	// session lock released.
	OnStateChange func(State)
}

// Session manages one connection. All methods are safe for concurrent use.
type Session struct {
	opts Options
	log  logrus.FieldLogger

	mu       sync.Mutex
	state    State
	attempts int
	conn     Conn
	timer    Timer
	cancel   context.CancelFunc
	// gen changes whenever the session is torn down or connected anew, so
	// callbacks belonging to an abandoned connection can recognise themselves.
	gen uint64
}

// New creates an Idle session. Zero-valued options fall back to the package
// defaults; a negative MaxAttempts disables retries.
func New(opts Options) *Session {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Session{
		opts: opts,
		log:  log.WithField("endpoint", opts.Endpoint),
	}
}

// Endpoint returns the URL the session dials.
func (s *Session) Endpoint() string {
	return s.opts.Endpoint
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the number of retries scheduled since the last successful open.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// PendingRetry reports whether a retry timer is scheduled.
func (s *Session) PendingRetry() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Connect starts dialing with a fresh retry budget. It is a no-op unless the
// session is Idle or Closed, so it never resets the budget of a live session.
func (s *Session) Connect() {
	s.mu.Lock()
	if s.state != Idle && s.state != Closed {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.attempts = 0
	s.startDialLocked()
	s.mu.Unlock()
	s.notify(Connecting)
}

// Send marshals payload to JSON and writes it as one text frame.
func (s *Session) Send(payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encoding payload")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Open || s.conn == nil {
		return errors.Wrapf(ErrNotConnected, "session is %s", s.state)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		// Closing unblocks the reader, which drives the retry.
		s.conn.Close()
		return errors.Wrap(ErrTransport, err.Error())
	}
	return nil
}

// Teardown cancels any pending retry, closes the connection and moves the
// session to Closed. Calling it again has no further effect.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.gen++
	changed := s.state != Closed
	s.state = Closed
	s.mu.Unlock()

	if changed {
		s.log.WithField("state", Closed).Info("Session torn down")
		s.notify(Closed)
	}
}

func (s *Session) startDialLocked() {
	s.state = Connecting
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DialTimeout)
	s.cancel = cancel
	go s.dial(ctx, cancel, s.gen)
}

func (s *Session) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer cancel()
	conn, err := s.opts.Dialer.Dial(ctx, s.opts.Endpoint)

	s.mu.Lock()
	if gen != s.gen || s.state != Connecting {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	s.cancel = nil
	if err != nil {
		next := s.failLocked(errors.Wrap(ErrTransport, err.Error()))
		s.mu.Unlock()
		s.notify(next)
		return
	}
	s.conn = conn
	s.state = Open
	s.attempts = 0
	s.mu.Unlock()

	s.log.WithField("state", Open).Info("Connected to solver")
	s.notify(Open)
	go s.readLoop(conn, gen)
}

func (s *Session) readLoop(conn Conn, gen uint64) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if gen != s.gen || s.conn != conn {
				s.mu.Unlock()
				return
			}
			s.conn = nil
			conn.Close()
			next := s.failLocked(errors.Wrap(ErrTransport, err.Error()))
			s.mu.Unlock()
			s.notify(next)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		s.mu.Lock()
		current := gen == s.gen
		s.mu.Unlock()
		if !current {
			return
		}
		if s.opts.OnFrame != nil {
			s.opts.OnFrame(data)
		}
	}
}

// failLocked handles a close or transport error and returns the new state.
func (s *Session) failLocked(err error) State {
	log := s.log.WithError(err).WithField("attempt", s.attempts)
	if s.attempts >= s.opts.MaxAttempts {
		s.state = Closed
		log.WithField("state", Closed).Warn("Connection lost, giving up")
		return Closed
	}

	s.attempts++
	s.state = Reconnecting
	gen := s.gen
	s.timer = s.opts.Clock.AfterFunc(s.opts.RetryDelay, func() { s.retry(gen) })
	log.WithField("state", Reconnecting).Warnf("Connection lost, retrying in %s (%d/%d)",
		s.opts.RetryDelay, s.attempts, s.opts.MaxAttempts)
	return Reconnecting
}

func (s *Session) retry(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != Reconnecting {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.startDialLocked()
	s.mu.Unlock()

	s.log.WithField("attempt", s.Attempts()).Info("Reconnecting to solver")
	s.notify(Connecting)
}

func (s *Session) notify(state State) {
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(state)
	}
}
