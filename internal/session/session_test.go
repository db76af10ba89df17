package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testEndpoint = "ws://solver.test/ws/solve"
	waitFor      = 2 * time.Second
	tick         = 5 * time.Millisecond
)

var errRefused = errors.New("connection refused")

type mockDialer struct {
	mock.Mock
}

func (d *mockDialer) Dial(ctx context.Context, url string) (Conn, error) {
	args := d.Called(ctx, url)
	conn, _ := args.Get(0).(Conn)
	return conn, args.Error(1)
}

// fakeConn delivers queued frames until closed.
type fakeConn struct {
	frames  chan []byte
	closed  chan struct{}
	once    sync.Once
	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.frames:
		return websocket.TextMessage, f, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

// manualClock records timers and fires them only when asked.
type manualClock struct {
	mu        sync.Mutex
	pending   []*manualTimer
	scheduled []time.Duration
}

type manualTimer struct {
	clock *manualClock
	f     func()
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, f: f}
	c.pending = append(c.pending, t)
	c.scheduled = append(c.scheduled, d)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	for i, p := range t.clock.pending {
		if p == t {
			t.clock.pending = append(t.clock.pending[:i], t.clock.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Fire runs the oldest pending timer on the calling goroutine.
func (c *manualClock) Fire() bool {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return false
	}
	t := c.pending[0]
	c.pending = c.pending[1:]
	c.mu.Unlock()
	t.f()
	return true
}

func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *manualClock) Scheduled() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.scheduled...)
}

func newTestSession(d Dialer, clock Clock, onFrame func([]byte)) *Session {
	log, _ := test.NewNullLogger()
	return New(Options{
		Endpoint:    testEndpoint,
		MaxAttempts: 5,
		RetryDelay:  3 * time.Second,
		Dialer:      d,
		Clock:       clock,
		Logger:      log,
		OnFrame:     onFrame,
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "reconnecting", Reconnecting.String())
	text, err := Closed.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "closed", string(text))
}

func TestSendBeforeConnect(t *testing.T) {
	s := newTestSession(&mockDialer{}, &manualClock{}, nil)

	err := s.Send(map[string]int{"m": 1})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, Idle, s.State())
}

func TestRetriesExhaustToClosed(t *testing.T) {
	dialer := &mockDialer{}
	dialer.On("Dial", mock.Anything, testEndpoint).Return(nil, errRefused)
	clock := &manualClock{}
	s := newTestSession(dialer, clock, nil)

	s.Connect()
	for attempt := 1; attempt <= 5; attempt++ {
		require.Eventually(t, func() bool { return clock.Pending() == 1 }, waitFor, tick)
		assert.Equal(t, Reconnecting, s.State())
		assert.Equal(t, attempt, s.Attempts())
		assert.True(t, s.PendingRetry())
		require.True(t, clock.Fire())
	}

	require.Eventually(t, func() bool { return s.State() == Closed }, waitFor, tick)
	assert.Equal(t, 0, clock.Pending())
	assert.False(t, s.PendingRetry())
	assert.Equal(t, 5, s.Attempts())
	assert.Len(t, clock.Scheduled(), 5)
	for _, d := range clock.Scheduled() {
		assert.Equal(t, 3*time.Second, d)
	}
	dialer.AssertNumberOfCalls(t, "Dial", 6)
}

func TestConnectAfterExhaustedRetriesStartsNewBudget(t *testing.T) {
	dialer := &mockDialer{}
	dialer.On("Dial", mock.Anything, testEndpoint).Return(nil, errRefused)
	clock := &manualClock{}
	s := newTestSession(dialer, clock, nil)

	s.Connect()
	for attempt := 1; attempt <= 5; attempt++ {
		require.Eventually(t, func() bool { return clock.Pending() == 1 }, waitFor, tick)
		require.True(t, clock.Fire())
	}
	require.Eventually(t, func() bool { return s.State() == Closed }, waitFor, tick)
	dialer.AssertNumberOfCalls(t, "Dial", 6)

	s.Connect()
	require.Eventually(t, func() bool { return clock.Pending() == 1 }, waitFor, tick)
	assert.Equal(t, Reconnecting, s.State())
	assert.Equal(t, 1, s.Attempts())
	assert.True(t, s.PendingRetry())
	dialer.AssertNumberOfCalls(t, "Dial", 7)

	s.Teardown()
	assert.Equal(t, 0, clock.Pending())
}

func TestSuccessfulOpenResetsAttempts(t *testing.T) {
	conn := newFakeConn()
	dialer := &mockDialer{}
	dialer.On("Dial", mock.Anything, testEndpoint).Return(nil, errRefused).Twice()
	dialer.On("Dial", mock.Anything, testEndpoint).Return(conn, nil).Once()
	clock := &manualClock{}
	s := newTestSession(dialer, clock, nil)

	s.Connect()
	for i := 0; i < 2; i++ {
		require.Eventually(t, func() bool { return clock.Pending() == 1 }, waitFor, tick)
		require.True(t, clock.Fire())
	}

	require.Eventually(t, func() bool { return s.State() == Open }, waitFor, tick)
	assert.Equal(t, 0, s.Attempts())
	assert.False(t, s.PendingRetry())
	dialer.AssertExpectations(t)

	s.Teardown()
}

func TestConnectIsNoOpWhileActive(t *testing.T) {
	conn := newFakeConn()
	dialer := &mockDialer{}
	dialer.On("Dial", mock.Anything, testEndpoint).Return(conn, nil)
	s := newTestSession(dialer, &manualClock{}, nil)

	s.Connect()
	require.Eventually(t, func() bool { return s.State() == Open }, waitFor, tick)
	s.Connect()
	s.Connect()

	dialer.AssertNumberOfCalls(t, "Dial", 1)
	s.Teardown()
}

func TestFramesAndSend(t *testing.T) {
	conn := newFakeConn()
	dialer := &mockDialer{}
	dialer.On("Dial", mock.Anything, testEndpoint).Return(conn, nil)

	var mu sync.Mutex
	var got []string
	s := newTestSession(dialer, &manualClock{}, func(frame []byte) {
		mu.Lock()
		got = append(got, string(frame))
		mu.Unlock()
	})

	s.Connect()
	require.Eventually(t, func() bool { return s.State() == Open }, waitFor, tick)

	conn.frames <- []byte(`{"type":"iteration"}`)
	conn.frames <- []byte(`{"type":"result"}`)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, waitFor, tick)
	assert.Equal(t, []string{`{"type":"iteration"}`, `{"type":"result"}`}, got)

	require.NoError(t, s.Send(map[string]int{"m": 3}))
	assert.Equal(t, [][]byte{[]byte(`{"m":3}`)}, conn.Written())

	s.Teardown()
}

func TestCloseWhileOpenSchedulesRetry(t *testing.T) {
	conn := newFakeConn()
	dialer := &mockDialer{}
	dialer.On("Dial", mock.Anything, testEndpoint).Return(conn, nil).Once()
	dialer.On("Dial", mock.Anything, testEndpoint).Return(nil, errRefused)
	clock := &manualClock{}
	s := newTestSession(dialer, clock, nil)

	s.Connect()
	require.Eventually(t, func() bool { return s.State() == Open }, waitFor, tick)

	conn.Close()
	require.Eventually(t, func() bool { return s.State() == Reconnecting }, waitFor, tick)
	assert.Equal(t, 1, s.Attempts())
	assert.Equal(t, 1, clock.Pending())
	assert.ErrorIs(t, s.Send("late"), ErrNotConnected)

	s.Teardown()
}

func TestTeardownCancelsPendingRetry(t *testing.T) {
	dialer := &mockDialer{}
	dialer.On("Dial", mock.Anything, testEndpoint).Return(nil, errRefused)
	clock := &manualClock{}
	s := newTestSession(dialer, clock, nil)

	s.Connect()
	require.Eventually(t, func() bool { return clock.Pending() == 1 }, waitFor, tick)
	clock.mu.Lock()
	leaked := clock.pending[0]
	clock.mu.Unlock()

	s.Teardown()
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, 0, clock.Pending())
	assert.False(t, s.PendingRetry())

	// A callback that raced past Stop must not dial again.
	leaked.f()
	assert.Equal(t, Closed, s.State())
	dialer.AssertNumberOfCalls(t, "Dial", 1)

	s.Teardown()
	assert.Equal(t, Closed, s.State())
}

func TestReconnectAfterClosed(t *testing.T) {
	dialer := &mockDialer{}
	dialer.On("Dial", mock.Anything, testEndpoint).Return(newFakeConn(), nil).Once()
	dialer.On("Dial", mock.Anything, testEndpoint).Return(newFakeConn(), nil).Once()
	s := newTestSession(dialer, &manualClock{}, nil)

	s.Connect()
	require.Eventually(t, func() bool { return s.State() == Open }, waitFor, tick)
	s.Teardown()
	require.Equal(t, Closed, s.State())

	s.Connect()
	require.Eventually(t, func() bool { return s.State() == Open }, waitFor, tick)
	dialer.AssertNumberOfCalls(t, "Dial", 2)
	s.Teardown()
}

func TestStateChangeCallback(t *testing.T) {
	dialer := &mockDialer{}
	dialer.On("Dial", mock.Anything, testEndpoint).Return(nil, errRefused)
	log, _ := test.NewNullLogger()

	var mu sync.Mutex
	var states []State
	s := New(Options{
		Endpoint:    testEndpoint,
		MaxAttempts: -1,
		Dialer:      dialer,
		Clock:       &manualClock{},
		Logger:      log,
		OnStateChange: func(st State) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		},
	})

	s.Connect()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 2
	}, waitFor, tick)
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []State{Connecting, Closed}, states)
	assert.Equal(t, Closed, s.State())
}

func TestWebsocketRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, data)
	}))
	defer srv.Close()

	received := make(chan []byte, 1)
	clock := &manualClock{}
	log, _ := test.NewNullLogger()
	s := New(Options{
		Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/solve",
		Clock:    clock,
		Logger:   log,
		OnFrame:  func(frame []byte) { received <- frame },
	})
	defer s.Teardown()

	s.Connect()
	require.Eventually(t, func() bool { return s.State() == Open }, waitFor, tick)
	require.NoError(t, s.Send(map[string]string{"type": "ping"}))

	select {
	case frame := <-received:
		assert.JSONEq(t, `{"type":"ping"}`, string(frame))
	case <-time.After(waitFor):
		t.Fatal("Expected echoed frame")
	}

	// The server hangs up after one echo.
	require.Eventually(t, func() bool { return s.State() == Reconnecting }, waitFor, tick)
	assert.Equal(t, 1, clock.Pending())
}
