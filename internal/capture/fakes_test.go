package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"curiousminds/internal/models"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

// advancer is the part of clockwork's fake clock the tests drive.
type advancer interface {
	clockwork.Clock
	Advance(d time.Duration)
}

// trackedClock wraps a fake clock and counts the tickers and timers still running.
type trackedClock struct {
	advancer

	mu      sync.Mutex
	tickers []*trackedTicker
	timers  []*trackedTimer
}

func newTrackedClock() *trackedClock {
	return &trackedClock{advancer: clockwork.NewFakeClockAt(testNow)}
}

type trackedTicker struct {
	clockwork.Ticker
	mu      sync.Mutex
	stopped bool
}

func (t *trackedTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.Ticker.Stop()
}

type trackedTimer struct {
	clockwork.Timer
	mu      sync.Mutex
	stopped bool
}

func (t *trackedTimer) Stop() bool {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	return t.Timer.Stop()
}

func (c *trackedClock) NewTicker(d time.Duration) clockwork.Ticker {
	t := &trackedTicker{Ticker: c.advancer.NewTicker(d)}
	c.mu.Lock()
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()
	return t
}

func (c *trackedClock) NewTimer(d time.Duration) clockwork.Timer {
	t := &trackedTimer{Timer: c.advancer.NewTimer(d)}
	c.mu.Lock()
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return t
}

func (c *trackedClock) liveTickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tickers {
		t.mu.Lock()
		if !t.stopped {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

// pendingTimers counts timers that were never stopped.
func (c *trackedClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		t.mu.Lock()
		if !t.stopped {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

type fakeStream struct {
	mu       sync.Mutex
	ch       chan []byte
	released bool
	closed   bool
	releases int
	// linger keeps the stream open after Release until Finish, like a recorder
	// that delivers its last data after stop.
	linger bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan []byte, 256)}
}

func (s *fakeStream) Chunks() <-chan []byte { return s.ch }

func (s *fakeStream) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	s.released = true
	if !s.linger {
		s.closeLocked()
	}
}

func (s *fakeStream) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *fakeStream) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Push emits a fragment unless the stream has been closed.
func (s *fakeStream) Push(b []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.ch <- b
	return true
}

func (s *fakeStream) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *fakeStream) releaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}

type fakeMic struct {
	mu     sync.Mutex
	err    error
	gate   chan struct{}
	calls  int
	linger bool
	stream *fakeStream
}

func (m *fakeMic) Acquire(ctx context.Context) (Stream, error) {
	m.mu.Lock()
	m.calls++
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.stream = newFakeStream()
	m.stream.linger = m.linger
	return m.stream, nil
}

func (m *fakeMic) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *fakeMic) current() *fakeStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

type fakeEncoder struct {
	mu    sync.Mutex
	calls int
	last  []byte
	err   error
	gate  chan struct{}
}

func (e *fakeEncoder) Encode(mime string, data []byte) (string, error) {
	e.mu.Lock()
	e.calls++
	e.last = append([]byte(nil), data...)
	gate := e.gate
	err := e.err
	e.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return "", err
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func (e *fakeEncoder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *fakeEncoder) lastData() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

type fakePersister struct {
	mu      sync.Mutex
	records []*models.NeuralComm
}

func (p *fakePersister) SaveVoiceMessage(comm *models.NeuralComm) {
	p.mu.Lock()
	p.records = append(p.records, comm)
	p.mu.Unlock()
}

func (p *fakePersister) saved() []*models.NeuralComm {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.NeuralComm(nil), p.records...)
}

var errEncoderBroken = errors.New("encoder broken")
