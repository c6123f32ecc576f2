package lobby

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/lanlobby/internal/config"
	"github.com/cory-johannsen/lanlobby/internal/protocol"
	"github.com/cory-johannsen/lanlobby/internal/transport"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// testConfig disables the timers; tests drive announcements and sweeps by hand.
func testConfig(name string) config.LobbyConfig {
	return config.LobbyConfig{
		PlayerName:       name,
		PresenceInterval: time.Hour,
		SweepInterval:    time.Hour,
		PlayerTimeout:    5 * time.Second,
		EmptyRoomTimeout: 30 * time.Second,
		InboxSize:        64,
		EventBuffer:      16,
	}
}

type peer struct {
	*Coordinator
	addr     string
	cancel   context.CancelFunc
	done     chan error
	stopOnce sync.Once
	runErr   error
}

type lan struct {
	t       *testing.T
	network *transport.MemoryNetwork
	clock   *fakeClock
}

func newLAN(t *testing.T) *lan {
	return &lan{t: t, network: transport.NewMemoryNetwork(), clock: newFakeClock()}
}

func (l *lan) join(name, addr string, mutate ...func(*config.LobbyConfig)) *peer {
	l.t.Helper()
	conn, err := l.network.Attach(addr, 256)
	require.NoError(l.t, err)

	cfg := testConfig(name)
	for _, m := range mutate {
		m(&cfg)
	}
	logger := zaptest.NewLogger(l.t)
	c := New(cfg, transport.New(conn, logger), logger, WithClock(l.clock.Now))

	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{Coordinator: c, addr: addr, cancel: cancel, done: make(chan error, 1)}
	go func() { p.done <- c.Run(ctx) }()
	l.t.Cleanup(p.stop)
	return p
}

// isolate drops every datagram from or to addr, as if its host vanished.
func (l *lan) isolate(addr string) {
	l.network.SetFilter(func(from, to string, _ []byte) bool {
		return from != addr && to != addr
	})
}

func (p *peer) stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.runErr = <-p.done
	})
}

func (p *peer) do(t *testing.T, fn func()) {
	t.Helper()
	err := p.submit(context.Background(), func() error {
		fn()
		return nil
	})
	require.NoError(t, err)
}

func (p *peer) announceNow(t *testing.T) {
	t.Helper()
	p.do(t, p.announce)
}

func (p *peer) sweepNow(t *testing.T) {
	t.Helper()
	p.do(t, p.sweep)
}

func (p *peer) inject(t *testing.T, from string, msg protocol.Message) {
	t.Helper()
	p.do(t, func() { p.dispatch(transport.Inbound{Message: msg, From: from}) })
}

func (p *peer) eventually(t *testing.T, cond func(s Snapshot) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(p.Snapshot()) }, 2*time.Second, 5*time.Millisecond, msg)
}

func (p *peer) waitEvent(t *testing.T, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-p.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", kind)
			return Event{}
		}
	}
}

func roomStatus(s Snapshot, token string) protocol.RoomStatus {
	r, ok := s.Room(token)
	if !ok {
		return protocol.RoomStatus(255)
	}
	return r.Status()
}
