// Package lobby runs the LAN matchmaking core: it tracks peers and rooms,
// owns the local session, and drives the ready/start handshake.
//
// All lobby state is owned by a single goroutine (the coordinator loop).
// Inbound datagrams, timer ticks and local commands are funnelled onto it,
// so no lock guards the players, rooms or session. Readers get immutable
// Snapshot copies.
//
// Delivery is best-effort. The lobby does not guarantee delivery, does not
// authenticate peers, and does not order updates: room snapshots are merged
// last-writer-wins by arrival.
package lobby

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cory-johannsen/lanlobby/internal/config"
	"github.com/cory-johannsen/lanlobby/internal/lobby/presence"
	"github.com/cory-johannsen/lanlobby/internal/lobby/room"
	"github.com/cory-johannsen/lanlobby/internal/protocol"
	"github.com/cory-johannsen/lanlobby/internal/transport"
)

// Transport is the datagram layer the coordinator sends and receives on.
type Transport interface {
	Send(msg protocol.Message, dest transport.Destination) error
	ReceiveLoop(ctx context.Context, out chan<- transport.Inbound) error
	LocalAddr() string
	Close() error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator is the lobby's single-writer state owner.
type Coordinator struct {
	cfg       config.LobbyConfig
	transport Transport
	logger    *zap.Logger
	now       func() time.Time

	players *presence.Tracker
	rooms   *room.Directory
	session LocalSession

	inbox    chan transport.Inbound
	commands chan func()
	events   chan Event
	snapshot atomic.Pointer[Snapshot]

	running  atomic.Bool
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a Coordinator for the peer reachable at tr.LocalAddr().
//
// Precondition: cfg must have passed config validation; tr and logger must be non-nil.
// Postcondition: The Coordinator is idle until Run is called.
func New(cfg config.LobbyConfig, tr Transport, logger *zap.Logger, opts ...Option) *Coordinator {
	name := cfg.PlayerName
	if name == "" {
		name = tr.LocalAddr()
	}
	c := &Coordinator{
		cfg:       cfg,
		transport: tr,
		now:       time.Now,
		players:   presence.NewTracker(),
		rooms:     room.NewDirectory(room.WithSequencing(cfg.SequencedSnapshots)),
		session: LocalSession{
			PlayerName:    name,
			PlayerAddress: tr.LocalAddr(),
		},
		inbox:    make(chan transport.Inbound, cfg.InboxSize),
		commands: make(chan func()),
		events:   make(chan Event, cfg.EventBuffer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.Named("lobby").With(
		zap.String("player", name),
		zap.String("addr", c.session.PlayerAddress),
	)
	c.publish()
	return c
}

// Events returns the notification channel. Events are dropped when the
// buffer is full; Snapshot remains authoritative.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// Snapshot returns the most recent consistent copy of the lobby state. It
// never blocks and remains valid after the coordinator stops.
func (c *Coordinator) Snapshot() Snapshot {
	s := *c.snapshot.Load()
	s.Players = slices.Clone(s.Players)
	s.Rooms = slices.Clone(s.Rooms)
	return s
}

// Run starts the receive loop and the coordinator loop and blocks until ctx
// is cancelled, Stop is called, or the receive loop fails.
//
// On the way out the occupied room is left (best effort) and the transport is
// closed, which ends the receive loop.
//
// Precondition: Run is called at most once.
// Postcondition: The transport is closed and every pending command returns ErrStopped.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("coordinator already running")
	}
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return ErrStopped
	default:
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	c.logger.Info("lobby started")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.transport.ReceiveLoop(gctx, c.inbox)
	})
	g.Go(func() error {
		defer c.doneOnce.Do(func() { close(c.done) })
		defer func() {
			if err := c.transport.Close(); err != nil {
				c.logger.Warn("closing transport", zap.Error(err))
			}
		}()
		c.loop(gctx)
		return nil
	})
	err := g.Wait()
	c.logger.Info("lobby stopped")
	return err
}

// Stop ends Run. Safe to call before Run and more than once.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		return
	}
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Coordinator) loop(ctx context.Context) {
	presenceTicker := time.NewTicker(c.cfg.PresenceInterval)
	defer presenceTicker.Stop()
	sweepTicker := time.NewTicker(c.cfg.SweepInterval)
	defer sweepTicker.Stop()

	c.announce()
	for {
		select {
		case <-ctx.Done():
			c.farewell()
			c.publish()
			return
		case in := <-c.inbox:
			c.dispatch(in)
		case cmd := <-c.commands:
			cmd()
		case <-presenceTicker.C:
			c.announce()
		case <-sweepTicker.C:
			c.sweep()
		}
		c.publish()
	}
}

// submit runs fn on the coordinator loop and returns its error. The snapshot
// is published before submit returns, so a caller polling right after a
// command sees its effect.
func (c *Coordinator) submit(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case c.commands <- func() {
		err := fn()
		c.publish()
		errCh <- err
	}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
	return <-errCh
}

func (c *Coordinator) publish() {
	snap := &Snapshot{
		TakenAt: c.now(),
		Players: c.players.Snapshot(),
		Rooms:   c.rooms.Snapshot(),
		Session: c.session,
	}
	c.snapshot.Store(snap)
}

func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Debug("event buffer full, dropping event", zap.Stringer("event", ev.Kind))
	}
}

func (c *Coordinator) self() room.Member {
	return room.Member{Name: c.session.PlayerName, Address: c.session.PlayerAddress}
}

// send logs and swallows transport errors: a lost datagram and a failed send
// look the same to peers.
func (c *Coordinator) send(msg protocol.Message, dest transport.Destination) {
	if err := c.transport.Send(msg, dest); err != nil {
		c.logger.Warn("send failed",
			zap.Stringer("kind", msg.Kind()),
			zap.Stringer("dest", dest),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) broadcastRoom(r room.Room) {
	c.send(r.ToMessage(), transport.Broadcast())
}

// announce broadcasts presence and re-announces the room the local peer hosts.
func (c *Coordinator) announce() {
	c.send(protocol.Presence{Name: c.session.PlayerName, Address: c.session.PlayerAddress}, transport.Broadcast())
	if !c.session.IsHost {
		return
	}
	if r, ok := c.rooms.Get(c.session.RoomToken); ok {
		c.broadcastRoom(r)
	}
}

func (c *Coordinator) farewell() {
	if !c.session.InRoom() {
		return
	}
	c.leave()
}
