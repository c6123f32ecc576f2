package lobby

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/lanlobby/internal/config"
	"github.com/cory-johannsen/lanlobby/internal/lobby/presence"
	"github.com/cory-johannsen/lanlobby/internal/protocol"
	"github.com/cory-johannsen/lanlobby/internal/transport"
)

const (
	hostAddr  = "10.0.0.1"
	guestAddr = "10.0.0.2"
	thirdAddr = "10.0.0.3"
)

// setupRoom runs scenarios 1 and 2: H hosts T0 and P joins it.
func setupRoom(t *testing.T, l *lan) (h, p *peer, token string) {
	t.Helper()
	h = l.join("host", hostAddr)
	p = l.join("guest", guestAddr)

	r, err := h.CreateRoom(context.Background())
	require.NoError(t, err)
	token = r.Token

	l.clock.Advance(500 * time.Millisecond)
	p.announceNow(t)
	h.announceNow(t)

	p.eventually(t, func(s Snapshot) bool {
		_, ok := s.Room(token)
		return ok
	}, "guest never learned the room")
	require.NoError(t, p.JoinRoom(context.Background(), token))
	p.eventually(t, func(s Snapshot) bool {
		return s.Session.RoomToken == token
	}, "guest never adopted the room")
	return h, p, token
}

func TestScenarioHostCreatesRoomAndSeesPeer(t *testing.T) {
	l := newLAN(t)
	h := l.join("host", hostAddr)
	p := l.join("guest", guestAddr)

	r, err := h.CreateRoom(context.Background())
	require.NoError(t, err)

	l.clock.Advance(500 * time.Millisecond)
	p.announceNow(t)

	h.eventually(t, func(s Snapshot) bool {
		pl, ok := s.Player(guestAddr)
		return ok && pl.Status == presence.Online && pl.Name == "guest"
	}, "host never saw the peer online")

	snap := h.Snapshot()
	got, ok := snap.Room(r.Token)
	require.True(t, ok)
	assert.False(t, got.HasGuest())
	assert.Equal(t, protocol.StatusWaiting, got.Status())
	assert.True(t, snap.Session.IsHost)
	assert.Equal(t, r.Token, snap.Session.RoomToken)

	p.eventually(t, func(s Snapshot) bool {
		return roomStatus(s, r.Token) == protocol.StatusWaiting
	}, "peer never saw the room")
}

func TestScenarioJoinMovesRoomToPreparing(t *testing.T) {
	l := newLAN(t)
	h, p, token := setupRoom(t, l)

	h.eventually(t, func(s Snapshot) bool {
		r, ok := s.Room(token)
		return ok && r.IsGuest(guestAddr) && r.Status() == protocol.StatusPreparing
	}, "host never seated the guest")

	snap := p.Snapshot()
	assert.Equal(t, token, snap.Session.RoomToken)
	assert.False(t, snap.Session.IsHost)
	assert.Empty(t, snap.Session.PendingJoin)
	assert.Equal(t, protocol.StatusPreparing, roomStatus(snap, token))
}

func TestScenarioReadyHandshakeAndStart(t *testing.T) {
	l := newLAN(t)
	h, p, token := setupRoom(t, l)
	ctx := context.Background()

	ready, err := h.ToggleReady(ctx)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, protocol.StatusPreparing, roomStatus(h.Snapshot(), token))
	assert.ErrorIs(t, h.StartGame(ctx), ErrRoomNotReady)

	p.eventually(t, func(s Snapshot) bool {
		return s.Session.OpponentReady
	}, "guest never saw host ready")

	ready, err = p.ToggleReady(ctx)
	require.NoError(t, err)
	assert.True(t, ready)

	for _, pr := range []*peer{h, p} {
		pr.eventually(t, func(s Snapshot) bool {
			return roomStatus(s, token) == protocol.StatusReadyAll
		}, "room never reached ReadyAll")
	}
	assert.ErrorIs(t, p.StartGame(ctx), ErrNotHost)

	require.NoError(t, h.StartGame(ctx))
	for _, pr := range []*peer{h, p} {
		pr.eventually(t, func(s Snapshot) bool {
			return roomStatus(s, token) == protocol.StatusInGame && s.Session.InMatch
		}, "room never reached InGame")
		ev := pr.waitEvent(t, EventMatchStarted)
		assert.Equal(t, token, ev.Token)
	}
}

func TestCommandResultVisibleInNextSnapshot(t *testing.T) {
	l := newLAN(t)
	h := l.join("host", hostAddr)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		r, err := h.CreateRoom(ctx)
		require.NoError(t, err)
		s := h.Snapshot()
		require.Equal(t, r.Token, s.Session.RoomToken, "iteration %d", i)
		_, ok := s.Room(r.Token)
		require.True(t, ok, "iteration %d", i)

		require.NoError(t, h.LeaveRoom(ctx))
		require.False(t, h.Snapshot().Session.InRoom(), "iteration %d", i)
	}

	h2, p, token := setupRoom(t, newLAN(t))
	ready, err := h2.ToggleReady(ctx)
	require.NoError(t, err)
	require.True(t, ready)
	assert.True(t, h2.Snapshot().Session.Ready)

	p.eventually(t, func(s Snapshot) bool { return s.Session.OpponentReady }, "guest never saw host ready")
	_, err = p.ToggleReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusReadyAll, roomStatus(p.Snapshot(), token))

	h2.eventually(t, func(s Snapshot) bool {
		return roomStatus(s, token) == protocol.StatusReadyAll
	}, "host never reached ReadyAll")
	require.NoError(t, h2.StartGame(ctx))
	s := h2.Snapshot()
	assert.Equal(t, protocol.StatusInGame, roomStatus(s, token))
	assert.True(t, s.Session.InMatch)
}

func TestUnreadyAfterStartAllowsRematch(t *testing.T) {
	l := newLAN(t)
	h, p, token := setupRoom(t, l)
	ctx := context.Background()

	_, err := h.ToggleReady(ctx)
	require.NoError(t, err)
	p.eventually(t, func(s Snapshot) bool { return s.Session.OpponentReady }, "guest never saw host ready")
	_, err = p.ToggleReady(ctx)
	require.NoError(t, err)
	h.eventually(t, func(s Snapshot) bool {
		return roomStatus(s, token) == protocol.StatusReadyAll
	}, "host never reached ReadyAll")
	require.NoError(t, h.StartGame(ctx))
	h.waitEvent(t, EventMatchStarted)
	p.eventually(t, func(s Snapshot) bool {
		return roomStatus(s, token) == protocol.StatusInGame && s.Session.InMatch
	}, "guest never entered the match")

	ready, err := h.ToggleReady(ctx)
	require.NoError(t, err)
	require.False(t, ready)
	s := h.Snapshot()
	assert.Equal(t, protocol.StatusPreparing, roomStatus(s, token))
	assert.False(t, s.Session.InMatch)
	p.eventually(t, func(s Snapshot) bool {
		return roomStatus(s, token) == protocol.StatusPreparing && !s.Session.InMatch
	}, "guest never left the finished match")

	ready, err = h.ToggleReady(ctx)
	require.NoError(t, err)
	require.True(t, ready)
	assert.Equal(t, protocol.StatusReadyAll, roomStatus(h.Snapshot(), token))
	p.eventually(t, func(s Snapshot) bool {
		return roomStatus(s, token) == protocol.StatusReadyAll
	}, "guest never saw the rematch ready")

	require.NoError(t, h.StartGame(ctx))
	assert.Equal(t, token, h.waitEvent(t, EventMatchStarted).Token)
	assert.True(t, h.Snapshot().Session.InMatch)
}

func TestScenarioHostCrashDissolvesRoom(t *testing.T) {
	l := newLAN(t)
	h, p, token := setupRoom(t, l)
	h.eventually(t, func(s Snapshot) bool {
		r, ok := s.Room(token)
		return ok && r.HasGuest()
	}, "host never seated the guest")

	l.isolate(hostAddr)
	l.clock.Advance(4 * time.Second)
	p.sweepNow(t)
	assert.Equal(t, token, p.Snapshot().Session.RoomToken, "host still within timeout")

	l.clock.Advance(2 * time.Second)
	p.sweepNow(t)

	snap := p.Snapshot()
	_, known := snap.Player(hostAddr)
	assert.False(t, known)
	_, ok := snap.Room(token)
	assert.False(t, ok)
	assert.Empty(t, snap.Session.RoomToken)
	assert.Equal(t, EventRoomClosed, p.waitEvent(t, EventRoomClosed).Kind)
}

func TestScenarioGuestLeaveResetsRoom(t *testing.T) {
	l := newLAN(t)
	h, p, token := setupRoom(t, l)
	ctx := context.Background()

	_, err := p.ToggleReady(ctx)
	require.NoError(t, err)
	h.eventually(t, func(s Snapshot) bool {
		r, ok := s.Room(token)
		return ok && r.GuestReady
	}, "host never saw guest ready")

	require.NoError(t, p.LeaveRoom(ctx))

	h.eventually(t, func(s Snapshot) bool {
		r, ok := s.Room(token)
		return ok && !r.HasGuest() && !r.GuestReady && r.Status() == protocol.StatusWaiting
	}, "host room never reset")
	p.eventually(t, func(s Snapshot) bool {
		r, ok := s.Room(token)
		return ok && !r.HasGuest() && r.Status() == protocol.StatusWaiting
	}, "guest view never reset")

	snap := p.Snapshot()
	assert.Empty(t, snap.Session.RoomToken)
	assert.False(t, snap.Session.Ready)
	assert.True(t, h.Snapshot().Session.IsHost)
}

func TestHostLeaveDissolvesRoomForGuest(t *testing.T) {
	l := newLAN(t)
	h, p, token := setupRoom(t, l)

	require.NoError(t, h.LeaveRoom(context.Background()))

	p.eventually(t, func(s Snapshot) bool {
		_, ok := s.Room(token)
		return !ok && s.Session.RoomToken == ""
	}, "guest still in dissolved room")
	assert.Equal(t, token, p.waitEvent(t, EventRoomClosed).Token)
	_, ok := h.Snapshot().Room(token)
	assert.False(t, ok)
}

func TestShutdownLeavesRoom(t *testing.T) {
	l := newLAN(t)
	h, p, token := setupRoom(t, l)

	h.stop()
	require.NoError(t, h.runErr)

	p.eventually(t, func(s Snapshot) bool {
		_, ok := s.Room(token)
		return !ok && s.Session.RoomToken == ""
	}, "guest still in room after host shutdown")
}

func TestConcurrentJoinsSeatExactlyOne(t *testing.T) {
	l := newLAN(t)
	h := l.join("host", hostAddr)
	p1 := l.join("p1", guestAddr)
	p2 := l.join("p2", thirdAddr)

	r, err := h.CreateRoom(context.Background())
	require.NoError(t, err)
	for _, p := range []*peer{p1, p2} {
		p.eventually(t, func(s Snapshot) bool {
			_, ok := s.Room(r.Token)
			return ok
		}, "peer never learned the room")
	}

	// Hold the host's loop so both requests are in flight before either is handled.
	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = h.submit(context.Background(), func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	var wg sync.WaitGroup
	for _, p := range []*peer{p1, p2} {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.JoinRoom(context.Background(), r.Token))
		}()
	}
	wg.Wait()
	close(release)

	h.eventually(t, func(s Snapshot) bool {
		got, ok := s.Room(r.Token)
		return ok && got.HasGuest()
	}, "nobody was seated")
	seated, _ := h.Snapshot().Room(r.Token)

	winner, loser := p1, p2
	if seated.IsGuest(thirdAddr) {
		winner, loser = p2, p1
	}
	winner.eventually(t, func(s Snapshot) bool {
		return s.Session.RoomToken == r.Token
	}, "winner never adopted the room")

	// Once the loser has seen the seated snapshot its state must be unchanged.
	h.announceNow(t)
	loser.eventually(t, func(s Snapshot) bool {
		got, ok := s.Room(r.Token)
		return ok && got.IsGuest(winner.addr)
	}, "loser never saw the seated room")
	snap := loser.Snapshot()
	assert.Empty(t, snap.Session.RoomToken)
	assert.Equal(t, r.Token, snap.Session.PendingJoin)
	assert.False(t, snap.Session.Ready)
}

func TestTelemetryAndResultRelay(t *testing.T) {
	l := newLAN(t)
	h, p, token := setupRoom(t, l)
	ctx := context.Background()

	require.NoError(t, h.RelayMatchTelemetry(ctx, 1200, 7))
	ev := p.waitEvent(t, EventOpponentProgress)
	assert.Equal(t, token, ev.Token)
	assert.Equal(t, int64(1200), ev.Score)
	assert.Equal(t, int64(7), ev.MovesLeft)
	p.eventually(t, func(s Snapshot) bool {
		return s.Session.OpponentScore == 1200 && s.Session.OpponentMovesLeft == 7
	}, "guest never stored opponent progress")

	require.NoError(t, p.ReportResult(ctx, true))
	res := h.waitEvent(t, EventOpponentResult)
	assert.True(t, res.IsWinner)
	h.eventually(t, func(s Snapshot) bool {
		return s.Session.OpponentResult == ResultWon
	}, "host never stored opponent result")
}

func TestCommandPreconditions(t *testing.T) {
	l := newLAN(t)
	h := l.join("host", hostAddr)
	ctx := context.Background()

	_, err := h.ToggleReady(ctx)
	assert.ErrorIs(t, err, ErrNotInRoom)
	assert.ErrorIs(t, h.LeaveRoom(ctx), ErrNotInRoom)
	assert.ErrorIs(t, h.StartGame(ctx), ErrNotInRoom)
	assert.ErrorIs(t, h.RelayMatchTelemetry(ctx, 1, 1), ErrNotInRoom)
	assert.ErrorIs(t, h.ReportResult(ctx, false), ErrNotInRoom)
	assert.ErrorIs(t, h.JoinRoom(ctx, "nope"), ErrUnknownRoom)

	r, err := h.CreateRoom(ctx)
	require.NoError(t, err)
	_, err = h.CreateRoom(ctx)
	assert.ErrorIs(t, err, ErrAlreadyInRoom)
	assert.ErrorIs(t, h.JoinRoom(ctx, r.Token), ErrAlreadyInRoom)
	assert.ErrorIs(t, h.StartGame(ctx), ErrRoomNotReady)
}

func TestJoinFullRoomRefusedLocally(t *testing.T) {
	l := newLAN(t)
	p := l.join("guest", guestAddr)

	p.inject(t, hostAddr, protocol.Room{
		Token: "T0", HostName: "host", HostAddress: hostAddr,
		GuestName: "other", GuestAddress: thirdAddr, Status: protocol.StatusPreparing,
	})
	assert.ErrorIs(t, p.JoinRoom(context.Background(), "T0"), ErrRoomFull)
	assert.Empty(t, p.Snapshot().Session.PendingJoin)
}

func TestLeaveAbandonsPendingJoin(t *testing.T) {
	l := newLAN(t)
	p := l.join("guest", guestAddr)
	p.inject(t, hostAddr, protocol.Room{Token: "T0", HostAddress: hostAddr})

	require.NoError(t, p.JoinRoom(context.Background(), "T0"))
	assert.Equal(t, "T0", p.Snapshot().Session.PendingJoin)
	require.NoError(t, p.LeaveRoom(context.Background()))
	assert.Empty(t, p.Snapshot().Session.PendingJoin)

	// A late acceptance no longer pulls the peer into the room.
	p.inject(t, hostAddr, protocol.Room{
		Token: "T0", HostAddress: hostAddr, GuestAddress: guestAddr,
		Status: protocol.StatusPreparing,
	})
	assert.Empty(t, p.Snapshot().Session.RoomToken)
}

func TestOwnPresenceEchoIgnored(t *testing.T) {
	l := newLAN(t)
	h := l.join("host", hostAddr)

	h.announceNow(t)
	h.inject(t, "10.0.0.50", protocol.Presence{Name: "spoof", Address: hostAddr})
	h.inject(t, "10.0.0.50", protocol.Presence{Name: "x", Address: "10.0.0.50"})

	snap := h.Snapshot()
	_, self := snap.Player(hostAddr)
	assert.False(t, self)
	_, other := snap.Player("10.0.0.50")
	assert.True(t, other)
}

func TestOwnReadyFlagIsReconciled(t *testing.T) {
	l := newLAN(t)
	h, p, token := setupRoom(t, l)

	_, err := p.ToggleReady(context.Background())
	require.NoError(t, err)

	// A reordered snapshot still carrying guest_ready=false arrives late.
	p.inject(t, hostAddr, protocol.Room{
		Token: token, HostName: "host", HostAddress: hostAddr,
		GuestName: "guest", GuestAddress: guestAddr, Status: protocol.StatusPreparing,
	})

	r, ok := p.Snapshot().Room(token)
	require.True(t, ok)
	assert.True(t, r.GuestReady)
	h.eventually(t, func(s Snapshot) bool {
		got, ok := s.Room(token)
		return ok && got.GuestReady
	}, "host never received the corrected snapshot")
}

func TestSequencedSnapshotsRejectOlder(t *testing.T) {
	l := newLAN(t)
	p := l.join("guest", guestAddr, func(c *config.LobbyConfig) { c.SequencedSnapshots = true })

	p.inject(t, hostAddr, protocol.Room{Token: "T0", HostAddress: hostAddr, HostReady: true, Seq: 3})
	p.inject(t, hostAddr, protocol.Room{Token: "T0", HostAddress: hostAddr, Seq: 2})

	r, ok := p.Snapshot().Room("T0")
	require.True(t, ok)
	assert.True(t, r.HostReady)
	assert.Equal(t, uint64(3), r.Seq)
}

func TestUnsequencedSnapshotsAreLastWriterWins(t *testing.T) {
	l := newLAN(t)
	p := l.join("guest", guestAddr)

	p.inject(t, hostAddr, protocol.Room{Token: "T0", HostAddress: hostAddr, HostReady: true, Seq: 3})
	p.inject(t, hostAddr, protocol.Room{Token: "T0", HostAddress: hostAddr, Seq: 2})

	r, _ := p.Snapshot().Room("T0")
	assert.False(t, r.HostReady)
}

func TestStartGameFromNonHostIgnored(t *testing.T) {
	l := newLAN(t)
	_, p, token := setupRoom(t, l)

	p.inject(t, thirdAddr, protocol.StartGame{Token: token, HostAddress: thirdAddr})
	assert.NotEqual(t, protocol.StatusInGame, roomStatus(p.Snapshot(), token))
	assert.False(t, p.Snapshot().Session.InMatch)
}

func TestSweepEmptyRoomTimeout(t *testing.T) {
	l := newLAN(t)
	p := l.join("guest", guestAddr)

	p.inject(t, "10.0.0.9", protocol.Presence{Name: "far", Address: "10.0.0.9"})
	p.inject(t, "10.0.0.9", protocol.Room{Token: "T9", HostAddress: "10.0.0.9"})

	l.clock.Advance(31 * time.Second)
	p.inject(t, "10.0.0.9", protocol.Presence{Name: "far", Address: "10.0.0.9"})
	p.sweepNow(t)

	snap := p.Snapshot()
	_, ok := snap.Room("T9")
	assert.False(t, ok)
	_, present := snap.Player("10.0.0.9")
	assert.True(t, present)
}

func TestSweepKeepsOwnEmptyRoom(t *testing.T) {
	l := newLAN(t)
	h := l.join("host", hostAddr)
	r, err := h.CreateRoom(context.Background())
	require.NoError(t, err)

	l.clock.Advance(time.Minute)
	h.sweepNow(t)

	_, ok := h.Snapshot().Room(r.Token)
	assert.True(t, ok)
	assert.Equal(t, r.Token, h.Snapshot().Session.RoomToken)
}

func TestSweepFreesSeatOfStaleGuest(t *testing.T) {
	l := newLAN(t)
	h, _, token := setupRoom(t, l)
	h.eventually(t, func(s Snapshot) bool {
		r, ok := s.Room(token)
		return ok && r.HasGuest()
	}, "host never seated the guest")

	l.isolate(guestAddr)
	l.clock.Advance(6 * time.Second)
	h.sweepNow(t)

	r, ok := h.Snapshot().Room(token)
	require.True(t, ok)
	assert.False(t, r.HasGuest())
	assert.Equal(t, protocol.StatusWaiting, r.Status())
}

func TestCommandsAfterStopReturnErrStopped(t *testing.T) {
	l := newLAN(t)
	h := l.join("host", hostAddr)
	h.stop()

	_, err := h.CreateRoom(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	// Snapshot survives the coordinator.
	assert.Equal(t, hostAddr, h.Snapshot().Session.PlayerAddress)
}

func TestCommandHonoursContextBeforeRun(t *testing.T) {
	network := transport.NewMemoryNetwork()
	conn, err := network.Attach(hostAddr, 8)
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)
	c := New(testConfig("host"), transport.New(conn, logger), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.CreateRoom(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	c.Stop()
	assert.ErrorIs(t, c.Run(context.Background()), ErrStopped)
}

func TestRunTwiceFails(t *testing.T) {
	l := newLAN(t)
	h := l.join("host", hostAddr)
	h.announceNow(t) // Run is live once a command has been served.
	assert.Error(t, h.Run(context.Background()))
}

func TestEventsDropWhenBufferFull(t *testing.T) {
	network := transport.NewMemoryNetwork()
	conn, err := network.Attach(hostAddr, 8)
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)
	cfg := testConfig("host")
	cfg.EventBuffer = 1
	c := New(cfg, transport.New(conn, logger), logger)

	c.emit(Event{Kind: EventOpponentProgress, Score: 1})
	c.emit(Event{Kind: EventOpponentProgress, Score: 2})

	ev := <-c.Events()
	assert.Equal(t, int64(1), ev.Score)
	select {
	case <-c.Events():
		t.Fatal("second event should have been dropped")
	default:
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	l := newLAN(t)
	h := l.join("host", hostAddr)
	h.inject(t, guestAddr, protocol.Presence{Name: "guest", Address: guestAddr})

	snap := h.Snapshot()
	require.Len(t, snap.Players, 1)
	snap.Players[0].Name = "mutated"

	again := h.Snapshot()
	assert.Equal(t, "guest", again.Players[0].Name)
}

func TestEventKindAndResultStrings(t *testing.T) {
	assert.Equal(t, "match_started", EventMatchStarted.String())
	assert.Equal(t, "room_closed", EventRoomClosed.String())
	assert.Equal(t, "unknown", EventKind(0).String())
	assert.Equal(t, "won", ResultWon.String())
	assert.Equal(t, "lost", ResultLost.String())
	assert.Equal(t, "unknown", ResultUnknown.String())
}
