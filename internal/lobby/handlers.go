package lobby

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/lanlobby/internal/lobby/room"
	"github.com/cory-johannsen/lanlobby/internal/protocol"
	"github.com/cory-johannsen/lanlobby/internal/transport"
)

// dispatch routes one inbound message. Datagrams looped back from the local
// socket are ignored; every local mutation is already applied.
func (c *Coordinator) dispatch(in transport.Inbound) {
	if in.From == c.session.PlayerAddress {
		return
	}
	switch m := in.Message.(type) {
	case protocol.Presence:
		c.handlePresence(m)
	case protocol.Room:
		c.handleRoom(m)
	case protocol.JoinRequest:
		c.handleJoinRequest(m)
	case protocol.ReadyState:
		c.handleReadyState(m)
	case protocol.LeaveRoom:
		c.handleLeave(m)
	case protocol.StartGame:
		c.handleStartGame(m)
	case protocol.GameState:
		c.handleGameState(m)
	case protocol.GameResult:
		c.handleGameResult(m)
	default:
		c.logger.Debug("ignoring message", zap.String("type", protocolKind(in.Message)))
	}
}

func protocolKind(m protocol.Message) string {
	if m == nil {
		return "nil"
	}
	return m.Kind().String()
}

func (c *Coordinator) handlePresence(m protocol.Presence) {
	if m.Address == c.session.PlayerAddress {
		return
	}
	if c.players.Observe(m.Name, m.Address, c.now()) {
		c.logger.Info("player online", zap.String("name", m.Name), zap.String("peer", m.Address))
	}
}

func (c *Coordinator) handleRoom(m protocol.Room) {
	r, applied := c.rooms.Merge(m, c.now())
	if !applied {
		c.logger.Debug("stale room snapshot rejected",
			zap.String("room", m.Token),
			zap.Uint64("seq", m.Seq),
			zap.Uint64("stored_seq", r.Seq),
		)
		return
	}

	self := c.session.PlayerAddress
	switch {
	case c.session.RoomToken == r.Token:
		c.syncOccupiedRoom(r)
	case c.session.PendingJoin == r.Token && r.IsGuest(self):
		c.session.PendingJoin = ""
		c.session.RoomToken = r.Token
		c.session.IsHost = false
		c.session.clearOpponentTelemetry()
		c.logger.Info("joined room", zap.String("room", r.Token), zap.String("host", r.Host.Address))
		c.syncOccupiedRoom(r)
	}
}

// syncOccupiedRoom reconciles the local session with a freshly merged
// snapshot of the occupied room. The local peer is the only writer of its own
// ready flag, so a snapshot carrying a stale value is corrected and
// re-broadcast.
func (c *Coordinator) syncOccupiedRoom(r room.Room) {
	self := c.session.PlayerAddress
	if !r.IsHost(self) && !r.IsGuest(self) {
		return
	}
	ownFlag := r.GuestReady
	if r.IsHost(self) {
		ownFlag = r.HostReady
	}
	if ownFlag != c.session.Ready {
		fixed, err := c.rooms.SetReady(r.Token, self, c.session.Ready, c.now())
		if err == nil {
			r = fixed
			c.broadcastRoom(r)
		}
	}
	if r.IsHost(self) {
		c.session.OpponentReady = r.GuestReady
	} else {
		c.session.OpponentReady = r.HostReady
	}
	c.noteStarted(r)
}

// noteStarted signals the game layer once per match, whichever of start_game
// or an InGame snapshot arrives first.
func (c *Coordinator) noteStarted(r room.Room) {
	if r.Token != c.session.RoomToken {
		return
	}
	if !r.Started {
		c.session.InMatch = false
		return
	}
	if c.session.InMatch {
		return
	}
	c.session.InMatch = true
	c.session.clearOpponentTelemetry()
	c.logger.Info("match started", zap.String("room", r.Token))
	c.emit(Event{Kind: EventMatchStarted, Token: r.Token})
}

func (c *Coordinator) handleJoinRequest(m protocol.JoinRequest) {
	r, ok := c.rooms.Get(m.Token)
	if !ok || !r.IsHost(c.session.PlayerAddress) || c.session.RoomToken != m.Token {
		return
	}
	// A join request is as good a sign of life as a presence announcement.
	c.players.Observe(m.PlayerName, m.PlayerAddress, c.now())
	r, err := c.rooms.HandleJoin(m.Token, room.Member{Name: m.PlayerName, Address: m.PlayerAddress}, c.now())
	if err != nil {
		c.logger.Debug("join refused",
			zap.String("room", m.Token),
			zap.String("peer", m.PlayerAddress),
			zap.Error(err),
		)
		return
	}
	c.logger.Info("guest joined", zap.String("room", r.Token), zap.String("guest", m.PlayerAddress))
	c.session.OpponentReady = r.GuestReady
	c.broadcastRoom(r)
}

func (c *Coordinator) handleReadyState(m protocol.ReadyState) {
	if m.PlayerAddress == c.session.PlayerAddress {
		return
	}
	r, err := c.rooms.SetReady(m.Token, m.PlayerAddress, m.IsReady, c.now())
	if err != nil {
		c.logger.Debug("ready state ignored", zap.String("room", m.Token), zap.Error(err))
		return
	}
	if r.IsHost(m.PlayerAddress) != m.IsHost {
		c.logger.Debug("ready state seat mismatch", zap.String("room", m.Token), zap.String("peer", m.PlayerAddress))
	}
	if r.Token == c.session.RoomToken {
		c.session.OpponentReady = m.IsReady
		c.noteStarted(r)
	}
}

func (c *Coordinator) handleLeave(m protocol.LeaveRoom) {
	r, deleted, err := c.rooms.HandleLeave(m.Token, m.PlayerAddress, c.now())
	if err != nil {
		c.logger.Debug("leave ignored", zap.String("room", m.Token), zap.Error(err))
		return
	}
	if c.session.PendingJoin == m.Token && deleted {
		c.session.PendingJoin = ""
	}
	if c.session.RoomToken != m.Token {
		return
	}
	if deleted {
		c.logger.Info("room closed by host", zap.String("room", m.Token))
		c.session.leaveRoom()
		c.emit(Event{Kind: EventRoomClosed, Token: m.Token})
		return
	}
	c.logger.Info("guest left", zap.String("room", m.Token), zap.String("guest", m.PlayerAddress))
	c.session.OpponentReady = false
	c.session.InMatch = false
	c.session.clearOpponentTelemetry()
	if r.IsHost(c.session.PlayerAddress) {
		c.broadcastRoom(r)
	}
}

func (c *Coordinator) handleStartGame(m protocol.StartGame) {
	r, ok := c.rooms.Get(m.Token)
	if !ok {
		return
	}
	if !r.IsHost(m.HostAddress) {
		c.logger.Debug("start from non-host ignored", zap.String("room", m.Token), zap.String("peer", m.HostAddress))
		return
	}
	r, changed, err := c.rooms.MarkStarted(m.Token, c.now())
	if err != nil {
		c.logger.Debug("start ignored", zap.String("room", m.Token), zap.Error(err))
		return
	}
	if changed || !c.session.InMatch {
		c.noteStarted(r)
	}
}

func (c *Coordinator) handleGameState(m protocol.GameState) {
	if m.Token != c.session.RoomToken || m.PlayerAddress == c.session.PlayerAddress {
		return
	}
	c.session.OpponentScore = m.Score
	c.session.OpponentMovesLeft = m.MovesLeft
	c.emit(Event{Kind: EventOpponentProgress, Token: m.Token, Score: m.Score, MovesLeft: m.MovesLeft})
}

func (c *Coordinator) handleGameResult(m protocol.GameResult) {
	if m.Token != c.session.RoomToken || m.PlayerAddress == c.session.PlayerAddress {
		return
	}
	c.session.OpponentResult = ResultLost
	if m.IsWinner {
		c.session.OpponentResult = ResultWon
	}
	c.logger.Info("opponent reported result", zap.String("room", m.Token), zap.Bool("winner", m.IsWinner))
	c.emit(Event{Kind: EventOpponentResult, Token: m.Token, IsWinner: m.IsWinner})
}
