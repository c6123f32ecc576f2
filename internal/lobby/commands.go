package lobby

import (
	"context"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lanlobby/internal/lobby/room"
	"github.com/cory-johannsen/lanlobby/internal/protocol"
	"github.com/cory-johannsen/lanlobby/internal/transport"
)

// Commands block until the coordinator loop has applied them. Every command
// returns ErrStopped once the coordinator has stopped, and ctx.Err() if ctx
// ends before the loop accepts it. Network failures are logged, never
// returned.

// CreateRoom hosts a new room and broadcasts it.
//
// Precondition: the local peer is not in a room.
// Postcondition: The local peer hosts a Waiting room with no guest.
func (c *Coordinator) CreateRoom(ctx context.Context) (room.Room, error) {
	var created room.Room
	err := c.submit(ctx, func() error {
		if c.session.InRoom() {
			return ErrAlreadyInRoom
		}
		r, err := c.rooms.Create(c.self(), c.now())
		if err != nil {
			return err
		}
		c.session.leaveRoom()
		c.session.RoomToken = r.Token
		c.session.IsHost = true
		c.session.PendingJoin = ""
		c.logger.Info("room created", zap.String("room", r.Token))
		c.broadcastRoom(r)
		created = r
		return nil
	})
	return created, err
}

// JoinRoom sends a join request to the host of the room with the given token.
// Local state other than the pending token does not change until the host's
// room snapshot names the local peer as guest. A refused or lost request
// leaves the join pending.
//
// Precondition: the local peer is not in a room; the room is known and has no guest.
func (c *Coordinator) JoinRoom(ctx context.Context, token string) error {
	return c.submit(ctx, func() error {
		if c.session.InRoom() {
			return ErrAlreadyInRoom
		}
		r, ok := c.rooms.Get(token)
		if !ok {
			return ErrUnknownRoom
		}
		if r.HasGuest() {
			return ErrRoomFull
		}
		c.session.PendingJoin = token
		c.session.Ready = false
		c.session.OpponentReady = false
		c.send(protocol.JoinRequest{
			Token:         token,
			PlayerName:    c.session.PlayerName,
			PlayerAddress: c.session.PlayerAddress,
		}, transport.To(r.Host.Address))
		c.logger.Info("join requested", zap.String("room", token), zap.String("host", r.Host.Address))
		return nil
	})
}

// ToggleReady flips the local ready flag and broadcasts the change.
//
// Precondition: the local peer is in a room.
// Postcondition: Returns the new ready value; the room's status is recomputed.
func (c *Coordinator) ToggleReady(ctx context.Context) (bool, error) {
	var ready bool
	err := c.submit(ctx, func() error {
		if !c.session.InRoom() {
			return ErrNotInRoom
		}
		ready = !c.session.Ready
		r, err := c.rooms.SetReady(c.session.RoomToken, c.session.PlayerAddress, ready, c.now())
		if err != nil {
			return err
		}
		c.session.Ready = ready
		c.noteStarted(r)
		c.send(protocol.ReadyState{
			Token:         r.Token,
			PlayerAddress: c.session.PlayerAddress,
			IsReady:       ready,
			IsHost:        c.session.IsHost,
		}, transport.Broadcast())
		c.broadcastRoom(r)
		c.logger.Debug("ready toggled",
			zap.String("room", r.Token),
			zap.Bool("ready", ready),
			zap.Stringer("status", r.Status()),
		)
		return nil
	})
	return ready, err
}

// LeaveRoom leaves the occupied room, or abandons a pending join.
//
// Precondition: the local peer is in a room or has a pending join.
// Postcondition: The local peer is in no room. A departing host dissolves the room.
func (c *Coordinator) LeaveRoom(ctx context.Context) error {
	return c.submit(ctx, func() error {
		if !c.session.InRoom() {
			if c.session.PendingJoin == "" {
				return ErrNotInRoom
			}
			c.session.PendingJoin = ""
			return nil
		}
		c.leave()
		return nil
	})
}

// StartGame starts the match in the hosted room.
//
// Precondition: the local peer hosts the room, it has a guest and both seats are ready.
// Postcondition: start_game is broadcast and applied locally; the room is InGame.
func (c *Coordinator) StartGame(ctx context.Context) error {
	return c.submit(ctx, func() error {
		if !c.session.InRoom() {
			return ErrNotInRoom
		}
		if !c.session.IsHost {
			return ErrNotHost
		}
		r, ok := c.rooms.Get(c.session.RoomToken)
		if !ok {
			return ErrUnknownRoom
		}
		if s := r.Status(); s != protocol.StatusReadyAll && s != protocol.StatusInGame {
			return ErrRoomNotReady
		}
		msg := protocol.StartGame{Token: r.Token, HostAddress: c.session.PlayerAddress}
		c.send(msg, transport.Broadcast())
		c.handleStartGame(msg)
		if r, ok := c.rooms.Get(msg.Token); ok {
			c.broadcastRoom(r)
		}
		return nil
	})
}

// RelayMatchTelemetry broadcasts the local score and remaining moves.
// Fire-and-forget: no acknowledgement, retry or ordering.
//
// Precondition: the local peer is in a room.
func (c *Coordinator) RelayMatchTelemetry(ctx context.Context, score, movesLeft int64) error {
	return c.submit(ctx, func() error {
		if !c.session.InRoom() {
			return ErrNotInRoom
		}
		c.send(protocol.GameState{
			Token:         c.session.RoomToken,
			PlayerAddress: c.session.PlayerAddress,
			Score:         score,
			MovesLeft:     movesLeft,
		}, transport.Broadcast())
		return nil
	})
}

// ReportResult broadcasts the local match outcome.
//
// Precondition: the local peer is in a room.
func (c *Coordinator) ReportResult(ctx context.Context, isWinner bool) error {
	return c.submit(ctx, func() error {
		if !c.session.InRoom() {
			return ErrNotInRoom
		}
		c.send(protocol.GameResult{
			Token:         c.session.RoomToken,
			PlayerAddress: c.session.PlayerAddress,
			IsWinner:      isWinner,
		}, transport.Broadcast())
		c.logger.Info("result reported", zap.String("room", c.session.RoomToken), zap.Bool("winner", isWinner))
		return nil
	})
}

// leave broadcasts leave_room for the occupied room and applies it locally.
func (c *Coordinator) leave() {
	token := c.session.RoomToken
	c.send(protocol.LeaveRoom{Token: token, PlayerAddress: c.session.PlayerAddress}, transport.Broadcast())
	if _, _, err := c.rooms.HandleLeave(token, c.session.PlayerAddress, c.now()); err != nil {
		c.logger.Debug("leaving room not in directory", zap.String("room", token), zap.Error(err))
	}
	c.session.leaveRoom()
	c.logger.Info("left room", zap.String("room", token))
}
