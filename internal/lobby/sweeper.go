package lobby

import (
	"go.uber.org/zap"
)

// sweep purges players not announced within the player timeout, then rooms
// whose host is gone or that sat empty past the empty-room timeout.
//
// The local peer never announces to itself, so it always counts as present,
// and the room it hosts is exempt from the empty-room timeout. A host whose
// guest has gone stale frees the guest slot and re-broadcasts the room.
func (c *Coordinator) sweep() {
	now := c.now()

	for _, p := range c.players.Expire(now, c.cfg.PlayerTimeout) {
		c.logger.Info("player offline",
			zap.String("name", p.Name),
			zap.String("peer", p.Address),
			zap.Duration("silent_for", now.Sub(p.LastSeen)),
		)
	}

	isPresent := func(addr string) bool {
		return addr == c.session.PlayerAddress || c.players.Has(addr)
	}

	exempt := ""
	if c.session.IsHost {
		exempt = c.session.RoomToken
		c.dropStaleGuest(isPresent)
	}

	for _, r := range c.rooms.Prune(now, isPresent, c.cfg.EmptyRoomTimeout, exempt) {
		reason := "empty room timed out"
		if !isPresent(r.Host.Address) {
			reason = "host offline"
		}
		c.logger.Info("room removed", zap.String("room", r.Token), zap.String("reason", reason))
		if c.session.PendingJoin == r.Token {
			c.session.PendingJoin = ""
		}
		if c.session.RoomToken == r.Token {
			c.session.leaveRoom()
			c.emit(Event{Kind: EventRoomClosed, Token: r.Token})
		}
	}
}

func (c *Coordinator) dropStaleGuest(isPresent func(string) bool) {
	r, ok := c.rooms.Get(c.session.RoomToken)
	if !ok || !r.HasGuest() || isPresent(r.Guest.Address) {
		return
	}
	r, _, err := c.rooms.HandleLeave(r.Token, r.Guest.Address, c.now())
	if err != nil {
		return
	}
	c.logger.Info("guest offline, seat freed", zap.String("room", r.Token))
	c.session.OpponentReady = false
	c.session.InMatch = false
	c.session.clearOpponentTelemetry()
	c.broadcastRoom(r)
}
