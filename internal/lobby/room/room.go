// Package room models lobby rooms and the directory of rooms known to the
// local peer.
package room

import (
	"time"

	"github.com/cory-johannsen/lanlobby/internal/protocol"
)

// Member is a player seated in a room.
type Member struct {
	Name    string
	Address string
}

// IsZero reports whether m names nobody.
func (m Member) IsZero() bool {
	return m.Address == ""
}

// Room is one room as known locally.
//
// Status is never stored; it is derived from the guest slot, the ready flags
// and the started flag.
type Room struct {
	Token      string
	Host       Member
	Guest      Member
	HostReady  bool
	GuestReady bool
	Started    bool
	// Seq orders snapshots of this room when sequencing is enabled.
	Seq uint64
	// LastActivity is when the room last changed or was last announced.
	LastActivity time.Time
}

// DeriveStatus computes a room status from its inputs.
//
// Postcondition: InGame iff started; otherwise Waiting without a guest,
// ReadyAll when both flags are set, Preparing in every other case.
func DeriveStatus(hasGuest, hostReady, guestReady, started bool) protocol.RoomStatus {
	switch {
	case started:
		return protocol.StatusInGame
	case !hasGuest:
		return protocol.StatusWaiting
	case hostReady && guestReady:
		return protocol.StatusReadyAll
	default:
		return protocol.StatusPreparing
	}
}

// Status returns the derived status of r.
func (r Room) Status() protocol.RoomStatus {
	return DeriveStatus(r.HasGuest(), r.HostReady, r.GuestReady, r.Started)
}

// HasGuest reports whether the guest slot is taken.
func (r Room) HasGuest() bool {
	return !r.Guest.IsZero()
}

// IsHost reports whether addr hosts r.
func (r Room) IsHost(addr string) bool {
	return addr != "" && r.Host.Address == addr
}

// IsGuest reports whether addr is r's guest.
func (r Room) IsGuest(addr string) bool {
	return addr != "" && r.Guest.Address == addr
}

// Opponent returns the other seat relative to addr.
//
// Precondition: addr is the host or the guest of r.
func (r Room) Opponent(addr string) Member {
	if r.IsHost(addr) {
		return r.Guest
	}
	return r.Host
}

// ToMessage converts r into a wire snapshot.
func (r Room) ToMessage() protocol.Room {
	return protocol.Room{
		Token:        r.Token,
		HostName:     r.Host.Name,
		HostAddress:  r.Host.Address,
		Status:       r.Status(),
		GuestName:    r.Guest.Name,
		GuestAddress: r.Guest.Address,
		HostReady:    r.HostReady,
		GuestReady:   r.GuestReady,
		Seq:          r.Seq,
	}
}

// FromMessage builds a Room from a wire snapshot. The started flag is taken
// from the snapshot's status; every other status is recomputed.
func FromMessage(m protocol.Room, now time.Time) Room {
	return Room{
		Token:        m.Token,
		Host:         Member{Name: m.HostName, Address: m.HostAddress},
		Guest:        Member{Name: m.GuestName, Address: m.GuestAddress},
		HostReady:    m.HostReady,
		GuestReady:   m.GuestReady,
		Started:      m.Status == protocol.StatusInGame,
		Seq:          m.Seq,
		LastActivity: now,
	}
}
