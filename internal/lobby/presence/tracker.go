// Package presence tracks which peers have announced themselves recently
// enough to be considered online.
package presence

import (
	"sort"
	"time"
)

// Status is a peer's reachability as seen by the local tracker.
type Status uint8

const (
	// Offline marks a player the tracker has just expired.
	Offline Status = iota
	// Online marks a player seen within the timeout window.
	Online
)

// String returns "Online" or "Offline".
func (s Status) String() string {
	if s == Online {
		return "Online"
	}
	return "Offline"
}

// Player is one known peer. Address is the identity.
type Player struct {
	Name     string
	Address  string
	LastSeen time.Time
	Status   Status
}

// Tracker holds the set of known players keyed by address.
// It is not safe for concurrent use; the lobby coordinator owns it.
type Tracker struct {
	players map[string]Player
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{players: make(map[string]Player)}
}

// Observe records a presence announcement.
//
// Precondition: addr must be non-empty.
// Postcondition: Exactly one entry exists for addr with LastSeen=now and
// Status=Online. Returns true if the player was not known before.
func (t *Tracker) Observe(name, addr string, now time.Time) bool {
	_, known := t.players[addr]
	t.players[addr] = Player{
		Name:     name,
		Address:  addr,
		LastSeen: now,
		Status:   Online,
	}
	return !known
}

// Has reports whether addr is currently known.
func (t *Tracker) Has(addr string) bool {
	_, ok := t.players[addr]
	return ok
}

// Get returns the player at addr.
func (t *Tracker) Get(addr string) (Player, bool) {
	p, ok := t.players[addr]
	return p, ok
}

// Len returns the number of known players.
func (t *Tracker) Len() int {
	return len(t.players)
}

// Expire removes every player whose last announcement is older than timeout.
// A player seen exactly timeout ago is kept.
//
// Precondition: timeout must be > 0.
// Postcondition: Returns the removed players, sorted by address, with
// Status=Offline.
func (t *Tracker) Expire(now time.Time, timeout time.Duration) []Player {
	var removed []Player
	for addr, p := range t.players {
		if now.Sub(p.LastSeen) > timeout {
			delete(t.players, addr)
			p.Status = Offline
			removed = append(removed, p)
		}
	}
	sortByAddress(removed)
	return removed
}

// Snapshot returns a copy of all known players sorted by address.
func (t *Tracker) Snapshot() []Player {
	out := make([]Player, 0, len(t.players))
	for _, p := range t.players {
		out = append(out, p)
	}
	sortByAddress(out)
	return out
}

func sortByAddress(ps []Player) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Address < ps[j].Address })
}
