package room

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/lanlobby/internal/protocol"
)

var (
	// ErrUnknownRoom is returned for a token the directory does not hold.
	ErrUnknownRoom = errors.New("unknown room")
	// ErrRoomFull is returned when a join targets a room that already has a guest.
	ErrRoomFull = errors.New("room already has a guest")
	// ErrNotMember is returned when an address is neither host nor guest.
	ErrNotMember = errors.New("not a member of the room")
	// ErrOwnRoom is returned when a host asks to join its own room.
	ErrOwnRoom = errors.New("host cannot join its own room")
	// ErrNoGuest is returned when a room without a guest is started.
	ErrNoGuest = errors.New("room has no guest")
)

// TokenSource produces a fresh room token.
type TokenSource func() (string, error)

// NewV7Token returns a time-ordered UUIDv7 string.
func NewV7Token() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating room token: %w", err)
	}
	return id.String(), nil
}

// Option configures a Directory.
type Option func(*Directory)

// WithSequencing enables per-room sequence numbers. Local mutations bump the
// sequence and Merge rejects a snapshot older than the stored one.
func WithSequencing(enabled bool) Option {
	return func(d *Directory) { d.sequenced = enabled }
}

// WithTokenSource replaces the UUIDv7 token generator.
func WithTokenSource(src TokenSource) Option {
	return func(d *Directory) { d.newToken = src }
}

// Directory is the set of rooms known to the local peer, keyed by token.
//
// Remote state arrives as whole-room snapshots and is merged last-writer-wins:
// the most recently received snapshot replaces the stored room entirely.
// Without sequencing, a reordered older snapshot can transiently revert a
// newer one; nothing here prevents that.
//
// Directory is not safe for concurrent use; the lobby coordinator owns it.
type Directory struct {
	rooms     map[string]Room
	sequenced bool
	newToken  TokenSource
}

// NewDirectory creates an empty Directory.
func NewDirectory(opts ...Option) *Directory {
	d := &Directory{
		rooms:    make(map[string]Room),
		newToken: NewV7Token,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Get returns the room with the given token.
func (d *Directory) Get(token string) (Room, bool) {
	r, ok := d.rooms[token]
	return r, ok
}

// Len returns the number of known rooms.
func (d *Directory) Len() int {
	return len(d.rooms)
}

// Merge applies a remote room snapshot.
//
// Precondition: m.Token and m.HostAddress must be non-empty.
// Postcondition: Unless sequencing rejects it, the stored room equals the
// snapshot with LastActivity=now. Returns the stored room and whether the
// snapshot was applied.
func (d *Directory) Merge(m protocol.Room, now time.Time) (Room, bool) {
	if existing, ok := d.rooms[m.Token]; ok && d.sequenced && m.Seq < existing.Seq {
		return existing, false
	}
	r := FromMessage(m, now)
	d.rooms[r.Token] = r
	return r, true
}

// Create allocates a new room hosted by host.
//
// Postcondition: The room is stored with no guest, both flags false and
// status Waiting.
func (d *Directory) Create(host Member, now time.Time) (Room, error) {
	token, err := d.newToken()
	if err != nil {
		return Room{}, err
	}
	if _, exists := d.rooms[token]; exists {
		return Room{}, fmt.Errorf("room token %q already in use", token)
	}
	return d.put(Room{Token: token, Host: host}, now), nil
}

// HandleJoin seats guest in the room. A join is accepted iff the guest slot
// is empty; a repeated request from the seated guest is accepted unchanged.
//
// Postcondition: On success the room has guest seated, guest-ready false and
// is not started. On failure the directory is unchanged.
func (d *Directory) HandleJoin(token string, guest Member, now time.Time) (Room, error) {
	r, ok := d.rooms[token]
	if !ok {
		return Room{}, ErrUnknownRoom
	}
	if r.IsHost(guest.Address) {
		return r, ErrOwnRoom
	}
	if r.HasGuest() {
		if r.IsGuest(guest.Address) {
			return r, nil
		}
		return r, ErrRoomFull
	}
	r.Guest = guest
	r.GuestReady = false
	r.Started = false
	return d.put(r, now), nil
}

// HandleLeave removes addr from the room. A departing host dissolves the room
// whatever its status. A departing guest frees the slot, clears guest-ready
// and the started flag, and keeps host-ready.
//
// Postcondition: Returns the room as it was when deleted (deleted=true) or as
// it is after the reset.
func (d *Directory) HandleLeave(token, addr string, now time.Time) (r Room, deleted bool, err error) {
	r, ok := d.rooms[token]
	if !ok {
		return Room{}, false, ErrUnknownRoom
	}
	switch {
	case r.IsHost(addr):
		delete(d.rooms, token)
		return r, true, nil
	case r.IsGuest(addr):
		r.Guest = Member{}
		r.GuestReady = false
		r.Started = false
		return d.put(r, now), false, nil
	default:
		return r, false, ErrNotMember
	}
}

// SetReady sets the ready flag of the seat addr occupies.
//
// Postcondition: If the flag changed, the room is no longer started and its
// status is recomputed from the ready flags.
func (d *Directory) SetReady(token, addr string, ready bool, now time.Time) (Room, error) {
	r, ok := d.rooms[token]
	if !ok {
		return Room{}, ErrUnknownRoom
	}
	var was bool
	switch {
	case r.IsHost(addr):
		was, r.HostReady = r.HostReady, ready
	case r.IsGuest(addr):
		was, r.GuestReady = r.GuestReady, ready
	default:
		return r, ErrNotMember
	}
	if was != ready {
		// A changed flag ends the match; a rematch needs a fresh start.
		r.Started = false
	}
	return d.put(r, now), nil
}

// MarkStarted moves the room into InGame.
//
// Precondition: the room has a guest.
// Postcondition: Returns the room and whether it was not already started.
func (d *Directory) MarkStarted(token string, now time.Time) (Room, bool, error) {
	r, ok := d.rooms[token]
	if !ok {
		return Room{}, false, ErrUnknownRoom
	}
	if !r.HasGuest() {
		return r, false, ErrNoGuest
	}
	if r.Started {
		return r, false, nil
	}
	r.Started = true
	return d.put(r, now), true, nil
}

// Delete removes the room. Returns false if it was not known.
func (d *Directory) Delete(token string) bool {
	if _, ok := d.rooms[token]; !ok {
		return false
	}
	delete(d.rooms, token)
	return true
}

// Prune removes every room whose host isPresent rejects, and every room
// other than exempt that has no guest and has been idle longer than
// emptyTimeout.
//
// Postcondition: Returns the removed rooms sorted by token.
func (d *Directory) Prune(now time.Time, isPresent func(addr string) bool, emptyTimeout time.Duration, exempt string) []Room {
	var removed []Room
	for token, r := range d.rooms {
		stale := !isPresent(r.Host.Address) ||
			(token != exempt && !r.HasGuest() && now.Sub(r.LastActivity) > emptyTimeout)
		if stale {
			delete(d.rooms, token)
			removed = append(removed, r)
		}
	}
	sortByToken(removed)
	return removed
}

// Snapshot returns a copy of all rooms sorted by token.
func (d *Directory) Snapshot() []Room {
	out := make([]Room, 0, len(d.rooms))
	for _, r := range d.rooms {
		out = append(out, r)
	}
	sortByToken(out)
	return out
}

func (d *Directory) put(r Room, now time.Time) Room {
	if d.sequenced {
		r.Seq++
	}
	r.LastActivity = now
	d.rooms[r.Token] = r
	return r
}

func sortByToken(rs []Room) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Token < rs[j].Token })
}
