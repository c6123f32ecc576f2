package lobby

import (
	"errors"
	"time"

	"github.com/cory-johannsen/lanlobby/internal/lobby/presence"
	"github.com/cory-johannsen/lanlobby/internal/lobby/room"
)

// Local command refusals. They are returned when a command's precondition is
// visibly unmet in the local state; nothing is sent on the wire.
var (
	ErrNotInRoom     = errors.New("not in a room")
	ErrAlreadyInRoom = errors.New("already in a room")
	ErrUnknownRoom   = room.ErrUnknownRoom
	ErrRoomFull      = room.ErrRoomFull
	ErrNotHost       = errors.New("only the host can do that")
	ErrRoomNotReady  = errors.New("room is not ready to start")
	ErrStopped       = errors.New("coordinator stopped")
)

// MatchResult is the outcome reported by the opponent.
type MatchResult uint8

const (
	ResultUnknown MatchResult = iota
	ResultWon
	ResultLost
)

// String returns "unknown", "won" or "lost".
func (r MatchResult) String() string {
	switch r {
	case ResultWon:
		return "won"
	case ResultLost:
		return "lost"
	default:
		return "unknown"
	}
}

// LocalSession is the local peer's identity and room membership.
type LocalSession struct {
	PlayerName    string
	PlayerAddress string
	// RoomToken is the occupied room, or "" when not in a room.
	RoomToken string
	IsHost    bool
	Ready     bool
	// OpponentReady mirrors the other seat's ready flag.
	OpponentReady bool
	// PendingJoin is the token of a join request not yet answered.
	PendingJoin string
	InMatch     bool

	OpponentScore     int64
	OpponentMovesLeft int64
	OpponentResult    MatchResult
}

// InRoom reports whether the local peer occupies a room.
func (s LocalSession) InRoom() bool {
	return s.RoomToken != ""
}

func (s *LocalSession) leaveRoom() {
	s.RoomToken = ""
	s.IsHost = false
	s.Ready = false
	s.OpponentReady = false
	s.InMatch = false
	s.clearOpponentTelemetry()
}

func (s *LocalSession) clearOpponentTelemetry() {
	s.OpponentScore = 0
	s.OpponentMovesLeft = 0
	s.OpponentResult = ResultUnknown
}

// Snapshot is an immutable copy of the lobby state taken at one point of the
// coordinator's loop.
type Snapshot struct {
	TakenAt time.Time
	Players []presence.Player
	Rooms   []room.Room
	Session LocalSession
}

// Room returns the room with the given token.
func (s Snapshot) Room(token string) (room.Room, bool) {
	for _, r := range s.Rooms {
		if r.Token == token {
			return r, true
		}
	}
	return room.Room{}, false
}

// CurrentRoom returns the occupied room.
func (s Snapshot) CurrentRoom() (room.Room, bool) {
	if !s.Session.InRoom() {
		return room.Room{}, false
	}
	return s.Room(s.Session.RoomToken)
}

// Player returns the known player at addr.
func (s Snapshot) Player(addr string) (presence.Player, bool) {
	for _, p := range s.Players {
		if p.Address == addr {
			return p, true
		}
	}
	return presence.Player{}, false
}

// EventKind identifies an Event.
type EventKind uint8

const (
	// EventMatchStarted fires once when the occupied room enters InGame.
	EventMatchStarted EventKind = iota + 1
	// EventOpponentProgress carries the opponent's latest score and moves.
	EventOpponentProgress
	// EventOpponentResult carries the opponent's reported result.
	EventOpponentResult
	// EventRoomClosed fires when the occupied room is dissolved by its host
	// or removed by the staleness sweep.
	EventRoomClosed
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventMatchStarted:
		return "match_started"
	case EventOpponentProgress:
		return "opponent_progress"
	case EventOpponentResult:
		return "opponent_result"
	case EventRoomClosed:
		return "room_closed"
	default:
		return "unknown"
	}
}

// Event notifies the game layer of something it would otherwise have to poll for.
type Event struct {
	Kind      EventKind
	Token     string
	Score     int64
	MovesLeft int64
	IsWinner  bool
}
