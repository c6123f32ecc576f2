// Package protocol defines the lobby datagram messages and their wire codec.
//
// Every datagram carries exactly one Message. The set of message kinds is
// closed: Decode rejects any kind it does not know.
package protocol

import "fmt"

// Kind identifies the concrete type of a Message on the wire.
type Kind uint8

const (
	KindPresence Kind = iota + 1
	KindRoom
	KindJoinRequest
	KindReadyState
	KindLeaveRoom
	KindStartGame
	KindGameState
	KindGameResult
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPresence:
		return "presence"
	case KindRoom:
		return "room"
	case KindJoinRequest:
		return "join_request"
	case KindReadyState:
		return "ready_state"
	case KindLeaveRoom:
		return "leave_room"
	case KindStartGame:
		return "start_game"
	case KindGameState:
		return "game_state"
	case KindGameResult:
		return "game_result"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// RoomStatus is the lifecycle phase of a room as carried in room snapshots.
type RoomStatus uint8

const (
	StatusWaiting RoomStatus = iota
	StatusPreparing
	StatusReadyAll
	StatusInGame
)

// String returns a human-readable representation of the status.
func (s RoomStatus) String() string {
	switch s {
	case StatusWaiting:
		return "Waiting"
	case StatusPreparing:
		return "Preparing"
	case StatusReadyAll:
		return "ReadyAll"
	case StatusInGame:
		return "InGame"
	default:
		return "Unknown"
	}
}

// Valid reports whether s is one of the defined statuses.
func (s RoomStatus) Valid() bool {
	return s <= StatusInGame
}

// Message is the closed union of lobby datagrams.
type Message interface {
	Kind() Kind
	isMessage()
}

// Presence announces that a peer is online.
type Presence struct {
	Name    string
	Address string
}

// Room is a full snapshot of one room.
// GuestName and GuestAddress are empty when the room has no guest.
// Seq is zero unless sequenced snapshots are enabled.
type Room struct {
	Token        string
	HostName     string
	HostAddress  string
	Status       RoomStatus
	GuestName    string
	GuestAddress string
	HostReady    bool
	GuestReady   bool
	Seq          uint64
}

// HasGuest reports whether the snapshot names a guest.
func (r Room) HasGuest() bool {
	return r.GuestAddress != ""
}

// JoinRequest asks a room's host to accept the sender as guest.
type JoinRequest struct {
	Token         string
	PlayerName    string
	PlayerAddress string
}

// ReadyState reports one participant's ready flag.
type ReadyState struct {
	Token         string
	PlayerAddress string
	IsReady       bool
	IsHost        bool
}

// LeaveRoom reports that a participant left a room.
type LeaveRoom struct {
	Token         string
	PlayerAddress string
}

// StartGame is issued by a room's host to begin the match.
type StartGame struct {
	Token       string
	HostAddress string
}

// GameState is best-effort in-match telemetry.
type GameState struct {
	Token         string
	PlayerAddress string
	Score         int64
	MovesLeft     int64
}

// GameResult reports the outcome of a match from one participant's side.
type GameResult struct {
	Token         string
	PlayerAddress string
	IsWinner      bool
}

func (Presence) Kind() Kind    { return KindPresence }
func (Room) Kind() Kind        { return KindRoom }
func (JoinRequest) Kind() Kind { return KindJoinRequest }
func (ReadyState) Kind() Kind  { return KindReadyState }
func (LeaveRoom) Kind() Kind   { return KindLeaveRoom }
func (StartGame) Kind() Kind   { return KindStartGame }
func (GameState) Kind() Kind   { return KindGameState }
func (GameResult) Kind() Kind  { return KindGameResult }

func (Presence) isMessage()    {}
func (Room) isMessage()        {}
func (JoinRequest) isMessage() {}
func (ReadyState) isMessage()  {}
func (LeaveRoom) isMessage()   {}
func (StartGame) isMessage()   {}
func (GameState) isMessage()   {}
func (GameResult) isMessage()  {}
