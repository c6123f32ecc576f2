package console

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/lanlobby/internal/lobby"
	"github.com/cory-johannsen/lanlobby/internal/lobby/room"
)

type playerView struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Status   string `yaml:"status"`
	LastSeen string `yaml:"last_seen"`
}

type roomView struct {
	Token      string `yaml:"token"`
	Status     string `yaml:"status"`
	Host       string `yaml:"host"`
	Guest      string `yaml:"guest,omitempty"`
	HostReady  bool   `yaml:"host_ready"`
	GuestReady bool   `yaml:"guest_ready"`
	Seq        uint64 `yaml:"seq,omitempty"`
}

type opponentView struct {
	Ready     bool   `yaml:"ready"`
	Score     int64  `yaml:"score"`
	MovesLeft int64  `yaml:"moves_left"`
	Result    string `yaml:"result"`
}

type statusView struct {
	Player      string        `yaml:"player"`
	Address     string        `yaml:"address"`
	Role        string        `yaml:"role,omitempty"`
	Ready       bool          `yaml:"ready"`
	InMatch     bool          `yaml:"in_match"`
	PendingJoin string        `yaml:"pending_join,omitempty"`
	Room        *roomView     `yaml:"room,omitempty"`
	Opponent    *opponentView `yaml:"opponent,omitempty"`
}

func newRoomView(r room.Room) roomView {
	v := roomView{
		Token:      r.Token,
		Status:     r.Status().String(),
		Host:       memberString(r.Host),
		HostReady:  r.HostReady,
		GuestReady: r.GuestReady,
		Seq:        r.Seq,
	}
	if r.HasGuest() {
		v.Guest = memberString(r.Guest)
	}
	return v
}

func memberString(m room.Member) string {
	if m.Name == "" {
		return m.Address
	}
	return fmt.Sprintf("%s (%s)", m.Name, m.Address)
}

func newStatusView(s lobby.Snapshot) statusView {
	sess := s.Session
	v := statusView{
		Player:      sess.PlayerName,
		Address:     sess.PlayerAddress,
		Ready:       sess.Ready,
		InMatch:     sess.InMatch,
		PendingJoin: sess.PendingJoin,
	}
	if r, ok := s.CurrentRoom(); ok {
		rv := newRoomView(r)
		v.Room = &rv
		v.Role = "guest"
		if sess.IsHost {
			v.Role = "host"
		}
		if r.HasGuest() {
			v.Opponent = &opponentView{
				Ready:     sess.OpponentReady,
				Score:     sess.OpponentScore,
				MovesLeft: sess.OpponentMovesLeft,
				Result:    sess.OpponentResult.String(),
			}
		}
	}
	return v
}

func newPlayersView(s lobby.Snapshot) map[string][]playerView {
	players := make([]playerView, 0, len(s.Players))
	for _, p := range s.Players {
		players = append(players, playerView{
			Name:     p.Name,
			Address:  p.Address,
			Status:   p.Status.String(),
			LastSeen: s.TakenAt.Sub(p.LastSeen).Truncate(time.Millisecond).String() + " ago",
		})
	}
	return map[string][]playerView{"players": players}
}

func newRoomsView(s lobby.Snapshot) map[string][]roomView {
	rooms := make([]roomView, 0, len(s.Rooms))
	for _, r := range s.Rooms {
		rooms = append(rooms, newRoomView(r))
	}
	return map[string][]roomView{"rooms": rooms}
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("rendering yaml: %w", err)
	}
	return enc.Close()
}
