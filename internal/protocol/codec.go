package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Version is the envelope version written by Encode and required by Decode.
const Version = 1

var (
	// ErrUnknownKind is returned for a message kind outside the closed set.
	ErrUnknownKind = errors.New("protocol: unknown message kind")
	// ErrMalformed is returned for datagrams that cannot be parsed or that
	// lack a required field.
	ErrMalformed = errors.New("protocol: malformed datagram")
)

// Envelope field numbers.
const (
	envVersion protowire.Number = 1
	envKind    protowire.Number = 2
	envBody    protowire.Number = 3
)

// Encode serializes msg into a single datagram payload.
//
// Precondition: msg must be one of the value types declared in this package.
// Postcondition: Decode(Encode(msg)) yields a message equal to msg.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrUnknownKind)
	}
	body, err := encodeBody(msg)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 0, len(body)+8)
	b = protowire.AppendTag(b, envVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, Version)
	b = protowire.AppendTag(b, envKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.Kind()))
	b = protowire.AppendTag(b, envBody, protowire.BytesType)
	b = protowire.AppendBytes(b, body)
	return b, nil
}

func encodeBody(msg Message) ([]byte, error) {
	var e encoder
	switch m := msg.(type) {
	case Presence:
		e.str(1, m.Name)
		e.str(2, m.Address)
	case Room:
		e.str(1, m.Token)
		e.str(2, m.HostName)
		e.str(3, m.HostAddress)
		e.uint(4, uint64(m.Status))
		e.str(5, m.GuestName)
		e.str(6, m.GuestAddress)
		e.bool(7, m.HostReady)
		e.bool(8, m.GuestReady)
		e.uint(9, m.Seq)
	case JoinRequest:
		e.str(1, m.Token)
		e.str(2, m.PlayerName)
		e.str(3, m.PlayerAddress)
	case ReadyState:
		e.str(1, m.Token)
		e.str(2, m.PlayerAddress)
		e.bool(3, m.IsReady)
		e.bool(4, m.IsHost)
	case LeaveRoom:
		e.str(1, m.Token)
		e.str(2, m.PlayerAddress)
	case StartGame:
		e.str(1, m.Token)
		e.str(2, m.HostAddress)
	case GameState:
		e.str(1, m.Token)
		e.str(2, m.PlayerAddress)
		e.int(3, m.Score)
		e.int(4, m.MovesLeft)
	case GameResult:
		e.str(1, m.Token)
		e.str(2, m.PlayerAddress)
		e.bool(3, m.IsWinner)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, msg)
	}
	return e.buf, nil
}

// Decode parses a datagram payload into a Message.
//
// Postcondition: Returns a non-nil Message, or an error wrapping ErrMalformed
// or ErrUnknownKind. Decode never panics on arbitrary input.
func Decode(b []byte) (Message, error) {
	env, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	r := reader{fs: env}
	if !r.has(envKind) {
		return nil, fmt.Errorf("%w: missing message kind", ErrMalformed)
	}
	version := r.uint(envVersion)
	rawKind := r.uint(envKind)
	body := r.bytes(envBody)
	if r.err != nil {
		return nil, r.err
	}
	if version != Version {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", ErrMalformed, version)
	}
	if rawKind == 0 || rawKind > uint64(KindGameResult) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, rawKind)
	}

	fs, err := parseFields(body)
	if err != nil {
		return nil, err
	}
	return decodeBody(Kind(rawKind), &reader{fs: fs})
}

func decodeBody(kind Kind, r *reader) (Message, error) {
	var msg Message
	switch kind {
	case KindPresence:
		m := Presence{Name: r.str(1), Address: r.str(2)}
		r.require("address", m.Address)
		msg = m
	case KindRoom:
		rawStatus := r.uint(4)
		m := Room{
			Token:        r.str(1),
			HostName:     r.str(2),
			HostAddress:  r.str(3),
			Status:       RoomStatus(rawStatus),
			GuestName:    r.str(5),
			GuestAddress: r.str(6),
			HostReady:    r.bool(7),
			GuestReady:   r.bool(8),
			Seq:          r.uint(9),
		}
		r.require("room_token", m.Token)
		r.require("host_address", m.HostAddress)
		if r.err == nil && rawStatus > uint64(StatusInGame) {
			r.err = fmt.Errorf("%w: invalid room status %d", ErrMalformed, rawStatus)
		}
		if m.GuestName != "" {
			r.require("guest_address", m.GuestAddress)
		}
		msg = m
	case KindJoinRequest:
		m := JoinRequest{Token: r.str(1), PlayerName: r.str(2), PlayerAddress: r.str(3)}
		r.require("room_token", m.Token)
		r.require("player_address", m.PlayerAddress)
		msg = m
	case KindReadyState:
		m := ReadyState{Token: r.str(1), PlayerAddress: r.str(2), IsReady: r.bool(3), IsHost: r.bool(4)}
		r.require("room_token", m.Token)
		r.require("player_address", m.PlayerAddress)
		msg = m
	case KindLeaveRoom:
		m := LeaveRoom{Token: r.str(1), PlayerAddress: r.str(2)}
		r.require("room_token", m.Token)
		r.require("player_address", m.PlayerAddress)
		msg = m
	case KindStartGame:
		m := StartGame{Token: r.str(1), HostAddress: r.str(2)}
		r.require("room_token", m.Token)
		msg = m
	case KindGameState:
		m := GameState{Token: r.str(1), PlayerAddress: r.str(2), Score: r.int(3), MovesLeft: r.int(4)}
		r.require("room_token", m.Token)
		r.require("player_address", m.PlayerAddress)
		msg = m
	case KindGameResult:
		m := GameResult{Token: r.str(1), PlayerAddress: r.str(2), IsWinner: r.bool(3)}
		r.require("room_token", m.Token)
		r.require("player_address", m.PlayerAddress)
		msg = m
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(kind))
	}
	if r.err != nil {
		return nil, fmt.Errorf("decoding %s: %w", kind, r.err)
	}
	return msg, nil
}

// encoder appends proto3-style fields, omitting zero values.
type encoder struct {
	buf []byte
}

func (e *encoder) str(num protowire.Number, v string) {
	if v == "" {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, v)
}

func (e *encoder) uint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
}

func (e *encoder) int(num protowire.Number, v int64) {
	e.uint(num, protowire.EncodeZigZag(v))
}

func (e *encoder) bool(num protowire.Number, v bool) {
	e.uint(num, protowire.EncodeBool(v))
}

type field struct {
	typ protowire.Type
	v   uint64
	b   []byte
}

type fieldSet map[protowire.Number]field

// parseFields reads every top-level field of b. Later occurrences of a field
// number replace earlier ones; fields of other wire types are skipped.
func parseFields(b []byte) (fieldSet, error) {
	fs := make(fieldSet)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
			}
			fs[num] = field{typ: typ, v: v}
			b = b[m:]
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
			}
			fs[num] = field{typ: typ, b: v}
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return fs, nil
}

// reader extracts typed values from a fieldSet. The first type mismatch is
// kept in err and later calls return zero values.
type reader struct {
	fs  fieldSet
	err error
}

func (r *reader) has(num protowire.Number) bool {
	_, ok := r.fs[num]
	return ok
}

func (r *reader) lookup(num protowire.Number, want protowire.Type) (field, bool) {
	if r.err != nil {
		return field{}, false
	}
	f, ok := r.fs[num]
	if !ok {
		return field{}, false
	}
	if f.typ != want {
		r.err = fmt.Errorf("%w: field %d has wire type %d, want %d", ErrMalformed, num, f.typ, want)
		return field{}, false
	}
	return f, true
}

func (r *reader) bytes(num protowire.Number) []byte {
	f, _ := r.lookup(num, protowire.BytesType)
	return f.b
}

func (r *reader) str(num protowire.Number) string {
	return string(r.bytes(num))
}

func (r *reader) uint(num protowire.Number) uint64 {
	f, _ := r.lookup(num, protowire.VarintType)
	return f.v
}

func (r *reader) int(num protowire.Number) int64 {
	return protowire.DecodeZigZag(r.uint(num))
}

func (r *reader) bool(num protowire.Number) bool {
	return protowire.DecodeBool(r.uint(num))
}

func (r *reader) require(name, v string) {
	if r.err == nil && v == "" {
		r.err = fmt.Errorf("%w: missing %s", ErrMalformed, name)
	}
}
