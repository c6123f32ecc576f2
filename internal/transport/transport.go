// Package transport moves lobby messages between peers as datagrams.
//
// It is the only package that touches a network socket. Delivery is
// best-effort: datagrams may be lost, duplicated, or reordered, and nothing
// here retries, acknowledges, or sequences them.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lanlobby/internal/protocol"
)

// ErrClosed is returned by Conn.Receive and Conn.Send once the Conn is closed.
var ErrClosed = errors.New("transport: connection closed")

// Destination selects where a datagram is sent: the subnet broadcast address
// or one specific peer.
type Destination struct {
	addr string
}

// Broadcast returns the destination reaching every peer on the subnet.
func Broadcast() Destination {
	return Destination{}
}

// To returns the destination for a single peer address.
//
// Precondition: addr must be non-empty.
func To(addr string) Destination {
	return Destination{addr: addr}
}

// IsBroadcast reports whether d targets the whole subnet.
func (d Destination) IsBroadcast() bool {
	return d.addr == ""
}

// Addr returns the peer address, or "" for a broadcast destination.
func (d Destination) Addr() string {
	return d.addr
}

// String returns "broadcast" or the peer address.
func (d Destination) String() string {
	if d.IsBroadcast() {
		return "broadcast"
	}
	return d.addr
}

// Datagram is one raw payload received from a peer.
type Datagram struct {
	Payload []byte
	// From is the sender's address as reported by the socket.
	From string
}

// Conn is a datagram socket bound to the lobby port.
type Conn interface {
	// Send writes payload to dest without waiting for delivery.
	Send(payload []byte, dest Destination) error
	// Receive blocks until a datagram arrives. After Close it returns ErrClosed.
	Receive() (Datagram, error)
	// LocalAddr is the address peers use to reach this Conn.
	LocalAddr() string
	// Close releases the socket and unblocks any pending Receive.
	Close() error
}

// Inbound is a decoded message together with the address it came from.
type Inbound struct {
	Message protocol.Message
	From    string
}

// Transport encodes outgoing messages and decodes incoming datagrams on top
// of a Conn.
type Transport struct {
	conn   Conn
	logger *zap.Logger

	closeOnce sync.Once
	quit      chan struct{}
}

// New wraps conn.
//
// Precondition: conn and logger must be non-nil.
// Postcondition: The Transport owns conn; Close closes it.
func New(conn Conn, logger *zap.Logger) *Transport {
	return &Transport{
		conn:   conn,
		logger: logger.Named("transport"),
		quit:   make(chan struct{}),
	}
}

// LocalAddr returns the address peers use to reach this transport.
func (t *Transport) LocalAddr() string {
	return t.conn.LocalAddr()
}

// Send encodes msg and writes it to dest.
//
// Postcondition: Returns nil once the datagram was handed to the socket; this
// says nothing about delivery.
func (t *Transport) Send(msg protocol.Message, dest Destination) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encoding %T: %w", msg, err)
	}
	if err := t.conn.Send(payload, dest); err != nil {
		return fmt.Errorf("sending %s to %s: %w", msg.Kind(), dest, err)
	}
	t.logger.Debug("sent datagram",
		zap.Stringer("kind", msg.Kind()),
		zap.Stringer("dest", dest),
		zap.Int("bytes", len(payload)),
	)
	return nil
}

// ReceiveLoop blocks on the socket and pushes every decoded message onto out.
// Malformed datagrams are logged and dropped. Transient receive errors are
// logged and the loop continues.
//
// The loop ends when Close is called (the blocked Receive observes ErrClosed)
// or when ctx is cancelled while waiting to hand a message to out. Both are
// normal shutdown and return nil.
func (t *Transport) ReceiveLoop(ctx context.Context, out chan<- Inbound) error {
	for {
		dg, err := t.conn.Receive()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				t.logger.Debug("receive loop stopped")
				return nil
			}
			select {
			case <-t.quit:
				return nil
			default:
			}
			t.logger.Warn("receiving datagram", zap.Error(err))
			continue
		}

		msg, err := protocol.Decode(dg.Payload)
		if err != nil {
			t.logger.Debug("dropping malformed datagram",
				zap.String("from", dg.From),
				zap.Int("bytes", len(dg.Payload)),
				zap.Error(err),
			)
			continue
		}

		select {
		case out <- Inbound{Message: msg, From: dg.From}:
		case <-ctx.Done():
			return nil
		case <-t.quit:
			return nil
		}
	}
}

// Close closes the underlying Conn, which unblocks ReceiveLoop. Idempotent.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.quit)
		err = t.conn.Close()
	})
	return err
}
