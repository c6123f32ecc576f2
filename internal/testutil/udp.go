// Package testutil provides test helpers for exercising lobby peers over
// real sockets.
package testutil

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/lanlobby/internal/config"
	"github.com/cory-johannsen/lanlobby/internal/protocol"
	"github.com/cory-johannsen/lanlobby/internal/transport"
)

// LoopbackNetwork returns a network config that binds ip on the loopback
// subnet. Port 0 picks a free port.
func LoopbackNetwork(ip string, port int) config.NetworkConfig {
	return config.NetworkConfig{
		Port:             port,
		BindHost:         ip,
		BroadcastAddress: "127.255.255.255",
		AdvertiseAddress: ip,
		MaxDatagram:      4096,
	}
}

// UDPPeer is a scripted lobby peer that speaks the wire protocol over a real
// UDP socket, so tests can drive a Coordinator from the outside.
type UDPPeer struct {
	tr    *transport.Transport
	port  int
	inbox chan transport.Inbound
	t     *testing.T
}

// NewUDPPeer binds ip:port and starts receiving.
//
// The test is skipped when ip cannot be bound, which happens on hosts that
// do not route the whole 127.0.0.0/8 block to loopback.
//
// Precondition: port must be the lobby port of the peer under test.
// Postcondition: Returns a receiving UDPPeer; it is closed on test cleanup.
func NewUDPPeer(t *testing.T, ip string, port int) *UDPPeer {
	t.Helper()
	start := time.Now()

	conn, err := transport.ListenUDP(context.Background(), LoopbackNetwork(ip, port))
	if err != nil {
		t.Skipf("cannot bind loopback peer %s:%d: %v", ip, port, err)
	}

	p := &UDPPeer{
		tr:    transport.New(conn, zaptest.NewLogger(t)),
		port:  conn.Port(),
		inbox: make(chan transport.Inbound, 64),
		t:     t,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.tr.ReceiveLoop(ctx, p.inbox)
	}()

	t.Cleanup(func() {
		cancel()
		_ = p.tr.Close()
		<-done
	})

	t.Logf("udp peer bound to %s:%d [%s]", ip, p.port, time.Since(start))
	return p
}

// Addr returns the address other peers use to reach this one.
func (p *UDPPeer) Addr() string {
	return p.tr.LocalAddr()
}

// Send writes msg to the peer at addr.
//
// Postcondition: msg was handed to the socket, or the test fails.
func (p *UDPPeer) Send(msg protocol.Message, addr string) {
	p.t.Helper()
	if err := p.tr.Send(msg, transport.To(addr)); err != nil {
		p.t.Fatalf("sending %s to %s: %v", msg.Kind(), addr, err)
	}
}

// Expect waits for the next message of the given kind, discarding others.
//
// Postcondition: Returns the matching message and its sender, or fails on timeout.
func (p *UDPPeer) Expect(kind protocol.Kind, timeout time.Duration) (protocol.Message, string) {
	p.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case in := <-p.inbox:
			if in.Message.Kind() == kind {
				return in.Message, in.From
			}
		case <-deadline:
			p.t.Fatalf("no %s message within %s", kind, timeout)
			return nil, ""
		}
	}
}
