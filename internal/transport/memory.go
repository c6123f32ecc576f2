package transport

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAddressInUse is returned by MemoryNetwork.Attach for an address that is
// already attached.
var ErrAddressInUse = errors.New("transport: address already in use")

// LinkFilter decides whether a datagram from one address reaches another.
// Returning false drops it.
type LinkFilter func(from, to string, payload []byte) bool

// MemoryNetwork is an in-process broadcast domain. It mimics a LAN segment:
// broadcasts reach every attached Conn including the sender, unicasts to an
// unknown address vanish, and a receiver whose queue is full loses the datagram.
type MemoryNetwork struct {
	mu     sync.RWMutex
	conns  map[string]*MemoryConn
	filter LinkFilter
}

// NewMemoryNetwork returns an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{conns: make(map[string]*MemoryConn)}
}

// Attach creates a Conn reachable at addr.
//
// Precondition: addr must be non-empty; queue must be > 0.
// Postcondition: Returns a Conn, or ErrAddressInUse if addr is attached.
func (n *MemoryNetwork) Attach(addr string, queue int) (*MemoryConn, error) {
	if addr == "" {
		return nil, errors.New("transport: empty address")
	}
	if queue <= 0 {
		queue = 64
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.conns[addr]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAddressInUse, addr)
	}
	c := &MemoryConn{
		addr:  addr,
		net:   n,
		queue: make(chan Datagram, queue),
		done:  make(chan struct{}),
	}
	n.conns[addr] = c
	return c, nil
}

// SetFilter installs fn for every subsequent delivery. A nil fn delivers everything.
func (n *MemoryNetwork) SetFilter(fn LinkFilter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.filter = fn
}

func (n *MemoryNetwork) detach(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.conns, addr)
}

func (n *MemoryNetwork) deliver(from string, payload []byte, dest Destination) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if dest.IsBroadcast() {
		for _, c := range n.conns {
			n.deliverTo(c, from, payload)
		}
		return
	}
	if c, ok := n.conns[dest.Addr()]; ok {
		n.deliverTo(c, from, payload)
	}
}

func (n *MemoryNetwork) deliverTo(c *MemoryConn, from string, payload []byte) {
	if n.filter != nil && !n.filter(from, c.addr, payload) {
		return
	}
	dg := Datagram{Payload: append([]byte(nil), payload...), From: from}
	select {
	case c.queue <- dg:
	default:
	}
}

// MemoryConn is a Conn attached to a MemoryNetwork.
type MemoryConn struct {
	addr  string
	net   *MemoryNetwork
	queue chan Datagram

	closeOnce sync.Once
	done      chan struct{}
}

// LocalAddr returns the attached address.
func (c *MemoryConn) LocalAddr() string {
	return c.addr
}

// Send delivers payload to dest on the network.
func (c *MemoryConn) Send(payload []byte, dest Destination) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.net.deliver(c.addr, payload, dest)
	return nil
}

// Receive blocks until a datagram is queued or the Conn is closed.
func (c *MemoryConn) Receive() (Datagram, error) {
	select {
	case <-c.done:
		return Datagram{}, ErrClosed
	default:
	}
	select {
	case dg := <-c.queue:
		return dg, nil
	case <-c.done:
		return Datagram{}, ErrClosed
	}
}

// Close detaches the Conn and unblocks Receive. Idempotent.
func (c *MemoryConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.net.detach(c.addr)
	})
	return nil
}
