package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/cory-johannsen/lanlobby/internal/config"
)

// UDPConn is a Conn backed by a UDP socket bound to the lobby port.
type UDPConn struct {
	pc        net.PacketConn
	port      int
	broadcast netip.Addr
	local     string
	maxSize   int
}

// ListenUDP binds the lobby port described by cfg.
//
// This is the only fatal initialization step of the lobby: a bind failure
// (typically the port already being in use) is returned to the caller before
// anything else starts.
//
// Precondition: cfg must have passed config validation.
// Postcondition: Returns a bound UDPConn or a non-nil error.
func ListenUDP(ctx context.Context, cfg config.NetworkConfig) (*UDPConn, error) {
	local := cfg.AdvertiseAddress
	if local == "" {
		local = OutboundIP()
	}

	var bcast netip.Addr
	if cfg.BroadcastAddress == "" {
		bcast = SubnetBroadcast(local)
	} else {
		addr, err := netip.ParseAddr(cfg.BroadcastAddress)
		if err != nil {
			return nil, fmt.Errorf("parsing broadcast address %q: %w", cfg.BroadcastAddress, err)
		}
		bcast = addr
	}

	lc := net.ListenConfig{Control: socketControl(cfg.ReuseAddress)}
	pc, err := lc.ListenPacket(ctx, "udp4", cfg.ListenAddr())
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", cfg.ListenAddr(), err)
	}

	port := cfg.Port
	if ua, ok := pc.LocalAddr().(*net.UDPAddr); ok {
		port = ua.Port
	}

	return &UDPConn{
		pc:        pc,
		port:      port,
		broadcast: bcast,
		local:     local,
		maxSize:   cfg.MaxDatagram,
	}, nil
}

// Port returns the bound UDP port.
func (u *UDPConn) Port() int {
	return u.port
}

// Broadcast returns the address broadcasts are sent to.
func (u *UDPConn) Broadcast() string {
	return u.broadcast.String()
}

// LocalAddr returns the advertised IP address of this peer.
func (u *UDPConn) LocalAddr() string {
	return u.local
}

// Send writes payload to the broadcast address or to dest's IP on the lobby port.
func (u *UDPConn) Send(payload []byte, dest Destination) error {
	ip := u.broadcast
	if !dest.IsBroadcast() {
		addr, err := netip.ParseAddr(dest.Addr())
		if err != nil {
			return fmt.Errorf("parsing peer address %q: %w", dest.Addr(), err)
		}
		ip = addr
	}
	if len(payload) > u.maxSize {
		return fmt.Errorf("payload of %d bytes exceeds max datagram size %d", len(payload), u.maxSize)
	}
	to := net.UDPAddrFromAddrPort(netip.AddrPortFrom(ip, uint16(u.port)))
	if _, err := u.pc.WriteTo(payload, to); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Receive blocks until a datagram arrives or the socket is closed.
func (u *UDPConn) Receive() (Datagram, error) {
	buf := make([]byte, u.maxSize)
	n, addr, err := u.pc.ReadFrom(buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return Datagram{}, ErrClosed
		}
		return Datagram{}, err
	}
	from := addr.String()
	if ua, ok := addr.(*net.UDPAddr); ok {
		from = ua.IP.String()
	}
	return Datagram{Payload: buf[:n], From: from}, nil
}

// Close closes the socket. A blocked Receive returns ErrClosed.
func (u *UDPConn) Close() error {
	return u.pc.Close()
}

// OutboundIP returns the IP of the interface used for outbound traffic, or
// 127.0.0.1 when no route exists. No packet is sent.
func OutboundIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if ua, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return ua.IP.String()
	}
	return "127.0.0.1"
}

// limitedBroadcast reaches every host on the local link regardless of subnet.
var limitedBroadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// SubnetBroadcast returns the directed broadcast address of the IPv4 subnet
// configured on the interface that carries local, or 255.255.255.255 when no
// interface does.
func SubnetBroadcast(local string) netip.Addr {
	ip, err := netip.ParseAddr(local)
	if err != nil || !ip.Is4() {
		return limitedBroadcast
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return limitedBroadcast
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			prefix, ok := ipv4Prefix(ipnet)
			if ok && prefix.Contains(ip) {
				return directedBroadcast(prefix)
			}
		}
	}
	return limitedBroadcast
}

func ipv4Prefix(ipnet *net.IPNet) (netip.Prefix, bool) {
	addr, ok := netip.AddrFromSlice(ipnet.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return netip.Prefix{}, false
	}
	ones, bits := ipnet.Mask.Size()
	if bits == 128 {
		ones -= 96
	}
	if ones < 0 || ones > 32 {
		return netip.Prefix{}, false
	}
	return netip.PrefixFrom(addr, ones), true
}

// directedBroadcast sets every host bit of p.
func directedBroadcast(p netip.Prefix) netip.Addr {
	a := p.Masked().Addr().As4()
	host := uint32((uint64(1) << (32 - p.Bits())) - 1)
	binary.BigEndian.PutUint32(a[:], binary.BigEndian.Uint32(a[:])|host)
	return netip.AddrFrom4(a)
}
