// Package multicast sends the single-byte UDP "done" ping the image
// collector fires after persisting a part's frames, so the dashboard
// front-end knows to refresh.
package multicast

import (
	"fmt"
	"net"
	"syscall"
)

// Ping is the fixed datagram payload: a single ASCII "1".
const Ping = "1"

// Pinger sends the completion datagram to a fixed multicast group/port,
// optionally bound to a specific outbound interface.
type Pinger struct {
	conn *net.UDPConn
}

// NewPinger dials group:port as UDP and sets the outbound multicast TTL.
// If iface is non-empty, the socket is bound to that interface's address
// so multi-homed hosts send on the intended NIC.
func NewPinger(group string, port int, iface string, ttl int) (*Pinger, error) {
	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", group, port))
	if err != nil {
		return nil, fmt.Errorf("multicast: resolving %s:%d: %w", group, port, err)
	}
	var laddr *net.UDPAddr
	if iface != "" {
		laddr, err = net.ResolveUDPAddr("udp", iface+":0")
		if err != nil {
			return nil, fmt.Errorf("multicast: resolving interface %q: %w", iface, err)
		}
	}
	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("multicast: dial %s:%d: %w", group, port, err)
	}
	if ttl > 0 {
		if err := setMulticastTTL(conn, ttl); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return &Pinger{conn: conn}, nil
}

func (p *Pinger) Close() error {
	return p.conn.Close()
}

// Send writes the single-character completion ping.
func (p *Pinger) Send() error {
	if _, err := p.conn.Write([]byte(Ping)); err != nil {
		return fmt.Errorf("multicast: send ping: %w", err)
	}
	return nil
}

// setMulticastTTL sets IP_MULTICAST_TTL on the underlying socket. The
// default deployment uses TTL 1 so the ping stays link-local.
func setMulticastTTL(conn *net.UDPConn, ttl int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("multicast: accessing raw conn: %w", err)
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_MULTICAST_TTL, ttl)
	})
	if err != nil {
		return fmt.Errorf("multicast: control: %w", err)
	}
	if sockErr != nil {
		return fmt.Errorf("multicast: setting multicast ttl: %w", sockErr)
	}
	return nil
}
