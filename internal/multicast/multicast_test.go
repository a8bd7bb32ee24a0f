package multicast

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPingerSendsPayload(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer listener.Close()

	port := listener.LocalAddr().(*net.UDPAddr).Port
	p, err := NewPinger("127.0.0.1", port, "", 0)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Send())

	buf := make([]byte, 8)
	n, _, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, Ping, string(buf[:n]))
}

func TestNewPingerRejectsUnresolvableGroup(t *testing.T) {
	_, err := NewPinger("not a host\x00", 9999, "", 1)
	require.Error(t, err)
}
