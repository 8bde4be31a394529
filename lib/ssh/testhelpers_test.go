package ssh

import (
	"crypto/rand"
	"net"
	"testing"
)

// newTestPacketConnPair returns two unencrypted packetConns wired over an
// in-memory net.Pipe, standing in for the post-banner, pre-kex transport
// the auth/channel layers are exercised against in isolation.
func newTestPacketConnPair(t *testing.T) (client *packetConn, server *packetConn) {
	t.Helper()
	c, s := net.Pipe()
	t.Cleanup(func() { c.Close(); s.Close() })
	return newPacketConn(c, rand.Reader, nil), newPacketConn(s, rand.Reader, nil)
}
