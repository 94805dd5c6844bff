package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
)

func TestFromEntry(t *testing.T) {
	entry := zeroconf.NewServiceEntry("tandem-alice", ServiceType, domain)
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	entry.Port = 8080
	entry.Text = txtRecords("alice")

	peer, ok := fromEntry(entry)
	assert.True(t, ok)
	assert.Equal(t, "alice", peer.Site)
	assert.Equal(t, "ws://192.168.1.20:8080/ws", peer.URL())
}

func TestFromEntry_IPv6AndMissingAddress(t *testing.T) {
	entry := zeroconf.NewServiceEntry("tandem-bob", ServiceType, domain)
	entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	entry.Port = 9000

	peer, ok := fromEntry(entry)
	assert.True(t, ok)
	assert.Equal(t, "ws://[fe80::1]:9000/ws", peer.URL())
	assert.Empty(t, peer.Site)

	_, ok = fromEntry(zeroconf.NewServiceEntry("empty", ServiceType, domain))
	assert.False(t, ok)
	_, ok = fromEntry(nil)
	assert.False(t, ok)
}
