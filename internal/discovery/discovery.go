// Package discovery advertises and finds tandem servers on the local
// network with mDNS (DNS-SD).
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service tandem servers register.
const ServiceType = "_tandem._tcp"

const domain = "local."

// Peer is a discovered server.
type Peer struct {
	Instance string
	Site     string
	Host     string
	Port     int
}

// URL returns the peer's WebSocket endpoint.
func (p Peer) URL() string {
	return fmt.Sprintf("ws://%s/ws", net.JoinHostPort(p.Host, strconv.Itoa(p.Port)))
}

// Advertise registers a server for site on port until ctx ends.
func Advertise(ctx context.Context, site string, port int) error {
	instance := "tandem-" + site
	server, err := zeroconf.Register(instance, ServiceType, domain, port, txtRecords(site), nil)
	if err != nil {
		return fmt.Errorf("register mDNS service: %w", err)
	}
	slog.Info("mDNS service registered", "instance", instance, "port", port)
	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()
	return nil
}

// Browse collects peers until ctx ends and returns them.
func Browse(ctx context.Context) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("initialize mDNS resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	var peers []Peer
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			peer, ok := fromEntry(entry)
			if !ok {
				continue
			}
			slog.Debug("mDNS discovered peer", "instance", peer.Instance, "url", peer.URL())
			peers = append(peers, peer)
		}
	}()
	if err := resolver.Browse(ctx, ServiceType, domain, entries); err != nil {
		return nil, fmt.Errorf("browse mDNS services: %w", err)
	}
	<-ctx.Done()
	// The resolver closes entries once the browse context is done.
	<-done
	return peers, nil
}

func txtRecords(site string) []string {
	return []string{"txtv=1", "site=" + site}
}

func fromEntry(e *zeroconf.ServiceEntry) (Peer, bool) {
	if e == nil {
		return Peer{}, false
	}
	var host string
	switch {
	case len(e.AddrIPv4) > 0:
		host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		host = e.AddrIPv6[0].String()
	case e.HostName != "":
		host = strings.TrimSuffix(e.HostName, ".")
	default:
		return Peer{}, false
	}
	return Peer{
		Instance: e.Instance,
		Site:     siteFromText(e.Text),
		Host:     host,
		Port:     e.Port,
	}, true
}

func siteFromText(txt []string) string {
	for _, kv := range txt {
		if v, ok := strings.CutPrefix(kv, "site="); ok {
			return v
		}
	}
	return ""
}
