package radio

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// iioService is the mDNS service type advertised by IIOD daemons.
const iioService = "_iio._tcp"

// Endpoint is one discovered IIOD daemon on the local network.
type Endpoint struct {
	Instance  string   `json:"instance"`
	Hostname  string   `json:"hostname"`
	Addresses []net.IP `json:"addresses"`
	Port      int      `json:"port"`
}

// URI returns the endpoint in the host:port form accepted by DialPluto.
func (e Endpoint) URI() string {
	if len(e.Addresses) == 0 {
		return fmt.Sprintf("%s:%d", strings.TrimSuffix(e.Hostname, "."), e.Port)
	}
	return fmt.Sprintf("%s:%d", e.Addresses[0], e.Port)
}

// Discover browses mDNS for IIOD endpoints until the timeout elapses and
// returns the deduplicated results sorted by hostname.
func Discover(ctx context.Context, timeout time.Duration) ([]Endpoint, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(map[string]Endpoint)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			if e == nil {
				continue
			}
			addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
			addrs = append(addrs, e.AddrIPv4...)
			addrs = append(addrs, e.AddrIPv6...)
			key := fmt.Sprintf("%s|%d", e.HostName, e.Port)
			found[key] = Endpoint{
				Instance:  strings.ReplaceAll(e.Instance, `\ `, " "),
				Hostname:  e.HostName,
				Addresses: addrs,
				Port:      e.Port,
			}
		}
	}()

	if err := resolver.Browse(ctx, iioService, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	<-ctx.Done()
	<-done

	out := make([]Endpoint, 0, len(found))
	for _, e := range found {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out, nil
}
