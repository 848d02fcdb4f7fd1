package dispatch

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/agentic-research/frpfleet/api"
)

// DefaultProbeTimeout bounds the cost of a single unreachable endpoint.
const DefaultProbeTimeout = 3 * time.Second

// Probe checks TCP reachability of addr within the context deadline.
func Probe(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}
	_ = conn.Close() // ignore error
	return nil
}

// ProbeItem builds a dispatcher item probing one config's endpoint.
// The per-item timeout is mandatory for probes: a stuck target costs at
// most the timeout, never the batch.
func ProbeItem(entry api.ConfigEntry, timeout time.Duration) Item {
	addr := entry.ProbeAddr()
	return Item{
		ID: entry.Path,
		Run: WithTimeout(func(ctx context.Context) error {
			if addr == "" {
				return fmt.Errorf("no probe address (kind %q)", entry.Kind)
			}
			return Probe(ctx, addr)
		}, timeout),
	}
}

// ProbeItems builds probe items for a whole selection.
func ProbeItems(entries []api.ConfigEntry, timeout time.Duration) []Item {
	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		items = append(items, ProbeItem(entry, timeout))
	}
	return items
}
