package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/mdns"
)

// Browse queries the network for gateways until timeout elapses or ctx is
// done.
func Browse(ctx context.Context, timeout time.Duration) ([]Gateway, error) {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	entries := make(chan *mdns.ServiceEntry, 16)
	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	done := make(chan error, 1)
	go func() {
		done <- mdns.Query(params)
		close(entries)
	}()

	var found []Gateway
	seen := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		case e, ok := <-entries:
			if !ok {
				if err := <-done; err != nil {
					return found, fmt.Errorf("mdns query: %w", err)
				}
				return found, nil
			}
			g := gatewayFromEntry(e)
			if seen[g.Name] {
				continue
			}
			seen[g.Name] = true
			found = append(found, g)
		}
	}
}
