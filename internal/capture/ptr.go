package capture

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// ptrResolver deduplicates reverse-DNS lookups for a single ingest engine,
// in the manner of doublezero's ttlcache.Cache-backed providers
// (controlplane/telemetry/internal/data/device/provider.go): a lookup
// recently completed for an IP is not repeated. The cache is filled only
// when a lookup finishes, so lookups still in flight are not deduplicated.
type ptrResolver struct {
	cache   *ttlcache.Cache[string, string]
	timeout time.Duration
	log     *slog.Logger
}

func newPTRResolver(ttl, timeout time.Duration, log *slog.Logger) *ptrResolver {
	cache := ttlcache.New[string, string](ttlcache.WithTTL[string, string](ttl))
	go cache.Start()
	return &ptrResolver{cache: cache, timeout: timeout, log: log}
}

// lookup spawns a non-blocking PTR resolution for ip with the resolver's
// timeout (spec §4.3 "spawn a non-blocking PTR lookup with 2-second
// timeout"); onResolved is invoked from a new goroutine once a hostname is
// found. Repeated lookups for the same ip within the cache TTL return the
// cached hostname (or cached absence) without touching the network again.
func (r *ptrResolver) lookup(ip string, onResolved func(hostname string)) {
	if item := r.cache.Get(ip); item != nil {
		if hostname := item.Value(); hostname != "" {
			onResolved(hostname)
		}
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		names, err := net.DefaultResolver.LookupAddr(ctx, ip)
		hostname := ""
		if err != nil {
			r.log.Debug("ptr lookup failed", "ip", ip, "err", err)
		} else if len(names) > 0 {
			hostname = names[0]
		}
		r.cache.Set(ip, hostname, ttlcache.DefaultTTL)
		if hostname != "" {
			onResolved(hostname)
		}
	}()
}

func (r *ptrResolver) stop() {
	r.cache.Stop()
}
