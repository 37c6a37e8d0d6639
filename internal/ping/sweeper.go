// Package ping is the Ping Sweeper (spec §4.4): a bounded-concurrency ICMP
// echo sweep of a /24 that seeds the Topology Graph with hosts that never
// transmit a packet of their own. The concurrency gate follows
// doublezero's internal/probing.SemaphoreLimiter; the echo itself follows
// internal/latency/ping.go's prometheus-community/pro-bing usage.
package ping

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/DangSage/TLScope-sub001/internal/address"
)

// Config configures a single sweep.
type Config struct {
	// SubnetBase is "A.B.C"; combined with StartHost/EndHost to form the
	// address range swept.
	SubnetBase string
	StartHost  int
	EndHost    int

	// Timeout is the per-probe deadline (spec §4.4 default 500ms).
	Timeout time.Duration
	// Concurrency bounds in-flight probes (spec §4.4 default 50).
	Concurrency int
}

// Validate applies spec §4.4's defaults and range checks.
func (c *Config) Validate() error {
	if c.SubnetBase == "" {
		return fmt.Errorf("ping: subnet base is required")
	}
	if c.StartHost <= 0 {
		c.StartHost = 1
	}
	if c.EndHost <= 0 || c.EndHost > 254 {
		c.EndHost = 254
	}
	if c.StartHost > c.EndHost {
		return fmt.Errorf("ping: start host %d after end host %d", c.StartHost, c.EndHost)
	}
	if c.Timeout <= 0 {
		c.Timeout = 500 * time.Millisecond
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 50
	}
	return nil
}

// Result is a single responding host, emitted in arrival order (spec
// §4.4).
type Result struct {
	IP    string
	RTT   time.Duration
}

// Summary is emitted once a sweep completes.
type Summary struct {
	Subnet          string
	ResponsiveHosts int
	TotalScanned    int
	Duration        time.Duration
}

// Sweeper runs one-shot ICMP sweeps under a bounded semaphore, in the
// manner of internal/probing.SemaphoreLimiter.
type Sweeper struct {
	log *slog.Logger
}

// New returns a Sweeper; log defaults to slog.Default() if nil.
func New(log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{log: log}
}

// Sweep scans cfg's host range, sending results on the returned channel in
// arrival order and closing it when the sweep completes. onDone, if
// non-nil, is invoked once with the sweep's Summary just before the
// channel closes.
func (s *Sweeper) Sweep(ctx context.Context, cfg Config, onDone func(Summary)) (<-chan Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sem := make(chan struct{}, cfg.Concurrency)
	out := make(chan Result, cfg.Concurrency)

	candidates := make([]string, 0, cfg.EndHost-cfg.StartHost+1)
	for host := cfg.StartHost; host <= cfg.EndHost; host++ {
		ip := fmt.Sprintf("%s.%d", cfg.SubnetBase, host)
		if address.IsUtility(ip, address.FilterFlags{Loopback: true, Broadcast: true, Multicast: true, LinkLocal: true, Reserved: true}) {
			continue
		}
		candidates = append(candidates, ip)
	}

	go func() {
		defer close(out)
		start := time.Now()
		var wg sync.WaitGroup
		var responded int
		var mu sync.Mutex

		for _, ip := range candidates {
			select {
			case <-ctx.Done():
				wg.Wait()
				if onDone != nil {
					onDone(Summary{Subnet: cfg.SubnetBase, ResponsiveHosts: responded, TotalScanned: len(candidates), Duration: time.Since(start)})
				}
				return
			case sem <- struct{}{}:
			}

			wg.Add(1)
			go func(ip string) {
				defer wg.Done()
				defer func() { <-sem }()

				rtt, ok := s.probe(ctx, ip, cfg.Timeout)
				if !ok {
					return
				}
				mu.Lock()
				responded++
				mu.Unlock()
				select {
				case out <- Result{IP: ip, RTT: rtt}:
				case <-ctx.Done():
				}
			}(ip)
		}

		wg.Wait()
		if onDone != nil {
			onDone(Summary{Subnet: cfg.SubnetBase, ResponsiveHosts: responded, TotalScanned: len(candidates), Duration: time.Since(start)})
		}
	}()

	return out, nil
}

// probe sends a single ICMP echo to ip with the given timeout, in the
// style of internal/latency/ping.go's udpPing.
func (s *Sweeper) probe(ctx context.Context, ip string, timeout time.Duration) (time.Duration, bool) {
	p, err := probing.NewPinger(ip)
	if err != nil {
		s.log.Debug("ping: pinger create failed", "ip", ip, "err", err)
		return 0, false
	}
	p.SetPrivileged(true)
	p.Count = 1
	p.Timeout = timeout

	done := make(chan struct{})
	go func() { _ = p.Run(); close(done) }()
	select {
	case <-ctx.Done():
		p.Stop()
		<-done
	case <-done:
	}

	stats := p.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, false
	}
	return stats.AvgRtt, true
}
