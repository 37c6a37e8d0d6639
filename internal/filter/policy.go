// Package filter holds the process-wide Filter Policy: which address
// categories are dropped on ingest, plus advisory counters surfaced to the
// UI. Loaded once at startup and immutable for the session (spec §4.2).
package filter

import (
	"sync/atomic"

	"github.com/DangSage/TLScope-sub001/internal/address"
)

// HTTPPorts are the TCP ports filtered when the HTTP category is enabled;
// matching either endpoint is sufficient (spec §4.3 step 3: "80, 443,
// 8080, 8443 on either side"). 8443 is filtered like the rest, resolving
// its overlap with the TLSPeer port (spec §4.3 step 4) in the HTTP
// filter's favor: a connection already marked TLSPeer before the operator
// enables the HTTP filter keeps its sticky flag (reclassification never
// downgrades it), but new 8443 traffic is dropped at applyFilters before
// it ever reaches observe_connection/MarkTLSPeer while the filter is on.
var HTTPPorts = map[uint16]bool{80: true, 443: true, 8080: true, 8443: true}

// Policy is immutable after construction; only the counters mutate, and
// they use relaxed atomics since exact precision isn't required (spec §4.2,
// §5 "Filter counters use relaxed atomics").
type Policy struct {
	FilterLoopback  bool
	FilterBroadcast bool
	FilterMulticast bool
	FilterLinkLocal bool
	FilterReserved  bool
	FilterHTTP      bool
	FilterNonLocal  bool
	BlockDuplicateIP bool

	totalFiltered           atomic.Uint64
	nonLocalTrafficFiltered atomic.Uint64
	httpTrafficFiltered     atomic.Uint64
	duplicatesBlocked       atomic.Uint64
}

// Default returns the policy TLScope ships with: filter the obvious
// non-host categories, leave non-local traffic and HTTP visible, and
// enforce the duplicate-IP invariant.
func Default() *Policy {
	return &Policy{
		FilterLoopback:   true,
		FilterBroadcast:  true,
		FilterMulticast:  true,
		FilterLinkLocal:  true,
		FilterReserved:   true,
		FilterHTTP:       false,
		FilterNonLocal:   false,
		BlockDuplicateIP: true,
	}
}

func (p *Policy) flags() address.FilterFlags {
	return address.FilterFlags{
		Loopback:  p.FilterLoopback,
		Broadcast: p.FilterBroadcast,
		Multicast: p.FilterMulticast,
		LinkLocal: p.FilterLinkLocal,
		Reserved:  p.FilterReserved,
	}
}

// RejectUtility reports whether ip should be dropped as utility traffic,
// incrementing the total-filtered counter when it is.
func (p *Policy) RejectUtility(ip string) bool {
	if address.IsUtility(ip, p.flags()) {
		p.totalFiltered.Add(1)
		return true
	}
	return false
}

// IsUtility reports whether ip is a utility address under the current
// flags, without touching the filter counters. Callers that already
// rejected via RejectUtility use this to distinguish "rejected because
// utility" from "rejected for another reason" (spec §7 kind 3: a
// utility-IP rejection produces no vertex at all, not even a virtual
// one).
func (p *Policy) IsUtility(ip string) bool {
	return address.IsUtility(ip, p.flags())
}

// RejectNonLocal reports whether ip should be dropped because the policy
// requires both endpoints to be local and ip is not.
func (p *Policy) RejectNonLocal(ip string) bool {
	if !p.FilterNonLocal {
		return false
	}
	if address.IsLocal(ip) {
		return false
	}
	p.nonLocalTrafficFiltered.Add(1)
	p.totalFiltered.Add(1)
	return true
}

// RejectHTTP reports whether a flow on srcPort/dstPort should be dropped
// because the HTTP filter is enabled and either port matches.
func (p *Policy) RejectHTTP(srcPort, dstPort uint16) bool {
	if !p.FilterHTTP {
		return false
	}
	if HTTPPorts[srcPort] || HTTPPorts[dstPort] {
		p.httpTrafficFiltered.Add(1)
		p.totalFiltered.Add(1)
		return true
	}
	return false
}

// RejectDuplicateIP reports whether an observation should be dropped
// because the policy blocks duplicate IP ownership and mac does not match
// the existing holder of ip.
func (p *Policy) RejectDuplicateIP(holderMAC, observedMAC string) bool {
	if !p.BlockDuplicateIP {
		return false
	}
	if holderMAC == "" || holderMAC == observedMAC {
		return false
	}
	p.duplicatesBlocked.Add(1)
	p.totalFiltered.Add(1)
	return true
}

// Counters is a point-in-time snapshot of the advisory filter counters.
type Counters struct {
	TotalFiltered           uint64
	NonLocalTrafficFiltered uint64
	HTTPTrafficFiltered     uint64
	DuplicatesBlocked       uint64
}

// Snapshot returns the current counter values.
func (p *Policy) Snapshot() Counters {
	return Counters{
		TotalFiltered:           p.totalFiltered.Load(),
		NonLocalTrafficFiltered: p.nonLocalTrafficFiltered.Load(),
		HTTPTrafficFiltered:     p.httpTrafficFiltered.Load(),
		DuplicatesBlocked:       p.duplicatesBlocked.Load(),
	}
}
