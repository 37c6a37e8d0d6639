// Package address classifies IPv4 addresses and MAC addresses into the
// categories TLScope's ingest and graph layers need: utility (not a real
// host), local (private/RFC1918), or routable.
package address

import (
	"net"
	"strings"
)

// FilterFlags selects which utility categories observe_device and the
// ingest pipeline should reject. Each flag corresponds to a Filter Policy
// toggle (spec §4.2).
type FilterFlags struct {
	Loopback  bool
	Broadcast bool
	Multicast bool
	LinkLocal bool
	Reserved  bool
}

var (
	_, loopbackNet   = mustParseCIDR("127.0.0.0/8")
	_, multicastNet  = mustParseCIDR("224.0.0.0/4")
	_, linkLocalNet  = mustParseCIDR("169.254.0.0/16")
	_, reservedNet   = mustParseCIDR("240.0.0.0/4")
	_, rfc1918TenNet = mustParseCIDR("10.0.0.0/8")
	_, rfc1918ABNet  = mustParseCIDR("172.16.0.0/12")
	_, rfc1918CNet   = mustParseCIDR("192.168.0.0/16")
	_, cgnatNet      = mustParseCIDR("100.64.0.0/10")
)

func mustParseCIDR(cidr string) (net.IP, *net.IPNet) {
	ip, n, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	return ip, n
}

// IsUtility reports whether ip is a non-host address: loopback, the
// all-zeros or broadcast address, multicast, link-local, or a reserved
// block. The all-zeros and broadcast addresses are always utility; every
// other category is gated by the corresponding flag so the caller's
// Filter Policy can selectively disable a check.
func IsUtility(ip string, flags FilterFlags) bool {
	parsed := net.ParseIP(ip).To4()
	if parsed == nil {
		return false
	}

	if parsed.Equal(net.IPv4zero) || parsed.Equal(net.IPv4bcast) {
		return true
	}
	if flags.Loopback && loopbackNet.Contains(parsed) {
		return true
	}
	if flags.Broadcast && parsed.Equal(net.IPv4bcast) {
		return true
	}
	if flags.Multicast && multicastNet.Contains(parsed) {
		return true
	}
	if flags.LinkLocal && linkLocalNet.Contains(parsed) {
		return true
	}
	if flags.Reserved && reservedNet.Contains(parsed) {
		return true
	}
	return false
}

// FilterReason returns a short human-readable tag describing why ip would
// be filtered, for use in debug logs only; it never affects control flow.
func FilterReason(ip string) string {
	parsed := net.ParseIP(ip).To4()
	if parsed == nil {
		return "unparseable"
	}
	switch {
	case parsed.Equal(net.IPv4zero):
		return "unspecified"
	case parsed.Equal(net.IPv4bcast):
		return "broadcast"
	case loopbackNet.Contains(parsed):
		return "loopback"
	case multicastNet.Contains(parsed):
		return "multicast"
	case linkLocalNet.Contains(parsed):
		return "link-local"
	case reservedNet.Contains(parsed):
		return "reserved"
	default:
		return "none"
	}
}

// IsLocal reports whether ip falls in a private (RFC1918) or CGNAT
// (RFC6598) range.
func IsLocal(ip string) bool {
	parsed := net.ParseIP(ip).To4()
	if parsed == nil {
		return false
	}
	return rfc1918TenNet.Contains(parsed) ||
		rfc1918ABNet.Contains(parsed) ||
		rfc1918CNet.Contains(parsed) ||
		cgnatNet.Contains(parsed)
}

// utilityMACPrefixes are locally-administered and virtualization OUI
// prefixes that capture libraries attach to loopback/tunnel pseudo-devices;
// traffic on these MACs does not represent a real host.
var utilityMACPrefixes = []string{
	"02:00:00", // common locally-administered placeholder
	"00:00:00", // unassigned / often loopback pseudo-device
}

// IsUtilityMAC reports whether mac is all-zero, the broadcast address, an
// IPv4 or IPv6 multicast MAC, or a locally-administered/virtualization
// prefix. Comparison is case-insensitive.
func IsUtilityMAC(mac string) bool {
	lc := strings.ToLower(strings.TrimSpace(mac))
	if lc == "" {
		return false
	}
	if lc == "00:00:00:00:00:00" || lc == "ff:ff:ff:ff:ff:ff" {
		return true
	}
	if strings.HasPrefix(lc, "01:00:5e") { // IPv4 multicast
		return true
	}
	if strings.HasPrefix(lc, "33:33") { // IPv6 multicast
		return true
	}
	for _, prefix := range utilityMACPrefixes {
		if strings.HasPrefix(lc, prefix) {
			return true
		}
	}
	return false
}

// CanonicalMAC lowercases and trims a MAC so it can be used as a graph
// index key; it does not validate the format.
func CanonicalMAC(mac string) string {
	return strings.ToLower(strings.TrimSpace(mac))
}
