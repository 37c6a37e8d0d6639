//go:build !linux

package gateway

// detectFromProcNetRoute is a no-op outside Linux; strategy 2 of spec
// §4.5 falls through to ARP-diversity/packet-count on other platforms.
func detectFromProcNetRoute() string {
	return ""
}
