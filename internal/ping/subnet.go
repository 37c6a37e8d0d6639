package ping

import (
	"fmt"
	"net"
	"strings"
)

// SubnetBaseForInterface auto-detects the /24 base (first three octets)
// from the named interface's IPv4 address (spec §4.4 "auto-detected from
// active interface's IPv4 address").
func SubnetBaseForInterface(name string) (string, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return "", fmt.Errorf("ping: interface %s: %w", name, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return "", fmt.Errorf("ping: addresses for %s: %w", name, err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		octets := strings.Split(ip4.String(), ".")
		return strings.Join(octets[:3], "."), nil
	}
	return "", fmt.Errorf("ping: no IPv4 address on interface %s", name)
}
