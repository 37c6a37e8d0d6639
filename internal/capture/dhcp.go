package capture

import (
	"fmt"
	"net"
)

// dhcpOffer is the pair of fields spec §4.3/§6 DHCP snooping extracts from
// a BOOTP payload: the offered IP (yiaddr, offset 16) and the client MAC
// (chaddr, offset 28, first 6 bytes).
type dhcpOffer struct {
	IP  string
	MAC string
}

// parseDHCP extracts yiaddr/chaddr from a BOOTP payload at the fixed
// offsets spec §6 names; it returns false for anything shorter than the
// minimum 240-byte payload the spec requires (spec §8 "payload of length
// 239 yields no observation").
func parseDHCP(payload []byte) (dhcpOffer, bool) {
	const minLen = 240
	if len(payload) < minLen {
		return dhcpOffer{}, false
	}

	yiaddr := net.IP(payload[16:20]).String()
	chaddr := payload[28:34]
	mac := fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		chaddr[0], chaddr[1], chaddr[2], chaddr[3], chaddr[4], chaddr[5])

	if yiaddr == "0.0.0.0" {
		return dhcpOffer{}, false
	}
	return dhcpOffer{IP: yiaddr, MAC: mac}, true
}
