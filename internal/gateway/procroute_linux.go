//go:build linux

package gateway

import (
	"bufio"
	"encoding/binary"
	"os"
	"strconv"
	"strings"
)

// detectFromProcNetRoute implements spec §4.5 strategy 2: parse
// /proc/net/route directly, used when netlink is unavailable (e.g. no
// CAP_NET_ADMIN). The gateway field is always a little-endian
// hex-encoded IPv4 address regardless of host byte order, per the kernel's
// fib_trie proc format.
func detectFromProcNetRoute() string {
	f, err := os.Open("/proc/net/route")
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Scan() // header line
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		dest := fields[1]
		gw := fields[2]
		if dest != "00000000" {
			continue
		}
		raw, err := strconv.ParseUint(gw, 16, 32)
		if err != nil || raw == 0 {
			continue
		}
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(raw))
		return ipv4String(b)
	}
	return ""
}

func ipv4String(b [4]byte) string {
	return strconv.Itoa(int(b[0])) + "." + strconv.Itoa(int(b[1])) + "." + strconv.Itoa(int(b[2])) + "." + strconv.Itoa(int(b[3]))
}
