package capture

import "strings"

// ouiVendors maps the first three octets of a MAC (colon-separated,
// lowercase) to a manufacturer name, in the manner of the cerberus-style
// ouiDB lookup table: a flat map keyed by OUI prefix; an unlisted prefix
// has no vendor. This is a small seed list, not a full IEEE registry dump.
var ouiVendors = map[string]string{
	"00:1a:11": "Google",
	"3c:5a:b4": "Google",
	"b8:27:eb": "Raspberry Pi Foundation",
	"dc:a6:32": "Raspberry Pi Foundation",
	"e4:5f:01": "Raspberry Pi Foundation",
	"00:50:56": "VMware",
	"00:0c:29": "VMware",
	"08:00:27": "Oracle VirtualBox",
	"52:54:00": "QEMU/KVM",
	"00:1b:63": "Apple",
	"3c:07:54": "Apple",
	"a4:83:e7": "Apple",
	"f0:18:98": "Apple",
	"00:17:88": "Philips Hue",
	"00:04:4b": "NVIDIA",
	"00:15:5d": "Microsoft (Hyper-V)",
	"00:1c:42": "Parallels",
	"f4:f5:e8": "Google",
	"b4:75:0e": "TP-Link",
	"50:c7:bf": "TP-Link",
	"ac:84:c6": "TP-Link",
	"e8:48:b8": "Netgear",
	"a0:40:a0": "Netgear",
	"00:14:bf": "Cisco-Linksys",
}

// vendorForMAC returns a best-effort manufacturer name for mac, derived
// from its OUI prefix, or "" if the prefix is unrecognized.
func vendorForMAC(mac string) string {
	lc := strings.ToLower(mac)
	if len(lc) < 8 {
		return ""
	}
	prefix := lc[:8]
	return ouiVendors[prefix]
}
