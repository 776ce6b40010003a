package utils

import (
	"net"
	"strings"
)

// DefaultSegment is used when no private IPv4 address is found.
const DefaultSegment = "default"

var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

type iface struct {
	name  string
	addrs []net.IP
}

func upInterfaces() []iface {
	list, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []iface
	for _, it := range list {
		if it.Flags&net.FlagUp == 0 || it.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := it.Addrs()
		if err != nil {
			continue
		}
		f := iface{name: it.Name}
		for _, a := range addrs {
			switch v := a.(type) {
			case *net.IPNet:
				f.addrs = append(f.addrs, v.IP)
			case *net.IPAddr:
				f.addrs = append(f.addrs, v.IP)
			}
		}
		out = append(out, f)
	}
	return out
}

// ShouldForceRelay reports whether the host looks to be behind a VPN or
// CGNAT, where direct candidates rarely work and TURN should be forced.
func ShouldForceRelay() bool {
	return forceRelay(upInterfaces())
}

func forceRelay(ifaces []iface) bool {
	for _, f := range ifaces {
		name := strings.ToLower(f.name)
		for _, marker := range []string{"tun", "tap", "wg", "ppp", "warp"} {
			if strings.Contains(name, marker) {
				return true
			}
		}
		for _, ip := range f.addrs {
			if cgnat.Contains(ip) {
				return true
			}
		}
	}
	return false
}

// LocalSegment returns the first three octets of the first private IPv4
// address, such as "192.168.1", or DefaultSegment.
func LocalSegment() string {
	return segment(upInterfaces())
}

func segment(ifaces []iface) string {
	for _, f := range ifaces {
		for _, ip := range f.addrs {
			v4 := ip.To4()
			if v4 == nil || !v4.IsPrivate() {
				continue
			}
			parts := strings.Split(v4.String(), ".")
			return strings.Join(parts[:3], ".")
		}
	}
	return DefaultSegment
}

// LANRoom is the room joined automatically for the local segment.
func LANRoom(segment string) string {
	if segment == "" {
		segment = DefaultSegment
	}
	return "lan_" + segment
}
