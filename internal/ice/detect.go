package ice

import (
	"net"
	"strings"
)

// cgnat covers 100.64.0.0/10, used by carrier NATs, Cloudflare WARP and
// Tailscale. Direct paths from these ranges rarely succeed.
var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

var vpnNames = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

// Interface is the part of a network interface relay detection looks at.
type Interface struct {
	Name     string
	Up       bool
	Loopback bool
	IPs      []net.IP
}

// ShouldForceRelay reports whether this host looks like it sits behind a
// VPN or CGNAT, in which case relay-only ICE is used.
func ShouldForceRelay() bool {
	return behindRestrictiveNAT(systemInterfaces())
}

func behindRestrictiveNAT(ifaces []Interface) bool {
	for _, iface := range ifaces {
		if !iface.Up || iface.Loopback {
			continue
		}

		name := strings.ToLower(iface.Name)
		for _, hint := range vpnNames {
			if strings.Contains(name, hint) {
				return true
			}
		}

		for _, ip := range iface.IPs {
			if cgnat.Contains(ip) {
				return true
			}
		}
	}
	return false
}

func systemInterfaces() []Interface {
	sys, err := net.Interfaces()
	if err != nil {
		return nil
	}

	out := make([]Interface, 0, len(sys))
	for _, iface := range sys {
		entry := Interface{
			Name:     iface.Name,
			Up:       iface.Flags&net.FlagUp != 0,
			Loopback: iface.Flags&net.FlagLoopback != 0,
		}
		addrs, err := iface.Addrs()
		if err == nil {
			for _, addr := range addrs {
				switch v := addr.(type) {
				case *net.IPNet:
					entry.IPs = append(entry.IPs, v.IP)
				case *net.IPAddr:
					entry.IPs = append(entry.IPs, v.IP)
				}
			}
		}
		out = append(out, entry)
	}
	return out
}
