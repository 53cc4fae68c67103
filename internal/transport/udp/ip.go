package udp

import "net"

// UnknownIP is returned when no usable address exists.
const UnknownIP = "unknown"

// LocalIPv4 returns the first non-loopback IPv4 address of any interface, for
// display to the operator.
func LocalIPv4() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return UnknownIP
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if ip := firstIPv4(addrs); ip != "" {
			return ip
		}
	}
	return UnknownIP
}

func firstIPv4(addrs []net.Addr) string {
	for _, addr := range addrs {
		var ip net.IP
		switch a := addr.(type) {
		case *net.IPNet:
			ip = a.IP
		case *net.IPAddr:
			ip = a.IP
		}
		if ip == nil || ip.IsLoopback() {
			continue
		}
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}
