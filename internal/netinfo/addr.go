package netinfo

import (
	"errors"
	"net"
)

// OutboundIPv4 returns the source address the kernel would pick to reach
// a public address. No packet is sent; the UDP dial only resolves routing.
// When no route exists it falls back to the first global-scope IPv4
// address on any interface.
func OutboundIPv4() (string, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			if ip := addr.IP.To4(); ip != nil && !ip.IsLoopback() {
				return ip.String(), nil
			}
		}
	}
	return firstGlobalIPv4()
}

func firstGlobalIPv4() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		return ip.String(), nil
	}
	return "", errors.New("no global ipv4 address found")
}
