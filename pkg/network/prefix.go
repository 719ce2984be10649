package network

import (
	"fmt"
	"net"
)

// singleHostAddress reports whether prefix covers exactly one host (/32 for
// IPv4, /128 for IPv6) and returns that host address.
func singleHostAddress(prefix string) (net.IP, bool) {
	ip, ipNet, err := net.ParseCIDR(prefix)
	if err != nil {
		return nil, false
	}
	ones, bits := ipNet.Mask.Size()
	if ones != bits {
		return nil, false
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4, true
	}
	return ip, true
}

// optionalIP parses an attribute that may be absent. "NULL" and "" yield nil.
func optionalIP(s string) (net.IP, error) {
	if isNull(s) {
		return nil, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP address %q", s)
	}
	return ip, nil
}

// optionalMAC parses a MAC attribute that may be absent.
func optionalMAC(s string) (net.HardwareAddr, error) {
	if isNull(s) {
		return nil, nil
	}
	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil, fmt.Errorf("invalid MAC address %q: %w", s, err)
	}
	return mac, nil
}

func isNull(s string) bool {
	return s == "" || s == nullValue
}

func orNull(s string) string {
	if s == "" {
		return nullValue
	}
	return s
}
