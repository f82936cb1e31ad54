package util

import (
	"fmt"
	"net"
	"sort"
)

// ListenAddrs expands a listening host:port into the addresses a client
// could dial.  An unspecified host ("", 0.0.0.0, ::) becomes every
// interface address; anything else is returned as is.
func ListenAddrs(host, port string) []string {
	if ip := net.ParseIP(host); host != "" && (ip == nil || !ip.IsUnspecified()) {
		return []string{net.JoinHostPort(host, port)}
	}

	ifaces, err := net.InterfaceAddrs()
	if err != nil {
		return []string{net.JoinHostPort(host, port)}
	}
	var out []string
	for _, a := range ifaces {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLinkLocalUnicast() {
			continue
		}
		out = append(out, net.JoinHostPort(ipnet.IP.String(), port))
	}
	if len(out) == 0 {
		return []string{net.JoinHostPort(host, port)}
	}
	sort.Strings(out)
	return out
}

// FindFreePort returns an available TCP port on 127.0.0.1.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
