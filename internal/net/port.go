package net

import (
	"fmt"
	"net"
	"strconv"
)

// GetEphemeralTCPPort asks the OS for a free TCP port on host.
// The port is released before returning, so another process may race for it.
func GetEphemeralTCPPort(host string) (int, error) {
	if host == "" {
		host = "127.0.0.1"
	}
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("resolving %s:0: %w", host, err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// ResolveAddr fills in a free port when addr's port is 0.
func ResolveAddr(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("parsing address %q: %w", addr, err)
	}
	if port != "0" && port != "" {
		return addr, nil
	}
	p, err := GetEphemeralTCPPort(host)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, strconv.Itoa(p)), nil
}
