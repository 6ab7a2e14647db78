package cmd

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// validateAddr checks a listen address in host:port form. The host may
// be empty (all interfaces), a hostname, or an IP; port 0 asks the
// kernel for a free port.
func validateAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("must be in host:port format: %w", err)
	}

	switch {
	case host == "", host == "localhost", net.ParseIP(host) != nil:
		// fine
	case strings.ContainsAny(host, " \t\n"):
		return fmt.Errorf("invalid host: %s", host)
	}

	if port == "" {
		return fmt.Errorf("port is required")
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port must be numeric: %w", err)
	}
	if n < 0 || n > 65535 {
		return fmt.Errorf("port out of range: %d", n)
	}

	return nil
}
