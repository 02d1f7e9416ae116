package protocol

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// FormatHostPort renders a data endpoint for a 227 reply. IPv4 endpoints use
// the classic h1,h2,h3,h4,p1,p2 form; anything else falls back to host:port.
func FormatHostPort(addr *net.TCPAddr) string {
	if ip4 := addr.IP.To4(); ip4 != nil {
		return fmt.Sprintf("%d,%d,%d,%d,%d,%d", ip4[0], ip4[1], ip4[2], ip4[3], addr.Port>>8, addr.Port&0xff)
	}
	return net.JoinHostPort(addr.IP.String(), strconv.Itoa(addr.Port))
}

// ParseEndpoint accepts "ip:port" with a literal IP and a port in 1..65535.
// It returns the normalized form.
func ParseEndpoint(s string) (string, bool) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "", false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", false
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(port)), true
}

// ParsePortArg parses the argument of PORT, either h1,h2,h3,h4,p1,p2 or
// ip:port.
func ParsePortArg(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if endpoint, ok := ParseEndpoint(arg); ok {
		return endpoint, nil
	}

	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		return "", fmt.Errorf("expected h1,h2,h3,h4,p1,p2 or host:port, got %q", arg)
	}
	var nums [6]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return "", fmt.Errorf("invalid number %q in %q", p, arg)
		}
		nums[i] = n
	}
	port := nums[4]*256 + nums[5]
	if port == 0 {
		return "", fmt.Errorf("port 0 in %q", arg)
	}
	ip := net.IPv4(byte(nums[0]), byte(nums[1]), byte(nums[2]), byte(nums[3]))
	return net.JoinHostPort(ip.String(), strconv.Itoa(port)), nil
}

// ParsePassiveReply extracts the endpoint from the text of a 227 reply, e.g.
// "Entering Passive Mode (127,0,0,1,195,80)".
func ParsePassiveReply(msg string) (string, error) {
	open := strings.LastIndexByte(msg, '(')
	end := strings.LastIndexByte(msg, ')')
	if open < 0 || end < open {
		return "", fmt.Errorf("no endpoint in passive reply %q", msg)
	}
	return ParsePortArg(msg[open+1 : end])
}
