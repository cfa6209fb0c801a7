package capture

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// TargetPolicy keeps the service from being used to render internal
// addresses. Hosts that fail to resolve are allowed through; the engine then
// reports them as navigation failures.
type TargetPolicy struct {
	AllowedSchemes []string
	AllowPrivate   bool
	Resolver       Resolver
}

func DefaultTargetPolicy() *TargetPolicy {
	return &TargetPolicy{
		AllowedSchemes: []string{"http", "https"},
		Resolver:       net.DefaultResolver,
	}
}

func (p *TargetPolicy) Check(ctx context.Context, target *url.URL) error {
	if len(p.AllowedSchemes) > 0 && !slices.Contains(p.AllowedSchemes, strings.ToLower(target.Scheme)) {
		return fmt.Errorf("%w: scheme %q", ErrTargetNotAllowed, target.Scheme)
	}
	if p.AllowPrivate {
		return nil
	}

	host := strings.ToLower(strings.TrimSuffix(target.Hostname(), "."))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: %s", ErrTargetNotAllowed, host)
	}
	ip, err := parseHostIP(host)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTargetNotAllowed, host, err)
	}
	if ip != nil {
		if internal(ip) {
			return fmt.Errorf("%w: %s", ErrTargetNotAllowed, host)
		}
		return nil
	}

	resolver := p.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil
	}
	for _, addr := range addrs {
		if internal(addr.IP) {
			return fmt.Errorf("%w: %s resolves to %s", ErrTargetNotAllowed, host, addr.IP)
		}
	}
	return nil
}

func internal(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast()
}

// parseHostIP returns the address a browser would connect to when host is an
// IP literal, including the shorthand IPv4 forms browsers accept (127.1,
// 2130706433, 0x7f000001, 0177.0.0.1). It returns nil for domain names.
func parseHostIP(host string) (net.IP, error) {
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return ip, nil
	}

	parts := strings.Split(host, ".")
	if len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if !endsInNumber(parts[len(parts)-1]) {
		return nil, nil
	}
	if len(parts) > 4 {
		return nil, fmt.Errorf("too many IPv4 parts")
	}

	numbers := make([]uint64, len(parts))
	for i, part := range parts {
		n, err := parseIPv4Number(part)
		if err != nil {
			return nil, err
		}
		if i < len(parts)-1 && n > 255 {
			return nil, fmt.Errorf("IPv4 part %q out of range", part)
		}
		numbers[i] = n
	}
	last := numbers[len(numbers)-1]
	if last >= 1<<(8*(5-len(numbers))) {
		return nil, fmt.Errorf("IPv4 address out of range")
	}

	var v uint64
	for i, n := range numbers[:len(numbers)-1] {
		v |= n << (8 * (3 - i))
	}
	v |= last
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v)), nil
}

func endsInNumber(part string) bool {
	if part == "" {
		return false
	}
	if isDigits(part, 10) {
		return true
	}
	return hasHexPrefix(part) && isDigits(part[2:], 16)
}

func parseIPv4Number(part string) (uint64, error) {
	if part == "" {
		return 0, fmt.Errorf("empty IPv4 part")
	}
	base, digits := 10, part
	switch {
	case hasHexPrefix(part):
		base, digits = 16, part[2:]
	case len(part) > 1 && part[0] == '0':
		base, digits = 8, part[1:]
	}
	if digits == "" {
		return 0, nil
	}
	if !isDigits(digits, base) {
		return 0, fmt.Errorf("invalid IPv4 part %q", part)
	}
	n, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid IPv4 part %q: %w", part, err)
	}
	return n, nil
}

func hasHexPrefix(part string) bool {
	return len(part) >= 2 && part[0] == '0' && (part[1] == 'x' || part[1] == 'X')
}

func isDigits(s string, base int) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '7':
		case r >= '8' && r <= '9' && base >= 10:
		case base == 16 && (r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F'):
		default:
			return false
		}
	}
	return true
}
