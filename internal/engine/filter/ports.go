package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultSuspiciousPorts are ports commonly abused by worms, trojans and
// amplification attacks.
var DefaultSuspiciousPorts = []string{
	"19", "135", "137-139", "445", "1433", "1720", "1900", "2323",
	"4444", "5555", "6666-6669", "11211", "12345", "31337", "54321",
}

// PortSet is a set of destination ports.
type PortSet map[uint16]struct{}

// Contains reports whether port is in the set.
func (s PortSet) Contains(port uint16) bool {
	_, ok := s[port]
	return ok
}

// ParsePorts builds a port set from single ports ("445") and inclusive
// ranges ("137-139").
func ParsePorts(specs []string) (PortSet, error) {
	set := make(PortSet)
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		lo, hi, found := strings.Cut(spec, "-")
		first, err := parsePort(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", spec, err)
		}
		last := first
		if found {
			if last, err = parsePort(hi); err != nil {
				return nil, fmt.Errorf("invalid port range %q: %w", spec, err)
			}
			if last < first {
				return nil, fmt.Errorf("invalid port range %q: end before start", spec)
			}
		}
		for p := uint32(first); p <= uint32(last); p++ {
			set[uint16(p)] = struct{}{}
		}
	}
	return set, nil
}

func parsePort(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}
