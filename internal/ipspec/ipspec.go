// Package ipspec expands a target specification string (single IP literal,
// CIDR, or address range) into the literal IP addresses it denotes.
package ipspec

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
)

const maxRangeSize = 65536

// Expand parses one target spec and returns the literal addresses it
// denotes. Supported forms (spec.md §6):
//
//	10.10.10.1              single IP
//	10.10.10.0/28           CIDR, hosts only (/32, /128 yield the network address)
//	10.10.10.1-10           short range, last IPv4 octet or IPv6 hextet
//	10.10.10.1-10.10.10.10  full range, inclusive, same address family
func Expand(spec string) ([]net.IP, error) {
	spec = strings.TrimSpace(spec)

	if ip := net.ParseIP(spec); ip != nil {
		return []net.IP{ip}, nil
	}

	if strings.Contains(spec, "/") {
		return expandCIDR(spec)
	}

	if strings.Contains(spec, "-") {
		return expandRange(spec)
	}

	return nil, fmt.Errorf("ipspec: invalid address, CIDR, or range: %q", spec)
}

func expandCIDR(spec string) ([]net.IP, error) {
	ip, ipnet, err := net.ParseCIDR(spec)
	if err != nil {
		return nil, fmt.Errorf("ipspec: invalid CIDR %q: %w", spec, err)
	}

	ones, bits := ipnet.Mask.Size()
	if ones == bits {
		// /32 or /128: no usable host range, the network address is the target.
		return []net.IP{ip}, nil
	}

	var out []net.IP
	for cur := cloneIP(ipnet.IP); ipnet.Contains(cur); incIP(cur) {
		out = append(out, cloneIP(cur))
		if len(out) > maxRangeSize {
			return nil, fmt.Errorf("ipspec: CIDR %q expands to more than %d addresses", spec, maxRangeSize)
		}
	}

	// Drop network and (for IPv4) broadcast addresses, matching
	// ipnet::IpNet::hosts(); a no-op for IPv4 /31 (only 2 addresses, both
	// usable per RFC 3021).
	out = trimHostBounds(out, ip.To4() != nil)

	if len(out) == 0 {
		return []net.IP{ip}, nil
	}
	return out, nil
}

// trimHostBounds removes the network address (and, for IPv4, the broadcast
// address) from a CIDR's full address list, matching ipnet::IpNet::hosts()
// semantics (spec.md §6, original_source/src/ip_addresses.rs). A two-address
// IPv4 range (/31) is left untouched: RFC 3021 makes both addresses usable.
func trimHostBounds(all []net.IP, isV4 bool) []net.IP {
	if isV4 && len(all) <= 2 {
		return all
	}
	if len(all) == 0 {
		return all
	}
	network := all[0]
	trimEnd := len(all)
	if isV4 {
		trimEnd--
	}
	out := make([]net.IP, 0, len(all))
	for _, ip := range all[:trimEnd] {
		if ip.Equal(network) {
			continue
		}
		out = append(out, ip)
	}
	return out
}

func expandRange(spec string) ([]net.IP, error) {
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("ipspec: invalid range %q", spec)
	}
	startStr := strings.TrimSpace(parts[0])
	endStr := strings.TrimSpace(parts[1])

	start := net.ParseIP(startStr)
	if start == nil {
		return nil, fmt.Errorf("ipspec: invalid start address in range %q", spec)
	}

	var end net.IP
	if strings.ContainsAny(endStr, ".:") {
		end = net.ParseIP(endStr)
		if end == nil {
			return nil, fmt.Errorf("ipspec: invalid end address in range %q", spec)
		}
	} else {
		var err error
		end, err = shortRangeEnd(start, endStr)
		if err != nil {
			return nil, fmt.Errorf("ipspec: %w (range %q)", err, spec)
		}
	}

	startIs4 := start.To4() != nil
	endIs4 := end.To4() != nil
	if startIs4 != endIs4 {
		return nil, fmt.Errorf("ipspec: cannot mix address families in range %q", spec)
	}

	return generateRange(start, end)
}

// shortRangeEnd resolves the short form's trailing number (last IPv4 octet
// or last IPv6 hextet) against start's address family.
func shortRangeEnd(start net.IP, endStr string) (net.IP, error) {
	val, err := strconv.ParseUint(endStr, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid range end value %q", endStr)
	}

	if v4 := start.To4(); v4 != nil {
		if val > 255 {
			return nil, fmt.Errorf("IPv4 octet must be <= 255, got %d", val)
		}
		end := cloneIP(v4)
		end[3] = byte(val)
		return end, nil
	}

	if val > 65535 {
		return nil, fmt.Errorf("IPv6 hextet must be <= 65535, got %d", val)
	}
	v16 := start.To16()
	end := cloneIP(v16)
	end[14] = byte(val >> 8)
	end[15] = byte(val)
	return end, nil
}

func generateRange(start, end net.IP) ([]net.IP, error) {
	startN := ipToUint64Pair(start)
	endN := ipToUint64Pair(end)

	if startN.greaterThan(endN) {
		return nil, fmt.Errorf("ipspec: start address %s is greater than end address %s", start, end)
	}

	var out []net.IP
	cur := cloneIP(start)
	for {
		out = append(out, cloneIP(cur))
		if len(out) > maxRangeSize {
			return nil, fmt.Errorf("ipspec: range %s-%s expands to more than %d addresses", start, end, maxRangeSize)
		}
		if cur.Equal(end) {
			break
		}
		incIP(cur)
	}
	return out, nil
}

// uint128 holds a 128-bit unsigned value as two uint64 halves, enough to
// order IPv6 addresses without a big.Int dependency.
type uint128 struct{ hi, lo uint64 }

func (a uint128) greaterThan(b uint128) bool {
	if a.hi != b.hi {
		return a.hi > b.hi
	}
	return a.lo > b.lo
}

func ipToUint64Pair(ip net.IP) uint128 {
	b := ip.To16()
	var hi, lo uint64
	for i := 0; i < 8; i++ {
		hi = hi<<8 | uint64(b[i])
	}
	for i := 8; i < 16; i++ {
		lo = lo<<8 | uint64(b[i])
	}
	return uint128{hi: hi, lo: lo}
}

func cloneIP(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		out := make(net.IP, 4)
		copy(out, v4)
		return out
	}
	out := make(net.IP, 16)
	copy(out, ip.To16())
	return out
}

// incIP increments ip in place, treating it as a big-endian integer.
func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			return
		}
	}
}

// ExpandAll expands every entry in specs, unions and dedupes the results in
// first-seen order, then subtracts the expansion of every entry in excludes.
// It warns (via log) if excludes has no intersection with the targets, and
// errors if the subtraction empties the result (spec.md §6).
func ExpandAll(specs, excludes []string, log *slog.Logger) ([]net.IP, error) {
	if log == nil {
		log = slog.Default()
	}

	targets, err := expandUnique(specs)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("ipspec: no targets given")
	}

	if len(excludes) == 0 {
		return targets, nil
	}

	excluded, err := expandUnique(excludes)
	if err != nil {
		return nil, fmt.Errorf("ipspec: invalid exclude entry: %w", err)
	}

	excludeSet := make(map[string]bool, len(excluded))
	for _, ip := range excluded {
		excludeSet[ip.String()] = true
	}

	var removed int
	out := make([]net.IP, 0, len(targets))
	for _, ip := range targets {
		if excludeSet[ip.String()] {
			removed++
			continue
		}
		out = append(out, ip)
	}

	if removed == 0 {
		log.Warn("ipspec: exclude list did not match any target", "excludes", excludes)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ipspec: exclude list removed all %d target(s)", len(targets))
	}
	return out, nil
}

// expandUnique expands every spec and dedupes the concatenated result in
// first-seen order.
func expandUnique(specs []string) ([]net.IP, error) {
	seen := make(map[string]bool)
	var out []net.IP
	for _, spec := range specs {
		ips, err := Expand(spec)
		if err != nil {
			return nil, err
		}
		for _, ip := range ips {
			key := ip.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, ip)
		}
	}
	return out, nil
}
