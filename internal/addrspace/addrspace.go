// Package addrspace enumerates the allocatable host addresses of an IPv4
// subnet. Everything here is pure computation; no I/O is performed.
package addrspace

import (
	"errors"
	"fmt"
	"iter"
	"net/netip"
	"slices"
	"strings"
)

var (
	ErrNotIPv4         = errors.New("only IPv4 is supported")
	ErrGatewayOutside  = errors.New("gateway must be inside the subnet CIDR")
	ErrOutsideNetwork  = errors.New("address is outside the subnet")
	ErrBoundaryAddress = errors.New("network and broadcast addresses cannot be allocated")
	ErrExcludedAddress = errors.New("address is excluded")
)

// Space is a parsed subnet: its network plus the excluded set.
type Space struct {
	prefix   netip.Prefix
	excluded map[netip.Addr]struct{}
}

// Parse builds a Space from the stored subnet columns. Host bits in cidr are
// masked off. Exclusion entries that are not IPv4 literals are skipped since
// they can never match a candidate; ValidateExclusions reports them.
func Parse(cidr, gateway, excluded string) (Space, error) {
	prefix, err := ParseNetwork(cidr)
	if err != nil {
		return Space{}, err
	}

	s := Space{prefix: prefix, excluded: make(map[netip.Addr]struct{})}

	if gw := strings.TrimSpace(gateway); gw != "" {
		addr, err := netip.ParseAddr(gw)
		if err != nil || !addr.Is4() {
			return Space{}, fmt.Errorf("invalid gateway %q: %w", gw, ErrNotIPv4)
		}
		if !prefix.Contains(addr) {
			return Space{}, ErrGatewayOutside
		}
		s.excluded[addr] = struct{}{}
	}

	for _, item := range splitList(excluded) {
		addr, err := netip.ParseAddr(item)
		if err != nil || !addr.Is4() {
			continue
		}
		s.excluded[addr] = struct{}{}
	}

	return s, nil
}

// ParseNetwork parses an IPv4 CIDR, masking host bits.
func ParseNetwork(cidr string) (netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
	}
	if !prefix.Addr().Is4() {
		return netip.Prefix{}, ErrNotIPv4
	}
	return prefix.Masked(), nil
}

// ValidateExclusions checks that every entry of a comma separated exclusion
// list is an IPv4 address inside prefix.
func ValidateExclusions(prefix netip.Prefix, excluded string) error {
	for _, item := range splitList(excluded) {
		addr, err := netip.ParseAddr(item)
		if err != nil || !addr.Is4() {
			return fmt.Errorf("invalid excluded address %q: %w", item, ErrNotIPv4)
		}
		if !prefix.Contains(addr) {
			return fmt.Errorf("excluded address %s: %w", addr, ErrOutsideNetwork)
		}
	}
	return nil
}

func splitList(list string) []string {
	var out []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Network returns the network address.
func (s Space) Network() netip.Addr { return s.prefix.Addr() }

// Broadcast returns the last address of the network.
func (s Space) Broadcast() netip.Addr {
	a := s.prefix.Addr().As4()
	hostBits := 32 - s.prefix.Bits()
	v := uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3])
	v |= uint32(uint64(1)<<hostBits - 1)
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// Excluded returns the excluded set in ascending order.
func (s Space) Excluded() []netip.Addr {
	out := make([]netip.Addr, 0, len(s.excluded))
	for a := range s.excluded {
		out = append(out, a)
	}
	slices.SortFunc(out, netip.Addr.Compare)
	return out
}

func (s Space) IsExcluded(addr netip.Addr) bool {
	_, ok := s.excluded[addr]
	return ok
}

// hostBounds returns the lowest and highest host address. ok is false for
// /31 and /32, which have no host range.
func (s Space) hostBounds() (lo, hi netip.Addr, ok bool) {
	if !s.prefix.IsValid() || s.prefix.Bits() > 30 {
		return netip.Addr{}, netip.Addr{}, false
	}
	return s.Network().Next(), s.Broadcast().Prev(), true
}

// Candidates yields allocatable host addresses in ascending order. The
// sequence can be ranged over any number of times.
func (s Space) Candidates() iter.Seq[netip.Addr] {
	return func(yield func(netip.Addr) bool) {
		lo, hi, ok := s.hostBounds()
		if !ok {
			return
		}
		for a := lo; a.Compare(hi) <= 0; a = a.Next() {
			if s.IsExcluded(a) {
				continue
			}
			if !yield(a) {
				return
			}
		}
	}
}

// UsableRange returns the first and last candidate. ok is false when the
// excluded set consumes the whole host range. Only excluded addresses at
// either end are visited.
func (s Space) UsableRange() (first, last netip.Addr, ok bool) {
	lo, hi, ok := s.hostBounds()
	if !ok {
		return netip.Addr{}, netip.Addr{}, false
	}
	for first = lo; s.IsExcluded(first); first = first.Next() {
		if first == hi {
			return netip.Addr{}, netip.Addr{}, false
		}
	}
	for last = hi; s.IsExcluded(last); last = last.Prev() {
	}
	return first, last, true
}

// UsableCount returns the number of candidates: the host range minus the
// excluded addresses that fall inside it.
func (s Space) UsableCount() int {
	lo, hi, ok := s.hostBounds()
	if !ok {
		return 0
	}
	n := 1<<(32-s.prefix.Bits()) - 2
	for a := range s.excluded {
		if a.Compare(lo) >= 0 && a.Compare(hi) <= 0 {
			n--
		}
	}
	return n
}

// Check reports why addr cannot be allocated from s, or nil if it can.
func (s Space) Check(addr netip.Addr) error {
	if !addr.Is4() {
		return ErrNotIPv4
	}
	if !s.prefix.Contains(addr) {
		return ErrOutsideNetwork
	}
	if addr == s.Network() || addr == s.Broadcast() || s.prefix.Bits() > 30 {
		return ErrBoundaryAddress
	}
	if s.IsExcluded(addr) {
		return ErrExcludedAddress
	}
	return nil
}
