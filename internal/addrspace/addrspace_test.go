package addrspace

import (
	"errors"
	"net/netip"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(s Space) []string {
	var out []string
	for a := range s.Candidates() {
		out = append(out, a.String())
	}
	return out
}

func TestCandidates_Slash30(t *testing.T) {
	s, err := Parse("10.0.0.0/30", "", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, collect(s))
}

func TestCandidates_SkipsGatewayAndExclusions(t *testing.T) {
	s, err := Parse("192.168.1.0/29", "192.168.1.1", " 192.168.1.4, ,192.168.1.6,not-an-ip")
	require.NoError(t, err)

	assert.Equal(t, []string{"192.168.1.2", "192.168.1.3", "192.168.1.5"}, collect(s))
}

func TestCandidates_Restartable(t *testing.T) {
	s, err := Parse("10.1.0.0/28", "10.1.0.1", "")
	require.NoError(t, err)

	first := collect(s)
	second := collect(s)
	assert.Equal(t, first, second)
	assert.Len(t, first, 13)
}

func TestCandidates_EarlyStop(t *testing.T) {
	s, err := Parse("10.2.0.0/24", "", "")
	require.NoError(t, err)

	var seen []netip.Addr
	for a := range s.Candidates() {
		seen = append(seen, a)
		if len(seen) == 3 {
			break
		}
	}
	assert.Equal(t, "10.2.0.3", seen[2].String())
}

func TestCandidates_NoHostRange(t *testing.T) {
	for _, cidr := range []string{"10.0.0.0/31", "10.0.0.7/32"} {
		t.Run(cidr, func(t *testing.T) {
			s, err := Parse(cidr, "", "")
			require.NoError(t, err)
			assert.Empty(t, collect(s))
			_, _, ok := s.UsableRange()
			assert.False(t, ok)
		})
	}
}

func TestParse_MasksHostBits(t *testing.T) {
	s, err := Parse("192.168.1.77/24", "", "")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.0", s.Network().String())
	assert.Equal(t, "192.168.1.255", s.Broadcast().String())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cidr    string
		gateway string
		want    error
	}{
		{"ipv6", "2001:db8::/64", "", ErrNotIPv4},
		{"gateway outside", "10.0.0.0/24", "10.0.1.1", ErrGatewayOutside},
		{"gateway ipv6", "10.0.0.0/24", "::1", ErrNotIPv4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.cidr, tt.gateway, "")
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse(%q, %q) error = %v, want %v", tt.cidr, tt.gateway, err, tt.want)
			}
		})
	}

	_, err := Parse("not-a-cidr", "", "")
	assert.Error(t, err)
}

func TestUsableRange(t *testing.T) {
	s, err := Parse("192.168.1.0/28", "192.168.1.1", "192.168.1.14")
	require.NoError(t, err)

	first, last, ok := s.UsableRange()
	require.True(t, ok)
	assert.Equal(t, "192.168.1.2", first.String())
	assert.Equal(t, "192.168.1.13", last.String())
}

func TestUsableRange_AllExcluded(t *testing.T) {
	s, err := Parse("10.0.0.0/30", "10.0.0.1", "10.0.0.2")
	require.NoError(t, err)

	_, _, ok := s.UsableRange()
	assert.False(t, ok)
	assert.Equal(t, 0, s.UsableCount())
}

func TestUsableRange_LargeNetwork(t *testing.T) {
	s, err := Parse("10.0.0.0/8", "10.0.0.1", "10.0.0.2,10.255.255.254,10.0.0.0")
	require.NoError(t, err)

	first, last, ok := s.UsableRange()
	require.True(t, ok)
	assert.Equal(t, "10.0.0.3", first.String())
	assert.Equal(t, "10.255.255.253", last.String())
	// The network address in the exclusion list is not a host and does not count.
	assert.Equal(t, 1<<24-2-3, s.UsableCount())
}

// The closed-form count and range agree with a full walk of the candidates.
func TestUsableCount_MatchesCandidates(t *testing.T) {
	subnets := []struct{ cidr, gw, excl string }{
		{"10.0.0.0/30", "", ""},
		{"10.0.0.0/30", "10.0.0.1", ""},
		{"192.168.1.0/28", "192.168.1.1", "192.168.1.1,192.168.1.14,192.168.1.15"},
		{"172.16.4.0/26", "172.16.4.62", "172.16.4.10,172.16.4.11,172.16.4.61"},
		{"10.20.0.0/23", "10.20.1.254", "10.20.0.255,10.20.1.0"},
	}
	for _, sn := range subnets {
		t.Run(sn.cidr+"_"+sn.excl, func(t *testing.T) {
			s, err := Parse(sn.cidr, sn.gw, sn.excl)
			require.NoError(t, err)

			all := collect(s)
			assert.Equal(t, len(all), s.UsableCount())

			first, last, ok := s.UsableRange()
			require.Equal(t, len(all) > 0, ok)
			if ok {
				assert.Equal(t, all[0], first.String())
				assert.Equal(t, all[len(all)-1], last.String())
			}
		})
	}
}

// Every candidate of every subnet lies strictly between the network and
// broadcast addresses and outside the excluded set.
func TestCandidates_WithinBounds(t *testing.T) {
	subnets := []struct{ cidr, gw, excl string }{
		{"10.0.0.0/30", "", ""},
		{"192.168.1.0/28", "192.168.1.1", ""},
		{"172.16.4.0/26", "172.16.4.62", "172.16.4.10,172.16.4.11"},
		{"10.20.0.0/23", "10.20.1.254", "10.20.0.255,10.20.1.0"},
	}
	for _, sn := range subnets {
		t.Run(sn.cidr, func(t *testing.T) {
			s, err := Parse(sn.cidr, sn.gw, sn.excl)
			require.NoError(t, err)

			excluded := s.Excluded()
			for a := range s.Candidates() {
				assert.True(t, s.Network().Less(a), "%s not above network", a)
				assert.True(t, a.Less(s.Broadcast()), "%s not below broadcast", a)
				assert.False(t, slices.Contains(excluded, a), "%s is excluded", a)
				assert.NoError(t, s.Check(a))
			}
		})
	}
}

func TestCheck(t *testing.T) {
	s, err := Parse("192.168.1.0/28", "192.168.1.1", "192.168.1.9")
	require.NoError(t, err)

	tests := []struct {
		addr string
		want error
	}{
		{"192.168.1.5", nil},
		{"192.168.1.0", ErrBoundaryAddress},
		{"192.168.1.15", ErrBoundaryAddress},
		{"192.168.1.1", ErrExcludedAddress},
		{"192.168.1.9", ErrExcludedAddress},
		{"192.168.1.16", ErrOutsideNetwork},
		{"10.0.0.1", ErrOutsideNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got := s.Check(netip.MustParseAddr(tt.addr))
			if !errors.Is(got, tt.want) {
				t.Errorf("Check(%s) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestValidateExclusions(t *testing.T) {
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	assert.NoError(t, ValidateExclusions(prefix, ""))
	assert.NoError(t, ValidateExclusions(prefix, "10.0.0.5, 10.0.0.6"))
	assert.ErrorIs(t, ValidateExclusions(prefix, "10.0.0.5,bogus"), ErrNotIPv4)
	assert.ErrorIs(t, ValidateExclusions(prefix, "10.0.1.5"), ErrOutsideNetwork)
}
