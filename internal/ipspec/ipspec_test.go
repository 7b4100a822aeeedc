package ipspec

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpand_SingleIP(t *testing.T) {
	t.Parallel()
	ips, err := Expand("192.168.1.1")
	require.NoError(t, err)
	require.Len(t, ips, 1)
	require.True(t, ips[0].Equal(net.ParseIP("192.168.1.1")))
}

func TestExpand_CIDR_HostsOnly(t *testing.T) {
	t.Parallel()
	ips, err := Expand("192.168.1.0/30")
	require.NoError(t, err)
	require.Len(t, ips, 2)
	require.Contains(t, ips, net.ParseIP("192.168.1.1").To4())
	require.Contains(t, ips, net.ParseIP("192.168.1.2").To4())
}

func TestExpand_CIDR_SlashThirtyTwo(t *testing.T) {
	t.Parallel()
	ips, err := Expand("192.168.1.5/32")
	require.NoError(t, err)
	require.Len(t, ips, 1)
	require.True(t, ips[0].Equal(net.ParseIP("192.168.1.5")))
}

func TestExpand_ShortRange(t *testing.T) {
	t.Parallel()
	ips, err := Expand("10.0.0.1-5")
	require.NoError(t, err)
	require.Len(t, ips, 5)
	require.True(t, ips[0].Equal(net.ParseIP("10.0.0.1")))
	require.True(t, ips[4].Equal(net.ParseIP("10.0.0.5")))
}

func TestExpand_FullRange(t *testing.T) {
	t.Parallel()
	ips, err := Expand("10.0.0.1-10.0.0.5")
	require.NoError(t, err)
	require.Len(t, ips, 5)
	require.True(t, ips[0].Equal(net.ParseIP("10.0.0.1")))
	require.True(t, ips[4].Equal(net.ParseIP("10.0.0.5")))
}

func TestExpand_ReversedRange_Errors(t *testing.T) {
	t.Parallel()
	_, err := Expand("10.0.0.5-10.0.0.1")
	require.Error(t, err)
}

func TestExpand_MixedFamilyRange_Errors(t *testing.T) {
	t.Parallel()
	_, err := Expand("10.0.0.1-::5")
	require.Error(t, err)
}

func TestExpand_IPv6ShortRange(t *testing.T) {
	t.Parallel()
	ips, err := Expand("::1-5")
	require.NoError(t, err)
	require.Len(t, ips, 5)
	require.True(t, ips[0].Equal(net.ParseIP("::1")))
	require.True(t, ips[4].Equal(net.ParseIP("::5")))
}

func TestExpand_RangeTooLarge_Errors(t *testing.T) {
	t.Parallel()
	_, err := Expand("0.0.0.0-2.0.0.0")
	require.Error(t, err)
}

func TestExpand_InvalidSpec_Errors(t *testing.T) {
	t.Parallel()
	_, err := Expand("not-an-address")
	require.Error(t, err)
}

func TestExpandAll_DedupesAndUnions(t *testing.T) {
	t.Parallel()
	ips, err := ExpandAll([]string{"10.0.0.1", "10.0.0.1-2"}, nil, nil)
	require.NoError(t, err)
	require.Len(t, ips, 2)
}

func TestExpandAll_ExcludesSubtract(t *testing.T) {
	t.Parallel()
	ips, err := ExpandAll([]string{"10.0.0.1-5"}, []string{"10.0.0.3"}, nil)
	require.NoError(t, err)
	require.Len(t, ips, 4)
	for _, ip := range ips {
		require.False(t, ip.Equal(net.ParseIP("10.0.0.3")))
	}
}

func TestExpandAll_ExcludeEmptiesResult_Errors(t *testing.T) {
	t.Parallel()
	_, err := ExpandAll([]string{"10.0.0.1"}, []string{"10.0.0.1"}, nil)
	require.Error(t, err)
}

func TestExpandAll_NoTargets_Errors(t *testing.T) {
	t.Parallel()
	_, err := ExpandAll(nil, nil, nil)
	require.Error(t, err)
}
