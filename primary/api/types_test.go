package api_test

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/narwhal-go/narwhal/primary/api"
)

func TestAuthorityStringRoundTrip(t *testing.T) {
	var a api.Authority
	for i := range a {
		a[i] = byte(i)
	}

	s := a.String()
	got, err := api.ParseAuthority(s)
	require.NoError(t, err)
	require.Equal(t, a, got)
}

func TestAuthorityCBORRoundTrip(t *testing.T) {
	var a api.Authority
	a[0] = 0xab

	blob, err := cbor.Marshal(a)
	require.NoError(t, err)

	var got api.Authority
	require.NoError(t, cbor.Unmarshal(blob, &got))
	require.Equal(t, a, got)
}

func TestCommitteeGetAndOthers(t *testing.T) {
	a0, a1, a2 := api.Authority{0}, api.Authority{1}, api.Authority{2}
	c := &api.Committee{
		Epoch: 1,
		Members: []api.CommitteeMember{
			{Authority: a0}, {Authority: a1}, {Authority: a2},
		},
	}

	m, ok := c.Get(a1)
	require.True(t, ok)
	require.Equal(t, a1, m.Authority)

	_, ok = c.Get(api.Authority{9})
	require.False(t, ok)

	others := c.Others(a1)
	require.Len(t, others, 2)
	for _, o := range others {
		require.NotEqual(t, a1, o.Authority)
	}
}

func TestCommitteeCloneIsIndependent(t *testing.T) {
	a0 := api.Authority{0}
	c := &api.Committee{Epoch: 1, Members: []api.CommitteeMember{{Authority: a0}}}

	clone := c.Clone()
	clone.Members[0].Authority = api.Authority{9}

	require.Equal(t, a0, c.Members[0].Authority, "mutating the clone must not affect the original")
}
