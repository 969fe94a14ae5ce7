package rpc_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/narwhal-go/narwhal/primary/api"
	"github.com/narwhal-go/narwhal/primary/rpc"
	"github.com/narwhal-go/narwhal/primary/store"
)

func authorityN(n byte) api.Authority {
	var a api.Authority
	a[0] = n
	return a
}

func TestFetchCertificatesHandler(t *testing.T) {
	certStore := store.NewMemoryCertificateStore()

	a0, a1, a2, a3 := authorityN(0), authorityN(1), authorityN(2), authorityN(3)
	roundsFor := map[api.Authority][]api.Round{
		a0: {0, 1},
		a1: {0, 1, 2},
		a2: {0, 1, 2, 3},
		a3: {0, 1, 2, 3, 4},
	}

	for authority, rounds := range roundsFor {
		for _, r := range rounds {
			require.NoError(t, certStore.Store(context.Background(), &api.Certificate{
				Author: authority,
				Round:  r,
			}))
		}
	}

	handler := rpc.NewHandler(certStore)

	req := &api.FetchCertificatesRequest{
		ExclusiveLowerBounds: []api.AuthorityRound{
			{Authority: a0, Round: 1},
			{Authority: a1, Round: 1},
			{Authority: a2, Round: 3},
			{Authority: a3, Round: 3},
		},
		MaxItems: 5,
	}

	resp, err := handler.FetchCertificates(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Certificates, 2)

	got := make(map[api.Round]bool)
	for _, c := range resp.Certificates {
		got[c.Round] = true
	}
	require.True(t, got[2])
	require.True(t, got[4])
}

func TestFetchCertificatesHandlerRespectsMaxItems(t *testing.T) {
	certStore := store.NewMemoryCertificateStore()
	a0 := authorityN(0)

	for r := api.Round(1); r <= 10; r++ {
		require.NoError(t, certStore.Store(context.Background(), &api.Certificate{Author: a0, Round: r}))
	}

	handler := rpc.NewHandler(certStore)
	resp, err := handler.FetchCertificates(context.Background(), &api.FetchCertificatesRequest{
		ExclusiveLowerBounds: []api.AuthorityRound{{Authority: a0, Round: 0}},
		MaxItems:             3,
	})
	require.NoError(t, err)
	require.Len(t, resp.Certificates, 3)
}
