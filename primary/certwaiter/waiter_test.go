package certwaiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/narwhal-go/narwhal/primary/api"
	"github.com/narwhal-go/narwhal/primary/store"
)

func testAddr(t *testing.T) multiaddr.Multiaddr {
	t.Helper()
	addr, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)
	return addr
}

func testCommittee(t *testing.T, epoch api.Epoch, authorities ...api.Authority) *api.Committee {
	members := make([]api.CommitteeMember, len(authorities))
	for i, a := range authorities {
		members[i] = api.CommitteeMember{Authority: a, Address: testAddr(t)}
	}
	return &api.Committee{Epoch: epoch, Members: members}
}

// fakeClient is a scriptable rpc.Client test double.
type fakeClient struct {
	mu    sync.Mutex
	fetch func(ctx context.Context, peer api.CommitteeMember, req *api.FetchCertificatesRequest) (*api.FetchCertificatesResponse, error)
}

func (f *fakeClient) FetchCertificates(ctx context.Context, peer api.CommitteeMember, req *api.FetchCertificatesRequest) (*api.FetchCertificatesResponse, error) {
	f.mu.Lock()
	fn := f.fetch
	f.mu.Unlock()
	return fn(ctx, peer, req)
}

func (f *fakeClient) Close() error { return nil }

func TestWaiterSimpleCatchUp(t *testing.T) {
	a0, a1 := api.Authority{0}, api.Authority{1}
	committee := testCommittee(t, 1, a0, a1)

	certStore := store.NewMemoryCertificateStore()
	for r := api.Round(0); r <= 2; r++ {
		require.NoError(t, certStore.Store(context.Background(), &api.Certificate{Author: a1, Round: r}))
	}

	returned := []api.Certificate{
		{Author: a1, Round: 3}, {Author: a1, Round: 4}, {Author: a1, Round: 5},
	}
	client := &fakeClient{fetch: func(ctx context.Context, peer api.CommitteeMember, req *api.FetchCertificatesRequest) (*api.FetchCertificatesResponse, error) {
		return &api.FetchCertificatesResponse{Certificates: returned}, nil
	}}

	loopback := make(chan api.CertificateLoopbackMessage)
	w := New(Dependencies{
		Self:             a0,
		Committee:        committee,
		Client:           client,
		CertificateStore: certStore,
		Loopback:         loopback,
		GCDepth:          10,
	})

	go w.Run()

	w.MissingParent(&api.Certificate{Author: a1, Round: 5, Epoch: 1})

	select {
	case msg := <-loopback:
		require.Len(t, msg.Certificates, 3)
		// The downstream processor must finish storing the certificates
		// before acknowledging: that is what makes the next Kick see
		// them as already covered.
		for _, c := range msg.Certificates {
			cert := c
			require.NoError(t, certStore.Store(context.Background(), &cert))
		}
		msg.Done <- struct{}{}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for loopback message")
	}

	time.Sleep(100 * time.Millisecond)
	w.Reconfigure(&api.ReconfigureNotification{Kind: api.ReconfigureShutdown})

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for waiter shutdown")
	}

	require.Equal(t, 0, w.targets.Len(), "targets must be empty once committed rounds catch up")
}

func TestWaiterStaleEpochCertificateDropped(t *testing.T) {
	a0, a1 := api.Authority{0}, api.Authority{1}
	committee := testCommittee(t, 2, a0, a1)

	client := &fakeClient{fetch: func(ctx context.Context, peer api.CommitteeMember, req *api.FetchCertificatesRequest) (*api.FetchCertificatesResponse, error) {
		t.Fatal("no fetch should be attempted for a stale-epoch certificate")
		return nil, nil
	}}

	loopback := make(chan api.CertificateLoopbackMessage)
	w := New(Dependencies{
		Self:             a0,
		Committee:        committee,
		Client:           client,
		CertificateStore: store.NewMemoryCertificateStore(),
		Loopback:         loopback,
		GCDepth:          10,
	})

	go w.Run()

	w.MissingParent(&api.Certificate{Author: a1, Round: 5, Epoch: 1})

	time.Sleep(100 * time.Millisecond)
	w.Reconfigure(&api.ReconfigureNotification{Kind: api.ReconfigureShutdown})

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for waiter shutdown")
	}

	require.Equal(t, 0, w.targets.Len())
}

func TestWaiterOversizedResponseNoDelivery(t *testing.T) {
	a0, a1 := api.Authority{0}, api.Authority{1}
	committee := testCommittee(t, 1, a0, a1)

	oversized := make([]api.Certificate, api.MaxCertificatesToFetch+1)
	for i := range oversized {
		oversized[i] = api.Certificate{Author: a1, Round: api.Round(i + 1)}
	}

	client := &fakeClient{fetch: func(ctx context.Context, peer api.CommitteeMember, req *api.FetchCertificatesRequest) (*api.FetchCertificatesResponse, error) {
		return &api.FetchCertificatesResponse{Certificates: oversized}, nil
	}}

	loopback := make(chan api.CertificateLoopbackMessage)
	w := New(Dependencies{
		Self:             a0,
		Committee:        committee,
		Client:           client,
		CertificateStore: store.NewMemoryCertificateStore(),
		Loopback:         loopback,
		GCDepth:          10,
	})

	go w.Run()

	w.MissingParent(&api.Certificate{Author: a1, Round: 5, Epoch: 1})

	select {
	case <-loopback:
		t.Fatal("an oversized response must never be delivered downstream")
	case <-time.After(500 * time.Millisecond):
	}

	w.Reconfigure(&api.ReconfigureNotification{Kind: api.ReconfigureShutdown})
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for waiter shutdown")
	}
}

func TestWaiterGCDropsOutstandingTargetMidRun(t *testing.T) {
	a0, a1 := api.Authority{0}, api.Authority{1}
	committee := testCommittee(t, 1, a0, a1)

	release := make(chan struct{})
	client := &fakeClient{fetch: func(ctx context.Context, peer api.CommitteeMember, req *api.FetchCertificatesRequest) (*api.FetchCertificatesResponse, error) {
		<-release
		return &api.FetchCertificatesResponse{}, nil
	}}

	loopback := make(chan api.CertificateLoopbackMessage)
	w := New(Dependencies{
		Self:             a0,
		Committee:        committee,
		Client:           client,
		CertificateStore: store.NewMemoryCertificateStore(),
		Loopback:         loopback,
		GCDepth:          10,
	})

	go w.Run()

	w.MissingParent(&api.Certificate{Author: a1, Round: 5, Epoch: 1})
	time.Sleep(50 * time.Millisecond)

	// Advance the consensus round, while the first Fetch Task is still
	// blocked in flight, far enough that gc_round now covers round 5.
	w.UpdateConsensusRound(100)

	close(release)

	select {
	case msg := <-loopback:
		msg.Done <- struct{}{}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the in-flight fetch task to hand off")
	}

	time.Sleep(50 * time.Millisecond)
	w.Reconfigure(&api.ReconfigureNotification{Kind: api.ReconfigureShutdown})
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for waiter shutdown")
	}

	require.Equal(t, 0, w.targets.Len(), "gc_round advancing past the target must silently drop it on the next Kick")
}

func TestWaiterEpochChangeMidFetchStillDelivers(t *testing.T) {
	a0, a1 := api.Authority{0}, api.Authority{1}
	committee := testCommittee(t, 1, a0, a1)

	release := make(chan struct{})
	client := &fakeClient{fetch: func(ctx context.Context, peer api.CommitteeMember, req *api.FetchCertificatesRequest) (*api.FetchCertificatesResponse, error) {
		<-release
		return &api.FetchCertificatesResponse{Certificates: []api.Certificate{{Author: a1, Round: 5}}}, nil
	}}

	loopback := make(chan api.CertificateLoopbackMessage)
	w := New(Dependencies{
		Self:             a0,
		Committee:        committee,
		Client:           client,
		CertificateStore: store.NewMemoryCertificateStore(),
		Loopback:         loopback,
		GCDepth:          10,
	})

	go w.Run()

	w.MissingParent(&api.Certificate{Author: a1, Round: 5, Epoch: 1})
	time.Sleep(50 * time.Millisecond)

	newCommittee := testCommittee(t, 2, a0, a1)
	w.Reconfigure(&api.ReconfigureNotification{Kind: api.ReconfigureNewEpoch, Committee: newCommittee})
	time.Sleep(50 * time.Millisecond)

	close(release)

	select {
	case msg := <-loopback:
		require.Len(t, msg.Certificates, 1)
		msg.Done <- struct{}{}
	case <-time.After(2 * time.Second):
		t.Fatal("an in-flight fetch task must still deliver after an epoch change")
	}

	w.Reconfigure(&api.ReconfigureNotification{Kind: api.ReconfigureShutdown})
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for waiter shutdown")
	}
}
