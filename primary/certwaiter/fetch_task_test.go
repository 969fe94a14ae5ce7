package certwaiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/narwhal-go/narwhal/common/logging"
	"github.com/narwhal-go/narwhal/primary/api"
)

// scriptedPeerClient answers FetchCertificates calls according to call
// order (error, then timeout, then success) rather than peer identity, so
// the test's expectations hold regardless of how probePeers shuffles the
// peer queue.
type scriptedPeerClient struct {
	mu    sync.Mutex
	calls int
}

func (s *scriptedPeerClient) FetchCertificates(ctx context.Context, peer api.CommitteeMember, req *api.FetchCertificatesRequest) (*api.FetchCertificatesResponse, error) {
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.mu.Unlock()

	switch call {
	case 0:
		return nil, errors.New("peer unreachable")
	case 1:
		// Never responds: probePeers' own timer must elapse and move on.
		<-ctx.Done()
		return nil, ctx.Err()
	default:
		return &api.FetchCertificatesResponse{Certificates: []api.Certificate{{Author: peer.Authority, Round: 9}}}, nil
	}
}

func (s *scriptedPeerClient) Close() error { return nil }

// TestProbePeersFetchFailureCascade drives the error -> timeout -> success
// peer-probing cascade across a 4-member committee, so the rotation
// actually iterates past more than one peer before succeeding.
func TestProbePeersFetchFailureCascade(t *testing.T) {
	saved := requestInterval
	requestInterval = 100 * time.Millisecond
	defer func() { requestInterval = saved }()

	self := api.Authority{0}
	addr, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)

	committee := &api.Committee{
		Epoch: 1,
		Members: []api.CommitteeMember{
			{Authority: self, Address: addr},
			{Authority: api.Authority{1}, Address: addr},
			{Authority: api.Authority{2}, Address: addr},
			{Authority: api.Authority{3}, Address: addr},
		},
	}

	client := &scriptedPeerClient{}
	task := &fetchTask{
		shared:    &sharedState{self: self, client: client},
		committee: committee,
		bounds:    []api.AuthorityRound{{Authority: self, Round: 0}},
		logger:    logging.GetLogger("certwaiter_test"),
	}

	start := time.Now()
	resp, err := task.probePeers(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Len(t, resp.Certificates, 1)
	require.Equal(t, api.Round(9), resp.Certificates[0].Round)

	require.GreaterOrEqual(t, elapsed, requestInterval,
		"the timed-out second peer must consume a full request interval before the cascade continues")
	require.Less(t, elapsed, 2*requestInterval,
		"the cascade must not wait out more than the one timed-out peer")
}
