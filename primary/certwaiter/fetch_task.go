package certwaiter

import (
	"context"
	"math/rand"
	"time"

	"github.com/gammazero/deque"

	"github.com/narwhal-go/narwhal/common/logging"
	"github.com/narwhal-go/narwhal/primary/api"
)

// requestInterval is how long the probing loop waits for a peer's
// response before issuing the next peer's call concurrently. A var
// rather than a const so tests can shrink it instead of waiting out the
// real interval.
var requestInterval = 5 * time.Second

// fetchTask is a single Fetch Task: one background catch-up attempt,
// launched by Kick and run to completion without sharing mutable state
// with the event loop.
type fetchTask struct {
	shared    *sharedState
	committee *api.Committee
	bounds    []api.AuthorityRound
	logger    *logging.Logger
}

// run drives the task end to end and reports its outcome on done exactly
// once. ctx is cancelled by the waiter on shutdown only; an epoch change
// never cancels a task already in flight.
func (t *fetchTask) run(ctx context.Context, done chan<- error) {
	start := time.Now()

	resp, err := t.probePeers(ctx)
	if err != nil {
		done <- err
		return
	}

	if err := t.handoff(ctx, resp); err != nil {
		done <- err
		return
	}

	epoch := epochLabel(t.committee.Epoch)
	fetchLatency.WithLabelValues(epoch).Observe(time.Since(start).Seconds())
	processedCertificateCount.WithLabelValues(epoch).Add(float64(len(resp.Certificates)))

	done <- nil
}

type peerResult struct {
	resp *api.FetchCertificatesResponse
	err  error
}

// probePeers issues staggered concurrent RPCs to the committee's other
// members until one succeeds. It never gives up: the caller's context is
// the only way to stop it early.
func (t *fetchTask) probePeers(ctx context.Context) (*api.FetchCertificatesResponse, error) {
	req := &api.FetchCertificatesRequest{
		ExclusiveLowerBounds: t.bounds,
		MaxItems:             api.MaxCertificatesToFetch,
	}

	// probeCtx is cancelled the moment this function returns, dropping
	// whatever peer calls are still outstanding; it is never cancelled
	// early on a timer tick or a peer error, so earlier slow responses
	// may still arrive and are simply discarded by the unread results
	// channel when nobody is listening anymore.
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan peerResult)
	queue := deque.New()
	refillPeers(queue, t.committee.Others(t.shared.self))

	epoch := epochLabel(t.committee.Epoch)

	timer := time.NewTimer(requestInterval)
	defer timer.Stop()
	timerFired := false

	for {
		if queue.Len() == 0 {
			refillPeers(queue, t.committee.Others(t.shared.self))
		}
		peer := queue.PopFront().(api.CommitteeMember)

		fetchAttemptCount.WithLabelValues(epoch).Inc()
		go func(peer api.CommitteeMember) {
			resp, err := t.shared.client.FetchCertificates(probeCtx, peer, req)
			select {
			case results <- peerResult{resp: resp, err: err}:
			case <-probeCtx.Done():
			}
		}(peer)

		// A fired timer whose value the select below already received has
		// nothing left to drain.
		if !timerFired && !timer.Stop() {
			<-timer.C
		}
		timerFired = false
		timer.Reset(requestInterval)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-results:
			if res.err != nil {
				t.logger.Debug("peer fetch failed, trying next peer", "peer", peer.Authority, "err", res.err)
				continue
			}
			return res.resp, nil
		case <-timer.C:
			timerFired = true
			t.logger.Debug("no response within request interval, trying next peer")
			continue
		}
	}
}

func refillPeers(q *deque.Deque, members []api.CommitteeMember) {
	shuffled := make([]api.CommitteeMember, len(members))
	copy(shuffled, members)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	for _, m := range shuffled {
		q.PushBack(m)
	}
}

// handoff delivers resp downstream via the loopback channel and awaits
// acknowledgement, or reports the task-scoped errors defined for an
// oversized response, a closed send, or a dropped acknowledgement.
func (t *fetchTask) handoff(ctx context.Context, resp *api.FetchCertificatesResponse) error {
	if len(resp.Certificates) > api.MaxCertificatesToFetch {
		return api.ErrTooManyFetchedCertificates
	}

	ackCh := make(chan struct{})
	msg := api.CertificateLoopbackMessage{
		Certificates: resp.Certificates,
		Done:         ackCh,
	}

	if err := t.sendLoopback(ctx, msg); err != nil {
		return err
	}

	select {
	case _, ok := <-ackCh:
		if !ok {
			return api.ErrClosedChannel
		}
		return nil
	case <-ctx.Done():
		return api.ErrClosedChannel
	}
}

// sendLoopback sends msg on the shared loopback channel, converting a
// send-on-closed-channel panic into ErrClosedChannel: the receiver's
// contract allows signalling a fatal condition by closing its end.
func (t *fetchTask) sendLoopback(ctx context.Context, msg api.CertificateLoopbackMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = api.ErrClosedChannel
		}
	}()

	select {
	case t.shared.loopback <- msg:
		return nil
	case <-ctx.Done():
		return api.ErrClosedChannel
	}
}
