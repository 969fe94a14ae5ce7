// Package certwaiter implements the certificate waiter: the primary's
// single-threaded event loop that repairs local certificate-store gaps by
// fetching missing ancestors from peer primaries.
package certwaiter

import (
	"context"
	"strconv"

	"github.com/eapache/channels"

	"github.com/narwhal-go/narwhal/common/logging"
	"github.com/narwhal-go/narwhal/primary/api"
	"github.com/narwhal-go/narwhal/primary/rpc"
	"github.com/narwhal-go/narwhal/primary/store"
)

// Dependencies are the waiter's out-of-scope collaborators, supplied once
// at construction. None of them are mutated by the waiter.
type Dependencies struct {
	Self             api.Authority
	Committee        *api.Committee
	Client           rpc.Client
	CertificateStore store.CertificateStore
	// ConsensusStore is non-nil when internal consensus is enabled, in
	// which case it (not CertificateStore) backs committed-round reads.
	ConsensusStore store.ConsensusStore
	Loopback       chan<- api.CertificateLoopbackMessage
	GCDepth        api.Round
}

// Waiter is the certificate waiter's event loop and owned state. All
// fields below are touched only from the goroutine running Run.
type Waiter struct {
	logger *logging.Logger

	shared           *sharedState
	certificateStore store.CertificateStore
	consensusStore   store.ConsensusStore
	gcDepth          api.Round

	committee *api.Committee
	targets   *TargetTracker

	missingParent    *channels.InfiniteChannel
	reconfigureCh    chan *api.ReconfigureNotification
	consensusRoundCh chan api.Round
	latestRound      api.Round

	// fetchDone is nil whenever no Fetch Task is in flight; reading from
	// a nil channel blocks forever, so including it in Run's select is
	// the Go-native equivalent of "await the current task, if any".
	fetchDone   chan error
	fetchCancel context.CancelFunc

	doneCh chan struct{}
}

// New constructs a Waiter. Call Run to start its event loop.
func New(deps Dependencies) *Waiter {
	return &Waiter{
		logger: logging.GetLogger("primary/certwaiter"),
		shared: &sharedState{
			self:     deps.Self,
			client:   deps.Client,
			loopback: deps.Loopback,
		},
		certificateStore: deps.CertificateStore,
		consensusStore:   deps.ConsensusStore,
		gcDepth:          deps.GCDepth,
		committee:        deps.Committee,
		targets:          NewTargetTracker(),
		missingParent:    channels.NewInfiniteChannel(),
		reconfigureCh:    make(chan *api.ReconfigureNotification),
		consensusRoundCh: make(chan api.Round, 1),
		doneCh:           make(chan struct{}),
	}
}

// MissingParent feeds in a certificate whose parent is locally missing,
// as reported by the Synchronizer. Safe to call concurrently with Run.
func (w *Waiter) MissingParent(cert *api.Certificate) {
	w.missingParent.In() <- cert
}

// Reconfigure delivers a committee change or shutdown notification. Safe
// to call concurrently with Run; blocks until Run consumes it.
func (w *Waiter) Reconfigure(n *api.ReconfigureNotification) {
	w.reconfigureCh <- n
}

// UpdateConsensusRound publishes the consensus engine's latest committed
// round. It is a single-slot value: only the most recent update before
// the next Kick is observed.
func (w *Waiter) UpdateConsensusRound(r api.Round) {
	select {
	case <-w.consensusRoundCh:
	default:
	}
	w.consensusRoundCh <- r
}

// Done returns a channel closed once Run has returned.
func (w *Waiter) Done() <-chan struct{} {
	return w.doneCh
}

// Run executes the event loop until a Shutdown reconfiguration arrives.
// The caller is responsible for running this on its own goroutine.
func (w *Waiter) Run() {
	registerMetrics()

	defer close(w.doneCh)
	defer w.missingParent.Close()

	for {
		select {
		case v, ok := <-w.missingParent.Out():
			if !ok {
				return
			}
			w.handleMissingParent(v.(*api.Certificate))

		case err, ok := <-w.fetchDone:
			if !ok {
				continue
			}
			w.onFetchTaskCompleted(err)

		case n, ok := <-w.reconfigureCh:
			if !ok {
				// Losing the reconfiguration channel would silently break
				// correctness (the loop could run forever against a stale
				// committee), so this is a deliberate fatal condition.
				panic(api.ErrReconfigureChannelLost)
			}
			if w.handleReconfigure(n) {
				if w.fetchCancel != nil {
					w.fetchCancel()
				}
				return
			}
		}
	}
}

func (w *Waiter) handleMissingParent(cert *api.Certificate) {
	if cert.Epoch != w.committee.Epoch {
		return
	}

	a, r := cert.Author, cert.Round
	if cur, ok := w.targets.Get(a); ok && r <= cur {
		return
	}

	committed, err := w.committedRound(context.Background(), a)
	if err != nil {
		w.logger.Error("failed to read committed round, dropping missing-parent event", "authority", a, "err", err)
		return
	}
	if committed >= r {
		return
	}

	w.targets.Insert(a, r)
	w.maybeKick()
}

func (w *Waiter) onFetchTaskCompleted(err error) {
	fetchTaskInflight.WithLabelValues(epochLabel(w.committee.Epoch)).Set(0)

	w.fetchDone = nil
	w.fetchCancel = nil

	if err != nil {
		w.logger.Debug("fetch task ended with error", "err", err)
	}

	w.maybeKick()
}

func (w *Waiter) maybeKick() {
	if w.fetchDone != nil {
		return
	}
	w.kick()
}

func (w *Waiter) handleReconfigure(n *api.ReconfigureNotification) (shutdown bool) {
	switch n.Kind {
	case api.ReconfigureNewEpoch:
		w.committee = n.Committee
		w.targets.Clear()
	case api.ReconfigureUpdateCommittee:
		w.committee = n.Committee
	case api.ReconfigureShutdown:
		return true
	}
	return false
}

// committedRound reads an authority's highest durably-known round from
// whichever store backs it in this deployment: the consensus store when
// internal consensus is enabled, else the certificate store.
func (w *Waiter) committedRound(ctx context.Context, a api.Authority) (api.Round, error) {
	if w.consensusStore != nil {
		r, _, err := w.consensusStore.LastCommittedRound(ctx, a)
		return r, err
	}
	r, _, err := w.certificateStore.LastRoundNumber(ctx, a)
	return r, err
}

func (w *Waiter) latestConsensusRound() api.Round {
	select {
	case r := <-w.consensusRoundCh:
		w.latestRound = r
	default:
	}
	return w.latestRound
}

func epochLabel(e api.Epoch) string {
	return strconv.FormatUint(uint64(e), 10)
}
