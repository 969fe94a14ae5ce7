package certwaiter

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/narwhal-go/narwhal/primary/api"
)

// gcRound computes the garbage-collection floor: rounds at or below this
// value are considered already covered regardless of what committedRound
// reports for them.
func gcRound(latestConsensusRound, gcDepth api.Round) api.Round {
	if latestConsensusRound < gcDepth {
		return 0
	}
	return latestConsensusRound - gcDepth
}

// kick evaluates outstanding targets against freshly read committed
// rounds and launches a Fetch Task if work remains. It does not check for
// a task already in flight; callers must check that first (maybeKick does).
func (w *Waiter) kick() {
	ctx := context.Background()
	floor := gcRound(w.latestConsensusRound(), w.gcDepth)

	snapshot := make(map[api.Authority]api.Round, len(w.committee.Members))
	var errs *multierror.Error
	for _, m := range w.committee.Members {
		committed, err := w.committedRound(ctx, m.Authority)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("authority %s: %w", m.Authority, err))
			continue
		}
		if committed < floor {
			committed = floor
		}
		snapshot[m.Authority] = committed
	}
	if err := errs.ErrorOrNil(); err != nil {
		w.logger.Error("kick: aborting, failed to read committed rounds", "err", err)
		return
	}

	// Drop every target the snapshot already covers: this both retires
	// completed catch-up work and applies garbage collection, since
	// snapshot values below gc_round were floored above.
	w.targets.Retain(func(a api.Authority, r api.Round) bool {
		return snapshot[a] < r
	})

	if w.targets.Len() == 0 {
		return
	}

	w.logger.Debug("kick: targets outstanding after gc/committed-round pruning", "targets", w.targets.Snapshot())

	bounds := make([]api.AuthorityRound, 0, len(snapshot))
	for a, r := range snapshot {
		bounds = append(bounds, api.AuthorityRound{Authority: a, Round: r})
	}

	committeeSnapshot := w.committee.Clone()

	fetchCtx, cancel := context.WithCancel(context.Background())
	w.fetchCancel = cancel

	done := make(chan error, 1)
	w.fetchDone = done

	task := &fetchTask{
		shared:    w.shared,
		committee: committeeSnapshot,
		bounds:    bounds,
		logger:    w.logger.With("component", "fetch_task").WithEpoch(uint64(committeeSnapshot.Epoch)).WithAuthority(w.shared.self),
	}

	registerMetrics()
	fetchTaskInflight.WithLabelValues(epochLabel(committeeSnapshot.Epoch)).Set(1)

	go task.run(fetchCtx, done)
}
