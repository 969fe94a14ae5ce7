package certwaiter

import (
	"bytes"

	"github.com/google/btree"

	"github.com/narwhal-go/narwhal/primary/api"
)

const targetTreeDegree = 32

// targetItem is a btree.Item ordered solely by Authority: inserting an
// item with an authority already present replaces it outright, which is
// exactly the "one entry per authority" shape the Target Tracker needs.
type targetItem struct {
	authority api.Authority
	round     api.Round
}

func (t targetItem) Less(than btree.Item) bool {
	other := than.(targetItem)
	return bytes.Compare(t.authority[:], other.authority[:]) < 0
}

// TargetTracker is the Authority -> Round map the Event Loop owns and
// mutates: no locking, since it is read and written only from the single
// event-loop goroutine.
type TargetTracker struct {
	tree *btree.BTree
}

// NewTargetTracker constructs an empty tracker.
func NewTargetTracker() *TargetTracker {
	return &TargetTracker{tree: btree.New(targetTreeDegree)}
}

// Get returns the current target round for a, if any.
func (t *TargetTracker) Get(a api.Authority) (api.Round, bool) {
	item := t.tree.Get(targetItem{authority: a})
	if item == nil {
		return 0, false
	}
	return item.(targetItem).round, true
}

// Insert sets target[a] = r, but only if r exceeds the current value (or
// no value is present yet). Returns whether the tracker was mutated.
func (t *TargetTracker) Insert(a api.Authority, r api.Round) bool {
	if cur, ok := t.Get(a); ok && r <= cur {
		return false
	}
	t.tree.ReplaceOrInsert(targetItem{authority: a, round: r})
	return true
}

// Clear removes every target, as happens on an epoch transition.
func (t *TargetTracker) Clear() {
	t.tree = btree.New(targetTreeDegree)
}

// Len reports how many targets are currently tracked.
func (t *TargetTracker) Len() int {
	return t.tree.Len()
}

// Retain drops every target for which keep returns false.
func (t *TargetTracker) Retain(keep func(a api.Authority, r api.Round) bool) {
	var drop []targetItem
	t.tree.Ascend(func(i btree.Item) bool {
		it := i.(targetItem)
		if !keep(it.authority, it.round) {
			drop = append(drop, it)
		}
		return true
	})
	for _, it := range drop {
		t.tree.Delete(it)
	}
}

// Snapshot returns every (authority, round) pair in deterministic
// authority order, for logging. A Fetch Task's request bounds are built
// from the committed-round snapshot instead, not from this.
func (t *TargetTracker) Snapshot() []api.AuthorityRound {
	out := make([]api.AuthorityRound, 0, t.tree.Len())
	t.tree.Ascend(func(i btree.Item) bool {
		it := i.(targetItem)
		out = append(out, api.AuthorityRound{Authority: it.authority, Round: it.round})
		return true
	})
	return out
}
