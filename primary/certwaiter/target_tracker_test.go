package certwaiter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/narwhal-go/narwhal/primary/api"
)

func TestTargetTrackerMonotonicInsert(t *testing.T) {
	tr := NewTargetTracker()
	a := api.Authority{1}

	require.True(t, tr.Insert(a, 5))
	r, ok := tr.Get(a)
	require.True(t, ok)
	require.Equal(t, api.Round(5), r)

	require.False(t, tr.Insert(a, 3))
	r, ok = tr.Get(a)
	require.True(t, ok)
	require.Equal(t, api.Round(5), r, "downgrade must be refused")

	require.True(t, tr.Insert(a, 8))
	r, ok = tr.Get(a)
	require.True(t, ok)
	require.Equal(t, api.Round(8), r)
}

func TestTargetTrackerClear(t *testing.T) {
	tr := NewTargetTracker()
	tr.Insert(api.Authority{1}, 5)
	tr.Insert(api.Authority{2}, 7)
	require.Equal(t, 2, tr.Len())

	tr.Clear()
	require.Equal(t, 0, tr.Len())
	_, ok := tr.Get(api.Authority{1})
	require.False(t, ok)
}

func TestTargetTrackerRetain(t *testing.T) {
	tr := NewTargetTracker()
	a1, a2 := api.Authority{1}, api.Authority{2}
	tr.Insert(a1, 5)
	tr.Insert(a2, 7)

	committed := map[api.Authority]api.Round{a1: 5, a2: 2}
	tr.Retain(func(a api.Authority, r api.Round) bool {
		return committed[a] < r
	})

	require.Equal(t, 1, tr.Len())
	_, ok := tr.Get(a1)
	require.False(t, ok, "target already covered by committed round must be dropped")
	r, ok := tr.Get(a2)
	require.True(t, ok)
	require.Equal(t, api.Round(7), r)
}

func TestGCRound(t *testing.T) {
	require.Equal(t, api.Round(0), gcRound(3, 10))
	require.Equal(t, api.Round(90), gcRound(100, 10))
}
