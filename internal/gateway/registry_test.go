package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry(5 * time.Minute)

	r.Add("c1", "u1")
	r.Add("c2", "u1")
	r.Add("c3", "u2")

	require.Equal(t, 3, r.Count())
	require.Equal(t, []string{"c1", "c2"}, r.ByUser("u1"))
	require.True(t, r.IsUserOnline("u1"))
	require.False(t, r.IsUserOnline("u3"))

	require.True(t, r.Remove("c1"))
	require.False(t, r.Remove("c1"))
	require.Equal(t, []string{"c2"}, r.ByUser("u1"))

	r.Clear()
	require.Equal(t, 0, r.Count())
	require.False(t, r.IsUserOnline("u1"))
}

func TestRegistryTouch(t *testing.T) {
	r := NewRegistry(5 * time.Minute)
	base := time.Now()
	r.now = func() time.Time { return base }

	r.Add("c1", "u1")
	r.now = func() time.Time { return base.Add(time.Minute) }
	r.Touch("c1")
	r.Touch("unknown")

	recs := r.Records()
	require.Len(t, recs, 1)
	require.Equal(t, base, recs[0].ConnectedAt)
	require.Equal(t, base.Add(time.Minute), recs[0].LastActivityAt)
}

func TestRegistryReconcile(t *testing.T) {
	r := NewRegistry(5 * time.Minute)
	base := time.Now()
	r.now = func() time.Time { return base }

	// Two stale records, two fresh ones.
	r.Add("stale-live", "u1")
	r.Add("stale-dead", "u2")
	r.now = func() time.Time { return base.Add(10 * time.Minute) }
	r.Add("fresh-live", "u3")
	r.Add("fresh-dead", "u4")

	live := map[string]struct{}{
		"stale-live": {},
		"fresh-live": {},
	}
	stale, orphaned := r.Reconcile(func() map[string]struct{} { return live })

	require.Equal(t, 1, stale)
	require.Equal(t, 1, orphaned)
	require.Equal(t, 2, r.Count())
	require.True(t, r.IsUserOnline("u1"), "stale but live record must survive")
	require.True(t, r.IsUserOnline("u3"))
	require.False(t, r.IsUserOnline("u2"))
	require.False(t, r.IsUserOnline("u4"))
}

func TestRegistryReconcileRequeriesLiveSet(t *testing.T) {
	r := NewRegistry(5 * time.Minute)
	base := time.Now()
	r.now = func() time.Time { return base }

	r.Add("c1", "u1")
	r.now = func() time.Time { return base.Add(10 * time.Minute) }

	calls := 0
	stale, orphaned := r.Reconcile(func() map[string]struct{} {
		calls++
		// The connection dies between the stale pass and the orphan pass.
		if calls == 1 {
			return map[string]struct{}{"c1": {}}
		}
		return map[string]struct{}{}
	})

	require.Equal(t, 2, calls)
	require.Equal(t, 0, stale)
	require.Equal(t, 1, orphaned)
	require.Equal(t, 0, r.Count())
}
