package anchor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relves/trustkit/pkg/anchor"
)

func TestStrategies(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Second)
	old := now.Add(-time.Hour)

	periodic := anchor.Periodic{Interval: 10 * time.Minute, MaxUpdates: 5}
	lazy := anchor.Lazy{MaxStaleness: 10 * time.Minute}
	hybrid := anchor.Hybrid{Periodic: periodic, ForceAnchorOnVerify: true}
	hybridNoForce := anchor.Hybrid{Periodic: periodic}

	tests := []struct {
		name     string
		strategy anchor.Strategy
		pending  anchor.Pending
		trigger  anchor.Trigger
		want     bool
	}{
		{"periodic clean", periodic, anchor.Pending{LastAnchoredAt: old}, anchor.TriggerTick, false},
		{"periodic interval elapsed", periodic, anchor.Pending{Dirty: true, UpdateCount: 1, LastAnchoredAt: old}, anchor.TriggerTick, true},
		{"periodic interval not elapsed", periodic, anchor.Pending{Dirty: true, UpdateCount: 1, LastAnchoredAt: fresh}, anchor.TriggerMutation, false},
		{"periodic max updates", periodic, anchor.Pending{Dirty: true, UpdateCount: 5, LastAnchoredAt: fresh}, anchor.TriggerMutation, true},
		{"periodic ignores verify", periodic, anchor.Pending{Dirty: true, UpdateCount: 5, LastAnchoredAt: old}, anchor.TriggerVerify, false},

		{"lazy ignores mutation", lazy, anchor.Pending{Dirty: true, UpdateCount: 100, LastAnchoredAt: old}, anchor.TriggerMutation, false},
		{"lazy ignores tick", lazy, anchor.Pending{Dirty: true, UpdateCount: 100, LastAnchoredAt: old}, anchor.TriggerTick, false},
		{"lazy stale verify", lazy, anchor.Pending{Dirty: true, UpdateCount: 1, LastAnchoredAt: old}, anchor.TriggerVerify, true},
		{"lazy fresh verify", lazy, anchor.Pending{Dirty: true, UpdateCount: 1, LastAnchoredAt: fresh}, anchor.TriggerVerify, false},
		{"lazy clean verify", lazy, anchor.Pending{LastAnchoredAt: old}, anchor.TriggerVerify, false},

		{"hybrid forced verify", hybrid, anchor.Pending{Dirty: true, UpdateCount: 1, LastAnchoredAt: fresh}, anchor.TriggerVerify, true},
		{"hybrid forced verify clean", hybrid, anchor.Pending{LastAnchoredAt: fresh}, anchor.TriggerVerify, false},
		{"hybrid unforced verify", hybridNoForce, anchor.Pending{Dirty: true, UpdateCount: 1, LastAnchoredAt: old}, anchor.TriggerVerify, false},
		{"hybrid periodic tick", hybrid, anchor.Pending{Dirty: true, UpdateCount: 1, LastAnchoredAt: old}, anchor.TriggerTick, true},
		{"hybrid periodic max updates", hybrid, anchor.Pending{Dirty: true, UpdateCount: 5, LastAnchoredAt: fresh}, anchor.TriggerMutation, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.strategy.ShouldAnchor(tt.pending, tt.trigger, now))
		})
	}
}

func TestTracker(t *testing.T) {
	tr := anchor.NewTracker()
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	p := tr.Get("list-1", created)
	assert.False(t, p.Dirty)
	assert.Equal(t, created, p.LastAnchoredAt)

	tr.RecordMutation("list-1", created)
	p = tr.RecordMutation("list-1", created)
	assert.True(t, p.Dirty)
	assert.Equal(t, uint64(2), p.UpdateCount)

	// A mutation lands while the anchor covering the first two is written.
	tr.RecordMutation("list-1", created)
	anchoredAt := created.Add(time.Hour)
	tr.MarkAnchored("list-1", 2, anchoredAt)

	p = tr.Get("list-1", created)
	assert.True(t, p.Dirty)
	assert.Equal(t, uint64(1), p.UpdateCount)
	assert.Equal(t, anchoredAt, p.LastAnchoredAt)

	tr.MarkAnchored("list-1", 1, anchoredAt)
	assert.False(t, tr.Get("list-1", created).Dirty)

	assert.True(t, tr.TryBegin("list-1"))
	assert.False(t, tr.TryBegin("list-1"))
	assert.True(t, tr.TryBegin("list-2"))
	tr.End("list-1")
	assert.True(t, tr.TryBegin("list-1"))

	assert.True(t, tr.Tracked("list-1"))
	assert.False(t, tr.Tracked("list-2"), "in-flight marks are not bookkeeping")
}

func TestTracker_Seed(t *testing.T) {
	tr := anchor.NewTracker()
	anchoredAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, tr.Seed(anchor.Pending{ListID: "list-1", UpdateCount: 3, LastAnchoredAt: anchoredAt}))
	p := tr.Get("list-1", time.Time{})
	assert.True(t, p.Dirty)
	assert.Equal(t, uint64(3), p.UpdateCount)
	assert.Equal(t, anchoredAt, p.LastAnchoredAt)

	tr.RecordMutation("list-1", time.Time{})
	assert.False(t, tr.Seed(anchor.Pending{ListID: "list-1"}), "a tracked list keeps its counts")
	assert.Equal(t, uint64(4), tr.Get("list-1", time.Time{}).UpdateCount)

	assert.True(t, tr.Seed(anchor.Pending{ListID: "list-2", Dirty: true}))
	assert.False(t, tr.Get("list-2", time.Time{}).Dirty, "dirty follows the count")
}
