package anchor

import (
	"fmt"
	"time"
)

// Trigger is the event on whose behalf a strategy is consulted.
type Trigger int

const (
	TriggerMutation Trigger = iota
	TriggerVerify
	TriggerTick
)

func (t Trigger) String() string {
	switch t {
	case TriggerMutation:
		return "mutation"
	case TriggerVerify:
		return "verify"
	case TriggerTick:
		return "tick"
	default:
		return fmt.Sprintf("trigger(%d)", int(t))
	}
}

// Strategy answers "should this list's digest be pushed now?".
type Strategy interface {
	ShouldAnchor(p Pending, trigger Trigger, now time.Time) bool
	Name() string
}

// Periodic anchors once Interval has elapsed or MaxUpdates mutations have
// accumulated since the last anchor. A zero field disables that condition.
type Periodic struct {
	Interval   time.Duration
	MaxUpdates uint64
}

func (s Periodic) Name() string { return "periodic" }

func (s Periodic) ShouldAnchor(p Pending, trigger Trigger, now time.Time) bool {
	if trigger == TriggerVerify {
		return false
	}
	return s.due(p, now)
}

func (s Periodic) due(p Pending, now time.Time) bool {
	if !p.Dirty {
		return false
	}
	if s.MaxUpdates > 0 && p.UpdateCount >= s.MaxUpdates {
		return true
	}
	return s.Interval > 0 && now.Sub(p.LastAnchoredAt) >= s.Interval
}

// Lazy never anchors proactively. A verification that asks for freshness
// anchors once the last anchor is older than MaxStaleness.
type Lazy struct {
	MaxStaleness time.Duration
}

func (s Lazy) Name() string { return "lazy" }

func (s Lazy) ShouldAnchor(p Pending, trigger Trigger, now time.Time) bool {
	return trigger == TriggerVerify && p.Dirty && now.Sub(p.LastAnchoredAt) > s.MaxStaleness
}

// Hybrid behaves like Periodic and, if ForceAnchorOnVerify is set, also
// anchors a dirty list on every verification.
type Hybrid struct {
	Periodic
	ForceAnchorOnVerify bool
}

func (s Hybrid) Name() string { return "hybrid" }

func (s Hybrid) ShouldAnchor(p Pending, trigger Trigger, now time.Time) bool {
	if trigger == TriggerVerify {
		return s.ForceAnchorOnVerify && p.Dirty
	}
	return s.Periodic.due(p, now)
}
