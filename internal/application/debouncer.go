package application

import (
	"slices"
	"time"

	"alarm-tstat/internal/domain"
)

type LineRole string

const (
	// RoleArmed lines report Armed when held at their active level.
	RoleArmed LineRole = "armed"
	// RoleDisarmed lines report Disarmed when held at their active level.
	RoleDisarmed LineRole = "disarmed"
	// RoleLevel is a single relay: active means Armed, inactive means Disarmed.
	RoleLevel LineRole = "level"
)

type LineConfig struct {
	Name       string
	Role       LineRole
	ActiveHigh bool
}

type lineState struct {
	cfg     LineConfig
	level   bool
	known   bool
	pending bool
	since   time.Time
}

func (l *lineState) target() (domain.AlarmState, bool) {
	active := l.level == l.cfg.ActiveHigh
	switch l.cfg.Role {
	case RoleArmed:
		return domain.Armed, active
	case RoleDisarmed:
		return domain.Disarmed, active
	case RoleLevel:
		if active {
			return domain.Armed, true
		}
		return domain.Disarmed, true
	default:
		return domain.Disarmed, false
	}
}

// Debouncer turns raw edges into Transitions. A line must stay at a level
// for the whole hold time before it counts; a level change inside the window
// restarts the timer. It holds no timers itself: callers feed edges with
// OnRawEdge and ask for qualified transitions with Due.
type Debouncer struct {
	hold  time.Duration
	lines map[string]*lineState
}

func NewDebouncer(hold time.Duration, lines ...LineConfig) *Debouncer {
	d := &Debouncer{
		hold:  hold,
		lines: make(map[string]*lineState, len(lines)),
	}
	for _, l := range lines {
		d.lines[l.Name] = &lineState{cfg: l}
	}
	return d
}

// OnRawEdge records an edge. It reports false for lines it does not know.
func (d *Debouncer) OnRawEdge(edge domain.RawEdge) bool {
	ls, ok := d.lines[edge.Line]
	if !ok {
		return false
	}

	// Repeated report of the level we already have: the timer keeps running.
	if ls.known && ls.level == edge.Level {
		return true
	}

	ls.known = true
	ls.level = edge.Level
	if _, ok := ls.target(); ok {
		ls.pending = true
		ls.since = edge.At
	} else {
		ls.pending = false
	}
	return true
}

// Due returns the transitions whose hold time has elapsed at now, oldest first.
// Each held level is reported once.
func (d *Debouncer) Due(now time.Time) []domain.Transition {
	type due struct {
		since time.Time
		t     domain.Transition
	}
	var ready []due

	for name, ls := range d.lines {
		if !ls.pending {
			continue
		}
		held := now.Sub(ls.since)
		if held < d.hold {
			continue
		}
		to, _ := ls.target()
		ls.pending = false
		ready = append(ready, due{
			since: ls.since,
			t:     domain.Transition{To: to, Line: name, Held: held, At: now},
		})
	}

	slices.SortStableFunc(ready, func(a, b due) int {
		return a.since.Compare(b.since)
	})

	out := make([]domain.Transition, 0, len(ready))
	for _, r := range ready {
		out = append(out, r.t)
	}
	return out
}

// NextDeadline reports when the earliest pending edge qualifies.
func (d *Debouncer) NextDeadline() (time.Time, bool) {
	var next time.Time
	found := false
	for _, ls := range d.lines {
		if !ls.pending {
			continue
		}
		deadline := ls.since.Add(d.hold)
		if !found || deadline.Before(next) {
			next = deadline
			found = true
		}
	}
	return next, found
}

func (d *Debouncer) HoldTime() time.Duration {
	return d.hold
}
