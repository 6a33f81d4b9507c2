// Package signal provides the sources of raw relay edges: sysfs GPIO, an HTTP
// endpoint and an interactive console.
package signal

import (
	"sync"
	"time"

	"alarm-tstat/internal/domain"
)

// Line is one relay input.
type Line struct {
	Name       string
	Pin        int
	ActiveHigh bool
	// ArmedWhenActive is set for the normally-open contact and for a single
	// level relay; it is clear for the normally-closed "disarmed" contact.
	ArmedWhenActive bool
}

// levelFor returns the electrical level the line shows while the alarm is in state.
func (l Line) levelFor(state domain.AlarmState) bool {
	active := l.ArmedWhenActive == (state == domain.Armed)
	if active {
		return l.ActiveHigh
	}
	return !l.ActiveHigh
}

// edgesFor simulates the relay contacts for a whole-alarm state.
func edgesFor(lines []Line, state domain.AlarmState, at time.Time) []domain.RawEdge {
	edges := make([]domain.RawEdge, 0, len(lines))
	for _, l := range lines {
		edges = append(edges, domain.RawEdge{Line: l.Name, Level: l.levelFor(state), At: at})
	}
	return edges
}

// emitter owns the edge channel shared by the sources.
type emitter struct {
	edges     chan domain.RawEdge
	done      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
}

func newEmitter(buffer int) *emitter {
	return &emitter{
		edges: make(chan domain.RawEdge, buffer),
		done:  make(chan struct{}),
	}
}

func (e *emitter) Edges() <-chan domain.RawEdge {
	return e.edges
}

// emit blocks until the edge is queued or the source is stopped.
func (e *emitter) emit(edge domain.RawEdge) bool {
	select {
	case e.edges <- edge:
		return true
	case <-e.done:
		return false
	}
}

// offer queues the edge only if there is room.
func (e *emitter) offer(edge domain.RawEdge) bool {
	select {
	case e.edges <- edge:
		return true
	default:
		return false
	}
}

func (e *emitter) stop() {
	e.stopOnce.Do(func() { close(e.done) })
}

// closeEdges must only run once no producer can send any more.
func (e *emitter) closeEdges() {
	e.closeOnce.Do(func() { close(e.edges) })
}
