package domain

import (
	"fmt"
	"time"
)

type AlarmState int

const (
	Disarmed AlarmState = iota
	Armed
)

func (s AlarmState) String() string {
	switch s {
	case Armed:
		return "armed"
	default:
		return "disarmed"
	}
}

func (s AlarmState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func ParseAlarmState(s string) (AlarmState, error) {
	switch s {
	case "armed", "on", "1":
		return Armed, nil
	case "disarmed", "off", "2":
		return Disarmed, nil
	default:
		return Disarmed, fmt.Errorf("unknown alarm state: %q", s)
	}
}

// RawEdge is a level change observed on one signal line, before debouncing.
type RawEdge struct {
	Line  string
	Level bool
	At    time.Time
}

// Transition is a debounced, qualified change of the alarm state.
type Transition struct {
	To   AlarmState
	Line string
	Held time.Duration
	At   time.Time
}
