package driver

import "sync"

// State is the phase the driver is currently in.
type State int32

const (
	StateIdle State = iota
	StateCheckingCalendar
	StatePlanning
	StateSending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCheckingCalendar:
		return "CHECKING_CALENDAR"
	case StatePlanning:
		return "PLANNING"
	case StateSending:
		return "SENDING"
	default:
		return "UNKNOWN"
	}
}

// State returns the most advanced phase any entry point is in, or IDLE when
// nothing runs. Safe for concurrent use.
func (d *Driver) State() State {
	for s := StateSending; s > StateIdle; s-- {
		if d.phases[s].Load() > 0 {
			return s
		}
	}
	return StateIdle
}

// enter records that one entry point is in phase s until the returned func
// is called.
func (d *Driver) enter(s State) (leave func()) {
	d.phases[s].Add(1)
	var once sync.Once
	return func() { once.Do(func() { d.phases[s].Add(-1) }) }
}
