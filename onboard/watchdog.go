package onboard

import (
	"math/bits"
	"time"
)

type WatchdogState int

const (
	STALE WatchdogState = iota // initial: no command received yet
	ACTIVE
	STOPPED
)

func (s WatchdogState) String() string {
	switch s {
	case ACTIVE:
		return "ACTIVE"
	case STOPPED:
		return "STOPPED"
	default:
		return "STALE"
	}
}

type StopReason int

const (
	StopNone StopReason = iota
	StopRequested
	StopSensorFault
)

// Watchdog keeps one state machine per channel.
//
//	STALE   -> ACTIVE   valid new command
//	ACTIVE  -> STALE    command older than the timeout at cycle start
//	any     -> STOPPED  stop signal, or repeated sensor faults on that channel
//	STOPPED -> ACTIVE   valid new command; stop is not sticky, except that a
//	                    sensor fault stop waits for a clean fault history
//
// Sensor faults are counted over the last 2*maxFaults fresh samples of a channel,
// so an encoder failing every other read escalates as well as one that is dead.
type Watchdog struct {
	timeout   time.Duration
	maxFaults int
	window    uint64 // mask over the sample history
	states    [2]WatchdogState
	reasons   [2]StopReason
	history   [2]uint64 // newest sample in bit 0, set bits are faults
}

type Transition struct {
	Channel Channel
	From    WatchdogState
	To      WatchdogState
}

func NewWatchdog(timeout time.Duration, maxFaults int) *Watchdog {
	w := &Watchdog{
		timeout:   timeout,
		maxFaults: maxFaults,
		window:    ^uint64(0),
	}
	if n := 2 * maxFaults; n < 64 {
		w.window = (uint64(1) << uint(n)) - 1
	}
	return w
}

func (w *Watchdog) State(c Channel) WatchdogState {
	return w.states[c]
}

func (w *Watchdog) Reason(c Channel) StopReason {
	return w.reasons[c]
}

// Forced reports whether the channel must run with a zero setpoint.
func (w *Watchdog) Forced(c Channel) bool {
	return w.states[c] != ACTIVE
}

func (w *Watchdog) set(c Channel, to WatchdogState, reason StopReason, out []Transition) []Transition {
	from := w.states[c]
	w.states[c] = to
	w.reasons[c] = reason
	if from != to {
		out = append(out, Transition{Channel: c, From: from, To: to})
	}
	return out
}

// Stop forces both channels to STOPPED. A channel already stopped for sensor
// faults keeps that reason.
func (w *Watchdog) Stop() (transitions []Transition) {
	for _, c := range Channels {
		reason := StopRequested
		if w.states[c] == STOPPED && w.reasons[c] == StopSensorFault {
			reason = StopSensorFault
		}
		transitions = w.set(c, STOPPED, reason, transitions)
	}
	return
}

// Arm is called when a valid new command has been received. The fault history of
// a channel that is already ACTIVE is kept, so a steady command stream cannot mask
// a failing encoder. A channel stopped for sensor faults only re-arms once its
// history is clean again.
func (w *Watchdog) Arm() (transitions []Transition) {
	for _, c := range Channels {
		switch {
		case w.states[c] == STOPPED && w.reasons[c] == StopSensorFault && w.Faults(c) > 0:
			continue
		case w.states[c] != ACTIVE:
			w.history[c] = 0
		}
		transitions = w.set(c, ACTIVE, StopNone, transitions)
	}
	return
}

// Check moves ACTIVE channels to STALE once the live command is older than the
// timeout. It runs at the start of every cycle.
func (w *Watchdog) Check(now, receivedAt time.Time) (transitions []Transition) {
	if now.Sub(receivedAt) <= w.timeout {
		return nil
	}

	for _, c := range Channels {
		if w.states[c] == ACTIVE {
			transitions = w.set(c, STALE, StopNone, transitions)
		}
	}
	return
}

// SensorFault records a faulty sample and stops the channel once the history holds
// maxFaults of them.
func (w *Watchdog) SensorFault(c Channel) (transitions []Transition) {
	w.history[c] = (w.history[c]<<1 | 1) & w.window
	if w.Faults(c) >= w.maxFaults && w.states[c] != STOPPED {
		transitions = w.set(c, STOPPED, StopSensorFault, transitions)
	}
	return
}

// SensorOK records a fresh good sample.
func (w *Watchdog) SensorOK(c Channel) {
	w.history[c] = (w.history[c] << 1) & w.window
}

func (w *Watchdog) Faults(c Channel) int {
	return bits.OnesCount64(w.history[c])
}
