package onboard

import (
	"sync/atomic"
	"time"

	"github.com/CodedInternet/dddrive/onboard/hardware"
)

type ChannelTelemetry struct {
	Setpoint         int // raw user setpoint from the live command
	Effective        int // setpoint the controller actually used
	MeasuredVelocity float64
	Output           float64
	Integral         float64
	Duty             float64
	Direction        hardware.Direction
	State            WatchdogState
	Stale            bool
	Stopped          bool
	SensorFault      bool
}

// Snapshot is immutable once published.
type Snapshot struct {
	Left, Right ChannelTelemetry
	SampledAt   time.Time
	Cycle       uint64
}

func (s Snapshot) Channel(c Channel) ChannelTelemetry {
	if c == Left {
		return s.Left
	}
	return s.Right
}

// TelemetryBuffer publishes snapshots with a pointer swap so readers never take a
// lock the control loop needs and never observe a partially written snapshot.
type TelemetryBuffer struct {
	current atomic.Value // *Snapshot
}

func NewTelemetryBuffer() *TelemetryBuffer {
	b := new(TelemetryBuffer)
	b.current.Store(&Snapshot{
		Left:  ChannelTelemetry{State: STALE, Stale: true},
		Right: ChannelTelemetry{State: STALE, Stale: true},
	})
	return b
}

func (b *TelemetryBuffer) Publish(s *Snapshot) {
	b.current.Store(s)
}

func (b *TelemetryBuffer) Load() Snapshot {
	return *b.current.Load().(*Snapshot)
}
