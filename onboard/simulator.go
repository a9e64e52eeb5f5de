package onboard

import (
	"math"
	"sync"
	"time"

	"github.com/CodedInternet/dddrive/onboard/hardware"
)

// SimulatedMotor is a first order DC motor and load: at constant duty u the
// velocity approaches gain*u with time constant tau. The state is integrated
// exactly up to the current clock reading on every access.
type SimulatedMotor struct {
	Gain     float64 // counts/s at full duty
	Tau      time.Duration
	Reversed bool // mirrors a motor mounted the other way round

	lock     sync.Mutex
	clock    func() time.Time
	last     time.Time
	velocity float64
	position float64
	input    float64
}

func NewSimulatedMotor(gain float64, tau time.Duration, clock func() time.Time) *SimulatedMotor {
	if clock == nil {
		clock = time.Now
	}

	return &SimulatedMotor{
		Gain:  gain,
		Tau:   tau,
		clock: clock,
		last:  clock(),
	}
}

// advance must be called with the lock held.
func (m *SimulatedMotor) advance() {
	now := m.clock()
	dt := now.Sub(m.last).Seconds()
	if dt <= 0 {
		return
	}
	m.last = now

	target := m.Gain * m.input
	decay := math.Exp(-dt / m.Tau.Seconds())

	// integral of target + (v0-target)*e^(-t/tau) over dt
	m.position += target*dt + (m.velocity-target)*m.Tau.Seconds()*(1-decay)
	m.velocity = target + (m.velocity-target)*decay
}

func (m *SimulatedMotor) Count() (uint64, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.advance()

	count := int64(math.Floor(m.position))
	if m.Reversed {
		count = -count
	}
	return uint64(count), nil
}

func (m *SimulatedMotor) Drive(cmd hardware.OutputCommand) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.advance()

	input := float64(cmd.Direction) * cmd.Duty
	if m.Reversed {
		input = -input
	}
	m.input = input

	return nil
}

// Velocity is the true shaft velocity in the drive's frame of reference.
func (m *SimulatedMotor) Velocity() float64 {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.advance()
	return m.velocity
}

// SetPosition places the shaft, used to exercise counter wrap-around.
func (m *SimulatedMotor) SetPosition(position float64) {
	m.lock.Lock()
	m.advance()
	m.position = position
	m.lock.Unlock()
}

func NewSimulatedMotors(config DriveConfig, clock func() time.Time) (left, right *SimulatedMotor) {
	left = NewSimulatedMotor(config.Sim.Gain, config.Sim.Tau, clock)
	left.Reversed = config.Motors["left"].Reversed
	right = NewSimulatedMotor(config.Sim.Gain, config.Sim.Tau, clock)
	right.Reversed = config.Motors["right"].Reversed

	return
}
