package onboard

import (
	"sync"
	"time"

	"github.com/CodedInternet/dddrive/onboard/hardware"
)

type fakeClock struct {
	lock sync.Mutex
	now  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// mockMotor is a scripted encoder and a recording actuator.
type mockMotor struct {
	lock     sync.Mutex
	count    uint64
	readErr  error
	driveErr error
	commands []hardware.OutputCommand
}

func (m *mockMotor) Count() (uint64, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.count, m.readErr
}

func (m *mockMotor) Drive(cmd hardware.OutputCommand) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.commands = append(m.commands, cmd)
	return m.driveErr
}

func (m *mockMotor) last() hardware.OutputCommand {
	m.lock.Lock()
	defer m.lock.Unlock()
	if len(m.commands) == 0 {
		return hardware.OutputCommand{}
	}
	return m.commands[len(m.commands)-1]
}

func (m *mockMotor) drives() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.commands)
}

func (m *mockMotor) io() MotorIO {
	return MotorIO{Encoder: m, Actuator: m}
}
