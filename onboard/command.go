package onboard

import (
	"sync"
	"time"

	driveerrors "github.com/CodedInternet/dddrive/onboard/errors"
)

type Channel int

const (
	Left Channel = iota
	Right
)

var Channels = [...]Channel{Left, Right}

func (c Channel) String() string {
	switch c {
	case Left:
		return "L"
	case Right:
		return "R"
	default:
		return "?"
	}
}

// CommandRecord is the single live setpoint pair. Seq increases on every accepted
// write, stops included, so the control loop can tell a fresh record from an old one.
type CommandRecord struct {
	Left, Right int
	ReceivedAt  time.Time
	Seq         uint64
	Stop        bool
}

func (r CommandRecord) Setpoint(c Channel) int {
	if c == Left {
		return r.Left
	}
	return r.Right
}

type Ack struct {
	Seq         uint64
	Left, Right int
	ReceivedAt  time.Time
}

// CommandStore is shared between the request handlers and the control loop.
// Ingress and stop are serialised on the same mutex, so a stop can never be
// overwritten by a command that was already in flight when it was issued.
type CommandStore struct {
	lock    sync.Mutex
	record  CommandRecord
	stopSeq uint64 // seq of the latest stop, 0 when none
	clock   func() time.Time
}

func NewCommandStore(clock func() time.Time) *CommandStore {
	if clock == nil {
		clock = time.Now
	}

	return &CommandStore{
		record: CommandRecord{ReceivedAt: clock()},
		clock:  clock,
	}
}

func validateSetpoint(c Channel, value int) error {
	if value < SETPOINT_MIN || value > SETPOINT_MAX {
		return driveerrors.ValidationError{
			Channel: c.String(),
			Value:   value,
			Min:     SETPOINT_MIN,
			Max:     SETPOINT_MAX,
		}
	}
	return nil
}

// Ingress validates and installs a new setpoint pair. Out of range values are
// rejected, never clamped, and leave the live record untouched.
func (s *CommandStore) Ingress(left, right int) (ack Ack, err error) {
	if err = validateSetpoint(Left, left); err != nil {
		return
	}
	if err = validateSetpoint(Right, right); err != nil {
		return
	}

	s.lock.Lock()
	s.record = CommandRecord{
		Left:       left,
		Right:      right,
		ReceivedAt: s.clock(),
		Seq:        s.record.Seq + 1,
	}
	ack = s.record.ack()
	s.lock.Unlock()

	return ack, nil
}

func (s *CommandStore) Stop() Ack {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.record = CommandRecord{
		ReceivedAt: s.clock(),
		Seq:        s.record.Seq + 1,
		Stop:       true,
	}
	s.stopSeq = s.record.Seq

	return s.record.ack()
}

// Load returns a copy of the live record and the seq of the latest stop.
func (s *CommandStore) Load() (record CommandRecord, stopSeq uint64) {
	s.lock.Lock()
	record, stopSeq = s.record, s.stopSeq
	s.lock.Unlock()

	return
}

func (r CommandRecord) ack() Ack {
	return Ack{
		Seq:        r.Seq,
		Left:       r.Left,
		Right:      r.Right,
		ReceivedAt: r.ReceivedAt,
	}
}
