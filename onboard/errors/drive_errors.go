package errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownChannel  = errors.New("unknown motor channel")
	ErrOutputHalted    = errors.New("output generation halted")
	ErrWindowAmbiguous = errors.New("encoder window too long to resolve counter wrap")
)

// ValidationError is returned by command ingress when a requested setpoint is outside
// the accepted range. The live command is left untouched.
type ValidationError struct {
	Channel string
	Value   int
	Min     int
	Max     int
}

func (err ValidationError) Error() string {
	if len(err.Channel) == 0 {
		err.Channel = "UNKNOWN"
	}

	return fmt.Sprintf("setpoint %d for channel %s outside range [%d, %d]", err.Value, err.Channel, err.Min, err.Max)
}

// SensorFault marks a rejected velocity sample on one channel.
type SensorFault struct {
	Channel string
	Delta   int64
	Limit   int64
	Cause   error // set when the encoder could not be read at all
}

func (err SensorFault) Error() string {
	if err.Cause != nil {
		return fmt.Sprintf("sensor fault on channel %s: %v", err.Channel, err.Cause)
	}

	return fmt.Sprintf("sensor fault on channel %s: delta %d exceeds %d counts", err.Channel, err.Delta, err.Limit)
}

func (err SensorFault) Unwrap() error {
	return err.Cause
}

type ClockFault struct {
	Elapsed time.Duration
}

func (err ClockFault) Error() string {
	return fmt.Sprintf("clock fault: non-positive control period %v", err.Elapsed)
}

// OutputContractError means a value outside [-1, 1] reached the output stage.
// Upstream clamping guarantees this never happens, so it is treated as fatal.
type OutputContractError struct {
	Channel string
	Value   float64
}

func (err OutputContractError) Error() string {
	return fmt.Sprintf("output stage for channel %s received %v, outside [-1, 1]", err.Channel, err.Value)
}

func (err OutputContractError) Is(target error) bool {
	return target == ErrOutputHalted
}
