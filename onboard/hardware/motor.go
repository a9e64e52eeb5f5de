package hardware

import "fmt"

type Direction int8

const (
	Coast   Direction = 0
	Forward Direction = 1
	Reverse Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "FWD"
	case Reverse:
		return "REV"
	default:
		return "COAST"
	}
}

// OutputCommand is what an actuator is asked to apply. Duty is always within [0, 1].
type OutputCommand struct {
	Direction Direction
	Duty      float64
}

func (c OutputCommand) String() string {
	return fmt.Sprintf("%s %.3f", c.Direction, c.Duty)
}

// Encoder reports the cumulative raw count of an incremental position sensor.
// The count wraps at the sensor's counter width.
type Encoder interface {
	Count() (count uint64, err error)
}

type Actuator interface {
	Drive(cmd OutputCommand) error
}
