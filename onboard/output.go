package onboard

import (
	"math"

	"github.com/CodedInternet/dddrive/onboard/hardware"
	driveerrors "github.com/CodedInternet/dddrive/onboard/errors"
)

// OutputStage maps a controller output onto a direction and a duty magnitude.
type OutputStage struct {
	channel Channel
	minDuty float64
}

func NewOutputStage(channel Channel, minDuty float64) *OutputStage {
	return &OutputStage{channel: channel, minDuty: minDuty}
}

// Map never sees an out of range value unless an upstream invariant is broken, in
// which case an OutputContractError is returned and output must halt.
func (s *OutputStage) Map(output float64) (cmd hardware.OutputCommand, err error) {
	if math.IsNaN(output) || output < -1 || output > 1 {
		return hardware.OutputCommand{}, driveerrors.OutputContractError{
			Channel: s.channel.String(),
			Value:   output,
		}
	}

	magnitude := math.Abs(output)
	if magnitude < s.minDuty || magnitude == 0 {
		return hardware.OutputCommand{Direction: hardware.Coast}, nil
	}

	cmd.Duty = magnitude
	if output > 0 {
		cmd.Direction = hardware.Forward
	} else {
		cmd.Direction = hardware.Reverse
	}

	return cmd, nil
}
