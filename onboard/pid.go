package onboard

import (
	"github.com/go-gl/mathgl/mgl64"

	driveerrors "github.com/CodedInternet/dddrive/onboard/errors"
)

// PIDState is owned by exactly one channel's controller.
type PIDState struct {
	Integral       float64
	PreviousError  float64
	PreviousOutput float64
}

// PIDController regulates one wheel. Output is bounded to [-1, 1]. The derivative
// acts on the error; the first cycle after a reset has no previous error and
// contributes no derivative.
type PIDController struct {
	Gains         PIDGains
	IntegralLimit float64

	state  PIDState
	primed bool
}

func NewPIDController(gains PIDGains, integralLimit float64) *PIDController {
	return &PIDController{
		Gains:         gains,
		IntegralLimit: integralLimit,
	}
}

// Update runs one control cycle. A non-positive period is a clock fault: the cycle
// is skipped and the previous output returned unchanged.
func (pid *PIDController) Update(setpoint, measured, periodSeconds float64) (float64, error) {
	if periodSeconds <= 0 {
		return pid.state.PreviousOutput, driveerrors.ClockFault{Elapsed: secondsToDuration(periodSeconds)}
	}

	err := setpoint - measured

	pid.state.Integral += err * periodSeconds
	pid.state.Integral = mgl64.Clamp(pid.state.Integral, -pid.IntegralLimit, pid.IntegralLimit)

	var derivative float64
	if pid.primed {
		derivative = (err - pid.state.PreviousError) / periodSeconds
	}

	raw := pid.Gains.Kp*err + pid.Gains.Ki*pid.state.Integral + pid.Gains.Kd*derivative
	output := mgl64.Clamp(raw, -1, 1)

	pid.state.PreviousError = err
	pid.state.PreviousOutput = output
	pid.primed = true

	return output, nil
}

// Hold is the forced-zero cycle used while the watchdog is not ACTIVE: the setpoint
// is taken as 0, the integral is held at exactly 0 and the output is 0. It does not
// depend on the period, so a clock fault can never keep a stale output alive.
func (pid *PIDController) Hold(measured float64) float64 {
	pid.state.Integral = 0
	pid.state.PreviousError = 0 - measured
	pid.state.PreviousOutput = 0
	pid.primed = true

	return 0
}

func (pid *PIDController) Reset() {
	pid.state = PIDState{}
	pid.primed = false
}

func (pid *PIDController) State() PIDState {
	return pid.state
}
