package onboard

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stianeikeland/go-rpio/v4"

	"github.com/CodedInternet/dddrive/onboard/hardware"
)

// OpenDrive builds a DiffDrive on the hardware named by config.Driver. The
// returned closer releases whatever the driver opened.
func OpenDrive(config DriveConfig, clock func() time.Time) (d *DiffDrive, closer func() error, err error) {
	if err = config.Validate(); err != nil {
		return nil, nil, err
	}

	var left, right MotorIO
	closer = func() error { return nil }

	switch config.Driver {
	case DRIVER_SIM:
		l, r := NewSimulatedMotors(config, clock)
		left = MotorIO{Encoder: l, Actuator: l}
		right = MotorIO{Encoder: r, Actuator: r}
		log.Info().Float64("gain", config.Sim.Gain).Dur("tau", config.Sim.Tau).Msg("using simulated motors")

	case DRIVER_SERIAL, DRIVER_GPIO:
		mcu, err := hardware.OpenMotorMCU(config.Serial.Port, config.Serial.Baud)
		if err != nil {
			return nil, nil, err
		}
		closer = mcu.Close

		lc, rc := config.Motors["left"], config.Motors["right"]
		left = MotorIO{Encoder: mcu.Encoder(lc.Index), Actuator: mcu.Actuator(lc.Index)}
		right = MotorIO{Encoder: mcu.Encoder(rc.Index), Actuator: mcu.Actuator(rc.Index)}

		if config.Driver == DRIVER_GPIO {
			// encoders stay on the mcu, the bridges are driven from the header
			if err := rpio.Open(); err != nil {
				mcu.Close()
				return nil, nil, fmt.Errorf("unable to open gpio: %v", err)
			}
			left.Actuator = hardware.NewGPIOActuator(lc.PWM, lc.IN1, lc.IN2)
			right.Actuator = hardware.NewGPIOActuator(rc.PWM, rc.IN1, rc.IN2)

			closer = func() error {
				rpio.Close()
				return mcu.Close()
			}
		}
		log.Info().Str("driver", config.Driver).Str("port", config.Serial.Port).Msg("using motor hardware")

	default:
		return nil, nil, fmt.Errorf("unknown driver %q", config.Driver)
	}

	d, err = NewDiffDrive(config, left, right, clock)
	if err != nil {
		closer()
		return nil, nil, err
	}

	return d, closer, nil
}
