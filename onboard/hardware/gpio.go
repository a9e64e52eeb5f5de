package hardware

import (
	"math"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
)

const (
	GPIO_PWM_CYCLE = 1000 // duty resolution
	GPIO_PWM_FREQ  = 20000
)

// GPIOActuator drives one H-bridge channel from the Raspberry Pi header: a hardware
// PWM pin for the magnitude and two logic pins for the direction.
// rpio.Open must have been called before use.
type GPIOActuator struct {
	pwm, in1, in2 rpio.Pin
	lock          sync.Mutex
}

func NewGPIOActuator(pwmPin, in1Pin, in2Pin int) *GPIOActuator {
	a := &GPIOActuator{
		pwm: rpio.Pin(pwmPin),
		in1: rpio.Pin(in1Pin),
		in2: rpio.Pin(in2Pin),
	}

	a.in1.Output()
	a.in2.Output()
	a.in1.Low()
	a.in2.Low()

	a.pwm.Mode(rpio.Pwm)
	a.pwm.Freq(GPIO_PWM_FREQ * GPIO_PWM_CYCLE)
	a.pwm.DutyCycle(0, GPIO_PWM_CYCLE)

	return a
}

func (a *GPIOActuator) Drive(cmd OutputCommand) error {
	high1, high2 := directionLevels(cmd.Direction)
	duty := dutyLength(cmd.Duty)
	if cmd.Direction == Coast {
		duty = 0
	}

	a.lock.Lock()
	defer a.lock.Unlock()

	// drop the magnitude before flipping the bridge
	a.pwm.DutyCycle(0, GPIO_PWM_CYCLE)
	setLevel(a.in1, high1)
	setLevel(a.in2, high2)
	a.pwm.DutyCycle(duty, GPIO_PWM_CYCLE)

	return nil
}

func directionLevels(d Direction) (in1, in2 bool) {
	switch d {
	case Forward:
		return true, false
	case Reverse:
		return false, true
	default:
		return false, false
	}
}

func dutyLength(duty float64) uint32 {
	if duty <= 0 || math.IsNaN(duty) {
		return 0
	}
	if duty >= 1 {
		return GPIO_PWM_CYCLE
	}
	return uint32(math.Round(duty * GPIO_PWM_CYCLE))
}

func setLevel(pin rpio.Pin, high bool) {
	if high {
		pin.High()
	} else {
		pin.Low()
	}
}
