package onboard

import (
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	CONFIG_VERSION = 1

	SETPOINT_MIN = -2000
	SETPOINT_MAX = 2000

	DRIVER_SIM    = "sim"
	DRIVER_SERIAL = "serial"
	DRIVER_GPIO   = "gpio"
)

type PIDGains struct {
	Kp float64
	Ki float64
	Kd float64
}

type MotorConfig struct {
	Index    int  // channel index on the motor mcu
	Reversed bool // motor mounted mirrored; flips both sensing and drive
	PWM      int  `yaml:"pwm"`
	IN1      int  `yaml:"in1"`
	IN2      int  `yaml:"in2"`
}

type DriveConfig struct {
	Version         int
	Period          time.Duration
	CommandTimeout  time.Duration `yaml:"command_timeout"`
	MaxSensorFaults int           `yaml:"max_sensor_faults"`
	Gains           PIDGains
	IntegralLimit   float64 `yaml:"integral_limit"`
	MinDuty         float64 `yaml:"min_duty"`
	CounterBits     uint    `yaml:"counter_bits"`
	MaxWindowDelta  int64   `yaml:"max_window_delta"`
	TrackCounts     float64 `yaml:"track_counts"` // wheel separation in encoder counts

	Driver string
	Serial struct {
		Port string
		Baud int
	}
	Motors map[string]MotorConfig // keyed by "left" and "right"
	Sim    struct {
		Gain float64       // counts/s at full duty
		Tau  time.Duration // motor time constant
	}
}

func DefaultDriveConfig() DriveConfig {
	c := DriveConfig{
		Version:         CONFIG_VERSION,
		Period:          20 * time.Millisecond,
		CommandTimeout:  500 * time.Millisecond,
		MaxSensorFaults: 5,
		Gains:           PIDGains{Kp: 0.0005, Ki: 0.005, Kd: 0},
		IntegralLimit:   200,
		MinDuty:         0.02,
		CounterBits:     32,
		MaxWindowDelta:  500,
		TrackCounts:     1200,
		Driver:          DRIVER_SIM,
		Motors: map[string]MotorConfig{
			"left":  {Index: 0},
			"right": {Index: 1, Reversed: true},
		},
	}
	c.Serial.Baud = 115200
	c.Sim.Gain = 3000
	c.Sim.Tau = 100 * time.Millisecond

	return c
}

// LoadDriveConfig reads a yaml tuning file on top of the defaults.
func LoadDriveConfig(filename string) (config DriveConfig, err error) {
	config = DefaultDriveConfig()

	raw, err := ioutil.ReadFile(filename)
	if err != nil {
		return config, fmt.Errorf("unable to read yaml file: %v", err)
	}

	if err = yaml.Unmarshal(raw, &config); err != nil {
		return config, fmt.Errorf("unable to unmarshal yaml: %v", err)
	}

	return config, config.Validate()
}

func (c DriveConfig) Validate() error {
	switch {
	case c.Version != CONFIG_VERSION:
		return fmt.Errorf("unable to work with config version %d", c.Version)
	case c.Period <= 0:
		return fmt.Errorf("period must be positive, got %v", c.Period)
	case c.CommandTimeout <= c.Period:
		return fmt.Errorf("command_timeout %v must exceed the period %v", c.CommandTimeout, c.Period)
	case c.IntegralLimit <= 0:
		return fmt.Errorf("integral_limit must be positive, got %v", c.IntegralLimit)
	case c.MinDuty < 0 || c.MinDuty >= 1:
		return fmt.Errorf("min_duty must be within [0, 1), got %v", c.MinDuty)
	case c.CounterBits < 8 || c.CounterBits > 64:
		return fmt.Errorf("counter_bits must be within [8, 64], got %d", c.CounterBits)
	case c.MaxWindowDelta <= 0:
		return fmt.Errorf("max_window_delta must be positive, got %d", c.MaxWindowDelta)
	case c.MaxSensorFaults <= 0:
		return fmt.Errorf("max_sensor_faults must be positive, got %d", c.MaxSensorFaults)
	}

	for _, name := range []string{"left", "right"} {
		if _, ok := c.Motors[name]; !ok {
			return fmt.Errorf("no motor configured for %s", name)
		}
	}

	switch c.Driver {
	case DRIVER_SIM:
	case DRIVER_SERIAL, DRIVER_GPIO:
		// encoders are always counted by the motor mcu
		if c.Serial.Port == "" {
			return fmt.Errorf("%s driver requires serial.port", c.Driver)
		}
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}

	return nil
}
