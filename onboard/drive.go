package onboard

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	driveerrors "github.com/CodedInternet/dddrive/onboard/errors"
	"github.com/CodedInternet/dddrive/onboard/hardware"
)

const EVENT_BUFFER = 64

// Drive is the contract the network collaborators are written against.
type Drive interface {
	Cmd(left, right int) (Ack, error)
	Stop() Ack
	Telemetry() Snapshot
}

type MotorIO struct {
	Encoder  hardware.Encoder
	Actuator hardware.Actuator
}

type motorChannel struct {
	id        Channel
	io        MotorIO
	reversed  bool
	estimator *VelocityEstimator
	pid       *PIDController
	stage     *OutputStage

	output    float64
	command   hardware.OutputCommand
	effective int
	fault     bool
}

// DiffDrive runs the fixed period control cycle for both wheels:
// estimator -> watchdog -> PID -> output stage -> telemetry.
// Step is only ever called from the control goroutine; Cmd, Stop and Telemetry
// are safe to call from anywhere.
type DiffDrive struct {
	dropped uint64 // atomic, first for 64 bit alignment on arm

	config    DriveConfig
	commands  *CommandStore
	watchdog  *Watchdog
	telemetry *TelemetryBuffer
	channels  [2]*motorChannel
	clock     func() time.Time
	events    chan Event

	// owned by the control goroutine
	lastCycle   time.Time
	cycle       uint64
	seenSeq     uint64
	seenStopSeq uint64
	halted      error
}

func NewDiffDrive(config DriveConfig, left, right MotorIO, clock func() time.Time) (d *DiffDrive, err error) {
	if err = config.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = time.Now
	}

	d = &DiffDrive{
		config:    config,
		commands:  NewCommandStore(clock),
		watchdog:  NewWatchdog(config.CommandTimeout, config.MaxSensorFaults),
		telemetry: NewTelemetryBuffer(),
		clock:     clock,
		events:    make(chan Event, EVENT_BUFFER),
	}

	for _, c := range Channels {
		io := left
		motor := config.Motors["left"]
		if c == Right {
			io = right
			motor = config.Motors["right"]
		}

		d.channels[c] = &motorChannel{
			id:        c,
			io:        io,
			reversed:  motor.Reversed,
			estimator: NewVelocityEstimator(c, config.CounterBits, config.MaxWindowDelta, config.Period),
			pid:       NewPIDController(config.Gains, config.IntegralLimit),
			stage:     NewOutputStage(c, config.MinDuty),
		}
	}

	return d, nil
}

func (d *DiffDrive) Cmd(left, right int) (Ack, error) {
	ack, err := d.commands.Ingress(left, right)
	if err != nil {
		log.Warn().Err(err).Int("left", left).Int("right", right).Msg("command rejected")
		d.emit(Event{Kind: EventRejected, Left: left, Right: right, Detail: err.Error(), At: d.clock()})
		return ack, err
	}

	d.emit(Event{Kind: EventCommand, Left: left, Right: right, Seq: ack.Seq, At: ack.ReceivedAt})
	return ack, nil
}

func (d *DiffDrive) Stop() Ack {
	ack := d.commands.Stop()
	log.Warn().Uint64("seq", ack.Seq).Msg("emergency stop")
	d.emit(Event{Kind: EventStop, Seq: ack.Seq, At: ack.ReceivedAt})
	return ack
}

func (d *DiffDrive) Telemetry() Snapshot {
	return d.telemetry.Load()
}

func (d *DiffDrive) Config() DriveConfig {
	return d.config
}

// Run steps the drive every period until ctx is cancelled or output halts.
func (d *DiffDrive) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.config.Period)
	defer ticker.Stop()

	log.Info().Dur("period", d.config.Period).Dur("timeout", d.config.CommandTimeout).Msg("control loop started")

	for {
		select {
		case <-ctx.Done():
			d.coast()
			log.Info().Uint64("cycles", d.cycle).Msg("control loop stopped")
			return nil

		case <-ticker.C:
			if err := d.Step(d.clock()); err != nil {
				return err
			}
		}
	}
}

// Step runs one control cycle at now. The only error it returns is a halt of the
// output stage, after which every further call returns the same error.
func (d *DiffDrive) Step(now time.Time) error {
	if d.halted != nil {
		return d.halted
	}

	period := d.config.Period.Seconds()
	if !d.lastCycle.IsZero() {
		period = now.Sub(d.lastCycle).Seconds()
	}
	if period > 0 {
		d.lastCycle = now
	} else {
		log.Warn().Float64("period", period).Msg("clock fault, holding outputs")
	}

	// velocity estimation
	var faults [2]error
	for _, ch := range d.channels {
		faults[ch.id] = d.sample(ch, now)
	}

	// watchdog
	record, stopSeq := d.commands.Load()
	if stopSeq != d.seenStopSeq {
		d.seenStopSeq = stopSeq
		if record.Seq == stopSeq {
			d.seenSeq = record.Seq
		}
		for _, ch := range d.channels {
			ch.pid.Reset()
		}
		d.transitions(d.watchdog.Stop(), now)
	} else if record.Seq != d.seenSeq {
		// a stop seen this cycle delays re-arming to the next one
		d.seenSeq = record.Seq
		d.transitions(d.watchdog.Arm(), now)
	}
	d.transitions(d.watchdog.Check(now, record.ReceivedAt), now)

	for _, ch := range d.channels {
		switch faults[ch.id].(type) {
		case nil:
			ch.fault = false
			if ch.estimator.Fresh() {
				d.watchdog.SensorOK(ch.id)
			}
		case driveerrors.SensorFault:
			ch.fault = true
			ts := d.watchdog.SensorFault(ch.id)
			if d.watchdog.Faults(ch.id) == 1 || len(ts) > 0 {
				d.emit(Event{Kind: EventSensorFault, Channel: ch.id.String(), Detail: faults[ch.id].Error(), At: now})
			}
			d.transitions(ts, now)
		}
	}

	// regulation and actuation
	for _, ch := range d.channels {
		if err := d.regulate(ch, record, period); err != nil {
			return d.halt(err, now)
		}
	}

	d.publish(record, now)
	return nil
}

func (d *DiffDrive) sample(ch *motorChannel, now time.Time) error {
	raw, err := ch.io.Encoder.Count()
	if err != nil {
		_, err = ch.estimator.ReadFailed(err)
		log.Warn().Err(err).Str("channel", ch.id.String()).Msg("encoder read failed")
		return err
	}

	if ch.reversed {
		raw = -raw
	}

	_, err = ch.estimator.Sample(raw, now)
	if fault, ok := err.(driveerrors.SensorFault); ok {
		log.Warn().Int64("delta", fault.Delta).Str("channel", ch.id.String()).Msg("implausible encoder delta")
	}
	return err
}

func (d *DiffDrive) regulate(ch *motorChannel, record CommandRecord, period float64) (err error) {
	measured := ch.estimator.Velocity()

	if d.watchdog.Forced(ch.id) {
		ch.effective = 0
		ch.output = ch.pid.Hold(measured)
	} else {
		ch.effective = record.Setpoint(ch.id)
		// a clock fault returns the previous output, which is held
		ch.output, _ = ch.pid.Update(float64(ch.effective), measured, period)
	}

	cmd, err := ch.stage.Map(ch.output)
	if err != nil {
		return err
	}
	ch.command = cmd

	if ch.reversed {
		cmd.Direction = -cmd.Direction
	}
	if err := ch.io.Actuator.Drive(cmd); err != nil {
		log.Error().Err(err).Str("channel", ch.id.String()).Msg("actuator write failed")
	}

	return nil
}

func (d *DiffDrive) publish(record CommandRecord, now time.Time) {
	d.cycle++
	s := &Snapshot{
		SampledAt: now,
		Cycle:     d.cycle,
	}

	for _, ch := range d.channels {
		state := d.watchdog.State(ch.id)
		t := ChannelTelemetry{
			Setpoint:         record.Setpoint(ch.id),
			Effective:        ch.effective,
			MeasuredVelocity: ch.estimator.Velocity(),
			Output:           ch.output,
			Integral:         ch.pid.State().Integral,
			Duty:             ch.command.Duty,
			Direction:        ch.command.Direction,
			State:            state,
			Stale:            state == STALE,
			Stopped:          state == STOPPED,
			SensorFault:      ch.fault,
		}

		if ch.id == Left {
			s.Left = t
		} else {
			s.Right = t
		}
	}

	d.telemetry.Publish(s)
}

// halt stops output generation for good. Both actuators get one coast command, a
// value that is always defined, and the error is latched.
func (d *DiffDrive) halt(err error, now time.Time) error {
	d.halted = err
	d.coast()

	log.Error().Err(err).Msg("output stage contract violated, halting output")
	d.emit(Event{Kind: EventHalt, Detail: err.Error(), At: now})

	return err
}

func (d *DiffDrive) coast() {
	for _, ch := range d.channels {
		ch.command = hardware.OutputCommand{Direction: hardware.Coast}
		if err := ch.io.Actuator.Drive(ch.command); err != nil {
			log.Error().Err(err).Str("channel", ch.id.String()).Msg("unable to coast motor")
		}
	}
}

func (d *DiffDrive) transitions(ts []Transition, now time.Time) {
	for _, t := range ts {
		if t.To == ACTIVE {
			d.channels[t.Channel].pid.Reset()
		}

		log.Info().
			Str("channel", t.Channel.String()).
			Str("from", t.From.String()).
			Str("to", t.To.String()).
			Msg("watchdog transition")

		d.emit(Event{
			Kind:    EventTransition,
			Channel: t.Channel.String(),
			From:    t.From.String(),
			To:      t.To.String(),
			At:      now,
		})
	}
}

// emit never blocks; events are dropped when nobody drains them.
func (d *DiffDrive) emit(e Event) {
	select {
	case d.events <- e:
	default:
		atomic.AddUint64(&d.dropped, 1)
	}
}

func (d *DiffDrive) Events() <-chan Event {
	return d.events
}

func (d *DiffDrive) DroppedEvents() uint64 {
	return atomic.LoadUint64(&d.dropped)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
