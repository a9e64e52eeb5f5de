package onboard

import (
	"time"

	driveerrors "github.com/CodedInternet/dddrive/onboard/errors"
)

// VelocityEstimator turns cumulative encoder counts into counts/second over the
// window between two good samples. maxDelta is the plausible delta for one nominal
// period; longer windows scale it.
type VelocityEstimator struct {
	channel  Channel
	mask     uint64
	half     uint64
	maxDelta int64
	period   time.Duration

	primed   bool
	fresh    bool
	prevRaw  uint64
	prevTime time.Time
	velocity float64
}

func NewVelocityEstimator(channel Channel, counterBits uint, maxDelta int64, period time.Duration) *VelocityEstimator {
	e := &VelocityEstimator{
		channel:  channel,
		maxDelta: maxDelta,
		period:   period,
		mask:     ^uint64(0),
	}
	if counterBits < 64 {
		e.mask = (uint64(1) << counterBits) - 1
	}
	e.half = e.mask/2 + 1

	return e
}

// delta reduces the unsigned modulus difference to the signed range of the counter.
func (e *VelocityEstimator) delta(raw uint64) int64 {
	d := (raw - e.prevRaw) & e.mask
	if d >= e.half {
		return -int64(e.mask - d + 1)
	}
	return int64(d)
}

// limit is the largest plausible delta over a window of elapsed.
func (e *VelocityEstimator) limit(elapsed time.Duration) int64 {
	if e.period <= 0 || elapsed <= e.period {
		return e.maxDelta
	}
	return int64(float64(e.maxDelta) * float64(elapsed) / float64(e.period))
}

// Sample feeds the count read at now. On a fault the previous velocity is kept and
// the fault returned; the caller decides how to escalate.
func (e *VelocityEstimator) Sample(raw uint64, now time.Time) (float64, error) {
	raw &= e.mask
	e.fresh = false

	if !e.primed {
		e.primed = true
		e.prevRaw = raw
		e.prevTime = now
		return e.velocity, nil
	}

	elapsed := now.Sub(e.prevTime)
	if elapsed <= 0 {
		return e.velocity, driveerrors.ClockFault{Elapsed: elapsed}
	}

	delta := e.delta(raw)
	limit := e.limit(elapsed)
	e.prevRaw = raw
	e.prevTime = now

	// past half the counter range a wrap can no longer be told apart from motion
	if uint64(limit) >= e.half {
		return e.velocity, driveerrors.SensorFault{
			Channel: e.channel.String(),
			Delta:   delta,
			Limit:   limit,
			Cause:   driveerrors.ErrWindowAmbiguous,
		}
	}

	if delta > limit || delta < -limit {
		return e.velocity, driveerrors.SensorFault{
			Channel: e.channel.String(),
			Delta:   delta,
			Limit:   limit,
		}
	}

	e.velocity = float64(delta) / elapsed.Seconds()
	e.fresh = true
	return e.velocity, nil
}

// ReadFailed records an encoder read error as a fault, holding the estimate.
// The window stays open, so the next good sample covers the whole gap.
func (e *VelocityEstimator) ReadFailed(cause error) (float64, error) {
	e.fresh = false
	return e.velocity, driveerrors.SensorFault{Channel: e.channel.String(), Cause: cause}
}

// Fresh reports whether the last sample produced a new estimate. Priming samples,
// faults and clock faults do not.
func (e *VelocityEstimator) Fresh() bool {
	return e.fresh
}

func (e *VelocityEstimator) Velocity() float64 {
	return e.velocity
}
