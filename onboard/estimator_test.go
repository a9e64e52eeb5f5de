package onboard

import (
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	driveerrors "github.com/CodedInternet/dddrive/onboard/errors"
)

func TestVelocityEstimator(t *testing.T) {
	Convey("A 16 bit estimator", t, func() {
		e := NewVelocityEstimator(Left, 16, 500, 20*time.Millisecond)
		start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

		Convey("the first sample only primes", func() {
			v, err := e.Sample(1000, start)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 0.0)
			So(e.Fresh(), ShouldBeFalse)

			e.Sample(1010, start.Add(20*time.Millisecond))
			So(e.Fresh(), ShouldBeTrue)
		})

		Convey("velocity is counts over the window", func() {
			e.Sample(1000, start)
			v, err := e.Sample(1100, start.Add(20*time.Millisecond))
			So(err, ShouldBeNil)
			So(v, ShouldAlmostEqual, 5000, 1e-6)

			v, err = e.Sample(1050, start.Add(40*time.Millisecond))
			So(err, ShouldBeNil)
			So(v, ShouldAlmostEqual, -2500, 1e-6)
		})

		Convey("forward wrap around is a small positive delta", func() {
			e.Sample(65530, start)
			v, err := e.Sample(10, start.Add(20*time.Millisecond))
			So(err, ShouldBeNil)
			So(v, ShouldAlmostEqual, 16.0/0.02, 1e-6)
		})

		Convey("reverse wrap around is a small negative delta", func() {
			e.Sample(5, start)
			v, err := e.Sample(65531, start.Add(20*time.Millisecond))
			So(err, ShouldBeNil)
			So(v, ShouldAlmostEqual, -10.0/0.02, 1e-6)
		})

		Convey("bits above the counter width are ignored", func() {
			e.Sample(0x10000+100, start)
			v, err := e.Sample(200, start.Add(10*time.Millisecond))
			So(err, ShouldBeNil)
			So(v, ShouldAlmostEqual, 10000, 1e-6)
		})

		Convey("an implausible delta is a sensor fault and the estimate is held", func() {
			e.Sample(0, start)
			e.Sample(100, start.Add(20*time.Millisecond))

			v, err := e.Sample(10100, start.Add(40*time.Millisecond))
			So(err, ShouldHaveSameTypeAs, driveerrors.SensorFault{})
			So(err.(driveerrors.SensorFault).Delta, ShouldEqual, int64(10000))
			So(v, ShouldAlmostEqual, 5000, 1e-6)

			Convey("and the window resyncs on the bad reading", func() {
				v, err := e.Sample(10200, start.Add(60*time.Millisecond))
				So(err, ShouldBeNil)
				So(v, ShouldAlmostEqual, 5000, 1e-6)
			})
		})

		Convey("a read failure holds the estimate and keeps the window open", func() {
			e.Sample(0, start)
			e.Sample(100, start.Add(20*time.Millisecond))

			cause := errors.New("link down")
			v, err := e.ReadFailed(cause)
			So(v, ShouldAlmostEqual, 5000, 1e-6)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(e.Fresh(), ShouldBeFalse)

			Convey("the next good sample covers the whole gap", func() {
				v, err := e.Sample(500, start.Add(60*time.Millisecond))
				So(err, ShouldBeNil)
				So(e.Fresh(), ShouldBeTrue)
				So(v, ShouldAlmostEqual, 10000, 1e-6)
			})

			Convey("with the plausible delta scaled to the gap", func() {
				_, err := e.Sample(1100, start.Add(60*time.Millisecond))
				So(err, ShouldBeNil)

				e.ReadFailed(cause)
				_, err = e.Sample(2200, start.Add(100*time.Millisecond))
				So(err, ShouldHaveSameTypeAs, driveerrors.SensorFault{})
				So(err.(driveerrors.SensorFault).Limit, ShouldEqual, int64(1000))
			})
		})

		Convey("a window too long to resolve a wrap is a fault", func() {
			e.Sample(0, start)
			e.Sample(100, start.Add(20*time.Millisecond))

			v, err := e.Sample(200, start.Add(2*time.Second))
			So(errors.Is(err, driveerrors.ErrWindowAmbiguous), ShouldBeTrue)
			So(v, ShouldAlmostEqual, 5000, 1e-6)

			v, err = e.Sample(300, start.Add(2*time.Second+20*time.Millisecond))
			So(err, ShouldBeNil)
			So(v, ShouldAlmostEqual, 5000, 1e-6)
		})

		Convey("a non-advancing clock is a clock fault", func() {
			e.Sample(0, start)
			e.Sample(100, start.Add(20*time.Millisecond))

			v, err := e.Sample(200, start.Add(20*time.Millisecond))
			So(err, ShouldHaveSameTypeAs, driveerrors.ClockFault{})
			So(v, ShouldAlmostEqual, 5000, 1e-6)

			Convey("without moving the window", func() {
				v, err := e.Sample(200, start.Add(40*time.Millisecond))
				So(err, ShouldBeNil)
				So(v, ShouldAlmostEqual, 5000, 1e-6)
			})
		})
	})

	Convey("A 64 bit counter reduces deltas correctly", t, func() {
		e := NewVelocityEstimator(Right, 64, 500, time.Second)
		start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

		e.Sample(^uint64(0)-4, start)
		v, err := e.Sample(5, start.Add(time.Second))
		So(err, ShouldBeNil)
		So(v, ShouldAlmostEqual, 10, 1e-9)

		v, err = e.Sample(^uint64(0), start.Add(2*time.Second))
		So(err, ShouldBeNil)
		So(v, ShouldAlmostEqual, -6, 1e-9)
	})
}
