package errors

import (
	"errors"
	"io"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDriveErrors(t *testing.T) {
	Convey("validation errors name the channel and value", t, func() {
		err := ValidationError{Channel: "L", Value: 2001, Min: -2000, Max: 2000}
		So(err.Error(), ShouldContainSubstring, "2001")
		So(err.Error(), ShouldContainSubstring, "channel L")

		Convey("missing channel is reported as unknown", func() {
			err.Channel = ""
			So(err.Error(), ShouldContainSubstring, "UNKNOWN")
		})
	})

	Convey("sensor faults describe the delta or the cause", t, func() {
		So(SensorFault{Channel: "R", Delta: 900, Limit: 500}.Error(), ShouldContainSubstring, "delta 900 exceeds 500")

		err := SensorFault{Channel: "R", Cause: io.ErrUnexpectedEOF}
		So(err.Error(), ShouldContainSubstring, io.ErrUnexpectedEOF.Error())
		So(errors.Is(err, io.ErrUnexpectedEOF), ShouldBeTrue)
	})

	Convey("clock faults carry the elapsed period", t, func() {
		So(ClockFault{Elapsed: -time.Millisecond}.Error(), ShouldContainSubstring, "-1ms")
	})

	Convey("output contract errors match the halted sentinel", t, func() {
		var err error = OutputContractError{Channel: "L", Value: 1.5}
		So(errors.Is(err, ErrOutputHalted), ShouldBeTrue)
		So(err.Error(), ShouldContainSubstring, "1.5")
	})
}
