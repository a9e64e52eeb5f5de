package journal

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/asdine/storm/v3"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CodedInternet/dddrive/onboard"
)

func openTestJournal() (j *Journal, cleanup func()) {
	dir, err := ioutil.TempDir("", "journal")
	So(err, ShouldBeNil)

	db, err := storm.Open(filepath.Join(dir, "test.db"))
	So(err, ShouldBeNil)

	j, err = New(db)
	So(err, ShouldBeNil)

	return j, func() {
		db.Close()
		os.RemoveAll(dir)
	}
}

func TestJournal(t *testing.T) {
	Convey("A fresh journal", t, func() {
		j, cleanup := openTestJournal()
		defer cleanup()

		at := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

		Convey("is empty", func() {
			entries, err := j.Recent(10)
			So(err, ShouldBeNil)
			So(entries, ShouldBeEmpty)
		})

		Convey("records events with a reference", func() {
			entry, err := j.Record(onboard.Event{Kind: onboard.EventCommand, Left: 500, Right: -500, Seq: 1, At: at})
			So(err, ShouldBeNil)
			So(entry.Ref, ShouldNotBeEmpty)

			stored, err := j.Get(entry.Ref)
			So(err, ShouldBeNil)
			So(stored.Left, ShouldEqual, 500)
			So(stored.Right, ShouldEqual, -500)
			So(stored.Kind, ShouldEqual, "command")
			So(stored.At.Equal(at), ShouldBeTrue)
		})

		Convey("returns the newest entries first", func() {
			for i := 1; i <= 5; i++ {
				_, err := j.Record(onboard.Event{Kind: onboard.EventCommand, Seq: uint64(i), At: at})
				So(err, ShouldBeNil)
			}
			j.Record(onboard.Event{Kind: onboard.EventStop, Seq: 6, At: at})

			entries, err := j.Recent(3)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 3)
			So(entries[0].Seq, ShouldEqual, uint64(6))
			So(entries[2].Seq, ShouldEqual, uint64(4))

			Convey("and filters by kind", func() {
				stops, err := j.ByKind(onboard.EventStop, 10)
				So(err, ShouldBeNil)
				So(len(stops), ShouldEqual, 1)

				halts, err := j.ByKind(onboard.EventHalt, 10)
				So(err, ShouldBeNil)
				So(halts, ShouldBeEmpty)
			})
		})

		Convey("drops the oldest entries beyond the limit", func() {
			j.Max = 3
			for i := 1; i <= 5; i++ {
				j.Record(onboard.Event{Kind: onboard.EventCommand, Seq: uint64(i), At: at})
			}

			entries, err := j.Recent(10)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 3)
			So(entries[2].Seq, ShouldEqual, uint64(3))
		})

		Convey("drains an event channel until it is closed", func() {
			events := make(chan onboard.Event, 4)
			events <- onboard.Event{Kind: onboard.EventStop, At: at}
			events <- onboard.Event{Kind: onboard.EventTransition, Channel: "L", From: "ACTIVE", To: "STOPPED", At: at}
			close(events)

			j.Drain(context.Background(), events)

			entries, err := j.Recent(10)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 2)
			So(entries[0].To, ShouldEqual, "STOPPED")
		})

		Convey("stops draining when cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			j.Drain(ctx, make(chan onboard.Event))
		})
	})
}
