package onboard

import "time"

type EventKind string

const (
	EventCommand     EventKind = "command"
	EventRejected    EventKind = "rejected"
	EventStop        EventKind = "stop"
	EventTransition  EventKind = "transition"
	EventSensorFault EventKind = "sensor_fault"
	EventHalt        EventKind = "halt"
)

// Event is an operator-facing record of something the drive did. Only the fields
// relevant to the kind are set.
type Event struct {
	Kind    EventKind
	At      time.Time
	Seq     uint64
	Left    int
	Right   int
	Channel string
	From    string
	To      string
	Detail  string
}
