package comms

import (
	"github.com/CodedInternet/dddrive/onboard"
)

// ChannelPayload is one wheel as the control page reads it.
type ChannelPayload struct {
	Setpoint    int     `json:"sp"`
	Effective   int     `json:"eff"`
	Current     float64 `json:"cur"`
	Output      float64 `json:"out"`
	Integral    float64 `json:"i"`
	Duty        float64 `json:"duty"`
	Direction   string  `json:"dir"`
	Stale       bool    `json:"stale"`
	Stopped     bool    `json:"stopped"`
	SensorFault bool    `json:"fault"`
	State       string  `json:"state"`
}

type TelemetryPayload struct {
	Left  ChannelPayload `json:"l"`
	Right ChannelPayload `json:"r"`
	Time  int64          `json:"t"` // unix ms of the cycle
	Cycle uint64         `json:"cycle"`
}

func newChannelPayload(t onboard.ChannelTelemetry) ChannelPayload {
	return ChannelPayload{
		Setpoint:    t.Setpoint,
		Effective:   t.Effective,
		Current:     t.MeasuredVelocity,
		Output:      t.Output,
		Integral:    t.Integral,
		Duty:        t.Duty,
		Direction:   t.Direction.String(),
		Stale:       t.Stale,
		Stopped:     t.Stopped,
		SensorFault: t.SensorFault,
		State:       t.State.String(),
	}
}

func NewTelemetryPayload(s onboard.Snapshot) *TelemetryPayload {
	p := &TelemetryPayload{
		Left:  newChannelPayload(s.Left),
		Right: newChannelPayload(s.Right),
		Cycle: s.Cycle,
	}
	if !s.SampledAt.IsZero() {
		p.Time = s.SampledAt.UnixNano() / 1e6
	}
	return p
}

// Cmd is the message clients send over the stream and MQTT.
//
//	{"cmd":"cmd","l":500,"r":-500}
//	{"cmd":"twist","linear":800,"angular":0.5}
//	{"cmd":"stop"}
// Cmd is a client request. l and r are pointers so a missing setpoint is told
// apart from a zero one.
type Cmd struct {
	Cmd     string  `json:"cmd"`
	Left    *int    `json:"l"`
	Right   *int    `json:"r"`
	Linear  float64 `json:"linear"`
	Angular float64 `json:"angular"`
}

func NewSetpointCmd(left, right int) Cmd {
	return Cmd{Cmd: "cmd", Left: &left, Right: &right}
}

type AckPayload struct {
	Seq   uint64 `json:"seq"`
	Left  int    `json:"l"`
	Right int    `json:"r"`
	Time  int64  `json:"t"`
}

func NewAckPayload(ack onboard.Ack) *AckPayload {
	return &AckPayload{
		Seq:   ack.Seq,
		Left:  ack.Left,
		Right: ack.Right,
		Time:  ack.ReceivedAt.UnixNano() / 1e6,
	}
}

// Reply answers a single Cmd. Exactly one of Ack, Telemetry or Error is set.
type Reply struct {
	Cmd       string            `json:"cmd"`
	Ack       *AckPayload       `json:"ack,omitempty"`
	Telemetry *TelemetryPayload `json:"telemetry,omitempty"`
	Error     string            `json:"error,omitempty"`
}
