package comms

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/CodedInternet/dddrive/onboard"
	driveerrors "github.com/CodedInternet/dddrive/onboard/errors"
)

type mockDrive struct {
	lock      sync.Mutex
	seq       uint64
	left      int
	right     int
	stopped   bool
	telemetry onboard.Snapshot
}

func (d *mockDrive) Cmd(left, right int) (onboard.Ack, error) {
	if left > onboard.SETPOINT_MAX || left < onboard.SETPOINT_MIN {
		return onboard.Ack{}, driveerrors.ValidationError{Channel: "L", Value: left, Min: onboard.SETPOINT_MIN, Max: onboard.SETPOINT_MAX}
	}
	if right > onboard.SETPOINT_MAX || right < onboard.SETPOINT_MIN {
		return onboard.Ack{}, driveerrors.ValidationError{Channel: "R", Value: right, Min: onboard.SETPOINT_MIN, Max: onboard.SETPOINT_MAX}
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	d.seq++
	d.left, d.right, d.stopped = left, right, false
	return onboard.Ack{Seq: d.seq, Left: left, Right: right, ReceivedAt: time.Unix(10, 0)}, nil
}

func (d *mockDrive) Stop() onboard.Ack {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.seq++
	d.left, d.right, d.stopped = 0, 0, true
	return onboard.Ack{Seq: d.seq, ReceivedAt: time.Unix(11, 0)}
}

func (d *mockDrive) Telemetry() onboard.Snapshot {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.telemetry
}

func (d *mockDrive) setpoints() (int, int, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.left, d.right, d.stopped
}

func testSnapshot() onboard.Snapshot {
	return onboard.Snapshot{
		Left: onboard.ChannelTelemetry{
			Setpoint:         500,
			Effective:        500,
			MeasuredVelocity: 498.5,
			Output:           0.31,
			State:            onboard.ACTIVE,
		},
		Right: onboard.ChannelTelemetry{
			Setpoint: -500,
			State:    onboard.STALE,
			Stale:    true,
		},
		SampledAt: time.Unix(1, 500*int64(time.Millisecond)),
		Cycle:     42,
	}
}

// mockToken is always complete.
type mockToken struct {
	err error
}

func (t *mockToken) Wait() bool { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Error() error { return t.err }
func (t *mockToken) Done() <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}

type published struct {
	topic   string
	payload []byte
}

// mockClient records publishes; every other method is unused.
type mockClient struct {
	mqtt.Client
	lock      sync.Mutex
	connected bool
	messages  []published
}

func (c *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.messages = append(c.messages, published{topic, payload.([]byte)})
	return &mockToken{}
}

func (c *mockClient) IsConnected() bool {
	return c.connected
}

func (c *mockClient) Disconnect(quiesce uint) {}

func (c *mockClient) last() published {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.messages[len(c.messages)-1]
}

type mockMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m *mockMessage) Topic() string { return m.topic }
func (m *mockMessage) Payload() []byte { return m.payload }
