package comms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/CodedInternet/dddrive/onboard"
)

const (
	STREAM_INTERVAL   = 500 * time.Millisecond
	STREAM_BUFFER     = 16
	STREAM_WRITE_WAIT = time.Second
)

var ERR_MISSING_SETPOINT = errors.New("both l and r are required")

type ConductorInterface interface {
	ProcessCommand(cmd Cmd) Reply
}

// Conductor sits between the remote clients and the drive. It executes client
// commands and fans telemetry out to every connected stream.
type Conductor struct {
	Device     onboard.Drive
	Kinematics *onboard.DiffKinematics
	Interval   time.Duration

	lock    sync.Mutex
	clients map[*StreamClient]bool
}

type StreamClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func NewConductor(device onboard.Drive, kinematics *onboard.DiffKinematics) *Conductor {
	return &Conductor{
		Device:     device,
		Kinematics: kinematics,
		Interval:   STREAM_INTERVAL,
		clients:    make(map[*StreamClient]bool),
	}
}

func (c *Conductor) ProcessCommand(cmd Cmd) (reply Reply) {
	reply.Cmd = cmd.Cmd

	switch cmd.Cmd {
	case "cmd":
		if cmd.Left == nil || cmd.Right == nil {
			reply.Error = ERR_MISSING_SETPOINT.Error()
			break
		}
		ack, err := c.Device.Cmd(*cmd.Left, *cmd.Right)
		if err != nil {
			reply.Error = err.Error()
			break
		}
		reply.Ack = NewAckPayload(ack)

	case "twist":
		if c.Kinematics == nil {
			reply.Error = "twist is not configured"
			break
		}
		left, right := c.Kinematics.WheelSetpoints(onboard.Twist{Linear: cmd.Linear, Angular: cmd.Angular})
		ack, err := c.Device.Cmd(left, right)
		if err != nil {
			reply.Error = err.Error()
			break
		}
		reply.Ack = NewAckPayload(ack)

	case "stop":
		reply.Ack = NewAckPayload(c.Device.Stop())

	case "telemetry":
		reply.Telemetry = NewTelemetryPayload(c.Device.Telemetry())

	default:
		log.Warn().Str("cmd", cmd.Cmd).Msg("unable to process command")
		reply.Error = fmt.Sprintf("unknown command %q", cmd.Cmd)
	}

	return
}

// Serve runs one websocket client until it disconnects.
func (c *Conductor) Serve(conn *websocket.Conn) {
	client := &StreamClient{
		conn: conn,
		send: make(chan []byte, STREAM_BUFFER),
		done: make(chan struct{}),
	}

	c.register(client)
	go client.writePump()
	defer c.unregister(client)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("stream client read failed")
			}
			return
		}

		var reply Reply
		var cmd Cmd
		if err := json.Unmarshal(msg, &cmd); err != nil {
			reply = Reply{Error: "invalid json"}
		} else {
			reply = c.ProcessCommand(cmd)
		}

		raw, _ := json.Marshal(reply)
		if !client.queue(raw) {
			return
		}
	}
}

func (c *Conductor) register(client *StreamClient) {
	c.lock.Lock()
	if c.clients == nil {
		c.clients = make(map[*StreamClient]bool)
	}
	c.clients[client] = true
	n := len(c.clients)
	c.lock.Unlock()

	log.Info().Int("clients", n).Msg("stream client connected")
}

func (c *Conductor) unregister(client *StreamClient) {
	c.lock.Lock()
	if c.clients[client] {
		delete(c.clients, client)
		close(client.send)
	}
	n := len(c.clients)
	c.lock.Unlock()

	log.Info().Int("clients", n).Msg("stream client disconnected")
}

func (c *Conductor) Clients() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.clients)
}

// Broadcast sends the current telemetry to every client. A client whose buffer is
// full misses this frame. It returns the number of clients the frame was queued for.
func (c *Conductor) Broadcast() int {
	reply := Reply{Cmd: "telemetry", Telemetry: NewTelemetryPayload(c.Device.Telemetry())}
	raw, err := json.Marshal(reply)
	if err != nil {
		log.Error().Err(err).Msg("unable to marshal telemetry")
		return 0
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	sent := 0
	for client := range c.clients {
		select {
		case client.send <- raw:
			sent++
		default:
		}
	}
	return sent
}

// UpdateClients broadcasts telemetry every Interval until ctx is done.
func (c *Conductor) UpdateClients(ctx context.Context) {
	interval := c.Interval
	if interval <= 0 {
		interval = STREAM_INTERVAL
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Broadcast()
		}
	}
}

func (client *StreamClient) queue(msg []byte) bool {
	select {
	case client.send <- msg:
		return true
	case <-client.done:
		return false
	}
}

func (client *StreamClient) writePump() {
	defer func() {
		close(client.done)
		client.conn.Close()
	}()

	for msg := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(STREAM_WRITE_WAIT))
		if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Warn().Err(err).Msg("stream client write failed")
			return
		}
	}

	client.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
