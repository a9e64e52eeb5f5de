package comms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const (
	MQTT_QOS_TELEMETRY = 0
	MQTT_QOS_COMMAND   = 1
	MQTT_WAIT          = 5 * time.Second
	MQTT_DISCONNECT_MS = 250
)

var ERR_MQTT_DISABLED = errors.New("mqtt bridge disabled: MQTT_BROKER not set")

type mqttConfig struct {
	Broker   string        `env:"MQTT_BROKER"` // e.g. tcp://localhost:1883
	ClientID string        `env:"MQTT_CLIENT_ID" envDefault:"dddrive"`
	Prefix   string        `env:"MQTT_PREFIX" envDefault:"dddrive"`
	Username string        `env:"MQTT_USERNAME"`
	Password string        `env:"MQTT_PASSWORD"`
	Interval time.Duration `env:"MQTT_INTERVAL" envDefault:"500ms"`
}

// MQTTBridge publishes telemetry to <prefix>/telemetry and executes commands
// arriving on <prefix>/cmd, answering on <prefix>/ack.
type MQTTBridge struct {
	config    *mqttConfig
	client    mqtt.Client
	conductor ConductorInterface
}

func NewMQTTBridge(conductor ConductorInterface) (bridge *MQTTBridge, err error) {
	bridge = &MQTTBridge{
		config:    new(mqttConfig),
		conductor: conductor,
	}
	if err = env.Parse(bridge.config); err != nil {
		return nil, fmt.Errorf("unable to parse mqtt env: %v", err)
	}

	if bridge.config.Broker == "" {
		return nil, ERR_MQTT_DISABLED
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(bridge.config.Broker)
	opts.SetClientID(bridge.config.ClientID)
	opts.SetUsername(bridge.config.Username)
	opts.SetPassword(bridge.config.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = bridge.onConnect
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost")
	}
	bridge.client = mqtt.NewClient(opts)

	return bridge, nil
}

func (b *MQTTBridge) topic(name string) string {
	return b.config.Prefix + "/" + name
}

func (b *MQTTBridge) Connect() error {
	token := b.client.Connect()
	if !token.WaitTimeout(MQTT_WAIT) {
		// connect retry keeps going in the background
		log.Warn().Str("broker", b.config.Broker).Msg("mqtt broker not reachable yet")
		return nil
	}
	return token.Error()
}

// onConnect (re)subscribes after every connect, including automatic reconnects.
func (b *MQTTBridge) onConnect(client mqtt.Client) {
	log.Info().Str("broker", b.config.Broker).Msg("connected to mqtt broker")

	token := client.Subscribe(b.topic("cmd"), MQTT_QOS_COMMAND, b.handleCommand)
	if token.WaitTimeout(MQTT_WAIT) && token.Error() != nil {
		log.Error().Err(token.Error()).Msg("unable to subscribe to commands")
	}
}

func (b *MQTTBridge) handleCommand(client mqtt.Client, msg mqtt.Message) {
	var reply Reply
	var cmd Cmd
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic()).Msg("invalid mqtt command")
		reply = Reply{Error: "invalid json"}
	} else {
		reply = b.conductor.ProcessCommand(cmd)
	}

	raw, _ := json.Marshal(reply)
	client.Publish(b.topic("ack"), MQTT_QOS_COMMAND, false, raw)
}

func (b *MQTTBridge) PublishTelemetry() error {
	reply := b.conductor.ProcessCommand(Cmd{Cmd: "telemetry"})
	raw, err := json.Marshal(reply.Telemetry)
	if err != nil {
		return err
	}

	token := b.client.Publish(b.topic("telemetry"), MQTT_QOS_TELEMETRY, false, raw)
	token.WaitTimeout(MQTT_WAIT)
	return token.Error()
}

// Run publishes telemetry at the configured interval until ctx is done.
func (b *MQTTBridge) Run(ctx context.Context) {
	ticker := time.NewTicker(b.config.Interval)
	defer ticker.Stop()
	defer b.client.Disconnect(MQTT_DISCONNECT_MS)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !b.client.IsConnected() {
				continue
			}
			if err := b.PublishTelemetry(); err != nil {
				log.Warn().Err(err).Msg("unable to publish telemetry")
			}
		}
	}
}
