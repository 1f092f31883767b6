// Package telemetry bridges the controller to an MQTT broker: retained
// status frames and alerts out, operator commands in. The broker is
// strictly optional equipment; when it is slow or gone the bridge logs
// and drops, and the control loop never notices.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/drydenhq/dryden/internal/config"
	"github.com/drydenhq/dryden/internal/control"
	"github.com/drydenhq/dryden/internal/store"
)

const (
	queueLimit        = 256
	connectAttempts   = 3
	connectTimeout    = 10 * time.Second
	connectRetryWait  = 5 * time.Second
	publishTimeout    = 5 * time.Second
	closeTimeout      = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds, paho's Disconnect unit

	statusQoS  byte = 0 // retained topic carries the last frame regardless
	alertQoS   byte = 1
	commandQoS byte = 1
)

// broker is the slice of the paho client the publisher drives. Tests
// substitute a recording fake.
type broker interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Publisher implements control.Observer over MQTT. Observer callbacks
// only enqueue; a single goroutine owns the actual network writes.
type Publisher struct {
	cfg    config.MQTT
	log    *slog.Logger
	sup    Supervisor
	client broker
	queue  *messageQueue
	done   chan struct{}
}

func newPublisher(cfg config.MQTT, sup Supervisor, log *slog.Logger) *Publisher {
	return &Publisher{
		cfg:   cfg,
		log:   log,
		sup:   sup,
		queue: newMessageQueue(queueLimit),
		done:  make(chan struct{}),
	}
}

// Connect dials the broker, subscribes the command topic and starts the
// publishing goroutine. Connection attempts are bounded: a broker that
// is down at daemon start is an error for the operator, not something to
// retry forever while the chamber runs unreported. After a successful
// connect, paho's auto-reconnect maintains the session.
func Connect(cfg config.MQTT, sup Supervisor, log *slog.Logger) (*Publisher, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("telemetry: broker URL is required")
	}
	p := newPublisher(cfg, sup, log)

	opts := mqtt.NewClientOptions().AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	// Re-subscribe on every (re)connect so commands survive a broker
	// restart.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		p.subscribeCommands(c)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		tok := client.Connect()
		if tok.WaitTimeout(connectTimeout) && tok.Error() == nil {
			lastErr = nil
			break
		}
		lastErr = tok.Error()
		if lastErr == nil {
			lastErr = fmt.Errorf("connect timed out after %s", connectTimeout)
		}
		log.Warn("mqtt connect failed",
			"broker", cfg.BrokerURL, "attempt", attempt, "error", lastErr)
		if attempt < connectAttempts {
			time.Sleep(connectRetryWait)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("telemetry: connect %s: %w", cfg.BrokerURL, lastErr)
	}
	log.Info("mqtt connected", "broker", cfg.BrokerURL, "prefix", p.prefix())

	p.client = client
	go p.drain()
	return p, nil
}

// CycleCompleted publishes the retained status frame. Part of
// control.Observer; must not block.
func (p *Publisher) CycleCompleted(st control.Status) {
	payload, err := json.Marshal(st)
	if err != nil {
		p.log.Error("status marshal failed", "error", err)
		return
	}
	p.enqueue(message{
		topic:    p.topic("status"),
		qos:      statusQoS,
		retained: true,
		payload:  payload,
	})
}

// alertPayload is the wire form of a raised alert.
type alertPayload struct {
	RunToken string    `json:"run_token,omitempty"`
	At       time.Time `json:"at"`
	Level    string    `json:"level"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
}

// AlertRaised publishes one alert. Part of control.Observer.
func (p *Publisher) AlertRaised(a store.Alert) {
	payload, err := json.Marshal(alertPayload{
		RunToken: a.RunToken,
		At:       a.At,
		Level:    string(a.Level),
		Code:     a.Code,
		Message:  a.Message,
	})
	if err != nil {
		p.log.Error("alert marshal failed", "error", err)
		return
	}
	p.enqueue(message{
		topic:   p.topic("alerts"),
		qos:     alertQoS,
		payload: payload,
	})
}

func (p *Publisher) enqueue(m message) {
	if p.queue.Push(m) {
		p.log.Warn("telemetry queue full, oldest frame dropped",
			"dropped_total", p.queue.Dropped())
	}
}

// drain owns the network writes: it pops until the queue closes, then
// exits. Send failures are logged and the frame abandoned; the next
// cycle publishes fresher data anyway.
func (p *Publisher) drain() {
	defer close(p.done)
	for {
		m, ok := p.queue.Pop()
		if !ok {
			return
		}
		p.send(m)
	}
}

func (p *Publisher) send(m message) {
	tok := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !tok.WaitTimeout(publishTimeout) {
		p.log.Warn("mqtt publish timed out", "topic", m.topic)
		return
	}
	if err := tok.Error(); err != nil {
		p.log.Warn("mqtt publish failed", "topic", m.topic, "error", err)
	}
}

// Close stops accepting frames, lets the drain goroutine flush what is
// queued, and disconnects.
func (p *Publisher) Close() {
	p.queue.Close()
	select {
	case <-p.done:
	case <-time.After(closeTimeout):
		p.log.Warn("telemetry drain timed out, disconnecting anyway")
	}
	if p.client != nil {
		p.client.Disconnect(disconnectQuiesce)
	}
}

func (p *Publisher) prefix() string {
	if p.cfg.TopicPrefix != "" {
		return p.cfg.TopicPrefix
	}
	return "dryden"
}

func (p *Publisher) topic(suffix string) string {
	return p.prefix() + "/" + suffix
}
