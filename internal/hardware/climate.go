package hardware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	climateConnectTimeout = 10 * time.Second
	climatePublishTimeout = 5 * time.Second
	climateQoS            = byte(1)
)

// climateLink is the slice of the paho client the bridge uses. Tests
// substitute a recording fake.
type climateLink interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Disconnect(quiesce uint)
}

// ClimateBridgeConfig locates the IR bridge on the broker. The bridge is
// a dumb transducer: whatever number lands on Topic becomes the heat
// pump's setpoint.
type ClimateBridgeConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Topic     string
}

// ClimateBridge implements Climate over MQTT. Targets publish retained,
// so a bridge that power-cycles re-asserts the last setpoint on its own
// when it comes back.
type ClimateBridge struct {
	client climateLink
	topic  string
	log    *slog.Logger
}

// NewClimateBridge dials the broker and returns a connected bridge. The
// climate link is required equipment when configured, so a broker that
// cannot be reached at start is an error rather than something to limp
// along without.
func NewClimateBridge(cfg ClimateBridgeConfig, log *slog.Logger) (*ClimateBridge, error) {
	if cfg.BrokerURL == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("climate bridge: broker URL and topic are required")
	}

	opts := mqtt.NewClientOptions().AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("climate bridge connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(climateConnectTimeout) {
		return nil, fmt.Errorf("climate bridge: connect %s timed out after %s", cfg.BrokerURL, climateConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("climate bridge: connect %s: %w", cfg.BrokerURL, err)
	}
	log.Info("climate bridge connected", "broker", cfg.BrokerURL, "topic", cfg.Topic)

	return &ClimateBridge{client: client, topic: cfg.Topic, log: log}, nil
}

// SetTemperatureTarget implements Climate. A failed or timed-out publish
// wraps ErrWrite; the core keeps its previous sent value and retries on
// the next cycle.
func (b *ClimateBridge) SetTemperatureTarget(ctx context.Context, fahrenheit float64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: climate target: %v", ErrWrite, err)
	}
	payload := strconv.FormatFloat(fahrenheit, 'f', 1, 64)
	tok := b.client.Publish(b.topic, climateQoS, true, payload)

	wait := climatePublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
	}
	if !tok.WaitTimeout(wait) {
		return fmt.Errorf("%w: climate target %s not confirmed within %s", ErrWrite, payload, wait)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: climate target %s: %v", ErrWrite, payload, err)
	}
	return nil
}

// Close disconnects from the broker.
func (b *ClimateBridge) Close() {
	b.client.Disconnect(250)
}

// ManualClimate is the no-bridge fallback: the heat pump holds whatever
// its panel says and the operator moves it by hand. Target changes are
// logged so the record still shows what the core wanted and when.
type ManualClimate struct {
	mu   sync.Mutex
	last float64
	sent bool
	log  *slog.Logger
}

func NewManualClimate(log *slog.Logger) *ManualClimate {
	return &ManualClimate{log: log}
}

// SetTemperatureTarget implements Climate. Logs once per distinct target
// rather than once per cycle.
func (m *ManualClimate) SetTemperatureTarget(ctx context.Context, fahrenheit float64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: climate target: %v", ErrWrite, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent && math.Abs(fahrenheit-m.last) < 0.05 {
		return nil
	}
	m.last = fahrenheit
	m.sent = true
	m.log.Info("climate target changed; adjust the unit", "target_f", fahrenheit)
	return nil
}
