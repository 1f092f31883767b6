package hardware

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gobot.io/x/gobot/v2/drivers/gpio"
	"gobot.io/x/gobot/v2/platforms/raspi"
)

// PinMap assigns a relay channel (physical header pin, gobot numbering) to
// each switched actuator. The climate unit is not on the relay board; its
// power state is tracked virtually and its setpoint travels over the Climate
// port.
type PinMap map[EquipmentID]string

// DefaultPinMap matches the reference chamber wiring: a six-channel
// active-low relay board on the left header column.
func DefaultPinMap() PinMap {
	return PinMap{
		Dehumidifier:       "11",
		HumidifierSolenoid: "13",
		FreshAirExchanger:  "15",
		SupplyFan:          "16",
		ReturnFan:          "18",
		HumidifierFan:      "22",
	}
}

// GPIO drives the relay board through a Raspberry Pi header. Relays are
// active-low: the driver is configured inverted so logical ON energizes the
// coil by pulling the line low. Lines idle high (off) at power-on.
//
// Writes are memory-mapped and effectively instantaneous, so context
// handling is a cancellation check rather than a deadline race.
type GPIO struct {
	mu      sync.Mutex
	adaptor *raspi.Adaptor
	relays  map[EquipmentID]*gpio.RelayDriver
	virtual map[EquipmentID]bool
	log     *slog.Logger
}

// NewGPIO prepares one inverted relay driver per mapped actuator on an
// already-connected Pi adaptor, which the probes share. Unmapped
// actuators get a virtual line so reconciliation treats every
// EquipmentID uniformly.
func NewGPIO(adaptor *raspi.Adaptor, pins PinMap, log *slog.Logger) (*GPIO, error) {
	g := &GPIO{
		adaptor: adaptor,
		relays:  make(map[EquipmentID]*gpio.RelayDriver, len(pins)),
		virtual: make(map[EquipmentID]bool),
		log:     log,
	}
	for _, id := range AllEquipment() {
		pin, ok := pins[id]
		if !ok {
			g.virtual[id] = false
			continue
		}
		relay := gpio.NewRelayDriver(adaptor, pin)
		relay.Inverted = true
		if err := relay.Start(); err != nil {
			return nil, fmt.Errorf("start relay %s on pin %s: %w", id, pin, err)
		}
		g.relays[id] = relay
		g.log.Debug("relay mapped", "equipment", id.String(), "pin", pin)
	}
	return g, nil
}

// SetOutput implements Port.
func (g *GPIO) SetOutput(ctx context.Context, id EquipmentID, on bool) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrWrite, id, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	relay, ok := g.relays[id]
	if !ok {
		g.virtual[id] = on
		return nil
	}
	var err error
	if on {
		err = relay.On()
	} else {
		err = relay.Off()
	}
	if err != nil {
		return fmt.Errorf("%w: set %s=%v: %v", ErrWrite, id, on, err)
	}
	return nil
}

// ReadOutput implements Port by reading the line level back through the
// adaptor, so drift introduced outside this process (a watchdog, a human
// with a jumper) is still observed.
func (g *GPIO) ReadOutput(ctx context.Context, id EquipmentID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: read %s: %v", ErrRead, id, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	relay, ok := g.relays[id]
	if !ok {
		return g.virtual[id], nil
	}
	level, err := g.adaptor.DigitalRead(relay.Pin())
	if err != nil {
		return false, fmt.Errorf("%w: read %s: %v", ErrRead, id, err)
	}
	// Active-low: energized means the line reads low.
	return level == 0, nil
}

// Close finalizes the shared Pi adaptor. Call once at shutdown, after
// sensor reads have stopped.
func (g *GPIO) Close() error {
	if err := g.adaptor.Finalize(); err != nil {
		return fmt.Errorf("finalize raspi adaptor: %w", err)
	}
	return nil
}
