package hardware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/raspi"

	"github.com/drydenhq/dryden/internal/psychro"
)

// ProbeConfig places one SHT3x probe on the I2C bus. The reference chamber
// carries two probes, product-level and canopy-level, at 0x44 and 0x45.
type ProbeConfig struct {
	ID      string
	Bus     int
	Address int
}

// DefaultProbes returns the reference two-probe layout.
func DefaultProbes() []ProbeConfig {
	return []ProbeConfig{
		{ID: "chamber_low", Bus: 1, Address: 0x44},
		{ID: "chamber_high", Bus: 1, Address: 0x45},
	}
}

// SHTSensors reads SHT3x temperature/humidity probes over I2C and converts
// to the Fahrenheit readings the control layer works in.
//
// I2C transactions can stall on a wedged bus, so each read runs under the
// caller's context deadline; a stalled read is abandoned (the goroutine
// finishes in the background) and reported as ErrSensor.
type SHTSensors struct {
	drivers map[string]*i2c.SHT3xDriver
	order   []string
	log     *slog.Logger
}

// NewSHTSensors starts one driver per configured probe.
func NewSHTSensors(adaptor *raspi.Adaptor, probes []ProbeConfig, log *slog.Logger) (*SHTSensors, error) {
	s := &SHTSensors{
		drivers: make(map[string]*i2c.SHT3xDriver, len(probes)),
		log:     log,
	}
	for _, p := range probes {
		if _, dup := s.drivers[p.ID]; dup {
			return nil, fmt.Errorf("duplicate probe id %q", p.ID)
		}
		drv := i2c.NewSHT3xDriver(adaptor,
			i2c.WithBus(p.Bus),
			i2c.WithAddress(p.Address),
		)
		if err := drv.Start(); err != nil {
			return nil, fmt.Errorf("start probe %s (bus %d addr %#x): %w", p.ID, p.Bus, p.Address, err)
		}
		s.drivers[p.ID] = drv
		s.order = append(s.order, p.ID)
		log.Debug("probe online", "probe", p.ID, "bus", p.Bus, "addr", fmt.Sprintf("%#x", p.Address))
	}
	return s, nil
}

// Probes implements SensorSource.
func (s *SHTSensors) Probes() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Read implements SensorSource.
func (s *SHTSensors) Read(ctx context.Context, probeID string) (Reading, error) {
	drv, ok := s.drivers[probeID]
	if !ok {
		return Reading{}, fmt.Errorf("%w: unknown probe %q", ErrSensor, probeID)
	}

	type sample struct {
		tempC float64
		rh    float64
		err   error
	}
	ch := make(chan sample, 1)
	go func() {
		t, rh, err := drv.Sample()
		ch <- sample{tempC: float64(t), rh: float64(rh), err: err}
	}()

	select {
	case <-ctx.Done():
		return Reading{}, fmt.Errorf("%w: probe %s: %v", ErrSensor, probeID, ctx.Err())
	case got := <-ch:
		if got.err != nil {
			return Reading{}, fmt.Errorf("%w: probe %s: %v", ErrSensor, probeID, got.err)
		}
		if got.rh < 0 || got.rh > 100 {
			return Reading{}, fmt.Errorf("%w: probe %s: implausible humidity %.1f%%", ErrSensor, probeID, got.rh)
		}
		return Reading{
			ProbeID:      probeID,
			TemperatureF: psychro.CToF(got.tempC),
			Humidity:     got.rh,
			At:           time.Now(),
		}, nil
	}
}
