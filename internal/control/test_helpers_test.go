package control

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drydenhq/dryden/internal/config"
	"github.com/drydenhq/dryden/internal/hardware"
	"github.com/drydenhq/dryden/internal/profile"
	"github.com/drydenhq/dryden/internal/store"
	"github.com/drydenhq/dryden/internal/testutil"
)

// testStart is a fixed process start so schedule assertions are
// reproducible.
var testStart = time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testProfile is a compact schedule whose dew point and VPD windows are
// mutually consistent at the temperature target, so each decision branch
// can be selected by choosing probe readings. Durations are short to
// keep boundary arithmetic direct.
func testProfile() *profile.Profile {
	active := profile.Setpoints{
		TempF:              68,
		TempToleranceF:     1,
		DewPointF:          55,
		DewPointToleranceF: 1,
		HumidityMin:        55,
		HumidityMax:        65,
		VPDMin:             0.80,
		VPDMax:             0.95,
	}
	late := active
	late.TempF = 66
	cure := active
	cure.TempF = 64
	storage := profile.Setpoints{
		TempF:              65,
		TempToleranceF:     1,
		DewPointF:          52,
		DewPointToleranceF: 1,
		HumidityMin:        55,
		HumidityMax:        65,
		VPDMin:             0.65,
		VPDMax:             0.85,
	}
	return &profile.Profile{
		Name:                "test-schedule",
		WaterActivityTarget: 0.61,
		Phases: []profile.PhaseSpec{
			{Phase: profile.DryInitial, Duration: 2 * time.Hour, Setpoints: active},
			{Phase: profile.DryMid, Duration: 3 * time.Hour, Setpoints: active},
			{Phase: profile.DryFinal, Duration: 2 * time.Hour, Setpoints: late},
			{Phase: profile.Cure, Duration: 4 * time.Hour, Setpoints: cure},
			{Phase: profile.Storage, Setpoints: storage},
		},
	}
}

// fakePort is a deterministic in-memory relay board. Tests can inject
// per-equipment write failures, flip lines behind the controller's back
// and inspect what was written.
type fakePort struct {
	mu       sync.Mutex
	outputs  hardware.States
	failSet  map[hardware.EquipmentID]bool
	writeLog []string
}

func newFakePort() *fakePort {
	return &fakePort{failSet: make(map[hardware.EquipmentID]bool)}
}

func (p *fakePort) SetOutput(ctx context.Context, id hardware.EquipmentID, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSet[id] {
		return fmt.Errorf("%w: set %s: injected fault", hardware.ErrWrite, id)
	}
	p.outputs[id] = on
	p.writeLog = append(p.writeLog, fmt.Sprintf("%s=%v", id, on))
	return nil
}

func (p *fakePort) ReadOutput(ctx context.Context, id hardware.EquipmentID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outputs[id], nil
}

func (p *fakePort) on(id hardware.EquipmentID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outputs[id]
}

func (p *fakePort) setLine(id hardware.EquipmentID, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outputs[id] = on
}

func (p *fakePort) failWrites(id hardware.EquipmentID, fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failSet[id] = fail
}

func (p *fakePort) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writeLog)
}

// fakeClimate records every setpoint command and can be told to fail.
type fakeClimate struct {
	mu      sync.Mutex
	targets []float64
	fail    error
}

func (c *fakeClimate) SetTemperatureTarget(ctx context.Context, fahrenheit float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.targets = append(c.targets, fahrenheit)
	return nil
}

func (c *fakeClimate) setFail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

func (c *fakeClimate) last() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.targets) == 0 {
		return 0
	}
	return c.targets[len(c.targets)-1]
}

func (c *fakeClimate) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.targets)
}

// fakeSensors serves configurable per-probe readings timestamped off the
// fixture clock.
type fakeSensors struct {
	mu    sync.Mutex
	now   func() time.Time
	order []string
	temp  map[string]float64
	rh    map[string]float64
	fail  map[string]error
}

func newFakeSensors(now func() time.Time, probes ...string) *fakeSensors {
	f := &fakeSensors{
		now:   now,
		order: probes,
		temp:  make(map[string]float64),
		rh:    make(map[string]float64),
		fail:  make(map[string]error),
	}
	for _, p := range probes {
		f.temp[p] = 68
		f.rh[p] = 62
	}
	return f
}

func (f *fakeSensors) Probes() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

func (f *fakeSensors) Read(ctx context.Context, probe string) (hardware.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[probe]; err != nil {
		return hardware.Reading{}, err
	}
	return hardware.Reading{
		ProbeID:      probe,
		TemperatureF: f.temp[probe],
		Humidity:     f.rh[probe],
		At:           f.now(),
	}, nil
}

// set points every probe at the same conditions.
func (f *fakeSensors) set(tempF, rh float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.order {
		f.temp[p] = tempF
		f.rh[p] = rh
	}
}

func (f *fakeSensors) setProbe(probe string, tempF, rh float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.temp[probe] = tempF
	f.rh[probe] = rh
}

func (f *fakeSensors) failProbe(probe string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[probe] = err
}

func (f *fakeSensors) failAll(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.order {
		f.fail[p] = err
	}
}

func (f *fakeSensors) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = make(map[string]error)
}

// fixture wires a controller over fake hardware and a real store in a
// temp dir. The fake clock starts at testStart and moves only when a
// test advances it.
type fixture struct {
	t       *testing.T
	ctx     context.Context
	clk     *testutil.FakeClock
	port    *fakePort
	climate *fakeClimate
	sensors *fakeSensors
	rec     *hardware.Reconciler
	st      *store.Store
	cfg     config.Config
	ctl     *Controller
}

func newFixture(t *testing.T, prof *profile.Profile) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.SnapshotPath = filepath.Join(dir, "state.json")
	cfg.HistoryDB = filepath.Join(dir, "history.db")

	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		clk:     testutil.NewFakeClock(testStart),
		port:    newFakePort(),
		climate: &fakeClimate{},
		cfg:     cfg,
	}
	f.sensors = newFakeSensors(f.clk.Now, "probe-top", "probe-bottom")
	f.rec = hardware.NewReconciler(f.port, testLogger(), hardware.WithStagger(0))

	st, err := store.Open(cfg.HistoryDB)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	f.st = st

	f.ctl = f.build(prof, "run")
	return f
}

func (f *fixture) build(prof *profile.Profile, tokenPrefix string) *Controller {
	f.t.Helper()
	ctl, err := New(f.cfg, prof, Deps{
		Reconciler: f.rec,
		Climate:    f.climate,
		Sensors:    f.sensors,
		Store:      f.st,
	}, testLogger(),
		WithNow(f.clk.Now),
		WithTokenSource(testutil.NewTokenSequence(tokenPrefix).Next),
	)
	require.NoError(f.t, err)
	return ctl
}

// restart replaces the controller and reconciler as a process restart
// would: the software mirror is lost, the physical lines and the files
// on disk survive.
func (f *fixture) restart(prof *profile.Profile) {
	f.t.Helper()
	f.rec = hardware.NewReconciler(f.port, testLogger(), hardware.WithStagger(0))
	f.ctl = f.build(prof, "restart")
}

func (f *fixture) start() {
	f.t.Helper()
	require.NoError(f.t, f.ctl.Start(f.ctx, false))
}

func (f *fixture) tick() { f.ctl.Tick(f.ctx) }

func (f *fixture) advance(d time.Duration) { f.clk.Advance(d) }
