package sim

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/drydenhq/dryden/internal/config"
	"github.com/drydenhq/dryden/internal/control"
	"github.com/drydenhq/dryden/internal/hardware"
	"github.com/drydenhq/dryden/internal/profile"
	"github.com/drydenhq/dryden/internal/store"
	"github.com/drydenhq/dryden/internal/testutil"
)

// simStart anchors every scenario run. A fixed start time plus a fake
// clock and sequential run tokens make traces byte-reproducible.
var simStart = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

// Run executes a scenario against the real controller wired to the
// chamber model. Each run gets a scratch directory for the snapshot and
// history database, removed when the run ends; nothing touches real
// hardware or real time.
func Run(s *Scenario, log *slog.Logger) (*Result, error) {
	dir, err := os.MkdirTemp("", "dryden-sim-")
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	prof := profile.Default()
	if s.Recipe != "" {
		prof, err = profile.CompileFile(s.Recipe)
		if err != nil {
			return nil, fmt.Errorf("compile recipe: %w", err)
		}
	}

	cfg := config.DefaultConfig()
	cfg.SnapshotPath = filepath.Join(dir, "snapshot.json")
	cfg.HistoryDB = filepath.Join(dir, "history.db")
	if s.CycleSeconds > 0 {
		cfg.Control.CycleSeconds = s.CycleSeconds
	}
	// An accelerated cadence must not make every reading look stale.
	if floor := 2 * cfg.Control.CycleSeconds; cfg.Control.StalenessSeconds < floor {
		cfg.Control.StalenessSeconds = floor
	}

	st, err := store.Open(cfg.HistoryDB)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer st.Close()

	clk := testutil.NewFakeClock(simStart)
	chamber := NewChamber(clk.Now, s.Initial)
	rec := hardware.NewReconciler(chamber, log, hardware.WithStagger(0))

	trace := &recorder{}
	ctl, err := control.New(cfg, prof, control.Deps{
		Reconciler: rec,
		Climate:    chamber,
		Sensors:    chamber,
		Store:      st,
	}, log,
		control.WithNow(clk.Now),
		control.WithTokenSource(testutil.NewTokenSequence("sim").Next),
		control.WithObserver(trace),
	)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := ctl.Start(ctx, false); err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	interval := cfg.Control.CycleInterval()
	for cycle := 1; cycle <= s.Cycles; cycle++ {
		applyInjections(chamber, s.Inject, cycle)
		ctl.Tick(ctx)
		chamber.Step(interval)
		clk.Advance(interval)
	}

	res := &Result{Pass: true, Trace: trace.trace}
	for i, e := range s.Expect {
		if err := checkExpectation(&e, res.Trace); err != nil {
			res.AddError(fmt.Sprintf("expect[%d] %s: %v", i, e.Type, err))
		}
	}
	return res, nil
}

// applyInjections fires the injections scripted for this cycle, before
// the controller observes the chamber.
func applyInjections(ch *Chamber, inject []Injection, cycle int) {
	for _, inj := range inject {
		if inj.AtCycle != cycle {
			continue
		}
		switch inj.Action {
		case InjectDoorOpen:
			ch.OpenDoor()
		case InjectDoorClose:
			ch.CloseDoor()
		case InjectProbesFail:
			ch.FailProbes()
		case InjectProbesRecover:
			ch.RecoverProbes()
		case InjectSetAmbient:
			ch.SetAmbient(inj.TempF, inj.Humidity)
		}
	}
}

func checkExpectation(e *Expectation, trace []TraceEvent) error {
	switch e.Type {
	case ExpectPhaseAt:
		ev, err := eventAt(trace, e.AtCycle)
		if err != nil {
			return err
		}
		if ev.Phase != e.Phase {
			return fmt.Errorf("cycle %d phase is %q, want %q", e.AtCycle, ev.Phase, e.Phase)
		}
	case ExpectEquipmentAt:
		ev, err := eventAt(trace, e.AtCycle)
		if err != nil {
			return err
		}
		got, ok := ev.Equipment[e.Equipment]
		if !ok {
			return fmt.Errorf("cycle %d trace has no %s entry", e.AtCycle, e.Equipment)
		}
		if got != e.State {
			return fmt.Errorf("cycle %d %s is %s, want %s", e.AtCycle, e.Equipment, got, e.State)
		}
	case ExpectDisturbanceAt:
		ev, err := eventAt(trace, e.AtCycle)
		if err != nil {
			return err
		}
		if ev.Disturbance != e.Level {
			return fmt.Errorf("cycle %d disturbance is %q, want %q", e.AtCycle, ev.Disturbance, e.Level)
		}
	case ExpectAlertRaised:
		for _, ev := range trace {
			for _, code := range ev.Alerts {
				if code == e.Code {
					return nil
				}
			}
		}
		return fmt.Errorf("alert %q never raised", e.Code)
	case ExpectNoAlerts:
		for _, ev := range trace {
			if len(ev.Alerts) > 0 {
				return fmt.Errorf("cycle %d raised %v", ev.Cycle, ev.Alerts)
			}
		}
	}
	return nil
}

func eventAt(trace []TraceEvent, cycle int) (*TraceEvent, error) {
	for i := range trace {
		if trace[i].Cycle == cycle {
			return &trace[i], nil
		}
	}
	return nil, fmt.Errorf("no trace event for cycle %d (run recorded %d)", cycle, len(trace))
}
