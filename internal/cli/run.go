package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gobot.io/x/gobot/v2/platforms/raspi"

	"github.com/drydenhq/dryden/internal/config"
	"github.com/drydenhq/dryden/internal/control"
	"github.com/drydenhq/dryden/internal/hardware"
	"github.com/drydenhq/dryden/internal/profile"
	"github.com/drydenhq/dryden/internal/sim"
	"github.com/drydenhq/dryden/internal/store"
	"github.com/drydenhq/dryden/internal/telemetry"
)

// defaultConfigPath is where run and status look for site configuration
// when --config is not given. A missing file means built-in defaults.
const defaultConfigPath = "dryden.yaml"

// Initial conditions for a --sim chamber: mid-window for the reference
// recipe's first phase, so a dry run settles instead of fighting.
const (
	simStartTempF = 68.0
	simStartRH    = 62.0
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config string
	Sim    bool
	MQTT   bool
	Start  bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the chamber control daemon",
		Long: `Run the control loop against the chamber hardware: compile the recipe,
restore persisted state, reconcile equipment and tick on the configured
cadence until interrupted.

A clean shutdown (SIGINT/SIGTERM) stops ticking and leaves the snapshot
describing the run, so the next start resumes mid-phase. It never
triggers an emergency stop; equipment stays as last commanded.

Example:
  dryden run --config /etc/dryden/site.yaml --mqtt
  dryden run --sim --start --verbose`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", defaultConfigPath, "site configuration file")
	cmd.Flags().BoolVar(&opts.Sim, "sim", false, "drive a synthetic chamber instead of GPIO/I2C hardware")
	cmd.Flags().BoolVar(&opts.MQTT, "mqtt", false, "publish telemetry and accept operator commands over MQTT")
	cmd.Flags().BoolVar(&opts.Start, "start", false, "start a run immediately if the chamber is idle")

	return cmd
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	prof, err := loadRecipe(cfg.RecipePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile recipe", err)
	}
	log.Info("recipe compiled", "name", prof.Name, "phases", len(prof.Phases))

	st, err := store.Open(cfg.HistoryDB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open history database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing history database", "error", closeErr)
		}
	}()

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	// The cycle sequence continues over whatever history already exists.
	seq, err := st.MaxSeq(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read history sequence", err)
	}

	port, climate, sensors, hwClose, err := buildHardware(ctx, cfg, opts.Sim, log)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to attach hardware", err)
	}
	defer hwClose()

	rec := hardware.NewReconciler(port, log)

	ctlOpts := []control.Option{control.WithClock(control.NewClockAt(seq))}
	var relay *observerRelay
	if opts.MQTT {
		relay = &observerRelay{}
		ctlOpts = append(ctlOpts, control.WithObserver(relay))
	}

	ctl, err := control.New(cfg, prof, control.Deps{
		Reconciler: rec,
		Climate:    climate,
		Sensors:    sensors,
		Store:      st,
	}, log, ctlOpts...)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build controller", err)
	}

	// Restore persisted state. A corrupt snapshot means idle with all
	// equipment off until an operator start; the daemon still runs.
	if err := ctl.Recover(ctx); err != nil {
		log.Error("state recovery failed; holding idle until operator start", "error", err)
	}

	if opts.MQTT {
		pub, err := telemetry.Connect(cfg.MQTT, ctl, log)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to connect telemetry", err)
		}
		relay.attach(pub)
		defer pub.Close()
	}

	if opts.Start {
		if err := startIfIdle(ctx, ctl, log); err != nil {
			return WrapExitError(ExitFailure, "failed to start run", err)
		}
	}

	log.Info("daemon starting", "config", opts.Config, "sim", opts.Sim, "mqtt", opts.MQTT)
	fmt.Fprintln(cmd.OutOrStdout(), "Control loop started. Press Ctrl-C to stop.")

	if err := ctl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "control loop error", err)
	}

	log.Info("daemon stopped gracefully")
	return nil
}

// loadRecipe compiles the configured recipe, falling back to the
// embedded reference recipe when none is configured.
func loadRecipe(path string) (*profile.Profile, error) {
	if path == "" {
		return profile.Default(), nil
	}
	return profile.CompileFile(path)
}

// buildHardware assembles the three chamber ports: real GPIO/I2C/bridge
// devices, or one synthetic chamber standing in for all of them.
func buildHardware(ctx context.Context, cfg config.Config, simulated bool, log *slog.Logger) (hardware.Port, hardware.Climate, hardware.SensorSource, func(), error) {
	if simulated {
		ch := sim.NewChamber(time.Now, sim.Initial{TempF: simStartTempF, Humidity: simStartRH})
		stepCtx, stop := context.WithCancel(ctx)
		go stepChamber(stepCtx, ch, cfg.Control.CycleInterval())
		log.Info("synthetic chamber attached", "temp_f", simStartTempF, "humidity", simStartRH)
		return ch, ch, ch, stop, nil
	}

	adaptor := raspi.NewAdaptor()
	if err := adaptor.Connect(); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connect raspi adaptor: %w", err)
	}

	pins, err := cfg.PinMap()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	gpioPort, err := hardware.NewGPIO(adaptor, pins, log)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	sensors, err := hardware.NewSHTSensors(adaptor, cfg.ProbeConfigs(), log)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	var climate hardware.Climate
	closeClimate := func() {}
	if cfg.Hardware.ClimateTopic != "" {
		bridge, err := hardware.NewClimateBridge(hardware.ClimateBridgeConfig{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID + "-climate",
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			Topic:     cfg.Hardware.ClimateTopic,
		}, log)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		climate = bridge
		closeClimate = bridge.Close
	} else {
		climate = hardware.NewManualClimate(log)
	}

	cleanup := func() {
		closeClimate()
		if err := gpioPort.Close(); err != nil {
			log.Error("error releasing GPIO", "error", err)
		}
	}
	return gpioPort, climate, sensors, cleanup, nil
}

// stepChamber advances the synthetic chamber's physics in wall time so a
// --sim daemon behaves like a real one.
func stepChamber(ctx context.Context, ch *sim.Chamber, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ch.Step(interval)
		}
	}
}

// startIfIdle begins a run unless one is already underway. An emergency
// latch refuses: lifting it is an explicit operator decision, not a
// boot flag.
func startIfIdle(ctx context.Context, ctl *control.Controller, log *slog.Logger) error {
	st := ctl.Status()
	if st.Active {
		log.Info("run already active; --start ignored", "run", st.RunToken, "phase", st.Phase)
		return nil
	}
	if st.EmergencyStopped {
		return errors.New("emergency stop latched; resume or stop over the command topic")
	}
	return ctl.Start(ctx, false)
}

// observerRelay lets the telemetry publisher attach after the controller
// is built: the publisher needs the controller for command dispatch, and
// the controller takes its observer at construction. Callbacks before
// attach are dropped.
type observerRelay struct {
	mu     sync.Mutex
	target control.Observer
}

func (r *observerRelay) attach(o control.Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = o
}

func (r *observerRelay) CycleCompleted(st control.Status) {
	r.mu.Lock()
	target := r.target
	r.mu.Unlock()
	if target != nil {
		target.CycleCompleted(st)
	}
}

func (r *observerRelay) AlertRaised(a store.Alert) {
	r.mu.Lock()
	target := r.target
	r.mu.Unlock()
	if target != nil {
		target.AlertRaised(a)
	}
}
