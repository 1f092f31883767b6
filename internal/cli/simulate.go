package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/drydenhq/dryden/internal/sim"
)

// SimulationReport is the simulate command's result payload.
type SimulationReport struct {
	Scenario string           `json:"scenario"`
	Cycles   int              `json:"cycles"`
	Pass     bool             `json:"pass"`
	Errors   []string         `json:"errors,omitempty"`
	Trace    []sim.TraceEvent `json:"trace"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run a scenario against the synthetic chamber",
		Long: `Run the real controller against the synthetic chamber model on an
accelerated clock, scripted by a scenario file.

The scenario seeds the chamber, injects disturbances (door openings,
probe failures, ambient shifts) at named cycles, and asserts what the
controller must have done. The cycle trace prints either way; failed
expectations exit non-zero.

Example:
  dryden simulate testdata/scenarios/door_open.yaml
  dryden simulate --verbose recovery.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runSimulate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	s, err := sim.LoadScenario(path)
	if err != nil {
		msg := fmt.Sprintf("scenario not usable: %v", err)
		_ = formatter.Error(ErrCodeScenario, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}
	formatter.VerboseLog("Scenario %s: %d cycles, %d injections, %d expectations",
		s.Name, s.Cycles, len(s.Inject), len(s.Expect))

	// The trace is the command's output; controller logging stays quiet
	// unless asked for.
	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel}))

	res, err := sim.Run(s, log)
	if err != nil {
		return WrapExitError(ExitFailure, "simulation failed", err)
	}

	report := SimulationReport{
		Scenario: s.Name,
		Cycles:   len(res.Trace),
		Pass:     res.Pass,
		Errors:   res.Errors,
		Trace:    res.Trace,
	}

	if formatter.Format == "json" {
		return outputSimulateJSON(formatter, report)
	}
	return outputSimulateText(formatter, report)
}

func outputSimulateJSON(formatter *OutputFormatter, report SimulationReport) error {
	response := CLIResponse{Status: "ok", Data: report}
	if !report.Pass {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeGeneric,
			Message: fmt.Sprintf("%d expectation(s) failed", len(report.Errors)),
		}
	}
	encoder := json.NewEncoder(formatter.Writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}
	if !report.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("%d expectation(s) failed", len(report.Errors)))
	}
	return nil
}

func outputSimulateText(formatter *OutputFormatter, report SimulationReport) error {
	w := formatter.Writer
	fmt.Fprintf(w, "scenario %s: %d cycles\n\n", report.Scenario, report.Cycles)
	writeTrace(w, report.Trace)
	fmt.Fprintln(w)

	if report.Pass {
		fmt.Fprintf(w, "✓ %s: all expectations met\n", report.Scenario)
		return nil
	}

	fmt.Fprintf(w, "✗ %s: %d expectation(s) failed\n\n", report.Scenario, len(report.Errors))
	for _, msg := range report.Errors {
		fmt.Fprintf(w, "  %s\n", msg)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d expectation(s) failed", len(report.Errors)))
}

// writeTrace prints one line per cycle plus indented lines for equipment
// changes and alerts, so a long run reads as a narrative rather than a
// table of mostly-identical rows.
func writeTrace(w io.Writer, trace []sim.TraceEvent) {
	var prev map[string]string
	for _, ev := range trace {
		fmt.Fprintf(w, "%5d  %-12s %5.1fF %5.1f%%  vpd %.2f  climate %.1f  duty %3.0f%%  %s\n",
			ev.Cycle, ev.Phase, ev.TempF, ev.Humidity, ev.VPDkPa, ev.ClimateF, ev.Duty, ev.Disturbance)
		for _, name := range equipmentNames(ev.Equipment) {
			state := ev.Equipment[name]
			if prev == nil {
				if state == "on" {
					fmt.Fprintf(w, "       %s: on\n", name)
				}
				continue
			}
			if prev[name] != state {
				fmt.Fprintf(w, "       %s: %s\n", name, state)
			}
		}
		for _, code := range ev.Alerts {
			fmt.Fprintf(w, "       alert: %s\n", code)
		}
		prev = ev.Equipment
	}
}

func equipmentNames(states map[string]string) []string {
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
