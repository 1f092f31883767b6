package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/drydenhq/dryden/internal/config"
	"github.com/drydenhq/dryden/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Config string
}

// StatusReport is the operator view: the persisted snapshot plus the
// newest history rows. Assembled entirely from files, so it works while
// the daemon runs (the history database is WAL, readers never block the
// writer).
type StatusReport struct {
	State           string            `json:"state"`
	SnapshotProblem string            `json:"snapshot_problem,omitempty"`
	Profile         string            `json:"profile,omitempty"`
	RunToken        string            `json:"run_token,omitempty"`
	Phase           string            `json:"phase,omitempty"`
	ProcessStart    *time.Time        `json:"process_start,omitempty"`
	PhaseStart      *time.Time        `json:"phase_start,omitempty"`
	SavedAt         *time.Time        `json:"saved_at,omitempty"`
	ClimateTargetF  float64           `json:"climate_target_f,omitempty"`
	Equipment       map[string]string `json:"equipment,omitempty"`
	LatestReadings  []ReadingLine     `json:"latest_readings,omitempty"`
	RecentAlerts    []AlertLine       `json:"recent_alerts,omitempty"`
	HistoryProblem  string            `json:"history_problem,omitempty"`
}

// ReadingLine is one probe's newest sample in presentation form.
type ReadingLine struct {
	Probe     string    `json:"probe"`
	At        time.Time `json:"at"`
	TempF     float64   `json:"temp_f"`
	Humidity  float64   `json:"humidity"`
	VPDkPa    float64   `json:"vpd_kpa"`
	DewPointF float64   `json:"dew_point_f"`
}

// AlertLine is one recent alert in presentation form.
type AlertLine struct {
	At      time.Time `json:"at"`
	Level   string    `json:"level"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the chamber's persisted state and recent history",
		Long: `Read the snapshot file and the history database and print the operator
view: run state, phase, equipment, latest probe readings and recent
alerts. Purely an observer; never writes control state.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", defaultConfigPath, "site configuration file")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		msg := fmt.Sprintf("config not usable: %v", err)
		_ = formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	report := buildStatusReport(ctx, cfg, formatter)

	if formatter.Format == "json" {
		return formatter.Success(report)
	}
	writeStatusText(formatter.Writer, report)
	return nil
}

func buildStatusReport(ctx context.Context, cfg config.Config, formatter *OutputFormatter) StatusReport {
	report := StatusReport{State: "idle"}

	snap, found, err := store.LoadSnapshot(cfg.SnapshotPath)
	switch {
	case err != nil:
		// The daemon treats this the same way: idle until an operator
		// start. Surface the cause instead of guessing at state.
		report.SnapshotProblem = err.Error()
	case found:
		fillFromSnapshot(&report, snap)
	default:
		formatter.VerboseLog("no snapshot at %s", cfg.SnapshotPath)
	}

	if _, statErr := os.Stat(cfg.HistoryDB); statErr != nil {
		formatter.VerboseLog("no history database at %s", cfg.HistoryDB)
		return report
	}
	if err := fillFromHistory(ctx, &report, cfg.HistoryDB); err != nil {
		report.HistoryProblem = err.Error()
	}
	return report
}

func fillFromSnapshot(report *StatusReport, snap store.Snapshot) {
	switch {
	case snap.EmergencyStopped:
		report.State = "emergency_stopped"
	case snap.Active && snap.Held:
		report.State = "held"
	case snap.Active:
		report.State = "active"
	}
	report.Profile = snap.ProfileName
	report.RunToken = snap.RunToken
	report.ClimateTargetF = snap.ClimateSetpointF
	report.Equipment = snap.Equipment
	if !snap.SavedAt.IsZero() {
		report.SavedAt = &snap.SavedAt
	}
	if snap.Active || snap.EmergencyStopped {
		report.Phase = snap.Phase.String()
		if !snap.ProcessStart.IsZero() {
			report.ProcessStart = &snap.ProcessStart
		}
		if !snap.PhaseStart.IsZero() {
			report.PhaseStart = &snap.PhaseStart
		}
	}
}

func fillFromHistory(ctx context.Context, report *StatusReport, dbPath string) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.ReadLatestRun(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Empty database; nothing recorded yet.
	case err != nil:
		return err
	default:
		if report.Profile == "" {
			report.Profile = run.ProfileName
		}
		readings, err := st.ReadRecentReadings(ctx, run.Token, 4)
		if err != nil {
			return err
		}
		report.LatestReadings = latestPerProbe(readings)
	}

	alerts, err := st.ReadRecentAlerts(ctx, 5)
	if err != nil {
		return err
	}
	for _, a := range alerts {
		report.RecentAlerts = append(report.RecentAlerts, AlertLine{
			At:      a.At,
			Level:   string(a.Level),
			Code:    a.Code,
			Message: a.Message,
		})
	}
	return nil
}

// latestPerProbe keeps each probe's newest sample. Input is oldest
// first, so the last occurrence wins.
func latestPerProbe(readings []store.Reading) []ReadingLine {
	latest := make(map[string]store.Reading)
	var order []string
	for _, r := range readings {
		if _, seen := latest[r.Probe]; !seen {
			order = append(order, r.Probe)
		}
		latest[r.Probe] = r
	}

	lines := make([]ReadingLine, 0, len(order))
	for _, probe := range order {
		r := latest[probe]
		lines = append(lines, ReadingLine{
			Probe:     r.Probe,
			At:        r.At,
			TempF:     r.TempF,
			Humidity:  r.Humidity,
			VPDkPa:    r.VPDkPa,
			DewPointF: r.DewPointF,
		})
	}
	return lines
}

func writeStatusText(w io.Writer, report StatusReport) {
	fmt.Fprintf(w, "State:      %s\n", report.State)
	if report.SnapshotProblem != "" {
		fmt.Fprintf(w, "Snapshot:   %s\n", report.SnapshotProblem)
	}
	if report.Profile != "" {
		fmt.Fprintf(w, "Profile:    %s\n", report.Profile)
	}
	if report.RunToken != "" {
		fmt.Fprintf(w, "Run:        %s\n", report.RunToken)
	}
	if report.Phase != "" {
		fmt.Fprintf(w, "Phase:      %s", report.Phase)
		if report.PhaseStart != nil {
			fmt.Fprintf(w, " (since %s)", report.PhaseStart.Format(time.RFC3339))
		}
		fmt.Fprintln(w)
	}
	if report.ProcessStart != nil {
		fmt.Fprintf(w, "Started:    %s\n", report.ProcessStart.Format(time.RFC3339))
	}
	if report.ClimateTargetF != 0 {
		fmt.Fprintf(w, "Climate:    %.1fF target\n", report.ClimateTargetF)
	}
	if len(report.Equipment) > 0 {
		fmt.Fprint(w, "Equipment:  ")
		for i, name := range equipmentNames(report.Equipment) {
			if i > 0 {
				fmt.Fprint(w, ", ")
			}
			fmt.Fprintf(w, "%s %s", name, report.Equipment[name])
		}
		fmt.Fprintln(w)
	}
	if report.SavedAt != nil {
		fmt.Fprintf(w, "Saved:      %s\n", report.SavedAt.Format(time.RFC3339))
	}
	if report.HistoryProblem != "" {
		fmt.Fprintf(w, "History:    %s\n", report.HistoryProblem)
	}

	if len(report.LatestReadings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Latest readings:")
		for _, r := range report.LatestReadings {
			fmt.Fprintf(w, "  %-14s %5.1fF %5.1f%%  vpd %.2f  dew %.1fF  (%s)\n",
				r.Probe, r.TempF, r.Humidity, r.VPDkPa, r.DewPointF, r.At.Format(time.RFC3339))
		}
	}

	fmt.Fprintln(w)
	if len(report.RecentAlerts) == 0 {
		fmt.Fprintln(w, "Recent alerts: none")
		return
	}
	fmt.Fprintln(w, "Recent alerts:")
	for _, a := range report.RecentAlerts {
		fmt.Fprintf(w, "  %s  %-8s %s: %s\n",
			a.At.Format(time.RFC3339), a.Level, a.Code, a.Message)
	}
}
