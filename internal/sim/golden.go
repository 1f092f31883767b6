package sim

import (
	"log/slog"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/drydenhq/dryden/internal/profile"
)

// AssertGolden compares a run's trace against
// testdata/golden/<name>.golden. Traces serialize with the same
// canonical JSON rules as recipe fingerprints, so the bytes are stable
// across platforms. Regenerate with go test ./internal/sim -update.
func AssertGolden(t *testing.T, name string, res *Result) {
	t.Helper()
	data, err := profile.MarshalCanonical(toCanonicalMap(name, res.Trace))
	if err != nil {
		t.Fatalf("canonicalize trace: %v", err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}

// RunWithGolden executes the scenario and compares its trace against
// the golden file named after it.
func RunWithGolden(t *testing.T, s *Scenario, log *slog.Logger) (*Result, error) {
	t.Helper()
	res, err := Run(s, log)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, s.Name, res)
	return res, nil
}
