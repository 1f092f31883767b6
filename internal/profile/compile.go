package profile

import (
	_ "embed"
	"fmt"
	"os"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaCUE string

//go:embed default.cue
var defaultCUE string

// CompileError is a recipe compilation failure with source position when the
// CUE evaluator can provide one.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "recipe", Message: first.Error(), Pos: positions[0]}
	}
	return first
}

// expandCUEErrors flattens a CUE error list into individual CompileErrors so
// the validate command can report every problem in one pass.
func expandCUEErrors(err error) []error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return []error{err}
	}
	out := make([]error, 0, len(errs))
	for _, e := range errs {
		ce := &CompileError{Field: "recipe", Message: e.Error()}
		if positions := cueerrors.Positions(e); len(positions) > 0 {
			ce.Pos = positions[0]
		}
		out = append(out, ce)
	}
	return out
}

// CompileFile reads and compiles a recipe file, failing on the first error.
func CompileFile(path string) (*Profile, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipe: %w", err)
	}
	return CompileBytes(path, src)
}

// CompileBytes compiles recipe source against the embedded schema.
// The filename is used only for error positions.
func CompileBytes(filename string, src []byte) (*Profile, error) {
	pr, errs := compile(filename, src, false)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return pr, nil
}

// ValidateBytes compiles in collect-all mode and returns every error found,
// both CUE constraint violations and structural invariants. An empty slice
// means the recipe is valid.
func ValidateBytes(filename string, src []byte) []error {
	_, errs := ValidateBytesProfile(filename, src)
	return errs
}

// ValidateBytesProfile is ValidateBytes but also returns the compiled profile
// when compilation got far enough to produce one.
func ValidateBytesProfile(filename string, src []byte) (*Profile, []error) {
	return compile(filename, src, true)
}

func compile(filename string, src []byte, collect bool) (*Profile, []error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		// The embedded schema is covered by tests; failing here means a
		// build produced a corrupt binary.
		return nil, []error{fmt.Errorf("internal: embedded schema: %w", err)}
	}

	val := ctx.CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		if collect {
			return nil, expandCUEErrors(err)
		}
		return nil, []error{formatCUEError(err)}
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		if collect {
			return nil, expandCUEErrors(err)
		}
		return nil, []error{formatCUEError(err)}
	}

	pr, err := extractProfile(unified.LookupPath(cue.ParsePath("recipe")))
	if err != nil {
		return nil, []error{err}
	}

	if verrs := pr.validate(collect); len(verrs) > 0 {
		return pr, verrs
	}
	return pr, nil
}

// extractProfile walks the validated CUE value field by field. The schema has
// already enforced types, ranges and defaults; failures here indicate a
// schema/extractor mismatch and carry positions for debugging.
func extractProfile(rec cue.Value) (*Profile, error) {
	if !rec.Exists() {
		return nil, &CompileError{Field: "recipe", Message: "top-level recipe struct is required"}
	}

	pr := &Profile{}

	name, err := rec.LookupPath(cue.ParsePath("name")).String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	pr.Name = name

	aw, err := rec.LookupPath(cue.ParsePath("water_activity_target")).Float64()
	if err != nil {
		return nil, formatCUEError(err)
	}
	pr.WaterActivityTarget = aw

	windowMin, err := rec.LookupPath(cue.ParsePath("transition_window_minutes")).Int64()
	if err != nil {
		return nil, formatCUEError(err)
	}
	pr.TransitionWindow = time.Duration(windowMin) * time.Minute

	iter, err := rec.LookupPath(cue.ParsePath("phases")).List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		ps, err := extractPhase(iter.Value())
		if err != nil {
			return nil, err
		}
		pr.Phases = append(pr.Phases, ps)
	}

	return pr, nil
}

func extractPhase(v cue.Value) (PhaseSpec, error) {
	var ps PhaseSpec

	name, err := v.LookupPath(cue.ParsePath("phase")).String()
	if err != nil {
		return ps, formatCUEError(err)
	}
	phase, err := ParsePhase(name)
	if err != nil {
		return ps, &CompileError{Field: "phase", Message: err.Error(), Pos: v.Pos()}
	}
	ps.Phase = phase

	hours, err := v.LookupPath(cue.ParsePath("duration_hours")).Float64()
	if err != nil {
		return ps, formatCUEError(err)
	}
	ps.Duration = time.Duration(hours * float64(time.Hour))

	fields := []struct {
		path string
		dst  *float64
	}{
		{"temp_f", &ps.Setpoints.TempF},
		{"temp_tolerance_f", &ps.Setpoints.TempToleranceF},
		{"dew_point_f", &ps.Setpoints.DewPointF},
		{"dew_point_tolerance_f", &ps.Setpoints.DewPointToleranceF},
		{"humidity_min", &ps.Setpoints.HumidityMin},
		{"humidity_max", &ps.Setpoints.HumidityMax},
		{"vpd_min_kpa", &ps.Setpoints.VPDMin},
		{"vpd_max_kpa", &ps.Setpoints.VPDMax},
	}
	for _, f := range fields {
		fv, err := v.LookupPath(cue.ParsePath(f.path)).Float64()
		if err != nil {
			return ps, formatCUEError(err)
		}
		*f.dst = fv
	}

	return ps, nil
}

var (
	defaultOnce    sync.Once
	defaultProfile *Profile
)

// Default returns the embedded reference recipe: a 10-day dry/cure schedule
// ending in indefinite Storage. The embedded source is compiled once;
// compilation is covered by tests, so failure here is a build defect and
// panics rather than returning an error every caller would have to invent
// handling for.
func Default() *Profile {
	defaultOnce.Do(func() {
		pr, err := CompileBytes("default.cue", []byte(defaultCUE))
		if err != nil {
			panic(fmt.Sprintf("embedded default recipe: %v", err))
		}
		defaultProfile = pr
	})
	return defaultProfile
}
