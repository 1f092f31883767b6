package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/drydenhq/dryden/internal/profile"
)

// ValidationResult holds recipe validation results.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Recipe string   `json:"recipe,omitempty"` // profile name when valid
	Phases int      `json:"phases,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <recipe.cue>",
		Short: "Check a recipe against the schema",
		Long: `Compile a CUE recipe and report every violation, not just the first.

A recipe that validates here is exactly the recipe the daemon will run:
the same compiler produces the phase schedule in both places.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		msg := fmt.Sprintf("recipe not readable: %v", err)
		_ = formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}
	formatter.VerboseLog("Compiling %s (%d bytes)", path, len(data))

	prof, errs := profile.ValidateBytesProfile(filepath.Base(path), data)
	if len(errs) > 0 {
		return outputRecipeErrors(formatter, errs)
	}
	return outputRecipeValid(formatter, prof)
}

// outputRecipeValid reports a recipe that compiled cleanly.
func outputRecipeValid(formatter *OutputFormatter, prof *profile.Profile) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{
			Valid:  true,
			Recipe: prof.Name,
			Phases: len(prof.Phases),
		})
	}

	fmt.Fprintf(formatter.Writer, "✓ %s: %d phases\n", prof.Name, len(prof.Phases))
	return nil
}

// outputRecipeErrors reports every violation the compiler collected.
func outputRecipeErrors(formatter *OutputFormatter, errs []error) error {
	messages := make([]string, 0, len(errs))
	for _, err := range errs {
		messages = append(messages, err.Error())
	}

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: messages},
			Error: &CLIError{
				Code:    ErrCodeRecipe,
				Message: messages[0],
			},
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, msg := range messages {
		fmt.Fprintf(formatter.Writer, "  %s\n", msg)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
