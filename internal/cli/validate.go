package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/siltdb/silt/internal/mapping"
)

// ValidationIssue is one validation finding in CLI output form.
type ValidationIssue struct {
	Entity  string `json:"entity,omitempty"`
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <mappings-dir>",
		Short: "Validate entity mappings",
		Long: `Validate CUE entity mappings without touching a database.

Performs syntax checking, schema validation, and consistency checks:
version properties must be mapped and updateable, natural identifiers
immutable, cache blocks named, and scalar properties mapped to
columns.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loadResult, loadErrors := LoadMappings(dir, LoadModeCollectAll)

	// Handle load errors (directory not found, no files, etc.)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", loadErr.Code, loadErr.Message))
		}
		_ = formatter.Error(ErrCodeGeneric, loadErrors[0].Error(), nil)
		return NewExitError(ExitCommandError, loadErrors[0].Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, dir)

	var issues []ValidationIssue
	for _, err := range loadErrors {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			issue := ValidationIssue{Field: "load", Code: loadErr.Code, Message: loadErr.Message}
			if loadErr.Pos.IsValid() {
				issue.Line = loadErr.Pos.Line()
			}
			issues = append(issues, issue)
			continue
		}
		issues = append(issues, ValidationIssue{Field: "load", Code: ErrCodeGeneric, Message: err.Error()})
	}

	for _, m := range loadResult.Mappings {
		formatter.VerboseLog("Validating entity: %s", m.Name)
		for _, verr := range mapping.Validate(m) {
			issues = append(issues, ValidationIssue{
				Entity:  m.Name,
				Field:   verr.Field,
				Code:    verr.Code,
				Message: verr.Message,
			})
		}
	}

	if len(issues) > 0 {
		return outputValidationIssues(formatter, issues)
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true})
	}
	fmt.Fprintf(formatter.Writer, "✓ %d mapping(s) valid\n", len(loadResult.Mappings))
	return nil
}

func outputValidationIssues(formatter *OutputFormatter, issues []ValidationIssue) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Issues: issues},
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d issue(s)", len(issues)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range issues {
		if issue.Entity != "" {
			fmt.Fprintf(formatter.Writer, "entity %s\n", issue.Entity)
		}
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", issue.Line)
		}
		fmt.Fprintf(formatter.Writer, "  [%s] %s: %s\n\n", issue.Code, issue.Field, issue.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d issue(s)", len(issues)))
}

// ValidateMappingsDir validates all entity mappings in a directory.
// This is a helper for external callers.
func ValidateMappingsDir(dir string) ([]mapping.ValidationError, error) {
	loadResult, loadErrors := LoadMappings(dir, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		return nil, loadErrors[0]
	}

	var all []mapping.ValidationError
	for _, m := range loadResult.Mappings {
		all = append(all, mapping.Validate(m)...)
	}
	return all, nil
}
