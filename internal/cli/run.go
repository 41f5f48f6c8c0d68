package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/siltdb/silt/internal/harness"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a flush scenario",
		Long: `Execute a declarative flush scenario against in-memory persisters
and print the resulting trace of decisions, writes, and transaction
completions. The scenario's assertions are checked after the script
finishes.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runScenario(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = formatter.Error(ErrCodeLoadFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "loading scenario", err)
	}

	formatter.VerboseLog("Running scenario %s (%d step(s))", scenario.Name, len(scenario.Steps))

	result, err := harness.Run(scenario)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "scenario execution failed", err)
	}

	assertErr := result.CheckAssertions(scenario)

	if formatter.Format == "json" {
		payload, cerr := harness.CanonicalTrace(result)
		if cerr != nil {
			return cerr
		}
		response := CLIResponse{Status: "ok", Data: json.RawMessage(payload)}
		if assertErr != nil {
			response.Status = "error"
			response.Error = &CLIError{Code: ErrCodeGeneric, Message: assertErr.Error()}
		}
		if err := json.NewEncoder(formatter.Writer).Encode(response); err != nil {
			return err
		}
		if assertErr != nil {
			return WrapExitError(ExitFailure, "assertions failed", assertErr)
		}
		return nil
	}

	fmt.Fprintf(formatter.Writer, "scenario %s (session %s)\n", result.Scenario, result.Session)
	for _, ev := range result.Trace {
		fmt.Fprintf(formatter.Writer, "  %s\n", formatTraceEvent(ev))
	}

	if assertErr != nil {
		fmt.Fprintf(formatter.Writer, "✗ %v\n", assertErr)
		return WrapExitError(ExitFailure, "assertions failed", assertErr)
	}
	fmt.Fprintf(formatter.Writer, "✓ %d assertion(s) passed\n", len(scenario.Assertions))
	return nil
}

func formatTraceEvent(ev map[string]any) string {
	switch ev["type"] {
	case "decision":
		return fmt.Sprintf("decision %s#%v dirty=%v preDelete=%v collection=%v update=%v",
			ev["entity"], ev["id"], ev["dirty"], ev["pre_delete"], ev["dirty_collection"], ev["update"])
	case "update":
		return fmt.Sprintf("update %s#%v dirty=%v previousVersion=%v",
			ev["entity"], ev["id"], ev["dirty"], ev["previous_version"])
	case "delete":
		return fmt.Sprintf("delete %s#%v version=%v", ev["entity"], ev["id"], ev["version"])
	case "completion":
		return fmt.Sprintf("completion success=%v", ev["success"])
	case "error":
		return fmt.Sprintf("error %v", ev["message"])
	}
	return fmt.Sprintf("%v", ev)
}
