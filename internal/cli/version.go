package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the silt release version. Overridable at link time via
// -ldflags "-X github.com/siltdb/silt/internal/cli.Version=...".
var Version = "0.3.0"

// VersionInfo is the JSON payload for the version command.
type VersionInfo struct {
	Version string `json:"version"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print the silt version",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			if rootOpts.Format == "json" {
				return formatter.Success(VersionInfo{Version: Version})
			}
			return formatter.Success(fmt.Sprintf("silt v%s", Version))
		},
	}
}
