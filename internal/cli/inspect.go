package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/siltdb/silt/internal/mapping"
	"github.com/siltdb/silt/internal/meta"
	"github.com/siltdb/silt/internal/sqlite"
)

// InspectResult is the snapshot of one row in CLI output form.
type InspectResult struct {
	Entity string         `json:"entity"`
	Table  string         `json:"table"`
	ID     any            `json:"id"`
	Values map[string]any `json:"values"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <db-path> <mappings-dir> <entity> <id>",
		Short: "Print the stored snapshot of one row",
		Long: `Read one row through its entity mapping and print the property
values the flush engine would see as the database snapshot.`,
		Args:          cobra.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args[0], args[1], args[2], args[3], cmd)
		},
	}

	return cmd
}

func runInspect(opts *RootOptions, dbPath, dir, entityName, rawID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loadResult, loadErrors := LoadMappings(dir, LoadModeFailFast)
	if loadResult == nil && len(loadErrors) > 0 {
		_ = formatter.Error(ErrCodeLoadFailed, loadErrors[0].Error(), nil)
		return NewExitError(ExitCommandError, loadErrors[0].Error())
	}

	var m *mapping.EntityMapping
	for _, candidate := range loadResult.Mappings {
		if candidate.Name == entityName {
			m = candidate
		}
	}
	if m == nil {
		msg := fmt.Sprintf("entity %q is not mapped in %s", entityName, dir)
		_ = formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	id, err := parseIdentifier(m.ID.Type, rawID)
	if err != nil {
		msg := fmt.Sprintf("bad identifier %q: %v", rawID, err)
		_ = formatter.Error(ErrCodeGeneric, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	store, err := sqlite.Open(dbPath)
	if err != nil {
		msg := fmt.Sprintf("open %s: %v", dbPath, err)
		_ = formatter.Error(ErrCodeStoreError, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}
	defer store.Close()

	ctx := cmd.Context()
	p, err := sqlite.NewPersister(ctx, store, m)
	if err != nil {
		msg := fmt.Sprintf("persister for %s: %v", entityName, err)
		_ = formatter.Error(ErrCodeStoreError, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	snapshot, err := p.GetDatabaseSnapshot(ctx, id)
	if err != nil {
		msg := fmt.Sprintf("snapshot %s#%v: %v", entityName, id, err)
		_ = formatter.Error(ErrCodeStoreError, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}
	if snapshot == nil {
		msg := fmt.Sprintf("%s#%v: no such row", entityName, id)
		_ = formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitFailure, msg)
	}

	result := InspectResult{
		Entity: m.Name,
		Table:  m.Table,
		ID:     id,
		Values: make(map[string]any, len(m.Properties)),
	}
	for i, prop := range m.Properties {
		result.Values[prop.Name] = snapshot[i]
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "%s#%v (table %s)\n", m.Name, id, m.Table)
	for i, prop := range m.Properties {
		fmt.Fprintf(formatter.Writer, "  %s = %v\n", prop.Name, snapshot[i])
	}
	return nil
}

// parseIdentifier converts the CLI's string argument into the mapped
// identifier type.
func parseIdentifier(t meta.Type, raw string) (any, error) {
	switch t.(type) {
	case meta.Int64Type:
		return strconv.ParseInt(raw, 10, 64)
	case meta.StringType:
		return raw, nil
	}
	return nil, fmt.Errorf("unsupported identifier type %s", t.Name())
}
