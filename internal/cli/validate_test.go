package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siltdb/silt/internal/mapping"
)

const validProductMapping = `
entity: Product: {
	table: "products"
	id: {column: "id", type: "int64"}
	properties: [
		{name: "name", type: "string", updateable: true},
		{name: "version", type: "int64", updateable: true},
	]
	version: {property: "version"}
	cache: {region: "products"}
}
`

const brokenVersionMapping = `
entity: Broken: {
	table: "broken"
	id: {column: "id", type: "int64"}
	properties: [
		{name: "name", type: "string", updateable: true},
	]
	version: {property: "missing"}
}
`

func writeMappingDir(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "entities.cue"), []byte(content), 0o644))
	return dir
}

func TestValidate_ValidMappings(t *testing.T) {
	dir := writeMappingDir(t, validProductMapping)

	stdout, _, err := executeCommand("validate", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ 1 mapping(s) valid")
}

func TestValidate_ValidMappingsJSON(t *testing.T) {
	dir := writeMappingDir(t, validProductMapping)

	stdout, _, err := executeCommand("--format", "json", "validate", dir)
	require.NoError(t, err)

	var response CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestValidate_UnmappedVersionProperty(t *testing.T) {
	dir := writeMappingDir(t, brokenVersionMapping)

	stdout, _, err := executeCommand("validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, mapping.ErrVersionUnmapped)
	assert.Contains(t, stdout, "entity Broken")
}

func TestValidate_MissingDirectory(t *testing.T) {
	_, _, err := executeCommand("validate", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidate_EmptyDirectory(t *testing.T) {
	_, _, err := executeCommand("validate", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
}

func TestValidateMappingsDir_Helper(t *testing.T) {
	dir := writeMappingDir(t, brokenVersionMapping)

	errs, err := ValidateMappingsDir(dir)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, mapping.ErrVersionUnmapped, errs[0].Code)
}
