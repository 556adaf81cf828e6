package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/stockroom/pkg/types"
)

type dirs struct{ config, data string }

func newDirs(t *testing.T) dirs {
	t.Helper()
	base := t.TempDir()
	return dirs{config: filepath.Join(base, "config"), data: filepath.Join(base, "data")}
}

// execute runs one CLI invocation and returns stdout, stderr and the exit code.
func execute(t *testing.T, d dirs, args ...string) (string, string, int) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	full := append([]string{"--config-dir", d.config, "--data-dir", d.data, "--log-level", "error"}, args...)
	code := run(root, full, &errOut)
	return out.String(), errOut.String(), code
}

func TestInit(t *testing.T) {
	d := newDirs(t)
	out, stderr, code := execute(t, d, "init")
	require.Equal(t, exitSuccess, code, stderr)
	assert.Contains(t, out, "Stockroom initialized")

	configPath := filepath.Join(d.config, "config.yaml")
	first, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(first), "backend: sqlite")
	assert.FileExists(t, filepath.Join(d.data, "stockroom.db"))

	require.NoError(t, os.WriteFile(configPath, append(first, []byte("# edited\n")...), 0o644))
	_, _, code = execute(t, d, "init")
	require.Equal(t, exitSuccess, code)
	again, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(again), "# edited", "init keeps an existing config")
}

func TestEntityLifecycle(t *testing.T) {
	d := newDirs(t)

	out, stderr, code := execute(t, d, "--json", "create", "products", "name=Widget", "sku=W-1", "stock=4")
	require.Equal(t, exitSuccess, code, stderr)
	var created types.Entity
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "PRD-001", created.ID)

	out, _, code = execute(t, d, "get", "products", "PRD-001")
	require.Equal(t, exitSuccess, code)
	assert.Contains(t, out, "Widget")

	_, stderr, code = execute(t, d, "update", "products", "PRD-001", "name=Gadget", "sku=")
	require.Equal(t, exitSuccess, code, stderr)

	out, _, code = execute(t, d, "--json", "list", "products")
	require.Equal(t, exitSuccess, code)
	var listed []types.Entity
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "Gadget", listed[0].Fields["name"])
	assert.Nil(t, listed[0].Fields["sku"])

	_, _, code = execute(t, d, "delete", "products", "PRD-001")
	require.Equal(t, exitSuccess, code)
	_, stderr, code = execute(t, d, "get", "products", "PRD-001")
	assert.Equal(t, exitUserError, code)
	assert.Contains(t, stderr, "not found")
}

func TestUserErrors(t *testing.T) {
	d := newDirs(t)
	tests := []struct {
		name string
		args []string
	}{
		{"unknown collection", []string{"list", "gizmos"}},
		{"missing required field", []string{"create", "products", "sku=X"}},
		{"malformed assignment", []string{"create", "products", "name"}},
		{"derived collection", []string{"create", "opening-stock", "quantity=1"}},
		{"reset without confirmation", []string{"reset"}},
		{"remote in demo mode", []string{"--demo", "remote", "connect"}},
		{"restore in demo mode", []string{"--demo", "restore"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, code := execute(t, d, tt.args...)
			assert.Equal(t, exitUserError, code)
		})
	}
}

func TestSyncAndStatusInDemoMode(t *testing.T) {
	d := newDirs(t)
	_, _, code := execute(t, d, "create", "warehouses", "name=Main")
	require.Equal(t, exitSuccess, code)

	out, _, code := execute(t, d, "--demo", "sync")
	require.Equal(t, exitSuccess, code)
	assert.Contains(t, out, "Demo mode")

	out, _, code = execute(t, d, "--demo", "--json", "status")
	require.Equal(t, exitSuccess, code)
	var status struct {
		Status struct {
			Dirty  []string         `json:"dirty"`
			Record types.SyncRecord `json:"record"`
		} `json:"status"`
		Anonymous bool `json:"anonymous"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.True(t, status.Anonymous)
	assert.Contains(t, status.Status.Dirty, types.CollectionWarehouses)
	assert.Equal(t, types.SyncNever, status.Status.Record.LastSyncStatus)
}

func TestResetKeepsCountersFresh(t *testing.T) {
	d := newDirs(t)
	for i := 0; i < 2; i++ {
		_, _, code := execute(t, d, "create", "customers", fmt.Sprintf("name=C%d", i))
		require.Equal(t, exitSuccess, code)
	}
	_, _, code := execute(t, d, "reset", "--yes")
	require.Equal(t, exitSuccess, code)

	out, _, code := execute(t, d, "--json", "create", "customers", "name=Again")
	require.Equal(t, exitSuccess, code)
	assert.Contains(t, out, `"id": "CUS-001"`)
}

func TestSetupTemplateAndImport(t *testing.T) {
	d := newDirs(t)
	book := filepath.Join(t.TempDir(), "setup.xlsx")
	_, stderr, code := execute(t, d, "setup", "template", book)
	require.Equal(t, exitSuccess, code, stderr)
	assert.FileExists(t, book)

	out, stderr, code := execute(t, d, "--json", "setup", "import", book)
	require.Equal(t, exitSuccess, code, stderr)
	assert.Contains(t, out, `"imported"`)
}

func TestReloadShared(t *testing.T) {
	d := newDirs(t)
	t.Setenv("STOCKROOM_BACKEND", types.BackendFile)
	f := &rootFlags{configDir: d.config, dataDir: d.data, demo: true, logLevel: "error"}
	ctx := context.Background()

	writer, err := openApp(ctx, f)
	require.NoError(t, err)
	defer writer.Close()
	reader, err := openApp(ctx, f)
	require.NoError(t, err)
	defer reader.Close()
	assert.NotEmpty(t, reader.statePath())

	_, err = writer.store.Create(types.CollectionCategories, types.Fields{"name": "Tools"})
	require.NoError(t, err)

	before, err := reader.store.List(types.CollectionCategories)
	require.NoError(t, err)
	assert.Empty(t, before)

	require.NoError(t, reader.reloadShared())
	after, err := reader.store.List(types.CollectionCategories)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "Tools", after[0].Name())
	assert.True(t, reader.store.Tracker().IsDirty(types.CollectionCategories))
}

func TestParseAssignments(t *testing.T) {
	fields, err := parseAssignments([]string{"name=Widget", "note=a=b", "sku="})
	require.NoError(t, err)
	assert.Equal(t, types.Fields{"name": "Widget", "note": "a=b", "sku": nil}, fields)

	_, err = parseAssignments([]string{"=x"})
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitSuccess, exitCode(nil))
	assert.Equal(t, exitUserError, exitCode(&types.ValidationError{Collection: "products", Field: "name", Reason: "required"}))
	assert.Equal(t, exitSysError, exitCode(types.Unavailable("write", errors.New("timeout"))))
	assert.Equal(t, exitSysError, exitCode(system(errors.New("disk full"))))
}
