package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/cadence/pkg/api"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersion("v1.2.3", "abc123def", "2026-01-15")
	defer SetVersion("dev", "none", "unknown")

	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cadence v1.2.3")
	assert.Contains(t, out, "commit: abc123def")
	assert.Contains(t, out, "built:  2026-01-15")
}

func TestTickCommand_Memory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	defs := filepath.Join(dir, "checkins.yaml")
	require.NoError(t, os.WriteFile(defs, []byte(`
checkins:
  - id: standup
    name: Standup
    channel_id: C-TEAM
    time_utc: "09:00"
    frequency: daily
    participants: [U1, U2]
`), 0o600))

	out, err := run(t, "--storage", "memory", "--definitions", defs, "tick")
	require.NoError(t, err)

	var sums []api.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sums))
	require.Len(t, sums, 3)
	assert.Equal(t, api.SummaryTrigger, sums[0].Kind)
	assert.Equal(t, api.SummaryReminders, sums[1].Kind)
	assert.Equal(t, api.SummaryFinalize, sums[2].Kind)
}

func TestDispatchCommand_Memory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	backlog := filepath.Join(dir, "backlog.json")
	require.NoError(t, os.WriteFile(backlog, []byte(`[
  {"assignment_group": "ops", "channel": "C-OPS", "items": [
    {"id": "1", "number": "INC1", "owner_id": "A", "priority": "2"},
    {"id": "2", "number": "INC2", "owner_id": "A", "priority": "3"},
    {"id": "3", "number": "INC3", "owner_id": "B", "priority": "4"}
  ]}
]`), 0o600))

	out, err := run(t, "--storage", "memory", "dispatch", "--backlog", backlog, "--owner-job-limit", "1")
	require.NoError(t, err)

	var sums []api.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sums))
	require.Len(t, sums, 2)
	assert.Equal(t, api.SummaryDispatch, sums[0].Kind)
	assert.Equal(t, 1, sums[0].Counts["jobs"])
	assert.Equal(t, 1, sums[0].Counts["owners_skipped"])
	assert.Equal(t, api.SummaryJob, sums[1].Kind)
	assert.Equal(t, 2, sums[1].Counts["items_processed"])
}

func TestDispatchCommand_RequiresBacklog(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := run(t, "--storage", "memory", "dispatch")
	assert.Error(t, err)
}

func TestInstancesCommand_SQLite(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	out, err := run(t, "--sqlite-path", filepath.Join(dir, "c.db"), "--definitions", "", "instances")
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "STATE")

	_, err = run(t, "--storage", "memory", "instances", "--state", "BOGUS")
	assert.Error(t, err)
}

func TestInvalidConfigFails(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := run(t, "--storage", "dynamo", "tick")
	assert.Error(t, err)
}
