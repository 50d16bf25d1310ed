package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/winlog-collector/winlog/internal/config"
	"github.com/winlog-collector/winlog/internal/models"
	"github.com/winlog-collector/winlog/internal/repository"
)

// run executes winlogctl with args against an isolated config directory.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("WINLOG_CONFIG_DIR", t.TempDir())

	require.NoError(t, rootCmd.PersistentFlags().Set("output", "table"))
	require.NoError(t, purgeCmd.Flags().Set("yes", "false"))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	expected := map[string]bool{"sessions": false, "purge": false, "logon": false, "logout": false, "matos": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := expected[c.Name()]; ok {
			expected[c.Name()] = true
		}
	}
	for name, found := range expected {
		assert.True(t, found, "expected command %q to be registered", name)
	}
}

func sessionsServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sessions/current", r.URL.Path)
		assert.Equal(t, "Winlog/0.1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"data":[{"username":"alice","hostname":"PC1","connected_at":"2024-01-10T09:00:00Z","session_uuid":"alice@PC1@0a1b2c","source_ip":"10.0.0.5","os_name":"Windows"}],"meta":{"total":1}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSessionsCommand_Table(t *testing.T) {
	srv := sessionsServer(t)
	t.Setenv("WINLOGCTL_SERVER_URL", srv.URL)

	out, err := run(t, "", "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "HOSTNAME")
	assert.Contains(t, out, "alice@PC1@0a1b2c")
	assert.Contains(t, out, "2024-01-10 09:00:00")
	assert.Contains(t, out, "1 open session(s)")
}

func TestSessionsCommand_JSON(t *testing.T) {
	srv := sessionsServer(t)
	t.Setenv("WINLOGCTL_SERVER_URL", srv.URL)

	out, err := run(t, "", "sessions", "--output", "json")
	require.NoError(t, err)

	var sessions []models.CurrentSession
	require.NoError(t, json.Unmarshal([]byte(out), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "PC1", sessions[0].Hostname)
}

func TestSessionsCommand_YAML(t *testing.T) {
	srv := sessionsServer(t)
	t.Setenv("WINLOGCTL_SERVER_URL", srv.URL)

	out, err := run(t, "", "sessions", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "session_uuid: alice@PC1@0a1b2c")
}

func seedRepository(t *testing.T) *repository.MemoryRepository {
	t.Helper()
	repo := repository.NewMemoryRepository(time.UTC)
	at := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	_, err := repo.InsertAll(context.Background(), []*models.Event{
		{Username: "alice", Action: models.ActionConnect, EventTime: at, ServerTimestamp: at, SessionID: "alice@PC1@000001"},
		{Username: "alice", Action: models.ActionDisconnect, EventTime: at.Add(time.Hour), ServerTimestamp: at, SessionID: "alice@PC1@000001"},
		{Username: "alice", Action: models.ActionHardware, EventTime: at, ServerTimestamp: at, SessionID: "hardware_alice@PC1@000002"},
	})
	require.NoError(t, err)

	prev := openRepository
	openRepository = func(ctx context.Context, c *config.CLIConfig) (repository.Repository, error) {
		return repo, nil
	}
	t.Cleanup(func() { openRepository = prev })
	return repo
}

func TestPurgeCommand_Confirmed(t *testing.T) {
	repo := seedRepository(t)

	out, err := run(t, "PURGE\n", "purge")
	require.NoError(t, err)
	assert.Contains(t, out, "Total: 3 event(s)")
	assert.Contains(t, out, "Type PURGE to confirm")
	assert.Contains(t, out, "Purged 3 event(s)")
	assert.Empty(t, repo.Events())
}

func TestPurgeCommand_Cancelled(t *testing.T) {
	repo := seedRepository(t)

	out, err := run(t, "purge\n", "purge")
	require.NoError(t, err)
	assert.Contains(t, out, "Purge cancelled")
	assert.Len(t, repo.Events(), 3)
}

func TestPurgeCommand_Yes(t *testing.T) {
	repo := seedRepository(t)

	out, err := run(t, "", "purge", "--yes")
	require.NoError(t, err)
	assert.NotContains(t, out, "to confirm")
	assert.Empty(t, repo.Events())
}
