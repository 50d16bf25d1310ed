package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/winlog-collector/winlog/internal/models"
	"github.com/winlog-collector/winlog/internal/repository"
)

func readLines(t *testing.T, path string) []models.Event {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []models.Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev models.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestFileSink_Append(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.jsonl")
	s, err := NewFileSink(path)
	require.NoError(t, err)

	ev := &models.Event{
		Username:        "alice",
		Action:          models.ActionConnect,
		ClientTimestamp: "2024-01-10T09:00:00",
		EventTime:       time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC),
		Hostname:        "PC1",
		HardwareInfo:    json.RawMessage(`{"cpu_count":4}`),
	}

	id, err := s.Append(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, int64(1), ev.ID)

	id, err = s.Append(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
	require.NoError(t, s.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "alice", lines[0].Username)
	assert.Empty(t, lines[0].SessionID)
	assert.JSONEq(t, `{"cpu_count":4}`, string(lines[0].HardwareInfo))
}

func TestFileSink_ResumesIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	s, err := NewFileSink(path)
	require.NoError(t, err)
	_, err = s.Append(context.Background(), &models.Event{Username: "alice", Action: models.ActionHardware})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewFileSink(path)
	require.NoError(t, err)
	defer s.Close()

	id, err := s.Append(context.Background(), &models.Event{Username: "bob", Action: models.ActionConnect})
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
	assert.Equal(t, int64(2), s.Stats()["written"])
}

func TestFileSink_Closed(t *testing.T) {
	s, err := NewFileSink(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Append(context.Background(), &models.Event{Username: "alice"})
	var storageErr *repository.StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.ErrorIs(t, err, os.ErrClosed)

	assert.Error(t, s.Ping(context.Background()))
}
