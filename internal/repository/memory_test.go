package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/winlog-collector/winlog/internal/models"
	"github.com/winlog-collector/winlog/internal/timestamp"
)

var baseTime = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

func newEvent(username, hostname string, action models.Action, at time.Time, sessionID string) *models.Event {
	return &models.Event{
		Username:        username,
		Hostname:        hostname,
		Action:          action,
		ClientTimestamp: at.Format(time.RFC3339),
		EventTime:       at,
		ServerTimestamp: at,
		SourceIP:        "10.0.0.1",
		SessionID:       sessionID,
	}
}

func TestMemoryRepository_FindOpenSessionToday(t *testing.T) {
	ctx := context.Background()
	day := timestamp.DayOf(baseTime, time.UTC)

	t.Run("empty store", func(t *testing.T) {
		repo := NewMemoryRepository(time.UTC)
		open, err := repo.FindOpenSessionToday(ctx, "alice", "PC1", day)
		require.NoError(t, err)
		assert.Nil(t, open)
	})

	t.Run("open connect is found", func(t *testing.T) {
		repo := NewMemoryRepository(time.UTC)
		_, err := repo.Insert(ctx, newEvent("alice", "PC1", models.ActionConnect, baseTime, "s1"))
		require.NoError(t, err)

		open, err := repo.FindOpenSessionToday(ctx, "alice", "PC1", day)
		require.NoError(t, err)
		require.NotNil(t, open)
		assert.Equal(t, "s1", open.SessionID)
		assert.True(t, baseTime.Equal(open.EventTime))
	})

	t.Run("closed connect is not found", func(t *testing.T) {
		repo := NewMemoryRepository(time.UTC)
		_, err := repo.Insert(ctx, newEvent("alice", "PC1", models.ActionConnect, baseTime, "s1"))
		require.NoError(t, err)
		_, err = repo.Insert(ctx, newEvent("alice", "PC1", models.ActionDisconnect, baseTime.Add(time.Hour), "s1"))
		require.NoError(t, err)

		open, err := repo.FindOpenSessionToday(ctx, "alice", "PC1", day)
		require.NoError(t, err)
		assert.Nil(t, open)
	})

	t.Run("disconnect stored before its connect still closes it", func(t *testing.T) {
		repo := NewMemoryRepository(time.UTC)
		_, err := repo.Insert(ctx, newEvent("alice", "PC1", models.ActionDisconnect, baseTime.Add(time.Hour), "s1"))
		require.NoError(t, err)
		_, err = repo.Insert(ctx, newEvent("alice", "PC1", models.ActionConnect, baseTime, "s1"))
		require.NoError(t, err)

		open, err := repo.FindOpenSessionToday(ctx, "alice", "PC1", day)
		require.NoError(t, err)
		assert.Nil(t, open)
	})

	t.Run("other day is ignored", func(t *testing.T) {
		repo := NewMemoryRepository(time.UTC)
		_, err := repo.Insert(ctx, newEvent("alice", "PC1", models.ActionConnect, baseTime.Add(-24*time.Hour), "s0"))
		require.NoError(t, err)

		open, err := repo.FindOpenSessionToday(ctx, "alice", "PC1", day)
		require.NoError(t, err)
		assert.Nil(t, open)

		id, found, err := repo.FindLatestOpenSession(ctx, "alice", "PC1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "s0", id)
	})

	t.Run("day is computed in the configured zone", func(t *testing.T) {
		cet := time.FixedZone("CET", 3600)
		repo := NewMemoryRepository(cet)
		late := time.Date(2024, 1, 10, 23, 30, 0, 0, time.UTC) // 2024-01-11 in CET
		_, err := repo.Insert(ctx, newEvent("alice", "PC1", models.ActionConnect, late, "s1"))
		require.NoError(t, err)

		open, err := repo.FindOpenSessionToday(ctx, "alice", "PC1", timestamp.Day("2024-01-10"))
		require.NoError(t, err)
		assert.Nil(t, open)

		open, err = repo.FindOpenSessionToday(ctx, "alice", "PC1", timestamp.Day("2024-01-11"))
		require.NoError(t, err)
		require.NotNil(t, open)
		assert.Equal(t, "s1", open.SessionID)
	})

	t.Run("latest connect wins and ties break on id", func(t *testing.T) {
		repo := NewMemoryRepository(time.UTC)
		_, err := repo.Insert(ctx, newEvent("alice", "PC1", models.ActionConnect, baseTime.Add(time.Hour), "late"))
		require.NoError(t, err)
		_, err = repo.Insert(ctx, newEvent("alice", "PC1", models.ActionConnect, baseTime, "early"))
		require.NoError(t, err)
		_, err = repo.Insert(ctx, newEvent("alice", "PC1", models.ActionConnect, baseTime.Add(time.Hour), "late-tie"))
		require.NoError(t, err)

		open, err := repo.FindOpenSessionToday(ctx, "alice", "PC1", day)
		require.NoError(t, err)
		require.NotNil(t, open)
		assert.Equal(t, "late-tie", open.SessionID)
	})

	t.Run("pairs are isolated", func(t *testing.T) {
		repo := NewMemoryRepository(time.UTC)
		_, err := repo.Insert(ctx, newEvent("alice", "PC1", models.ActionConnect, baseTime, "s1"))
		require.NoError(t, err)

		for _, p := range [][2]string{{"alice", "PC2"}, {"bob", "PC1"}, {"alice", ""}} {
			open, err := repo.FindOpenSessionToday(ctx, p[0], p[1], day)
			require.NoError(t, err)
			assert.Nil(t, open, "pair %v", p)
		}
	})

	t.Run("pairs with @ in a field are isolated", func(t *testing.T) {
		repo := NewMemoryRepository(time.UTC)
		_, err := repo.Insert(ctx, newEvent("alice@corp", "PC1", models.ActionConnect, baseTime, "alice@corp@PC1@aaaaaa"))
		require.NoError(t, err)

		open, err := repo.FindOpenSessionToday(ctx, "alice", "corp@PC1", day)
		require.NoError(t, err)
		assert.Nil(t, open)

		_, found, err := repo.FindLatestOpenSession(ctx, "alice", "corp@PC1")
		require.NoError(t, err)
		assert.False(t, found)

		sessionID, found, err := repo.FindLatestOpenSession(ctx, "alice@corp", "PC1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "alice@corp@PC1@aaaaaa", sessionID)

		// A disconnect of the other pair must not close this session.
		_, err = repo.Insert(ctx, newEvent("alice", "corp@PC1", models.ActionDisconnect, baseTime.Add(time.Minute), "orphan_x"))
		require.NoError(t, err)
		sessions, err := repo.ListOpenSessions(ctx)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, "alice@corp", sessions[0].Username)
	})

	t.Run("hardware events are inert", func(t *testing.T) {
		repo := NewMemoryRepository(time.UTC)
		_, err := repo.Insert(ctx, newEvent("alice", "PC1", models.ActionHardware, baseTime, "hardware_x"))
		require.NoError(t, err)

		_, found, err := repo.FindLatestOpenSession(ctx, "alice", "PC1")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestMemoryRepository_InsertAll(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns increasing ids in order", func(t *testing.T) {
		repo := NewMemoryRepository(time.UTC)
		first := newEvent("alice", "PC1", models.ActionDisconnect, baseTime, "old")
		second := newEvent("alice", "PC1", models.ActionConnect, baseTime.Add(time.Second), "new")

		ids, err := repo.InsertAll(ctx, []*models.Event{first, second})
		require.NoError(t, err)
		require.Len(t, ids, 2)
		assert.Less(t, ids[0], ids[1])
		assert.Equal(t, ids[0], first.ID)
		assert.Equal(t, ids[1], second.ID)
	})

	t.Run("rejects the whole batch on a constraint failure", func(t *testing.T) {
		repo := NewMemoryRepository(time.UTC)
		good := newEvent("alice", "PC1", models.ActionConnect, baseTime, "s1")
		bad := newEvent("", "PC1", models.ActionConnect, baseTime, "s2")

		_, err := repo.InsertAll(ctx, []*models.Event{good, bad})
		require.Error(t, err)

		var storageErr *StorageError
		require.True(t, errors.As(err, &storageErr))
		assert.ErrorIs(t, err, ErrConstraintViolation)
		assert.Empty(t, repo.Events())
	})

	t.Run("cancelled context", func(t *testing.T) {
		repo := NewMemoryRepository(time.UTC)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := repo.Insert(cctx, newEvent("alice", "PC1", models.ActionConnect, baseTime, "s1"))
		var storageErr *StorageError
		require.True(t, errors.As(err, &storageErr))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("stored copy is detached from the caller", func(t *testing.T) {
		repo := NewMemoryRepository(time.UTC)
		ev := newEvent("alice", "PC1", models.ActionConnect, baseTime, "s1")
		_, err := repo.Insert(ctx, ev)
		require.NoError(t, err)

		ev.SessionID = "mutated"
		id, _, err := repo.FindLatestOpenSession(ctx, "alice", "PC1")
		require.NoError(t, err)
		assert.Equal(t, "s1", id)
	})
}

func TestMemoryRepository_ListOpenSessions(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(time.UTC)

	events := []*models.Event{
		newEvent("bob", "PC2", models.ActionConnect, baseTime, "b1"),
		newEvent("alice", "PC1", models.ActionConnect, baseTime.Add(time.Minute), "a1"),
		newEvent("carol", "PC1", models.ActionConnect, baseTime, "c1"),
		newEvent("dave", "PC3", models.ActionConnect, baseTime, "d1"),
		newEvent("dave", "PC3", models.ActionDisconnect, baseTime.Add(time.Hour), "d1"),
	}
	_, err := repo.InsertAll(ctx, events)
	require.NoError(t, err)

	sessions, err := repo.ListOpenSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, "c1", sessions[0].SessionID)
	assert.Equal(t, "a1", sessions[1].SessionID)
	assert.Equal(t, "b1", sessions[2].SessionID)
	assert.Equal(t, "10.0.0.1", sessions[0].SourceIP)
}

func TestMemoryRepository_CountAndPurge(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(time.UTC)

	_, err := repo.InsertAll(ctx, []*models.Event{
		newEvent("alice", "PC1", models.ActionConnect, baseTime, "s1"),
		newEvent("alice", "PC1", models.ActionDisconnect, baseTime.Add(time.Hour), "s1"),
		newEvent("alice", "PC1", models.ActionHardware, baseTime, "hardware_1"),
		newEvent("bob", "PC2", models.ActionConnect, baseTime, "s2"),
	})
	require.NoError(t, err)

	counts, err := repo.CountByAction(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.ActionConnect])
	assert.Equal(t, int64(1), counts[models.ActionDisconnect])
	assert.Equal(t, int64(1), counts[models.ActionHardware])

	n, err := repo.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	_, found, err := repo.FindLatestOpenSession(ctx, "bob", "PC2")
	require.NoError(t, err)
	assert.False(t, found)

	counts, err = repo.CountByAction(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}
