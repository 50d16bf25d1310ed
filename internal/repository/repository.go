package repository

import (
	"context"
	"fmt"

	"github.com/winlog-collector/winlog/internal/models"
	"github.com/winlog-collector/winlog/internal/timestamp"
)

// StorageError reports a read or write failure of the event store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// SessionFinder is the read surface the correlation engine depends on.
// Absence of an open session is reported as a nil result, never as an error.
type SessionFinder interface {
	// FindOpenSessionToday returns the latest open connect of the pair on day.
	FindOpenSessionToday(ctx context.Context, username, hostname string, day timestamp.Day) (*models.OpenSession, error)
	// FindLatestOpenSession returns the session id of the latest open connect of the pair.
	FindLatestOpenSession(ctx context.Context, username, hostname string) (string, bool, error)
}

// Repository is the append-only event log.
type Repository interface {
	SessionFinder

	// Insert appends one event and returns its assigned id.
	Insert(ctx context.Context, event *models.Event) (int64, error)
	// InsertAll appends every event in one unit of work; either all are
	// stored or none are. Assigned ids are returned in input order.
	InsertAll(ctx context.Context, events []*models.Event) ([]int64, error)

	ListOpenSessions(ctx context.Context) ([]*models.CurrentSession, error)
	CountByAction(ctx context.Context) (map[models.Action]int64, error)
	// Purge deletes every stored event and returns how many were removed.
	Purge(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
	Close()
}
