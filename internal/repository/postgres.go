package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/winlog-collector/winlog/internal/models"
	"github.com/winlog-collector/winlog/internal/timestamp"
)

// ErrConstraintViolation marks inserts rejected by a table constraint.
var ErrConstraintViolation = errors.New("constraint violation")

const (
	queryTimeout = 5 * time.Second
	writeTimeout = 10 * time.Second
)

// PostgresOptions tunes the connection pool and the calendar-day time zone.
type PostgresOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	// TimeZone is the zone calendar days are computed in (IANA name).
	TimeZone string
}

// DefaultPostgresOptions returns the pool settings used by the collector.
func DefaultPostgresOptions() PostgresOptions {
	return PostgresOptions{
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: time.Minute,
		TimeZone:        "UTC",
	}
}

type PostgresRepository struct {
	pool     *pgxpool.Pool
	timeZone string
}

func NewPostgresRepository(ctx context.Context, connString string, opts PostgresOptions) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		config.MinConns = opts.MinConns
	}
	if opts.MaxConnLifetime > 0 {
		config.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	if opts.TimeZone == "" {
		opts.TimeZone = "UTC"
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool, timeZone: opts.TimeZone}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if err := r.pool.Ping(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

// FindOpenSessionToday returns the most recent connect of the pair on day that
// has no disconnect sharing its session id.
func (r *PostgresRepository) FindOpenSessionToday(ctx context.Context, username, hostname string, day timestamp.Day) (*models.OpenSession, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		SELECT c.session_id, c.event_time
		FROM events c
		WHERE c.username = $1
		  AND c.hostname = $2
		  AND c.action = 'C'
		  AND (c.event_time AT TIME ZONE $3::text)::date = $4::text::date
		  AND NOT EXISTS (
			  SELECT 1 FROM events d
			  WHERE d.session_id = c.session_id
			    AND d.action = 'D'
		  )
		ORDER BY c.event_time DESC, c.id DESC
		LIMIT 1
	`

	var session models.OpenSession
	err := r.pool.QueryRow(ctx, query, username, hostname, r.timeZone, day.String()).Scan(
		&session.SessionID,
		&session.EventTime,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storageErr("find open session today", err)
	}

	return &session, nil
}

// FindLatestOpenSession returns the session id of the most recent open connect
// of the pair, regardless of its day.
func (r *PostgresRepository) FindLatestOpenSession(ctx context.Context, username, hostname string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		SELECT c.session_id
		FROM events c
		WHERE c.username = $1
		  AND c.hostname = $2
		  AND c.action = 'C'
		  AND NOT EXISTS (
			  SELECT 1 FROM events d
			  WHERE d.session_id = c.session_id
			    AND d.action = 'D'
		  )
		ORDER BY c.event_time DESC, c.id DESC
		LIMIT 1
	`

	var sessionID string
	err := r.pool.QueryRow(ctx, query, username, hostname).Scan(&sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, storageErr("find latest open session", err)
	}

	return sessionID, true, nil
}

const insertEventSQL = `
	INSERT INTO events (
		username, action, client_timestamp, event_time, hostname, source_ip,
		server_timestamp, os_name, os_version, kernel_version, hardware_info,
		session_id, synthetic
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING id
`

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertEvent(ctx context.Context, q querier, event *models.Event) (int64, error) {
	var hardware *string
	if len(event.HardwareInfo) > 0 {
		s := string(event.HardwareInfo)
		hardware = &s
	}

	var id int64
	err := q.QueryRow(ctx, insertEventSQL,
		event.Username,
		string(event.Action),
		event.ClientTimestamp,
		event.EventTime,
		event.Hostname,
		nullString(event.SourceIP),
		event.ServerTimestamp,
		nullString(event.OSName),
		nullString(event.OSVersion),
		nullString(event.KernelVersion),
		hardware,
		event.SessionID,
		event.Synthetic,
	).Scan(&id)
	if err != nil {
		return 0, classify(err)
	}
	return id, nil
}

// Insert appends a single event.
func (r *PostgresRepository) Insert(ctx context.Context, event *models.Event) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	id, err := insertEvent(ctx, r.pool, event)
	if err != nil {
		return 0, storageErr("insert event", err)
	}
	event.ID = id
	return id, nil
}

// InsertAll appends every event inside one transaction.
func (r *PostgresRepository) InsertAll(ctx context.Context, events []*models.Event) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]int64, len(events))
	for i, event := range events {
		id, err := insertEvent(ctx, tx, event)
		if err != nil {
			return nil, storageErr("insert event", err)
		}
		ids[i] = id
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit transaction", err)
	}

	for i, event := range events {
		event.ID = ids[i]
	}
	return ids, nil
}

// ListOpenSessions returns every connect without a matching disconnect.
func (r *PostgresRepository) ListOpenSessions(ctx context.Context) ([]*models.CurrentSession, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		SELECT c.username, c.hostname, c.event_time, c.session_id,
		       c.source_ip, c.os_name, c.os_version
		FROM events c
		WHERE c.action = 'C'
		  AND NOT EXISTS (
			  SELECT 1 FROM events d
			  WHERE d.session_id = c.session_id
			    AND d.action = 'D'
		  )
		ORDER BY c.hostname ASC, c.event_time ASC, c.id ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, storageErr("list open sessions", err)
	}
	defer rows.Close()

	sessions := []*models.CurrentSession{}
	for rows.Next() {
		var s models.CurrentSession
		var sourceIP, osName, osVersion *string
		if err := rows.Scan(&s.Username, &s.Hostname, &s.ConnectedAt, &s.SessionID, &sourceIP, &osName, &osVersion); err != nil {
			return nil, storageErr("scan open session", err)
		}
		s.SourceIP = deref(sourceIP)
		s.OSName = deref(osName)
		s.OSVersion = deref(osVersion)
		sessions = append(sessions, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list open sessions", err)
	}

	return sessions, nil
}

// CountByAction returns the number of stored events per action code.
func (r *PostgresRepository) CountByAction(ctx context.Context) (map[models.Action]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT action, COUNT(*) FROM events GROUP BY action ORDER BY action`)
	if err != nil {
		return nil, storageErr("count events", err)
	}
	defer rows.Close()

	counts := make(map[models.Action]int64)
	for rows.Next() {
		var action string
		var n int64
		if err := rows.Scan(&action, &n); err != nil {
			return nil, storageErr("scan event count", err)
		}
		counts[models.Action(strings.TrimSpace(action))] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("count events", err)
	}

	return counts, nil
}

// Purge removes every event but keeps the schema.
func (r *PostgresRepository) Purge(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM events`)
	if err != nil {
		return 0, storageErr("purge events", err)
	}
	return tag.RowsAffected(), nil
}

// classify tags integrity violations (SQLSTATE class 23) so callers can tell
// them apart from connectivity failures.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return fmt.Errorf("%w: %s (%s)", ErrConstraintViolation, pgErr.Message, pgErr.ConstraintName)
	}
	return err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
