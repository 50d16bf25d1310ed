package correlation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/winlog-collector/winlog/internal/models"
	"github.com/winlog-collector/winlog/internal/repository"
	"github.com/winlog-collector/winlog/internal/timestamp"
)

const (
	// OrphanPrefix marks disconnects that matched no open connect.
	OrphanPrefix = "orphan_"
	// HardwarePrefix marks hardware inventory identifiers.
	HardwarePrefix = "hardware_"

	// AutoCloseOffset is how long before the new connect a stale session is closed.
	AutoCloseOffset = time.Second
)

// ErrUnknownAction is returned for events whose action the engine cannot route.
var ErrUnknownAction = errors.New("unknown action")

// CorrelationError reports a failed store lookup during correlation.
type CorrelationError struct {
	Action models.Action
	Op     string
	Err    error
}

func (e *CorrelationError) Error() string {
	return fmt.Sprintf("correlate %s: %s: %v", e.Action, e.Op, e.Err)
}

func (e *CorrelationError) Unwrap() error {
	return e.Err
}

// Result is the outcome of correlating one event.
type Result struct {
	SessionID string
	// AutoClose is the synthetic disconnect closing a stale session, if any.
	// It must be stored in the same unit of work as the event, before it.
	AutoClose *models.Event
	// Orphan is set when a disconnect matched no open connect.
	Orphan bool
}

// Engine assigns session identifiers from the event log. It only reads from
// the store and never retries.
type Engine struct {
	store repository.SessionFinder
	ids   IDGenerator
	loc   *time.Location
}

type Option func(*Engine)

// WithIDGenerator replaces the clock-seeded identifier source.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.ids = g
		}
	}
}

// WithLocation sets the zone calendar days are computed in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

func NewEngine(store repository.SessionFinder, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		ids:   NewClockIDGenerator(time.Now),
		loc:   time.UTC,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Correlate decides the session identifier of event and, for a connect that
// supersedes an open session of the same day, the auto-close to store with it.
// The event itself is not modified.
func (e *Engine) Correlate(ctx context.Context, event *models.Event) (*Result, error) {
	day := timestamp.DayOf(event.EventTime, e.loc)

	switch event.Action {
	case models.ActionConnect:
		open, err := e.store.FindOpenSessionToday(ctx, event.Username, event.Hostname, day)
		if err != nil {
			return nil, &CorrelationError{Action: event.Action, Op: "find open session today", Err: err}
		}

		result := &Result{SessionID: e.ids.NewID(event.Username, event.Hostname, day)}
		if open != nil {
			result.AutoClose = autoClose(event, open.SessionID)
		}
		return result, nil

	case models.ActionDisconnect:
		sessionID, found, err := e.store.FindLatestOpenSession(ctx, event.Username, event.Hostname)
		if err != nil {
			return nil, &CorrelationError{Action: event.Action, Op: "find latest open session", Err: err}
		}
		if found {
			return &Result{SessionID: sessionID}, nil
		}
		return &Result{
			SessionID: OrphanPrefix + e.ids.NewID(event.Username, event.Hostname, day),
			Orphan:    true,
		}, nil

	case models.ActionHardware:
		return &Result{SessionID: HardwarePrefix + e.ids.NewID(event.Username, event.Hostname, day)}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, event.Action)
	}
}

// autoClose builds the synthetic disconnect for a stale session, one second
// before the connect that supersedes it.
func autoClose(event *models.Event, sessionID string) *models.Event {
	at := event.EventTime.Add(-AutoCloseOffset)
	return &models.Event{
		Username:        event.Username,
		Action:          models.ActionDisconnect,
		ClientTimestamp: timestamp.Format(at),
		EventTime:       at,
		Hostname:        event.Hostname,
		SourceIP:        event.SourceIP,
		ServerTimestamp: event.ServerTimestamp,
		OSName:          event.OSName,
		OSVersion:       event.OSVersion,
		KernelVersion:   event.KernelVersion,
		SessionID:       sessionID,
		Synthetic:       true,
	}
}
