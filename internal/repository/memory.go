package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/winlog-collector/winlog/internal/models"
	"github.com/winlog-collector/winlog/internal/timestamp"
)

// openConnect is one entry of the unmatched-connect index.
type openConnect struct {
	event *models.Event
}

func (o openConnect) before(other openConnect) bool {
	if o.event.EventTime.Equal(other.event.EventTime) {
		return o.event.ID < other.event.ID
	}
	return o.event.EventTime.Before(other.event.EventTime)
}

// MemoryRepository keeps the log in memory together with a secondary index of
// unmatched connects per (username, hostname), so open-session lookups never
// rescan the log. Results match the anti-join of the Postgres store.
type MemoryRepository struct {
	mu     sync.RWMutex
	loc    *time.Location
	events []*models.Event
	nextID int64

	open        map[pair][]openConnect       // unmatched connects, oldest first
	openKeys    map[string]map[pair]struct{} // session id -> pairs holding it
	disconnects map[string]struct{}          // session ids with at least one disconnect
}

// pair compares username and hostname separately, like the table columns.
type pair struct {
	username string
	hostname string
}

// NewMemoryRepository creates an empty store computing calendar days in loc.
func NewMemoryRepository(loc *time.Location) *MemoryRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &MemoryRepository{
		loc:         loc,
		open:        make(map[pair][]openConnect),
		openKeys:    make(map[string]map[pair]struct{}),
		disconnects: make(map[string]struct{}),
	}
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

func (r *MemoryRepository) Close() {}

func (r *MemoryRepository) FindOpenSessionToday(ctx context.Context, username, hostname string, day timestamp.Day) (*models.OpenSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("find open session today", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	connects := r.open[pair{username, hostname}]
	for i := len(connects) - 1; i >= 0; i-- {
		ev := connects[i].event
		if timestamp.DayOf(ev.EventTime, r.loc) == day {
			return &models.OpenSession{SessionID: ev.SessionID, EventTime: ev.EventTime}, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) FindLatestOpenSession(ctx context.Context, username, hostname string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, storageErr("find latest open session", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	connects := r.open[pair{username, hostname}]
	if len(connects) == 0 {
		return "", false, nil
	}
	return connects[len(connects)-1].event.SessionID, true, nil
}

func (r *MemoryRepository) Insert(ctx context.Context, event *models.Event) (int64, error) {
	ids, err := r.InsertAll(ctx, []*models.Event{event})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// InsertAll checks every event before applying any of them, which makes the
// batch all-or-nothing.
func (r *MemoryRepository) InsertAll(ctx context.Context, events []*models.Event) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("insert event", err)
	}
	for _, event := range events {
		if err := checkEvent(event); err != nil {
			return nil, storageErr("insert event", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int64, len(events))
	for i, event := range events {
		r.nextID++
		stored := *event
		stored.ID = r.nextID
		r.events = append(r.events, &stored)
		r.index(&stored)

		event.ID = stored.ID
		ids[i] = stored.ID
	}
	return ids, nil
}

// index updates the unmatched-connect index for a newly appended event.
func (r *MemoryRepository) index(ev *models.Event) {
	switch ev.Action {
	case models.ActionConnect:
		if _, closed := r.disconnects[ev.SessionID]; closed {
			return
		}
		key := pair{ev.Username, ev.Hostname}
		entry := openConnect{event: ev}
		list := r.open[key]
		pos := sort.Search(len(list), func(i int) bool { return entry.before(list[i]) })
		list = append(list, openConnect{})
		copy(list[pos+1:], list[pos:])
		list[pos] = entry
		r.open[key] = list

		if r.openKeys[ev.SessionID] == nil {
			r.openKeys[ev.SessionID] = make(map[pair]struct{})
		}
		r.openKeys[ev.SessionID][key] = struct{}{}

	case models.ActionDisconnect:
		r.disconnects[ev.SessionID] = struct{}{}
		for key := range r.openKeys[ev.SessionID] {
			list := r.open[key][:0]
			for _, c := range r.open[key] {
				if c.event.SessionID != ev.SessionID {
					list = append(list, c)
				}
			}
			if len(list) == 0 {
				delete(r.open, key)
			} else {
				r.open[key] = list
			}
		}
		delete(r.openKeys, ev.SessionID)
	}
}

func (r *MemoryRepository) ListOpenSessions(ctx context.Context) ([]*models.CurrentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []openConnect
	for _, list := range r.open {
		all = append(all, list...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].event.Hostname != all[j].event.Hostname {
			return all[i].event.Hostname < all[j].event.Hostname
		}
		return all[i].before(all[j])
	})

	sessions := make([]*models.CurrentSession, 0, len(all))
	for _, c := range all {
		sessions = append(sessions, &models.CurrentSession{
			Username:    c.event.Username,
			Hostname:    c.event.Hostname,
			ConnectedAt: c.event.EventTime,
			SessionID:   c.event.SessionID,
			SourceIP:    c.event.SourceIP,
			OSName:      c.event.OSName,
			OSVersion:   c.event.OSVersion,
		})
	}
	return sessions, nil
}

func (r *MemoryRepository) CountByAction(ctx context.Context) (map[models.Action]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[models.Action]int64)
	for _, ev := range r.events {
		counts[ev.Action]++
	}
	return counts, nil
}

func (r *MemoryRepository) Purge(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := int64(len(r.events))
	r.events = nil
	r.open = make(map[pair][]openConnect)
	r.openKeys = make(map[string]map[pair]struct{})
	r.disconnects = make(map[string]struct{})
	return n, nil
}

// Events returns a snapshot of the log in insertion order.
func (r *MemoryRepository) Events() []models.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Event, len(r.events))
	for i, ev := range r.events {
		out[i] = *ev
	}
	return out
}

// checkEvent mirrors the NOT NULL and CHECK constraints of the events table.
func checkEvent(ev *models.Event) error {
	if ev == nil {
		return errors.New("nil event")
	}
	if ev.Username == "" {
		return fmt.Errorf("%w: username is required", ErrConstraintViolation)
	}
	if _, err := models.ParseAction(string(ev.Action)); err != nil {
		return fmt.Errorf("%w: %v", ErrConstraintViolation, err)
	}
	if ev.SessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrConstraintViolation)
	}
	return nil
}
