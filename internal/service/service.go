package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/winlog-collector/winlog/internal/correlation"
	"github.com/winlog-collector/winlog/internal/keylock"
	"github.com/winlog-collector/winlog/internal/logging"
	"github.com/winlog-collector/winlog/internal/metrics"
	"github.com/winlog-collector/winlog/internal/models"
	"github.com/winlog-collector/winlog/internal/notify"
	"github.com/winlog-collector/winlog/internal/repository"
	"github.com/winlog-collector/winlog/internal/sink"
	"github.com/winlog-collector/winlog/internal/timestamp"
	"github.com/winlog-collector/winlog/internal/validator"
)

// ErrCorrelationDisabled is returned by session queries on the file backend.
var ErrCorrelationDisabled = errors.New("session correlation is disabled for this backend")

// Options wires the ingestion service. Exactly one of Repository or Sink is set.
type Options struct {
	Repository repository.Repository
	Sink       *sink.FileSink
	Engine     *correlation.Engine
	Validator  *validator.Validator
	Locker     keylock.Locker
	Notifier   notify.Notifier
	Logger     *logging.Logger
	Now        func() time.Time
}

// IngestService stores workstation events: validate, lock the session key,
// correlate, write atomically, then notify.
type IngestService struct {
	repo      repository.Repository
	sink      *sink.FileSink
	engine    *correlation.Engine
	validator *validator.Validator
	locker    keylock.Locker
	notifier  notify.Notifier
	logger    *logging.Logger
	now       func() time.Time

	startedAt time.Time
	stored    atomic.Uint64
	failed    atomic.Uint64
}

func New(opts Options) (*IngestService, error) {
	if (opts.Repository == nil) == (opts.Sink == nil) {
		return nil, errors.New("exactly one of repository or sink is required")
	}

	s := &IngestService{
		repo:      opts.Repository,
		sink:      opts.Sink,
		engine:    opts.Engine,
		validator: opts.Validator,
		locker:    opts.Locker,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if s.repo != nil && s.engine == nil {
		s.engine = correlation.NewEngine(s.repo)
	}
	if s.validator == nil {
		codes := make([]string, 0, len(models.Actions))
		for _, a := range models.Actions {
			codes = append(codes, string(a))
		}
		s.validator = validator.New(codes)
	}
	if s.locker == nil {
		s.locker = keylock.NewLocalLocker()
	}
	if s.notifier == nil {
		s.notifier = notify.NoopNotifier{}
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.startedAt = s.now().UTC()

	return s, nil
}

// CorrelationEnabled reports whether events get session identifiers.
func (s *IngestService) CorrelationEnabled() bool {
	return s.repo != nil
}

// Ingest validates req, assigns its session and stores it. sourceIP is the
// server-derived client address.
func (s *IngestService) Ingest(ctx context.Context, req *models.ClientEvent, sourceIP string) (*models.Event, error) {
	if err := s.validator.Validate(req); err != nil {
		metrics.EventsTotal.WithLabelValues(actionLabel(req), "invalid").Inc()
		return nil, err
	}

	event, err := s.buildEvent(req, sourceIP)
	if err != nil {
		metrics.EventsTotal.WithLabelValues(actionLabel(req), "invalid").Inc()
		return nil, err
	}

	log := s.logger.With(logging.Username(event.Username), logging.Hostname(event.Hostname), logging.Action(string(event.Action)))
	log.DebugContext(ctx, "event received", logging.IP(sourceIP), slog.String("timestamp", event.ClientTimestamp))

	if s.sink != nil {
		return s.appendToSink(ctx, log, event)
	}

	autoClose, orphan, err := s.correlateAndStore(ctx, log, event)
	if err != nil {
		s.failed.Add(1)
		metrics.EventsTotal.WithLabelValues(string(event.Action), "error").Inc()
		log.ErrorContext(ctx, "failed to store event", logging.Error(err))
		return nil, err
	}

	s.stored.Add(1)
	metrics.EventsTotal.WithLabelValues(string(event.Action), "stored").Inc()
	log.InfoContext(ctx, "event stored", logging.EventID(event.ID), logging.SessionID(event.SessionID))

	s.publish(ctx, log, event, autoClose, orphan)
	return event, nil
}

// correlateAndStore runs read-decide-write under the session key lock.
func (s *IngestService) correlateAndStore(ctx context.Context, log *logging.Logger, event *models.Event) (*models.Event, bool, error) {
	if event.Action != models.ActionHardware {
		lockStart := time.Now()
		unlock, err := s.locker.Lock(ctx, event.PairKey())
		metrics.LockWaitDuration.WithLabelValues(s.locker.Mode()).Observe(time.Since(lockStart).Seconds())
		if err != nil {
			metrics.LockErrors.WithLabelValues(s.locker.Mode()).Inc()
			return nil, false, fmt.Errorf("acquire session lock: %w", err)
		}
		defer unlock()
	}

	corrStart := time.Now()
	result, err := s.engine.Correlate(ctx, event)
	metrics.CorrelationDuration.Observe(time.Since(corrStart).Seconds())
	if err != nil {
		metrics.StorageErrors.Inc()
		return nil, false, fmt.Errorf("correlate event: %w", err)
	}
	event.SessionID = result.SessionID

	batch := make([]*models.Event, 0, 2)
	if result.AutoClose != nil {
		log.WarnContext(ctx, "open session found, closing it automatically",
			logging.SessionID(result.AutoClose.SessionID))
		batch = append(batch, result.AutoClose)
	}
	if result.Orphan {
		log.WarnContext(ctx, "disconnect without open session", logging.SessionID(result.SessionID))
	}
	batch = append(batch, event)

	storeStart := time.Now()
	_, err = s.repo.InsertAll(ctx, batch)
	metrics.StorageDuration.Observe(time.Since(storeStart).Seconds())
	if err != nil {
		metrics.StorageErrors.Inc()
		event.SessionID = ""
		return nil, false, fmt.Errorf("store event: %w", err)
	}

	if result.AutoClose != nil {
		metrics.AutoClosedSessions.Inc()
	}
	if result.Orphan {
		metrics.OrphanDisconnects.Inc()
	}
	return result.AutoClose, result.Orphan, nil
}

func (s *IngestService) appendToSink(ctx context.Context, log *logging.Logger, event *models.Event) (*models.Event, error) {
	storeStart := time.Now()
	_, err := s.sink.Append(ctx, event)
	metrics.StorageDuration.Observe(time.Since(storeStart).Seconds())
	if err != nil {
		s.failed.Add(1)
		metrics.StorageErrors.Inc()
		metrics.EventsTotal.WithLabelValues(string(event.Action), "error").Inc()
		log.ErrorContext(ctx, "failed to append event", logging.Error(err))
		return nil, fmt.Errorf("store event: %w", err)
	}

	s.stored.Add(1)
	metrics.EventsTotal.WithLabelValues(string(event.Action), "stored").Inc()
	log.InfoContext(ctx, "event appended", logging.EventID(event.ID))
	return event, nil
}

// publish announces committed changes. Failures are logged and counted only.
func (s *IngestService) publish(ctx context.Context, log *logging.Logger, event, autoClose *models.Event, orphan bool) {
	ctx = context.WithoutCancel(ctx)

	send := func(subject string, fn func(context.Context, *notify.SessionMessage) error, ev *models.Event) {
		if err := fn(ctx, notify.NewSessionMessage(ev)); err != nil {
			metrics.NotificationErrors.WithLabelValues(subject).Inc()
			log.WarnContext(ctx, "failed to publish notification", slog.String("subject", subject), logging.Error(err))
		}
	}

	if autoClose != nil {
		send(notify.SubjectSessionAutoClosed, s.notifier.SessionAutoClosed, autoClose)
	}

	switch {
	case event.Action == models.ActionConnect:
		send(notify.SubjectSessionOpened, s.notifier.SessionOpened, event)
	case event.Action == models.ActionDisconnect && orphan:
		send(notify.SubjectSessionOrphaned, s.notifier.SessionOrphaned, event)
	case event.Action == models.ActionDisconnect:
		send(notify.SubjectSessionClosed, s.notifier.SessionClosed, event)
	case event.Action == models.ActionHardware:
		send(notify.SubjectHardwareReported, s.notifier.HardwareReported, event)
	}
}

func (s *IngestService) buildEvent(req *models.ClientEvent, sourceIP string) (*models.Event, error) {
	action, err := models.ParseAction(req.Action)
	if err != nil {
		return nil, &validator.ValidationError{Details: map[string]string{"action": "INVALID", "action_valid": "NO"}}
	}
	at, err := timestamp.Parse(req.Timestamp)
	if err != nil {
		return nil, &validator.ValidationError{Details: map[string]string{"timestamp": "INVALID_FORMAT"}}
	}

	event := &models.Event{
		Username:        req.Username,
		Action:          action,
		ClientTimestamp: req.Timestamp,
		EventTime:       at,
		Hostname:        req.Hostname,
		SourceIP:        sourceIP,
		ServerTimestamp: s.now().UTC(),
	}
	if req.OSInfo != nil {
		event.OSName = req.OSInfo.OSName
		event.OSVersion = req.OSInfo.OSVersion
		event.KernelVersion = req.OSInfo.KernelVersion
	}
	if hw := bytes.TrimSpace(req.HardwareInfo); len(hw) > 0 && !bytes.Equal(hw, []byte("null")) {
		event.HardwareInfo = append([]byte(nil), hw...)
	}
	return event, nil
}

// OpenSessions lists every session without a disconnect.
func (s *IngestService) OpenSessions(ctx context.Context) ([]*models.CurrentSession, error) {
	if s.repo == nil {
		return nil, ErrCorrelationDisabled
	}
	sessions, err := s.repo.ListOpenSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	return sessions, nil
}

// Ping checks the storage backend.
func (s *IngestService) Ping(ctx context.Context) error {
	if s.sink != nil {
		return s.sink.Ping(ctx)
	}
	return s.repo.Ping(ctx)
}

// Stats is a snapshot of ingestion counters.
type Stats struct {
	UptimeSeconds int64  `json:"uptime_seconds"`
	Stored        uint64 `json:"stored"`
	Failed        uint64 `json:"failed"`
}

func (s *IngestService) Stats() Stats {
	return Stats{
		UptimeSeconds: int64(s.now().UTC().Sub(s.startedAt).Seconds()),
		Stored:        s.stored.Load(),
		Failed:        s.failed.Load(),
	}
}

func actionLabel(req *models.ClientEvent) string {
	if req == nil {
		return "unknown"
	}
	if _, err := models.ParseAction(req.Action); err != nil {
		return "unknown"
	}
	return req.Action
}
