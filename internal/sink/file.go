package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/winlog-collector/winlog/internal/models"
	"github.com/winlog-collector/winlog/internal/repository"
)

const defaultPath = "/var/lib/winlog/events.jsonl"

// FileSink appends events as JSON lines to a single file. It performs no
// correlation: stored events carry whatever session id the caller set.
type FileSink struct {
	path    string
	mu      sync.Mutex
	file    *os.File
	written int64
}

// NewFileSink opens (or creates) the log file at path. Ids continue from the
// number of lines already present.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		path = defaultPath
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create sink directory: %w", err)
	}

	existing, err := countLines(path)
	if err != nil {
		return nil, fmt.Errorf("read sink file: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open sink file: %w", err)
	}

	return &FileSink{
		path:    path,
		file:    f,
		written: existing,
	}, nil
}

// Append writes one event and assigns it the next line number as id.
func (s *FileSink) Append(ctx context.Context, event *models.Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &repository.StorageError{Op: "append event", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return 0, &repository.StorageError{Op: "append event", Err: os.ErrClosed}
	}

	record := *event
	record.ID = s.written + 1

	data, err := json.Marshal(&record)
	if err != nil {
		return 0, &repository.StorageError{Op: "marshal event", Err: err}
	}
	data = append(data, '\n')

	if _, err := s.file.Write(data); err != nil {
		return 0, &repository.StorageError{Op: "append event", Err: err}
	}

	s.written++
	event.ID = record.ID
	return record.ID, nil
}

// Ping reports whether the sink can still accept writes.
func (s *FileSink) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return &repository.StorageError{Op: "ping", Err: os.ErrClosed}
	}
	if _, err := s.file.Stat(); err != nil {
		return &repository.StorageError{Op: "ping", Err: err}
	}
	return nil
}

// Stats returns sink counters.
func (s *FileSink) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]interface{}{
		"path":    s.path,
		"written": s.written,
	}
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func countLines(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	var n int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}
