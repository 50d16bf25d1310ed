// Package keylock serializes work on a single (username, hostname) key.
package keylock

import (
	"context"
	"fmt"
	"sync"
)

const (
	ModeLocal = "local"
	ModeRedis = "redis"
	ModeNone  = "none"
)

// Modes lists the accepted lock modes.
var Modes = []string{ModeLocal, ModeRedis, ModeNone}

// Unlock releases a held lock. Calling it more than once is a no-op.
type Unlock func()

// Locker grants mutual exclusion per key.
type Locker interface {
	// Lock blocks until key is held or ctx is done.
	Lock(ctx context.Context, key string) (Unlock, error)
	Mode() string
}

// LocalLocker is an in-process keyed mutex. Entries are reference counted and
// dropped once no goroutine holds or waits on them.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{entries: make(map[string]*entry)}
}

func (l *LocalLocker) Mode() string { return ModeLocal }

func (l *LocalLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, fmt.Errorf("lock %q: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(key, e)
		})
	}, nil
}

func (l *LocalLocker) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// size reports how many keys are tracked.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// NoopLocker never blocks. Concurrent connects for one key may then both see
// no open session and leave two sessions open.
type NoopLocker struct{}

func (NoopLocker) Mode() string { return ModeNone }

func (NoopLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	return func() {}, nil
}
