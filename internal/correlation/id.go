package correlation

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/winlog-collector/winlog/internal/models"
	"github.com/winlog-collector/winlog/internal/timestamp"
)

const shortHashLen = 6

// IDGenerator issues session identifiers. Identifiers are opaque tokens; they
// cannot be recomputed from the stored event.
type IDGenerator interface {
	NewID(username, hostname string, day timestamp.Day) string
}

// Clock returns the current time.
type Clock func() time.Time

// ClockIDGenerator derives identifiers from the pair, the calendar day and a
// clock reading: username@hostname@md5(username+hostname+day+nanos)[:6].
type ClockIDGenerator struct {
	now Clock

	mu   sync.Mutex
	last int64
}

// NewClockIDGenerator returns a generator reading now; nil means time.Now.
func NewClockIDGenerator(now Clock) *ClockIDGenerator {
	if now == nil {
		now = time.Now
	}
	return &ClockIDGenerator{now: now}
}

func (g *ClockIDGenerator) NewID(username, hostname string, day timestamp.Day) string {
	nanos := g.tick()
	sum := md5.Sum([]byte(username + hostname + day.String() + strconv.FormatInt(nanos, 10)))
	return models.SessionKey(username, hostname) + "@" + hex.EncodeToString(sum[:])[:shortHashLen]
}

// tick returns a strictly increasing clock reading so two calls never share a seed.
func (g *ClockIDGenerator) tick() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	nanos := g.now().UnixNano()
	if nanos <= g.last {
		nanos = g.last + 1
	}
	g.last = nanos
	return nanos
}
