package mqtt

import (
	"sync"
	"time"

	"github.com/nugget/hearth/internal/events"
)

// Counters is a point-in-time copy of the daily totals.
type Counters struct {
	InputTokens  int64
	OutputTokens int64
	Requests     int64
	Digests      int64
	LastRequest  time.Time
	LastDigest   time.Time
}

// DailyCounters accumulates request and digest totals from bus events
// and zeroes them at local midnight. The last-seen timestamps survive
// the reset. Safe for concurrent use.
type DailyCounters struct {
	mu       sync.Mutex
	c        Counters
	resetDay string
	loc      *time.Location
	now      func() time.Time
}

// NewDailyCounters uses loc for midnight detection; nil means
// [time.Local].
func NewDailyCounters(loc *time.Location) *DailyCounters {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyCounters{loc: loc, now: time.Now}
	d.resetDay = d.day()
	return d
}

// Observe folds one event into the totals. Events other than completed
// requests and sent digests are ignored.
func (d *DailyCounters) Observe(e events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()

	ts := e.Timestamp
	if ts.IsZero() {
		ts = d.now()
	}
	switch e.Kind {
	case events.KindRequestComplete:
		d.c.InputTokens += asInt64(e.Data["tokens_in"])
		d.c.OutputTokens += asInt64(e.Data["tokens_out"])
		d.c.Requests++
		d.c.LastRequest = ts
	case events.KindDigestSent:
		d.c.Digests++
		d.c.LastDigest = ts
	}
}

// Snapshot returns the current totals after checking for rollover.
func (d *DailyCounters) Snapshot() Counters {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()
	return d.c
}

func (d *DailyCounters) day() string {
	return d.now().In(d.loc).Format(time.DateOnly)
}

// maybeReset must be called with d.mu held.
func (d *DailyCounters) maybeReset() {
	today := d.day()
	if today == d.resetDay {
		return
	}
	d.c.InputTokens = 0
	d.c.OutputTokens = 0
	d.c.Requests = 0
	d.c.Digests = 0
	d.resetDay = today
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
