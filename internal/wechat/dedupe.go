package wechat

import (
	"sync"
	"time"
)

// Deduper suppresses platform redeliveries. The platform resends a callback
// up to three times when no reply arrives within its timeout, always with the
// same MsgId; answering a redelivery with a second provider call would both
// waste quota and double-record the exchange.
type Deduper struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

func NewDeduper(window time.Duration, now func() time.Time) *Deduper {
	if window <= 0 {
		window = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Deduper{
		seen:   make(map[string]time.Time),
		window: window,
		now:    now,
	}
}

// Seen reports whether key was already recorded inside the window, recording
// it otherwise. Expired entries are reclaimed on the way through.
func (d *Deduper) Seen(key string) bool {
	now := d.now()
	cutoff := now.Add(-d.window)

	d.mu.Lock()
	defer d.mu.Unlock()
	for k, at := range d.seen {
		if at.Before(cutoff) {
			delete(d.seen, k)
		}
	}
	if at, ok := d.seen[key]; ok && !at.Before(cutoff) {
		return true
	}
	d.seen[key] = now
	return false
}

// Size reports the tracked delivery count, for tests.
func (d *Deduper) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
