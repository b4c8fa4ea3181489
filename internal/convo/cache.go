package convo

import (
	"context"
	"log"
	"sync"
	"time"
)

// Store is the durable key-value binding behind the cache. Values are
// serialized turn lists keyed by user id. A nil Store degrades the cache to
// pure in-memory operation.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}

// TaskRunner schedules work that must be allowed to finish after the request
// that started it has already been answered.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context))
}

// Hooks receive cache lifecycle events for instrumentation. All fields are
// optional.
type Hooks struct {
	// CacheEvent is called with one of: hit, expired, miss, durable_hit,
	// durable_miss, durable_error, malformed, swept.
	CacheEvent func(event string)
	// SyncResult is called once per attempted durable write.
	SyncResult func(ok bool)
}

// Options controls cache behavior. Zero values fall back to the defaults.
type Options struct {
	// TTL is how long a local record stays valid after its last write.
	TTL time.Duration
	// MaxMessages bounds stored history length. Must be even so truncation
	// never splits a (user, assistant) pair.
	MaxMessages int
	// SyncThreshold is the minimum number of unsynced turns before a durable
	// write is scheduled.
	SyncThreshold int
	// Now is the clock source, for deterministic tests.
	Now func() time.Time

	Hooks Hooks
}

const (
	DefaultTTL           = 10 * time.Minute
	DefaultMaxMessages   = 8
	DefaultSyncThreshold = 2
)

type record struct {
	history   []Turn
	expiresAt time.Time
	// syncMark is the history length as of the last successful durable
	// write; 0 when never synced.
	syncMark int
}

// Cache keeps per-user conversation history in memory with a best-effort
// durable copy. Reads are local-first with a synchronous durable fallback;
// writes update memory immediately and flush to the durable store in the
// background once enough unsynced turns accumulate. Nothing the cache does
// ever fails the request path: every error degrades to empty context.
type Cache struct {
	mu      sync.Mutex
	records map[string]*record

	store  Store
	runner TaskRunner
	opts   Options
}

func New(store Store, runner TaskRunner, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultMaxMessages
	}
	if opts.SyncThreshold <= 0 {
		opts.SyncThreshold = DefaultSyncThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		records: make(map[string]*record),
		store:   store,
		runner:  runner,
		opts:    opts,
	}
}

// LoadContext returns the user's recent history: the local record when fresh,
// otherwise a synchronous durable-store read. It never returns an error; a
// missing entry, malformed payload, or store failure all yield empty context
// so the chat proceeds without memory rather than failing the request.
func (c *Cache) LoadContext(ctx context.Context, userID string) []Turn {
	now := c.opts.Now()

	c.mu.Lock()
	rec, ok := c.records[userID]
	if ok && rec.expiresAt.After(now) {
		// Re-apply the limit in case it was lowered since insertion.
		out := cloneTurns(Trim(rec.history, c.opts.MaxMessages))
		c.mu.Unlock()
		c.event("hit")
		return out
	}
	if ok {
		delete(c.records, userID)
	}
	c.mu.Unlock()
	if ok {
		c.event("expired")
	}

	if c.store == nil {
		c.event("miss")
		return nil
	}

	payload, found, err := c.store.Get(ctx, userID)
	if err != nil {
		log.Printf("convo: durable read for %s failed: %v", userID, err)
		c.event("durable_error")
		return nil
	}
	if !found {
		c.event("durable_miss")
		return nil
	}

	history, err := ParseHistory(payload)
	if err != nil {
		log.Printf("convo: durable payload for %s rejected: %v", userID, err)
		c.event("malformed")
		return nil
	}
	history = Trim(history, c.opts.MaxMessages)

	c.mu.Lock()
	// A concurrent request for the same user may have raced us here;
	// last-write-wins is the accepted behavior.
	c.records[userID] = &record{
		history:   history,
		expiresAt: now.Add(c.opts.TTL),
		syncMark:  len(history),
	}
	c.mu.Unlock()
	c.event("durable_hit")
	return cloneTurns(history)
}

// RecordTurn appends the exchange to the user's local history, trims it to
// the configured bound, and schedules a durable flush once the unsynced delta
// reaches the threshold. The returned handle is non-nil only when a flush was
// scheduled; callers that need determinism (tests, shutdown) can wait on it.
// The caller is never blocked on durable work.
func (c *Cache) RecordTurn(userID, userText, assistantText string) *SyncHandle {
	now := c.opts.Now()

	c.mu.Lock()
	rec, ok := c.records[userID]
	if !ok || !rec.expiresAt.After(now) {
		rec = &record{}
		c.records[userID] = rec
	}
	rec.history = append(rec.history,
		Turn{Role: RoleUser, Content: userText},
		Turn{Role: RoleAssistant, Content: assistantText},
	)
	rec.history = Trim(rec.history, c.opts.MaxMessages)
	rec.expiresAt = now.Add(c.opts.TTL)
	if rec.syncMark > len(rec.history) {
		rec.syncMark = len(rec.history)
	}

	delta := len(rec.history) - rec.syncMark
	flush := c.store != nil && delta >= c.opts.SyncThreshold
	var snapshot []Turn
	if flush {
		snapshot = cloneTurns(rec.history)
	}
	c.mu.Unlock()

	// Amortized cleanup; correctness does not depend on it because reads
	// already treat expired records as absent.
	c.sweep(now)

	if !flush {
		return nil
	}

	h := newSyncHandle()
	task := func(ctx context.Context) {
		defer h.finish()
		payload, err := MarshalHistory(snapshot)
		if err == nil {
			err = c.store.Put(ctx, userID, payload)
		}
		if err != nil {
			// Leave syncMark untouched; a later write will retry once the
			// delta crosses the threshold again.
			log.Printf("convo: durable sync for %s failed: %v", userID, err)
			h.err = err
			c.syncResult(false)
			return
		}
		c.advanceSyncMark(userID, len(snapshot))
		c.syncResult(true)
	}

	if c.runner != nil {
		c.runner.Go("durable-sync", task)
	} else {
		go task(context.Background())
	}
	return h
}

// Sweep removes every expired local record and reports how many were
// dropped. It runs opportunistically on writes; there is no timer.
func (c *Cache) Sweep() int {
	return c.sweep(c.opts.Now())
}

// Size reports the current number of local records, expired or not.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func (c *Cache) sweep(now time.Time) int {
	c.mu.Lock()
	swept := 0
	for userID, rec := range c.records {
		if !rec.expiresAt.After(now) {
			delete(c.records, userID)
			swept++
		}
	}
	c.mu.Unlock()
	for i := 0; i < swept; i++ {
		c.event("swept")
	}
	return swept
}

func (c *Cache) advanceSyncMark(userID string, synced int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[userID]
	if !ok {
		return
	}
	if synced > len(rec.history) {
		synced = len(rec.history)
	}
	if synced > rec.syncMark {
		rec.syncMark = synced
	}
}

func (c *Cache) event(kind string) {
	if c.opts.Hooks.CacheEvent != nil {
		c.opts.Hooks.CacheEvent(kind)
	}
}

func (c *Cache) syncResult(ok bool) {
	if c.opts.Hooks.SyncResult != nil {
		c.opts.Hooks.SyncResult(ok)
	}
}

func cloneTurns(turns []Turn) []Turn {
	if len(turns) == 0 {
		return nil
	}
	return append([]Turn(nil), turns...)
}

// SyncHandle tracks one background durable write.
type SyncHandle struct {
	done chan struct{}
	err  error
}

func newSyncHandle() *SyncHandle {
	return &SyncHandle{done: make(chan struct{})}
}

func (h *SyncHandle) finish() { close(h.done) }

// Done is closed once the write finished, successfully or not.
func (h *SyncHandle) Done() <-chan struct{} { return h.done }

// Err reports the write outcome. Only valid after Done is closed.
func (h *SyncHandle) Err() error { return h.err }

// Wait blocks until the write finishes or ctx is canceled.
func (h *SyncHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
