package tail

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mxlin/wxrelay/internal/policy"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"

	// maxTextRunes keeps tail payloads small.
	maxTextRunes = 200
)

// Event is one relay message as seen by the live tail.
type Event struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	UserID    string    `json:"user_id"`
	Direction string    `json:"direction"`
	Text      string    `json:"text"`
}

// Broadcaster fans relay events out to websocket subscribers. Slow
// subscribers lose events rather than slowing the request path.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	buffer int
	onDrop func()
	now    func() time.Time
}

func NewBroadcaster(onDrop func()) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[chan Event]struct{}),
		buffer: 64,
		onDrop: onDrop,
		now:    time.Now,
	}
}

// Subscribe registers a listener. The returned cancel must be called when the
// listener goes away; the channel is closed by cancel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber without blocking. Text is
// PII-redacted and truncated; the tail is a debugging aid, not a transcript.
func (b *Broadcaster) Publish(userID, direction, text string) {
	redacted, _ := policy.RedactPII(text)
	ev := Event{
		ID:        uuid.NewString(),
		Time:      b.now().UTC(),
		UserID:    userID,
		Direction: direction,
		Text:      truncate(redacted),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}

// Subscribers reports the current listener count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxTextRunes {
		return s
	}
	return string(runes[:maxTextRunes]) + "…"
}
