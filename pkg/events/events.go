// Package events is the in-process pub/sub fabric. Every lifecycle event
// flows through one Bus; subscribers get bounded buffers that drop the
// oldest event on overflow so a stuck consumer can never block trading.
package events

import (
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
)

// Event types published by the core.
const (
	TypePositionOpened     = "position_opened"
	TypePositionClosed     = "position_closed"
	TypePositionHydrated   = "position_hydrated"
	TypePositionAutoClosed = "position_auto_closed"
	TypeOrderPlaced        = "order_placed"
	TypeEntryNoFill        = "entry_no_fill"
	TypeOrderFilled        = "order_filled"
	TypeOrderCancelled     = "order_cancelled"
	TypeCandleClosed       = "candle_closed"
	TypeSignalReceived     = "signal_received"
	TypeSignalRejected     = "signal_rejected"
	TypeReconcileOk        = "reconcile_ok"
	TypeReconcileDrift     = "reconcile_drift"
	TypeProtectionFailure  = "protection_failure"
	TypeEquitySnapshot     = "equity_snapshot"
	TypeStaleData          = "stale_data"
)

// Event is one published occurrence. Lossy is set on the first event a
// subscriber receives after its buffer overflowed and dropped entries.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Lossy     bool      `json:"lossy,omitempty"`
}

type subscriber struct {
	ch      chan Event
	dropped int
}

// Bus fans events out to subscribers and appends them to an optional
// JSONL journal.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]*subscriber
	nextID  int
	journal *Journal
	clock   func() time.Time
}

// NewBus returns a bus with no journal attached.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber), clock: time.Now}
}

// WithJournal attaches a JSONL journal; every published event is appended.
func (b *Bus) WithJournal(j *Journal) *Bus {
	b.mu.Lock()
	b.journal = j
	b.mu.Unlock()
	return b
}

// Publish delivers the event to every subscriber. A full subscriber
// buffer loses its oldest event; the subscriber is marked lossy.
func (b *Bus) Publish(eventType string, data any) {
	b.mu.Lock()
	event := Event{Type: eventType, Timestamp: b.clock().UTC(), Data: data}
	journal := b.journal
	for _, sub := range b.subs {
		if sub.dropped > 0 {
			event.Lossy = true
		} else {
			event.Lossy = false
		}
		select {
		case sub.ch <- event:
			if sub.dropped > 0 {
				sub.dropped = 0
			}
		default:
			// Drop the oldest buffered event to make room.
			select {
			case <-sub.ch:
				sub.dropped++
			default:
			}
			lossy := event
			lossy.Lossy = true
			select {
			case sub.ch <- lossy:
			default:
				sub.dropped++
			}
		}
	}
	b.mu.Unlock()

	if journal != nil {
		if err := journal.Append(event); err != nil {
			logx.Errorf("events: journal append: %v", err)
		}
	}
}

// Subscribe registers a subscriber with the given buffer size (minimum 1).
// The returned cancel closes the channel and removes the subscriber;
// calling it more than once is safe.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Event, buffer)}
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// SubscriberCount reports the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
