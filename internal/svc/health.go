package svc

import (
	"context"
	"sync"
	"time"

	"perpcore/pkg/events"
)

// Health tracks liveness facts for the read API: process start, last
// closed candle per coin, last reconcile tick.
type Health struct {
	mu            sync.Mutex
	startedAt     time.Time
	lastCandle    map[string]time.Time
	lastReconcile time.Time
}

func NewHealth() *Health {
	return &Health{startedAt: time.Now(), lastCandle: make(map[string]time.Time)}
}

// Watch consumes bus events until ctx is cancelled.
func (h *Health) Watch(ctx context.Context, bus *events.Bus) {
	ch, cancel := bus.Subscribe(64)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			h.observe(event)
		}
	}
}

func (h *Health) observe(event events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch event.Type {
	case events.TypeCandleClosed:
		if data, ok := event.Data.(map[string]any); ok {
			if coin, ok := data["coin"].(string); ok {
				h.lastCandle[coin] = event.Timestamp
			}
		}
	case events.TypeReconcileOk, events.TypeReconcileDrift:
		h.lastReconcile = event.Timestamp
	}
}

// Uptime reports time since process start.
func (h *Health) Uptime() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Since(h.startedAt)
}

// CandleAges reports, per coin, how long ago the last closed candle
// arrived. Coins with no candle yet are absent.
func (h *Health) CandleAges() map[string]time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]time.Duration, len(h.lastCandle))
	for coin, at := range h.lastCandle {
		out[coin] = time.Since(at)
	}
	return out
}

// ReconcileAge reports time since the last reconcile tick, or -1 when no
// tick has completed yet.
func (h *Health) ReconcileAge() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastReconcile.IsZero() {
		return -1
	}
	return time.Since(h.lastReconcile)
}
