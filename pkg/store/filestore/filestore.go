// Package filestore persists the record store as JSON tables on disk.
// Suited to single-process deployments; for shared access use pgstore.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"perpcore/pkg/store"
)

const (
	signalsFile = "signals.json"
	ordersFile  = "orders.json"
	equityFile  = "equity.json"
)

// Store keeps the full tables in memory and rewrites the backing file on
// every mutation via tmp+rename, so a crash mid-write never corrupts a
// table. A single mutex serializes all access.
type Store struct {
	dir string

	mu           sync.Mutex
	signals      []store.SignalRecord
	orders       []store.OrderRecord
	equity       []store.EquitySnapshot
	nextSignalID int64
	nextOrderID  int64
	closed       bool
}

var _ store.Store = (*Store)(nil)

// Open loads (or creates) the JSON tables under dir. Leftover *.tmp files
// from an interrupted write are removed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}
	removeLeftoverTemps(dir)

	s := &Store{dir: dir, nextSignalID: 1, nextOrderID: 1}
	if err := loadTable(filepath.Join(dir, signalsFile), &s.signals); err != nil {
		return nil, err
	}
	if err := loadTable(filepath.Join(dir, ordersFile), &s.orders); err != nil {
		return nil, err
	}
	if err := loadTable(filepath.Join(dir, equityFile), &s.equity); err != nil {
		return nil, err
	}
	for _, rec := range s.signals {
		if rec.ID >= s.nextSignalID {
			s.nextSignalID = rec.ID + 1
		}
	}
	for _, rec := range s.orders {
		if rec.ID >= s.nextOrderID {
			s.nextOrderID = rec.ID + 1
		}
	}
	return s, nil
}

func removeLeftoverTemps(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".tmp") {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
}

func loadTable[T any](path string, out *[]T) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("filestore: read %s: %w", filepath.Base(path), err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("filestore: decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeTable marshals the table to <target>.tmp and renames it into place.
// On rename failure the tmp file is unlinked.
func writeTable(path string, table any) error {
	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("filestore: write %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("filestore: rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *Store) flushSignals() error {
	return writeTable(filepath.Join(s.dir, signalsFile), s.signals)
}

func (s *Store) flushOrders() error {
	return writeTable(filepath.Join(s.dir, ordersFile), s.orders)
}

func (s *Store) flushEquity() error {
	return writeTable(filepath.Join(s.dir, equityFile), s.equity)
}

func (s *Store) InsertSignal(ctx context.Context, rec store.SignalRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.New("filestore: closed")
	}
	for _, existing := range s.signals {
		if existing.AlertID == rec.AlertID {
			return 0, store.ErrDuplicateAlert
		}
	}
	rec.ID = s.nextSignalID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.signals = append(s.signals, rec)
	if err := s.flushSignals(); err != nil {
		s.signals = s.signals[:len(s.signals)-1]
		return 0, err
	}
	s.nextSignalID++
	return rec.ID, nil
}

func (s *Store) HasSignal(ctx context.Context, alertID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.signals {
		if rec.AlertID == alertID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) RecentSignals(ctx context.Context, limit int) ([]store.SignalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.SignalRecord, len(s.signals))
	copy(out, s.signals)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) InsertOrder(ctx context.Context, rec store.OrderRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.New("filestore: closed")
	}
	rec.ID = s.nextOrderID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = store.OrderStatusPending
	}
	s.orders = append(s.orders, rec)
	if err := s.flushOrders(); err != nil {
		s.orders = s.orders[:len(s.orders)-1]
		return 0, err
	}
	s.nextOrderID++
	return rec.ID, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].ID == id {
			prev := s.orders[i].Status
			s.orders[i].Status = status
			if err := s.flushOrders(); err != nil {
				s.orders[i].Status = prev
				return err
			}
			return nil
		}
	}
	return fmt.Errorf("filestore: order %d: %w", id, store.ErrNotFound)
}

func (s *Store) MarkOrderFilled(ctx context.Context, id int64, filledAt time.Time, realizedPnl *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].ID == id {
			prev := s.orders[i]
			s.orders[i].Status = store.OrderStatusFilled
			ts := filledAt.UTC()
			s.orders[i].FilledAt = &ts
			s.orders[i].RealizedPnl = realizedPnl
			if err := s.flushOrders(); err != nil {
				s.orders[i] = prev
				return err
			}
			return nil
		}
	}
	return fmt.Errorf("filestore: order %d: %w", id, store.ErrNotFound)
}

func (s *Store) PendingOrders(ctx context.Context) ([]store.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.OrderRecord
	for _, rec := range s.orders {
		if rec.Status == store.OrderStatusPending {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) RecentOrders(ctx context.Context, limit int) ([]store.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.OrderRecord, len(s.orders))
	copy(out, s.orders)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) OrdersBySignal(ctx context.Context, signalID int64) ([]store.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.OrderRecord
	for _, rec := range s.orders {
		if rec.SignalID == signalID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) TrailingStopOrder(ctx context.Context, coin string) (*store.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Newest pending trailing stop wins.
	for i := len(s.orders) - 1; i >= 0; i-- {
		rec := s.orders[i]
		if rec.Coin == coin && rec.Tag == store.TagTrailingStop && rec.Status == store.OrderStatusPending {
			out := rec
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) InsertEquitySnapshot(ctx context.Context, snap store.EquitySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.TS.IsZero() {
		snap.TS = time.Now().UTC()
	}
	s.equity = append(s.equity, snap)
	if err := s.flushEquity(); err != nil {
		s.equity = s.equity[:len(s.equity)-1]
		return err
	}
	return nil
}

func (s *Store) RecentEquity(ctx context.Context, limit int) ([]store.EquitySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.EquitySnapshot, len(s.equity))
	copy(out, s.equity)
	sort.Slice(out, func(i, j int) bool { return out[i].TS.After(out[j].TS) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) TodayRealizedPnl(ctx context.Context, coin string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dayStart := startOfUTCDay(time.Now())
	var sum float64
	for _, rec := range s.orders {
		if rec.Coin != coin || rec.Status != store.OrderStatusFilled || rec.RealizedPnl == nil {
			continue
		}
		if rec.FilledAt != nil && !rec.FilledAt.Before(dayStart) {
			sum += *rec.RealizedPnl
		}
	}
	return sum, nil
}

func (s *Store) TodayTradeCount(ctx context.Context, coin string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dayStart := startOfUTCDay(time.Now())
	var count int
	for _, rec := range s.orders {
		if rec.Coin == coin && rec.Tag == store.TagEntry && !rec.CreatedAt.Before(dayStart) {
			count++
		}
	}
	return count, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func startOfUTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
