// Package pgstore implements store.Store over Postgres for deployments
// where the record store is shared or must survive host loss.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"perpcore/internal/model"
	"perpcore/pkg/store"
)

const uniqueViolation = "23505"

// Store adapts the sqlx table models to the store.Store interface.
type Store struct {
	signals model.SignalsModel
	orders  model.OrdersModel
	equity  model.EquitySnapshotsModel
}

var _ store.Store = (*Store)(nil)

// New opens a Postgres-backed store on the given DSN.
func New(dsn string) *Store {
	conn := sqlx.NewSqlConn("pgx", dsn)
	return &Store{
		signals: model.NewSignalsModel(conn),
		orders:  model.NewOrdersModel(conn),
		equity:  model.NewEquitySnapshotsModel(conn),
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	// pgx reports SQLSTATE in the message when not using lib/pq natively.
	return err != nil && containsSQLState(err.Error(), uniqueViolation)
}

func containsSQLState(msg, state string) bool {
	for i := 0; i+len(state) <= len(msg); i++ {
		if msg[i:i+len(state)] == state {
			return true
		}
	}
	return false
}

func (s *Store) InsertSignal(ctx context.Context, rec store.SignalRecord) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	row := &model.Signals{
		AlertId:         rec.AlertID,
		Source:          rec.Source,
		Coin:            rec.Coin,
		Side:            rec.Side,
		EntryPrice:      rec.EntryPrice,
		StopLoss:        rec.StopLoss,
		TakeProfits:     rec.TakeProfits,
		RiskCheckPassed: rec.RiskCheckPassed,
		CreatedAt:       rec.CreatedAt,
	}
	if rec.RiskCheckReason != "" {
		row.RiskCheckReason = sql.NullString{String: rec.RiskCheckReason, Valid: true}
	}
	id, err := s.signals.InsertReturningId(ctx, row)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, store.ErrDuplicateAlert
		}
		return 0, err
	}
	return id, nil
}

func (s *Store) HasSignal(ctx context.Context, alertID string) (bool, error) {
	_, err := s.signals.FindOneByAlertId(ctx, alertID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, model.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Store) RecentSignals(ctx context.Context, limit int) ([]store.SignalRecord, error) {
	rows, err := s.signals.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]store.SignalRecord, 0, len(rows))
	for i := range rows {
		out = append(out, signalFromRow(&rows[i]))
	}
	return out, nil
}

func (s *Store) InsertOrder(ctx context.Context, rec store.OrderRecord) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = store.OrderStatusPending
	}
	row := &model.Orders{
		SignalId:  rec.SignalID,
		Coin:      rec.Coin,
		Side:      rec.Side,
		Size:      rec.Size,
		Price:     rec.Price,
		OrderType: rec.Type,
		Tag:       rec.Tag,
		Status:    rec.Status,
		CreatedAt: rec.CreatedAt,
	}
	if rec.ExchangeOrderID != nil {
		row.ExchangeOid = sql.NullInt64{Int64: *rec.ExchangeOrderID, Valid: true}
	}
	if rec.Mode != "" {
		row.Mode = sql.NullString{String: rec.Mode, Valid: true}
	}
	if rec.RealizedPnl != nil {
		row.RealizedPnl = sql.NullFloat64{Float64: *rec.RealizedPnl, Valid: true}
	}
	if rec.FilledAt != nil {
		row.FilledAt = sql.NullTime{Time: *rec.FilledAt, Valid: true}
	}
	return s.orders.InsertReturningId(ctx, row)
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status string) error {
	err := s.orders.UpdateStatus(ctx, id, status)
	if errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("pgstore: order %d: %w", id, store.ErrNotFound)
	}
	return err
}

func (s *Store) MarkOrderFilled(ctx context.Context, id int64, filledAt time.Time, realizedPnl *float64) error {
	var pnl sql.NullFloat64
	if realizedPnl != nil {
		pnl = sql.NullFloat64{Float64: *realizedPnl, Valid: true}
	}
	err := s.orders.MarkFilled(ctx, id, filledAt.UTC(), pnl)
	if errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("pgstore: order %d: %w", id, store.ErrNotFound)
	}
	return err
}

func (s *Store) PendingOrders(ctx context.Context) ([]store.OrderRecord, error) {
	rows, err := s.orders.ListByStatuses(ctx, []string{store.OrderStatusPending})
	if err != nil {
		return nil, err
	}
	return ordersFromRows(rows), nil
}

func (s *Store) RecentOrders(ctx context.Context, limit int) ([]store.OrderRecord, error) {
	rows, err := s.orders.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	return ordersFromRows(rows), nil
}

func (s *Store) OrdersBySignal(ctx context.Context, signalID int64) ([]store.OrderRecord, error) {
	rows, err := s.orders.ListBySignal(ctx, signalID)
	if err != nil {
		return nil, err
	}
	return ordersFromRows(rows), nil
}

func (s *Store) TrailingStopOrder(ctx context.Context, coin string) (*store.OrderRecord, error) {
	row, err := s.orders.LatestPendingByCoinTag(ctx, coin, store.TagTrailingStop)
	if errors.Is(err, model.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec := orderFromRow(row)
	return &rec, nil
}

func (s *Store) InsertEquitySnapshot(ctx context.Context, snap store.EquitySnapshot) error {
	if snap.TS.IsZero() {
		snap.TS = time.Now().UTC()
	}
	return s.equity.Insert(ctx, &model.EquitySnapshots{
		Ts:            snap.TS,
		Equity:        snap.Equity,
		OpenPositions: int64(snap.OpenPositions),
	})
}

func (s *Store) RecentEquity(ctx context.Context, limit int) ([]store.EquitySnapshot, error) {
	rows, err := s.equity.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]store.EquitySnapshot, 0, len(rows))
	for _, row := range rows {
		out = append(out, store.EquitySnapshot{
			TS:            row.Ts,
			Equity:        row.Equity,
			OpenPositions: int(row.OpenPositions),
		})
	}
	return out, nil
}

func (s *Store) TodayRealizedPnl(ctx context.Context, coin string) (float64, error) {
	return s.orders.SumRealizedPnlSince(ctx, coin, startOfUTCDay(time.Now()))
}

func (s *Store) TodayTradeCount(ctx context.Context, coin string) (int, error) {
	return s.orders.CountByTagSince(ctx, coin, store.TagEntry, startOfUTCDay(time.Now()))
}

// Close is a no-op; go-zero sqlx manages the underlying pool.
func (s *Store) Close() error {
	return nil
}

func startOfUTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func signalFromRow(row *model.Signals) store.SignalRecord {
	rec := store.SignalRecord{
		ID:              row.Id,
		AlertID:         row.AlertId,
		Source:          row.Source,
		Coin:            row.Coin,
		Side:            row.Side,
		EntryPrice:      row.EntryPrice,
		StopLoss:        row.StopLoss,
		TakeProfits:     row.TakeProfits,
		RiskCheckPassed: row.RiskCheckPassed,
		CreatedAt:       row.CreatedAt,
	}
	if row.RiskCheckReason.Valid {
		rec.RiskCheckReason = row.RiskCheckReason.String
	}
	return rec
}

func ordersFromRows(rows []model.Orders) []store.OrderRecord {
	out := make([]store.OrderRecord, 0, len(rows))
	for i := range rows {
		out = append(out, orderFromRow(&rows[i]))
	}
	return out
}

func orderFromRow(row *model.Orders) store.OrderRecord {
	rec := store.OrderRecord{
		ID:        row.Id,
		SignalID:  row.SignalId,
		Coin:      row.Coin,
		Side:      row.Side,
		Size:      row.Size,
		Price:     row.Price,
		Type:      row.OrderType,
		Tag:       row.Tag,
		Status:    row.Status,
		CreatedAt: row.CreatedAt,
	}
	if row.ExchangeOid.Valid {
		value := row.ExchangeOid.Int64
		rec.ExchangeOrderID = &value
	}
	if row.Mode.Valid {
		rec.Mode = row.Mode.String
	}
	if row.RealizedPnl.Valid {
		value := row.RealizedPnl.Float64
		rec.RealizedPnl = &value
	}
	if row.FilledAt.Valid {
		ts := row.FilledAt.Time
		rec.FilledAt = &ts
	}
	return rec
}
