package model

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/stores/builder"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"github.com/zeromicro/go-zero/core/stringx"
)

var (
	ordersFieldNames        = builder.RawFieldNames(&Orders{}, true)
	ordersRows              = strings.Join(ordersFieldNames, ",")
	ordersRowsExpectAutoSet = strings.Join(stringx.Remove(ordersFieldNames, "id"), ",")
)

var _ OrdersModel = (*customOrdersModel)(nil)

type (
	// OrdersModel is an interface to be customized, add more methods here,
	// and implement the added methods in customOrdersModel.
	OrdersModel interface {
		ordersModel
		InsertReturningId(ctx context.Context, data *Orders) (int64, error)
		ListByStatuses(ctx context.Context, statuses []string) ([]Orders, error)
		ListRecent(ctx context.Context, limit int) ([]Orders, error)
		ListBySignal(ctx context.Context, signalId int64) ([]Orders, error)
		LatestPendingByCoinTag(ctx context.Context, coin, tag string) (*Orders, error)
		UpdateStatus(ctx context.Context, id int64, status string) error
		MarkFilled(ctx context.Context, id int64, filledAt time.Time, realizedPnl sql.NullFloat64) error
		SumRealizedPnlSince(ctx context.Context, coin string, since time.Time) (float64, error)
		CountByTagSince(ctx context.Context, coin, tag string, since time.Time) (int, error)
	}

	ordersModel interface {
		FindOne(ctx context.Context, id int64) (*Orders, error)
	}

	defaultOrdersModel struct {
		conn  sqlx.SqlConn
		table string
	}

	customOrdersModel struct {
		*defaultOrdersModel
	}

	Orders struct {
		Id          int64           `db:"id"`
		SignalId    int64           `db:"signal_id"`
		ExchangeOid sql.NullInt64   `db:"exchange_oid"`
		Coin        string          `db:"coin"`
		Side        string          `db:"side"`
		Size        float64         `db:"size"`
		Price       float64         `db:"price"`
		OrderType   string          `db:"order_type"`
		Tag         string          `db:"tag"`
		Status      string          `db:"status"`
		Mode        sql.NullString  `db:"mode"`
		RealizedPnl sql.NullFloat64 `db:"realized_pnl"`
		FilledAt    sql.NullTime    `db:"filled_at"`
		CreatedAt   time.Time       `db:"created_at"`
	}
)

// NewOrdersModel returns a model for the database table.
func NewOrdersModel(conn sqlx.SqlConn) OrdersModel {
	return &customOrdersModel{
		defaultOrdersModel: &defaultOrdersModel{
			conn:  conn,
			table: `"public"."orders"`,
		},
	}
}

func (m *defaultOrdersModel) FindOne(ctx context.Context, id int64) (*Orders, error) {
	query := fmt.Sprintf("select %s from %s where id = $1 limit 1", ordersRows, m.table)
	var resp Orders
	err := m.conn.QueryRowCtx(ctx, &resp, query, id)
	switch err {
	case nil:
		return &resp, nil
	case sqlx.ErrNotFound:
		return nil, ErrNotFound
	default:
		return nil, err
	}
}

func (m *customOrdersModel) InsertReturningId(ctx context.Context, data *Orders) (int64, error) {
	query := fmt.Sprintf(
		"insert into %s (%s) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) returning id",
		m.table, ordersRowsExpectAutoSet,
	)
	var id int64
	err := m.conn.QueryRowCtx(ctx, &id, query,
		data.SignalId, data.ExchangeOid, data.Coin, data.Side,
		data.Size, data.Price, data.OrderType, data.Tag, data.Status,
		data.Mode, data.RealizedPnl, data.FilledAt, data.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("orders.InsertReturningId: %w", err)
	}
	return id, nil
}

// ListByStatuses returns orders in any of the given states, oldest first.
func (m *customOrdersModel) ListByStatuses(ctx context.Context, statuses []string) ([]Orders, error) {
	query := fmt.Sprintf("select %s from %s where status = ANY($1) order by id", ordersRows, m.table)
	var rows []Orders
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, pq.Array(statuses)); err != nil {
		return nil, fmt.Errorf("orders.ListByStatuses query: %w", err)
	}
	return rows, nil
}

func (m *customOrdersModel) ListRecent(ctx context.Context, limit int) ([]Orders, error) {
	query := fmt.Sprintf("select %s from %s order by id desc limit $1", ordersRows, m.table)
	var rows []Orders
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("orders.ListRecent query: %w", err)
	}
	return rows, nil
}

func (m *customOrdersModel) ListBySignal(ctx context.Context, signalId int64) ([]Orders, error) {
	query := fmt.Sprintf("select %s from %s where signal_id = $1 order by id", ordersRows, m.table)
	var rows []Orders
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, signalId); err != nil {
		return nil, fmt.Errorf("orders.ListBySignal query: %w", err)
	}
	return rows, nil
}

func (m *customOrdersModel) LatestPendingByCoinTag(ctx context.Context, coin, tag string) (*Orders, error) {
	query := fmt.Sprintf(
		"select %s from %s where coin = $1 and tag = $2 and status = 'pending' order by id desc limit 1",
		ordersRows, m.table,
	)
	var resp Orders
	err := m.conn.QueryRowCtx(ctx, &resp, query, coin, tag)
	switch err {
	case nil:
		return &resp, nil
	case sqlx.ErrNotFound:
		return nil, ErrNotFound
	default:
		return nil, err
	}
}

func (m *customOrdersModel) UpdateStatus(ctx context.Context, id int64, status string) error {
	query := fmt.Sprintf("update %s set status = $1 where id = $2", m.table)
	result, err := m.conn.ExecCtx(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("orders.UpdateStatus exec: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *customOrdersModel) MarkFilled(ctx context.Context, id int64, filledAt time.Time, realizedPnl sql.NullFloat64) error {
	query := fmt.Sprintf("update %s set status = 'filled', filled_at = $1, realized_pnl = $2 where id = $3", m.table)
	result, err := m.conn.ExecCtx(ctx, query, filledAt, realizedPnl, id)
	if err != nil {
		return fmt.Errorf("orders.MarkFilled exec: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *customOrdersModel) SumRealizedPnlSince(ctx context.Context, coin string, since time.Time) (float64, error) {
	query := fmt.Sprintf(
		"select coalesce(sum(realized_pnl), 0) from %s where coin = $1 and status = 'filled' and filled_at >= $2",
		m.table,
	)
	var sum float64
	if err := m.conn.QueryRowCtx(ctx, &sum, query, coin, since); err != nil {
		return 0, fmt.Errorf("orders.SumRealizedPnlSince query: %w", err)
	}
	return sum, nil
}

func (m *customOrdersModel) CountByTagSince(ctx context.Context, coin, tag string, since time.Time) (int, error) {
	query := fmt.Sprintf("select count(*) from %s where coin = $1 and tag = $2 and created_at >= $3", m.table)
	var count int
	if err := m.conn.QueryRowCtx(ctx, &count, query, coin, tag, since); err != nil {
		return 0, fmt.Errorf("orders.CountByTagSince query: %w", err)
	}
	return count, nil
}
