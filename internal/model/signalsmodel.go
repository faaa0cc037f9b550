package model

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/stores/builder"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"github.com/zeromicro/go-zero/core/stringx"
)

var (
	signalsFieldNames        = builder.RawFieldNames(&Signals{}, true)
	signalsRows              = strings.Join(signalsFieldNames, ",")
	signalsRowsExpectAutoSet = strings.Join(stringx.Remove(signalsFieldNames, "id"), ",")
)

var _ SignalsModel = (*customSignalsModel)(nil)

type (
	// SignalsModel is an interface to be customized, add more methods here,
	// and implement the added methods in customSignalsModel.
	SignalsModel interface {
		signalsModel
		InsertReturningId(ctx context.Context, data *Signals) (int64, error)
		ListRecent(ctx context.Context, limit int) ([]Signals, error)
	}

	signalsModel interface {
		FindOne(ctx context.Context, id int64) (*Signals, error)
		FindOneByAlertId(ctx context.Context, alertId string) (*Signals, error)
	}

	defaultSignalsModel struct {
		conn  sqlx.SqlConn
		table string
	}

	customSignalsModel struct {
		*defaultSignalsModel
	}

	Signals struct {
		Id              int64          `db:"id"`
		AlertId         string         `db:"alert_id"`
		Source          string         `db:"source"`
		Coin            string         `db:"coin"`
		Side            string         `db:"side"`
		EntryPrice      float64        `db:"entry_price"`
		StopLoss        float64        `db:"stop_loss"`
		TakeProfits     string         `db:"take_profits"`
		RiskCheckPassed bool           `db:"risk_check_passed"`
		RiskCheckReason sql.NullString `db:"risk_check_reason"`
		CreatedAt       time.Time      `db:"created_at"`
	}
)

// NewSignalsModel returns a model for the database table.
func NewSignalsModel(conn sqlx.SqlConn) SignalsModel {
	return &customSignalsModel{
		defaultSignalsModel: &defaultSignalsModel{
			conn:  conn,
			table: `"public"."signals"`,
		},
	}
}

func (m *defaultSignalsModel) FindOne(ctx context.Context, id int64) (*Signals, error) {
	query := fmt.Sprintf("select %s from %s where id = $1 limit 1", signalsRows, m.table)
	var resp Signals
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

func (m *defaultSignalsModel) FindOneByAlertId(ctx context.Context, alertId string) (*Signals, error) {
	query := fmt.Sprintf("select %s from %s where alert_id = $1 limit 1", signalsRows, m.table)
	var resp Signals
	err := m.conn.QueryRowCtx(ctx, &resp, query, alertId)
	switch err {
	case nil:
		return &resp, nil
	case sqlx.ErrNotFound:
		return nil, ErrNotFound
	default:
		return nil, err
	}
}

// InsertReturningId inserts a signal and returns the generated id. The
// unique index on alert_id surfaces duplicates as a pq unique violation.
func (m *customSignalsModel) InsertReturningId(ctx context.Context, data *Signals) (int64, error) {
	query := fmt.Sprintf(
		"insert into %s (%s) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) returning id",
		m.table, signalsRowsExpectAutoSet,
	)
	var id int64
	err := m.conn.QueryRowCtx(ctx, &id, query,
		data.AlertId, data.Source, data.Coin, data.Side,
		data.EntryPrice, data.StopLoss, data.TakeProfits,
		data.RiskCheckPassed, data.RiskCheckReason, data.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("signals.InsertReturningId: %w", err)
	}
	return id, nil
}

func (m *customSignalsModel) ListRecent(ctx context.Context, limit int) ([]Signals, error) {
	query := fmt.Sprintf("select %s from %s order by id desc limit $1", signalsRows, m.table)
	var rows []Signals
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("signals.ListRecent query: %w", err)
	}
	return rows, nil
}
