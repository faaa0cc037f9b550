package model

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/stores/builder"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"github.com/zeromicro/go-zero/core/stringx"
)

var (
	equitySnapshotsFieldNames        = builder.RawFieldNames(&EquitySnapshots{}, true)
	equitySnapshotsRows              = strings.Join(equitySnapshotsFieldNames, ",")
	equitySnapshotsRowsExpectAutoSet = strings.Join(stringx.Remove(equitySnapshotsFieldNames, "id"), ",")
)

var _ EquitySnapshotsModel = (*customEquitySnapshotsModel)(nil)

type (
	// EquitySnapshotsModel is an interface to be customized, add more methods
	// here, and implement the added methods in customEquitySnapshotsModel.
	EquitySnapshotsModel interface {
		Insert(ctx context.Context, data *EquitySnapshots) error
		ListRecent(ctx context.Context, limit int) ([]EquitySnapshots, error)
	}

	defaultEquitySnapshotsModel struct {
		conn  sqlx.SqlConn
		table string
	}

	customEquitySnapshotsModel struct {
		*defaultEquitySnapshotsModel
	}

	EquitySnapshots struct {
		Id            int64     `db:"id"`
		Ts            time.Time `db:"ts"`
		Equity        float64   `db:"equity"`
		OpenPositions int64     `db:"open_positions"`
	}
)

// NewEquitySnapshotsModel returns a model for the database table.
func NewEquitySnapshotsModel(conn sqlx.SqlConn) EquitySnapshotsModel {
	return &customEquitySnapshotsModel{
		defaultEquitySnapshotsModel: &defaultEquitySnapshotsModel{
			conn:  conn,
			table: `"public"."equity_snapshots"`,
		},
	}
}

func (m *customEquitySnapshotsModel) Insert(ctx context.Context, data *EquitySnapshots) error {
	query := fmt.Sprintf("insert into %s (%s) values ($1, $2, $3)", m.table, equitySnapshotsRowsExpectAutoSet)
	if _, err := m.conn.ExecCtx(ctx, query, data.Ts, data.Equity, data.OpenPositions); err != nil {
		return fmt.Errorf("equity_snapshots.Insert exec: %w", err)
	}
	return nil
}

func (m *customEquitySnapshotsModel) ListRecent(ctx context.Context, limit int) ([]EquitySnapshots, error) {
	query := fmt.Sprintf("select %s from %s order by ts desc limit $1", equitySnapshotsRows, m.table)
	var rows []EquitySnapshots
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("equity_snapshots.ListRecent query: %w", err)
	}
	return rows, nil
}
