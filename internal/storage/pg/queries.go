package pg

import (
	"context"
	"database/sql"
	"time"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Querier is the set of usage ledger queries.
type Querier interface {
	CreateUsageEvent(ctx context.Context, arg CreateUsageEventParams) error
	GetUsageTotalsByModel(ctx context.Context, since time.Time) ([]UsageTotalRow, error)
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

var _ Querier = (*Queries)(nil)

const createUsageEvent = `
INSERT INTO usage_events (
    user_id, session_id, model_key, provider_model,
    input_tokens, output_tokens, total_tokens,
    cost_estimate, wall_clock_ms, query_excerpt, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

type CreateUsageEventParams struct {
	UserID        sql.NullString
	SessionID     sql.NullString
	ModelKey      string
	ProviderModel string
	InputTokens   int64
	OutputTokens  int64
	TotalTokens   int64
	CostEstimate  float64
	WallClockMs   int64
	QueryExcerpt  string
	CreatedAt     time.Time
}

func (q *Queries) CreateUsageEvent(ctx context.Context, arg CreateUsageEventParams) error {
	_, err := q.db.ExecContext(ctx, createUsageEvent,
		arg.UserID,
		arg.SessionID,
		arg.ModelKey,
		arg.ProviderModel,
		arg.InputTokens,
		arg.OutputTokens,
		arg.TotalTokens,
		arg.CostEstimate,
		arg.WallClockMs,
		arg.QueryExcerpt,
		arg.CreatedAt,
	)
	return err
}

const getUsageTotalsByModel = `
SELECT model_key,
       COUNT(*)::BIGINT AS calls,
       COALESCE(SUM(input_tokens), 0)::BIGINT AS input_tokens,
       COALESCE(SUM(output_tokens), 0)::BIGINT AS output_tokens,
       COALESCE(SUM(total_tokens), 0)::BIGINT AS total_tokens,
       COALESCE(SUM(cost_estimate), 0)::DOUBLE PRECISION AS cost_estimate
FROM usage_events
WHERE created_at >= $1
GROUP BY model_key
ORDER BY total_tokens DESC`

type UsageTotalRow struct {
	ModelKey     string  `json:"model_key"`
	Calls        int64   `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	CostEstimate float64 `json:"cost_estimate"`
}

func (q *Queries) GetUsageTotalsByModel(ctx context.Context, since time.Time) ([]UsageTotalRow, error) {
	rows, err := q.db.QueryContext(ctx, getUsageTotalsByModel, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []UsageTotalRow
	for rows.Next() {
		var i UsageTotalRow
		if err := rows.Scan(
			&i.ModelKey,
			&i.Calls,
			&i.InputTokens,
			&i.OutputTokens,
			&i.TotalTokens,
			&i.CostEstimate,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
