package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/optionsim/internal/domain"
)

// ClosedPositionStore implements domain.ClosedPositionStore using PostgreSQL.
// Rows are append-only; a position is archived once, at close, and never
// updated afterwards.
type ClosedPositionStore struct {
	pool *pgxpool.Pool
}

// NewClosedPositionStore creates a store backed by the given connection pool.
func NewClosedPositionStore(pool *pgxpool.Pool) *ClosedPositionStore {
	return &ClosedPositionStore{pool: pool}
}

const closedPositionCols = `id, ticker, signal_id, strike, expiration, option_type,
	quantity, entry_price, exit_price, realized_pnl, pnl_percent,
	max_favorable, max_adverse, status, exit_reason,
	entry_greeks, execution, opened_at, closed_at`

// Insert archives a closed position. ON CONFLICT DO NOTHING makes the write
// idempotent if a close is replayed.
func (s *ClosedPositionStore) Insert(ctx context.Context, p domain.Position) error {
	entryGreeks, err := json.Marshal(p.EntryGreeks)
	if err != nil {
		return fmt.Errorf("postgres: marshal entry greeks: %w", err)
	}
	execution, err := json.Marshal(p.Execution)
	if err != nil {
		return fmt.Errorf("postgres: marshal execution: %w", err)
	}

	const query = `
		INSERT INTO closed_positions (
			id, ticker, signal_id, strike, expiration, option_type,
			quantity, entry_price, exit_price, realized_pnl, pnl_percent,
			max_favorable, max_adverse, status, exit_reason,
			entry_greeks, execution, opened_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19
		)
		ON CONFLICT (id) DO NOTHING`

	var exitReason *string
	if p.ExitReason != nil {
		r := string(*p.ExitReason)
		exitReason = &r
	}

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.Ticker, p.SignalID, p.Contract.Strike, p.Contract.Expiration, string(p.Contract.Type),
		p.Quantity, p.EntryPrice, p.ExitPrice, p.RealizedPnL, p.PnLPercent,
		p.MaxFavorable, p.MaxAdverse, string(p.Status), exitReason,
		entryGreeks, execution, p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert closed position %s: %w", p.ID, err)
	}
	return nil
}

// ListByTicker returns archived positions for one ticker, newest close first.
func (s *ClosedPositionStore) ListByTicker(ctx context.Context, ticker string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + closedPositionCols + ` FROM closed_positions WHERE ticker = $1`
	args := []any{ticker}
	query, args = appendListOpts(query, args, opts, "closed_at")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions for %s: %w", ticker, err)
	}
	defer rows.Close()

	return scanClosedPositions(rows)
}

// ListRecent returns archived positions across all tickers, newest close first.
func (s *ClosedPositionStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + closedPositionCols + ` FROM closed_positions WHERE 1=1`
	args := []any{}
	query, args = appendListOpts(query, args, opts, "closed_at")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	return scanClosedPositions(rows)
}

// appendListOpts adds time filters, ordering, and pagination to a query that
// already has len(args) positional parameters.
func appendListOpts(query string, args []any, opts domain.ListOpts, timeCol string) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", timeCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY %s DESC", timeCol)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return query, args
}

func scanClosedPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var optionType, status string
		var exitReason *string
		var entryGreeks, execution []byte

		if err := rows.Scan(
			&p.ID, &p.Ticker, &p.SignalID, &p.Contract.Strike, &p.Contract.Expiration, &optionType,
			&p.Quantity, &p.EntryPrice, &p.ExitPrice, &p.RealizedPnL, &p.PnLPercent,
			&p.MaxFavorable, &p.MaxAdverse, &status, &exitReason,
			&entryGreeks, &execution, &p.OpenedAt, &p.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan closed position: %w", err)
		}

		p.Contract.Ticker = p.Ticker
		p.Contract.Type = domain.OptionType(optionType)
		p.Status = domain.PositionStatus(status)
		if exitReason != nil {
			r := domain.ExitReason(*exitReason)
			p.ExitReason = &r
		}
		if entryGreeks != nil {
			if err := json.Unmarshal(entryGreeks, &p.EntryGreeks); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal entry greeks: %w", err)
			}
		}
		if execution != nil {
			if err := json.Unmarshal(execution, &p.Execution); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal execution: %w", err)
			}
		}

		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: closed position rows: %w", err)
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.ClosedPositionStore = (*ClosedPositionStore)(nil)
