package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// rowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, so the
// aggregation can run standalone or inside a caller's transaction.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// StockPositionCache caches the full valuation listing for dashboard reads.
// Reporting reads tolerate slightly stale aggregates; single-item reads and
// all in-transaction reads always hit the database.
type StockPositionCache interface {
	GetPositions(ctx context.Context) ([]StockPosition, bool, error)
	SetPositions(ctx context.Context, positions []StockPosition, ttl time.Duration) error
}

// StockService answers on-hand and valuation queries by recomputing full
// sums over the ledger. Recompute-on-read trades query cost for correctness
// and auditability; there are no running counters to drift.
type StockService interface {
	// GetStockPosition returns the derived stock state for one item.
	GetStockPosition(ctx context.Context, itemID int) (*StockPosition, error)
	// GetStockPositionByCode is GetStockPosition keyed by item code.
	GetStockPositionByCode(ctx context.Context, itemCode string) (*StockPosition, error)
	// GetStockPositions returns positions for all active items, possibly
	// served from a short-TTL cache.
	GetStockPositions(ctx context.Context) ([]StockPosition, error)
}

type stockService struct {
	pool     *pgxpool.Pool
	cache    StockPositionCache
	cacheTTL time.Duration
}

// NewStockService constructs a StockService. cache may be nil to disable
// listing-level caching entirely.
func NewStockService(pool *pgxpool.Pool, cache StockPositionCache, cacheTTL time.Duration) StockService {
	return &stockService{pool: pool, cache: cache, cacheTTL: cacheTTL}
}

// positionSelect derives acquired/disposed sums for items. Purchase returns
// are valued at their originating line's per-unit net rate, not the current
// average, preserving acquired-value integrity line by line.
const positionSelect = `
	SELECT i.id, i.code, i.name,
	       COALESCE(acq.units, 0)  - COALESCE(ret.units, 0) AS acquired_units,
	       COALESCE(acq.value, 0)  - COALESCE(ret.value, 0) AS acquired_value,
	       COALESCE(sold.units, 0) - COALESCE(sret.units, 0)
	         + COALESCE(dmg.out_units, 0) - COALESCE(dmg.in_units, 0) AS disposed_units
	FROM items i
	LEFT JOIN (
	    SELECT item_id, SUM(quantity + bonus_quantity) AS units, SUM(net_amount) AS value
	    FROM purchase_lines
	    GROUP BY item_id
	) acq ON acq.item_id = i.id
	LEFT JOIN (
	    SELECT pl.item_id,
	           SUM(pr.quantity) AS units,
	           SUM(pr.quantity * pl.net_amount / NULLIF(pl.quantity + pl.bonus_quantity, 0)) AS value
	    FROM purchase_returns pr
	    JOIN purchase_lines pl ON pl.id = pr.purchase_line_id
	    GROUP BY pl.item_id
	) ret ON ret.item_id = i.id
	LEFT JOIN (
	    SELECT item_id, SUM(quantity + bonus_quantity) AS units
	    FROM sale_lines
	    GROUP BY item_id
	) sold ON sold.item_id = i.id
	LEFT JOIN (
	    SELECT sl.item_id, SUM(sr.quantity) AS units
	    FROM sale_returns sr
	    JOIN sale_lines sl ON sl.id = sr.sale_line_id
	    GROUP BY sl.item_id
	) sret ON sret.item_id = i.id
	LEFT JOIN (
	    SELECT item_id,
	           SUM(quantity) FILTER (WHERE damage_type = 'out') AS out_units,
	           SUM(quantity) FILTER (WHERE damage_type = 'in')  AS in_units
	    FROM damage_transactions
	    GROUP BY item_id
	) dmg ON dmg.item_id = i.id`

// finishPosition derives on-hand and average cost from the raw sums.
// acquiredUnits <= 0 yields a zero average cost, never a division.
func finishPosition(p *StockPosition) {
	p.OnHandUnits = p.AcquiredUnits.Sub(p.DisposedUnits)
	if p.AcquiredUnits.LessThanOrEqual(decimal.Zero) {
		p.AverageCost = decimal.Zero
		return
	}
	p.AverageCost = p.AcquiredValue.Div(p.AcquiredUnits).Round(2)
}

// stockPositionTx recomputes one item's position through q, which may be a
// transaction holding a row lock on the item.
func stockPositionTx(ctx context.Context, q rowQuerier, itemID int) (*StockPosition, error) {
	var p StockPosition
	err := q.QueryRow(ctx, positionSelect+" WHERE i.id = $1", itemID).Scan(
		&p.ItemID, &p.ItemCode, &p.ItemName,
		&p.AcquiredUnits, &p.AcquiredValue, &p.DisposedUnits,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("item %d not found", itemID)
		}
		return nil, fmt.Errorf("compute stock position for item %d: %w", itemID, err)
	}
	finishPosition(&p)
	return &p, nil
}

func (s *stockService) GetStockPosition(ctx context.Context, itemID int) (*StockPosition, error) {
	return stockPositionTx(ctx, s.pool, itemID)
}

func (s *stockService) GetStockPositionByCode(ctx context.Context, itemCode string) (*StockPosition, error) {
	var itemID int
	if err := s.pool.QueryRow(ctx,
		"SELECT id FROM items WHERE code = $1", itemCode,
	).Scan(&itemID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("item %s not found", itemCode)
		}
		return nil, fmt.Errorf("resolve item %s: %w", itemCode, err)
	}
	return s.GetStockPosition(ctx, itemID)
}

func (s *stockService) GetStockPositions(ctx context.Context) ([]StockPosition, error) {
	if s.cache != nil {
		if positions, ok, err := s.cache.GetPositions(ctx); err == nil && ok {
			return positions, nil
		}
		// Cache errors fall through to the database read.
	}

	rows, err := s.pool.Query(ctx, positionSelect+" WHERE i.is_active = true ORDER BY i.code")
	if err != nil {
		return nil, fmt.Errorf("query stock positions: %w", err)
	}
	defer rows.Close()

	var positions []StockPosition
	for rows.Next() {
		var p StockPosition
		if err := rows.Scan(
			&p.ItemID, &p.ItemCode, &p.ItemName,
			&p.AcquiredUnits, &p.AcquiredValue, &p.DisposedUnits,
		); err != nil {
			return nil, fmt.Errorf("scan stock position: %w", err)
		}
		finishPosition(&p)
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stock position iteration: %w", err)
	}

	if s.cache != nil && s.cacheTTL > 0 {
		_ = s.cache.SetPositions(ctx, positions, s.cacheTTL)
	}
	return positions, nil
}
