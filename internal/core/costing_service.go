package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// CostingService maintains items.current_average_cost as a materialized view
// over the purchase side of the ledger. The cost is always fully recomputed,
// never incrementally patched, so repeated recomputes are idempotent and
// cannot drift. Sale-side events never trigger a recompute; sales do not
// affect acquisition cost.
type CostingService interface {
	// RecalculateAverageCost recomputes and persists the average cost in its
	// own transaction. Returns the new cost.
	RecalculateAverageCost(ctx context.Context, itemID int) (decimal.Decimal, error)
	// RecalculateAverageCostTx is the transaction-scoped variant, invoked by
	// the ledger service inside the same transaction as the purchase-side
	// mutation. A failure here must abort the whole transaction.
	RecalculateAverageCostTx(ctx context.Context, tx pgx.Tx, itemID int) (decimal.Decimal, error)
}

type costingService struct {
	pool *pgxpool.Pool
}

func NewCostingService(pool *pgxpool.Pool) CostingService {
	return &costingService{pool: pool}
}

// costBasisQuery sums net acquired units and value for one item. Each return
// is priced at its originating line's per-unit net rate.
const costBasisQuery = `
	SELECT
	    COALESCE((SELECT SUM(quantity + bonus_quantity)
	              FROM purchase_lines WHERE item_id = $1), 0)
	  - COALESCE((SELECT SUM(pr.quantity)
	              FROM purchase_returns pr
	              JOIN purchase_lines pl ON pl.id = pr.purchase_line_id
	              WHERE pl.item_id = $1), 0) AS acquired_units,
	    COALESCE((SELECT SUM(net_amount)
	              FROM purchase_lines WHERE item_id = $1), 0)
	  - COALESCE((SELECT SUM(pr.quantity * pl.net_amount / NULLIF(pl.quantity + pl.bonus_quantity, 0))
	              FROM purchase_returns pr
	              JOIN purchase_lines pl ON pl.id = pr.purchase_line_id
	              WHERE pl.item_id = $1), 0) AS acquired_value`

func (s *costingService) RecalculateAverageCost(ctx context.Context, itemID int) (decimal.Decimal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	cost, err := s.RecalculateAverageCostTx(ctx, tx, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("commit cost recompute: %w", err)
	}
	return cost, nil
}

func (s *costingService) RecalculateAverageCostTx(ctx context.Context, tx pgx.Tx, itemID int) (decimal.Decimal, error) {
	var acquiredUnits, acquiredValue decimal.Decimal
	if err := tx.QueryRow(ctx, costBasisQuery, itemID).Scan(&acquiredUnits, &acquiredValue); err != nil {
		return decimal.Zero, &CostingInconsistencyError{ItemID: itemID, Reason: "cost basis query failed", Err: err}
	}

	avgCost := decimal.Zero
	if acquiredUnits.GreaterThan(decimal.Zero) {
		avgCost = acquiredValue.Div(acquiredUnits).Round(2)
	}
	if avgCost.IsNegative() {
		return decimal.Zero, &CostingInconsistencyError{
			ItemID: itemID,
			Reason: fmt.Sprintf("computed average cost %s is negative (units %s, value %s)",
				avgCost, acquiredUnits, acquiredValue),
		}
	}

	tag, err := tx.Exec(ctx,
		"UPDATE items SET current_average_cost = $1, updated_at = NOW() WHERE id = $2",
		avgCost, itemID,
	)
	if err != nil {
		return decimal.Zero, &CostingInconsistencyError{ItemID: itemID, Reason: "persist average cost", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return decimal.Zero, &CostingInconsistencyError{ItemID: itemID, Reason: "item row missing during recompute"}
	}
	return avgCost, nil
}
