package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/gold-engine/gold"
)

// =============================================================================
// COST LOTS (gold.LotStore interface)
// =============================================================================

const lotColumns = `id, product_id, branch_id, supplier_id, source_ref, quantity, weight,
	unit_cost_per_gram, remaining_quantity, remaining_weight, purchase_date, sequence_order,
	exhausted, version`

func (c *conn) InsertLot(ctx context.Context, lot *gold.CostLot) error {
	_, err := c.exec(ctx, `
		INSERT INTO cost_lots (`+lotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lot.ID, lot.ProductID, lot.BranchID, lot.SupplierID, lot.SourceRef, lot.Quantity, lot.Weight,
		lot.UnitCostPerGram, lot.RemainingQuantity, lot.RemainingWeight, formatTime(lot.PurchaseDate),
		lot.SequenceOrder, lot.Exhausted, int64(1),
	)
	if err != nil {
		if c.d.isUnique(err) {
			return &gold.ConcurrencyConflictError{Resource: "lot " + string(lot.ID), Reason: "already exists"}
		}
		return c.d.mapError("insert lot", err)
	}
	lot.Version = 1
	return nil
}

func (c *conn) UpdateLot(ctx context.Context, lot *gold.CostLot) error {
	res, err := c.exec(ctx, `
		UPDATE cost_lots SET
			remaining_quantity = ?, remaining_weight = ?, exhausted = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		lot.RemainingQuantity, lot.RemainingWeight, lot.Exhausted, lot.ID, lot.Version,
	)
	if err != nil {
		return c.d.mapError("update lot", err)
	}
	if err := expectOne(res, "lot "+string(lot.ID)); err != nil {
		return err
	}
	lot.Version++
	return nil
}

func (c *conn) ListLots(ctx context.Context, filter gold.LotFilter) ([]gold.CostLot, error) {
	var (
		where []string
		args  []any
	)
	if filter.ProductID != "" {
		where = append(where, "product_id = ?")
		args = append(args, filter.ProductID)
	}
	if filter.BranchID != "" {
		where = append(where, "branch_id = ?")
		args = append(args, filter.BranchID)
	}
	if filter.AvailableOnly {
		where = append(where, "exhausted = ?")
		args = append(args, false)
	}

	query := `SELECT ` + lotColumns + ` FROM cost_lots`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY purchase_date ASC, sequence_order ASC, id ASC`

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	var out []gold.CostLot
	for rows.Next() {
		var (
			l            gold.CostLot
			purchaseDate string
		)
		err := rows.Scan(
			&l.ID, &l.ProductID, &l.BranchID, &l.SupplierID, &l.SourceRef, &l.Quantity, &l.Weight,
			&l.UnitCostPerGram, &l.RemainingQuantity, &l.RemainingWeight, &purchaseDate, &l.SequenceOrder,
			&l.Exhausted, &l.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		if l.PurchaseDate, err = parseTime(purchaseDate); err != nil {
			return nil, err
		}
		// Remaining weight is a decimal in TEXT, so it is filtered here.
		if !filter.Matches(l) {
			continue
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (c *conn) NextLotSequence(ctx context.Context, productID gold.ProductID, branchID gold.BranchID) (int64, error) {
	var max int64
	err := c.queryRow(ctx, `
		SELECT COALESCE(MAX(sequence_order), 0) FROM cost_lots
		WHERE product_id = ? AND branch_id = ?`,
		productID, branchID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read lot sequence: %w", err)
	}
	return max + 1, nil
}
