package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/gold-engine/gold"
)

// =============================================================================
// OWNERSHIPS (gold.OwnershipStore interface)
// =============================================================================

const ownershipColumns = `id, product_id, branch_id, supplier_id, purchase_order_id, customer_purchase_id,
	total_quantity, total_weight, owned_quantity, owned_weight, total_cost, amount_paid,
	unit_cost_per_gram, is_active, consolidated_into, created_at, updated_at, version`

func (c *conn) GetOwnership(ctx context.Context, id gold.OwnershipID) (gold.ProductOwnership, error) {
	row, err := scanOwnership(c.queryRow(ctx, `SELECT `+ownershipColumns+` FROM ownerships WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return gold.ProductOwnership{}, &gold.NotFoundError{Kind: "ownership", ID: string(id)}
	}
	if err != nil {
		return gold.ProductOwnership{}, fmt.Errorf("failed to get ownership: %w", err)
	}
	return row, nil
}

func (c *conn) FindActiveOwnership(ctx context.Context, key gold.OwnershipKey) (*gold.ProductOwnership, error) {
	row, err := scanOwnership(c.queryRow(ctx, `
		SELECT `+ownershipColumns+` FROM ownerships
		WHERE product_id = ? AND branch_id = ? AND supplier_id = ?
		  AND purchase_order_id = ? AND customer_purchase_id = ? AND is_active = ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1`,
		key.ProductID, key.BranchID, key.SupplierID, key.PurchaseOrderID, key.CustomerPurchaseID, true))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ownership: %w", err)
	}
	return &row, nil
}

func (c *conn) ListOwnerships(ctx context.Context, filter gold.OwnershipFilter) ([]gold.ProductOwnership, error) {
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
	if filter.SupplierID != "" {
		where = append(where, "supplier_id = ?")
		args = append(args, filter.SupplierID)
	}
	if filter.ActiveOnly {
		where = append(where, "is_active = ?")
		args = append(args, true)
	}

	query := `SELECT ` + ownershipColumns + ` FROM ownerships`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ownerships: %w", err)
	}
	defer rows.Close()

	var out []gold.ProductOwnership
	for rows.Next() {
		row, err := scanOwnership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ownership: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (c *conn) InsertOwnership(ctx context.Context, row *gold.ProductOwnership) error {
	_, err := c.exec(ctx, `
		INSERT INTO ownerships (`+ownershipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.ProductID, row.BranchID, row.SupplierID, row.PurchaseOrderID, row.CustomerPurchaseID,
		row.TotalQuantity, row.TotalWeight, row.OwnedQuantity, row.OwnedWeight, row.TotalCost, row.AmountPaid,
		row.UnitCostPerGram, row.IsActive, string(row.ConsolidatedInto),
		formatTime(row.CreatedAt), formatTime(row.UpdatedAt), int64(1),
	)
	if err != nil {
		if c.d.isUnique(err) {
			return &gold.ConcurrencyConflictError{Resource: "ownership " + string(row.ID), Reason: "already exists"}
		}
		return c.d.mapError("insert ownership", err)
	}
	row.Version = 1
	return nil
}

func (c *conn) UpdateOwnership(ctx context.Context, row *gold.ProductOwnership) error {
	res, err := c.exec(ctx, `
		UPDATE ownerships SET
			total_quantity = ?, total_weight = ?, owned_quantity = ?, owned_weight = ?,
			total_cost = ?, amount_paid = ?, unit_cost_per_gram = ?, is_active = ?,
			consolidated_into = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		row.TotalQuantity, row.TotalWeight, row.OwnedQuantity, row.OwnedWeight,
		row.TotalCost, row.AmountPaid, row.UnitCostPerGram, row.IsActive,
		string(row.ConsolidatedInto), formatTime(row.UpdatedAt),
		row.ID, row.Version,
	)
	if err != nil {
		return c.d.mapError("update ownership", err)
	}
	if err := expectOne(res, "ownership "+string(row.ID)); err != nil {
		return err
	}
	row.Version++
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOwnership(s scanner) (gold.ProductOwnership, error) {
	var (
		o                    gold.ProductOwnership
		consolidatedInto     string
		createdAt, updatedAt string
	)
	err := s.Scan(
		&o.ID, &o.ProductID, &o.BranchID, &o.SupplierID, &o.PurchaseOrderID, &o.CustomerPurchaseID,
		&o.TotalQuantity, &o.TotalWeight, &o.OwnedQuantity, &o.OwnedWeight, &o.TotalCost, &o.AmountPaid,
		&o.UnitCostPerGram, &o.IsActive, &consolidatedInto, &createdAt, &updatedAt, &o.Version,
	)
	if err != nil {
		return o, err
	}
	o.ConsolidatedInto = gold.OwnershipID(consolidatedInto)
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return o, err
	}
	o.UpdatedAt, err = parseTime(updatedAt)
	return o, err
}

// =============================================================================
// MOVEMENTS
// =============================================================================

const movementColumns = `id, ownership_id, movement_type, quantity_change, weight_change, amount_change,
	owned_quantity_after, owned_weight_after, total_quantity_after, total_weight_after,
	amount_paid_after, ownership_percentage_after, reference_number, source_ownership_ids,
	notes, actor, created_at`

func (c *conn) AppendMovement(ctx context.Context, m gold.OwnershipMovement) error {
	sources := m.SourceOwnershipIDs
	if sources == nil {
		sources = []gold.OwnershipID{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("failed to encode source ids: %w", err)
	}

	_, err = c.exec(ctx, `
		INSERT INTO ownership_movements (`+movementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.OwnershipID, string(m.Type), m.QuantityChange, m.WeightChange, m.AmountChange,
		m.OwnedQuantityAfter, m.OwnedWeightAfter, m.TotalQuantityAfter, m.TotalWeightAfter,
		m.AmountPaidAfter, m.OwnershipPercentageAfter, m.ReferenceNumber, string(sourcesJSON),
		m.Notes, m.Actor, formatTime(m.CreatedAt),
	)
	if err != nil {
		if c.d.isUnique(err) {
			return &gold.DuplicateMovementError{OwnershipID: m.OwnershipID, Type: m.Type, ReferenceNumber: m.ReferenceNumber}
		}
		return c.d.mapError("append movement", err)
	}
	return nil
}

func (c *conn) MovementExists(ctx context.Context, id gold.OwnershipID, typ gold.MovementType, ref string) (bool, error) {
	var count int
	err := c.queryRow(ctx, `
		SELECT COUNT(*) FROM ownership_movements
		WHERE ownership_id = ? AND movement_type = ? AND reference_number = ?`,
		id, string(typ), ref,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check movement: %w", err)
	}
	return count > 0, nil
}

func (c *conn) FindMovementReference(ctx context.Context, productID gold.ProductID, branchID gold.BranchID, typ gold.MovementType, ref string) (gold.OwnershipID, bool, error) {
	if ref == "" {
		return "", false, nil
	}
	var id string
	err := c.queryRow(ctx, `
		SELECT m.ownership_id FROM ownership_movements m
		JOIN ownerships o ON o.id = m.ownership_id
		WHERE m.movement_type = ? AND m.reference_number = ?
		  AND o.product_id = ? AND o.branch_id = ?
		ORDER BY m.created_at ASC
		LIMIT 1`,
		string(typ), ref, productID, branchID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to find movement reference: %w", err)
	}
	return gold.OwnershipID(id), true, nil
}

func (c *conn) ListMovements(ctx context.Context, id gold.OwnershipID) ([]gold.OwnershipMovement, error) {
	rows, err := c.query(ctx, `
		SELECT `+movementColumns+` FROM ownership_movements
		WHERE ownership_id = ?
		ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var out []gold.OwnershipMovement
	for rows.Next() {
		var (
			m           gold.OwnershipMovement
			typ         string
			sourcesJSON string
			createdAt   string
		)
		err := rows.Scan(
			&m.ID, &m.OwnershipID, &typ, &m.QuantityChange, &m.WeightChange, &m.AmountChange,
			&m.OwnedQuantityAfter, &m.OwnedWeightAfter, &m.TotalQuantityAfter, &m.TotalWeightAfter,
			&m.AmountPaidAfter, &m.OwnershipPercentageAfter, &m.ReferenceNumber, &sourcesJSON,
			&m.Notes, &m.Actor, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		m.Type = gold.MovementType(typ)
		if err := json.Unmarshal([]byte(sourcesJSON), &m.SourceOwnershipIDs); err != nil {
			return nil, fmt.Errorf("failed to decode source ids: %w", err)
		}
		if len(m.SourceOwnershipIDs) == 0 {
			m.SourceOwnershipIDs = nil
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
