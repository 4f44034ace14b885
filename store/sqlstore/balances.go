package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/gold-engine/gold"
)

// =============================================================================
// SUPPLIER BALANCES (gold.GoldStore interface)
// =============================================================================

const supplierColumns = `supplier_id, branch_id, karat_type_id, total_weight_received,
	total_weight_paid_for, average_cost_per_gram, updated_at, version`

func (c *conn) GetSupplierBalance(ctx context.Context, key gold.SupplierBalanceKey) (gold.SupplierGoldBalance, error) {
	b, err := scanSupplier(c.queryRow(ctx, `
		SELECT `+supplierColumns+` FROM supplier_gold_balances
		WHERE supplier_id = ? AND branch_id = ? AND karat_type_id = ?`,
		key.SupplierID, key.BranchID, key.KaratTypeID))
	if errors.Is(err, sql.ErrNoRows) {
		return gold.SupplierGoldBalance{SupplierID: key.SupplierID, BranchID: key.BranchID, KaratTypeID: key.KaratTypeID}, nil
	}
	if err != nil {
		return gold.SupplierGoldBalance{}, fmt.Errorf("failed to get supplier balance: %w", err)
	}
	return b, nil
}

func (c *conn) SaveSupplierBalance(ctx context.Context, b *gold.SupplierGoldBalance) error {
	resource := fmt.Sprintf("supplier balance %s/%s/%s", b.SupplierID, b.BranchID, b.KaratTypeID)
	if b.Version == 0 {
		_, err := c.exec(ctx, `
			INSERT INTO supplier_gold_balances (`+supplierColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			b.SupplierID, b.BranchID, b.KaratTypeID, b.TotalWeightReceived,
			b.TotalWeightPaidFor, b.AverageCostPerGram, formatTime(b.UpdatedAt), int64(1),
		)
		if err != nil {
			if c.d.isUnique(err) {
				return &gold.ConcurrencyConflictError{Resource: resource, Reason: "created concurrently"}
			}
			return c.d.mapError("insert supplier balance", err)
		}
		b.Version = 1
		return nil
	}

	res, err := c.exec(ctx, `
		UPDATE supplier_gold_balances SET
			total_weight_received = ?, total_weight_paid_for = ?, average_cost_per_gram = ?,
			updated_at = ?, version = version + 1
		WHERE supplier_id = ? AND branch_id = ? AND karat_type_id = ? AND version = ?`,
		b.TotalWeightReceived, b.TotalWeightPaidFor, b.AverageCostPerGram, formatTime(b.UpdatedAt),
		b.SupplierID, b.BranchID, b.KaratTypeID, b.Version,
	)
	if err != nil {
		return c.d.mapError("update supplier balance", err)
	}
	if err := expectOne(res, resource); err != nil {
		return err
	}
	b.Version++
	return nil
}

func (c *conn) ListSupplierBalances(ctx context.Context, supplierID gold.SupplierID, branchID gold.BranchID) ([]gold.SupplierGoldBalance, error) {
	var (
		where []string
		args  []any
	)
	if supplierID != "" {
		where = append(where, "supplier_id = ?")
		args = append(args, supplierID)
	}
	if branchID != "" {
		where = append(where, "branch_id = ?")
		args = append(args, branchID)
	}
	query := `SELECT ` + supplierColumns + ` FROM supplier_gold_balances`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY supplier_id, branch_id, karat_type_id`

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query supplier balances: %w", err)
	}
	defer rows.Close()

	var out []gold.SupplierGoldBalance
	for rows.Next() {
		b, err := scanSupplier(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan supplier balance: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanSupplier(s scanner) (gold.SupplierGoldBalance, error) {
	var (
		b         gold.SupplierGoldBalance
		updatedAt string
	)
	err := s.Scan(&b.SupplierID, &b.BranchID, &b.KaratTypeID, &b.TotalWeightReceived,
		&b.TotalWeightPaidFor, &b.AverageCostPerGram, &updatedAt, &b.Version)
	if err != nil {
		return b, err
	}
	b.UpdatedAt, err = parseTime(updatedAt)
	return b, err
}

// =============================================================================
// MERCHANT BALANCES
// =============================================================================

const merchantColumns = `branch_id, karat_type_id, available_weight, average_cost_per_gram, updated_at, version`

func (c *conn) GetMerchantBalance(ctx context.Context, key gold.MerchantBalanceKey) (gold.MerchantRawGoldBalance, error) {
	b, err := scanMerchant(c.queryRow(ctx, `
		SELECT `+merchantColumns+` FROM merchant_gold_balances
		WHERE branch_id = ? AND karat_type_id = ?`,
		key.BranchID, key.KaratTypeID))
	if errors.Is(err, sql.ErrNoRows) {
		return gold.MerchantRawGoldBalance{BranchID: key.BranchID, KaratTypeID: key.KaratTypeID}, nil
	}
	if err != nil {
		return gold.MerchantRawGoldBalance{}, fmt.Errorf("failed to get merchant balance: %w", err)
	}
	return b, nil
}

func (c *conn) SaveMerchantBalance(ctx context.Context, b *gold.MerchantRawGoldBalance) error {
	resource := fmt.Sprintf("merchant balance %s/%s", b.BranchID, b.KaratTypeID)
	if b.Version == 0 {
		_, err := c.exec(ctx, `
			INSERT INTO merchant_gold_balances (`+merchantColumns+`)
			VALUES (?, ?, ?, ?, ?, ?)`,
			b.BranchID, b.KaratTypeID, b.AvailableWeight, b.AverageCostPerGram, formatTime(b.UpdatedAt), int64(1),
		)
		if err != nil {
			if c.d.isUnique(err) {
				return &gold.ConcurrencyConflictError{Resource: resource, Reason: "created concurrently"}
			}
			return c.d.mapError("insert merchant balance", err)
		}
		b.Version = 1
		return nil
	}

	res, err := c.exec(ctx, `
		UPDATE merchant_gold_balances SET
			available_weight = ?, average_cost_per_gram = ?, updated_at = ?, version = version + 1
		WHERE branch_id = ? AND karat_type_id = ? AND version = ?`,
		b.AvailableWeight, b.AverageCostPerGram, formatTime(b.UpdatedAt),
		b.BranchID, b.KaratTypeID, b.Version,
	)
	if err != nil {
		return c.d.mapError("update merchant balance", err)
	}
	if err := expectOne(res, resource); err != nil {
		return err
	}
	b.Version++
	return nil
}

func (c *conn) ListMerchantBalances(ctx context.Context, branchID gold.BranchID) ([]gold.MerchantRawGoldBalance, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchant_gold_balances`
	var args []any
	if branchID != "" {
		query += ` WHERE branch_id = ?`
		args = append(args, branchID)
	}
	query += ` ORDER BY branch_id, karat_type_id`

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query merchant balances: %w", err)
	}
	defer rows.Close()

	var out []gold.MerchantRawGoldBalance
	for rows.Next() {
		b, err := scanMerchant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan merchant balance: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanMerchant(s scanner) (gold.MerchantRawGoldBalance, error) {
	var (
		b         gold.MerchantRawGoldBalance
		updatedAt string
	)
	err := s.Scan(&b.BranchID, &b.KaratTypeID, &b.AvailableWeight, &b.AverageCostPerGram, &updatedAt, &b.Version)
	if err != nil {
		return b, err
	}
	b.UpdatedAt, err = parseTime(updatedAt)
	return b, err
}

// =============================================================================
// TRANSFERS (append-only)
// =============================================================================

const transferColumns = `id, transfer_type, branch_id, supplier_id, customer_purchase_id, from_karat,
	to_karat, from_weight, to_weight, from_rate, to_rate, conversion_factor, transfer_value,
	reference_number, actor, created_at`

func (c *conn) AppendTransfer(ctx context.Context, t gold.RawGoldTransfer) error {
	_, err := c.exec(ctx, `
		INSERT INTO raw_gold_transfers (`+transferColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, string(t.Type), t.BranchID, t.SupplierID, t.CustomerPurchaseID, t.FromKarat,
		t.ToKarat, t.FromWeight, t.ToWeight, t.FromRate, t.ToRate, t.ConversionFactor, t.TransferValue,
		t.ReferenceNumber, t.Actor, formatTime(t.CreatedAt),
	)
	if err != nil {
		return c.d.mapError("append transfer", err)
	}
	return nil
}

func (c *conn) ListTransfers(ctx context.Context, filter gold.TransferFilter) ([]gold.RawGoldTransfer, error) {
	var (
		where []string
		args  []any
	)
	if filter.BranchID != "" {
		where = append(where, "branch_id = ?")
		args = append(args, filter.BranchID)
	}
	if filter.SupplierID != "" {
		where = append(where, "supplier_id = ?")
		args = append(args, filter.SupplierID)
	}
	if filter.Type != "" {
		where = append(where, "transfer_type = ?")
		args = append(args, string(filter.Type))
	}
	if !filter.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(filter.To))
	}

	query := `SELECT ` + transferColumns + ` FROM raw_gold_transfers`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	// Newest first so LIMIT keeps the latest; reversed below.
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var out []gold.RawGoldTransfer
	for rows.Next() {
		var (
			t         gold.RawGoldTransfer
			typ       string
			createdAt string
		)
		err := rows.Scan(
			&t.ID, &typ, &t.BranchID, &t.SupplierID, &t.CustomerPurchaseID, &t.FromKarat,
			&t.ToKarat, &t.FromWeight, &t.ToWeight, &t.FromRate, &t.ToRate, &t.ConversionFactor, &t.TransferValue,
			&t.ReferenceNumber, &t.Actor, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		t.Type = gold.TransferType(typ)
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
