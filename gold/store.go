/*
store.go - Persistence interfaces for the gold engine

PURPOSE:
  Defines the boundary between engine logic and the database. Rows are plain
  value structs; implementations map columns explicitly.

KEY INTERFACES:
  OwnershipStore: ownership rows + movement ledger
  LotStore:       cost lots
  GoldStore:      supplier/merchant gold balances + transfer ledger
  TxStore:        all of the above plus WithTx for atomic read-modify-write

OPTIMISTIC CONCURRENCY:
  Every mutable row carries Version. Update/Save compare the caller's Version
  with the stored one and fail with *ConcurrencyConflictError on mismatch; on
  success the stored and the caller's Version are both incremented.
  Version 0 on Save means "insert"; a row that already exists is a conflict.

APPEND-ONLY LEDGERS:
  Movements and transfers have Append/List only. No Update, no Delete.
  AppendMovement rejects a second movement with the same
  (OwnershipID, Type, ReferenceNumber) with *DuplicateMovementError. Sales
  span rows, so they are also checked per product+branch with
  FindMovementReference.

IMPLEMENTATIONS:
  - gold/store/memory.go: in-memory, snapshot + rollback transactions
  - store/sqlstore: SQLite and PostgreSQL via database/sql
*/
package gold

import (
	"context"
	"time"
)

// =============================================================================
// OWNERSHIP STORE
// =============================================================================

type OwnershipFilter struct {
	ProductID  ProductID
	BranchID   BranchID
	SupplierID SupplierID
	ActiveOnly bool
}

func (f OwnershipFilter) Matches(o ProductOwnership) bool {
	if f.ProductID != "" && o.ProductID != f.ProductID {
		return false
	}
	if f.BranchID != "" && o.BranchID != f.BranchID {
		return false
	}
	if f.SupplierID != "" && o.SupplierID != f.SupplierID {
		return false
	}
	return !f.ActiveOnly || o.IsActive
}

type OwnershipStore interface {
	// GetOwnership returns *NotFoundError when the row does not exist.
	GetOwnership(ctx context.Context, id OwnershipID) (ProductOwnership, error)

	// FindActiveOwnership returns the active row for key, or nil.
	FindActiveOwnership(ctx context.Context, key OwnershipKey) (*ProductOwnership, error)

	// ListOwnerships returns rows ordered by CreatedAt, then ID.
	ListOwnerships(ctx context.Context, filter OwnershipFilter) ([]ProductOwnership, error)

	InsertOwnership(ctx context.Context, row *ProductOwnership) error
	UpdateOwnership(ctx context.Context, row *ProductOwnership) error

	AppendMovement(ctx context.Context, m OwnershipMovement) error
	MovementExists(ctx context.Context, ownershipID OwnershipID, typ MovementType, ref string) (bool, error)

	// FindMovementReference looks for a movement of typ with ref on any row of
	// product+branch, inactive rows included, and returns the row it was
	// recorded against.
	FindMovementReference(ctx context.Context, productID ProductID, branchID BranchID, typ MovementType, ref string) (OwnershipID, bool, error)

	// ListMovements returns movements ordered by CreatedAt.
	ListMovements(ctx context.Context, ownershipID OwnershipID) ([]OwnershipMovement, error)
}

// =============================================================================
// LOT STORE
// =============================================================================

type LotFilter struct {
	ProductID ProductID
	BranchID  BranchID // empty = all branches
	// AvailableOnly skips exhausted lots and lots without remaining weight.
	AvailableOnly bool
}

func (f LotFilter) Matches(l CostLot) bool {
	if f.ProductID != "" && l.ProductID != f.ProductID {
		return false
	}
	if f.BranchID != "" && l.BranchID != f.BranchID {
		return false
	}
	if f.AvailableOnly && (l.Exhausted || !l.RemainingWeight.IsPositive()) {
		return false
	}
	return true
}

type LotStore interface {
	InsertLot(ctx context.Context, lot *CostLot) error
	UpdateLot(ctx context.Context, lot *CostLot) error

	// ListLots returns lots ordered by PurchaseDate, SequenceOrder, ID.
	ListLots(ctx context.Context, filter LotFilter) ([]CostLot, error)

	// NextLotSequence returns 1 + the highest SequenceOrder for product+branch.
	NextLotSequence(ctx context.Context, productID ProductID, branchID BranchID) (int64, error)
}

// =============================================================================
// GOLD STORE
// =============================================================================

type TransferFilter struct {
	BranchID   BranchID
	SupplierID SupplierID
	Type       TransferType
	From       time.Time
	To         time.Time
	Limit      int
}

func (f TransferFilter) Matches(t RawGoldTransfer) bool {
	if f.BranchID != "" && t.BranchID != f.BranchID {
		return false
	}
	if f.SupplierID != "" && t.SupplierID != f.SupplierID {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && t.CreatedAt.After(f.To) {
		return false
	}
	return true
}

type GoldStore interface {
	// GetSupplierBalance returns a zero balance with Version 0 when none exists.
	GetSupplierBalance(ctx context.Context, key SupplierBalanceKey) (SupplierGoldBalance, error)
	SaveSupplierBalance(ctx context.Context, b *SupplierGoldBalance) error
	ListSupplierBalances(ctx context.Context, supplierID SupplierID, branchID BranchID) ([]SupplierGoldBalance, error)

	// GetMerchantBalance returns a zero balance with Version 0 when none exists.
	GetMerchantBalance(ctx context.Context, key MerchantBalanceKey) (MerchantRawGoldBalance, error)
	SaveMerchantBalance(ctx context.Context, b *MerchantRawGoldBalance) error
	ListMerchantBalances(ctx context.Context, branchID BranchID) ([]MerchantRawGoldBalance, error)

	AppendTransfer(ctx context.Context, t RawGoldTransfer) error

	// ListTransfers returns transfers ordered by CreatedAt.
	ListTransfers(ctx context.Context, filter TransferFilter) ([]RawGoldTransfer, error)
}

// =============================================================================
// COMPOSED STORES
// =============================================================================

type Store interface {
	OwnershipStore
	LotStore
	GoldStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Store passed to fn is
	// rolled back. If fn returns nil, the writes are committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
