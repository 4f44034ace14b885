// Package store provides the in-memory gold.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/gold-engine/gold"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	state
}

type movementKey struct {
	ownership gold.OwnershipID
	typ       gold.MovementType
	ref       string
}

type state struct {
	ownerships map[gold.OwnershipID]gold.ProductOwnership
	movements  []gold.OwnershipMovement
	seen       map[movementKey]bool
	lots       map[gold.LotID]gold.CostLot
	suppliers  map[gold.SupplierBalanceKey]gold.SupplierGoldBalance
	merchants  map[gold.MerchantBalanceKey]gold.MerchantRawGoldBalance
	transfers  []gold.RawGoldTransfer
}

func newState() state {
	return state{
		ownerships: make(map[gold.OwnershipID]gold.ProductOwnership),
		seen:       make(map[movementKey]bool),
		lots:       make(map[gold.LotID]gold.CostLot),
		suppliers:  make(map[gold.SupplierBalanceKey]gold.SupplierGoldBalance),
		merchants:  make(map[gold.MerchantBalanceKey]gold.MerchantRawGoldBalance),
	}
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

// =============================================================================
// OWNERSHIP
// =============================================================================

func (s *state) getOwnership(id gold.OwnershipID) (gold.ProductOwnership, error) {
	row, ok := s.ownerships[id]
	if !ok {
		return gold.ProductOwnership{}, &gold.NotFoundError{Kind: "ownership", ID: string(id)}
	}
	return row, nil
}

func (s *state) findActiveOwnership(key gold.OwnershipKey) *gold.ProductOwnership {
	for _, row := range s.sortedOwnerships(gold.OwnershipFilter{ProductID: key.ProductID, BranchID: key.BranchID, ActiveOnly: true}) {
		if row.Key() == key {
			r := row
			return &r
		}
	}
	return nil
}

func (s *state) sortedOwnerships(filter gold.OwnershipFilter) []gold.ProductOwnership {
	var out []gold.ProductOwnership
	for _, row := range s.ownerships {
		if filter.Matches(row) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) insertOwnership(row *gold.ProductOwnership) error {
	if _, ok := s.ownerships[row.ID]; ok {
		return &gold.ConcurrencyConflictError{Resource: "ownership " + string(row.ID), Reason: "already exists"}
	}
	row.Version = 1
	s.ownerships[row.ID] = *row
	return nil
}

func (s *state) updateOwnership(row *gold.ProductOwnership) error {
	cur, ok := s.ownerships[row.ID]
	if !ok {
		return &gold.NotFoundError{Kind: "ownership", ID: string(row.ID)}
	}
	if cur.Version != row.Version {
		return staleVersion("ownership "+string(row.ID), row.Version, cur.Version)
	}
	row.Version++
	s.ownerships[row.ID] = *row
	return nil
}

func (s *state) appendMovement(m gold.OwnershipMovement) error {
	if m.ReferenceNumber != "" {
		k := movementKey{m.OwnershipID, m.Type, m.ReferenceNumber}
		if s.seen[k] {
			return &gold.DuplicateMovementError{OwnershipID: m.OwnershipID, Type: m.Type, ReferenceNumber: m.ReferenceNumber}
		}
		s.seen[k] = true
	}
	s.movements = append(s.movements, m)
	return nil
}

func (s *state) findMovementReference(productID gold.ProductID, branchID gold.BranchID, typ gold.MovementType, ref string) (gold.OwnershipID, bool) {
	if ref == "" {
		return "", false
	}
	for _, m := range s.movements {
		if m.Type != typ || m.ReferenceNumber != ref {
			continue
		}
		if row, ok := s.ownerships[m.OwnershipID]; ok && row.ProductID == productID && row.BranchID == branchID {
			return m.OwnershipID, true
		}
	}
	return "", false
}

func (s *state) listMovements(id gold.OwnershipID) []gold.OwnershipMovement {
	var out []gold.OwnershipMovement
	for _, m := range s.movements {
		if m.OwnershipID == id {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// =============================================================================
// LOTS
// =============================================================================

func (s *state) insertLot(lot *gold.CostLot) error {
	if _, ok := s.lots[lot.ID]; ok {
		return &gold.ConcurrencyConflictError{Resource: "lot " + string(lot.ID), Reason: "already exists"}
	}
	lot.Version = 1
	s.lots[lot.ID] = *lot
	return nil
}

func (s *state) updateLot(lot *gold.CostLot) error {
	cur, ok := s.lots[lot.ID]
	if !ok {
		return &gold.NotFoundError{Kind: "lot", ID: string(lot.ID)}
	}
	if cur.Version != lot.Version {
		return staleVersion("lot "+string(lot.ID), lot.Version, cur.Version)
	}
	lot.Version++
	s.lots[lot.ID] = *lot
	return nil
}

func (s *state) listLots(filter gold.LotFilter) []gold.CostLot {
	var out []gold.CostLot
	for _, l := range s.lots {
		if filter.Matches(l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.PurchaseDate.Equal(b.PurchaseDate) {
			return a.PurchaseDate.Before(b.PurchaseDate)
		}
		if a.SequenceOrder != b.SequenceOrder {
			return a.SequenceOrder < b.SequenceOrder
		}
		return a.ID < b.ID
	})
	return out
}

func (s *state) nextLotSequence(productID gold.ProductID, branchID gold.BranchID) int64 {
	var max int64
	for _, l := range s.lots {
		if l.ProductID == productID && l.BranchID == branchID && l.SequenceOrder > max {
			max = l.SequenceOrder
		}
	}
	return max + 1
}

// =============================================================================
// GOLD BALANCES
// =============================================================================

func (s *state) getSupplierBalance(key gold.SupplierBalanceKey) gold.SupplierGoldBalance {
	if b, ok := s.suppliers[key]; ok {
		return b
	}
	return gold.SupplierGoldBalance{SupplierID: key.SupplierID, BranchID: key.BranchID, KaratTypeID: key.KaratTypeID}
}

func (s *state) saveSupplierBalance(b *gold.SupplierGoldBalance) error {
	key := b.Key()
	cur, ok := s.suppliers[key]
	if !ok && b.Version != 0 {
		return staleVersion(fmt.Sprintf("supplier balance %v", key), b.Version, 0)
	}
	if ok && cur.Version != b.Version {
		return staleVersion(fmt.Sprintf("supplier balance %v", key), b.Version, cur.Version)
	}
	b.Version++
	s.suppliers[key] = *b
	return nil
}

func (s *state) listSupplierBalances(supplierID gold.SupplierID, branchID gold.BranchID) []gold.SupplierGoldBalance {
	var out []gold.SupplierGoldBalance
	for k, b := range s.suppliers {
		if (supplierID == "" || k.SupplierID == supplierID) && (branchID == "" || k.BranchID == branchID) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key(), out[j].Key()
		if a.SupplierID != b.SupplierID {
			return a.SupplierID < b.SupplierID
		}
		if a.BranchID != b.BranchID {
			return a.BranchID < b.BranchID
		}
		return a.KaratTypeID < b.KaratTypeID
	})
	return out
}

func (s *state) getMerchantBalance(key gold.MerchantBalanceKey) gold.MerchantRawGoldBalance {
	if b, ok := s.merchants[key]; ok {
		return b
	}
	return gold.MerchantRawGoldBalance{BranchID: key.BranchID, KaratTypeID: key.KaratTypeID}
}

func (s *state) saveMerchantBalance(b *gold.MerchantRawGoldBalance) error {
	key := b.Key()
	cur, ok := s.merchants[key]
	if !ok && b.Version != 0 {
		return staleVersion(fmt.Sprintf("merchant balance %v", key), b.Version, 0)
	}
	if ok && cur.Version != b.Version {
		return staleVersion(fmt.Sprintf("merchant balance %v", key), b.Version, cur.Version)
	}
	b.Version++
	s.merchants[key] = *b
	return nil
}

func (s *state) listMerchantBalances(branchID gold.BranchID) []gold.MerchantRawGoldBalance {
	var out []gold.MerchantRawGoldBalance
	for k, b := range s.merchants {
		if branchID == "" || k.BranchID == branchID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BranchID != out[j].BranchID {
			return out[i].BranchID < out[j].BranchID
		}
		return out[i].KaratTypeID < out[j].KaratTypeID
	})
	return out
}

func (s *state) listTransfers(filter gold.TransferFilter) []gold.RawGoldTransfer {
	var out []gold.RawGoldTransfer
	for _, t := range s.transfers {
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out
}

func staleVersion(resource string, have, current int64) error {
	return &gold.ConcurrencyConflictError{
		Resource: resource,
		Reason:   fmt.Sprintf("stale version %d, current %d", have, current),
	}
}

// =============================================================================
// LOCKED ACCESSORS - gold.Store on Memory
// =============================================================================

func (m *Memory) GetOwnership(_ context.Context, id gold.OwnershipID) (gold.ProductOwnership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getOwnership(id)
}

func (m *Memory) FindActiveOwnership(_ context.Context, key gold.OwnershipKey) (*gold.ProductOwnership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findActiveOwnership(key), nil
}

func (m *Memory) ListOwnerships(_ context.Context, filter gold.OwnershipFilter) ([]gold.ProductOwnership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedOwnerships(filter), nil
}

func (m *Memory) InsertOwnership(_ context.Context, row *gold.ProductOwnership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertOwnership(row)
}

func (m *Memory) UpdateOwnership(_ context.Context, row *gold.ProductOwnership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateOwnership(row)
}

func (m *Memory) AppendMovement(_ context.Context, mv gold.OwnershipMovement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendMovement(mv)
}

func (m *Memory) MovementExists(_ context.Context, id gold.OwnershipID, typ gold.MovementType, ref string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seen[movementKey{id, typ, ref}], nil
}

func (m *Memory) FindMovementReference(_ context.Context, productID gold.ProductID, branchID gold.BranchID, typ gold.MovementType, ref string) (gold.OwnershipID, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.findMovementReference(productID, branchID, typ, ref)
	return id, ok, nil
}

func (m *Memory) ListMovements(_ context.Context, id gold.OwnershipID) ([]gold.OwnershipMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listMovements(id), nil
}

func (m *Memory) InsertLot(_ context.Context, lot *gold.CostLot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLot(lot)
}

func (m *Memory) UpdateLot(_ context.Context, lot *gold.CostLot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLot(lot)
}

func (m *Memory) ListLots(_ context.Context, filter gold.LotFilter) ([]gold.CostLot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLots(filter), nil
}

func (m *Memory) NextLotSequence(_ context.Context, productID gold.ProductID, branchID gold.BranchID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextLotSequence(productID, branchID), nil
}

func (m *Memory) GetSupplierBalance(_ context.Context, key gold.SupplierBalanceKey) (gold.SupplierGoldBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSupplierBalance(key), nil
}

func (m *Memory) SaveSupplierBalance(_ context.Context, b *gold.SupplierGoldBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveSupplierBalance(b)
}

func (m *Memory) ListSupplierBalances(_ context.Context, supplierID gold.SupplierID, branchID gold.BranchID) ([]gold.SupplierGoldBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSupplierBalances(supplierID, branchID), nil
}

func (m *Memory) GetMerchantBalance(_ context.Context, key gold.MerchantBalanceKey) (gold.MerchantRawGoldBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getMerchantBalance(key), nil
}

func (m *Memory) SaveMerchantBalance(_ context.Context, b *gold.MerchantRawGoldBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveMerchantBalance(b)
}

func (m *Memory) ListMerchantBalances(_ context.Context, branchID gold.BranchID) ([]gold.MerchantRawGoldBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listMerchantBalances(branchID), nil
}

func (m *Memory) AppendTransfer(_ context.Context, t gold.RawGoldTransfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers = append(m.transfers, t)
	return nil
}

func (m *Memory) ListTransfers(_ context.Context, filter gold.TransferFilter) ([]gold.RawGoldTransfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTransfers(filter), nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// Reset drops every row.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newState()
	return nil
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(gold.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{s: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s *state) snapshot() state {
	c := newState()
	for k, v := range s.ownerships {
		c.ownerships[k] = v
	}
	c.movements = append([]gold.OwnershipMovement(nil), s.movements...)
	for k, v := range s.seen {
		c.seen[k] = v
	}
	for k, v := range s.lots {
		c.lots[k] = v
	}
	for k, v := range s.suppliers {
		c.suppliers[k] = v
	}
	for k, v := range s.merchants {
		c.merchants[k] = v
	}
	c.transfers = append([]gold.RawGoldTransfer(nil), s.transfers...)
	return c
}

// txView is the gold.Store handed to WithTx callbacks. The parent lock is
// already held.
type txView struct {
	s *state
}

func (v *txView) GetOwnership(_ context.Context, id gold.OwnershipID) (gold.ProductOwnership, error) {
	return v.s.getOwnership(id)
}

func (v *txView) FindActiveOwnership(_ context.Context, key gold.OwnershipKey) (*gold.ProductOwnership, error) {
	return v.s.findActiveOwnership(key), nil
}

func (v *txView) ListOwnerships(_ context.Context, filter gold.OwnershipFilter) ([]gold.ProductOwnership, error) {
	return v.s.sortedOwnerships(filter), nil
}

func (v *txView) InsertOwnership(_ context.Context, row *gold.ProductOwnership) error {
	return v.s.insertOwnership(row)
}

func (v *txView) UpdateOwnership(_ context.Context, row *gold.ProductOwnership) error {
	return v.s.updateOwnership(row)
}

func (v *txView) AppendMovement(_ context.Context, m gold.OwnershipMovement) error {
	return v.s.appendMovement(m)
}

func (v *txView) MovementExists(_ context.Context, id gold.OwnershipID, typ gold.MovementType, ref string) (bool, error) {
	return v.s.seen[movementKey{id, typ, ref}], nil
}

func (v *txView) FindMovementReference(_ context.Context, productID gold.ProductID, branchID gold.BranchID, typ gold.MovementType, ref string) (gold.OwnershipID, bool, error) {
	id, ok := v.s.findMovementReference(productID, branchID, typ, ref)
	return id, ok, nil
}

func (v *txView) ListMovements(_ context.Context, id gold.OwnershipID) ([]gold.OwnershipMovement, error) {
	return v.s.listMovements(id), nil
}

func (v *txView) InsertLot(_ context.Context, lot *gold.CostLot) error {
	return v.s.insertLot(lot)
}

func (v *txView) UpdateLot(_ context.Context, lot *gold.CostLot) error {
	return v.s.updateLot(lot)
}

func (v *txView) ListLots(_ context.Context, filter gold.LotFilter) ([]gold.CostLot, error) {
	return v.s.listLots(filter), nil
}

func (v *txView) NextLotSequence(_ context.Context, productID gold.ProductID, branchID gold.BranchID) (int64, error) {
	return v.s.nextLotSequence(productID, branchID), nil
}

func (v *txView) GetSupplierBalance(_ context.Context, key gold.SupplierBalanceKey) (gold.SupplierGoldBalance, error) {
	return v.s.getSupplierBalance(key), nil
}

func (v *txView) SaveSupplierBalance(_ context.Context, b *gold.SupplierGoldBalance) error {
	return v.s.saveSupplierBalance(b)
}

func (v *txView) ListSupplierBalances(_ context.Context, supplierID gold.SupplierID, branchID gold.BranchID) ([]gold.SupplierGoldBalance, error) {
	return v.s.listSupplierBalances(supplierID, branchID), nil
}

func (v *txView) GetMerchantBalance(_ context.Context, key gold.MerchantBalanceKey) (gold.MerchantRawGoldBalance, error) {
	return v.s.getMerchantBalance(key), nil
}

func (v *txView) SaveMerchantBalance(_ context.Context, b *gold.MerchantRawGoldBalance) error {
	return v.s.saveMerchantBalance(b)
}

func (v *txView) ListMerchantBalances(_ context.Context, branchID gold.BranchID) ([]gold.MerchantRawGoldBalance, error) {
	return v.s.listMerchantBalances(branchID), nil
}

func (v *txView) AppendTransfer(_ context.Context, t gold.RawGoldTransfer) error {
	v.s.transfers = append(v.s.transfers, t)
	return nil
}

func (v *txView) ListTransfers(_ context.Context, filter gold.TransferFilter) ([]gold.RawGoldTransfer, error) {
	return v.s.listTransfers(filter), nil
}

var (
	_ gold.TxStore = (*Memory)(nil)
	_ gold.Store   = (*txView)(nil)
)
