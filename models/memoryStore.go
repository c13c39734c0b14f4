package models

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps stock state in process memory. Transactions read lazily, buffer their
// writes and commit atomically; a row that changed since the transaction first read it
// aborts the commit with ConcurrentModification.
type MemoryStore struct {
	mu       sync.RWMutex
	branches map[string]Branch
	vehicles map[string]Vehicle
	variants map[string]Variant
	ledger   map[string]ColorStock
	incoming map[string]IncomingAllocation
	orders   map[string]CustomerOrder
	events   map[string]StockEvent
	seq      int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		branches: map[string]Branch{},
		vehicles: map[string]Vehicle{},
		variants: map[string]Variant{},
		ledger:   map[string]ColorStock{},
		incoming: map[string]IncomingAllocation{},
		orders:   map[string]CustomerOrder{},
		events:   map[string]StockEvent{},
	}
}

func (s *MemoryStore) RunInTransaction(ctx context.Context, fn func(tx StockTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{
		store:    s,
		branches: newMemTable(&s.mu, s.branches, func(Branch) int { return 0 }),
		vehicles: newMemTable(&s.mu, s.vehicles, func(Vehicle) int { return 0 }),
		variants: newMemTable(&s.mu, s.variants, func(Variant) int { return 0 }),
		ledger:   newMemTable(&s.mu, s.ledger, func(e ColorStock) int { return e.Version }),
		incoming: newMemTable(&s.mu, s.incoming, func(r IncomingAllocation) int { return r.Version }),
		orders:   newMemTable(&s.mu, s.orders, func(o CustomerOrder) int { return o.Version }),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, err := range []error{
		tx.branches.conflict("branch"),
		tx.vehicles.conflict("vehicle"),
		tx.variants.conflict("variant"),
		tx.ledger.conflict("ledger entry"),
		tx.incoming.conflict("incoming allocation"),
		tx.orders.conflict("order"),
	} {
		if err != nil {
			return err
		}
	}
	tx.branches.apply()
	tx.vehicles.apply()
	tx.variants.apply()
	tx.ledger.apply()
	tx.incoming.apply()
	tx.orders.apply()
	for _, e := range tx.events {
		s.seq++
		e.Seq = s.seq
		s.events[e.ID] = e
	}
	return nil
}

type memSeen struct {
	version int
	exists  bool
}

// memTable is one transaction's view over a committed map.
type memTable[T any] struct {
	mu        *sync.RWMutex
	committed map[string]T
	versionOf func(T) int

	rows    map[string]T
	dirty   map[string]struct{}
	deleted map[string]struct{}
	seen    map[string]memSeen
}

func newMemTable[T any](mu *sync.RWMutex, committed map[string]T, versionOf func(T) int) *memTable[T] {
	return &memTable[T]{
		mu:        mu,
		committed: committed,
		versionOf: versionOf,
		rows:      map[string]T{},
		dirty:     map[string]struct{}{},
		deleted:   map[string]struct{}{},
		seen:      map[string]memSeen{},
	}
}

// observe records the committed state of id the first time the transaction looks at it.
// Caller holds at least the read lock.
func (t *memTable[T]) observe(id string) {
	if _, ok := t.seen[id]; ok {
		return
	}
	v, ok := t.committed[id]
	t.seen[id] = memSeen{version: t.versionOf(v), exists: ok}
	if ok {
		t.rows[id] = v
	}
}

func (t *memTable[T]) get(id string) (T, bool) {
	var zero T
	if _, gone := t.deleted[id]; gone {
		return zero, false
	}
	if v, ok := t.rows[id]; ok {
		return v, true
	}
	if _, ok := t.seen[id]; ok {
		return zero, false
	}
	t.mu.RLock()
	t.observe(id)
	t.mu.RUnlock()
	v, ok := t.rows[id]
	return v, ok
}

// nextVersion is the version a write of id will carry.
func (t *memTable[T]) nextVersion(id string) int {
	t.mu.RLock()
	t.observe(id)
	t.mu.RUnlock()
	s := t.seen[id]
	if !s.exists {
		return 1
	}
	return s.version + 1
}

func (t *memTable[T]) exists(id string) bool {
	_, ok := t.get(id)
	return ok
}

func (t *memTable[T]) put(id string, v T) {
	t.mu.RLock()
	t.observe(id)
	t.mu.RUnlock()
	t.rows[id] = v
	t.dirty[id] = struct{}{}
	delete(t.deleted, id)
}

func (t *memTable[T]) remove(id string) {
	t.mu.RLock()
	t.observe(id)
	t.mu.RUnlock()
	delete(t.rows, id)
	delete(t.dirty, id)
	t.deleted[id] = struct{}{}
}

func (t *memTable[T]) list(match func(*T) bool) []T {
	t.mu.RLock()
	for id := range t.committed {
		if _, gone := t.deleted[id]; gone {
			continue
		}
		if _, ok := t.seen[id]; ok {
			continue
		}
		v := t.committed[id]
		if match(&v) {
			t.observe(id)
		}
	}
	t.mu.RUnlock()

	out := make([]T, 0)
	for _, v := range t.rows {
		if match(&v) {
			out = append(out, v)
		}
	}
	return out
}

func (t *memTable[T]) conflict(entity string) error {
	check := func(id string) error {
		cur, ok := t.committed[id]
		s := t.seen[id]
		if ok != s.exists || (ok && t.versionOf(cur) != s.version) {
			return NewStockError(ErrKindConcurrentModification, "%s %s was modified concurrently", entity, id)
		}
		return nil
	}
	for id := range t.dirty {
		if err := check(id); err != nil {
			return err
		}
	}
	for id := range t.deleted {
		if err := check(id); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTable[T]) apply() {
	for id := range t.dirty {
		t.committed[id] = t.rows[id]
	}
	for id := range t.deleted {
		delete(t.committed, id)
	}
}

type memoryTx struct {
	store    *MemoryStore
	branches *memTable[Branch]
	vehicles *memTable[Vehicle]
	variants *memTable[Variant]
	ledger   *memTable[ColorStock]
	incoming *memTable[IncomingAllocation]
	orders   *memTable[CustomerOrder]
	events   []StockEvent
}

func (tx *memoryTx) GetBranch(id string) (*Branch, error) {
	b, ok := tx.branches.get(id)
	if !ok {
		return nil, NotFoundError("branch", id)
	}
	return &b, nil
}

func (tx *memoryTx) ListBranches() ([]Branch, error) {
	out := tx.branches.list(func(*Branch) bool { return true })
	slices.SortFunc(out, func(a, b Branch) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (tx *memoryTx) SaveBranch(b *Branch) error {
	dup := tx.branches.list(func(o *Branch) bool { return o.ID != b.ID && o.Name == b.Name })
	if len(dup) > 0 {
		return NewStockError(ErrKindInvalidInput, "branch %q already exists", b.Name)
	}
	tx.branches.put(b.ID, *b)
	return nil
}

func (tx *memoryTx) DeleteBranch(id string) error {
	if !tx.branches.exists(id) {
		return NotFoundError("branch", id)
	}
	tx.branches.remove(id)
	return nil
}

func (tx *memoryTx) assembleVehicle(v Vehicle) Vehicle {
	variants := tx.variants.list(func(x *Variant) bool { return x.VehicleId == v.ID })
	slices.SortFunc(variants, func(a, b Variant) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	for i := range variants {
		variantId := variants[i].ID
		colors := tx.ledger.list(func(e *ColorStock) bool { return e.VariantId == variantId })
		slices.SortFunc(colors, func(a, b ColorStock) int { return cmp.Compare(a.Color, b.Color) })
		variants[i].Colors = colors
	}
	v.Variants = variants
	return v
}

func (tx *memoryTx) GetVehicle(id string) (*Vehicle, error) {
	v, ok := tx.vehicles.get(id)
	if !ok {
		return nil, NotFoundError("vehicle", id)
	}
	v = tx.assembleVehicle(v)
	return &v, nil
}

func (tx *memoryTx) FindVehicleByName(branchId, normalizedBrand, normalizedModel string) (*Vehicle, error) {
	found := tx.vehicles.list(func(v *Vehicle) bool {
		return v.BranchId == branchId && v.NormalizedBrand == normalizedBrand && v.NormalizedModel == normalizedModel
	})
	if len(found) == 0 {
		return nil, nil
	}
	v := tx.assembleVehicle(found[0])
	return &v, nil
}

func (tx *memoryTx) ListVehicles(branchId string) ([]Vehicle, error) {
	found := tx.vehicles.list(func(v *Vehicle) bool { return branchId == "" || v.BranchId == branchId })
	slices.SortFunc(found, func(a, b Vehicle) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	for i := range found {
		found[i] = tx.assembleVehicle(found[i])
	}
	return found, nil
}

func (tx *memoryTx) SaveVehicle(v *Vehicle) error {
	row := *v
	row.Variants = nil
	tx.vehicles.put(row.ID, row)
	for i := range v.Variants {
		variant := v.Variants[i]
		variant.VehicleId = v.ID
		colors := variant.Colors
		variant.Colors = nil
		tx.variants.put(variant.ID, variant)
		for j := range colors {
			if tx.ledger.exists(colors[j].ID) {
				continue
			}
			entry := colors[j]
			entry.VehicleId = v.ID
			entry.VariantId = variant.ID
			entry.Version = tx.ledger.nextVersion(entry.ID)
			tx.ledger.put(entry.ID, entry)
			v.Variants[i].Colors[j].Version = entry.Version
		}
	}
	return nil
}

func (tx *memoryTx) DeleteVariant(vehicleId, variantId string) error {
	variant, ok := tx.variants.get(variantId)
	if !ok || variant.VehicleId != vehicleId {
		return NotFoundError("variant", variantId)
	}
	for _, e := range tx.ledger.list(func(e *ColorStock) bool { return e.VariantId == variantId }) {
		tx.ledger.remove(e.ID)
	}
	tx.variants.remove(variantId)
	return nil
}

func (tx *memoryTx) DeleteVehicle(id string) error {
	if !tx.vehicles.exists(id) {
		return NotFoundError("vehicle", id)
	}
	for _, e := range tx.ledger.list(func(e *ColorStock) bool { return e.VehicleId == id }) {
		tx.ledger.remove(e.ID)
	}
	for _, v := range tx.variants.list(func(v *Variant) bool { return v.VehicleId == id }) {
		tx.variants.remove(v.ID)
	}
	tx.vehicles.remove(id)
	return nil
}

func (tx *memoryTx) GetLedgerEntry(vehicleId, variantId, color string) (*ColorStock, error) {
	found := tx.ledger.list(func(e *ColorStock) bool {
		return e.VehicleId == vehicleId && e.VariantId == variantId && e.Color == color
	})
	if len(found) == 0 {
		return nil, NewStockError(ErrKindNotFound, "no %s stock for variant %s of vehicle %s", color, variantId, vehicleId)
	}
	return &found[0], nil
}

func (tx *memoryTx) ListLedgerEntries() ([]ColorStock, error) {
	out := tx.ledger.list(func(*ColorStock) bool { return true })
	slices.SortFunc(out, func(a, b ColorStock) int {
		return cmp.Or(cmp.Compare(a.VehicleId, b.VehicleId), cmp.Compare(a.VariantId, b.VariantId), cmp.Compare(a.Color, b.Color))
	})
	return out, nil
}

func (tx *memoryTx) SaveLedgerEntry(e *ColorStock) error {
	if !tx.ledger.exists(e.ID) {
		return NewStockError(ErrKindNotFound, "ledger entry %s not found", e.ID)
	}
	e.Version = tx.ledger.nextVersion(e.ID)
	e.UpdatedAt = time.Now().UTC()
	tx.ledger.put(e.ID, *e)
	return nil
}

func (tx *memoryTx) GetIncoming(id string) (*IncomingAllocation, error) {
	r, ok := tx.incoming.get(id)
	if !ok {
		return nil, NotFoundError("incoming allocation", id)
	}
	return &r, nil
}

func (tx *memoryTx) FindActiveIncoming(vehicleId, variantId, color string) (*IncomingAllocation, error) {
	found := tx.incoming.list(func(r *IncomingAllocation) bool {
		return r.VehicleId == vehicleId && r.VariantId == variantId && r.Color == color && r.IsActive()
	})
	best := pickActiveIncoming(found)
	if best == nil {
		return nil, nil
	}
	r := *best
	return &r, nil
}

func (tx *memoryTx) ListIncoming(filter IncomingFilter) ([]IncomingAllocation, error) {
	out := tx.incoming.list(filter.Match)
	slices.SortFunc(out, func(a, b IncomingAllocation) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (tx *memoryTx) SaveIncoming(r *IncomingAllocation) error {
	r.Version = tx.incoming.nextVersion(r.ID)
	r.UpdatedAt = time.Now().UTC()
	tx.incoming.put(r.ID, *r)
	return nil
}

func (tx *memoryTx) DeleteIncoming(id string) error {
	if !tx.incoming.exists(id) {
		return NotFoundError("incoming allocation", id)
	}
	tx.incoming.remove(id)
	return nil
}

func (tx *memoryTx) GetOrder(id string) (*CustomerOrder, error) {
	o, ok := tx.orders.get(id)
	if !ok {
		return nil, NotFoundError("order", id)
	}
	return &o, nil
}

func (tx *memoryTx) ListOrders(filter OrderFilter) ([]CustomerOrder, error) {
	out := tx.orders.list(filter.Match)
	slices.SortFunc(out, func(a, b CustomerOrder) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (tx *memoryTx) SaveOrder(o *CustomerOrder) error {
	o.Version = tx.orders.nextVersion(o.ID)
	o.UpdatedAt = time.Now().UTC()
	tx.orders.put(o.ID, *o)
	return nil
}

func (tx *memoryTx) DeleteOrder(id string) error {
	if !tx.orders.exists(id) {
		return NotFoundError("order", id)
	}
	tx.orders.remove(id)
	return nil
}

func (tx *memoryTx) AppendEvent(e *StockEvent) error {
	tx.events = append(tx.events, *e)
	return nil
}

func (s *MemoryStore) ClaimEvents(ctx context.Context, dispatcherId string, limit int, now time.Time, staleBefore time.Time, maxAttempts int) ([]StockEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]StockEvent, 0)
	for _, e := range s.events {
		switch e.PublishStatus {
		case OutboxPublishStatusPending, OutboxPublishStatusFailed:
			if e.NextAttemptAt == nil || !e.NextAttemptAt.After(now) {
				candidates = append(candidates, e)
			}
		case OutboxPublishStatusProcessing:
			if e.LockedAt != nil && !e.LockedAt.After(staleBefore) {
				candidates = append(candidates, e)
			}
		}
	}
	slices.SortFunc(candidates, func(a, b StockEvent) int { return cmp.Compare(a.Seq, b.Seq) })

	claimed := make([]StockEvent, 0, limit)
	for _, e := range candidates {
		if len(claimed) >= limit {
			break
		}
		if maxAttempts > 0 && e.PublishAttempts >= maxAttempts {
			msg := "max publish attempts exceeded"
			e.PublishStatus = OutboxPublishStatusDead
			e.LastPublishError = &msg
			e.NextAttemptAt, e.LockedAt, e.LockedBy = nil, nil, nil
			s.events[e.ID] = e
			continue
		}
		lockedAt := now
		lockedBy := dispatcherId
		e.PublishStatus = OutboxPublishStatusProcessing
		e.LockedAt = &lockedAt
		e.LockedBy = &lockedBy
		e.PublishAttempts++
		e.LastPublishError = nil
		e.NextAttemptAt = nil
		s.events[e.ID] = e
		claimed = append(claimed, e)
	}
	return claimed, nil
}

func (s *MemoryStore) MarkEventSent(ctx context.Context, id string, pubSubMessageId string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return NotFoundError("stock event", id)
	}
	publishedAt := now
	e.PublishStatus = OutboxPublishStatusSent
	e.PublishedAt = &publishedAt
	e.PubSubMessageId = &pubSubMessageId
	e.LockedAt, e.LockedBy, e.NextAttemptAt = nil, nil, nil
	s.events[id] = e
	return nil
}

func (s *MemoryStore) MarkEventFailed(ctx context.Context, id string, publishErr error, nextAttemptAt *time.Time, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return NotFoundError("stock event", id)
	}
	msg := publishErr.Error()
	e.LastPublishError = &msg
	e.LockedAt, e.LockedBy = nil, nil
	if dead {
		e.PublishStatus = OutboxPublishStatusDead
		e.NextAttemptAt = nil
	} else {
		e.PublishStatus = OutboxPublishStatusFailed
		e.NextAttemptAt = nextAttemptAt
	}
	s.events[id] = e
	return nil
}

// Events returns a copy of the outbox in commit order.
func (s *MemoryStore) Events() []StockEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StockEvent, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b StockEvent) int { return cmp.Compare(a.Seq, b.Seq) })
	return out
}
