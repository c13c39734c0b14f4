package models

import (
	"context"
	"time"
)

type IncomingFilter struct {
	BranchId  string
	VehicleId string
	VariantId string
	Color     string
	Status    IncomingStatus
}

func (f IncomingFilter) Match(r *IncomingAllocation) bool {
	return (f.BranchId == "" || r.BranchId == f.BranchId) &&
		(f.VehicleId == "" || r.VehicleId == f.VehicleId) &&
		(f.VariantId == "" || r.VariantId == f.VariantId) &&
		(f.Color == "" || r.Color == f.Color) &&
		(f.Status == "" || r.Status == f.Status)
}

type OrderFilter struct {
	BranchId    string
	VehicleId   string
	VariantId   string
	Color       string
	IncomingId  string
	OrderStatus OrderStatus
}

func (f OrderFilter) Match(o *CustomerOrder) bool {
	return (f.BranchId == "" || o.BranchId == f.BranchId) &&
		(f.VehicleId == "" || o.VehicleId == f.VehicleId) &&
		(f.VariantId == "" || o.VariantId == f.VariantId) &&
		(f.Color == "" || o.Color == f.Color) &&
		(f.IncomingId == "" || o.MddpStock.Id == f.IncomingId) &&
		(f.OrderStatus == "" || o.OrderStatus == f.OrderStatus)
}

// StockTx is one unit of work. Everything written through it commits or rolls back together.
// Getters return NotFound StockErrors; Find* return (nil, nil) when nothing matches.
// Save* of a versioned row fails with ConcurrentModification when the row changed underneath.
type StockTx interface {
	GetBranch(id string) (*Branch, error)
	ListBranches() ([]Branch, error)
	SaveBranch(b *Branch) error
	DeleteBranch(id string) error

	// GetVehicle loads variants and their ledger entries.
	GetVehicle(id string) (*Vehicle, error)
	FindVehicleByName(branchId, normalizedBrand, normalizedModel string) (*Vehicle, error)
	ListVehicles(branchId string) ([]Vehicle, error)
	// SaveVehicle writes the vehicle and variant rows and inserts new ledger entries.
	// Existing ledger quantities are only ever written through SaveLedgerEntry.
	SaveVehicle(v *Vehicle) error
	DeleteVariant(vehicleId, variantId string) error
	DeleteVehicle(id string) error

	GetLedgerEntry(vehicleId, variantId, color string) (*ColorStock, error)
	ListLedgerEntries() ([]ColorStock, error)
	SaveLedgerEntry(e *ColorStock) error

	GetIncoming(id string) (*IncomingAllocation, error)
	// FindActiveIncoming returns the non-terminal record for the key with the earliest expected date.
	FindActiveIncoming(vehicleId, variantId, color string) (*IncomingAllocation, error)
	ListIncoming(filter IncomingFilter) ([]IncomingAllocation, error)
	SaveIncoming(r *IncomingAllocation) error
	DeleteIncoming(id string) error

	GetOrder(id string) (*CustomerOrder, error)
	ListOrders(filter OrderFilter) ([]CustomerOrder, error)
	SaveOrder(o *CustomerOrder) error
	DeleteOrder(id string) error

	AppendEvent(e *StockEvent) error
}

// OutboxStore is the dispatcher's view of the stock-event outbox.
type OutboxStore interface {
	// ClaimEvents marks up to limit publishable events PROCESSING for dispatcherId.
	// Events past maxAttempts are moved to DEAD instead of being returned.
	ClaimEvents(ctx context.Context, dispatcherId string, limit int, now time.Time, staleBefore time.Time, maxAttempts int) ([]StockEvent, error)
	MarkEventSent(ctx context.Context, id string, pubSubMessageId string, now time.Time) error
	MarkEventFailed(ctx context.Context, id string, publishErr error, nextAttemptAt *time.Time, dead bool) error
}

type StockStore interface {
	RunInTransaction(ctx context.Context, fn func(tx StockTx) error) error
	OutboxStore
}

func pickActiveIncoming(records []IncomingAllocation) *IncomingAllocation {
	var best *IncomingAllocation
	for i := range records {
		r := &records[i]
		if !r.IsActive() {
			continue
		}
		if best == nil || r.ExpectedDate.Before(best.ExpectedDate) ||
			(r.ExpectedDate.Equal(best.ExpectedDate) && r.CreatedAt.Before(best.CreatedAt)) {
			best = r
		}
	}
	return best
}
