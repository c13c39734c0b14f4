package models

import (
	"fmt"

	"github.com/mmdatafocus/ims_backend/utils"
)

// StockLockKey identifies the stock pool every allocation on (vehicle, variant, branch, color) contends for.
func StockLockKey(vehicleId, variantId, branchId, color string) string {
	return fmt.Sprintf("stock:%s|%s|%s|%s", vehicleId, variantId, branchId, utils.NormalizeKey(color))
}

func (o *CustomerOrder) LockKey() string {
	return StockLockKey(o.VehicleId, o.VariantId, o.BranchId, o.Color)
}

func (r *IncomingAllocation) LockKey() string {
	return StockLockKey(r.VehicleId, r.VariantId, r.BranchId, r.Color)
}

func (e *ColorStock) Validate() error {
	if err := e.StockCounter.Validate(); err != nil {
		return fmt.Errorf("ledger %s/%s/%s: %w", e.VehicleId, e.VariantId, e.Color, err)
	}
	return nil
}

func (r *IncomingAllocation) Validate() error {
	if err := r.StockCounter.Validate(); err != nil {
		return fmt.Errorf("incoming %s: %w", r.ID, err)
	}
	if r.Status == IncomingStatusCompleted && r.Payment != PaymentStatusCompleted {
		return fmt.Errorf("incoming %s: %w", r.ID, NewStockError(ErrKindInvariantViolation, "completed without payment"))
	}
	return nil
}

// Validate checks the order's own bookkeeping. While open, the pool holdings plus any
// shortfall must add up to TotalCount.
func (o *CustomerOrder) Validate() error {
	if o.TotalCount <= 0 {
		return NewStockError(ErrKindInvariantViolation, "order %s: total count %d", o.ID, o.TotalCount)
	}
	if o.VehicleStock.Stock < 0 || o.MddpStock.Stock < 0 || o.ShortfallCount < 0 {
		return NewStockError(ErrKindInvariantViolation, "order %s: negative stock reference", o.ID)
	}
	if o.VehicleStock.Available && o.VehicleStock.Stock == 0 {
		return NewStockError(ErrKindInvariantViolation, "order %s: vehicle stock flagged available with nothing held", o.ID)
	}
	if o.MddpStock.Available && o.MddpStock.Stock == 0 {
		return NewStockError(ErrKindInvariantViolation, "order %s: incoming stock flagged available with nothing held", o.ID)
	}
	if o.IsOpen() {
		if got := o.AllocatedCount(); got != o.TotalCount {
			return NewStockError(ErrKindInvariantViolation, "order %s: allocated %d, total %d", o.ID, got, o.TotalCount)
		}
	} else if o.VehicleStock.Stock != 0 || o.MddpStock.Stock != 0 {
		return NewStockError(ErrKindInvariantViolation, "order %s: settled order still holds stock", o.ID)
	}
	if o.OrderStatus == OrderStatusCancelled && o.FinanceStatus != FinanceStatusDeclined {
		return NewStockError(ErrKindInvariantViolation, "order %s: cancelled but finance %s", o.ID, o.FinanceStatus)
	}
	if o.OrderStatus == OrderStatusDelivered && o.FinanceStatus != FinanceStatusCompleted {
		return NewStockError(ErrKindInvariantViolation, "order %s: delivered but finance %s", o.ID, o.FinanceStatus)
	}
	return nil
}
