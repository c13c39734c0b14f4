package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/ims_backend/models"
	"github.com/mmdatafocus/ims_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type AllocationRequest struct {
	VehicleId    string    `json:"vehicle_id"`
	VariantId    string    `json:"variant_id"`
	Color        string    `json:"color"`
	Quantity     int       `json:"quantity"`
	ExpectedDate time.Time `json:"expected_date"`
}

// Allocation is what one allocate call blocked, per pool.
type Allocation struct {
	Source   models.AllocationSource `json:"source"`
	Vehicle  models.StockRef         `json:"vehicle"`
	Incoming models.StockRef         `json:"incoming"`
}

// Allocate blocks req.Quantity on the ledger and/or the active incoming record of the key.
func (s *StockService) Allocate(ctx context.Context, req AllocationRequest) (*Allocation, error) {
	ctx, span := s.startSpan(ctx, "workflow.Allocate",
		attribute.String("vehicle_id", req.VehicleId),
		attribute.String("variant_id", req.VariantId),
		attribute.Int("quantity", req.Quantity))
	var result *Allocation
	var err error
	defer func() { endSpan(span, err) }()

	req.Color = utils.NormalizeKey(req.Color)
	branchId, err := s.vehicleBranch(ctx, req.VehicleId)
	if err != nil {
		return nil, err
	}
	key := models.StockLockKey(req.VehicleId, req.VariantId, branchId, req.Color)
	err = s.withKeyLock(ctx, key, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx models.StockTx) error {
			alloc, err := s.allocateTx(tx, req)
			if err != nil {
				return err
			}
			result = alloc
			return appendEvent(ctx, tx, models.StockEventAllocated, "ledger", alloc.Vehicle.Id, key, alloc)
		})
	})
	s.logOutcome(ctx, "Allocate", logrus.Fields{"lock_key": key, "quantity": req.Quantity}, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// allocateTx decides the sourcing for req and blocks it. The caller holds the key lock.
// Every rule is checked before anything is blocked.
func (s *StockService) allocateTx(tx models.StockTx, req AllocationRequest) (alloc *Allocation, err error) {
	defer func() {
		source := ""
		if alloc != nil {
			source = string(alloc.Source)
		}
		s.Metrics.ObserveAllocation(source, err)
	}()
	if req.Quantity <= 0 {
		return nil, models.NewStockError(models.ErrKindInvalidInput, "quantity must be greater than zero")
	}
	entry, err := tx.GetLedgerEntry(req.VehicleId, req.VariantId, req.Color)
	if err != nil {
		return nil, err
	}
	record, err := tx.FindActiveIncoming(req.VehicleId, req.VariantId, req.Color)
	if err != nil {
		return nil, err
	}

	availVehicle := entry.Available()
	availIncoming := 0
	if record != nil {
		availIncoming = record.Available()
	}

	var fromVehicle, fromIncoming int
	switch {
	case req.Quantity <= availVehicle:
		fromVehicle = req.Quantity
	case availVehicle > 0 && availVehicle+availIncoming >= req.Quantity:
		if err := checkArrival(record, req.ExpectedDate); err != nil {
			return nil, err
		}
		fromVehicle = availVehicle
		fromIncoming = req.Quantity - availVehicle
	case availVehicle == 0 && req.Quantity <= availIncoming:
		if err := checkArrival(record, req.ExpectedDate); err != nil {
			return nil, err
		}
		fromIncoming = req.Quantity
	default:
		return nil, models.NewStockError(models.ErrKindInsufficientStock,
			"requested %d, available %d on hand and %d incoming", req.Quantity, availVehicle, availIncoming)
	}

	alloc = &Allocation{
		Source:  models.SourceOf(fromVehicle, fromIncoming),
		Vehicle: models.StockRef{Id: entry.ID},
	}
	if fromVehicle > 0 {
		if err := entry.Block(fromVehicle); err != nil {
			return nil, err
		}
		if err := tx.SaveLedgerEntry(entry); err != nil {
			return nil, err
		}
		alloc.Vehicle.Add(fromVehicle)
	}
	if fromIncoming > 0 {
		if err := record.Block(fromIncoming); err != nil {
			return nil, err
		}
		if err := tx.SaveIncoming(record); err != nil {
			return nil, err
		}
		alloc.Incoming = models.StockRef{Id: record.ID}
		alloc.Incoming.Add(fromIncoming)
	}
	return alloc, nil
}

// checkArrival rejects a backlog record that arrives after the customer's promised date.
func checkArrival(record *models.IncomingAllocation, expectedDate time.Time) error {
	if record.ExpectedDate.After(expectedDate) {
		return models.NewStockError(models.ErrKindExpectedDateConflict,
			"incoming stock arrives %s, after the promised date %s",
			record.ExpectedDate.Format(time.DateOnly), expectedDate.Format(time.DateOnly))
	}
	return nil
}

// DeductDirect permanently removes quantity from the ledger without blocking first.
// The incoming registry is never consulted.
func (s *StockService) DeductDirect(ctx context.Context, vehicleId, variantId, color string, quantity int) error {
	ctx, span := s.startSpan(ctx, "workflow.DeductDirect",
		attribute.String("vehicle_id", vehicleId),
		attribute.Int("quantity", quantity))
	var err error
	defer func() { endSpan(span, err) }()

	color = utils.NormalizeKey(color)
	branchId, err := s.vehicleBranch(ctx, vehicleId)
	if err != nil {
		return err
	}
	key := models.StockLockKey(vehicleId, variantId, branchId, color)
	err = s.withKeyLock(ctx, key, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx models.StockTx) error {
			entry, err := s.deductTx(tx, vehicleId, variantId, color, quantity)
			if err != nil {
				return err
			}
			return appendEvent(ctx, tx, models.StockEventDeducted, "ledger", entry.ID, key, map[string]any{
				"quantity": quantity,
				"stock":    entry.Stock,
			})
		})
	})
	s.logOutcome(ctx, "DeductDirect", logrus.Fields{"lock_key": key, "quantity": quantity}, err)
	return err
}

func (s *StockService) deductTx(tx models.StockTx, vehicleId, variantId, color string, quantity int) (*models.ColorStock, error) {
	if quantity <= 0 {
		return nil, models.NewStockError(models.ErrKindInvalidInput, "quantity must be greater than zero")
	}
	entry, err := tx.GetLedgerEntry(vehicleId, variantId, color)
	if err != nil {
		return nil, err
	}
	if err := entry.Deduct(quantity); err != nil {
		return nil, err
	}
	if err := tx.SaveLedgerEntry(entry); err != nil {
		return nil, err
	}
	return entry, nil
}
