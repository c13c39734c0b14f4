package workflow

import (
	"context"

	"github.com/mmdatafocus/ims_backend/models"
	"github.com/mmdatafocus/ims_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// CreateIncoming registers backlog stock. A record created Completed lands on the ledger at once.
func (s *StockService) CreateIncoming(ctx context.Context, input models.NewIncomingAllocation) (*models.IncomingAllocation, error) {
	ctx, span := s.startSpan(ctx, "workflow.CreateIncoming", attribute.String("vehicle_id", input.VehicleId))
	var err error
	defer func() { endSpan(span, err) }()

	if err = input.Validate(); err != nil {
		return nil, err
	}
	switch input.Status {
	case models.IncomingStatusRequested, models.IncomingStatusApproved:
	case models.IncomingStatusCompleted:
		if input.Payment != models.PaymentStatusCompleted {
			err = models.NewStockError(models.ErrKindPaymentIncomplete, "incoming stock cannot arrive before payment completes")
			return nil, err
		}
	case models.IncomingStatusRejected:
		err = models.NewStockError(models.ErrKindInvalidStateTransition, "incoming stock cannot be created rejected")
		return nil, err
	default:
		err = models.NewStockError(models.ErrKindInvalidInput, "invalid incoming status %q", input.Status)
		return nil, err
	}

	branchId, err := s.vehicleBranch(ctx, input.VehicleId)
	if err != nil {
		return nil, err
	}
	record := input.Build(branchId, utils.GetUsernameOrSystem(ctx), s.now())
	key := record.LockKey()
	err = s.withKeyLock(ctx, key, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx models.StockTx) error {
			entry, err := tx.GetLedgerEntry(record.VehicleId, record.VariantId, record.Color)
			if err != nil {
				return err
			}
			if record.Status == models.IncomingStatusCompleted {
				entry.Absorb(record.StockCounter)
				record.ReceivedCount = record.Stock
				record.StockCounter = models.StockCounter{}
				if err := tx.SaveLedgerEntry(entry); err != nil {
					return err
				}
			}
			if err := tx.SaveIncoming(record); err != nil {
				return err
			}
			return appendEvent(ctx, tx, models.StockEventIncomingCreated, "incoming", record.ID, key, record)
		})
	})
	s.logOutcome(ctx, "CreateIncoming", logrus.Fields{"incoming_id": record.ID, "lock_key": key}, err)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *StockService) TransitionIncoming(ctx context.Context, recordId string, status models.IncomingStatus, payment models.PaymentStatus) (*models.IncomingAllocation, error) {
	update := models.IncomingUpdate{Status: &status}
	if payment != "" {
		update.Payment = &payment
	}
	return s.UpdateIncoming(ctx, recordId, update)
}

// UpdateIncoming edits a non-terminal record and applies its status transition.
// Completing moves the record onto the ledger and re-points every order that drew from it.
func (s *StockService) UpdateIncoming(ctx context.Context, recordId string, update models.IncomingUpdate) (*models.IncomingAllocation, error) {
	ctx, span := s.startSpan(ctx, "workflow.UpdateIncoming", attribute.String("incoming_id", recordId))
	var err error
	defer func() { endSpan(span, err) }()

	current, err := s.GetIncoming(ctx, recordId)
	if err != nil {
		return nil, err
	}
	keys := []string{current.LockKey()}
	if update.Color != nil {
		keys = append(keys, models.StockLockKey(current.VehicleId, current.VariantId, current.BranchId, *update.Color))
	}

	var updated *models.IncomingAllocation
	fromStatus := current.Status
	toStatus := current.Status
	if update.Status != nil {
		toStatus = *update.Status
	}
	err = s.withKeyLocks(ctx, keys, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx models.StockTx) error {
			record, err := tx.GetIncoming(recordId)
			if err != nil {
				return err
			}
			if err := s.applyIncomingUpdate(tx, record, update); err != nil {
				return err
			}
			record.UpdatedBy = utils.GetUsernameOrSystem(ctx)
			record.UpdatedAt = s.now()
			if err := tx.SaveIncoming(record); err != nil {
				return err
			}
			updated = record
			return appendEvent(ctx, tx, models.StockEventIncomingUpdated, "incoming", record.ID, record.LockKey(), record)
		})
	})
	if update.Status != nil {
		s.Metrics.ObserveIncomingTransition(string(fromStatus), string(toStatus), err)
	}
	s.logOutcome(ctx, "UpdateIncoming", logrus.Fields{"incoming_id": recordId, "from": fromStatus, "to": toStatus}, err)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *StockService) applyIncomingUpdate(tx models.StockTx, record *models.IncomingAllocation, update models.IncomingUpdate) error {
	if record.Status.IsTerminal() {
		return models.NewStockError(models.ErrKindInvalidStateTransition, "incoming stock %s is %s", record.ID, record.Status)
	}
	next := record.Status
	if update.Status != nil && *update.Status != record.Status {
		next = *update.Status
		if !record.Status.CanTransitionTo(next) {
			return models.NewStockError(models.ErrKindInvalidStateTransition, "incoming stock %s cannot move from %s to %s", record.ID, record.Status, next)
		}
	}
	if update.Payment != nil {
		switch *update.Payment {
		case models.PaymentStatusPending, models.PaymentStatusCompleted:
			record.Payment = *update.Payment
		default:
			return models.NewStockError(models.ErrKindInvalidInput, "invalid payment status %q", *update.Payment)
		}
	}
	if next == models.IncomingStatusCompleted && record.Payment != models.PaymentStatusCompleted {
		return models.NewStockError(models.ErrKindPaymentIncomplete, "incoming stock %s is not paid", record.ID)
	}

	if next == models.IncomingStatusRejected {
		if err := s.detachOrders(tx, record); err != nil {
			return err
		}
	}
	if err := applyIncomingFields(tx, record, update, next); err != nil {
		return err
	}
	if next == models.IncomingStatusCompleted {
		if err := s.completeIncomingTx(tx, record); err != nil {
			return err
		}
	}
	record.Status = next
	return nil
}

func applyIncomingFields(tx models.StockTx, record *models.IncomingAllocation, update models.IncomingUpdate, next models.IncomingStatus) error {
	if update.Color != nil {
		color := utils.NormalizeKey(*update.Color)
		if color == "" {
			return models.NewStockError(models.ErrKindInvalidInput, "color is required")
		}
		if color != record.Color {
			if record.BlockedCount > 0 && next != models.IncomingStatusRejected {
				return models.NewStockError(models.ErrKindInvalidInput, "incoming stock %s has %d units promised, its color cannot change", record.ID, record.BlockedCount)
			}
			if _, err := tx.GetLedgerEntry(record.VehicleId, record.VariantId, color); err != nil {
				return err
			}
			record.Color = color
		}
	}
	if update.Stock != nil {
		if *update.Stock < 0 || *update.Stock < record.BlockedCount {
			return models.NewStockError(models.ErrKindInvalidInput, "stock %d is below the %d units already promised", *update.Stock, record.BlockedCount)
		}
		record.Stock = *update.Stock
	}
	if update.ExpectedDate != nil {
		if update.ExpectedDate.IsZero() {
			return models.NewStockError(models.ErrKindInvalidInput, "expected date is required")
		}
		record.ExpectedDate = update.ExpectedDate.UTC()
	}
	return nil
}

// completeIncomingTx transfers the record's counters onto the ledger. Orders holding units on
// the record now hold them on the ledger entry instead.
func (s *StockService) completeIncomingTx(tx models.StockTx, record *models.IncomingAllocation) error {
	entry, err := tx.GetLedgerEntry(record.VehicleId, record.VariantId, record.Color)
	if err != nil {
		return err
	}
	orders, err := tx.ListOrders(models.OrderFilter{IncomingId: record.ID})
	if err != nil {
		return err
	}
	for i := range orders {
		order := &orders[i]
		if !order.IsOpen() || order.MddpStock.Stock == 0 {
			continue
		}
		order.VehicleStock.Id = entry.ID
		order.VehicleStock.Add(order.MddpStock.Stock)
		order.MddpStock.Clear()
		order.UpdatedAt = s.now()
		if err := tx.SaveOrder(order); err != nil {
			return err
		}
	}
	entry.Absorb(record.StockCounter)
	if err := tx.SaveLedgerEntry(entry); err != nil {
		return err
	}
	record.ReceivedCount += record.Stock
	record.StockCounter = models.StockCounter{}
	return nil
}

// detachOrders marks every open order's incoming part unavailable. When configured to release,
// the units move into the order's shortfall and the record's blocked quantity is freed.
func (s *StockService) detachOrders(tx models.StockTx, record *models.IncomingAllocation) error {
	orders, err := tx.ListOrders(models.OrderFilter{IncomingId: record.ID})
	if err != nil {
		return err
	}
	for i := range orders {
		order := &orders[i]
		if !order.IsOpen() || order.MddpStock.Stock == 0 {
			continue
		}
		order.MddpStock.Available = false
		if s.ReleaseOnIncomingReject {
			order.ShortfallCount += order.MddpStock.Stock
			order.MddpStock.Clear()
		}
		order.UpdatedAt = s.now()
		if err := tx.SaveOrder(order); err != nil {
			return err
		}
	}
	if s.ReleaseOnIncomingReject {
		record.Release(record.BlockedCount)
	}
	return nil
}

// DeleteIncoming removes a record that has not completed or been rejected.
func (s *StockService) DeleteIncoming(ctx context.Context, recordId string) error {
	ctx, span := s.startSpan(ctx, "workflow.DeleteIncoming", attribute.String("incoming_id", recordId))
	var err error
	defer func() { endSpan(span, err) }()

	current, err := s.GetIncoming(ctx, recordId)
	if err != nil {
		return err
	}
	key := current.LockKey()
	err = s.withKeyLock(ctx, key, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx models.StockTx) error {
			record, err := tx.GetIncoming(recordId)
			if err != nil {
				return err
			}
			if record.Status.IsTerminal() {
				return models.NewStockError(models.ErrKindInvalidStateTransition, "incoming stock %s is %s and cannot be deleted", record.ID, record.Status)
			}
			if err := s.detachOrders(tx, record); err != nil {
				return err
			}
			if err := tx.DeleteIncoming(record.ID); err != nil {
				return err
			}
			return appendEvent(ctx, tx, models.StockEventIncomingDeleted, "incoming", record.ID, key, map[string]any{
				"blocked_count": record.BlockedCount,
			})
		})
	})
	s.logOutcome(ctx, "DeleteIncoming", logrus.Fields{"incoming_id": recordId, "lock_key": key}, err)
	return err
}

func (s *StockService) GetIncoming(ctx context.Context, recordId string) (*models.IncomingAllocation, error) {
	var record *models.IncomingAllocation
	err := s.Store.RunInTransaction(ctx, func(tx models.StockTx) error {
		var err error
		record, err = tx.GetIncoming(recordId)
		return err
	})
	return record, err
}

func (s *StockService) ListIncoming(ctx context.Context, filter models.IncomingFilter) ([]models.IncomingAllocation, error) {
	var records []models.IncomingAllocation
	err := s.Store.RunInTransaction(ctx, func(tx models.StockTx) error {
		var err error
		records, err = tx.ListIncoming(filter)
		return err
	})
	return records, err
}
