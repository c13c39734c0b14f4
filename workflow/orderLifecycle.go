package workflow

import (
	"cmp"
	"context"
	"slices"

	"github.com/mmdatafocus/ims_backend/models"
	"github.com/mmdatafocus/ims_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// CreateOrder persists a new order together with the stock it blocks.
// An order created already Delivered deducts straight from the ledger.
func (s *StockService) CreateOrder(ctx context.Context, input models.NewCustomerOrder) (*models.CustomerOrder, error) {
	ctx, span := s.startSpan(ctx, "workflow.CreateOrder", attribute.String("vehicle_id", input.VehicleId))
	var err error
	defer func() { endSpan(span, err) }()

	if err = input.Validate(); err != nil {
		return nil, err
	}
	if !input.OrderStatus.IsValid() {
		err = models.NewStockError(models.ErrKindInvalidInput, "invalid order status %q", input.OrderStatus)
		return nil, err
	}
	order := input.Build(utils.GetUsernameOrSystem(ctx), s.now())
	order.SyncStatuses()
	if order.OrderStatus == models.OrderStatusCancelled {
		err = models.NewStockError(models.ErrKindInvalidStateTransition, "an order cannot be created cancelled")
		return nil, err
	}

	branchId, err := s.vehicleBranch(ctx, order.VehicleId)
	if err != nil {
		return nil, err
	}
	if branchId != order.BranchId {
		err = models.NewStockError(models.ErrKindInvalidInput, "vehicle %s does not belong to branch %s", order.VehicleId, order.BranchId)
		return nil, err
	}

	key := order.LockKey()
	err = s.withKeyLock(ctx, key, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx models.StockTx) error {
			if order.OrderStatus == models.OrderStatusDelivered {
				entry, err := s.deductTx(tx, order.VehicleId, order.VariantId, order.Color, order.TotalCount)
				if err != nil {
					return err
				}
				order.AllocationSource = models.AllocationSourceVehicle
				order.VehicleStock = models.StockRef{Id: entry.ID}
				if order.DeliveryDate == nil {
					deliveredAt := s.now()
					order.DeliveryDate = &deliveredAt
				}
			} else {
				alloc, err := s.allocateTx(tx, AllocationRequest{
					VehicleId:    order.VehicleId,
					VariantId:    order.VariantId,
					Color:        order.Color,
					Quantity:     order.TotalCount,
					ExpectedDate: order.ExpectedDate,
				})
				if err != nil {
					return err
				}
				order.AllocationSource = alloc.Source
				order.VehicleStock = alloc.Vehicle
				order.MddpStock = alloc.Incoming
			}
			if err := tx.SaveOrder(order); err != nil {
				return err
			}
			return appendEvent(ctx, tx, models.StockEventOrderCreated, "order", order.ID, key, order)
		})
	})
	s.logOutcome(ctx, "CreateOrder", logrus.Fields{"order_id": order.ID, "lock_key": key, "total_count": order.TotalCount}, err)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *StockService) UpdateOrderQuantity(ctx context.Context, orderId string, totalCount int) (*models.CustomerOrder, error) {
	return s.UpdateOrder(ctx, orderId, models.OrderUpdate{TotalCount: &totalCount})
}

func (s *StockService) SetOrderStatus(ctx context.Context, orderId string, status models.OrderStatus) (*models.CustomerOrder, error) {
	return s.UpdateOrder(ctx, orderId, models.OrderUpdate{OrderStatus: &status})
}

func (s *StockService) SetFinanceStatus(ctx context.Context, orderId string, status models.FinanceStatus) (*models.CustomerOrder, error) {
	return s.UpdateOrder(ctx, orderId, models.OrderUpdate{FinanceStatus: &status})
}

// UpdateOrder applies the expected date, then quantity, then finance, then order status,
// all in one transaction under the order's stock key.
func (s *StockService) UpdateOrder(ctx context.Context, orderId string, update models.OrderUpdate) (*models.CustomerOrder, error) {
	ctx, span := s.startSpan(ctx, "workflow.UpdateOrder", attribute.String("order_id", orderId))
	var err error
	defer func() { endSpan(span, err) }()

	current, err := s.GetOrder(ctx, orderId)
	if err != nil {
		return nil, err
	}
	key := current.LockKey()
	var updated *models.CustomerOrder
	var fromStatus models.OrderStatus
	err = s.withKeyLock(ctx, key, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx models.StockTx) error {
			order, err := tx.GetOrder(orderId)
			if err != nil {
				return err
			}
			fromStatus = order.OrderStatus
			if err := s.applyOrderUpdate(tx, order, update); err != nil {
				return err
			}
			order.UpdatedBy = utils.GetUsernameOrSystem(ctx)
			order.UpdatedAt = s.now()
			if err := tx.SaveOrder(order); err != nil {
				return err
			}
			updated = order
			return appendEvent(ctx, tx, models.StockEventOrderUpdated, "order", order.ID, key, order)
		})
	})
	if update.OrderStatus != nil || update.FinanceStatus != nil {
		to := fromStatus
		if updated != nil {
			to = updated.OrderStatus
		} else if update.OrderStatus != nil {
			to = *update.OrderStatus
		}
		s.Metrics.ObserveOrderTransition(string(fromStatus), string(to), err)
	}
	s.logOutcome(ctx, "UpdateOrder", logrus.Fields{"order_id": orderId, "lock_key": key}, err)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *StockService) applyOrderUpdate(tx models.StockTx, order *models.CustomerOrder, update models.OrderUpdate) error {
	if update.ExpectedDate != nil && !update.ExpectedDate.Equal(order.ExpectedDate) {
		if !order.IsOpen() {
			return models.NewStockError(models.ErrKindInvalidStateTransition, "order %s is %s", order.ID, order.OrderStatus)
		}
		if update.ExpectedDate.Before(order.ExpectedDate) {
			return models.NewStockError(models.ErrKindInvalidInput, "expected date can only move later")
		}
		order.ExpectedDate = update.ExpectedDate.UTC()
	}
	if update.TotalCount != nil && *update.TotalCount != order.TotalCount {
		if err := s.resizeTx(tx, order, *update.TotalCount); err != nil {
			return err
		}
	}
	if update.FinanceStatus != nil {
		if err := s.applyFinanceStatus(tx, order, *update.FinanceStatus); err != nil {
			return err
		}
	}
	if update.OrderStatus != nil {
		if err := s.applyOrderStatus(tx, order, *update.OrderStatus); err != nil {
			return err
		}
	}
	return nil
}

// resizeTx moves the order to newTotal units. Growth takes free ledger stock first, then
// incoming stock. Shrinking gives back shortfall first, then incoming, then ledger stock.
func (s *StockService) resizeTx(tx models.StockTx, order *models.CustomerOrder, newTotal int) error {
	if !order.IsOpen() {
		return models.NewStockError(models.ErrKindInvalidStateTransition, "order %s is %s", order.ID, order.OrderStatus)
	}
	if newTotal <= 0 {
		return models.NewStockError(models.ErrKindInvalidInput, "total count must be greater than zero")
	}
	diff := newTotal - order.TotalCount
	var err error
	if diff > 0 {
		err = s.growTx(tx, order, diff)
	} else {
		err = s.shrinkTx(tx, order, -diff)
	}
	if err != nil {
		return err
	}
	order.TotalCount = newTotal
	if source := models.SourceOf(order.VehicleStock.Stock, order.MddpStock.Stock); source != "" {
		order.AllocationSource = source
	}
	return nil
}

func (s *StockService) growTx(tx models.StockTx, order *models.CustomerOrder, diff int) error {
	remaining := diff

	var entry *models.ColorStock
	fromVehicle := 0
	if order.VehicleStock.Available {
		var err error
		entry, err = tx.GetLedgerEntry(order.VehicleId, order.VariantId, order.Color)
		if err != nil {
			return err
		}
		fromVehicle = min(max(entry.Available(), 0), remaining)
		remaining -= fromVehicle
	}

	var record *models.IncomingAllocation
	if remaining > 0 {
		var err error
		record, err = s.incomingForGrowth(tx, order, remaining)
		if err != nil {
			return err
		}
	}

	if fromVehicle > 0 {
		if err := entry.Block(fromVehicle); err != nil {
			return err
		}
		if err := tx.SaveLedgerEntry(entry); err != nil {
			return err
		}
		order.VehicleStock.Add(fromVehicle)
	}
	if record != nil {
		if err := record.Block(remaining); err != nil {
			return err
		}
		if err := tx.SaveIncoming(record); err != nil {
			return err
		}
		order.MddpStock.Id = record.ID
		order.MddpStock.Add(remaining)
	}
	return nil
}

// incomingForGrowth picks the record that takes the part of a growth the ledger could not.
// An order already holding incoming units can only grow on that same record.
func (s *StockService) incomingForGrowth(tx models.StockTx, order *models.CustomerOrder, need int) (*models.IncomingAllocation, error) {
	insufficient := func(avail int) error {
		return models.NewStockError(models.ErrKindInsufficientStock,
			"order %s needs %d more units, %d incoming available", order.ID, need, avail)
	}

	if order.MddpStock.Stock > 0 {
		record, err := tx.GetIncoming(order.MddpStock.Id)
		if err != nil {
			return nil, err
		}
		if !record.IsActive() || !order.MddpStock.Available || record.Available() < need {
			return nil, insufficient(max(record.Available(), 0))
		}
		if err := checkArrival(record, order.ExpectedDate); err != nil {
			return nil, err
		}
		return record, nil
	}

	if order.MddpStock.Id != "" {
		record, err := tx.GetIncoming(order.MddpStock.Id)
		if err != nil && models.KindOf(err) != models.ErrKindNotFound {
			return nil, err
		}
		if err == nil && record.IsActive() && record.Available() >= need {
			if err := checkArrival(record, order.ExpectedDate); err != nil {
				return nil, err
			}
			return record, nil
		}
	}

	records, err := tx.ListIncoming(models.IncomingFilter{VehicleId: order.VehicleId, VariantId: order.VariantId, Color: order.Color})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(records, func(a, b models.IncomingAllocation) int {
		return cmp.Or(a.ExpectedDate.Compare(b.ExpectedDate), a.CreatedAt.Compare(b.CreatedAt))
	})
	best := 0
	for i := range records {
		r := &records[i]
		if !r.IsActive() {
			continue
		}
		if r.Available() >= need {
			if err := checkArrival(r, order.ExpectedDate); err != nil {
				return nil, err
			}
			return r, nil
		}
		best = max(best, r.Available())
	}
	return nil, insufficient(best)
}

func (s *StockService) shrinkTx(tx models.StockTx, order *models.CustomerOrder, n int) error {
	releasable := order.ShortfallCount
	if order.MddpStock.Available {
		releasable += order.MddpStock.Stock
	}
	if order.VehicleStock.Available {
		releasable += order.VehicleStock.Stock
	}
	if n > releasable {
		return models.NewStockError(models.ErrKindOverRelease, "cannot release %d units, order %s holds %d releasable", n, order.ID, releasable)
	}

	left := n
	fromShortfall := min(order.ShortfallCount, left)
	order.ShortfallCount -= fromShortfall
	left -= fromShortfall

	if left > 0 && order.MddpStock.Available {
		take := min(order.MddpStock.Stock, left)
		if err := releaseIncoming(tx, order.MddpStock.Id, take); err != nil {
			return err
		}
		order.MddpStock.Add(-take)
		left -= take
	}
	if left > 0 && order.VehicleStock.Available {
		take := min(order.VehicleStock.Stock, left)
		if err := releaseLedger(tx, order, take); err != nil {
			return err
		}
		order.VehicleStock.Add(-take)
	}
	return nil
}

// releaseIncoming gives n blocked units back to a record. A record that is gone is skipped.
func releaseIncoming(tx models.StockTx, id string, n int) error {
	if n <= 0 || id == "" {
		return nil
	}
	record, err := tx.GetIncoming(id)
	if models.KindOf(err) == models.ErrKindNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if record.Release(n) == 0 {
		return nil
	}
	return tx.SaveIncoming(record)
}

func releaseLedger(tx models.StockTx, order *models.CustomerOrder, n int) error {
	if n <= 0 {
		return nil
	}
	entry, err := tx.GetLedgerEntry(order.VehicleId, order.VariantId, order.Color)
	if models.KindOf(err) == models.ErrKindNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if entry.Release(n) == 0 {
		return nil
	}
	return tx.SaveLedgerEntry(entry)
}

func (s *StockService) applyOrderStatus(tx models.StockTx, order *models.CustomerOrder, next models.OrderStatus) error {
	if next == order.OrderStatus {
		return nil
	}
	if !next.IsValid() {
		return models.NewStockError(models.ErrKindInvalidInput, "invalid order status %q", next)
	}
	if !order.OrderStatus.CanTransitionTo(next) {
		return models.NewStockError(models.ErrKindInvalidStateTransition, "order %s cannot move from %s to %s", order.ID, order.OrderStatus, next)
	}
	switch next {
	case models.OrderStatusCancelled:
		if err := s.cancelTx(tx, order); err != nil {
			return err
		}
	case models.OrderStatusDelivered:
		if err := s.deliverTx(tx, order); err != nil {
			return err
		}
	}
	order.OrderStatus = next
	order.SyncStatuses()
	return nil
}

func (s *StockService) applyFinanceStatus(tx models.StockTx, order *models.CustomerOrder, next models.FinanceStatus) error {
	if next == order.FinanceStatus {
		return nil
	}
	if !order.FinanceStatus.CanTransitionTo(next) {
		return models.NewStockError(models.ErrKindInvalidStateTransition, "order %s finance cannot move from %s to %s", order.ID, order.FinanceStatus, next)
	}
	if next == models.FinanceStatusDeclined && order.IsOpen() {
		if err := s.cancelTx(tx, order); err != nil {
			return err
		}
	}
	order.FinanceStatus = next
	order.SyncStatuses()
	return nil
}

// cancelTx hands every blocked unit back to the pools the order drew from.
func (s *StockService) cancelTx(tx models.StockTx, order *models.CustomerOrder) error {
	if order.MddpStock.Available {
		if err := releaseIncoming(tx, order.MddpStock.Id, order.MddpStock.Stock); err != nil {
			return err
		}
	}
	if order.VehicleStock.Available {
		if err := releaseLedger(tx, order, order.VehicleStock.Stock); err != nil {
			return err
		}
	}
	order.VehicleStock.Clear()
	order.MddpStock.Clear()
	order.ShortfallCount = 0
	return nil
}

// deliverTx consumes the order's units from the ledger. Incoming units can only be
// delivered once their record has completed.
func (s *StockService) deliverTx(tx models.StockTx, order *models.CustomerOrder) error {
	if order.ShortfallCount > 0 {
		return models.NewStockError(models.ErrKindIncomingNotArrived, "order %s is short %d units", order.ID, order.ShortfallCount)
	}
	if order.MddpStock.Stock > 0 {
		record, err := tx.GetIncoming(order.MddpStock.Id)
		if models.KindOf(err) == models.ErrKindNotFound {
			return models.NewStockError(models.ErrKindIncomingNotArrived, "incoming stock %s for order %s no longer exists", order.MddpStock.Id, order.ID)
		}
		if err != nil {
			return err
		}
		if record.Status != models.IncomingStatusCompleted {
			return models.NewStockError(models.ErrKindIncomingNotArrived, "incoming stock %s is %s", record.ID, record.Status)
		}
	}
	quantity := order.VehicleStock.Stock + order.MddpStock.Stock
	if quantity > 0 {
		entry, err := tx.GetLedgerEntry(order.VehicleId, order.VariantId, order.Color)
		if err != nil {
			return err
		}
		if err := entry.Consume(quantity); err != nil {
			return err
		}
		if err := tx.SaveLedgerEntry(entry); err != nil {
			return err
		}
	}
	order.VehicleStock.Clear()
	order.MddpStock.Clear()
	if order.DeliveryDate == nil {
		deliveredAt := s.now()
		order.DeliveryDate = &deliveredAt
	}
	return nil
}

// DeleteOrder removes the order. An open order first releases what it holds.
func (s *StockService) DeleteOrder(ctx context.Context, orderId string) error {
	ctx, span := s.startSpan(ctx, "workflow.DeleteOrder", attribute.String("order_id", orderId))
	var err error
	defer func() { endSpan(span, err) }()

	current, err := s.GetOrder(ctx, orderId)
	if err != nil {
		return err
	}
	key := current.LockKey()
	err = s.withKeyLock(ctx, key, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx models.StockTx) error {
			order, err := tx.GetOrder(orderId)
			if err != nil {
				return err
			}
			if order.IsOpen() {
				if err := s.cancelTx(tx, order); err != nil {
					return err
				}
			}
			if err := tx.DeleteOrder(order.ID); err != nil {
				return err
			}
			return appendEvent(ctx, tx, models.StockEventOrderDeleted, "order", order.ID, key, map[string]any{
				"order_status": order.OrderStatus,
			})
		})
	})
	s.logOutcome(ctx, "DeleteOrder", logrus.Fields{"order_id": orderId, "lock_key": key}, err)
	return err
}

func (s *StockService) GetOrder(ctx context.Context, orderId string) (*models.CustomerOrder, error) {
	var order *models.CustomerOrder
	err := s.Store.RunInTransaction(ctx, func(tx models.StockTx) error {
		var err error
		order, err = tx.GetOrder(orderId)
		return err
	})
	return order, err
}

func (s *StockService) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.CustomerOrder, error) {
	var orders []models.CustomerOrder
	err := s.Store.RunInTransaction(ctx, func(tx models.StockTx) error {
		var err error
		orders, err = tx.ListOrders(filter)
		return err
	})
	return orders, err
}
