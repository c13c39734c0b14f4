package workflow

import (
	"context"

	"github.com/mmdatafocus/ims_backend/models"
	"github.com/sirupsen/logrus"
)

// CascadeSummary reports what a cascade removed.
type CascadeSummary struct {
	DeletedVehicles   int  `json:"deleted_vehicles"`
	DeletedIncoming   int  `json:"deleted_incoming_count"`
	DeletedOrders     int  `json:"deleted_order_count"`
	VehicleDeleted    bool `json:"vehicle_deleted"`
	RemainingVariants int  `json:"remaining_variants"`
}

// Cascades discard blocked quantities together with the records holding them; there is no
// release pass. Every stock key of the removed vehicles is held for the whole delete.

func vehicleLockKeys(vehicle *models.Vehicle, variantId string) []string {
	var keys []string
	for _, variant := range vehicle.Variants {
		if variantId != "" && variant.ID != variantId {
			continue
		}
		for _, color := range variant.Colors {
			keys = append(keys, models.StockLockKey(vehicle.ID, variant.ID, vehicle.BranchId, color.Color))
		}
	}
	return keys
}

func deleteIncoming(tx models.StockTx, filter models.IncomingFilter) (int, error) {
	records, err := tx.ListIncoming(filter)
	if err != nil {
		return 0, err
	}
	for _, r := range records {
		if err := tx.DeleteIncoming(r.ID); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}

func deleteOrders(tx models.StockTx, filter models.OrderFilter) (int, error) {
	orders, err := tx.ListOrders(filter)
	if err != nil {
		return 0, err
	}
	for _, o := range orders {
		if err := tx.DeleteOrder(o.ID); err != nil {
			return 0, err
		}
	}
	return len(orders), nil
}

// CascadeDeleteBranch removes the branch's vehicles and their incoming records, then the
// branch's orders, then the branch.
func (s *StockService) CascadeDeleteBranch(ctx context.Context, branchId string) (*CascadeSummary, error) {
	ctx, span := s.startSpan(ctx, "workflow.CascadeDeleteBranch")
	var err error
	defer func() { endSpan(span, err) }()

	vehicles, err := s.ListVehicles(ctx, branchId)
	if err != nil {
		return nil, err
	}
	var keys []string
	for i := range vehicles {
		keys = append(keys, vehicleLockKeys(&vehicles[i], "")...)
	}

	summary := &CascadeSummary{}
	err = s.withKeyLocks(ctx, keys, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx models.StockTx) error {
			*summary = CascadeSummary{}
			if _, err := tx.GetBranch(branchId); err != nil {
				return err
			}
			vehicles, err := tx.ListVehicles(branchId)
			if err != nil {
				return err
			}
			for _, v := range vehicles {
				n, err := deleteIncoming(tx, models.IncomingFilter{VehicleId: v.ID})
				if err != nil {
					return err
				}
				summary.DeletedIncoming += n
				if err := tx.DeleteVehicle(v.ID); err != nil {
					return err
				}
				summary.DeletedVehicles++
			}
			n, err := deleteOrders(tx, models.OrderFilter{BranchId: branchId})
			if err != nil {
				return err
			}
			summary.DeletedOrders = n
			if err := tx.DeleteBranch(branchId); err != nil {
				return err
			}
			return appendEvent(ctx, tx, models.StockEventCascadeCompleted, "branch", branchId, "", summary)
		})
	})
	s.logOutcome(ctx, "CascadeDeleteBranch", logrus.Fields{"branch_id": branchId}, err)
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// CascadeDeleteVehicle removes the vehicle's incoming records and orders, then the vehicle.
func (s *StockService) CascadeDeleteVehicle(ctx context.Context, vehicleId string) (*CascadeSummary, error) {
	ctx, span := s.startSpan(ctx, "workflow.CascadeDeleteVehicle")
	var err error
	defer func() { endSpan(span, err) }()

	vehicle, err := s.GetVehicle(ctx, vehicleId)
	if err != nil {
		return nil, err
	}
	summary := &CascadeSummary{}
	err = s.withKeyLocks(ctx, vehicleLockKeys(vehicle, ""), func(ctx context.Context) error {
		return s.inTx(ctx, func(tx models.StockTx) error {
			*summary = CascadeSummary{}
			n, err := deleteIncoming(tx, models.IncomingFilter{VehicleId: vehicleId})
			if err != nil {
				return err
			}
			summary.DeletedIncoming = n
			if n, err = deleteOrders(tx, models.OrderFilter{VehicleId: vehicleId}); err != nil {
				return err
			}
			summary.DeletedOrders = n
			if err := tx.DeleteVehicle(vehicleId); err != nil {
				return err
			}
			summary.DeletedVehicles = 1
			summary.VehicleDeleted = true
			return appendEvent(ctx, tx, models.StockEventCascadeCompleted, "vehicle", vehicleId, "", summary)
		})
	})
	s.logOutcome(ctx, "CascadeDeleteVehicle", logrus.Fields{"vehicle_id": vehicleId}, err)
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// CascadeDeleteVariant removes the variant's incoming records and orders, then the variant.
// A vehicle left without variants is removed as well.
func (s *StockService) CascadeDeleteVariant(ctx context.Context, vehicleId, variantId string) (*CascadeSummary, error) {
	ctx, span := s.startSpan(ctx, "workflow.CascadeDeleteVariant")
	var err error
	defer func() { endSpan(span, err) }()

	vehicle, err := s.GetVehicle(ctx, vehicleId)
	if err != nil {
		return nil, err
	}
	if _, ok := vehicle.FindVariant(variantId); !ok {
		err = models.NotFoundError("variant", variantId)
		return nil, err
	}
	summary := &CascadeSummary{}
	err = s.withKeyLocks(ctx, vehicleLockKeys(vehicle, variantId), func(ctx context.Context) error {
		return s.inTx(ctx, func(tx models.StockTx) error {
			*summary = CascadeSummary{}
			n, err := deleteIncoming(tx, models.IncomingFilter{VehicleId: vehicleId, VariantId: variantId})
			if err != nil {
				return err
			}
			summary.DeletedIncoming = n
			if n, err = deleteOrders(tx, models.OrderFilter{VehicleId: vehicleId, VariantId: variantId}); err != nil {
				return err
			}
			summary.DeletedOrders = n
			if err := tx.DeleteVariant(vehicleId, variantId); err != nil {
				return err
			}
			remaining, err := tx.GetVehicle(vehicleId)
			if err != nil {
				return err
			}
			summary.RemainingVariants = len(remaining.Variants)
			if summary.RemainingVariants == 0 {
				if err := tx.DeleteVehicle(vehicleId); err != nil {
					return err
				}
				summary.VehicleDeleted = true
				summary.DeletedVehicles = 1
			}
			return appendEvent(ctx, tx, models.StockEventCascadeCompleted, "variant", variantId, "", summary)
		})
	})
	s.logOutcome(ctx, "CascadeDeleteVariant", logrus.Fields{"vehicle_id": vehicleId, "variant_id": variantId}, err)
	if err != nil {
		return nil, err
	}
	return summary, nil
}
