package workflow

import (
	"context"

	"github.com/mmdatafocus/ims_backend/models"
	"github.com/mmdatafocus/ims_backend/utils"
	"github.com/sirupsen/logrus"
)

func (s *StockService) CreateBranch(ctx context.Context, input models.NewBranch) (*models.Branch, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	branch := input.Build(utils.GetUsernameOrSystem(ctx), s.now())
	err := s.inTx(ctx, func(tx models.StockTx) error {
		if err := tx.SaveBranch(branch); err != nil {
			return err
		}
		return appendEvent(ctx, tx, models.StockEventBranchCreated, "branch", branch.ID, "", branch)
	})
	s.logOutcome(ctx, "CreateBranch", logrus.Fields{"branch_id": branch.ID}, err)
	if err != nil {
		return nil, err
	}
	return branch, nil
}

func (s *StockService) ListBranches(ctx context.Context) ([]models.Branch, error) {
	var branches []models.Branch
	err := s.Store.RunInTransaction(ctx, func(tx models.StockTx) error {
		var err error
		branches, err = tx.ListBranches()
		return err
	})
	return branches, err
}

// AddVehicle registers a vehicle with one variant. When the branch already carries the same
// brand and model, the variant is added to that vehicle instead.
func (s *StockService) AddVehicle(ctx context.Context, input models.NewVehicle) (*models.Vehicle, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	username := utils.GetUsernameOrSystem(ctx)
	now := s.now()
	var vehicle *models.Vehicle
	err := s.inTx(ctx, func(tx models.StockTx) error {
		if _, err := tx.GetBranch(input.BranchId); err != nil {
			return err
		}
		existing, err := tx.FindVehicleByName(input.BranchId, utils.NormalizeKey(input.Brand), utils.NormalizeKey(input.Model))
		if err != nil {
			return err
		}
		if existing == nil {
			vehicle = input.Build(username, now)
		} else {
			for i := range existing.Variants {
				if input.Variant.SameAs(&existing.Variants[i]) {
					return models.NewStockError(models.ErrKindInvalidInput, "variant %s already exists on %s %s",
						existing.Variants[i].Name, existing.Brand, existing.Model)
				}
			}
			existing.Variants = append(existing.Variants, input.Variant.Build(existing.ID, now))
			existing.UpdatedBy = username
			existing.UpdatedAt = now
			vehicle = existing
		}
		if err := tx.SaveVehicle(vehicle); err != nil {
			return err
		}
		return appendEvent(ctx, tx, models.StockEventVehicleAdded, "vehicle", vehicle.ID, "", vehicle)
	})
	s.logOutcome(ctx, "AddVehicle", logrus.Fields{"branch_id": input.BranchId, "brand": input.Brand, "model": input.Model}, err)
	if err != nil {
		return nil, err
	}
	return vehicle, nil
}

func (s *StockService) GetVehicle(ctx context.Context, vehicleId string) (*models.Vehicle, error) {
	var vehicle *models.Vehicle
	err := s.Store.RunInTransaction(ctx, func(tx models.StockTx) error {
		var err error
		vehicle, err = tx.GetVehicle(vehicleId)
		return err
	})
	return vehicle, err
}

func (s *StockService) ListVehicles(ctx context.Context, branchId string) ([]models.Vehicle, error) {
	var vehicles []models.Vehicle
	err := s.Store.RunInTransaction(ctx, func(tx models.StockTx) error {
		var err error
		vehicles, err = tx.ListVehicles(branchId)
		return err
	})
	return vehicles, err
}

// AdjustLedgerStock sets the on-hand quantity of a ledger entry (restock or count correction).
// Units already promised to orders cannot be removed this way.
func (s *StockService) AdjustLedgerStock(ctx context.Context, vehicleId, variantId, color string, stock int) (*models.ColorStock, error) {
	color = utils.NormalizeKey(color)
	branchId, err := s.vehicleBranch(ctx, vehicleId)
	if err != nil {
		return nil, err
	}
	key := models.StockLockKey(vehicleId, variantId, branchId, color)
	var entry *models.ColorStock
	err = s.withKeyLock(ctx, key, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx models.StockTx) error {
			var err error
			entry, err = tx.GetLedgerEntry(vehicleId, variantId, color)
			if err != nil {
				return err
			}
			if stock < entry.BlockedCount {
				return models.NewStockError(models.ErrKindInvalidInput, "stock %d is below the %d units already promised", stock, entry.BlockedCount)
			}
			previous := entry.Stock
			entry.Stock = stock
			if err := tx.SaveLedgerEntry(entry); err != nil {
				return err
			}
			return appendEvent(ctx, tx, models.StockEventLedgerAdjusted, "ledger", entry.ID, key, map[string]any{
				"previous_stock": previous,
				"stock":          entry.Stock,
				"blocked_count":  entry.BlockedCount,
			})
		})
	})
	s.logOutcome(ctx, "AdjustLedgerStock", logrus.Fields{"lock_key": key, "stock": stock}, err)
	if err != nil {
		return nil, err
	}
	return entry, nil
}
