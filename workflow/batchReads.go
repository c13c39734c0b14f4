package workflow

import (
	"context"
	"errors"

	"github.com/mmdatafocus/ims_backend/models"
)

// findEach loads every id through get inside tx. Ids that do not exist are left out of the map.
func findEach[T any](ids []string, get func(id string) (*T, error)) (map[string]*T, error) {
	found := make(map[string]*T, len(ids))
	for _, id := range ids {
		if _, seen := found[id]; seen {
			continue
		}
		v, err := get(id)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found[id] = v
	}
	return found, nil
}

// FindVehicles reads a batch of vehicles, with their variants and ledger entries, in one transaction.
func (s *StockService) FindVehicles(ctx context.Context, ids []string) (map[string]*models.Vehicle, error) {
	var found map[string]*models.Vehicle
	err := s.Store.RunInTransaction(ctx, func(tx models.StockTx) error {
		var err error
		found, err = findEach(ids, tx.GetVehicle)
		return err
	})
	return found, err
}

func (s *StockService) FindBranches(ctx context.Context, ids []string) (map[string]*models.Branch, error) {
	var found map[string]*models.Branch
	err := s.Store.RunInTransaction(ctx, func(tx models.StockTx) error {
		var err error
		found, err = findEach(ids, tx.GetBranch)
		return err
	})
	return found, err
}

func (s *StockService) FindIncoming(ctx context.Context, ids []string) (map[string]*models.IncomingAllocation, error) {
	var found map[string]*models.IncomingAllocation
	err := s.Store.RunInTransaction(ctx, func(tx models.StockTx) error {
		var err error
		found, err = findEach(ids, tx.GetIncoming)
		return err
	})
	return found, err
}

// FindOrdersByIncoming groups the orders whose backlog share points at each incoming record.
func (s *StockService) FindOrdersByIncoming(ctx context.Context, incomingIds []string) (map[string][]models.CustomerOrder, error) {
	found := make(map[string][]models.CustomerOrder, len(incomingIds))
	err := s.Store.RunInTransaction(ctx, func(tx models.StockTx) error {
		for _, id := range incomingIds {
			if _, seen := found[id]; seen {
				continue
			}
			orders, err := tx.ListOrders(models.OrderFilter{IncomingId: id})
			if err != nil {
				return err
			}
			found[id] = orders
		}
		return nil
	})
	return found, err
}
