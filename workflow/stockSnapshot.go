package workflow

import (
	"context"

	"github.com/mmdatafocus/ims_backend/models"
	"github.com/mmdatafocus/ims_backend/models/reports"
)

// StockSnapshot reads ledger, incoming records and orders in one transaction for reporting.
func (s *StockService) StockSnapshot(ctx context.Context) (reports.StockSnapshot, error) {
	snapshot := reports.StockSnapshot{GeneratedAt: s.now()}
	err := s.Store.RunInTransaction(ctx, func(tx models.StockTx) error {
		var err error
		if snapshot.Ledger, err = tx.ListLedgerEntries(); err != nil {
			return err
		}
		if snapshot.Incoming, err = tx.ListIncoming(models.IncomingFilter{}); err != nil {
			return err
		}
		snapshot.Orders, err = tx.ListOrders(models.OrderFilter{})
		return err
	})
	return snapshot, err
}
