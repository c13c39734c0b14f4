package workflow

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/ims_backend/models"
	"github.com/sirupsen/logrus"
)

type Violation struct {
	Entity  string `json:"entity"`
	Id      string `json:"id"`
	Message string `json:"message"`
}

type ReconcileReport struct {
	LedgerEntries int         `json:"ledger_entries"`
	Incoming      int         `json:"incoming"`
	Orders        int         `json:"orders"`
	Violations    []Violation `json:"violations"`
	// blocked units no open order claims, e.g. left on a rejected incoming record
	UnclaimedBlocked int `json:"unclaimed_blocked"`
}

func (r *ReconcileReport) OK() bool {
	return len(r.Violations) == 0
}

func (r *ReconcileReport) add(entity, id string, err error) {
	r.Violations = append(r.Violations, Violation{Entity: entity, Id: id, Message: err.Error()})
}

// Reconcile checks every ledger entry, incoming record and order against each other: counters
// stay in range, open orders add up, and no pool has promised less than its orders claim.
func (s *StockService) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	err := s.Store.RunInTransaction(ctx, func(tx models.StockTx) error {
		entries, err := tx.ListLedgerEntries()
		if err != nil {
			return err
		}
		records, err := tx.ListIncoming(models.IncomingFilter{})
		if err != nil {
			return err
		}
		orders, err := tx.ListOrders(models.OrderFilter{})
		if err != nil {
			return err
		}
		*report = buildReconcileReport(entries, records, orders)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !report.OK() && s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"field":      "Reconcile",
			"violations": len(report.Violations),
		}).Warn("stock reconciliation found violations")
	}
	return report, nil
}

func buildReconcileReport(entries []models.ColorStock, records []models.IncomingAllocation, orders []models.CustomerOrder) ReconcileReport {
	report := ReconcileReport{LedgerEntries: len(entries), Incoming: len(records), Orders: len(orders)}

	claimedLedger := map[string]int{}
	claimedIncoming := map[string]int{}
	for i := range orders {
		o := &orders[i]
		if err := o.Validate(); err != nil {
			report.add("order", o.ID, err)
		}
		if !o.IsOpen() {
			continue
		}
		if o.VehicleStock.Available {
			claimedLedger[o.VehicleStock.Id] += o.VehicleStock.Stock
		}
		if o.MddpStock.Available {
			claimedIncoming[o.MddpStock.Id] += o.MddpStock.Stock
		}
	}

	for i := range entries {
		e := &entries[i]
		if err := e.Validate(); err != nil {
			report.add("ledger", e.ID, err)
		}
		claimed := claimedLedger[e.ID]
		delete(claimedLedger, e.ID)
		if claimed > e.BlockedCount {
			report.add("ledger", e.ID, fmt.Errorf("orders claim %d units, only %d blocked", claimed, e.BlockedCount))
		} else {
			report.UnclaimedBlocked += e.BlockedCount - claimed
		}
	}
	for i := range records {
		r := &records[i]
		if err := r.Validate(); err != nil {
			report.add("incoming", r.ID, err)
		}
		claimed := claimedIncoming[r.ID]
		delete(claimedIncoming, r.ID)
		if claimed > r.BlockedCount {
			report.add("incoming", r.ID, fmt.Errorf("orders claim %d units, only %d blocked", claimed, r.BlockedCount))
		} else {
			report.UnclaimedBlocked += r.BlockedCount - claimed
		}
	}
	for id, claimed := range claimedLedger {
		report.add("ledger", id, fmt.Errorf("orders claim %d units on a missing ledger entry", claimed))
	}
	for id, claimed := range claimedIncoming {
		report.add("incoming", id, fmt.Errorf("orders claim %d units on a missing incoming record", claimed))
	}
	return report
}
