package workflow

import (
	"testing"

	"github.com/mmdatafocus/ims_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildReconcileReportClean(t *testing.T) {
	entries := []models.ColorStock{{ID: "l1", StockCounter: models.StockCounter{Stock: 10, BlockedCount: 6}}}
	records := []models.IncomingAllocation{{ID: "i1", Status: models.IncomingStatusApproved, StockCounter: models.StockCounter{Stock: 10, BlockedCount: 3}}}
	orders := []models.CustomerOrder{{
		ID:            "o1",
		TotalCount:    7,
		OrderStatus:   models.OrderStatusPending,
		FinanceStatus: models.FinanceStatusPending,
		VehicleStock:  models.StockRef{Id: "l1", Stock: 4, Available: true},
		MddpStock:     models.StockRef{Id: "i1", Stock: 3, Available: true},
	}}

	report := buildReconcileReport(entries, records, orders)
	assert.True(t, report.OK())
	assert.Equal(t, 2, report.UnclaimedBlocked)
	assert.Equal(t, 1, report.LedgerEntries)
	assert.Equal(t, 1, report.Incoming)
	assert.Equal(t, 1, report.Orders)
}

func TestBuildReconcileReportViolations(t *testing.T) {
	entries := []models.ColorStock{
		{ID: "l1", StockCounter: models.StockCounter{Stock: 2, BlockedCount: 2}},
		{ID: "l2", StockCounter: models.StockCounter{Stock: 1, BlockedCount: 3}},
	}
	orders := []models.CustomerOrder{
		{
			ID:            "over",
			TotalCount:    5,
			OrderStatus:   models.OrderStatusPending,
			FinanceStatus: models.FinanceStatusPending,
			VehicleStock:  models.StockRef{Id: "l1", Stock: 5, Available: true},
		},
		{
			ID:            "short",
			TotalCount:    4,
			OrderStatus:   models.OrderStatusDispatched,
			FinanceStatus: models.FinanceStatusPending,
			VehicleStock:  models.StockRef{Id: "l1", Stock: 1, Available: true},
		},
		{
			ID:            "ghost",
			TotalCount:    1,
			OrderStatus:   models.OrderStatusPending,
			FinanceStatus: models.FinanceStatusPending,
			MddpStock:     models.StockRef{Id: "gone", Stock: 1, Available: true},
		},
	}

	report := buildReconcileReport(entries, nil, orders)
	require.False(t, report.OK())

	byId := map[string]Violation{}
	for _, v := range report.Violations {
		byId[v.Entity+"/"+v.Id] = v
	}
	assert.Contains(t, byId, "order/short")
	assert.Contains(t, byId, "ledger/l1")
	assert.Contains(t, byId, "ledger/l2")
	assert.Contains(t, byId, "incoming/gone")
	assert.NotContains(t, byId, "order/over")
	assert.Len(t, report.Violations, 4)
}

func TestReconcileLiveStore(t *testing.T) {
	f := newFixture(t, 4)
	f.mixedOrder()
	report := checkConsistency(t, f.svc)
	assert.Equal(t, 2, report.LedgerEntries)
	assert.Equal(t, 1, report.Incoming)
	assert.Equal(t, 1, report.Orders)
	assert.Zero(t, report.UnclaimedBlocked)
}
