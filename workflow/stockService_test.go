package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/mmdatafocus/ims_backend/models"
	"github.com/mmdatafocus/ims_backend/utils"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 11, 15, 9, 30, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestService(store models.StockStore) *StockService {
	return &StockService{
		Store:            store,
		Locker:           utils.NewKeyMutex(),
		Logger:           quietLogger(),
		LockBackend:      "memory",
		StrictInvariants: true,
		Now:              func() time.Time { return fixedNow },
	}
}

// fixture is one branch carrying one vehicle whose variant has a red and a blue ledger entry.
type fixture struct {
	t         *testing.T
	ctx       context.Context
	store     *models.MemoryStore
	svc       *StockService
	branch    *models.Branch
	vehicle   *models.Vehicle
	variantId string
}

func newFixture(t *testing.T, redStock int) *fixture {
	t.Helper()
	store := models.NewMemoryStore()
	svc := newTestService(store)
	ctx := utils.SetUsernameInContext(context.Background(), "tester")

	branch, err := svc.CreateBranch(ctx, models.NewBranch{Name: "Pune Central", Contact: "9876543210"})
	require.NoError(t, err)
	vehicle, err := svc.AddVehicle(ctx, models.NewVehicle{
		BranchId: branch.ID,
		Brand:    "Tata",
		Model:    "Nexon",
		Variant: models.NewVariant{
			Name:   "XZ Plus",
			Fuel:   "Petrol",
			Colors: []models.NewColorStock{{Color: "Red", Stock: redStock}, {Color: "Blue", Stock: 3}},
		},
	})
	require.NoError(t, err)
	return &fixture{
		t:         t,
		ctx:       ctx,
		store:     store,
		svc:       svc,
		branch:    branch,
		vehicle:   vehicle,
		variantId: vehicle.Variants[0].ID,
	}
}

func (f *fixture) ledger(color string) models.ColorStock {
	f.t.Helper()
	var entry *models.ColorStock
	require.NoError(f.t, f.store.RunInTransaction(f.ctx, func(tx models.StockTx) error {
		var err error
		entry, err = tx.GetLedgerEntry(f.vehicle.ID, f.variantId, color)
		return err
	}))
	return *entry
}

func (f *fixture) counter(color string) models.StockCounter {
	return f.ledger(color).StockCounter
}

func (f *fixture) incoming(stock int, expected time.Time) *models.IncomingAllocation {
	f.t.Helper()
	record, err := f.svc.CreateIncoming(f.ctx, models.NewIncomingAllocation{
		VehicleId:    f.vehicle.ID,
		VariantId:    f.variantId,
		Color:        "red",
		Stock:        stock,
		ExpectedDate: expected,
		Status:       models.IncomingStatusApproved,
	})
	require.NoError(f.t, err)
	return record
}

func (f *fixture) record(id string) models.IncomingAllocation {
	f.t.Helper()
	record, err := f.svc.GetIncoming(f.ctx, id)
	require.NoError(f.t, err)
	return *record
}

func (f *fixture) orderInput(qty int, expected time.Time) models.NewCustomerOrder {
	return models.NewCustomerOrder{
		BranchId:     f.branch.ID,
		VehicleId:    f.vehicle.ID,
		VariantId:    f.variantId,
		Color:        "Red",
		Customer:     models.CustomerDetails{Name: "Asha Kulkarni", Phone: "9876543210"},
		ExpectedDate: expected,
		TotalCount:   qty,
	}
}

func (f *fixture) order(qty int, expected time.Time) *models.CustomerOrder {
	f.t.Helper()
	order, err := f.svc.CreateOrder(f.ctx, f.orderInput(qty, expected))
	require.NoError(f.t, err)
	return order
}

func (f *fixture) reload(order *models.CustomerOrder) *models.CustomerOrder {
	f.t.Helper()
	got, err := f.svc.GetOrder(f.ctx, order.ID)
	require.NoError(f.t, err)
	return got
}

func (f *fixture) allocate(qty int, expected time.Time) (*Allocation, error) {
	return f.svc.Allocate(f.ctx, AllocationRequest{
		VehicleId:    f.vehicle.ID,
		VariantId:    f.variantId,
		Color:        "red",
		Quantity:     qty,
		ExpectedDate: expected,
	})
}

func (f *fixture) lockKey(color string) string {
	return models.StockLockKey(f.vehicle.ID, f.variantId, f.branch.ID, color)
}

// checkConsistency runs the cross-entity reconciliation and fails on any violation.
func checkConsistency(t *testing.T, svc *StockService) *ReconcileReport {
	t.Helper()
	report, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	require.True(t, report.OK(), "violations: %+v", report.Violations)
	return report
}

func requireKind(t *testing.T, err error, kind models.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, models.KindOf(err), "error: %v", err)
}

func TestWithKeyLockTimesOut(t *testing.T) {
	f := newFixture(t, 10)
	f.svc.LockWaitTimeout = 20 * time.Millisecond

	release, err := f.svc.Locker.Acquire(f.ctx, f.lockKey("red"))
	require.NoError(t, err)
	defer release()

	_, err = f.allocate(1, day(2025, 1, 1))
	requireKind(t, err, models.ErrKindLockTimeout)
	assert.True(t, models.IsRetryable(err))
	assert.Equal(t, models.StockCounter{Stock: 10}, f.counter("red"))
}

func TestWithKeyLocksTakesKeysOnce(t *testing.T) {
	f := newFixture(t, 1)
	calls := 0
	err := f.svc.withKeyLocks(f.ctx, []string{"b", "a", "b"}, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, f.svc.Locker.(*utils.KeyMutex).Len())
}

func TestCheckedTxRejectsBrokenCounters(t *testing.T) {
	f := newFixture(t, 2)
	err := f.svc.inTx(f.ctx, func(tx models.StockTx) error {
		entry, err := tx.GetLedgerEntry(f.vehicle.ID, f.variantId, "red")
		if err != nil {
			return err
		}
		entry.BlockedCount = 3
		return tx.SaveLedgerEntry(entry)
	})
	requireKind(t, err, models.ErrKindInvariantViolation)
	assert.Equal(t, models.StockCounter{Stock: 2}, f.counter("red"))
}

func TestLogOutcomeLevels(t *testing.T) {
	f := newFixture(t, 2)
	logger, hook := logtest.NewNullLogger()
	f.svc.Logger = logger
	ctx := utils.SetRequestPathInContext(f.ctx, "POST /api/orders")

	f.svc.logOutcome(ctx, "CreateOrder", logrus.Fields{"order_id": "o1"}, nil)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "POST /api/orders", entry.Data["path"])
	assert.Equal(t, "tester", entry.Data["username"])

	f.svc.logOutcome(ctx, "CreateOrder", nil, models.NewStockError(models.ErrKindInsufficientStock, "only 2 left"))
	entry = hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "InsufficientStock", entry.Data["kind"])

	broken := fmt.Errorf("save ledger: %w", models.NewStockError(models.ErrKindInvariantViolation, "blocked count 3 exceeds stock 2"))
	f.svc.logOutcome(ctx, "CreateOrder", nil, broken)
	entry = hook.LastEntry()
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "stock invariant violated", entry.Data["context"])
	assert.Len(t, hook.AllEntries(), 3)
}

func TestWritesAppendOutboxEvents(t *testing.T) {
	f := newFixture(t, 5)
	ctx := utils.SetCorrelationIdInContext(f.ctx, "corr-1")
	_, err := f.svc.CreateOrder(ctx, f.orderInput(2, day(2025, 1, 1)))
	require.NoError(t, err)

	events := f.store.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, models.StockEventOrderCreated, last.EventType)
	assert.Equal(t, f.lockKey("red"), last.LockKey)
	assert.Equal(t, "corr-1", last.CorrelationId)
	assert.Equal(t, "tester", last.Username)
	assert.Equal(t, models.OutboxPublishStatusPending, last.PublishStatus)
}

func TestRejectedWriteAppendsNoEvent(t *testing.T) {
	f := newFixture(t, 1)
	before := len(f.store.Events())
	_, err := f.svc.CreateOrder(f.ctx, f.orderInput(5, day(2025, 1, 1)))
	require.True(t, errors.Is(err, models.ErrInsufficientStock))
	assert.Len(t, f.store.Events(), before)
}
