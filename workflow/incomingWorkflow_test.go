package workflow

import (
	"testing"

	"github.com/mmdatafocus/ims_backend/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) incomingInput(stock int) models.NewIncomingAllocation {
	return models.NewIncomingAllocation{
		VehicleId:    f.vehicle.ID,
		VariantId:    f.variantId,
		Color:        "Red",
		Stock:        stock,
		ExpectedDate: day(2025, 1, 1),
	}
}

func TestCreateIncomingDefaults(t *testing.T) {
	f := newFixture(t, 2)
	record, err := f.svc.CreateIncoming(f.ctx, f.incomingInput(5))
	require.NoError(t, err)

	assert.Equal(t, models.IncomingStatusRequested, record.Status)
	assert.Equal(t, models.PaymentStatusPending, record.Payment)
	assert.Equal(t, f.branch.ID, record.BranchId)
	assert.Equal(t, "red", record.Color)
	assert.Equal(t, models.StockCounter{Stock: 5}, record.StockCounter)
	assert.Equal(t, models.StockCounter{Stock: 2}, f.counter("red"))
}

func TestCreateIncomingCompleted(t *testing.T) {
	f := newFixture(t, 2)

	input := f.incomingInput(5)
	input.Status = models.IncomingStatusCompleted
	_, err := f.svc.CreateIncoming(f.ctx, input)
	requireKind(t, err, models.ErrKindPaymentIncomplete)

	input.Payment = models.PaymentStatusCompleted
	record, err := f.svc.CreateIncoming(f.ctx, input)
	require.NoError(t, err)
	assert.Equal(t, 5, record.ReceivedCount)
	assert.Equal(t, models.StockCounter{}, record.StockCounter)
	assert.Equal(t, models.StockCounter{Stock: 7}, f.counter("red"))
	checkConsistency(t, f.svc)
}

func TestCreateIncomingRejections(t *testing.T) {
	f := newFixture(t, 2)

	input := f.incomingInput(5)
	input.Status = models.IncomingStatusRejected
	_, err := f.svc.CreateIncoming(f.ctx, input)
	requireKind(t, err, models.ErrKindInvalidStateTransition)

	input = f.incomingInput(5)
	input.Color = " "
	_, err = f.svc.CreateIncoming(f.ctx, input)
	requireKind(t, err, models.ErrKindInvalidInput)

	input = f.incomingInput(0)
	_, err = f.svc.CreateIncoming(f.ctx, input)
	requireKind(t, err, models.ErrKindInvalidInput)

	input = f.incomingInput(5)
	input.Color = "Green"
	_, err = f.svc.CreateIncoming(f.ctx, input)
	requireKind(t, err, models.ErrKindNotFound)

	records, err := f.svc.ListIncoming(f.ctx, models.IncomingFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestIncomingTransitions(t *testing.T) {
	f := newFixture(t, 2)
	record, err := f.svc.CreateIncoming(f.ctx, f.incomingInput(5))
	require.NoError(t, err)

	_, err = f.svc.TransitionIncoming(f.ctx, record.ID, models.IncomingStatusCompleted, "")
	requireKind(t, err, models.ErrKindPaymentIncomplete)
	assert.Equal(t, models.IncomingStatusRequested, f.record(record.ID).Status)

	approved, err := f.svc.TransitionIncoming(f.ctx, record.ID, models.IncomingStatusApproved, "")
	require.NoError(t, err)
	assert.Equal(t, models.IncomingStatusApproved, approved.Status)

	_, err = f.svc.TransitionIncoming(f.ctx, record.ID, models.IncomingStatusCompleted, "")
	requireKind(t, err, models.ErrKindPaymentIncomplete)
	assert.Equal(t, models.IncomingStatusApproved, f.record(record.ID).Status)

	_, err = f.svc.TransitionIncoming(f.ctx, record.ID, models.IncomingStatusApproved, "Refunded")
	requireKind(t, err, models.ErrKindInvalidInput)

	paid, err := f.svc.UpdateIncoming(f.ctx, record.ID, models.IncomingUpdate{Payment: ptr(models.PaymentStatusCompleted)})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, paid.Payment)

	completed, err := f.svc.TransitionIncoming(f.ctx, record.ID, models.IncomingStatusCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, 5, completed.ReceivedCount)
	assert.Equal(t, models.StockCounter{Stock: 7}, f.counter("red"))

	_, err = f.svc.UpdateIncoming(f.ctx, record.ID, models.IncomingUpdate{Stock: ptr(9)})
	requireKind(t, err, models.ErrKindInvalidStateTransition)
	_, err = f.svc.TransitionIncoming(f.ctx, record.ID, models.IncomingStatusRejected, "")
	requireKind(t, err, models.ErrKindInvalidStateTransition)
	checkConsistency(t, f.svc)
}

func TestCompleteRequestedIncoming(t *testing.T) {
	f := newFixture(t, 0)
	record, err := f.svc.CreateIncoming(f.ctx, f.incomingInput(6))
	require.NoError(t, err)
	order := f.order(4, day(2025, 2, 1))
	require.Equal(t, record.ID, order.MddpStock.Id)
	require.Equal(t, models.StockCounter{Stock: 6, BlockedCount: 4}, f.record(record.ID).StockCounter)

	completed, err := f.svc.TransitionIncoming(f.ctx, record.ID, models.IncomingStatusCompleted, models.PaymentStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.IncomingStatusCompleted, completed.Status)
	assert.Equal(t, 6, completed.ReceivedCount)
	assert.Equal(t, models.StockCounter{}, completed.StockCounter)
	assert.Equal(t, models.StockCounter{Stock: 6, BlockedCount: 4}, f.counter("red"))

	moved := f.reload(order)
	assert.Equal(t, 4, moved.VehicleStock.Stock)
	assert.True(t, moved.VehicleStock.Available)
	assert.Equal(t, f.ledger("red").ID, moved.VehicleStock.Id)
	assert.Zero(t, moved.MddpStock.Stock)
	assert.False(t, moved.MddpStock.Available)

	_, err = f.deliver(moved)
	require.NoError(t, err)
	assert.Equal(t, models.StockCounter{Stock: 2}, f.counter("red"))
	checkConsistency(t, f.svc)
}

func TestIncomingTransitionMetrics(t *testing.T) {
	f := newFixture(t, 0)
	f.svc.Metrics = NewStockMetrics(prometheus.NewRegistry(), "test")
	record, err := f.svc.CreateIncoming(f.ctx, f.incomingInput(5))
	require.NoError(t, err)

	_, err = f.svc.TransitionIncoming(f.ctx, record.ID, models.IncomingStatusCompleted, "")
	require.Error(t, err)
	_, err = f.svc.TransitionIncoming(f.ctx, record.ID, models.IncomingStatusApproved, "")
	require.NoError(t, err)

	transitions := f.svc.Metrics.incomingTransitions
	assert.Equal(t, 1.0, testutil.ToFloat64(transitions.WithLabelValues("Requested", "Completed", "PaymentIncomplete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(transitions.WithLabelValues("Requested", "Approved", "ok")))
}

func TestRejectIncomingKeepsBlockedByDefault(t *testing.T) {
	f := newFixture(t, 0)
	record := f.incoming(10, day(2025, 1, 1))
	order := f.order(4, day(2025, 2, 1))

	rejected, err := f.svc.TransitionIncoming(f.ctx, record.ID, models.IncomingStatusRejected, "")
	require.NoError(t, err)
	assert.Equal(t, models.StockCounter{Stock: 10, BlockedCount: 4}, rejected.StockCounter)

	detached := f.reload(order)
	assert.Equal(t, 4, detached.MddpStock.Stock)
	assert.False(t, detached.MddpStock.Available)
	assert.Zero(t, detached.ShortfallCount)

	// the order can still be cancelled; nothing is handed back to the rejected record
	_, err = f.setStatus(order, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, 4, f.record(record.ID).BlockedCount)
	checkConsistency(t, f.svc)
}

func TestRejectIncomingCanReleaseBlocked(t *testing.T) {
	f := newFixture(t, 0)
	f.svc.ReleaseOnIncomingReject = true
	record := f.incoming(10, day(2025, 1, 1))
	order := f.order(4, day(2025, 2, 1))

	rejected, err := f.svc.TransitionIncoming(f.ctx, record.ID, models.IncomingStatusRejected, "")
	require.NoError(t, err)
	assert.Equal(t, models.StockCounter{Stock: 10}, rejected.StockCounter)

	short := f.reload(order)
	assert.Equal(t, 4, short.ShortfallCount)
	assert.Zero(t, short.MddpStock.Stock)

	cancelled, err := f.setStatus(order, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Zero(t, cancelled.ShortfallCount)
	report := checkConsistency(t, f.svc)
	assert.Zero(t, report.UnclaimedBlocked)
}

func TestUpdateIncomingFields(t *testing.T) {
	f := newFixture(t, 0)
	record := f.incoming(10, day(2025, 1, 1))
	f.order(4, day(2025, 2, 1))

	_, err := f.svc.UpdateIncoming(f.ctx, record.ID, models.IncomingUpdate{Stock: ptr(3)})
	requireKind(t, err, models.ErrKindInvalidInput)

	_, err = f.svc.UpdateIncoming(f.ctx, record.ID, models.IncomingUpdate{Color: ptr("Blue")})
	requireKind(t, err, models.ErrKindInvalidInput)

	updated, err := f.svc.UpdateIncoming(f.ctx, record.ID, models.IncomingUpdate{
		Stock:        ptr(4),
		ExpectedDate: ptr(day(2025, 1, 15)),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StockCounter{Stock: 4, BlockedCount: 4}, updated.StockCounter)
	assert.Equal(t, day(2025, 1, 15), updated.ExpectedDate)
	checkConsistency(t, f.svc)
}

func TestUpdateIncomingColor(t *testing.T) {
	f := newFixture(t, 0)
	record := f.incoming(10, day(2025, 1, 1))

	moved, err := f.svc.UpdateIncoming(f.ctx, record.ID, models.IncomingUpdate{Color: ptr(" BLUE ")})
	require.NoError(t, err)
	assert.Equal(t, "blue", moved.Color)

	_, err = f.svc.UpdateIncoming(f.ctx, record.ID, models.IncomingUpdate{Color: ptr("Green")})
	requireKind(t, err, models.ErrKindNotFound)

	blue, err := f.svc.ListIncoming(f.ctx, models.IncomingFilter{Color: "blue"})
	require.NoError(t, err)
	assert.Len(t, blue, 1)
}

func TestDeleteIncoming(t *testing.T) {
	f := newFixture(t, 0)
	record := f.incoming(10, day(2025, 1, 1))
	order := f.order(4, day(2025, 2, 1))

	require.NoError(t, f.svc.DeleteIncoming(f.ctx, record.ID))
	_, err := f.svc.GetIncoming(f.ctx, record.ID)
	requireKind(t, err, models.ErrKindNotFound)

	orphan := f.reload(order)
	assert.False(t, orphan.MddpStock.Available)
	_, err = f.deliver(order)
	requireKind(t, err, models.ErrKindIncomingNotArrived)

	_, err = f.setStatus(order, models.OrderStatusCancelled)
	require.NoError(t, err)
	checkConsistency(t, f.svc)
}

func TestDeleteTerminalIncomingFails(t *testing.T) {
	f := newFixture(t, 0)
	record := f.incoming(10, day(2025, 1, 1))
	_, err := f.svc.TransitionIncoming(f.ctx, record.ID, models.IncomingStatusRejected, "")
	require.NoError(t, err)

	err = f.svc.DeleteIncoming(f.ctx, record.ID)
	requireKind(t, err, models.ErrKindInvalidStateTransition)
}
