package models_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mmdatafocus/ims_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openOrder() models.CustomerOrder {
	return models.CustomerOrder{
		ID:            "o-1",
		TotalCount:    5,
		OrderStatus:   models.OrderStatusPending,
		FinanceStatus: models.FinanceStatusPending,
		VehicleStock:  models.StockRef{Id: "l-1", Stock: 2, Available: true},
		MddpStock:     models.StockRef{Id: "m-1", Stock: 3, Available: true},
	}
}

func TestCustomerOrderValidate(t *testing.T) {
	o := openOrder()
	require.NoError(t, o.Validate())

	short := openOrder()
	short.MddpStock.Stock = 2
	assert.Equal(t, models.ErrKindInvariantViolation, models.KindOf(short.Validate()))

	withShortfall := openOrder()
	withShortfall.MddpStock.Clear()
	withShortfall.ShortfallCount = 3
	assert.NoError(t, withShortfall.Validate())

	flagged := openOrder()
	flagged.VehicleStock = models.StockRef{Id: "l-1", Available: true}
	flagged.MddpStock.Stock = 5
	assert.Error(t, flagged.Validate())

	settled := openOrder()
	settled.OrderStatus = models.OrderStatusCancelled
	settled.FinanceStatus = models.FinanceStatusDeclined
	assert.Error(t, settled.Validate(), "a cancelled order cannot hold stock")
	settled.VehicleStock.Clear()
	settled.MddpStock.Clear()
	assert.NoError(t, settled.Validate())

	settled.FinanceStatus = models.FinanceStatusPending
	assert.Error(t, settled.Validate())
}

func TestIncomingValidateRequiresPaymentWhenCompleted(t *testing.T) {
	r := models.IncomingAllocation{ID: "m-1", Status: models.IncomingStatusCompleted, Payment: models.PaymentStatusPending}
	err := r.Validate()
	require.Error(t, err)
	assert.Equal(t, models.ErrKindInvariantViolation, models.KindOf(err))

	r.Payment = models.PaymentStatusCompleted
	assert.NoError(t, r.Validate())
}

func TestStockLockKeyNormalizesColor(t *testing.T) {
	assert.Equal(t,
		models.StockLockKey("v", "x", "b", "red"),
		models.StockLockKey("v", "x", "b", "  RED "))
	assert.NotEqual(t,
		models.StockLockKey("v", "x", "b1", "red"),
		models.StockLockKey("v", "x", "b2", "red"))

	o := models.CustomerOrder{VehicleId: "v", VariantId: "x", BranchId: "b", Color: "red"}
	r := models.IncomingAllocation{VehicleId: "v", VariantId: "x", BranchId: "b", Color: "red"}
	assert.Equal(t, o.LockKey(), r.LockKey())
}

func TestStockErrorMatching(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", models.NewStockError(models.ErrKindOverRelease, "cannot release %d", 3))
	assert.True(t, errors.Is(err, models.ErrOverRelease))
	assert.False(t, errors.Is(err, models.ErrInsufficientStock))
	assert.Equal(t, models.ErrKindOverRelease, models.KindOf(err))
	assert.True(t, models.IsBusinessRejection(err))
	assert.False(t, models.IsRetryable(err))

	assert.True(t, models.IsRetryable(models.NewStockError(models.ErrKindLockTimeout, "busy")))
	conflict := fmt.Errorf("save: %w", models.NewStockError(models.ErrKindConcurrentModification, "order o1 was modified concurrently"))
	assert.True(t, errors.Is(conflict, models.ErrConcurrentModification))
	assert.True(t, models.IsRetryable(conflict))
	broken := models.NewStockError(models.ErrKindInvariantViolation, "blocked count 3 exceeds stock 2")
	assert.True(t, errors.Is(broken, models.ErrInvariantViolation))
	assert.False(t, models.IsRetryable(broken))
	assert.False(t, models.IsBusinessRejection(broken))
	assert.Equal(t, models.ErrorKind(""), models.KindOf(errors.New("plain")))
}

func TestNewCustomerOrderValidateDefaults(t *testing.T) {
	input := models.NewCustomerOrder{
		BranchId:     "b",
		VehicleId:    "v",
		VariantId:    "x",
		Color:        "Red",
		TotalCount:   1,
		ExpectedDate: time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC),
		Customer:     models.CustomerDetails{Name: "Asha", Phone: "9876543210"},
	}
	require.NoError(t, input.Validate())
	assert.Equal(t, models.OrderStatusPending, input.OrderStatus)
	assert.Equal(t, models.FinanceStatusPending, input.FinanceStatus)
	assert.Equal(t, models.FinanceTypeCash, input.FinanceType)

	order := input.Build("tester", time.Now().UTC())
	assert.Equal(t, "red", order.Color)
	assert.Equal(t, "tester", order.CreatedBy)

	bad := input
	bad.Customer.Phone = "12345"
	err := bad.Validate()
	require.Error(t, err)
	assert.Equal(t, models.ErrKindInvalidInput, models.KindOf(err))

	bad = input
	bad.TotalCount = 0
	assert.Equal(t, models.ErrKindInvalidInput, models.KindOf(bad.Validate()))
}

func TestNewVariantSameAsIgnoresCaseAndFeatureOrder(t *testing.T) {
	existing := models.Variant{Name: "XZ Plus", Type: "SUV", Engine: 1199, Fuel: "Petrol", Seating: 5, Features: []string{"Sunroof", "ABS"}}
	input := models.NewVariant{Name: " xz plus", Type: "suv", Engine: 1199, Fuel: "PETROL", Seating: 5, Features: []string{"abs", "sunroof"}}
	assert.True(t, input.SameAs(&existing))

	input.Engine = 1497
	assert.False(t, input.SameAs(&existing))
}

func TestNewVariantValidateRejectsDuplicateColors(t *testing.T) {
	input := models.NewVariant{Name: "XZ", Colors: []models.NewColorStock{{Color: "Red", Stock: 1}, {Color: " red", Stock: 2}}}
	assert.Equal(t, models.ErrKindInvalidInput, models.KindOf(input.Validate()))

	input.Colors = nil
	assert.Equal(t, models.ErrKindInvalidInput, models.KindOf(input.Validate()))
}
