package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/ims_backend/utils"
	"github.com/shopspring/decimal"
)

// StockRef is the order's cached view of what it holds on one stock pool.
type StockRef struct {
	Id        string `gorm:"size:36" json:"id"`
	Stock     int    `gorm:"not null;default:0" json:"stock"`
	Available bool   `gorm:"not null;default:false" json:"available"`
}

// Add adjusts the held quantity and recomputes Available.
func (r *StockRef) Add(n int) {
	r.Stock += n
	r.Available = r.Stock > 0
}

func (r *StockRef) Clear() {
	r.Stock = 0
	r.Available = false
}

type CustomerDetails struct {
	Name    string `gorm:"size:150" json:"name" validate:"required"`
	Phone   string `gorm:"size:20" json:"phone" validate:"required,in_mobile"`
	Email   string `gorm:"size:150" json:"email" validate:"omitempty,email"`
	Address string `gorm:"type:text" json:"address"`
	Pincode string `gorm:"size:6" json:"pincode" validate:"omitempty,pincode"`
	Aadhar  string `gorm:"size:12" json:"aadhar" validate:"omitempty,aadhar"`
	Pan     string `gorm:"size:10" json:"pan" validate:"omitempty,pan"`
}

type CustomerOrder struct {
	ID            string          `gorm:"primaryKey;size:36" json:"id"`
	BranchId      string          `gorm:"index;size:36;not null" json:"branch_id"`
	VehicleId     string          `gorm:"index;size:36;not null" json:"vehicle_id"`
	VariantId     string          `gorm:"index;size:36;not null" json:"variant_id"`
	Color         string          `gorm:"size:50;not null" json:"color"`
	Customer      CustomerDetails `gorm:"embedded;embeddedPrefix:customer_" json:"customer_details"`
	FinanceType   FinanceType     `gorm:"size:20" json:"finance_type"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total_amount"`
	OrderDate     time.Time       `json:"order_date"`
	ExpectedDate  time.Time       `gorm:"not null" json:"expected_date"`
	DeliveryDate  *time.Time      `json:"delivery_date"`
	TotalCount    int             `gorm:"not null;check:total_count > 0" json:"total_count"`
	OrderStatus   OrderStatus     `gorm:"index;size:20;not null" json:"order_status"`
	FinanceStatus FinanceStatus   `gorm:"size:20;not null" json:"finance_status"`
	// pool the order was originally served from
	AllocationSource AllocationSource `gorm:"size:10" json:"allocation_source"`
	VehicleStock     StockRef         `gorm:"embedded;embeddedPrefix:vehicle_stock_" json:"vehicle_stock"`
	MddpStock        StockRef         `gorm:"embedded;embeddedPrefix:mddp_stock_" json:"mddp_stock"`
	// units promised from an incoming record that was rejected or removed and released
	ShortfallCount int       `gorm:"not null;default:0;check:shortfall_count >= 0" json:"shortfall_count"`
	CreatedBy      string    `gorm:"size:100" json:"created_by"`
	UpdatedBy      string    `gorm:"size:100" json:"updated_by"`
	Version        int       `gorm:"not null;default:1" json:"version"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o *CustomerOrder) IsOpen() bool {
	return !o.OrderStatus.IsSettled()
}

// AllocatedCount is what the order currently accounts for across both pools.
func (o *CustomerOrder) AllocatedCount() int {
	return o.VehicleStock.Stock + o.MddpStock.Stock + o.ShortfallCount
}

// SyncStatuses applies the order / finance coupling rules.
func (o *CustomerOrder) SyncStatuses() {
	if o.FinanceStatus == FinanceStatusDeclined {
		o.OrderStatus = OrderStatusCancelled
	}
	switch o.OrderStatus {
	case OrderStatusCancelled:
		o.FinanceStatus = FinanceStatusDeclined
	case OrderStatusDelivered:
		o.FinanceStatus = FinanceStatusCompleted
	}
}

type NewCustomerOrder struct {
	BranchId      string          `json:"branch_id"`
	VehicleId     string          `json:"vehicle_id" binding:"required"`
	VariantId     string          `json:"variant_id" binding:"required"`
	Color         string          `json:"color" binding:"required"`
	Customer      CustomerDetails `json:"customer_details"`
	FinanceType   FinanceType     `json:"finance_type"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	OrderDate     *time.Time      `json:"order_date"`
	ExpectedDate  time.Time       `json:"expected_date" binding:"required"`
	DeliveryDate  *time.Time      `json:"delivery_date"`
	TotalCount    int             `json:"total_count" binding:"required"`
	OrderStatus   OrderStatus     `json:"order_status"`
	FinanceStatus FinanceStatus   `json:"finance_status"`
}

func (input *NewCustomerOrder) Validate() error {
	if strings.TrimSpace(input.BranchId) == "" || strings.TrimSpace(input.VehicleId) == "" || strings.TrimSpace(input.VariantId) == "" {
		return NewStockError(ErrKindInvalidInput, "branch, vehicle and variant are required")
	}
	if utils.NormalizeKey(input.Color) == "" {
		return NewStockError(ErrKindInvalidInput, "color is required")
	}
	if input.TotalCount <= 0 {
		return NewStockError(ErrKindInvalidInput, "total count must be greater than zero")
	}
	if input.ExpectedDate.IsZero() {
		return NewStockError(ErrKindInvalidInput, "expected date is required")
	}
	if input.TotalAmount.IsNegative() {
		return NewStockError(ErrKindInvalidInput, "total amount cannot be negative")
	}
	if input.OrderStatus == "" {
		input.OrderStatus = OrderStatusPending
	}
	if input.FinanceStatus == "" {
		input.FinanceStatus = FinanceStatusPending
	}
	if input.FinanceType == "" {
		input.FinanceType = FinanceTypeCash
	}
	if err := utils.ValidateStruct(&input.Customer); err != nil {
		return WrapStockError(ErrKindInvalidInput, err, "invalid customer details")
	}
	return nil
}

// Build creates the order without any stock references; the lifecycle manager fills them in.
func (input *NewCustomerOrder) Build(createdBy string, now time.Time) *CustomerOrder {
	orderDate := now
	if input.OrderDate != nil {
		orderDate = input.OrderDate.UTC()
	}
	customer := input.Customer
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Pan = strings.ToUpper(strings.TrimSpace(customer.Pan))
	customer.Email = strings.ToLower(strings.TrimSpace(customer.Email))
	return &CustomerOrder{
		ID:            uuid.NewString(),
		BranchId:      strings.TrimSpace(input.BranchId),
		VehicleId:     strings.TrimSpace(input.VehicleId),
		VariantId:     strings.TrimSpace(input.VariantId),
		Color:         utils.NormalizeKey(input.Color),
		Customer:      customer,
		FinanceType:   input.FinanceType,
		TotalAmount:   input.TotalAmount,
		OrderDate:     orderDate,
		ExpectedDate:  input.ExpectedDate.UTC(),
		DeliveryDate:  input.DeliveryDate,
		TotalCount:    input.TotalCount,
		OrderStatus:   input.OrderStatus,
		FinanceStatus: input.FinanceStatus,
		CreatedBy:     createdBy,
		UpdatedBy:     createdBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// OrderUpdate carries the optional edits of an order. Nil fields are left alone.
type OrderUpdate struct {
	TotalCount    *int           `json:"total_count"`
	ExpectedDate  *time.Time     `json:"expected_date"`
	OrderStatus   *OrderStatus   `json:"order_status"`
	FinanceStatus *FinanceStatus `json:"finance_status"`
}
