package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/ims_backend/utils"
)

// IncomingAllocation is a backlog (MDDP) record: stock ordered from the manufacturer that
// has not arrived yet but can already be promised to customers.
type IncomingAllocation struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	BranchId  string `gorm:"index;size:36;not null" json:"branch_id"`
	VehicleId string `gorm:"index;size:36;not null" json:"vehicle_id"`
	VariantId string `gorm:"index:idx_incoming_key;size:36;not null" json:"variant_id"`
	Color     string `gorm:"index:idx_incoming_key;size:50;not null" json:"color"`
	StockCounter
	// quantity moved onto the ledger when the record completed
	ReceivedCount int            `gorm:"not null;default:0;check:received_count >= 0" json:"received_count"`
	ExpectedDate  time.Time      `gorm:"not null" json:"expected_date"`
	Status        IncomingStatus `gorm:"index;size:20;not null" json:"status"`
	Payment       PaymentStatus  `gorm:"size:20;not null" json:"payment"`
	CreatedBy     string         `gorm:"size:100" json:"created_by"`
	UpdatedBy     string         `gorm:"size:100" json:"updated_by"`
	Version       int            `gorm:"not null;default:1" json:"version"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActive reports whether the record can still take allocations.
func (r *IncomingAllocation) IsActive() bool {
	return !r.Status.IsTerminal()
}

type NewIncomingAllocation struct {
	VehicleId    string         `json:"vehicle_id" binding:"required"`
	VariantId    string         `json:"variant_id" binding:"required"`
	Color        string         `json:"color" binding:"required"`
	Stock        int            `json:"stock"`
	ExpectedDate time.Time      `json:"expected_date" binding:"required"`
	Status       IncomingStatus `json:"status"`
	Payment      PaymentStatus  `json:"payment"`
}

func (input *NewIncomingAllocation) Validate() error {
	if strings.TrimSpace(input.VehicleId) == "" || strings.TrimSpace(input.VariantId) == "" {
		return NewStockError(ErrKindInvalidInput, "vehicle and variant are required")
	}
	if utils.NormalizeKey(input.Color) == "" {
		return NewStockError(ErrKindInvalidInput, "color is required")
	}
	if input.Stock <= 0 {
		return NewStockError(ErrKindInvalidInput, "stock must be greater than zero")
	}
	if input.ExpectedDate.IsZero() {
		return NewStockError(ErrKindInvalidInput, "expected date is required")
	}
	if input.Status == "" {
		input.Status = IncomingStatusRequested
	}
	if input.Payment == "" {
		input.Payment = PaymentStatusPending
	}
	return nil
}

func (input *NewIncomingAllocation) Build(branchId string, createdBy string, now time.Time) *IncomingAllocation {
	return &IncomingAllocation{
		ID:           uuid.NewString(),
		BranchId:     branchId,
		VehicleId:    strings.TrimSpace(input.VehicleId),
		VariantId:    strings.TrimSpace(input.VariantId),
		Color:        utils.NormalizeKey(input.Color),
		StockCounter: StockCounter{Stock: input.Stock},
		ExpectedDate: input.ExpectedDate.UTC(),
		Status:       input.Status,
		Payment:      input.Payment,
		CreatedBy:    createdBy,
		UpdatedBy:    createdBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IncomingUpdate carries the optional edits of an incoming record. Nil fields are left alone.
type IncomingUpdate struct {
	Color        *string         `json:"color"`
	Stock        *int            `json:"stock"`
	ExpectedDate *time.Time      `json:"expected_date"`
	Status       *IncomingStatus `json:"status"`
	Payment      *PaymentStatus  `json:"payment"`
}
