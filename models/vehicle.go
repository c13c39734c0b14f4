package models

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/ims_backend/utils"
	"github.com/shopspring/decimal"
)

type Vehicle struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	BranchId        string    `gorm:"index;size:36;not null" json:"branch_id"`
	Brand           string    `gorm:"size:100;not null" json:"brand"`
	Model           string    `gorm:"size:100;not null" json:"model"`
	NormalizedBrand string    `gorm:"index:idx_vehicle_name;size:100;not null" json:"-"`
	NormalizedModel string    `gorm:"index:idx_vehicle_name;size:100;not null" json:"-"`
	CreatedBy       string    `gorm:"size:100" json:"created_by"`
	UpdatedBy       string    `gorm:"size:100" json:"updated_by"`
	Variants        []Variant `gorm:"foreignKey:VehicleId" json:"variants"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Variant struct {
	ID           string          `gorm:"primaryKey;size:36" json:"id"`
	VehicleId    string          `gorm:"index;size:36;not null" json:"vehicle_id"`
	Name         string          `gorm:"size:100;not null" json:"name"`
	Type         string          `gorm:"size:50" json:"type"`
	Engine       int             `json:"engine"`
	Transmission string          `gorm:"size:50" json:"transmission"`
	Fuel         string          `gorm:"size:50" json:"fuel"`
	Seating      int             `json:"seating"`
	Features     []string        `gorm:"serializer:json;type:text" json:"features"`
	Price        decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"price"`
	Colors       []ColorStock    `gorm:"foreignKey:VariantId" json:"colors"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ColorStock is the stock ledger entry for one (vehicle, variant, color).
type ColorStock struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	VehicleId string `gorm:"index;size:36;not null" json:"vehicle_id"`
	VariantId string `gorm:"uniqueIndex:idx_variant_color;size:36;not null" json:"variant_id"`
	Color     string `gorm:"uniqueIndex:idx_variant_color;size:50;not null" json:"color"`
	StockCounter
	Version   int       `gorm:"not null;default:1" json:"version"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (v *Vehicle) FindVariant(variantId string) (*Variant, bool) {
	for i := range v.Variants {
		if v.Variants[i].ID == variantId {
			return &v.Variants[i], true
		}
	}
	return nil, false
}

func (v *Variant) FindColor(color string) (*ColorStock, bool) {
	color = utils.NormalizeKey(color)
	for i := range v.Colors {
		if v.Colors[i].Color == color {
			return &v.Colors[i], true
		}
	}
	return nil, false
}

type NewColorStock struct {
	Color string `json:"color" binding:"required"`
	Stock int    `json:"stock"`
}

type NewVariant struct {
	Name         string          `json:"name" binding:"required"`
	Type         string          `json:"type"`
	Engine       int             `json:"engine"`
	Transmission string          `json:"transmission"`
	Fuel         string          `json:"fuel"`
	Seating      int             `json:"seating"`
	Features     []string        `json:"features"`
	Price        decimal.Decimal `json:"price"`
	Colors       []NewColorStock `json:"colors"`
}

type NewVehicle struct {
	BranchId string     `json:"branch_id" binding:"required"`
	Brand    string     `json:"brand" binding:"required"`
	Model    string     `json:"model" binding:"required"`
	Variant  NewVariant `json:"variant"`
}

func (input *NewVehicle) Validate() error {
	if strings.TrimSpace(input.BranchId) == "" {
		return NewStockError(ErrKindInvalidInput, "branch is required")
	}
	if utils.NormalizeKey(input.Brand) == "" || utils.NormalizeKey(input.Model) == "" {
		return NewStockError(ErrKindInvalidInput, "brand and model are required")
	}
	return input.Variant.Validate()
}

func (input *NewVariant) Validate() error {
	if utils.NormalizeKey(input.Name) == "" {
		return NewStockError(ErrKindInvalidInput, "variant name is required")
	}
	if input.Price.IsNegative() {
		return NewStockError(ErrKindInvalidInput, "variant price cannot be negative")
	}
	if len(input.Colors) == 0 {
		return NewStockError(ErrKindInvalidInput, "variant needs at least one color")
	}
	seen := make(map[string]struct{}, len(input.Colors))
	for _, c := range input.Colors {
		key := utils.NormalizeKey(c.Color)
		if key == "" {
			return NewStockError(ErrKindInvalidInput, "color is required")
		}
		if c.Stock < 0 {
			return NewStockError(ErrKindInvalidInput, "stock for color %s cannot be negative", key)
		}
		if _, dup := seen[key]; dup {
			return NewStockError(ErrKindInvalidInput, "color %s listed twice", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func normalizedFeatures(features []string) []string {
	out := make([]string, 0, len(features))
	for _, f := range features {
		if n := utils.NormalizeKey(f); n != "" {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out
}

// SameAs reports whether input describes the existing variant, comparing normalized fields.
func (input *NewVariant) SameAs(v *Variant) bool {
	return utils.NormalizeKey(v.Name) == utils.NormalizeKey(input.Name) &&
		utils.NormalizeKey(v.Type) == utils.NormalizeKey(input.Type) &&
		v.Engine == input.Engine &&
		utils.NormalizeKey(v.Transmission) == utils.NormalizeKey(input.Transmission) &&
		utils.NormalizeKey(v.Fuel) == utils.NormalizeKey(input.Fuel) &&
		v.Seating == input.Seating &&
		slices.Equal(normalizedFeatures(v.Features), normalizedFeatures(input.Features))
}

func (input *NewVariant) Build(vehicleId string, now time.Time) Variant {
	variant := Variant{
		ID:           uuid.NewString(),
		VehicleId:    vehicleId,
		Name:         strings.TrimSpace(input.Name),
		Type:         strings.TrimSpace(input.Type),
		Engine:       input.Engine,
		Transmission: strings.TrimSpace(input.Transmission),
		Fuel:         strings.TrimSpace(input.Fuel),
		Seating:      input.Seating,
		Features:     slices.Clone(input.Features),
		Price:        input.Price,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, c := range input.Colors {
		variant.Colors = append(variant.Colors, ColorStock{
			ID:           uuid.NewString(),
			VehicleId:    vehicleId,
			VariantId:    variant.ID,
			Color:        utils.NormalizeKey(c.Color),
			StockCounter: StockCounter{Stock: c.Stock},
			UpdatedAt:    now,
		})
	}
	return variant
}

func (input *NewVehicle) Build(createdBy string, now time.Time) *Vehicle {
	vehicle := &Vehicle{
		ID:              uuid.NewString(),
		BranchId:        strings.TrimSpace(input.BranchId),
		Brand:           strings.TrimSpace(input.Brand),
		Model:           strings.TrimSpace(input.Model),
		NormalizedBrand: utils.NormalizeKey(input.Brand),
		NormalizedModel: utils.NormalizeKey(input.Model),
		CreatedBy:       createdBy,
		UpdatedBy:       createdBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	vehicle.Variants = []Variant{input.Variant.Build(vehicle.ID, now)}
	return vehicle
}
