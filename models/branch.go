package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/ims_backend/utils"
)

type Branch struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:100;not null" json:"name"`
	Location  string    `gorm:"size:255" json:"location"`
	Contact   string    `gorm:"size:20" json:"contact"`
	CreatedBy string    `gorm:"size:100" json:"created_by"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBranch struct {
	Name     string `json:"name" binding:"required"`
	Location string `json:"location"`
	Contact  string `json:"contact"`
}

func (input *NewBranch) Validate() error {
	if strings.TrimSpace(input.Name) == "" {
		return NewStockError(ErrKindInvalidInput, "branch name is required")
	}
	if c := strings.TrimSpace(input.Contact); c != "" {
		if err := utils.ValidateIndianMobile(c); err != nil {
			return WrapStockError(ErrKindInvalidInput, err, "invalid branch contact")
		}
	}
	return nil
}

func (input *NewBranch) Build(createdBy string, now time.Time) *Branch {
	return &Branch{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(input.Name),
		Location:  strings.TrimSpace(input.Location),
		Contact:   strings.TrimSpace(input.Contact),
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
