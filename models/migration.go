package models

import (
	"fmt"

	"gorm.io/gorm"
)

// versionedModels carry the optimistic-lock column read by saveVersioned.
func versionedModels() []any {
	return []any{&ColorStock{}, &IncomingAllocation{}, &CustomerOrder{}}
}

// stockCheckConstraints names the CHECK constraints derived from the counter tags.
// They back up the in-process invariant checks when rows are written outside the service.
func stockCheckConstraints() map[any][]string {
	return map[any][]string{
		&ColorStock{}: {
			"chk_color_stocks_stock",
			"chk_color_stocks_blocked_count",
		},
		&IncomingAllocation{}: {
			"chk_incoming_allocations_stock",
			"chk_incoming_allocations_blocked_count",
			"chk_incoming_allocations_received_count",
		},
		&CustomerOrder{}: {
			"chk_customer_orders_total_count",
			"chk_customer_orders_shortfall_count",
		},
	}
}

func MigrateTable(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Branch{},
		&Vehicle{}, &Variant{}, &ColorStock{},
		&IncomingAllocation{},
		&CustomerOrder{},
		&StockEvent{},
	); err != nil {
		return err
	}
	if err := backfillVersions(db); err != nil {
		return err
	}
	return ensureCheckConstraints(db)
}

// backfillVersions lifts rows written before versioning (or by hand) to version 1.
// saveVersioned treats version 0 as a fresh row and would try to insert it again.
func backfillVersions(db *gorm.DB) error {
	for _, model := range versionedModels() {
		if err := db.Model(model).Where("version < ?", 1).Update("version", 1).Error; err != nil {
			return fmt.Errorf("backfill version: %w", err)
		}
	}
	return nil
}

func ensureCheckConstraints(db *gorm.DB) error {
	m := db.Migrator()
	for model, names := range stockCheckConstraints() {
		for _, name := range names {
			if m.HasConstraint(model, name) {
				continue
			}
			if err := m.CreateConstraint(model, name); err != nil {
				return fmt.Errorf("create constraint %s: %w", name, err)
			}
		}
	}
	return nil
}
