package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps stock state in MySQL. Rows touched by a mutation are read FOR UPDATE and
// written back with a version check, so two instances cannot silently overwrite each other.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) RunInTransaction(ctx context.Context, fn func(tx StockTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

type gormTx struct {
	db *gorm.DB
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// ER_CHECK_CONSTRAINT_VIOLATED, raised by the counter checks MigrateTable installs
func isCheckViolationErr(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 3819
}

func mapGormErr(err error, entity string, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFoundError(entity, id)
	}
	if isDuplicateKeyErr(err) {
		return WrapStockError(ErrKindInvalidInput, err, "%s %s already exists", entity, id)
	}
	if isCheckViolationErr(err) {
		return WrapStockError(ErrKindInvariantViolation, err, "%s %s breaks a stock constraint", entity, id)
	}
	return fmt.Errorf("%s %s: %w", entity, id, err)
}

func (tx *gormTx) locked() *gorm.DB {
	return tx.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// saveVersioned inserts a row that has never been stored (version 0) or updates it only
// if nobody else has bumped its version since it was read.
func (tx *gormTx) saveVersioned(model any, version *int, entity string, id string) error {
	old := *version
	if old == 0 {
		*version = 1
		if err := tx.db.Create(model).Error; err != nil {
			*version = old
			return mapGormErr(err, entity, id)
		}
		return nil
	}
	*version = old + 1
	result := tx.db.Model(model).Where("version = ?", old).Select("*").Omit("id", "created_at").Updates(model)
	if result.Error != nil {
		*version = old
		return mapGormErr(result.Error, entity, id)
	}
	if result.RowsAffected == 0 {
		*version = old
		return NewStockError(ErrKindConcurrentModification, "%s %s was modified concurrently", entity, id)
	}
	return nil
}

func (tx *gormTx) GetBranch(id string) (*Branch, error) {
	var b Branch
	if err := tx.db.Where("id = ?", id).First(&b).Error; err != nil {
		return nil, mapGormErr(err, "branch", id)
	}
	return &b, nil
}

func (tx *gormTx) ListBranches() ([]Branch, error) {
	var branches []Branch
	err := tx.db.Order("name").Find(&branches).Error
	return branches, err
}

func (tx *gormTx) SaveBranch(b *Branch) error {
	return mapGormErr(tx.db.Save(b).Error, "branch", b.Name)
}

func (tx *gormTx) DeleteBranch(id string) error {
	result := tx.db.Where("id = ?", id).Delete(&Branch{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return NotFoundError("branch", id)
	}
	return nil
}

func (tx *gormTx) withCatalog() *gorm.DB {
	return tx.db.
		Preload("Variants", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Preload("Variants.Colors", func(db *gorm.DB) *gorm.DB { return db.Order("color ASC") })
}

func (tx *gormTx) GetVehicle(id string) (*Vehicle, error) {
	var v Vehicle
	if err := tx.withCatalog().Where("id = ?", id).First(&v).Error; err != nil {
		return nil, mapGormErr(err, "vehicle", id)
	}
	return &v, nil
}

func (tx *gormTx) FindVehicleByName(branchId, normalizedBrand, normalizedModel string) (*Vehicle, error) {
	var vehicles []Vehicle
	err := tx.withCatalog().
		Where("branch_id = ? AND normalized_brand = ? AND normalized_model = ?", branchId, normalizedBrand, normalizedModel).
		Limit(1).Find(&vehicles).Error
	if err != nil {
		return nil, err
	}
	if len(vehicles) == 0 {
		return nil, nil
	}
	return &vehicles[0], nil
}

func (tx *gormTx) ListVehicles(branchId string) ([]Vehicle, error) {
	q := tx.withCatalog().Order("created_at DESC, id ASC")
	if branchId != "" {
		q = q.Where("branch_id = ?", branchId)
	}
	var vehicles []Vehicle
	err := q.Find(&vehicles).Error
	return vehicles, err
}

func (tx *gormTx) SaveVehicle(v *Vehicle) error {
	if err := tx.db.Omit(clause.Associations).Save(v).Error; err != nil {
		return mapGormErr(err, "vehicle", v.ID)
	}
	for i := range v.Variants {
		variant := &v.Variants[i]
		variant.VehicleId = v.ID
		if err := tx.db.Omit(clause.Associations).Save(variant).Error; err != nil {
			return mapGormErr(err, "variant", variant.ID)
		}
		for j := range variant.Colors {
			entry := &variant.Colors[j]
			if entry.Version > 0 {
				continue
			}
			entry.VehicleId = v.ID
			entry.VariantId = variant.ID
			if err := tx.saveVersioned(entry, &entry.Version, "ledger entry", entry.Color); err != nil {
				return err
			}
		}
	}
	return nil
}

func (tx *gormTx) DeleteVariant(vehicleId, variantId string) error {
	if err := tx.db.Where("variant_id = ?", variantId).Delete(&ColorStock{}).Error; err != nil {
		return err
	}
	result := tx.db.Where("id = ? AND vehicle_id = ?", variantId, vehicleId).Delete(&Variant{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return NotFoundError("variant", variantId)
	}
	return nil
}

func (tx *gormTx) DeleteVehicle(id string) error {
	if err := tx.db.Where("vehicle_id = ?", id).Delete(&ColorStock{}).Error; err != nil {
		return err
	}
	if err := tx.db.Where("vehicle_id = ?", id).Delete(&Variant{}).Error; err != nil {
		return err
	}
	result := tx.db.Where("id = ?", id).Delete(&Vehicle{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return NotFoundError("vehicle", id)
	}
	return nil
}

func (tx *gormTx) GetLedgerEntry(vehicleId, variantId, color string) (*ColorStock, error) {
	var e ColorStock
	err := tx.locked().
		Where("vehicle_id = ? AND variant_id = ? AND color = ?", vehicleId, variantId, color).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewStockError(ErrKindNotFound, "no %s stock for variant %s of vehicle %s", color, variantId, vehicleId)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (tx *gormTx) ListLedgerEntries() ([]ColorStock, error) {
	var entries []ColorStock
	err := tx.db.Order("vehicle_id, variant_id, color").Find(&entries).Error
	return entries, err
}

func (tx *gormTx) SaveLedgerEntry(e *ColorStock) error {
	if e.Version == 0 {
		return NewStockError(ErrKindNotFound, "ledger entry %s not found", e.ID)
	}
	return tx.saveVersioned(e, &e.Version, "ledger entry", e.ID)
}

func (tx *gormTx) GetIncoming(id string) (*IncomingAllocation, error) {
	var r IncomingAllocation
	if err := tx.locked().Where("id = ?", id).First(&r).Error; err != nil {
		return nil, mapGormErr(err, "incoming allocation", id)
	}
	return &r, nil
}

func (tx *gormTx) FindActiveIncoming(vehicleId, variantId, color string) (*IncomingAllocation, error) {
	var records []IncomingAllocation
	err := tx.locked().
		Where("vehicle_id = ? AND variant_id = ? AND color = ? AND status NOT IN ?",
			vehicleId, variantId, color, []IncomingStatus{IncomingStatusCompleted, IncomingStatusRejected}).
		Order("expected_date ASC, created_at ASC").
		Limit(1).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (tx *gormTx) ListIncoming(filter IncomingFilter) ([]IncomingAllocation, error) {
	q := tx.db
	if filter != (IncomingFilter{}) {
		q = tx.locked()
	}
	if filter.BranchId != "" {
		q = q.Where("branch_id = ?", filter.BranchId)
	}
	if filter.VehicleId != "" {
		q = q.Where("vehicle_id = ?", filter.VehicleId)
	}
	if filter.VariantId != "" {
		q = q.Where("variant_id = ?", filter.VariantId)
	}
	if filter.Color != "" {
		q = q.Where("color = ?", filter.Color)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	var records []IncomingAllocation
	err := q.Order("created_at DESC, id ASC").Find(&records).Error
	return records, err
}

func (tx *gormTx) SaveIncoming(r *IncomingAllocation) error {
	return tx.saveVersioned(r, &r.Version, "incoming allocation", r.ID)
}

func (tx *gormTx) DeleteIncoming(id string) error {
	result := tx.db.Where("id = ?", id).Delete(&IncomingAllocation{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return NotFoundError("incoming allocation", id)
	}
	return nil
}

func (tx *gormTx) GetOrder(id string) (*CustomerOrder, error) {
	var o CustomerOrder
	if err := tx.locked().Where("id = ?", id).First(&o).Error; err != nil {
		return nil, mapGormErr(err, "order", id)
	}
	return &o, nil
}

func (tx *gormTx) ListOrders(filter OrderFilter) ([]CustomerOrder, error) {
	q := tx.db
	if filter != (OrderFilter{}) {
		q = tx.locked()
	}
	if filter.BranchId != "" {
		q = q.Where("branch_id = ?", filter.BranchId)
	}
	if filter.VehicleId != "" {
		q = q.Where("vehicle_id = ?", filter.VehicleId)
	}
	if filter.VariantId != "" {
		q = q.Where("variant_id = ?", filter.VariantId)
	}
	if filter.Color != "" {
		q = q.Where("color = ?", filter.Color)
	}
	if filter.IncomingId != "" {
		q = q.Where("mddp_stock_id = ?", filter.IncomingId)
	}
	if filter.OrderStatus != "" {
		q = q.Where("order_status = ?", filter.OrderStatus)
	}
	var orders []CustomerOrder
	err := q.Order("created_at DESC, id ASC").Find(&orders).Error
	return orders, err
}

func (tx *gormTx) SaveOrder(o *CustomerOrder) error {
	return tx.saveVersioned(o, &o.Version, "order", o.ID)
}

func (tx *gormTx) DeleteOrder(id string) error {
	result := tx.db.Where("id = ?", id).Delete(&CustomerOrder{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return NotFoundError("order", id)
	}
	return nil
}

func (tx *gormTx) AppendEvent(e *StockEvent) error {
	return tx.db.Create(e).Error
}

func (s *GormStore) ClaimEvents(ctx context.Context, dispatcherId string, limit int, now time.Time, staleBefore time.Time, maxAttempts int) ([]StockEvent, error) {
	var claimed []StockEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// PENDING / FAILED that are due, or PROCESSING whose dispatcher died mid-batch.
		q := tx.
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []OutboxPublishStatus{OutboxPublishStatusPending, OutboxPublishStatusFailed}, now, OutboxPublishStatusProcessing, staleBefore).
			Order("seq ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		var candidates []StockEvent
		if err := q.Find(&candidates).Error; err != nil {
			return err
		}
		for i := range candidates {
			e := candidates[i]
			if maxAttempts > 0 && e.PublishAttempts >= maxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", maxAttempts)
				if err := tx.Model(&StockEvent{}).Where("id = ?", e.ID).Updates(map[string]interface{}{
					"publish_status":     OutboxPublishStatusDead,
					"last_publish_error": &msg,
					"next_attempt_at":    nil,
					"locked_at":          nil,
					"locked_by":          nil,
				}).Error; err != nil {
					return err
				}
				continue
			}
			lockedBy := dispatcherId
			if err := tx.Model(&StockEvent{}).Where("id = ?", e.ID).Updates(map[string]interface{}{
				"publish_status":     OutboxPublishStatusProcessing,
				"locked_at":          now,
				"locked_by":          lockedBy,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
			e.PublishStatus = OutboxPublishStatusProcessing
			e.LockedAt = &now
			e.LockedBy = &lockedBy
			e.PublishAttempts++
			claimed = append(claimed, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *GormStore) MarkEventSent(ctx context.Context, id string, pubSubMessageId string, now time.Time) error {
	return s.db.WithContext(ctx).Model(&StockEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"publish_status":     OutboxPublishStatusSent,
			"published_at":       now,
			"pub_sub_message_id": pubSubMessageId,
			"locked_at":          nil,
			"locked_by":          nil,
			"next_attempt_at":    nil,
		}).Error
}

func (s *GormStore) MarkEventFailed(ctx context.Context, id string, publishErr error, nextAttemptAt *time.Time, dead bool) error {
	msg := publishErr.Error()
	status := OutboxPublishStatusFailed
	if dead {
		status = OutboxPublishStatusDead
		nextAttemptAt = nil
	}
	return s.db.WithContext(ctx).Model(&StockEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"publish_status":     status,
			"last_publish_error": msg,
			"next_attempt_at":    nextAttemptAt,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error
}
