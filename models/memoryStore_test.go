package models_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/ims_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLedger(t *testing.T, store *models.MemoryStore, stock int) *models.ColorStock {
	t.Helper()
	now := time.Now().UTC()
	input := models.NewVehicle{
		BranchId: "b-1",
		Brand:    "Tata",
		Model:    "Nexon",
		Variant:  models.NewVariant{Name: "XZ", Colors: []models.NewColorStock{{Color: "Red", Stock: stock}}},
	}
	vehicle := input.Build("test", now)
	require.NoError(t, store.RunInTransaction(context.Background(), func(tx models.StockTx) error {
		return tx.SaveVehicle(vehicle)
	}))
	entry := vehicle.Variants[0].Colors[0]
	return &entry
}

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	store := models.NewMemoryStore()
	entry := seedLedger(t, store, 5)
	boom := errors.New("boom")

	err := store.RunInTransaction(context.Background(), func(tx models.StockTx) error {
		e, err := tx.GetLedgerEntry(entry.VehicleId, entry.VariantId, "red")
		if err != nil {
			return err
		}
		e.BlockedCount = 5
		if err := tx.SaveLedgerEntry(e); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, store.RunInTransaction(context.Background(), func(tx models.StockTx) error {
		e, err := tx.GetLedgerEntry(entry.VehicleId, entry.VariantId, "red")
		require.NoError(t, err)
		assert.Equal(t, 0, e.BlockedCount)
		assert.Equal(t, 1, e.Version)
		return nil
	}))
}

func TestMemoryStoreDetectsConcurrentModification(t *testing.T) {
	store := models.NewMemoryStore()
	entry := seedLedger(t, store, 5)
	ctx := context.Background()

	err := store.RunInTransaction(ctx, func(tx models.StockTx) error {
		e, err := tx.GetLedgerEntry(entry.VehicleId, entry.VariantId, "red")
		if err != nil {
			return err
		}
		// a second writer commits in between
		require.NoError(t, store.RunInTransaction(ctx, func(other models.StockTx) error {
			e2, err := other.GetLedgerEntry(entry.VehicleId, entry.VariantId, "red")
			if err != nil {
				return err
			}
			e2.BlockedCount = 1
			return other.SaveLedgerEntry(e2)
		}))
		e.BlockedCount = 2
		return tx.SaveLedgerEntry(e)
	})
	require.Error(t, err)
	assert.Equal(t, models.ErrKindConcurrentModification, models.KindOf(err))
	assert.True(t, models.IsRetryable(err))
}

func TestMemoryStoreFindActiveIncomingPicksEarliest(t *testing.T) {
	store := models.NewMemoryStore()
	entry := seedLedger(t, store, 0)
	base := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	records := []models.IncomingAllocation{
		{ID: "late", VehicleId: entry.VehicleId, VariantId: entry.VariantId, Color: "red", StockCounter: models.StockCounter{Stock: 3}, ExpectedDate: base.AddDate(0, 0, 10), Status: models.IncomingStatusApproved},
		{ID: "early", VehicleId: entry.VehicleId, VariantId: entry.VariantId, Color: "red", StockCounter: models.StockCounter{Stock: 3}, ExpectedDate: base, Status: models.IncomingStatusRequested},
		{ID: "done", VehicleId: entry.VehicleId, VariantId: entry.VariantId, Color: "red", ExpectedDate: base.AddDate(0, 0, -5), Status: models.IncomingStatusCompleted, Payment: models.PaymentStatusCompleted},
	}
	require.NoError(t, store.RunInTransaction(context.Background(), func(tx models.StockTx) error {
		for i := range records {
			if err := tx.SaveIncoming(&records[i]); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, store.RunInTransaction(context.Background(), func(tx models.StockTx) error {
		r, err := tx.FindActiveIncoming(entry.VehicleId, entry.VariantId, "red")
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, "early", r.ID)

		none, err := tx.FindActiveIncoming(entry.VehicleId, entry.VariantId, "blue")
		require.NoError(t, err)
		assert.Nil(t, none)

		active, err := tx.ListIncoming(models.IncomingFilter{Status: models.IncomingStatusApproved})
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "late", active[0].ID)
		return nil
	}))
}

func TestMemoryStoreDeleteVehicleRemovesLedger(t *testing.T) {
	store := models.NewMemoryStore()
	entry := seedLedger(t, store, 2)

	require.NoError(t, store.RunInTransaction(context.Background(), func(tx models.StockTx) error {
		return tx.DeleteVehicle(entry.VehicleId)
	}))
	require.NoError(t, store.RunInTransaction(context.Background(), func(tx models.StockTx) error {
		_, err := tx.GetLedgerEntry(entry.VehicleId, entry.VariantId, "red")
		assert.ErrorIs(t, err, models.ErrNotFound)
		entries, err := tx.ListLedgerEntries()
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	}))
}

func TestMemoryStoreOutboxClaimAndDead(t *testing.T) {
	store := models.NewMemoryStore()
	ctx := context.Background()
	event, err := models.NewStockEvent(ctx, models.StockEventAllocated, "ledger", "l-1", "stock:k", map[string]int{"quantity": 1})
	require.NoError(t, err)
	require.NoError(t, store.RunInTransaction(ctx, func(tx models.StockTx) error {
		return tx.AppendEvent(event)
	}))

	now := time.Now().UTC()
	claimed, err := store.ClaimEvents(ctx, "d-1", 10, now, now.Add(-time.Minute), 2)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].PublishAttempts)

	// a PROCESSING row is not claimed again until it goes stale
	again, err := store.ClaimEvents(ctx, "d-2", 10, now, now.Add(-time.Minute), 2)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, store.MarkEventFailed(ctx, event.ID, errors.New("unavailable"), nil, false))
	claimed, err = store.ClaimEvents(ctx, "d-1", 10, now, now.Add(-time.Minute), 2)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, store.MarkEventFailed(ctx, event.ID, errors.New("unavailable"), nil, false))

	claimed, err = store.ClaimEvents(ctx, "d-1", 10, now, now.Add(-time.Minute), 2)
	require.NoError(t, err)
	assert.Empty(t, claimed)
	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.OutboxPublishStatusDead, events[0].PublishStatus)
}
