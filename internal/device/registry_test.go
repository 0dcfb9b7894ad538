package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/leviton-bridge/internal/coordinator"
	"github.com/nerrad567/leviton-bridge/internal/leviton"
)

func setupRegistry(t *testing.T) (*Registry, *SQLiteStateHistoryRepository) {
	t.Helper()
	db := setupTestDB(t)
	history := NewSQLiteStateHistoryRepository(db)
	reg := NewRegistry(NewSQLiteRepository(db))
	reg.SetHistory(history)
	return reg, history
}

func kitchen(level int) leviton.Device {
	return leviton.Device{
		ID: "100", Name: "Kitchen", Model: "DW6HD", RoomName: "Kitchen", Status: "online",
		Power: leviton.PowerOn, Brightness: intPtr(level),
	}
}

func porch() leviton.Device {
	return leviton.Device{ID: "200", Name: "Porch", Model: "D215P", Power: leviton.PowerOff}
}

func snapshot(devices ...leviton.Device) *coordinator.Snapshot {
	return coordinator.NewSnapshot(devices, time.Now())
}

// ============================================================================
// Sync
// ============================================================================

func TestRegistry_Sync_CreatesDevices(t *testing.T) {
	reg, history := setupRegistry(t)
	ctx := context.Background()

	res, err := reg.Sync(ctx, snapshot(kitchen(40), porch()), coordinator.SourceRefresh)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if res.Created != 2 || len(res.StateChanges) != 2 {
		t.Errorf("Sync() = %+v, want 2 created and 2 state changes", res)
	}
	if reg.GetDeviceCount() != 2 {
		t.Errorf("GetDeviceCount() = %d, want 2", reg.GetDeviceCount())
	}

	d, err := reg.GetDevice(ctx, "100")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if d.Category != string(leviton.CategoryLight) {
		t.Errorf("Category = %q, want light", d.Category)
	}
	if d.Room != "Kitchen" {
		t.Errorf("Room = %q, want Kitchen", d.Room)
	}
	if !d.InCloud {
		t.Error("InCloud = false, want true after refresh")
	}
	if d.LastSeenAt == nil || d.StateUpdatedAt == nil {
		t.Errorf("timestamps not set: last_seen=%v state_updated=%v", d.LastSeenAt, d.StateUpdatedAt)
	}

	entries, err := history.GetHistory(ctx, "100", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Source != StateHistorySourceRefresh {
		t.Errorf("history = %+v, want one refresh entry", entries)
	}
}

func TestRegistry_Sync_UnchangedRecordsNothing(t *testing.T) {
	reg, history := setupRegistry(t)
	ctx := context.Background()

	if _, err := reg.Sync(ctx, snapshot(kitchen(40)), coordinator.SourceRefresh); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	res, err := reg.Sync(ctx, snapshot(kitchen(40)), coordinator.SourceRealtime)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if res.Created != 0 || res.Updated != 0 || len(res.StateChanges) != 0 {
		t.Errorf("Sync() = %+v, want no changes", res)
	}

	entries, _ := history.GetHistory(ctx, "100", 10)
	if len(entries) != 1 {
		t.Errorf("history entries = %d, want 1", len(entries))
	}
}

func TestRegistry_Sync_StateChangeRecordsSource(t *testing.T) {
	reg, history := setupRegistry(t)
	ctx := context.Background()

	if _, err := reg.Sync(ctx, snapshot(kitchen(40)), coordinator.SourceRefresh); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	res, err := reg.Sync(ctx, snapshot(kitchen(80)), coordinator.SourceOptimistic)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if res.Updated != 1 || len(res.StateChanges) != 1 || res.StateChanges[0] != "100" {
		t.Errorf("Sync() = %+v, want one update for 100", res)
	}

	entries, err := history.GetHistory(ctx, "100", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("history entries = %d, want 2", len(entries))
	}
	if entries[0].Source != StateHistorySourceOptimistic {
		t.Errorf("entries[0].Source = %q, want optimistic", entries[0].Source)
	}
	if entries[0].State[StateBrightness] != float64(80) {
		t.Errorf("entries[0].State[brightness] = %v, want 80", entries[0].State[StateBrightness])
	}
}

func TestRegistry_Sync_MetadataChangeIsNotHistory(t *testing.T) {
	reg, history := setupRegistry(t)
	ctx := context.Background()

	if _, err := reg.Sync(ctx, snapshot(kitchen(40)), coordinator.SourceRefresh); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	renamed := kitchen(40)
	renamed.Name = "Galley"
	res, err := reg.Sync(ctx, snapshot(renamed), coordinator.SourceRefresh)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if res.Updated != 1 || len(res.StateChanges) != 0 {
		t.Errorf("Sync() = %+v, want metadata-only update", res)
	}

	d, _ := reg.GetDevice(ctx, "100")
	if d.Name != "Galley" {
		t.Errorf("Name = %q, want Galley", d.Name)
	}
	entries, _ := history.GetHistory(ctx, "100", 10)
	if len(entries) != 1 {
		t.Errorf("history entries = %d, want 1", len(entries))
	}
}

func TestRegistry_Sync_StateSurvivesReload(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := NewRegistry(NewSQLiteRepository(db))
	if _, err := first.Sync(ctx, snapshot(kitchen(40)), coordinator.SourceRefresh); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	// A fresh registry loads float64 numbers from JSON; the snapshot has ints.
	second := NewRegistry(NewSQLiteRepository(db))
	if err := second.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	res, err := second.Sync(ctx, snapshot(kitchen(40)), coordinator.SourceRealtime)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(res.StateChanges) != 0 {
		t.Errorf("StateChanges = %v, want none", res.StateChanges)
	}
}

// ============================================================================
// Delete
// ============================================================================

func TestRegistry_DeleteDevice(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	if _, err := reg.Sync(ctx, snapshot(kitchen(40), porch()), coordinator.SourceRefresh); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if err := reg.DeleteDevice(ctx, "200"); !errors.Is(err, ErrDeviceInCloud) {
		t.Fatalf("DeleteDevice() error = %v, want ErrDeviceInCloud", err)
	}

	// The next refresh no longer lists the porch light.
	if _, err := reg.Sync(ctx, snapshot(kitchen(40)), coordinator.SourceRefresh); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	d, err := reg.GetDevice(ctx, "200")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if d.InCloud {
		t.Error("InCloud = true, want false after it left the directory")
	}

	if err := reg.DeleteDevice(ctx, "200"); err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}
	if _, err := reg.GetDevice(ctx, "200"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice() after delete error = %v, want ErrDeviceNotFound", err)
	}
	if err := reg.DeleteDevice(ctx, "200"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second DeleteDevice() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_RealtimeDoesNotChangeMembership(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	if _, err := reg.Sync(ctx, snapshot(kitchen(40), porch()), coordinator.SourceRefresh); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if _, err := reg.Sync(ctx, snapshot(kitchen(60)), coordinator.SourceRealtime); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if err := reg.DeleteDevice(ctx, "200"); !errors.Is(err, ErrDeviceInCloud) {
		t.Errorf("DeleteDevice() error = %v, want ErrDeviceInCloud", err)
	}
}

// ============================================================================
// Cache
// ============================================================================

func TestRegistry_ListDevices(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	if _, err := reg.Sync(ctx, snapshot(porch(), kitchen(40)), coordinator.SourceRefresh); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	devices, err := reg.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 2 || devices[0].Name != "Kitchen" || devices[1].Name != "Porch" {
		t.Fatalf("ListDevices() = %+v, want Kitchen then Porch", devices)
	}

	// Returned copies are independent of the cache.
	devices[0].State[StatePower] = "OFF"
	d, _ := reg.GetDevice(ctx, "100")
	if d.State[StatePower] != leviton.PowerOn {
		t.Errorf("cache mutated through ListDevices() result: %v", d.State[StatePower])
	}
}

func TestRegistry_RefreshCache(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewSQLiteRepository(db)
	if err := repo.Upsert(ctx, testDevice("100", "Kitchen")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	reg := NewRegistry(repo)
	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	if reg.GetDeviceCount() != 1 {
		t.Errorf("GetDeviceCount() = %d, want 1", reg.GetDeviceCount())
	}
	d, err := reg.GetDevice(ctx, "100")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if d.InCloud {
		t.Error("InCloud = true before any refresh")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(level int) {
			defer wg.Done()
			_, _ = reg.Sync(ctx, snapshot(kitchen(level)), coordinator.SourceRealtime)
		}(i)
		go func() {
			defer wg.Done()
			_, _ = reg.ListDevices(ctx)
			_, _ = reg.GetDevice(ctx, "100")
		}()
	}
	wg.Wait()

	if reg.GetDeviceCount() != 1 {
		t.Errorf("GetDeviceCount() = %d, want 1", reg.GetDeviceCount())
	}
}
