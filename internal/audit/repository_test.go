package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/leviton-bridge/internal/infrastructure/database"
	"github.com/nerrad567/leviton-bridge/migrations"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestRecord_Defaults(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	e := &Entry{
		DeviceID:   "100",
		EntityID:   "100",
		Action:     "set_brightness",
		Parameters: map[string]any{"brightness": 128},
		Source:     SourceAPI,
	}
	if err := repo.Record(ctx, e); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !strings.HasPrefix(e.CommandID, "cmd-") {
		t.Errorf("CommandID = %q, want cmd- prefix", e.CommandID)
	}
	if e.ID == 0 {
		t.Error("ID not assigned")
	}
	if e.Outcome != OutcomeSuccess {
		t.Errorf("Outcome = %q, want success", e.Outcome)
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || len(res.Entries) != 1 {
		t.Fatalf("List() = %+v, want one entry", res)
	}
	got := res.Entries[0]
	if got.CommandID != e.CommandID || got.Action != "set_brightness" {
		t.Errorf("entry = %+v", got)
	}
	if got.Parameters["brightness"] != float64(128) {
		t.Errorf("Parameters[brightness] = %v, want 128", got.Parameters["brightness"])
	}
}

func TestRecord_RequiresDeviceAndAction(t *testing.T) {
	repo := setupRepo(t)

	if err := repo.Record(context.Background(), &Entry{Action: "on"}); err == nil {
		t.Error("Record() expected error without device id")
	}
	if err := repo.Record(context.Background(), &Entry{DeviceID: "1"}); err == nil {
		t.Error("Record() expected error without action")
	}
}

func TestList_FilterAndOrder(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	entries := []*Entry{
		{DeviceID: "100", Action: "on", Source: SourceAPI, CreatedAt: base},
		{DeviceID: "100", Action: "off", Source: SourceMQTT, Outcome: OutcomeFailed, Error: "timeout", CreatedAt: base.Add(time.Minute)},
		{DeviceID: "200", Action: "on", Source: SourceAPI, Outcome: OutcomeRejected, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	res, err := repo.List(ctx, Filter{DeviceID: "100"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 2 || len(res.Entries) != 2 {
		t.Fatalf("List(device=100) total = %d, want 2", res.Total)
	}
	if res.Entries[0].Action != "off" || res.Entries[0].Error != "timeout" {
		t.Errorf("newest entry = %+v, want failed off", res.Entries[0])
	}
	if !res.Entries[1].CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", res.Entries[1].CreatedAt, base)
	}

	res, err = repo.List(ctx, Filter{Outcome: OutcomeRejected})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || res.Entries[0].DeviceID != "200" {
		t.Errorf("List(outcome=rejected) = %+v", res)
	}

	res, err = repo.List(ctx, Filter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 3 || len(res.Entries) != 1 || res.Entries[0].Action != "off" {
		t.Errorf("List(limit=1, offset=1) = %+v", res)
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := setupRepo(t)

	res, err := repo.List(context.Background(), Filter{Limit: 5000, Offset: -2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != maxLimit || res.Offset != 0 {
		t.Errorf("Limit/Offset = %d/%d, want %d/0", res.Limit, res.Offset, maxLimit)
	}
	if res.Entries == nil {
		t.Error("Entries = nil, want empty slice")
	}
}

func TestListDevice(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	for _, id := range []string{"100", "200", "100"} {
		if err := repo.Record(ctx, &Entry{DeviceID: id, Action: "on", Source: SourceMQTT}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	entries, err := repo.ListDevice(ctx, "100", 10)
	if err != nil {
		t.Fatalf("ListDevice() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("ListDevice() returned %d entries, want 2", len(entries))
	}
}
