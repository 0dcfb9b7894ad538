package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/leviton-bridge/internal/audit"
	"github.com/nerrad567/leviton-bridge/internal/coordinator"
	"github.com/nerrad567/leviton-bridge/internal/device"
	"github.com/nerrad567/leviton-bridge/internal/entity"
	"github.com/nerrad567/leviton-bridge/internal/infrastructure/config"
	"github.com/nerrad567/leviton-bridge/internal/infrastructure/database"
	"github.com/nerrad567/leviton-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/leviton-bridge/internal/leviton"
	"github.com/nerrad567/leviton-bridge/migrations"
)

const testJWTSecret = "test-secret-key-at-least-32-characters-long"

// mockCloud records attribute updates.
type mockCloud struct {
	mu    sync.Mutex
	calls []leviton.Attributes
	err   error
}

func (m *mockCloud) SetAttributes(_ context.Context, _ string, attrs leviton.Attributes) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, attrs)
	return m.err
}

func (m *mockCloud) sent() []leviton.Attributes {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]leviton.Attributes(nil), m.calls...)
}

// mockState is a fixed coordinator view.
type mockState struct {
	mu   sync.Mutex
	snap *coordinator.Snapshot
}

func (m *mockState) Snapshot() *coordinator.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}
func (m *mockState) LastUpdateSuccess() bool                       { return true }
func (m *mockState) SetOptimistic(string, leviton.Attributes) bool { return true }
func (m *mockState) RequestRefresh()                               {}

func (m *mockState) Status() coordinator.Status {
	return coordinator.Status{Devices: m.Snapshot().Len(), LastUpdateSuccess: true}
}

type mockConn struct{ connected bool }

func (m mockConn) IsConnected() bool { return m.connected }

// testDevices is the cloud directory used by most tests.
func testDevices() []leviton.Device {
	return []leviton.Device{
		{ID: "1", Name: "Kitchen", Model: "DW6HD", Power: leviton.PowerOn, Brightness: leviton.Int(50)},
		{ID: "2", Name: "Den Fan", Model: "DW4SF", Power: leviton.PowerOff, FanSpeed: leviton.Int(0)},
		{ID: "3", Name: "Porch", Model: "D215S", Power: leviton.PowerOff, Status: leviton.StatusOffline},
	}
}

type testEnv struct {
	srv      *Server
	registry *device.Registry
	history  *device.SQLiteStateHistoryRepository
	audit    *audit.SQLiteRepository
	cloud    *mockCloud
	state    *mockState
}

// testServer creates a Server backed by in-memory SQLite, a registry synced
// with testDevices and a real entity executor over mocks.
func testServer(t *testing.T, security config.SecurityConfig) *testEnv {
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

	history := device.NewSQLiteStateHistoryRepository(db.DB)
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetHistory(history)

	state := &mockState{snap: coordinator.NewSnapshot(testDevices(), time.Now())}
	if _, err := registry.Sync(ctx, state.snap, coordinator.SourceRefresh); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	cloud := &mockCloud{}
	auditRepo := audit.NewSQLiteRepository(db.DB)

	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: security,
		Logger:   logging.Discard(),
		Registry: registry,
		History:  history,
		Audit:    auditRepo,
		Entities: entity.NewExecutor(cloud, state, nil),
		Cloud:    state,
		MQTT:     mockConn{connected: true},
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	drainCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.drainAuditLog(drainCtx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &testEnv{srv: srv, registry: registry, history: history, audit: auditRepo, cloud: cloud, state: state}
}

// doRequest runs one request through the full router.
func doRequest(t *testing.T, srv *Server, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

var errCloud = errors.New("cloud returned 500")

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}
