package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/leviton-bridge/internal/audit"
	"github.com/nerrad567/leviton-bridge/internal/auth"
	"github.com/nerrad567/leviton-bridge/internal/coordinator"
	"github.com/nerrad567/leviton-bridge/internal/device"
	"github.com/nerrad567/leviton-bridge/internal/entity"
	"github.com/nerrad567/leviton-bridge/internal/infrastructure/config"
	"github.com/nerrad567/leviton-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/leviton-bridge/internal/leviton"
)

// securityWithAdmin returns an auth-enabled config for user "admin" with
// password "hunter22".
func securityWithAdmin(t *testing.T) config.SecurityConfig {
	t.Helper()
	hash, err := auth.HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	return config.SecurityConfig{
		AuthEnabled: true,
		JWT:         config.JWTConfig{Secret: testJWTSecret, AccessTokenTTL: 15},
		Admin:       config.AdminConfig{Username: "admin", PasswordHash: hash},
	}
}

// ============================================================================
// Construction
// ============================================================================

func TestNew_RequiresDependencies(t *testing.T) {
	env := testServer(t, config.SecurityConfig{})
	full := Deps{
		Logger:   logging.Discard(),
		Registry: env.registry,
		Entities: entity.NewExecutor(env.cloud, env.state, nil),
	}

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"no logger", func(d *Deps) { d.Logger = nil }},
		{"no registry", func(d *Deps) { d.Registry = nil }},
		{"no entities", func(d *Deps) { d.Entities = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.mutate(&deps)
			if _, err := New(deps); err == nil {
				t.Error("New() should fail")
			}
		})
	}

	if _, err := New(full); err != nil {
		t.Fatalf("New() error = %v", err)
	}
}

func TestServer_StartClose(t *testing.T) {
	env := testServer(t, config.SecurityConfig{})
	env.srv.cfg.Host = "127.0.0.1"
	env.srv.cfg.Port = 0

	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// ============================================================================
// Health and auth
// ============================================================================

func TestHealth(t *testing.T) {
	env := testServer(t, securityWithAdmin(t))

	rec := doRequest(t, env.srv, http.MethodGet, "/api/v1/health", nil, "")
	expectStatus(t, rec, http.StatusOK)

	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("health body = %v", body)
	}
}

func TestLogin(t *testing.T) {
	env := testServer(t, securityWithAdmin(t))

	tests := []struct {
		name     string
		body     any
		wantCode int
	}{
		{"valid", map[string]string{"username": "admin", "password": "hunter22"}, http.StatusOK},
		{"wrong password", map[string]string{"username": "admin", "password": "nope"}, http.StatusUnauthorized},
		{"wrong user", map[string]string{"username": "root", "password": "hunter22"}, http.StatusUnauthorized},
		{"invalid json", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, env.srv, http.MethodPost, "/api/v1/auth/login", tt.body, "")
			expectStatus(t, rec, tt.wantCode)
			if tt.wantCode != http.StatusOK {
				return
			}

			var resp loginResponse
			decodeBody(t, rec, &resp)
			if resp.TokenType != "Bearer" {
				t.Errorf("token_type = %q, want Bearer", resp.TokenType)
			}
			if resp.ExpiresIn != 15*60 {
				t.Errorf("expires_in = %d, want %d", resp.ExpiresIn, 15*60)
			}
			claims, err := auth.ParseToken(resp.AccessToken, testJWTSecret)
			if err != nil {
				t.Fatalf("ParseToken() error = %v", err)
			}
			if claims.Subject != "admin" {
				t.Errorf("subject = %q, want admin", claims.Subject)
			}
		})
	}
}

func TestLogin_NotConfigured(t *testing.T) {
	env := testServer(t, config.SecurityConfig{
		AuthEnabled: true,
		JWT:         config.JWTConfig{Secret: testJWTSecret},
	})

	rec := doRequest(t, env.srv, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"username": "admin", "password": "x"}, "")
	expectStatus(t, rec, http.StatusServiceUnavailable)
}

func TestAuthMiddleware(t *testing.T) {
	env := testServer(t, securityWithAdmin(t))

	valid, _, err := auth.GenerateAccessToken("admin", testJWTSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	otherSecret, _, err := auth.GenerateAccessToken("admin", "another-secret-key-of-sufficient-length", time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	tests := []struct {
		name     string
		token    string
		wantCode int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", otherSecret, http.StatusUnauthorized},
		{"valid", valid, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, env.srv, http.MethodGet, "/api/v1/devices", nil, tt.token)
			expectStatus(t, rec, tt.wantCode)
		})
	}
}

func TestAuthDisabled_AllowsAnonymous(t *testing.T) {
	env := testServer(t, config.SecurityConfig{})

	rec := doRequest(t, env.srv, http.MethodGet, "/api/v1/devices", nil, "")
	expectStatus(t, rec, http.StatusOK)
}

// ============================================================================
// Devices
// ============================================================================

func TestListDevices(t *testing.T) {
	env := testServer(t, config.SecurityConfig{})

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantCount int
	}{
		{"all", "", http.StatusOK, 3},
		{"by category", "?category=fan", http.StatusOK, 1},
		{"in cloud", "?in_cloud=true", http.StatusOK, 3},
		{"not in cloud", "?in_cloud=false", http.StatusOK, 0},
		{"bad in_cloud", "?in_cloud=maybe", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, env.srv, http.MethodGet, "/api/v1/devices"+tt.query, nil, "")
			expectStatus(t, rec, tt.wantCode)
			if tt.wantCode != http.StatusOK {
				return
			}
			var body struct {
				Devices []device.Device `json:"devices"`
				Count   int             `json:"count"`
			}
			decodeBody(t, rec, &body)
			if body.Count != tt.wantCount || len(body.Devices) != tt.wantCount {
				t.Errorf("count = %d (%d devices), want %d", body.Count, len(body.Devices), tt.wantCount)
			}
		})
	}
}

func TestGetDevice(t *testing.T) {
	env := testServer(t, config.SecurityConfig{})

	rec := doRequest(t, env.srv, http.MethodGet, "/api/v1/devices/1", nil, "")
	expectStatus(t, rec, http.StatusOK)

	var body struct {
		ID       string          `json:"id"`
		Name     string          `json:"name"`
		Entities []entity.Entity `json:"entities"`
	}
	decodeBody(t, rec, &body)
	if body.ID != "1" || body.Name != "Kitchen" {
		t.Errorf("device = %s/%s, want 1/Kitchen", body.ID, body.Name)
	}
	if len(body.Entities) != 1 || body.Entities[0].Kind != entity.KindLight {
		t.Errorf("entities = %+v, want one light", body.Entities)
	}

	rec = doRequest(t, env.srv, http.MethodGet, "/api/v1/devices/999", nil, "")
	expectStatus(t, rec, http.StatusNotFound)

	var apiErr Error
	decodeBody(t, rec, &apiErr)
	if apiErr.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeNotFound)
	}
}

func TestDeleteDevice(t *testing.T) {
	env := testServer(t, config.SecurityConfig{})

	rec := doRequest(t, env.srv, http.MethodDelete, "/api/v1/devices/3", nil, "")
	expectStatus(t, rec, http.StatusConflict)

	// The cloud stops listing device 3.
	snap := coordinator.NewSnapshot(testDevices()[:2], time.Now())
	if _, err := env.registry.Sync(context.Background(), snap, coordinator.SourceRefresh); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	rec = doRequest(t, env.srv, http.MethodDelete, "/api/v1/devices/3", nil, "")
	expectStatus(t, rec, http.StatusNoContent)

	rec = doRequest(t, env.srv, http.MethodDelete, "/api/v1/devices/3", nil, "")
	expectStatus(t, rec, http.StatusNotFound)
}

func TestGetDeviceState(t *testing.T) {
	env := testServer(t, config.SecurityConfig{})

	rec := doRequest(t, env.srv, http.MethodGet, "/api/v1/devices/1/state", nil, "")
	expectStatus(t, rec, http.StatusOK)

	var body stateResponse
	decodeBody(t, rec, &body)
	if body.DeviceID != "1" {
		t.Errorf("device_id = %q, want 1", body.DeviceID)
	}
	if body.State[device.StatePower] != leviton.PowerOn {
		t.Errorf("state power = %v, want %s", body.State[device.StatePower], leviton.PowerOn)
	}
	if len(body.Entities) != 1 || !body.Entities[0].State.On {
		t.Errorf("entities = %+v, want one lit entity", body.Entities)
	}
}

func TestSetDeviceState(t *testing.T) {
	env := testServer(t, config.SecurityConfig{})

	rec := doRequest(t, env.srv, http.MethodPut, "/api/v1/devices/1/state",
		map[string]any{"action": "set_brightness", "brightness": 255}, "")
	expectStatus(t, rec, http.StatusOK)

	var resp stateCommandResponse
	decodeBody(t, rec, &resp)
	if !strings.HasPrefix(resp.CommandID, "cmd-") {
		t.Errorf("command_id = %q, want cmd- prefix", resp.CommandID)
	}
	if resp.EntityID != "1" || resp.Status != "completed" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Attributes.Power != leviton.PowerOn || resp.Attributes.Brightness == nil {
		t.Errorf("attributes = %+v, want power ON with brightness", resp.Attributes)
	}

	sent := env.cloud.sent()
	if len(sent) != 1 || sent[0].Power != leviton.PowerOn {
		t.Fatalf("cloud updates = %+v, want one power ON", sent)
	}

	// The audit entry is written asynchronously.
	var entries []audit.Entry
	waitFor(t, func() bool {
		var err error
		entries, err = env.audit.ListDevice(context.Background(), "1", 10)
		return err == nil && len(entries) == 1
	})
	if entries[0].CommandID != resp.CommandID {
		t.Errorf("audit command_id = %q, want %q", entries[0].CommandID, resp.CommandID)
	}
	if entries[0].Source != audit.SourceAPI || entries[0].Outcome != audit.OutcomeSuccess {
		t.Errorf("audit = %s/%s, want api/success", entries[0].Source, entries[0].Outcome)
	}
}

func TestSetDeviceState_Errors(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		body        any
		cloudErr    error
		wantCode    int
		wantOutcome string
	}{
		{"invalid json", "/api/v1/devices/1/state", "{", nil, http.StatusBadRequest, ""},
		{"missing action", "/api/v1/devices/1/state", map[string]any{}, nil, http.StatusBadRequest, ""},
		{"foreign entity", "/api/v1/devices/1/state", map[string]any{"entity_id": "2", "action": "turn_on"}, nil, http.StatusBadRequest, ""},
		{"unknown device", "/api/v1/devices/999/state", map[string]any{"action": "turn_on"}, nil, http.StatusNotFound, audit.OutcomeRejected},
		{"unavailable", "/api/v1/devices/3/state", map[string]any{"action": "turn_on"}, nil, http.StatusConflict, audit.OutcomeRejected},
		{"unsupported", "/api/v1/devices/2/state", map[string]any{"action": "set_brightness", "brightness": 10}, nil, http.StatusBadRequest, audit.OutcomeRejected},
		{"out of range", "/api/v1/devices/1/state", map[string]any{"action": "set_brightness", "brightness": 300}, nil, http.StatusBadRequest, audit.OutcomeRejected},
		{"cloud failure", "/api/v1/devices/1/state", map[string]any{"action": "turn_off"}, errCloud, http.StatusBadGateway, audit.OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t, config.SecurityConfig{})
			env.cloud.err = tt.cloudErr

			rec := doRequest(t, env.srv, http.MethodPut, tt.path, tt.body, "")
			expectStatus(t, rec, tt.wantCode)

			if tt.wantOutcome == "" {
				return
			}
			var result *audit.ListResult
			waitFor(t, func() bool {
				var err error
				result, err = env.audit.List(context.Background(), audit.Filter{})
				return err == nil && result.Total == 1
			})
			if got := result.Entries[0].Outcome; got != tt.wantOutcome {
				t.Errorf("audit outcome = %q, want %q", got, tt.wantOutcome)
			}
			if result.Entries[0].Error == "" {
				t.Error("audit entry should carry the error")
			}
		})
	}
}

func TestWriteCommandError_WrappedCloudError(t *testing.T) {
	env := testServer(t, config.SecurityConfig{})
	rec := httptest.NewRecorder()

	env.srv.writeCommandError(rec, errors.Join(entity.ErrCommandFailed, errCloud))

	expectStatus(t, rec, http.StatusBadGateway)
	var apiErr Error
	decodeBody(t, rec, &apiErr)
	if apiErr.Code != ErrCodeUpstreamError {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeUpstreamError)
	}
}

// ============================================================================
// History, audit, entities
// ============================================================================

func TestDeviceHistory(t *testing.T) {
	env := testServer(t, config.SecurityConfig{})

	rec := doRequest(t, env.srv, http.MethodGet, "/api/v1/devices/1/history", nil, "")
	expectStatus(t, rec, http.StatusOK)

	var body struct {
		DeviceID string                     `json:"device_id"`
		History  []device.StateHistoryEntry `json:"history"`
		Count    int                        `json:"count"`
	}
	decodeBody(t, rec, &body)
	if body.DeviceID != "1" || body.Count == 0 {
		t.Errorf("history = %+v, want the initial sync entry", body)
	}

	rec = doRequest(t, env.srv, http.MethodGet, "/api/v1/devices/1/history?limit=abc", nil, "")
	expectStatus(t, rec, http.StatusBadRequest)

	rec = doRequest(t, env.srv, http.MethodGet, "/api/v1/devices/999/history", nil, "")
	expectStatus(t, rec, http.StatusNotFound)
}

func TestDeviceHistory_Disabled(t *testing.T) {
	env := testServer(t, config.SecurityConfig{})
	env.srv.history = nil

	rec := doRequest(t, env.srv, http.MethodGet, "/api/v1/devices/1/history", nil, "")
	expectStatus(t, rec, http.StatusServiceUnavailable)
}

func TestListAudit(t *testing.T) {
	env := testServer(t, config.SecurityConfig{})
	ctx := context.Background()

	for _, e := range []*audit.Entry{
		{CommandID: "cmd-1", DeviceID: "1", EntityID: "1", Action: "turn_on", Source: audit.SourceAPI},
		{CommandID: "cmd-2", DeviceID: "2", EntityID: "2", Action: "turn_off", Source: audit.SourceMQTT, Outcome: audit.OutcomeFailed},
	} {
		if err := env.audit.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	rec := doRequest(t, env.srv, http.MethodGet, "/api/v1/audit", nil, "")
	expectStatus(t, rec, http.StatusOK)
	var all audit.ListResult
	decodeBody(t, rec, &all)
	if all.Total != 2 {
		t.Errorf("total = %d, want 2", all.Total)
	}

	rec = doRequest(t, env.srv, http.MethodGet, "/api/v1/audit?outcome=failed", nil, "")
	expectStatus(t, rec, http.StatusOK)
	var failed audit.ListResult
	decodeBody(t, rec, &failed)
	if failed.Total != 1 || failed.Entries[0].CommandID != "cmd-2" {
		t.Errorf("failed = %+v, want cmd-2 only", failed)
	}

	rec = doRequest(t, env.srv, http.MethodGet, "/api/v1/devices/1/audit", nil, "")
	expectStatus(t, rec, http.StatusOK)
	var dev struct {
		DeviceID string        `json:"device_id"`
		Entries  []audit.Entry `json:"entries"`
		Count    int           `json:"count"`
	}
	decodeBody(t, rec, &dev)
	if dev.Count != 1 || dev.Entries[0].CommandID != "cmd-1" {
		t.Errorf("device audit = %+v, want cmd-1 only", dev)
	}
}

func TestEntities(t *testing.T) {
	env := testServer(t, config.SecurityConfig{})

	rec := doRequest(t, env.srv, http.MethodGet, "/api/v1/entities", nil, "")
	expectStatus(t, rec, http.StatusOK)
	var all struct {
		Entities []entity.Entity `json:"entities"`
		Count    int             `json:"count"`
	}
	decodeBody(t, rec, &all)
	if all.Count != 3 {
		t.Errorf("count = %d, want 3", all.Count)
	}

	rec = doRequest(t, env.srv, http.MethodGet, "/api/v1/entities?kind=fan", nil, "")
	expectStatus(t, rec, http.StatusOK)
	var fans struct {
		Entities []entity.Entity `json:"entities"`
		Count    int             `json:"count"`
	}
	decodeBody(t, rec, &fans)
	if fans.Count != 1 || fans.Entities[0].UniqueID != "2" {
		t.Errorf("fans = %+v, want entity 2", fans.Entities)
	}

	rec = doRequest(t, env.srv, http.MethodGet, "/api/v1/entities/3", nil, "")
	expectStatus(t, rec, http.StatusOK)
	var porch entity.Entity
	decodeBody(t, rec, &porch)
	if porch.Available {
		t.Error("offline device entity should be unavailable")
	}

	rec = doRequest(t, env.srv, http.MethodGet, "/api/v1/entities/999", nil, "")
	expectStatus(t, rec, http.StatusNotFound)
}

// ============================================================================
// System
// ============================================================================

func TestSystemStatus(t *testing.T) {
	env := testServer(t, config.SecurityConfig{})

	rec := doRequest(t, env.srv, http.MethodGet, "/api/v1/system/status", nil, "")
	expectStatus(t, rec, http.StatusOK)

	var status SystemStatus
	decodeBody(t, rec, &status)
	if status.Version != "test" {
		t.Errorf("version = %q, want test", status.Version)
	}
	if status.Cloud == nil || status.Cloud.Devices != 3 {
		t.Errorf("cloud = %+v, want 3 devices", status.Cloud)
	}
	if status.Realtime != nil {
		t.Errorf("realtime = %+v, want omitted", status.Realtime)
	}
	if status.Devices.Total != 3 || status.Devices.InCloud != 3 {
		t.Errorf("devices = %+v, want 3/3", status.Devices)
	}
	if status.Entities.Total != 3 || status.Entities.Available != 2 {
		t.Errorf("entities = %+v, want 3 total 2 available", status.Entities)
	}
}

func TestMetrics(t *testing.T) {
	env := testServer(t, config.SecurityConfig{})

	rec := doRequest(t, env.srv, http.MethodGet, "/api/v1/metrics", nil, "")
	expectStatus(t, rec, http.StatusOK)

	var m SystemMetrics
	decodeBody(t, rec, &m)
	if m.Devices != 3 {
		t.Errorf("devices = %d, want 3", m.Devices)
	}
	if m.Runtime.Goroutines <= 0 {
		t.Errorf("goroutines = %d, want > 0", m.Runtime.Goroutines)
	}
}

// ============================================================================
// Middleware
// ============================================================================

func TestRequestID(t *testing.T) {
	env := testServer(t, config.SecurityConfig{})

	rec := doRequest(t, env.srv, http.MethodGet, "/api/v1/health", nil, "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID should be generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	env.srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestCORS(t *testing.T) {
	env := testServer(t, config.SecurityConfig{})
	env.srv.cfg.CORS.AllowedOrigins = []string{"http://panel.local"}
	router := env.srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://panel.local")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusNoContent)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty for unlisted origin", got)
	}
}

func TestRecovery(t *testing.T) {
	env := testServer(t, config.SecurityConfig{})
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	expectStatus(t, rec, http.StatusInternalServerError)
}

func TestBodySizeLimit(t *testing.T) {
	env := testServer(t, config.SecurityConfig{})

	big := `{"action":"turn_on","pad":"` + strings.Repeat("x", maxRequestBodySize) + `"}`
	rec := doRequest(t, env.srv, http.MethodPut, "/api/v1/devices/1/state", big, "")
	expectStatus(t, rec, http.StatusBadRequest)
	if len(env.cloud.sent()) != 0 {
		t.Error("oversized request should not reach the cloud")
	}
}
