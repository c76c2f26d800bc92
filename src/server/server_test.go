package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"enginemanager/src/database"
	"enginemanager/src/engine"
	"enginemanager/src/model"
)

func newTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in memory db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to automigrate: %v", err)
	}
	return db
}

// stubClient satisfies engine.EngineClient for handler tests.
type stubClient struct {
	lastAction string
	reply      json.RawMessage
}

func (s *stubClient) Start(ctx context.Context, projectConf map[string]any) error { return nil }
func (s *stubClient) Stop()                                                       {}
func (s *stubClient) Invoke(ctx context.Context, action string, params map[string]any) (json.RawMessage, error) {
	s.lastAction = action
	return s.reply, nil
}
func (s *stubClient) Send(action string, params map[string]any)                      {}
func (s *stubClient) RegisterHandler(event engine.EventType, fn engine.EventHandler) {}
func (s *stubClient) Alive() bool                                                    { return true }
func (s *stubClient) Pid() int                                                       { return 888 }

func testServer(t *testing.T, name string) (*Server, *gorm.DB, *stubClient) {
	t.Helper()
	db := newTestDB(t, name)

	stub := &stubClient{reply: json.RawMessage(`{"ok":true}`)}
	cfg := &engine.Config{
		SettleDelay:      time.Millisecond,
		InitWaitTimeout:  50 * time.Millisecond,
		InitPollInterval: 5 * time.Millisecond,
	}
	reg := engine.NewRegistry(db, func(projectID, name string) engine.EngineClient {
		return stub
	}, cfg)

	return NewServer(reg, db, &Config{Port: "0"}), db, stub
}

func TestHealthcheck(t *testing.T) {
	srv, _, _ := testServer(t, "server_health")

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, db, _ := testServer(t, "server_status")

	seed := []any{
		&model.Project{ID: 1, Name: "alpha", IsEnabled: true, EngineInfo: map[string]any{"process_id": 888}},
		&model.Position{ID: 10, ProjectID: 1, StrategyID: 1, StrategyInstanceID: "s", Symbol: "BTCUSDT", Side: "LONG", OpenTime: time.Now()},
		&model.Position{ID: 11, ProjectID: 1, StrategyID: 1, StrategyInstanceID: "s", Symbol: "ETHUSDT", Side: "LONG", OpenTime: time.Now(), IsClosed: true},
	}
	for _, row := range seed {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/engine/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}

	var status []ProjectStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(status) != 1 {
		t.Fatalf("expected 1 project, got %d", len(status))
	}
	if status[0].ProjectID != 1 || status[0].Live {
		t.Errorf("unexpected row: %+v", status[0])
	}
	if status[0].OpenPositions != 1 {
		t.Errorf("closed positions must not count: %+v", status[0])
	}
}

func TestActionEndpoint(t *testing.T) {
	srv, _, stub := testServer(t, "server_action")

	// Unknown project maps to 404.
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/engine/999/actions/ping", strings.NewReader(`{}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown project, got %d", rec.Code)
	}

	// Register a client, then pass an action through.
	reg := srv.registry
	if _, err := reg.AddClient(context.Background(), "1", "alpha"); err != nil {
		t.Fatalf("add client failed: %v", err)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/engine/1/actions/close_position", strings.NewReader(`{"position_id": 5}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("action failed: %d %s", rec.Code, rec.Body.String())
	}
	if stub.lastAction != "close_position" {
		t.Fatalf("action not forwarded: %q", stub.lastAction)
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("worker reply not relayed: %s", rec.Body.String())
	}
}

func TestPositionsEndpoint(t *testing.T) {
	srv, db, _ := testServer(t, "server_positions")

	if err := db.Create(&model.Position{ID: 20, ProjectID: 3, StrategyID: 1, StrategyInstanceID: "s", Symbol: "BTCUSDT", Side: "LONG", OpenTime: time.Now()}).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/engine/3/positions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var rows []model.Position
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != 20 {
		t.Fatalf("unexpected rows: %+v", rows)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/engine/not-a-number/positions", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad project id, got %d", rec.Code)
	}
}
