package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"enginemanager/src/model"
)

type alertRecord struct {
	projectID int64
	name      string
	reason    string
	extraURLs []string
}

type fakeAlerter struct {
	mu    sync.Mutex
	calls []alertRecord
}

func (a *fakeAlerter) EngineFailure(projectID int64, name, reason string, extraURLs []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, alertRecord{projectID: projectID, name: name, reason: reason, extraURLs: extraURLs})
}

func TestSupervisorScanStartsAndPullsState(t *testing.T) {
	db := newTestDB(t, "supervisor_scan")

	seed := []any{
		&model.Project{ID: 42, Name: "alpha", IsEnabled: true},
		&model.Project{ID: 43, Name: "paused", IsEnabled: false},
		&model.Strategy{ID: 1, ProjectID: 42, Name: "momo", ClassName: "MomentumStrategy", IsEnabled: true},
	}
	for _, row := range seed {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	var fake *fakeClient
	reg := NewRegistry(db, func(projectID, name string) EngineClient {
		fake = newFakeClient(projectID, name)
		fake.invokeResult = map[string]json.RawMessage{
			ActionGetStrategyState: json.RawMessage(`{"1": {"window": [1, 2, 3]}}`),
			ActionGetPositionState: json.RawMessage(`{"total_amount": "100"}`),
		}
		return fake
	}, testRegistryConfig())

	sup := NewSupervisor(reg, db, &fakeAlerter{}, testRegistryConfig())

	// First pass starts the missing worker and records the handle.
	if err := sup.Scan(context.Background()); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if _, ok := reg.GetClient("42"); !ok {
		t.Fatal("enabled project has no client after scan")
	}
	if _, ok := reg.GetClient("43"); ok {
		t.Fatal("disabled project got a client")
	}

	var project model.Project
	if err := db.First(&project, 42).Error; err != nil {
		t.Fatalf("project fetch failed: %v", err)
	}
	if project.ProcessID() != 777 {
		t.Fatalf("worker handle not recorded: %+v", project.EngineInfo)
	}

	// Second pass health-checks and pulls state.
	if err := sup.Scan(context.Background()); err != nil {
		t.Fatalf("second scan failed: %v", err)
	}

	var strategy model.Strategy
	if err := db.First(&strategy, 1).Error; err != nil {
		t.Fatalf("strategy fetch failed: %v", err)
	}
	if strategy.Data == nil {
		t.Fatal("strategy state not persisted")
	}

	var conf model.ProjectConfig
	if err := db.Where("project_id = ?", 42).First(&conf).Error; err != nil {
		t.Fatalf("project config fetch failed: %v", err)
	}
	if conf.PositionData["total_amount"] != "100" {
		t.Fatalf("position state not persisted: %v", conf.PositionData)
	}
}

func TestSupervisorFailureClearsHandleAndAlerts(t *testing.T) {
	db := newTestDB(t, "supervisor_fail")

	seed := []any{
		&model.Project{ID: 80, Name: "fragile", IsEnabled: true},
		&model.ProjectConfig{ProjectID: 80, AlertConfig: []string{"https://hooks.example/80"}},
	}
	for _, row := range seed {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	var fakes []*fakeClient
	reg := NewRegistry(db, func(projectID, name string) EngineClient {
		f := newFakeClient(projectID, name)
		fakes = append(fakes, f)
		return f
	}, testRegistryConfig())

	alerter := &fakeAlerter{}
	sup := NewSupervisor(reg, db, alerter, testRegistryConfig())

	if err := sup.Scan(context.Background()); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(fakes) != 1 {
		t.Fatalf("expected one started client, got %d", len(fakes))
	}

	// Worker dies between scans.
	fakes[0].setAlive(false)
	if err := sup.Scan(context.Background()); err != nil {
		t.Fatalf("failure scan failed: %v", err)
	}

	if _, ok := reg.GetClient("80"); ok {
		t.Fatal("dead client left in registry")
	}
	var project model.Project
	if err := db.First(&project, 80).Error; err != nil {
		t.Fatalf("project fetch failed: %v", err)
	}
	if project.ProcessID() != 0 {
		t.Fatalf("stale worker handle survived the failure: %+v", project.EngineInfo)
	}

	if len(alerter.calls) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerter.calls))
	}
	call := alerter.calls[0]
	if call.projectID != 80 || call.name != "fragile" {
		t.Fatalf("alert for wrong project: %+v", call)
	}
	if len(call.extraURLs) != 1 || call.extraURLs[0] != "https://hooks.example/80" {
		t.Fatalf("project alert urls not forwarded: %v", call.extraURLs)
	}

	// The next pass restarts from scratch.
	if err := sup.Scan(context.Background()); err != nil {
		t.Fatalf("restart scan failed: %v", err)
	}
	if len(fakes) != 2 {
		t.Fatalf("expected a fresh client after failure, got %d", len(fakes))
	}
	if _, ok := reg.GetClient("80"); !ok {
		t.Fatal("project not restarted")
	}
}

func TestProjectLifecycleWithLateConfiguration(t *testing.T) {
	db := newTestDB(t, "supervisor_lifecycle")
	if err := db.Create(&model.Project{ID: 42, Name: "fresh", IsEnabled: true}).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	var fake *fakeClient
	reg := NewRegistry(db, func(projectID, name string) EngineClient {
		fake = newFakeClient(projectID, name)
		fake.invokeResult = map[string]json.RawMessage{
			ActionGetStrategyState: json.RawMessage(`{}`),
			ActionGetPositionState: json.RawMessage(`{"snapshot": true}`),
		}
		return fake
	}, testRegistryConfig())
	sup := NewSupervisor(reg, db, &fakeAlerter{}, testRegistryConfig())

	// With nothing enabled, the bootstrap issues zero pushes.
	if err := sup.Scan(context.Background()); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if n := len(fake.actions()); n != 0 {
		t.Fatalf("empty project bootstrap pushed %d actions: %v", n, fake.actions())
	}

	// Entities enabled later are hot-added through send_action.
	if _, err := reg.SendAction(context.Background(), "42", ActionAddExecutor, map[string]any{"config": map[string]any{"id": 1}}); err != nil {
		t.Fatalf("add executor failed: %v", err)
	}
	if _, err := reg.SendAction(context.Background(), "42", ActionAddStrategy, map[string]any{"config": map[string]any{"id": 2}}); err != nil {
		t.Fatalf("add strategy failed: %v", err)
	}

	// The next tick health-checks and persists both snapshots.
	if err := sup.Scan(context.Background()); err != nil {
		t.Fatalf("second scan failed: %v", err)
	}

	got := fake.actions()
	want := []string{ActionAddExecutor, ActionAddStrategy, ActionGetStrategyState, ActionGetPositionState}
	if len(got) != len(want) {
		t.Fatalf("unexpected actions %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected actions %v, want %v", got, want)
		}
	}

	var conf model.ProjectConfig
	if err := db.Where("project_id = ?", 42).First(&conf).Error; err != nil {
		t.Fatalf("config fetch failed: %v", err)
	}
	if conf.PositionData["snapshot"] != true {
		t.Fatalf("position snapshot not persisted: %v", conf.PositionData)
	}
}

func TestSupervisorRemovesClientsForGoneProjects(t *testing.T) {
	db := newTestDB(t, "supervisor_gone")
	if err := db.Create(&model.Project{ID: 90, Name: "temp", IsEnabled: true}).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	var fakes []*fakeClient
	reg := NewRegistry(db, func(projectID, name string) EngineClient {
		f := newFakeClient(projectID, name)
		f.invokeResult = map[string]json.RawMessage{
			ActionGetStrategyState: json.RawMessage(`{}`),
			ActionGetPositionState: json.RawMessage(`{}`),
		}
		fakes = append(fakes, f)
		return f
	}, testRegistryConfig())
	sup := NewSupervisor(reg, db, &fakeAlerter{}, testRegistryConfig())

	if err := sup.Scan(context.Background()); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	// Project disabled while its worker is running.
	if err := db.Model(&model.Project{}).Where("id = ?", 90).Update("is_enabled", false).Error; err != nil {
		t.Fatalf("disable failed: %v", err)
	}

	if err := sup.Scan(context.Background()); err != nil {
		t.Fatalf("scan after disable failed: %v", err)
	}

	if _, ok := reg.GetClient("90"); ok {
		t.Fatal("client for disabled project left in registry")
	}
	if !fakes[0].stopped {
		t.Fatal("worker for disabled project not stopped")
	}
}
