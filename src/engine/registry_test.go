package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"enginemanager/src/model"
	"enginemanager/src/security"
)

type invocation struct {
	action string
	params map[string]any
}

// fakeClient is an in-memory EngineClient that records every call.
type fakeClient struct {
	mu sync.Mutex

	projectID string
	name      string

	started bool
	stopped bool
	alive   bool
	pid     int

	invoked  []invocation
	sent     []string
	handlers map[EventType]EventHandler

	invokeErrFor map[string]error
	invokeResult map[string]json.RawMessage
}

func newFakeClient(projectID, name string) *fakeClient {
	return &fakeClient{
		projectID: projectID,
		name:      name,
		alive:     true,
		pid:       777,
		handlers:  make(map[EventType]EventHandler),
	}
}

func (f *fakeClient) Start(ctx context.Context, projectConf map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeClient) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.alive = false
}

func (f *fakeClient) Invoke(ctx context.Context, action string, params map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoked = append(f.invoked, invocation{action: action, params: params})
	if err, ok := f.invokeErrFor[action]; ok {
		return nil, err
	}
	if data, ok := f.invokeResult[action]; ok {
		return data, nil
	}
	return json.RawMessage(`{}`), nil
}

func (f *fakeClient) Send(action string, params map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, action)
}

func (f *fakeClient) RegisterHandler(event EventType, fn EventHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = fn
}

func (f *fakeClient) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeClient) Pid() int { return f.pid }

func (f *fakeClient) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.invoked))
	for i, inv := range f.invoked {
		out[i] = inv.action
	}
	return out
}

func (f *fakeClient) setAlive(alive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = alive
}

func testRegistryConfig() *Config {
	return &Config{
		SettleDelay:      time.Millisecond,
		InvokeTimeout:    time.Second,
		InitWaitTimeout:  200 * time.Millisecond,
		InitPollInterval: 5 * time.Millisecond,
		StopGrace:        10 * time.Millisecond,
	}
}

func TestRegistryBootstrapOrder(t *testing.T) {
	db := newTestDB(t, "registry_bootstrap")

	sealed, err := security.EncryptString("super-secret")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	seed := []any{
		&model.RiskPolicy{ID: 1, ProjectID: 42, Name: "dd", ClassName: "MaxDrawdownPolicy", IsEnabled: true},
		&model.Executor{ID: 2, ProjectID: 42, Name: "okx", ClassName: "OkxExecutor", IsEnabled: true,
			Params: map[string]any{"api_key": sealed, "flag": true}},
		&model.DataSource{ID: 3, ProjectID: 42, Name: "okx-ws", ClassName: "OkxWsSource", IsEnabled: true},
		&model.Strategy{ID: 4, ProjectID: 42, Name: "momo", ClassName: "MomentumStrategy", IsEnabled: true},
		&model.Strategy{ID: 5, ProjectID: 42, Name: "off", ClassName: "DisabledStrategy", IsEnabled: false},
	}
	for _, row := range seed {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	var fake *fakeClient
	reg := NewRegistry(db, func(projectID, name string) EngineClient {
		fake = newFakeClient(projectID, name)
		return fake
	}, testRegistryConfig())

	client, err := reg.AddClient(context.Background(), "42", "alpha")
	if err != nil {
		t.Fatalf("add client failed: %v", err)
	}
	if client != EngineClient(fake) {
		t.Fatal("registry returned a different client")
	}
	if !fake.started {
		t.Fatal("client was never started")
	}

	want := []string{ActionAddPositionPolicy, ActionAddExecutor, ActionAddDataSource, ActionAddStrategy}
	got := fake.actions()
	if len(got) != len(want) {
		t.Fatalf("bootstrap pushed %d actions, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bootstrap order wrong at %d: got %v", i, got)
		}
	}

	// Sealed executor credentials must be pushed in the clear.
	execCfg, ok := fake.invoked[1].params["config"].(map[string]any)
	if !ok {
		t.Fatalf("executor push carried no config: %+v", fake.invoked[1].params)
	}
	params, ok := execCfg["params"].(map[string]any)
	if !ok {
		t.Fatalf("executor config carried no params: %+v", execCfg)
	}
	if params["api_key"] != "super-secret" {
		t.Errorf("sealed credential not unsealed: %v", params["api_key"])
	}
	if params["flag"] != true {
		t.Errorf("plain param mangled: %v", params["flag"])
	}

	// An event route must exist for every known push event.
	for _, event := range EventTypes {
		if _, ok := fake.handlers[event]; !ok {
			t.Errorf("no handler registered for %s", event)
		}
	}

	// A config row is created for projects that never had one.
	var conf model.ProjectConfig
	if err := db.Where("project_id = ?", 42).First(&conf).Error; err != nil {
		t.Errorf("project config was not created: %v", err)
	}

	// AddClient is idempotent: no second bootstrap.
	again, err := reg.AddClient(context.Background(), "42", "alpha")
	if err != nil {
		t.Fatalf("second add failed: %v", err)
	}
	if again != EngineClient(fake) {
		t.Fatal("second add returned a new client")
	}
	if len(fake.actions()) != len(want) {
		t.Fatal("second add re-ran the bootstrap")
	}
}

func TestRegistryBootstrapFailureTearsDown(t *testing.T) {
	db := newTestDB(t, "registry_teardown")
	if err := db.Create(&model.Strategy{ID: 1, ProjectID: 50, Name: "momo", ClassName: "MomentumStrategy", IsEnabled: true}).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	var fake *fakeClient
	reg := NewRegistry(db, func(projectID, name string) EngineClient {
		fake = newFakeClient(projectID, name)
		fake.invokeErrFor = map[string]error{ActionAddStrategy: errors.New("worker rejected")}
		return fake
	}, testRegistryConfig())

	if _, err := reg.AddClient(context.Background(), "50", "beta"); err == nil {
		t.Fatal("expected bootstrap failure")
	}
	if !fake.stopped {
		t.Fatal("failed bootstrap must stop the client")
	}
	if _, ok := reg.GetClient("50"); ok {
		t.Fatal("failed client left in registry")
	}
	if reg.IsInitializing("50") {
		t.Fatal("initializing flag leaked")
	}
}

func TestRegistrySendAction(t *testing.T) {
	db := newTestDB(t, "registry_send")

	var fake *fakeClient
	reg := NewRegistry(db, func(projectID, name string) EngineClient {
		fake = newFakeClient(projectID, name)
		return fake
	}, testRegistryConfig())

	if _, err := reg.SendAction(context.Background(), "60", ActionPing, nil); !errors.Is(err, ErrClientNotFound) {
		t.Fatalf("absent client must yield ErrClientNotFound, got %v", err)
	}

	if _, err := reg.AddClient(context.Background(), "60", "gamma"); err != nil {
		t.Fatalf("add client failed: %v", err)
	}
	if _, err := reg.SendAction(context.Background(), "60", ActionPing, map[string]any{"probe": 1}); err != nil {
		t.Fatalf("send action failed: %v", err)
	}

	actions := fake.actions()
	if actions[len(actions)-1] != ActionPing {
		t.Fatalf("ping never reached the client: %v", actions)
	}
}

func TestRegistryRemoveClientSkipsInitializing(t *testing.T) {
	db := newTestDB(t, "registry_initializing")
	reg := NewRegistry(db, func(projectID, name string) EngineClient {
		return newFakeClient(projectID, name)
	}, testRegistryConfig())

	// Simulate a bootstrap in flight: the client is visible but the
	// initializing flag is still set.
	fake := newFakeClient("65", "delta")
	reg.mu.Lock()
	reg.clients["65"] = fake
	reg.initializing["65"] = struct{}{}
	reg.mu.Unlock()

	reg.RemoveClient("65")

	if _, ok := reg.GetClient("65"); !ok {
		t.Fatal("removal tore down a client mid-bootstrap")
	}
	if fake.stopped {
		t.Fatal("initializing client was stopped")
	}
}

func TestRegistryStopAll(t *testing.T) {
	db := newTestDB(t, "registry_stopall")

	fakes := make(map[string]*fakeClient)
	reg := NewRegistry(db, func(projectID, name string) EngineClient {
		f := newFakeClient(projectID, name)
		fakes[projectID] = f
		return f
	}, testRegistryConfig())

	for _, id := range []string{"70", "71"} {
		if _, err := reg.AddClient(context.Background(), id, "p"+id); err != nil {
			t.Fatalf("add %s failed: %v", id, err)
		}
	}

	reg.StopAll()

	for id, f := range fakes {
		if !f.stopped {
			t.Errorf("client %s not stopped", id)
		}
	}
	if len(reg.Snapshot()) != 0 {
		t.Error("registry not emptied")
	}
}
