package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"enginemanager/src/repository"
	"enginemanager/src/security"
)

// ErrClientNotFound is returned by SendAction when no client exists for
// the project after waiting out a possible bootstrap.
var ErrClientNotFound = errors.New("no engine client for project")

// EngineClient is the transport surface the registry and supervisor
// depend on; *Client is the production implementation.
type EngineClient interface {
	Start(ctx context.Context, projectConf map[string]any) error
	Stop()
	Invoke(ctx context.Context, action string, params map[string]any) (json.RawMessage, error)
	Send(action string, params map[string]any)
	RegisterHandler(event EventType, fn EventHandler)
	Alive() bool
	Pid() int
}

// ClientFactory constructs a transport client for a project. Injected so
// tests can substitute fakes.
type ClientFactory func(projectID, name string) EngineClient

// Registry is the single authoritative in-memory table of live engine
// clients. All mutation goes through the mutex; the initializing set keeps
// the supervisor from tearing down a client that AddClient is still
// bootstrapping. The registry is fully reconstructable from the store plus
// a fresh worker-state pull, so it is never persisted.
type Registry struct {
	mu           sync.Mutex
	clients      map[string]EngineClient
	initializing map[string]struct{}

	db      *gorm.DB
	factory ClientFactory
	cfg     *Config
}

func NewRegistry(db *gorm.DB, factory ClientFactory, cfg *Config) *Registry {
	return &Registry{
		clients:      make(map[string]EngineClient),
		initializing: make(map[string]struct{}),
		db:           db,
		factory:      factory,
		cfg:          cfg,
	}
}

// AddClient starts a worker for the project and runs the bootstrap
// sequence. Idempotent: an existing client is returned as-is. The registry
// lock is held only around map mutation, never across channel round-trips.
func (r *Registry) AddClient(ctx context.Context, projectID, name string) (EngineClient, error) {
	r.mu.Lock()
	if existing, ok := r.clients[projectID]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	if _, busy := r.initializing[projectID]; busy {
		r.mu.Unlock()
		return nil, fmt.Errorf("project %s is already initializing", projectID)
	}
	r.initializing[projectID] = struct{}{}
	r.mu.Unlock()

	client, err := r.bootstrap(ctx, projectID, name)

	r.mu.Lock()
	delete(r.initializing, projectID)
	if err != nil {
		delete(r.clients, projectID)
	}
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return client, nil
}

// bootstrap runs the fixed-order start sequence: spawn + connect, settle,
// then push risk policies, executors, data sources and strategies. The
// order is a correctness requirement: executors and data sources must
// exist before strategies reference them, and risk policies must exist
// before strategies can be evaluated against them.
func (r *Registry) bootstrap(ctx context.Context, projectID, name string) (EngineClient, error) {
	pid, err := strconv.ParseInt(projectID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid project id %q: %w", projectID, err)
	}

	configs := repository.NewConfigRepositoryWithDB(r.db)
	projectConf, err := configs.GetOrCreateProjectConfig(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("load project config: %w", err)
	}

	client := r.factory(projectID, name)
	NewDispatcher(pid, r.db, func(action string) {
		client.Send(action, nil)
	}).Register(client)

	conf := map[string]any{
		"position_setting": projectConf.PositionSetting,
		"mount_dirs":       projectConf.MountDirs,
	}
	if err := client.Start(ctx, conf); err != nil {
		return nil, err
	}

	// Visible to GetClient while still initializing; SendAction callers
	// wait on the initializing flag instead of failing.
	r.mu.Lock()
	r.clients[projectID] = client
	r.mu.Unlock()

	teardown := func(cause error) (EngineClient, error) {
		client.Stop()
		return nil, cause
	}

	select {
	case <-ctx.Done():
		return teardown(ctx.Err())
	case <-time.After(r.cfg.SettleDelay):
	}

	policies, err := configs.EnabledRiskPolicies(ctx, pid)
	if err != nil {
		return teardown(err)
	}
	for i := range policies {
		if _, err := client.Invoke(ctx, ActionAddPositionPolicy, map[string]any{"config": policies[i].ToConfig()}); err != nil {
			return teardown(fmt.Errorf("push risk policy %d: %w", policies[i].ID, err))
		}
	}

	executors, err := configs.EnabledExecutors(ctx, pid)
	if err != nil {
		return teardown(err)
	}
	for i := range executors {
		cfg := executors[i].ToConfig()
		if cfg["params"], err = security.UnsealParams(executors[i].Params); err != nil {
			return teardown(fmt.Errorf("unseal executor %d: %w", executors[i].ID, err))
		}
		if _, err := client.Invoke(ctx, ActionAddExecutor, map[string]any{"config": cfg}); err != nil {
			return teardown(fmt.Errorf("push executor %d: %w", executors[i].ID, err))
		}
	}

	sources, err := configs.EnabledDataSources(ctx, pid)
	if err != nil {
		return teardown(err)
	}
	for i := range sources {
		cfg := sources[i].ToConfig()
		if cfg["params"], err = security.UnsealParams(sources[i].Params); err != nil {
			return teardown(fmt.Errorf("unseal data source %d: %w", sources[i].ID, err))
		}
		if _, err := client.Invoke(ctx, ActionAddDataSource, map[string]any{"config": cfg}); err != nil {
			return teardown(fmt.Errorf("push data source %d: %w", sources[i].ID, err))
		}
	}

	strategies, err := configs.EnabledStrategies(ctx, pid)
	if err != nil {
		return teardown(err)
	}
	for i := range strategies {
		if _, err := client.Invoke(ctx, ActionAddStrategy, map[string]any{"config": strategies[i].ToConfig()}); err != nil {
			return teardown(fmt.Errorf("push strategy %d: %w", strategies[i].ID, err))
		}
	}

	logger.WithFields(map[string]interface{}{
		"project_id": projectID,
		"policies":   len(policies),
		"executors":  len(executors),
		"sources":    len(sources),
		"strategies": len(strategies),
	}).Info("engine client bootstrapped")

	return client, nil
}

// RemoveClient stops and forgets the project's client. A client that is
// still initializing is left alone: the supervisor must not tear down a
// bootstrap in flight.
func (r *Registry) RemoveClient(projectID string) {
	r.mu.Lock()
	if _, busy := r.initializing[projectID]; busy {
		r.mu.Unlock()
		logger.WithField("project_id", projectID).Info("skip removal, client still initializing")
		return
	}
	client, ok := r.clients[projectID]
	delete(r.clients, projectID)
	r.mu.Unlock()

	if ok {
		client.Stop()
	}
}

// GetClient is a pure lookup; absent projects return (nil, false).
func (r *Registry) GetClient(projectID string) (EngineClient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[projectID]
	return c, ok
}

// IsInitializing reports whether a bootstrap is in flight for the project.
func (r *Registry) IsInitializing(projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, busy := r.initializing[projectID]
	return busy
}

// Snapshot lists the registered project ids. Used by the supervisor diff
// and the ops status endpoint.
func (r *Registry) Snapshot() map[string]EngineClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]EngineClient, len(r.clients))
	for id, c := range r.clients {
		out[id] = c
	}
	return out
}

// SendAction invokes a control action on the project's client. If the
// client is still bootstrapping it waits, bounded, for initialization to
// finish instead of failing immediately: this absorbs the startup race
// between API requests and the supervisor.
func (r *Registry) SendAction(ctx context.Context, projectID, action string, params map[string]any) (json.RawMessage, error) {
	deadline := time.Now().Add(r.cfg.InitWaitTimeout)
	for r.IsInitializing(projectID) && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.cfg.InitPollInterval):
		}
	}

	client, ok := r.GetClient(projectID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, projectID)
	}
	return client.Invoke(ctx, action, params)
}

// StopAll tears down every client. Called on manager shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	clients := make([]EngineClient, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = make(map[string]EngineClient)
	r.mu.Unlock()

	for _, c := range clients {
		c.Stop()
	}
}
