package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"enginemanager/src/model"
	"enginemanager/src/repository"
)

// Alerter receives best-effort notifications about worker failures and
// restarts. Implemented by notify.Notifier; failures inside the alerter
// never affect the scan.
type Alerter interface {
	EngineFailure(projectID int64, name, reason string, extraURLs []string)
}

// Supervisor is the platform's sole recovery mechanism: a recurring scan
// that converges the set of live workers onto the set of enabled projects
// and pulls authoritative state from each live worker into the store.
type Supervisor struct {
	registry *Registry
	db       *gorm.DB
	alerter  Alerter
	cfg      *Config
}

func NewSupervisor(registry *Registry, db *gorm.DB, alerter Alerter, cfg *Config) *Supervisor {
	return &Supervisor{
		registry: registry,
		db:       db,
		alerter:  alerter,
		cfg:      cfg,
	}
}

// Run drives the scan loop until the context is cancelled. A failing
// iteration is logged and retried on the next interval; it never crashes
// the loop.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	logger.WithField("interval", s.cfg.ScanInterval.String()).Info("engine supervisor started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("engine supervisor stopping")
			s.registry.StopAll()
			return
		case <-ticker.C:
			if err := s.Scan(ctx); err != nil {
				logger.WithError(err).Error("supervisor scan failed")
			}
		}
	}
}

// Scan performs one convergence pass. Exported so tests and the ops
// surface can trigger a pass directly.
func (s *Supervisor) Scan(ctx context.Context) error {
	projects := repository.NewProjectRepositoryWithDB(s.db)

	active, err := projects.FindActive(ctx)
	if err != nil {
		return fmt.Errorf("fetch active projects: %w", err)
	}

	desired := make(map[string]*model.Project, len(active))
	for i := range active {
		desired[strconv.FormatInt(active[i].ID, 10)] = &active[i]
	}

	// Tear down clients whose project is gone or disabled. Initializing
	// clients are skipped by RemoveClient itself.
	for projectID := range s.registry.Snapshot() {
		if _, ok := desired[projectID]; ok {
			continue
		}
		logger.WithField("project_id", projectID).Info("stopping client for removed project")
		s.registry.RemoveClient(projectID)
		if id, err := strconv.ParseInt(projectID, 10, 64); err == nil {
			if err := projects.ClearEngineInfo(ctx, id); err != nil {
				logger.WithField("project_id", projectID).WithError(err).Error("failed to clear engine info")
			}
		}
	}

	for projectID, project := range desired {
		if err := s.scanProject(ctx, projects, projectID, project); err != nil {
			logger.WithField("project_id", projectID).WithError(err).Error("project scan failed")
		}
	}

	return nil
}

// scanProject converges one project: start a worker when none is
// recorded, re-create the client when the manager lost it (e.g. across a
// restart), otherwise health-check and pull state. Any failure clears the
// persisted handle so the next tick restarts from scratch.
func (s *Supervisor) scanProject(ctx context.Context, projects *repository.ProjectRepository, projectID string, project *model.Project) error {
	recordedPid := project.ProcessID()

	client, ok := s.registry.GetClient(projectID)
	if !ok {
		if s.registry.IsInitializing(projectID) {
			return nil
		}
		// No in-memory client: either nothing was ever started or the
		// previous process handle is an orphan from a prior manager run.
		if recordedPid != 0 {
			logger.WithFields(map[string]interface{}{
				"project_id": projectID,
				"pid":        recordedPid,
			}).Warn("recorded worker has no client, recreating")
			if processAlive(recordedPid) {
				stopProcessGroup(recordedPid, s.cfg.StopGrace)
			}
		}
		started, err := s.registry.AddClient(ctx, projectID, project.Name)
		if err != nil {
			return fmt.Errorf("start client: %w", err)
		}
		return projects.UpdateEngineInfo(ctx, project.ID, map[string]any{"process_id": started.Pid()})
	}

	if !client.Alive() {
		s.failProject(ctx, projects, projectID, project, "worker process not alive")
		return nil
	}

	if err := s.pullState(ctx, projectID, project.ID, client); err != nil {
		s.failProject(ctx, projects, projectID, project, fmt.Sprintf("state pull failed: %v", err))
		return nil
	}

	return nil
}

// failProject applies the single failure policy: full removal and handle
// clear, so the next scan restarts the worker. There is no partial repair.
func (s *Supervisor) failProject(ctx context.Context, projects *repository.ProjectRepository, projectID string, project *model.Project, reason string) {
	logger.WithFields(map[string]interface{}{
		"project_id": projectID,
		"reason":     reason,
	}).Warn("engine liveness failure, scheduling restart")

	s.registry.RemoveClient(projectID)
	if err := projects.ClearEngineInfo(ctx, project.ID); err != nil {
		logger.WithField("project_id", projectID).WithError(err).Error("failed to clear engine info")
	}

	if s.alerter != nil {
		configs := repository.NewConfigRepositoryWithDB(s.db)
		var extraURLs []string
		if pc, err := configs.GetProjectConfig(ctx, project.ID); err == nil && pc != nil {
			extraURLs = pc.AlertConfig
		}
		s.alerter.EngineFailure(project.ID, project.Name, reason, extraURLs)
	}
}

// pullState fetches the authoritative strategy and position state from
// the worker and persists both snapshots. A channel error here counts as
// a liveness failure; the invoke timeout bounds the health check.
func (s *Supervisor) pullState(ctx context.Context, projectID string, pid int64, client EngineClient) error {
	configs := repository.NewConfigRepositoryWithDB(s.db)

	raw, err := client.Invoke(ctx, ActionGetStrategyState, nil)
	if err != nil {
		return err
	}
	var strategyState map[string]map[string]any
	if err := json.Unmarshal(raw, &strategyState); err != nil {
		logger.WithField("project_id", projectID).WithError(err).Warn("malformed strategy state payload")
	} else {
		for strategyID, blob := range strategyState {
			sid, err := strconv.ParseInt(strategyID, 10, 64)
			if err != nil {
				continue
			}
			if err := configs.SaveStrategyData(ctx, pid, sid, blob); err != nil {
				logger.WithFields(map[string]interface{}{
					"project_id":  projectID,
					"strategy_id": strategyID,
				}).WithError(err).Error("failed to persist strategy state")
			}
		}
	}

	raw, err = client.Invoke(ctx, ActionGetPositionState, nil)
	if err != nil {
		return err
	}
	var positionState map[string]any
	if err := json.Unmarshal(raw, &positionState); err != nil {
		logger.WithField("project_id", projectID).WithError(err).Warn("malformed position state payload")
		return nil
	}
	return configs.SavePositionData(ctx, pid, positionState)
}
