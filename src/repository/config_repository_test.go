package repository

import (
	"context"
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"enginemanager/src/database"
	"enginemanager/src/model"
)

// newTestDB creates a named in-memory gorm DB with the full schema.
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

func TestGetOrCreateProjectConfig(t *testing.T) {
	db := newTestDB(t, "config_getorcreate")
	repo := NewConfigRepositoryWithDB(db)
	ctx := context.Background()

	conf, err := repo.GetProjectConfig(ctx, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conf != nil {
		t.Fatalf("expected nil for missing config, got %+v", conf)
	}

	created, err := repo.GetOrCreateProjectConfig(ctx, 5)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ProjectID != 5 {
		t.Fatalf("wrong project id: %d", created.ProjectID)
	}

	again, err := repo.GetOrCreateProjectConfig(ctx, 5)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if again.ID != created.ID {
		t.Fatal("second call created a duplicate row")
	}
}

func TestSaveStrategyDataScopedToProject(t *testing.T) {
	db := newTestDB(t, "config_strategydata")
	repo := NewConfigRepositoryWithDB(db)
	ctx := context.Background()

	seed := []model.Strategy{
		{ID: 1, ProjectID: 5, Name: "a", ClassName: "A"},
		{ID: 2, ProjectID: 6, Name: "b", ClassName: "B"},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	if err := repo.SaveStrategyData(ctx, 6, 2, map[string]any{"cursor": "x"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	// The update is scoped by project: saving against the wrong project
	// must touch nothing.
	if err := repo.SaveStrategyData(ctx, 6, 1, map[string]any{"cursor": "y"}); err != nil {
		t.Fatalf("cross-project save errored: %v", err)
	}

	var untouched, updated model.Strategy
	if err := db.First(&untouched, 1).Error; err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if err := db.First(&updated, 2).Error; err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if untouched.Data != nil {
		t.Errorf("wrong project's strategy updated: %v", untouched.Data)
	}
	if updated.Data == nil || updated.Data["cursor"] != "x" {
		t.Errorf("strategy data not saved: %v", updated.Data)
	}
}

func TestEnabledEntitiesFilter(t *testing.T) {
	db := newTestDB(t, "config_enabled")
	repo := NewConfigRepositoryWithDB(db)
	ctx := context.Background()

	seed := []any{
		&model.Strategy{ID: 1, ProjectID: 7, Name: "on", ClassName: "A", IsEnabled: true},
		&model.Strategy{ID: 2, ProjectID: 7, Name: "off", ClassName: "B", IsEnabled: false},
		&model.Strategy{ID: 3, ProjectID: 8, Name: "other", ClassName: "C", IsEnabled: true},
		&model.Executor{ID: 1, ProjectID: 7, Name: "e", ClassName: "E", IsEnabled: true},
		&model.DataSource{ID: 1, ProjectID: 7, Name: "d", ClassName: "D", IsEnabled: false},
		&model.RiskPolicy{ID: 1, ProjectID: 7, Name: "r", ClassName: "R", IsEnabled: true},
	}
	for _, row := range seed {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	strategies, err := repo.EnabledStrategies(ctx, 7)
	if err != nil {
		t.Fatalf("strategies failed: %v", err)
	}
	if len(strategies) != 1 || strategies[0].Name != "on" {
		t.Fatalf("unexpected strategies: %+v", strategies)
	}

	executors, err := repo.EnabledExecutors(ctx, 7)
	if err != nil {
		t.Fatalf("executors failed: %v", err)
	}
	if len(executors) != 1 {
		t.Fatalf("unexpected executors: %+v", executors)
	}

	sources, err := repo.EnabledDataSources(ctx, 7)
	if err != nil {
		t.Fatalf("data sources failed: %v", err)
	}
	if len(sources) != 0 {
		t.Fatalf("disabled data source returned: %+v", sources)
	}

	policies, err := repo.EnabledRiskPolicies(ctx, 7)
	if err != nil {
		t.Fatalf("risk policies failed: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("unexpected risk policies: %+v", policies)
	}
}
