//go:build integration
// +build integration

package rules_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/liamcoop/automations/rules"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/lib/pq"
)

// setupTestDB creates a PostgreSQL container and returns a migrated connection
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "automations_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgresContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := postgresContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgresContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("host=%s port=%s user=test password=test dbname=automations_test sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	migrationSQL, err := os.ReadFile(filepath.Join("..", "migrations", "000001_initial_schema.up.sql"))
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgresContainer.Terminate(ctx)
	}

	return db, cleanup
}

func sampleRule(name, projectID string) *rules.Rule {
	return &rules.Rule{
		Name:      name,
		ProjectID: projectID,
		Active:    true,
		Trigger: rules.Trigger{
			Type:    rules.EventTaskCreated,
			Entity:  rules.EntityTask,
			Filters: map[string]any{"type": "bug"},
		},
		Conditions: []rules.Condition{
			{Field: "priority", Operator: rules.OpIn, Value: []any{"high", "urgent"}},
		},
		Actions: []rules.Action{
			{Type: rules.ActionAddLabel, Config: map[string]any{"label": "triage"}},
		},
	}
}

func TestPostgresRuleStore_BasicCRUD(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := rules.NewPostgresRuleStore(db)

	created, err := store.Create(sampleRule("Label bugs", "p1"))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("Create() should assign an ID")
	}

	got, err := store.Get(created.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Name != "Label bugs" || got.Trigger.Filters["type"] != "bug" {
		t.Errorf("Get() = %+v", got)
	}
	if len(got.Conditions) != 1 || got.Conditions[0].Operator != rules.OpIn {
		t.Errorf("conditions round trip = %+v", got.Conditions)
	}

	name := "Label all bugs"
	updated, err := store.Update(created.ID, rules.RulePatch{Name: &name})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if updated.Name != name || !updated.CreatedAt.Equal(got.CreatedAt) {
		t.Errorf("Update() = %+v", updated)
	}

	deleted, err := store.Delete(created.ID)
	if err != nil || !deleted {
		t.Fatalf("Delete() = (%v, %v)", deleted, err)
	}
	if _, err := store.Get(created.ID); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("Get() after Delete() = %v, want ErrRuleNotFound", err)
	}
}

func TestPostgresRuleStore_UpdateNonExistent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := rules.NewPostgresRuleStore(db)
	name := "x"
	if _, err := store.Update("missing", rules.RulePatch{Name: &name}); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Fatalf("Update() = %v, want ErrRuleNotFound", err)
	}
	if deleted, err := store.Delete("missing"); err != nil || deleted {
		t.Fatalf("Delete() = (%v, %v), want (false, nil)", deleted, err)
	}
}

func TestPostgresRuleStore_ScopeAndOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := rules.NewPostgresRuleStore(db)
	for _, r := range []*rules.Rule{
		sampleRule("first global", ""),
		sampleRule("p1 rule", "p1"),
		sampleRule("p2 rule", "p2"),
		sampleRule("second global", ""),
	} {
		if _, err := store.Create(r); err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
	}

	all, err := store.ListAll()
	if err != nil {
		t.Fatalf("ListAll() failed: %v", err)
	}
	if len(all) != 4 || all[0].Name != "first global" || all[3].Name != "second global" {
		t.Fatalf("ListAll() order wrong: %d rules", len(all))
	}

	scoped, err := store.ListForScope("p1")
	if err != nil {
		t.Fatalf("ListForScope() failed: %v", err)
	}
	want := []string{"first global", "p1 rule", "second global"}
	if len(scoped) != len(want) {
		t.Fatalf("ListForScope() returned %d rules, want %d", len(scoped), len(want))
	}
	for i, name := range want {
		if scoped[i].Name != name {
			t.Errorf("rule %d = %q, want %q", i, scoped[i].Name, name)
		}
	}

	// The empty scope sees only global rules
	globals, err := store.ListForScope("")
	if err != nil {
		t.Fatalf("ListForScope(\"\") failed: %v", err)
	}
	if len(globals) != 2 || globals[0].Name != "first global" || globals[1].Name != "second global" {
		t.Errorf("ListForScope(\"\") returned %d rules, want the 2 global rules", len(globals))
	}
}

func TestPostgresExecutionStore_RecordAndList(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := rules.NewPostgresRuleStore(db)
	executions := rules.NewPostgresExecutionStore(db)

	x := rules.NewExecutor()
	x.RegisterFunc(rules.ActionAddLabel, func(ctx context.Context, a rules.Action, ev rules.Event) (any, error) {
		return map[string]any{"label": a.Config["label"]}, nil
	})

	engine, err := rules.NewEngine(store, x, rules.WithExecutionSink(executions))
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	rule, err := engine.CreateRule(sampleRule("Label bugs", ""))
	if err != nil {
		t.Fatalf("CreateRule() failed: %v", err)
	}

	_, err = engine.Process(ctx, rules.Event{
		Type:       rules.EventTaskCreated,
		EntityType: rules.EntityTask,
		EntityID:   "t1",
		Data:       map[string]any{"type": "bug", "priority": "urgent"},
	})
	if err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	listed, err := executions.ListByRule(ctx, rule.ID, 10)
	if err != nil {
		t.Fatalf("ListByRule() failed: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("got %d executions, want 1", len(listed))
	}
	exec := listed[0]
	if exec.Status != rules.StatusCompleted || exec.EntityID != "t1" {
		t.Errorf("execution = %+v", exec)
	}
	if len(exec.Actions) != 1 || exec.Actions[0].Status != rules.StatusCompleted {
		t.Fatalf("actions = %+v", exec.Actions)
	}
	result, ok := exec.Actions[0].Result.(map[string]any)
	if !ok || result["label"] != "triage" {
		t.Errorf("action result = %v", exec.Actions[0].Result)
	}
}
