package workspaceengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/liamcoop/automations/rules"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(s string) {
	c.mu.Lock()
	c.calls = append(c.calls, s)
	c.mu.Unlock()
}

func (c *callLog) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func newTestManager(t *testing.T) (*Manager, rules.RuleStore, *callLog) {
	t.Helper()

	calls := &callLog{}
	x := rules.NewExecutor()
	x.RegisterFunc(rules.ActionAddLabel, func(ctx context.Context, a rules.Action, ev rules.Event) (any, error) {
		calls.add(fmt.Sprintf("%v:%s", a.Config["label"], ev.EntityID))
		return nil, nil
	})

	store := rules.NewInMemoryRuleStore()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(store, x, rules.WithLogger(quiet))
	m.log = quiet
	return m, store, calls
}

func labelRule(label, workspaceID string) *rules.Rule {
	return &rules.Rule{
		Name:        label,
		WorkspaceID: workspaceID,
		Active:      true,
		Trigger:     rules.Trigger{Type: rules.EventTaskCreated, Entity: rules.EntityTask},
		Actions:     []rules.Action{{Type: rules.ActionAddLabel, Config: map[string]any{"label": label}}},
	}
}

func taskCreated(id string) rules.Event {
	return rules.Event{Type: rules.EventTaskCreated, EntityType: rules.EntityTask, EntityID: id}
}

// TestManager_CreateWorkspace verifies workspace creation and lookup
func TestManager_CreateWorkspace(t *testing.T) {
	m, _, _ := newTestManager(t)

	engine, err := m.CreateWorkspace("w1", nil)
	if err != nil {
		t.Fatalf("CreateWorkspace() failed: %v", err)
	}

	got, err := m.Engine("w1")
	if err != nil || got != engine {
		t.Fatalf("Engine(w1) = (%p, %v), want (%p, nil)", got, err, engine)
	}

	// Re-creating keeps the engine and swaps the schema
	schema := Schema{rules.EntityTask: {"priority": TypeString}}
	again, err := m.CreateWorkspace("w1", schema)
	if err != nil || again != engine {
		t.Fatalf("second CreateWorkspace() = (%p, %v)", again, err)
	}
	if s, _ := m.Schema("w1"); len(s) != 1 {
		t.Errorf("schema not replaced: %v", s)
	}
}

// TestManager_CreateWorkspaceInvalid verifies bad ids and schemas are rejected
func TestManager_CreateWorkspaceInvalid(t *testing.T) {
	m, _, _ := newTestManager(t)

	if _, err := m.CreateWorkspace("", nil); err == nil {
		t.Error("empty workspace id should be rejected")
	}
	if _, err := m.CreateWorkspace("w1", Schema{"invoice": {"x": TypeString}}); err == nil {
		t.Error("invalid schema should be rejected")
	}
	if len(m.Workspaces()) != 0 {
		t.Errorf("failed creates left workspaces behind: %v", m.Workspaces())
	}
}

// TestManager_EngineNotFound verifies unknown workspaces report ErrWorkspaceNotFound
func TestManager_EngineNotFound(t *testing.T) {
	m, _, _ := newTestManager(t)

	if _, err := m.Engine("missing"); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Errorf("Engine() = %v, want ErrWorkspaceNotFound", err)
	}
	if _, err := m.Dispatch(context.Background(), "missing", taskCreated("t1")); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Errorf("Dispatch() = %v, want ErrWorkspaceNotFound", err)
	}
	if err := m.Submit("missing", taskCreated("t1")); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Errorf("Submit() = %v, want ErrWorkspaceNotFound", err)
	}
	if err := m.RemoveWorkspace("missing"); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Errorf("RemoveWorkspace() = %v, want ErrWorkspaceNotFound", err)
	}
}

// TestManager_WorkspaceIsolation verifies each engine sees its own rules plus global ones
func TestManager_WorkspaceIsolation(t *testing.T) {
	m, store, calls := newTestManager(t)
	for _, r := range []*rules.Rule{labelRule("global", ""), labelRule("w1-only", "w1"), labelRule("w2-only", "w2")} {
		store.Create(r)
	}

	m.CreateWorkspace("w1", nil)
	m.CreateWorkspace("w2", nil)

	ctx := context.Background()
	if _, err := m.Dispatch(ctx, "w1", taskCreated("a")); err != nil {
		t.Fatalf("Dispatch(w1) failed: %v", err)
	}
	if _, err := m.Dispatch(ctx, "w2", taskCreated("b")); err != nil {
		t.Fatalf("Dispatch(w2) failed: %v", err)
	}

	got := fmt.Sprint(calls.snapshot())
	want := "[global:a w1-only:a global:b w2-only:b]"
	if got != want {
		t.Errorf("calls = %s, want %s", got, want)
	}
}

// TestManager_InvalidateAll verifies engines see rules created directly in the shared store
func TestManager_InvalidateAll(t *testing.T) {
	m, store, calls := newTestManager(t)
	m.CreateWorkspace("w1", nil)
	ctx := context.Background()

	m.Dispatch(ctx, "w1", taskCreated("a"))
	store.Create(labelRule("late", "w1"))
	m.InvalidateAll()
	m.Dispatch(ctx, "w1", taskCreated("b"))

	if got := fmt.Sprint(calls.snapshot()); got != "[late:b]" {
		t.Errorf("calls = %s, want [late:b]", got)
	}
}

// TestManager_StartDrainsQueues verifies submitted events are processed by Start's runners
func TestManager_StartDrainsQueues(t *testing.T) {
	m, store, calls := newTestManager(t)
	store.Create(labelRule("w1", "w1"))
	store.Create(labelRule("w2", "w2"))

	m.CreateWorkspace("w1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	// A workspace created after Start is started too
	m.CreateWorkspace("w2", nil)

	for i := 0; i < 3; i++ {
		if err := m.Submit("w1", taskCreated(fmt.Sprintf("t%d", i))); err != nil {
			t.Fatalf("Submit(w1) failed: %v", err)
		}
	}
	if err := m.Submit("w2", taskCreated("x")); err != nil {
		t.Fatalf("Submit(w2) failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close() did not return")
	}

	got := calls.snapshot()
	if len(got) != 4 {
		t.Fatalf("processed %d events, want 4: %v", len(got), got)
	}
	var w1 []string
	for _, c := range got {
		if c != "w2:x" {
			w1 = append(w1, c)
		}
	}
	if fmt.Sprint(w1) != "[w1:t0 w1:t1 w1:t2]" {
		t.Errorf("w1 events out of order: %v", w1)
	}
}

// TestManager_RemoveWorkspace verifies removal closes the engine and forgets it
func TestManager_RemoveWorkspace(t *testing.T) {
	m, _, _ := newTestManager(t)
	engine, _ := m.CreateWorkspace("w1", nil)
	m.CreateWorkspace("w2", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	if err := m.RemoveWorkspace("w1"); err != nil {
		t.Fatalf("RemoveWorkspace() failed: %v", err)
	}
	if ids := m.Workspaces(); fmt.Sprint(ids) != "[w2]" {
		t.Errorf("Workspaces() = %v, want [w2]", ids)
	}
	if err := engine.Submit(taskCreated("t1")); !errors.Is(err, rules.ErrEngineClosed) {
		t.Errorf("removed engine accepted an event: %v", err)
	}
	m.Close()
}

// TestManager_CheckRule verifies schema warnings are looked up by the rule's workspace
func TestManager_CheckRule(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.CreateWorkspace("w1", Schema{rules.EntityTask: {"priority": TypeString}})

	r := labelRule("x", "w1")
	r.Conditions = []rules.Condition{{Field: "severity", Operator: rules.OpEquals, Value: "s1"}}

	if warnings := m.CheckRule(r); len(warnings) != 1 {
		t.Errorf("CheckRule() = %v, want one warning", warnings)
	}

	r.WorkspaceID = "unknown"
	if warnings := m.CheckRule(r); len(warnings) != 0 {
		t.Errorf("unknown workspace should produce no warnings: %v", warnings)
	}
}

// TestManager_Concurrency verifies concurrent dispatch across workspaces
func TestManager_Concurrency(t *testing.T) {
	m, store, calls := newTestManager(t)
	store.Create(labelRule("g", ""))

	for i := 0; i < 5; i++ {
		m.CreateWorkspace(fmt.Sprintf("w%d", i), nil)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		for j := 0; j < 10; j++ {
			wg.Add(1)
			go func(ws string) {
				defer wg.Done()
				if _, err := m.Dispatch(context.Background(), ws, taskCreated("t")); err != nil {
					t.Errorf("Dispatch(%s) failed: %v", ws, err)
				}
			}(fmt.Sprintf("w%d", i))
		}
	}
	wg.Wait()

	if n := len(calls.snapshot()); n != 50 {
		t.Errorf("got %d action calls, want 50", n)
	}
}
