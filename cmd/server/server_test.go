package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/automations/internal/config"
	"github.com/liamcoop/automations/internal/metrics"
	"github.com/liamcoop/automations/rules"
	"github.com/liamcoop/automations/workspaceengine"
)

type labelCalls struct {
	mu     sync.Mutex
	labels []string
}

func (c *labelCalls) add(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.labels = append(c.labels, s)
}

func (c *labelCalls) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.labels...)
}

type testEnv struct {
	server  *Server
	engine  *rules.Engine
	manager *workspaceengine.Manager
	calls   *labelCalls
}

func newTestEnv(t *testing.T, opts ...rules.Option) *testEnv {
	t.Helper()

	calls := &labelCalls{}
	x := rules.NewExecutor()
	x.RegisterFunc(rules.ActionAddLabel, func(ctx context.Context, a rules.Action, ev rules.Event) (any, error) {
		calls.add(a.Config["label"].(string))
		return nil, nil
	})
	x.RegisterFunc(rules.ActionSendNotification, func(ctx context.Context, a rules.Action, ev rules.Event) (any, error) {
		return map[string]any{"sent": true}, nil
	})

	store := rules.NewInMemoryRuleStore()
	execLog := rules.NewExecutionLog(100)
	m := metrics.New(config.MetricsConfig{Enabled: true, Namespace: "test"}, prometheus.NewRegistry())
	opts = append([]rules.Option{rules.WithExecutionSink(execLog), rules.WithObserver(m)}, opts...)

	engine, err := rules.NewEngine(store, x, opts...)
	require.NoError(t, err)
	manager := workspaceengine.NewManager(store, x, opts...)
	t.Cleanup(manager.Close)

	return &testEnv{
		server: NewServer(ServerDeps{
			Engine:     engine,
			Workspaces: manager,
			Executions: execLog,
			Metrics:    m,
		}),
		engine:  engine,
		manager: manager,
		calls:   calls,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func highPriorityRule() map[string]any {
	return map[string]any{
		"name":     "Label high priority tasks",
		"isActive": true,
		"trigger":  map[string]any{"type": "task_created", "entity": "task"},
		"conditions": []any{
			map[string]any{"field": "priority", "operator": "equals", "value": "HIGH"},
		},
		"actions": []any{
			map[string]any{"type": "send_notification", "config": map[string]any{"channel": "#bugs"}},
			map[string]any{"type": "add_label", "config": map[string]any{"label": "urgent"}},
		},
	}
}

func createRule(t *testing.T, env *testEnv, body map[string]any) *rules.Rule {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/v1/rules", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[RuleResponse](t, rec).Rule
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "memory", resp.Storage)
}

func TestRulesCRUD(t *testing.T) {
	env := newTestEnv(t)

	created := createRule(t, env, highPriorityRule())
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "Label high priority tasks", created.Name)

	rec := env.do(t, http.MethodGet, "/api/v1/rules/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[RuleResponse](t, rec).Rule.ID)

	rec = env.do(t, http.MethodPut, "/api/v1/rules/"+created.ID, map[string]any{"name": "Renamed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[RuleResponse](t, rec).Rule
	assert.Equal(t, "Renamed", updated.Name)
	assert.Len(t, updated.Actions, 2)

	rec = env.do(t, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[RulesListResponse](t, rec).Rules, 1)

	rec = env.do(t, http.MethodDelete, "/api/v1/rules/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/rules/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/rules/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/rules/"+created.ID, map[string]any{"name": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRule_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)

	body := highPriorityRule()
	body["name"] = ""
	body["actions"] = []any{map[string]any{"type": "call_webhook", "config": map[string]any{"url": "http://x"}}}

	rec := env.do(t, http.MethodPost, "/api/v1/rules", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "rule validation failed", resp.Error)
	assert.Len(t, resp.Problems, 2)
	assert.Contains(t, resp.Details, "unknown action type")
}

func TestCreateRule_Warnings(t *testing.T) {
	env := newTestEnv(t)

	body := highPriorityRule()
	body["conditions"] = []any{
		map[string]any{"field": "priority", "operator": "matches", "value": "HIGH"},
	}

	rec := env.do(t, http.MethodPost, "/api/v1/rules", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[RuleResponse](t, rec)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "unknown operator")
}

func TestCreateRule_BadJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvent_Sync(t *testing.T) {
	env := newTestEnv(t)
	rule := createRule(t, env, highPriorityRule())

	rec := env.do(t, http.MethodPost, "/api/v1/events", EventRequest{
		EventType:  rules.EventTaskCreated,
		EntityType: rules.EntityTask,
		EntityID:   "t1",
		Data:       map[string]any{"priority": "HIGH", "title": "X"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[EventResponse](t, rec)
	require.Len(t, resp.Executions, 1)
	exec := resp.Executions[0]
	assert.Equal(t, rule.ID, exec.RuleID)
	assert.Equal(t, rules.StatusCompleted, exec.Status)
	require.Len(t, exec.Actions, 2)
	assert.Equal(t, rules.ActionSendNotification, exec.Actions[0].ActionType)
	assert.Equal(t, rules.StatusCompleted, exec.Actions[0].Status)
	assert.Equal(t, []string{"urgent"}, env.calls.snapshot())

	rec = env.do(t, http.MethodPost, "/api/v1/events", EventRequest{
		EventType:  rules.EventTaskCreated,
		EntityType: rules.EntityTask,
		EntityID:   "t2",
		Data:       map[string]any{"priority": "LOW"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[EventResponse](t, rec).Executions)

	rec = env.do(t, http.MethodGet, "/api/v1/executions?entityId=t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ExecutionsListResponse](t, rec).Executions, 1)

	rec = env.do(t, http.MethodGet, "/api/v1/executions?entityId=t2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[ExecutionsListResponse](t, rec).Executions)
}

func TestEvent_MissingType(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/events", map[string]any{"entityId": "t1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvent_AsyncAndBusy(t *testing.T) {
	env := newTestEnv(t, rules.WithQueueSize(1))
	createRule(t, env, highPriorityRule())

	ev := EventRequest{
		EventType:  rules.EventTaskCreated,
		EntityType: rules.EntityTask,
		EntityID:   "t1",
		Data:       map[string]any{"priority": "HIGH"},
		Async:      true,
	}

	rec := env.do(t, http.MethodPost, "/api/v1/events", ev)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "queued", decode[QueuedResponse](t, rec).Status)

	// Nothing drains the queue, so the second event is rejected
	rec = env.do(t, http.MethodPost, "/api/v1/events", ev)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	env.engine.Close()
	require.NoError(t, env.engine.Run(context.Background()))
	assert.Equal(t, []string{"urgent"}, env.calls.snapshot())

	rec = env.do(t, http.MethodPost, "/api/v1/events", ev)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEvent_Workspace(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/v1/workspaces/acme", WorkspaceRequest{
		Schema: workspaceengine.Schema{rules.EntityTask: {"priority": workspaceengine.TypeString}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	scoped := highPriorityRule()
	scoped["workspaceId"] = "acme"
	scoped["actions"] = []any{map[string]any{"type": "add_label", "config": map[string]any{"label": "acme"}}}
	createRule(t, env, scoped)

	other := highPriorityRule()
	other["workspaceId"] = "globex"
	other["actions"] = []any{map[string]any{"type": "add_label", "config": map[string]any{"label": "globex"}}}
	createRule(t, env, other)

	rec = env.do(t, http.MethodPost, "/api/v1/events", EventRequest{
		EventType:   rules.EventTaskCreated,
		EntityType:  rules.EntityTask,
		EntityID:    "t1",
		WorkspaceID: "acme",
		Data:        map[string]any{"priority": "HIGH"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[EventResponse](t, rec).Executions, 1)
	assert.Equal(t, []string{"acme"}, env.calls.snapshot())

	rec = env.do(t, http.MethodPost, "/api/v1/events", EventRequest{
		EventType:   rules.EventTaskCreated,
		EntityType:  rules.EntityTask,
		EntityID:    "t1",
		WorkspaceID: "unknown",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/rules?scope=acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[RulesListResponse](t, rec).Rules, 1)
}

func TestCreateRule_SchemaWarnings(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/v1/workspaces/acme", WorkspaceRequest{
		Schema: workspaceengine.Schema{rules.EntityTask: {"title": workspaceengine.TypeString}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := highPriorityRule()
	body["workspaceId"] = "acme"
	rec = env.do(t, http.MethodPost, "/api/v1/rules", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[RuleResponse](t, rec)
	require.NotEmpty(t, resp.Warnings)
	assert.Contains(t, resp.Warnings[0], "priority")
}

func TestWorkspaces(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/v1/workspaces/acme", WorkspaceRequest{})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/workspaces/bad", WorkspaceRequest{
		Schema: workspaceengine.Schema{rules.EntityTask: {"priority": "decimal"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/workspaces", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"acme"}, decode[WorkspacesListResponse](t, rec).Workspaces)

	rec = env.do(t, http.MethodGet, "/api/v1/workspaces/acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", decode[WorkspaceResponse](t, rec).ID)

	rec = env.do(t, http.MethodDelete, "/api/v1/workspaces/acme", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/workspaces/acme", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/workspaces/acme", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	createRule(t, env, highPriorityRule())

	env.do(t, http.MethodPost, "/api/v1/events", EventRequest{
		EventType:  rules.EventTaskCreated,
		EntityType: rules.EntityTask,
		EntityID:   "t1",
		Data:       map[string]any{"priority": "HIGH"},
	})

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_events_processed_total{event_type="task_created"} 1`)
	assert.Contains(t, rec.Body.String(), "test_rules_fired_total 1")
}
