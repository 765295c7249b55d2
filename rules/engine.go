package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liamcoop/automations/internal/logger"
)

const (
	// DefaultQueueSize is the default capacity of the engine's event queue
	DefaultQueueSize = 256

	// DefaultReentryWait bounds how long a caller without the dispatch context
	// waits behind a single running action before its event is queued instead
	DefaultReentryWait = 5 * time.Second
)

type dispatchKey struct{}

// Engine matches events against stored rules, gates them on conditions and
// runs their actions, recording an Execution per fired rule.
//
// Events are processed one at a time. Within an event, matched rules run in
// store order and each rule's actions run in declared order; an action never
// starts before the previous one has returned. Failures are recorded on the
// Execution and never abort other actions or rules.
//
// Synchronous callers use Process. Asynchronous callers use Submit, which
// places the event on a bounded FIFO drained by Run; a full queue is reported
// as ErrDispatchBusy rather than dropped silently. Blocked Process callers are
// admitted in the order they started waiting, except that a caller still
// waiting after a re-entry wait rejoins at the back. Strict arrival order
// across every producer is only guaranteed through Submit and Run.
type Engine struct {
	store    RuleStore
	executor *Executor
	cache    RulesCache
	exprs    *ExpressionGate
	tracker  *Tracker
	sink     ExecutionSink
	observer Observer
	log      *slog.Logger

	scope  string
	scoped bool

	queueSize   int
	queue       chan Event
	sem         chan struct{} // one slot, held while an event is dispatched
	actionSeq   atomic.Uint64 // odd while an action handler is running
	reentryWait time.Duration
	closeMu     sync.RWMutex
	closed      bool
}

// Option configures an Engine
type Option func(*Engine)

// WithQueueSize sets the capacity of the Submit queue
func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// WithReentryWait sets how long a Process call that lacks the dispatch
// context may wait behind one running action before it is treated as raised
// by that action and queued
func WithReentryWait(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.reentryWait = d
		}
	}
}

// WithScope restricts the engine to rules returned by ListForScope(scope)
func WithScope(scope string) Option {
	return func(e *Engine) {
		e.scope = scope
		e.scoped = true
	}
}

// WithExecutionSink sets where finished executions are recorded
func WithExecutionSink(sink ExecutionSink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithObserver sets the metrics observer
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithLogger sets the engine logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock sets the clock used for execution timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.tracker = NewTracker(now)
	}
}

// WithCacheConfig configures the active-rules cache
func WithCacheConfig(cfg CacheConfig) Option {
	return func(e *Engine) {
		e.cache = NewInMemoryRulesCache(cfg)
	}
}

// NewEngine creates an engine over store, dispatching actions to executor.
// Expressions on rules already in the store are compiled up front.
func NewEngine(store RuleStore, executor *Executor, opts ...Option) (*Engine, error) {
	exprs, err := NewExpressionGate()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:     store,
		executor:  executor,
		cache:     NewInMemoryRulesCache(DefaultCacheConfig()),
		exprs:     exprs,
		tracker:   NewTracker(time.Now),
		sink:      NewExecutionLog(DefaultExecutionLogSize),
		observer:  NopObserver{},
		log:       logger.Component("rules.engine"),
		queueSize:   DefaultQueueSize,
		sem:         make(chan struct{}, 1),
		reentryWait: DefaultReentryWait,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.scoped {
		e.log = e.log.With("scope", e.scope)
	}
	e.queue = make(chan Event, e.queueSize)

	if err := e.CompileAllRules(); err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}
	return e, nil
}

// CompileAllRules compiles the expression of every rule visible to the engine
// and primes the rules cache.
func (e *Engine) CompileAllRules() error {
	e.cache.Invalidate()
	rules, err := e.candidates()
	if err != nil {
		return err
	}

	for _, rule := range rules {
		if err := e.exprs.Compile(rule.ID, rule.Expression); err != nil {
			return fmt.Errorf("failed to compile rule %s: %w", rule.ID, err)
		}
	}
	return nil
}

// Validate checks rule against the registered handlers and compiles its
// expression. Warnings are returned even when the rule is valid.
func (e *Engine) Validate(rule *Rule) ([]string, error) {
	warnings, err := ValidateRule(rule, e.executor.Has)
	if err != nil {
		return warnings, err
	}
	if rule.Expression != "" {
		if _, err := e.exprs.Check(rule.Expression); err != nil {
			return warnings, &ValidationError{
				RuleName: rule.Name,
				Problems: []string{fmt.Sprintf("expression: %v", err)},
				Warnings: warnings,
			}
		}
	}
	return warnings, nil
}

// CreateRule validates and stores a new rule
func (e *Engine) CreateRule(rule *Rule) (*Rule, error) {
	warnings, err := e.Validate(rule)
	if err != nil {
		return nil, err
	}
	e.logWarnings(rule.Name, warnings)

	created, err := e.store.Create(rule)
	if err != nil {
		return nil, err
	}
	if err := e.exprs.Compile(created.ID, created.Expression); err != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", created.ID, err)
	}

	e.cache.Invalidate()
	return created, nil
}

// UpdateRule validates the patched rule before storing it
func (e *Engine) UpdateRule(id string, patch RulePatch) (*Rule, error) {
	existing, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}

	candidate := existing.Clone()
	patch.Apply(candidate)
	warnings, err := e.Validate(candidate)
	if err != nil {
		return nil, err
	}
	e.logWarnings(candidate.Name, warnings)

	updated, err := e.store.Update(id, patch)
	if err != nil {
		return nil, err
	}
	if err := e.exprs.Compile(updated.ID, updated.Expression); err != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", updated.ID, err)
	}

	e.cache.Invalidate()
	return updated, nil
}

// DeleteRule removes a rule, reporting whether it existed
func (e *Engine) DeleteRule(id string) (bool, error) {
	deleted, err := e.store.Delete(id)
	if err != nil {
		return false, err
	}
	e.exprs.Forget(id)
	e.cache.Invalidate()
	return deleted, nil
}

// GetRule returns a rule by ID
func (e *Engine) GetRule(id string) (*Rule, error) {
	return e.store.Get(id)
}

// ListRules returns every rule in the store
func (e *Engine) ListRules() ([]*Rule, error) {
	return e.store.ListAll()
}

// ListRulesForScope returns the active rules that apply within scope
func (e *Engine) ListRulesForScope(scope string) ([]*Rule, error) {
	return e.store.ListForScope(scope)
}

// InvalidateCache forces the next event to reload rules from the store.
// Call it after mutating the store directly.
func (e *Engine) InvalidateCache() {
	e.cache.Invalidate()
}

func (e *Engine) logWarnings(ruleName string, warnings []string) {
	for _, w := range warnings {
		e.log.Warn("rule validation warning", "rule", ruleName, "warning", w)
	}
}

// Process runs every matching rule for ev and returns the executions of the
// rules that fired.
//
// Concurrent callers are serialized and a waiting caller gives up with
// ctx.Err() when ctx is done. A call made from inside an action handler is
// queued behind the current event instead and returns no executions. Such a
// call is recognised through ctx, or, when the handler dropped ctx, by still
// waiting after the same action has run for the re-entry wait.
func (e *Engine) Process(ctx context.Context, ev Event) ([]*Execution, error) {
	if owner, _ := ctx.Value(dispatchKey{}).(*Engine); owner == e {
		e.log.Debug("re-entrant event queued", "event", ev.Type, "entity_id", ev.EntityID)
		return nil, e.Submit(ev)
	}

	e.closeMu.RLock()
	closed := e.closed
	e.closeMu.RUnlock()
	if closed {
		return nil, ErrEngineClosed
	}

	reentrant, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	if reentrant {
		e.log.Warn("event raised by a running action without its context, queued",
			"event", ev.Type,
			"entity_id", ev.EntityID,
		)
		return nil, e.Submit(ev)
	}
	defer e.release()
	return e.dispatch(ctx, ev)
}

// acquire takes the dispatch slot. It reports reentrant when the caller has
// waited the full re-entry wait while one action kept running, which is what
// a handler blocked on its own follow-up event looks like.
func (e *Engine) acquire(ctx context.Context) (reentrant bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	select {
	case e.sem <- struct{}{}:
		return false, nil
	default:
	}

	timer := time.NewTimer(e.reentryWait)
	defer timer.Stop()
	seen := e.actionSeq.Load()
	for {
		select {
		case e.sem <- struct{}{}:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			seq := e.actionSeq.Load()
			if seq == seen && seq%2 == 1 {
				return true, nil
			}
			seen = seq
			timer.Reset(e.reentryWait)
		}
	}
}

func (e *Engine) release() {
	<-e.sem
}

// Submit queues ev for Run. It never blocks: a full queue returns
// ErrDispatchBusy and a closed engine returns ErrEngineClosed.
func (e *Engine) Submit(ev Event) error {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()

	if e.closed {
		e.observer.EventRejected(ev.Type)
		e.log.Warn("engine closed, event rejected",
			"event", ev.Type,
			"entity_type", ev.EntityType,
			"entity_id", ev.EntityID,
		)
		return ErrEngineClosed
	}

	select {
	case e.queue <- ev:
		e.observer.QueueDepth(len(e.queue))
		return nil
	default:
		e.observer.EventRejected(ev.Type)
		e.log.Warn("dispatcher busy, event rejected",
			"event", ev.Type,
			"entity_type", ev.EntityType,
			"entity_id", ev.EntityID,
			"queue_size", e.queueSize,
		)
		return ErrDispatchBusy
	}
}

// Run drains the Submit queue in arrival order until ctx is cancelled or the
// engine is closed and the queue is empty. It must be called from one goroutine.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine starting", "queue_size", e.queueSize)

	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine stopping", "reason", ctx.Err())
			return ctx.Err()

		case ev, ok := <-e.queue:
			if !ok {
				e.log.Info("engine stopped, queue drained")
				return nil
			}
			e.sem <- struct{}{}
			if _, err := e.dispatch(ctx, ev); err != nil {
				e.log.Error("event processing failed",
					"event", ev.Type,
					"entity_id", ev.EntityID,
					"error", err,
				)
			}
			e.release()
			e.observer.QueueDepth(len(e.queue))
		}
	}
}

// Close stops intake. Run returns once the already queued events are processed.
func (e *Engine) Close() {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	close(e.queue)
}

// QueueLen returns the number of events waiting for Run
func (e *Engine) QueueLen() int {
	return len(e.queue)
}

// candidates returns the rules visible to this engine, from cache when possible
func (e *Engine) candidates() ([]*Rule, error) {
	key := ""
	if e.scoped {
		key = "scope:" + e.scope
	}
	if rules := e.cache.Get(key); rules != nil {
		return rules, nil
	}

	var (
		rules []*Rule
		err   error
	)
	if e.scoped {
		rules, err = e.store.ListForScope(e.scope)
	} else {
		rules, err = e.store.ListAll()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	e.cache.Set(key, rules)
	return rules, nil
}

// dispatch processes one event. Callers hold the dispatch slot.
func (e *Engine) dispatch(ctx context.Context, ev Event) ([]*Execution, error) {
	start := time.Now()

	rules, err := e.candidates()
	if err != nil {
		return nil, err
	}
	matched := Match(rules, ev.Type, ev.EntityType, ev.Data)

	ctx = context.WithValue(ctx, dispatchKey{}, e)
	var executions []*Execution
	for _, rule := range matched {
		if exec := e.fire(ctx, rule, ev); exec != nil {
			executions = append(executions, exec)
		}
	}

	e.observer.EventProcessed(ev.Type, len(matched), time.Since(start))
	return executions, nil
}

// fire gates a matched rule and, if it passes, runs its actions in order
func (e *Engine) fire(ctx context.Context, rule *Rule, ev Event) *Execution {
	log := e.log.With("rule_id", rule.ID, "rule", rule.Name, "entity_id", ev.EntityID)

	if !Evaluate(rule.Conditions, ev.Data) {
		e.observer.RuleSkipped(rule.ID)
		log.Debug("conditions not met")
		return nil
	}

	allowed, err := e.exprs.Allows(rule, ev)
	if err != nil {
		exec := e.tracker.Begin(rule, ev)
		e.tracker.Fail(exec, err)
		log.Error("rule expression failed", "error", err)
		e.record(ctx, exec)
		return exec
	}
	if !allowed {
		e.observer.RuleSkipped(rule.ID)
		log.Debug("expression not satisfied")
		return nil
	}

	exec := e.tracker.Begin(rule, ev)
	e.tracker.Start(exec)
	e.observer.RuleFired(rule.ID)
	log.Debug("rule fired", "execution_id", exec.ID, "actions", len(rule.Actions))

	for i, action := range rule.Actions {
		e.tracker.StartAction(exec, i)
		e.actionSeq.Add(1)
		outcome := e.executor.Run(ctx, action, ev)
		e.actionSeq.Add(1)
		e.tracker.FinishAction(exec, i, outcome)
		e.observer.ActionFinished(action.Type, outcome.Status, outcome.Duration)

		if outcome.Err != nil {
			log.Error("action failed",
				"execution_id", exec.ID,
				"error", &ActionError{Index: i, Type: action.Type, Err: outcome.Err},
			)
		}
	}

	e.tracker.Finish(exec)
	e.record(ctx, exec)
	return exec
}

func (e *Engine) record(ctx context.Context, exec *Execution) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Record(ctx, exec.Clone()); err != nil {
		e.log.Error("failed to record execution", "execution_id", exec.ID, "error", err)
	}
}
