package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresExecutionStore persists finished executions and serves them back
// for the audit read model.
type PostgresExecutionStore struct {
	db *sql.DB
}

// NewPostgresExecutionStore creates a PostgreSQL-backed ExecutionSink
func NewPostgresExecutionStore(db *sql.DB) *PostgresExecutionStore {
	return &PostgresExecutionStore{db: db}
}

// Record writes the execution and its action executions in one transaction
func (s *PostgresExecutionStore) Record(ctx context.Context, exec *Execution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rule_executions
			(id, rule_id, rule_name, event_type, entity_type, entity_id, status, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, exec.ID, exec.RuleID, exec.RuleName, exec.EventType, exec.EntityType, exec.EntityID,
		exec.Status, exec.Error, exec.StartedAt, exec.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	for i, a := range exec.Actions {
		var result []byte
		if a.Result != nil {
			if result, err = json.Marshal(a.Result); err != nil {
				return fmt.Errorf("failed to marshal result of action %d: %w", i, err)
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO rule_action_executions
				(id, execution_id, position, action_type, status, error, result, started_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, a.ID, exec.ID, i, a.ActionType, a.Status, a.Error, result, a.StartedAt, a.CompletedAt)
		if err != nil {
			return fmt.Errorf("failed to insert action execution %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit execution: %w", err)
	}
	return nil
}

// ListByRule returns executions for ruleID, newest first, with their actions
func (s *PostgresExecutionStore) ListByRule(ctx context.Context, ruleID string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, rule_name, event_type, entity_type, entity_id, status, error, started_at, completed_at
		FROM rule_executions
		WHERE rule_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		var e Execution
		if err := rows.Scan(&e.ID, &e.RuleID, &e.RuleName, &e.EventType, &e.EntityType,
			&e.EntityID, &e.Status, &e.Error, &e.StartedAt, &e.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		execs = append(execs, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	for _, e := range execs {
		if e.Actions, err = s.actions(ctx, e.ID); err != nil {
			return nil, err
		}
	}
	return execs, nil
}

func (s *PostgresExecutionStore) actions(ctx context.Context, executionID string) ([]ActionExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action_type, status, error, result, started_at, completed_at
		FROM rule_action_executions
		WHERE execution_id = $1
		ORDER BY position ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list action executions: %w", err)
	}
	defer rows.Close()

	actions := []ActionExecution{}
	for rows.Next() {
		var (
			a      ActionExecution
			result []byte
		)
		if err := rows.Scan(&a.ID, &a.ActionType, &a.Status, &a.Error, &result,
			&a.StartedAt, &a.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan action execution: %w", err)
		}
		if len(result) > 0 {
			if err := json.Unmarshal(result, &a.Result); err != nil {
				return nil, fmt.Errorf("invalid result for action execution %s: %w", a.ID, err)
			}
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
