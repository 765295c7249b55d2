package rules

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL.
// Trigger, conditions and actions are stored as JSONB; seq keeps insertion order.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const ruleColumns = `id, name, description, project_id, workspace_id, active,
	trigger_spec, conditions, actions, expression, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		r                              Rule
		triggerJSON, condJSON, actJSON []byte
	)
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.ProjectID, &r.WorkspaceID,
		&r.Active, &triggerJSON, &condJSON, &actJSON, &r.Expression,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(triggerJSON, &r.Trigger); err != nil {
		return nil, fmt.Errorf("invalid trigger for rule %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(condJSON, &r.Conditions); err != nil {
		return nil, fmt.Errorf("invalid conditions for rule %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(actJSON, &r.Actions); err != nil {
		return nil, fmt.Errorf("invalid actions for rule %s: %w", r.ID, err)
	}
	return &r, nil
}

func marshalRuleParts(r *Rule) (trigger, conditions, actions []byte, err error) {
	if trigger, err = json.Marshal(r.Trigger); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal trigger: %w", err)
	}
	conds := r.Conditions
	if conds == nil {
		conds = []Condition{}
	}
	if conditions, err = json.Marshal(conds); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal conditions: %w", err)
	}
	acts := r.Actions
	if acts == nil {
		acts = []Action{}
	}
	if actions, err = json.Marshal(acts); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal actions: %w", err)
	}
	return trigger, conditions, actions, nil
}

// Create inserts a new rule under a fresh ID
func (s *PostgresRuleStore) Create(rule *Rule) (*Rule, error) {
	stored := rule.Clone()
	stored.ID = uuid.NewString()
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	trigger, conditions, actions, err := marshalRuleParts(stored)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Exec(`
		INSERT INTO automation_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, stored.ID, stored.Name, stored.Description, stored.ProjectID, stored.WorkspaceID,
		stored.Active, trigger, conditions, actions, stored.Expression,
		stored.CreatedAt, stored.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert rule: %w", err)
	}

	return stored, nil
}

// Get retrieves a rule by ID
func (s *PostgresRuleStore) Get(id string) (*Rule, error) {
	rule, err := scanRule(s.db.QueryRow(`
		SELECT `+ruleColumns+`
		FROM automation_rules
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// Update applies patch inside a transaction holding a row lock
func (s *PostgresRuleStore) Update(id string, patch RulePatch) (*Rule, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rule, err := scanRule(tx.QueryRow(`
		SELECT `+ruleColumns+`
		FROM automation_rules
		WHERE id = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rule for update: %w", err)
	}

	patch.Apply(rule)
	rule.ID = id
	rule.UpdatedAt = time.Now().UTC()

	trigger, conditions, actions, err := marshalRuleParts(rule)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(`
		UPDATE automation_rules
		SET name = $1, description = $2, project_id = $3, workspace_id = $4, active = $5,
			trigger_spec = $6, conditions = $7, actions = $8, expression = $9, updated_at = $10
		WHERE id = $11
	`, rule.Name, rule.Description, rule.ProjectID, rule.WorkspaceID, rule.Active,
		trigger, conditions, actions, rule.Expression, rule.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit rule update: %w", err)
	}
	return rule, nil
}

// Delete removes a rule from the database
func (s *PostgresRuleStore) Delete(id string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM automation_rules WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListAll returns every rule in insertion order
func (s *PostgresRuleStore) ListAll() ([]*Rule, error) {
	return s.query(`
		SELECT ` + ruleColumns + `
		FROM automation_rules
		ORDER BY seq ASC
	`)
}

// ListForScope returns active rules for scopeID plus global rules.
// An empty scopeID returns only the global rules.
func (s *PostgresRuleStore) ListForScope(scopeID string) ([]*Rule, error) {
	return s.query(`
		SELECT `+ruleColumns+`
		FROM automation_rules
		WHERE active = true
		  AND ((project_id = '' AND workspace_id = '')
		    OR ($1 <> '' AND (project_id = $1 OR workspace_id = $1)))
		ORDER BY seq ASC
	`, scopeID)
}

func (s *PostgresRuleStore) query(q string, args ...any) ([]*Rule, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rulesList []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rulesList, nil
}
