package rules

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL. Definitions are stored
// as JSONB in the rules table (see migrations/).
type PostgresRuleStore struct {
	db *sql.DB
}

var _ RuleStore = (*PostgresRuleStore)(nil)

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

// EnsureNode registers a node row so rules can reference it.
func (s *PostgresRuleStore) EnsureNode(nodeID string, definition any) error {
	raw, err := json.Marshal(definition)
	if err != nil {
		return fmt.Errorf("failed to encode node definition: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO nodes (id, definition)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET definition = EXCLUDED.definition, updated_at = NOW()
	`, nodeID, raw)
	if err != nil {
		return fmt.Errorf("failed to upsert node: %w", err)
	}
	return nil
}

// DeleteNode removes a node and, by cascade, its rules.
func (s *PostgresRuleStore) DeleteNode(nodeID string) error {
	if _, err := s.db.Exec(`DELETE FROM nodes WHERE id = $1`, nodeID); err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	return nil
}

// Add inserts a new rule into the database
func (s *PostgresRuleStore) Add(rule *StoredRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM rules WHERE id = $1)
	`, rule.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	def, err := json.Marshal(rule.Definition)
	if err != nil {
		return fmt.Errorf("failed to encode rule definition: %w", err)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO rules (id, node_id, position, name, definition, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rule.ID, rule.NodeID, rule.Position, rule.Name, def, rule.Active,
		rule.CreatedAt, rule.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return nil
}

// Get retrieves a rule by ID
func (s *PostgresRuleStore) Get(id string) (*StoredRule, error) {
	row := s.db.QueryRow(`
		SELECT id, node_id, position, name, definition, active, created_at, updated_at
		FROM rules
		WHERE id = $1
	`, id)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return rule, nil
}

// List returns the rules of a node ordered by position
func (s *PostgresRuleStore) List(nodeID string) ([]*StoredRule, error) {
	rows, err := s.db.Query(`
		SELECT id, node_id, position, name, definition, active, created_at, updated_at
		FROM rules
		WHERE node_id = $1
		ORDER BY position ASC
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rulesList []*StoredRule
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

// Update modifies an existing rule
func (s *PostgresRuleStore) Update(rule *StoredRule) error {
	def, err := json.Marshal(rule.Definition)
	if err != nil {
		return fmt.Errorf("failed to encode rule definition: %w", err)
	}

	rule.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE rules
		SET position = $1, name = $2, definition = $3, active = $4, updated_at = $5
		WHERE id = $6
	`, rule.Position, rule.Name, def, rule.Active, rule.UpdatedAt, rule.ID)

	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrNotFound)
	}

	return nil
}

// Delete removes a rule from the database
func (s *PostgresRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM rules
		WHERE id = $1
	`, id)

	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (*StoredRule, error) {
	var r StoredRule
	var def []byte
	if err := row.Scan(&r.ID, &r.NodeID, &r.Position, &r.Name, &def, &r.Active,
		&r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(def, &r.Definition); err != nil {
		return nil, fmt.Errorf("decode rule %s: %w", r.ID, err)
	}
	return &r, nil
}
