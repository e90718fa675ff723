package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/autowealth/treasury-agent/internal/policy"
)

// PolicyUpdate carries the mutable policy fields; nil pointers leave the
// stored value unchanged. Rules replaces the whole rule list when non-nil.
type PolicyUpdate struct {
	Name        *string
	Description *string
	Enabled     *bool
	Rules       []policy.Rule
	UpdatedAt   string
}

func (s *Store) InsertPolicy(ctx context.Context, p policy.Policy) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	rules, err := json.Marshal(p.Rules)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO policies (id, user_id, name, description, rules, enabled, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		p.ID, p.UserID, p.Name, p.Description, string(rules), boolToInt(p.Enabled), p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *Store) ListPolicies(ctx context.Context, userID string) ([]policy.Policy, error) {
	return s.listPolicies(ctx, userID, false)
}

// ListEnabledPolicies satisfies policy.Store for purchase validation.
func (s *Store) ListEnabledPolicies(ctx context.Context, userID string) ([]policy.Policy, error) {
	return s.listPolicies(ctx, userID, true)
}

func (s *Store) listPolicies(ctx context.Context, userID string, enabledOnly bool) ([]policy.Policy, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	query := `
SELECT id, user_id, name, description, rules, enabled, created_at, updated_at
FROM policies WHERE user_id = ? ORDER BY created_at DESC;`
	if enabledOnly {
		query = `
SELECT id, user_id, name, description, rules, enabled, created_at, updated_at
FROM policies WHERE user_id = ? AND enabled = 1 ORDER BY created_at DESC;`
	}

	rows, err := s.db.QueryContext(ctx, query, strings.TrimSpace(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]policy.Policy, 0)
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetPolicy(ctx context.Context, policyID, userID string) (policy.Policy, bool, error) {
	if s == nil || s.db == nil {
		return policy.Policy{}, false, errors.New("store not initialized")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, name, description, rules, enabled, created_at, updated_at
FROM policies WHERE id = ? AND user_id = ?;`,
		strings.TrimSpace(policyID), strings.TrimSpace(userID))
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.Policy{}, false, nil
	}
	if err != nil {
		return policy.Policy{}, false, err
	}
	return p, true, nil
}

// UpdatePolicy applies the non-nil fields and returns the updated row.
func (s *Store) UpdatePolicy(ctx context.Context, policyID, userID string, upd PolicyUpdate) (policy.Policy, bool, error) {
	if s == nil || s.db == nil {
		return policy.Policy{}, false, errors.New("store not initialized")
	}
	current, found, err := s.GetPolicy(ctx, policyID, userID)
	if err != nil || !found {
		return policy.Policy{}, false, err
	}

	if upd.Name != nil {
		current.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Description != nil {
		current.Description = *upd.Description
	}
	if upd.Enabled != nil {
		current.Enabled = *upd.Enabled
	}
	if upd.Rules != nil {
		current.Rules = upd.Rules
	}
	if upd.UpdatedAt != "" {
		current.UpdatedAt = upd.UpdatedAt
	}

	rules, err := json.Marshal(current.Rules)
	if err != nil {
		return policy.Policy{}, false, err
	}
	_, err = s.db.ExecContext(ctx, `
UPDATE policies SET name = ?, description = ?, rules = ?, enabled = ?, updated_at = ?
WHERE id = ? AND user_id = ?;`,
		current.Name, current.Description, string(rules), boolToInt(current.Enabled),
		current.UpdatedAt, current.ID, current.UserID)
	if err != nil {
		return policy.Policy{}, false, err
	}
	return current, true, nil
}

func (s *Store) DeletePolicy(ctx context.Context, policyID, userID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("store not initialized")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE id = ? AND user_id = ?;`,
		strings.TrimSpace(policyID), strings.TrimSpace(userID))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (policy.Policy, error) {
	var (
		p       policy.Policy
		rules   string
		enabled int
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &rules, &enabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return policy.Policy{}, err
	}
	p.Enabled = enabled != 0
	if strings.TrimSpace(rules) != "" {
		if err := json.Unmarshal([]byte(rules), &p.Rules); err != nil {
			// A malformed rules blob disables the policy's rules rather
			// than failing every list call.
			p.Rules = nil
		}
	}
	return p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
