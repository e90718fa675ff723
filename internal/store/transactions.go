package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// InsertTransaction records a payment attempt and returns the row id.
// Failed attempts are recorded too so the spend trail stays complete.
func (s *Store) InsertTransaction(ctx context.Context, t Transaction) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	var policyResult any
	if len(t.PolicyResult) > 0 {
		b, err := json.Marshal(t.PolicyResult)
		if err != nil {
			return 0, err
		}
		policyResult = string(b)
	}

	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var confirmedAt any
	if t.ConfirmedAt != nil {
		confirmedAt = t.ConfirmedAt.UTC().UnixMilli()
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO transactions
  (user_id, amount, to_address, currency, status, category, description,
   vendor_name, product_name, order_id, tx_hash, policy_result,
   created_at_unix_ms, confirmed_at_unix_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		t.UserID, t.Amount, t.ToAddress, t.Currency, t.Status,
		nullableString(t.Category), nullableString(t.Description),
		nullableString(t.VendorName), nullableString(t.ProductName),
		nullableString(t.OrderID), nullableString(t.TxHash), policyResult,
		createdAt.UnixMilli(), confirmedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListTransactions returns the user's newest transactions first.
func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, amount, to_address, currency, status, category, description,
       vendor_name, product_name, order_id, tx_hash, policy_result,
       created_at_unix_ms, confirmed_at_unix_ms
FROM transactions WHERE user_id = ? ORDER BY created_at_unix_ms DESC LIMIT ?;`,
		strings.TrimSpace(userID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Transaction, 0)
	for rows.Next() {
		var (
			t            Transaction
			category     sql.NullString
			description  sql.NullString
			vendorName   sql.NullString
			productName  sql.NullString
			orderID      sql.NullString
			txHash       sql.NullString
			policyResult sql.NullString
			createdMs    int64
			confirmedMs  sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.ToAddress, &t.Currency, &t.Status,
			&category, &description, &vendorName, &productName, &orderID, &txHash, &policyResult,
			&createdMs, &confirmedMs); err != nil {
			return nil, err
		}
		t.Category = category.String
		t.Description = description.String
		t.VendorName = vendorName.String
		t.ProductName = productName.String
		t.OrderID = orderID.String
		t.TxHash = txHash.String
		if policyResult.Valid && strings.TrimSpace(policyResult.String) != "" {
			_ = json.Unmarshal([]byte(policyResult.String), &t.PolicyResult)
		}
		t.CreatedAt = time.UnixMilli(createdMs).UTC()
		if confirmedMs.Valid {
			at := time.UnixMilli(confirmedMs.Int64).UTC()
			t.ConfirmedAt = &at
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SumTransactions totals the user's confirmed spend since the given instant.
// It satisfies policy.Store for daily and monthly window checks.
func (s *Store) SumTransactions(ctx context.Context, userID string, since time.Time) (float64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT COALESCE(SUM(amount), 0) FROM transactions
WHERE user_id = ? AND status = 'confirmed' AND created_at_unix_ms >= ?;`,
		strings.TrimSpace(userID), since.UTC().UnixMilli())
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func nullableString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
