package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/mbd888/txsentry/internal/engine"
)

// PostgresStore persists scored transactions and baseline snapshots in
// PostgreSQL. Schema is managed by the goose migrations under
// migrations/.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed results store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SaveResults(ctx context.Context, results []ScoredTransaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scored_transactions
			(transaction_id, ts, sender_account, amount, device_hash, ip_address, location,
			 score, reasons, flagged, hour, scored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (transaction_id) DO UPDATE SET
			ts       = EXCLUDED.ts,
			amount   = EXCLUDED.amount,
			score    = EXCLUDED.score,
			reasons  = EXCLUDED.reasons,
			flagged  = EXCLUDED.flagged,
			hour     = EXCLUDED.hour,
			scored_at = EXCLUDED.scored_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		reasons, err := json.Marshal(r.Reasons)
		if err != nil {
			return fmt.Errorf("marshal reasons for %s: %w", r.TransactionID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.TransactionID, r.Timestamp, r.SenderAccount, r.Amount,
			r.DeviceHash, r.IPAddress, r.Location,
			r.Score, reasons, r.Flagged, r.Hour, r.ScoredAt,
		); err != nil {
			return fmt.Errorf("save result %s: %w", r.TransactionID, err)
		}
	}
	return tx.Commit()
}

const scoredColumns = `transaction_id, ts, sender_account, amount, device_hash, ip_address, location,
	score, reasons, flagged, hour, scored_at`

func scanScored(scanner interface{ Scan(...any) error }) (*ScoredTransaction, error) {
	var r ScoredTransaction
	var reasons []byte
	if err := scanner.Scan(
		&r.TransactionID, &r.Timestamp, &r.SenderAccount, &r.Amount,
		&r.DeviceHash, &r.IPAddress, &r.Location,
		&r.Score, &reasons, &r.Flagged, &r.Hour, &r.ScoredAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(reasons, &r.Reasons); err != nil {
		return nil, fmt.Errorf("decode reasons for %s: %w", r.TransactionID, err)
	}
	if r.Reasons == nil {
		r.Reasons = []string{}
	}
	return &r, nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (*ScoredTransaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+scoredColumns+`
		FROM scored_transactions
		WHERE transaction_id = $1
	`, id)

	r, err := scanScored(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PostgresStore) ListFlagged(ctx context.Context, f FlaggedFilter) ([]ScoredTransaction, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scoredColumns+`
		FROM scored_transactions
		WHERE flagged AND score >= $1
		ORDER BY scored_at DESC, transaction_id
		LIMIT $2 OFFSET $3
	`, f.MinScore, limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ScoredTransaction, 0, limit)
	for rows.Next() {
		r, err := scanScored(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountFlagged(ctx context.Context, minScore float64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scored_transactions
		WHERE flagged AND score >= $1
	`, minScore).Scan(&n)
	return n, err
}

func (s *PostgresStore) Summary(ctx context.Context) (*Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE flagged),
		       COUNT(DISTINCT sender_account)
		FROM scored_transactions
	`).Scan(&sum.TotalTransactions, &sum.Anomalies, &sum.UniqueAccounts)
	if err != nil {
		return nil, err
	}
	if sum.TotalTransactions > 0 {
		sum.AnomalyRate = float64(sum.Anomalies) / float64(sum.TotalTransactions) * 100
	}
	return &sum, nil
}

func (s *PostgresStore) ReasonCounts(ctx context.Context) ([]LabelCount, error) {
	return s.labelCounts(ctx, `
		SELECT reason, COUNT(*)
		FROM scored_transactions,
		     jsonb_array_elements_text(reasons) AS reason
		GROUP BY reason
		ORDER BY COUNT(*) DESC, reason
	`)
}

func (s *PostgresStore) ScoreHistogram(ctx context.Context) ([]LabelCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT LEAST(FLOOR(score * 10), 9)::int AS bucket, COUNT(*)
		FROM scored_transactions
		GROUP BY bucket
		ORDER BY bucket
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LabelCount
	for rows.Next() {
		var bucket int
		var n int64
		if err := rows.Scan(&bucket, &n); err != nil {
			return nil, err
		}
		out = append(out, LabelCount{Label: ScoreBucketLabel(float64(bucket) / 10), Count: n})
	}
	return out, rows.Err()
}

func (s *PostgresStore) HourlyVolume(ctx context.Context) ([]HourCount, error) {
	return s.hourCounts(ctx, `
		SELECT hour, COUNT(*) FROM scored_transactions
		GROUP BY hour ORDER BY hour
	`)
}

func (s *PostgresStore) HourlyAnomalies(ctx context.Context) ([]HourCount, error) {
	return s.hourCounts(ctx, `
		SELECT hour, COUNT(*) FROM scored_transactions
		WHERE flagged
		GROUP BY hour ORDER BY hour
	`)
}

func (s *PostgresStore) AmountSummary(ctx context.Context) (map[string]AmountStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT flagged, COUNT(*), AVG(amount), MIN(amount), MAX(amount)
		FROM scored_transactions
		GROUP BY flagged
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]AmountStats)
	for rows.Next() {
		var flagged bool
		var st AmountStats
		if err := rows.Scan(&flagged, &st.Count, &st.Avg, &st.Min, &st.Max); err != nil {
			return nil, err
		}
		key := "clean"
		if flagged {
			key = "flagged"
		}
		out[key] = st
	}
	return out, rows.Err()
}

func (s *PostgresStore) TopAccounts(ctx context.Context, limit int) ([]LabelCount, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.labelCounts(ctx, `
		SELECT sender_account, COUNT(*)
		FROM scored_transactions
		WHERE flagged
		GROUP BY sender_account
		ORDER BY COUNT(*) DESC, sender_account
		LIMIT $1
	`, limit)
}

func (s *PostgresStore) SaveBaselines(ctx context.Context, snapshots []engine.BaselineSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO account_baselines
			(account, n, mean, m2, devices, ip_locations, last_seen, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (account) DO UPDATE SET
			n            = EXCLUDED.n,
			mean         = EXCLUDED.mean,
			m2           = EXCLUDED.m2,
			devices      = EXCLUDED.devices,
			ip_locations = EXCLUDED.ip_locations,
			last_seen    = EXCLUDED.last_seen,
			updated_at   = EXCLUDED.updated_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, snap := range snapshots {
		if _, err := stmt.ExecContext(ctx,
			snap.Account, snap.N, snap.Mean, snap.M2,
			pq.Array(snap.Devices), pq.Array(snap.IPLocs), snap.LastSeen,
		); err != nil {
			return fmt.Errorf("save baseline for %s: %w", snap.Account, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) LoadBaselines(ctx context.Context) ([]engine.BaselineSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account, n, mean, m2, devices, ip_locations, last_seen, updated_at
		FROM account_baselines
		ORDER BY account
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.BaselineSnapshot
	for rows.Next() {
		var snap engine.BaselineSnapshot
		var devices, ipLocs pq.StringArray
		if err := rows.Scan(
			&snap.Account, &snap.N, &snap.Mean, &snap.M2,
			&devices, &ipLocs, &snap.LastSeen, &snap.UpdatedAt,
		); err != nil {
			return nil, err
		}
		snap.Devices = devices
		snap.IPLocs = ipLocs
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *PostgresStore) labelCounts(ctx context.Context, query string, args ...any) ([]LabelCount, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LabelCount
	for rows.Next() {
		var lc LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, err
		}
		out = append(out, lc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) hourCounts(ctx context.Context, query string) ([]HourCount, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HourCount
	for rows.Next() {
		var hc HourCount
		if err := rows.Scan(&hc.Hour, &hc.Count); err != nil {
			return nil, err
		}
		out = append(out, hc)
	}
	return out, rows.Err()
}
