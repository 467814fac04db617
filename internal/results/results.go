// Package results persists scored transactions and serves the
// aggregate queries behind the analytics dashboard.
package results

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/txsentry/internal/engine"
)

// ErrNotFound is returned when a transaction id has no stored result.
var ErrNotFound = errors.New("results: transaction not found")

// ScoredTransaction is one engine verdict joined with the transaction
// it was produced for. Hour is the UTC hour of day, precomputed so the
// hourly rollups never re-derive it per query.
type ScoredTransaction struct {
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
	SenderAccount string    `json:"sender_account"`
	Amount        float64   `json:"amount"`
	DeviceHash    string    `json:"device_hash,omitempty"`
	IPAddress     string    `json:"ip_address,omitempty"`
	Location      string    `json:"location,omitempty"`
	Score         float64   `json:"score"`
	Reasons       []string  `json:"reasons"`
	Flagged       bool      `json:"flagged"`
	Hour          int       `json:"hour"`
	ScoredAt      time.Time `json:"scored_at"`
}

// NewScoredTransaction joins a transaction with its risk score.
func NewScoredTransaction(tx *engine.Transaction, rs *engine.RiskScore, scoredAt time.Time) ScoredTransaction {
	return ScoredTransaction{
		TransactionID: tx.ID,
		Timestamp:     tx.Timestamp,
		SenderAccount: tx.SenderAccount,
		Amount:        tx.Amount,
		DeviceHash:    tx.DeviceHash,
		IPAddress:     tx.IPAddress,
		Location:      tx.Location,
		Score:         rs.Score,
		Reasons:       rs.Reasons,
		Flagged:       rs.Flagged,
		Hour:          tx.Timestamp.UTC().Hour(),
		ScoredAt:      scoredAt,
	}
}

// FlaggedFilter selects a page of flagged transactions.
type FlaggedFilter struct {
	Limit    int
	Offset   int
	MinScore float64
}

// Summary is the dashboard headline block.
type Summary struct {
	TotalTransactions int64   `json:"total_transactions"`
	Anomalies         int64   `json:"anomalies"`
	AnomalyRate       float64 `json:"anomaly_rate"`
	UniqueAccounts    int64   `json:"unique_accounts"`
}

// LabelCount is a (label, count) pair for bar-chart style rollups.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// HourCount is transaction volume for one UTC hour of day.
type HourCount struct {
	Hour  int   `json:"hour"`
	Count int64 `json:"count"`
}

// AmountStats summarizes transaction amounts for one cohort.
type AmountStats struct {
	Count int64   `json:"count"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Store persists scored transactions and baseline snapshots, and
// answers the dashboard's aggregate queries.
type Store interface {
	// SaveResults appends a batch of verdicts.
	SaveResults(ctx context.Context, results []ScoredTransaction) error

	// GetTransaction returns one result by transaction id, or
	// ErrNotFound.
	GetTransaction(ctx context.Context, id string) (*ScoredTransaction, error)

	// ListFlagged returns flagged transactions at or above the
	// filter's minimum score, newest first.
	ListFlagged(ctx context.Context, f FlaggedFilter) ([]ScoredTransaction, error)

	// CountFlagged counts flagged transactions at or above minScore.
	CountFlagged(ctx context.Context, minScore float64) (int64, error)

	Summary(ctx context.Context) (*Summary, error)

	// ReasonCounts counts stored verdicts per reason, descending.
	ReasonCounts(ctx context.Context) ([]LabelCount, error)

	// ScoreHistogram buckets scores into ten 0.1-wide bins.
	ScoreHistogram(ctx context.Context) ([]LabelCount, error)

	HourlyVolume(ctx context.Context) ([]HourCount, error)
	HourlyAnomalies(ctx context.Context) ([]HourCount, error)

	// AmountSummary returns amount statistics keyed by cohort,
	// "flagged" and "clean".
	AmountSummary(ctx context.Context) (map[string]AmountStats, error)

	// TopAccounts returns the accounts with the most flagged
	// transactions, descending.
	TopAccounts(ctx context.Context, limit int) ([]LabelCount, error)

	// SaveBaselines replaces the stored snapshot set for the listed
	// accounts so scoring state survives restarts.
	SaveBaselines(ctx context.Context, snapshots []engine.BaselineSnapshot) error
	LoadBaselines(ctx context.Context) ([]engine.BaselineSnapshot, error)
}

// ScoreBucketLabel renders the histogram bin a score falls into.
// Scores are clamped so 1.0 lands in the top bin.
func ScoreBucketLabel(score float64) string {
	bucket := int(score * 10)
	if bucket > 9 {
		bucket = 9
	}
	if bucket < 0 {
		bucket = 0
	}
	labels := [10]string{
		"0.0-0.1", "0.1-0.2", "0.2-0.3", "0.3-0.4", "0.4-0.5",
		"0.5-0.6", "0.6-0.7", "0.7-0.8", "0.8-0.9", "0.9-1.0",
	}
	return labels[bucket]
}
