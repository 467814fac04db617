package results

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/txsentry/internal/engine"
)

// MemoryStore is an in-memory implementation of Store for demo/test
// use. Runs without DATABASE_URL; nothing survives a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	results   []ScoredTransaction
	byID      map[string]int // transaction id → index in results
	baselines map[string]engine.BaselineSnapshot
}

// NewMemoryStore creates an empty in-memory results store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]int),
		baselines: make(map[string]engine.BaselineSnapshot),
	}
}

func (s *MemoryStore) SaveResults(ctx context.Context, results []ScoredTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range results {
		r.Reasons = append([]string(nil), r.Reasons...)
		// A re-scored transaction replaces its row, same as the SQL
		// store's upsert.
		if i, ok := s.byID[r.TransactionID]; ok {
			s.results[i] = r
			continue
		}
		s.byID[r.TransactionID] = len(s.results)
		s.results = append(s.results, r)
	}
	return nil
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id string) (*ScoredTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	r := s.results[i]
	r.Reasons = append([]string(nil), r.Reasons...)
	return &r, nil
}

func (s *MemoryStore) ListFlagged(ctx context.Context, f FlaggedFilter) ([]ScoredTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]ScoredTransaction, 0)
	for _, r := range s.results {
		if r.Flagged && r.Score >= f.MinScore {
			r.Reasons = append([]string(nil), r.Reasons...)
			matches = append(matches, r)
		}
	}
	// Newest first, id ascending within a batch; keeps pagination
	// identical to the SQL store's ORDER BY.
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].ScoredAt.Equal(matches[j].ScoredAt) {
			return matches[i].ScoredAt.After(matches[j].ScoredAt)
		}
		return matches[i].TransactionID < matches[j].TransactionID
	})

	if f.Offset >= len(matches) {
		return []ScoredTransaction{}, nil
	}
	matches = matches[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matches) {
		matches = matches[:f.Limit]
	}
	return matches, nil
}

func (s *MemoryStore) CountFlagged(ctx context.Context, minScore float64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, r := range s.results {
		if r.Flagged && r.Score >= minScore {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Summary(ctx context.Context) (*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make(map[string]struct{})
	sum := &Summary{}
	for _, r := range s.results {
		sum.TotalTransactions++
		if r.Flagged {
			sum.Anomalies++
		}
		accounts[r.SenderAccount] = struct{}{}
	}
	sum.UniqueAccounts = int64(len(accounts))
	if sum.TotalTransactions > 0 {
		sum.AnomalyRate = float64(sum.Anomalies) / float64(sum.TotalTransactions) * 100
	}
	return sum, nil
}

func (s *MemoryStore) ReasonCounts(ctx context.Context) ([]LabelCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, r := range s.results {
		for _, reason := range r.Reasons {
			counts[reason]++
		}
	}
	return sortedCounts(counts, 0), nil
}

func (s *MemoryStore) ScoreHistogram(ctx context.Context) ([]LabelCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, r := range s.results {
		counts[ScoreBucketLabel(r.Score)]++
	}

	out := make([]LabelCount, 0, len(counts))
	for label, n := range counts {
		out = append(out, LabelCount{Label: label, Count: n})
	}
	// Bucket labels sort lexically in score order.
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (s *MemoryStore) HourlyVolume(ctx context.Context) ([]HourCount, error) {
	return s.hourly(func(r ScoredTransaction) bool { return true })
}

func (s *MemoryStore) HourlyAnomalies(ctx context.Context) ([]HourCount, error) {
	return s.hourly(func(r ScoredTransaction) bool { return r.Flagged })
}

func (s *MemoryStore) hourly(include func(ScoredTransaction) bool) ([]HourCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[int]int64)
	for _, r := range s.results {
		if include(r) {
			counts[r.Hour]++
		}
	}

	out := make([]HourCount, 0, len(counts))
	for hour, n := range counts {
		out = append(out, HourCount{Hour: hour, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour < out[j].Hour })
	return out, nil
}

func (s *MemoryStore) AmountSummary(ctx context.Context) (map[string]AmountStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]AmountStats)
	for _, r := range s.results {
		key := "clean"
		if r.Flagged {
			key = "flagged"
		}
		st, ok := out[key]
		if !ok {
			st = AmountStats{Min: r.Amount, Max: r.Amount}
		}
		st.Count++
		st.Avg += r.Amount // running sum, divided below
		if r.Amount < st.Min {
			st.Min = r.Amount
		}
		if r.Amount > st.Max {
			st.Max = r.Amount
		}
		out[key] = st
	}
	for key, st := range out {
		st.Avg /= float64(st.Count)
		out[key] = st
	}
	return out, nil
}

func (s *MemoryStore) TopAccounts(ctx context.Context, limit int) ([]LabelCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, r := range s.results {
		if r.Flagged {
			counts[r.SenderAccount]++
		}
	}
	return sortedCounts(counts, limit), nil
}

func (s *MemoryStore) SaveBaselines(ctx context.Context, snapshots []engine.BaselineSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snap := range snapshots {
		snap.Devices = append([]string(nil), snap.Devices...)
		snap.IPLocs = append([]string(nil), snap.IPLocs...)
		s.baselines[snap.Account] = snap
	}
	return nil
}

func (s *MemoryStore) LoadBaselines(ctx context.Context) ([]engine.BaselineSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]engine.BaselineSnapshot, 0, len(s.baselines))
	for _, snap := range s.baselines {
		snap.Devices = append([]string(nil), snap.Devices...)
		snap.IPLocs = append([]string(nil), snap.IPLocs...)
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out, nil
}

// sortedCounts flattens a count map ordered by count descending, label
// ascending for ties so output is stable across runs.
func sortedCounts(counts map[string]int64, limit int) []LabelCount {
	out := make([]LabelCount, 0, len(counts))
	for label, n := range counts {
		out = append(out, LabelCount{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}
