package engine

import (
	"sort"
	"sync"
	"time"
)

// BaselineStore holds one AccountBaseline per account. Get never fails:
// an unknown account yields a cold baseline (n = 0). Entries are never
// deleted during a run; persistence beyond the engine's lifetime is the
// caller's responsibility via Snapshot/Restore.
type BaselineStore struct {
	mu        sync.RWMutex
	baselines map[string]*AccountBaseline
}

// NewBaselineStore creates an empty store.
func NewBaselineStore() *BaselineStore {
	return &BaselineStore{baselines: make(map[string]*AccountBaseline)}
}

// Get returns the baseline for an account, creating a cold one if the
// account has never been seen.
func (s *BaselineStore) Get(account string) *AccountBaseline {
	s.mu.RLock()
	b, ok := s.baselines[account]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.baselines[account]; ok {
		return b
	}
	b = newBaseline()
	s.baselines[account] = b
	return b
}

// Len returns the number of tracked accounts.
func (s *BaselineStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.baselines)
}

// BaselineSnapshot is the persistable form of one account's baseline.
type BaselineSnapshot struct {
	Account   string    `json:"account"`
	N         int64     `json:"n"`
	Mean      float64   `json:"mean"`
	M2        float64   `json:"m2"`
	Devices   []string  `json:"devices"`
	IPLocs    []string  `json:"ip_locations"`
	LastSeen  time.Time `json:"last_seen"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot exports all baselines, sorted by account for determinism.
// Callers must not invoke it concurrently with Score on the same
// accounts if they need a point-in-time view across accounts.
func (s *BaselineStore) Snapshot() []BaselineSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	out := make([]BaselineSnapshot, 0, len(s.baselines))
	for account, b := range s.baselines {
		snap := BaselineSnapshot{
			Account:   account,
			N:         b.N,
			Mean:      b.mean,
			M2:        b.m2,
			LastSeen:  b.lastSeen,
			UpdatedAt: now,
			Devices:   make([]string, 0, len(b.devices)),
			IPLocs:    make([]string, 0, len(b.ipLocs)),
		}
		for d := range b.devices {
			snap.Devices = append(snap.Devices, d)
		}
		for p := range b.ipLocs {
			snap.IPLocs = append(snap.IPLocs, p)
		}
		sort.Strings(snap.Devices)
		sort.Strings(snap.IPLocs)
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// Restore loads previously snapshotted baselines, replacing any
// existing entry for the same account.
func (s *BaselineStore) Restore(snaps []BaselineSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snaps {
		b := newBaseline()
		b.N = snap.N
		b.mean = snap.Mean
		b.m2 = snap.M2
		b.lastSeen = snap.LastSeen
		for _, d := range snap.Devices {
			b.devices[d] = struct{}{}
		}
		for _, p := range snap.IPLocs {
			b.ipLocs[p] = struct{}{}
		}
		s.baselines[snap.Account] = b
	}
}
