package engine

import (
	"math"
	"time"
)

// AccountBaseline is the rolling behavioral profile for one account.
// Amount statistics use Welford's online algorithm so mean and variance
// stay exact without retaining transaction history; memory is bounded
// by the number of accounts, not the number of transactions.
//
// Baselines are owned by the BaselineStore and must only be mutated
// while holding the account's lock (see Engine.Score).
type AccountBaseline struct {
	N        int64
	mean     float64
	m2       float64 // sum of squared deviations from the mean
	devices  map[string]struct{}
	ipLocs   map[string]struct{}
	lastSeen time.Time
}

func newBaseline() *AccountBaseline {
	return &AccountBaseline{
		devices: make(map[string]struct{}),
		ipLocs:  make(map[string]struct{}),
	}
}

// Mean returns the running mean of observed amounts.
func (b *AccountBaseline) Mean() float64 { return b.mean }

// Variance returns the population variance of observed amounts.
func (b *AccountBaseline) Variance() float64 {
	if b.N == 0 {
		return 0
	}
	return b.m2 / float64(b.N)
}

// Stddev returns the population standard deviation of observed amounts.
func (b *AccountBaseline) Stddev() float64 {
	return math.Sqrt(b.Variance())
}

// LastSeen returns the timestamp of the account's most recent folded
// transaction, or the zero time if none.
func (b *AccountBaseline) LastSeen() time.Time { return b.lastSeen }

// KnownDevice reports whether the device hash has been seen before.
func (b *AccountBaseline) KnownDevice(hash string) bool {
	_, ok := b.devices[hash]
	return ok
}

// KnownIPLocation reports whether the (ip, location) pair has been seen.
func (b *AccountBaseline) KnownIPLocation(ip, location string) bool {
	_, ok := b.ipLocs[ipLocKey(ip, location)]
	return ok
}

// Fold incorporates a transaction into the baseline. Called after
// scoring for every processed transaction, flagged or not: baselines
// model "what is typical for this account", and without labels a
// flagged transaction is still an observation.
func (b *AccountBaseline) Fold(tx *Transaction) {
	b.N++
	delta := tx.Amount - b.mean
	b.mean += delta / float64(b.N)
	b.m2 += delta * (tx.Amount - b.mean)

	b.devices[tx.DeviceHash] = struct{}{}
	b.ipLocs[ipLocKey(tx.IPAddress, tx.Location)] = struct{}{}
	if tx.Timestamp.After(b.lastSeen) {
		b.lastSeen = tx.Timestamp
	}
}

// ipLocKey builds the set key for an (ip, location) pair. The separator
// is a control character, which ingestion strips from every cell, and an
// empty ip or location still yields a distinct key.
func ipLocKey(ip, location string) string {
	return ip + "\x1f" + location
}
