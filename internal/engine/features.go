package engine

import "math"

// Features is the fixed bundle the detectors consume, derived from one
// transaction and its account's baseline. Optional features use nil to
// mean "cannot evaluate", which detectors must treat as abstention,
// never as zero deviation.
type Features struct {
	// AmountZScore is (amount - mean) / stddev, present only once the
	// account has at least MinHistory observations. +Inf encodes a
	// deviation from a zero-variance history (all prior amounts were
	// identical and this one differs) so the amount detector saturates
	// instead of dividing by zero.
	AmountZScore *float64

	// DeviceIsNew is true when the device hash is absent from the
	// baseline's known-device set.
	DeviceIsNew bool

	// IPLocationIsNew is true when the (ip, location) pair is unseen.
	IPLocationIsNew bool

	// SecondsSinceLast is the gap to the account's previous
	// transaction, nil for the account's first.
	SecondsSinceLast *float64

	// History is the number of transactions already folded into the
	// baseline, so novelty detectors can skip an account's first-ever
	// transaction.
	History int64
}

// ExtractFeatures derives the feature bundle from a transaction and the
// account's current baseline. Pure read: the baseline is not mutated.
func ExtractFeatures(tx *Transaction, b *AccountBaseline, minHistory int64) Features {
	f := Features{
		DeviceIsNew:     !b.KnownDevice(tx.DeviceHash),
		IPLocationIsNew: !b.KnownIPLocation(tx.IPAddress, tx.Location),
		History:         b.N,
	}

	if b.N >= minHistory {
		stddev := b.Stddev()
		var z float64
		switch {
		case stddev > 0:
			z = (tx.Amount - b.Mean()) / stddev
		case tx.Amount == b.Mean():
			z = 0
		default:
			// Zero variance but a different amount: maximal deviation.
			z = math.Inf(1)
		}
		f.AmountZScore = &z
	}

	if b.N > 0 && !b.LastSeen().IsZero() {
		gap := tx.Timestamp.Sub(b.LastSeen()).Seconds()
		f.SecondsSinceLast = &gap
	}

	return f
}
