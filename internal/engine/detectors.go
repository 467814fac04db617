package engine

import (
	"fmt"
	"math"
)

// Detector is a single independent anomaly check. Evaluate returns nil
// when the detector abstains (feature unavailable or nothing unusual).
// Detectors never consult each other's output; that independence is
// what keeps every flag individually auditable.
type Detector interface {
	Name() string
	Evaluate(tx *Transaction, f Features) (*AnomalySignal, error)
}

// DefaultDetectors returns the built-in detector set in fixed priority
// order: amount deviation, velocity, device change, location change.
// Registration order is the tie-break for reason ordering, so it must
// stay deterministic.
func DefaultDetectors(cfg Config) []Detector {
	return []Detector{
		&AmountDeviationDetector{Threshold: cfg.ZScoreThreshold},
		&VelocityDetector{MinIntervalSeconds: cfg.VelocityMinInterval.Seconds()},
		&DeviceChangeDetector{Severity: cfg.DeviceChangeSeverity},
		&LocationChangeDetector{Severity: cfg.LocationChangeSeverity},
	}
}

// ---------------------------------------------------------------------------
// AmountDeviationDetector: |z-score| above threshold
// ---------------------------------------------------------------------------

type AmountDeviationDetector struct {
	// Threshold is the minimum |z-score| that fires, e.g. 3.0.
	Threshold float64
}

func (d *AmountDeviationDetector) Name() string { return "amount_deviation" }

func (d *AmountDeviationDetector) Evaluate(_ *Transaction, f Features) (*AnomalySignal, error) {
	if f.AmountZScore == nil {
		return nil, nil // insufficient history, abstain
	}

	z := math.Abs(*f.AmountZScore)
	if math.IsInf(z, 1) {
		// Zero-variance history with a differing amount saturates.
		return &AnomalySignal{
			Kind:     KindAmountDeviation,
			Severity: 1.0,
			Evidence: "amount deviates from an account history of identical amounts",
		}, nil
	}
	if z <= d.Threshold {
		return nil, nil
	}

	severity := math.Min(1, z/(d.Threshold*2))
	return &AnomalySignal{
		Kind:     KindAmountDeviation,
		Severity: severity,
		Evidence: fmt.Sprintf("amount deviates %.1f standard deviations from account's historical average", z),
	}, nil
}

// ---------------------------------------------------------------------------
// VelocityDetector: gap to previous transaction below minimum interval
// ---------------------------------------------------------------------------

type VelocityDetector struct {
	// MinIntervalSeconds is the gap below which transactions are
	// considered suspiciously rapid.
	MinIntervalSeconds float64
}

func (d *VelocityDetector) Name() string { return "velocity" }

func (d *VelocityDetector) Evaluate(_ *Transaction, f Features) (*AnomalySignal, error) {
	if f.SecondsSinceLast == nil || d.MinIntervalSeconds <= 0 {
		return nil, nil
	}

	gap := *f.SecondsSinceLast
	if gap < 0 {
		gap = 0
	}
	if gap >= d.MinIntervalSeconds {
		return nil, nil
	}

	// Severity rises as the gap shrinks: 0s gap = 1.0, full interval = 0.
	severity := (d.MinIntervalSeconds - gap) / d.MinIntervalSeconds
	return &AnomalySignal{
		Kind:     KindVelocity,
		Severity: severity,
		Evidence: fmt.Sprintf("transactions occurring unusually close together in time (%.1fs since previous)", gap),
	}, nil
}

// ---------------------------------------------------------------------------
// DeviceChangeDetector: unseen device on an account with history
// ---------------------------------------------------------------------------

type DeviceChangeDetector struct {
	Severity float64
}

func (d *DeviceChangeDetector) Name() string { return "device_change" }

func (d *DeviceChangeDetector) Evaluate(_ *Transaction, f Features) (*AnomalySignal, error) {
	// An account's first-ever transaction is not penalized for having
	// a "new" device.
	if !f.DeviceIsNew || f.History == 0 {
		return nil, nil
	}
	return &AnomalySignal{
		Kind:     KindDeviceChange,
		Severity: d.Severity,
		Evidence: "transaction from a previously unseen device",
	}, nil
}

// ---------------------------------------------------------------------------
// LocationChangeDetector: unseen (ip, location) pair on an account with history
// ---------------------------------------------------------------------------

type LocationChangeDetector struct {
	Severity float64
}

func (d *LocationChangeDetector) Name() string { return "location_change" }

func (d *LocationChangeDetector) Evaluate(_ *Transaction, f Features) (*AnomalySignal, error) {
	if !f.IPLocationIsNew || f.History == 0 {
		return nil, nil
	}
	return &AnomalySignal{
		Kind:     KindLocationChange,
		Severity: d.Severity,
		Evidence: "transaction from a previously unseen IP/location",
	}, nil
}
