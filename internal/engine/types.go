// Package engine implements explainable anomaly detection and risk
// scoring for banking transactions.
//
// Every transaction is evaluated against independent signal detectors
// (amount deviation, velocity, device novelty, IP/location novelty)
// using a per-account behavioral baseline. Firing signals are combined
// with a noisy-OR into a single score in [0, 1), each carrying its own
// human-readable evidence, so every flag is traceable to a specific
// observation. No labeled data and no fitted models are involved.
package engine

import (
	"fmt"
	"time"
)

// SignalKind identifies which detector produced a signal.
type SignalKind string

const (
	KindAmountDeviation SignalKind = "amount_deviation"
	KindVelocity        SignalKind = "velocity"
	KindDeviceChange    SignalKind = "device_change"
	KindLocationChange  SignalKind = "location_change"
)

// Transaction is a normalized banking transaction as delivered by the
// ingestion layer. Empty DeviceHash/IPAddress/Location mean "unknown"
// and are treated as distinct values, not skipped.
type Transaction struct {
	ID            string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
	SenderAccount string    `json:"sender_account"`
	Amount        float64   `json:"amount"`
	DeviceHash    string    `json:"device_hash"`
	IPAddress     string    `json:"ip_address"`
	Location      string    `json:"location"`
}

// AnomalySignal is a single detector's finding for one transaction.
type AnomalySignal struct {
	Kind     SignalKind `json:"kind"`
	Severity float64    `json:"severity"` // 0..1
	Evidence string     `json:"evidence"`
}

// RiskScore is the engine's verdict on one transaction.
type RiskScore struct {
	TransactionID string   `json:"transaction_id"`
	Score         float64  `json:"score"` // 0..1
	Reasons       []string `json:"reasons"`
	Flagged       bool     `json:"flagged"`
}

// DetectorError annotates a detector failure with the transaction and
// detector it occurred in, so a single buggy check is never silently
// swallowed.
type DetectorError struct {
	TransactionID string
	Detector      string
	Err           error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("engine: detector %q failed on transaction %s: %v",
		e.Detector, e.TransactionID, e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }

// Validate checks the invariants the ingestion boundary is expected to
// have enforced. A violation rejects the whole batch rather than
// silently skipping rows, which would corrupt per-account ordering.
func (tx *Transaction) Validate() error {
	if tx.ID == "" {
		return fmt.Errorf("engine: transaction missing id")
	}
	if tx.SenderAccount == "" {
		return fmt.Errorf("engine: transaction %s missing sender_account", tx.ID)
	}
	if tx.Timestamp.IsZero() {
		return fmt.Errorf("engine: transaction %s missing timestamp", tx.ID)
	}
	if tx.Amount < 0 {
		return fmt.Errorf("engine: transaction %s has negative amount %f", tx.ID, tx.Amount)
	}
	return nil
}
