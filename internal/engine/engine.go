package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/txsentry/internal/metrics"
	"github.com/mbd888/txsentry/internal/syncutil"
	"github.com/mbd888/txsentry/internal/traces"
)

// ErrorPolicy controls what happens when a detector returns an error.
type ErrorPolicy string

const (
	// FailBatch aborts the batch on the first detector error. Already
	// processed transactions stay folded into their baselines.
	FailBatch ErrorPolicy = "fail_batch"
	// SkipDetector drops the failing detector's signal for that one
	// transaction, logs it, and keeps scoring.
	SkipDetector ErrorPolicy = "skip_detector"
)

// Config holds the engine's tunable thresholds.
type Config struct {
	// MinHistory is the number of observations required before the
	// amount z-score is evaluated.
	MinHistory int64
	// ZScoreThreshold is the minimum |z-score| for the amount detector.
	ZScoreThreshold float64
	// FlagThreshold is the minimum aggregate score that flags.
	FlagThreshold float64
	// VelocityMinInterval is the gap below which the velocity detector
	// fires.
	VelocityMinInterval time.Duration
	// DeviceChangeSeverity and LocationChangeSeverity are the fixed
	// severities of the novelty detectors.
	DeviceChangeSeverity   float64
	LocationChangeSeverity float64
	// Workers is the number of concurrent batch workers. Accounts are
	// sharded whole so per-account processing stays sequential; 0 or 1
	// means fully sequential.
	Workers int
	// OnDetectorError selects the batch contract for detector bugs.
	OnDetectorError ErrorPolicy
}

// DefaultConfig returns the documented default thresholds.
func DefaultConfig() Config {
	return Config{
		MinHistory:             5,
		ZScoreThreshold:        3.0,
		FlagThreshold:          0.5,
		VelocityMinInterval:    60 * time.Second,
		DeviceChangeSeverity:   0.4,
		LocationChangeSeverity: 0.4,
		Workers:                1,
		OnDetectorError:        FailBatch,
	}
}

// Engine scores transactions against per-account behavioral baselines.
// Safe for concurrent use: each Score runs extract-score-update as one
// atomic unit under the account's lock, so two transactions for the
// same account can never race against a stale baseline read.
type Engine struct {
	cfg       Config
	detectors []Detector
	baselines *BaselineStore
	locks     syncutil.ShardedMutex
	logger    *slog.Logger
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithDetectors overrides the default detector set. Order is the
// reason-list tie-break, so callers own its determinism.
func WithDetectors(ds ...Detector) Option {
	return func(e *Engine) { e.detectors = ds }
}

// WithBaselineStore supplies a pre-populated store, e.g. restored from
// persisted snapshots at startup.
func WithBaselineStore(s *BaselineStore) Option {
	return func(e *Engine) { e.baselines = s }
}

// New creates an Engine with the given config, filling in defaults for
// zero-valued thresholds.
func New(cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = def.MinHistory
	}
	if cfg.ZScoreThreshold <= 0 {
		cfg.ZScoreThreshold = def.ZScoreThreshold
	}
	if cfg.FlagThreshold <= 0 {
		cfg.FlagThreshold = def.FlagThreshold
	}
	if cfg.VelocityMinInterval <= 0 {
		cfg.VelocityMinInterval = def.VelocityMinInterval
	}
	if cfg.DeviceChangeSeverity <= 0 {
		cfg.DeviceChangeSeverity = def.DeviceChangeSeverity
	}
	if cfg.LocationChangeSeverity <= 0 {
		cfg.LocationChangeSeverity = def.LocationChangeSeverity
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.OnDetectorError == "" {
		cfg.OnDetectorError = FailBatch
	}

	e := &Engine{
		cfg:       cfg,
		baselines: NewBaselineStore(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.detectors == nil {
		e.detectors = DefaultDetectors(cfg)
	}
	return e
}

// Baselines exposes the engine's baseline store for snapshotting.
func (e *Engine) Baselines() *BaselineStore { return e.baselines }

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Score evaluates one transaction and folds it into its account's
// baseline. The read-score-fold sequence holds the account lock for
// its whole duration.
func (e *Engine) Score(ctx context.Context, tx *Transaction) (RiskScore, error) {
	if err := tx.Validate(); err != nil {
		return RiskScore{}, err
	}

	unlock := e.locks.Lock(tx.SenderAccount)
	defer unlock()

	baseline := e.baselines.Get(tx.SenderAccount)
	features := ExtractFeatures(tx, baseline, e.cfg.MinHistory)

	var signals []AnomalySignal
	for _, det := range e.detectors {
		sig, err := det.Evaluate(tx, features)
		if err != nil {
			derr := &DetectorError{TransactionID: tx.ID, Detector: det.Name(), Err: err}
			metrics.DetectorErrorsTotal.WithLabelValues(det.Name()).Inc()
			if e.cfg.OnDetectorError == SkipDetector {
				e.logger.Warn("detector failed, skipping for this transaction",
					"detector", det.Name(), "transaction", tx.ID, "error", err)
				continue
			}
			return RiskScore{}, derr
		}
		if sig != nil {
			signals = append(signals, *sig)
			metrics.SignalsTotal.WithLabelValues(string(sig.Kind)).Inc()
		}
	}

	rs := aggregate(tx.ID, signals, e.cfg.FlagThreshold)
	baseline.Fold(tx)

	outcome := "clean"
	if rs.Flagged {
		outcome = "flagged"
		e.logger.Info("transaction flagged",
			"transaction", tx.ID, "account", tx.SenderAccount,
			"score", rs.Score, "reasons", rs.Reasons)
	}
	metrics.TransactionsScoredTotal.WithLabelValues(outcome).Inc()

	return rs, nil
}

// ProcessBatch scores an ordered batch (oldest first per account) and
// returns one RiskScore per input, in input order. The whole batch is
// validated up front: a malformed transaction rejects the batch before
// any baseline is touched. Under the FailBatch policy a detector error
// aborts with the processed prefix already folded; under SkipDetector
// the batch always completes.
func (e *Engine) ProcessBatch(ctx context.Context, txs []Transaction) ([]RiskScore, error) {
	ctx, span := traces.StartSpan(ctx, "engine.ProcessBatch", traces.BatchSize(len(txs)))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
		metrics.BatchSize.Observe(float64(len(txs)))
	}()

	for i := range txs {
		if err := txs[i].Validate(); err != nil {
			return nil, fmt.Errorf("batch rejected at row %d: %w", i, err)
		}
	}

	if e.cfg.Workers == 1 || len(txs) < 2 {
		results := make([]RiskScore, len(txs))
		for i := range txs {
			rs, err := e.Score(ctx, &txs[i])
			if err != nil {
				return nil, err
			}
			results[i] = rs
		}
		return results, nil
	}
	return e.processConcurrent(ctx, txs)
}

// processConcurrent shards whole accounts across workers. Per-account
// transaction order is preserved and results land in their input slot,
// so output is byte-identical to the sequential run.
func (e *Engine) processConcurrent(ctx context.Context, txs []Transaction) ([]RiskScore, error) {
	byAccount := make(map[string][]int)
	order := make([]string, 0)
	for i := range txs {
		acct := txs[i].SenderAccount
		if _, seen := byAccount[acct]; !seen {
			order = append(order, acct)
		}
		byAccount[acct] = append(byAccount[acct], i)
	}

	results := make([]RiskScore, len(txs))
	errs := make([]error, len(txs))

	jobs := make(chan []int)
	var wg sync.WaitGroup
	for w := 0; w < e.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idxs := range jobs {
				for _, i := range idxs {
					rs, err := e.Score(ctx, &txs[i])
					if err != nil {
						errs[i] = err
						// Later transactions for this account stay
						// untouched once its stream has failed.
						break
					}
					results[i] = rs
				}
			}
		}()
	}
	for _, acct := range order {
		jobs <- byAccount[acct]
	}
	close(jobs)
	wg.Wait()

	// Deterministic error selection: first failing input row wins.
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("batch aborted at row %d: %w", i, err)
		}
	}
	return results, nil
}
