// Package ingest decodes uploaded transaction CSVs into the normalized
// batch the scoring engine consumes. It is the validation boundary: the
// engine assumes well-formed input, so malformed rows reject the whole
// upload here rather than being silently skipped.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/txsentry/internal/engine"
	"github.com/mbd888/txsentry/internal/validation"
)

// MaxRows is the default row cap. Rows beyond the cap are not read.
const MaxRows = 750_000

// maxCellLen caps every cell. Ids, accounts, hashes, addresses, and
// locations all fit with room to spare.
const maxCellLen = 256

var (
	requiredColumns = []string{"transaction_id", "sender_account"}
	featureColumns  = []string{"amount", "device_hash", "ip_address", "location", "timestamp"}

	// timestampLayouts are tried in order for each timestamp cell.
	timestampLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
)

// syntheticBase anchors the timestamps assigned when the upload has no
// timestamp column. Rows are spaced an hour apart in file order, wide
// enough that the velocity check never fires on fabricated times.
var syntheticBase = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// ErrNoRows is returned for a CSV with a header but no data rows, or
// with no content at all.
var ErrNoRows = errors.New("ingest: csv contains no rows")

// Batch is a decoded upload, sorted and ready for the engine.
type Batch struct {
	// Transactions are stably sorted by (sender_account, timestamp) so
	// each account's stream is in chronological order.
	Transactions []engine.Transaction

	// PresentFeatures and MissingFeatures report which optional
	// feature columns the upload carried. A detector whose inputs are
	// missing simply never fires; the caller surfaces the lists so the
	// uploader knows which checks were active.
	PresentFeatures []string
	MissingFeatures []string
}

// DecodeCSV reads at most maxRows data rows (MaxRows when maxRows <= 0)
// and normalizes them into a Batch. The header must contain
// transaction_id and sender_account; every other column is an optional
// feature. Any malformed cell rejects the whole upload with the
// offending row number.
func DecodeCSV(r io.Reader, maxRows int) (*Batch, error) {
	if maxRows <= 0 {
		maxRows = MaxRows
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: reading header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}

	var missing []string
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("ingest: missing required columns: %s", strings.Join(missing, ", "))
	}

	b := &Batch{
		PresentFeatures: []string{},
		MissingFeatures: []string{},
	}
	for _, name := range featureColumns {
		if _, ok := col[name]; ok {
			b.PresentFeatures = append(b.PresentFeatures, name)
		} else {
			b.MissingFeatures = append(b.MissingFeatures, name)
		}
	}
	_, hasTimestamp := col["timestamp"]
	_, hasAmount := col["amount"]

	// Cells are sanitized, not just trimmed: downstream set keys join
	// fields on a control character, so none may survive ingestion.
	cell := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return validation.SanitizeString(record[i], maxCellLen)
	}

	for row := 1; len(b.Transactions) < maxRows; row++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: row %d: %w", row, err)
		}

		tx := engine.Transaction{
			ID:            cell(record, "transaction_id"),
			SenderAccount: cell(record, "sender_account"),
			DeviceHash:    cell(record, "device_hash"),
			IPAddress:     cell(record, "ip_address"),
			Location:      cell(record, "location"),
		}
		if tx.ID == "" {
			return nil, fmt.Errorf("ingest: row %d: empty transaction_id", row)
		}
		if tx.SenderAccount == "" {
			return nil, fmt.Errorf("ingest: row %d: empty sender_account", row)
		}

		if hasAmount {
			raw := cell(record, "amount")
			amount, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("ingest: row %d: invalid amount %q", row, raw)
			}
			if amount < 0 {
				return nil, fmt.Errorf("ingest: row %d: negative amount %q", row, raw)
			}
			tx.Amount = amount
		}

		if hasTimestamp {
			raw := cell(record, "timestamp")
			ts, err := parseTimestamp(raw)
			if err != nil {
				return nil, fmt.Errorf("ingest: row %d: %w", row, err)
			}
			tx.Timestamp = ts
		} else {
			tx.Timestamp = syntheticBase.Add(time.Duration(row-1) * time.Hour)
		}

		b.Transactions = append(b.Transactions, tx)
	}

	if len(b.Transactions) == 0 {
		return nil, ErrNoRows
	}

	sortForScoring(b.Transactions)
	return b, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}

// sortForScoring orders the batch by account, then timestamp. The sort
// is stable so equal-timestamp rows keep their file order, which keeps
// scoring deterministic for any input.
func sortForScoring(txs []engine.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].SenderAccount != txs[j].SenderAccount {
			return txs[i].SenderAccount < txs[j].SenderAccount
		}
		return txs[i].Timestamp.Before(txs[j].Timestamp)
	})
}
