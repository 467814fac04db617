package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const fullHeader = "transaction_id,sender_account,timestamp,amount,device_hash,ip_address,location\n"

func TestDecodeCSV_FullRow(t *testing.T) {
	in := fullHeader +
		"tx-1,acct-1,2025-05-01T09:00:00Z,120.50,dev-a,10.0.0.1,Lisbon\n"

	b, err := DecodeCSV(strings.NewReader(in), 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(b.Transactions) != 1 {
		t.Fatalf("transactions = %d, want 1", len(b.Transactions))
	}

	tx := b.Transactions[0]
	if tx.ID != "tx-1" || tx.SenderAccount != "acct-1" {
		t.Errorf("identity fields wrong: %+v", tx)
	}
	if tx.Amount != 120.50 {
		t.Errorf("amount = %f", tx.Amount)
	}
	want := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	if !tx.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", tx.Timestamp, want)
	}
	if tx.DeviceHash != "dev-a" || tx.IPAddress != "10.0.0.1" || tx.Location != "Lisbon" {
		t.Errorf("feature fields wrong: %+v", tx)
	}
	if len(b.MissingFeatures) != 0 {
		t.Errorf("missing features = %v, want none", b.MissingFeatures)
	}
}

func TestDecodeCSV_EmptyInput(t *testing.T) {
	for _, in := range []string{"", fullHeader} {
		_, err := DecodeCSV(strings.NewReader(in), 0)
		if !errors.Is(err, ErrNoRows) {
			t.Errorf("input %q: err = %v, want ErrNoRows", in, err)
		}
	}
}

func TestDecodeCSV_MissingRequiredColumns(t *testing.T) {
	in := "transaction_id,amount\ntx-1,50\n"
	_, err := DecodeCSV(strings.NewReader(in), 0)
	if err == nil || !strings.Contains(err.Error(), "sender_account") {
		t.Errorf("err = %v, want missing sender_account", err)
	}
}

func TestDecodeCSV_ReportsAbsentFeatures(t *testing.T) {
	in := "transaction_id,sender_account,amount\ntx-1,acct-1,50\n"
	b, err := DecodeCSV(strings.NewReader(in), 0)
	if err != nil {
		t.Fatal(err)
	}

	if got := strings.Join(b.PresentFeatures, ","); got != "amount" {
		t.Errorf("present = %v", b.PresentFeatures)
	}
	want := "device_hash,ip_address,location,timestamp"
	if got := strings.Join(b.MissingFeatures, ","); got != want {
		t.Errorf("missing = %v, want %s", b.MissingFeatures, want)
	}
}

func TestDecodeCSV_SynthesizesTimestampsWhenColumnAbsent(t *testing.T) {
	in := "transaction_id,sender_account\ntx-1,acct-1\ntx-2,acct-1\n"
	b, err := DecodeCSV(strings.NewReader(in), 0)
	if err != nil {
		t.Fatal(err)
	}

	t0, t1 := b.Transactions[0].Timestamp, b.Transactions[1].Timestamp
	if t0.IsZero() || t1.IsZero() {
		t.Fatal("synthesized timestamps must be non-zero")
	}
	if !t1.After(t0) {
		t.Errorf("timestamps must preserve file order: %v, %v", t0, t1)
	}
	if t1.Sub(t0) < time.Hour {
		t.Errorf("gap = %v, want wide spacing", t1.Sub(t0))
	}
}

func TestDecodeCSV_RejectsMalformedCells(t *testing.T) {
	cases := []struct {
		name string
		row  string
		want string
	}{
		{"empty id", ",acct-1,2025-05-01T09:00:00Z,50,d,ip,loc", "transaction_id"},
		{"empty account", "tx-1,,2025-05-01T09:00:00Z,50,d,ip,loc", "sender_account"},
		{"bad amount", "tx-1,acct-1,2025-05-01T09:00:00Z,abc,d,ip,loc", "invalid amount"},
		{"negative amount", "tx-1,acct-1,2025-05-01T09:00:00Z,-5,d,ip,loc", "negative amount"},
		{"bad timestamp", "tx-1,acct-1,not-a-time,50,d,ip,loc", "invalid timestamp"},
		{"empty timestamp", "tx-1,acct-1,,50,d,ip,loc", "empty timestamp"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeCSV(strings.NewReader(fullHeader+tc.row+"\n"), 0)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want %q", err, tc.want)
			}
			if err != nil && !strings.Contains(err.Error(), "row 1") {
				t.Errorf("err = %v, should name the row", err)
			}
		})
	}
}

func TestDecodeCSV_TimestampFormats(t *testing.T) {
	cases := map[string]time.Time{
		"2025-05-01T09:00:00Z":      time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
		"2025-05-01T09:00:00":       time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
		"2025-05-01 09:00:00":       time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
		"2025-05-01":                time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		"1746090000":                time.Unix(1746090000, 0).UTC(),
		"2025-05-01T09:00:00+02:00": time.Date(2025, 5, 1, 7, 0, 0, 0, time.UTC),
	}
	for raw, want := range cases {
		got, err := parseTimestamp(raw)
		if err != nil {
			t.Errorf("%q: %v", raw, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("%q = %v, want %v", raw, got, want)
		}
	}
}

func TestDecodeCSV_SortsByAccountThenTimestamp(t *testing.T) {
	in := fullHeader +
		"tx-3,beta,2025-05-01T09:00:00Z,10,d,ip,loc\n" +
		"tx-1,alpha,2025-05-01T11:00:00Z,10,d,ip,loc\n" +
		"tx-2,alpha,2025-05-01T09:00:00Z,10,d,ip,loc\n"

	b, err := DecodeCSV(strings.NewReader(in), 0)
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, tx := range b.Transactions {
		order = append(order, tx.ID)
	}
	if got := strings.Join(order, ","); got != "tx-2,tx-1,tx-3" {
		t.Errorf("order = %s, want tx-2,tx-1,tx-3", got)
	}
}

func TestDecodeCSV_StableForEqualTimestamps(t *testing.T) {
	in := fullHeader +
		"tx-a,acct,2025-05-01T09:00:00Z,10,d,ip,loc\n" +
		"tx-b,acct,2025-05-01T09:00:00Z,10,d,ip,loc\n"

	b, err := DecodeCSV(strings.NewReader(in), 0)
	if err != nil {
		t.Fatal(err)
	}
	if b.Transactions[0].ID != "tx-a" || b.Transactions[1].ID != "tx-b" {
		t.Error("equal timestamps must keep file order")
	}
}

func TestDecodeCSV_RowCapTruncates(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("transaction_id,sender_account\n")
	for i := 0; i < 10; i++ {
		sb.WriteString("tx,acct\n")
	}

	b, err := DecodeCSV(strings.NewReader(sb.String()), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Transactions) != 3 {
		t.Errorf("transactions = %d, want cap of 3", len(b.Transactions))
	}
}

func TestDecodeCSV_SanitizesCells(t *testing.T) {
	in := "transaction_id,sender_account,ip_address,location\n" +
		"tx-1,acct-1,10.0.0.1\x1fLisbon,\n" +
		"tx-2,acct-1," + strings.Repeat("9", 300) + ",Lisbon\n"

	b, err := DecodeCSV(strings.NewReader(in), 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	// Control characters are stripped so a crafted cell cannot collide
	// two distinct (ip, location) pairs in the baseline's set keys.
	if got := b.Transactions[0].IPAddress; got != "10.0.0.1Lisbon" {
		t.Errorf("ip = %q, control characters must be stripped", got)
	}
	if b.Transactions[0].Location != "" {
		t.Errorf("location = %q, want empty", b.Transactions[0].Location)
	}

	if got := len(b.Transactions[1].IPAddress); got != 256 {
		t.Errorf("oversized cell length = %d, want 256", got)
	}
}
