package engine

import (
	"math"
	"testing"
	"time"
)

func mkTx(id, account string, amount float64, ts time.Time) Transaction {
	return Transaction{
		ID:            id,
		Timestamp:     ts,
		SenderAccount: account,
		Amount:        amount,
		DeviceHash:    "dev-1",
		IPAddress:     "10.0.0.1",
		Location:      "Lisbon",
	}
}

func TestBaseline_WelfordMatchesArithmeticMean(t *testing.T) {
	b := newBaseline()
	amounts := []float64{12.5, 99.99, 0, 250, 42, 42, 1000.01, 3.5}

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var sum float64
	for i, amt := range amounts {
		tx := mkTx("t", "acct", amt, base.Add(time.Duration(i)*time.Hour))
		b.Fold(&tx)
		sum += amt
	}

	if b.N != int64(len(amounts)) {
		t.Fatalf("n = %d, want %d", b.N, len(amounts))
	}

	wantMean := sum / float64(len(amounts))
	if math.Abs(b.Mean()-wantMean) > 1e-9 {
		t.Errorf("mean = %f, want %f", b.Mean(), wantMean)
	}

	// Variance against the two-pass formula.
	var sq float64
	for _, amt := range amounts {
		d := amt - wantMean
		sq += d * d
	}
	wantVar := sq / float64(len(amounts))
	if math.Abs(b.Variance()-wantVar) > 1e-9 {
		t.Errorf("variance = %f, want %f", b.Variance(), wantVar)
	}
}

func TestBaseline_ZeroVariance(t *testing.T) {
	b := newBaseline()
	base := time.Now()
	for i := 0; i < 5; i++ {
		tx := mkTx("t", "acct", 100, base.Add(time.Duration(i)*time.Hour))
		b.Fold(&tx)
	}
	if b.Variance() != 0 {
		t.Errorf("variance = %f, want 0 for identical amounts", b.Variance())
	}
	if b.Stddev() != 0 {
		t.Errorf("stddev = %f, want 0", b.Stddev())
	}
}

func TestBaseline_TracksDevicesAndIPLocations(t *testing.T) {
	b := newBaseline()
	tx := mkTx("t1", "acct", 10, time.Now())
	b.Fold(&tx)

	if !b.KnownDevice("dev-1") {
		t.Error("expected dev-1 to be known after fold")
	}
	if b.KnownDevice("dev-2") {
		t.Error("dev-2 should be unknown")
	}
	if !b.KnownIPLocation("10.0.0.1", "Lisbon") {
		t.Error("expected (10.0.0.1, Lisbon) to be known")
	}
	// Same IP with a different location is a different pair.
	if b.KnownIPLocation("10.0.0.1", "Porto") {
		t.Error("(10.0.0.1, Porto) should be unknown")
	}
}

func TestBaseline_EmptyStringsAreDistinctValues(t *testing.T) {
	b := newBaseline()
	tx := Transaction{
		ID: "t1", SenderAccount: "acct", Amount: 10, Timestamp: time.Now(),
		DeviceHash: "", IPAddress: "", Location: "",
	}
	b.Fold(&tx)

	if !b.KnownDevice("") {
		t.Error("empty device hash should be tracked as a value")
	}
	if !b.KnownIPLocation("", "") {
		t.Error("empty (ip, location) should be tracked as a value")
	}
	if b.KnownIPLocation("", "Lisbon") {
		t.Error("(empty ip, Lisbon) should be a distinct unseen pair")
	}
}

func TestBaselineStore_GetColdStart(t *testing.T) {
	s := NewBaselineStore()
	b := s.Get("never-seen")
	if b == nil {
		t.Fatal("Get must never return nil")
	}
	if b.N != 0 {
		t.Errorf("cold baseline n = %d, want 0", b.N)
	}
	if s.Len() != 1 {
		t.Errorf("store len = %d, want 1", s.Len())
	}

	// Same pointer on repeat access.
	if s.Get("never-seen") != b {
		t.Error("Get should return the same baseline instance")
	}
}

func TestBaselineStore_SnapshotRestoreRoundtrip(t *testing.T) {
	s := NewBaselineStore()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, amt := range []float64{10, 20, 30} {
		tx := mkTx("t", "acct-a", amt, base.Add(time.Duration(i)*time.Minute))
		s.Get("acct-a").Fold(&tx)
	}
	tx := mkTx("t", "acct-b", 5, base)
	s.Get("acct-b").Fold(&tx)

	snaps := s.Snapshot()
	if len(snaps) != 2 {
		t.Fatalf("snapshot count = %d, want 2", len(snaps))
	}
	if snaps[0].Account != "acct-a" || snaps[1].Account != "acct-b" {
		t.Errorf("snapshots not sorted by account: %v, %v", snaps[0].Account, snaps[1].Account)
	}

	restored := NewBaselineStore()
	restored.Restore(snaps)

	a := restored.Get("acct-a")
	if a.N != 3 {
		t.Errorf("restored n = %d, want 3", a.N)
	}
	if math.Abs(a.Mean()-20) > 1e-9 {
		t.Errorf("restored mean = %f, want 20", a.Mean())
	}
	if !a.KnownDevice("dev-1") {
		t.Error("restored baseline lost device set")
	}
	if !a.LastSeen().Equal(base.Add(2 * time.Minute)) {
		t.Errorf("restored lastSeen = %v", a.LastSeen())
	}
}
