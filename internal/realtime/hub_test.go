package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventTransactionScored, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventTransactionFlagged},
	}}

	flaggedEvent := &Event{Type: EventTransactionFlagged}
	scoredEvent := &Event{Type: EventTransactionScored}

	if !h.shouldSend(client, flaggedEvent) {
		t.Error("Should receive transaction_flagged events")
	}
	if h.shouldSend(client, scoredEvent) {
		t.Error("Should NOT receive transaction_scored events")
	}
}

func TestShouldSend_AccountFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Accounts: []string{"acct-1"},
	}}

	matching := &Event{
		Type: EventTransactionScored,
		Data: ScoredPayload{SenderAccount: "acct-1"},
	}
	notMatching := &Event{
		Type: EventTransactionScored,
		Data: ScoredPayload{SenderAccount: "acct-2"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on sender account")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated accounts")
	}
}

func TestShouldSend_FlaggedOnlyFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{FlaggedOnly: true}}

	flagged := &Event{
		Type: EventTransactionScored,
		Data: ScoredPayload{Flagged: true, Score: 0.8},
	}
	clean := &Event{
		Type: EventTransactionScored,
		Data: ScoredPayload{Flagged: false, Score: 0.1},
	}

	if !h.shouldSend(client, flagged) {
		t.Error("Should receive flagged verdicts")
	}
	if h.shouldSend(client, clean) {
		t.Error("Should NOT receive clean verdicts")
	}
}

func TestShouldSend_MinScoreFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{MinScore: 0.5}}

	high := &Event{
		Type: EventTransactionScored,
		Data: ScoredPayload{Score: 0.7},
	}
	low := &Event{
		Type: EventTransactionScored,
		Data: ScoredPayload{Score: 0.2},
	}

	if !h.shouldSend(client, high) {
		t.Error("Should receive high-score verdict")
	}
	if h.shouldSend(client, low) {
		t.Error("Should NOT receive low-score verdict")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventTransactionScored}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_CombinedFilters(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Accounts: []string{"acct-1"},
		MinScore: 0.5,
	}}

	rightAccountLowScore := &Event{
		Type: EventTransactionScored,
		Data: ScoredPayload{SenderAccount: "acct-1", Score: 0.1},
	}
	rightAccountHighScore := &Event{
		Type: EventTransactionScored,
		Data: ScoredPayload{SenderAccount: "acct-1", Score: 0.9},
	}

	if h.shouldSend(client, rightAccountLowScore) {
		t.Error("All filters must match")
	}
	if !h.shouldSend(client, rightAccountHighScore) {
		t.Error("Matching event should be delivered")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Broadcast an event
	h.Broadcast(&Event{Type: EventTransactionScored, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{
		Type:      EventTransactionScored,
		Timestamp: time.Now(),
		Data:      ScoredPayload{TransactionID: "tx-1", Score: 0.3},
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_BroadcastScored_EmitsFlaggedEvent(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventTransactionFlagged}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// A clean verdict produces no flagged event.
	h.BroadcastScored(ScoredPayload{TransactionID: "tx-clean", Score: 0.1})
	time.Sleep(100 * time.Millisecond)
	select {
	case <-client.send:
		t.Error("Clean verdict should not reach flagged-only subscriber")
	default:
	}

	h.BroadcastScored(ScoredPayload{TransactionID: "tx-bad", Score: 0.9, Flagged: true})
	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Flagged verdict should reach the subscriber")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}
