package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pricewatch/go-tracker-backend/internal/domain"
)

// ---------- fakes ----------

// scriptedChat fails the first failures deliveries to a chat id, then
// succeeds. A permanent map entry fails every time with a permanent error.
type scriptedChat struct {
	failures  map[int64]int
	permanent map[int64]bool

	calls map[int64]int
	sent  []int64
}

func newScriptedChat() *scriptedChat {
	return &scriptedChat{
		failures:  map[int64]int{},
		permanent: map[int64]bool{},
		calls:     map[int64]int{},
	}
}

func (s *scriptedChat) SendMessage(_ context.Context, chatID int64, _ string, _ [][]Button) error {
	s.calls[chatID]++
	if s.permanent[chatID] {
		return Permanent(errors.New("chat not found"))
	}
	if s.calls[chatID] <= s.failures[chatID] {
		return errors.New("upstream 502")
	}
	s.sent = append(s.sent, chatID)
	return nil
}

type recordingEmail struct {
	to []string
}

func (r *recordingEmail) Send(_ context.Context, to, _, _, _ string) error {
	r.to = append(r.to, to)
	return nil
}

func testDispatcher(chat ChatChannel) *Dispatcher {
	d := NewDispatcher(chat, nil, "https://pricewatch.example", zerolog.Nop())
	d.BaseDelay = time.Millisecond
	d.MaxDelay = 2 * time.Millisecond
	d.sleep = func(context.Context, time.Duration) {}
	return d
}

func testEvent(recipients ...Recipient) *Event {
	return &Event{
		Kind: KindPriceDrop,
		Product: &domain.Product{
			ID: 1, Name: "Widget", CurrentPrice: 700,
			HighestPrice: 1000, LowestPrice: 700,
			AffiliateLink: "https://www.amazon.in/dp/B0ABCD1234",
		},
		PrevPrice:  1000,
		NewPrice:   700,
		Recipients: recipients,
	}
}

// ---------- Dispatch ----------

func TestDispatch_AllSucceed(t *testing.T) {
	chat := newScriptedChat()
	d := testDispatcher(chat)

	m := d.Dispatch(context.Background(), testEvent(
		Recipient{ChatID: 10, TrackingID: 100},
		Recipient{ChatID: 11, TrackingID: 101},
	))

	if m.Total != 2 || m.Succeeded != 2 || m.Failed != 0 {
		t.Fatalf("metrics: %+v", m)
	}
	if len(m.DeliveredTrackings) != 2 {
		t.Fatalf("want both edges reported delivered, got %v", m.DeliveredTrackings)
	}
}

func TestDispatch_RetriesTransientThenSucceeds(t *testing.T) {
	chat := newScriptedChat()
	chat.failures[10] = 2 // two transient failures, third attempt succeeds
	d := testDispatcher(chat)

	m := d.Dispatch(context.Background(), testEvent(Recipient{ChatID: 10, TrackingID: 100}))

	if m.Succeeded != 1 || m.Failed != 0 {
		t.Fatalf("metrics: %+v", m)
	}
	if chat.calls[10] != 3 {
		t.Fatalf("want 3 attempts, got %d", chat.calls[10])
	}
}

func TestDispatch_PermanentErrorNotRetried(t *testing.T) {
	chat := newScriptedChat()
	chat.permanent[10] = true
	d := testDispatcher(chat)

	m := d.Dispatch(context.Background(), testEvent(
		Recipient{ChatID: 10, TrackingID: 100},
		Recipient{ChatID: 11, TrackingID: 101},
	))

	if chat.calls[10] != 1 {
		t.Fatalf("permanent failure must not be retried, got %d attempts", chat.calls[10])
	}
	if m.Succeeded != 1 || m.Failed != 1 {
		t.Fatalf("metrics: %+v", m)
	}
	if len(m.Errors) != 1 {
		t.Fatalf("want 1 recorded error, got %v", m.Errors)
	}
	// The failed edge must not be reported as delivered.
	for _, id := range m.DeliveredTrackings {
		if id == 100 {
			t.Fatal("failed delivery reported in DeliveredTrackings")
		}
	}
}

func TestDispatch_ExhaustedRetriesCountAsFailed(t *testing.T) {
	chat := newScriptedChat()
	chat.failures[10] = 99
	d := testDispatcher(chat)

	m := d.Dispatch(context.Background(), testEvent(Recipient{ChatID: 10, TrackingID: 100}))

	if chat.calls[10] != d.MaxAttempts {
		t.Fatalf("want %d attempts, got %d", d.MaxAttempts, chat.calls[10])
	}
	if m.Failed != 1 || m.Succeeded != 0 {
		t.Fatalf("metrics: %+v", m)
	}
}

func TestDispatch_BatchesWithPause(t *testing.T) {
	chat := newScriptedChat()
	d := testDispatcher(chat)
	d.BatchSize = 2
	var pauses int
	d.sleep = func(context.Context, time.Duration) { pauses++ }

	var recipients []Recipient
	for i := int64(0); i < 5; i++ {
		recipients = append(recipients, Recipient{ChatID: 100 + i, TrackingID: uint(i)})
	}
	m := d.Dispatch(context.Background(), testEvent(recipients...))

	if m.Succeeded != 5 {
		t.Fatalf("metrics: %+v", m)
	}
	// Three batches (2+2+1) mean two inter-batch pauses.
	if pauses != 2 {
		t.Fatalf("want 2 pauses, got %d", pauses)
	}
}

func TestDispatch_ContextCancelStopsEarly(t *testing.T) {
	chat := newScriptedChat()
	d := testDispatcher(chat)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := d.Dispatch(ctx, testEvent(
		Recipient{ChatID: 10, TrackingID: 100},
		Recipient{ChatID: 11, TrackingID: 101},
	))

	if m.Succeeded != 0 || m.Failed != m.Total {
		t.Fatalf("cancelled dispatch must fail the remainder: %+v", m)
	}
}

func TestDispatch_EmailBestEffort(t *testing.T) {
	chat := newScriptedChat()
	email := &recordingEmail{}
	d := testDispatcher(chat)
	d.Email = email

	d.Dispatch(context.Background(), testEvent(
		Recipient{ChatID: 10, TrackingID: 100, Email: "a@example.com"},
		Recipient{ChatID: 11, TrackingID: 101}, // no email address
	))

	if len(email.to) != 1 || email.to[0] != "a@example.com" {
		t.Fatalf("want one email to a@example.com, got %v", email.to)
	}
}

// ---------- rendering ----------

func TestRenderChat_ThresholdMessageAndButtons(t *testing.T) {
	ev := testEvent(Recipient{ChatID: 10, TrackingID: 100})
	th := 750.0
	ev.Threshold = &th

	text, buttons := RenderChat(ev, "https://pricewatch.example")
	if !strings.Contains(text, "Target price reached") {
		t.Fatalf("threshold message missing marker: %q", text)
	}
	if !strings.Contains(text, "₹750") {
		t.Fatalf("threshold value missing: %q", text)
	}

	var hasStop, hasBuy bool
	for _, row := range buttons {
		for _, b := range row {
			if b.Data == "stop_1" {
				hasStop = true
			}
			if b.URL == ev.Product.AffiliateLink {
				hasBuy = true
			}
		}
	}
	if !hasStop || !hasBuy {
		t.Fatalf("missing actions: stop=%v buy=%v", hasStop, hasBuy)
	}
}

func TestRenderChat_EscapesProductName(t *testing.T) {
	ev := testEvent(Recipient{ChatID: 10})
	ev.Product.Name = `Widget <b>"XL"</b> & more`

	text, _ := RenderChat(ev, "https://pricewatch.example")
	if strings.Contains(text, `<b>"XL"`) {
		t.Fatalf("product name not escaped: %q", text)
	}
}

func TestPermanent_Unwraps(t *testing.T) {
	base := errors.New("bad chat id")
	err := Permanent(base)
	if !IsPermanent(err) {
		t.Fatal("wrapped error must report permanent")
	}
	if !errors.Is(err, base) {
		t.Fatal("wrapped error must unwrap to the cause")
	}
	if IsPermanent(base) {
		t.Fatal("plain error must not report permanent")
	}
}
