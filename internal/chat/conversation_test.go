package chat

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pricewatch/go-tracker-backend/internal/domain"
	"github.com/pricewatch/go-tracker-backend/internal/images"
	"github.com/pricewatch/go-tracker-backend/internal/market"
	"github.com/pricewatch/go-tracker-backend/internal/notify"
	"github.com/pricewatch/go-tracker-backend/internal/ratelimit"
	"github.com/pricewatch/go-tracker-backend/internal/repo"
	"github.com/pricewatch/go-tracker-backend/internal/resolver"
	"github.com/pricewatch/go-tracker-backend/internal/services"
)

// ---------- fixtures ----------

type sentMessage struct {
	ChatID  int64
	Text    string
	Buttons [][]notify.Button
}

type fakeSender struct {
	sent    []sentMessage
	answers []string
}

func (f *fakeSender) SendMessage(_ context.Context, chatID int64, text string, buttons [][]notify.Button) error {
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text, Buttons: buttons})
	return nil
}

func (f *fakeSender) AnswerCallback(_ context.Context, _, text string) error {
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeSender) last(t *testing.T) sentMessage {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("no message sent")
	}
	return f.sent[len(f.sent)-1]
}

type fakeResolver struct {
	byURL map[string]resolver.Identity
	err   error
}

func (f *fakeResolver) Resolve(_ context.Context, rawURL string) (resolver.Identity, error) {
	if f.err != nil {
		return resolver.Identity{}, f.err
	}
	id, ok := f.byURL[rawURL]
	if !ok {
		return resolver.Identity{}, resolver.ErrIDNotFound
	}
	return id, nil
}

type fakeMarket struct {
	snaps map[string]*market.Snapshot
	err   error
}

func (f *fakeMarket) FetchProduct(_ context.Context, marketplace, productID string) (*market.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.snaps[marketplace+"/"+productID]
	if !ok {
		return nil, market.ErrNotFound
	}
	return s, nil
}

func (f *fakeMarket) FetchProducts(_ context.Context, marketplace string, ids []string) (map[string]*market.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]*market.Snapshot, len(ids))
	for _, id := range ids {
		if s, ok := f.snaps[marketplace+"/"+id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

const widgetURL = "https://www.amazon.in/dp/B0ABCD1234"

func newConversation(t *testing.T) (*Conversation, *fakeSender, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:chat_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}

	tracker := &services.TrackingService{
		DB: db,
		Resolver: &fakeResolver{byURL: map[string]resolver.Identity{
			widgetURL: {Marketplace: resolver.Amazon, ProductID: "B0ABCD1234"},
		}},
		Market: &fakeMarket{snaps: map[string]*market.Snapshot{
			"amazon/B0ABCD1234": {
				Title:         "Acme Widget XL",
				CurrentPrice:  999,
				StockStatus:   domain.StockIn,
				StockQuantity: 12,
				Rating:        4.3,
				RatingCount:   210,
			},
		}},
		Images:     images.Noop{},
		AddLimit:   &ratelimit.DurableLog{DB: db, Action: "track", Limit: 10, Span: time.Hour},
		MaxTracked: 50,
	}

	sender := &fakeSender{}
	conv := &Conversation{
		DB:      db,
		Tracker: tracker,
		Sender:  sender,
		Log:     zerolog.Nop(),
		BaseURL: "https://pricewatch.example",
	}
	return conv, sender, db
}

func messageUpdate(userID, chatID int64, text string) *Update {
	return &Update{Message: &Message{ChatID: chatID, UserID: userID, DisplayName: "Asha", Text: text}}
}

func callbackUpdate(userID, chatID int64, data string) *Update {
	return &Update{Callback: &Callback{ID: "cb-1", ChatID: chatID, UserID: userID, DisplayName: "Asha", Data: data}}
}

func mustTrack(t *testing.T, conv *Conversation, userID int64) {
	t.Helper()
	if err := conv.HandleUpdate(context.Background(), messageUpdate(userID, userID, widgetURL)); err != nil {
		t.Fatal(err)
	}
}

// ---------- messages ----------

func TestHandleUpdate_Help(t *testing.T) {
	conv, sender, _ := newConversation(t)

	if err := conv.HandleUpdate(context.Background(), messageUpdate(42, 42, "/help")); err != nil {
		t.Fatal(err)
	}
	if got := sender.last(t).Text; !strings.Contains(got, "/track") || !strings.Contains(got, "/price") {
		t.Fatalf("help text incomplete: %q", got)
	}
}

func TestHandleUpdate_TrackURL(t *testing.T) {
	conv, sender, db := newConversation(t)

	mustTrack(t, conv, 42)

	msg := sender.last(t)
	if !strings.Contains(msg.Text, "Now tracking") || !strings.Contains(msg.Text, "Acme Widget XL") {
		t.Fatalf("card missing: %q", msg.Text)
	}
	if len(msg.Buttons) == 0 {
		t.Fatal("product card must carry action buttons")
	}

	// A real edge was created, not just a reply.
	if _, err := repo.GetProduct(context.Background(), db, "amazon", "B0ABCD1234"); err != nil {
		t.Fatalf("product not persisted: %v", err)
	}
}

func TestHandleUpdate_TrackCommandWithArgument(t *testing.T) {
	conv, sender, _ := newConversation(t)

	if err := conv.HandleUpdate(context.Background(), messageUpdate(42, 42, "/track "+widgetURL)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sender.last(t).Text, "Now tracking") {
		t.Fatalf("got %q", sender.last(t).Text)
	}
}

func TestHandleUpdate_CommandWithBotSuffix(t *testing.T) {
	conv, sender, _ := newConversation(t)

	if err := conv.HandleUpdate(context.Background(), messageUpdate(42, 42, "/help@pricewatch_bot")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sender.last(t).Text, "/track") {
		t.Fatalf("group-chat command suffix not stripped: %q", sender.last(t).Text)
	}
}

func TestHandleUpdate_DuplicateTrackExplained(t *testing.T) {
	conv, sender, _ := newConversation(t)

	mustTrack(t, conv, 42)
	mustTrack(t, conv, 42)

	if got := sender.last(t).Text; !strings.Contains(got, "already tracking") {
		t.Fatalf("want duplicate explanation, got %q", got)
	}
}

func TestHandleUpdate_UnsupportedMarketplaceExplained(t *testing.T) {
	conv, sender, _ := newConversation(t)
	conv.Tracker.Resolver = &fakeResolver{err: resolver.ErrUnsupportedMarketplace}

	if err := conv.HandleUpdate(context.Background(), messageUpdate(42, 42, "https://www.ebay.com/itm/123")); err != nil {
		t.Fatal(err)
	}
	if got := sender.last(t).Text; !strings.Contains(got, "Amazon and Flipkart") {
		t.Fatalf("got %q", got)
	}
}

func TestHandleUpdate_PlainTextGetsHint(t *testing.T) {
	conv, sender, _ := newConversation(t)

	if err := conv.HandleUpdate(context.Background(), messageUpdate(42, 42, "hello there")); err != nil {
		t.Fatal(err)
	}
	if got := sender.last(t).Text; !strings.Contains(got, "/help") {
		t.Fatalf("want onboarding hint, got %q", got)
	}
}

func TestHandleUpdate_List(t *testing.T) {
	conv, sender, _ := newConversation(t)

	mustTrack(t, conv, 42)
	if err := conv.HandleUpdate(context.Background(), messageUpdate(42, 42, "/list")); err != nil {
		t.Fatal(err)
	}

	msg := sender.last(t)
	if !strings.Contains(msg.Text, "Acme Widget XL") {
		t.Fatalf("list missing product: %q", msg.Text)
	}
	if len(msg.Buttons) != 1 || msg.Buttons[0][0].Data != "stop_1" {
		t.Fatalf("want a stop button per item, got %+v", msg.Buttons)
	}
}

func TestHandleUpdate_ListEmpty(t *testing.T) {
	conv, sender, _ := newConversation(t)

	if err := conv.HandleUpdate(context.Background(), messageUpdate(42, 42, "/list")); err != nil {
		t.Fatal(err)
	}
	if got := sender.last(t).Text; !strings.Contains(got, "not tracking anything yet") {
		t.Fatalf("got %q", got)
	}
}

func TestHandleUpdate_EmailCommand(t *testing.T) {
	conv, sender, db := newConversation(t)
	ctx := context.Background()

	if err := conv.HandleUpdate(ctx, messageUpdate(42, 42, "/email asha@example.com")); err != nil {
		t.Fatal(err)
	}
	if got := sender.last(t).Text; !strings.Contains(got, "asha@example.com") {
		t.Fatalf("want confirmation, got %q", got)
	}

	u, err := repo.UpsertUser(ctx, db, 42, "Asha")
	if err != nil {
		t.Fatal(err)
	}
	if u.Email != "asha@example.com" {
		t.Fatalf("email not stored: %q", u.Email)
	}
}

func TestHandleUpdate_EmailCommandRejectsGarbage(t *testing.T) {
	conv, sender, _ := newConversation(t)

	if err := conv.HandleUpdate(context.Background(), messageUpdate(42, 42, "/email not-an-address")); err != nil {
		t.Fatal(err)
	}
	if got := sender.last(t).Text; !strings.Contains(got, "doesn't look like an email") {
		t.Fatalf("got %q", got)
	}
}

func TestHandleUpdate_EmailCommandUsage(t *testing.T) {
	conv, sender, _ := newConversation(t)

	if err := conv.HandleUpdate(context.Background(), messageUpdate(42, 42, "/email")); err != nil {
		t.Fatal(err)
	}
	if got := sender.last(t).Text; !strings.Contains(got, "Usage") {
		t.Fatalf("got %q", got)
	}
}

// ---------- threshold flow ----------

func TestThresholdFlow_PromptThenNumber(t *testing.T) {
	conv, sender, db := newConversation(t)
	ctx := context.Background()

	mustTrack(t, conv, 42)

	// /price 1 prompts and parks the conversation in the awaiting state.
	if err := conv.HandleUpdate(ctx, messageUpdate(42, 42, "/price 1")); err != nil {
		t.Fatal(err)
	}
	if got := sender.last(t).Text; !strings.Contains(got, "What price should I alert you at") {
		t.Fatalf("want prompt, got %q", got)
	}
	u, err := repo.UpsertUser(ctx, db, 42, "Asha")
	if err != nil {
		t.Fatal(err)
	}
	if u.ConvState != domain.ConvAwaitingThreshold {
		t.Fatalf("want awaiting state, got %q", u.ConvState)
	}

	// A bare number now completes the flow.
	if err := conv.HandleUpdate(ctx, messageUpdate(42, 42, "₹950")); err != nil {
		t.Fatal(err)
	}
	if got := sender.last(t).Text; !strings.Contains(got, "₹950") {
		t.Fatalf("want confirmation, got %q", got)
	}

	edge, err := repo.GetTracking(ctx, db, 42, 1)
	if err != nil {
		t.Fatal(err)
	}
	if edge.PriceThreshold == nil || *edge.PriceThreshold != 950 {
		t.Fatalf("threshold not stored: %v", edge.PriceThreshold)
	}

	u, _ = repo.UpsertUser(ctx, db, 42, "Asha")
	if u.ConvState != domain.ConvIdle || u.ConvProductID != nil {
		t.Fatalf("state not reset: %q %v", u.ConvState, u.ConvProductID)
	}
}

func TestThresholdFlow_OutOfRangeKeepsPrompt(t *testing.T) {
	conv, sender, db := newConversation(t)
	ctx := context.Background()

	mustTrack(t, conv, 42)
	if err := conv.HandleUpdate(ctx, messageUpdate(42, 42, "/price 1")); err != nil {
		t.Fatal(err)
	}

	// Way below the young-listing floor of 0.9 * current price.
	if err := conv.HandleUpdate(ctx, messageUpdate(42, 42, "100")); err != nil {
		t.Fatal(err)
	}
	if got := sender.last(t).Text; !strings.Contains(got, "outside the sensible range") {
		t.Fatalf("got %q", got)
	}

	// Still awaiting, so a corrected number goes through without re-prompting.
	u, _ := repo.UpsertUser(ctx, db, 42, "Asha")
	if u.ConvState != domain.ConvAwaitingThreshold {
		t.Fatalf("range miss must keep the prompt, got %q", u.ConvState)
	}
	if err := conv.HandleUpdate(ctx, messageUpdate(42, 42, "950")); err != nil {
		t.Fatal(err)
	}
	edge, _ := repo.GetTracking(ctx, db, 42, 1)
	if edge.PriceThreshold == nil || *edge.PriceThreshold != 950 {
		t.Fatalf("corrected threshold not stored: %v", edge.PriceThreshold)
	}
}

func TestThresholdFlow_TooCheapListingExplained(t *testing.T) {
	conv, sender, _ := newConversation(t)
	ctx := context.Background()

	conv.Tracker.Market.(*fakeMarket).snaps["amazon/B0ABCD1234"].CurrentPrice = 1
	mustTrack(t, conv, 42)

	// The prompt never opens; the user gets an explanation instead of a
	// range that ends below its start.
	if err := conv.HandleUpdate(ctx, messageUpdate(42, 42, "/price 1")); err != nil {
		t.Fatal(err)
	}
	if got := sender.last(t).Text; !strings.Contains(got, "too cheap") {
		t.Fatalf("got %q", got)
	}
}

func TestThresholdFlow_NumberWithoutPromptGetsHint(t *testing.T) {
	conv, sender, _ := newConversation(t)

	mustTrack(t, conv, 42)
	if err := conv.HandleUpdate(context.Background(), messageUpdate(42, 42, "950")); err != nil {
		t.Fatal(err)
	}
	if got := sender.last(t).Text; !strings.Contains(got, "/price") {
		t.Fatalf("stray number must point at /price, got %q", got)
	}
}

func TestPriceCommand_DirectValue(t *testing.T) {
	conv, _, db := newConversation(t)
	ctx := context.Background()

	mustTrack(t, conv, 42)
	if err := conv.HandleUpdate(ctx, messageUpdate(42, 42, "/price 1 950")); err != nil {
		t.Fatal(err)
	}

	edge, err := repo.GetTracking(ctx, db, 42, 1)
	if err != nil {
		t.Fatal(err)
	}
	if edge.PriceThreshold == nil || *edge.PriceThreshold != 950 {
		t.Fatalf("direct threshold not stored: %v", edge.PriceThreshold)
	}
}

func TestPriceCommand_NoArgsListsWithAlertButtons(t *testing.T) {
	conv, sender, _ := newConversation(t)

	mustTrack(t, conv, 42)
	if err := conv.HandleUpdate(context.Background(), messageUpdate(42, 42, "/price")); err != nil {
		t.Fatal(err)
	}

	msg := sender.last(t)
	if len(msg.Buttons) != 1 || msg.Buttons[0][0].Data != "alert_1" {
		t.Fatalf("want alert buttons, got %+v", msg.Buttons)
	}
}

// ---------- callbacks ----------

func TestCallback_StopRemovesTracking(t *testing.T) {
	conv, sender, db := newConversation(t)
	ctx := context.Background()

	mustTrack(t, conv, 42)
	if err := conv.HandleUpdate(ctx, callbackUpdate(42, 42, "stop_1")); err != nil {
		t.Fatal(err)
	}

	if _, err := repo.GetTracking(ctx, db, 42, 1); err == nil {
		t.Fatal("edge must be gone after stop")
	}
	if got := sender.last(t).Text; !strings.Contains(got, "Stopped") {
		t.Fatalf("got %q", got)
	}
}

func TestCallback_StopTwiceAnswersGracefully(t *testing.T) {
	conv, sender, _ := newConversation(t)
	ctx := context.Background()

	mustTrack(t, conv, 42)
	if err := conv.HandleUpdate(ctx, callbackUpdate(42, 42, "stop_1")); err != nil {
		t.Fatal(err)
	}
	if err := conv.HandleUpdate(ctx, callbackUpdate(42, 42, "stop_1")); err != nil {
		t.Fatal(err)
	}
	if got := sender.answers[len(sender.answers)-1]; !strings.Contains(got, "already stopped") {
		t.Fatalf("got %q", got)
	}
}

func TestCallback_AlertPromptsThreshold(t *testing.T) {
	conv, sender, db := newConversation(t)
	ctx := context.Background()

	mustTrack(t, conv, 42)
	if err := conv.HandleUpdate(ctx, callbackUpdate(42, 42, "alert_1")); err != nil {
		t.Fatal(err)
	}

	if got := sender.last(t).Text; !strings.Contains(got, "What price should I alert you at") {
		t.Fatalf("got %q", got)
	}
	u, _ := repo.UpsertUser(ctx, db, 42, "Asha")
	if u.ConvState != domain.ConvAwaitingThreshold || u.ConvProductID == nil || *u.ConvProductID != 1 {
		t.Fatalf("state: %q %v", u.ConvState, u.ConvProductID)
	}
}

func TestCallback_UnknownDataAnswered(t *testing.T) {
	conv, sender, _ := newConversation(t)

	if err := conv.HandleUpdate(context.Background(), callbackUpdate(42, 42, "bogus_1")); err != nil {
		t.Fatal(err)
	}
	if len(sender.answers) != 1 {
		t.Fatalf("unknown callback must still be answered, got %v", sender.answers)
	}
}

// ---------- helpers ----------

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"950", 950, true},
		{"₹950", 950, true},
		{"1,299.50", 1299.50, true},
		{" 42 ", 42, true},
		{"-5", 0, false},
		{"0", 0, false},
		{"cheap", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseAmount(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("parseAmount(%q) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestLooksLikeURL(t *testing.T) {
	for _, s := range []string{widgetURL, "www.flipkart.com/x/p/y?pid=ITM123", "https://amzn.to/abc", "fkrt.cc/xyz"} {
		if !looksLikeURL(s) {
			t.Errorf("looksLikeURL(%q) = false", s)
		}
	}
	for _, s := range []string{"950", "/help", "hello there"} {
		if looksLikeURL(s) {
			t.Errorf("looksLikeURL(%q) = true", s)
		}
	}
}
