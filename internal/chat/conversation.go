package chat

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/pricewatch/go-tracker-backend/internal/domain"
	"github.com/pricewatch/go-tracker-backend/internal/market"
	"github.com/pricewatch/go-tracker-backend/internal/notify"
	"github.com/pricewatch/go-tracker-backend/internal/repo"
	"github.com/pricewatch/go-tracker-backend/internal/resolver"
	"github.com/pricewatch/go-tracker-backend/internal/services"
)

// Sender is the outbound side of a conversation. Satisfied by *Channel;
// tests substitute a fake.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, buttons [][]notify.Button) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

const (
	defaultListPageSize = 10
	recentAlertWindow   = 5
	dealsPageSize       = 5
)

// Conversation routes decoded updates to tracking operations and renders the
// replies. It owns the awaiting-threshold state transition: a numeric message
// only means something when the user's stored conversation state says a
// threshold prompt is pending.
type Conversation struct {
	DB      *gorm.DB
	Tracker *services.TrackingService
	Sender  Sender
	Log     zerolog.Logger

	// BaseURL is the public site prefix for history and deals links.
	BaseURL string

	// ListPageSize bounds /list output; zero means the default.
	ListPageSize int
}

// HandleUpdate processes one decoded update. The returned error reports
// infrastructure failures only; user mistakes are answered in-band.
func (c *Conversation) HandleUpdate(ctx context.Context, u *Update) error {
	switch {
	case u.Message != nil:
		return c.handleMessage(ctx, u.Message)
	case u.Callback != nil:
		return c.handleCallback(ctx, u.Callback)
	default:
		return ErrUnknownUpdate
	}
}

func (c *Conversation) handleMessage(ctx context.Context, m *Message) error {
	user, err := repo.UpsertUser(ctx, c.DB, m.UserID, m.DisplayName)
	if err != nil {
		return fmt.Errorf("register user: %w", err)
	}

	text := strings.TrimSpace(m.Text)
	switch {
	case strings.HasPrefix(text, "/"):
		return c.handleCommand(ctx, m, text)
	case looksLikeURL(text):
		return c.track(ctx, m.ChatID, m.UserID, m.DisplayName, text)
	default:
		if v, ok := parseAmount(text); ok {
			return c.handleAmount(ctx, m, user, v)
		}
		return c.reply(ctx, m.ChatID,
			"Send me a product link from Amazon or Flipkart and I'll start tracking its price. Try /help for everything I can do.")
	}
}

func (c *Conversation) handleCommand(ctx context.Context, m *Message, text string) error {
	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])
	// Strip the @botname suffix Telegram appends in group chats.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "/start", "/help":
		return c.reply(ctx, m.ChatID, helpText)
	case "/track":
		if len(args) == 0 {
			return c.reply(ctx, m.ChatID, "Usage: /track &lt;product link&gt;")
		}
		return c.track(ctx, m.ChatID, m.UserID, m.DisplayName, args[0])
	case "/list", "/stop":
		return c.sendList(ctx, m.ChatID, m.UserID)
	case "/price":
		return c.handlePriceCommand(ctx, m, args)
	case "/email":
		return c.handleEmailCommand(ctx, m, args)
	case "/deal", "/deals":
		return c.sendDeals(ctx, m.ChatID)
	default:
		return c.reply(ctx, m.ChatID, "I don't know that command. Try /help.")
	}
}

// handlePriceCommand drives the price-alert flow:
//
//	/price          list the most recent items with an alert button each
//	/price N        prompt for a threshold on the N-th most recent item
//	/price N V      set threshold V on the N-th most recent item directly
func (c *Conversation) handlePriceCommand(ctx context.Context, m *Message, args []string) error {
	items, _, err := c.Tracker.List(ctx, m.UserID, 0, recentAlertWindow)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return c.reply(ctx, m.ChatID, "You're not tracking anything yet. Send me a product link first.")
	}

	if len(args) == 0 {
		var b strings.Builder
		b.WriteString("Pick a product to set a price alert on:\n")
		var rows [][]notify.Button
		for i, it := range items {
			fmt.Fprintf(&b, "\n%d. %s — ₹%.0f", i+1, html.EscapeString(shorten(it.Product.Name, 60)), it.Product.CurrentPrice)
			rows = append(rows, []notify.Button{{
				Text: fmt.Sprintf("🎯 %d. %s", i+1, shorten(it.Product.Name, 24)),
				Data: fmt.Sprintf("alert_%d", it.Product.ID),
			}})
		}
		return c.Sender.SendMessage(ctx, m.ChatID, b.String(), rows)
	}

	idx, err := strconv.Atoi(args[0])
	if err != nil || idx < 1 || idx > len(items) {
		return c.reply(ctx, m.ChatID, fmt.Sprintf("Pick a number between 1 and %d.", len(items)))
	}
	product := items[idx-1].Product

	if len(args) >= 2 {
		v, ok := parseAmount(args[1])
		if !ok {
			return c.reply(ctx, m.ChatID, "That doesn't look like a price. Send a plain number, like 4500.")
		}
		return c.setThreshold(ctx, m.ChatID, m.UserID, product.ID, v)
	}
	return c.promptThreshold(ctx, m.ChatID, m.UserID, &product)
}

// handleEmailCommand stores an email address so alerts reach the user's
// inbox as well as this chat.
func (c *Conversation) handleEmailCommand(ctx context.Context, m *Message, args []string) error {
	if len(args) == 0 {
		return c.reply(ctx, m.ChatID, "Usage: /email you@example.com — I'll send price alerts there too.")
	}
	err := c.Tracker.SetEmail(ctx, m.UserID, m.DisplayName, args[0])
	if errors.Is(err, services.ErrInvalidEmail) {
		return c.reply(ctx, m.ChatID, "That doesn't look like an email address. Try something like you@example.com.")
	}
	if err != nil {
		return err
	}
	return c.reply(ctx, m.ChatID, fmt.Sprintf("📧 Got it! Alerts will also go to %s.", html.EscapeString(args[0])))
}

// handleAmount interprets a bare number. It only acts when a threshold prompt
// is pending; otherwise the number is meaningless and the user gets a hint.
func (c *Conversation) handleAmount(ctx context.Context, m *Message, user *domain.User, v float64) error {
	if user.ConvState != domain.ConvAwaitingThreshold || user.ConvProductID == nil {
		return c.reply(ctx, m.ChatID,
			"Not sure what that number is for. Use /price to set a price alert on a tracked product.")
	}
	return c.setThreshold(ctx, m.ChatID, m.UserID, *user.ConvProductID, v)
}

func (c *Conversation) handleCallback(ctx context.Context, cb *Callback) error {
	if _, err := repo.UpsertUser(ctx, c.DB, cb.UserID, cb.DisplayName); err != nil {
		return fmt.Errorf("register user: %w", err)
	}

	switch {
	case strings.HasPrefix(cb.Data, "stop_"):
		id, err := parseID(cb.Data, "stop_")
		if err != nil {
			return c.answer(ctx, cb.ID, "That button has expired.")
		}
		if err := c.Tracker.Untrack(ctx, cb.UserID, id); err != nil {
			if errors.Is(err, services.ErrNotTracking) {
				return c.answer(ctx, cb.ID, "You already stopped tracking this one.")
			}
			return err
		}
		if err := c.answer(ctx, cb.ID, "Stopped tracking."); err != nil {
			c.Log.Warn().Err(err).Msg("answer callback failed")
		}
		return c.reply(ctx, cb.ChatID, "🔕 Stopped. You won't get updates for that product anymore.")

	case strings.HasPrefix(cb.Data, "alert_"):
		id, err := parseID(cb.Data, "alert_")
		if err != nil {
			return c.answer(ctx, cb.ID, "That button has expired.")
		}
		product, err := repo.GetProductByID(ctx, c.DB, id)
		if errors.Is(err, repo.ErrNotFound) {
			return c.answer(ctx, cb.ID, "That product is gone.")
		}
		if err != nil {
			return err
		}
		if err := c.answer(ctx, cb.ID, ""); err != nil {
			c.Log.Warn().Err(err).Msg("answer callback failed")
		}
		return c.promptThreshold(ctx, cb.ChatID, cb.UserID, product)

	default:
		return c.answer(ctx, cb.ID, "That button has expired.")
	}
}

// track runs the intake flow and renders either the product card or a
// plain-language explanation of why tracking failed.
func (c *Conversation) track(ctx context.Context, chatID, userID int64, displayName, rawURL string) error {
	res, err := c.Tracker.Track(ctx, userID, displayName, rawURL)
	if err != nil {
		msg, known := trackFailureMessage(err)
		if !known {
			c.Log.Error().Err(err).Int64("user_id", userID).Msg("track failed")
		}
		return c.reply(ctx, chatID, msg)
	}

	var b strings.Builder
	b.WriteString("✅ <b>Now tracking!</b>\n\n")
	writeProductCard(&b, res.Product)
	if res.TrackerCount > 1 {
		fmt.Fprintf(&b, "\n%d people are watching this product.", res.TrackerCount)
	}
	return c.Sender.SendMessage(ctx, chatID, b.String(), c.productButtons(res.Product))
}

func (c *Conversation) sendList(ctx context.Context, chatID, userID int64) error {
	size := c.ListPageSize
	if size <= 0 {
		size = defaultListPageSize
	}
	items, total, err := c.Tracker.List(ctx, userID, 0, size)
	if err != nil {
		return err
	}
	if total == 0 {
		return c.reply(ctx, chatID, "You're not tracking anything yet. Send me a product link to get started.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 <b>Your tracked products</b> (%d)\n", total)
	var rows [][]notify.Button
	for i, it := range items {
		p := it.Product
		fmt.Fprintf(&b, "\n%d. %s\n   ₹%.0f", i+1, html.EscapeString(shorten(p.Name, 60)), p.CurrentPrice)
		if p.StockStatus == domain.StockOut {
			b.WriteString(" · out of stock")
		}
		if it.Tracking.PriceThreshold != nil {
			fmt.Fprintf(&b, " · alert at ₹%.0f", *it.Tracking.PriceThreshold)
		}
		rows = append(rows, []notify.Button{{
			Text: fmt.Sprintf("🔕 %d. %s", i+1, shorten(p.Name, 24)),
			Data: fmt.Sprintf("stop_%d", p.ID),
		}})
	}
	if int64(len(items)) < total {
		fmt.Fprintf(&b, "\n\nShowing the %d most recent.", len(items))
	}
	return c.Sender.SendMessage(ctx, chatID, b.String(), rows)
}

func (c *Conversation) sendDeals(ctx context.Context, chatID int64) error {
	deals, err := repo.TopDeals(ctx, c.DB, dealsPageSize)
	if err != nil {
		return err
	}
	if len(deals) == 0 {
		return c.reply(ctx, chatID, "No standout deals right now. Check back later!")
	}

	var b strings.Builder
	b.WriteString("🔥 <b>Today's best deals</b>\n")
	var rows [][]notify.Button
	for i, p := range deals {
		off := (p.HighestPrice - p.CurrentPrice) / p.HighestPrice * 100
		fmt.Fprintf(&b, "\n%d. %s\n   ₹%.0f (%.0f%% below peak)", i+1, html.EscapeString(shorten(p.Name, 60)), p.CurrentPrice, off)
		rows = append(rows, []notify.Button{{
			Text: fmt.Sprintf("🛒 %d. %s", i+1, shorten(p.Name, 24)),
			URL:  p.AffiliateLink,
		}})
	}
	return c.Sender.SendMessage(ctx, chatID, b.String(), rows)
}

// promptThreshold moves the user into the awaiting-threshold state and asks
// for a number within the product's allowed range.
func (c *Conversation) promptThreshold(ctx context.Context, chatID, userID int64, p *domain.Product) error {
	if _, err := repo.GetTracking(ctx, c.DB, userID, p.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return c.reply(ctx, chatID, "You need to track this product before setting an alert on it.")
		}
		return err
	}

	min, max, err := c.Tracker.ThresholdBounds(ctx, p)
	if errors.Is(err, services.ErrPriceTooLow) {
		return c.reply(ctx, chatID, fmt.Sprintf(
			"At ₹%.0f this product is already too cheap for a price alert.", p.CurrentPrice))
	}
	if err != nil {
		return err
	}
	pid := p.ID
	if err := repo.SetConversationState(ctx, c.DB, userID, domain.ConvAwaitingThreshold, &pid); err != nil {
		return err
	}
	return c.reply(ctx, chatID, fmt.Sprintf(
		"🎯 What price should I alert you at for <b>%s</b>?\n\nIt's ₹%.0f right now. Send a number between ₹%.0f and ₹%.0f.",
		html.EscapeString(shorten(p.Name, 60)), p.CurrentPrice, min, max))
}

// setThreshold applies the value and always resets the conversation state on
// success or a definitive rejection, so the user never gets stuck mid-prompt.
func (c *Conversation) setThreshold(ctx context.Context, chatID, userID int64, productID uint, v float64) error {
	err := c.Tracker.SetThreshold(ctx, userID, productID, v)
	var rangeErr *services.ThresholdRangeError
	switch {
	case err == nil:
		if serr := repo.SetConversationState(ctx, c.DB, userID, domain.ConvIdle, nil); serr != nil {
			c.Log.Error().Err(serr).Int64("user_id", userID).Msg("reset conversation state failed")
		}
		return c.reply(ctx, chatID, fmt.Sprintf(
			"🎯 Done! I'll alert you the moment the price hits ₹%.0f or lower. The alert fires once and then clears itself.", v))
	case errors.As(err, &rangeErr):
		// Keep the awaiting state so the user can just send another number.
		return c.reply(ctx, chatID, fmt.Sprintf(
			"That's outside the sensible range for this product. Pick something between ₹%.0f and ₹%.0f.", rangeErr.Min, rangeErr.Max))
	case errors.Is(err, services.ErrPriceTooLow):
		c.resetState(ctx, userID)
		return c.reply(ctx, chatID, "This product is already too cheap for a price alert.")
	case errors.Is(err, services.ErrNotTracking):
		c.resetState(ctx, userID)
		return c.reply(ctx, chatID, "You're not tracking that product anymore.")
	case errors.Is(err, services.ErrProductNotFound):
		c.resetState(ctx, userID)
		return c.reply(ctx, chatID, "That product is gone.")
	default:
		return err
	}
}

func (c *Conversation) resetState(ctx context.Context, userID int64) {
	if err := repo.SetConversationState(ctx, c.DB, userID, domain.ConvIdle, nil); err != nil {
		c.Log.Error().Err(err).Int64("user_id", userID).Msg("reset conversation state failed")
	}
}

func (c *Conversation) productButtons(p *domain.Product) [][]notify.Button {
	return [][]notify.Button{
		{
			{Text: "🛒 Buy now", URL: p.AffiliateLink},
			{Text: "🎯 Price alert", Data: fmt.Sprintf("alert_%d", p.ID)},
		},
		{
			{Text: "🔕 Stop tracking", Data: fmt.Sprintf("stop_%d", p.ID)},
			{Text: "🔥 More deals", URL: c.BaseURL + "/deals"},
		},
	}
}

func (c *Conversation) reply(ctx context.Context, chatID int64, text string) error {
	return c.Sender.SendMessage(ctx, chatID, text, nil)
}

func (c *Conversation) answer(ctx context.Context, callbackID, text string) error {
	return c.Sender.AnswerCallback(ctx, callbackID, text)
}

func writeProductCard(b *strings.Builder, p *domain.Product) {
	fmt.Fprintf(b, "%s\n\n", html.EscapeString(shorten(p.Name, 120)))
	fmt.Fprintf(b, "💰 <b>₹%.0f</b>", p.CurrentPrice)
	if p.StockStatus == domain.StockOut {
		b.WriteString(" · 🚫 out of stock")
	} else if p.StockQuantity > 0 {
		fmt.Fprintf(b, " · %d in stock", p.StockQuantity)
	}
	b.WriteString("\n")
	if p.Rating > 0 {
		fmt.Fprintf(b, "⭐ %.1f (%d ratings)\n", p.Rating, p.RatingCount)
	}
	fmt.Fprintf(b, "Lowest seen: ₹%.0f · Highest seen: ₹%.0f\n", p.LowestPrice, p.HighestPrice)
	b.WriteString("\nI'll message you when the price or stock changes.")
}

// trackFailureMessage maps intake errors to user-facing text. The bool is
// false for unexpected errors, which get logged and a generic apology.
func trackFailureMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, services.ErrUserRateLimited):
		return "You're adding products a bit too fast. Wait a while and try again.", true
	case errors.Is(err, services.ErrTrackLimitReached):
		return "You've hit the limit of tracked products. Remove one with /stop before adding another.", true
	case errors.Is(err, services.ErrAlreadyTracking):
		return "You're already tracking this product. Use /list to see everything you follow.", true
	case errors.Is(err, resolver.ErrMalformedURL):
		return "That link doesn't look right. Paste the full product URL.", true
	case errors.Is(err, resolver.ErrUnsupportedMarketplace):
		return "I can only track Amazon and Flipkart products for now.", true
	case errors.Is(err, resolver.ErrIDNotFound):
		return "I couldn't find a product in that link. Open the product page and copy its URL.", true
	case errors.Is(err, market.ErrNotFound):
		return "That product doesn't seem to exist anymore.", true
	case errors.Is(err, market.ErrRateLimited), market.IsTransport(err):
		return "The marketplace isn't answering right now. Try again in a few minutes.", true
	default:
		return "Something went wrong on our side. Try again in a bit.", false
	}
}

func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "www.") || strings.Contains(s, "amzn.") || strings.Contains(s, "fkrt.")
}

func parseAmount(s string) (float64, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "₹")
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func parseID(data, prefix string) (uint, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(data, prefix), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(n), nil
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

const helpText = `👋 <b>I watch marketplace prices for you.</b>

Send me any Amazon or Flipkart product link and I'll track it, then message you when the price drops, the listing goes out of stock, or it comes back.

<b>Commands</b>
/track &lt;link&gt; — start tracking a product (or just paste the link)
/list — everything you're tracking
/stop — stop tracking a product
/price — set a one-time price alert
/email &lt;address&gt; — also get alerts by email
/deal — today's biggest price drops
/help — this message`
