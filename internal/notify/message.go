package notify

import (
	"fmt"
	"html"
	"strings"
)

// Button is one inline action on a chat message. Exactly one of URL and Data
// is set: URL opens a link, Data round-trips through a callback query.
type Button struct {
	Text string
	URL  string
	Data string
}

// RenderChat builds the chat-channel text (HTML) and inline actions for an
// event. baseURL is the public site prefix for history and deals links.
func RenderChat(ev *Event, baseURL string) (string, [][]Button) {
	p := ev.Product
	name := html.EscapeString(trim(p.Name, 120))

	var b strings.Builder
	switch ev.Kind {
	case KindPriceDrop:
		if ev.Threshold != nil {
			fmt.Fprintf(&b, "🎯 <b>Target price reached!</b>\n\n%s\n", name)
			fmt.Fprintf(&b, "Your target: ₹%.0f\n", *ev.Threshold)
		} else {
			fmt.Fprintf(&b, "📉 <b>Price dropped!</b>\n\n%s\n", name)
		}
		fmt.Fprintf(&b, "Was ₹%.0f, now <b>₹%.0f</b> (%.1f%% off)\n", ev.PrevPrice, ev.NewPrice, dropPercent(ev.PrevPrice, ev.NewPrice))
	case KindPriceIncrease:
		fmt.Fprintf(&b, "📈 <b>Price went up</b>\n\n%s\n", name)
		fmt.Fprintf(&b, "Was ₹%.0f, now <b>₹%.0f</b>\n", ev.PrevPrice, ev.NewPrice)
	case KindLowStock:
		fmt.Fprintf(&b, "⚠️ <b>Almost gone!</b>\n\n%s\n", name)
		fmt.Fprintf(&b, "Only %d left in stock at ₹%.0f\n", ev.Quantity, p.CurrentPrice)
	case KindOutOfStock:
		fmt.Fprintf(&b, "🚫 <b>Out of stock</b>\n\n%s\n", name)
		b.WriteString("We'll let you know the moment it is back.\n")
	case KindInStock:
		fmt.Fprintf(&b, "✅ <b>Back in stock!</b>\n\n%s\n", name)
		fmt.Fprintf(&b, "Available now at ₹%.0f\n", p.CurrentPrice)
	}
	fmt.Fprintf(&b, "\nLowest seen: ₹%.0f · Highest seen: ₹%.0f", p.LowestPrice, p.HighestPrice)

	buttons := [][]Button{
		{
			{Text: "🛒 Buy now", URL: p.AffiliateLink},
			{Text: "🔕 Stop tracking", Data: fmt.Sprintf("stop_%d", p.ID)},
		},
		{
			{Text: "📊 Price history", URL: historyURL(baseURL, p.HistoryURL, p.ID)},
			{Text: "🔥 More deals", URL: baseURL + "/deals"},
		},
	}
	return b.String(), buttons
}

// RenderEmail builds the email subject and plain-text body for an event.
func RenderEmail(ev *Event) (subject, body string) {
	p := ev.Product
	name := trim(p.Name, 80)
	switch ev.Kind {
	case KindPriceDrop:
		subject = fmt.Sprintf("Price drop: %s now ₹%.0f", name, ev.NewPrice)
		body = fmt.Sprintf("%s dropped from ₹%.0f to ₹%.0f.\n\nBuy: %s\n", p.Name, ev.PrevPrice, ev.NewPrice, p.AffiliateLink)
	case KindPriceIncrease:
		subject = fmt.Sprintf("Price increase: %s now ₹%.0f", name, ev.NewPrice)
		body = fmt.Sprintf("%s went up from ₹%.0f to ₹%.0f.\n", p.Name, ev.PrevPrice, ev.NewPrice)
	case KindLowStock:
		subject = fmt.Sprintf("Low stock: %s (%d left)", name, ev.Quantity)
		body = fmt.Sprintf("Only %d units of %s left at ₹%.0f.\n\nBuy: %s\n", ev.Quantity, p.Name, p.CurrentPrice, p.AffiliateLink)
	case KindOutOfStock:
		subject = fmt.Sprintf("Out of stock: %s", name)
		body = fmt.Sprintf("%s is currently out of stock. We'll notify you when it returns.\n", p.Name)
	case KindInStock:
		subject = fmt.Sprintf("Back in stock: %s", name)
		body = fmt.Sprintf("%s is back in stock at ₹%.0f.\n\nBuy: %s\n", p.Name, p.CurrentPrice, p.AffiliateLink)
	}
	return subject, body
}

func dropPercent(prev, now float64) float64 {
	if prev <= 0 {
		return 0
	}
	return (prev - now) / prev * 100
}

func historyURL(baseURL, canonical string, productID uint) string {
	if canonical != "" {
		return canonical
	}
	return fmt.Sprintf("%s/products/%d/history", baseURL, productID)
}

func trim(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
