package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/pricewatch/go-tracker-backend/internal/notify"
)

// Channel delivers messages through the Telegram Bot API. It implements
// notify.ChatChannel for the dispatcher and the Sender contract used by the
// conversation handler.
type Channel struct {
	bot *tgbotapi.BotAPI
}

// NewChannel authenticates the bot token and returns the channel.
func NewChannel(token string) (*Channel, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return &Channel{bot: bot}, nil
}

// SendMessage implements notify.ChatChannel. Client-side rejections (bad
// chat id, blocked bot) are wrapped as permanent so the dispatcher does not
// retry them.
func (c *Channel) SendMessage(ctx context.Context, chatID int64, text string, buttons [][]notify.Button) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if kb, ok := keyboard(buttons); ok {
		msg.ReplyMarkup = kb
	}
	_, err := c.bot.Send(msg)
	return classify(err)
}

// SendPhoto sends a local image with a caption and optional buttons.
func (c *Channel) SendPhoto(ctx context.Context, chatID int64, path, caption string, buttons [][]notify.Button) error {
	msg := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
	msg.Caption = caption
	msg.ParseMode = tgbotapi.ModeHTML
	if kb, ok := keyboard(buttons); ok {
		msg.ReplyMarkup = kb
	}
	_, err := c.bot.Send(msg)
	return classify(err)
}

// AnswerCallback acknowledges an inline-button press.
func (c *Channel) AnswerCallback(ctx context.Context, callbackID, text string) error {
	_, err := c.bot.Request(tgbotapi.NewCallback(callbackID, text))
	return classify(err)
}

// keyboard converts the channel-neutral button grid into a Telegram inline
// keyboard. Rows with no valid buttons are dropped.
func keyboard(buttons [][]notify.Button) (tgbotapi.InlineKeyboardMarkup, bool) {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, row := range buttons {
		var r []tgbotapi.InlineKeyboardButton
		for _, b := range row {
			switch {
			case b.URL != "":
				r = append(r, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			case b.Data != "":
				r = append(r, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
		}
		if len(r) > 0 {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

// classify wraps Telegram 4xx rejections as permanent delivery failures.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) &&
		tgErr.Code >= http.StatusBadRequest && tgErr.Code < http.StatusInternalServerError &&
		tgErr.Code != http.StatusTooManyRequests {
		return notify.Permanent(err)
	}
	return err
}
