// Package chat implements the conversational bot: webhook payload decoding,
// the Telegram delivery channel, and the command/threshold state machine that
// turns inbound messages into tracking operations.
package chat

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrUnknownUpdate is returned for webhook payloads that are neither a
// message nor a callback query.
var ErrUnknownUpdate = errors.New("unsupported update payload")

// Update is the tagged union of inbound webhook payloads. Exactly one field
// is non-nil; the decoder rejects everything else so downstream code can
// match exhaustively instead of probing raw JSON.
type Update struct {
	Message  *Message
	Callback *Callback
}

// Message is an inbound chat message.
type Message struct {
	ChatID      int64
	UserID      int64
	DisplayName string
	Text        string
}

// Callback is an inbound inline-button press.
type Callback struct {
	ID          string
	ChatID      int64
	UserID      int64
	DisplayName string
	Data        string
}

// Wire shapes for the subset of the Telegram update object we consume.
type (
	wireUser struct {
		ID        int64  `json:"id"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Username  string `json:"username"`
	}
	wireChat struct {
		ID int64 `json:"id"`
	}
	wireMessage struct {
		MessageID int64     `json:"message_id"`
		From      *wireUser `json:"from"`
		Chat      wireChat  `json:"chat"`
		Text      string    `json:"text"`
	}
	wireCallback struct {
		ID      string       `json:"id"`
		From    *wireUser    `json:"from"`
		Message *wireMessage `json:"message"`
		Data    string       `json:"data"`
	}
	wireUpdate struct {
		UpdateID      int64         `json:"update_id"`
		Message       *wireMessage  `json:"message"`
		CallbackQuery *wireCallback `json:"callback_query"`
	}
)

// ParseUpdate decodes a webhook body into the tagged Update union. Decoding
// happens once at the boundary; malformed or unsupported payloads fail here.
func ParseUpdate(body []byte) (*Update, error) {
	var w wireUpdate
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, err
	}

	switch {
	case w.Message != nil && w.Message.From != nil:
		return &Update{Message: &Message{
			ChatID:      w.Message.Chat.ID,
			UserID:      w.Message.From.ID,
			DisplayName: displayName(w.Message.From),
			Text:        strings.TrimSpace(w.Message.Text),
		}}, nil
	case w.CallbackQuery != nil && w.CallbackQuery.From != nil:
		cb := &Callback{
			ID:          w.CallbackQuery.ID,
			UserID:      w.CallbackQuery.From.ID,
			DisplayName: displayName(w.CallbackQuery.From),
			Data:        w.CallbackQuery.Data,
		}
		if w.CallbackQuery.Message != nil {
			cb.ChatID = w.CallbackQuery.Message.Chat.ID
		} else {
			cb.ChatID = w.CallbackQuery.From.ID
		}
		return cb.wrap(), nil
	default:
		return nil, ErrUnknownUpdate
	}
}

func (c *Callback) wrap() *Update { return &Update{Callback: c} }

func displayName(u *wireUser) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}
