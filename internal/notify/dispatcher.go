// Package notify – Dispatcher.
//
// Delivery policy: recipients are processed in fixed-size batches with a
// pause between batches so the chat API's own rate limit is never burst.
// Each chat delivery gets up to MaxAttempts tries with doubling, capped,
// jittered backoff; permanent failures (4xx-class) are never retried.
// Email is best-effort with a single attempt.
package notify

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ChatChannel delivers chat messages. Implementations wrap non-retryable
// upstream rejections with Permanent.
type ChatChannel interface {
	SendMessage(ctx context.Context, chatID int64, text string, buttons [][]Button) error
}

// EmailSender delivers one email (collaborator boundary, see mailer).
type EmailSender interface {
	Send(ctx context.Context, to, subject, body, category string) error
}

// Dispatcher fans an event out to its recipients.
type Dispatcher struct {
	Chat  ChatChannel
	Email EmailSender
	Log   zerolog.Logger

	// BaseURL prefixes history/deals links in rendered messages.
	BaseURL string

	// Batching and pacing.
	BatchSize  int
	BatchPause time.Duration
	Pacer      *rate.Limiter // optional extra pacing per delivery

	// Retry policy for chat deliveries.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// sleep is swapped in tests for a recording stub.
	sleep func(ctx context.Context, d time.Duration)
}

// NewDispatcher builds a dispatcher with the given channels and policy
// defaults (100-recipient batches, 3 attempts, 500ms base delay capped at 8s).
func NewDispatcher(chat ChatChannel, email EmailSender, baseURL string, lg zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		Chat:        chat,
		Email:       email,
		Log:         lg,
		BaseURL:     baseURL,
		BatchSize:   100,
		BatchPause:  500 * time.Millisecond,
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// Dispatch delivers ev to every recipient and returns delivery metrics. It
// never returns an error: per-recipient failures are counted, logged, and
// folded into the metrics payload.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) Metrics {
	m := Metrics{Total: len(ev.Recipients)}
	if len(ev.Recipients) == 0 || ev.Product == nil {
		return m
	}

	text, buttons := RenderChat(ev, d.BaseURL)
	subject, body := RenderEmail(ev)

	batch := d.BatchSize
	if batch < 1 {
		batch = 1
	}

	for start := 0; start < len(ev.Recipients); start += batch {
		if start > 0 && d.BatchPause > 0 {
			d.wait(ctx, d.BatchPause)
		}
		end := start + batch
		if end > len(ev.Recipients) {
			end = len(ev.Recipients)
		}
		for _, rcpt := range ev.Recipients[start:end] {
			if ctx.Err() != nil {
				m.Failed = m.Total - m.Succeeded
				m.Errors = append(m.Errors, ctx.Err().Error())
				return d.finish(ev, m)
			}
			if err := d.deliverChat(ctx, rcpt.ChatID, text, buttons); err != nil {
				m.Failed++
				m.Errors = append(m.Errors, err.Error())
				deliveriesTotal.WithLabelValues("chat", string(ev.Kind), "error").Inc()
				d.Log.Warn().Err(err).
					Int64("chat_id", rcpt.ChatID).
					Str("kind", string(ev.Kind)).
					Msg("chat delivery failed")
			} else {
				m.Succeeded++
				m.DeliveredTrackings = append(m.DeliveredTrackings, rcpt.TrackingID)
				deliveriesTotal.WithLabelValues("chat", string(ev.Kind), "ok").Inc()
			}

			if rcpt.Email != "" && d.Email != nil {
				if err := d.Email.Send(ctx, rcpt.Email, subject, body, string(ev.Kind)); err != nil {
					deliveriesTotal.WithLabelValues("email", string(ev.Kind), "error").Inc()
					d.Log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("email delivery failed")
				} else {
					deliveriesTotal.WithLabelValues("email", string(ev.Kind), "ok").Inc()
				}
			}
		}
	}
	return d.finish(ev, m)
}

func (d *Dispatcher) finish(ev *Event, m Metrics) Metrics {
	d.Log.Info().
		Str("kind", string(ev.Kind)).
		Uint("product_id", ev.Product.ID).
		Int("total", m.Total).
		Int("succeeded", m.Succeeded).
		Int("failed", m.Failed).
		Msg("event dispatched")
	return m
}

// deliverChat sends one chat message with bounded retry. Backoff doubles per
// attempt from BaseDelay, capped at MaxDelay, with ±25% jitter.
func (d *Dispatcher) deliverChat(ctx context.Context, chatID int64, text string, buttons [][]Button) error {
	attempts := d.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			retriesTotal.Inc()
			d.wait(ctx, d.backoff(attempt))
		}
		if d.Pacer != nil {
			if werr := d.Pacer.Wait(ctx); werr != nil {
				return werr
			}
		}
		err = d.Chat.SendMessage(ctx, chatID, text, buttons)
		if err == nil {
			return nil
		}
		if IsPermanent(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

// backoff computes the pre-attempt delay for attempt n (1-based for the
// first retry).
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.BaseDelay << (attempt - 1)
	if d.MaxDelay > 0 && delay > d.MaxDelay {
		delay = d.MaxDelay
	}
	// ±25% jitter keeps synchronized retries from re-bursting upstream.
	jitter := time.Duration(rand.Int63n(int64(delay)/2+1)) - delay/4
	return delay + jitter
}

func (d *Dispatcher) wait(ctx context.Context, dur time.Duration) {
	if d.sleep != nil {
		d.sleep(ctx, dur)
		return
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
