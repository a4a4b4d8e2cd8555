package notify

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"bizcheck/internal/events"
	"bizcheck/internal/stats"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Message represents outbound alert.
type Message struct {
	Text string `json:"text"`
}

// Telegram posts operator alerts to a single chat.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

type options struct {
	endpoint string
	client   *http.Client
}

type Option func(*options)

// WithEndpoint overrides the Bot API endpoint format ("…/bot%s/%s").
func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// NewTelegram returns nil when token or chatID is unset.
func NewTelegram(token string, chatID int64, opts ...Option) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	o := options{endpoint: tgbotapi.APIEndpoint, client: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(&o)
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, o.endpoint, o.client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{api: api, chatID: chatID}, nil
}

// Notify sends msg if configured.
func (t *Telegram) Notify(msg Message) error {
	if t == nil || strings.TrimSpace(msg.Text) == "" {
		return nil
	}
	out := tgbotapi.NewMessage(t.chatID, msg.Text)
	out.DisableWebPagePreview = true
	if _, err := t.api.Send(out); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Run forwards bus events until ctx is done or events closes.
func (t *Telegram) Run(ctx context.Context, ch <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			msg, ok := Format(ev)
			if !ok {
				continue
			}
			if err := t.Notify(msg); err != nil {
				log.Printf("notify failed err=%v", err)
			}
		}
	}
}

// Format renders the events operators care about.
func Format(ev any) (Message, bool) {
	switch e := ev.(type) {
	case events.SearchCompleted:
		return FormatSearch(e), true
	case events.PaymentSucceeded:
		return FormatPayment(e), true
	default:
		return Message{}, false
	}
}

func FormatSearch(ev events.SearchCompleted) Message {
	if ev.Err != nil {
		return Message{Text: fmt.Sprintf("Search failed: %q near %s (%s)", ev.Query, ev.Location, ev.Err)}
	}
	s := stats.Compute(ev.Businesses)
	return Message{Text: fmt.Sprintf("Search done: %q near %s, radius %dm\n%d businesses, %d without website, %d high opportunity (%s)",
		ev.Query, ev.Location, ev.Radius, s.TotalBusinesses, s.NoWebsiteCount, s.HighOpportunityCount, ev.Duration.Round(time.Second))}
}

func FormatPayment(ev events.PaymentSucceeded) Message {
	return Message{Text: fmt.Sprintf("Payment received: %.2f %s (%s)",
		float64(ev.AmountCents)/100, strings.ToUpper(ev.Currency), ev.IntentID)}
}
