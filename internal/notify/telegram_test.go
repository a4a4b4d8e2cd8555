package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bizcheck/internal/analyzer"
	"bizcheck/internal/events"
)

type fakeBot struct {
	mu    sync.Mutex
	texts []string
	chats []string
}

func (f *fakeBot) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bizcheck","username":"bizcheck_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			f.mu.Lock()
			f.texts = append(f.texts, r.PostForm.Get("text"))
			f.chats = append(f.chats, r.PostForm.Get("chat_id"))
			f.mu.Unlock()
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"},"text":"ok"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
		}
	}
}

func (f *fakeBot) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func newTestTelegram(t *testing.T) (*Telegram, *fakeBot) {
	t.Helper()
	bot := &fakeBot{}
	srv := httptest.NewServer(bot.handler(t))
	t.Cleanup(srv.Close)
	tg, err := NewTelegram("123:abc", 42, WithEndpoint(srv.URL+"/bot%s/%s"), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("new telegram: %v", err)
	}
	return tg, bot
}

func TestNewTelegramDisabled(t *testing.T) {
	tg, err := NewTelegram("", 42)
	if err != nil || tg != nil {
		t.Fatalf("expected disabled notifier, got %v %v", tg, err)
	}
	if err := tg.Notify(Message{Text: "hi"}); err != nil {
		t.Fatalf("nil notifier should be a no-op: %v", err)
	}
}

func TestNotifySendsToChat(t *testing.T) {
	tg, bot := newTestTelegram(t)
	if err := tg.Notify(Message{Text: "hello"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got := bot.sent(); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("unexpected messages: %v", got)
	}
	if bot.chats[0] != "42" {
		t.Fatalf("unexpected chat id %q", bot.chats[0])
	}
}

func TestRunForwardsEvents(t *testing.T) {
	tg, bot := newTestTelegram(t)
	ch := make(chan any, 3)
	ch <- events.PaymentSucceeded{IntentID: "pi_1", AmountCents: 600, Currency: "usd"}
	ch <- "ignored"
	ch <- events.SearchCompleted{Query: "cafes", Location: "Boise", Radius: 2000, Err: errors.New("timeout")}
	close(ch)
	tg.Run(context.Background(), ch)

	got := bot.sent()
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %v", got)
	}
	if got[0] != "Payment received: 6.00 USD (pi_1)" {
		t.Fatalf("unexpected payment message %q", got[0])
	}
	if !strings.HasPrefix(got[1], "Search failed") {
		t.Fatalf("unexpected search message %q", got[1])
	}
}

func TestFormatSearch(t *testing.T) {
	site := "https://example.com"
	msg := FormatSearch(events.SearchCompleted{
		Query:    "dentists",
		Location: "Tulsa",
		Radius:   5000,
		Duration: 3 * time.Second,
		Businesses: []analyzer.EnrichedBusiness{
			{Name: "A", LeadScore: 80},
			{Name: "B", Website: &site, LeadScore: 55},
		},
	})
	want := "Search done: \"dentists\" near Tulsa, radius 5000m\n2 businesses, 1 without website, 1 high opportunity (3s)"
	if msg.Text != want {
		t.Fatalf("got %q want %q", msg.Text, want)
	}
}
