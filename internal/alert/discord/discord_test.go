package discord

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/switchboard/internal/alert"
)

type mockSession struct {
	calls  int
	embeds []*discordgo.MessageEmbed
	errs   []error
}

func (m *mockSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.calls++
	m.embeds = append(m.embeds, embed)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, nil
}

func rateLimited() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
}

func newTestNotifier(ms *mockSession) *Notifier {
	n, _ := New(Opts{ChannelID: "chan-1", Session: ms})
	n.baseBackoff = time.Millisecond
	return n
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{BotToken: "tok"}); err == nil || !strings.Contains(err.Error(), "channel is required") {
		t.Errorf("missing channel err = %v", err)
	}
	if _, err := New(Opts{ChannelID: "c"}); err == nil || !strings.Contains(err.Error(), "bot token is required") {
		t.Errorf("missing token err = %v", err)
	}
}

func TestNotify_SendsEmbed(t *testing.T) {
	ms := &mockSession{}
	n := newTestNotifier(ms)
	at := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	if err := n.Notify(context.Background(), alert.Alert{ChatID: "chat-1", OperatorID: "op-1", Releases: 3, At: at}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if ms.calls != 1 {
		t.Fatalf("calls = %d", ms.calls)
	}
	e := ms.embeds[0]
	if !strings.Contains(e.Title, "chat-1") {
		t.Errorf("title = %q", e.Title)
	}
	if len(e.Fields) != 3 {
		t.Errorf("fields = %d, want 3", len(e.Fields))
	}
	if e.Timestamp != "2026-01-05T10:00:00Z" {
		t.Errorf("timestamp = %q", e.Timestamp)
	}
}

func TestNotify_RetriesOn429(t *testing.T) {
	ms := &mockSession{errs: []error{rateLimited(), rateLimited()}}
	n := newTestNotifier(ms)
	if err := n.Notify(context.Background(), alert.Alert{ChatID: "chat-1"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if ms.calls != 3 {
		t.Errorf("calls = %d, want 3", ms.calls)
	}
}

func TestNotify_GivesUpAfterMaxRetries(t *testing.T) {
	ms := &mockSession{errs: []error{rateLimited(), rateLimited(), rateLimited(), rateLimited(), rateLimited()}}
	n := newTestNotifier(ms)
	if err := n.Notify(context.Background(), alert.Alert{ChatID: "chat-1"}); err == nil {
		t.Fatal("expected error")
	}
	if ms.calls != maxRetries+1 {
		t.Errorf("calls = %d, want %d", ms.calls, maxRetries+1)
	}
}

func TestNotify_NonRateLimitError(t *testing.T) {
	ms := &mockSession{errs: []error{errors.New("missing access")}}
	n := newTestNotifier(ms)
	err := n.Notify(context.Background(), alert.Alert{ChatID: "chat-1"})
	if err == nil || !strings.Contains(err.Error(), "missing access") {
		t.Fatalf("err = %v", err)
	}
	if ms.calls != 1 {
		t.Errorf("calls = %d, want 1", ms.calls)
	}
}
