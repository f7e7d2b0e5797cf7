// Package alert notifies humans when a chat needs attention. Delivery
// targets (Slack, Discord) live in subpackages and share the Notifier
// interface defined here.
package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Alert describes an escalated chat.
type Alert struct {
	ChatID     string
	OperatorID string // last operator to hold the chat
	Releases   int    // idle releases counted toward the escalation
	Reason     string
	At         time.Time
}

// Title is a one-line summary used by every target.
func (a Alert) Title() string {
	return fmt.Sprintf("Chat %s needs attention", a.ChatID)
}

// Text is the human-readable body.
func (a Alert) Text() string {
	s := fmt.Sprintf("Chat %s was released %d times for inactivity and has been taken out of the queue.", a.ChatID, a.Releases)
	if a.OperatorID != "" {
		s += fmt.Sprintf(" Last operator: %s.", a.OperatorID)
	}
	if a.Reason != "" {
		s += " Reason: " + a.Reason + "."
	}
	return s + " An admin must reassign it."
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logger writes alerts to a zerolog logger. It never fails.
type Logger struct {
	Log zerolog.Logger
}

// Notify implements Notifier.
func (l Logger) Notify(_ context.Context, a Alert) error {
	l.Log.Warn().
		Str("chat_id", a.ChatID).
		Str("operator_id", a.OperatorID).
		Int("releases", a.Releases).
		Time("at", a.At).
		Msg(a.Title())
	return nil
}
