package server

import (
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/operator"
	"github.com/zulandar/switchboard/internal/recovery"
)

type chatView struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	PersonaID          string     `json:"persona_id"`
	State              string     `json:"state"`
	AssignedOperatorID *string    `json:"assigned_operator_id"`
	AssignmentTime     *time.Time `json:"assignment_time"`
	MessageCount       int        `json:"message_count"`
	LastMessageAt      *time.Time `json:"last_message_at"`
	EscalatedAt        *time.Time `json:"escalated_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func viewChat(c *models.Chat) *chatView {
	if c == nil {
		return nil
	}
	return &chatView{
		ID:                 c.ID,
		UserID:             c.RealUserID,
		PersonaID:          c.PersonaID,
		State:              c.State(),
		AssignedOperatorID: c.AssignedOperatorID,
		AssignmentTime:     c.AssignmentTime,
		MessageCount:       c.MessageCount,
		LastMessageAt:      c.LastMessageAt,
		EscalatedAt:        c.EscalatedAt,
		CreatedAt:          c.CreatedAt,
	}
}

func viewChats(cs []models.Chat) []*chatView {
	out := make([]*chatView, 0, len(cs))
	for i := range cs {
		out = append(out, viewChat(&cs[i]))
	}
	return out
}

type messageView struct {
	ID                  string    `json:"id"`
	ChatID              string    `json:"chat_id"`
	SenderType          string    `json:"sender_type"`
	Content             string    `json:"content"`
	IsFreeMessage       bool      `json:"is_free_message"`
	HandledByOperatorID *string   `json:"handled_by_operator_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

func viewMessage(m *models.Message) *messageView {
	return &messageView{
		ID:                  m.ID,
		ChatID:              m.ChatID,
		SenderType:          m.SenderType,
		Content:             m.Content,
		IsFreeMessage:       m.IsFreeMessage,
		HandledByOperatorID: m.HandledByOperatorID,
		CreatedAt:           m.CreatedAt,
	}
}

type releaseView struct {
	ChatID        string `json:"chat_id"`
	OperatorID    string `json:"operator_id,omitempty"`
	Reason        string `json:"reason"`
	Outcome       string `json:"outcome"`
	NewOperatorID string `json:"new_operator_id,omitempty"`
}

func viewRelease(r *recovery.Release) *releaseView {
	if r == nil {
		return nil
	}
	return &releaseView{
		ChatID:        r.ChatID,
		OperatorID:    r.OperatorID,
		Reason:        r.Reason,
		Outcome:       string(r.Outcome),
		NewOperatorID: r.NewOperatorID,
	}
}

type beatView struct {
	LastActivity time.Time       `json:"last_activity"`
	Status       operator.Status `json:"status"`
	WarningAt    time.Time       `json:"warning_at"`
	IdleAt       time.Time       `json:"idle_at"`
}
