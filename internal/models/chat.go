package models

import "time"

// Chat is one real-user to persona conversation. AssignedOperatorID and
// AssignmentTime are always set or cleared together.
type Chat struct {
	ID                 string  `gorm:"primaryKey;size:36"`
	RealUserID         string  `gorm:"size:36;not null;index:idx_chat_user_persona"`
	PersonaID          string  `gorm:"size:36;not null;index:idx_chat_user_persona"`
	AssignedOperatorID *string `gorm:"size:36;index"`
	AssignmentTime     *time.Time
	LastOperatorID     *string `gorm:"size:36"`
	MessageCount       int     `gorm:"not null;default:0"`
	LastMessageAt      *time.Time
	IsActive           bool `gorm:"not null;index"`
	NeedsAttention     bool `gorm:"not null;index"`
	EscalatedAt        *time.Time
	CreatedAt          time.Time `gorm:"index"`
	UpdatedAt          time.Time
}

// Chat states derived from the stored fields.
const (
	ChatWaiting   = "waiting"
	ChatAssigned  = "assigned"
	ChatEscalated = "escalated"
	ChatClosed    = "closed"
)

// State derives the chat's scheduling state.
func (c *Chat) State() string {
	switch {
	case !c.IsActive:
		return ChatClosed
	case c.AssignedOperatorID != nil:
		return ChatAssigned
	case c.NeedsAttention:
		return ChatEscalated
	default:
		return ChatWaiting
	}
}

// HeldBy reports whether operatorID currently holds the chat.
func (c *Chat) HeldBy(operatorID string) bool {
	return c.AssignedOperatorID != nil && *c.AssignedOperatorID == operatorID
}

// Message is one line of a chat. IsFreeMessage is fixed at insert time.
type Message struct {
	ID                  string  `gorm:"primaryKey;size:36"`
	ChatID              string  `gorm:"size:36;not null;index"`
	SenderType          string  `gorm:"size:16;not null;index"`
	Content             string  `gorm:"type:text;not null"`
	IsFreeMessage       bool    `gorm:"not null"`
	HandledByOperatorID *string `gorm:"size:36"`
	CreatedAt           time.Time
}

// Message sender types.
const (
	SenderUser    = "user"
	SenderPersona = "persona"
)
