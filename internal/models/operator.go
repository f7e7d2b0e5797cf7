package models

import "time"

// Operator is a human agent answering on behalf of personas.
type Operator struct {
	ID            string    `gorm:"primaryKey;size:36"`
	Name          string    `gorm:"size:128;not null"`
	Role          string    `gorm:"size:16;not null;default:operator"`
	IsActive      bool      `gorm:"not null;index"`
	IsAvailable   bool      `gorm:"not null;index"`
	LastActivity  time.Time `gorm:"index"`
	TotalMessages int       `gorm:"not null;default:0"`
	CreatedAt     time.Time
}

// Operator roles.
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// OperatorActivity is the heartbeat row for an operator holding a chat.
// It exists only while the assignment is open.
type OperatorActivity struct {
	ChatID       string    `gorm:"primaryKey;size:36"`
	OperatorID   string    `gorm:"primaryKey;size:36"`
	LastActivity time.Time `gorm:"index"`
}
