package models

import "time"

// RealUser is a paying end user. Credits is mutated only by the ledger.
type RealUser struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"size:128;not null"`
	Credits   int    `gorm:"not null;default:0"`
	CreatedAt time.Time
}

// Persona is a curated fictional profile operators impersonate.
type Persona struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"size:128;not null"`
	CreatedAt time.Time
}

// CreditTransaction records every balance mutation.
type CreditTransaction struct {
	ID           uint    `gorm:"primaryKey;autoIncrement"`
	UserID       string  `gorm:"size:36;not null;index"`
	Delta        int     `gorm:"not null"`
	BalanceAfter int     `gorm:"not null"`
	Reason       string  `gorm:"size:32;not null"`
	MessageID    *string `gorm:"size:36"`
	CreatedAt    time.Time
}

// Credit transaction reasons.
const (
	CreditReasonMessage  = "message"
	CreditReasonPurchase = "purchase"
	CreditReasonRefund   = "refund"
	CreditReasonGrant    = "grant"
)
