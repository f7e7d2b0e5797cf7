package models

import "time"

// AssignmentRecord is one row of the append-only assignment history. At most
// one record per chat has a nil ReleasedAt.
type AssignmentRecord struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	ChatID        string    `gorm:"size:36;not null;index"`
	OperatorID    string    `gorm:"size:36;not null;index"`
	AssignedAt    time.Time `gorm:"not null"`
	AssignReason  string    `gorm:"size:255;not null;default:scheduler"`
	ReleasedAt    *time.Time
	ReleaseReason string `gorm:"size:255"`
}

// AssignScheduler tags assignments made by the scheduler. Admin-directed
// assignments carry the admin reassignment reason instead.
const AssignScheduler = "scheduler"

// Release reasons. Admin reassignments append ":<reason>" to
// ReasonAdminReassign; manual unassigns may append one to ReasonManualUnassign.
const (
	ReasonIdleTimeout    = "idle_timeout"
	ReasonManualUnassign = "manual_unassign"
	ReasonAdminReassign  = "manual_reassignment_by_admin"
	ReasonChatClosed     = "chat_closed"
)
