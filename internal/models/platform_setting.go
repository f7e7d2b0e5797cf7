package models

import "time"

// PlatformSetting is one row of the keyed policy table.
type PlatformSetting struct {
	Key       string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"size:255;not null"`
	UpdatedAt time.Time
}
