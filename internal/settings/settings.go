// Package settings turns the keyed platform_settings table into a typed,
// validated config.Platform snapshot.
package settings

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Setting keys in the platform_settings table.
const (
	KeyIdleTimeoutMinutes = "idle_timeout_minutes"
	KeyMaxReassignments   = "max_reassignments"
	KeyFreeMessageCount   = "free_message_count"
	KeyCreditPrice        = "credit_price"
)

// Keys lists every known setting key in a stable order.
func Keys() []string {
	return []string{KeyIdleTimeoutMinutes, KeyMaxReassignments, KeyFreeMessageCount, KeyCreditPrice}
}

// Source supplies the current platform policy.
type Source interface {
	Current() config.Platform
}

type staticSource config.Platform

func (s staticSource) Current() config.Platform { return config.Platform(s) }

// Static returns a Source that always reports p.
func Static(p config.Platform) Source { return staticSource(p) }

// Encode renders p as key/value rows.
func Encode(p config.Platform) map[string]string {
	return map[string]string{
		KeyIdleTimeoutMinutes: strconv.Itoa(p.IdleTimeoutMinutes),
		KeyMaxReassignments:   strconv.Itoa(p.MaxReassignments),
		KeyFreeMessageCount:   strconv.Itoa(p.FreeMessageCount),
		KeyCreditPrice:        strconv.Itoa(p.CreditPrice),
	}
}

// Decode overlays rows onto fallback and validates the result. Unknown keys
// are ignored so older binaries tolerate newer tables.
func Decode(rows []models.PlatformSetting, fallback config.Platform) (config.Platform, error) {
	p := fallback
	var errs []string
	for _, r := range rows {
		var dst *int
		switch r.Key {
		case KeyIdleTimeoutMinutes:
			dst = &p.IdleTimeoutMinutes
		case KeyMaxReassignments:
			dst = &p.MaxReassignments
		case KeyFreeMessageCount:
			dst = &p.FreeMessageCount
		case KeyCreditPrice:
			dst = &p.CreditPrice
		default:
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(r.Value))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not an integer", r.Key, r.Value))
			continue
		}
		*dst = n
	}
	if len(errs) > 0 {
		return fallback, fmt.Errorf("settings: %s: %w", strings.Join(errs, "; "), apperr.ErrInvalidInput)
	}
	if err := p.Validate(); err != nil {
		return fallback, fmt.Errorf("settings: %v: %w", err, apperr.ErrInvalidInput)
	}
	return p, nil
}

// Load reads the settings table and returns the validated policy.
func Load(ctx context.Context, db *gorm.DB, fallback config.Platform) (config.Platform, error) {
	if db == nil {
		return fallback, fmt.Errorf("settings: db is required")
	}
	var rows []models.PlatformSetting
	if err := db.WithContext(ctx).Find(&rows).Error; err != nil {
		return fallback, fmt.Errorf("settings: load: %w", apperr.Internal(err))
	}
	return Decode(rows, fallback)
}

// Seed writes p into the table. Existing rows are kept unless overwrite is set.
func Seed(ctx context.Context, db *gorm.DB, p config.Platform, overwrite bool) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("settings: seed: %v: %w", err, apperr.ErrInvalidInput)
	}
	enc := Encode(p)
	keys := make([]string, 0, len(enc))
	for k := range enc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	onConflict := clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoNothing: true}
	if overwrite {
		onConflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}
	}
	for _, k := range keys {
		row := models.PlatformSetting{Key: k, Value: enc[k]}
		if err := db.WithContext(ctx).Clauses(onConflict).Create(&row).Error; err != nil {
			return fmt.Errorf("settings: seed %s: %w", k, apperr.Internal(err))
		}
	}
	return nil
}

// Set validates and stores a single setting. The whole policy is
// re-validated so a write can never leave the table out of range.
func Set(ctx context.Context, db *gorm.DB, key, value string) error {
	known := false
	for _, k := range Keys() {
		if k == key {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("settings: unknown key %q: %w", key, apperr.ErrInvalidInput)
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.PlatformSetting
		if err := tx.Find(&rows).Error; err != nil {
			return fmt.Errorf("settings: load: %w", apperr.Internal(err))
		}
		rows = append(rows, models.PlatformSetting{Key: key, Value: value})
		if _, err := Decode(rows, config.DefaultPlatform()); err != nil {
			return err
		}
		row := models.PlatformSetting{Key: key, Value: strings.TrimSpace(value)}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("settings: set %s: %w", key, apperr.Internal(err))
		}
		return nil
	})
}

// Provider caches the last successfully loaded policy. Reads never touch
// the database; Reload refreshes the snapshot.
type Provider struct {
	db       *gorm.DB
	fallback config.Platform
	cur      atomic.Pointer[config.Platform]
}

// NewProvider returns a Provider that reports fallback until the first Reload.
func NewProvider(db *gorm.DB, fallback config.Platform) *Provider {
	p := &Provider{db: db, fallback: fallback}
	snap := fallback
	p.cur.Store(&snap)
	return p
}

// Current returns the cached policy.
func (p *Provider) Current() config.Platform {
	return *p.cur.Load()
}

// Reload re-reads the table. On failure the previous snapshot stays in place.
func (p *Provider) Reload(ctx context.Context) (config.Platform, error) {
	loaded, err := Load(ctx, p.db, p.fallback)
	if err != nil {
		return p.Current(), err
	}
	p.cur.Store(&loaded)
	return loaded, nil
}
