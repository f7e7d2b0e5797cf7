// Package dbtest provides in-memory SQLite fixtures for package tests.
package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Epoch is the default start time for fake clocks in tests.
var Epoch = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

// Open creates a migrated in-memory SQLite database. The pool is limited to
// one connection so every test shares the same in-memory database and
// transactions serialize.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("test db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gdb
}

// User inserts a real user with the given balance.
func User(t *testing.T, gdb *gorm.DB, credits int) *models.RealUser {
	t.Helper()
	u := &models.RealUser{ID: uuid.NewString(), Name: "user", Credits: credits, CreatedAt: Epoch}
	if err := gdb.Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// Persona inserts a persona.
func Persona(t *testing.T, gdb *gorm.DB) *models.Persona {
	t.Helper()
	p := &models.Persona{ID: uuid.NewString(), Name: "persona", CreatedAt: Epoch}
	if err := gdb.Create(p).Error; err != nil {
		t.Fatalf("create persona: %v", err)
	}
	return p
}

// Operator inserts an active operator with the given availability.
func Operator(t *testing.T, gdb *gorm.DB, id string, available bool) *models.Operator {
	t.Helper()
	op := &models.Operator{
		ID:           id,
		Name:         id,
		Role:         models.RoleOperator,
		IsActive:     true,
		IsAvailable:  available,
		LastActivity: Epoch,
		CreatedAt:    Epoch,
	}
	if err := gdb.Create(op).Error; err != nil {
		t.Fatalf("create operator %s: %v", id, err)
	}
	return op
}

// Admin inserts an active admin.
func Admin(t *testing.T, gdb *gorm.DB, id string) *models.Operator {
	t.Helper()
	op := Operator(t, gdb, id, false)
	if err := gdb.Model(op).Update("role", models.RoleAdmin).Error; err != nil {
		t.Fatalf("promote %s: %v", id, err)
	}
	op.Role = models.RoleAdmin
	return op
}

// Chat inserts a waiting chat for a fresh user and persona, created at
// createdAt. The user starts with credits.
func Chat(t *testing.T, gdb *gorm.DB, createdAt time.Time, credits int) *models.Chat {
	t.Helper()
	u := User(t, gdb, credits)
	p := Persona(t, gdb)
	c := &models.Chat{
		ID:         uuid.NewString(),
		RealUserID: u.ID,
		PersonaID:  p.ID,
		IsActive:   true,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	if err := gdb.Create(c).Error; err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return c
}

// Reload re-reads a chat.
func Reload(t *testing.T, gdb *gorm.DB, chatID string) *models.Chat {
	t.Helper()
	var c models.Chat
	if err := gdb.First(&c, "id = ?", chatID).Error; err != nil {
		t.Fatalf("reload chat %s: %v", chatID, err)
	}
	return &c
}

// Balance returns a user's credit balance.
func Balance(t *testing.T, gdb *gorm.DB, userID string) int {
	t.Helper()
	var u models.RealUser
	if err := gdb.First(&u, "id = ?", userID).Error; err != nil {
		t.Fatalf("load user %s: %v", userID, err)
	}
	return u.Credits
}

// Count returns the row count of model matching the optional condition.
func Count(t *testing.T, gdb *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := gdb.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return n
}
