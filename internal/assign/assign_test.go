package assign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/clock"
	"github.com/zulandar/switchboard/internal/dbtest"
	"github.com/zulandar/switchboard/internal/events"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

func newScheduler(t *testing.T) (*Scheduler, *gorm.DB, *clock.Fake, *events.Recorder) {
	t.Helper()
	gdb := dbtest.Open(t)
	clk := clock.NewFake(dbtest.Epoch.Add(time.Hour))
	rec := &events.Recorder{}
	s, err := New(Opts{DB: gdb, Clock: clk, Events: rec, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, gdb, clk, rec
}

func TestNew_NilDB(t *testing.T) {
	_, err := New(Opts{})
	if err == nil || !strings.Contains(err.Error(), "db is required") {
		t.Errorf("err = %v", err)
	}
}

func TestTryAssign_NoWork(t *testing.T) {
	s, gdb, _, rec := newScheduler(t)
	dbtest.Operator(t, gdb, "op-1", true)

	chat, err := s.TryAssign(context.Background(), "op-1")
	if err != nil {
		t.Fatalf("TryAssign: %v", err)
	}
	if chat != nil {
		t.Errorf("chat = %+v, want nil", chat)
	}
	if len(rec.Events()) != 0 {
		t.Errorf("events = %v", rec.Events())
	}
}

func TestTryAssign_OldestFirst(t *testing.T) {
	s, gdb, clk, rec := newScheduler(t)
	dbtest.Operator(t, gdb, "op-1", true)
	newer := dbtest.Chat(t, gdb, dbtest.Epoch.Add(10*time.Minute), 0)
	older := dbtest.Chat(t, gdb, dbtest.Epoch, 0)

	chat, err := s.TryAssign(context.Background(), "op-1")
	if err != nil {
		t.Fatalf("TryAssign: %v", err)
	}
	if chat == nil || chat.ID != older.ID {
		t.Fatalf("chat = %+v, want %s", chat, older.ID)
	}

	got := dbtest.Reload(t, gdb, older.ID)
	if !got.HeldBy("op-1") {
		t.Errorf("assigned_operator_id = %v", got.AssignedOperatorID)
	}
	if got.AssignmentTime == nil || !got.AssignmentTime.Equal(clk.Now()) {
		t.Errorf("assignment_time = %v", got.AssignmentTime)
	}
	if got.LastOperatorID == nil || *got.LastOperatorID != "op-1" {
		t.Errorf("last_operator_id = %v", got.LastOperatorID)
	}
	if dbtest.Reload(t, gdb, newer.ID).AssignedOperatorID != nil {
		t.Error("newer chat should still be waiting")
	}

	if n := dbtest.Count(t, gdb, &models.AssignmentRecord{}, "chat_id = ? AND operator_id = ? AND released_at IS NULL", older.ID, "op-1"); n != 1 {
		t.Errorf("open assignment records = %d, want 1", n)
	}
	if n := dbtest.Count(t, gdb, &models.OperatorActivity{}, "chat_id = ? AND operator_id = ?", older.ID, "op-1"); n != 1 {
		t.Errorf("activity rows = %d, want 1", n)
	}

	evs := rec.OfType(events.AssignmentCreated)
	if len(evs) != 1 || evs[0].ChatID != older.ID || evs[0].OperatorID != "op-1" {
		t.Errorf("events = %+v", rec.Events())
	}
}

func TestTryAssign_PrefersChatsHeldByOthers(t *testing.T) {
	s, gdb, _, _ := newScheduler(t)
	dbtest.Operator(t, gdb, "op-1", true)
	mine := dbtest.Chat(t, gdb, dbtest.Epoch, 0)
	other := dbtest.Chat(t, gdb, dbtest.Epoch.Add(time.Minute), 0)
	if err := gdb.Model(&models.Chat{}).Where("id = ?", mine.ID).Update("last_operator_id", "op-1").Error; err != nil {
		t.Fatalf("set last operator: %v", err)
	}
	ctx := context.Background()

	chat, err := s.TryAssign(ctx, "op-1")
	if err != nil || chat == nil {
		t.Fatalf("TryAssign = %v, %v", chat, err)
	}
	if chat.ID != other.ID {
		t.Errorf("got %s, want the chat op-1 did not hold last", chat.ID)
	}
}

func TestTryAssign_FallsBackToOwnPreviousChat(t *testing.T) {
	s, gdb, _, _ := newScheduler(t)
	dbtest.Operator(t, gdb, "op-1", true)
	mine := dbtest.Chat(t, gdb, dbtest.Epoch, 0)
	gdb.Model(&models.Chat{}).Where("id = ?", mine.ID).Update("last_operator_id", "op-1")

	chat, err := s.TryAssign(context.Background(), "op-1")
	if err != nil || chat == nil || chat.ID != mine.ID {
		t.Fatalf("TryAssign = %+v, %v; want %s", chat, err, mine.ID)
	}
}

func TestTryAssign_SkipsClosedAndEscalated(t *testing.T) {
	s, gdb, _, _ := newScheduler(t)
	dbtest.Operator(t, gdb, "op-1", true)
	closed := dbtest.Chat(t, gdb, dbtest.Epoch, 0)
	escalated := dbtest.Chat(t, gdb, dbtest.Epoch, 0)
	gdb.Model(&models.Chat{}).Where("id = ?", closed.ID).Update("is_active", false)
	gdb.Model(&models.Chat{}).Where("id = ?", escalated.ID).Update("needs_attention", true)

	chat, err := s.TryAssign(context.Background(), "op-1")
	if err != nil || chat != nil {
		t.Errorf("TryAssign = %+v, %v; want no work", chat, err)
	}
}

func TestTryAssign_Preconditions(t *testing.T) {
	s, gdb, _, _ := newScheduler(t)
	dbtest.Chat(t, gdb, dbtest.Epoch, 0)
	dbtest.Chat(t, gdb, dbtest.Epoch, 0)
	dbtest.Operator(t, gdb, "away", false)
	inactive := dbtest.Operator(t, gdb, "gone", true)
	gdb.Model(inactive).Update("is_active", false)
	dbtest.Operator(t, gdb, "busy", true)
	ctx := context.Background()
	if _, err := s.TryAssign(ctx, "busy"); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	tests := []struct {
		op   string
		want error
	}{
		{"", apperr.ErrInvalidInput},
		{"nobody", apperr.ErrNotFound},
		{"gone", apperr.ErrForbidden},
		{"away", apperr.ErrInvalidInput},
		{"busy", apperr.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			chat, err := s.TryAssign(ctx, tt.op)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if chat != nil {
				t.Errorf("chat = %+v", chat)
			}
		})
	}
	if n := dbtest.Count(t, gdb, &models.Chat{}, "assigned_operator_id IS NOT NULL"); n != 1 {
		t.Errorf("assigned chats = %d, want 1", n)
	}
}

func TestTryAssign_ClaimAtomicity(t *testing.T) {
	s, gdb, _, _ := newScheduler(t)
	const operators, chats = 6, 9
	for i := 0; i < chats; i++ {
		dbtest.Chat(t, gdb, dbtest.Epoch.Add(time.Duration(i)*time.Second), 0)
	}
	for i := 0; i < operators; i++ {
		dbtest.Operator(t, gdb, fmt.Sprintf("op-%d", i), true)
	}

	var wg sync.WaitGroup
	results := make([]*models.Chat, operators)
	errs := make([]error, operators)
	for i := 0; i < operators; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.TryAssign(context.Background(), fmt.Sprintf("op-%d", i))
		}(i)
	}
	wg.Wait()

	seen := map[string]string{}
	for i, c := range results {
		if errs[i] != nil {
			t.Fatalf("op-%d: %v", i, errs[i])
		}
		if c == nil {
			t.Fatalf("op-%d got no chat with %d waiting", i, chats)
		}
		if prev, dup := seen[c.ID]; dup {
			t.Errorf("chat %s claimed by %s and op-%d", c.ID, prev, i)
		}
		seen[c.ID] = fmt.Sprintf("op-%d", i)
	}
	if n := dbtest.Count(t, gdb, &models.Chat{}, "assigned_operator_id IS NOT NULL"); n != operators {
		t.Errorf("assigned chats = %d, want %d", n, operators)
	}
	if n := dbtest.Count(t, gdb, &models.AssignmentRecord{}, ""); n != operators {
		t.Errorf("assignment records = %d, want %d", n, operators)
	}
}

func TestTryAssign_MutualExclusion(t *testing.T) {
	s, gdb, _, _ := newScheduler(t)
	for i := 0; i < 4; i++ {
		dbtest.Chat(t, gdb, dbtest.Epoch.Add(time.Duration(i)*time.Second), 0)
	}
	dbtest.Operator(t, gdb, "op-1", true)

	var wg sync.WaitGroup
	var mu sync.Mutex
	won, conflicts := 0, 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			chat, err := s.TryAssign(context.Background(), "op-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && chat != nil:
				won++
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected result: %+v, %v", chat, err)
			}
		}()
	}
	wg.Wait()

	if won != 1 || conflicts != 3 {
		t.Errorf("won=%d conflicts=%d, want 1 and 3", won, conflicts)
	}
	if n := dbtest.Count(t, gdb, &models.Chat{}, "assigned_operator_id = ?", "op-1"); n != 1 {
		t.Errorf("chats held by op-1 = %d, want 1", n)
	}
}

func TestBind_RejectsAssignedChat(t *testing.T) {
	_, gdb, clk, _ := newScheduler(t)
	chat := dbtest.Chat(t, gdb, dbtest.Epoch, 0)
	dbtest.Operator(t, gdb, "op-1", true)
	dbtest.Operator(t, gdb, "op-2", true)

	ok, err := Bind(gdb, chat.ID, "op-1", clk.Now())
	if err != nil || !ok {
		t.Fatalf("first Bind = %v, %v", ok, err)
	}
	ok, err = Bind(gdb, chat.ID, "op-2", clk.Now())
	if err != nil || ok {
		t.Fatalf("second Bind = %v, %v; want false", ok, err)
	}
	if !dbtest.Reload(t, gdb, chat.ID).HeldBy("op-1") {
		t.Error("chat should still be held by op-1")
	}
}

func TestOverride_AcceptsEscalated(t *testing.T) {
	_, gdb, clk, _ := newScheduler(t)
	chat := dbtest.Chat(t, gdb, dbtest.Epoch, 0)
	dbtest.Operator(t, gdb, "op-1", true)
	gdb.Model(&models.Chat{}).Where("id = ?", chat.ID).Updates(map[string]interface{}{
		"needs_attention": true,
		"escalated_at":    dbtest.Epoch,
	})

	if ok, _ := Bind(gdb, chat.ID, "op-1", clk.Now()); ok {
		t.Fatal("Bind should skip escalated chats")
	}
	ok, err := Override(gdb, chat.ID, "op-1", "manual_reassignment_by_admin:vip", clk.Now())
	if err != nil || !ok {
		t.Fatalf("Override = %v, %v", ok, err)
	}
	got := dbtest.Reload(t, gdb, chat.ID)
	if got.NeedsAttention || got.EscalatedAt != nil {
		t.Errorf("escalation not cleared: %+v", got)
	}
	if n := dbtest.Count(t, gdb, &models.AssignmentRecord{}, "chat_id = ? AND assign_reason = ?", chat.ID, "manual_reassignment_by_admin:vip"); n != 1 {
		t.Errorf("admin assignment records = %d, want 1", n)
	}
}

func TestHeldAndWaiting(t *testing.T) {
	s, gdb, _, _ := newScheduler(t)
	dbtest.Operator(t, gdb, "op-1", true)
	a := dbtest.Chat(t, gdb, dbtest.Epoch, 0)
	b := dbtest.Chat(t, gdb, dbtest.Epoch.Add(time.Minute), 0)
	ctx := context.Background()

	if held, err := Held(ctx, gdb, "op-1"); err != nil || held != nil {
		t.Fatalf("Held before = %+v, %v", held, err)
	}
	if _, err := s.TryAssign(ctx, "op-1"); err != nil {
		t.Fatalf("TryAssign: %v", err)
	}
	held, err := Held(ctx, gdb, "op-1")
	if err != nil || held == nil || held.ID != a.ID {
		t.Fatalf("Held = %+v, %v", held, err)
	}
	waiting, err := Waiting(ctx, gdb, 0)
	if err != nil || len(waiting) != 1 || waiting[0].ID != b.ID {
		t.Errorf("Waiting = %+v, %v", waiting, err)
	}
}
