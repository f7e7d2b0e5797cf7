package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/assign"
	"github.com/zulandar/switchboard/internal/clock"
	"github.com/zulandar/switchboard/internal/dbtest"
	"github.com/zulandar/switchboard/internal/events"
	"github.com/zulandar/switchboard/internal/history"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

func newService(t *testing.T) (*Service, *gorm.DB, *clock.Fake, *events.Recorder) {
	t.Helper()
	gdb := dbtest.Open(t)
	clk := clock.NewFake(dbtest.Epoch)
	rec := &events.Recorder{}
	svc, err := New(Opts{DB: gdb, Clock: clk, Events: rec, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, gdb, clk, rec
}

func TestNew_RequiresDB(t *testing.T) {
	if _, err := New(Opts{}); err == nil || !strings.Contains(err.Error(), "db is required") {
		t.Errorf("err = %v", err)
	}
}

func TestCreateParticipants(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, " Sam ")
	if err != nil || u.Name != "Sam" || u.Credits != 0 {
		t.Errorf("CreateUser = %+v, %v", u, err)
	}
	p, err := svc.CreatePersona(ctx, "Luna")
	if err != nil || p.Name != "Luna" {
		t.Errorf("CreatePersona = %+v, %v", p, err)
	}
	if _, err := svc.CreateUser(ctx, ""); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("empty user err = %v", err)
	}
	if _, err := svc.CreatePersona(ctx, "  "); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("empty persona err = %v", err)
	}
}

func TestOpen_CreatesThenReuses(t *testing.T) {
	svc, gdb, _, rec := newService(t)
	ctx := context.Background()
	u := dbtest.User(t, gdb, 0)
	p := dbtest.Persona(t, gdb)

	first, created, err := svc.Open(ctx, u.ID, p.ID)
	if err != nil || !created {
		t.Fatalf("Open = %v, created=%v", err, created)
	}
	if State(first) != models.ChatWaiting || !first.CreatedAt.Equal(dbtest.Epoch) {
		t.Errorf("chat = %+v", first)
	}

	again, created, err := svc.Open(ctx, u.ID, p.ID)
	if err != nil || created || again.ID != first.ID {
		t.Errorf("reopen = %+v, created=%v, %v", again, created, err)
	}
	if got := rec.OfType(events.ChatOpened); len(got) != 1 || got[0].ChatID != first.ID {
		t.Errorf("chat-opened events = %+v", got)
	}
}

func TestOpen_NotFound(t *testing.T) {
	svc, gdb, _, _ := newService(t)
	ctx := context.Background()
	u := dbtest.User(t, gdb, 0)
	p := dbtest.Persona(t, gdb)

	tests := []struct {
		name      string
		user      string
		persona   string
		wantInErr string
	}{
		{"unknown user", "ghost", p.ID, "user ghost"},
		{"unknown persona", u.ID, "ghost", "persona ghost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Open(ctx, tt.user, tt.persona)
			if !errors.Is(err, apperr.ErrNotFound) || !strings.Contains(err.Error(), tt.wantInErr) {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestClose_ReleasesHolder(t *testing.T) {
	svc, gdb, clk, rec := newService(t)
	ctx := context.Background()
	c := dbtest.Chat(t, gdb, dbtest.Epoch, 0)
	dbtest.Operator(t, gdb, "op-1", true)
	if err := gdb.Transaction(func(tx *gorm.DB) error {
		_, err := assign.Bind(tx, c.ID, "op-1", clk.Now())
		return err
	}); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	clk.Advance(time.Minute)

	closed, err := svc.Close(ctx, c.ID, c.RealUserID)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if State(closed) != models.ChatClosed || closed.AssignedOperatorID != nil {
		t.Errorf("chat = %+v", closed)
	}

	hist, err := history.ForChat(ctx, gdb, c.ID)
	if err != nil || len(hist) != 1 {
		t.Fatalf("history = %+v, %v", hist, err)
	}
	if hist[0].ReleaseReason != models.ReasonChatClosed || hist[0].ReleasedAt == nil {
		t.Errorf("history = %+v", hist[0])
	}
	if n := dbtest.Count(t, gdb, &models.OperatorActivity{}, "chat_id = ?", c.ID); n != 0 {
		t.Errorf("activity rows = %d", n)
	}
	if got := rec.OfType(events.AssignmentReleased); len(got) != 1 || got[0].OperatorID != "op-1" {
		t.Errorf("released events = %+v", got)
	}

	// A closed chat is never offered to operators again.
	sched, _ := assign.New(assign.Opts{DB: gdb, Clock: clk})
	if got, err := sched.TryAssign(ctx, "op-1"); err != nil || got != nil {
		t.Errorf("TryAssign after close = %+v, %v", got, err)
	}
}

func TestClose_IdempotentAndOwnerOnly(t *testing.T) {
	svc, gdb, _, rec := newService(t)
	ctx := context.Background()
	c := dbtest.Chat(t, gdb, dbtest.Epoch, 0)

	if _, err := svc.Close(ctx, c.ID, "someone-else"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("non-owner err = %v", err)
	}
	if _, err := svc.Close(ctx, c.ID, ""); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := svc.Close(ctx, c.ID, ""); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if got := rec.OfType(events.ChatClosed); len(got) != 1 {
		t.Errorf("chat-closed events = %d, want 1", len(got))
	}
	if _, err := svc.Close(ctx, "nope", ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
}

func TestGetAndForUser(t *testing.T) {
	svc, gdb, clk, _ := newService(t)
	ctx := context.Background()
	u := dbtest.User(t, gdb, 0)
	p1 := dbtest.Persona(t, gdb)
	p2 := dbtest.Persona(t, gdb)

	a, _, _ := svc.Open(ctx, u.ID, p1.ID)
	clk.Advance(time.Second)
	b, _, _ := svc.Open(ctx, u.ID, p2.ID)
	if _, err := svc.Close(ctx, a.ID, ""); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := svc.Get(ctx, b.ID)
	if err != nil || got.PersonaID != p2.ID {
		t.Errorf("Get = %+v, %v", got, err)
	}
	if _, err := svc.Get(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get missing err = %v", err)
	}

	all, _ := svc.ForUser(ctx, u.ID, false)
	if len(all) != 2 || all[0].ID != b.ID {
		t.Errorf("ForUser = %+v", all)
	}
	active, _ := svc.ForUser(ctx, u.ID, true)
	if len(active) != 1 || active[0].ID != b.ID {
		t.Errorf("active = %+v", active)
	}
}
