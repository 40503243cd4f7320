package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"

	"github.com/shaiso/stepflow/internal/domain"
	"github.com/shaiso/stepflow/internal/engine"
)

type startCall struct {
	name  string
	input any
}

type fakeStarter struct {
	mu    sync.Mutex
	calls []startCall
	err   error
}

func (f *fakeStarter) StartByName(_ context.Context, name string, input any) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.calls = append(f.calls, startCall{name: name, input: input})
	return uuid.New(), nil
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(starter Starter, now time.Time) (*Scheduler, *MemoryStore) {
	store := NewMemoryStore()
	s := New(Config{Store: store, Starter: starter, Logger: testLogger()})
	s.now = func() time.Time { return now }
	return s, store
}

func TestCalculateNextDue(t *testing.T) {
	from := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		sched domain.Schedule
		want  time.Time
	}{
		{
			name:  "cron utc",
			sched: domain.Schedule{CronExpr: "0 9 * * *"},
			want:  time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		},
		{
			name:  "cron in timezone",
			sched: domain.Schedule{CronExpr: "0 9 * * *", Timezone: "Europe/Moscow"},
			// 08:30 UTC = 11:30 MSK, следующий запуск завтра в 09:00 MSK = 06:00 UTC
			want: time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC),
		},
		{
			name:  "interval",
			sched: domain.Schedule{IntervalSec: 90},
			want:  from.Add(90 * time.Second),
		},
		{
			name:  "cron wins over interval",
			sched: domain.Schedule{CronExpr: "*/5 * * * *", IntervalSec: 1},
			want:  time.Date(2026, 3, 10, 8, 35, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateNextDue(&tt.sched, from)
			if err != nil {
				t.Fatalf("CalculateNextDue: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("next = %v, want %v", got, tt.want)
			}
			if got.Location() != time.UTC {
				t.Errorf("next due must be in UTC, got %v", got.Location())
			}
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		sched domain.Schedule
		want  error
	}{
		{domain.Schedule{CronExpr: "not a cron"}, ErrInvalidCron},
		{domain.Schedule{CronExpr: "0 9 * * *", Timezone: "Mars/Olympus"}, ErrInvalidTimezone},
		{domain.Schedule{}, ErrNoTrigger},
		{domain.Schedule{IntervalSec: 10, Timezone: "UTC"}, nil},
	}

	for _, tt := range tests {
		err := ValidateSchedule(&tt.sched)
		if !errors.Is(err, tt.want) && !(tt.want == nil && err == nil) {
			t.Errorf("ValidateSchedule(%+v) = %v, want %v", tt.sched, err, tt.want)
		}
	}
}

func TestLoad_SetsFirstDueTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, store := newTestScheduler(&fakeStarter{}, now)

	err := s.Load(context.Background(), []domain.Schedule{
		{Name: "every-minute", StateMachine: "main", IntervalSec: 60, Enabled: true},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	list, _ := store.List(context.Background())
	if len(list) != 1 {
		t.Fatalf("store has %d schedules", len(list))
	}
	if !list[0].NextDueAt.Equal(now.Add(time.Minute)) {
		t.Errorf("NextDueAt = %v", list[0].NextDueAt)
	}
	if list[0].Timezone != "UTC" {
		t.Errorf("Timezone = %q, want UTC default", list[0].Timezone)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	s, _ := newTestScheduler(&fakeStarter{}, time.Now())

	err := s.Load(context.Background(), []domain.Schedule{
		{Name: "broken", StateMachine: "main", CronExpr: "61 * * * *"},
	})
	if !errors.Is(err, ErrInvalidCron) {
		t.Errorf("expected ErrInvalidCron, got %v", err)
	}
}

func TestLoad_KeepsPendingDueTime(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, store := newTestScheduler(&fakeStarter{}, start)

	sched := domain.Schedule{Name: "hourly", StateMachine: "main", IntervalSec: 3600, Enabled: true}
	if err := s.Load(ctx, []domain.Schedule{sched}); err != nil {
		t.Fatal(err)
	}

	// Повторная загрузка (рестарт) не сдвигает ближайший запуск
	s.now = func() time.Time { return start.Add(30 * time.Minute) }
	if err := s.Load(ctx, []domain.Schedule{sched}); err != nil {
		t.Fatal(err)
	}

	list, _ := store.List(ctx)
	if !list[0].NextDueAt.Equal(start.Add(time.Hour)) {
		t.Errorf("NextDueAt = %v, want %v", list[0].NextDueAt, start.Add(time.Hour))
	}
}

func TestTick_StartsDueSchedules(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	starter := &fakeStarter{}
	s, store := newTestScheduler(starter, now)

	past := now.Add(-time.Second)
	future := now.Add(time.Hour)
	for _, sched := range []domain.Schedule{
		{Name: "due", StateMachine: "main", IntervalSec: 60, Enabled: true, NextDueAt: &past,
			Input: map[string]any{"source": "cron"}},
		{Name: "later", StateMachine: "main", IntervalSec: 60, Enabled: true, NextDueAt: &future},
		{Name: "disabled", StateMachine: "main", IntervalSec: 60, Enabled: false, NextDueAt: &past},
	} {
		if err := store.Upsert(ctx, &sched); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if starter.count() != 1 {
		t.Fatalf("started %d executions, want 1", starter.count())
	}
	call := starter.calls[0]
	if call.name != "main" || call.input.(map[string]any)["source"] != "cron" {
		t.Errorf("start call = %+v", call)
	}

	list, _ := store.List(ctx)
	for _, sched := range list {
		if sched.Name != "due" {
			continue
		}
		if !sched.NextDueAt.Equal(now.Add(time.Minute)) {
			t.Errorf("NextDueAt = %v, want %v", sched.NextDueAt, now.Add(time.Minute))
		}
		if sched.LastExecutionID == nil || sched.LastRunAt == nil {
			t.Error("last run must be recorded")
		}
	}

	// Второй тик в тот же момент ничего не запускает
	if err := s.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	if starter.count() != 1 {
		t.Errorf("started %d executions after second tick, want 1", starter.count())
	}
}

func TestTick_MissingStateMachineAdvances(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	starter := &fakeStarter{err: fmt.Errorf("%w: gone", engine.ErrNotFound)}
	s, store := newTestScheduler(starter, now)

	past := now.Add(-time.Second)
	sched := domain.Schedule{Name: "orphan", StateMachine: "gone", IntervalSec: 30, Enabled: true, NextDueAt: &past}
	if err := store.Upsert(ctx, &sched); err != nil {
		t.Fatal(err)
	}

	if err := s.Tick(ctx); err != nil {
		t.Fatal(err)
	}

	list, _ := store.List(ctx)
	if !list[0].NextDueAt.After(now) {
		t.Errorf("NextDueAt = %v, should move past now", list[0].NextDueAt)
	}
	if list[0].LastExecutionID != nil {
		t.Error("no execution was started")
	}
}

type fakeLeader struct {
	mu       sync.Mutex
	grant    bool
	calls    int
	released bool
}

func (l *fakeLeader) TryAcquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.grant, nil
}

func (l *fakeLeader) setGrant(grant bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.grant = grant
}

func (l *fakeLeader) stats() (calls int, released bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls, l.released
}

func (l *fakeLeader) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
	return nil
}

func TestRun_OnlyLeaderTicks(t *testing.T) {
	for _, grant := range []bool{false, true} {
		t.Run(fmt.Sprintf("leader=%v", grant), func(t *testing.T) {
			starter := &fakeStarter{}
			leader := &fakeLeader{grant: grant}
			store := NewMemoryStore()
			s := New(Config{
				Store:    store,
				Starter:  starter,
				Leader:   leader,
				Logger:   testLogger(),
				Interval: 10 * time.Millisecond,
			})

			past := time.Now().Add(-time.Second)
			sched := domain.Schedule{Name: "s", StateMachine: "main", IntervalSec: 3600, Enabled: true, NextDueAt: &past}
			if err := store.Upsert(context.Background(), &sched); err != nil {
				t.Fatal(err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				s.Run(ctx)
				close(done)
			}()
			time.Sleep(80 * time.Millisecond)
			cancel()
			<-done

			want := 0
			if grant {
				want = 1
			}
			if starter.count() != want {
				t.Errorf("started %d executions, want %d", starter.count(), want)
			}
			if _, released := leader.stats(); released != grant {
				t.Errorf("released = %v, want %v", released, grant)
			}
		})
	}
}

func TestRun_StopsTickingAfterLosingLock(t *testing.T) {
	starter := &fakeStarter{}
	leader := &fakeLeader{grant: true}
	store := NewMemoryStore()
	s := New(Config{
		Store:    store,
		Starter:  starter,
		Leader:   leader,
		Logger:   testLogger(),
		Interval: 10 * time.Millisecond,
	})

	due := func(name string) {
		past := time.Now().Add(-time.Second)
		sched := domain.Schedule{Name: name, StateMachine: "main", IntervalSec: 3600, Enabled: true, NextDueAt: &past}
		if err := store.Upsert(context.Background(), &sched); err != nil {
			t.Fatal(err)
		}
	}
	due("first")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for starter.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if starter.count() != 1 {
		cancel()
		<-done
		t.Fatalf("leader started %d executions, want 1", starter.count())
	}

	// Сессия лока потеряна, лок забрал другой экземпляр
	leader.setGrant(false)
	time.Sleep(30 * time.Millisecond)
	callsBefore, _ := leader.stats()
	due("second")
	time.Sleep(60 * time.Millisecond)
	cancel()
	<-done

	if starter.count() != 1 {
		t.Errorf("started %d executions after losing the lock, want 1", starter.count())
	}
	calls, released := leader.stats()
	if calls <= callsBefore {
		t.Error("leadership must be re-checked on every tick")
	}
	if released {
		t.Error("lost leadership must not be released again on exit")
	}
}

func TestMemoryStore_UpdateUnknown(t *testing.T) {
	store := NewMemoryStore()
	err := store.Update(context.Background(), &domain.Schedule{Name: "ghost"})
	if !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("expected ErrScheduleNotFound, got %v", err)
	}
}
