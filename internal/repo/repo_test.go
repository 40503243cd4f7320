package repo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/stepflow/internal/domain"
)

func TestHelpers(t *testing.T) {
	if nullInt(0) != nil || *nullInt(5) != 5 {
		t.Error("nullInt")
	}
	if nullString("") != nil || *nullString("x") != "x" {
		t.Error("nullString")
	}
	if timezoneOrUTC("") != "UTC" || timezoneOrUTC("Europe/Moscow") != "Europe/Moscow" {
		t.Error("timezoneOrUTC")
	}
}

func TestDecodeDefinition(t *testing.T) {
	sm, err := decodeDefinition("stored", []byte(`{
		"start_at": "P",
		"states": {"P": {"type": "Pass", "result": {"n": 1}}}
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sm.Name != "stored" {
		t.Errorf("Name = %q, want name of the row", sm.Name)
	}

	if _, err := decodeDefinition("broken", []byte(`{`)); !errors.Is(err, ErrInvalidDefinition) {
		t.Errorf("expected ErrInvalidDefinition, got %v", err)
	}
}

func TestPoolConfig(t *testing.T) {
	cfg, err := poolConfig("", WithApplicationName("stepflow-test"), WithMaxConns(1))
	if err != nil {
		t.Fatalf("poolConfig: %v", err)
	}
	if cfg.ConnConfig.Database != "stepflow" || cfg.ConnConfig.Port != 55432 {
		t.Errorf("default dsn not applied: %s:%d", cfg.ConnConfig.Database, cfg.ConnConfig.Port)
	}
	if got := cfg.ConnConfig.RuntimeParams["application_name"]; got != "stepflow-test" {
		t.Errorf("application_name = %q", got)
	}
	if cfg.MaxConns != 2 {
		t.Errorf("MaxConns = %d, want floor of 2", cfg.MaxConns)
	}

	if _, err := poolConfig("postgres://%zz"); err == nil {
		t.Error("expected error for malformed dsn")
	}
}

// testPool подключается к базе из STEPFLOW_TEST_DB_URL; без неё тест пропускается.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("STEPFLOW_TEST_DB_URL")
	if dsn == "" {
		t.Skip("STEPFLOW_TEST_DB_URL is not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return pool
}

func TestDefinitionRepo(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	r := NewDefinitionRepo(pool)

	name := "test-" + uuid.NewString()
	sm := &domain.StateMachine{
		Name:    name,
		StartAt: "P",
		States:  map[string]*domain.State{"P": {Type: domain.StateTypePass}},
	}
	if err := r.Save(ctx, sm); err != nil {
		t.Fatalf("save: %v", err)
	}
	t.Cleanup(func() { _ = r.Delete(ctx, name) })

	got, err := r.Get(ctx, name)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.StartAt != "P" || got.States["P"].Type != domain.StateTypePass {
		t.Errorf("stored definition = %+v", got)
	}

	if err := r.Delete(ctx, name); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.Get(ctx, name); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestObjectRepo(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	r := NewObjectRepo(pool)

	bucket := "test-" + uuid.NewString()
	if err := r.PutObject(ctx, bucket, "k", []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := r.PutObject(ctx, bucket, "k", []byte("two")); err != nil {
		t.Fatal(err)
	}

	body, err := r.GetObject(ctx, bucket, "k")
	if err != nil || string(body) != "two" {
		t.Errorf("GetObject = %q, %v", body, err)
	}
	if _, err := r.GetObject(ctx, bucket, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestScheduleRepo_UpsertKeepsNextDue(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	r := NewScheduleRepo(pool)

	due := time.Now().Add(-time.Minute).UTC().Truncate(time.Microsecond)
	sched := &domain.Schedule{
		Name:         "test-" + uuid.NewString(),
		StateMachine: "main",
		CronExpr:     "*/5 * * * *",
		Enabled:      true,
		Input:        map[string]any{"a": 1.0},
		NextDueAt:    &due,
	}
	if err := r.Upsert(ctx, sched); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	later := due.Add(time.Hour)
	sched.NextDueAt = &later
	if err := r.Upsert(ctx, sched); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := r.Get(ctx, sched.Name)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.NextDueAt.Equal(due) {
		t.Errorf("next_due_at = %v, want unchanged %v", got.NextDueAt, due)
	}

	dueList, err := r.ListDue(ctx, time.Now(), 100)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	found := false
	for _, s := range dueList {
		if s.Name == sched.Name {
			found = true
		}
	}
	if !found {
		t.Error("schedule should be due")
	}
}

func TestLockKeyParts(t *testing.T) {
	tests := []struct {
		key            int64
		classID, objID int64
	}{
		{SchedulerLockKey, 0, 424242},
		{1<<32 + 7, 1, 7},
		{-1, 0xffffffff, 0xffffffff},
	}
	for _, tt := range tests {
		classID, objID := lockKeyParts(tt.key)
		if classID != tt.classID || objID != tt.objID {
			t.Errorf("lockKeyParts(%d) = %d, %d, want %d, %d", tt.key, classID, objID, tt.classID, tt.objID)
		}
	}
}

func TestAdvisoryLock_LostSession(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	key := SchedulerLockKey + 1

	first := NewAdvisoryLock(pool, key)
	second := NewAdvisoryLock(pool, key)
	t.Cleanup(func() {
		first.Release(ctx)
		second.Release(ctx)
	})

	if ok, err := first.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	if ok, _ := first.TryAcquire(ctx); !ok {
		t.Fatal("live session must keep leadership")
	}
	if ok, _ := second.TryAcquire(ctx); ok {
		t.Fatal("second instance acquired a held lock")
	}

	var pid int32
	if err := first.conn.QueryRow(ctx, "SELECT pg_backend_pid()").Scan(&pid); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Exec(ctx, "SELECT pg_terminate_backend($1)", pid); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	acquired := false
	for !acquired && time.Now().Before(deadline) {
		acquired, _ = second.TryAcquire(ctx)
		if !acquired {
			time.Sleep(20 * time.Millisecond)
		}
	}
	if !acquired {
		t.Fatal("lock was not freed after the holder's session ended")
	}

	if ok, _ := first.TryAcquire(ctx); ok {
		t.Error("instance with a terminated session still reports leadership")
	}
}
