package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/stepflow/internal/domain"
)

// Store хранит состояние расписаний (реализуется repo.ScheduleRepo и MemoryStore).
type Store interface {
	// Upsert создаёт расписание или обновляет его настройки,
	// сохраняя next_due_at, если выражение не изменилось.
	Upsert(ctx context.Context, sched *domain.Schedule) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error)
	Update(ctx context.Context, sched *domain.Schedule) error
	List(ctx context.Context) ([]domain.Schedule, error)
}

// MemoryStore — Store в памяти процесса (без БД).
type MemoryStore struct {
	mu        sync.Mutex
	schedules map[string]domain.Schedule
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{schedules: make(map[string]domain.Schedule)}
}

func (s *MemoryStore) Upsert(_ context.Context, sched *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *sched
	if prev, ok := s.schedules[sched.Name]; ok && prev.NextDueAt != nil &&
		prev.CronExpr == sched.CronExpr && prev.IntervalSec == sched.IntervalSec &&
		prev.Timezone == sched.Timezone {
		next.NextDueAt = prev.NextDueAt
		next.LastRunAt = prev.LastRunAt
		next.LastExecutionID = prev.LastExecutionID
	}
	s.schedules[sched.Name] = next
	return nil
}

func (s *MemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.Schedule
	for _, sched := range s.schedules {
		if sched.IsDue(now) {
			due = append(due, sched)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextDueAt.Before(*due[j].NextDueAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) Update(_ context.Context, sched *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.schedules[sched.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, sched.Name)
	}
	cur.NextDueAt = sched.NextDueAt
	cur.LastRunAt = sched.LastRunAt
	cur.LastExecutionID = sched.LastExecutionID
	s.schedules[sched.Name] = cur
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]domain.Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		list = append(list, sched)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}
