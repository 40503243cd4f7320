package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/stepflow/internal/domain"
	"github.com/shaiso/stepflow/internal/engine"
)

// Default configuration values.
const (
	defaultBatchSize    = 100
	defaultTickInterval = time.Second
)

// Starter запускает выполнение зарегистрированной state machine
// (реализуется orchestrator.Orchestrator).
type Starter interface {
	StartByName(ctx context.Context, name string, input any) (uuid.UUID, error)
}

// Leader определяет, должен ли этот экземпляр выполнять тики
// (реализуется repo.AdvisoryLock). Без Leader экземпляр всегда лидер.
//
// TryAcquire вызывается перед каждым тиком и должен подтверждать, что лок
// всё ещё принадлежит экземпляру, а не только что он был получен когда-то.
type Leader interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Scheduler — планировщик, запускающий due schedules.
type Scheduler struct {
	store     Store
	starter   Starter
	leader    Leader
	logger    *slog.Logger
	batchSize int
	interval  time.Duration
	now       func() time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Store     Store   // default: MemoryStore
	Starter   Starter // обязательно
	Leader    Leader  // опционально
	Logger    *slog.Logger
	BatchSize int           // количество schedules за один тик (default: 100)
	Interval  time.Duration // период тиков в Run (default: 1s)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultTickInterval
	}

	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		store:     store,
		starter:   cfg.Starter,
		leader:    cfg.Leader,
		logger:    logger,
		batchSize: batchSize,
		interval:  interval,
		now:       time.Now,
	}
}

// Load регистрирует расписания: проверяет их, вычисляет первое время
// запуска и сохраняет в Store.
func (s *Scheduler) Load(ctx context.Context, schedules []domain.Schedule) error {
	now := s.now()
	for i := range schedules {
		sched := schedules[i]
		if sched.Timezone == "" {
			sched.Timezone = "UTC"
		}
		if err := ValidateSchedule(&sched); err != nil {
			return fmt.Errorf("schedule %s: %w", sched.Name, err)
		}

		next, err := CalculateNextDue(&sched, now)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", sched.Name, err)
		}
		sched.NextDueAt = &next

		if err := s.store.Upsert(ctx, &sched); err != nil {
			return fmt.Errorf("schedule %s: %w", sched.Name, err)
		}
		s.logger.Info("schedule loaded",
			"schedule", sched.Name,
			"state_machine", sched.StateMachine,
			"enabled", sched.Enabled,
		)
	}
	return nil
}

// List возвращает текущее состояние расписаний.
func (s *Scheduler) List(ctx context.Context) ([]domain.Schedule, error) {
	return s.store.List(ctx)
}

// Run выполняет тики до отмены ctx.
//
// С Leader лидерство проверяется перед каждым тиком: потерявший лок экземпляр
// перестаёт тикать. Лидерство освобождается при выходе.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var leading bool
	defer func() {
		if leading && s.leader != nil {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.leader.Release(releaseCtx); err != nil {
				s.logger.Warn("failed to release scheduler lock", "error", err)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.leader != nil {
			leading = s.confirmLeadership(ctx, leading)
			if !leading {
				continue
			}
		}

		if err := s.Tick(ctx); err != nil {
			s.logger.Error("scheduler tick failed", "error", err)
		}
	}
}

// confirmLeadership проверяет лидерство перед тиком.
func (s *Scheduler) confirmLeadership(ctx context.Context, wasLeading bool) bool {
	ok, err := s.leader.TryAcquire(ctx)
	if err != nil {
		s.logger.Warn("scheduler lock error", "error", err)
		ok = false
	}

	switch {
	case ok && !wasLeading:
		s.logger.Info("scheduler became leader")
	case !ok && wasLeading:
		s.logger.Warn("scheduler lost leadership")
	}
	return ok
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled, next_due_at <= now)
// 2. Для каждого запускает выполнение
// 3. Сдвигает next_due_at
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()

	schedules, err := s.store.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}
	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var started int
	for i := range schedules {
		sched := &schedules[i]

		ok, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule", sched.Name,
				"error", err,
			)
			continue
		}
		if ok {
			started++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"executions_started", started,
	)
	return nil
}

// processSchedule запускает выполнение и сдвигает next_due_at.
// Возвращает true, если выполнение запущено.
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	id, err := s.starter.StartByName(ctx, sched.StateMachine, sched.Input)
	started := err == nil
	if err != nil {
		if !errors.Is(err, engine.ErrNotFound) {
			return false, fmt.Errorf("start execution: %w", err)
		}
		// Определение удалено: пропускаем запуск, но расписание идёт дальше
		s.logger.Warn("state machine not found for schedule, skipping",
			"schedule", sched.Name,
			"state_machine", sched.StateMachine,
		)
	} else {
		s.logger.Info("execution started from schedule",
			"execution_id", id,
			"schedule", sched.Name,
			"state_machine", sched.StateMachine,
		)
	}

	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		return started, fmt.Errorf("calculate next due: %w", err)
	}

	if started {
		sched.RecordRun(id, nextDue)
	} else {
		sched.NextDueAt = &nextDue
	}
	if err := s.store.Update(ctx, sched); err != nil {
		return started, fmt.Errorf("update schedule: %w", err)
	}
	return started, nil
}
