// Package scheduler запускает state machines по расписанию.
//
// Scheduler периодически проверяет schedules с истекшим next_due_at
// и запускает выполнения через Starter.
//
// Структура:
//   - scheduler.go — основная логика Scheduler (Load, Run, Tick)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//   - store.go     — хранилище состояния расписаний
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Store:   repo.NewScheduleRepo(pool), // опционально, по умолчанию в памяти
//	    Starter: orch,
//	    Leader:  repo.NewAdvisoryLock(pool, repo.SchedulerLockKey), // опционально
//	    Logger:  logger,
//	})
//	if err := sched.Load(ctx, cfg.Schedules); err != nil { ... }
//	go sched.Run(ctx)
//
// Leader Election:
//
// При нескольких репликах сервера тики выполняет только держатель
// pg_try_advisory_lock (Config.Leader).
package scheduler
