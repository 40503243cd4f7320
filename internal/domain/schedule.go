package domain

import (
	"time"

	"github.com/google/uuid"
)

// Schedule — расписание автоматического запуска state machine.
//
// Schedule позволяет запускать state machine:
// - По cron-выражению: "0 9 * * *" (каждый день в 9:00)
// - По интервалу: каждые N секунд
//
// Scheduler проверяет next_due_at и запускает выполнение, когда время подошло.
type Schedule struct {
	// Name — уникальное имя расписания.
	Name string `json:"name" yaml:"name" validate:"required"`

	// StateMachine — имя state machine, которую нужно запускать.
	StateMachine string `json:"state_machine" yaml:"state_machine" validate:"required"`

	// CronExpr — cron-выражение.
	// Формат: "минуты часы дни месяцы дни_недели"
	// Примеры:
	//   "0 9 * * *"     — каждый день в 9:00
	//   "*/5 * * * *"   — каждые 5 минут
	// Если задан CronExpr, IntervalSec игнорируется.
	CronExpr string `json:"cron_expr,omitempty" yaml:"cron_expr,omitempty" validate:"required_without=IntervalSec"`

	// IntervalSec — интервал в секундах между запусками.
	// Используется если CronExpr не задан.
	IntervalSec int `json:"interval_sec,omitempty" yaml:"interval_sec,omitempty" validate:"gte=0"`

	// Timezone — часовой пояс для вычисления времени.
	// По умолчанию: "UTC".
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`

	// Enabled — флаг активности расписания.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Input — входной документ каждого запуска.
	Input any `json:"input,omitempty" yaml:"input,omitempty"`

	// NextDueAt — время следующего запуска.
	NextDueAt *time.Time `json:"next_due_at,omitempty" yaml:"-"`

	// LastRunAt — время последнего запуска.
	LastRunAt *time.Time `json:"last_run_at,omitempty" yaml:"-"`

	// LastExecutionID — ID последнего запущенного выполнения.
	LastExecutionID *uuid.UUID `json:"last_execution_id,omitempty" yaml:"-"`
}

// IsCron возвращает true, если расписание использует cron-выражение.
func (s *Schedule) IsCron() bool {
	return s.CronExpr != ""
}

// IsInterval возвращает true, если расписание использует интервал.
func (s *Schedule) IsInterval() bool {
	return s.CronExpr == "" && s.IntervalSec > 0
}

// IsDue проверяет, пора ли запускать.
func (s *Schedule) IsDue(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.NextDueAt == nil {
		return false
	}
	return now.After(*s.NextDueAt) || now.Equal(*s.NextDueAt)
}

// RecordRun записывает информацию о запуске.
func (s *Schedule) RecordRun(executionID uuid.UUID, nextDue time.Time) {
	now := time.Now()
	s.LastRunAt = &now
	s.LastExecutionID = &executionID
	s.NextDueAt = &nextDue
}
