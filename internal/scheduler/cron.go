package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/stepflow/internal/domain"
)

// cronParser — парсер cron-выражений из пяти полей.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CalculateNextDue вычисляет время запуска после from.
//
// Cron-выражение вычисляется в timezone расписания (невалидный timezone
// считается UTC); интервал просто добавляется к from. Результат в UTC.
func CalculateNextDue(sched *domain.Schedule, from time.Time) (time.Time, error) {
	switch {
	case sched.IsCron():
		expr, err := cronParser.Parse(sched.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w %q: %v", ErrInvalidCron, sched.CronExpr, err)
		}
		return expr.Next(from.In(location(sched.Timezone))).UTC(), nil

	case sched.IsInterval():
		return from.Add(time.Duration(sched.IntervalSec) * time.Second).UTC(), nil

	default:
		return time.Time{}, ErrNoTrigger
	}
}

// ValidateSchedule проверяет cron-выражение и timezone расписания.
func ValidateSchedule(sched *domain.Schedule) error {
	if sched.Timezone != "" {
		if _, err := time.LoadLocation(sched.Timezone); err != nil {
			return fmt.Errorf("%w %q: %v", ErrInvalidTimezone, sched.Timezone, err)
		}
	}
	_, err := CalculateNextDue(sched, time.Now())
	return err
}

func location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
