package scheduler

import "errors"

var (
	// ErrInvalidCron — cron-выражение не разобрано.
	ErrInvalidCron = errors.New("invalid cron expression")

	// ErrInvalidTimezone — неизвестный timezone.
	ErrInvalidTimezone = errors.New("invalid timezone")

	// ErrNoTrigger — не задан ни cron_expr, ни interval_sec.
	ErrNoTrigger = errors.New("schedule has neither cron_expr nor interval_sec")

	// ErrScheduleNotFound — расписание не найдено в Store.
	ErrScheduleNotFound = errors.New("schedule not found")
)
