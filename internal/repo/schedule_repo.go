package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/stepflow/internal/document"
	"github.com/shaiso/stepflow/internal/domain"
)

// ScheduleRepo — репозиторий расписаний.
//
// Расписания задаются в конфигурации; в БД хранится их состояние
// (next_due_at, последний запуск), общее для всех реплик сервера.
type ScheduleRepo struct {
	pool *pgxpool.Pool
}

// NewScheduleRepo создаёт новый ScheduleRepo.
func NewScheduleRepo(pool *pgxpool.Pool) *ScheduleRepo {
	return &ScheduleRepo{pool: pool}
}

const scheduleColumns = `name, state_machine, cron_expr, interval_sec, timezone, enabled,
	next_due_at, last_run_at, last_execution_id, input`

// Upsert создаёт расписание или обновляет его настройки.
//
// next_due_at сохраняется, если выражение расписания не изменилось:
// перезапуск сервера не сдвигает ближайший запуск.
func (r *ScheduleRepo) Upsert(ctx context.Context, sched *domain.Schedule) error {
	inputJSON, err := json.Marshal(sched.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}

	query := `
		INSERT INTO schedules (` + scheduleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (name) DO UPDATE
		SET state_machine = EXCLUDED.state_machine,
		    cron_expr     = EXCLUDED.cron_expr,
		    interval_sec  = EXCLUDED.interval_sec,
		    timezone      = EXCLUDED.timezone,
		    enabled       = EXCLUDED.enabled,
		    input         = EXCLUDED.input,
		    next_due_at   = CASE
		        WHEN schedules.next_due_at IS NULL
		          OR schedules.cron_expr IS DISTINCT FROM EXCLUDED.cron_expr
		          OR schedules.interval_sec IS DISTINCT FROM EXCLUDED.interval_sec
		          OR schedules.timezone <> EXCLUDED.timezone
		        THEN EXCLUDED.next_due_at
		        ELSE schedules.next_due_at
		    END
	`
	_, err = r.pool.Exec(ctx, query,
		sched.Name,
		sched.StateMachine,
		nullString(sched.CronExpr),
		nullInt(sched.IntervalSec),
		timezoneOrUTC(sched.Timezone),
		sched.Enabled,
		sched.NextDueAt,
		sched.LastRunAt,
		sched.LastExecutionID,
		inputJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert schedule: %w", err)
	}
	return nil
}

// Get возвращает расписание по имени.
func (r *ScheduleRepo) Get(ctx context.Context, name string) (*domain.Schedule, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE name = $1`, name)
	sched, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sched, err
}

// List возвращает все расписания.
func (r *ScheduleRepo) List(ctx context.Context) ([]domain.Schedule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return collectSchedules(rows)
}

// ListDue возвращает расписания, готовые к выполнению.
func (r *ScheduleRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE enabled = true
		  AND next_due_at IS NOT NULL
		  AND next_due_at <= $1
		ORDER BY next_due_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	return collectSchedules(rows)
}

// Update сохраняет результат запуска расписания.
func (r *ScheduleRepo) Update(ctx context.Context, sched *domain.Schedule) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE schedules
		SET next_due_at = $2, last_run_at = $3, last_execution_id = $4
		WHERE name = $1
	`, sched.Name, sched.NextDueAt, sched.LastRunAt, sched.LastExecutionID)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

func collectSchedules(rows pgx.Rows) ([]domain.Schedule, error) {
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *sched)
	}
	return schedules, rows.Err()
}

// scanSchedule читает расписание из pgx.Row или pgx.Rows.
func scanSchedule(row pgx.Row) (*domain.Schedule, error) {
	var s domain.Schedule
	var cronExpr *string
	var intervalSec *int
	var inputJSON []byte

	err := row.Scan(
		&s.Name,
		&s.StateMachine,
		&cronExpr,
		&intervalSec,
		&s.Timezone,
		&s.Enabled,
		&s.NextDueAt,
		&s.LastRunAt,
		&s.LastExecutionID,
		&inputJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan schedule: %w", err)
	}

	if cronExpr != nil {
		s.CronExpr = *cronExpr
	}
	if intervalSec != nil {
		s.IntervalSec = *intervalSec
	}
	if inputJSON != nil {
		input, err := document.Decode(inputJSON)
		if err != nil {
			return nil, fmt.Errorf("decode input: %w", err)
		}
		s.Input = input
	}

	return &s, nil
}

// nullInt возвращает nil для нулевого int.
func nullInt(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func timezoneOrUTC(tz string) string {
	if tz == "" {
		return "UTC"
	}
	return tz
}
