package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ObjectRepo — объектное хранилище обработчиков задач поверх PostgreSQL.
// Объект адресуется парой (bucket, key).
type ObjectRepo struct {
	pool *pgxpool.Pool
}

// NewObjectRepo создаёт новый ObjectRepo.
func NewObjectRepo(pool *pgxpool.Pool) *ObjectRepo {
	return &ObjectRepo{pool: pool}
}

// PutObject сохраняет объект, перезаписывая существующий.
func (r *ObjectRepo) PutObject(ctx context.Context, bucket, key string, body []byte) error {
	query := `
		INSERT INTO objects (bucket, key, body, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (bucket, key) DO UPDATE
		SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.pool.Exec(ctx, query, bucket, key, body, time.Now().UTC()); err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// GetObject возвращает содержимое объекта.
func (r *ObjectRepo) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	var body []byte
	err := r.pool.QueryRow(ctx,
		`SELECT body FROM objects WHERE bucket = $1 AND key = $2`, bucket, key,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return body, nil
}
