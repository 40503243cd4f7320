package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/stepflow/internal/domain"
	"github.com/shaiso/stepflow/internal/engine"
)

// DefinitionRepo — репозиторий определений state machines.
//
// Определение хранится целиком в JSONB; при чтении оно проходит тот же
// разбор, что и файлы определений.
type DefinitionRepo struct {
	pool *pgxpool.Pool
}

// NewDefinitionRepo создаёт новый DefinitionRepo.
func NewDefinitionRepo(pool *pgxpool.Pool) *DefinitionRepo {
	return &DefinitionRepo{pool: pool}
}

// Save создаёт или заменяет определение с тем же именем.
func (r *DefinitionRepo) Save(ctx context.Context, sm *domain.StateMachine) error {
	data, err := json.Marshal(sm)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	query := `
		INSERT INTO state_machines (name, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (name) DO UPDATE
		SET definition = EXCLUDED.definition, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.pool.Exec(ctx, query, sm.Name, data, time.Now().UTC()); err != nil {
		return fmt.Errorf("save definition: %w", err)
	}
	return nil
}

// Get возвращает определение по имени.
func (r *DefinitionRepo) Get(ctx context.Context, name string) (*domain.StateMachine, error) {
	var data []byte
	err := r.pool.QueryRow(ctx,
		`SELECT definition FROM state_machines WHERE name = $1`, name,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}
	return decodeDefinition(name, data)
}

// List возвращает все определения, отсортированные по имени.
func (r *DefinitionRepo) List(ctx context.Context) ([]*domain.StateMachine, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, definition FROM state_machines ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	var defs []*domain.StateMachine
	for rows.Next() {
		var (
			name string
			data []byte
		)
		if err := rows.Scan(&name, &data); err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}
		sm, err := decodeDefinition(name, data)
		if err != nil {
			return nil, err
		}
		defs = append(defs, sm)
	}
	return defs, rows.Err()
}

// Delete удаляет определение.
func (r *DefinitionRepo) Delete(ctx context.Context, name string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM state_machines WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete definition: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeDefinition(name string, data []byte) (*domain.StateMachine, error) {
	sm, err := engine.ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrInvalidDefinition, name, err)
	}
	if sm.Name == "" {
		sm.Name = name
	}
	return sm, nil
}
