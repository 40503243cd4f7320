package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SchedulerLockKey — ключ advisory lock лидера планировщика.
const SchedulerLockKey int64 = 424242

// AdvisoryLock — лидерство через pg_try_advisory_lock.
//
// Advisory lock принадлежит соединению, поэтому AdvisoryLock удерживает
// одно соединение из пула, пока лидерство не освобождено.
type AdvisoryLock struct {
	pool *pgxpool.Pool
	key  int64

	mu   sync.Mutex
	conn *pgxpool.Conn
}

// NewAdvisoryLock создаёт лок с ключом key.
func NewAdvisoryLock(pool *pgxpool.Pool, key int64) *AdvisoryLock {
	return &AdvisoryLock{pool: pool, key: key}
}

// TryAcquire пытается стать лидером или подтверждает лидерство.
//
// Удерживаемый лок проверяется по pg_locks на каждом вызове: если соединение
// оборвалось или сессия потеряла лок, соединение закрывается и лок
// запрашивается заново на новом.
func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		held, err := l.held(ctx)
		if err == nil && held {
			return true, nil
		}
		l.drop()
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&ok); err != nil {
		conn.Release()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// held проверяет, что сессия удерживаемого соединения всё ещё владеет локом.
func (l *AdvisoryLock) held(ctx context.Context) (bool, error) {
	classID, objID := lockKeyParts(l.key)

	var ok bool
	err := l.conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_locks
			WHERE locktype = 'advisory' AND granted AND pid = pg_backend_pid()
			  AND classid::bigint = $1 AND objid::bigint = $2 AND objsubid = 1
		)`, classID, objID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check advisory lock: %w", err)
	}
	return ok, nil
}

// drop закрывает удерживаемое соединение; пул его не переиспользует.
func (l *AdvisoryLock) drop() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_ = l.conn.Conn().Close(ctx)
	l.conn.Release()
	l.conn = nil
}

// lockKeyParts раскладывает bigint-ключ так, как его показывает pg_locks:
// старшие 32 бита в classid, младшие в objid.
func lockKeyParts(key int64) (classID, objID int64) {
	u := uint64(key)
	return int64(u >> 32), int64(u & 0xffffffff)
}

// Release освобождает лидерство.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Release()
		l.conn = nil
	}()

	if _, err := l.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", l.key); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}
