package handlers

import (
	"context"
	"fmt"
	"sync"
)

// ObjectStore — объектное хранилище, доступное обработчикам задач.
// Реализуется repo.ObjectRepo (PostgreSQL) и MemoryStore.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, key string, body []byte) error
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// MemoryStore — ObjectStore в памяти процесса.
// Используется, когда база данных не настроена.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// PutObject сохраняет объект, перезаписывая существующий.
func (s *MemoryStore) PutObject(_ context.Context, bucket, key string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+key] = append([]byte(nil), body...)
	return nil
}

// GetObject возвращает копию объекта.
func (s *MemoryStore) GetObject(_ context.Context, bucket, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}
	return append([]byte(nil), body...), nil
}
