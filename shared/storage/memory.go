package storage

import (
	"context"
	"sync"

	"storybook-server/shared/interfaces"
)

var _ interfaces.ObjectStorage = (*MemoryStorage)(nil)

// MemoryStorage держит объекты в памяти. Для тестов и локального запуска без облака.
type MemoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	baseURL string
}

func NewMemoryStorage(baseURL string) *MemoryStorage {
	return &MemoryStorage{objects: map[string][]byte{}, baseURL: baseURL}
}

func (s *MemoryStorage) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte(nil), data...)
	return objectURL(s.baseURL, "memory", path), nil
}

// Object возвращает сохраненный объект.
func (s *MemoryStorage) Object(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	return data, ok
}

// Len - количество сохраненных объектов.
func (s *MemoryStorage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
