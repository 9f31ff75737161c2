package interfaces

import "context"

// ObjectStorage загружает бинарные объекты и возвращает их публичный URL.
type ObjectStorage interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
}
