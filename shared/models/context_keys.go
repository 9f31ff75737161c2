package models

import "context"

// contextKey - приватный тип для ключей контекста, чтобы избежать коллизий.
type contextKey string

const (
	// IdentityContextKey используется как ключ для хранения Identity в контексте запроса.
	IdentityContextKey contextKey = "identity"
)

// WithIdentity кладет Identity в контекст.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, id)
}

// IdentityFromContext извлекает Identity из контекста.
// Возвращает false, если вызывающая сторона не аутентифицирована.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(IdentityContextKey).(Identity)
	if !ok || id.UID == "" {
		return Identity{}, false
	}
	return id, true
}
