package interfaces

import (
	"context"
	"time"
)

// Locker выдает эксклюзивные блокировки по ключу в пределах развертывания.
type Locker interface {
	// Acquire берет блокировку на ttl. ErrLockNotAcquired, если ключ занят.
	// Возвращаемая функция освобождает блокировку, только если она все еще принадлежит вызывающему.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}
