// Package retry содержит ограниченный повтор с экспоненциальной задержкой
// и единую классификацию ошибок внешних AI API.
package retry

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// SleepFunc ждет d или отмены контекста.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy задает параметры повтора.
type Policy struct {
	MaxRetries int           // общее число попыток, включая первую
	BaseDelay  time.Duration // задержка перед второй попыткой; дальше удваивается
	// IsNonRetryable возвращает true для ошибок, которые бессмысленно повторять как есть.
	// Такая ошибка возвращается сразу, не расходуя попытки.
	IsNonRetryable func(error) bool
	Sleep          SleepFunc
	// OnRetry вызывается перед ожиданием (для логов и метрик).
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy - 3 попытки, задержки 1s и 2s, refinable и permanent ошибки не повторяются.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     DefaultMaxRetries,
		BaseDelay:      DefaultBaseDelay,
		IsNonRetryable: IsNonRetryable,
		Sleep:          SleepContext,
	}
}

// Delay возвращает задержку после неудачной попытки attempt (нумерация с 1): BaseDelay * 2^(attempt-1).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay * time.Duration(1<<uint(attempt-1))
}

// Do выполняет op до MaxRetries раз. После исчерпания попыток возвращается последняя ошибка.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if p.IsNonRetryable != nil && p.IsNonRetryable(err) {
			return zero, err
		}
		if attempt == maxRetries {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}
	return zero, lastErr
}

// SleepContext ждет d или отмены ctx.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
