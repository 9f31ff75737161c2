package ai

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitedImageGenerator ограничивает частоту запросов к API изображений на весь процесс.
type RateLimitedImageGenerator struct {
	next    ImageGenerator
	limiter *rate.Limiter
}

// NewRateLimitedImageGenerator: perMinute запросов в минуту с всплеском burst.
// perMinute <= 0 отключает ограничение.
func NewRateLimitedImageGenerator(next ImageGenerator, perMinute, burst int) *RateLimitedImageGenerator {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedImageGenerator{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (g *RateLimitedImageGenerator) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	started := time.Now()
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("image rate limiter: %w", err)
	}
	imageRateLimitWait.Observe(time.Since(started).Seconds())
	return g.next.GenerateImage(ctx, req)
}
