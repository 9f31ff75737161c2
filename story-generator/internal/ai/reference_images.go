package ai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const maxReferenceImageBytes = 10 << 20

// ReferenceImage - загруженное фото ребенка.
type ReferenceImage struct {
	Data     []byte
	MIMEType string
}

// ReferenceImageFetcher скачивает референсные изображения и кэширует их по URL.
// Одно фото ребенка используется для каждой страницы истории.
type ReferenceImageFetcher struct {
	httpClient *http.Client
	cache      *cache.Cache
	logger     *zap.Logger
}

func NewReferenceImageFetcher(httpClient *http.Client, ttl time.Duration, logger *zap.Logger) *ReferenceImageFetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &ReferenceImageFetcher{
		httpClient: httpClient,
		cache:      cache.New(ttl, 2*ttl),
		logger:     logger.Named("ReferenceImageFetcher"),
	}
}

// Fetch возвращает изображение из кэша или скачивает его.
func (f *ReferenceImageFetcher) Fetch(ctx context.Context, url string) (*ReferenceImage, error) {
	if cached, ok := f.cache.Get(url); ok {
		return cached.(*ReferenceImage), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid reference image url: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download reference image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download reference image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReferenceImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read reference image: %w", err)
	}
	if len(data) > maxReferenceImageBytes {
		return nil, fmt.Errorf("reference image exceeds %d bytes", maxReferenceImageBytes)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	img := &ReferenceImage{Data: data, MIMEType: mime}
	f.cache.Set(url, img, cache.DefaultExpiration)

	f.logger.Debug("Reference image cached", zap.Int("bytes", len(data)), zap.String("mime", mime))
	return img, nil
}
