package worker

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

const jobName = "story_generator_worker"

var (
	// Отдельный реестр воркера. Отдается на /metrics вместе с DefaultGatherer
	// и, если задан PUSHGATEWAY_URL, периодически отправляется в Pushgateway.
	registry = prometheus.NewRegistry()

	tasksReceived = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_generator_tasks_received_total",
			Help: "Total number of story tasks received by the worker.",
		},
		[]string{"type"},
	)
	tasksFailed = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_generator_tasks_failed_total",
			Help: "Total number of story tasks failed, partitioned by failure reason.",
		},
		[]string{"reason"},
	)
	tasksSucceeded = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_generator_tasks_succeeded_total",
			Help: "Total number of story tasks processed without error.",
		},
		[]string{"type"},
	)
	taskDuration = promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_generator_task_duration_seconds",
			Help:    "Story task processing time.",
			Buckets: []float64{1, 10, 60, 180, 600, 1200, 1800},
		},
		[]string{"type"},
	)
)

// Registry возвращает реестр метрик воркера.
func Registry() *prometheus.Registry {
	return registry
}

// Gatherer объединяет метрики воркера и глобальные метрики пайплайна и AI-клиентов.
func Gatherer() prometheus.Gatherer {
	return prometheus.Gatherers{prometheus.DefaultGatherer, registry}
}

// MetricsPusher периодически отправляет реестр воркера в Pushgateway.
type MetricsPusher struct {
	pusher *push.Pusher
	logger *zap.Logger
	stop   chan struct{}
}

// NewMetricsPusher создает клиент Pushgateway и делает пробную отправку.
func NewMetricsPusher(pushgatewayURL string, logger *zap.Logger) (*MetricsPusher, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
		logger.Warn("Could not get hostname for metrics grouping", zap.Error(err))
	}
	instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	p := &MetricsPusher{
		pusher: push.New(pushgatewayURL, jobName).Gatherer(registry).Grouping("instance", instanceID),
		logger: logger.Named("MetricsPusher"),
		stop:   make(chan struct{}),
	}
	if err := p.pusher.Push(); err != nil {
		return nil, fmt.Errorf("could not push initial metrics to Pushgateway: %w", err)
	}
	p.logger.Info("Pushgateway pusher initialized", zap.String("url", pushgatewayURL), zap.String("instance", instanceID))
	return p, nil
}

// Start запускает периодическую отправку.
func (p *MetricsPusher) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := p.pusher.Push(); err != nil {
					p.logger.Warn("Error pushing metrics to Pushgateway", zap.Error(err))
				}
			case <-p.stop:
				return
			}
		}
	}()
}

// Close останавливает отправку и удаляет группу инстанса из Pushgateway.
func (p *MetricsPusher) Close() {
	close(p.stop)
	if err := p.pusher.Delete(); err != nil {
		p.logger.Warn("Error deleting metrics from Pushgateway", zap.Error(err))
	}
}
