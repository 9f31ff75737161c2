package config

import (
	"fmt"
	"strings"

	"storybook-server/shared/utils"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Config содержит всю конфигурацию для WebSocket сервиса.
type Config struct {
	Server   ServerConfig
	RabbitMQ RabbitMQConfig
	Auth     AuthConfig
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// ServerConfig содержит настройки HTTP сервера.
type ServerConfig struct {
	Port           string   `envconfig:"PORT" default:"8083"`
	MetricsPort    string   `envconfig:"METRICS_PORT" default:"9092"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`
	SendBuffer     int      `envconfig:"WS_SEND_BUFFER" default:"64"`
}

// RabbitMQConfig содержит настройки для подключения к RabbitMQ.
type RabbitMQConfig struct {
	URL string `envconfig:"RABBITMQ_URL" required:"true"`
}

// AuthConfig - способ проверки токена клиента. Совпадает с API story-generator.
type AuthConfig struct {
	Mode            string `envconfig:"AUTH_MODE" default:"firebase"` // firebase | jwt
	ProjectID       string `envconfig:"FIREBASE_PROJECT_ID"`
	CredentialsFile string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
	JWTSecret       string `ignored:"true"`
}

// LoadConfig загружает конфигурацию из переменных окружения и секретов.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	switch cfg.Auth.Mode {
	case "jwt":
		secret, err := utils.ReadSecretOrEnv("jwt_secret", "JWT_SECRET")
		if err != nil {
			return nil, err
		}
		cfg.Auth.JWTSecret = secret
	case "firebase":
		if cfg.Auth.ProjectID == "" {
			return nil, fmt.Errorf("FIREBASE_PROJECT_ID обязателен при AUTH_MODE=firebase")
		}
	default:
		return nil, fmt.Errorf("неизвестный AUTH_MODE '%s' (firebase | jwt)", cfg.Auth.Mode)
	}
	if cfg.Server.SendBuffer <= 0 {
		return nil, fmt.Errorf("WS_SEND_BUFFER должен быть положительным, получено %d", cfg.Server.SendBuffer)
	}
	return &cfg, nil
}

// LogSummary печатает итоговую конфигурацию без секретов.
func (c *Config) LogSummary(log zerolog.Logger) {
	log.Info().
		Str("port", c.Server.Port).
		Str("metrics_port", c.Server.MetricsPort).
		Str("allowed_origins", strings.Join(c.Server.AllowedOrigins, ",")).
		Int("send_buffer", c.Server.SendBuffer).
		Str("auth_mode", c.Auth.Mode).
		Str("firebase_project", c.Auth.ProjectID).
		Bool("jwt_secret_loaded", c.Auth.JWTSecret != "").
		Msg("Конфигурация WebSocket сервиса загружена")
}
