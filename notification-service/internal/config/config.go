package config

import (
	"fmt"
	"log"

	"storybook-server/shared/utils"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env               string `yaml:"env" env:"ENV" env-default:"dev"` // суффикс коллекций Firestore
	RabbitMQ          RabbitMQConfig
	Firebase          FirebaseConfig
	APNS              APNSConfig
	Email             EmailConfig
	Log               LogConfig
	WorkerConcurrency int    `yaml:"worker_concurrency" env:"WORKER_CONCURRENCY" env-default:"10"`
	HealthCheckPort   string `yaml:"health_check_port" env:"HEALTH_CHECK_PORT" env-default:"8088"`
}

type RabbitMQConfig struct {
	URI string `yaml:"uri" env:"RABBITMQ_URI" env-required:"true"`
}

// FirebaseConfig - Firestore (аккаунты и токены устройств) и FCM.
type FirebaseConfig struct {
	ProjectID       string `yaml:"project_id" env:"FIREBASE_PROJECT_ID"`
	CredentialsPath string `yaml:"credentials_path" env:"FIREBASE_CREDENTIALS_FILE"`
	DisableFCM      bool   `yaml:"disable_fcm" env:"FCM_DISABLED" env-default:"false"`
}

type APNSConfig struct {
	KeyID      string `yaml:"key_id" env:"APNS_KEY_ID"`     // Required if APNS is used
	TeamID     string `yaml:"team_id" env:"APNS_TEAM_ID"`   // Required if APNS is used
	KeyPath    string `yaml:"key_path" env:"APNS_KEY_PATH"` // Required if APNS is used
	Topic      string `yaml:"topic" env:"APNS_TOPIC"`       // Required if APNS is used
	Production bool   `yaml:"production" env:"APNS_PRODUCTION" env-default:"false"`
}

// EmailConfig - письмо родителю. Пустой ключ SendGrid отключает email.
type EmailConfig struct {
	FromEmail string `yaml:"from_email" env:"SENDGRID_FROM_EMAIL" env-default:"stories@example.com"`
	FromName  string `yaml:"from_name" env:"SENDGRID_FROM_NAME" env-default:"Storybook"`
	APIKey    string `yaml:"-" env:"-"`
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Encoding string `yaml:"encoding" env:"LOG_ENCODING" env-default:"json"`
}

// LoadConfig читает config.yml (если есть) и переменные окружения. Секреты - из Docker secrets или env.
func LoadConfig(configPath string) (*Config, error) {
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Printf("Предупреждение: не удалось прочитать файл конфигурации '%s': %v. Попытка чтения из переменных окружения.", configPath, err)
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
		}
	}

	// Без ключа письма не отправляются, только push.
	cfg.Email.APIKey, _ = utils.ReadSecretOrEnv("sendgrid_api_key", "SENDGRID_API_KEY")

	return &cfg, nil
}
