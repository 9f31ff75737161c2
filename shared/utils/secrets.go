package utils

import (
	"fmt"
	"os"
	"strings"
)

// secretsDir - стандартный путь Docker Secrets. Переменная для тестов.
var secretsDir = "/run/secrets"

// ReadSecret читает секрет из файла Docker Secrets.
func ReadSecret(secretName string) (string, error) {
	filePath := fmt.Sprintf("%s/%s", secretsDir, secretName)
	secretBytes, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", filePath, err)
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", filePath)
	}
	return secret, nil
}

// ReadSecretOrEnv читает секрет из файла, а если файла нет, из переменной окружения envKey.
// Fallback на env нужен для локального запуска без docker compose.
func ReadSecretOrEnv(secretName, envKey string) (string, error) {
	secret, fileErr := ReadSecret(secretName)
	if fileErr == nil {
		return secret, nil
	}
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("secret %s not found in file or env %s: %w", secretName, envKey, fileErr)
}
