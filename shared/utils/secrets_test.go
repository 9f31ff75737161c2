package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withSecretsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old := secretsDir
	secretsDir = dir
	t.Cleanup(func() { secretsDir = old })
	return dir
}

func TestReadSecret(t *testing.T) {
	dir := withSecretsDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "openai_api_key"), []byte("  sk-123\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty"), []byte("\n"), 0o600))

	v, err := ReadSecret("openai_api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-123", v)

	_, err = ReadSecret("empty")
	assert.Error(t, err)

	_, err = ReadSecret("missing")
	assert.Error(t, err)
}

func TestReadSecretOrEnv(t *testing.T) {
	dir := withSecretsDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "from_file"), []byte("file-value"), 0o600))
	t.Setenv("FROM_FILE", "env-value")
	t.Setenv("FROM_ENV", "env-only")

	v, err := ReadSecretOrEnv("from_file", "FROM_FILE")
	require.NoError(t, err)
	assert.Equal(t, "file-value", v)

	v, err = ReadSecretOrEnv("from_env", "FROM_ENV")
	require.NoError(t, err)
	assert.Equal(t, "env-only", v)

	_, err = ReadSecretOrEnv("nowhere", "NOWHERE_SET")
	assert.Error(t, err)
}
