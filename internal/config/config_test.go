package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcoinalgo/strategy-engine/internal/config"
)

func TestDefaultsPassValidation(t *testing.T) {
	cfg := config.Defaults()
	cfg.Credentials.MasterKey = "a-test-master-key"
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogLevel = "verbose"
	cfg.Redis.Host = ""
	cfg.Database.Database = ""
	cfg.Scheduler.WorkerID = ""
	cfg.Scheduler.Resolutions = nil
	cfg.Credentials.MasterKey = ""

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "log_level")
	assert.Contains(t, msg, "redis: host")
	assert.Contains(t, msg, "database: database")
	assert.Contains(t, msg, "worker_id")
	assert.Contains(t, msg, "resolutions")
	assert.Contains(t, msg, "master_key")
}

func TestEnvOverridesApplyOverDefaults(t *testing.T) {
	for k, v := range map[string]string{
		"REDIS_HOST":           "redis.internal",
		"REDIS_PORT":           "16379",
		"WORKER_ID":            "scheduler-test",
		"BROKER_CREDENTIAL_KEY": "super-secret-master-key",
		"SERVER_CORS_ORIGINS":  "https://a.example.com, https://b.example.com",
		"NODE_ENV":             "production",
	} {
		t.Setenv(k, v)
	}

	cfg := config.Defaults()
	// applyEnvOverrides is unexported; exercise it through Load against a
	// TOML file holding only the defaults' shape.
	path := writeEmptyTOML(t)
	loaded, err := config.Load(path)
	require.NoError(t, err)
	_ = cfg

	assert.Equal(t, "redis.internal", loaded.Redis.Host)
	assert.Equal(t, 16379, loaded.Redis.Port)
	assert.Equal(t, "scheduler-test", loaded.Scheduler.WorkerID)
	assert.Equal(t, "super-secret-master-key", loaded.Credentials.MasterKey)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, loaded.Server.CORSOrigins)
	assert.Equal(t, "production", loaded.NodeEnv)
}

func TestRedactedConfigHidesSecretsWithoutMutatingOriginal(t *testing.T) {
	cfg := config.Defaults()
	cfg.Redis.Password = "redis-pw"
	cfg.Database.Password = "db-pw"
	cfg.Server.APIKey = "api-key"
	cfg.Credentials.MasterKey = "master-key"

	redacted := config.RedactedConfig(&cfg)

	assert.Equal(t, "***", redacted.Redis.Password)
	assert.Equal(t, "***", redacted.Database.Password)
	assert.Equal(t, "***", redacted.Server.APIKey)
	assert.Equal(t, "***", redacted.Credentials.MasterKey)

	// Original untouched.
	assert.Equal(t, "redis-pw", cfg.Redis.Password)
	assert.Equal(t, "db-pw", cfg.Database.Password)
	assert.Equal(t, "api-key", cfg.Server.APIKey)
	assert.Equal(t, "master-key", cfg.Credentials.MasterKey)

	// Slice copy: mutating the redacted copy must not affect the original.
	redacted.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}

func writeEmptyTOML(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.toml")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}
