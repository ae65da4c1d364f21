package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
camunda:
  broker_address: localhost:26500
database:
  postgres:
    host: localhost
    database: companion
    user: companion
  redis:
    address: localhost:6379
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFileAppliesMatchingDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Matching.YouthCeiling)
	assert.Equal(t, 5, cfg.Matching.ElderlyCeiling)
	assert.Equal(t, 7, cfg.Matching.MinHoldDays)
	assert.Equal(t, 14, cfg.Matching.MaxHoldDays)
	assert.Equal(t, 72*time.Hour, cfg.Matching.Cooldown())
	assert.Equal(t, PostCooldownReview, cfg.Matching.PostCooldownAction)
	assert.Equal(t, DefaultMilestoneDays, cfg.Matching.MilestoneDays)
	assert.Equal(t, "companion.changes", cfg.Kafka.Topic)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Equal(t, "application-review", cfg.Database.Elasticsearch.ReviewIndex)
}

func TestLoadFromFileOverrides(t *testing.T) {
	body := minimalYAML + `
matching:
  youth_ceiling: 2
  cooldown_hours: 24
  post_cooldown_action: finalize
workers:
  express-interest:
    enabled: true
`
	cfg, err := LoadFromFile(writeConfig(t, body))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Matching.YouthCeiling)
	assert.Equal(t, 24*time.Hour, cfg.Matching.Cooldown())
	assert.Equal(t, PostCooldownFinalize, cfg.Matching.PostCooldownAction)

	w := GetWorkerConfig(cfg, "express-interest")
	assert.True(t, w.Enabled)
	assert.Equal(t, 5, w.MaxJobsActive)
	assert.Equal(t, 3, w.MaxRetries)
}

func TestLoadFromFileExpandsEnv(t *testing.T) {
	t.Setenv("TEST_PG_PASSWORD", "s3cret")
	body := `
camunda:
  broker_address: localhost:26500
database:
  postgres:
    host: localhost
    database: companion
    user: companion
    password: ${TEST_PG_PASSWORD}
  redis:
    address: localhost:6379
`
	cfg, err := LoadFromFile(writeConfig(t, body))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Postgres.Password)
}

func TestValidateConfig(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.Camunda.BrokerAddress = "localhost:26500"
		cfg.Database.Postgres.Host = "localhost"
		cfg.Database.Postgres.Database = "companion"
		cfg.Database.Postgres.User = "companion"
		cfg.Database.Redis.Address = "localhost:6379"
		applyDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing broker", func(c *Config) { c.Camunda.BrokerAddress = "" }, "broker_address"},
		{"hold inverted", func(c *Config) { c.Matching.MinHoldDays = 20 }, "min_hold_days"},
		{"bad policy", func(c *Config) { c.Matching.PostCooldownAction = "explode" }, "post_cooldown_action"},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, "kafka.brokers"},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true }, "tracing.endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, GetDuration(1500))
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join("..", "..", "..", "configs", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "companion-workers", cfg.App.Name)
	assert.Equal(t, PostCooldownReview, cfg.Matching.PostCooldownAction)
	assert.Equal(t, DefaultMilestoneDays, cfg.Matching.MilestoneDays)
	for _, taskType := range []string{"express-interest", "review-application", "relationship-withdrawal", "maintenance-sweep"} {
		assert.True(t, GetWorkerConfig(cfg, taskType).Enabled, taskType)
	}
	assert.False(t, cfg.Kafka.Enabled)
	assert.False(t, cfg.APIs.Keycloak.Enabled)
}

func TestPostgresDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  PostgresConfig
		want string
	}{
		{
			name: "plain",
			cfg:  PostgresConfig{Host: "db", Port: 5432, User: "companion", Password: "secret", Database: "companion", SSLMode: "disable"},
			want: "host=db port=5432 user=companion password=secret dbname=companion sslmode=disable",
		},
		{
			name: "quoted password",
			cfg:  PostgresConfig{Host: "db", User: "u", Password: `it's a \secret`, Database: "d"},
			want: `host=db user=u password='it\'s a \\secret' dbname=d`,
		},
		{
			name: "empty values dropped",
			cfg:  PostgresConfig{Host: "db"},
			want: "host=db",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.GetDSN())
		})
	}
}
