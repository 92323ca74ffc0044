package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "PORT", "OVERSKILL_CONFIG",
		"CLOUDFLARE_ACCOUNT_ID", "CLOUDFLARE_ZONE_ID", "CLOUDFLARE_API_TOKEN", "CLOUDFLARE_API_KEY", "CLOUDFLARE_EMAIL",
		"R2_ENDPOINT", "R2_ACCESS_KEY_ID", "R2_SECRET_ACCESS_KEY", "R2_BUCKET_NAME",
		"SUPABASE_URL", "SUPABASE_ANON_KEY", "SUPABASE_SERVICE_KEY",
		"BUILD_MAX_ATTEMPTS", "BUILD_TIMEOUT", "ENABLE_AI_FIX_ESCALATION", "CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Server.Port)
	assert.Equal(t, "local", cfg.Server.Env)
	assert.Equal(t, DefaultMaxAttempts, cfg.Build.MaxAttempts)
	assert.Equal(t, DefaultBuildTimeout, cfg.Build.Timeout)
	assert.Equal(t, "dist", cfg.Build.OutputDir)
	assert.NotEmpty(t, cfg.Build.Command)
	assert.False(t, cfg.Features.AIFixEscalation)
	assert.Empty(t, cfg.Server.AllowedOrigins)
}

func TestAllowedOriginsFromEnvAndFile(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://studio.example.com, ,https://admin.example.com ")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://studio.example.com", "https://admin.example.com"}, cfg.Server.AllowedOrigins)

	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	path := filepath.Join(t.TempDir(), "overskill.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  allowed_origins: [\"https://file.example.com\"]\n"), 0o644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://file.example.com"}, cfg.Server.AllowedOrigins)
}

func TestLoadEnvironmentWinsOverFile(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("CLOUDFLARE_ACCOUNT_ID", "from-env")
	t.Setenv("BUILD_TIMEOUT", "90s")

	path := filepath.Join(t.TempDir(), "overskill.yaml")
	data := []byte(`
hosting:
  account_id: from-file
  zone_id: zone-file
build:
  max_attempts: 3
features:
  ai_fix_escalation: true
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Hosting.AccountID)
	assert.Equal(t, "zone-file", cfg.Hosting.ZoneID)
	assert.Equal(t, 3, cfg.Build.MaxAttempts)
	assert.Equal(t, 90*time.Second, cfg.Build.Timeout)
	assert.True(t, cfg.Features.AIFixEscalation)
}

func TestMissingDeployConfigEnumeratesEverything(t *testing.T) {
	cfg := &Config{}
	missing := cfg.MissingDeployConfig()
	assert.Len(t, missing, 8)
	assert.Contains(t, missing, "CLOUDFLARE_ACCOUNT_ID")
	assert.Contains(t, missing, "SUPABASE_SERVICE_KEY")

	cfg.Hosting = HostingConfig{AccountID: "acct", APIKey: "key", APIEmail: "ops@example.com"}
	cfg.Storage = StorageConfig{Endpoint: "r2.example.com", Bucket: "assets", AccessKey: "a", SecretKey: "s"}
	cfg.Backend = BackendConfig{URL: "https://db.example.com", AnonKey: "anon", ServiceKey: "service"}
	assert.Empty(t, cfg.MissingDeployConfig())
}
