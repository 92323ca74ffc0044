package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Hosting     HostingConfig     `yaml:"hosting"`
	Storage     StorageConfig     `yaml:"storage"`
	Backend     BackendConfig     `yaml:"backend"`
	Build       BuildConfig       `yaml:"build"`
	Features    FeatureConfig     `yaml:"features"`
	AI          AIConfig          `yaml:"ai"`
	Source      SourceConfig      `yaml:"source"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
	// AllowedOrigins lists browser origins the trigger API answers CORS
	// requests for. Empty means no cross-origin access.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// HostingConfig addresses the edge-hosting provider's management API.
// Either APIToken or the APIKey+APIEmail pair authenticates requests.
type HostingConfig struct {
	AccountID    string `yaml:"account_id"`
	ZoneID       string `yaml:"zone_id"`
	APIToken     string `yaml:"api_token"`
	APIKey       string `yaml:"api_key"`
	APIEmail     string `yaml:"api_email"`
	APIBaseURL   string `yaml:"api_base_url"`
	BaseDomain   string `yaml:"base_domain"`
	ScriptPrefix string `yaml:"script_prefix"`
}

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	PublicURL string `yaml:"public_url"`
}

type BackendConfig struct {
	URL        string `yaml:"url"`
	AnonKey    string `yaml:"anon_key"`
	ServiceKey string `yaml:"service_key"`
}

type BuildConfig struct {
	Command     []string      `yaml:"command"`
	OutputDir   string        `yaml:"output_dir"`
	MaxAttempts int           `yaml:"max_attempts"`
	Timeout     time.Duration `yaml:"timeout"`
	WorkRoot    string        `yaml:"work_root"`
}

type FeatureConfig struct {
	AIFixEscalation bool `yaml:"ai_fix_escalation"`
}

type AIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type SourceConfig struct {
	DatabaseURL string `yaml:"database_url"`
	Dir         string `yaml:"dir"`
}

type CoordinatorConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	ResultTTL     time.Duration `yaml:"result_ttl"`
}

const (
	DefaultMaxAttempts   = 2
	DefaultBuildTimeout  = 10 * time.Minute
	DefaultMaxConcurrent = 4
	DefaultResultTTL     = 15 * time.Minute
)

// Load reads .env (if present), the environment, and an optional YAML file.
// Environment values take precedence over the file.
func Load(file string) (*Config, error) {
	_ = godotenv.Load()

	cfg := fromEnv()
	path := firstNonEmpty(strings.TrimSpace(file), strings.TrimSpace(os.Getenv("OVERSKILL_CONFIG")))
	if path != "" {
		overlay, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		cfg.fillFrom(overlay)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func fromEnv() *Config {
	env := firstNonEmpty(envValue("APP_ENV"), "local")
	return &Config{
		Server: ServerConfig{
			Port:           normalizePort(envValue("PORT")),
			Env:            env,
			AllowedOrigins: splitList(envValue("CORS_ALLOWED_ORIGINS")),
		},
		Hosting: HostingConfig{
			AccountID:    envValue("CLOUDFLARE_ACCOUNT_ID"),
			ZoneID:       envValue("CLOUDFLARE_ZONE_ID"),
			APIToken:     envValue("CLOUDFLARE_API_TOKEN"),
			APIKey:       envValue("CLOUDFLARE_API_KEY"),
			APIEmail:     envValue("CLOUDFLARE_EMAIL"),
			APIBaseURL:   envValue("CLOUDFLARE_API_BASE_URL"),
			BaseDomain:   envValue("APP_BASE_DOMAIN"),
			ScriptPrefix: envValue("WORKER_SCRIPT_PREFIX"),
		},
		Storage: StorageConfig{
			Endpoint:  firstNonEmpty(envValue("R2_ENDPOINT"), envValue("ARTIFACT_S3_ENDPOINT")),
			Region:    envValue("R2_REGION"),
			AccessKey: firstNonEmpty(envValue("R2_ACCESS_KEY_ID"), envValue("ARTIFACT_S3_ACCESS_KEY")),
			SecretKey: firstNonEmpty(envValue("R2_SECRET_ACCESS_KEY"), envValue("ARTIFACT_S3_SECRET_KEY")),
			Bucket:    firstNonEmpty(envValue("R2_BUCKET_NAME"), envValue("ARTIFACT_S3_BUCKET")),
			UseSSL:    parseBool(envValue("R2_USE_SSL"), true),
			PublicURL: envValue("R2_PUBLIC_URL"),
		},
		Backend: BackendConfig{
			URL:        envValue("SUPABASE_URL"),
			AnonKey:    envValue("SUPABASE_ANON_KEY"),
			ServiceKey: envValue("SUPABASE_SERVICE_KEY"),
		},
		Build: BuildConfig{
			Command:     shellCommand(envValue("BUILD_COMMAND")),
			OutputDir:   envValue("BUILD_OUTPUT_DIR"),
			MaxAttempts: parseInt(envValue("BUILD_MAX_ATTEMPTS"), 0),
			Timeout:     parseDuration(envValue("BUILD_TIMEOUT"), 0),
			WorkRoot:    envValue("BUILD_WORK_ROOT"),
		},
		Features: FeatureConfig{
			AIFixEscalation: parseBool(envValue("ENABLE_AI_FIX_ESCALATION"), false),
		},
		AI: AIConfig{
			APIKey: envValue("GEMINI_API_KEY"),
			Model:  envValue("AI_FIX_MODEL"),
		},
		Source: SourceConfig{
			DatabaseURL: envValue("DATABASE_URL"),
			Dir:         envValue("SOURCE_DIR"),
		},
		Coordinator: CoordinatorConfig{
			MaxConcurrent: parseInt(envValue("MAX_CONCURRENT_OPERATIONS"), 0),
			ResultTTL:     parseDuration(envValue("OPERATION_RESULT_TTL"), 0),
		},
	}
}

func (c *Config) applyDefaults() {
	c.Server.Port = firstNonEmpty(c.Server.Port, ":8081")
	c.Hosting.APIBaseURL = firstNonEmpty(c.Hosting.APIBaseURL, "https://api.cloudflare.com/client/v4")
	c.Hosting.ScriptPrefix = firstNonEmpty(c.Hosting.ScriptPrefix, "overskill")
	c.Storage.Region = firstNonEmpty(c.Storage.Region, "auto")
	if len(c.Build.Command) == 0 {
		c.Build.Command = []string{"sh", "-c", "npm install --no-audit --no-fund && npm run build"}
	}
	c.Build.OutputDir = firstNonEmpty(c.Build.OutputDir, "dist")
	if c.Build.MaxAttempts <= 0 {
		c.Build.MaxAttempts = DefaultMaxAttempts
	}
	if c.Build.Timeout <= 0 {
		c.Build.Timeout = DefaultBuildTimeout
	}
	c.AI.Model = firstNonEmpty(c.AI.Model, "gemini-2.5-flash")
	if c.Coordinator.MaxConcurrent <= 0 {
		c.Coordinator.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Coordinator.ResultTTL <= 0 {
		c.Coordinator.ResultTTL = DefaultResultTTL
	}
}

// MissingDeployConfig lists every credential a deployment needs that is
// absent. An empty result means deploys may proceed.
func (c *Config) MissingDeployConfig() []string {
	var missing []string
	if c == nil {
		return []string{"config"}
	}
	if c.Hosting.AccountID == "" {
		missing = append(missing, "CLOUDFLARE_ACCOUNT_ID")
	}
	if c.Hosting.APIToken == "" && (c.Hosting.APIKey == "" || c.Hosting.APIEmail == "") {
		missing = append(missing, "CLOUDFLARE_API_TOKEN (or CLOUDFLARE_API_KEY + CLOUDFLARE_EMAIL)")
	}
	if c.Storage.Bucket == "" {
		missing = append(missing, "R2_BUCKET_NAME")
	}
	if c.Storage.Endpoint == "" {
		missing = append(missing, "R2_ENDPOINT")
	}
	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		missing = append(missing, "R2_ACCESS_KEY_ID + R2_SECRET_ACCESS_KEY")
	}
	if c.Backend.URL == "" {
		missing = append(missing, "SUPABASE_URL")
	}
	if c.Backend.AnonKey == "" {
		missing = append(missing, "SUPABASE_ANON_KEY")
	}
	if c.Backend.ServiceKey == "" {
		missing = append(missing, "SUPABASE_SERVICE_KEY")
	}
	return missing
}

func envValue(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// shellCommand runs a BUILD_COMMAND line through sh so quoting and && work.
func shellCommand(line string) []string {
	if line == "" {
		return nil
	}
	return []string{"sh", "-c", line}
}

func normalizePort(raw string) string {
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, ":") {
		return raw
	}
	return ":" + raw
}

func parseBool(raw string, fallback bool) bool {
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
