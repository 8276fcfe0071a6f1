package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location; STUDIUM_CONFIG overrides it.
const ConfigPath = "config.yaml"

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	devJWTSecret = "default-secret-key"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"logLevel"`
	LogFmt   string `yaml:"logFormat"`

	DatabaseURL string `yaml:"databaseURL"`

	JWTSecret string `yaml:"jwtSecret"`
	JWTTTL    string `yaml:"jwtTTL"`
	JWTLeeway string `yaml:"jwtLeeway"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	TrustedProxyCIDRs  []string `yaml:"trustedProxyCidrs"`
	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`
	MinAppVersion      string   `yaml:"minAppVersion"`

	APIRateLimitPerMinute      int `yaml:"apiRateLimitPerMinute"`
	SignupRateLimitPerMinute   int `yaml:"signupRateLimitPerMinute"`
	SigninRateLimitPerMinute   int `yaml:"signinRateLimitPerMinute"`
	PasswordRateLimitPerMinute int `yaml:"passwordRateLimitPerMinute"`

	FrontendURL string `yaml:"frontendURL"`

	StorageBackend string `yaml:"storageBackend"`
	UploadDir      string `yaml:"uploadDir"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	AIProvider     string `yaml:"aiProvider"`
	AIModel        string `yaml:"aiModel"`
	AITimeout      string `yaml:"aiTimeout"`
	GeminiAPIKey   string `yaml:"geminiAPIKey"`
	OllamaURL      string `yaml:"ollamaURL"`
	OpenAIBaseURL  string `yaml:"openaiBaseURL"`
	OpenAIAPIKey   string `yaml:"openaiAPIKey"`
	MaxSourceChars int    `yaml:"maxSourceChars"`

	EmailHost     string `yaml:"emailHost"`
	EmailPort     int    `yaml:"emailPort"`
	EmailUser     string `yaml:"emailUser"`
	EmailPassword string `yaml:"emailPassword"`
	EmailFrom     string `yaml:"emailFrom"`
	MailQueue     string `yaml:"mailQueue"`
	MailWorkers   int    `yaml:"mailWorkers"`
	AMQPURL       string `yaml:"amqpURL"`
}

// Load reads config from path (defaults to ConfigPath) and applies env overrides.
// A missing file is not an error: env-only deployments are supported.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	if v := os.Getenv("STUDIUM_CONFIG"); v != "" {
		path = v
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.Env, "APP_ENV")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFmt, "LOG_FORMAT")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.JWTTTL, "JWT_TTL")
	setString(&cfg.JWTLeeway, "JWT_LEEWAY")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.MinAppVersion, "MIN_APP_VERSION")
	setString(&cfg.FrontendURL, "FRONTEND_URL")
	setString(&cfg.StorageBackend, "STORAGE_BACKEND")
	setString(&cfg.UploadDir, "UPLOAD_DIR")
	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinioBucket, "MINIO_BUCKET")
	setBool(&cfg.MinioUseSSL, "MINIO_USE_SSL")
	setString(&cfg.AIProvider, "AI_PROVIDER")
	setString(&cfg.AIModel, "AI_MODEL")
	setString(&cfg.AITimeout, "AI_TIMEOUT")
	setString(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&cfg.OllamaURL, "OLLAMA_URL")
	setString(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	setString(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	setInt(&cfg.MaxSourceChars, "MAX_SOURCE_CHARS")
	setString(&cfg.EmailHost, "EMAIL_HOST")
	setInt(&cfg.EmailPort, "EMAIL_PORT")
	setString(&cfg.EmailUser, "EMAIL_USER")
	setString(&cfg.EmailPassword, "EMAIL_PASSWORD")
	setString(&cfg.EmailFrom, "EMAIL_FROM")
	setString(&cfg.MailQueue, "MAIL_QUEUE")
	setInt(&cfg.MailWorkers, "MAIL_WORKERS")
	setString(&cfg.AMQPURL, "AMQP_URL")
	setInt(&cfg.APIRateLimitPerMinute, "API_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.SignupRateLimitPerMinute, "SIGNUP_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.SigninRateLimitPerMinute, "SIGNIN_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.PasswordRateLimitPerMinute, "PASSWORD_RATE_LIMIT_PER_MINUTE")
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "5000"
	}
	if cfg.Env == "" {
		cfg.Env = EnvDevelopment
	}
	if cfg.JWTSecret == "" && cfg.Env != EnvProduction {
		cfg.JWTSecret = devJWTSecret
	}
	if cfg.FrontendURL == "" {
		cfg.FrontendURL = "http://localhost:3000"
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "local"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.AIProvider == "" {
		cfg.AIProvider = "gemini"
	}
	if cfg.EmailPort == 0 {
		cfg.EmailPort = 587
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("config: port is required")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: jwtSecret is required in production (JWT_SECRET)")
	}
	switch cfg.Env {
	case EnvDevelopment, EnvProduction, "test":
	default:
		return fmt.Errorf("config: unknown env %q", cfg.Env)
	}
	switch cfg.StorageBackend {
	case "local":
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint and minioBucket are required for minio storage")
		}
	default:
		return fmt.Errorf("config: unknown storageBackend %q", cfg.StorageBackend)
	}
	switch cfg.AIProvider {
	case "gemini", "ollama", "openai":
	default:
		return fmt.Errorf("config: unknown aiProvider %q", cfg.AIProvider)
	}
	switch cfg.MailQueue {
	case "":
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the redis mail queue")
		}
	case "amqp":
		if strings.TrimSpace(cfg.AMQPURL) == "" {
			return errors.New("config: amqpURL is required for the amqp mail queue")
		}
	default:
		return fmt.Errorf("config: unknown mailQueue %q", cfg.MailQueue)
	}
	if cfg.MaxUploadBytes < 0 || cfg.MaxSourceChars < 0 || cfg.MailWorkers < 0 {
		return errors.New("config: sizes and worker counts must be >= 0")
	}
	if cfg.APIRateLimitPerMinute < 0 || cfg.SignupRateLimitPerMinute < 0 || cfg.SigninRateLimitPerMinute < 0 || cfg.PasswordRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if _, err := ParseDuration("jwtTTL", cfg.JWTTTL); err != nil {
		return err
	}
	if _, err := ParseDuration("jwtLeeway", cfg.JWTLeeway); err != nil {
		return err
	}
	if _, err := ParseDuration("aiTimeout", cfg.AITimeout); err != nil {
		return err
	}
	return nil
}

// UsesDevSecret reports whether the insecure development JWT secret is active.
func (c FileConfig) UsesDevSecret() bool {
	return c.JWTSecret == devJWTSecret
}

// ParseDuration parses an optional duration field; empty yields zero.
func ParseDuration(field, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", field, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must be >= 0", field)
	}
	return dur, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
