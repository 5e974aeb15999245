package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// Values come from the environment, optionally seeded from a .env file.
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Twilio  TwilioConfig
	Webhook WebhookConfig
	Session SessionConfig
	Notify  NotifyConfig
	HTTP    HTTPConfig
}

type AppConfig struct {
	Env  string
	Port int

	// Storage selects postgres (default) or memory for local runs without a database.
	Storage       string
	RunMigrations bool
	// TenantsFile is a JSON seed loaded into the directory when Storage is memory.
	TenantsFile string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	ValidateSignature bool
}

// WebhookConfig shapes the markup returned to the carrier.
type WebhookConfig struct {
	// PublicBaseURL is the externally visible origin used for Gather/Redirect
	// callbacks and signature validation. Empty means relative paths.
	PublicBaseURL string
	ListenTimeout time.Duration
	SpeechTimeout time.Duration
	ReplayWindow  time.Duration
	PhoneRegion   string
}

type SessionConfig struct {
	ClassifierTimeout time.Duration
	StorageTimeout    time.Duration

	// LockBackend is local for a single instance or redis when several
	// instances receive webhooks for the same calls.
	LockBackend string
	LockTimeout time.Duration
	LockTTL     time.Duration

	MaxNoInput     int
	TenantCacheTTL time.Duration
	LeadIntents    []string
}

type NotifyConfig struct {
	Backend string // local | redis
	Buffer  int
}

type HTTPConfig struct {
	CORSOrigins []string
	RateLimit   float64
	RateBurst   int
}

// Load reads configuration from the environment. A .env file in the working
// directory, or the file named by APP_ENV_FILE, is loaded first when present.
func Load() (Config, error) {
	if f := strings.TrimSpace(os.Getenv("APP_ENV_FILE")); f != "" {
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("APP_ENV_FILE %q: %w", f, err)
		}
	} else {
		_ = godotenv.Load()
	}

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.Storage = strings.ToLower(strings.TrimSpace(os.Getenv("APP_STORAGE")))
	c.App.RunMigrations = boolEnv("APP_RUN_MIGRATIONS")
	c.App.TenantsFile = strings.TrimSpace(os.Getenv("APP_TENANTS_FILE"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = optionalInt(parseErrs, "DB_PORT")
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = optionalInt(parseErrs, "REDIS_PORT")
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.ValidateSignature = boolEnv("TWILIO_VALIDATE_SIGNATURE")

	c.Webhook.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("WEBHOOK_PUBLIC_BASE_URL")), "/")
	c.Webhook.ListenTimeout = mustDuration("WEBHOOK_LISTEN_TIMEOUT")
	c.Webhook.SpeechTimeout = mustDuration("WEBHOOK_SPEECH_TIMEOUT")
	c.Webhook.ReplayWindow = mustDuration("WEBHOOK_REPLAY_WINDOW")
	c.Webhook.PhoneRegion = strings.ToUpper(strings.TrimSpace(os.Getenv("PHONE_REGION")))

	c.Session.ClassifierTimeout = mustDuration("SESSION_CLASSIFIER_TIMEOUT")
	c.Session.StorageTimeout = mustDuration("SESSION_STORAGE_TIMEOUT")
	c.Session.LockBackend = strings.ToLower(strings.TrimSpace(os.Getenv("SESSION_LOCK_BACKEND")))
	c.Session.LockTimeout = mustDuration("SESSION_LOCK_TIMEOUT")
	c.Session.LockTTL = mustDuration("SESSION_LOCK_TTL")
	c.Session.MaxNoInput, parseErrs = optionalInt(parseErrs, "SESSION_MAX_NO_INPUT")
	c.Session.TenantCacheTTL = mustDuration("SESSION_TENANT_CACHE_TTL")
	c.Session.LeadIntents = csvEnv("LEAD_INTENTS")

	c.Notify.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("NOTIFY_BACKEND")))
	c.Notify.Buffer, parseErrs = optionalInt(parseErrs, "NOTIFY_BUFFER")

	c.HTTP.CORSOrigins = csvEnv("HTTP_CORS_ORIGINS")
	if v := strings.TrimSpace(os.Getenv("HTTP_RATE_LIMIT")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("HTTP_RATE_LIMIT must be a number, got %q", v))
		}
		c.HTTP.RateLimit = f
	}
	c.HTTP.RateBurst, parseErrs = optionalInt(parseErrs, "HTTP_RATE_BURST")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every invalid field at once and fills defaults for the
// optional ones.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.Storage == "" {
		c.App.Storage = StoragePostgres
	}
	switch c.App.Storage {
	case StoragePostgres:
		errs = append(errs, c.validateDB()...)
	case StorageMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("APP_STORAGE=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("APP_STORAGE must be postgres or memory, got %q", c.App.Storage))
	}

	if c.Session.LockBackend == "" {
		c.Session.LockBackend = BackendLocal
	}
	if c.Notify.Backend == "" {
		c.Notify.Backend = BackendLocal
	}
	if !isValidBackend(c.Session.LockBackend) {
		errs = append(errs, fmt.Errorf("SESSION_LOCK_BACKEND must be local or redis, got %q", c.Session.LockBackend))
	}
	if !isValidBackend(c.Notify.Backend) {
		errs = append(errs, fmt.Errorf("NOTIFY_BACKEND must be local or redis, got %q", c.Notify.Backend))
	}
	if c.NeedsRedis() {
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required when a redis backend is selected"))
		}
		if c.Redis.Port == 0 {
			c.Redis.Port = 6379
		}
		if c.Redis.Port < 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Twilio.ValidateSignature {
		if c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required when TWILIO_VALIDATE_SIGNATURE is set"))
		}
		if c.Webhook.PublicBaseURL == "" {
			errs = append(errs, errors.New("WEBHOOK_PUBLIC_BASE_URL is required when TWILIO_VALIDATE_SIGNATURE is set"))
		}
	} else if c.IsProduction() {
		errs = append(errs, errors.New("TWILIO_VALIDATE_SIGNATURE must be enabled in production"))
	}

	if c.Webhook.ListenTimeout <= 0 {
		c.Webhook.ListenTimeout = 10 * time.Second
	}
	if c.Webhook.SpeechTimeout <= 0 {
		c.Webhook.SpeechTimeout = 3 * time.Second
	}
	if c.Webhook.ReplayWindow <= 0 {
		c.Webhook.ReplayWindow = 15 * time.Second
	}
	if c.Webhook.PhoneRegion == "" {
		c.Webhook.PhoneRegion = "US"
	}

	if c.Session.ClassifierTimeout <= 0 {
		c.Session.ClassifierTimeout = 2 * time.Second
	}
	if c.Session.StorageTimeout <= 0 {
		c.Session.StorageTimeout = 3 * time.Second
	}
	if c.Session.LockTimeout <= 0 {
		c.Session.LockTimeout = 5 * time.Second
	}
	if c.Session.LockTTL <= 0 {
		c.Session.LockTTL = 30 * time.Second
	}
	if c.Session.LockTTL <= c.Session.ClassifierTimeout {
		errs = append(errs, errors.New("SESSION_LOCK_TTL must be greater than SESSION_CLASSIFIER_TIMEOUT"))
	}
	if c.Session.MaxNoInput <= 0 {
		c.Session.MaxNoInput = 2
	}
	if c.Session.TenantCacheTTL <= 0 {
		c.Session.TenantCacheTTL = time.Minute
	}
	if len(c.Session.LeadIntents) == 0 {
		c.Session.LeadIntents = []string{"appointment_booking", "general_inquiry"}
	}

	if c.Notify.Buffer <= 0 {
		c.Notify.Buffer = 32
	}
	if c.HTTP.RateLimit <= 0 {
		c.HTTP.RateLimit = 20
	}
	if c.HTTP.RateBurst <= 0 {
		c.HTTP.RateBurst = 40
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"

	BackendLocal = "local"
	BackendRedis = "redis"
)

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// NeedsRedis reports whether any backend requires a redis connection.
func (c Config) NeedsRedis() bool {
	return c.Session.LockBackend == BackendRedis || c.Notify.Backend == BackendRedis
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(errs []error, key string) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func boolEnv(key string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return b
}

func csvEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func isValidBackend(v string) bool {
	return v == BackendLocal || v == BackendRedis
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
