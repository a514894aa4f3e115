package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingConfig is returned when a value required by a component is absent.
var ErrMissingConfig = errors.New("missing_config")

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	AppURL      string

	AuthJWTSecret string
	AuthJWTIssuer string
	AuthTokenTTL  time.Duration

	SecretEncryptionKey string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	CORSOrigins []string

	Zitadel   ZitadelConfig
	Tailscale TailscaleConfig
	Session   SessionConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Email     EmailConfig
	Bootstrap BootstrapConfig
	Scheduler SchedulerConfig
}

type ZitadelConfig struct {
	Domain   string
	APIToken string
}

type TailscaleConfig struct {
	AuthKeyExpiry time.Duration
}

type SessionConfig struct {
	GatewayURL string
	TTL        time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Enabled     bool
	VerifyRate  float64
	VerifyBurst int
}

// BootstrapConfig seeds the platform organization and its first global
// admin. Seeding is skipped when AdminEmail is empty.
type BootstrapConfig struct {
	OrgName    string
	AdminEmail string
	AdminName  string
}

// SchedulerConfig drives the background sweeper. An empty Jobs list runs
// every job.
type SchedulerConfig struct {
	Enabled        bool
	RunInterval    time.Duration
	TokenRetention time.Duration
	Jobs           []string
}

type EmailConfig struct {
	Transport    string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:             getenv("APP_SERVICE", "accessportal"),
		AppVersion:          getenv("APP_VERSION", "0.1.0"),
		Environment:         getenv("ENVIRONMENT", "development"),
		HTTPAddr:            getenv("HTTP_ADDR", ":8080"),
		AppURL:              strings.TrimRight(strings.TrimSpace(getenv("APP_URL", "http://localhost:5173")), "/"),
		AuthJWTSecret:       strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		AuthJWTIssuer:       getenv("AUTH_JWT_ISSUER", "accessportal"),
		AuthTokenTTL:        getenvDuration("AUTH_TOKEN_TTL", 12*time.Hour),
		SecretEncryptionKey: strings.TrimSpace(getenv("SECRET_ENCRYPTION_KEY", "")),
		OTLPEndpoint:        getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:              getenv("DATABASE_TYPE", "postgres"),
		DBHost:              getenv("DATABASE_HOST", "localhost"),
		DBPort:              getenv("DATABASE_PORT", "5432"),
		DBName:              getenv("DATABASE_NAME", "accessportal"),
		DBUser:              getenv("DATABASE_USER", "postgres"),
		DBPassword:          getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:           getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:       getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:       getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime:   getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime:   getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		CORSOrigins:         getenvList("CORS_ORIGINS", "http://localhost:5173"),
		Zitadel: ZitadelConfig{
			Domain:   strings.TrimSpace(getenv("ZITADEL_DOMAIN", "")),
			APIToken: strings.TrimSpace(getenv("ZITADEL_API_TOKEN", "")),
		},
		Tailscale: TailscaleConfig{
			AuthKeyExpiry: getenvDuration("TAILSCALE_AUTH_KEY_EXPIRY", 90*24*time.Hour),
		},
		Session: SessionConfig{
			GatewayURL: strings.TrimRight(strings.TrimSpace(getenv("SESSION_GATEWAY_URL", "")), "/"),
			TTL:        getenvDuration("SESSION_TTL", 8*time.Hour),
		},
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getenvBool("RATE_LIMIT_ENABLED", true),
			VerifyRate:  getenvFloat("RATE_LIMIT_VERIFY_RATE", 0.5),
			VerifyBurst: getenvInt("RATE_LIMIT_VERIFY_BURST", 10),
		},
		Email: EmailConfig{
			Transport:    strings.ToLower(getenv("EMAIL_TRANSPORT", "log")),
			SMTPHost:     getenv("SMTP_HOST", ""),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "no-reply@localhost"),
		},
		Bootstrap: BootstrapConfig{
			OrgName:    strings.TrimSpace(getenv("BOOTSTRAP_ORG_NAME", "Platform")),
			AdminEmail: strings.ToLower(strings.TrimSpace(getenv("BOOTSTRAP_ADMIN_EMAIL", ""))),
			AdminName:  strings.TrimSpace(getenv("BOOTSTRAP_ADMIN_NAME", "Platform Admin")),
		},
		Scheduler: SchedulerConfig{
			Enabled:        getenvBool("SCHEDULER_ENABLED", true),
			RunInterval:    getenvDuration("SCHEDULER_INTERVAL", time.Minute),
			TokenRetention: getenvDuration("ENROLLMENT_TOKEN_RETENTION", 7*24*time.Hour),
			Jobs:           getenvList("SCHEDULER_JOBS", ""),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// RequireZitadel reports whether the identity provider management credentials are set.
func (c Config) RequireZitadel() error {
	return require(map[string]string{
		"ZITADEL_DOMAIN":    c.Zitadel.Domain,
		"ZITADEL_API_TOKEN": c.Zitadel.APIToken,
	})
}

func (c Config) RequireSecretKey() error {
	return require(map[string]string{"SECRET_ENCRYPTION_KEY": c.SecretEncryptionKey})
}

func (c Config) RequireJWTSecret() error {
	return require(map[string]string{"AUTH_JWT_SECRET": c.AuthJWTSecret})
}

func require(values map[string]string) error {
	missing := make([]string, 0, len(values))
	for key, value := range values {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getenvList(key, def string) []string {
	parts := strings.Split(getenv(key, def), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
