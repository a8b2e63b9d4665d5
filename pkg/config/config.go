package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LEAFLAB_APP_ENV" required:"true"`
	Port         string `envconfig:"LEAFLAB_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LEAFLAB_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LEAFLAB_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LEAFLAB_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"LEAFLAB_DB_DSN"`
	Driver string `envconfig:"LEAFLAB_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LEAFLAB_DB_HOST"`
	LegacyPort     int    `envconfig:"LEAFLAB_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LEAFLAB_DB_USER"`
	LegacyPassword string `envconfig:"LEAFLAB_DB_PASSWORD"`
	LegacyName     string `envconfig:"LEAFLAB_DB_NAME"`
	LegacySSLMode  string `envconfig:"LEAFLAB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LEAFLAB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LEAFLAB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LEAFLAB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LEAFLAB_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LEAFLAB_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LEAFLAB_REDIS_ADDR"`
	Password     string        `envconfig:"LEAFLAB_REDIS_PASSWORD"`
	DB           int           `envconfig:"LEAFLAB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LEAFLAB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LEAFLAB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LEAFLAB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LEAFLAB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LEAFLAB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig validates platform-issued access tokens. The auth platform mints
// them; this service only checks signature, issuer and expiry.
type JWTConfig struct {
	Secret            string `envconfig:"LEAFLAB_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"LEAFLAB_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"LEAFLAB_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"LEAFLAB_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"LEAFLAB_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LEAFLAB_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"LEAFLAB_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"LEAFLAB_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"LEAFLAB_PUBSUB_NOTIFICATION_TOPIC" required:"true"`
	NotificationSubscription string `envconfig:"LEAFLAB_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"LEAFLAB_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"LEAFLAB_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"LEAFLAB_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"LEAFLAB_OUTBOX_RETENTION_DAYS" default:"14"`
}

type CronConfig struct {
	TickInterval time.Duration `envconfig:"LEAFLAB_CRON_TICK_INTERVAL" default:"1m"`
	LockTTL      time.Duration `envconfig:"LEAFLAB_CRON_LOCK_TTL" default:"5m"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"LEAFLAB_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"LEAFLAB_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"LEAFLAB_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
