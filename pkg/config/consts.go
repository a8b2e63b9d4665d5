package config

// EnvPrefix is applied by envconfig to any field without an explicit tag.
const EnvPrefix = "leaflab"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Environment variable names shared between Load, ensureDSN and tests.
const (
	EnvAppEnv   = "LEAFLAB_APP_ENV"
	EnvPort     = "LEAFLAB_APP_PORT"
	EnvLogLevel = "LEAFLAB_LOG_LEVEL"

	EnvDBDSN  = "LEAFLAB_DB_DSN"
	EnvDBHost = "LEAFLAB_DB_HOST"
	EnvDBUser = "LEAFLAB_DB_USER"
	EnvDBName = "LEAFLAB_DB_NAME"

	EnvRedisURL = "LEAFLAB_REDIS_URL"

	EnvJWTSecret  = "LEAFLAB_JWT_SECRET"
	EnvJWTIssuer  = "LEAFLAB_JWT_ISSUER"
	EnvJWTExpMins = "LEAFLAB_JWT_EXPIRATION_MINUTES"

	EnvGCPProjectID = "LEAFLAB_GCP_PROJECT_ID"

	EnvPubSubNotificationTopic = "LEAFLAB_PUBSUB_NOTIFICATION_TOPIC"
	EnvPubSubNotificationSub   = "LEAFLAB_PUBSUB_NOTIFICATION_SUBSCRIPTION"

	EnvStripeAPIKey        = "LEAFLAB_STRIPE_API_KEY"
	EnvStripeWebhookSecret = "LEAFLAB_STRIPE_WEBHOOK_SECRET"
	EnvStripeEnv           = "LEAFLAB_STRIPE_ENV"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
