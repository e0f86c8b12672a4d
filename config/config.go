package config

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type App struct {
	Server    ServerConfig    `env:", prefix="`
	Database  DatabaseConfig  `env:", prefix="`
	Redis     RedisConfig     `env:", prefix="`
	SMS       SMSConfig       `env:", prefix="`
	Worker    WorkerConfig    `env:", prefix="`
	Retry     RetryConfig     `env:", prefix="`
	Consent   ConsentConfig   `env:", prefix="`
	Reconcile ReconcileConfig `env:", prefix="`
	Webhook   WebhookConfig   `env:", prefix="`
	Queue     QueueConfig     `env:", prefix="`
}

type ServerConfig struct {
	Port string `env:"PORT, default=8080"`
	Env  string `env:"APP_ENV, default=development"`
}

type DatabaseConfig struct {
	URL string `env:"DB_URL, required"`
}

type RedisConfig struct {
	Address    string `env:"REDIS_ADDR"`
	Password   string `env:"REDIS_PASSWORD"`
	DB         int    `env:"REDIS_DB, default=0"`
	TTLSeconds int    `env:"REDIS_TTL_SECONDS, default=86400"`
}

type SMSConfig struct {
	Provider      string `env:"SMS_PROVIDER, default=http"`
	GatewayURL    string `env:"SMS_GATEWAY_URL"`
	SenderAddress string `env:"SMS_SENDER_ADDRESS"`
	CallbackURL   string `env:"SMS_CALLBACK_URL"`
	ClientID      string `env:"SMS_CLIENT_ID"`
	ClientSecret  string `env:"SMS_CLIENT_SECRET"`

	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `env:"TWILIO_PHONE_NUMBER"`

	RateLimitPerMinute    int    `env:"RATE_LIMIT_PER_MINUTE, default=60"`
	TokenRefreshThreshold int    `env:"TOKEN_REFRESH_THRESHOLD_SECONDS, default=60"`
	SupportedCountryCodes string `env:"SUPPORTED_COUNTRY_CODES, default=+231,+233,+234"`
	FacilityTimezone      string `env:"FACILITY_TIMEZONE, default=Africa/Monrovia"`
}

type WorkerConfig struct {
	IntervalMinutes   int `env:"WORKER_INTERVAL_MINUTES, default=5"`
	BatchSize         int `env:"BATCH_SIZE, default=50"`
	BatchDelaySeconds int `env:"BATCH_DELAY_SECONDS, default=2"`
	BatchConcurrency  int `env:"BATCH_CONCURRENCY, default=5"`
	FetchLimit        int `env:"FETCH_LIMIT, default=500"`
}

type RetryConfig struct {
	MaxRetries          int `env:"MAX_RETRIES, default=3"`
	BaseDelayMinutes    int `env:"RETRY_BASE_DELAY_MINUTES, default=5"`
	DeadLetterThreshold int `env:"DEAD_LETTER_THRESHOLD, default=5"`
}

type ConsentConfig struct {
	ExpiryDays int `env:"CONSENT_EXPIRY_DAYS, default=365"`
}

type ReconcileConfig struct {
	IntervalMinutes int `env:"RECONCILE_INTERVAL_MINUTES, default=15"`
	GraceMinutes    int `env:"RECONCILE_GRACE_MINUTES, default=30"`
	LookbackDays    int `env:"RECONCILE_LOOKBACK_DAYS, default=7"`
	DelayMillis     int `env:"RECONCILE_DELAY_MS, default=200"`
}

type WebhookConfig struct {
	// AllowedSources is a comma separated list of caller IPs or CIDR blocks.
	// Empty means accept from anywhere (local development).
	AllowedSources string `env:"WEBHOOK_ALLOWED_IPS"`
}

type QueueConfig struct {
	SQSQueueURL string `env:"SQS_QUEUE_URL"`
}

// Load reads .env (if present) and resolves the typed configuration from the
// process environment.
func Load(ctx context.Context) (*App, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	var app App
	if err := envconfig.Process(ctx, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

// CountryCodes splits the configured allow-list into individual prefixes.
func (c SMSConfig) CountryCodes() []string {
	parts := strings.Split(c.SupportedCountryCodes, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMinutes) * time.Minute
}

func (w WorkerConfig) BatchDelay() time.Duration {
	return time.Duration(w.BatchDelaySeconds) * time.Second
}

func (w WorkerConfig) Interval() time.Duration {
	return time.Duration(w.IntervalMinutes) * time.Minute
}

func (r ReconcileConfig) Grace() time.Duration {
	return time.Duration(r.GraceMinutes) * time.Minute
}

func (r ReconcileConfig) Lookback() time.Duration {
	return time.Duration(r.LookbackDays) * 24 * time.Hour
}

func (r ReconcileConfig) Delay() time.Duration {
	return time.Duration(r.DelayMillis) * time.Millisecond
}
