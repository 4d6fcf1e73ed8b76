package config

import "time"

type AppConfig struct {
	APIPort     string `env:"PORT,required" envDefault:"12222"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
}

type MailsyncDatabaseConfig struct {
	Host            string `env:"MAILSYNC_POSTGRES_HOST,required"`
	Port            string `env:"MAILSYNC_POSTGRES_PORT,required"`
	User            string `env:"MAILSYNC_POSTGRES_USER,required"`
	DBName          string `env:"MAILSYNC_POSTGRES_DB_NAME,required"`
	Password        string `env:"MAILSYNC_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"MAILSYNC_POSTGRES_DB_MAX_CONN" envDefault:"50"`
	MaxIdleConn     int    `env:"MAILSYNC_POSTGRES_DB_MAX_IDLE_CONN" envDefault:"10"`
	ConnMaxLifetime int    `env:"MAILSYNC_POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"MAILSYNC_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"MAILSYNC_POSTGRES_SSL_MODE" envDefault:"require"`
}

// R2StorageConfig enables offloading of large HTML bodies. Leaving the
// account id empty keeps bodies inline in postgres.
type R2StorageConfig struct {
	AccountID        string `env:"R2_ACCOUNT_ID"`
	AccessKeyID      string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret  string `env:"R2_ACCESS_KEY_SECRET"`
	BodyBucket       string `env:"R2_BUCKET_MESSAGE_BODIES" envDefault:"message-bodies"`
	OffloadThreshold int    `env:"BODY_OFFLOAD_THRESHOLD" envDefault:"262144"`
}

func (c *R2StorageConfig) Enabled() bool {
	return c != nil && c.AccountID != "" && c.AccessKeyID != "" && c.AccessKeySecret != ""
}

type ProviderConfig struct {
	AurinkoBaseURL          string        `env:"AURINKO_BASE_URL" envDefault:"https://api.aurinko.io/v1"`
	HTTPTimeout             time.Duration `env:"PROVIDER_HTTP_TIMEOUT" envDefault:"30s"`
	MaxPages                int           `env:"PROVIDER_MAX_PAGES" envDefault:"500"`
	GmailMaxInitialMessages int           `env:"GMAIL_MAX_INITIAL_MESSAGES" envDefault:"500"`
	ImapDialTimeout         time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	ImapMaxInitialMessages  int           `env:"IMAP_MAX_INITIAL_MESSAGES" envDefault:"500"`
}

type SyncConfig struct {
	ProviderTimeout time.Duration `env:"SYNC_PROVIDER_TIMEOUT" envDefault:"2m"`
	MaxRetries      int           `env:"SYNC_MAX_RETRIES" envDefault:"3"`
	BackoffInitial  time.Duration `env:"SYNC_BACKOFF_INITIAL" envDefault:"1s"`
	BackoffMax      time.Duration `env:"SYNC_BACKOFF_MAX" envDefault:"30s"`
	PollConcurrency int           `env:"SYNC_POLL_CONCURRENCY" envDefault:"4"`
}

type IndexConfig struct {
	MaxDocuments      int `env:"INDEX_MAX_DOCUMENTS" envDefault:"300"`
	MaxAccounts       int `env:"INDEX_MAX_ACCOUNTS" envDefault:"1000"`
	SearchResultLimit int `env:"SEARCH_RESULT_LIMIT" envDefault:"20"`
}

type WebhookConfig struct {
	SigningSecret     string        `env:"WEBHOOK_SIGNING_SECRET"`
	UserWebhookSecret string        `env:"USER_WEBHOOK_SECRET"`
	MaxClockSkew      time.Duration `env:"WEBHOOK_MAX_CLOCK_SKEW" envDefault:"5m"`
}

type AuthConfig struct {
	JWKSURL string `env:"AUTH_JWKS_URL"`
}

type OpenAIConfig struct {
	Url     string        `env:"OPENAI_API_URL" envDefault:"https://api.openai.com/v1"`
	ApiKey  string        `env:"OPENAI_API_KEY"`
	Model   string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	Timeout time.Duration `env:"OPENAI_TIMEOUT" envDefault:"60s"`
}

type ChatConfig struct {
	FreeCreditsPerDay int `env:"CHAT_FREE_CREDITS_PER_DAY" envDefault:"15"`
}
