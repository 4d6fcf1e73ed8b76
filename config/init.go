package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/tracing"
)

type Config struct {
	AppConfig              *AppConfig
	Logger                 *logger.Config
	Tracing                *tracing.JaegerConfig
	MailsyncDatabaseConfig *MailsyncDatabaseConfig
	R2StorageConfig        *R2StorageConfig
	ProviderConfig         *ProviderConfig
	SyncConfig             *SyncConfig
	IndexConfig            *IndexConfig
	WebhookConfig          *WebhookConfig
	AuthConfig             *AuthConfig
	OpenAIConfig           *OpenAIConfig
	ChatConfig             *ChatConfig
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:              &AppConfig{},
		Logger:                 &logger.Config{},
		Tracing:                &tracing.JaegerConfig{},
		MailsyncDatabaseConfig: &MailsyncDatabaseConfig{},
		R2StorageConfig:        &R2StorageConfig{},
		ProviderConfig:         &ProviderConfig{},
		SyncConfig:             &SyncConfig{},
		IndexConfig:            &IndexConfig{},
		WebhookConfig:          &WebhookConfig{},
		AuthConfig:             &AuthConfig{},
		OpenAIConfig:           &OpenAIConfig{},
		ChatConfig:             &ChatConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		return nil, err
	}

	return config, nil
}
