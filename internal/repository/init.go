package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/models"
)

type Repositories struct {
	AccountRepository            interfaces.AccountRepository
	SyncStateRepository          interfaces.SyncStateRepository
	MailStore                    interfaces.MailStore
	ThreadRepository             interfaces.ThreadRepository
	UserRepository               interfaces.UserRepository
	ChatbotInteractionRepository interfaces.ChatbotInteractionRepository
}

func InitRepositories(mailsyncDB *gorm.DB) *Repositories {
	return &Repositories{
		AccountRepository:            NewAccountRepository(mailsyncDB),
		SyncStateRepository:          NewSyncStateRepository(mailsyncDB),
		MailStore:                    NewMailStore(mailsyncDB),
		ThreadRepository:             NewThreadRepository(mailsyncDB),
		UserRepository:               NewUserRepository(mailsyncDB),
		ChatbotInteractionRepository: NewChatbotInteractionRepository(mailsyncDB),
	}
}

func MigrateMailsyncDB(dbConfig *config.MailsyncDatabaseConfig, mailsyncDB *gorm.DB) error {
	db, err := mailsyncDB.DB()
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(5)

	err = mailsyncDB.AutoMigrate(
		&models.Account{},
		&models.AccountSyncState{},
		&models.Thread{},
		&models.Message{},
		&models.User{},
		&models.ChatbotInteraction{},
	)

	db.SetMaxIdleConns(dbConfig.MaxIdleConn)
	db.SetMaxOpenConns(dbConfig.MaxConn)
	db.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)

	return err
}
