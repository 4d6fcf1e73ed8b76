package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailsync/internal/utils"
)

// ChatbotInteraction counts a user's chat requests for one day.
type ChatbotInteraction struct {
	ID        string    `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	Day       string    `gorm:"column:day;type:varchar(10);not null;uniqueIndex:uq_chatbot_day_user,priority:1" json:"day"`
	UserID    string    `gorm:"column:user_id;type:varchar(100);not null;uniqueIndex:uq_chatbot_day_user,priority:2" json:"userId"`
	Count     int       `gorm:"column:count;not null;default:0" json:"count"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (ChatbotInteraction) TableName() string {
	return "chatbot_interactions"
}

func (c *ChatbotInteraction) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = utils.GenerateNanoIDWithPrefix("chat", 16)
	}
	return nil
}
