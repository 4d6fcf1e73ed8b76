package models

import "time"

type User struct {
	ID           string    `gorm:"column:id;type:varchar(100);primaryKey" json:"id"`
	EmailAddress string    `gorm:"column:email_address;type:varchar(255)" json:"emailAddress"`
	FirstName    *string   `gorm:"column:first_name;type:varchar(255)" json:"firstName"`
	LastName     *string   `gorm:"column:last_name;type:varchar(255)" json:"lastName"`
	ImageUrl     *string   `gorm:"column:image_url;type:varchar(1000)" json:"imageUrl"`
	CreatedAt    time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}
