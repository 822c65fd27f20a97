package users

import "time"

// User is a registered account identified by a unique username.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	Username     string    `gorm:"column:username;size:190;not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;size:190;not null"`
	AvatarURL    string    `gorm:"column:avatar_url;size:512"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}
