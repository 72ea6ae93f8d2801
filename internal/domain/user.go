package domain

import "time"

// User is an account that owns page configurations and leads.
type User struct {
	ID           string    `gorm:"type:text;primaryKey" json:"id"`
	Email        string    `gorm:"type:text;not null;uniqueIndex" json:"email"`
	FullName     string    `gorm:"type:text" json:"full_name"`
	PasswordHash string    `gorm:"type:text;not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string {
	return "users"
}

// Session binds an opaque bearer token to a user until it expires.
type Session struct {
	Token     string    `gorm:"type:text;primaryKey" json:"token"`
	UserID    string    `gorm:"type:text;not null;index" json:"user_id"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string {
	return "sessions"
}
