package model

import "time"

// User stores a Telegram chat owner and the login state bound to it.
type User struct {
	ID         uint  `gorm:"primaryKey"`
	TelegramID int64 `gorm:"uniqueIndex"`
	FirstName  string
	LastName   string
	Username   string

	// Email of the signed-in account, empty when signed out.
	Email string
	// RememberLogin keeps the session across restarts; TempLogin lasts until the process exits.
	RememberLogin bool `gorm:"default:false"`
	TempLogin     bool `gorm:"default:false"`
	RefreshToken  string
	TokenExpiry   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CategoryCache mirrors the custom categories of an account locally.
type CategoryCache struct {
	ID        uint   `gorm:"primaryKey"`
	Owner     string `gorm:"uniqueIndex"`
	Payload   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
