package domain

import "time"

// Account is a credential row owned by the built-in identity provider. It is
// only used when the service runs without an external provider.
type Account struct {
	ID           string    `gorm:"type:varchar(128);primaryKey"`
	Email        string    `gorm:"type:varchar(320);not null;uniqueIndex:ux_accounts_email"`
	PasswordHash []byte    `gorm:"not null"`
	Disabled     bool      `gorm:"not null;default:false"`
	CreatedAt    time.Time
}

// TableName returns the database table name for Account.
func (Account) TableName() string { return "accounts" }
