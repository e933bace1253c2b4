package models

import "time"

type OTPPurpose string

const (
	OTPSignup      OTPPurpose = "signup"
	OTPLogin       OTPPurpose = "login"
	OTPVerifyPhone OTPPurpose = "verify_phone"
)

func (p OTPPurpose) Valid() bool {
	switch p {
	case OTPSignup, OTPLogin, OTPVerifyPhone:
		return true
	}
	return false
}

// OTP holds a hashed one-time code. Expired rows are purged by the scheduler.
type OTP struct {
	ID        uint       `gorm:"primaryKey"`
	Phone     string     `gorm:"size:20;not null;index:idx_otp_phone_purpose,priority:1"`
	Purpose   OTPPurpose `gorm:"size:20;not null;index:idx_otp_phone_purpose,priority:2"`
	CodeHash  string     `gorm:"not null"`
	Attempts  int        `gorm:"not null;default:0"`
	ExpiresAt time.Time  `gorm:"not null;index"`
	CreatedAt time.Time
}
