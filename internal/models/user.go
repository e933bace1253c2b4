package models

import "time"

// UserSettings are the defaults applied to lines the user creates.
type UserSettings struct {
	DefaultServiceTime int  `gorm:"not null;default:5" json:"defaultServiceTime"`
	DefaultMaxCapacity int  `gorm:"not null;default:50" json:"defaultMaxCapacity"`
	SMSNotifications   bool `gorm:"not null;default:true" json:"smsNotifications"`
}

type User struct {
	ID                uint         `gorm:"primaryKey" json:"id"`
	Phone             string       `gorm:"size:20;uniqueIndex;not null" json:"phone"`
	Name              string       `gorm:"size:100" json:"name"`
	Email             *string      `gorm:"size:255;uniqueIndex" json:"email,omitempty"`
	PhoneVerified     bool         `gorm:"not null" json:"phoneVerified"`
	EmailVerified     bool         `gorm:"not null" json:"emailVerified"`
	IsCreator         bool         `gorm:"not null" json:"isCreator"`
	Settings          UserSettings `gorm:"embedded;embeddedPrefix:settings_" json:"settings"`
	TotalTimesJoined  int          `gorm:"not null;default:0" json:"totalTimesJoined"`
	TotalLinesCreated int          `gorm:"not null;default:0" json:"totalLinesCreated"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}
