package models

import "time"

// Review is feedback on a visited queue entry or a completed appointment.
// Exactly one of LineJoinerID and AppointmentID is set.
type Review struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;index" json:"userId"`
	User          *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	LineID        uint      `gorm:"not null;index" json:"lineId"`
	LineJoinerID  *uint     `gorm:"uniqueIndex" json:"lineJoinerId,omitempty"`
	AppointmentID *uint     `gorm:"uniqueIndex" json:"appointmentId,omitempty"`
	Rating        int       `gorm:"not null" json:"rating"`
	Comment       string    `gorm:"type:text" json:"comment,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
