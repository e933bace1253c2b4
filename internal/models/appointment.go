package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AppointmentStatus string

const (
	AppointmentPendingPayment AppointmentStatus = "pending_payment"
	AppointmentConfirmed      AppointmentStatus = "confirmed"
	AppointmentCancelled      AppointmentStatus = "cancelled"
	AppointmentCompleted      AppointmentStatus = "completed"
)

// BlockingAppointmentStatuses are the statuses that occupy a slot.
var BlockingAppointmentStatuses = []AppointmentStatus{AppointmentPendingPayment, AppointmentConfirmed}

type Appointment struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	LineID      uint              `gorm:"not null;index:idx_appointment_line_start,priority:1" json:"lineId"`
	Line        *Line             `gorm:"foreignKey:LineID" json:"line,omitempty"`
	UserID      uint              `gorm:"not null;index" json:"userId"`
	StartTime   time.Time         `gorm:"not null;index:idx_appointment_line_start,priority:2" json:"startTime"`
	EndTime     time.Time         `gorm:"not null" json:"endTime"`
	Status      AppointmentStatus `gorm:"size:20;not null;index" json:"status"`
	Price       decimal.Decimal   `gorm:"type:decimal(12,2);not null;default:0" json:"price"`
	Notes       string            `gorm:"size:500" json:"notes,omitempty"`
	CancelledAt *time.Time        `json:"cancelledAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}
