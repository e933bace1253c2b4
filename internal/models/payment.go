package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	PaymentSubscription         PaymentType = "subscription"
	PaymentBusinessSubscription PaymentType = "business_subscription"
	PaymentAppointment          PaymentType = "appointment"
	PaymentInvoice              PaymentType = "invoice"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentRefunded  PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:   {PaymentCompleted, PaymentFailed, PaymentCancelled},
	PaymentCompleted: {PaymentRefunded},
}

// CanTransitionPayment reports whether a payment may move forward from one status to another.
func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Payment struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	ExternalID    string          `gorm:"size:64;uniqueIndex;not null" json:"externalId"`
	UserID        uint            `gorm:"not null;index" json:"userId"`
	Type          PaymentType     `gorm:"size:30;not null" json:"type"`
	ReferenceID   *uint           `gorm:"index" json:"referenceId,omitempty"`
	Plan          PlanTier        `gorm:"size:30" json:"plan,omitempty"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency      string          `gorm:"size:3;not null" json:"currency"`
	Status        PaymentStatus   `gorm:"size:20;not null;index" json:"status"`
	Description   string          `gorm:"size:255" json:"description"`
	CheckoutURL   string          `gorm:"size:500" json:"checkoutUrl"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	FailureReason string          `gorm:"size:255" json:"failureReason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}
