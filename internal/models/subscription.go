package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PlanTier string

const (
	PlanFree            PlanTier = "free"
	PlanBasic           PlanTier = "basic"
	PlanPro             PlanTier = "pro"
	PlanBusinessStarter PlanTier = "business_starter"
	PlanBusinessPro     PlanTier = "business_pro"
	PlanEnterprise      PlanTier = "enterprise"
)

// Unlimited disables a plan limit.
const Unlimited = -1

type PlanFeatures struct {
	SMSNotifications bool `json:"smsNotifications"`
	Analytics        bool `json:"analytics"`
	Appointments     bool `json:"appointments"`
	CustomBranding   bool `json:"customBranding"`
}

type Plan struct {
	Tier                 PlanTier        `json:"tier"`
	Business             bool            `json:"business"`
	Price                decimal.Decimal `json:"price"`
	MaxQueues            int             `json:"maxQueues"`
	MaxCustomersPerMonth int             `json:"maxCustomersPerMonth"`
	MaxArtists           int             `json:"maxArtists"`
	Features             PlanFeatures    `json:"features"`
}

// Plans is the catalog of subscription tiers. Prices are monthly, in the
// configured currency.
var Plans = map[PlanTier]Plan{
	PlanFree: {
		Tier: PlanFree, Price: decimal.Zero,
		MaxQueues: 1, MaxCustomersPerMonth: 50, MaxArtists: 0,
	},
	PlanBasic: {
		Tier: PlanBasic, Price: decimal.NewFromInt(19900),
		MaxQueues: 3, MaxCustomersPerMonth: 500, MaxArtists: 0,
		Features: PlanFeatures{SMSNotifications: true},
	},
	PlanPro: {
		Tier: PlanPro, Price: decimal.NewFromInt(49900),
		MaxQueues: 10, MaxCustomersPerMonth: Unlimited, MaxArtists: 0,
		Features: PlanFeatures{SMSNotifications: true, Analytics: true, Appointments: true},
	},
	PlanBusinessStarter: {
		Tier: PlanBusinessStarter, Business: true, Price: decimal.NewFromInt(99900),
		MaxQueues: 10, MaxCustomersPerMonth: 2000, MaxArtists: 3,
		Features: PlanFeatures{SMSNotifications: true, Analytics: true, Appointments: true},
	},
	PlanBusinessPro: {
		Tier: PlanBusinessPro, Business: true, Price: decimal.NewFromInt(199900),
		MaxQueues: 30, MaxCustomersPerMonth: Unlimited, MaxArtists: 10,
		Features: PlanFeatures{SMSNotifications: true, Analytics: true, Appointments: true, CustomBranding: true},
	},
	PlanEnterprise: {
		Tier: PlanEnterprise, Business: true, Price: decimal.NewFromInt(499900),
		MaxQueues: Unlimited, MaxCustomersPerMonth: Unlimited, MaxArtists: Unlimited,
		Features: PlanFeatures{SMSNotifications: true, Analytics: true, Appointments: true, CustomBranding: true},
	},
}

// LookupPlan returns the catalog entry for tier.
func LookupPlan(tier PlanTier) (Plan, bool) {
	p, ok := Plans[tier]
	return p, ok
}

// WithinLimit reports whether one more item fits under limit given current usage.
func WithinLimit(limit, current int) bool {
	return limit == Unlimited || current < limit
}

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

type Subscription struct {
	ID                   uint                             `gorm:"primaryKey" json:"id"`
	UserID               uint                             `gorm:"not null;uniqueIndex" json:"userId"`
	Plan                 PlanTier                         `gorm:"size:30;not null" json:"plan"`
	Status               SubscriptionStatus               `gorm:"size:20;not null" json:"status"`
	MaxQueues            int                              `gorm:"not null" json:"maxQueues"`
	MaxCustomersPerMonth int                              `gorm:"not null" json:"maxCustomersPerMonth"`
	MaxArtists           int                              `gorm:"not null" json:"maxArtists"`
	Features             datatypes.JSONType[PlanFeatures] `json:"features" swaggertype:"object"`
	CustomersThisMonth   int                              `gorm:"not null;default:0" json:"customersThisMonth"`
	UsagePeriodStart     time.Time                        `gorm:"not null;index" json:"usagePeriodStart"`
	ExpiresAt            *time.Time                       `json:"expiresAt,omitempty"`
	CreatedAt            time.Time                        `json:"createdAt"`
	UpdatedAt            time.Time                        `json:"updatedAt"`
}

// ApplyPlan copies the plan's limits onto the subscription.
func (s *Subscription) ApplyPlan(p Plan) {
	s.Plan = p.Tier
	s.MaxQueues = p.MaxQueues
	s.MaxCustomersPerMonth = p.MaxCustomersPerMonth
	s.MaxArtists = p.MaxArtists
	s.Features = datatypes.NewJSONType(p.Features)
}
