package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"tabi/internal/apperror"
	"tabi/internal/config"
	"tabi/internal/metrics"
	"tabi/internal/models"
	"tabi/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Payment-Signature"

var (
	ErrNotFound          = apperror.NotFound("PAYMENT_NOT_FOUND", "Payment not found")
	ErrInvalidSignature  = apperror.Auth("INVALID_SIGNATURE", "Webhook signature is invalid")
	ErrInvalidPayload    = apperror.Validation("INVALID_WEBHOOK_PAYLOAD", "Webhook payload is malformed")
	ErrInvalidPlan       = apperror.Validation("INVALID_PLAN", "Plan cannot be purchased")
	ErrInvalidAmount     = apperror.Validation("INVALID_AMOUNT", "Amount must be positive")
	ErrNothingToPay      = apperror.Validation("NOTHING_TO_PAY", "Appointment is free")
	ErrBusinessRequired  = apperror.Validation("BUSINESS_REQUIRED", "Business plans need a business id")
	ErrNotBusinessOwner  = apperror.Forbidden("NOT_BUSINESS_OWNER", "Only the owner can change the business plan")
	ErrInvalidTransition = apperror.Conflict("INVALID_PAYMENT_TRANSITION", "Payment cannot move to that status")
)

// SubscriptionActivator applies a paid plan to a user.
type SubscriptionActivator interface {
	ActivateTx(tx *gorm.DB, userID uint, tier models.PlanTier) error
}

// BusinessPlanApplier applies a paid plan to a business.
type BusinessPlanApplier interface {
	ApplyPlanTx(tx *gorm.DB, businessID uint, tier models.PlanTier) error
}

// AppointmentConfirmer confirms an appointment that awaited payment.
type AppointmentConfirmer interface {
	ConfirmTx(tx *gorm.DB, appointmentID uint) (bool, error)
	GetForPayment(ctx context.Context, userID, appointmentID uint) (*models.Appointment, error)
}

type Deps struct {
	Subscriptions SubscriptionActivator
	Businesses    BusinessPlanApplier
	Appointments  AppointmentConfirmer
	Config        config.PaymentConfig
	NewID         func() string
	Now           func() time.Time
	Logger        *zap.Logger
}

type Service struct {
	db    *gorm.DB
	subs  SubscriptionActivator
	biz   BusinessPlanApplier
	appts AppointmentConfirmer
	cfg   config.PaymentConfig
	newID func() string
	now   func() time.Time
	log   *zap.Logger
}

func NewService(db *gorm.DB, deps Deps) *Service {
	s := &Service{
		db:    db,
		subs:  deps.Subscriptions,
		biz:   deps.Businesses,
		appts: deps.Appointments,
		cfg:   deps.Config,
		newID: deps.NewID,
		now:   deps.Now,
		log:   deps.Logger,
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.cfg.Currency == "" {
		s.cfg.Currency = "MNT"
	}
	return s
}

type SubscriptionCheckoutInput struct {
	Plan       models.PlanTier `json:"plan" binding:"required" example:"pro"`
	BusinessID *uint           `json:"businessId"`
}

type AppointmentCheckoutInput struct {
	AppointmentID uint `json:"appointmentId" binding:"required"`
}

type InvoiceInput struct {
	Amount      decimal.Decimal `json:"amount" swaggertype:"string" example:"15000"`
	Description string          `json:"description" binding:"required,max=255"`
}

// WebhookEvent is the provider's notification body.
type WebhookEvent struct {
	ExternalID string               `json:"externalId"`
	Status     models.PaymentStatus `json:"status"`
	Reason     string               `json:"reason,omitempty"`
}

func dbError(op string, err error) error {
	return apperror.Unexpected("DB_ERROR", fmt.Errorf("payments: %s: %w", op, err))
}

func passthrough(op string, err error) error {
	if _, ok := apperror.As(err); ok {
		return err
	}
	return dbError(op, err)
}

func (s *Service) checkoutURL(externalID string) string {
	u, err := url.Parse(s.cfg.CheckoutBaseURL)
	if err != nil {
		return s.cfg.CheckoutBaseURL
	}
	q := u.Query()
	q.Set("ref", externalID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Service) create(ctx context.Context, p *models.Payment) error {
	p.ExternalID = s.newID()
	p.Currency = s.cfg.Currency
	p.Status = models.PaymentPending
	p.CheckoutURL = s.checkoutURL(p.ExternalID)
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return dbError("create", err)
	}
	s.log.Info("Payment created",
		zap.Uint("payment_id", p.ID), zap.String("external_id", p.ExternalID),
		zap.String("type", string(p.Type)), zap.String("amount", p.Amount.String()))
	return nil
}

// CreateSubscriptionCheckout starts a payment for a personal or business plan.
func (s *Service) CreateSubscriptionCheckout(ctx context.Context, userID uint, in SubscriptionCheckoutInput) (*models.Payment, error) {
	plan, ok := models.LookupPlan(in.Plan)
	if !ok || !plan.Price.IsPositive() {
		return nil, ErrInvalidPlan
	}

	p := &models.Payment{
		UserID:      userID,
		Type:        models.PaymentSubscription,
		Plan:        plan.Tier,
		Amount:      plan.Price,
		Description: fmt.Sprintf("Tabi %s plan", plan.Tier),
	}
	if plan.Business {
		if in.BusinessID == nil {
			return nil, ErrBusinessRequired
		}
		var owned int64
		if err := s.db.WithContext(ctx).Model(&models.Business{}).
			Where("id = ? AND owner_id = ?", *in.BusinessID, userID).
			Count(&owned).Error; err != nil {
			return nil, dbError("check business", err)
		}
		if owned == 0 {
			return nil, ErrNotBusinessOwner
		}
		p.Type = models.PaymentBusinessSubscription
		p.ReferenceID = in.BusinessID
	}

	if err := s.create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateAppointmentCheckout starts a payment for a booking awaiting payment.
func (s *Service) CreateAppointmentCheckout(ctx context.Context, userID uint, in AppointmentCheckoutInput) (*models.Payment, error) {
	appt, err := s.appts.GetForPayment(ctx, userID, in.AppointmentID)
	if err != nil {
		return nil, err
	}
	if !appt.Price.IsPositive() {
		return nil, ErrNothingToPay
	}

	id := appt.ID
	p := &models.Payment{
		UserID:      userID,
		Type:        models.PaymentAppointment,
		ReferenceID: &id,
		Amount:      appt.Price,
		Description: fmt.Sprintf("Appointment #%d", appt.ID),
	}
	if err := s.create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateInvoice starts a free-form payment with no side effect on completion.
func (s *Service) CreateInvoice(ctx context.Context, userID uint, in InvoiceInput) (*models.Payment, error) {
	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	p := &models.Payment{
		UserID:      userID,
		Type:        models.PaymentInvoice,
		Amount:      in.Amount.Round(2),
		Description: strings.TrimSpace(in.Description),
	}
	if err := s.create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns one of the user's payments.
func (s *Service) Get(ctx context.Context, userID, id uint) (*models.Payment, error) {
	var p models.Payment
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&p).Error; err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, dbError("get", err)
	}
	return &p, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Service) verify(body []byte, signature string) bool {
	if s.cfg.WebhookSecret == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.cfg.WebhookSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// HandleWebhook applies a provider notification. Deliveries are at least
// once: the status change is a conditional update on the current status and
// the completion side effect runs in the same transaction, only for the
// delivery that won. Replays of an applied status succeed without effect.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (payment *models.Payment, err error) {
	result := "applied"
	defer func() {
		if err != nil && result == "applied" {
			result = "error"
		}
		metrics.RecordWebhook(result)
	}()

	if !s.verify(body, signature) {
		result = "invalid_signature"
		return nil, ErrInvalidSignature
	}

	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.ExternalID == "" || ev.Status == "" {
		result = "invalid_payload"
		return nil, ErrInvalidPayload
	}

	var p models.Payment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("external_id = ?", ev.ExternalID).First(&p).Error; err != nil {
			if storage.IsNotFound(err) {
				return ErrNotFound
			}
			return err
		}
		if p.Status == ev.Status {
			result = "duplicate"
			return nil
		}
		if !models.CanTransitionPayment(p.Status, ev.Status) {
			return ErrInvalidTransition
		}

		now := s.now().UTC()
		updates := map[string]interface{}{"status": ev.Status}
		switch ev.Status {
		case models.PaymentCompleted:
			updates["completed_at"] = now
		case models.PaymentFailed, models.PaymentCancelled:
			updates["failure_reason"] = ev.Reason
		}

		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", p.ID, p.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			result = "duplicate"
			return tx.First(&p, p.ID).Error
		}

		p.Status = ev.Status
		if ev.Status == models.PaymentCompleted {
			p.CompletedAt = &now
			return s.complete(tx, &p)
		}
		if ev.Status == models.PaymentFailed || ev.Status == models.PaymentCancelled {
			p.FailureReason = ev.Reason
		}
		return nil
	})
	if err != nil {
		return nil, passthrough("webhook", err)
	}

	s.log.Info("Payment webhook processed",
		zap.String("external_id", p.ExternalID), zap.String("status", string(p.Status)), zap.String("result", result))
	return &p, nil
}

// complete applies the side effect of a completed payment.
func (s *Service) complete(tx *gorm.DB, p *models.Payment) error {
	switch p.Type {
	case models.PaymentSubscription:
		return s.subs.ActivateTx(tx, p.UserID, p.Plan)
	case models.PaymentBusinessSubscription:
		if p.ReferenceID == nil {
			return ErrBusinessRequired
		}
		if err := s.biz.ApplyPlanTx(tx, *p.ReferenceID, p.Plan); err != nil {
			return err
		}
		return s.subs.ActivateTx(tx, p.UserID, p.Plan)
	case models.PaymentAppointment:
		if p.ReferenceID == nil {
			return nil
		}
		confirmed, err := s.appts.ConfirmTx(tx, *p.ReferenceID)
		if err != nil {
			return err
		}
		if !confirmed {
			s.log.Warn("Paid appointment was no longer awaiting payment",
				zap.Uint("payment_id", p.ID), zap.Uint("appointment_id", *p.ReferenceID))
		}
	}
	return nil
}
