package subscriptions

import (
	"context"
	"fmt"
	"time"

	"tabi/internal/apperror"
	"tabi/internal/models"
	"tabi/internal/storage"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrQueueLimit    = apperror.Conflict("QUEUE_LIMIT_REACHED", "You have reached the line limit of your plan")
	ErrCustomerLimit = apperror.Conflict("CUSTOMER_LIMIT_REACHED", "This line has reached its monthly customer limit")
	ErrUnknownPlan   = apperror.Validation("INVALID_PLAN", "Unknown subscription plan")
)

// Period is how long a paid plan stays active after payment.
const Period = 30 * 24 * time.Hour

type Deps struct {
	Now      func() time.Time
	Location *time.Location
	Logger   *zap.Logger
}

// Service tracks plan limits and monthly customer usage per user.
type Service struct {
	db  *gorm.DB
	now func() time.Time
	loc *time.Location
	log *zap.Logger
}

func NewService(db *gorm.DB, deps Deps) *Service {
	s := &Service{db: db, now: deps.Now, loc: deps.Location, log: deps.Logger}
	if s.now == nil {
		s.now = time.Now
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// monthStart returns the first instant of now's month in the business timezone.
func (s *Service) monthStart(now time.Time) time.Time {
	local := now.In(s.loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, s.loc).UTC()
}

// Get returns the user's subscription, creating a free one on first use and
// falling back to free once a paid plan expired.
func (s *Service) Get(ctx context.Context, userID uint) (*models.Subscription, error) {
	return s.getTx(s.db.WithContext(ctx), userID)
}

func (s *Service) getTx(tx *gorm.DB, userID uint) (*models.Subscription, error) {
	now := s.now()

	var sub models.Subscription
	err := tx.Where("user_id = ?", userID).First(&sub).Error
	if storage.IsNotFound(err) {
		sub = models.Subscription{
			UserID:           userID,
			Status:           models.SubscriptionActive,
			UsagePeriodStart: s.monthStart(now),
		}
		sub.ApplyPlan(models.Plans[models.PlanFree])
		err = tx.Create(&sub).Error
		if storage.IsDuplicate(err) {
			err = tx.Where("user_id = ?", userID).First(&sub).Error
		}
	}
	if err != nil {
		return nil, apperror.Unexpected("DB_ERROR", fmt.Errorf("subscriptions: load: %w", err))
	}

	if sub.ExpiresAt != nil && now.After(*sub.ExpiresAt) && sub.Plan != models.PlanFree {
		sub.ApplyPlan(models.Plans[models.PlanFree])
		sub.Status = models.SubscriptionExpired
		sub.ExpiresAt = nil
		if err := tx.Save(&sub).Error; err != nil {
			return nil, apperror.Unexpected("DB_ERROR", fmt.Errorf("subscriptions: expire: %w", err))
		}
		s.log.Info("Subscription expired, downgraded to free", zap.Uint("user_id", userID))
	}
	return &sub, nil
}

// CheckLineLimit fails with ErrQueueLimit when the user may not open another line.
func (s *Service) CheckLineLimit(ctx context.Context, userID uint) error {
	sub, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}

	var active int64
	if err := s.db.WithContext(ctx).Model(&models.Line{}).
		Where("creator_id = ? AND is_active = ?", userID, true).
		Count(&active).Error; err != nil {
		return apperror.Unexpected("DB_ERROR", fmt.Errorf("subscriptions: count lines: %w", err))
	}

	if !models.WithinLimit(sub.MaxQueues, int(active)) {
		return ErrQueueLimit
	}
	return nil
}

// CheckCustomerLimit fails with ErrCustomerLimit when the line owner served
// their monthly allowance.
func (s *Service) CheckCustomerLimit(ctx context.Context, ownerID uint) error {
	sub, err := s.Get(ctx, ownerID)
	if err != nil {
		return err
	}
	if s.monthStart(s.now()).After(sub.UsagePeriodStart) {
		// the reset job has not reached this row yet
		return nil
	}
	if !models.WithinLimit(sub.MaxCustomersPerMonth, sub.CustomersThisMonth) {
		return ErrCustomerLimit
	}
	return nil
}

// RecordCustomer counts one more customer against the owner's month.
func (s *Service) RecordCustomer(ctx context.Context, ownerID uint) error {
	db := s.db.WithContext(ctx)
	if _, err := s.getTx(db, ownerID); err != nil {
		return err
	}

	start := s.monthStart(s.now())
	// a row still in an old period starts the new one at 1
	res := db.Model(&models.Subscription{}).
		Where("user_id = ? AND usage_period_start < ?", ownerID, start).
		Updates(map[string]interface{}{"customers_this_month": 1, "usage_period_start": start})
	if res.Error != nil {
		return apperror.Unexpected("DB_ERROR", fmt.Errorf("subscriptions: roll period: %w", res.Error))
	}
	if res.RowsAffected > 0 {
		return nil
	}

	if err := db.Model(&models.Subscription{}).
		Where("user_id = ?", ownerID).
		UpdateColumn("customers_this_month", gorm.Expr("customers_this_month + 1")).Error; err != nil {
		return apperror.Unexpected("DB_ERROR", fmt.Errorf("subscriptions: record customer: %w", err))
	}
	return nil
}

// ResetMonthlyUsage zeroes counters whose period started before the current month.
func (s *Service) ResetMonthlyUsage(ctx context.Context, now time.Time) (int64, error) {
	start := s.monthStart(now)
	res := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("usage_period_start < ?", start).
		Updates(map[string]interface{}{"customers_this_month": 0, "usage_period_start": start})
	if res.Error != nil {
		return 0, fmt.Errorf("subscriptions: reset usage: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ActivateTx switches the user to tier for one period. It runs inside the
// caller's transaction.
func (s *Service) ActivateTx(tx *gorm.DB, userID uint, tier models.PlanTier) error {
	plan, ok := models.LookupPlan(tier)
	if !ok {
		return ErrUnknownPlan
	}

	sub, err := s.getTx(tx, userID)
	if err != nil {
		return err
	}

	now := s.now()
	base := now
	if sub.Plan == tier && sub.ExpiresAt != nil && sub.ExpiresAt.After(now) {
		base = *sub.ExpiresAt
	}
	expires := base.Add(Period)

	sub.ApplyPlan(plan)
	sub.Status = models.SubscriptionActive
	sub.ExpiresAt = &expires
	if err := tx.Save(sub).Error; err != nil {
		return apperror.Unexpected("DB_ERROR", fmt.Errorf("subscriptions: activate: %w", err))
	}
	return nil
}
