// Package otp issues and checks one-time phone codes. Codes are stored only
// as bcrypt hashes and are attempt limited.
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"tabi/internal/apperror"
	"tabi/internal/config"
	"tabi/internal/metrics"
	"tabi/internal/models"
	"tabi/internal/notify"
	"tabi/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrInvalidPhone    = apperror.Validation("INVALID_PHONE", "Phone number is invalid")
	ErrInvalidPurpose  = apperror.Validation("INVALID_PURPOSE", "OTP purpose is invalid")
	ErrNotFound        = apperror.NotFound("OTP_NOT_FOUND", "OTP not found")
	ErrExpired         = apperror.Validation("OTP_EXPIRED", "OTP expired")
	ErrTooManyAttempts = apperror.Validation("OTP_TOO_MANY_ATTEMPTS", "Too many failed attempts")
	ErrInvalidCode     = apperror.Validation("INVALID_OTP", "Invalid OTP")
	ErrCooldown        = apperror.RateLimited("OTP_COOLDOWN", "Please wait before requesting another code")
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)

// ValidPhone reports whether phone looks like an E.164 number.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

type Deps struct {
	Limiter  Limiter
	SMS      notify.Sender
	Config   config.OTPConfig
	Dev      bool
	HashCost int
	Now      func() time.Time
	Logger   *zap.Logger
}

type Service struct {
	db      *gorm.DB
	limiter Limiter
	sms     notify.Sender
	cfg     config.OTPConfig
	dev     bool
	cost    int
	now     func() time.Time
	log     *zap.Logger
}

func NewService(db *gorm.DB, deps Deps) *Service {
	s := &Service{
		db:      db,
		limiter: deps.Limiter,
		sms:     deps.SMS,
		cfg:     deps.Config,
		dev:     deps.Dev,
		cost:    deps.HashCost,
		now:     deps.Now,
		log:     deps.Logger,
	}
	if s.cfg.TTL <= 0 {
		s.cfg.TTL = 10 * time.Minute
	}
	if s.cfg.MaxAttempts <= 0 {
		s.cfg.MaxAttempts = 5
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// SendResult describes an issued code. Code is only set in development.
type SendResult struct {
	ExpiresAt time.Time `json:"expiresAt"`
	Code      string    `json:"code,omitempty"`
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Send issues a fresh code for phone and purpose, replacing any earlier one.
func (s *Service) Send(ctx context.Context, phone string, purpose models.OTPPurpose) (res *SendResult, err error) {
	defer func() { metrics.RecordOTP("send", err) }()

	if !ValidPhone(phone) {
		return nil, ErrInvalidPhone
	}
	if !purpose.Valid() {
		return nil, ErrInvalidPurpose
	}
	if err := s.checkCooldown(ctx, phone); err != nil {
		return nil, err
	}

	code, err := generateCode()
	if err != nil {
		return nil, apperror.Unexpected("OTP_GENERATION_ERROR", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return nil, apperror.Unexpected("OTP_HASH_ERROR", err)
	}

	now := s.now().UTC()
	record := models.OTP{
		Phone:     phone,
		Purpose:   purpose,
		CodeHash:  string(hash),
		ExpiresAt: now.Add(s.cfg.TTL),
		CreatedAt: now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("phone = ? AND purpose = ?", phone, purpose).Delete(&models.OTP{}).Error; err != nil {
			return err
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return nil, apperror.Unexpected("DB_ERROR", fmt.Errorf("otp: store: %w", err))
	}

	if s.sms != nil {
		msg := fmt.Sprintf("Your Tabi code is %s. It expires in %d minutes.", code, int(s.cfg.TTL/time.Minute))
		if err := s.sms.SendSMS(ctx, phone, msg); err != nil {
			s.log.Warn("Failed to deliver OTP", zap.String("phone", phone), zap.Error(err))
		}
	}

	res = &SendResult{ExpiresAt: record.ExpiresAt}
	if s.dev {
		res.Code = code
	}
	return res, nil
}

// checkCooldown uses the shared limiter when configured and falls back to
// the age of the stored code otherwise.
func (s *Service) checkCooldown(ctx context.Context, phone string) error {
	if s.cfg.ResendCooldown <= 0 {
		return nil
	}
	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, phone, s.cfg.ResendCooldown)
		if err != nil {
			s.log.Warn("OTP limiter unavailable, falling back to database", zap.Error(err))
		} else if !ok {
			return ErrCooldown
		} else {
			return nil
		}
	}

	var recent int64
	since := s.now().UTC().Add(-s.cfg.ResendCooldown)
	if err := s.db.WithContext(ctx).Model(&models.OTP{}).
		Where("phone = ? AND created_at > ?", phone, since).
		Count(&recent).Error; err != nil {
		return apperror.Unexpected("DB_ERROR", fmt.Errorf("otp: cooldown: %w", err))
	}
	if recent > 0 {
		return ErrCooldown
	}
	return nil
}

// Verify checks code against the stored hash. Expired and exhausted codes
// are deleted; a correct code is consumed.
func (s *Service) Verify(ctx context.Context, phone string, purpose models.OTPPurpose, code string) (err error) {
	defer func() { metrics.RecordOTP("verify", err) }()

	db := s.db.WithContext(ctx)
	var record models.OTP
	if err := db.Where("phone = ? AND purpose = ?", phone, purpose).
		Order("created_at DESC").
		First(&record).Error; err != nil {
		if storage.IsNotFound(err) {
			return ErrNotFound
		}
		return apperror.Unexpected("DB_ERROR", fmt.Errorf("otp: load: %w", err))
	}

	remove := func() error {
		if err := db.Delete(&models.OTP{}, record.ID).Error; err != nil {
			return apperror.Unexpected("DB_ERROR", fmt.Errorf("otp: delete: %w", err))
		}
		return nil
	}

	if s.now().After(record.ExpiresAt) {
		if err := remove(); err != nil {
			return err
		}
		return ErrExpired
	}
	if record.Attempts >= s.cfg.MaxAttempts {
		if err := remove(); err != nil {
			return err
		}
		return ErrTooManyAttempts
	}

	if bcrypt.CompareHashAndPassword([]byte(record.CodeHash), []byte(code)) != nil {
		if err := db.Model(&models.OTP{}).Where("id = ?", record.ID).
			UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error; err != nil {
			return apperror.Unexpected("DB_ERROR", fmt.Errorf("otp: count attempt: %w", err))
		}
		return ErrInvalidCode
	}
	return remove()
}

// PurgeExpired deletes codes that expired before now.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", now.UTC()).Delete(&models.OTP{})
	if res.Error != nil {
		return 0, fmt.Errorf("otp: purge: %w", res.Error)
	}
	return res.RowsAffected, nil
}
