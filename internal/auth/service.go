package auth

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"tabi/internal/apperror"
	"tabi/internal/models"
	"tabi/internal/otp"
	"tabi/internal/storage"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUserExists    = apperror.Conflict("USER_EXISTS", "An account with this phone already exists")
	ErrUserNotFound  = apperror.NotFound("USER_NOT_FOUND", "User not found")
	ErrNameRequired  = apperror.Validation("NAME_REQUIRED", "Name is required to sign up")
	ErrInvalidEmail  = apperror.Validation("INVALID_EMAIL", "Email is invalid")
	ErrInvalidValues = apperror.Validation("INVALID_SETTINGS", "Settings must be positive")
	ErrEmailTaken    = apperror.Conflict("EMAIL_TAKEN", "Email is already in use")
)

// OTPService is the part of the otp package auth relies on.
type OTPService interface {
	Send(ctx context.Context, phone string, purpose models.OTPPurpose) (*otp.SendResult, error)
	Verify(ctx context.Context, phone string, purpose models.OTPPurpose, code string) error
}

type Service struct {
	db     *gorm.DB
	otp    OTPService
	tokens *Tokens
	log    *zap.Logger
}

func NewService(db *gorm.DB, otps OTPService, tokens *Tokens, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, otp: otps, tokens: tokens, log: log}
}

type SendOTPInput struct {
	Phone   string            `json:"phone" binding:"required" example:"+97699000000"`
	Purpose models.OTPPurpose `json:"purpose" binding:"required" example:"signup"`
}

type VerifyOTPInput struct {
	Phone   string            `json:"phone" binding:"required" example:"+97699000000"`
	Purpose models.OTPPurpose `json:"purpose" binding:"required" example:"signup"`
	Code    string            `json:"code" binding:"required,len=6" example:"123456"`
	Name    string            `json:"name" binding:"max=100" example:"Bold"`
}

type ProfileInput struct {
	Name      *string              `json:"name" binding:"omitempty,max=100"`
	Email     *string              `json:"email"`
	IsCreator *bool                `json:"isCreator"`
	Settings  *models.UserSettings `json:"settings"`
}

// Session is the result of a successful login.
type Session struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
}

func dbError(op string, err error) error {
	return apperror.Unexpected("DB_ERROR", fmt.Errorf("auth: %s: %w", op, err))
}

func (s *Service) findByPhone(ctx context.Context, phone string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("phone = ?", phone).First(&u).Error
	if storage.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("find user", err)
	}
	return &u, nil
}

// SendOTP issues a code after checking the purpose fits the account state:
// signup needs a new phone, login an existing one.
func (s *Service) SendOTP(ctx context.Context, in SendOTPInput) (*otp.SendResult, error) {
	phone := strings.TrimSpace(in.Phone)
	if in.Purpose == models.OTPSignup || in.Purpose == models.OTPLogin {
		u, err := s.findByPhone(ctx, phone)
		if err != nil {
			return nil, err
		}
		if in.Purpose == models.OTPSignup && u != nil {
			return nil, ErrUserExists
		}
		if in.Purpose == models.OTPLogin && u == nil {
			return nil, ErrUserNotFound
		}
	}
	return s.otp.Send(ctx, phone, in.Purpose)
}

// VerifyOTP consumes the code and logs the user in, creating the account on signup.
func (s *Service) VerifyOTP(ctx context.Context, in VerifyOTPInput) (*Session, error) {
	phone := strings.TrimSpace(in.Phone)
	name := strings.TrimSpace(in.Name)
	if in.Purpose == models.OTPSignup && name == "" {
		return nil, ErrNameRequired
	}

	if err := s.otp.Verify(ctx, phone, in.Purpose, in.Code); err != nil {
		return nil, err
	}

	u, err := s.findByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}

	switch {
	case u == nil && in.Purpose == models.OTPSignup:
		u = &models.User{
			Phone:         phone,
			Name:          name,
			PhoneVerified: true,
			Settings:      models.UserSettings{DefaultServiceTime: 5, DefaultMaxCapacity: 50, SMSNotifications: true},
		}
		if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
			if storage.IsDuplicate(err) {
				return nil, ErrUserExists
			}
			return nil, dbError("create user", err)
		}
		s.log.Info("User signed up", zap.Uint("user_id", u.ID))
	case u == nil:
		return nil, ErrUserNotFound
	case !u.PhoneVerified:
		if err := s.db.WithContext(ctx).Model(u).Update("phone_verified", true).Error; err != nil {
			return nil, dbError("verify phone", err)
		}
	}

	access, refresh, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, err
	}
	return &Session{User: u, AccessToken: access, RefreshToken: refresh}, nil
}

// Me returns the caller's account.
func (s *Service) Me(ctx context.Context, userID uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, userID).Error; err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, dbError("me", err)
	}
	return &u, nil
}

// UpdateProfile applies the fields present in in. A new email must be
// verified again.
func (s *Service) UpdateProfile(ctx context.Context, userID uint, in ProfileInput) (*models.User, error) {
	u, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		u.Name = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*in.Email))
		switch {
		case email == "":
			u.Email = nil
			u.EmailVerified = false
		case u.Email == nil || *u.Email != email:
			if _, err := mail.ParseAddress(email); err != nil {
				return nil, ErrInvalidEmail
			}
			u.Email = &email
			u.EmailVerified = false
		}
	}
	if in.IsCreator != nil {
		u.IsCreator = *in.IsCreator
	}
	if in.Settings != nil {
		if in.Settings.DefaultServiceTime <= 0 || in.Settings.DefaultMaxCapacity <= 0 {
			return nil, ErrInvalidValues
		}
		u.Settings = *in.Settings
	}

	if err := s.db.WithContext(ctx).Save(u).Error; err != nil {
		if storage.IsDuplicate(err) {
			return nil, ErrEmailTaken
		}
		return nil, dbError("update profile", err)
	}
	return u, nil
}

// Refresh exchanges a refresh token for a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	userID, err := s.tokens.Parse(refreshToken, RefreshToken)
	if err != nil {
		return nil, err
	}
	u, err := s.Me(ctx, userID)
	if err != nil {
		if apperror.KindOf(err) == apperror.KindNotFound {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	access, refresh, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, err
	}
	return &Session{User: u, AccessToken: access, RefreshToken: refresh}, nil
}
