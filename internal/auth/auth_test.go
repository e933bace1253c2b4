package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tabi/internal/config"
	"tabi/internal/models"
	"tabi/internal/otp"
	"tabi/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var jwtConfig = config.JWTConfig{
	AccessSecret:  "access",
	RefreshSecret: "refresh",
	AccessTTL:     15 * time.Minute,
	RefreshTTL:    24 * time.Hour,
}

func init() {
	gin.SetMode(gin.TestMode)
}

func TestTokensRoundTrip(t *testing.T) {
	clock := &testutil.Clock{T: time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)}
	tokens := NewTokens(jwtConfig, clock.Now)

	access, refresh, err := tokens.Issue(42)
	require.NoError(t, err)

	id, err := tokens.Parse(access, AccessToken)
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)

	id, err = tokens.Parse(refresh, RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)

	_, err = tokens.Parse(refresh, AccessToken)
	assert.True(t, errors.Is(err, ErrInvalidToken), "refresh tokens are not access tokens")

	_, err = tokens.Parse("garbage", AccessToken)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	clock.Advance(16 * time.Minute)
	_, err = tokens.Parse(access, AccessToken)
	assert.True(t, errors.Is(err, ErrTokenExpired))

	_, err = tokens.Parse(refresh, RefreshToken)
	assert.NoError(t, err)
}

func TestTokensRejectForeignSecret(t *testing.T) {
	mine := NewTokens(jwtConfig, nil)
	other := NewTokens(config.JWTConfig{AccessSecret: "other", RefreshSecret: "other", AccessTTL: time.Minute, RefreshTTL: time.Minute}, nil)

	access, _, err := other.Issue(1)
	require.NoError(t, err)

	_, err = mine.Parse(access, AccessToken)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestMiddleware(t *testing.T) {
	tokens := NewTokens(jwtConfig, nil)
	access, refresh, err := tokens.Issue(7)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", Middleware(tokens), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": UserID(c)})
	})

	tests := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"missing header", "", http.StatusUnauthorized, "NO_AUTH_HEADER"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "INVALID_AUTH_HEADER"},
		{"refresh token", "Bearer " + refresh, http.StatusUnauthorized, "INVALID_TOKEN"},
		{"valid", "Bearer " + access, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			if tt.code != "" {
				assert.Equal(t, tt.code, body["code"])
				assert.Equal(t, false, body["success"])
			} else {
				assert.Equal(t, float64(7), body["userId"])
			}
		})
	}
}

type fixture struct {
	svc *Service
	db  *gorm.DB
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	otps := otp.NewService(db, otp.Deps{Dev: true, HashCost: bcrypt.MinCost})
	return &fixture{svc: NewService(db, otps, NewTokens(jwtConfig, nil), nil), db: db}
}

func (f *fixture) login(t *testing.T, phone string, purpose models.OTPPurpose, name string) (*Session, error) {
	t.Helper()
	sent, err := f.svc.SendOTP(context.Background(), SendOTPInput{Phone: phone, Purpose: purpose})
	require.NoError(t, err)
	return f.svc.VerifyOTP(context.Background(), VerifyOTPInput{Phone: phone, Purpose: purpose, Code: sent.Code, Name: name})
}

func TestSignupThenLogin(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	const phone = "+97699555501"

	_, err := f.svc.SendOTP(ctx, SendOTPInput{Phone: phone, Purpose: models.OTPLogin})
	assert.True(t, errors.Is(err, ErrUserNotFound))

	session, err := f.login(t, phone, models.OTPSignup, "Saraa")
	require.NoError(t, err)
	assert.Equal(t, "Saraa", session.User.Name)
	assert.True(t, session.User.PhoneVerified)
	assert.Equal(t, 5, session.User.Settings.DefaultServiceTime)
	assert.NotEmpty(t, session.AccessToken)

	_, err = f.svc.SendOTP(ctx, SendOTPInput{Phone: phone, Purpose: models.OTPSignup})
	assert.True(t, errors.Is(err, ErrUserExists))

	again, err := f.login(t, phone, models.OTPLogin, "")
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, again.User.ID)
}

func TestVerifyOTPRequiresNameOnSignup(t *testing.T) {
	f := setup(t)
	_, err := f.svc.VerifyOTP(context.Background(), VerifyOTPInput{Phone: "+97699555502", Purpose: models.OTPSignup, Code: "123456"})
	assert.True(t, errors.Is(err, ErrNameRequired))
}

func TestVerifyOTPWrongCode(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sent, err := f.svc.SendOTP(ctx, SendOTPInput{Phone: "+97699555503", Purpose: models.OTPSignup})
	require.NoError(t, err)

	code := "000000"
	if sent.Code == code {
		code = "111111"
	}
	_, err = f.svc.VerifyOTP(ctx, VerifyOTPInput{Phone: "+97699555503", Purpose: models.OTPSignup, Code: code, Name: "X"})
	assert.True(t, errors.Is(err, otp.ErrInvalidCode))

	var count int64
	require.NoError(t, f.db.Model(&models.User{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestUpdateProfile(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := testutil.CreateUser(t, f.db, "+97699555504", false)
	b := testutil.CreateUser(t, f.db, "+97699555505", false)

	name, email, creator := " Nomin ", "Nomin@Example.com", true
	u, err := f.svc.UpdateProfile(ctx, a.ID, ProfileInput{Name: &name, Email: &email, IsCreator: &creator})
	require.NoError(t, err)
	assert.Equal(t, "Nomin", u.Name)
	require.NotNil(t, u.Email)
	assert.Equal(t, "nomin@example.com", *u.Email)
	assert.True(t, u.IsCreator)

	_, err = f.svc.UpdateProfile(ctx, b.ID, ProfileInput{Email: &email})
	assert.True(t, errors.Is(err, ErrEmailTaken))

	bad := "not-an-email"
	_, err = f.svc.UpdateProfile(ctx, b.ID, ProfileInput{Email: &bad})
	assert.True(t, errors.Is(err, ErrInvalidEmail))

	_, err = f.svc.UpdateProfile(ctx, b.ID, ProfileInput{Settings: &models.UserSettings{DefaultServiceTime: 0, DefaultMaxCapacity: 10}})
	assert.True(t, errors.Is(err, ErrInvalidValues))

	u, err = f.svc.UpdateProfile(ctx, b.ID, ProfileInput{Settings: &models.UserSettings{DefaultServiceTime: 15, DefaultMaxCapacity: 10}})
	require.NoError(t, err)
	assert.Equal(t, 15, u.Settings.DefaultServiceTime)
	assert.False(t, u.Settings.SMSNotifications)

	_, err = f.svc.UpdateProfile(ctx, 9999, ProfileInput{})
	assert.True(t, errors.Is(err, ErrUserNotFound))
}

func TestRefresh(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	session, err := f.login(t, "+97699555506", models.OTPSignup, "Tuya")
	require.NoError(t, err)

	next, err := f.svc.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, next.User.ID)

	_, err = f.svc.Refresh(ctx, session.AccessToken)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	require.NoError(t, f.db.Delete(&models.User{}, session.User.ID).Error)
	_, err = f.svc.Refresh(ctx, session.RefreshToken)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}
