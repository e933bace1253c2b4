package business

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tabi/internal/apperror"
	"tabi/internal/dashboard"
	"tabi/internal/models"
	"tabi/internal/storage"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound         = apperror.NotFound("BUSINESS_NOT_FOUND", "Business not found")
	ErrUserNotFound     = apperror.NotFound("USER_NOT_FOUND", "User not found")
	ErrArtistNotFound   = apperror.NotFound("ARTIST_NOT_FOUND", "User is not an active artist of this business")
	ErrRequestNotFound  = apperror.NotFound("JOIN_REQUEST_NOT_FOUND", "Join request not found")
	ErrInvalidName      = apperror.Validation("INVALID_NAME", "Business name is required")
	ErrInvalidRole      = apperror.Validation("INVALID_ROLE", "Role must be artist or manager")
	ErrInvalidPlan      = apperror.Validation("INVALID_PLAN", "Not a business plan")
	ErrOwnerNotArtist   = apperror.Validation("OWNER_CANNOT_BE_ARTIST", "The owner cannot be added as an artist")
	ErrAlreadyOwner     = apperror.Conflict("BUSINESS_EXISTS", "You already own a business")
	ErrLimitReached     = apperror.Conflict("ARTIST_LIMIT_REACHED", "Artist limit reached for the current plan")
	ErrAlreadyMember    = apperror.Conflict("ALREADY_MEMBER", "User is already an artist of this business")
	ErrRequestPending   = apperror.Conflict("JOIN_REQUEST_PENDING", "A join request is already pending")
	ErrRequestResponded = apperror.Conflict("JOIN_REQUEST_RESPONDED", "Join request was already answered")
	ErrForbidden        = apperror.Forbidden("INSUFFICIENT_PERMISSIONS", "You do not have permission for this business")
)

// StarterPlan is the plan a newly registered business starts on.
const StarterPlan = models.PlanBusinessStarter

type Deps struct {
	Stats  *dashboard.Service
	Now    func() time.Time
	Logger *zap.Logger
}

type Service struct {
	db    *gorm.DB
	stats *dashboard.Service
	now   func() time.Time
	log   *zap.Logger
}

func NewService(db *gorm.DB, deps Deps) *Service {
	s := &Service{db: db, stats: deps.Stats, now: deps.Now, log: deps.Logger}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.stats == nil {
		s.stats = dashboard.NewService(db, dashboard.Deps{Logger: s.log})
	}
	return s
}

type RegisterInput struct {
	Name        string `json:"name" binding:"required,max=200" example:"Blue Door Barbers"`
	Description string `json:"description" binding:"max=2000"`
}

type JoinRequestInput struct {
	BusinessID uint              `json:"businessId" binding:"required"`
	Role       models.ArtistRole `json:"role" example:"artist"`
	Message    string            `json:"message" binding:"max=500"`
}

// Dashboard is a business-wide rollup over every member's lines.
type Dashboard struct {
	Business *models.Business `json:"business"`
	Stats    *dashboard.Stats `json:"stats"`
}

func dbError(op string, err error) error {
	return apperror.Unexpected("DB_ERROR", fmt.Errorf("business: %s: %w", op, err))
}

func passthrough(op string, err error) error {
	if _, ok := apperror.As(err); ok {
		return err
	}
	return dbError(op, err)
}

func userExists(tx *gorm.DB, userID uint) error {
	var count int64
	if err := tx.Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Register creates a business owned by ownerID on the starter plan. The
// owner becomes a creator so they can open lines.
func (s *Service) Register(ctx context.Context, ownerID uint, in RegisterInput) (*models.Business, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalidName
	}
	plan := models.Plans[StarterPlan]

	var biz models.Business
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := userExists(tx, ownerID); err != nil {
			return err
		}

		var owned int64
		if err := tx.Model(&models.Business{}).
			Where("owner_id = ? AND is_active = ?", ownerID, true).
			Count(&owned).Error; err != nil {
			return err
		}
		if owned > 0 {
			return ErrAlreadyOwner
		}

		biz = models.Business{
			OwnerID:     ownerID,
			Name:        name,
			Description: strings.TrimSpace(in.Description),
			Plan:        plan.Tier,
			MaxArtists:  plan.MaxArtists,
			IsActive:    true,
		}
		if err := tx.Create(&biz).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", ownerID).Update("is_creator", true).Error
	})
	if err != nil {
		return nil, passthrough("register", err)
	}

	s.log.Info("Business registered", zap.Uint("business_id", biz.ID), zap.Uint("owner_id", ownerID))
	return &biz, nil
}

// Get returns a business with its active roster.
func (s *Service) Get(ctx context.Context, businessID uint) (*models.Business, error) {
	var biz models.Business
	err := s.db.WithContext(ctx).
		Preload("Artists", "is_active = ?", true).
		Preload("Artists.User").
		First(&biz, businessID).Error
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, dbError("get", err)
	}
	return &biz, nil
}

// Mine lists the active businesses userID owns or works at.
func (s *Service) Mine(ctx context.Context, userID uint) ([]models.Business, error) {
	db := s.db.WithContext(ctx)
	member := db.Model(&models.BusinessArtist{}).
		Select("business_id").
		Where("user_id = ? AND is_active = ?", userID, true)

	var out []models.Business
	err := db.Preload("Artists", "is_active = ?", true).
		Preload("Artists.User").
		Where("is_active = ?", true).
		Where(db.Where("owner_id = ?", userID).Or("id IN (?)", member)).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, dbError("mine", err)
	}
	return out, nil
}

// membership returns the business and, when userID is an active artist, their roster entry.
func membership(tx *gorm.DB, businessID, userID uint) (*models.Business, *models.BusinessArtist, error) {
	var biz models.Business
	if err := tx.First(&biz, businessID).Error; err != nil {
		if storage.IsNotFound(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	var artist models.BusinessArtist
	err := tx.Where("business_id = ? AND user_id = ? AND is_active = ?", businessID, userID, true).
		First(&artist).Error
	if storage.IsNotFound(err) {
		return &biz, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &biz, &artist, nil
}

// authorize passes the owner and artists for whom allowed returns true.
func authorize(tx *gorm.DB, businessID, userID uint, allowed func(models.ArtistPermissions) bool) (*models.Business, error) {
	biz, artist, err := membership(tx, businessID, userID)
	if err != nil {
		return nil, err
	}
	if biz.OwnerID == userID {
		return biz, nil
	}
	if artist == nil || !allowed(artist.Permissions) {
		return nil, ErrForbidden
	}
	return biz, nil
}

func canManageArtists(p models.ArtistPermissions) bool { return p.CanManageArtists }
func canViewAnalytics(p models.ArtistPermissions) bool { return p.CanViewAnalytics }

// IsMember reports whether userID owns or actively works at the business.
func (s *Service) IsMember(ctx context.Context, businessID, userID uint) (bool, error) {
	biz, artist, err := membership(s.db.WithContext(ctx), businessID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, dbError("membership", err)
	}
	return biz.OwnerID == userID || artist != nil, nil
}

func activeArtists(tx *gorm.DB, businessID uint) (int64, error) {
	var count int64
	err := tx.Model(&models.BusinessArtist{}).
		Where("business_id = ? AND is_active = ?", businessID, true).
		Count(&count).Error
	return count, err
}

// CanAddArtist reports whether the roster is below the plan's artist limit.
func (s *Service) CanAddArtist(ctx context.Context, businessID uint) (bool, error) {
	db := s.db.WithContext(ctx)
	var biz models.Business
	if err := db.First(&biz, businessID).Error; err != nil {
		if storage.IsNotFound(err) {
			return false, ErrNotFound
		}
		return false, dbError("load", err)
	}
	count, err := activeArtists(db, businessID)
	if err != nil {
		return false, dbError("count artists", err)
	}
	return models.WithinLimit(biz.MaxArtists, int(count)), nil
}

// AddArtist puts userID on the roster with role. requesterID must be the
// owner or a manager.
func (s *Service) AddArtist(ctx context.Context, requesterID, businessID, userID uint, role models.ArtistRole) (*models.BusinessArtist, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	var artist *models.BusinessArtist
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := authorize(tx, businessID, requesterID, canManageArtists); err != nil {
			return err
		}
		var err error
		artist, err = s.addArtistTx(tx, businessID, userID, role)
		return err
	})
	if err != nil {
		return nil, passthrough("add artist", err)
	}
	return artist, nil
}

// addArtistTx serializes on the business row so concurrent additions see
// each other's roster before comparing against the limit.
func (s *Service) addArtistTx(tx *gorm.DB, businessID, userID uint, role models.ArtistRole) (*models.BusinessArtist, error) {
	now := s.now().UTC()

	lock := tx.Model(&models.Business{}).Where("id = ?", businessID).UpdateColumn("updated_at", now)
	if lock.Error != nil {
		return nil, lock.Error
	}
	if lock.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	var biz models.Business
	if err := tx.First(&biz, businessID).Error; err != nil {
		return nil, err
	}
	if biz.OwnerID == userID {
		return nil, ErrOwnerNotArtist
	}
	if err := userExists(tx, userID); err != nil {
		return nil, err
	}

	count, err := activeArtists(tx, businessID)
	if err != nil {
		return nil, err
	}
	if !models.WithinLimit(biz.MaxArtists, int(count)) {
		return nil, ErrLimitReached
	}

	var artist models.BusinessArtist
	err = tx.Where("business_id = ? AND user_id = ?", businessID, userID).First(&artist).Error
	switch {
	case err == nil && artist.IsActive:
		return nil, ErrAlreadyMember
	case err == nil:
		artist.Role = role
		artist.IsActive = true
		artist.Permissions = models.DefaultPermissions(role)
		artist.JoinedAt = now
		artist.LeftAt = nil
		if err := tx.Save(&artist).Error; err != nil {
			return nil, err
		}
	case storage.IsNotFound(err):
		artist = models.BusinessArtist{
			BusinessID:  businessID,
			UserID:      userID,
			Role:        role,
			IsActive:    true,
			Permissions: models.DefaultPermissions(role),
			JoinedAt:    now,
		}
		if err := tx.Create(&artist).Error; err != nil {
			if storage.IsDuplicate(err) {
				return nil, ErrAlreadyMember
			}
			return nil, err
		}
	default:
		return nil, err
	}

	s.log.Info("Artist added",
		zap.Uint("business_id", businessID), zap.Uint("user_id", userID), zap.String("role", string(role)))
	return &artist, nil
}

// RemoveArtist deactivates userID's roster entry. Artists may remove
// themselves; removing others requires artist management rights.
func (s *Service) RemoveArtist(ctx context.Context, requesterID, businessID, userID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if requesterID != userID {
			if _, err := authorize(tx, businessID, requesterID, canManageArtists); err != nil {
				return err
			}
		}
		res := tx.Model(&models.BusinessArtist{}).
			Where("business_id = ? AND user_id = ? AND is_active = ?", businessID, userID, true).
			Updates(map[string]interface{}{"is_active": false, "left_at": s.now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrArtistNotFound
		}
		return nil
	})
	if err != nil {
		return passthrough("remove artist", err)
	}
	return nil
}

// CreateJoinRequest asks to join a business as an artist.
func (s *Service) CreateJoinRequest(ctx context.Context, userID uint, in JoinRequestInput) (*models.JoinRequest, error) {
	role := in.Role
	if role == "" {
		role = models.RoleArtist
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	var req models.JoinRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		biz, artist, err := membership(tx, in.BusinessID, userID)
		if err != nil {
			return err
		}
		if !biz.IsActive {
			return ErrNotFound
		}
		if biz.OwnerID == userID {
			return ErrOwnerNotArtist
		}
		if artist != nil {
			return ErrAlreadyMember
		}

		var pending int64
		if err := tx.Model(&models.JoinRequest{}).
			Where("business_id = ? AND user_id = ? AND status = ?", in.BusinessID, userID, models.JoinRequestPending).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return ErrRequestPending
		}

		req = models.JoinRequest{
			BusinessID: in.BusinessID,
			UserID:     userID,
			Role:       role,
			Message:    strings.TrimSpace(in.Message),
			Status:     models.JoinRequestPending,
		}
		return tx.Create(&req).Error
	})
	if err != nil {
		return nil, passthrough("join request", err)
	}
	return &req, nil
}

// PendingRequests lists the open join requests of a business.
func (s *Service) PendingRequests(ctx context.Context, requesterID, businessID uint) ([]models.JoinRequest, error) {
	db := s.db.WithContext(ctx)
	if _, err := authorize(db, businessID, requesterID, canManageArtists); err != nil {
		return nil, passthrough("pending requests", err)
	}

	var out []models.JoinRequest
	if err := db.Preload("User").
		Where("business_id = ? AND status = ?", businessID, models.JoinRequestPending).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, dbError("pending requests", err)
	}
	return out, nil
}

// RespondJoinRequest approves or rejects a pending request. Approval adds the
// artist in the same transaction, so a full roster leaves the request pending.
func (s *Service) RespondJoinRequest(ctx context.Context, requesterID, businessID, requestID uint, approve bool) (*models.JoinRequest, error) {
	var req models.JoinRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := authorize(tx, businessID, requesterID, canManageArtists); err != nil {
			return err
		}
		if err := tx.Where("id = ? AND business_id = ?", requestID, businessID).First(&req).Error; err != nil {
			if storage.IsNotFound(err) {
				return ErrRequestNotFound
			}
			return err
		}

		status := models.JoinRequestRejected
		if approve {
			status = models.JoinRequestApproved
		}
		now := s.now().UTC()
		res := tx.Model(&models.JoinRequest{}).
			Where("id = ? AND status = ?", requestID, models.JoinRequestPending).
			Updates(map[string]interface{}{"status": status, "responded_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRequestResponded
		}
		req.Status = status
		req.RespondedAt = &now

		if !approve {
			return nil
		}
		_, err := s.addArtistTx(tx, businessID, req.UserID, req.Role)
		return err
	})
	if err != nil {
		return nil, passthrough("respond join request", err)
	}
	return &req, nil
}

// Dashboard aggregates the lines of the owner and every active artist.
func (s *Service) Dashboard(ctx context.Context, requesterID, businessID uint) (*Dashboard, error) {
	db := s.db.WithContext(ctx)
	if _, err := authorize(db, businessID, requesterID, canViewAnalytics); err != nil {
		return nil, passthrough("dashboard", err)
	}

	biz, err := s.Get(ctx, businessID)
	if err != nil {
		return nil, err
	}

	creators := []uint{biz.OwnerID}
	for _, a := range biz.Artists {
		creators = append(creators, a.UserID)
	}
	stats, err := s.stats.Stats(ctx, creators, s.now())
	if err != nil {
		return nil, err
	}
	return &Dashboard{Business: biz, Stats: stats}, nil
}

// ApplyPlanTx moves a business onto a paid business plan. Existing artists
// are kept when the new limit is lower; only new additions are blocked.
func (s *Service) ApplyPlanTx(tx *gorm.DB, businessID uint, tier models.PlanTier) error {
	plan, ok := models.LookupPlan(tier)
	if !ok || !plan.Business {
		return ErrInvalidPlan
	}
	res := tx.Model(&models.Business{}).Where("id = ?", businessID).
		Updates(map[string]interface{}{"plan": plan.Tier, "max_artists": plan.MaxArtists})
	if res.Error != nil {
		return dbError("apply plan", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
