package lines

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"tabi/internal/apperror"
	"tabi/internal/models"
	"tabi/internal/storage"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound           = apperror.NotFound("LINE_NOT_FOUND", "Line not found")
	ErrUserNotFound       = apperror.NotFound("USER_NOT_FOUND", "User not found")
	ErrNotOwner           = apperror.Forbidden("NOT_LINE_OWNER", "You do not manage this line")
	ErrNotCreator         = apperror.Forbidden("NOT_CREATOR", "Only creators can create lines")
	ErrNotBusinessMember  = apperror.Forbidden("NOT_BUSINESS_MEMBER", "You are not a member of this business")
	ErrInvalidCode        = apperror.Validation("INVALID_CODE", "Line code must be 6 digits")
	ErrCodeSpaceExhausted = apperror.Unexpected("CODE_SPACE_EXHAUSTED", errors.New("no free line code after retries"))
)

const (
	codeMin      = 100000
	codeSpan     = 900000
	cacheTTL     = 30 * time.Second
	cachePrefix  = "line:code:"
	maxTitleSize = 200
)

// LineLimiter enforces the creator's plan quota.
type LineLimiter interface {
	CheckLineLimit(ctx context.Context, userID uint) error
}

// MembershipChecker answers whether a user may attach lines to a business.
type MembershipChecker interface {
	IsMember(ctx context.Context, businessID, userID uint) (bool, error)
}

type Deps struct {
	Limits                   LineLimiter
	Members                  MembershipChecker
	Cache                    *redis.Client
	RandN                    func(n int) int
	Now                      func() time.Time
	Location                 *time.Location
	Logger                   *zap.Logger
	CodeAttempts             int
	DefaultAutoRemoveMinutes int
}

type Service struct {
	db            *gorm.DB
	limits        LineLimiter
	members       MembershipChecker
	cache         *redis.Client
	randN         func(n int) int
	now           func() time.Time
	loc           *time.Location
	log           *zap.Logger
	attempts      int
	defaultRemove int
}

func NewService(db *gorm.DB, deps Deps) *Service {
	s := &Service{
		db:            db,
		limits:        deps.Limits,
		members:       deps.Members,
		cache:         deps.Cache,
		randN:         deps.RandN,
		now:           deps.Now,
		loc:           deps.Location,
		log:           deps.Logger,
		attempts:      deps.CodeAttempts,
		defaultRemove: deps.DefaultAutoRemoveMinutes,
	}
	if s.randN == nil {
		s.randN = rand.Intn
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.attempts <= 0 {
		s.attempts = 10
	}
	return s
}

// Summary is a line as seen by a customer about to join.
type Summary struct {
	Line                 *models.Line `json:"line"`
	QueueCount           int          `json:"queueCount"`
	EstimatedWaitTime    int          `json:"estimatedWaitTime"`
	IsCurrentlyAvailable bool         `json:"isCurrentlyAvailable"`
}

type CreateInput struct {
	Title                  string               `json:"title" binding:"required"`
	Description            string               `json:"description"`
	Type                   models.LineType      `json:"type"`
	MaxCapacity            int                  `json:"maxCapacity"`
	EstimatedServiceTime   int                  `json:"estimatedServiceTime"`
	AutoRemoveAfterMinutes *int                 `json:"autoRemoveAfterMinutes"`
	Price                  *decimal.Decimal     `json:"price" swaggertype:"string"`
	Availability           *models.Availability `json:"availability"`
	BusinessID             *uint                `json:"businessId"`
}

type UpdateInput struct {
	Title                  *string              `json:"title"`
	Description            *string              `json:"description"`
	MaxCapacity            *int                 `json:"maxCapacity"`
	EstimatedServiceTime   *int                 `json:"estimatedServiceTime"`
	AutoRemoveAfterMinutes *int                 `json:"autoRemoveAfterMinutes"`
	Price                  *decimal.Decimal     `json:"price" swaggertype:"string"`
	Availability           *models.Availability `json:"availability"`
}

func invalid(msg string) error {
	return apperror.Validation("VALIDATION_ERROR", msg)
}

// NewCode draws a uniform 6 digit code.
func (s *Service) NewCode() string {
	return fmt.Sprintf("%06d", codeMin+s.randN(codeSpan))
}

// ValidCode reports whether code is exactly six digits.
func ValidCode(code string) bool {
	if len(code) != models.CodeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return code[0] != '0'
}

// Create opens a new line for a creator. The code is picked by inserting and
// retrying on a uniqueness violation.
func (s *Service) Create(ctx context.Context, creatorID uint, in CreateInput) (*models.Line, error) {
	db := s.db.WithContext(ctx)

	var creator models.User
	if err := db.First(&creator, creatorID).Error; err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, apperror.Unexpected("DB_ERROR", err)
	}
	if !creator.IsCreator {
		return nil, ErrNotCreator
	}

	line, err := s.buildLine(&creator, in)
	if err != nil {
		return nil, err
	}

	if in.BusinessID != nil {
		if s.members == nil {
			return nil, ErrNotBusinessMember
		}
		ok, err := s.members.IsMember(ctx, *in.BusinessID, creatorID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotBusinessMember
		}
		line.BusinessID = in.BusinessID
	}

	if s.limits != nil {
		if err := s.limits.CheckLineLimit(ctx, creatorID); err != nil {
			return nil, err
		}
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := s.insertWithCode(tx, line); err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", creatorID).
			UpdateColumn("total_lines_created", gorm.Expr("total_lines_created + 1")).Error
	})
	if err != nil {
		if _, ok := apperror.As(err); ok {
			return nil, err
		}
		return nil, apperror.Unexpected("DB_ERROR", fmt.Errorf("lines: create: %w", err))
	}

	s.log.Info("Line created", zap.Uint("line_id", line.ID), zap.String("code", line.Code), zap.Uint("creator_id", creatorID))
	return line, nil
}

func (s *Service) buildLine(creator *models.User, in CreateInput) (*models.Line, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" || len(title) > maxTitleSize {
		return nil, invalid("Title is required and must be at most 200 characters")
	}

	lineType := in.Type
	if lineType == "" {
		lineType = models.LineTypeQueue
	}
	if !lineType.Valid() {
		return nil, invalid("Line type must be queue or appointment")
	}

	capacity := in.MaxCapacity
	if capacity == 0 {
		capacity = creator.Settings.DefaultMaxCapacity
	}
	serviceTime := in.EstimatedServiceTime
	if serviceTime == 0 {
		serviceTime = creator.Settings.DefaultServiceTime
	}
	if capacity < 1 {
		return nil, invalid("Max capacity must be at least 1")
	}
	if serviceTime < 1 {
		return nil, invalid("Estimated service time must be at least 1 minute")
	}

	autoRemove := s.defaultRemove
	if in.AutoRemoveAfterMinutes != nil {
		autoRemove = *in.AutoRemoveAfterMinutes
	}
	if autoRemove < 0 {
		return nil, invalid("Auto remove minutes cannot be negative")
	}

	price := decimal.Zero
	if in.Price != nil {
		price = *in.Price
	}
	if price.IsNegative() {
		return nil, invalid("Price cannot be negative")
	}

	availability := models.DefaultAvailability()
	if in.Availability != nil {
		availability = *in.Availability
	}
	if err := availability.Validate(); err != nil {
		return nil, invalid(err.Error())
	}

	return &models.Line{
		Title:                  title,
		Description:            in.Description,
		Type:                   lineType,
		CreatorID:              creator.ID,
		MaxCapacity:            capacity,
		EstimatedServiceTime:   serviceTime,
		AutoRemoveAfterMinutes: autoRemove,
		Price:                  price,
		Availability:           datatypes.NewJSONType(availability),
		IsActive:               true,
	}, nil
}

// insertWithCode runs each attempt in a savepoint so a collision does not
// abort the surrounding transaction.
func (s *Service) insertWithCode(tx *gorm.DB, line *models.Line) error {
	for attempt := 1; attempt <= s.attempts; attempt++ {
		line.Code = s.NewCode()
		err := tx.Transaction(func(sp *gorm.DB) error {
			return sp.Create(line).Error
		})
		if err == nil {
			return nil
		}
		if !storage.IsDuplicate(err) {
			return err
		}
		line.ID = 0
		s.log.Debug("Line code collision", zap.String("code", line.Code), zap.Int("attempt", attempt))
	}
	s.log.Error("Line code space exhausted", zap.Int("attempts", s.attempts))
	return ErrCodeSpaceExhausted
}

// Get returns a line by ID regardless of its state.
func (s *Service) Get(ctx context.Context, id uint) (*models.Line, error) {
	var line models.Line
	if err := s.db.WithContext(ctx).First(&line, id).Error; err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, apperror.Unexpected("DB_ERROR", err)
	}
	return &line, nil
}

// FindActiveByCode resolves an active line by code, through the cache when configured.
func (s *Service) FindActiveByCode(ctx context.Context, code string) (*models.Line, error) {
	if !ValidCode(code) {
		return nil, ErrInvalidCode
	}

	if line, ok := s.cacheGet(ctx, code); ok {
		return line, nil
	}

	var line models.Line
	err := s.db.WithContext(ctx).Where("code = ? AND is_active = ?", code, true).First(&line).Error
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, apperror.Unexpected("DB_ERROR", err)
	}

	s.cacheSet(ctx, &line)
	return &line, nil
}

// GetByCode returns the customer facing summary of an active line.
func (s *Service) GetByCode(ctx context.Context, code string) (*Summary, error) {
	line, err := s.FindActiveByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	counts, err := s.waitingCounts(ctx, []uint{line.ID})
	if err != nil {
		return nil, err
	}
	return s.summarize(line, counts[line.ID]), nil
}

func (s *Service) summarize(line *models.Line, waiting int) *Summary {
	return &Summary{
		Line:                 line,
		QueueCount:           waiting,
		EstimatedWaitTime:    line.EstimatedWaitTime(waiting),
		IsCurrentlyAvailable: line.IsCurrentlyAvailable(s.now().In(s.loc)),
	}
}

type lineCount struct {
	LineID uint
	Total  int
}

func (s *Service) waitingCounts(ctx context.Context, ids []uint) (map[uint]int, error) {
	counts := make(map[uint]int, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}

	var rows []lineCount
	if err := s.db.WithContext(ctx).Model(&models.LineJoiner{}).
		Select("line_id, COUNT(*) AS total").
		Where("line_id IN ? AND status = ?", ids, models.StatusWaiting).
		Group("line_id").
		Scan(&rows).Error; err != nil {
		return nil, apperror.Unexpected("DB_ERROR", fmt.Errorf("lines: count waiting: %w", err))
	}
	for _, r := range rows {
		counts[r.LineID] = r.Total
	}
	return counts, nil
}

// ListMine returns the creator's active lines, newest first.
func (s *Service) ListMine(ctx context.Context, creatorID uint) ([]Summary, error) {
	var lines []models.Line
	if err := s.db.WithContext(ctx).
		Where("creator_id = ? AND is_active = ?", creatorID, true).
		Order("created_at DESC").
		Find(&lines).Error; err != nil {
		return nil, apperror.Unexpected("DB_ERROR", err)
	}

	ids := make([]uint, len(lines))
	for i := range lines {
		ids[i] = lines[i].ID
	}
	counts, err := s.waitingCounts(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(lines))
	for i := range lines {
		out = append(out, *s.summarize(&lines[i], counts[lines[i].ID]))
	}
	return out, nil
}

// Owned loads a line and checks that userID created it.
func (s *Service) Owned(ctx context.Context, userID, lineID uint) (*models.Line, error) {
	line, err := s.Get(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line.CreatorID != userID {
		return nil, ErrNotOwner
	}
	return line, nil
}

func (s *Service) Update(ctx context.Context, creatorID, lineID uint, in UpdateInput) (*models.Line, error) {
	line, err := s.Owned(ctx, creatorID, lineID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" || len(title) > maxTitleSize {
			return nil, invalid("Title is required and must be at most 200 characters")
		}
		updates["title"] = title
	}
	if in.Description != nil {
		updates["description"] = *in.Description
	}
	if in.MaxCapacity != nil {
		if *in.MaxCapacity < 1 {
			return nil, invalid("Max capacity must be at least 1")
		}
		updates["max_capacity"] = *in.MaxCapacity
	}
	if in.EstimatedServiceTime != nil {
		if *in.EstimatedServiceTime < 1 {
			return nil, invalid("Estimated service time must be at least 1 minute")
		}
		updates["estimated_service_time"] = *in.EstimatedServiceTime
	}
	if in.AutoRemoveAfterMinutes != nil {
		if *in.AutoRemoveAfterMinutes < 0 {
			return nil, invalid("Auto remove minutes cannot be negative")
		}
		updates["auto_remove_after_minutes"] = *in.AutoRemoveAfterMinutes
	}
	if in.Price != nil {
		if in.Price.IsNegative() {
			return nil, invalid("Price cannot be negative")
		}
		updates["price"] = *in.Price
	}
	if in.Availability != nil {
		if err := in.Availability.Validate(); err != nil {
			return nil, invalid(err.Error())
		}
		updates["availability"] = datatypes.NewJSONType(*in.Availability)
	}
	if len(updates) == 0 {
		return line, nil
	}

	if err := s.db.WithContext(ctx).Model(line).Updates(updates).Error; err != nil {
		return nil, apperror.Unexpected("DB_ERROR", fmt.Errorf("lines: update: %w", err))
	}
	s.cacheDelete(ctx, line.Code)
	return s.Get(ctx, lineID)
}

// RegenerateCode assigns a fresh code. The old code stops resolving immediately.
func (s *Service) RegenerateCode(ctx context.Context, creatorID, lineID uint) (*models.Line, error) {
	line, err := s.Owned(ctx, creatorID, lineID)
	if err != nil {
		return nil, err
	}
	oldCode := line.Code

	db := s.db.WithContext(ctx)
	for attempt := 1; attempt <= s.attempts; attempt++ {
		code := s.NewCode()
		if code == oldCode {
			continue
		}
		err := db.Model(&models.Line{}).Where("id = ?", line.ID).Update("code", code).Error
		if err == nil {
			s.cacheDelete(ctx, oldCode)
			line.Code = code
			s.log.Info("Line code regenerated", zap.Uint("line_id", line.ID), zap.String("code", code))
			return line, nil
		}
		if !storage.IsDuplicate(err) {
			return nil, apperror.Unexpected("DB_ERROR", fmt.Errorf("lines: regenerate code: %w", err))
		}
	}
	return nil, ErrCodeSpaceExhausted
}

// ToggleAvailability flips availability.isActive.
func (s *Service) ToggleAvailability(ctx context.Context, creatorID, lineID uint) (*models.Line, error) {
	line, err := s.Owned(ctx, creatorID, lineID)
	if err != nil {
		return nil, err
	}

	availability := line.Availability.Data()
	availability.IsActive = !availability.IsActive
	line.Availability = datatypes.NewJSONType(availability)

	if err := s.db.WithContext(ctx).Model(line).Update("availability", line.Availability).Error; err != nil {
		return nil, apperror.Unexpected("DB_ERROR", fmt.Errorf("lines: toggle availability: %w", err))
	}
	s.cacheDelete(ctx, line.Code)
	return line, nil
}

// Deactivate soft deletes a line. Entries and stats stay in place.
func (s *Service) Deactivate(ctx context.Context, creatorID, lineID uint) error {
	line, err := s.Owned(ctx, creatorID, lineID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(line).Update("is_active", false).Error; err != nil {
		return apperror.Unexpected("DB_ERROR", fmt.Errorf("lines: deactivate: %w", err))
	}
	s.cacheDelete(ctx, line.Code)
	s.log.Info("Line deactivated", zap.Uint("line_id", line.ID))
	return nil
}

func (s *Service) cacheGet(ctx context.Context, code string) (*models.Line, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, cachePrefix+code).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("Line cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var line models.Line
	if err := json.Unmarshal(raw, &line); err != nil {
		s.log.Warn("Line cache entry corrupt", zap.String("code", code), zap.Error(err))
		return nil, false
	}
	return &line, true
}

func (s *Service) cacheSet(ctx context.Context, line *models.Line) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(line)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cachePrefix+line.Code, raw, cacheTTL).Err(); err != nil {
		s.log.Warn("Line cache write failed", zap.Error(err))
	}
}

func (s *Service) cacheDelete(ctx context.Context, code string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cachePrefix+code).Err(); err != nil {
		s.log.Warn("Line cache invalidation failed", zap.String("code", code), zap.Error(err))
	}
}
