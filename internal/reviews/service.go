package reviews

import (
	"context"
	"fmt"
	"math"
	"strings"

	"tabi/internal/apperror"
	"tabi/internal/models"
	"tabi/internal/storage"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrTargetNotFound  = apperror.NotFound("REVIEW_TARGET_NOT_FOUND", "Nothing to review")
	ErrOneTarget       = apperror.Validation("INVALID_REVIEW_TARGET", "Review exactly one queue entry or appointment")
	ErrInvalidRating   = apperror.Validation("INVALID_RATING", "Rating must be between 1 and 5")
	ErrNotEligible     = apperror.Validation("REVIEW_NOT_ALLOWED", "Only finished visits can be reviewed")
	ErrAlreadyReviewed = apperror.Conflict("ALREADY_REVIEWED", "You already reviewed this visit")
	ErrNotYours        = apperror.Forbidden("NOT_YOUR_VISIT", "This visit belongs to another user")
)

type CreateInput struct {
	LineJoinerID  *uint  `json:"lineJoinerId"`
	AppointmentID *uint  `json:"appointmentId"`
	Rating        int    `json:"rating" binding:"required" example:"5"`
	Comment       string `json:"comment" binding:"max=2000"`
}

// LineReviews is a line's reviews, newest first, with their mean rating.
type LineReviews struct {
	Reviews       []models.Review `json:"reviews"`
	Count         int             `json:"count"`
	AverageRating float64         `json:"averageRating"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(db *gorm.DB, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, log: log}
}

func dbError(op string, err error) error {
	return apperror.Unexpected("DB_ERROR", fmt.Errorf("reviews: %s: %w", op, err))
}

// Create records the caller's review of a visited queue entry or a completed appointment.
func (s *Service) Create(ctx context.Context, userID uint, in CreateInput) (*models.Review, error) {
	if (in.LineJoinerID == nil) == (in.AppointmentID == nil) {
		return nil, ErrOneTarget
	}
	if in.Rating < 1 || in.Rating > 5 {
		return nil, ErrInvalidRating
	}

	db := s.db.WithContext(ctx)
	review := models.Review{
		UserID:        userID,
		LineJoinerID:  in.LineJoinerID,
		AppointmentID: in.AppointmentID,
		Rating:        in.Rating,
		Comment:       strings.TrimSpace(in.Comment),
	}

	var owner uint
	var existing int64
	var err error
	if in.LineJoinerID != nil {
		var entry models.LineJoiner
		err = db.First(&entry, *in.LineJoinerID).Error
		if err == nil {
			owner, review.LineID = entry.UserID, entry.LineID
			if entry.Status != models.StatusVisited {
				err = ErrNotEligible
			}
			if err == nil {
				err = db.Model(&models.Review{}).Where("line_joiner_id = ?", entry.ID).Count(&existing).Error
			}
		}
	} else {
		var appt models.Appointment
		err = db.First(&appt, *in.AppointmentID).Error
		if err == nil {
			owner, review.LineID = appt.UserID, appt.LineID
			if appt.Status != models.AppointmentCompleted {
				err = ErrNotEligible
			}
			if err == nil {
				err = db.Model(&models.Review{}).Where("appointment_id = ?", appt.ID).Count(&existing).Error
			}
		}
	}
	switch {
	case storage.IsNotFound(err):
		return nil, ErrTargetNotFound
	case err != nil:
		if _, ok := apperror.As(err); ok {
			return nil, err
		}
		return nil, dbError("load target", err)
	}
	if owner != userID {
		return nil, ErrNotYours
	}
	if existing > 0 {
		return nil, ErrAlreadyReviewed
	}

	if err := db.Create(&review).Error; err != nil {
		if storage.IsDuplicate(err) {
			return nil, ErrAlreadyReviewed
		}
		return nil, dbError("create", err)
	}
	s.log.Info("Review created", zap.Uint("review_id", review.ID), zap.Uint("line_id", review.LineID), zap.Int("rating", review.Rating))
	return &review, nil
}

// ListForLine returns the line's reviews and their average rating.
func (s *Service) ListForLine(ctx context.Context, lineID uint) (*LineReviews, error) {
	var reviews []models.Review
	if err := s.db.WithContext(ctx).Preload("User").
		Where("line_id = ?", lineID).
		Order("created_at DESC").
		Find(&reviews).Error; err != nil {
		return nil, dbError("list", err)
	}

	out := &LineReviews{Reviews: reviews, Count: len(reviews)}
	if out.Reviews == nil {
		out.Reviews = []models.Review{}
	}
	if len(reviews) > 0 {
		sum := 0
		for _, r := range reviews {
			sum += r.Rating
		}
		out.AverageRating = math.Round(float64(sum)/float64(len(reviews))*100) / 100
	}
	return out, nil
}
