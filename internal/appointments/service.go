package appointments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tabi/internal/apperror"
	"tabi/internal/models"
	"tabi/internal/storage"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = apperror.NotFound("APPOINTMENT_NOT_FOUND", "Appointment not found")
	ErrLineNotFound      = apperror.NotFound("LINE_NOT_FOUND", "Line not found")
	ErrNotBookable       = apperror.Validation("NOT_APPOINTMENT_LINE", "This line does not take bookings")
	ErrLineInactive      = apperror.Validation("LINE_INACTIVE", "Line is not active")
	ErrStartInPast       = apperror.Validation("START_IN_PAST", "Appointment must start in the future")
	ErrOutsideHours      = apperror.Validation("OUTSIDE_AVAILABILITY", "The line is closed at the requested time")
	ErrCancelWindow      = apperror.Validation("CANCELLATION_WINDOW_CLOSED", "It is too late to cancel this appointment")
	ErrSlotTaken         = apperror.Conflict("SLOT_TAKEN", "The requested time is already booked")
	ErrInvalidTransition = apperror.Conflict("INVALID_APPOINTMENT_STATUS", "Appointment cannot change to that status")
	ErrNotYours          = apperror.Forbidden("NOT_YOUR_APPOINTMENT", "This appointment belongs to another user")
	ErrNotOwner          = apperror.Forbidden("NOT_LINE_OWNER", "You do not manage this line")
)

type Deps struct {
	Now                func() time.Time
	Location           *time.Location
	CancellationCutoff time.Duration
	Logger             *zap.Logger
}

type Service struct {
	db     *gorm.DB
	now    func() time.Time
	loc    *time.Location
	cutoff time.Duration
	log    *zap.Logger
}

func NewService(db *gorm.DB, deps Deps) *Service {
	s := &Service{db: db, now: deps.Now, loc: deps.Location, cutoff: deps.CancellationCutoff, log: deps.Logger}
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

type BookInput struct {
	LineID    uint      `json:"lineId" binding:"required"`
	StartTime time.Time `json:"startTime" binding:"required" example:"2025-06-05T10:00:00Z"`
	Notes     string    `json:"notes" binding:"max=500"`
}

func dbError(op string, err error) error {
	return apperror.Unexpected("DB_ERROR", fmt.Errorf("appointments: %s: %w", op, err))
}

func passthrough(op string, err error) error {
	if _, ok := apperror.As(err); ok {
		return err
	}
	return dbError(op, err)
}

// Book reserves one service-length slot starting at in.StartTime. Overlap
// checks serialize on the line row. Free lines confirm immediately; priced
// ones wait for payment.
func (s *Service) Book(ctx context.Context, userID uint, in BookInput) (*models.Appointment, error) {
	now := s.now().UTC()
	start := in.StartTime.UTC().Truncate(time.Minute)
	if !start.After(now) {
		return nil, ErrStartInPast
	}

	var appt models.Appointment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lock := tx.Model(&models.Line{}).Where("id = ?", in.LineID).UpdateColumn("updated_at", now)
		if lock.Error != nil {
			return lock.Error
		}
		if lock.RowsAffected == 0 {
			return ErrLineNotFound
		}

		var line models.Line
		if err := tx.First(&line, in.LineID).Error; err != nil {
			return err
		}
		if line.Type != models.LineTypeAppointment {
			return ErrNotBookable
		}
		if !line.IsActive {
			return ErrLineInactive
		}

		end := start.Add(time.Duration(line.EstimatedServiceTime) * time.Minute)
		av := line.Availability.Data()
		if !av.IsAvailableThrough(start.In(s.loc), end.In(s.loc)) {
			return ErrOutsideHours
		}

		var overlapping int64
		if err := tx.Model(&models.Appointment{}).
			Where("line_id = ? AND status IN ?", line.ID, models.BlockingAppointmentStatuses).
			Where("start_time < ? AND end_time > ?", end, start).
			Count(&overlapping).Error; err != nil {
			return err
		}
		if overlapping > 0 {
			return ErrSlotTaken
		}

		status := models.AppointmentConfirmed
		if line.Price.IsPositive() {
			status = models.AppointmentPendingPayment
		}
		appt = models.Appointment{
			LineID:    line.ID,
			UserID:    userID,
			StartTime: start,
			EndTime:   end,
			Status:    status,
			Price:     line.Price,
			Notes:     strings.TrimSpace(in.Notes),
		}
		return tx.Create(&appt).Error
	})
	if err != nil {
		return nil, passthrough("book", err)
	}

	s.log.Info("Appointment booked",
		zap.Uint("appointment_id", appt.ID), zap.Uint("line_id", appt.LineID), zap.Time("start", appt.StartTime))
	return &appt, nil
}

func (s *Service) load(ctx context.Context, id uint) (*models.Appointment, error) {
	var appt models.Appointment
	if err := s.db.WithContext(ctx).Preload("Line").First(&appt, id).Error; err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, dbError("load", err)
	}
	return &appt, nil
}

func (s *Service) setStatus(ctx context.Context, id uint, from []models.AppointmentStatus, fields map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return dbError("update status", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Cancel frees the slot. Customers must cancel before the cutoff; the line
// creator may cancel at any time.
func (s *Service) Cancel(ctx context.Context, userID, id uint) (*models.Appointment, error) {
	appt, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	isCreator := appt.Line != nil && appt.Line.CreatorID == userID
	if appt.UserID != userID && !isCreator {
		return nil, ErrNotYours
	}

	now := s.now().UTC()
	if !isCreator && now.Add(s.cutoff).After(appt.StartTime) {
		return nil, ErrCancelWindow
	}

	if err := s.setStatus(ctx, id, models.BlockingAppointmentStatuses, map[string]interface{}{
		"status":       models.AppointmentCancelled,
		"cancelled_at": now,
	}); err != nil {
		return nil, err
	}
	appt.Status = models.AppointmentCancelled
	appt.CancelledAt = &now
	return appt, nil
}

// Complete marks a confirmed appointment as served.
func (s *Service) Complete(ctx context.Context, creatorID, id uint) (*models.Appointment, error) {
	appt, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Line == nil || appt.Line.CreatorID != creatorID {
		return nil, ErrNotOwner
	}

	now := s.now().UTC()
	if err := s.setStatus(ctx, id, []models.AppointmentStatus{models.AppointmentConfirmed}, map[string]interface{}{
		"status":       models.AppointmentCompleted,
		"completed_at": now,
	}); err != nil {
		return nil, err
	}
	appt.Status = models.AppointmentCompleted
	appt.CompletedAt = &now
	return appt, nil
}

// ConfirmTx confirms an appointment awaiting payment inside the caller's
// transaction. It reports false when the appointment was no longer waiting.
func (s *Service) ConfirmTx(tx *gorm.DB, id uint) (bool, error) {
	res := tx.Model(&models.Appointment{}).
		Where("id = ? AND status = ?", id, models.AppointmentPendingPayment).
		Update("status", models.AppointmentConfirmed)
	if res.Error != nil {
		return false, dbError("confirm", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetForPayment returns the user's appointment if it still awaits payment.
func (s *Service) GetForPayment(ctx context.Context, userID, id uint) (*models.Appointment, error) {
	appt, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.UserID != userID {
		return nil, ErrNotYours
	}
	if appt.Status != models.AppointmentPendingPayment {
		return nil, ErrInvalidTransition
	}
	return appt, nil
}

// ListMine returns the user's appointments, soonest first.
func (s *Service) ListMine(ctx context.Context, userID uint) ([]models.Appointment, error) {
	var out []models.Appointment
	if err := s.db.WithContext(ctx).Preload("Line").
		Where("user_id = ?", userID).
		Order("start_time ASC").
		Find(&out).Error; err != nil {
		return nil, dbError("list mine", err)
	}
	return out, nil
}

// ListForLine returns the upcoming bookings of a line for its creator.
func (s *Service) ListForLine(ctx context.Context, creatorID, lineID uint) ([]models.Appointment, error) {
	db := s.db.WithContext(ctx)

	var line models.Line
	if err := db.First(&line, lineID).Error; err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrLineNotFound
		}
		return nil, dbError("load line", err)
	}
	if line.CreatorID != creatorID {
		return nil, ErrNotOwner
	}

	var out []models.Appointment
	if err := db.Where("line_id = ? AND status IN ? AND end_time > ?",
		lineID, models.BlockingAppointmentStatuses, s.now().UTC()).
		Order("start_time ASC").
		Find(&out).Error; err != nil {
		return nil, dbError("list for line", err)
	}
	return out, nil
}
