package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tabi/internal/apperror"
	"tabi/internal/metrics"
	"tabi/internal/models"
	"tabi/internal/notify"
	"tabi/internal/storage"
	"tabi/internal/ws"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrLineNotFound    = apperror.NotFound("LINE_NOT_FOUND", "Line not found")
	ErrUserNotFound    = apperror.NotFound("USER_NOT_FOUND", "User not found")
	ErrEntryNotFound   = apperror.NotFound("ENTRY_NOT_FOUND", "Queue entry not found")
	ErrLineInactive    = apperror.Validation("LINE_INACTIVE", "Line is not active")
	ErrUnavailable     = apperror.Validation("LINE_UNAVAILABLE", "Line is not accepting customers right now")
	ErrAppointmentLine = apperror.Validation("APPOINTMENT_LINE", "This line takes bookings, not walk-ins")
	ErrAlreadyJoined   = apperror.Conflict("ALREADY_JOINED", "You are already in this line")
	ErrFull            = apperror.Conflict("LINE_FULL", "Line is full")
	ErrNotInQueue      = apperror.Conflict("NOT_IN_QUEUE", "Entry is no longer in the queue")
	ErrNotYourEntry    = apperror.Forbidden("NOT_YOUR_ENTRY", "This entry belongs to another user")
	ErrNotOwner        = apperror.Forbidden("NOT_LINE_OWNER", "You do not manage this line")
)

// CustomerQuota enforces and records the line owner's monthly customer allowance.
type CustomerQuota interface {
	CheckCustomerLimit(ctx context.Context, ownerID uint) error
	RecordCustomer(ctx context.Context, ownerID uint) error
}

type Deps struct {
	Quota     CustomerQuota
	Publisher ws.Publisher
	SMS       notify.Sender
	Now       func() time.Time
	Location  *time.Location
	Logger    *zap.Logger
}

type Service struct {
	db    *gorm.DB
	quota CustomerQuota
	pub   ws.Publisher
	sms   notify.Sender
	now   func() time.Time
	loc   *time.Location
	log   *zap.Logger
}

func NewService(db *gorm.DB, deps Deps) *Service {
	s := &Service{
		db:    db,
		quota: deps.Quota,
		pub:   deps.Publisher,
		sms:   deps.SMS,
		now:   deps.Now,
		loc:   deps.Location,
		log:   deps.Logger,
	}
	if s.pub == nil {
		s.pub = ws.Nop{}
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
	return s
}

// JoinResult is returned to a customer who just joined.
type JoinResult struct {
	Entry             *models.LineJoiner `json:"entry"`
	Line              *models.Line       `json:"line"`
	Rank              int                `json:"rank"`
	EstimatedWaitTime int                `json:"estimatedWaitTime"`
}

// EntryView is an entry with its rank recomputed at read time.
type EntryView struct {
	models.LineJoiner
	Rank                     int `json:"rank"`
	CurrentEstimatedWaitTime int `json:"currentEstimatedWaitTime"`
}

func dbError(op string, err error) error {
	return apperror.Unexpected("DB_ERROR", fmt.Errorf("queue: %s: %w", op, err))
}

// passthrough keeps taxonomy errors and wraps everything else.
func passthrough(op string, err error) error {
	if _, ok := apperror.As(err); ok {
		return err
	}
	return dbError(op, err)
}

// Join admits userID into the line with the given code. Position assignment,
// the duplicate check and the capacity check run in one transaction that
// first bumps the line's sequence, which locks the line row until commit.
func (s *Service) Join(ctx context.Context, userID uint, code string) (res *JoinResult, err error) {
	defer func() { metrics.RecordQueueOperation("join", err) }()

	db := s.db.WithContext(ctx)
	now := s.now().UTC()

	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, dbError("load user", err)
	}

	var line models.Line
	if err := db.Where("code = ?", code).First(&line).Error; err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrLineNotFound
		}
		return nil, dbError("load line", err)
	}
	if !line.IsActive {
		return nil, ErrLineInactive
	}
	if line.Type == models.LineTypeAppointment {
		return nil, ErrAppointmentLine
	}
	if !line.IsCurrentlyAvailable(now.In(s.loc)) {
		return nil, ErrUnavailable
	}
	if s.quota != nil {
		if err := s.quota.CheckCustomerLimit(ctx, line.CreatorID); err != nil {
			return nil, err
		}
	}

	var entry models.LineJoiner
	var waiting int64
	err = db.Transaction(func(tx *gorm.DB) error {
		bump := tx.Model(&models.Line{}).
			Where("id = ? AND is_active = ?", line.ID, true).
			UpdateColumn("next_position", gorm.Expr("next_position + 1"))
		if bump.Error != nil {
			return bump.Error
		}
		if bump.RowsAffected == 0 {
			return ErrLineInactive
		}

		var locked models.Line
		if err := tx.Select("id", "next_position", "max_capacity", "estimated_service_time").
			First(&locked, line.ID).Error; err != nil {
			return err
		}

		var existing int64
		if err := tx.Model(&models.LineJoiner{}).
			Where("line_id = ? AND user_id = ? AND status IN ?", line.ID, userID, models.ActiveStatuses).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyJoined
		}

		if err := tx.Model(&models.LineJoiner{}).
			Where("line_id = ? AND status = ?", line.ID, models.StatusWaiting).
			Count(&waiting).Error; err != nil {
			return err
		}
		if int(waiting) >= locked.MaxCapacity {
			return ErrFull
		}

		// every waiting entry holds an earlier position
		entry = models.LineJoiner{
			LineID:            line.ID,
			UserID:            userID,
			Position:          locked.NextPosition,
			Status:            models.StatusWaiting,
			JoinedAt:          now,
			EstimatedWaitTime: int(waiting) * locked.EstimatedServiceTime,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Line{}).Where("id = ?", line.ID).
			UpdateColumn("total_joined", gorm.Expr("total_joined + 1")).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", userID).
			UpdateColumn("total_times_joined", gorm.Expr("total_times_joined + 1")).Error
	})
	if err != nil {
		return nil, passthrough("join", err)
	}

	if s.quota != nil {
		if err := s.quota.RecordCustomer(ctx, line.CreatorID); err != nil {
			s.log.Warn("Failed to record customer usage", zap.Uint("owner_id", line.CreatorID), zap.Error(err))
		}
	}

	line.TotalJoined++
	s.pub.Publish(line.ID, ws.EventUserJoined, map[string]interface{}{
		"entryId":  entry.ID,
		"userId":   userID,
		"position": entry.Position,
		"rank":     int(waiting) + 1,
	})
	s.log.Info("User joined line",
		zap.Uint("line_id", line.ID), zap.Uint("user_id", userID), zap.Int("position", entry.Position))

	return &JoinResult{
		Entry:             &entry,
		Line:              &line,
		Rank:              int(waiting) + 1,
		EstimatedWaitTime: entry.EstimatedWaitTime,
	}, nil
}

func (s *Service) loadEntry(ctx context.Context, entryID uint) (*models.LineJoiner, error) {
	var entry models.LineJoiner
	if err := s.db.WithContext(ctx).Preload("Line").First(&entry, entryID).Error; err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrEntryNotFound
		}
		return nil, dbError("load entry", err)
	}
	return &entry, nil
}

// loadManagedEntry loads an entry of a line created by creatorID.
func (s *Service) loadManagedEntry(ctx context.Context, creatorID, entryID uint) (*models.LineJoiner, error) {
	entry, err := s.loadEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Line == nil || entry.Line.CreatorID != creatorID {
		return nil, ErrNotOwner
	}
	return entry, nil
}

// transition moves an entry to status to, but only from a status that allows
// it. A concurrent or repeated call finds no matching row and fails.
func transition(tx *gorm.DB, entryID uint, to models.JoinerStatus, fields map[string]interface{}) error {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := tx.Model(&models.LineJoiner{}).
		Where("id = ? AND status IN ?", entryID, models.SourcesFor(to)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotInQueue
	}
	return nil
}

// Leave takes the caller out of a line.
func (s *Service) Leave(ctx context.Context, entryID, userID uint) (err error) {
	defer func() { metrics.RecordQueueOperation("leave", err) }()

	entry, err := s.loadEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.UserID != userID {
		return ErrNotYourEntry
	}

	now := s.now().UTC()
	if err := transition(s.db.WithContext(ctx), entryID, models.StatusLeft, map[string]interface{}{"left_at": now}); err != nil {
		return passthrough("leave", err)
	}

	s.pub.Publish(entry.LineID, ws.EventUserLeft, map[string]interface{}{
		"entryId":  entry.ID,
		"userId":   userID,
		"position": entry.Position,
	})
	return nil
}

// MarkServing calls the customer to the counter.
func (s *Service) MarkServing(ctx context.Context, creatorID, entryID uint) (err error) {
	defer func() { metrics.RecordQueueOperation("serve", err) }()

	entry, err := s.loadManagedEntry(ctx, creatorID, entryID)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	if err := transition(s.db.WithContext(ctx), entryID, models.StatusBeingServed, map[string]interface{}{"serving_at": now}); err != nil {
		return passthrough("serve", err)
	}

	s.pub.Publish(entry.LineID, ws.EventUserServing, map[string]interface{}{
		"entryId":  entry.ID,
		"userId":   entry.UserID,
		"position": entry.Position,
	})
	return nil
}

// MarkVisited completes service for an entry and tells the next customer they are up.
func (s *Service) MarkVisited(ctx context.Context, creatorID, entryID uint) (err error) {
	defer func() { metrics.RecordQueueOperation("visit", err) }()

	entry, err := s.loadManagedEntry(ctx, creatorID, entryID)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	actual := int(now.Sub(entry.JoinedAt) / time.Minute)
	if actual < 0 {
		actual = 0
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := transition(tx, entryID, models.StatusVisited, map[string]interface{}{
			"visited_at":       now,
			"actual_wait_time": actual,
		}); err != nil {
			return err
		}
		return tx.Model(&models.Line{}).Where("id = ?", entry.LineID).
			UpdateColumn("total_served", gorm.Expr("total_served + 1")).Error
	})
	if err != nil {
		return passthrough("visit", err)
	}

	s.pub.Publish(entry.LineID, ws.EventUserVisited, map[string]interface{}{
		"entryId":        entry.ID,
		"userId":         entry.UserID,
		"actualWaitTime": actual,
	})
	s.notifyNext(ctx, entry.Line)
	return nil
}

// notifyNext texts the customer now ranked first. Failures are only logged.
func (s *Service) notifyNext(ctx context.Context, line *models.Line) {
	if s.sms == nil || line == nil {
		return
	}

	var next models.LineJoiner
	err := s.db.WithContext(ctx).Preload("User").
		Where("line_id = ? AND status = ?", line.ID, models.StatusWaiting).
		Order("position ASC").
		First(&next).Error
	if err != nil {
		if !storage.IsNotFound(err) {
			s.log.Warn("Failed to find next customer", zap.Uint("line_id", line.ID), zap.Error(err))
		}
		return
	}
	if next.User == nil || !next.User.Settings.SMSNotifications {
		return
	}

	msg := fmt.Sprintf("Tabi: you're next at %s. Please get ready.", line.Title)
	if err := s.sms.SendSMS(ctx, next.User.Phone, msg); err != nil {
		s.log.Warn("Failed to send next-in-line SMS", zap.Uint("entry_id", next.ID), zap.Error(err))
	}
}

// Remove takes a customer out of the line on the creator's behalf.
func (s *Service) Remove(ctx context.Context, creatorID, entryID uint) (err error) {
	defer func() { metrics.RecordQueueOperation("remove", err) }()

	entry, err := s.loadManagedEntry(ctx, creatorID, entryID)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	if err := transition(s.db.WithContext(ctx), entryID, models.StatusRemoved, map[string]interface{}{"left_at": now}); err != nil {
		return passthrough("remove", err)
	}

	s.pub.Publish(entry.LineID, ws.EventUserRemoved, map[string]interface{}{
		"entryId":  entry.ID,
		"userId":   entry.UserID,
		"position": entry.Position,
	})
	return nil
}

// AutoRemoveExpired removes waiting entries that outstayed their line's
// autoRemoveAfterMinutes. It returns the number of entries removed.
func (s *Service) AutoRemoveExpired(ctx context.Context, now time.Time) (int64, error) {
	now = now.UTC()
	db := s.db.WithContext(ctx)

	var lines []models.Line
	if err := db.Select("id", "auto_remove_after_minutes").
		Where("is_active = ? AND auto_remove_after_minutes > 0", true).
		Find(&lines).Error; err != nil {
		return 0, dbError("list lines for sweep", err)
	}

	var total int64
	var errs []error
	for _, line := range lines {
		cutoff := now.Add(-time.Duration(line.AutoRemoveAfterMinutes) * time.Minute)
		res := db.Model(&models.LineJoiner{}).
			Where("line_id = ? AND status = ? AND joined_at < ?", line.ID, models.StatusWaiting, cutoff).
			Updates(map[string]interface{}{"status": models.StatusRemoved, "left_at": now})
		if res.Error != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", line.ID, res.Error))
			continue
		}
		if res.RowsAffected > 0 {
			total += res.RowsAffected
			s.pub.Publish(line.ID, ws.EventEntriesExpired, map[string]interface{}{"count": res.RowsAffected})
		}
	}
	if len(errs) > 0 {
		return total, dbError("sweep", errors.Join(errs...))
	}
	return total, nil
}

// Rank is 1 plus the number of waiting entries ahead of entry, or 0 when the
// entry no longer holds a place.
func (s *Service) Rank(ctx context.Context, entry *models.LineJoiner) (int, error) {
	if !entry.IsActive() {
		return 0, nil
	}
	var ahead int64
	if err := s.db.WithContext(ctx).Model(&models.LineJoiner{}).
		Where("line_id = ? AND status = ? AND position < ?", entry.LineID, models.StatusWaiting, entry.Position).
		Count(&ahead).Error; err != nil {
		return 0, dbError("rank", err)
	}
	return int(ahead) + 1, nil
}

// MyQueue lists the caller's active entries with fresh ranks.
func (s *Service) MyQueue(ctx context.Context, userID uint) ([]EntryView, error) {
	var entries []models.LineJoiner
	if err := s.db.WithContext(ctx).Preload("Line").
		Where("user_id = ? AND status IN ?", userID, models.ActiveStatuses).
		Order("joined_at ASC").
		Find(&entries).Error; err != nil {
		return nil, dbError("my queue", err)
	}

	views := make([]EntryView, 0, len(entries))
	for i := range entries {
		rank, err := s.Rank(ctx, &entries[i])
		if err != nil {
			return nil, err
		}
		views = append(views, view(entries[i], rank))
	}
	return views, nil
}

func view(entry models.LineJoiner, rank int) EntryView {
	wait := 0
	if entry.Line != nil && rank > 0 {
		wait = entry.Line.EstimatedWaitTime(rank - 1)
	}
	return EntryView{LineJoiner: entry, Rank: rank, CurrentEstimatedWaitTime: wait}
}

// LineEntries lists the active entries of a line for its creator, in position order.
func (s *Service) LineEntries(ctx context.Context, creatorID, lineID uint) ([]EntryView, error) {
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

	var entries []models.LineJoiner
	if err := db.Preload("User").
		Where("line_id = ? AND status IN ?", lineID, models.ActiveStatuses).
		Order("position ASC").
		Find(&entries).Error; err != nil {
		return nil, dbError("line entries", err)
	}

	views := make([]EntryView, 0, len(entries))
	waitingAhead := 0
	for _, e := range entries {
		e.Line = &line
		views = append(views, view(e, waitingAhead+1))
		if e.Status == models.StatusWaiting {
			waitingAhead++
		}
	}
	return views, nil
}
