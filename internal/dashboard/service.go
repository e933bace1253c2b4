// Package dashboard computes read-only rollups over lines and their entries.
// Nothing is materialized: every call aggregates at request time.
package dashboard

import (
	"context"
	"fmt"
	"math"
	"time"

	"tabi/internal/apperror"
	"tabi/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultDays = 7
	MaxDays     = 90
)

type Deps struct {
	Location *time.Location
	Logger   *zap.Logger
}

type Service struct {
	db  *gorm.DB
	loc *time.Location
	log *zap.Logger
}

func NewService(db *gorm.DB, deps Deps) *Service {
	s := &Service{db: db, loc: deps.Location, log: deps.Logger}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

type LineStats struct {
	LineID            uint   `json:"lineId"`
	Code              string `json:"code"`
	Title             string `json:"title"`
	QueueCount        int    `json:"queueCount"`
	ServedToday       int    `json:"servedToday"`
	EstimatedWaitTime int    `json:"estimatedWaitTime"`
	IsAvailable       bool   `json:"isAvailable"`
}

type Stats struct {
	TotalLines   int         `json:"totalLines"`
	ActiveLines  int         `json:"activeLines"`
	TotalServed  int         `json:"totalServed"`
	TotalWaiting int         `json:"totalWaiting"`
	TodayJoins   int         `json:"todayJoins"`
	TodayServed  int         `json:"todayServed"`
	Lines        []LineStats `json:"lines"`
}

type DayStats struct {
	Date        string  `json:"date"`
	Joins       int     `json:"joins"`
	Served      int     `json:"served"`
	AvgWaitTime float64 `json:"avgWaitTime"`
}

type LineConversion struct {
	LineID         uint    `json:"lineId"`
	Title          string  `json:"title"`
	Joined         int     `json:"joined"`
	Served         int     `json:"served"`
	ConversionRate float64 `json:"conversionRate"`
}

type Analytics struct {
	Days  []DayStats       `json:"days"`
	Lines []LineConversion `json:"lines"`
}

type lineCount struct {
	LineID uint
	Count  int
}

func dbError(op string, err error) error {
	return apperror.Unexpected("DB_ERROR", fmt.Errorf("dashboard: %s: %w", op, err))
}

// dayStart returns local midnight of t's day as UTC.
func (s *Service) dayStart(t time.Time) time.Time {
	local := t.In(s.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc).UTC()
}

func (s *Service) lines(ctx context.Context, creatorIDs []uint) ([]models.Line, error) {
	var lines []models.Line
	if len(creatorIDs) == 0 {
		return lines, nil
	}
	err := s.db.WithContext(ctx).
		Where("creator_id IN ?", creatorIDs).
		Order("created_at DESC").
		Find(&lines).Error
	return lines, err
}

func (s *Service) countByLine(ctx context.Context, ids []uint, where string, args ...interface{}) (map[uint]int, error) {
	var rows []lineCount
	err := s.db.WithContext(ctx).Model(&models.LineJoiner{}).
		Select("line_id, COUNT(*) AS count").
		Where("line_id IN ?", ids).
		Where(where, args...).
		Group("line_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint]int, len(rows))
	for _, r := range rows {
		out[r.LineID] = r.Count
	}
	return out, nil
}

// Stats summarizes the lines created by creatorIDs as of now.
func (s *Service) Stats(ctx context.Context, creatorIDs []uint, now time.Time) (*Stats, error) {
	lines, err := s.lines(ctx, creatorIDs)
	if err != nil {
		return nil, dbError("load lines", err)
	}

	stats := &Stats{TotalLines: len(lines), Lines: []LineStats{}}
	if len(lines) == 0 {
		return stats, nil
	}

	ids := make([]uint, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ID)
	}

	today := s.dayStart(now)
	waiting, err := s.countByLine(ctx, ids, "status = ?", models.StatusWaiting)
	if err != nil {
		return nil, dbError("count waiting", err)
	}
	joined, err := s.countByLine(ctx, ids, "joined_at >= ?", today)
	if err != nil {
		return nil, dbError("count joins", err)
	}
	served, err := s.countByLine(ctx, ids, "status = ? AND visited_at >= ?", models.StatusVisited, today)
	if err != nil {
		return nil, dbError("count served", err)
	}

	local := now.In(s.loc)
	for i := range lines {
		l := &lines[i]
		stats.TotalServed += l.TotalServed
		stats.TotalWaiting += waiting[l.ID]
		stats.TodayJoins += joined[l.ID]
		stats.TodayServed += served[l.ID]
		if !l.IsActive {
			continue
		}
		stats.ActiveLines++
		stats.Lines = append(stats.Lines, LineStats{
			LineID:            l.ID,
			Code:              l.Code,
			Title:             l.Title,
			QueueCount:        waiting[l.ID],
			ServedToday:       served[l.ID],
			EstimatedWaitTime: l.EstimatedWaitTime(waiting[l.ID]),
			IsAvailable:       l.IsCurrentlyAvailable(local),
		})
	}
	return stats, nil
}

// ClampDays bounds an analytics window to [1, MaxDays], defaulting to DefaultDays.
func ClampDays(days int) int {
	switch {
	case days <= 0:
		return DefaultDays
	case days > MaxDays:
		return MaxDays
	default:
		return days
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Analytics reports per-day activity over the last days local days, ending
// today, and per-line conversion over the same window.
func (s *Service) Analytics(ctx context.Context, creatorIDs []uint, days int, now time.Time) (*Analytics, error) {
	days = ClampDays(days)

	lines, err := s.lines(ctx, creatorIDs)
	if err != nil {
		return nil, dbError("load lines", err)
	}

	today := now.In(s.loc)
	first := time.Date(today.Year(), today.Month(), today.Day()-days+1, 0, 0, 0, 0, s.loc)
	start := first.UTC()

	out := &Analytics{
		Days:  make([]DayStats, days),
		Lines: make([]LineConversion, 0, len(lines)),
	}
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		key := first.AddDate(0, 0, i).Format("2006-01-02")
		out.Days[i] = DayStats{Date: key}
		index[key] = i
	}
	if len(lines) == 0 {
		return out, nil
	}

	ids := make([]uint, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ID)
	}

	var entries []models.LineJoiner
	if err := s.db.WithContext(ctx).
		Select("id", "line_id", "status", "joined_at", "visited_at", "actual_wait_time").
		Where("line_id IN ?", ids).
		Where("joined_at >= ? OR visited_at >= ?", start, start).
		Find(&entries).Error; err != nil {
		return nil, dbError("load entries", err)
	}

	perLine := make(map[uint]*LineConversion, len(lines))
	for _, l := range lines {
		out.Lines = append(out.Lines, LineConversion{LineID: l.ID, Title: l.Title})
	}
	for i := range out.Lines {
		perLine[out.Lines[i].LineID] = &out.Lines[i]
	}

	waitSum := make([]int, days)
	for _, e := range entries {
		if !e.JoinedAt.Before(start) {
			if i, ok := index[e.JoinedAt.In(s.loc).Format("2006-01-02")]; ok {
				out.Days[i].Joins++
				perLine[e.LineID].Joined++
			}
		}
		if e.Status != models.StatusVisited || e.VisitedAt == nil || e.VisitedAt.Before(start) {
			continue
		}
		i, ok := index[e.VisitedAt.In(s.loc).Format("2006-01-02")]
		if !ok {
			continue
		}
		out.Days[i].Served++
		perLine[e.LineID].Served++
		if e.ActualWaitTime != nil {
			waitSum[i] += *e.ActualWaitTime
		}
	}

	for i := range out.Days {
		if out.Days[i].Served > 0 {
			out.Days[i].AvgWaitTime = round2(float64(waitSum[i]) / float64(out.Days[i].Served))
		}
	}
	for i := range out.Lines {
		if out.Lines[i].Joined > 0 {
			out.Lines[i].ConversionRate = round2(float64(out.Lines[i].Served) / float64(out.Lines[i].Joined))
		}
	}
	return out, nil
}
