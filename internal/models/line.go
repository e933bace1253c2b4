package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type LineType string

const (
	LineTypeQueue       LineType = "queue"
	LineTypeAppointment LineType = "appointment"
)

func (t LineType) Valid() bool {
	return t == LineTypeQueue || t == LineTypeAppointment
}

// CodeLength is the number of digits in a line code.
const CodeLength = 6

// Weekdays are the keys accepted in Availability.Schedule.
var Weekdays = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// DaySchedule is the opening window of one weekday, as "HH:MM" strings.
type DaySchedule struct {
	Start       string `json:"start" example:"09:00"`
	End         string `json:"end" example:"17:00"`
	IsAvailable bool   `json:"isAvailable"`
}

// SpecialDate overrides the weekly schedule for one calendar date ("2006-01-02").
type SpecialDate struct {
	Date        string `json:"date" example:"2025-12-31"`
	IsAvailable bool   `json:"isAvailable"`
	Reason      string `json:"reason,omitempty"`
}

type Availability struct {
	IsActive     bool                   `json:"isActive"`
	Schedule     map[string]DaySchedule `json:"schedule"`
	SpecialDates []SpecialDate          `json:"specialDates"`
}

// DefaultAvailability is open every day from 09:00 to 18:00.
func DefaultAvailability() Availability {
	schedule := make(map[string]DaySchedule, len(Weekdays))
	for _, day := range Weekdays {
		schedule[day] = DaySchedule{Start: "09:00", End: "18:00", IsAvailable: true}
	}
	return Availability{IsActive: true, Schedule: schedule}
}

// Validate checks weekday keys, "HH:MM" bounds and special date format.
func (a Availability) Validate() error {
	for day, window := range a.Schedule {
		if !isWeekday(day) {
			return fmt.Errorf("unknown weekday %q", day)
		}
		if _, ok := ParseClock(window.Start); !ok {
			return fmt.Errorf("%s: invalid start time %q", day, window.Start)
		}
		if _, ok := ParseClock(window.End); !ok {
			return fmt.Errorf("%s: invalid end time %q", day, window.End)
		}
	}
	for _, sd := range a.SpecialDates {
		if _, err := time.Parse(time.DateOnly, sd.Date); err != nil {
			return fmt.Errorf("invalid special date %q", sd.Date)
		}
	}
	return nil
}

// IsAvailableAt evaluates the schedule at now, which must already be in the
// business timezone. A window with End before Start runs past midnight into
// the next day.
func (a Availability) IsAvailableAt(now time.Time) bool {
	if !a.IsActive {
		return false
	}

	today := now.Format(time.DateOnly)
	for _, sd := range a.SpecialDates {
		if sd.Date == today {
			return sd.IsAvailable
		}
	}

	minute := now.Hour()*60 + now.Minute()

	if window, ok := a.Schedule[weekdayKey(now.Weekday())]; ok && window.IsAvailable {
		start, okStart := ParseClock(window.Start)
		end, okEnd := ParseClock(window.End)
		if okStart && okEnd {
			if start <= end {
				if start <= minute && minute <= end {
					return true
				}
			} else if minute >= start {
				return true
			}
		}
	}

	yesterday := now.AddDate(0, 0, -1)
	if window, ok := a.Schedule[weekdayKey(yesterday.Weekday())]; ok && window.IsAvailable {
		start, okStart := ParseClock(window.Start)
		end, okEnd := ParseClock(window.End)
		if okStart && okEnd && end < start && minute <= end {
			return true
		}
	}

	return false
}

// IsAvailableThrough reports whether every minute from start to end is open.
func (a Availability) IsAvailableThrough(start, end time.Time) bool {
	for t := start; !t.After(end); t = t.Add(time.Minute) {
		if !a.IsAvailableAt(t) {
			return false
		}
	}
	return a.IsAvailableAt(end)
}

// ParseClock converts "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func weekdayKey(d time.Weekday) string {
	return Weekdays[d]
}

func isWeekday(s string) bool {
	for _, d := range Weekdays {
		if d == s {
			return true
		}
	}
	return false
}

type Line struct {
	ID                     uint                             `gorm:"primaryKey" json:"id"`
	Code                   string                           `gorm:"size:6;uniqueIndex;not null" json:"code"`
	Title                  string                           `gorm:"size:200;not null" json:"title"`
	Description            string                           `gorm:"type:text" json:"description"`
	Type                   LineType                         `gorm:"size:20;not null" json:"type"`
	CreatorID              uint                             `gorm:"index;not null" json:"creatorId"`
	Creator                *User                            `gorm:"foreignKey:CreatorID" json:"creator,omitempty"`
	BusinessID             *uint                            `gorm:"index" json:"businessId,omitempty"`
	MaxCapacity            int                              `gorm:"not null" json:"maxCapacity"`
	EstimatedServiceTime   int                              `gorm:"not null" json:"estimatedServiceTime"`
	AutoRemoveAfterMinutes int                              `gorm:"not null;default:0" json:"autoRemoveAfterMinutes"`
	Price                  decimal.Decimal                  `gorm:"type:decimal(12,2);not null;default:0" json:"price"`
	Availability           datatypes.JSONType[Availability] `json:"availability" swaggertype:"object"`
	IsActive               bool                             `gorm:"not null;index" json:"isActive"`
	NextPosition           int                              `gorm:"not null;default:0" json:"-"`
	TotalJoined            int                              `gorm:"not null;default:0" json:"totalJoined"`
	TotalServed            int                              `gorm:"not null;default:0" json:"totalServed"`
	CreatedAt              time.Time                        `json:"createdAt"`
	UpdatedAt              time.Time                        `json:"updatedAt"`
}

// IsCurrentlyAvailable reports whether the line accepts joins at now.
func (l *Line) IsCurrentlyAvailable(now time.Time) bool {
	return l.Availability.Data().IsAvailableAt(now)
}

// EstimatedWaitTime is the wait in minutes behind the given number of waiting customers.
func (l *Line) EstimatedWaitTime(waiting int) int {
	return waiting * l.EstimatedServiceTime
}
