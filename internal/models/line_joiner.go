package models

import "time"

type JoinerStatus string

const (
	StatusWaiting     JoinerStatus = "waiting"
	StatusBeingServed JoinerStatus = "being_served"
	StatusVisited     JoinerStatus = "visited"
	StatusLeft        JoinerStatus = "left"
	StatusRemoved     JoinerStatus = "removed"
)

// ActiveStatuses are the statuses that hold a place in a line.
var ActiveStatuses = []JoinerStatus{StatusWaiting, StatusBeingServed}

var joinerTransitions = map[JoinerStatus][]JoinerStatus{
	StatusWaiting:     {StatusBeingServed, StatusVisited, StatusLeft, StatusRemoved},
	StatusBeingServed: {StatusVisited, StatusLeft, StatusRemoved},
}

// CanTransition reports whether an entry may move from one status to another.
// Visited, left and removed are final.
func CanTransition(from, to JoinerStatus) bool {
	for _, s := range joinerTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesFor lists the statuses an entry may be in before moving to to.
func SourcesFor(to JoinerStatus) []JoinerStatus {
	var from []JoinerStatus
	for _, s := range []JoinerStatus{StatusWaiting, StatusBeingServed} {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// LineJoiner is one customer's place in a line. Position is assigned from the
// line's sequence and never reused.
type LineJoiner struct {
	ID                uint         `gorm:"primaryKey" json:"id"`
	LineID            uint         `gorm:"not null;uniqueIndex:idx_joiner_line_position,priority:1;index:idx_joiner_line_status_position,priority:1" json:"lineId"`
	Line              *Line        `gorm:"foreignKey:LineID" json:"line,omitempty"`
	UserID            uint         `gorm:"not null;index" json:"userId"`
	User              *User        `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Position          int          `gorm:"not null;uniqueIndex:idx_joiner_line_position,priority:2;index:idx_joiner_line_status_position,priority:3" json:"position"`
	Status            JoinerStatus `gorm:"size:20;not null;index:idx_joiner_line_status_position,priority:2" json:"status"`
	JoinedAt          time.Time    `gorm:"not null;index" json:"joinedAt"`
	ServingAt         *time.Time   `json:"servingAt,omitempty"`
	VisitedAt         *time.Time   `json:"visitedAt,omitempty"`
	LeftAt            *time.Time   `json:"leftAt,omitempty"`
	EstimatedWaitTime int          `gorm:"not null;default:0" json:"estimatedWaitTime"`
	ActualWaitTime    *int         `json:"actualWaitTime,omitempty"`
	Notes             string       `gorm:"size:500" json:"notes,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

func (j *LineJoiner) IsActive() bool {
	return j.Status == StatusWaiting || j.Status == StatusBeingServed
}
