package dashboard

import (
	"context"
	"testing"
	"time"

	"tabi/internal/models"
	"tabi/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var now = time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)

func createLine(t *testing.T, db *gorm.DB, creatorID uint, code string, active bool) *models.Line {
	t.Helper()
	l := &models.Line{
		Code:                 code,
		Title:                "Line " + code,
		Type:                 models.LineTypeQueue,
		CreatorID:            creatorID,
		MaxCapacity:          20,
		EstimatedServiceTime: 4,
		Availability:         datatypes.NewJSONType(models.DefaultAvailability()),
		IsActive:             active,
	}
	require.NoError(t, db.Create(l).Error)
	return l
}

type entrySpec struct {
	status  models.JoinerStatus
	joined  time.Time
	visited *time.Time
	wait    *int
}

func addEntries(t *testing.T, db *gorm.DB, line *models.Line, userID uint, specs ...entrySpec) {
	t.Helper()
	for i, sp := range specs {
		e := &models.LineJoiner{
			LineID:         line.ID,
			UserID:         userID,
			Position:       i + 1,
			Status:         sp.status,
			JoinedAt:       sp.joined,
			VisitedAt:      sp.visited,
			ActualWaitTime: sp.wait,
		}
		require.NoError(t, db.Create(e).Error)
	}
}

func ptr[T any](v T) *T { return &v }

func TestStats(t *testing.T) {
	db := testutil.NewDB(t)
	creator := testutil.CreateUser(t, db, "+97699111111", true)
	other := testutil.CreateUser(t, db, "+97699111112", true)
	customer := testutil.CreateUser(t, db, "+97699111113", false)

	a := createLine(t, db, creator.ID, "111111", true)
	b := createLine(t, db, creator.ID, "222222", true)
	createLine(t, db, creator.ID, "333333", false)
	foreign := createLine(t, db, other.ID, "444444", true)
	require.NoError(t, db.Model(a).UpdateColumn("total_served", 7).Error)

	yesterday := now.Add(-24 * time.Hour)
	addEntries(t, db, a, customer.ID,
		entrySpec{status: models.StatusWaiting, joined: now.Add(-time.Hour)},
		entrySpec{status: models.StatusWaiting, joined: now.Add(-30 * time.Minute)},
		entrySpec{status: models.StatusVisited, joined: now.Add(-2 * time.Hour), visited: ptr(now.Add(-time.Hour))},
		entrySpec{status: models.StatusVisited, joined: yesterday, visited: ptr(yesterday.Add(time.Hour))},
	)
	addEntries(t, db, b, customer.ID,
		entrySpec{status: models.StatusLeft, joined: now.Add(-time.Hour)},
	)
	addEntries(t, db, foreign, customer.ID,
		entrySpec{status: models.StatusWaiting, joined: now.Add(-time.Hour)},
	)

	svc := NewService(db, Deps{})
	stats, err := svc.Stats(context.Background(), []uint{creator.ID}, now)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalLines)
	assert.Equal(t, 2, stats.ActiveLines)
	assert.Equal(t, 7, stats.TotalServed)
	assert.Equal(t, 2, stats.TotalWaiting)
	assert.Equal(t, 4, stats.TodayJoins)
	assert.Equal(t, 1, stats.TodayServed)

	require.Len(t, stats.Lines, 2)
	byID := map[uint]LineStats{}
	for _, ls := range stats.Lines {
		byID[ls.LineID] = ls
	}
	assert.Equal(t, 2, byID[a.ID].QueueCount)
	assert.Equal(t, 1, byID[a.ID].ServedToday)
	assert.Equal(t, 8, byID[a.ID].EstimatedWaitTime)
	assert.True(t, byID[a.ID].IsAvailable)
	assert.Equal(t, 0, byID[b.ID].QueueCount)
}

func TestStatsEmpty(t *testing.T) {
	db := testutil.NewDB(t)
	stats, err := NewService(db, Deps{}).Stats(context.Background(), []uint{42}, now)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalLines)
	assert.Empty(t, stats.Lines)
}

func TestStatsUsesLocalDay(t *testing.T) {
	db := testutil.NewDB(t)
	creator := testutil.CreateUser(t, db, "+97699111121", true)
	customer := testutil.CreateUser(t, db, "+97699111122", false)
	line := createLine(t, db, creator.ID, "111111", true)

	// 17:00 UTC on the 3rd is already the 4th in UTC+8
	addEntries(t, db, line, customer.ID,
		entrySpec{status: models.StatusLeft, joined: time.Date(2025, 6, 3, 17, 0, 0, 0, time.UTC)},
		entrySpec{status: models.StatusLeft, joined: time.Date(2025, 6, 3, 15, 0, 0, 0, time.UTC)},
	)

	loc := time.FixedZone("UTC+8", 8*3600)
	stats, err := NewService(db, Deps{Location: loc}).Stats(context.Background(), []uint{creator.ID}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TodayJoins)
}

func TestAnalytics(t *testing.T) {
	db := testutil.NewDB(t)
	creator := testutil.CreateUser(t, db, "+97699111131", true)
	customer := testutil.CreateUser(t, db, "+97699111132", false)
	a := createLine(t, db, creator.ID, "111111", true)
	b := createLine(t, db, creator.ID, "222222", true)

	day := func(offset int, hour int) time.Time {
		return time.Date(2025, 6, 4+offset, hour, 0, 0, 0, time.UTC)
	}
	addEntries(t, db, a, customer.ID,
		entrySpec{status: models.StatusVisited, joined: day(0, 9), visited: ptr(day(0, 10)), wait: ptr(60)},
		entrySpec{status: models.StatusVisited, joined: day(0, 10), visited: ptr(day(0, 10)), wait: ptr(20)},
		entrySpec{status: models.StatusWaiting, joined: day(0, 11)},
		entrySpec{status: models.StatusVisited, joined: day(-1, 9), visited: ptr(day(-1, 9)), wait: ptr(10)},
		entrySpec{status: models.StatusVisited, joined: day(-30, 9), visited: ptr(day(-30, 10)), wait: ptr(99)},
	)
	addEntries(t, db, b, customer.ID,
		entrySpec{status: models.StatusLeft, joined: day(-2, 9)},
	)

	out, err := NewService(db, Deps{}).Analytics(context.Background(), []uint{creator.ID}, 3, now)
	require.NoError(t, err)

	require.Len(t, out.Days, 3)
	assert.Equal(t, DayStats{Date: "2025-06-02", Joins: 1}, out.Days[0])
	assert.Equal(t, DayStats{Date: "2025-06-03", Joins: 1, Served: 1, AvgWaitTime: 10}, out.Days[1])
	assert.Equal(t, DayStats{Date: "2025-06-04", Joins: 3, Served: 2, AvgWaitTime: 40}, out.Days[2])

	conv := map[uint]LineConversion{}
	for _, lc := range out.Lines {
		conv[lc.LineID] = lc
	}
	assert.Equal(t, 4, conv[a.ID].Joined)
	assert.Equal(t, 3, conv[a.ID].Served)
	assert.Equal(t, 0.75, conv[a.ID].ConversionRate)
	assert.Equal(t, 1, conv[b.ID].Joined)
	assert.Zero(t, conv[b.ID].ConversionRate)
}

func TestClampDays(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, DefaultDays},
		{-3, DefaultDays},
		{1, 1},
		{30, 30},
		{365, MaxDays},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampDays(tt.in), "days=%d", tt.in)
	}
}
