package lines

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tabi/internal/models"
	"tabi/internal/subscriptions"
	"tabi/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// sequence returns the given draws in order, repeating the last one.
func sequence(draws ...int) func(int) int {
	i := 0
	return func(int) int {
		d := draws[i]
		if i < len(draws)-1 {
			i++
		}
		return d
	}
}

type fixture struct {
	svc   *Service
	db    *gorm.DB
	clock *testutil.Clock
}

func setup(t *testing.T, deps Deps) fixture {
	t.Helper()
	db := testutil.NewDB(t)
	// Wednesday noon
	clock := &testutil.Clock{T: time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)}
	deps.Now = clock.Now
	if deps.Limits == nil {
		deps.Limits = subscriptions.NewService(db, subscriptions.Deps{Now: clock.Now})
	}
	return fixture{svc: NewService(db, deps), db: db, clock: clock}
}

func TestCreateAppliesCreatorDefaults(t *testing.T) {
	f := setup(t, Deps{DefaultAutoRemoveMinutes: 90})
	creator := testutil.CreateUser(t, f.db, "+97699000001", true)

	line, err := f.svc.Create(context.Background(), creator.ID, CreateInput{Title: "  Barber  "})
	require.NoError(t, err)

	assert.Len(t, line.Code, 6)
	assert.True(t, ValidCode(line.Code))
	assert.Equal(t, "Barber", line.Title)
	assert.Equal(t, models.LineTypeQueue, line.Type)
	assert.Equal(t, 50, line.MaxCapacity)
	assert.Equal(t, 5, line.EstimatedServiceTime)
	assert.Equal(t, 90, line.AutoRemoveAfterMinutes)
	assert.True(t, line.IsActive)
	assert.True(t, line.Availability.Data().IsActive)

	var stored models.User
	require.NoError(t, f.db.First(&stored, creator.ID).Error)
	assert.Equal(t, 1, stored.TotalLinesCreated)
}

func TestCreateRejectsNonCreator(t *testing.T) {
	f := setup(t, Deps{})
	customer := testutil.CreateUser(t, f.db, "+97699000002", false)

	_, err := f.svc.Create(context.Background(), customer.ID, CreateInput{Title: "Nope"})
	assert.True(t, errors.Is(err, ErrNotCreator))
}

func TestCreateValidation(t *testing.T) {
	f := setup(t, Deps{})
	creator := testutil.CreateUser(t, f.db, "+97699000001", true)
	negative := -1
	price := decimal.NewFromInt(-5)

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"blank title", CreateInput{Title: "   "}},
		{"bad type", CreateInput{Title: "x", Type: "concert"}},
		{"negative capacity", CreateInput{Title: "x", MaxCapacity: -2}},
		{"negative auto remove", CreateInput{Title: "x", AutoRemoveAfterMinutes: &negative}},
		{"negative price", CreateInput{Title: "x", Price: &price}},
		{"bad schedule", CreateInput{Title: "x", Availability: &models.Availability{
			Schedule: map[string]models.DaySchedule{"monday": {Start: "25:00", End: "26:00"}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), creator.ID, tt.in)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "VALIDATION_ERROR")
		})
	}
}

func TestCreateEnforcesPlanQuota(t *testing.T) {
	f := setup(t, Deps{})
	creator := testutil.CreateUser(t, f.db, "+97699000001", true)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, creator.ID, CreateInput{Title: "First"})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, creator.ID, CreateInput{Title: "Second"})
	assert.True(t, errors.Is(err, subscriptions.ErrQueueLimit))
}

func TestCreateRetriesOnCodeCollision(t *testing.T) {
	f := setup(t, Deps{RandN: sequence(111, 111, 222)})
	a := testutil.CreateUser(t, f.db, "+97699000001", true)
	b := testutil.CreateUser(t, f.db, "+97699000002", true)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, a.ID, CreateInput{Title: "A"})
	require.NoError(t, err)
	assert.Equal(t, "100111", first.Code)

	second, err := f.svc.Create(ctx, b.ID, CreateInput{Title: "B"})
	require.NoError(t, err)
	assert.Equal(t, "100222", second.Code)
}

func TestCreateGivesUpAfterAttempts(t *testing.T) {
	f := setup(t, Deps{RandN: sequence(7), CodeAttempts: 3})
	a := testutil.CreateUser(t, f.db, "+97699000001", true)
	b := testutil.CreateUser(t, f.db, "+97699000002", true)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, a.ID, CreateInput{Title: "A"})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, b.ID, CreateInput{Title: "B"})
	assert.True(t, errors.Is(err, ErrCodeSpaceExhausted))

	var count int64
	require.NoError(t, f.db.Model(&models.Line{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var stored models.User
	require.NoError(t, f.db.First(&stored, b.ID).Error)
	assert.Equal(t, 0, stored.TotalLinesCreated)
}

func TestGetByCodeSummary(t *testing.T) {
	f := setup(t, Deps{})
	creator := testutil.CreateUser(t, f.db, "+97699000001", true)
	ctx := context.Background()

	line, err := f.svc.Create(ctx, creator.ID, CreateInput{Title: "Clinic", EstimatedServiceTime: 7})
	require.NoError(t, err)

	for i, status := range []models.JoinerStatus{models.StatusWaiting, models.StatusWaiting, models.StatusLeft} {
		u := testutil.CreateUser(t, f.db, fmt.Sprintf("+976991000%02d", i), false)
		require.NoError(t, f.db.Create(&models.LineJoiner{
			LineID: line.ID, UserID: u.ID, Position: i + 1, Status: status, JoinedAt: f.clock.T,
		}).Error)
	}

	summary, err := f.svc.GetByCode(ctx, line.Code)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.QueueCount)
	assert.Equal(t, 14, summary.EstimatedWaitTime)
	assert.True(t, summary.IsCurrentlyAvailable)

	f.clock.T = time.Date(2025, 6, 4, 22, 0, 0, 0, time.UTC)
	summary, err = f.svc.GetByCode(ctx, line.Code)
	require.NoError(t, err)
	assert.False(t, summary.IsCurrentlyAvailable)
}

func TestGetByCodeErrors(t *testing.T) {
	f := setup(t, Deps{})
	creator := testutil.CreateUser(t, f.db, "+97699000001", true)
	ctx := context.Background()

	_, err := f.svc.GetByCode(ctx, "12ab56")
	assert.True(t, errors.Is(err, ErrInvalidCode))

	_, err = f.svc.GetByCode(ctx, "999999")
	assert.True(t, errors.Is(err, ErrNotFound))

	line, err := f.svc.Create(ctx, creator.ID, CreateInput{Title: "Closing"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Deactivate(ctx, creator.ID, line.ID))

	_, err = f.svc.GetByCode(ctx, line.Code)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCodeLookupIsCachedAndInvalidated(t *testing.T) {
	rdb, mr := testutil.NewRedis(t)
	f := setup(t, Deps{Cache: rdb})
	creator := testutil.CreateUser(t, f.db, "+97699000001", true)
	ctx := context.Background()

	line, err := f.svc.Create(ctx, creator.ID, CreateInput{Title: "Cached"})
	require.NoError(t, err)

	_, err = f.svc.FindActiveByCode(ctx, line.Code)
	require.NoError(t, err)
	assert.True(t, mr.Exists(cachePrefix+line.Code))

	// a write behind the service's back is masked by the cache
	require.NoError(t, f.db.Model(&models.Line{}).Where("id = ?", line.ID).Update("title", "Changed").Error)
	cached, err := f.svc.FindActiveByCode(ctx, line.Code)
	require.NoError(t, err)
	assert.Equal(t, "Cached", cached.Title)

	title := "Renamed"
	_, err = f.svc.Update(ctx, creator.ID, line.ID, UpdateInput{Title: &title})
	require.NoError(t, err)
	assert.False(t, mr.Exists(cachePrefix+line.Code))

	fresh, err := f.svc.FindActiveByCode(ctx, line.Code)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", fresh.Title)

	mr.FastForward(cacheTTL + time.Second)
	assert.False(t, mr.Exists(cachePrefix+line.Code))
}

func TestRegenerateCode(t *testing.T) {
	f := setup(t, Deps{RandN: sequence(1, 1, 2)})
	creator := testutil.CreateUser(t, f.db, "+97699000001", true)
	ctx := context.Background()

	line, err := f.svc.Create(ctx, creator.ID, CreateInput{Title: "Rotate"})
	require.NoError(t, err)
	assert.Equal(t, "100001", line.Code)

	updated, err := f.svc.RegenerateCode(ctx, creator.ID, line.ID)
	require.NoError(t, err)
	assert.Equal(t, "100002", updated.Code)

	_, err = f.svc.GetByCode(ctx, "100001")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = f.svc.GetByCode(ctx, "100002")
	assert.NoError(t, err)
}

func TestRegenerateCodeSkipsCurrentCode(t *testing.T) {
	f := setup(t, Deps{RandN: sequence(5, 5, 6)})
	creator := testutil.CreateUser(t, f.db, "+97699000001", true)
	ctx := context.Background()

	line, err := f.svc.Create(ctx, creator.ID, CreateInput{Title: "Rotate"})
	require.NoError(t, err)
	require.Equal(t, "100005", line.Code)

	updated, err := f.svc.RegenerateCode(ctx, creator.ID, line.ID)
	require.NoError(t, err)
	assert.Equal(t, "100006", updated.Code)

	_, err = f.svc.GetByCode(ctx, "100005")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestOwnershipChecks(t *testing.T) {
	f := setup(t, Deps{})
	owner := testutil.CreateUser(t, f.db, "+97699000001", true)
	other := testutil.CreateUser(t, f.db, "+97699000002", true)
	ctx := context.Background()

	line, err := f.svc.Create(ctx, owner.ID, CreateInput{Title: "Mine"})
	require.NoError(t, err)

	_, err = f.svc.ToggleAvailability(ctx, other.ID, line.ID)
	assert.True(t, errors.Is(err, ErrNotOwner))
	assert.True(t, errors.Is(f.svc.Deactivate(ctx, other.ID, line.ID), ErrNotOwner))
	_, err = f.svc.RegenerateCode(ctx, owner.ID, 9999)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestToggleAvailability(t *testing.T) {
	f := setup(t, Deps{})
	creator := testutil.CreateUser(t, f.db, "+97699000001", true)
	ctx := context.Background()

	line, err := f.svc.Create(ctx, creator.ID, CreateInput{Title: "Toggle"})
	require.NoError(t, err)

	toggled, err := f.svc.ToggleAvailability(ctx, creator.ID, line.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Availability.Data().IsActive)

	summary, err := f.svc.GetByCode(ctx, line.Code)
	require.NoError(t, err)
	assert.False(t, summary.IsCurrentlyAvailable)

	toggled, err = f.svc.ToggleAvailability(ctx, creator.ID, line.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Availability.Data().IsActive)
}

func TestListMine(t *testing.T) {
	f := setup(t, Deps{Limits: noLimit{}})
	creator := testutil.CreateUser(t, f.db, "+97699000001", true)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, creator.ID, CreateInput{Title: "A"})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.Create(ctx, creator.ID, CreateInput{Title: "B"})
	require.NoError(t, err)
	c, err := f.svc.Create(ctx, creator.ID, CreateInput{Title: "C"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Deactivate(ctx, creator.ID, c.ID))

	list, err := f.svc.ListMine(ctx, creator.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	titles := []string{list[0].Line.Title, list[1].Line.Title}
	assert.ElementsMatch(t, []string{"A", "B"}, titles)
	assert.NotContains(t, titles, c.Title)
}

type noLimit struct{}

func (noLimit) CheckLineLimit(context.Context, uint) error { return nil }
