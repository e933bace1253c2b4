package appointments

import (
	"context"
	"errors"
	"testing"
	"time"

	"tabi/internal/models"
	"tabi/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fixture struct {
	svc      *Service
	db       *gorm.DB
	clock    *testutil.Clock
	creator  *models.User
	customer *models.User
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	// Wednesday 08:00
	clock := &testutil.Clock{T: time.Date(2025, 6, 4, 8, 0, 0, 0, time.UTC)}
	return &fixture{
		svc:      NewService(db, Deps{Now: clock.Now, CancellationCutoff: 2 * time.Hour}),
		db:       db,
		clock:    clock,
		creator:  testutil.CreateUser(t, db, "+97699222201", true),
		customer: testutil.CreateUser(t, db, "+97699222202", false),
	}
}

func (f *fixture) line(t *testing.T, code string, price int64, mutate ...func(*models.Line)) *models.Line {
	t.Helper()
	l := &models.Line{
		Code:                 code,
		Title:                "Studio",
		Type:                 models.LineTypeAppointment,
		CreatorID:            f.creator.ID,
		MaxCapacity:          10,
		EstimatedServiceTime: 30,
		Price:                decimal.NewFromInt(price),
		Availability:         datatypes.NewJSONType(models.DefaultAvailability()),
		IsActive:             true,
	}
	for _, m := range mutate {
		m(l)
	}
	require.NoError(t, f.db.Create(l).Error)
	return l
}

func at(hour, minute int) time.Time {
	return time.Date(2025, 6, 4, hour, minute, 0, 0, time.UTC)
}

func TestBookFreeLineConfirmsImmediately(t *testing.T) {
	f := setup(t)
	line := f.line(t, "700001", 0)

	appt, err := f.svc.Book(context.Background(), f.customer.ID, BookInput{LineID: line.ID, StartTime: at(10, 0).Add(17 * time.Second)})
	require.NoError(t, err)

	assert.Equal(t, models.AppointmentConfirmed, appt.Status)
	assert.True(t, appt.StartTime.Equal(at(10, 0)))
	assert.True(t, appt.EndTime.Equal(at(10, 30)))
	assert.True(t, appt.Price.IsZero())
}

func TestBookPricedLineWaitsForPayment(t *testing.T) {
	f := setup(t)
	line := f.line(t, "700001", 25000)

	appt, err := f.svc.Book(context.Background(), f.customer.ID, BookInput{LineID: line.ID, StartTime: at(10, 0)})
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentPendingPayment, appt.Status)
	assert.True(t, appt.Price.Equal(decimal.NewFromInt(25000)))

	confirmed, err := f.svc.ConfirmTx(f.db, appt.ID)
	require.NoError(t, err)
	assert.True(t, confirmed)

	confirmed, err = f.svc.ConfirmTx(f.db, appt.ID)
	require.NoError(t, err)
	assert.False(t, confirmed, "a second confirmation is a no-op")
}

func TestBookRejectsOverlap(t *testing.T) {
	f := setup(t)
	line := f.line(t, "700001", 0)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, f.customer.ID, BookInput{LineID: line.ID, StartTime: at(10, 0)})
	require.NoError(t, err)

	tests := []struct {
		name  string
		start time.Time
		want  error
	}{
		{"same start", at(10, 0), ErrSlotTaken},
		{"starts inside", at(10, 15), ErrSlotTaken},
		{"ends inside", at(9, 45), ErrSlotTaken},
		{"back to back after", at(10, 30), nil},
		{"back to back before", at(9, 30), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Book(ctx, f.customer.ID, BookInput{LineID: line.ID, StartTime: tt.start})
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestCancelledSlotCanBeRebooked(t *testing.T) {
	f := setup(t)
	line := f.line(t, "700001", 0)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.customer.ID, BookInput{LineID: line.ID, StartTime: at(12, 0)})
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, f.customer.ID, appt.ID)
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, f.customer.ID, BookInput{LineID: line.ID, StartTime: at(12, 0)})
	assert.NoError(t, err)
}

func TestBookPreconditions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.Line)
		start  time.Time
		want   error
	}{
		{"past", nil, at(7, 0), ErrStartInPast},
		{"now", nil, at(8, 0), ErrStartInPast},
		{"queue line", func(l *models.Line) { l.Type = models.LineTypeQueue }, at(10, 0), ErrNotBookable},
		{"inactive", func(l *models.Line) { l.IsActive = false }, at(10, 0), ErrLineInactive},
		{"before opening", nil, at(8, 30), ErrOutsideHours},
		{"runs past closing", nil, at(17, 45), ErrOutsideHours},
		{"crosses a closed gap", func(l *models.Line) {
			av := models.DefaultAvailability()
			av.Schedule["wednesday"] = models.DaySchedule{Start: "09:00", End: "23:00", IsAvailable: true}
			av.SpecialDates = []models.SpecialDate{{Date: "2025-06-05", IsAvailable: true}}
			l.Availability = datatypes.NewJSONType(av)
			l.EstimatedServiceTime = 80
		}, at(22, 50), ErrOutsideHours},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			var mutate []func(*models.Line)
			if tt.mutate != nil {
				mutate = append(mutate, tt.mutate)
			}
			line := f.line(t, "700001", 0, mutate...)

			_, err := f.svc.Book(context.Background(), f.customer.ID, BookInput{LineID: line.ID, StartTime: tt.start})
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	t.Run("unknown line", func(t *testing.T) {
		f := setup(t)
		_, err := f.svc.Book(context.Background(), f.customer.ID, BookInput{LineID: 9999, StartTime: at(10, 0)})
		assert.True(t, errors.Is(err, ErrLineNotFound))
	})
}

func TestCancel(t *testing.T) {
	f := setup(t)
	line := f.line(t, "700001", 0)
	stranger := testutil.CreateUser(t, f.db, "+97699222203", false)
	ctx := context.Background()

	early, err := f.svc.Book(ctx, f.customer.ID, BookInput{LineID: line.ID, StartTime: at(9, 30)})
	require.NoError(t, err)
	late, err := f.svc.Book(ctx, f.customer.ID, BookInput{LineID: line.ID, StartTime: at(15, 0)})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, stranger.ID, late.ID)
	assert.True(t, errors.Is(err, ErrNotYours))

	_, err = f.svc.Cancel(ctx, f.customer.ID, early.ID)
	assert.True(t, errors.Is(err, ErrCancelWindow))

	cancelled, err := f.svc.Cancel(ctx, f.creator.ID, early.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentCancelled, cancelled.Status)

	_, err = f.svc.Cancel(ctx, f.customer.ID, late.ID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, f.customer.ID, late.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = f.svc.Cancel(ctx, f.customer.ID, 9999)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestComplete(t *testing.T) {
	f := setup(t)
	free := f.line(t, "700001", 0)
	paid := f.line(t, "700002", 1000)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.customer.ID, BookInput{LineID: free.ID, StartTime: at(10, 0)})
	require.NoError(t, err)
	unpaid, err := f.svc.Book(ctx, f.customer.ID, BookInput{LineID: paid.ID, StartTime: at(10, 0)})
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, f.customer.ID, appt.ID)
	assert.True(t, errors.Is(err, ErrNotOwner))

	_, err = f.svc.Complete(ctx, f.creator.ID, unpaid.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	done, err := f.svc.Complete(ctx, f.creator.ID, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
}

func TestListings(t *testing.T) {
	f := setup(t)
	line := f.line(t, "700001", 0)
	ctx := context.Background()

	second, err := f.svc.Book(ctx, f.customer.ID, BookInput{LineID: line.ID, StartTime: at(14, 0)})
	require.NoError(t, err)
	first, err := f.svc.Book(ctx, f.customer.ID, BookInput{LineID: line.ID, StartTime: at(11, 0)})
	require.NoError(t, err)

	mine, err := f.svc.ListMine(ctx, f.customer.ID)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, first.ID, mine[0].ID)
	assert.Equal(t, second.ID, mine[1].ID)
	require.NotNil(t, mine[0].Line)

	f.clock.Advance(4 * time.Hour)
	upcoming, err := f.svc.ListForLine(ctx, f.creator.ID, line.ID)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, second.ID, upcoming[0].ID)

	_, err = f.svc.ListForLine(ctx, f.customer.ID, line.ID)
	assert.True(t, errors.Is(err, ErrNotOwner))
}

func TestGetForPayment(t *testing.T) {
	f := setup(t)
	paid := f.line(t, "700002", 1000)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.customer.ID, BookInput{LineID: paid.ID, StartTime: at(10, 0)})
	require.NoError(t, err)

	got, err := f.svc.GetForPayment(ctx, f.customer.ID, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, got.ID)

	_, err = f.svc.GetForPayment(ctx, f.creator.ID, appt.ID)
	assert.True(t, errors.Is(err, ErrNotYours))
}
