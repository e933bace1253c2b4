package subscriptions

import (
	"context"
	"errors"
	"testing"
	"time"

	"tabi/internal/models"
	"tabi/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setup(t *testing.T) (*Service, *gorm.DB, *testutil.Clock) {
	t.Helper()
	db := testutil.NewDB(t)
	clock := &testutil.Clock{T: time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)}
	return NewService(db, Deps{Now: clock.Now}), db, clock
}

func TestGetCreatesFreePlan(t *testing.T) {
	svc, db, _ := setup(t)
	user := testutil.CreateUser(t, db, "+97699000001", true)

	sub, err := svc.Get(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanFree, sub.Plan)
	assert.Equal(t, 1, sub.MaxQueues)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), sub.UsagePeriodStart.UTC())

	again, err := svc.Get(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID)
}

func TestCheckLineLimit(t *testing.T) {
	svc, db, _ := setup(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, db, "+97699000001", true)

	require.NoError(t, svc.CheckLineLimit(ctx, user.ID))

	require.NoError(t, db.Create(&models.Line{
		Code: "123456", Title: "Barber", Type: models.LineTypeQueue, CreatorID: user.ID,
		MaxCapacity: 5, EstimatedServiceTime: 5, IsActive: true,
	}).Error)

	err := svc.CheckLineLimit(ctx, user.ID)
	assert.True(t, errors.Is(err, ErrQueueLimit))
}

func TestCustomerLimitAndMonthlyReset(t *testing.T) {
	svc, db, clock := setup(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, db, "+97699000001", true)

	sub, err := svc.Get(ctx, owner.ID)
	require.NoError(t, err)
	require.NoError(t, db.Model(sub).Update("max_customers_per_month", 2).Error)

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.CheckCustomerLimit(ctx, owner.ID))
		require.NoError(t, svc.RecordCustomer(ctx, owner.ID))
	}
	assert.True(t, errors.Is(svc.CheckCustomerLimit(ctx, owner.ID), ErrCustomerLimit))

	clock.T = time.Date(2025, 7, 1, 0, 10, 0, 0, time.UTC)
	assert.NoError(t, svc.CheckCustomerLimit(ctx, owner.ID), "a new month is not limited before the reset job runs")

	n, err := svc.ResetMonthlyUsage(ctx, clock.T)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	sub, err = svc.Get(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sub.CustomersThisMonth)

	n, err = svc.ResetMonthlyUsage(ctx, clock.T)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "reset is idempotent within a month")
}

func TestRecordCustomerRollsStalePeriod(t *testing.T) {
	svc, db, clock := setup(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, db, "+97699000001", true)

	require.NoError(t, svc.RecordCustomer(ctx, owner.ID))
	require.NoError(t, svc.RecordCustomer(ctx, owner.ID))

	clock.T = time.Date(2025, 7, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, svc.RecordCustomer(ctx, owner.ID))

	sub, err := svc.Get(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.CustomersThisMonth)
}

func TestActivateTxAndExpiry(t *testing.T) {
	svc, db, clock := setup(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, db, "+97699000001", true)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.ActivateTx(tx, user.ID, models.PlanPro)
	})
	require.NoError(t, err)

	sub, err := svc.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanPro, sub.Plan)
	assert.Equal(t, 10, sub.MaxQueues)
	assert.True(t, sub.Features.Data().Analytics)
	require.NotNil(t, sub.ExpiresAt)

	clock.Advance(Period + time.Hour)
	sub, err = svc.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanFree, sub.Plan)
	assert.Equal(t, models.SubscriptionExpired, sub.Status)
}

func TestActivateTxUnknownPlan(t *testing.T) {
	svc, db, _ := setup(t)
	user := testutil.CreateUser(t, db, "+97699000001", true)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.ActivateTx(tx, user.ID, "platinum")
	})
	assert.True(t, errors.Is(err, ErrUnknownPlan))
}
