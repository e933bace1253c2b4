package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JoinerStatus
		want     bool
	}{
		{StatusWaiting, StatusBeingServed, true},
		{StatusWaiting, StatusVisited, true},
		{StatusWaiting, StatusLeft, true},
		{StatusWaiting, StatusRemoved, true},
		{StatusBeingServed, StatusVisited, true},
		{StatusBeingServed, StatusWaiting, false},
		{StatusVisited, StatusWaiting, false},
		{StatusLeft, StatusWaiting, false},
		{StatusRemoved, StatusLeft, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSourcesFor(t *testing.T) {
	assert.Equal(t, []JoinerStatus{StatusWaiting}, SourcesFor(StatusBeingServed))
	assert.Equal(t, []JoinerStatus{StatusWaiting, StatusBeingServed}, SourcesFor(StatusVisited))
	assert.Empty(t, SourcesFor(StatusWaiting))
}

func TestCanTransitionPayment(t *testing.T) {
	tests := []struct {
		from, to PaymentStatus
		want     bool
	}{
		{PaymentPending, PaymentCompleted, true},
		{PaymentPending, PaymentFailed, true},
		{PaymentPending, PaymentCancelled, true},
		{PaymentCompleted, PaymentRefunded, true},
		{PaymentPending, PaymentRefunded, false},
		{PaymentCompleted, PaymentPending, false},
		{PaymentFailed, PaymentCompleted, false},
		{PaymentRefunded, PaymentCompleted, false},
	}
	for _, tt := range tests {
		if got := CanTransitionPayment(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransitionPayment(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestWithinLimit(t *testing.T) {
	assert.True(t, WithinLimit(Unlimited, 1_000_000))
	assert.True(t, WithinLimit(2, 1))
	assert.False(t, WithinLimit(2, 2))
	assert.False(t, WithinLimit(0, 0))
}

func TestDefaultPermissions(t *testing.T) {
	manager := DefaultPermissions(RoleManager)
	assert.True(t, manager.CanManageArtists)
	assert.True(t, manager.CanViewAnalytics)

	artist := DefaultPermissions(RoleArtist)
	assert.False(t, artist.CanManageArtists)
	assert.False(t, artist.CanViewAnalytics)
	assert.True(t, artist.CanManageQueues)
}

func TestPlansCatalog(t *testing.T) {
	for tier, p := range Plans {
		assert.Equal(t, tier, p.Tier)
		if p.Business {
			assert.NotEqual(t, 0, p.MaxArtists, "business plan %s allows no artists", tier)
		}
	}
	free, ok := LookupPlan(PlanFree)
	assert.True(t, ok)
	assert.True(t, free.Price.IsZero())
}
