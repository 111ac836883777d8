package quota

import (
	"testing"
	"time"

	"github.com/profilerbackend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func TestDecideAdmission(t *testing.T) {
	t.Run("under both limits", func(t *testing.T) {
		q := &models.UserQuota{UsedToday: 9, DailyLimit: 10, UsedMonthly: 40, MonthlyLimit: intPtr(100)}
		assert.NoError(t, decideAdmission(q))
	})

	t.Run("at daily limit", func(t *testing.T) {
		q := &models.UserQuota{UsedToday: 10, DailyLimit: 10}
		assert.ErrorIs(t, decideAdmission(q), ErrDailyLimitReached)
	})

	t.Run("monthly limit dominates", func(t *testing.T) {
		q := &models.UserQuota{UsedToday: 0, DailyLimit: 10, UsedMonthly: 100, MonthlyLimit: intPtr(100)}
		assert.ErrorIs(t, decideAdmission(q), ErrMonthlyLimitReached)
	})

	t.Run("no monthly tracking", func(t *testing.T) {
		q := &models.UserQuota{UsedToday: 5, DailyLimit: 10, UsedMonthly: 9999}
		assert.NoError(t, decideAdmission(q))
	})
}

func TestNextMidnight(t *testing.T) {
	now := time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), nextMidnight(now, time.UTC))

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// 15:30 UTC is 11:30 in New York; local midnight falls at 04:00 UTC.
	assert.Equal(t, time.Date(2025, 6, 2, 4, 0, 0, 0, time.UTC), nextMidnight(now, ny))
}

func TestShouldResetDaily(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	t.Run("deadline passed", func(t *testing.T) {
		q := &models.UserQuota{DailyResetAt: timePtr(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))}
		assert.True(t, shouldResetDaily(q, now))
	})

	t.Run("deadline not yet passed", func(t *testing.T) {
		q := &models.UserQuota{DailyResetAt: timePtr(time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC))}
		assert.False(t, shouldResetDaily(q, now))
	})

	t.Run("no deadline recorded", func(t *testing.T) {
		assert.True(t, shouldResetDaily(&models.UserQuota{}, now))
	})

	t.Run("midnight boundary guard", func(t *testing.T) {
		q := &models.UserQuota{DailyResetAt: timePtr(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))}
		boundary := time.Date(2025, 6, 2, 0, 0, 30, 0, time.UTC)
		assert.False(t, shouldResetDaily(q, boundary))
		pastGuard := time.Date(2025, 6, 2, 0, 1, 30, 0, time.UTC)
		assert.True(t, shouldResetDaily(q, pastGuard))
	})

	t.Run("monthly exhaustion blocks daily reset", func(t *testing.T) {
		q := &models.UserQuota{
			DailyResetAt: timePtr(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
			UsedMonthly:  100,
			MonthlyLimit: intPtr(100),
		}
		assert.False(t, shouldResetDaily(q, now))
	})

	t.Run("second run is a no-op", func(t *testing.T) {
		q := &models.UserQuota{DailyResetAt: timePtr(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))}
		require.True(t, shouldResetDaily(q, now))

		// The first run advances the deadline; the guard now fails.
		next := nextMidnight(now, locationFor(q.Timezone))
		q.DailyResetAt = &next
		assert.False(t, shouldResetDaily(q, now))
	})
}

func TestShouldResetMonthly(t *testing.T) {
	periodEnd := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

	t.Run("freemium never resets", func(t *testing.T) {
		q := &models.UserQuota{Plan: models.PlanFreemium}
		assert.False(t, shouldResetMonthly(q, periodEnd))
	})

	t.Run("freemium ignores a stale boundary", func(t *testing.T) {
		q := &models.UserQuota{
			Plan:           models.PlanFreemium,
			MonthlyResetAt: timePtr(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		}
		assert.False(t, shouldResetMonthly(q, periodEnd))
	})

	t.Run("paid with no prior boundary", func(t *testing.T) {
		q := &models.UserQuota{Plan: models.PlanSelect}
		assert.True(t, shouldResetMonthly(q, periodEnd))
	})

	t.Run("period advanced past boundary", func(t *testing.T) {
		q := &models.UserQuota{
			Plan:           models.PlanSmarter,
			MonthlyResetAt: timePtr(time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC)),
		}
		assert.True(t, shouldResetMonthly(q, periodEnd))
	})

	t.Run("period equal to boundary is a no-op", func(t *testing.T) {
		q := &models.UserQuota{
			Plan:           models.PlanSelect,
			MonthlyResetAt: timePtr(periodEnd),
		}
		assert.False(t, shouldResetMonthly(q, periodEnd))
	})

	t.Run("older period is a no-op", func(t *testing.T) {
		q := &models.UserQuota{
			Plan:           models.PlanBusiness,
			MonthlyResetAt: timePtr(time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC)),
		}
		assert.False(t, shouldResetMonthly(q, periodEnd))
	})
}

func TestLocationFor(t *testing.T) {
	assert.Equal(t, time.UTC, locationFor(""))
	assert.Equal(t, time.UTC, locationFor("Not/AZone"))
	loc := locationFor("Europe/Paris")
	assert.Equal(t, "Europe/Paris", loc.String())
}

func TestLimitsFor(t *testing.T) {
	free := models.LimitsFor(models.PlanFreemium)
	assert.Equal(t, 10, free.Daily)
	assert.Nil(t, free.Monthly)

	business := models.LimitsFor(models.PlanBusiness)
	assert.Equal(t, 400, business.Daily)
	require.NotNil(t, business.Monthly)
	assert.Greater(t, *business.Monthly, business.Daily)
}

func TestParsePlan(t *testing.T) {
	assert.Equal(t, models.PlanSelect, models.ParsePlan("select"))
	assert.Equal(t, models.PlanFreemium, models.ParsePlan("freemium"))
	assert.Equal(t, models.PlanFreemium, models.ParsePlan("enterprise-trial"))
	assert.Equal(t, models.PlanFreemium, models.ParsePlan(""))
}
