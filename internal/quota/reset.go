package quota

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/profilerbackend/internal/models"
)

// RunDailyReset zeroes used_today for every active user whose reset deadline
// has passed. A failing batch query aborts the pass; individual update
// failures are logged and skipped.
func (s *Service) RunDailyReset(ctx context.Context) (int, error) {
	now := s.now().UTC()

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, plan, used_today, daily_limit, used_monthly, monthly_limit,
		        daily_reset_at, monthly_reset_at, timezone, active
		 FROM user_quotas WHERE active = TRUE`)
	if err != nil {
		return 0, fmt.Errorf("quota: daily reset query: %v", err)
	}
	defer rows.Close()

	var quotas []*models.UserQuota
	for rows.Next() {
		q, err := scanQuota(rows)
		if err != nil {
			return 0, fmt.Errorf("quota: daily reset scan: %v", err)
		}
		quotas = append(quotas, q)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("quota: daily reset rows: %v", err)
	}

	reset := 0
	for _, q := range quotas {
		if !shouldResetDaily(q, now) {
			continue
		}
		_, err := s.db.ExecContext(ctx,
			`UPDATE user_quotas SET used_today = 0, daily_reset_at = $2, updated_at = $3
			 WHERE user_id = $1`,
			q.UserID, nextMidnight(now, locationFor(q.Timezone)), now)
		if err != nil {
			log.Printf("daily reset: skipping user %s: %v", q.UserID, err)
			continue
		}
		reset++
	}
	return reset, nil
}

// shouldResetDaily is the daily reset guard:
//   - the reset deadline (next local midnight at the time of the last reset)
//     must have passed,
//   - the user-local clock must be past 00:01, so a run landing exactly on
//     the midnight boundary waits for the next pass,
//   - a user who exhausted their monthly allowance stays paused until the
//     monthly reset brings them back.
func shouldResetDaily(q *models.UserQuota, now time.Time) bool {
	if q.MonthlyLimit != nil && q.UsedMonthly >= *q.MonthlyLimit {
		return false
	}
	local := now.In(locationFor(q.Timezone))
	if local.Hour() == 0 && local.Minute() < 1 {
		return false
	}
	if q.DailyResetAt == nil {
		return true
	}
	return now.After(*q.DailyResetAt)
}

// RunMonthlyReset zeroes used_monthly for paid users whose latest confirmed
// payment covers a new period. Freemium users are never touched. Users with
// no usable payment record are skipped; never reset on a guess.
func (s *Service) RunMonthlyReset(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, plan, used_today, daily_limit, used_monthly, monthly_limit,
		        daily_reset_at, monthly_reset_at, timezone, active
		 FROM user_quotas WHERE plan <> 'freemium'`)
	if err != nil {
		return 0, fmt.Errorf("quota: monthly reset query: %v", err)
	}
	defer rows.Close()

	var quotas []*models.UserQuota
	for rows.Next() {
		q, err := scanQuota(rows)
		if err != nil {
			return 0, fmt.Errorf("quota: monthly reset scan: %v", err)
		}
		quotas = append(quotas, q)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("quota: monthly reset rows: %v", err)
	}

	reset := 0
	for _, q := range quotas {
		periodEnd, ok, err := s.latestPaidPeriodEnd(ctx, q.UserID)
		if err != nil {
			log.Printf("monthly reset: skipping user %s: %v", q.UserID, err)
			continue
		}
		if !ok {
			continue
		}
		if !shouldResetMonthly(q, periodEnd) {
			continue
		}
		_, err = s.db.ExecContext(ctx,
			`UPDATE user_quotas SET used_monthly = 0, monthly_reset_at = $2, updated_at = $3
			 WHERE user_id = $1`,
			q.UserID, periodEnd, s.now().UTC())
		if err != nil {
			log.Printf("monthly reset: skipping user %s: %v", q.UserID, err)
			continue
		}
		reset++
	}
	return reset, nil
}

// shouldResetMonthly is the monthly reset guard: Freemium accounts never
// reset via this path no matter what billing records exist, and a period end
// that does not advance past the last confirmed boundary is a no-op.
func shouldResetMonthly(q *models.UserQuota, periodEnd time.Time) bool {
	if q.Plan == models.PlanFreemium {
		return false
	}
	if q.MonthlyResetAt == nil {
		return true
	}
	return periodEnd.After(*q.MonthlyResetAt)
}

// latestPaidPeriodEnd finds the period end of the user's most recent
// confirmed payment event. ok is false when there is no event or the payload
// carries no period end in any known shape.
func (s *Service) latestPaidPeriodEnd(ctx context.Context, userID string) (time.Time, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM billing_logs
		 WHERE user_id = $1 AND event_type = 'invoice.payment_succeeded'
		 ORDER BY created_at DESC LIMIT 1`, userID).Scan(&payload)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("quota: read billing log: %v", err)
	}

	periodEnd, ok := ExtractPeriodEnd(payload)
	return periodEnd, ok, nil
}
