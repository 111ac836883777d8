package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/profilerbackend/internal/models"
)

var (
	ErrDailyLimitReached   = errors.New("quota: daily limit reached")
	ErrMonthlyLimitReached = errors.New("quota: monthly limit reached")
)

// defaultDailyLimit is the Freemium cap used when a quota row is created by
// the self-healing path.
const defaultDailyLimit = 10

// Service is the usage accountant. It decides whether a user may generate,
// charges one unit per generation and runs the scheduled reset jobs.
type Service struct {
	db  conn
	now func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: sqlConn{db}, now: time.Now}
}

// conn is the slice of database/sql the accountant uses, narrowed so tests
// can substitute a fake the same way scanQuota abstracts row scanning.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) rowScanner
}

type sqlConn struct {
	*sql.DB
}

func (c sqlConn) QueryRowContext(ctx context.Context, query string, args ...interface{}) rowScanner {
	return c.DB.QueryRowContext(ctx, query, args...)
}

// EnsureQuotaRow creates a Freemium-default quota row if the user has none.
// Safe to call from both account initialization and the hot path.
func (s *Service) EnsureQuotaRow(ctx context.Context, userID string) error {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_quotas (user_id, plan, used_today, daily_limit, daily_reset_at, active)
		 VALUES ($1, 'freemium', 0, $2, $3, TRUE)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, defaultDailyLimit, nextMidnight(now, time.UTC))
	if err != nil {
		return fmt.Errorf("quota: ensure row: %v", err)
	}
	return nil
}

// CheckAdmission reports whether a user may consume one unit of generation
// quota. A missing row is allowed; LogGeneration self-heals it.
func (s *Service) CheckAdmission(ctx context.Context, userID string) error {
	q, err := s.getQuota(ctx, userID)
	if err != nil {
		return err
	}
	if q == nil {
		return nil
	}
	return decideAdmission(q)
}

// decideAdmission applies the limit gates to an in-memory row. The monthly
// limit dominates the daily one.
func decideAdmission(q *models.UserQuota) error {
	if q.MonthlyLimit != nil && q.UsedMonthly >= *q.MonthlyLimit {
		return ErrMonthlyLimitReached
	}
	if q.UsedToday >= q.DailyLimit {
		return ErrDailyLimitReached
	}
	return nil
}

// LogGeneration charges one generation to the user. This is the sole place
// where used_today increases. Returns initialized=true when the quota row had
// to be created on the spot.
//
// The increment is a single conditional UPDATE so that two concurrent
// requests cannot both pass once the limit is reached.
func (s *Service) LogGeneration(ctx context.Context, userID string) (initialized bool, err error) {
	now := s.now().UTC()

	q, err := s.getQuota(ctx, userID)
	if err != nil {
		return false, err
	}

	if q == nil {
		// Self-healing initialization: account setup never ran for this user.
		res, insErr := s.db.ExecContext(ctx,
			`INSERT INTO user_quotas (user_id, plan, used_today, daily_limit, daily_reset_at, active)
			 VALUES ($1, 'freemium', 1, $2, $3, FALSE)
			 ON CONFLICT (user_id) DO NOTHING`,
			userID, defaultDailyLimit, nextMidnight(now, time.UTC))
		if insErr != nil {
			return false, fmt.Errorf("quota: initialize row: %v", insErr)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return true, nil
		}
		// Lost a race with a concurrent insert; reload and fall through.
		if q, err = s.getQuota(ctx, userID); err != nil {
			return false, err
		}
		if q == nil {
			return false, fmt.Errorf("quota: row missing after initialization for user %s", userID)
		}
	}

	if q.DailyResetAt == nil || now.After(*q.DailyResetAt) {
		// The deadline passed: roll the counter over and arm the next one.
		if err := decideMonthly(q); err != nil {
			return false, err
		}
		_, err := s.db.ExecContext(ctx,
			`UPDATE user_quotas
			 SET used_today = 1,
			     used_monthly = used_monthly + (CASE WHEN monthly_limit IS NOT NULL THEN 1 ELSE 0 END),
			     daily_reset_at = $2,
			     updated_at = $3
			 WHERE user_id = $1`,
			userID, nextMidnight(now, locationFor(q.Timezone)), now)
		if err != nil {
			return false, fmt.Errorf("quota: roll over daily counter: %v", err)
		}
		return false, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE user_quotas
		 SET used_today = used_today + 1,
		     used_monthly = used_monthly + (CASE WHEN monthly_limit IS NOT NULL THEN 1 ELSE 0 END),
		     updated_at = $2
		 WHERE user_id = $1
		   AND used_today < daily_limit
		   AND (monthly_limit IS NULL OR used_monthly < monthly_limit)`,
		userID, now)
	if err != nil {
		return false, fmt.Errorf("quota: increment usage: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("quota: increment usage: %v", err)
	}
	if n == 0 {
		if err := decideMonthly(q); err != nil {
			return false, err
		}
		return false, ErrDailyLimitReached
	}
	return false, nil
}

func decideMonthly(q *models.UserQuota) error {
	if q.MonthlyLimit != nil && q.UsedMonthly >= *q.MonthlyLimit {
		return ErrMonthlyLimitReached
	}
	return nil
}

// ApplyPlanChange updates the plan tier and its limits in place. Counters are
// kept; only the ceilings move.
func (s *Service) ApplyPlanChange(ctx context.Context, userID string, plan models.Plan) error {
	limits := models.LimitsFor(plan)
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_quotas
		 SET plan = $2, daily_limit = $3, monthly_limit = $4, updated_at = $5
		 WHERE user_id = $1`,
		userID, string(plan), limits.Daily, nullableInt(limits.Monthly), s.now().UTC())
	if err != nil {
		return fmt.Errorf("quota: apply plan change: %v", err)
	}
	return nil
}

// SetTimezone records the IANA zone used to interpret the user's day
// boundary. Unknown zones are rejected rather than stored.
func (s *Service) SetTimezone(ctx context.Context, userID, tz string) error {
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("quota: unknown timezone %q: %v", tz, err)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_quotas SET timezone = $2, updated_at = $3 WHERE user_id = $1`,
		userID, tz, s.now().UTC())
	if err != nil {
		return fmt.Errorf("quota: set timezone: %v", err)
	}
	return nil
}

func (s *Service) getQuota(ctx context.Context, userID string) (*models.UserQuota, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, plan, used_today, daily_limit, used_monthly, monthly_limit,
		        daily_reset_at, monthly_reset_at, timezone, active
		 FROM user_quotas WHERE user_id = $1`, userID)
	q, err := scanQuota(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("quota: read row: %v", err)
	}
	return q, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuota(row rowScanner) (*models.UserQuota, error) {
	var (
		q            models.UserQuota
		plan         string
		monthlyLimit sql.NullInt64
		dailyReset   sql.NullTime
		monthlyReset sql.NullTime
		timezone     sql.NullString
	)
	err := row.Scan(&q.UserID, &plan, &q.UsedToday, &q.DailyLimit, &q.UsedMonthly,
		&monthlyLimit, &dailyReset, &monthlyReset, &timezone, &q.Active)
	if err != nil {
		return nil, err
	}
	q.Plan = models.Plan(plan)
	if monthlyLimit.Valid {
		v := int(monthlyLimit.Int64)
		q.MonthlyLimit = &v
	}
	if dailyReset.Valid {
		t := dailyReset.Time.UTC()
		q.DailyResetAt = &t
	}
	if monthlyReset.Valid {
		t := monthlyReset.Time.UTC()
		q.MonthlyResetAt = &t
	}
	if timezone.Valid {
		q.Timezone = timezone.String
	}
	return &q, nil
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// locationFor resolves an IANA zone name, falling back to UTC on anything
// unknown so a bad value never blocks accounting.
func locationFor(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// nextMidnight returns the first midnight in loc strictly after t, as UTC.
func nextMidnight(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	next := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	return next.UTC()
}
