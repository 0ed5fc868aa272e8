package utils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"coldrelay/models"
)

// QuotaLimiter enforces per-account daily caps and per-account hourly
// throttles. The daily counter lives in the email_accounts row so it
// survives restarts and is shared across workers; the hourly throttle is
// in-process via a token bucket per (account, email type).
type QuotaLimiter struct {
	DB *gorm.DB

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewQuotaLimiter(db *gorm.DB) *QuotaLimiter {
	return &QuotaLimiter{
		DB:      db,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Reservation represents one claimed send slot. Release returns the slot
// if the send never happened.
type Reservation struct {
	db        *gorm.DB
	accountID uint
	released  bool
	mu        sync.Mutex
}

// Release rolls back the daily counter increment. Safe to call once; a
// reservation consumed by a successful send must not be released.
func (r *Reservation) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.released = true

	err := r.db.Model(&models.EmailAccount{}).
		Where("id = ? AND emails_sent_today > 0", r.accountID).
		Update("emails_sent_today", gorm.Expr("emails_sent_today - 1")).Error
	if err != nil {
		LogError(err, "failed to release quota reservation", map[string]interface{}{
			"account_id": r.accountID,
		})
	}
}

// TryReserve claims one send slot for the account, or returns a
// *QuotaExceededError telling the caller when to retry. dailyCap is the
// effective cap for this email type (the account limit for campaign mail,
// the ramp target for warmup mail); perHour <= 0 disables the hourly
// throttle.
func (l *QuotaLimiter) TryReserve(ctx context.Context, account *models.EmailAccount, emailType string, dailyCap, perHour int) (*Reservation, error) {
	if err := l.rolloverIfNeeded(ctx, account); err != nil {
		return nil, err
	}

	var hourly *rate.Reservation
	if perHour > 0 {
		bucket := l.bucket(account.ID, emailType, perHour)
		hourly = bucket.Reserve()
		if delay := hourly.Delay(); delay > 0 {
			hourly.Cancel()
			return nil, &QuotaExceededError{Scope: "hourly", RetryAfter: delay}
		}
	}

	res := l.DB.WithContext(ctx).Model(&models.EmailAccount{}).
		Where("id = ? AND emails_sent_today < ?", account.ID, dailyCap).
		Update("emails_sent_today", gorm.Expr("emails_sent_today + 1"))
	if res.Error != nil {
		if hourly != nil {
			hourly.Cancel()
		}
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if hourly != nil {
			hourly.Cancel()
		}
		return nil, &QuotaExceededError{Scope: "daily", RetryAfter: untilNextLocalMidnight(account, time.Now())}
	}

	return &Reservation{db: l.DB, accountID: account.ID}, nil
}

// rolloverIfNeeded zeroes the daily counter when the account-local
// calendar day has changed since the last reset. The reset is lazy and
// decided entirely in SQL against the stored last_reset_date: callers
// may share one account struct across goroutines, so the limiter never
// reads or writes its mutable fields.
func (l *QuotaLimiter) rolloverIfNeeded(ctx context.Context, account *models.EmailAccount) error {
	local := time.Now().In(account.Location())
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())

	return l.DB.WithContext(ctx).Model(&models.EmailAccount{}).
		Where("id = ? AND (last_reset_date IS NULL OR last_reset_date < ?)", account.ID, dayStart).
		Updates(map[string]interface{}{
			"emails_sent_today": 0,
			"last_reset_date":   time.Now(),
		}).Error
}

func (l *QuotaLimiter) bucket(accountID uint, emailType string, perHour int) *rate.Limiter {
	key := fmt.Sprintf("%d:%s", accountID, emailType)

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	limit := rate.Every(time.Hour / time.Duration(perHour))
	if !ok {
		bucket = rate.NewLimiter(limit, perHour)
		l.buckets[key] = bucket
		return bucket
	}
	// Settings can change between ticks; keep the bucket in step.
	if bucket.Limit() != limit {
		bucket.SetLimit(limit)
		bucket.SetBurst(perHour)
	}
	return bucket
}

func untilNextLocalMidnight(account *models.EmailAccount, now time.Time) time.Duration {
	loc := account.Location()
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	return midnight.Sub(local)
}
