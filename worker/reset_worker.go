package worker

import (
	"context"
	"time"

	"gorm.io/gorm"

	"coldrelay/models"
	"coldrelay/utils"
)

// ResetWorker sweeps the daily send counters back to zero once each
// account's local midnight passes. The quota limiter also resets lazily
// on first use; this sweep keeps idle accounts' dashboards honest.
type ResetWorker struct {
	DB       *gorm.DB
	Interval time.Duration
}

func NewResetWorker(db *gorm.DB) *ResetWorker {
	return &ResetWorker{DB: db, Interval: time.Hour}
}

func (rw *ResetWorker) Start(ctx context.Context) {
	utils.LogEvent("reset worker started", nil)
	ticker := time.NewTicker(rw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			utils.LogEvent("reset worker shutting down", nil)
			return
		case <-ticker.C:
			rw.resetStaleCounters(ctx)
		}
	}
}

func (rw *ResetWorker) resetStaleCounters(ctx context.Context) {
	var accounts []models.EmailAccount
	err := rw.DB.WithContext(ctx).
		Where("is_active = ? AND emails_sent_today > 0", true).
		Find(&accounts).Error
	if err != nil {
		utils.LogError(err, "failed to load accounts for counter reset", nil)
		return
	}

	now := time.Now()
	reset := 0
	for i := range accounts {
		account := &accounts[i]
		if account.LastResetDate != nil {
			last := account.LastResetDate.In(account.Location())
			local := now.In(account.Location())
			if last.Year() == local.Year() && last.YearDay() == local.YearDay() {
				continue
			}
		}

		err := rw.DB.Model(account).Updates(map[string]interface{}{
			"emails_sent_today": 0,
			"last_reset_date":   now,
		}).Error
		if err != nil {
			utils.LogError(err, "failed to reset daily counter", map[string]interface{}{"account_id": account.ID})
			continue
		}
		reset++
	}

	if reset > 0 {
		utils.LogEvent("daily counters reset", map[string]interface{}{"accounts": reset})
	}
}
