package worker

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"coldrelay/models"
	"coldrelay/utils"
)

// spamPauseThreshold is the trailing spam rate at which warmup is
// paused automatically.
const spamPauseThreshold = 0.10

// warmupBatchSize caps how many warmup emails one tick sends per
// account; the remainder rolls over to later ticks so sends spread
// across the window.
const warmupBatchSize = 3

// WarmupWorker advances every in-progress warmup: it ramps the daily
// volume, sends synthetic conversation emails between owned accounts,
// refreshes reputation scores and pauses accounts that hit spam folders.
type WarmupWorker struct {
	DB         *gorm.DB
	Dispatcher *utils.Dispatcher
	Scorer     *utils.WeightedScorer
	Interval   time.Duration
}

func NewWarmupWorker(db *gorm.DB, dispatcher *utils.Dispatcher, scorer *utils.WeightedScorer, interval time.Duration) *WarmupWorker {
	return &WarmupWorker{
		DB:         db,
		Dispatcher: dispatcher,
		Scorer:     scorer,
		Interval:   interval,
	}
}

func (ww *WarmupWorker) Start(ctx context.Context) {
	utils.LogEvent("warmup worker started", nil)
	ticker := time.NewTicker(ww.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			utils.LogEvent("warmup worker shutting down", nil)
			return
		case <-ticker.C:
			ww.processActiveWarmups(ctx)
		}
	}
}

func (ww *WarmupWorker) processActiveWarmups(ctx context.Context) {
	var accounts []models.EmailAccount
	err := ww.DB.Where("warmup_status = ? AND is_active = ?", models.WarmupInProgress, true).
		Find(&accounts).Error
	if err != nil {
		utils.LogError(err, "failed to load warmup accounts", nil)
		return
	}

	for i := range accounts {
		if ctx.Err() != nil {
			return
		}
		ww.processAccount(ctx, &accounts[i])
	}
}

func (ww *WarmupWorker) processAccount(ctx context.Context, account *models.EmailAccount) {
	settings := account.WarmupSettings
	settings.Sanitize()
	now := time.Now()

	if utils.WarmupCompleted(settings, now) {
		ww.setStatus(account, models.WarmupCompleted)
		utils.LogEvent("warmup completed", map[string]interface{}{"account_id": account.ID})
		return
	}

	ww.refreshReputation(ctx, account)

	spamRate, err := ww.Scorer.SpamRate(ctx, account.ID)
	if err != nil {
		utils.LogError(err, "failed to compute spam rate", map[string]interface{}{"account_id": account.ID})
		return
	}
	if spamRate > spamPauseThreshold {
		ww.setStatus(account, models.WarmupPaused)
		utils.LogWarn("warmup auto-paused on spam rate", map[string]interface{}{
			"account_id": account.ID,
			"spam_rate":  spamRate,
		})
		return
	}

	target := utils.WarmupDailyTarget(settings, now)
	if target <= 0 {
		return
	}

	sentToday, err := ww.sentToday(ctx, account, now)
	if err != nil {
		utils.LogError(err, "failed to count warmup sends", map[string]interface{}{"account_id": account.ID})
		return
	}

	remaining := target - int(sentToday)
	if remaining <= 0 {
		return
	}
	if remaining > warmupBatchSize {
		remaining = warmupBatchSize
	}

	peers, err := ww.peerAccounts(ctx, account)
	if err != nil || len(peers) == 0 {
		return
	}

	dailyCap := target
	if account.DailyLimit < dailyCap {
		dailyCap = account.DailyLimit
	}

	for i := 0; i < remaining; i++ {
		peer := &peers[i%len(peers)]
		if err := ww.sendWarmupEmail(ctx, account, peer, settings, dailyCap); err != nil {
			if errors.Is(err, utils.ErrOutsideSchedule) {
				return
			}
			if _, ok := utils.IsQuotaExceeded(err); ok {
				return
			}
			utils.LogError(err, "warmup send failed", map[string]interface{}{
				"from_account_id": account.ID,
				"to_account_id":   peer.ID,
			})
		}
	}
}

func (ww *WarmupWorker) refreshReputation(ctx context.Context, account *models.EmailAccount) {
	score, err := ww.Scorer.Recompute(ctx, account.ID)
	if err != nil {
		utils.LogError(err, "failed to recompute reputation", map[string]interface{}{"account_id": account.ID})
		return
	}
	if score == account.Reputation {
		return
	}
	if err := ww.DB.Model(account).Update("reputation", score).Error; err != nil {
		utils.LogError(err, "failed to store reputation", map[string]interface{}{"account_id": account.ID})
		return
	}
	account.Reputation = score
}

func (ww *WarmupWorker) sentToday(ctx context.Context, account *models.EmailAccount, now time.Time) (int64, error) {
	local := now.In(account.Location())
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, account.Location())

	var count int64
	err := ww.DB.WithContext(ctx).Model(&models.WarmupEmail{}).
		Where("from_account_id = ? AND sent_at >= ?", account.ID, midnight).
		Count(&count).Error
	return count, err
}

// peerAccounts returns the other active warmup mailboxes this account can
// converse with.
func (ww *WarmupWorker) peerAccounts(ctx context.Context, account *models.EmailAccount) ([]models.EmailAccount, error) {
	var peers []models.EmailAccount
	err := ww.DB.WithContext(ctx).
		Where("id <> ? AND is_active = ? AND warmup_status IN ?", account.ID, true,
			[]string{models.WarmupInProgress, models.WarmupCompleted}).
		Find(&peers).Error
	return peers, err
}

func (ww *WarmupWorker) sendWarmupEmail(ctx context.Context, from, to *models.EmailAccount, settings models.WarmupSettings, dailyCap int) error {
	subject, body := utils.BuildWarmupContent(to.Name, from.Name)
	threadID := utils.NewThreadID()

	warmup := &models.WarmupEmail{
		UserID:        from.UserID,
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		Subject:       subject,
		Content:       body,
		ThreadID:      threadID,
		Status:        models.WarmupEmailPending,
	}
	if err := ww.DB.WithContext(ctx).Create(warmup).Error; err != nil {
		return err
	}

	log, err := ww.Dispatcher.Send(ctx, utils.DispatchRequest{
		Account:  from,
		ToEmail:  to.Email,
		ToName:   to.Name,
		Type:     models.EmailTypeWarmup,
		Subject:  subject,
		TextBody: body,
		Headers:  map[string]string{utils.WarmupHeader: threadID},
		Window:   utils.WarmupWindow(settings),
		DailyCap: dailyCap,
		PerHour:  settings.ThrottleRate,
	})
	if err != nil {
		ww.DB.Model(warmup).Update("status", models.WarmupEmailFailed)
		return err
	}

	return ww.DB.Model(warmup).Updates(map[string]interface{}{
		"status":     models.WarmupEmailSent,
		"message_id": log.MessageID,
		"sent_at":    time.Now(),
	}).Error
}

func (ww *WarmupWorker) setStatus(account *models.EmailAccount, status string) {
	if err := ww.DB.Model(account).Update("warmup_status", status).Error; err != nil {
		utils.LogError(err, "failed to update warmup status", map[string]interface{}{
			"account_id": account.ID,
			"status":     status,
		})
		return
	}
	account.WarmupStatus = status
}
