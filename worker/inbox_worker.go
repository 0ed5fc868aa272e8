package worker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"gorm.io/gorm"

	"coldrelay/models"
	"coldrelay/observability"
	"coldrelay/utils"
)

// InboxWorker reconciles each account's mailbox against the engine's
// state: it pulls new messages over IMAP, classifies them and applies
// the bounce, reply and warmup side effects. One sync per account at a
// time; the sync_status column is the lock.
type InboxWorker struct {
	DB         *gorm.DB
	Transport  utils.MailTransport
	Classifier *utils.Classifier
	Dispatcher *utils.Dispatcher
	Interval   time.Duration

	// pending auto-replies waiting out their human-like delay
	replies sync.WaitGroup
}

func NewInboxWorker(db *gorm.DB, transport utils.MailTransport, classifier *utils.Classifier, dispatcher *utils.Dispatcher, interval time.Duration) *InboxWorker {
	return &InboxWorker{
		DB:         db,
		Transport:  transport,
		Classifier: classifier,
		Dispatcher: dispatcher,
		Interval:   interval,
	}
}

func (iw *InboxWorker) Start(ctx context.Context) {
	utils.LogEvent("inbox worker started", nil)
	ticker := time.NewTicker(iw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			utils.LogEvent("inbox worker shutting down", nil)
			iw.replies.Wait()
			return
		case <-ticker.C:
			iw.syncAllAccounts(ctx)
		}
	}
}

func (iw *InboxWorker) syncAllAccounts(ctx context.Context) {
	var accounts []models.EmailAccount
	err := iw.DB.Where("is_active = ? AND (imap_host <> '' OR provider IN ?)", true,
		[]string{"gmail", "outlook"}).
		Find(&accounts).Error
	if err != nil {
		utils.LogError(err, "failed to load accounts for inbox sync", nil)
		return
	}

	for i := range accounts {
		if ctx.Err() != nil {
			return
		}
		if err := iw.SyncAccount(ctx, &accounts[i]); err != nil && !errors.Is(err, utils.ErrAlreadySyncing) {
			utils.LogError(err, "inbox sync failed", map[string]interface{}{"account_id": accounts[i].ID})
		}
	}
}

// SyncAccount runs one reconciliation pass for the account. Returns
// ErrAlreadySyncing when another pass holds the lock.
func (iw *InboxWorker) SyncAccount(ctx context.Context, account *models.EmailAccount) error {
	state, err := iw.acquire(ctx, account)
	if err != nil {
		return err
	}

	syncErr := iw.run(ctx, account, state)
	iw.release(account, state, syncErr)
	return syncErr
}

// acquire takes the per-account sync slot via a conditional update on
// sync_status. Exactly one caller wins.
func (iw *InboxWorker) acquire(ctx context.Context, account *models.EmailAccount) (*models.InboxSync, error) {
	var state models.InboxSync
	err := iw.DB.WithContext(ctx).
		Where(models.InboxSync{EmailAccountID: account.ID}).
		Attrs(models.InboxSync{UserID: account.UserID, SyncStatus: models.SyncIdle}).
		FirstOrCreate(&state).Error
	if err != nil {
		return nil, err
	}

	res := iw.DB.WithContext(ctx).Model(&models.InboxSync{}).
		Where("email_account_id = ? AND sync_status <> ?", account.ID, models.SyncSyncing).
		Update("sync_status", models.SyncSyncing)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, utils.ErrAlreadySyncing
	}
	state.SyncStatus = models.SyncSyncing
	return &state, nil
}

func (iw *InboxWorker) release(account *models.EmailAccount, state *models.InboxSync, syncErr error) {
	updates := map[string]interface{}{
		"sync_status":   models.SyncIdle,
		"last_sync_at":  time.Now(),
		"error_message": "",
	}
	if syncErr != nil {
		updates["sync_status"] = models.SyncError
		updates["error_message"] = syncErr.Error()
	}
	if err := iw.DB.Model(state).Updates(updates).Error; err != nil {
		utils.LogError(err, "failed to release inbox sync", map[string]interface{}{"account_id": account.ID})
	}
	if syncErr == nil {
		iw.DB.Model(account).Update("last_sync_at", time.Now())
	}
}

func (iw *InboxWorker) run(ctx context.Context, account *models.EmailAccount, state *models.InboxSync) error {
	if err := iw.syncMailbox(ctx, account, state, utils.MailboxInbox); err != nil {
		return err
	}
	// Spam placements matter for warmup scoring, so the junk folder is
	// part of the pass. Failures there are non-fatal: not every
	// provider exposes it over IMAP.
	if err := iw.syncMailbox(ctx, account, state, utils.SpamMailbox(account.Provider)); err != nil {
		utils.LogWarn("spam folder sync failed", map[string]interface{}{
			"account_id": account.ID,
			"error":      err.Error(),
		})
	}
	return nil
}

func (iw *InboxWorker) syncMailbox(ctx context.Context, account *models.EmailAccount, state *models.InboxSync, mailbox string) error {
	cursor := state.LastUID
	if mailbox != utils.MailboxInbox {
		cursor = state.SpamLastUID
	}

	messages, err := iw.Transport.FetchSince(ctx, account, mailbox, cursor)
	if err != nil {
		return err
	}

	maxUID := cursor
	processed := 0
	for i := range messages {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := messages[i]
		if err := iw.processMessage(ctx, account, state, msg); err != nil {
			utils.LogError(err, "failed to process inbound message", map[string]interface{}{
				"account_id": account.ID,
				"uid":        msg.UID,
			})
			// The cursor only moves past messages that were actually
			// handled; a failed one is retried next pass.
			break
		}
		processed++
		if msg.UID > maxUID {
			maxUID = msg.UID
		}
	}

	if maxUID == cursor && processed == 0 {
		return nil
	}

	column := "last_uid"
	if mailbox != utils.MailboxInbox {
		column = "spam_last_uid"
		state.SpamLastUID = maxUID
	} else {
		state.LastUID = maxUID
	}
	return iw.DB.Model(state).Updates(map[string]interface{}{
		column:             maxUID,
		"emails_processed": gorm.Expr("emails_processed + ?", processed),
	}).Error
}

func (iw *InboxWorker) processMessage(ctx context.Context, account *models.EmailAccount, state *models.InboxSync, msg utils.InboundMessage) error {
	cls, err := iw.Classifier.Classify(ctx, account, msg)
	if err != nil {
		return err
	}
	observability.InboxMessagesClassified.WithLabelValues(cls.Kind).Inc()

	stored := &models.InboxMessage{
		UserID:         account.UserID,
		EmailAccountID: account.ID,
		Mailbox:        msg.Mailbox,
		UID:            msg.UID,
		MessageID:      msg.MessageID,
		FromName:       msg.FromName,
		FromEmail:      msg.FromEmail,
		To:             msg.To,
		Subject:        msg.Subject,
		Body:           msg.TextBody,
		BodyHTML:       msg.HTMLBody,
		Classification: cls.Kind,
		ReceivedAt:     msg.Date,
	}
	if cls.WarmupEmail != nil {
		stored.ThreadID = cls.WarmupEmail.ThreadID
	}
	// A message that failed mid-apply is fetched again next pass; the
	// stored row from the first attempt must not duplicate.
	err = iw.DB.WithContext(ctx).
		Where("email_account_id = ? AND mailbox = ? AND uid = ?", account.ID, msg.Mailbox, msg.UID).
		FirstOrCreate(stored).Error
	if err != nil {
		return err
	}

	switch cls.Kind {
	case models.InboundBounce:
		return iw.applyBounce(ctx, account, state, cls)
	case models.InboundWarmup:
		return iw.applyWarmup(ctx, account, state, cls, msg)
	case models.InboundReply:
		return iw.applyReply(ctx, state, cls)
	default:
		return nil
	}
}

// applyBounce marks the originating send bounced and escalates the lead
// once its bounce count crosses the threshold.
func (iw *InboxWorker) applyBounce(ctx context.Context, account *models.EmailAccount, state *models.InboxSync, cls utils.Classification) error {
	log := cls.EmailLog
	if log == nil {
		return iw.DB.WithContext(ctx).Model(state).
			Update("bounces_found", gorm.Expr("bounces_found + 1")).Error
	}

	// The counter rides the transaction so a failed apply, retried on
	// the next pass, counts the bounce once.
	return iw.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(state).Update("bounces_found", gorm.Expr("bounces_found + 1")).Error; err != nil {
			return err
		}
		if log.Status != models.EmailBounced {
			err := tx.Model(log).Updates(map[string]interface{}{
				"status":     models.EmailBounced,
				"bounced_at": time.Now(),
			}).Error
			if err != nil {
				return err
			}
			if log.CampaignID != nil {
				if err := tx.Model(&models.Campaign{}).Where("id = ?", *log.CampaignID).
					Update("stats_bounced", gorm.Expr("stats_bounced + 1")).Error; err != nil {
					return err
				}
			}
		}

		if log.LeadID == nil {
			return nil
		}
		var lead models.Lead
		if err := tx.First(&lead, *log.LeadID).Error; err != nil {
			return err
		}
		lead.BounceCount++
		updates := map[string]interface{}{"bounce_count": lead.BounceCount}
		if lead.BounceCount >= models.BounceThreshold && lead.AdvanceStatus(models.LeadBounced) {
			updates["status"] = lead.Status
			err := tx.Model(&models.CampaignLead{}).
				Where("lead_id = ? AND exited = ?", lead.ID, false).
				Updates(map[string]interface{}{
					"exited":      true,
					"exit_reason": models.ExitBounced,
				}).Error
			if err != nil {
				return err
			}
		}
		return tx.Model(&lead).Updates(updates).Error
	})
}

// applyWarmup handles both directions of a warmup thread: a warmup
// email this account received (mark it opened, maybe auto-reply) and a
// reply to a warmup this account sent (mark it replied). Junk folder
// hits count as spam placements.
func (iw *InboxWorker) applyWarmup(ctx context.Context, account *models.EmailAccount, state *models.InboxSync, cls utils.Classification, msg utils.InboundMessage) error {
	warmup := cls.WarmupEmail

	if msg.Mailbox != utils.MailboxInbox {
		return iw.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(state).Update("spam_placements", gorm.Expr("spam_placements + 1")).Error; err != nil {
				return err
			}
			return tx.Model(warmup).Update("status", models.WarmupEmailSpam).Error
		})
	}

	if warmup.ToAccountID == account.ID && warmup.MessageID == msg.MessageID {
		// Fresh warmup email landed in our inbox.
		if warmup.Status == models.WarmupEmailSent {
			err := iw.DB.WithContext(ctx).Model(warmup).Updates(map[string]interface{}{
				"status":    models.WarmupEmailOpened,
				"opened_at": time.Now(),
			}).Error
			if err != nil {
				return err
			}
		}
		iw.maybeAutoReply(ctx, account, warmup, msg)
		return nil
	}

	if warmup.FromAccountID == account.ID {
		// A peer answered our warmup email.
		return iw.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(state).Update("replies_found", gorm.Expr("replies_found + 1")).Error; err != nil {
				return err
			}
			if warmup.Status == models.WarmupEmailReplied {
				return nil
			}
			return tx.Model(warmup).Updates(map[string]interface{}{
				"status":     models.WarmupEmailReplied,
				"replied_at": time.Now(),
			}).Error
		})
	}
	return nil
}

// maybeAutoReply continues the warmup conversation after a randomized
// human-like delay, respecting the thread length cap.
func (iw *InboxWorker) maybeAutoReply(ctx context.Context, account *models.EmailAccount, parent *models.WarmupEmail, msg utils.InboundMessage) {
	settings := account.WarmupSettings
	settings.Sanitize()
	if !settings.AutoReply || account.WarmupStatus != models.WarmupInProgress {
		return
	}

	var threadLen int64
	if err := iw.DB.Model(&models.WarmupEmail{}).
		Where("thread_id = ?", parent.ThreadID).
		Count(&threadLen).Error; err != nil || int(threadLen) >= settings.MaxThreadLength {
		return
	}

	var peer models.EmailAccount
	if err := iw.DB.First(&peer, parent.FromAccountID).Error; err != nil {
		return
	}

	delay := time.Duration(rand.Intn(settings.ReplyDelayMinutes)+1) * time.Minute
	iw.replies.Add(1)
	go func() {
		defer iw.replies.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		iw.sendWarmupReply(ctx, account, &peer, parent, msg, settings)
	}()
}

func (iw *InboxWorker) sendWarmupReply(ctx context.Context, account, peer *models.EmailAccount, parent *models.WarmupEmail, msg utils.InboundMessage, settings models.WarmupSettings) {
	subject, body := utils.BuildWarmupReply(msg.Subject, peer.Name, account.Name)

	// Replies are warmup volume and ride the same ramp cap as fresh
	// warmup sends.
	dailyCap := utils.WarmupDailyTarget(settings, time.Now())
	if account.DailyLimit < dailyCap {
		dailyCap = account.DailyLimit
	}
	if dailyCap <= 0 {
		return
	}

	reply := &models.WarmupEmail{
		UserID:        account.UserID,
		FromAccountID: account.ID,
		ToAccountID:   peer.ID,
		Subject:       subject,
		Content:       body,
		IsReply:       true,
		ParentEmailID: &parent.ID,
		ThreadID:      parent.ThreadID,
		Status:        models.WarmupEmailPending,
	}
	if err := iw.DB.Create(reply).Error; err != nil {
		utils.LogError(err, "failed to create warmup reply", map[string]interface{}{"account_id": account.ID})
		return
	}

	log, err := iw.Dispatcher.Send(ctx, utils.DispatchRequest{
		Account:    account,
		ToEmail:    peer.Email,
		ToName:     peer.Name,
		Type:       models.EmailTypeWarmup,
		Subject:    subject,
		TextBody:   body,
		InReplyTo:  msg.MessageID,
		References: append(msg.References, msg.MessageID),
		Headers:    map[string]string{utils.WarmupHeader: parent.ThreadID},
		Window:     utils.WarmupWindow(settings),
		DailyCap:   dailyCap,
		PerHour:    settings.ThrottleRate,
	})
	if err != nil {
		iw.DB.Model(reply).Update("status", models.WarmupEmailFailed)
		return
	}

	iw.DB.Model(reply).Updates(map[string]interface{}{
		"status":     models.WarmupEmailSent,
		"message_id": log.MessageID,
		"sent_at":    time.Now(),
	})
}

// applyReply marks the campaign send replied, advances the lead and
// pulls it out of the sequence.
func (iw *InboxWorker) applyReply(ctx context.Context, state *models.InboxSync, cls utils.Classification) error {
	log := cls.EmailLog
	return iw.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(state).Update("replies_found", gorm.Expr("replies_found + 1")).Error; err != nil {
			return err
		}
		if log.RepliedAt == nil {
			err := tx.Model(log).Updates(map[string]interface{}{
				"status":     models.EmailReplied,
				"replied_at": time.Now(),
			}).Error
			if err != nil {
				return err
			}
			if log.CampaignID != nil {
				if err := tx.Model(&models.Campaign{}).Where("id = ?", *log.CampaignID).
					Update("stats_replied", gorm.Expr("stats_replied + 1")).Error; err != nil {
					return err
				}
			}
		}

		if cls.Lead != nil {
			lead := cls.Lead
			if lead.AdvanceStatus(models.LeadReplied) {
				if err := tx.Model(lead).Update("status", lead.Status).Error; err != nil {
					return err
				}
			}
		}

		if log.CampaignID != nil && log.LeadID != nil {
			return tx.Model(&models.CampaignLead{}).
				Where("campaign_id = ? AND lead_id = ? AND exited = ?", *log.CampaignID, *log.LeadID, false).
				Updates(map[string]interface{}{
					"replied_since_step": true,
					"exited":             true,
					"exit_reason":        models.ExitReplied,
				}).Error
		}
		return nil
	})
}
