package worker

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"coldrelay/models"
	"coldrelay/utils"
)

// leadBatchSize bounds how many sequence states one tick examines per
// campaign.
const leadBatchSize = 100

// CampaignWorker drives active campaigns: each tick it finds leads whose
// next step is due, renders the step and pushes it through the
// dispatcher, then advances the per-lead sequence state.
type CampaignWorker struct {
	DB         *gorm.DB
	Dispatcher *utils.Dispatcher
	Interval   time.Duration
}

func NewCampaignWorker(db *gorm.DB, dispatcher *utils.Dispatcher, interval time.Duration) *CampaignWorker {
	return &CampaignWorker{DB: db, Dispatcher: dispatcher, Interval: interval}
}

func (cw *CampaignWorker) Start(ctx context.Context) {
	utils.LogEvent("campaign worker started", nil)
	ticker := time.NewTicker(cw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			utils.LogEvent("campaign worker shutting down", nil)
			return
		case <-ticker.C:
			cw.processActiveCampaigns(ctx)
		}
	}
}

func (cw *CampaignWorker) processActiveCampaigns(ctx context.Context) {
	var campaigns []models.Campaign
	if err := cw.DB.Where("status = ?", models.CampaignActive).Find(&campaigns).Error; err != nil {
		utils.LogError(err, "failed to load active campaigns", nil)
		return
	}

	for i := range campaigns {
		if ctx.Err() != nil {
			return
		}
		cw.processCampaign(ctx, &campaigns[i])
	}
}

func (cw *CampaignWorker) processCampaign(ctx context.Context, campaign *models.Campaign) {
	window := utils.CampaignWindow(campaign.Settings.SendingSchedule)
	if !window.IsWithinWindow(time.Now()) {
		return
	}

	accounts, err := cw.sendingAccounts(ctx, campaign)
	if err != nil {
		utils.LogError(err, "failed to load campaign accounts", map[string]interface{}{"campaign_id": campaign.ID})
		return
	}
	if len(accounts) == 0 {
		utils.LogWarn("campaign has no usable sending accounts", map[string]interface{}{"campaign_id": campaign.ID})
		return
	}

	var states []models.CampaignLead
	err = cw.DB.WithContext(ctx).
		Where("campaign_id = ? AND exited = ?", campaign.ID, false).
		Limit(leadBatchSize).
		Find(&states).Error
	if err != nil {
		utils.LogError(err, "failed to load campaign leads", map[string]interface{}{"campaign_id": campaign.ID})
		return
	}

	if len(states) == 0 {
		cw.maybeComplete(ctx, campaign)
		return
	}

	for i := range states {
		if ctx.Err() != nil {
			return
		}
		account := &accounts[int(states[i].LeadID)%len(accounts)]
		if err := cw.processLead(ctx, campaign, account, &states[i], window); err != nil {
			// Window or quota denials stall the whole campaign tick;
			// everything else is per-lead.
			if errors.Is(err, utils.ErrOutsideSchedule) {
				return
			}
			if _, ok := utils.IsQuotaExceeded(err); ok {
				return
			}
		}
	}
}

func (cw *CampaignWorker) sendingAccounts(ctx context.Context, campaign *models.Campaign) ([]models.EmailAccount, error) {
	if len(campaign.EmailAccountIDs) == 0 {
		return nil, nil
	}
	var accounts []models.EmailAccount
	err := cw.DB.WithContext(ctx).
		Where("id IN ? AND is_active = ?", campaign.EmailAccountIDs, true).
		Find(&accounts).Error
	return accounts, err
}

func (cw *CampaignWorker) processLead(ctx context.Context, campaign *models.Campaign, account *models.EmailAccount, state *models.CampaignLead, window utils.ScheduleConfig) error {
	var lead models.Lead
	if err := cw.DB.WithContext(ctx).First(&lead, state.LeadID).Error; err != nil {
		utils.LogError(err, "campaign lead row without lead", map[string]interface{}{
			"campaign_id": campaign.ID,
			"lead_id":     state.LeadID,
		})
		return nil
	}

	if lead.IsTerminal() {
		reason := models.ExitBounced
		if lead.Status == models.LeadUnsubscribed {
			reason = models.ExitUnsubscribed
		}
		return cw.exitLead(ctx, state, reason)
	}

	step, skippedThrough, finished := utils.NextEligibleStep(campaign.Sequence, state, time.Now())
	if skippedThrough > state.CurrentStep {
		// Condition-failed steps are behind the lead for good, even if
		// engagement shows up before the next step is due.
		if err := cw.DB.WithContext(ctx).Model(state).Update("current_step", skippedThrough).Error; err != nil {
			return err
		}
		state.CurrentStep = skippedThrough
	}
	if finished {
		return cw.exitLead(ctx, state, models.ExitFinished)
	}
	if step == nil {
		return nil
	}

	throttle := campaign.Settings.Throttling
	log, err := cw.Dispatcher.Send(ctx, utils.DispatchRequest{
		Account:        account,
		Campaign:       campaign,
		Lead:           &lead,
		ToEmail:        lead.Email,
		ToName:         lead.FirstName,
		Type:           models.EmailTypeCampaign,
		StepNumber:     step.StepNumber,
		Subject:        utils.RenderTemplate(step.Subject, &lead),
		HTMLBody:       utils.RenderTemplate(step.Content, &lead),
		Window:         window,
		DailyCap:       account.DailyLimit,
		PerHour:        throttle.EmailsPerHour,
		DelaySeconds:   throttle.DelayBetweenEmails,
		RandomizeDelay: throttle.RandomizeDelay,
		TrackOpens:     campaign.Settings.Tracking.OpenTracking,
		TrackClicks:    campaign.Settings.Tracking.ClickTracking,
	})
	if err != nil {
		return err
	}

	return cw.advanceLead(ctx, state, &lead, step, log)
}

// advanceLead moves the sequence pointer and resets the since-step
// engagement flags in one transaction with the lead status update.
func (cw *CampaignWorker) advanceLead(ctx context.Context, state *models.CampaignLead, lead *models.Lead, step *models.SequenceStep, log *models.EmailLog) error {
	now := time.Now()
	return cw.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(state).Updates(map[string]interface{}{
			"current_step":       step.StepNumber,
			"last_step_sent_at":  now,
			"opened_since_step":  false,
			"clicked_since_step": false,
			"replied_since_step": false,
		}).Error
		if err != nil {
			return err
		}

		updates := map[string]interface{}{"last_contacted_at": now}
		if lead.AdvanceStatus(models.LeadContacted) {
			updates["status"] = lead.Status
		}
		return tx.Model(lead).Updates(updates).Error
	})
}

func (cw *CampaignWorker) exitLead(ctx context.Context, state *models.CampaignLead, reason string) error {
	return cw.DB.WithContext(ctx).Model(state).Updates(map[string]interface{}{
		"exited":      true,
		"exit_reason": reason,
	}).Error
}

// maybeComplete flips a campaign to completed once every lead has exited.
func (cw *CampaignWorker) maybeComplete(ctx context.Context, campaign *models.Campaign) {
	var remaining int64
	err := cw.DB.WithContext(ctx).Model(&models.CampaignLead{}).
		Where("campaign_id = ? AND exited = ?", campaign.ID, false).
		Count(&remaining).Error
	if err != nil || remaining > 0 {
		return
	}

	var total int64
	if err := cw.DB.WithContext(ctx).Model(&models.CampaignLead{}).
		Where("campaign_id = ?", campaign.ID).Count(&total).Error; err != nil || total == 0 {
		return
	}

	err = cw.DB.Model(campaign).Updates(map[string]interface{}{
		"status":       models.CampaignCompleted,
		"completed_at": time.Now(),
	}).Error
	if err != nil {
		utils.LogError(err, "failed to complete campaign", map[string]interface{}{"campaign_id": campaign.ID})
		return
	}
	utils.LogEvent("campaign completed", map[string]interface{}{"campaign_id": campaign.ID})
}
