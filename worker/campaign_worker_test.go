package worker

import (
	"context"
	"testing"
	"time"

	"coldrelay/models"
	"coldrelay/utils"
)

func newCampaignFixture(t *testing.T) (*CampaignWorker, *stubTransport, *fixtureEnv) {
	t.Helper()
	db := newTestDB(t)
	transport := &stubTransport{byMailbox: map[string][]utils.InboundMessage{}}
	dispatcher := utils.NewDispatcher(db, transport, utils.NewQuotaLimiter(db), 30, "https://track.example.com")
	worker := NewCampaignWorker(db, dispatcher, time.Minute)

	account := &models.EmailAccount{
		UserID: 1, Email: "sender@example.com", Provider: "smtp",
		DailyLimit: 50, Timezone: "UTC", Reputation: 100, IsActive: true,
	}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("create account: %v", err)
	}

	campaign := &models.Campaign{
		UserID: 1, Name: "launch", Status: models.CampaignActive,
		EmailAccountIDs: []uint{account.ID},
		Sequence: []models.SequenceStep{
			{StepNumber: 1, Subject: "Hi {{first_name}}", Content: "<p>Intro</p>", IsActive: true},
			{StepNumber: 2, Subject: "Following up", Content: "<p>Bump</p>", DelayDays: 3, IsActive: true},
		},
	}
	if err := db.Create(campaign).Error; err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	return worker, transport, &fixtureEnv{worker: worker, account: account, campaign: campaign}
}

type fixtureEnv struct {
	worker   *CampaignWorker
	account  *models.EmailAccount
	campaign *models.Campaign
}

func (f *fixtureEnv) enroll(t *testing.T, lead *models.Lead) *models.CampaignLead {
	t.Helper()
	db := f.worker.DB
	if err := db.Create(lead).Error; err != nil {
		t.Fatalf("create lead: %v", err)
	}
	state := &models.CampaignLead{CampaignID: f.campaign.ID, LeadID: lead.ID}
	if err := db.Create(state).Error; err != nil {
		t.Fatalf("create campaign lead: %v", err)
	}
	return state
}

func TestProcessCampaignSendsFirstStep(t *testing.T) {
	worker, _, env := newCampaignFixture(t)
	lead := &models.Lead{UserID: 1, Email: "lead@target.com", FirstName: "Ada", Status: models.LeadNew}
	state := env.enroll(t, lead)

	worker.processCampaign(context.Background(), env.campaign)

	var stored models.CampaignLead
	worker.DB.First(&stored, state.ID)
	if stored.CurrentStep != 1 {
		t.Errorf("current_step = %d, want 1", stored.CurrentStep)
	}
	if stored.LastStepSentAt == nil {
		t.Error("last_step_sent_at not set")
	}

	var log models.EmailLog
	if err := worker.DB.Where("lead_id = ?", lead.ID).First(&log).Error; err != nil {
		t.Fatalf("email log not written: %v", err)
	}
	if log.Subject != "Hi Ada" {
		t.Errorf("subject = %q, template not rendered", log.Subject)
	}
	if log.StepNumber != 1 {
		t.Errorf("step_number = %d, want 1", log.StepNumber)
	}

	var storedLead models.Lead
	worker.DB.First(&storedLead, lead.ID)
	if storedLead.Status != models.LeadContacted {
		t.Errorf("lead status = %q, want contacted", storedLead.Status)
	}

	// Step 2 has a three day delay; an immediate second tick must not send.
	worker.processCampaign(context.Background(), env.campaign)
	var sends int64
	worker.DB.Model(&models.EmailLog{}).Where("lead_id = ?", lead.ID).Count(&sends)
	if sends != 1 {
		t.Errorf("sends = %d after second tick, want 1", sends)
	}
}

func TestProcessCampaignSkipsTerminalLeads(t *testing.T) {
	worker, _, env := newCampaignFixture(t)
	bounced := &models.Lead{UserID: 1, Email: "gone@target.com", Status: models.LeadBounced}
	unsubbed := &models.Lead{UserID: 1, Email: "out@target.com", Status: models.LeadUnsubscribed}
	bouncedState := env.enroll(t, bounced)
	unsubbedState := env.enroll(t, unsubbed)

	worker.processCampaign(context.Background(), env.campaign)

	var sends int64
	worker.DB.Model(&models.EmailLog{}).Count(&sends)
	if sends != 0 {
		t.Fatalf("sends = %d to terminal leads, want 0", sends)
	}

	var stored models.CampaignLead
	worker.DB.First(&stored, bouncedState.ID)
	if !stored.Exited || stored.ExitReason != models.ExitBounced {
		t.Errorf("bounced lead state = %+v, want exited as bounced", stored)
	}
	stored = models.CampaignLead{}
	worker.DB.First(&stored, unsubbedState.ID)
	if !stored.Exited || stored.ExitReason != models.ExitUnsubscribed {
		t.Errorf("unsubscribed lead state = %+v, want exited as unsubscribed", stored)
	}
}

func TestProcessCampaignExhaustedSequenceFinishesLead(t *testing.T) {
	worker, _, env := newCampaignFixture(t)
	lead := &models.Lead{UserID: 1, Email: "done@target.com", Status: models.LeadContacted}
	state := env.enroll(t, lead)

	past := time.Now().Add(-30 * 24 * time.Hour)
	worker.DB.Model(state).Updates(map[string]interface{}{
		"current_step":      2,
		"last_step_sent_at": past,
	})

	worker.processCampaign(context.Background(), env.campaign)

	var stored models.CampaignLead
	worker.DB.First(&stored, state.ID)
	if !stored.Exited || stored.ExitReason != models.ExitFinished {
		t.Errorf("state = %+v, want exited as finished", stored)
	}

	// Next tick sees no live leads and completes the campaign.
	worker.processCampaign(context.Background(), env.campaign)
	var storedCampaign models.Campaign
	worker.DB.First(&storedCampaign, env.campaign.ID)
	if storedCampaign.Status != models.CampaignCompleted {
		t.Errorf("campaign status = %q, want completed", storedCampaign.Status)
	}
	if storedCampaign.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestProcessCampaignLatchesConditionSkips(t *testing.T) {
	worker, _, env := newCampaignFixture(t)
	env.campaign.Sequence = []models.SequenceStep{
		{StepNumber: 1, Subject: "Intro", Content: "<p>Hi</p>", IsActive: true},
		{StepNumber: 2, Subject: "Opened follow-up", Content: "<p>Saw you open</p>", DelayDays: 1, IsActive: true,
			Conditions: models.StepConditions{IfOpened: true}},
		{StepNumber: 3, Subject: "Breakup", Content: "<p>Bye</p>", DelayDays: 5, IsActive: true},
	}
	if err := worker.DB.Save(env.campaign).Error; err != nil {
		t.Fatalf("save campaign: %v", err)
	}

	lead := &models.Lead{UserID: 1, Email: "lead@target.com", Status: models.LeadNew}
	state := env.enroll(t, lead)

	worker.processCampaign(context.Background(), env.campaign)

	// Step 2 comes due without an open: the skip must stick.
	past := time.Now().Add(-2 * 24 * time.Hour)
	worker.DB.Model(state).Update("last_step_sent_at", past)
	worker.processCampaign(context.Background(), env.campaign)

	var stored models.CampaignLead
	worker.DB.First(&stored, state.ID)
	if stored.CurrentStep != 2 {
		t.Fatalf("current_step = %d, want 2 after the skip is latched", stored.CurrentStep)
	}

	// A late open must not resurrect the skipped step.
	worker.DB.Model(state).Update("opened_since_step", true)
	worker.processCampaign(context.Background(), env.campaign)

	var sends int64
	worker.DB.Model(&models.EmailLog{}).Where("lead_id = ?", lead.ID).Count(&sends)
	if sends != 1 {
		t.Errorf("sends = %d, want only the intro", sends)
	}
	worker.DB.First(&stored, state.ID)
	if stored.Exited {
		t.Errorf("lead exited early: %+v", stored)
	}
}

func TestProcessCampaignStallsWhenAccountQuotaExhausted(t *testing.T) {
	worker, _, env := newCampaignFixture(t)
	worker.DB.Model(env.account).Updates(map[string]interface{}{
		"daily_limit":       1,
		"emails_sent_today": 1,
		"last_reset_date":   time.Now(),
	})

	first := &models.Lead{UserID: 1, Email: "a@target.com", Status: models.LeadNew}
	second := &models.Lead{UserID: 1, Email: "b@target.com", Status: models.LeadNew}
	env.enroll(t, first)
	env.enroll(t, second)

	worker.processCampaign(context.Background(), env.campaign)

	var sends int64
	worker.DB.Model(&models.EmailLog{}).Where("status = ?", models.EmailSent).Count(&sends)
	if sends != 0 {
		t.Errorf("sends = %d with exhausted quota, want 0", sends)
	}
}
