package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"coldrelay/models"
	"coldrelay/utils"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

type stubTransport struct {
	byMailbox map[string][]utils.InboundMessage
	fetchErr  error
}

func (s *stubTransport) Send(_ context.Context, account *models.EmailAccount, _ utils.OutboundMessage) (string, error) {
	return utils.NewMessageID(account.Email), nil
}

func (s *stubTransport) FetchSince(_ context.Context, _ *models.EmailAccount, mailbox string, sinceUID uint32) ([]utils.InboundMessage, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []utils.InboundMessage
	for _, m := range s.byMailbox[mailbox] {
		if m.UID > sinceUID {
			m.Mailbox = mailbox
			out = append(out, m)
		}
	}
	return out, nil
}

func newInboxFixture(t *testing.T) (*InboxWorker, *stubTransport, *gorm.DB, *models.EmailAccount) {
	t.Helper()
	db := newTestDB(t)
	transport := &stubTransport{byMailbox: map[string][]utils.InboundMessage{}}
	dispatcher := utils.NewDispatcher(db, transport, utils.NewQuotaLimiter(db), 30, "https://track.example.com")
	worker := NewInboxWorker(db, transport, utils.NewClassifier(db), dispatcher, time.Minute)

	account := &models.EmailAccount{
		UserID: 1, Email: "me@example.com", Provider: "smtp", IMAPHost: "imap.example.com",
		DailyLimit: 50, Timezone: "UTC", Reputation: 100, IsActive: true,
	}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("create account: %v", err)
	}
	return worker, transport, db, account
}

func TestSyncAccountAdvancesCursor(t *testing.T) {
	worker, transport, db, account := newInboxFixture(t)
	transport.byMailbox[utils.MailboxInbox] = []utils.InboundMessage{
		{UID: 5, MessageID: "<a@x>", FromEmail: "someone@x.com", Subject: "hi", Date: time.Now()},
		{UID: 7, MessageID: "<b@x>", FromEmail: "someone@x.com", Subject: "hi again", Date: time.Now()},
	}

	if err := worker.SyncAccount(context.Background(), account); err != nil {
		t.Fatalf("SyncAccount: %v", err)
	}

	var state models.InboxSync
	if err := db.Where("email_account_id = ?", account.ID).First(&state).Error; err != nil {
		t.Fatalf("load sync state: %v", err)
	}
	if state.LastUID != 7 {
		t.Errorf("last_uid = %d, want 7", state.LastUID)
	}
	if state.SyncStatus != models.SyncIdle {
		t.Errorf("sync_status = %q, want idle", state.SyncStatus)
	}
	if state.EmailsProcessed != 2 {
		t.Errorf("emails_processed = %d, want 2", state.EmailsProcessed)
	}

	var stored int64
	db.Model(&models.InboxMessage{}).Where("email_account_id = ?", account.ID).Count(&stored)
	if stored != 2 {
		t.Errorf("stored messages = %d, want 2", stored)
	}

	// Second pass sees nothing new and keeps the cursor.
	if err := worker.SyncAccount(context.Background(), account); err != nil {
		t.Fatalf("second SyncAccount: %v", err)
	}
	db.Where("email_account_id = ?", account.ID).First(&state)
	if state.LastUID != 7 {
		t.Errorf("cursor moved without new mail: %d", state.LastUID)
	}
}

func TestSyncAccountMutualExclusion(t *testing.T) {
	worker, _, db, account := newInboxFixture(t)

	db.Create(&models.InboxSync{
		UserID: account.UserID, EmailAccountID: account.ID,
		SyncStatus: models.SyncSyncing,
	})

	err := worker.SyncAccount(context.Background(), account)
	if !errors.Is(err, utils.ErrAlreadySyncing) {
		t.Fatalf("err = %v, want ErrAlreadySyncing", err)
	}
}

func TestSyncAccountRecordsErrorState(t *testing.T) {
	worker, transport, db, account := newInboxFixture(t)
	transport.fetchErr = errors.New("connection refused")

	if err := worker.SyncAccount(context.Background(), account); err == nil {
		t.Fatal("want fetch error")
	}

	var state models.InboxSync
	db.Where("email_account_id = ?", account.ID).First(&state)
	if state.SyncStatus != models.SyncError {
		t.Errorf("sync_status = %q, want error", state.SyncStatus)
	}
	if state.ErrorMessage == "" {
		t.Error("error message not recorded")
	}

	// The error state is retryable: clearing the fault lets the next
	// pass take the slot again.
	transport.fetchErr = nil
	if err := worker.SyncAccount(context.Background(), account); err != nil {
		t.Fatalf("retry after error: %v", err)
	}
	db.Where("email_account_id = ?", account.ID).First(&state)
	if state.SyncStatus != models.SyncIdle {
		t.Errorf("sync_status = %q, want idle after retry", state.SyncStatus)
	}
}

func TestSyncAccountBounceEscalation(t *testing.T) {
	worker, transport, db, account := newInboxFixture(t)

	lead := &models.Lead{UserID: 1, Email: "lead@target.com", Status: models.LeadContacted, BounceCount: 1}
	db.Create(lead)
	campaign := &models.Campaign{UserID: 1, Name: "launch", Status: models.CampaignActive}
	db.Create(campaign)
	db.Create(&models.CampaignLead{CampaignID: campaign.ID, LeadID: lead.ID, CurrentStep: 1})

	sentAt := time.Now()
	db.Create(&models.EmailLog{
		UserID: 1, EmailAccountID: account.ID, CampaignID: &campaign.ID, LeadID: &lead.ID,
		Type: models.EmailTypeCampaign, ToEmail: lead.Email,
		Status: models.EmailSent, SentAt: &sentAt, AttemptID: "B1",
	})

	transport.byMailbox[utils.MailboxInbox] = []utils.InboundMessage{{
		UID:       3,
		MessageID: "<bounce@mx>",
		FromEmail: "mailer-daemon@mx.example.com",
		Subject:   "Undeliverable",
		TextBody:  "failed: lead@target.com",
		Date:      time.Now(),
	}}

	if err := worker.SyncAccount(context.Background(), account); err != nil {
		t.Fatalf("SyncAccount: %v", err)
	}

	var storedLead models.Lead
	db.First(&storedLead, lead.ID)
	if storedLead.BounceCount != 2 {
		t.Errorf("bounce_count = %d, want 2", storedLead.BounceCount)
	}
	if storedLead.Status != models.LeadBounced {
		t.Errorf("lead status = %q, want bounced at the threshold", storedLead.Status)
	}

	var state models.CampaignLead
	db.Where("campaign_id = ? AND lead_id = ?", campaign.ID, lead.ID).First(&state)
	if !state.Exited || state.ExitReason != models.ExitBounced {
		t.Errorf("campaign lead = %+v, want exited with bounce reason", state)
	}

	var storedCampaign models.Campaign
	db.First(&storedCampaign, campaign.ID)
	if storedCampaign.Stats.Bounced != 1 {
		t.Errorf("stats_bounced = %d, want 1", storedCampaign.Stats.Bounced)
	}
}

func TestSyncAccountBounceRetryCountsOnce(t *testing.T) {
	worker, transport, db, account := newInboxFixture(t)

	campaign := &models.Campaign{UserID: 1, Name: "launch", Status: models.CampaignActive}
	db.Create(campaign)

	// The log references a lead that does not exist yet, so applying the
	// bounce fails and the message is retried on later passes.
	missingLead := uint(999)
	sentAt := time.Now()
	db.Create(&models.EmailLog{
		UserID: 1, EmailAccountID: account.ID, CampaignID: &campaign.ID, LeadID: &missingLead,
		Type: models.EmailTypeCampaign, ToEmail: "lead@target.com",
		Status: models.EmailSent, SentAt: &sentAt, AttemptID: "B2",
	})

	transport.byMailbox[utils.MailboxInbox] = []utils.InboundMessage{{
		UID:       6,
		MessageID: "<bounce-retry@mx>",
		FromEmail: "mailer-daemon@mx.example.com",
		Subject:   "Undeliverable",
		TextBody:  "failed: lead@target.com",
		Date:      time.Now(),
	}}

	for i := 0; i < 2; i++ {
		if err := worker.SyncAccount(context.Background(), account); err != nil {
			t.Fatalf("SyncAccount pass %d: %v", i+1, err)
		}
	}

	var state models.InboxSync
	db.Where("email_account_id = ?", account.ID).First(&state)
	if state.LastUID != 0 {
		t.Errorf("cursor advanced past a failed message: %d", state.LastUID)
	}
	if state.BouncesFound != 0 {
		t.Errorf("bounces_found = %d after rolled-back passes, want 0", state.BouncesFound)
	}

	var storedMessages int64
	db.Model(&models.InboxMessage{}).Where("email_account_id = ?", account.ID).Count(&storedMessages)
	if storedMessages != 1 {
		t.Errorf("stored messages = %d after two passes, want 1", storedMessages)
	}

	var storedCampaign models.Campaign
	db.First(&storedCampaign, campaign.ID)
	if storedCampaign.Stats.Bounced != 0 {
		t.Errorf("stats_bounced = %d after rolled-back passes, want 0", storedCampaign.Stats.Bounced)
	}

	// Once the lead exists the retry lands, and the bounce counts once.
	lead := &models.Lead{UserID: 1, Email: "lead@target.com", Status: models.LeadContacted}
	lead.ID = missingLead
	db.Create(lead)

	if err := worker.SyncAccount(context.Background(), account); err != nil {
		t.Fatalf("SyncAccount after creating lead: %v", err)
	}

	db.Where("email_account_id = ?", account.ID).First(&state)
	if state.BouncesFound != 1 {
		t.Errorf("bounces_found = %d, want 1", state.BouncesFound)
	}
	if state.LastUID != 6 {
		t.Errorf("last_uid = %d, want 6 after the retry succeeds", state.LastUID)
	}
	db.Model(&models.InboxMessage{}).Where("email_account_id = ?", account.ID).Count(&storedMessages)
	if storedMessages != 1 {
		t.Errorf("stored messages = %d, want 1", storedMessages)
	}
	db.First(&storedCampaign, campaign.ID)
	if storedCampaign.Stats.Bounced != 1 {
		t.Errorf("stats_bounced = %d, want 1", storedCampaign.Stats.Bounced)
	}
}

func TestSyncAccountReplyExitsSequence(t *testing.T) {
	worker, transport, db, account := newInboxFixture(t)

	lead := &models.Lead{UserID: 1, Email: "lead@target.com", Status: models.LeadContacted}
	db.Create(lead)
	campaign := &models.Campaign{UserID: 1, Name: "launch", Status: models.CampaignActive}
	db.Create(campaign)
	db.Create(&models.CampaignLead{CampaignID: campaign.ID, LeadID: lead.ID, CurrentStep: 1})

	sentAt := time.Now()
	db.Create(&models.EmailLog{
		UserID: 1, EmailAccountID: account.ID, CampaignID: &campaign.ID, LeadID: &lead.ID,
		Type: models.EmailTypeCampaign, ToEmail: lead.Email,
		Status: models.EmailSent, SentAt: &sentAt,
		MessageID: "<camp-9@example.com>", AttemptID: "R1",
	})

	transport.byMailbox[utils.MailboxInbox] = []utils.InboundMessage{{
		UID:       11,
		MessageID: "<reply@target>",
		FromEmail: lead.Email,
		Subject:   "Re: hello",
		InReplyTo: "<camp-9@example.com>",
		Date:      time.Now(),
	}}

	if err := worker.SyncAccount(context.Background(), account); err != nil {
		t.Fatalf("SyncAccount: %v", err)
	}

	var state models.CampaignLead
	db.Where("campaign_id = ? AND lead_id = ?", campaign.ID, lead.ID).First(&state)
	if !state.Exited || state.ExitReason != models.ExitReplied {
		t.Errorf("campaign lead = %+v, want exited with reply reason", state)
	}

	var storedLead models.Lead
	db.First(&storedLead, lead.ID)
	if storedLead.Status != models.LeadReplied {
		t.Errorf("lead status = %q, want replied", storedLead.Status)
	}

	var storedCampaign models.Campaign
	db.First(&storedCampaign, campaign.ID)
	if storedCampaign.Stats.Replied != 1 {
		t.Errorf("stats_replied = %d, want 1", storedCampaign.Stats.Replied)
	}
}

func TestWarmupReplyRespectsRampCap(t *testing.T) {
	worker, _, db, account := newInboxFixture(t)

	peer := &models.EmailAccount{UserID: 2, Email: "peer@example.com", DailyLimit: 50, Timezone: "UTC", Reputation: 100, IsActive: true}
	db.Create(peer)

	settings := models.DefaultWarmupSettings()
	settings.StartDate = time.Now().UTC().Format("2006-01-02")
	settings.DailyWarmupEmails = 2
	settings.MaxDailyEmails = 5
	settings.RampUpDays = 0 // ramp done, target is the max
	settings.StartTime, settings.EndTime = "", ""
	settings.WorkingDays = nil

	parent := &models.WarmupEmail{
		UserID: 2, FromAccountID: peer.ID, ToAccountID: account.ID,
		Subject: "Quick question", ThreadID: "t-cap", MessageID: "<cap@example.com>",
		Status: models.WarmupEmailOpened,
	}
	db.Create(parent)
	msg := utils.InboundMessage{MessageID: "<cap@example.com>", Subject: "Quick question", FromEmail: peer.Email}

	// The account's general limit still has room, but warmup volume for
	// the day is spent.
	db.Model(account).Updates(map[string]interface{}{
		"emails_sent_today": 5,
		"last_reset_date":   time.Now(),
	})

	worker.sendWarmupReply(context.Background(), account, peer, parent, msg, settings)

	var reply models.WarmupEmail
	db.Where("is_reply = ? AND from_account_id = ?", true, account.ID).First(&reply)
	if reply.Status != models.WarmupEmailFailed {
		t.Errorf("reply status = %q, want failed past the ramp cap", reply.Status)
	}

	var stored models.EmailAccount
	db.First(&stored, account.ID)
	if stored.EmailsSentToday != 5 {
		t.Errorf("emails_sent_today = %d, want 5 untouched", stored.EmailsSentToday)
	}

	// Under the cap the reply goes out.
	db.Model(account).Update("emails_sent_today", 4)
	worker.sendWarmupReply(context.Background(), account, peer, parent, msg, settings)

	var sent models.WarmupEmail
	db.Where("is_reply = ? AND from_account_id = ? AND status = ?", true, account.ID, models.WarmupEmailSent).
		First(&sent)
	if sent.ID == 0 {
		t.Error("reply under the cap was not sent")
	}
}

func TestSyncAccountSpamPlacement(t *testing.T) {
	worker, transport, db, account := newInboxFixture(t)

	peer := &models.EmailAccount{UserID: 2, Email: "peer@example.com", DailyLimit: 50, Timezone: "UTC", Reputation: 100, IsActive: true}
	db.Create(peer)

	sentAt := time.Now()
	warmup := &models.WarmupEmail{
		UserID: 2, FromAccountID: peer.ID, ToAccountID: account.ID,
		Subject: "Quick question", ThreadID: "t1",
		MessageID: "<warm-9@example.com>", Status: models.WarmupEmailSent, SentAt: &sentAt,
	}
	db.Create(warmup)

	transport.byMailbox[utils.SpamMailbox(account.Provider)] = []utils.InboundMessage{{
		UID:       4,
		MessageID: "<warm-9@example.com>",
		FromEmail: peer.Email,
		Subject:   "Quick question",
		Date:      time.Now(),
	}}

	if err := worker.SyncAccount(context.Background(), account); err != nil {
		t.Fatalf("SyncAccount: %v", err)
	}

	var stored models.WarmupEmail
	db.First(&stored, warmup.ID)
	if stored.Status != models.WarmupEmailSpam {
		t.Errorf("warmup status = %q, want spam", stored.Status)
	}

	var state models.InboxSync
	db.Where("email_account_id = ?", account.ID).First(&state)
	if state.SpamPlacements != 1 {
		t.Errorf("spam_placements = %d, want 1", state.SpamPlacements)
	}
	if state.SpamLastUID != 4 {
		t.Errorf("spam_last_uid = %d, want 4", state.SpamLastUID)
	}
}
