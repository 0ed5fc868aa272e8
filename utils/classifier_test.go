package utils

import (
	"context"
	"testing"
	"time"

	"coldrelay/models"
)

func TestIsBounceMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  InboundMessage
		want bool
	}{
		{"mailer daemon sender", InboundMessage{FromEmail: "mailer-daemon@mx.example.com"}, true},
		{"postmaster sender", InboundMessage{FromEmail: "postmaster@example.com"}, true},
		{"dsn subject", InboundMessage{Subject: "Delivery Status Notification (Failure)"}, true},
		{"undeliverable subject", InboundMessage{Subject: "Undeliverable: your message"}, true},
		{"plain reply", InboundMessage{FromEmail: "ada@example.com", Subject: "Re: hello"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBounceMessage(tt.msg); got != tt.want {
				t.Errorf("IsBounceMessage = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsAutoReply(t *testing.T) {
	tests := []struct {
		name string
		msg  InboundMessage
		want bool
	}{
		{"auto-submitted header", InboundMessage{AutoSubmitted: "auto-replied"}, true},
		{"auto-submitted no", InboundMessage{AutoSubmitted: "no"}, false},
		{"out of office subject", InboundMessage{Subject: "Out of Office: back Monday"}, true},
		{"automatic reply subject", InboundMessage{Subject: "Automatic reply: hello"}, true},
		{"regular message", InboundMessage{Subject: "Re: proposal"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAutoReply(tt.msg); got != tt.want {
				t.Errorf("IsAutoReply = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractBouncedRecipient(t *testing.T) {
	msg := InboundMessage{
		FromEmail: "mailer-daemon@mx.example.com",
		Subject:   "Delivery Status Notification",
		TextBody:  "The following address failed: lead@target.com (mailbox full)",
	}
	if got := ExtractBouncedRecipient(msg); got != "lead@target.com" {
		t.Errorf("ExtractBouncedRecipient = %q, want lead@target.com", got)
	}

	empty := InboundMessage{Subject: "Delivery failed", TextBody: "no address here"}
	if got := ExtractBouncedRecipient(empty); got != "" {
		t.Errorf("ExtractBouncedRecipient = %q, want empty", got)
	}
}

func TestClassifyPriorityOrder(t *testing.T) {
	db := newTestDB(t)
	classifier := NewClassifier(db)
	account := &models.EmailAccount{UserID: 1, Email: "me@example.com", IsActive: true}
	db.Create(account)

	// A bounce that also carries thread references must classify as a
	// bounce, never as a reply.
	sentAt := time.Now()
	db.Create(&models.EmailLog{
		UserID: 1, EmailAccountID: account.ID, Type: models.EmailTypeCampaign,
		ToEmail: "lead@target.com", Status: models.EmailSent, SentAt: &sentAt,
		MessageID: "<orig-1@example.com>", AttemptID: "A1",
	})

	cls, err := classifier.Classify(context.Background(), account, InboundMessage{
		FromEmail: "mailer-daemon@mx.example.com",
		Subject:   "Undeliverable: hello",
		TextBody:  "failed recipient: lead@target.com",
		InReplyTo: "<orig-1@example.com>",
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.Kind != models.InboundBounce {
		t.Errorf("kind = %q, want bounce", cls.Kind)
	}
	if cls.EmailLog == nil || cls.EmailLog.ToEmail != "lead@target.com" {
		t.Error("bounce did not resolve the originating send")
	}
}

func TestClassifyWarmupThread(t *testing.T) {
	db := newTestDB(t)
	classifier := NewClassifier(db)
	account := &models.EmailAccount{UserID: 1, Email: "me@example.com", IsActive: true}
	db.Create(account)

	sentAt := time.Now()
	warmup := &models.WarmupEmail{
		UserID: 1, FromAccountID: account.ID, ToAccountID: 2,
		Subject: "Quick question", ThreadID: "thread-1",
		MessageID: "<warm-1@example.com>", Status: models.WarmupEmailSent, SentAt: &sentAt,
	}
	db.Create(warmup)

	cls, err := classifier.Classify(context.Background(), account, InboundMessage{
		FromEmail: "peer@example.com",
		Subject:   "Re: Quick question",
		InReplyTo: "<warm-1@example.com>",
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.Kind != models.InboundWarmup {
		t.Fatalf("kind = %q, want warmup", cls.Kind)
	}
	if cls.WarmupEmail == nil || cls.WarmupEmail.ThreadID != "thread-1" {
		t.Error("warmup thread not resolved")
	}
}

func TestClassifyCampaignReply(t *testing.T) {
	db := newTestDB(t)
	classifier := NewClassifier(db)
	account := &models.EmailAccount{UserID: 1, Email: "me@example.com", IsActive: true}
	db.Create(account)

	lead := &models.Lead{UserID: 1, Email: "lead@target.com", Status: models.LeadContacted}
	db.Create(lead)
	sentAt := time.Now()
	db.Create(&models.EmailLog{
		UserID: 1, EmailAccountID: account.ID, LeadID: &lead.ID,
		Type: models.EmailTypeCampaign, ToEmail: lead.Email,
		Status: models.EmailSent, SentAt: &sentAt,
		MessageID: "<camp-1@example.com>", AttemptID: "A2",
	})

	t.Run("by references", func(t *testing.T) {
		cls, err := classifier.Classify(context.Background(), account, InboundMessage{
			FromEmail:  lead.Email,
			Subject:    "sounds interesting",
			References: []string{"<camp-1@example.com>"},
		})
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if cls.Kind != models.InboundReply {
			t.Fatalf("kind = %q, want reply", cls.Kind)
		}
		if cls.Lead == nil || cls.Lead.ID != lead.ID {
			t.Error("reply did not resolve the lead")
		}
	})

	t.Run("by sender and threaded subject", func(t *testing.T) {
		cls, err := classifier.Classify(context.Background(), account, InboundMessage{
			FromEmail: lead.Email,
			Subject:   "Re: our proposal",
		})
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if cls.Kind != models.InboundReply {
			t.Errorf("kind = %q, want reply", cls.Kind)
		}
	})

	t.Run("unknown sender unclassified", func(t *testing.T) {
		cls, err := classifier.Classify(context.Background(), account, InboundMessage{
			FromEmail: "stranger@nowhere.com",
			Subject:   "hello there",
		})
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if cls.Kind != models.InboundUnclassified {
			t.Errorf("kind = %q, want unclassified", cls.Kind)
		}
	})
}
