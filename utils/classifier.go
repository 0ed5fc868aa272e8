package utils

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"coldrelay/models"
)

// Classification is the reconciler's verdict on one inbound message.
// Matches carry the related row so the caller can apply side effects.
type Classification struct {
	Kind string // models.InboundBounce, InboundAutoReply, ...

	WarmupEmail      *models.WarmupEmail
	EmailLog         *models.EmailLog
	Lead             *models.Lead
	BouncedRecipient string
}

// Classifier maps inbound messages to bounces, auto-replies, warmup
// threads or campaign replies, in that priority order.
type Classifier struct {
	DB *gorm.DB
}

func NewClassifier(db *gorm.DB) *Classifier {
	return &Classifier{DB: db}
}

var bounceFromMarkers = []string{
	"mailer-daemon",
	"postmaster",
	"mail delivery subsystem",
}

var bounceSubjectMarkers = []string{
	"delivery status notification",
	"undeliverable",
	"undelivered mail",
	"delivery failure",
	"failure notice",
	"returned mail",
	"mail delivery failed",
	"delivery incomplete",
}

// IsBounceMessage detects delivery status notifications by sender and
// subject markers.
func IsBounceMessage(msg InboundMessage) bool {
	from := strings.ToLower(msg.FromEmail + " " + msg.FromName)
	for _, marker := range bounceFromMarkers {
		if strings.Contains(from, marker) {
			return true
		}
	}
	subject := strings.ToLower(msg.Subject)
	for _, marker := range bounceSubjectMarkers {
		if strings.Contains(subject, marker) {
			return true
		}
	}
	return false
}

var autoReplySubjectMarkers = []string{
	"out of office",
	"automatic reply",
	"auto-reply",
	"autoreply",
	"vacation response",
}

// IsAutoReply detects autoresponder traffic via the Auto-Submitted
// header and common subject markers.
func IsAutoReply(msg InboundMessage) bool {
	auto := strings.ToLower(strings.TrimSpace(msg.AutoSubmitted))
	if auto != "" && auto != "no" {
		return true
	}
	subject := strings.ToLower(msg.Subject)
	for _, marker := range autoReplySubjectMarkers {
		if strings.Contains(subject, marker) {
			return true
		}
	}
	return false
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// ExtractBouncedRecipient pulls the failed recipient address out of a
// bounce notification body.
func ExtractBouncedRecipient(msg InboundMessage) string {
	for _, candidate := range emailPattern.FindAllString(msg.TextBody+" "+msg.Subject, -1) {
		lower := strings.ToLower(candidate)
		if strings.Contains(lower, "mailer-daemon") || strings.Contains(lower, "postmaster") {
			continue
		}
		return lower
	}
	return ""
}

// referenceIDs collects every message id the inbound message points at.
func referenceIDs(msg InboundMessage) []string {
	ids := make([]string, 0, len(msg.References)+1)
	if msg.InReplyTo != "" {
		ids = append(ids, msg.InReplyTo)
	}
	for _, ref := range msg.References {
		if ref != "" && ref != msg.InReplyTo {
			ids = append(ids, ref)
		}
	}
	return ids
}

// Classify decides what an inbound message is for the given account.
// Priority: bounce, auto-reply, warmup thread, campaign reply,
// unclassified.
func (c *Classifier) Classify(ctx context.Context, account *models.EmailAccount, msg InboundMessage) (Classification, error) {
	if IsBounceMessage(msg) {
		result := Classification{Kind: models.InboundBounce, BouncedRecipient: ExtractBouncedRecipient(msg)}
		if result.BouncedRecipient != "" {
			log, err := c.latestLogTo(ctx, account.ID, result.BouncedRecipient)
			if err != nil {
				return result, err
			}
			result.EmailLog = log
		}
		return result, nil
	}

	if IsAutoReply(msg) {
		return Classification{Kind: models.InboundAutoReply}, nil
	}

	warmup, err := c.matchWarmup(ctx, account.ID, msg)
	if err != nil {
		return Classification{}, err
	}
	if warmup != nil {
		return Classification{Kind: models.InboundWarmup, WarmupEmail: warmup}, nil
	}

	log, lead, err := c.matchReply(ctx, account, msg)
	if err != nil {
		return Classification{}, err
	}
	if log != nil {
		return Classification{Kind: models.InboundReply, EmailLog: log, Lead: lead}, nil
	}

	return Classification{Kind: models.InboundUnclassified}, nil
}

// matchWarmup looks for a warmup thread involving this account, either a
// fresh warmup email addressed to it or a reply to one it sent.
func (c *Classifier) matchWarmup(ctx context.Context, accountID uint, msg InboundMessage) (*models.WarmupEmail, error) {
	db := c.DB.WithContext(ctx)

	if msg.MessageID != "" {
		var warmup models.WarmupEmail
		err := db.Where("message_id = ? AND to_account_id = ?", msg.MessageID, accountID).
			First(&warmup).Error
		if err == nil {
			return &warmup, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	refs := referenceIDs(msg)
	if len(refs) == 0 {
		return nil, nil
	}

	var warmup models.WarmupEmail
	err := db.Where("message_id IN ? AND (from_account_id = ? OR to_account_id = ?)", refs, accountID, accountID).
		Order("id DESC").
		First(&warmup).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &warmup, nil
}

// matchReply finds the campaign send this message answers: by reference
// ids first, then by sender address plus a threaded subject.
func (c *Classifier) matchReply(ctx context.Context, account *models.EmailAccount, msg InboundMessage) (*models.EmailLog, *models.Lead, error) {
	db := c.DB.WithContext(ctx)

	var log models.EmailLog
	refs := referenceIDs(msg)
	if len(refs) > 0 {
		err := db.Where("message_id IN ? AND email_account_id = ? AND type = ?", refs, account.ID, models.EmailTypeCampaign).
			Order("id DESC").
			First(&log).Error
		if err == nil {
			return &log, c.leadFor(ctx, &log), nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, err
		}
	}

	if msg.FromEmail == "" || !strings.HasPrefix(strings.ToLower(msg.Subject), "re:") {
		return nil, nil, nil
	}
	err := db.Where("to_email = ? AND email_account_id = ? AND type = ?", msg.FromEmail, account.ID, models.EmailTypeCampaign).
		Order("id DESC").
		First(&log).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &log, c.leadFor(ctx, &log), nil
}

func (c *Classifier) leadFor(ctx context.Context, log *models.EmailLog) *models.Lead {
	if log.LeadID == nil {
		return nil
	}
	var lead models.Lead
	if err := c.DB.WithContext(ctx).First(&lead, *log.LeadID).Error; err != nil {
		return nil
	}
	return &lead
}

func (c *Classifier) latestLogTo(ctx context.Context, accountID uint, recipient string) (*models.EmailLog, error) {
	var log models.EmailLog
	err := c.DB.WithContext(ctx).
		Where("to_email = ? AND email_account_id = ?", recipient, accountID).
		Order("id DESC").
		First(&log).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}
