package models

import (
	"time"

	"gorm.io/gorm"
)

// Email log types
const (
	EmailTypeCampaign = "campaign"
	EmailTypeWarmup   = "warmup"
	EmailTypeReply    = "reply"
)

// Email log statuses. A log is immutable once sent; later statuses are
// append-only transitions driven by tracking and reconciliation.
const (
	EmailQueued    = "queued"
	EmailSent      = "sent"
	EmailDelivered = "delivered"
	EmailOpened    = "opened"
	EmailClicked   = "clicked"
	EmailReplied   = "replied"
	EmailBounced   = "bounced"
	EmailFailed    = "failed"
)

// EmailLog records one send attempt and its lifecycle
type EmailLog struct {
	gorm.Model
	UserID         uint  `gorm:"not null;index" json:"user_id"`
	CampaignID     *uint `gorm:"index" json:"campaign_id,omitempty"`
	LeadID         *uint `gorm:"index" json:"lead_id,omitempty"`
	EmailAccountID uint  `gorm:"not null;index" json:"email_account_id"`

	Type       string `gorm:"not null" json:"type"`
	StepNumber int    `json:"step_number"`
	ToEmail    string `gorm:"index" json:"to_email"`
	Subject    string `json:"subject"`
	Content    string `gorm:"type:text" json:"content"`

	Status string `gorm:"not null;default:'queued';index" json:"status"`

	SentAt      *time.Time `json:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	OpenedAt    *time.Time `json:"opened_at"`
	ClickedAt   *time.Time `json:"clicked_at"`
	RepliedAt   *time.Time `json:"replied_at"`
	BouncedAt   *time.Time `json:"bounced_at"`

	TrackingPixelID string `gorm:"index" json:"tracking_pixel_id"`
	MessageID       string `gorm:"index" json:"message_id"`
	AttemptID       string `gorm:"uniqueIndex" json:"attempt_id"` // dispatch attempt id, idempotency key
	ErrorMessage    string `json:"error_message"`
}

// engagedStatuses are the statuses a log can be in before it counts as opened.
var preOpenStatuses = map[string]bool{
	EmailSent:      true,
	EmailDelivered: true,
}

// CanMarkOpened reports whether an open transition is still a forward move.
func (e *EmailLog) CanMarkOpened() bool {
	return preOpenStatuses[e.Status]
}
