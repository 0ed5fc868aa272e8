package models

import (
	"time"

	"gorm.io/gorm"
)

// Warmup email statuses
const (
	WarmupEmailPending = "pending"
	WarmupEmailSent    = "sent"
	WarmupEmailOpened  = "opened"
	WarmupEmailReplied = "replied"
	WarmupEmailFailed  = "failed"
	WarmupEmailSpam    = "spam"
)

// WarmupEmail is one synthetic send between two owned mailboxes. Replies
// form a thread via ParentEmailID / ThreadID.
type WarmupEmail struct {
	gorm.Model
	UserID        uint `gorm:"not null;index" json:"user_id"`
	FromAccountID uint `gorm:"not null;index" json:"from_account_id"`
	ToAccountID   uint `gorm:"not null;index" json:"to_account_id"`

	Subject string `gorm:"not null" json:"subject"`
	Content string `gorm:"type:text" json:"content"`

	IsReply       bool   `gorm:"default:false" json:"is_reply"`
	ParentEmailID *uint  `gorm:"index" json:"parent_email_id,omitempty"`
	ThreadID      string `gorm:"index" json:"thread_id"`
	MessageID     string `gorm:"index" json:"message_id"`

	SentAt    *time.Time `gorm:"index" json:"sent_at"`
	OpenedAt  *time.Time `json:"opened_at"`
	RepliedAt *time.Time `json:"replied_at"`

	Status string `gorm:"not null;default:'pending'" json:"status"`
}
