package models

import (
	"time"

	"gorm.io/gorm"
)

// Inbox sync statuses. Error is retryable, not terminal.
const (
	SyncIdle    = "idle"
	SyncSyncing = "syncing"
	SyncError   = "error"
)

// Inbound classifications assigned by the reconciler.
const (
	InboundBounce       = "bounce"
	InboundAutoReply    = "auto-reply"
	InboundWarmup       = "warmup"
	InboundReply        = "reply"
	InboundUnclassified = "unclassified"
)

// InboxSync is the per-account sync cursor. One row per account; only the
// reconciler writes it, and never two syncs concurrently for one account.
type InboxSync struct {
	gorm.Model
	UserID         uint `gorm:"not null;index" json:"user_id"`
	EmailAccountID uint `gorm:"not null;uniqueIndex" json:"email_account_id"`

	LastUID     uint32     `gorm:"column:last_uid;default:0" json:"last_uid"`
	SpamLastUID uint32     `gorm:"column:spam_last_uid;default:0" json:"spam_last_uid"`
	SyncStatus  string     `gorm:"not null;default:'idle'" json:"sync_status"`
	LastSyncAt  *time.Time `json:"last_sync_at"`

	ErrorMessage string `json:"error_message"`

	EmailsProcessed int `gorm:"default:0" json:"emails_processed"`
	RepliesFound    int `gorm:"default:0" json:"replies_found"`
	BouncesFound    int `gorm:"default:0" json:"bounces_found"`
	SpamPlacements  int `gorm:"default:0" json:"spam_placements"`
}

// InboxMessage stores a fetched inbound message. Every message the
// reconciler sees lands here, including ones it could not classify.
// UIDs are scoped per mailbox, so the dedup key is (account, mailbox, uid).
type InboxMessage struct {
	gorm.Model
	UserID         uint `gorm:"not null;index" json:"user_id"`
	EmailAccountID uint `gorm:"not null;index;index:idx_inbox_message_uid,unique" json:"email_account_id"`

	Mailbox   string `gorm:"not null;index:idx_inbox_message_uid,unique" json:"mailbox"`
	UID       uint32 `gorm:"column:uid;index:idx_inbox_message_uid,unique" json:"uid"`
	MessageID string `gorm:"not null;index" json:"message_id"`
	ThreadID  string `gorm:"index" json:"thread_id"`

	FromName  string `json:"from_name"`
	FromEmail string `gorm:"index" json:"from_email"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `gorm:"type:text" json:"body"`
	BodyHTML  string `gorm:"type:text" json:"body_html"`

	Classification string    `gorm:"default:'unclassified';index" json:"classification"`
	IsRead         bool      `gorm:"default:false" json:"is_read"`
	ReceivedAt     time.Time `json:"received_at"`
}
