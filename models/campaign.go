package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign status values. Only active campaigns are eligible for dispatch.
const (
	CampaignDraft     = "draft"
	CampaignActive    = "active"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
	CampaignStopped   = "stopped"
)

// Campaign represents a multi-step outreach campaign
type Campaign struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"not null;default:'draft';index" json:"status"`

	EmailAccountIDs []uint           `gorm:"type:jsonb;serializer:json" json:"email_account_ids"`
	Sequence        []SequenceStep   `gorm:"type:jsonb;serializer:json" json:"sequence"`
	Settings        CampaignSettings `gorm:"type:jsonb;serializer:json" json:"settings"`

	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Statistics (denormalized for performance)
	Stats CampaignStats `gorm:"embedded;embeddedPrefix:stats_" json:"stats"`
}

// SequenceStep is one templated email in the campaign sequence
type SequenceStep struct {
	StepNumber int            `json:"step_number"`
	Subject    string         `json:"subject"`
	Content    string         `json:"content"`
	DelayDays  int            `json:"delay_days"`
	Conditions StepConditions `json:"conditions"`
	IsActive   bool           `json:"is_active"`
}

// StepConditions gate a step on engagement with earlier steps. All set
// flags must hold for the step to fire.
type StepConditions struct {
	IfOpened    bool `json:"if_opened"`
	IfClicked   bool `json:"if_clicked"`
	IfReplied   bool `json:"if_replied"`
	IfNotOpened bool `json:"if_not_opened"`
}

// HasAny reports whether the step is conditional at all.
func (c StepConditions) HasAny() bool {
	return c.IfOpened || c.IfClicked || c.IfReplied || c.IfNotOpened
}

// CampaignSettings holds scheduling, throttling and tracking configuration
type CampaignSettings struct {
	SendingSchedule SendingSchedule  `json:"sending_schedule"`
	Throttling      ThrottleSettings `json:"throttling"`
	Tracking        TrackingSettings `json:"tracking"`
}

type SendingSchedule struct {
	Timezone    string `json:"timezone"`
	WorkingDays []int  `json:"working_days"` // 0=Sunday .. 6=Saturday
	StartTime   string `json:"start_time"`   // HH:MM
	EndTime     string `json:"end_time"`     // HH:MM
}

type ThrottleSettings struct {
	EmailsPerHour      int  `json:"emails_per_hour"`
	DelayBetweenEmails int  `json:"delay_between_emails"` // seconds
	RandomizeDelay     bool `json:"randomize_delay"`
}

type TrackingSettings struct {
	OpenTracking  bool `json:"open_tracking"`
	ClickTracking bool `json:"click_tracking"`
	ReplyTracking bool `json:"reply_tracking"`
}

// CampaignStats counters, incremented atomically alongside EmailLog writes
type CampaignStats struct {
	TotalLeads   int `gorm:"default:0" json:"total_leads"`
	EmailsSent   int `gorm:"default:0" json:"emails_sent"`
	Delivered    int `gorm:"default:0" json:"delivered"`
	Opened       int `gorm:"default:0" json:"opened"`
	Clicked      int `gorm:"default:0" json:"clicked"`
	Replied      int `gorm:"default:0" json:"replied"`
	Bounced      int `gorm:"default:0" json:"bounced"`
	Unsubscribed int `gorm:"default:0" json:"unsubscribed"`
}

// Exit reasons recorded on CampaignLead when a lead leaves the sequence.
const (
	ExitReplied      = "replied"
	ExitBounced      = "bounced"
	ExitUnsubscribed = "unsubscribed"
	ExitFinished     = "finished"
)

// CampaignLead tracks the per-(campaign, lead) sequence state machine
type CampaignLead struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index:idx_campaign_lead,unique" json:"campaign_id"`
	LeadID     uint `gorm:"not null;index:idx_campaign_lead,unique" json:"lead_id"`

	CurrentStep    int        `gorm:"default:0" json:"current_step"` // 0 = nothing sent yet
	LastStepSentAt *time.Time `json:"last_step_sent_at"`

	// Engagement observed since the last sent step
	OpenedSinceStep  bool `gorm:"default:false" json:"opened_since_step"`
	ClickedSinceStep bool `gorm:"default:false" json:"clicked_since_step"`
	RepliedSinceStep bool `gorm:"default:false" json:"replied_since_step"`

	Exited     bool   `gorm:"default:false;index" json:"exited"`
	ExitReason string `json:"exit_reason"`
}

// Snapshot captures the engagement flags for condition evaluation.
func (cl *CampaignLead) Snapshot() EngagementSnapshot {
	return EngagementSnapshot{
		Opened:  cl.OpenedSinceStep,
		Clicked: cl.ClickedSinceStep,
		Replied: cl.RepliedSinceStep,
	}
}

// EngagementSnapshot is the engagement state a step condition is evaluated
// against, captured at evaluation time.
type EngagementSnapshot struct {
	Opened  bool
	Clicked bool
	Replied bool
}
