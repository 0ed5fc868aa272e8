package models

import (
	"time"

	"gorm.io/gorm"
)

// Lead status values. Engagement statuses move forward only; bounced and
// unsubscribed are terminal.
const (
	LeadNew           = "new"
	LeadContacted     = "contacted"
	LeadOpened        = "opened"
	LeadClicked       = "clicked"
	LeadReplied       = "replied"
	LeadInterested    = "interested"
	LeadNotInterested = "not-interested"
	LeadBounced       = "bounced"
	LeadUnsubscribed  = "unsubscribed"
)

// BounceThreshold is how many bounces flip a lead to the bounced status.
const BounceThreshold = 2

// Lead represents a single contact targeted by campaigns
type Lead struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Email     string `gorm:"not null;index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	JobTitle  string `json:"job_title"`
	Website   string `json:"website"`
	Industry  string `json:"industry"`
	Source    string `json:"source"`

	CustomFields map[string]string `gorm:"type:jsonb;serializer:json" json:"custom_fields"`
	Tags         []string          `gorm:"type:jsonb;serializer:json" json:"tags"`

	Status          string     `gorm:"not null;default:'new';index" json:"status"`
	BounceCount     int        `gorm:"default:0" json:"bounce_count"`
	LastContactedAt *time.Time `json:"last_contacted_at"`
	UnsubscribedAt  *time.Time `json:"unsubscribed_at"`
}

// IsTerminal reports whether the lead may never be dispatched to again.
func (l *Lead) IsTerminal() bool {
	return l.Status == LeadBounced || l.Status == LeadUnsubscribed
}

var engagementRank = map[string]int{
	LeadNew:       0,
	LeadContacted: 1,
	LeadOpened:    2,
	LeadClicked:   3,
	LeadReplied:   4,
}

// AdvanceStatus moves the lead to the given engagement status if it is a
// forward move. Terminal statuses always win.
func (l *Lead) AdvanceStatus(status string) bool {
	if l.IsTerminal() {
		return false
	}
	if status == LeadBounced || status == LeadUnsubscribed {
		l.Status = status
		return true
	}
	cur, curOK := engagementRank[l.Status]
	next, nextOK := engagementRank[status]
	if !nextOK {
		l.Status = status
		return true
	}
	if curOK && next <= cur {
		return false
	}
	l.Status = status
	return true
}
