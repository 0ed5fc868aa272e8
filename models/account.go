package models

import (
	"time"

	"gorm.io/gorm"
)

// Warmup lifecycle states for an email account.
const (
	WarmupNotStarted = "not-started"
	WarmupInProgress = "in-progress"
	WarmupPaused     = "paused"
	WarmupCompleted  = "completed"
)

// User owns email accounts and campaigns. Authentication is API-key
// based; the key is stored as a bcrypt hash.
type User struct {
	gorm.Model
	Email        string `json:"email" gorm:"uniqueIndex;not null"`
	Name         string `json:"name"`
	APIKeyHash   string `json:"-"`
	TokenVersion int    `json:"-" gorm:"default:0"`
	IsActive     bool   `json:"isActive" gorm:"default:true"`
}

// EmailAccount is a connected mailbox used for sending and warmup.
// SMTP and IMAP passwords are stored encrypted and never serialized.
type EmailAccount struct {
	gorm.Model
	UserID   uint   `json:"userId" gorm:"index;not null"`
	Email    string `json:"email" gorm:"index;not null"`
	Name     string `json:"name"`
	Provider string `json:"provider" gorm:"default:smtp"` // smtp, gmail, outlook, namecheap

	SMTPHost     string `json:"smtpHost"`
	SMTPPort     int    `json:"smtpPort" gorm:"default:587"`
	SMTPUsername string `json:"smtpUsername"`
	SMTPPassword string `json:"-"`
	IMAPHost     string `json:"imapHost"`
	IMAPPort     int    `json:"imapPort" gorm:"default:993"`
	IMAPUsername string `json:"imapUsername"`
	IMAPPassword string `json:"-"`

	OAuthRefreshToken string `json:"-"`

	Timezone        string     `json:"timezone" gorm:"default:UTC"`
	DailyLimit      int        `json:"dailyLimit" gorm:"default:50"`
	EmailsSentToday int        `json:"emailsSentToday" gorm:"default:0"`
	LastResetDate   *time.Time `json:"lastResetDate"`

	WarmupStatus   string         `json:"warmupStatus" gorm:"default:not-started"`
	WarmupSettings WarmupSettings `json:"warmupSettings" gorm:"serializer:json"`

	Reputation int  `json:"reputation" gorm:"default:100"`
	IsActive   bool `json:"isActive" gorm:"default:true"`

	LastError    string     `json:"lastError"`
	LastTestedAt *time.Time `json:"lastTestedAt"`
	LastSyncAt   *time.Time `json:"lastSyncAt"`
}

// Location resolves the account timezone, falling back to UTC.
func (a *EmailAccount) Location() *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WarmupSettings controls the ramp and conversation behavior for one
// account. Stored as a JSON column on the account row.
type WarmupSettings struct {
	Enabled           bool   `json:"enabled"`
	DailyWarmupEmails int    `json:"dailyWarmupEmails"`
	MaxDailyEmails    int    `json:"maxDailyEmails"`
	RampUpDays        int    `json:"rampUpDays"`
	ThrottleRate      int    `json:"throttleRate"` // warmup emails per hour
	StartDate         string `json:"startDate"`    // "2006-01-02"
	EndDate           string `json:"endDate"`
	Timezone          string `json:"timezone"`
	WorkingDays       []int  `json:"workingDays"` // time.Weekday values
	StartTime         string `json:"startTime"`   // "HH:MM"
	EndTime           string `json:"endTime"`
	AutoReply         bool   `json:"autoReply"`
	AutoArchive       bool   `json:"autoArchive"`
	ReplyDelayMinutes int    `json:"replyDelayMinutes"`
	MaxThreadLength   int    `json:"maxThreadLength"`
}

// DefaultWarmupSettings returns the starting configuration for a newly
// enabled warmup.
func DefaultWarmupSettings() WarmupSettings {
	return WarmupSettings{
		Enabled:           true,
		DailyWarmupEmails: 5,
		MaxDailyEmails:    40,
		RampUpDays:        30,
		ThrottleRate:      5,
		Timezone:          "UTC",
		WorkingDays:       []int{0, 1, 2, 3, 4, 5, 6},
		StartTime:         "09:00",
		EndTime:           "17:00",
		AutoReply:         true,
		AutoArchive:       false,
		ReplyDelayMinutes: 30,
		MaxThreadLength:   3,
	}
}

// Sanitize fills zero values with sane defaults so a partial settings
// payload cannot stall the ramp.
func (s *WarmupSettings) Sanitize() {
	def := DefaultWarmupSettings()
	if s.DailyWarmupEmails <= 0 {
		s.DailyWarmupEmails = def.DailyWarmupEmails
	}
	if s.MaxDailyEmails <= 0 {
		s.MaxDailyEmails = def.MaxDailyEmails
	}
	if s.MaxDailyEmails < s.DailyWarmupEmails {
		s.MaxDailyEmails = s.DailyWarmupEmails
	}
	if s.RampUpDays <= 0 {
		s.RampUpDays = def.RampUpDays
	}
	if s.ThrottleRate <= 0 {
		s.ThrottleRate = def.ThrottleRate
	}
	if s.StartTime == "" {
		s.StartTime = def.StartTime
	}
	if s.EndTime == "" {
		s.EndTime = def.EndTime
	}
	if len(s.WorkingDays) == 0 {
		s.WorkingDays = def.WorkingDays
	}
	if s.ReplyDelayMinutes <= 0 {
		s.ReplyDelayMinutes = def.ReplyDelayMinutes
	}
	if s.MaxThreadLength <= 0 {
		s.MaxThreadLength = def.MaxThreadLength
	}
	if s.Timezone == "" {
		s.Timezone = def.Timezone
	}
}

// Location resolves the warmup timezone, falling back to UTC.
func (s WarmupSettings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
