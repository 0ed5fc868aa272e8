package utils

import (
	"time"

	"coldrelay/models"
)

// ScheduleConfig describes an account-local sending window. WorkingDays
// uses time.Weekday numbering (Sunday = 0). An empty WorkingDays slice
// means every day; empty clock strings mean the whole day.
type ScheduleConfig struct {
	Timezone    string `json:"timezone"`
	WorkingDays []int  `json:"workingDays"`
	StartTime   string `json:"startTime"` // "HH:MM"
	EndTime     string `json:"endTime"`   // "HH:MM"
}

// CampaignWindow maps a campaign sending schedule onto a window.
func CampaignWindow(s models.SendingSchedule) ScheduleConfig {
	return ScheduleConfig{
		Timezone:    s.Timezone,
		WorkingDays: s.WorkingDays,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
	}
}

func (s ScheduleConfig) location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (s ScheduleConfig) dayAllowed(d time.Weekday) bool {
	if len(s.WorkingDays) == 0 {
		return true
	}
	for _, wd := range s.WorkingDays {
		if wd == int(d) {
			return true
		}
	}
	return false
}

// clockBounds returns the window bounds in minutes since local midnight.
// A missing or malformed bound falls back to the full day.
func (s ScheduleConfig) clockBounds() (startMin, endMin int) {
	startMin, endMin = 0, 24*60
	if h, m, err := ParseClock(s.StartTime); err == nil && s.StartTime != "" {
		startMin = h*60 + m
	}
	if h, m, err := ParseClock(s.EndTime); err == nil && s.EndTime != "" {
		endMin = h*60 + m
	}
	return startMin, endMin
}

// IsWithinWindow reports whether now falls inside the sending window.
// The start bound is inclusive, the end bound exclusive.
func (s ScheduleConfig) IsWithinWindow(now time.Time) bool {
	local := now.In(s.location())
	if !s.dayAllowed(local.Weekday()) {
		return false
	}
	startMin, endMin := s.clockBounds()
	cur := local.Hour()*60 + local.Minute()
	return cur >= startMin && cur < endMin
}

// NextWindowStart returns the earliest instant at or after now that lies
// inside the window. If no working day is configured within the next week
// the zero time is returned.
func (s ScheduleConfig) NextWindowStart(now time.Time) time.Time {
	if s.IsWithinWindow(now) {
		return now
	}

	loc := s.location()
	local := now.In(loc)
	startMin, _ := s.clockBounds()

	for offset := 0; offset <= 7; offset++ {
		day := local.AddDate(0, 0, offset)
		if !s.dayAllowed(day.Weekday()) {
			continue
		}
		candidate := time.Date(day.Year(), day.Month(), day.Day(), startMin/60, startMin%60, 0, 0, loc)
		if !candidate.Before(local) && s.IsWithinWindow(candidate) {
			return candidate
		}
	}
	return time.Time{}
}
