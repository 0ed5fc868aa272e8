package utils

import (
	"math"
	"time"

	"coldrelay/models"
)

const warmupDateLayout = "2006-01-02"

// WarmupDailyTarget computes today's warmup volume for an account on a
// linear ramp from DailyWarmupEmails to MaxDailyEmails over RampUpDays.
// Returns 0 before the start date and the max after the ramp completes.
func WarmupDailyTarget(s models.WarmupSettings, now time.Time) int {
	if s.StartDate == "" {
		return 0
	}
	loc := s.Location()
	start, err := time.ParseInLocation(warmupDateLayout, s.StartDate, loc)
	if err != nil {
		return 0
	}

	// Compare calendar dates on a fixed-offset clock so DST transitions
	// inside the ramp cannot shift the day count.
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	if today.Before(startDay) {
		return 0
	}

	day := int(today.Sub(startDay).Hours() / 24)
	if s.RampUpDays <= 0 || day >= s.RampUpDays {
		return s.MaxDailyEmails
	}

	span := float64(s.MaxDailyEmails - s.DailyWarmupEmails)
	target := float64(s.DailyWarmupEmails) + span*float64(day)/float64(s.RampUpDays)
	n := int(math.Round(target))

	if n < s.DailyWarmupEmails {
		n = s.DailyWarmupEmails
	}
	if n > s.MaxDailyEmails {
		n = s.MaxDailyEmails
	}
	return n
}

// WarmupCompleted reports whether the configured end date has passed.
func WarmupCompleted(s models.WarmupSettings, now time.Time) bool {
	if s.EndDate == "" {
		return false
	}
	loc := s.Location()
	end, err := time.ParseInLocation(warmupDateLayout, s.EndDate, loc)
	if err != nil {
		return false
	}
	return !now.In(loc).Before(end.AddDate(0, 0, 1))
}

// WarmupWindow maps warmup settings onto a sending window.
func WarmupWindow(s models.WarmupSettings) ScheduleConfig {
	return ScheduleConfig{
		Timezone:    s.Timezone,
		WorkingDays: s.WorkingDays,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
	}
}
