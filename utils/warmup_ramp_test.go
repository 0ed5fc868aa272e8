package utils

import (
	"testing"
	"time"

	"coldrelay/models"
)

func rampSettings() models.WarmupSettings {
	return models.WarmupSettings{
		DailyWarmupEmails: 5,
		MaxDailyEmails:    40,
		RampUpDays:        30,
		StartDate:         "2026-08-01",
		Timezone:          "UTC",
	}
}

func dayOffset(days int) time.Time {
	return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC).AddDate(0, 0, days)
}

func TestWarmupDailyTarget(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"before start", dayOffset(-1), 0},
		{"first day sends the floor", dayOffset(0), 5},
		{"mid ramp", dayOffset(15), 23},
		{"last ramp day", dayOffset(29), 39},
		{"ramp complete", dayOffset(30), 40},
		{"far past ramp", dayOffset(365), 40},
	}

	settings := rampSettings()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WarmupDailyTarget(settings, tt.now); got != tt.want {
				t.Errorf("WarmupDailyTarget(day %s) = %d, want %d", tt.now.Format("2006-01-02"), got, tt.want)
			}
		})
	}
}

func TestWarmupDailyTargetMonotonic(t *testing.T) {
	settings := rampSettings()
	prev := 0
	for day := 0; day <= 35; day++ {
		got := WarmupDailyTarget(settings, dayOffset(day))
		if got < prev {
			t.Fatalf("target decreased on day %d: %d -> %d", day, prev, got)
		}
		if got < settings.DailyWarmupEmails || got > settings.MaxDailyEmails {
			t.Fatalf("target %d on day %d outside [%d, %d]", got, day,
				settings.DailyWarmupEmails, settings.MaxDailyEmails)
		}
		prev = got
	}
}

func TestWarmupDailyTargetEdgeConfigs(t *testing.T) {
	t.Run("missing start date", func(t *testing.T) {
		settings := rampSettings()
		settings.StartDate = ""
		if got := WarmupDailyTarget(settings, dayOffset(10)); got != 0 {
			t.Errorf("want 0 without a start date, got %d", got)
		}
	})

	t.Run("zero ramp days jumps to max", func(t *testing.T) {
		settings := rampSettings()
		settings.RampUpDays = 0
		if got := WarmupDailyTarget(settings, dayOffset(0)); got != settings.MaxDailyEmails {
			t.Errorf("want %d with no ramp, got %d", settings.MaxDailyEmails, got)
		}
	})
}

func TestWarmupDailyTargetAcrossDSTTransition(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// US DST starts 2026-03-08; the week after, local midnights are only
	// 23 hours past the start-day midnight times fourteen. The ramp day
	// must still count calendar days.
	settings := rampSettings()
	settings.StartDate = "2026-03-01"
	settings.Timezone = "America/New_York"

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, loc)
	want := WarmupDailyTarget(rampSettingsUTCMarch(), time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	if got := WarmupDailyTarget(settings, now); got != want {
		t.Errorf("target across DST = %d, want %d as in a fixed-offset zone", got, want)
	}
	// Day 14 of a 5→40 ramp over 30 days rounds to 21.
	if got := WarmupDailyTarget(settings, now); got != 21 {
		t.Errorf("target on ramp day 14 = %d, want 21", got)
	}
}

func rampSettingsUTCMarch() models.WarmupSettings {
	s := rampSettings()
	s.StartDate = "2026-03-01"
	return s
}

func TestWarmupCompleted(t *testing.T) {
	settings := rampSettings()
	settings.EndDate = "2026-09-15"

	if WarmupCompleted(settings, dayOffset(30)) {
		t.Error("warmup should not be complete before the end date")
	}
	if !WarmupCompleted(settings, time.Date(2026, 9, 16, 1, 0, 0, 0, time.UTC)) {
		t.Error("warmup should be complete after the end date")
	}
	settings.EndDate = ""
	if WarmupCompleted(settings, dayOffset(500)) {
		t.Error("warmup without an end date never completes by date")
	}
}
