package utils

import (
	"testing"
	"time"

	"coldrelay/models"
)

func threeStepSequence() []models.SequenceStep {
	return []models.SequenceStep{
		{StepNumber: 1, Subject: "Intro", DelayDays: 0, IsActive: true},
		{
			StepNumber: 2,
			Subject:    "Opened follow-up",
			DelayDays:  2,
			IsActive:   true,
			Conditions: models.StepConditions{IfOpened: true},
		},
		{StepNumber: 3, Subject: "Breakup", DelayDays: 4, IsActive: true},
	}
}

func TestEvaluateConditions(t *testing.T) {
	tests := []struct {
		name       string
		conditions models.StepConditions
		snapshot   models.EngagementSnapshot
		want       bool
	}{
		{"no conditions always fire", models.StepConditions{}, models.EngagementSnapshot{}, true},
		{"if_opened met", models.StepConditions{IfOpened: true}, models.EngagementSnapshot{Opened: true}, true},
		{"if_opened unmet", models.StepConditions{IfOpened: true}, models.EngagementSnapshot{}, false},
		{"if_not_opened met", models.StepConditions{IfNotOpened: true}, models.EngagementSnapshot{}, true},
		{"if_not_opened unmet", models.StepConditions{IfNotOpened: true}, models.EngagementSnapshot{Opened: true}, false},
		{
			"conjunction requires all",
			models.StepConditions{IfOpened: true, IfClicked: true},
			models.EngagementSnapshot{Opened: true},
			false,
		},
		{
			"replied condition",
			models.StepConditions{IfReplied: true},
			models.EngagementSnapshot{Replied: true},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluateConditions(tt.conditions, tt.snapshot); got != tt.want {
				t.Errorf("EvaluateConditions = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextEligibleStep(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	sequence := threeStepSequence()

	t.Run("fresh lead gets step one immediately", func(t *testing.T) {
		lead := &models.CampaignLead{CurrentStep: 0}
		step, _, finished := NextEligibleStep(sequence, lead, now)
		if finished || step == nil || step.StepNumber != 1 {
			t.Fatalf("got step %v finished %v, want step 1", step, finished)
		}
	})

	t.Run("delay not elapsed waits", func(t *testing.T) {
		sent := now.AddDate(0, 0, -1)
		lead := &models.CampaignLead{CurrentStep: 1, LastStepSentAt: &sent, OpenedSinceStep: true}
		step, skipped, finished := NextEligibleStep(sequence, lead, now)
		if step != nil || skipped != 0 || finished {
			t.Fatalf("got step %v skipped %d finished %v, want wait", step, skipped, finished)
		}
	})

	t.Run("condition meets fires step two", func(t *testing.T) {
		sent := now.AddDate(0, 0, -3)
		lead := &models.CampaignLead{CurrentStep: 1, LastStepSentAt: &sent, OpenedSinceStep: true}
		step, _, finished := NextEligibleStep(sequence, lead, now)
		if finished || step == nil || step.StepNumber != 2 {
			t.Fatalf("got step %v finished %v, want step 2", step, finished)
		}
	})

	t.Run("condition-skipped step falls through to next", func(t *testing.T) {
		// Never opened: step 2 is skipped; step 3 fires once its delay
		// from the last send has elapsed.
		sent := now.AddDate(0, 0, -5)
		lead := &models.CampaignLead{CurrentStep: 1, LastStepSentAt: &sent}
		step, skipped, finished := NextEligibleStep(sequence, lead, now)
		if finished || step == nil || step.StepNumber != 3 {
			t.Fatalf("got step %v finished %v, want step 3", step, finished)
		}
		if skipped != 2 {
			t.Errorf("skipped = %d, want 2", skipped)
		}
	})

	t.Run("condition skip is reported before the next step is due", func(t *testing.T) {
		// Step 2 came due unopened while step 3 still has to wait; the
		// skip must be reported so the caller can latch it.
		sent := now.AddDate(0, 0, -3)
		lead := &models.CampaignLead{CurrentStep: 1, LastStepSentAt: &sent}
		step, skipped, finished := NextEligibleStep(sequence, lead, now)
		if step != nil || finished {
			t.Fatalf("got step %v finished %v, want wait", step, finished)
		}
		if skipped != 2 {
			t.Fatalf("skipped = %d, want 2", skipped)
		}

		// With the position latched, a late open cannot resurrect step 2.
		lead.CurrentStep = skipped
		lead.OpenedSinceStep = true
		step, skipped, finished = NextEligibleStep(sequence, lead, now)
		if step != nil || skipped != 0 || finished {
			t.Fatalf("got step %v skipped %d finished %v, want wait for step 3", step, skipped, finished)
		}
	})

	t.Run("exhausted sequence finishes", func(t *testing.T) {
		sent := now.AddDate(0, 0, -1)
		lead := &models.CampaignLead{CurrentStep: 3, LastStepSentAt: &sent}
		step, _, finished := NextEligibleStep(sequence, lead, now)
		if !finished || step != nil {
			t.Fatalf("got step %v finished %v, want finished", step, finished)
		}
	})

	t.Run("only condition-skipped steps remain finishes", func(t *testing.T) {
		conditional := []models.SequenceStep{
			{StepNumber: 1, DelayDays: 0, IsActive: true, Conditions: models.StepConditions{IfReplied: true}},
		}
		lead := &models.CampaignLead{CurrentStep: 0}
		step, skipped, finished := NextEligibleStep(conditional, lead, now)
		if !finished || step != nil {
			t.Fatalf("got step %v finished %v, want finished", step, finished)
		}
		if skipped != 1 {
			t.Errorf("skipped = %d, want 1", skipped)
		}
	})

	t.Run("inactive steps are invisible", func(t *testing.T) {
		seq := threeStepSequence()
		seq[1].IsActive = false
		sent := now.AddDate(0, 0, -5)
		lead := &models.CampaignLead{CurrentStep: 1, LastStepSentAt: &sent, OpenedSinceStep: true}
		step, _, finished := NextEligibleStep(seq, lead, now)
		if finished || step == nil || step.StepNumber != 3 {
			t.Fatalf("got step %v finished %v, want step 3", step, finished)
		}
	})
}

func TestRenderTemplate(t *testing.T) {
	lead := &models.Lead{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Company:   "Analytical Engines",
		JobTitle:  "Engineer",
	}

	tests := []struct {
		name string
		text string
		want string
	}{
		{"simple substitution", "Hi {{first_name}}!", "Hi Ada!"},
		{"multiple variables", "{{first_name}} {{last_name}} at {{company}}", "Ada Lovelace at Analytical Engines"},
		{"whitespace tolerated", "Hi {{ first_name }}", "Hi Ada"},
		{"unknown variable collapses", "Hi {{nickname}}", "Hi "},
		{"no variables untouched", "Plain text", "Plain text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderTemplate(tt.text, lead); got != tt.want {
				t.Errorf("RenderTemplate(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}

	t.Run("nil lead clears variables", func(t *testing.T) {
		if got := RenderTemplate("Hi {{first_name}}", nil); got != "Hi " {
			t.Errorf("got %q", got)
		}
	})
}
