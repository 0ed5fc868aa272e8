package utils

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"coldrelay/models"
)

// EvaluateConditions decides whether a step applies to a lead given its
// engagement since the previous step. A step with no conditions always
// applies. Multiple set conditions are conjunctive.
func EvaluateConditions(c models.StepConditions, s models.EngagementSnapshot) bool {
	if !c.HasAny() {
		return true
	}
	if c.IfOpened && !s.Opened {
		return false
	}
	if c.IfClicked && !s.Clicked {
		return false
	}
	if c.IfReplied && !s.Replied {
		return false
	}
	if c.IfNotOpened && s.Opened {
		return false
	}
	return true
}

// NextEligibleStep walks the sequence forward from the lead's current
// position. It returns the first active step whose delay has elapsed and
// whose conditions match. A step whose conditions fail at its due time
// is skipped for good: skippedThrough reports the highest step number
// skipped this way so the caller can latch the lead's position past it —
// without the latch, engagement arriving later would resurrect the step.
// finished is true when the lead has exhausted the sequence and should
// exit.
//
// Delays are measured from the previous actual send (LastStepSentAt);
// a lead that has not received any step yet is eligible immediately.
func NextEligibleStep(sequence []models.SequenceStep, lead *models.CampaignLead, now time.Time) (step *models.SequenceStep, skippedThrough int, finished bool) {
	ordered := make([]models.SequenceStep, 0, len(sequence))
	for _, s := range sequence {
		if s.IsActive && s.StepNumber > lead.CurrentStep {
			ordered = append(ordered, s)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].StepNumber < ordered[j].StepNumber
	})

	if len(ordered) == 0 {
		return nil, 0, true
	}

	snapshot := lead.Snapshot()
	for i := range ordered {
		candidate := &ordered[i]
		if !delayElapsed(candidate, lead, now) {
			// Steps run in order; a later step cannot jump the queue.
			return nil, skippedThrough, false
		}
		if EvaluateConditions(candidate.Conditions, snapshot) {
			return candidate, skippedThrough, false
		}
		skippedThrough = candidate.StepNumber
	}

	// Every remaining step was condition-skipped.
	return nil, skippedThrough, true
}

func delayElapsed(step *models.SequenceStep, lead *models.CampaignLead, now time.Time) bool {
	if lead.LastStepSentAt == nil {
		return true
	}
	due := lead.LastStepSentAt.AddDate(0, 0, step.DelayDays)
	return !now.Before(due)
}

var variablePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// RenderTemplate substitutes lead variables into subject or body text.
// Unknown variables collapse to the empty string.
func RenderTemplate(text string, lead *models.Lead) string {
	if lead == nil {
		return variablePattern.ReplaceAllString(text, "")
	}

	vars := map[string]string{
		"first_name": lead.FirstName,
		"last_name":  lead.LastName,
		"email":      lead.Email,
		"company":    lead.Company,
		"job_title":  lead.JobTitle,
		"website":    lead.Website,
		"industry":   lead.Industry,
	}

	return variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		key := strings.ToLower(variablePattern.FindStringSubmatch(match)[1])
		return vars[key]
	})
}
