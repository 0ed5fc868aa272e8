package utils

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
)

// warmupHeader marks synthetic warmup traffic so peer accounts can
// recognize it without content inspection.
const WarmupHeader = "X-Coldrelay-Warmup"

var warmupSubjects = []string{
	"Quick question about the roadmap",
	"Following up on last week",
	"Notes from the planning call",
	"Thoughts on the new proposal?",
	"Checking in before Friday",
	"Re-confirming next steps",
	"Draft agenda for review",
	"Short update on the project",
}

var warmupBodies = []string{
	"Hi %s,\n\nWanted to circle back on this before the week ends. Let me know if the timing still works on your side.\n\nBest,\n%s",
	"Hi %s,\n\nSharing a quick update. Things are moving along and I should have more detail by early next week.\n\nThanks,\n%s",
	"Hey %s,\n\nDid you get a chance to look at the notes I sent over? No rush, just keeping it on your radar.\n\nCheers,\n%s",
	"Hi %s,\n\nA short note to confirm we are still on track. Happy to jump on a call if anything needs clarifying.\n\nRegards,\n%s",
}

var warmupReplies = []string{
	"Hi %s,\n\nThanks for the update, this all sounds good to me. Let's keep the current plan.\n\nBest,\n%s",
	"Hey %s,\n\nGot it, appreciate the heads up. I'll review and come back to you shortly.\n\nThanks,\n%s",
	"Hi %s,\n\nSounds good. Friday works on my end as well.\n\nCheers,\n%s",
}

// BuildWarmupContent picks a subject and body for a new warmup thread.
func BuildWarmupContent(toName, fromName string) (subject, body string) {
	subject = warmupSubjects[rand.Intn(len(warmupSubjects))]
	body = fmt.Sprintf(warmupBodies[rand.Intn(len(warmupBodies))], displayName(toName), displayName(fromName))
	return subject, body
}

// BuildWarmupReply picks a reply body and derives the threaded subject.
func BuildWarmupReply(originalSubject, toName, fromName string) (subject, body string) {
	subject = originalSubject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	body = fmt.Sprintf(warmupReplies[rand.Intn(len(warmupReplies))], displayName(toName), displayName(fromName))
	return subject, body
}

func displayName(name string) string {
	if name == "" {
		return "there"
	}
	if i := strings.IndexByte(name, ' '); i > 0 {
		return name[:i]
	}
	return name
}

// NewThreadID issues an opaque id tying a warmup conversation together.
func NewThreadID() string {
	return uuid.NewString()
}
