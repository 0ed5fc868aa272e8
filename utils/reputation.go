package utils

import (
	"context"
	"time"

	"gorm.io/gorm"

	"coldrelay/models"
)

// Scorer derives an account health score in [0, 100] from recent
// delivery outcomes.
type Scorer interface {
	Recompute(ctx context.Context, accountID uint) (int, error)
}

// ReputationCounts are the raw outcome counts over the scoring window.
type ReputationCounts struct {
	Sent    int64
	Opened  int64
	Replied int64
	Bounced int64
	Spam    int64
}

// WeightedScorer scores opens, replies and spam-free placement over a
// trailing window of days. An account with no sends in the window keeps
// a perfect score rather than being punished for silence.
type WeightedScorer struct {
	DB         *gorm.DB
	WindowDays int
}

func NewWeightedScorer(db *gorm.DB) *WeightedScorer {
	return &WeightedScorer{DB: db, WindowDays: 7}
}

func (s *WeightedScorer) Recompute(ctx context.Context, accountID uint) (int, error) {
	counts, err := s.collect(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return ScoreFromCounts(counts), nil
}

func (s *WeightedScorer) collect(ctx context.Context, accountID uint) (ReputationCounts, error) {
	var c ReputationCounts
	since := time.Now().AddDate(0, 0, -s.WindowDays)
	db := s.DB.WithContext(ctx)

	base := func() *gorm.DB {
		return db.Model(&models.WarmupEmail{}).
			Where("from_account_id = ? AND sent_at > ?", accountID, since)
	}

	if err := base().Where("status <> ?", models.WarmupEmailPending).Count(&c.Sent).Error; err != nil {
		return c, err
	}
	if err := base().Where("status IN ?", []string{models.WarmupEmailOpened, models.WarmupEmailReplied}).Count(&c.Opened).Error; err != nil {
		return c, err
	}
	if err := base().Where("status = ?", models.WarmupEmailReplied).Count(&c.Replied).Error; err != nil {
		return c, err
	}
	if err := base().Where("status = ?", models.WarmupEmailSpam).Count(&c.Spam).Error; err != nil {
		return c, err
	}

	err := db.Model(&models.EmailLog{}).
		Where("email_account_id = ? AND created_at > ? AND status = ?", accountID, since, models.EmailBounced).
		Count(&c.Bounced).Error
	return c, err
}

// ScoreFromCounts applies the weighting: opens are worth half the score,
// replies under a third, spam-free placement the rest, and bounces
// subtract. The result is clamped to [0, 100].
func ScoreFromCounts(c ReputationCounts) int {
	if c.Sent == 0 {
		return 100
	}

	total := float64(c.Sent)
	openRate := float64(c.Opened) / total
	replyRate := float64(c.Replied) / total
	spamRate := float64(c.Spam) / total
	bounceRate := float64(c.Bounced) / total

	score := openRate*50 + replyRate*30 + (1-spamRate)*20 - bounceRate*40
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(score + 0.5)
}

// SpamRate returns the spam placement rate over the window, used by the
// warmup auto-pause check.
func (s *WeightedScorer) SpamRate(ctx context.Context, accountID uint) (float64, error) {
	counts, err := s.collect(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if counts.Sent == 0 {
		return 0, nil
	}
	return float64(counts.Spam) / float64(counts.Sent), nil
}
