package utils

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/badoux/checkmail"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"coldrelay/models"
	"coldrelay/observability"
)

// Dispatcher is the single path every outbound email takes. It checks
// the sending window and reputation floor, reserves quota, applies the
// inter-send jitter, hands the message to the transport and records the
// attempt atomically with the campaign counters.
type Dispatcher struct {
	DB            *gorm.DB
	Transport     MailTransport
	Limiter       *QuotaLimiter
	MinReputation int
	TrackingBase  string
}

func NewDispatcher(db *gorm.DB, transport MailTransport, limiter *QuotaLimiter, minReputation int, trackingBase string) *Dispatcher {
	return &Dispatcher{
		DB:            db,
		Transport:     transport,
		Limiter:       limiter,
		MinReputation: minReputation,
		TrackingBase:  trackingBase,
	}
}

// DispatchRequest describes one email to send. Campaign and Lead are nil
// for warmup traffic.
type DispatchRequest struct {
	Account  *models.EmailAccount
	Campaign *models.Campaign
	Lead     *models.Lead

	ToEmail string
	ToName  string

	Type       string // models.EmailTypeCampaign / Warmup / Reply
	StepNumber int
	Subject    string
	TextBody   string
	HTMLBody   string

	InReplyTo  string
	References []string
	Headers    map[string]string

	Window   ScheduleConfig
	DailyCap int
	PerHour  int

	// Jitter between sends, in seconds. Randomized when RandomizeDelay
	// is set, otherwise applied as-is.
	DelaySeconds   int
	RandomizeDelay bool

	TrackOpens  bool
	TrackClicks bool
}

// Send runs the full dispatch pipeline and returns the created EmailLog
// on success. Denials come back as ErrOutsideSchedule,
// ErrReputationTooLow or *QuotaExceededError without a log row; transport
// failures produce a failed log and a *TransportError.
func (d *Dispatcher) Send(ctx context.Context, req DispatchRequest) (*models.EmailLog, error) {
	now := time.Now()
	if !req.Window.IsWithinWindow(now) {
		return nil, ErrOutsideSchedule
	}
	if req.Account.Reputation < d.MinReputation {
		return nil, ErrReputationTooLow
	}
	if err := checkmail.ValidateFormat(req.ToEmail); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", req.ToEmail, err)
	}

	reservation, err := d.Limiter.TryReserve(ctx, req.Account, req.Type, req.DailyCap, req.PerHour)
	if err != nil {
		if qe, ok := IsQuotaExceeded(err); ok {
			observability.QuotaDenials.WithLabelValues(qe.Scope).Inc()
		}
		return nil, err
	}

	if err := d.jitter(ctx, req); err != nil {
		reservation.Release()
		return nil, err
	}

	attemptID := ulid.Make().String()
	pixelID := ""
	html := req.HTMLBody
	if req.TrackOpens || req.TrackClicks {
		pixelID = NewTrackingPixelID()
		html = InjectTracking(html, d.TrackingBase, pixelID, req.TrackOpens, req.TrackClicks)
	}

	start := time.Now()
	messageID, sendErr := d.Transport.Send(ctx, req.Account, OutboundMessage{
		ToEmail:    req.ToEmail,
		ToName:     req.ToName,
		Subject:    req.Subject,
		TextBody:   req.TextBody,
		HTMLBody:   html,
		InReplyTo:  req.InReplyTo,
		References: req.References,
		Headers:    req.Headers,
	})
	observability.SendDuration.Observe(time.Since(start).Seconds())

	if sendErr != nil {
		reservation.Release()
		observability.EmailsFailed.WithLabelValues(req.Type).Inc()
		d.recordFailure(ctx, req, attemptID, sendErr)
		return nil, &TransportError{Err: sendErr}
	}

	log, err := d.recordSuccess(ctx, req, attemptID, pixelID, messageID)
	if err != nil {
		return nil, err
	}
	observability.EmailsSent.WithLabelValues(req.Type).Inc()
	return log, nil
}

func (d *Dispatcher) jitter(ctx context.Context, req DispatchRequest) error {
	if req.DelaySeconds <= 0 {
		return nil
	}
	delay := time.Duration(req.DelaySeconds) * time.Second
	if req.RandomizeDelay {
		delay = time.Duration(rand.Int63n(int64(delay) + 1))
	}
	if delay == 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *Dispatcher) newLog(req DispatchRequest, attemptID string) *models.EmailLog {
	log := &models.EmailLog{
		UserID:         req.Account.UserID,
		EmailAccountID: req.Account.ID,
		Type:           req.Type,
		StepNumber:     req.StepNumber,
		ToEmail:        req.ToEmail,
		Subject:        req.Subject,
		Content:        req.HTMLBody,
		AttemptID:      attemptID,
	}
	if req.Campaign != nil {
		log.CampaignID = &req.Campaign.ID
	}
	if req.Lead != nil {
		log.LeadID = &req.Lead.ID
	}
	return log
}

func (d *Dispatcher) recordFailure(ctx context.Context, req DispatchRequest, attemptID string, sendErr error) {
	log := d.newLog(req, attemptID)
	log.Status = models.EmailFailed
	log.ErrorMessage = sendErr.Error()
	if err := d.DB.WithContext(ctx).Create(log).Error; err != nil {
		LogError(err, "failed to record failed send", map[string]interface{}{
			"account_id": req.Account.ID,
			"attempt_id": attemptID,
		})
	}
}

func (d *Dispatcher) recordSuccess(ctx context.Context, req DispatchRequest, attemptID, pixelID, messageID string) (*models.EmailLog, error) {
	log := d.newLog(req, attemptID)
	log.Status = models.EmailSent
	log.SentAt = Pointer(time.Now())
	log.TrackingPixelID = pixelID
	log.MessageID = messageID

	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(log).Error; err != nil {
			return err
		}
		if req.Campaign != nil {
			if err := tx.Model(&models.Campaign{}).
				Where("id = ?", req.Campaign.ID).
				Update("stats_emails_sent", gorm.Expr("stats_emails_sent + 1")).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record sent email: %w", err)
	}
	return log, nil
}
