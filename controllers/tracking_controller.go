package controller

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"coldrelay/models"
	"coldrelay/observability"
	"coldrelay/utils"
)

const (
	ErrPixelNotFound     = "tracking pixel not found"
	ErrInvalidTargetURL  = "invalid redirect target"
	ErrTrackingInternal  = "failed to record tracking event"
	ErrUnsubscribeFailed = "failed to process unsubscribe"
)

// transparent 1x1 GIF served by the open pixel
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackingController serves the public engagement endpoints. They are
// unauthenticated and must never reveal whether an id exists, so every
// open request returns the pixel and every unsubscribe confirms.
type TrackingController struct {
	DB *gorm.DB
}

func NewTrackingController(db *gorm.DB) *TrackingController {
	return &TrackingController{DB: db}
}

func (tc *TrackingController) findLog(pixelID string) (*models.EmailLog, error) {
	var log models.EmailLog
	err := tc.DB.Where("tracking_pixel_id = ?", pixelID).First(&log).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// TrackOpen records the first open for a send and returns the pixel.
// Repeat opens are no-ops; the status transition is forward-only.
func (tc *TrackingController) TrackOpen(c *fiber.Ctx) error {
	pixelID := c.Params("pixelID")

	log, err := tc.findLog(pixelID)
	if err != nil {
		utils.LogError(err, ErrTrackingInternal, map[string]interface{}{"pixel_id": pixelID})
	}
	if log != nil && log.CanMarkOpened() {
		if err := tc.markOpened(log); err != nil {
			utils.LogError(err, ErrTrackingInternal, map[string]interface{}{"pixel_id": pixelID})
		} else {
			observability.TrackingOpens.Inc()
		}
	}

	c.Set("Content-Type", "image/gif")
	c.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	return c.Send(pixelGIF)
}

func (tc *TrackingController) markOpened(log *models.EmailLog) error {
	return tc.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.EmailLog{}).
			Where("id = ? AND status IN ?", log.ID, []string{models.EmailSent, models.EmailDelivered}).
			Updates(map[string]interface{}{
				"status":    models.EmailOpened,
				"opened_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		// Lost the race with another open; the first one counted.
		if res.RowsAffected == 0 {
			return nil
		}

		if log.CampaignID != nil {
			if err := tx.Model(&models.Campaign{}).Where("id = ?", *log.CampaignID).
				Update("stats_opened", gorm.Expr("stats_opened + 1")).Error; err != nil {
				return err
			}
			if log.LeadID != nil {
				if err := tx.Model(&models.CampaignLead{}).
					Where("campaign_id = ? AND lead_id = ?", *log.CampaignID, *log.LeadID).
					Update("opened_since_step", true).Error; err != nil {
					return err
				}
			}
		}
		return tc.advanceLead(tx, log, models.LeadOpened)
	})
}

// TrackClick records a link click and redirects to the real target.
func (tc *TrackingController) TrackClick(c *fiber.Ctx) error {
	pixelID := c.Params("pixelID")
	target := c.Query("url")
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidTargetURL})
	}

	log, err := tc.findLog(pixelID)
	if err != nil {
		utils.LogError(err, ErrTrackingInternal, map[string]interface{}{"pixel_id": pixelID})
	}
	if log != nil {
		if err := tc.markClicked(log); err != nil {
			utils.LogError(err, ErrTrackingInternal, map[string]interface{}{"pixel_id": pixelID})
		} else {
			observability.TrackingClicks.Inc()
		}
	}

	return c.Redirect(target, fiber.StatusFound)
}

func (tc *TrackingController) markClicked(log *models.EmailLog) error {
	return tc.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.EmailLog{}).
			Where("id = ? AND clicked_at IS NULL", log.ID).
			Updates(map[string]interface{}{
				"status":     models.EmailClicked,
				"clicked_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		// A click implies the mail was opened even if the pixel was
		// blocked; a backfilled open counts once, like a pixel hit.
		backfill := tx.Model(&models.EmailLog{}).
			Where("id = ? AND opened_at IS NULL", log.ID).
			Update("opened_at", time.Now())
		if backfill.Error != nil {
			return backfill.Error
		}

		if log.CampaignID != nil {
			if backfill.RowsAffected > 0 {
				if err := tx.Model(&models.Campaign{}).Where("id = ?", *log.CampaignID).
					Update("stats_opened", gorm.Expr("stats_opened + 1")).Error; err != nil {
					return err
				}
			}
			if err := tx.Model(&models.Campaign{}).Where("id = ?", *log.CampaignID).
				Update("stats_clicked", gorm.Expr("stats_clicked + 1")).Error; err != nil {
				return err
			}
			if log.LeadID != nil {
				if err := tx.Model(&models.CampaignLead{}).
					Where("campaign_id = ? AND lead_id = ?", *log.CampaignID, *log.LeadID).
					Updates(map[string]interface{}{
						"opened_since_step":  true,
						"clicked_since_step": true,
					}).Error; err != nil {
					return err
				}
			}
		}
		return tc.advanceLead(tx, log, models.LeadClicked)
	})
}

// Unsubscribe honors a one-click unsubscribe and exits the lead from
// every sequence it is in.
func (tc *TrackingController) Unsubscribe(c *fiber.Ctx) error {
	pixelID := c.Params("pixelID")

	log, err := tc.findLog(pixelID)
	if err != nil {
		utils.LogError(err, ErrUnsubscribeFailed, map[string]interface{}{"pixel_id": pixelID})
	}
	if log != nil && log.LeadID != nil {
		if err := tc.markUnsubscribed(log); err != nil {
			utils.LogError(err, ErrUnsubscribeFailed, map[string]interface{}{"pixel_id": pixelID})
		}
	}

	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.SendString("<html><body><p>You have been unsubscribed.</p></body></html>")
}

func (tc *TrackingController) markUnsubscribed(log *models.EmailLog) error {
	return tc.DB.Transaction(func(tx *gorm.DB) error {
		var lead models.Lead
		if err := tx.First(&lead, *log.LeadID).Error; err != nil {
			return err
		}
		if lead.Status == models.LeadUnsubscribed {
			return nil
		}
		lead.AdvanceStatus(models.LeadUnsubscribed)
		err := tx.Model(&lead).Updates(map[string]interface{}{
			"status":          lead.Status,
			"unsubscribed_at": time.Now(),
		}).Error
		if err != nil {
			return err
		}

		if log.CampaignID != nil {
			if err := tx.Model(&models.Campaign{}).Where("id = ?", *log.CampaignID).
				Update("stats_unsubscribed", gorm.Expr("stats_unsubscribed + 1")).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.CampaignLead{}).
			Where("lead_id = ? AND exited = ?", lead.ID, false).
			Updates(map[string]interface{}{
				"exited":      true,
				"exit_reason": models.ExitUnsubscribed,
			}).Error
	})
}

func (tc *TrackingController) advanceLead(tx *gorm.DB, log *models.EmailLog, status string) error {
	if log.LeadID == nil {
		return nil
	}
	var lead models.Lead
	if err := tx.First(&lead, *log.LeadID).Error; err != nil {
		return err
	}
	if !lead.AdvanceStatus(status) {
		return nil
	}
	return tx.Model(&lead).Update("status", lead.Status).Error
}
