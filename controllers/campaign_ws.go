package controller

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	"coldrelay/models"
)

// statsPushInterval is how often live campaign stats are pushed to a
// connected client.
const statsPushInterval = 5 * time.Second

// HandleCampaignStatsWS streams live stats for one campaign until the
// client disconnects or the campaign leaves the active state.
func HandleCampaignStatsWS(db *gorm.DB) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		userID, ok := c.Locals("userID").(uint)
		if !ok {
			return
		}

		var input struct {
			CampaignID uint `json:"campaign_id"`
		}
		if err := c.ReadJSON(&input); err != nil {
			return
		}

		ticker := time.NewTicker(statsPushInterval)
		defer ticker.Stop()

		for {
			var campaign models.Campaign
			err := db.Where("id = ? AND user_id = ?", input.CampaignID, userID).
				First(&campaign).Error
			if err != nil {
				c.WriteJSON(map[string]string{"error": ErrCampaignNotFound})
				return
			}

			if err := c.WriteJSON(statsPayload(&campaign)); err != nil {
				return
			}
			if campaign.Status != models.CampaignActive {
				return
			}
			<-ticker.C
		}
	}
}
