package controller

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"coldrelay/models"
	"coldrelay/utils"
)

const (
	ErrInvalidCampaignID      = "invalid campaign ID"
	ErrCampaignNotFound       = "campaign not found"
	ErrCampaignNotDraft       = "campaign can only be started from draft or paused"
	ErrCampaignNotActive      = "campaign is not active"
	ErrCampaignEmptySequence  = "campaign sequence must contain at least one active step"
	ErrCampaignNoAccounts     = "campaign needs at least one sending account"
	ErrCampaignNoLeads        = "campaign has no leads to contact"
	ErrCampaignAlreadyStopped = "campaign is already stopped"
)

type CampaignController struct {
	DB *gorm.DB
}

func NewCampaignController(db *gorm.DB) *CampaignController {
	return &CampaignController{DB: db}
}

type createCampaignRequest struct {
	Name            string                  `json:"name" validate:"required"`
	Description     string                  `json:"description"`
	EmailAccountIDs []uint                  `json:"email_account_ids" validate:"required,min=1"`
	Sequence        []models.SequenceStep   `json:"sequence" validate:"required,min=1"`
	Settings        models.CampaignSettings `json:"settings"`
}

// CreateCampaign stores a draft campaign after validating that the
// sequence is usable and the sending accounts belong to the caller.
func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var req createCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidRequestBody})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	active := 0
	for _, step := range req.Sequence {
		if step.IsActive {
			active++
		}
	}
	if active == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrCampaignEmptySequence})
	}

	var owned int64
	cc.DB.Model(&models.EmailAccount{}).
		Where("id IN ? AND user_id = ?", req.EmailAccountIDs, userID).
		Count(&owned)
	if int(owned) != len(req.EmailAccountIDs) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrCampaignNoAccounts})
	}

	campaign := models.Campaign{
		UserID:          userID,
		Name:            req.Name,
		Description:     req.Description,
		Status:          models.CampaignDraft,
		EmailAccountIDs: req.EmailAccountIDs,
		Sequence:        req.Sequence,
		Settings:        req.Settings,
	}
	if err := cc.DB.Create(&campaign).Error; err != nil {
		utils.LogError(err, "failed to create campaign", map[string]interface{}{"user_id": userID})
		return fiber.ErrInternalServerError
	}

	utils.LogEvent("campaign created", map[string]interface{}{"campaign_id": campaign.ID})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": campaign})
}

type addLeadsRequest struct {
	LeadIDs []uint `json:"lead_ids" validate:"required,min=1"`
}

// AddLeads enrolls leads into the campaign. Terminal leads are skipped;
// re-adding an enrolled lead is a no-op.
func (cc *CampaignController) AddLeads(c *fiber.Ctx) error {
	campaign, err := cc.findOwned(c)
	if err != nil {
		return err
	}

	var req addLeadsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidRequestBody})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var leads []models.Lead
	err = cc.DB.Where("id IN ? AND user_id = ?", req.LeadIDs, campaign.UserID).Find(&leads).Error
	if err != nil {
		return fiber.ErrInternalServerError
	}

	added := 0
	for i := range leads {
		if leads[i].IsTerminal() {
			continue
		}
		state := models.CampaignLead{CampaignID: campaign.ID, LeadID: leads[i].ID}
		res := cc.DB.Where(models.CampaignLead{CampaignID: campaign.ID, LeadID: leads[i].ID}).
			FirstOrCreate(&state)
		if res.Error != nil {
			utils.LogError(res.Error, "failed to enroll lead", map[string]interface{}{
				"campaign_id": campaign.ID,
				"lead_id":     leads[i].ID,
			})
			continue
		}
		if res.RowsAffected > 0 {
			added++
		}
	}

	if added > 0 {
		cc.DB.Model(campaign).Update("stats_total_leads", gorm.Expr("stats_total_leads + ?", added))
	}
	return utils.SuccessResponse(c, fiber.Map{"added": added})
}

// StartCampaign activates a draft or paused campaign.
func (cc *CampaignController) StartCampaign(c *fiber.Ctx) error {
	campaign, err := cc.findOwned(c)
	if err != nil {
		return err
	}
	if campaign.Status != models.CampaignDraft && campaign.Status != models.CampaignPaused {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": ErrCampaignNotDraft})
	}

	var enrolled int64
	cc.DB.Model(&models.CampaignLead{}).
		Where("campaign_id = ? AND exited = ?", campaign.ID, false).
		Count(&enrolled)
	if enrolled == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrCampaignNoLeads})
	}

	updates := map[string]interface{}{"status": models.CampaignActive}
	if campaign.StartedAt == nil {
		updates["started_at"] = time.Now()
	}
	if err := cc.DB.Model(campaign).Updates(updates).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	utils.LogEvent("campaign started", map[string]interface{}{"campaign_id": campaign.ID})
	return utils.SuccessResponse(c, fiber.Map{"status": models.CampaignActive})
}

// PauseCampaign suspends dispatch; sequence state is untouched.
func (cc *CampaignController) PauseCampaign(c *fiber.Ctx) error {
	campaign, err := cc.findOwned(c)
	if err != nil {
		return err
	}
	if campaign.Status != models.CampaignActive {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": ErrCampaignNotActive})
	}

	if err := cc.DB.Model(campaign).Update("status", models.CampaignPaused).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	utils.LogEvent("campaign paused", map[string]interface{}{"campaign_id": campaign.ID})
	return utils.SuccessResponse(c, fiber.Map{"status": models.CampaignPaused})
}

// StopCampaign ends the campaign permanently.
func (cc *CampaignController) StopCampaign(c *fiber.Ctx) error {
	campaign, err := cc.findOwned(c)
	if err != nil {
		return err
	}
	if campaign.Status == models.CampaignStopped || campaign.Status == models.CampaignCompleted {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": ErrCampaignAlreadyStopped})
	}

	err = cc.DB.Model(campaign).Updates(map[string]interface{}{
		"status":       models.CampaignStopped,
		"completed_at": time.Now(),
	}).Error
	if err != nil {
		return fiber.ErrInternalServerError
	}
	utils.LogEvent("campaign stopped", map[string]interface{}{"campaign_id": campaign.ID})
	return utils.SuccessResponse(c, fiber.Map{"status": models.CampaignStopped})
}

func (cc *CampaignController) ListCampaigns(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var campaigns []models.Campaign
	if err := cc.DB.Where("user_id = ?", userID).Order("id DESC").Find(&campaigns).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return utils.SuccessResponse(c, campaigns)
}

func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	campaign, err := cc.findOwned(c)
	if err != nil {
		return err
	}
	return utils.SuccessResponse(c, campaign)
}

// CampaignStats returns the counters plus derived rates.
func (cc *CampaignController) CampaignStats(c *fiber.Ctx) error {
	campaign, err := cc.findOwned(c)
	if err != nil {
		return err
	}
	return utils.SuccessResponse(c, statsPayload(campaign))
}

func statsPayload(campaign *models.Campaign) fiber.Map {
	stats := campaign.Stats
	rate := func(n int) float64 {
		if stats.EmailsSent == 0 {
			return 0
		}
		return float64(n) / float64(stats.EmailsSent)
	}
	return fiber.Map{
		"campaign_id": campaign.ID,
		"status":      campaign.Status,
		"stats":       stats,
		"open_rate":   rate(stats.Opened),
		"click_rate":  rate(stats.Clicked),
		"reply_rate":  rate(stats.Replied),
		"bounce_rate": rate(stats.Bounced),
	}
}

func (cc *CampaignController) findOwned(c *fiber.Ctx) (*models.Campaign, error) {
	userID := c.Locals("userID").(uint)
	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, ErrInvalidCampaignID)
	}

	var campaign models.Campaign
	err = cc.DB.Where("id = ? AND user_id = ?", id, userID).First(&campaign).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fiber.NewError(fiber.StatusNotFound, ErrCampaignNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}
