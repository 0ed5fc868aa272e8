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
	ErrInvalidAccountID     = "invalid account ID"
	ErrAccountNotFound      = "email account not found"
	ErrWarmupAlreadyRunning = "warmup is already running for this account"
	ErrWarmupNotRunning     = "warmup is not running for this account"
	ErrWarmupNotPaused      = "warmup is not paused for this account"
	ErrInvalidRequestBody   = "invalid request body"
)

// WarmupController drives the warmup lifecycle for an email account:
// start, pause (keeps ramp progress), resume, and stop (discards it).
type WarmupController struct {
	DB     *gorm.DB
	Scorer *utils.WeightedScorer
}

func NewWarmupController(db *gorm.DB, scorer *utils.WeightedScorer) *WarmupController {
	return &WarmupController{DB: db, Scorer: scorer}
}

func (wc *WarmupController) account(c *fiber.Ctx) (*models.EmailAccount, error) {
	userID := c.Locals("userID").(uint)
	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, ErrInvalidAccountID)
	}

	var account models.EmailAccount
	err = wc.DB.Where("id = ? AND user_id = ?", id, userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fiber.NewError(fiber.StatusNotFound, ErrAccountNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

type startWarmupRequest struct {
	Settings *models.WarmupSettings `json:"settings"`
}

// StartWarmup begins (or restarts) the ramp from day zero.
func (wc *WarmupController) StartWarmup(c *fiber.Ctx) error {
	account, err := wc.account(c)
	if err != nil {
		return err
	}
	if account.WarmupStatus == models.WarmupInProgress {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": ErrWarmupAlreadyRunning})
	}

	var req startWarmupRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidRequestBody})
		}
	}

	settings := models.DefaultWarmupSettings()
	if req.Settings != nil {
		settings = *req.Settings
	}
	settings.Enabled = true
	if settings.Timezone == "" {
		settings.Timezone = account.Timezone
	}
	settings.Sanitize()
	settings.StartDate = time.Now().In(settings.Location()).Format("2006-01-02")

	err = wc.DB.Model(account).Updates(map[string]interface{}{
		"warmup_status":   models.WarmupInProgress,
		"warmup_settings": settings,
	}).Error
	if err != nil {
		utils.LogError(err, "failed to start warmup", map[string]interface{}{"account_id": account.ID})
		return fiber.ErrInternalServerError
	}

	utils.LogEvent("warmup started", map[string]interface{}{"account_id": account.ID})
	account.WarmupStatus = models.WarmupInProgress
	account.WarmupSettings = settings
	return utils.SuccessResponse(c, wc.statusPayload(c, account))
}

// PauseWarmup halts sending but keeps the ramp position, so resuming
// continues where it left off.
func (wc *WarmupController) PauseWarmup(c *fiber.Ctx) error {
	account, err := wc.account(c)
	if err != nil {
		return err
	}
	if account.WarmupStatus != models.WarmupInProgress {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": ErrWarmupNotRunning})
	}

	if err := wc.DB.Model(account).Update("warmup_status", models.WarmupPaused).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	account.WarmupStatus = models.WarmupPaused
	utils.LogEvent("warmup paused", map[string]interface{}{"account_id": account.ID})
	return utils.SuccessResponse(c, wc.statusPayload(c, account))
}

// ResumeWarmup continues a paused ramp without touching the start date.
func (wc *WarmupController) ResumeWarmup(c *fiber.Ctx) error {
	account, err := wc.account(c)
	if err != nil {
		return err
	}
	if account.WarmupStatus != models.WarmupPaused {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": ErrWarmupNotPaused})
	}

	if err := wc.DB.Model(account).Update("warmup_status", models.WarmupInProgress).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	account.WarmupStatus = models.WarmupInProgress
	utils.LogEvent("warmup resumed", map[string]interface{}{"account_id": account.ID})
	return utils.SuccessResponse(c, wc.statusPayload(c, account))
}

// StopWarmup ends the warmup and discards the ramp progress entirely.
func (wc *WarmupController) StopWarmup(c *fiber.Ctx) error {
	account, err := wc.account(c)
	if err != nil {
		return err
	}
	if account.WarmupStatus == models.WarmupNotStarted {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": ErrWarmupNotRunning})
	}

	settings := account.WarmupSettings
	settings.Enabled = false
	settings.StartDate = ""

	err = wc.DB.Model(account).Updates(map[string]interface{}{
		"warmup_status":   models.WarmupNotStarted,
		"warmup_settings": settings,
	}).Error
	if err != nil {
		return fiber.ErrInternalServerError
	}
	account.WarmupStatus = models.WarmupNotStarted
	account.WarmupSettings = settings
	utils.LogEvent("warmup stopped", map[string]interface{}{"account_id": account.ID})
	return utils.SuccessResponse(c, wc.statusPayload(c, account))
}

// WarmupStatus reports the ramp position and the recent health numbers.
func (wc *WarmupController) WarmupStatus(c *fiber.Ctx) error {
	account, err := wc.account(c)
	if err != nil {
		return err
	}
	return utils.SuccessResponse(c, wc.statusPayload(c, account))
}

func (wc *WarmupController) statusPayload(c *fiber.Ctx, account *models.EmailAccount) fiber.Map {
	settings := account.WarmupSettings
	settings.Sanitize()
	now := time.Now()

	var sentToday int64
	local := now.In(account.Location())
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, account.Location())
	wc.DB.Model(&models.WarmupEmail{}).
		Where("from_account_id = ? AND sent_at >= ?", account.ID, midnight).
		Count(&sentToday)

	spamRate, _ := wc.Scorer.SpamRate(c.Context(), account.ID)

	return fiber.Map{
		"account_id":   account.ID,
		"status":       account.WarmupStatus,
		"settings":     settings,
		"daily_target": utils.WarmupDailyTarget(settings, now),
		"sent_today":   sentToday,
		"reputation":   account.Reputation,
		"spam_rate":    spamRate,
	}
}
