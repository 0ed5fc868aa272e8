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
	ErrAccountExists     = "an account with this email already exists"
	ErrAccountTestFailed = "account connectivity test failed"
)

type AccountController struct {
	DB        *gorm.DB
	Transport utils.MailTransport
}

func NewAccountController(db *gorm.DB, transport utils.MailTransport) *AccountController {
	return &AccountController{DB: db, Transport: transport}
}

type createAccountRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name"`
	Provider string `json:"provider" validate:"omitempty,oneof=smtp gmail outlook namecheap"`

	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"smtp_password"`
	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port"`
	IMAPUsername string `json:"imap_username"`
	IMAPPassword string `json:"imap_password"`

	OAuthRefreshToken string `json:"oauth_refresh_token"`

	Timezone   string `json:"timezone"`
	DailyLimit int    `json:"daily_limit"`
}

// CreateAccount connects a mailbox. Credentials are encrypted at rest
// and the sending domain is checked before the account is usable.
func (ac *AccountController) CreateAccount(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var req createAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidRequestBody})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var existing int64
	ac.DB.Model(&models.EmailAccount{}).
		Where("user_id = ? AND email = ?", userID, req.Email).
		Count(&existing)
	if existing > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": ErrAccountExists})
	}

	account := models.EmailAccount{
		UserID:       userID,
		Email:        req.Email,
		Name:         req.Name,
		Provider:     req.Provider,
		SMTPHost:     req.SMTPHost,
		SMTPPort:     req.SMTPPort,
		SMTPUsername: req.SMTPUsername,
		IMAPHost:     req.IMAPHost,
		IMAPPort:     req.IMAPPort,
		IMAPUsername: req.IMAPUsername,
		Timezone:     req.Timezone,
		DailyLimit:   req.DailyLimit,
		Reputation:   100,
		IsActive:     true,
	}
	if account.Provider == "" {
		account.Provider = "smtp"
	}
	if account.SMTPPort == 0 {
		account.SMTPPort = 587
	}
	if account.IMAPPort == 0 {
		account.IMAPPort = 993
	}
	if account.DailyLimit <= 0 {
		account.DailyLimit = 50
	}
	if account.Timezone == "" {
		account.Timezone = "UTC"
	}
	account.WarmupSettings = models.DefaultWarmupSettings()
	account.WarmupSettings.Enabled = false

	var err error
	if account.SMTPPassword, err = utils.Encrypt(req.SMTPPassword); err != nil {
		utils.LogError(err, "failed to encrypt smtp password", nil)
		return fiber.ErrInternalServerError
	}
	if account.IMAPPassword, err = utils.Encrypt(req.IMAPPassword); err != nil {
		utils.LogError(err, "failed to encrypt imap password", nil)
		return fiber.ErrInternalServerError
	}
	if account.OAuthRefreshToken, err = utils.Encrypt(req.OAuthRefreshToken); err != nil {
		utils.LogError(err, "failed to encrypt oauth token", nil)
		return fiber.ErrInternalServerError
	}

	if err := ac.DB.Create(&account).Error; err != nil {
		utils.LogError(err, "failed to create account", map[string]interface{}{"user_id": userID})
		return fiber.ErrInternalServerError
	}

	check, checkErr := utils.CheckSendingDomain(account.Email)
	if checkErr != nil {
		utils.LogWarn("domain check failed on account creation", map[string]interface{}{
			"account_id": account.ID,
			"error":      checkErr.Error(),
		})
	}

	utils.LogEvent("email account connected", map[string]interface{}{
		"account_id": account.ID,
		"provider":   account.Provider,
	})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":      true,
		"data":         account,
		"domain_check": check,
	})
}

func (ac *AccountController) ListAccounts(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var accounts []models.EmailAccount
	if err := ac.DB.Where("user_id = ?", userID).Find(&accounts).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return utils.SuccessResponse(c, accounts)
}

func (ac *AccountController) GetAccount(c *fiber.Ctx) error {
	account, err := ac.findOwned(c)
	if err != nil {
		return err
	}
	return utils.SuccessResponse(c, account)
}

func (ac *AccountController) DeleteAccount(c *fiber.Ctx) error {
	account, err := ac.findOwned(c)
	if err != nil {
		return err
	}
	if err := ac.DB.Delete(account).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	utils.LogEvent("email account removed", map[string]interface{}{"account_id": account.ID})
	return utils.SuccessResponse(c, fiber.Map{"deleted": account.ID})
}

// TestAccount verifies DNS posture and the IMAP connection, recording
// the outcome on the account row.
func (ac *AccountController) TestAccount(c *fiber.Ctx) error {
	account, err := ac.findOwned(c)
	if err != nil {
		return err
	}

	check, err := utils.CheckSendingDomain(account.Email)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	testErr := ""
	if account.IMAPHost != "" || account.Provider == "gmail" || account.Provider == "outlook" {
		// A fetch above any real UID verifies login and mailbox access
		// without pulling mail down.
		if _, err := ac.Transport.FetchSince(c.Context(), account, utils.MailboxInbox, ^uint32(0)-1); err != nil {
			testErr = err.Error()
		}
	}

	updates := map[string]interface{}{
		"last_tested_at": time.Now(),
		"last_error":     testErr,
	}
	if err := ac.DB.Model(account).Updates(updates).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	if testErr != "" {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":        ErrAccountTestFailed,
			"detail":       testErr,
			"domain_check": check,
		})
	}
	return utils.SuccessResponse(c, fiber.Map{"domain_check": check})
}

func (ac *AccountController) findOwned(c *fiber.Ctx) (*models.EmailAccount, error) {
	userID := c.Locals("userID").(uint)
	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, ErrInvalidAccountID)
	}

	var account models.EmailAccount
	err = ac.DB.Where("id = ? AND user_id = ?", id, userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fiber.NewError(fiber.StatusNotFound, ErrAccountNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}
