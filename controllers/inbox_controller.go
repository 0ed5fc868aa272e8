package controller

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"coldrelay/models"
	"coldrelay/utils"
)

// InboxController exposes the reconciled inbox: classified inbound
// messages and the per-account sync state.
type InboxController struct {
	DB *gorm.DB
}

func NewInboxController(db *gorm.DB) *InboxController {
	return &InboxController{DB: db}
}

func (ic *InboxController) ListMessages(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	query := ic.DB.Where("user_id = ?", userID)
	if cls := c.Query("classification"); cls != "" {
		query = query.Where("classification = ?", cls)
	}
	if accountID := c.Query("account_id"); accountID != "" {
		id, err := utils.ParseUint(accountID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidAccountID})
		}
		query = query.Where("email_account_id = ?", id)
	}

	var messages []models.InboxMessage
	if err := query.Order("received_at DESC").Limit(200).Find(&messages).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return utils.SuccessResponse(c, messages)
}

func (ic *InboxController) MarkRead(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidRequestBody})
	}

	res := ic.DB.Model(&models.InboxMessage{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	if res.Error != nil {
		return fiber.ErrInternalServerError
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "message not found"})
	}
	return utils.SuccessResponse(c, fiber.Map{"read": true})
}

// SyncState reports the reconciler cursor and counters per account.
func (ic *InboxController) SyncState(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var states []models.InboxSync
	if err := ic.DB.Where("user_id = ?", userID).Find(&states).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return utils.SuccessResponse(c, states)
}
