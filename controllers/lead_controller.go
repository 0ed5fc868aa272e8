package controller

import (
	"errors"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"coldrelay/models"
	"coldrelay/utils"
)

const (
	ErrInvalidLeadID = "invalid lead ID"
	ErrLeadNotFound  = "lead not found"
	ErrLeadExists    = "a lead with this email already exists"
)

type LeadController struct {
	DB *gorm.DB
}

func NewLeadController(db *gorm.DB) *LeadController {
	return &LeadController{DB: db}
}

type leadPayload struct {
	Email     string            `json:"email" validate:"required,email"`
	FirstName string            `json:"first_name"`
	LastName  string            `json:"last_name"`
	Company   string            `json:"company"`
	JobTitle  string            `json:"job_title"`
	Website   string            `json:"website"`
	Industry  string            `json:"industry"`
	Source    string            `json:"source"`
	Custom    map[string]string `json:"custom_fields"`
	Tags      []string          `json:"tags"`
}

func (lc *LeadController) CreateLead(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var req leadPayload
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidRequestBody})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	var existing int64
	lc.DB.Model(&models.Lead{}).Where("user_id = ? AND email = ?", userID, email).Count(&existing)
	if existing > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": ErrLeadExists})
	}

	lead := models.Lead{
		UserID:       userID,
		Email:        email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Company:      req.Company,
		JobTitle:     req.JobTitle,
		Website:      req.Website,
		Industry:     req.Industry,
		Source:       req.Source,
		CustomFields: req.Custom,
		Tags:         req.Tags,
		Status:       models.LeadNew,
	}
	if err := lc.DB.Create(&lead).Error; err != nil {
		utils.LogError(err, "failed to create lead", map[string]interface{}{"user_id": userID})
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": lead})
}

type importLeadsRequest struct {
	Leads []leadPayload `json:"leads" validate:"required,min=1"`
}

// ImportLeads bulk-creates leads, skipping duplicates and addresses
// that fail format validation.
func (lc *LeadController) ImportLeads(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var req importLeadsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidRequestBody})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	imported, skipped := 0, 0
	for _, item := range req.Leads {
		email := strings.ToLower(strings.TrimSpace(item.Email))
		if checkmail.ValidateFormat(email) != nil {
			skipped++
			continue
		}
		lead := models.Lead{
			UserID:       userID,
			Email:        email,
			FirstName:    item.FirstName,
			LastName:     item.LastName,
			Company:      item.Company,
			JobTitle:     item.JobTitle,
			Website:      item.Website,
			Industry:     item.Industry,
			Source:       item.Source,
			CustomFields: item.Custom,
			Tags:         item.Tags,
			Status:       models.LeadNew,
		}
		res := lc.DB.Where(models.Lead{UserID: userID, Email: email}).FirstOrCreate(&lead)
		if res.Error != nil || res.RowsAffected == 0 {
			skipped++
			continue
		}
		imported++
	}

	return utils.SuccessResponse(c, fiber.Map{"imported": imported, "skipped": skipped})
}

func (lc *LeadController) ListLeads(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	query := lc.DB.Where("user_id = ?", userID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var leads []models.Lead
	if err := query.Order("id DESC").Limit(500).Find(&leads).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return utils.SuccessResponse(c, leads)
}

func (lc *LeadController) GetLead(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidLeadID})
	}

	var lead models.Lead
	err = lc.DB.Where("id = ? AND user_id = ?", id, userID).First(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": ErrLeadNotFound})
	}
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return utils.SuccessResponse(c, lead)
}
