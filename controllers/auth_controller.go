package controller

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"coldrelay/models"
	"coldrelay/utils"
)

const (
	ErrUserExists         = "a user with this email already exists"
	ErrInvalidCredentials = "invalid email or API key"
	tokenTTL              = 24 * time.Hour
)

type AuthController struct {
	DB *gorm.DB
}

func NewAuthController(db *gorm.DB) *AuthController {
	return &AuthController{DB: db}
}

type registerRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name"`
}

// Register creates a user and returns their API key. The key is shown
// exactly once; only its bcrypt hash is stored.
func (ac *AuthController) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidRequestBody})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var existing int64
	ac.DB.Model(&models.User{}).Where("email = ?", req.Email).Count(&existing)
	if existing > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": ErrUserExists})
	}

	apiKey := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return fiber.ErrInternalServerError
	}

	user := models.User{
		Email:      req.Email,
		Name:       req.Name,
		APIKeyHash: string(hash),
		IsActive:   true,
	}
	if err := ac.DB.Create(&user).Error; err != nil {
		utils.LogError(err, "failed to create user", nil)
		return fiber.ErrInternalServerError
	}

	utils.LogEvent("user registered", map[string]interface{}{"user_id": user.ID})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"user_id": user.ID,
			"api_key": apiKey,
		},
	})
}

type tokenRequest struct {
	Email  string `json:"email" validate:"required,email"`
	APIKey string `json:"api_key" validate:"required"`
}

// Token exchanges an API key for a short-lived JWT.
func (ac *AuthController) Token(c *fiber.Ctx) error {
	var req tokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidRequestBody})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var user models.User
	err := ac.DB.Where("email = ? AND is_active = ?", req.Email, true).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": ErrInvalidCredentials})
	}
	if err != nil {
		return fiber.ErrInternalServerError
	}

	if bcrypt.CompareHashAndPassword([]byte(user.APIKeyHash), []byte(req.APIKey)) != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": ErrInvalidCredentials})
	}

	token, err := utils.GenerateJWT(user.ID, user.TokenVersion, tokenTTL)
	if err != nil {
		utils.LogError(err, "failed to sign token", map[string]interface{}{"user_id": user.ID})
		return fiber.ErrInternalServerError
	}

	return utils.SuccessResponse(c, fiber.Map{
		"token":      token,
		"expires_in": int(tokenTTL.Seconds()),
	})
}

// RevokeTokens bumps the token version, invalidating every JWT issued
// so far for the caller.
func (ac *AuthController) RevokeTokens(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	err := ac.DB.Model(&models.User{}).Where("id = ?", userID).
		Update("token_version", gorm.Expr("token_version + 1")).Error
	if err != nil {
		return fiber.ErrInternalServerError
	}
	utils.LogEvent("tokens revoked", map[string]interface{}{"user_id": userID})
	return utils.SuccessResponse(c, fiber.Map{"revoked": true})
}
