package utils

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Pointer returns a pointer to v. Handy for the nullable model fields.
func Pointer[T any](v T) *T {
	return &v
}

// ParseUint parses a route parameter into a uint id.
func ParseUint(s string) (uint, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(v), nil
}

// ParseClock parses an "HH:MM" wall-clock string into hour and minute.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock time %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

// ErrorResponse writes a uniform JSON error body.
func ErrorResponse(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// SuccessResponse writes a uniform JSON success body.
func SuccessResponse(c *fiber.Ctx, data interface{}) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}
