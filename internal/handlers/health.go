package handlers

import (
	"dealflow/internal/repositories"

	"github.com/gofiber/fiber/v2"
)

// HealthCheck reports database and cache connectivity.
func HealthCheck(c *fiber.Ctx) error {
	status := fiber.Map{
		"status": "ok",
		"db":     "ok",
		"cache":  "ok",
	}
	code := fiber.StatusOK

	if repositories.DB != nil {
		if sqlDB, err := repositories.DB.DB(); err != nil || sqlDB.Ping() != nil {
			status["db"] = "unavailable"
			status["status"] = "degraded"
			code = fiber.StatusServiceUnavailable
		}
	}

	if repositories.CacheService != nil {
		if err := repositories.CacheService.HealthCheck(c.Context()); err != nil {
			status["cache"] = "unavailable"
			status["status"] = "degraded"
		}
	}

	return c.Status(code).JSON(status)
}
