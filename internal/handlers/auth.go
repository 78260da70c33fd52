package handlers

import (
	"dealflow/internal/models"
	"dealflow/internal/services/auth"
	"dealflow/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

type AuthHandler struct {
	service auth.Service
}

func NewAuthHandler(service auth.Service) *AuthHandler {
	return &AuthHandler{service: service}
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	user, accessToken, refreshToken, err := h.service.Login(input.Email, input.Password)
	if err != nil {
		return response.Error(c, fiber.StatusUnauthorized, "invalid credentials")
	}

	return response.Success(c, "Login successful", fiber.Map{
		"user":          sanitizeUser(user),
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
}

func (h *AuthHandler) RefreshToken(c *fiber.Ctx) error {
	var input struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&input); err != nil || input.RefreshToken == "" {
		return response.BadRequest(c, "Invalid request format")
	}

	accessToken, refreshToken, err := h.service.RefreshTokens(input.RefreshToken)
	if err != nil {
		return response.Error(c, fiber.StatusUnauthorized, "invalid refresh token")
	}

	return response.Success(c, "Token refreshed", fiber.Map{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*models.UserClaims)
	if err := h.service.Logout(claims.UserID); err != nil {
		return response.ServerError(c, "failed to log out")
	}
	return response.Success(c, "Logged out", nil)
}

func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*models.UserClaims)

	var input struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}
	if len(input.NewPassword) < 8 {
		return response.ValidationError(c, "new password must be at least 8 characters")
	}

	if err := h.service.ChangePassword(claims.UserID, input.OldPassword, input.NewPassword); err != nil {
		if err == auth.ErrInvalidCredentials {
			return response.Error(c, fiber.StatusUnauthorized, "invalid credentials")
		}
		return response.ServerError(c, "failed to change password")
	}

	return response.Success(c, "Password changed", nil)
}

func sanitizeUser(u *models.User) fiber.Map {
	return fiber.Map{
		"id":                  u.ID,
		"email":               u.Email,
		"name":                u.Name,
		"role":                u.Role,
		"verification_status": u.VerificationStatus,
		"kyc_status":          u.KYCStatus,
	}
}
