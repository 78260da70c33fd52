package handlers

import (
	"strconv"

	"dealflow/internal/models"
	"dealflow/internal/repositories"
	"dealflow/internal/services/user"
	"dealflow/internal/utils/pagination"
	"dealflow/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

type AdminHandler struct {
	users    user.Service
	userRepo repositories.UserRepository
}

func NewAdminHandler(users user.Service, userRepo repositories.UserRepository) *AdminHandler {
	return &AdminHandler{users: users, userRepo: userRepo}
}

func (h *AdminHandler) ListUsers(c *fiber.Ctx) error {
	p := pagination.ParseFromRequest(c)

	users, total, err := h.userRepo.List(p.Offset, p.Limit)
	if err != nil {
		return response.ServerError(c, "failed to list users")
	}

	p.Total = total
	sanitized := make([]fiber.Map, 0, len(users))
	for _, u := range users {
		sanitized = append(sanitized, sanitizeUser(u))
	}
	return c.JSON(pagination.Response(p, sanitized))
}

// ReviewKYC applies an admin decision to a user's pending KYC submission.
func (h *AdminHandler) ReviewKYC(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*models.UserClaims)

	userID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return response.BadRequest(c, "invalid user id")
	}

	var input struct {
		Approve bool `json:"approve"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "invalid request")
	}

	if err := h.users.ReviewKYC(c.Context(), uint(userID), claims.UserID, input.Approve); err != nil {
		if err == repositories.ErrKYCNotFound {
			return response.NotFound(c, "no KYC submission found for user")
		}
		return response.ServerError(c, "failed to review KYC")
	}

	return response.Success(c, "KYC reviewed", nil)
}

// VerifyUser sets a user's identity verification status.
func (h *AdminHandler) VerifyUser(c *fiber.Ctx) error {
	userID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return response.BadRequest(c, "invalid user id")
	}

	var input struct {
		Status string `json:"status"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "invalid request")
	}

	if err := h.users.SetVerificationStatus(c.Context(), uint(userID), input.Status); err != nil {
		return response.ValidationError(c, err.Error())
	}

	return response.Success(c, "Verification status updated", nil)
}
