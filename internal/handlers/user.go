package handlers

import (
	"dealflow/internal/models"
	"dealflow/internal/services/user"
	"dealflow/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

type UserHandler struct {
	service user.Service
}

func NewUserHandler(service user.Service) *UserHandler {
	return &UserHandler{service: service}
}

func (h *UserHandler) Register(c *fiber.Ctx) error {
	var input user.RegisterInput
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	created, err := h.service.Register(c.Context(), input)
	if err != nil {
		switch err {
		case user.ErrEmailTaken:
			return response.Conflict(c, err.Error())
		case user.ErrInvalidInput, user.ErrInvalidRole:
			return response.ValidationError(c, err.Error())
		}
		return response.ServerError(c, "failed to register user")
	}

	return response.Created(c, "User registered", sanitizeUser(created))
}

func (h *UserHandler) GetProfile(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*models.UserClaims)

	u, err := h.service.GetProfile(c.Context(), claims.UserID)
	if err != nil {
		return response.NotFound(c, "user not found")
	}

	return response.Success(c, "Profile", sanitizeUser(u))
}
