package handlers

import (
	"dealflow/internal/models"
	"dealflow/internal/services/user"
	"dealflow/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

type KYCHandler struct {
	service user.Service
}

func NewKYCHandler(s user.Service) *KYCHandler { return &KYCHandler{service: s} }

func (h *KYCHandler) SubmitKYC(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*models.UserClaims)
	var input struct {
		DocumentID string `json:"document_id"`
		ScanURL    string `json:"scan_url"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "invalid request")
	}
	if input.DocumentID == "" {
		return response.ValidationError(c, "document_id is required")
	}

	kyc, err := h.service.SubmitKYC(c.Context(), claims.UserID, input.DocumentID, input.ScanURL)
	if err != nil {
		return response.ServerError(c, "failed to submit KYC")
	}
	return response.Created(c, "KYC submitted", kyc)
}

func (h *KYCHandler) GetStatus(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*models.UserClaims)
	kyc, err := h.service.GetKYC(c.Context(), claims.UserID)
	if err != nil {
		return response.NotFound(c, "no KYC submission found")
	}
	return response.Success(c, "KYC status", kyc)
}
