package handlers

import (
	"strconv"

	"dealflow/internal/models"
	"dealflow/internal/services/deal"
	"dealflow/internal/utils/pagination"
	"dealflow/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

type DealHandler struct {
	service deal.Service
}

func NewDealHandler(service deal.Service) *DealHandler {
	return &DealHandler{service: service}
}

func (h *DealHandler) CreateDeal(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*models.UserClaims)

	var input deal.CreateInput
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	d, err := h.service.Create(c.Context(), claims.UserID, input)
	if err != nil {
		if err == deal.ErrInvalidDeal {
			return response.ValidationError(c, err.Error())
		}
		return response.ServerError(c, "failed to create deal")
	}

	return response.Created(c, "Deal created", d)
}

func (h *DealHandler) GetDeal(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return response.BadRequest(c, "invalid deal id")
	}

	d, err := h.service.Get(c.Context(), uint(id))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Deal", d)
}

func (h *DealHandler) ListDeals(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*models.UserClaims)
	p := pagination.ParseFromRequest(c)

	var (
		deals []models.Deal
		total int64
		err   error
	)
	if claims.Role == models.RoleOperator && c.QueryBool("mine") {
		deals, total, err = h.service.ListByOperator(c.Context(), claims.UserID, p.Offset, p.Limit)
	} else {
		deals, total, err = h.service.List(c.Context(), p.Offset, p.Limit)
	}
	if err != nil {
		return response.ServerError(c, "failed to list deals")
	}

	p.Total = total
	return c.JSON(pagination.Response(p, deals))
}

func (h *DealHandler) UpdateDealStatus(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*models.UserClaims)

	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return response.BadRequest(c, "invalid deal id")
	}

	var input struct {
		Status string `json:"status"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	d, err := h.service.Get(c.Context(), uint(id))
	if err != nil {
		return response.FromError(c, err)
	}
	if claims.Role != models.RoleAdmin && d.OperatorID != claims.UserID {
		return response.Forbidden(c, "deal belongs to another operator")
	}

	updated, err := h.service.SetStatus(c.Context(), uint(id), input.Status)
	if err != nil {
		if err == deal.ErrInvalidDeal {
			return response.ValidationError(c, "invalid deal status")
		}
		return response.FromError(c, err)
	}
	return response.Success(c, "Deal updated", updated)
}
