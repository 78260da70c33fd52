package handlers

import (
	"strconv"

	"dealflow/internal/models"
	"dealflow/internal/services/commitment"
	"dealflow/internal/services/escrow"
	"dealflow/internal/utils/pagination"
	"dealflow/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type CommitmentHandler struct {
	ledger commitment.Service
	escrow escrow.Service
}

func NewCommitmentHandler(ledger commitment.Service, escrowSvc escrow.Service) *CommitmentHandler {
	return &CommitmentHandler{ledger: ledger, escrow: escrowSvc}
}

func (h *CommitmentHandler) CreateCommitment(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*models.UserClaims)

	var input struct {
		DealID uint            `json:"deal_id"`
		Amount decimal.Decimal `json:"amount"`
		Notes  string          `json:"notes"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}
	if input.DealID == 0 {
		return response.ValidationError(c, "deal_id is required")
	}

	created, err := h.ledger.Create(c.Context(), input.DealID, claims.UserID, input.Amount, input.Notes)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Created(c, "Commitment created", created)
}

func (h *CommitmentHandler) GetCommitment(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*models.UserClaims)

	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "invalid commitment id")
	}

	cm, err := h.ledger.Get(c.Context(), id)
	if err != nil {
		return response.FromError(c, err)
	}
	if claims.Role != models.RoleAdmin && claims.Role != models.RoleOperator && cm.InvestorID != claims.UserID {
		return response.Forbidden(c, "commitment belongs to another investor")
	}

	return response.Success(c, "Commitment", cm)
}

func (h *CommitmentHandler) ListCommitments(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*models.UserClaims)
	p := pagination.ParseFromRequest(c)

	scope := commitment.ListScope{
		Role:   claims.Role,
		UserID: claims.UserID,
		Global: c.QueryBool("all"),
		Offset: p.Offset,
		Limit:  p.Limit,
	}

	commitments, total, err := h.ledger.List(c.Context(), scope)
	if err != nil {
		return response.ServerError(c, "failed to list commitments")
	}

	p.Total = total
	return c.JSON(pagination.Response(p, commitments))
}

// UpdateCommitment handles both investor cancellation and admin actions.
// Investors may only cancel their own committed pledge; admins drive the
// fund/complete/cancel/flag actions.
func (h *CommitmentHandler) UpdateCommitment(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*models.UserClaims)

	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "invalid commitment id")
	}

	var input struct {
		Status string `json:"status"`
		Action string `json:"action"`
		Notes  string `json:"notes"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	if claims.Role == models.RoleAdmin {
		raw := input.Action
		if raw == "" {
			raw = actionFromStatus(input.Status)
		}
		action, ok := commitment.ParseAction(raw)
		if !ok {
			return response.ValidationError(c, "unknown action")
		}

		cm, err := h.ledger.AdminTransition(c.Context(), id, action, input.Notes)
		if err != nil {
			return response.FromError(c, err)
		}
		return response.Success(c, "Commitment updated", cm)
	}

	if input.Status != string(models.CommitmentCancelled) {
		return response.ValidationError(c, "investors may only cancel a commitment")
	}

	cm, err := h.ledger.InvestorCancel(c.Context(), id, claims.UserID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Commitment cancelled", cm)
}

// InitiateFunding records a pending escrow attempt for a commitment.
func (h *CommitmentHandler) InitiateFunding(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*models.UserClaims)

	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "invalid commitment id")
	}

	var input struct {
		PaymentReference string `json:"payment_reference"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&input); err != nil {
			return response.BadRequest(c, "Invalid request format")
		}
	}

	e, err := h.escrow.InitiateFunding(c.Context(), id, claims.UserID, claims.Role == models.RoleAdmin, input.PaymentReference)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Created(c, "Funding initiated", e)
}

// ListFunding returns the escrow attempts recorded for a commitment.
func (h *CommitmentHandler) ListFunding(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*models.UserClaims)

	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "invalid commitment id")
	}

	cm, err := h.ledger.Get(c.Context(), id)
	if err != nil {
		return response.FromError(c, err)
	}
	if claims.Role != models.RoleAdmin && cm.InvestorID != claims.UserID {
		return response.Forbidden(c, "commitment belongs to another investor")
	}

	rows, err := h.escrow.ListForCommitment(c.Context(), id)
	if err != nil {
		return response.ServerError(c, "failed to list funding attempts")
	}
	return response.Success(c, "Funding attempts", rows)
}

func actionFromStatus(status string) string {
	switch models.CommitmentStatus(status) {
	case models.CommitmentFunded:
		return string(commitment.ActionFund)
	case models.CommitmentCompleted:
		return string(commitment.ActionComplete)
	case models.CommitmentCancelled:
		return string(commitment.ActionCancel)
	}
	return ""
}

func parseID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
