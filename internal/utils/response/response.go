package response

import (
	"errors"

	domain "dealflow/internal/errors"

	"github.com/gofiber/fiber/v2"
)

func Success(c *fiber.Ctx, message string, data interface{}) error {
	return c.JSON(fiber.Map{
		"message": message,
		"data":    data,
	})
}

func Created(c *fiber.Ctx, message string, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": message,
		"data":    data,
	})
}

func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, message)
}

func Forbidden(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusForbidden, message)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, message)
}

func Conflict(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusConflict, message)
}

func ServerError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, message)
}

func Unauthorized(c *fiber.Ctx) error {
	return Error(c, fiber.StatusUnauthorized, "Unauthorized")
}

func ValidationError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, message)
}

// FromError maps a domain error to its HTTP status and renders it with the
// machine-checkable code alongside the reason. Unknown errors become 500s.
func FromError(c *fiber.Ctx, err error) error {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		return ServerError(c, err.Error())
	}

	status := fiber.StatusInternalServerError
	switch de.Kind {
	case domain.KindValidation, domain.KindSignature:
		status = fiber.StatusBadRequest
	case domain.KindAuth:
		status = fiber.StatusUnauthorized
	case domain.KindForbidden:
		status = fiber.StatusForbidden
	case domain.KindNotFound:
		status = fiber.StatusNotFound
	case domain.KindConflict:
		status = fiber.StatusConflict
	}

	return c.Status(status).JSON(fiber.Map{
		"error": de.Message,
		"code":  de.Code,
	})
}
