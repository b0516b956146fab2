package web

import (
	"errors"

	"github.com/dukex/conduit/pkg/controller"
	"github.com/dukex/conduit/pkg/identity"
	"github.com/dukex/conduit/pkg/node"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p, problems.ProblemMediaType)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func notFound(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusNotFound, "not_found", detail)
}

func unauthorized(c fiber.Ctx, detail string) error {
	c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="conduit"`)

	return problem(c, fiber.StatusUnauthorized, "unauthorized", detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p, problems.ProblemMediaType)
}

// handleNodeError maps node service errors to problem responses.
func handleNodeError(c fiber.Ctx, err error) error {
	switch {
	case node.IsAdmissionRejected(err):
		return problem(c, fiber.StatusServiceUnavailable, "admission_rejected", err.Error())

	case node.IsSignatureError(err):
		return problem(c, fiber.StatusForbidden, "signature_invalid", err.Error())

	case node.IsConflict(err):
		return problem(c, fiber.StatusConflict, "conflict", err.Error())

	case node.IsValidationError(err):
		return badRequest(c, err.Error())

	default:
		return internalError(c, err)
	}
}

// handleControllerError maps controller service errors to problem responses.
func handleControllerError(c fiber.Ctx, err error) error {
	switch {
	case controller.IsValidationError(err):
		return badRequest(c, err.Error())

	case controller.IsAccessDenied(err):
		return problem(c, fiber.StatusForbidden, "access_denied", err.Error())

	case controller.IsNotFound(err):
		return notFound(c, err.Error())

	case controller.IsNodeUnavailable(err):
		return problem(c, fiber.StatusServiceUnavailable, "node_unavailable", err.Error())

	case controller.IsNodeRejected(err):
		return problem(c, fiber.StatusBadGateway, "node_rejected", err.Error())

	default:
		return internalError(c, err)
	}
}

func isAuthorizationError(err error) bool {
	return errors.Is(err, identity.ErrMalformedAuthorization) || errors.Is(err, identity.ErrUnsupportedScheme)
}
