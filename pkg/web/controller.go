package web

import (
	"github.com/dukex/conduit/pkg/controller"
	"github.com/dukex/conduit/pkg/models"
	"github.com/gofiber/fiber/v3"
)

// startQueryKeys are the start options; other query parameters are passed
// to the plan as dynamic parameters.
var startQueryKeys = []string{"dryRun", "requestNumber", "nodeRootUrl", "postParameters"}

type ControllerHandlers struct {
	service *controller.Service
}

func NewControllerHandlers(service *controller.Service) *ControllerHandlers {
	return &ControllerHandlers{service: service}
}

// RegisterControllerRoutes mounts the controller surface on r, normally the
// /controller group.
func RegisterControllerRoutes(r fiber.Router, h *ControllerHandlers) {
	r.Get("/hello", h.Hello)

	p := r.Group("/plans")
	p.Get("/", h.GetPlanList)
	p.Post("/", h.SavePlan)
	p.Get("/:planName", h.GetPlan)
	p.Get("/:planName/instances", h.GetPlanInstanceIDList)
	p.Post("/:planName/start", h.StartPlan)
	p.Get("/:planName/instances/:instanceId", h.GetPlanStatus)
	p.Post("/:planName/instances/:instanceId", h.SetPlanStatus)
	p.Delete("/:planName/instances/:instanceId", h.CancelPlan)
	p.Post("/:planName/instances/:instanceId/action", h.SetPlanActionStatus)

	u := r.Group("/updates")
	u.Get("/", h.Stats)
	u.Post("/redrive", h.Redrive)
}

func (h *ControllerHandlers) Hello(c fiber.Ctx) error {
	return c.JSON(h.service.Hello())
}

func (h *ControllerHandlers) GetPlanList(c fiber.Ctx) error {
	regex, err := boolQuery(c, "regex")
	if err != nil {
		return badRequest(c, err.Error())
	}

	names, err := h.service.GetPlanList(c.Context(), c.Query("filter"), regex)
	if err != nil {
		return handleControllerError(c, err)
	}

	return c.JSON(names)
}

func (h *ControllerHandlers) GetPlan(c fiber.Ctx) error {
	plan, err := h.service.GetPlan(c.Context(), c.Params("planName"))
	if err != nil {
		return handleControllerError(c, err)
	}

	return c.JSON(plan)
}

func (h *ControllerHandlers) SavePlan(c fiber.Ctx) error {
	var plan models.Plan
	if err := c.Bind().JSON(&plan); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	err := h.service.SavePlan(c.Context(), &plan)
	if err != nil {
		return handleControllerError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(&plan)
}

func (h *ControllerHandlers) GetPlanInstanceIDList(c fiber.Ctx) error {
	ids, err := h.service.GetPlanInstanceIDList(c.Context(), c.Params("planName"))
	if err != nil {
		return handleControllerError(c, err)
	}

	return c.JSON(ids)
}

func (h *ControllerHandlers) StartPlan(c fiber.Ctx) error {
	dryRun, err := boolQuery(c, "dryRun")
	if err != nil {
		return badRequest(c, err.Error())
	}

	postParameters, err := boolQuery(c, "postParameters")
	if err != nil {
		return badRequest(c, err.Error())
	}

	parameters := c.Queries()
	for _, key := range startQueryKeys {
		delete(parameters, key)
	}

	instanceID, err := h.service.StartPlan(c.Context(), controller.StartPlanRequest{
		PlanName:       c.Params("planName"),
		DryRun:         dryRun,
		RequestNumber:  c.Query("requestNumber"),
		NodeRootURL:    c.Query("nodeRootUrl"),
		Parameters:     parameters,
		PostParameters: postParameters,
		Identity:       callerIdentity(c),
		Referrer:       c.BaseURL(),
	})
	if err != nil {
		return handleControllerError(c, err)
	}

	return c.JSON(instanceID)
}

func (h *ControllerHandlers) CancelPlan(c fiber.Ctx) error {
	instanceID, err := instanceIDParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	cancelled, err := h.service.CancelPlan(c.Context(), c.Params("planName"), instanceID,
		c.Query("nodeRootUrl"), callerIdentity(c))
	if err != nil {
		return handleControllerError(c, err)
	}

	return c.JSON(cancelled)
}

func (h *ControllerHandlers) GetPlanStatus(c fiber.Ctx) error {
	instanceID, err := instanceIDParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	return c.JSON(h.service.GetPlanStatus(c.Context(), c.Params("planName"), instanceID))
}

// SetPlanStatus records a plan status document. The path names the instance.
func (h *ControllerHandlers) SetPlanStatus(c fiber.Ctx) error {
	instanceID, err := instanceIDParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var plan models.Plan
	if err := c.Bind().JSON(&plan); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	plan.UniqueName = c.Params("planName")
	plan.InstanceID = instanceID

	if plan.Name == "" {
		plan.Name = plan.UniqueName
	}

	err = h.service.UpdatePlanStatus(c.Context(), &plan)
	if err != nil {
		return handleControllerError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ControllerHandlers) SetPlanActionStatus(c fiber.Ctx) error {
	instanceID, err := instanceIDParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var action models.ActionItem
	if err := c.Bind().JSON(&action); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	err = h.service.UpdatePlanActionStatus(c.Context(), c.Params("planName"), instanceID, &action)
	if err != nil {
		return handleControllerError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ControllerHandlers) Stats(c fiber.Ctx) error {
	return c.JSON(h.service.Stats())
}

func (h *ControllerHandlers) Redrive(c fiber.Ctx) error {
	n, err := h.service.Redrive(c.Query("kind"))
	if err != nil {
		return handleControllerError(c, err)
	}

	return c.JSON(n)
}
