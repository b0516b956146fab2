package web

import (
	"strconv"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/node"
	"github.com/gofiber/fiber/v3"
)

type NodeHandlers struct {
	service *node.Service
}

func NewNodeHandlers(service *node.Service) *NodeHandlers {
	return &NodeHandlers{service: service}
}

// RegisterNodeRoutes mounts the node surface on r, normally the /node group.
func RegisterNodeRoutes(r fiber.Router, h *NodeHandlers) {
	r.Get("/hello", h.Hello)
	r.Get("/hello/whoami", h.WhoAmI)
	r.Get("/drainstop", h.Drainstop)
	r.Get("/drainstop/cancel", h.CancelDrainstop)
	r.Get("/drainstop/iscomplete", h.IsDrainstopComplete)
	r.Get("/queue/count", h.QueueDepth)
	r.Get("/queue", h.QueueItems)
	r.Post("/:instanceId", h.StartPlan)
	r.Post("/:instanceId/p", h.StartPlanWithParameters)
	r.Delete("/:instanceId", h.CancelPlan)
}

func (h *NodeHandlers) Hello(c fiber.Ctx) error {
	return c.JSON(h.service.Hello())
}

func (h *NodeHandlers) WhoAmI(c fiber.Ctx) error {
	return c.JSON(callerIdentity(c).String())
}

// StartPlan admits a plan posted as an encoded document. Every query
// parameter other than dryRun becomes a dynamic parameter.
func (h *NodeHandlers) StartPlan(c fiber.Ctx) error {
	instanceID, err := instanceIDParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	dryRun, err := boolQuery(c, "dryRun")
	if err != nil {
		return badRequest(c, err.Error())
	}

	plan, err := models.DecodePlan(string(c.Body()))
	if err != nil {
		return badRequest(c, "Invalid plan document: "+err.Error())
	}

	parameters := c.Queries()
	delete(parameters, "dryRun")

	return h.start(c, instanceID, plan, dryRun, parameters)
}

// StartPlanWithParameters admits a plan posted together with its dynamic
// parameters as an encoded envelope.
func (h *NodeHandlers) StartPlanWithParameters(c fiber.Ctx) error {
	instanceID, err := instanceIDParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	dryRun, err := boolQuery(c, "dryRun")
	if err != nil {
		return badRequest(c, err.Error())
	}

	envelope, err := models.DecodeEnvelope(string(c.Body()))
	if err != nil {
		return badRequest(c, "Invalid plan envelope: "+err.Error())
	}

	return h.start(c, instanceID, envelope.Plan, dryRun, envelope.DynamicParameters)
}

func (h *NodeHandlers) start(c fiber.Ctx, instanceID int64, plan *models.Plan, dryRun bool, parameters map[string]string) error {
	err := h.service.StartPlan(c.Context(), node.StartRequest{
		InstanceID:    instanceID,
		DryRun:        dryRun,
		Plan:          plan,
		Parameters:    parameters,
		Referrer:      c.Get(fiber.HeaderReferer),
		Authorization: c.Get(fiber.HeaderAuthorization),
		Identity:      callerIdentity(c),
	})
	if err != nil {
		return handleNodeError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(instanceID)
}

func (h *NodeHandlers) CancelPlan(c fiber.Ctx) error {
	instanceID, err := instanceIDParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if !h.service.CancelPlan(instanceID) {
		return notFound(c, "Plan instance "+strconv.FormatInt(instanceID, 10)+" is not running or queued")
	}

	return c.JSON(true)
}

func (h *NodeHandlers) Drainstop(c fiber.Ctx) error {
	shutdown, err := boolQuery(c, "shutdown")
	if err != nil {
		return badRequest(c, err.Error())
	}

	h.service.Drainstop(shutdown)

	return c.SendStatus(fiber.StatusOK)
}

func (h *NodeHandlers) CancelDrainstop(c fiber.Ctx) error {
	h.service.CancelDrainstop()

	return c.SendStatus(fiber.StatusOK)
}

func (h *NodeHandlers) IsDrainstopComplete(c fiber.Ctx) error {
	return c.JSON(h.service.IsDrainstopComplete())
}

func (h *NodeHandlers) QueueDepth(c fiber.Ctx) error {
	return c.JSON(h.service.QueueDepth())
}

func (h *NodeHandlers) QueueItems(c fiber.Ctx) error {
	return c.JSON(h.service.QueueItems())
}
