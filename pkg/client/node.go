package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dukex/conduit/pkg/models"
)

// NodeClient calls the node HTTP surface rooted at {root}/node.
type NodeClient struct {
	base
}

func NewNodeClient(root string, opts ...Option) *NodeClient {
	return &NodeClient{base: newBase(root, opts)}
}

// Root returns the node root url.
func (c *NodeClient) Root() string {
	return c.root
}

// StartPlan posts the encoded plan; parameters travel on the query string.
func (c *NodeClient) StartPlan(ctx context.Context, instanceID int64, plan *models.Plan, dryRun bool, parameters map[string]string) error {
	encoded, err := models.EncodePlan(plan)
	if err != nil {
		return err
	}

	query := url.Values{}
	for k, v := range parameters {
		query.Set(k, v)
	}

	query.Set("dryRun", strconv.FormatBool(dryRun))

	return c.do(ctx, http.MethodPost, fmt.Sprintf("%s/%d", NodePrefix, instanceID), query,
		"text/plain", strings.NewReader(encoded), nil)
}

// StartPlanWithParameters posts a plan and its dynamic parameters as an envelope.
func (c *NodeClient) StartPlanWithParameters(ctx context.Context, instanceID int64, envelope *models.StartPlanEnvelope, dryRun bool) error {
	encoded, err := models.EncodeEnvelope(envelope)
	if err != nil {
		return err
	}

	query := url.Values{"dryRun": {strconv.FormatBool(dryRun)}}

	return c.do(ctx, http.MethodPost, fmt.Sprintf("%s/%d/p", NodePrefix, instanceID), query,
		"text/plain", strings.NewReader(encoded), nil)
}

// CancelPlan returns false when the node does not know the instance.
func (c *NodeClient) CancelPlan(ctx context.Context, instanceID int64) (bool, error) {
	err := c.do(ctx, http.MethodDelete, fmt.Sprintf("%s/%d", NodePrefix, instanceID), nil, "", nil, nil)
	if StatusCode(err) == http.StatusNotFound {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

func (c *NodeClient) Drainstop(ctx context.Context, shutdown bool) error {
	query := url.Values{"shutdown": {strconv.FormatBool(shutdown)}}

	return c.do(ctx, http.MethodGet, NodePrefix+"/drainstop", query, "", nil, nil)
}

func (c *NodeClient) CancelDrainstop(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, NodePrefix+"/drainstop/cancel", nil, "", nil, nil)
}

func (c *NodeClient) IsDrainstopComplete(ctx context.Context) (bool, error) {
	var complete bool

	err := c.do(ctx, http.MethodGet, NodePrefix+"/drainstop/iscomplete", nil, "", nil, &complete)

	return complete, err
}

func (c *NodeClient) QueueDepth(ctx context.Context) (int, error) {
	var depth int

	err := c.do(ctx, http.MethodGet, NodePrefix+"/queue/count", nil, "", nil, &depth)

	return depth, err
}

func (c *NodeClient) QueueItems(ctx context.Context) ([]string, error) {
	var items []string

	err := c.do(ctx, http.MethodGet, NodePrefix+"/queue", nil, "", nil, &items)

	return items, err
}

// Hello checks that the node answers.
func (c *NodeClient) Hello(ctx context.Context) (string, error) {
	var greeting string

	err := c.do(ctx, http.MethodGet, NodePrefix+"/hello", nil, "", nil, &greeting)

	return greeting, err
}
