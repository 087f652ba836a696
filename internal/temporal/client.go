// Package temporal connects the API server and the worker to Temporal.
package temporal

import (
	"context"
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	workflowpb "go.temporal.io/api/workflow/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/testforge/trackingtester/internal/config"
)

// Client is a Temporal client bound to the tracking task queue.
type Client struct {
	client.Client
	namespace string
	taskQueue string
}

// NewClient dials the frontend configured in cfg.
func NewClient(cfg config.TemporalConfig, logger *zap.Logger) (*Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Addr(),
		Namespace: cfg.Namespace,
		Logger:    NewLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("dialing temporal at %s: %w", cfg.Addr(), err)
	}
	return &Client{Client: c, namespace: cfg.Namespace, taskQueue: cfg.TaskQueue}, nil
}

func (c *Client) TaskQueue() string { return c.taskQueue }

func (c *Client) Namespace() string { return c.namespace }

// Health checks that the frontend service answers.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.CheckHealth(ctx, &client.CheckHealthRequest{}); err != nil {
		return fmt.Errorf("temporal: %w", err)
	}
	return nil
}

// GetWorkflowStatus describes one execution. An empty runID means the
// latest run of workflowID.
func (c *Client) GetWorkflowStatus(ctx context.Context, workflowID, runID string) (*WorkflowStatus, error) {
	desc, err := c.DescribeWorkflowExecution(ctx, workflowID, runID)
	if err != nil {
		return nil, fmt.Errorf("describing workflow %s: %w", workflowID, err)
	}
	return statusFromInfo(desc.GetWorkflowExecutionInfo()), nil
}

// WorkflowStatus is the server-side state of a tracking workflow.
type WorkflowStatus struct {
	WorkflowID string
	RunID      string
	Status     enumspb.WorkflowExecutionStatus
	StartTime  time.Time
	CloseTime  *time.Time
}

func statusFromInfo(info *workflowpb.WorkflowExecutionInfo) *WorkflowStatus {
	s := &WorkflowStatus{
		WorkflowID: info.GetExecution().GetWorkflowId(),
		RunID:      info.GetExecution().GetRunId(),
		Status:     info.GetStatus(),
	}
	if ts := info.GetStartTime(); ts != nil {
		s.StartTime = ts.AsTime()
	}
	if ts := info.GetCloseTime(); ts != nil {
		closed := ts.AsTime()
		s.CloseTime = &closed
	}
	return s
}

// String returns the status without its enum prefix, e.g. "Running".
func (s *WorkflowStatus) String() string {
	return s.Status.String()
}

// Closed reports whether the execution has finished in any way.
func (s *WorkflowStatus) Closed() bool {
	return s.Status != enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING &&
		s.Status != enumspb.WORKFLOW_EXECUTION_STATUS_UNSPECIFIED
}
