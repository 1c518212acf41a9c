package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nimburion/orchestra/pkg/consistency"
)

// ActivateJobs leases jobs of one type. An empty TenantIDs list is filled
// with the client's default tenant.
func (c *Client) ActivateJobs(ctx context.Context, req ActivateJobsRequest) ([]ActivatedJob, error) {
	if strings.TrimSpace(req.Type) == "" {
		return nil, errors.New("job type is required")
	}
	if len(req.TenantIDs) == 0 {
		req.TenantIDs = []string{c.tenantID}
	}
	call := Request{
		OperationID: "ActivateJobs",
		Method:      http.MethodPost,
		Path:        "/jobs/activation",
		Body:        req,
	}
	if req.RequestTimeout > 0 {
		// long polling holds the request open on the server
		call.Timeout = time.Duration(req.RequestTimeout)*time.Millisecond + c.requestTimeout
	}
	resp, err := InvokeJSON[ActivateJobsResponse](ctx, c, call)
	if err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// CompleteJob reports success with optional output variables.
func (c *Client) CompleteJob(ctx context.Context, jobKey string, req CompleteJobRequest) error {
	_, err := c.Invoke(ctx, Request{
		OperationID: "CompleteJob",
		Method:      http.MethodPost,
		Path:        "/jobs/" + jobKey + "/completion",
		Body:        req,
		Exempt:      true,
	}, nil)
	return err
}

// FailJob reports a failure with the retries left.
func (c *Client) FailJob(ctx context.Context, jobKey string, req FailJobRequest) error {
	_, err := c.Invoke(ctx, Request{
		OperationID: "FailJob",
		Method:      http.MethodPost,
		Path:        "/jobs/" + jobKey + "/failure",
		Body:        req,
		Exempt:      true,
	}, nil)
	return err
}

// ThrowJobError raises a BPMN error for the job.
func (c *Client) ThrowJobError(ctx context.Context, jobKey string, req ThrowJobErrorRequest) error {
	_, err := c.Invoke(ctx, Request{
		OperationID: "ThrowJobError",
		Method:      http.MethodPost,
		Path:        "/jobs/" + jobKey + "/error",
		Body:        req,
		Exempt:      true,
	}, nil)
	return err
}

// UpdateJobRetries sets the retries left on a job.
func (c *Client) UpdateJobRetries(ctx context.Context, jobKey string, retries int) error {
	_, err := c.Invoke(ctx, Request{
		OperationID: "UpdateJob",
		Method:      http.MethodPatch,
		Path:        "/jobs/" + jobKey,
		Body:        UpdateJobRequest{Changeset: JobChangeset{Retries: &retries}},
		Exempt:      true,
	}, nil)
	return err
}

// GetTopology returns the cluster topology.
func (c *Client) GetTopology(ctx context.Context) (*Topology, error) {
	return InvokeJSON[*Topology](ctx, c, Request{
		OperationID: "GetTopology",
		Method:      http.MethodGet,
		Path:        "/topology",
	})
}

// CreateProcessInstance starts a process instance. An empty TenantID is
// filled with the client's default tenant.
func (c *Client) CreateProcessInstance(ctx context.Context, req CreateProcessInstanceRequest) (*ProcessInstanceCreation, error) {
	if req.ProcessDefinitionID == "" && req.ProcessDefinitionKey == "" {
		return nil, errors.New("process definition id or key is required")
	}
	if req.TenantID == "" {
		req.TenantID = c.tenantID
	}
	return InvokeJSON[*ProcessInstanceCreation](ctx, c, Request{
		OperationID: "CreateProcessInstance",
		Method:      http.MethodPost,
		Path:        "/process-instances",
		Body:        req,
	})
}

// GetProcessInstance reads one instance. With opts.WaitUpTo set, a 404 is
// treated as "not yet visible" and the read is repeated.
func (c *Client) GetProcessInstance(ctx context.Context, key string, opts consistency.Options[*ProcessInstance]) (*ProcessInstance, error) {
	const operationID = "GetProcessInstance"
	return consistency.Poll(ctx, operationID, true, func(ctx context.Context) (*ProcessInstance, error) {
		return InvokeJSON[*ProcessInstance](ctx, c, Request{
			OperationID: operationID,
			Method:      http.MethodGet,
			Path:        "/process-instances/" + key,
		})
	}, opts)
}

// SearchProcessInstances queries instances. Pass opts.IsConsistent to wait
// until the expected items are indexed.
func (c *Client) SearchProcessInstances(ctx context.Context, req SearchProcessInstancesRequest, opts consistency.Options[*SearchProcessInstancesResponse]) (*SearchProcessInstancesResponse, error) {
	const operationID = "SearchProcessInstances"
	return consistency.Poll(ctx, operationID, true, func(ctx context.Context) (*SearchProcessInstancesResponse, error) {
		return InvokeJSON[*SearchProcessInstancesResponse](ctx, c, Request{
			OperationID: operationID,
			Method:      http.MethodPost,
			Path:        "/process-instances/search",
			Body:        req,
		})
	}, opts)
}

// CancelProcessInstance cancels a running instance.
func (c *Client) CancelProcessInstance(ctx context.Context, key string) error {
	_, err := c.Invoke(ctx, Request{
		OperationID: "CancelProcessInstance",
		Method:      http.MethodPost,
		Path:        "/process-instances/" + key + "/cancellation",
		Body:        CancelProcessInstanceRequest{},
	}, nil)
	return err
}

// PublishMessage publishes a message. An empty TenantID is filled with the
// client's default tenant.
func (c *Client) PublishMessage(ctx context.Context, req PublishMessageRequest) (*PublishMessageResponse, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.New("message name is required")
	}
	if req.TenantID == "" {
		req.TenantID = c.tenantID
	}
	return InvokeJSON[*PublishMessageResponse](ctx, c, Request{
		OperationID: "PublishMessage",
		Method:      http.MethodPost,
		Path:        "/messages/publication",
		Body:        req,
	})
}
