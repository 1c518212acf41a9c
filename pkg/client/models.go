package client

import (
	"time"

	"github.com/nimburion/orchestra/pkg/version"
)

// ActivateJobsRequest asks the engine to lease up to MaxJobsToActivate jobs.
type ActivateJobsRequest struct {
	Type              string   `json:"type"`
	Worker            string   `json:"worker,omitempty"`
	Timeout           int64    `json:"timeout"`
	MaxJobsToActivate int      `json:"maxJobsToActivate"`
	FetchVariable     []string `json:"fetchVariable,omitempty"`
	RequestTimeout    int64    `json:"requestTimeout,omitempty"`
	TenantIDs         []string `json:"tenantIds,omitempty"`
}

// ActivateJobsResponse lists the leased jobs.
type ActivateJobsResponse struct {
	Jobs []ActivatedJob `json:"jobs"`
}

// ActivatedJob is a lease on one unit of work.
type ActivatedJob struct {
	Type                     string            `json:"type"`
	JobKey                   string            `json:"jobKey"`
	ProcessInstanceKey       string            `json:"processInstanceKey,omitempty"`
	ProcessDefinitionID      string            `json:"processDefinitionId,omitempty"`
	ProcessDefinitionVersion int               `json:"processDefinitionVersion,omitempty"`
	ProcessDefinitionKey     string            `json:"processDefinitionKey,omitempty"`
	ElementID                string            `json:"elementId,omitempty"`
	ElementInstanceKey       string            `json:"elementInstanceKey,omitempty"`
	CustomHeaders            map[string]string `json:"customHeaders,omitempty"`
	Worker                   string            `json:"worker,omitempty"`
	Retries                  int               `json:"retries"`
	// Deadline is the lock deadline in epoch milliseconds.
	Deadline  int64          `json:"deadline"`
	Variables map[string]any `json:"variables,omitempty"`
	TenantID  string         `json:"tenantId,omitempty"`
}

// LockDeadline returns Deadline as a time.
func (j *ActivatedJob) LockDeadline() time.Time {
	return time.UnixMilli(j.Deadline)
}

// CompleteJobRequest reports a successful job.
type CompleteJobRequest struct {
	Variables map[string]any `json:"variables,omitempty"`
}

// FailJobRequest reports a failed job with the retries left.
type FailJobRequest struct {
	Retries      int            `json:"retries"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	RetryBackOff int64          `json:"retryBackOff,omitempty"`
	Variables    map[string]any `json:"variables,omitempty"`
}

// ThrowJobErrorRequest raises a BPMN error for a job.
type ThrowJobErrorRequest struct {
	ErrorCode    string         `json:"errorCode"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Variables    map[string]any `json:"variables,omitempty"`
}

// UpdateJobRequest changes a job's retries or lock timeout.
type UpdateJobRequest struct {
	Changeset JobChangeset `json:"changeset"`
}

// JobChangeset holds the fields to update. Nil fields are left unchanged.
type JobChangeset struct {
	Retries *int   `json:"retries,omitempty"`
	Timeout *int64 `json:"timeout,omitempty"`
}

// Topology describes the engine cluster.
type Topology struct {
	Brokers           []BrokerInfo `json:"brokers"`
	ClusterSize       int          `json:"clusterSize"`
	PartitionsCount   int          `json:"partitionsCount"`
	ReplicationFactor int          `json:"replicationFactor"`
	GatewayVersion    string       `json:"gatewayVersion"`
}

// BrokerInfo describes one broker.
type BrokerInfo struct {
	NodeID     int         `json:"nodeId"`
	Host       string      `json:"host"`
	Port       int         `json:"port"`
	Partitions []Partition `json:"partitions"`
	Version    string      `json:"version"`
}

// Partition describes one partition hosted by a broker.
type Partition struct {
	PartitionID int    `json:"partitionId"`
	Role        string `json:"role"`
	Health      string `json:"health"`
}

// CreateProcessInstanceRequest starts a process by id or key.
type CreateProcessInstanceRequest struct {
	ProcessDefinitionID      string         `json:"processDefinitionId,omitempty"`
	ProcessDefinitionKey     string         `json:"processDefinitionKey,omitempty"`
	ProcessDefinitionVersion int            `json:"processDefinitionVersion,omitempty"`
	Variables                map[string]any `json:"variables,omitempty"`
	TenantID                 string         `json:"tenantId,omitempty"`
	OperationReference       int64          `json:"operationReference,omitempty"`
}

// ProcessInstanceCreation is the result of CreateProcessInstance.
type ProcessInstanceCreation struct {
	ProcessDefinitionID      string `json:"processDefinitionId"`
	ProcessDefinitionVersion int    `json:"processDefinitionVersion"`
	TenantID                 string `json:"tenantId"`
	ProcessDefinitionKey     string `json:"processDefinitionKey"`
	ProcessInstanceKey       string `json:"processInstanceKey"`
}

// ProcessInstance is a process instance as seen by the secondary storage.
type ProcessInstance struct {
	ProcessInstanceKey       string `json:"processInstanceKey"`
	ProcessDefinitionID      string `json:"processDefinitionId"`
	ProcessDefinitionName    string `json:"processDefinitionName,omitempty"`
	ProcessDefinitionVersion int    `json:"processDefinitionVersion"`
	ProcessDefinitionKey     string `json:"processDefinitionKey"`
	State                    string `json:"state"`
	StartDate                string `json:"startDate,omitempty"`
	EndDate                  string `json:"endDate,omitempty"`
	HasIncident              bool   `json:"hasIncident"`
	TenantID                 string `json:"tenantId"`
}

// ProcessInstanceFilter narrows a search. Empty fields are ignored.
type ProcessInstanceFilter struct {
	ProcessInstanceKey  string `json:"processInstanceKey,omitempty"`
	ProcessDefinitionID string `json:"processDefinitionId,omitempty"`
	State               string `json:"state,omitempty"`
	TenantID            string `json:"tenantId,omitempty"`
}

// SearchPage bounds a search.
type SearchPage struct {
	From  int `json:"from,omitempty"`
	Limit int `json:"limit,omitempty"`
}

// SearchProcessInstancesRequest queries process instances.
type SearchProcessInstancesRequest struct {
	Filter ProcessInstanceFilter `json:"filter"`
	Page   *SearchPage           `json:"page,omitempty"`
}

// SearchProcessInstancesResponse is one page of results.
type SearchProcessInstancesResponse struct {
	Items []ProcessInstance `json:"items"`
	Page  struct {
		TotalItems int64 `json:"totalItems"`
	} `json:"page"`
}

// CancelProcessInstanceRequest cancels a running instance.
type CancelProcessInstanceRequest struct {
	OperationReference int64 `json:"operationReference,omitempty"`
}

// PublishMessageRequest publishes a message for correlation.
type PublishMessageRequest struct {
	Name           string         `json:"name"`
	CorrelationKey string         `json:"correlationKey,omitempty"`
	TimeToLive     int64          `json:"timeToLive,omitempty"`
	MessageID      string         `json:"messageId,omitempty"`
	Variables      map[string]any `json:"variables,omitempty"`
	TenantID       string         `json:"tenantId,omitempty"`
}

// PublishMessageResponse identifies the published message.
type PublishMessageResponse struct {
	MessageKey string `json:"messageKey"`
	TenantID   string `json:"tenantId"`
}

// GatewayAtLeast reports whether the gateway runs at least min.
func (t *Topology) GatewayAtLeast(min version.SemVer) (bool, error) {
	return version.AtLeast(t.GatewayVersion, min)
}
