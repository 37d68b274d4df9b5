// Package identifiers defines the validated value objects that name flows,
// steps and running instances throughout flowsentinel.
package identifiers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewInstanceId generates a fresh random instance id for callers that don't
// supply their own, e.g. cmd/flowctl run when no --instance flag is given.
func NewInstanceId() string {
	return uuid.NewString()
}

// FlowId names a flow definition. It is immutable and compares by value.
type FlowId struct {
	value string
}

// NewFlowId validates and constructs a FlowId. Blank values are rejected.
func NewFlowId(value string) (FlowId, error) {
	if isBlank(value) {
		return FlowId{}, fmt.Errorf("identifiers: %w: flow id must not be blank", ErrArgument)
	}
	return FlowId{value: value}, nil
}

// String returns the underlying value.
func (id FlowId) String() string { return id.value }

// StepId names a step within a flow definition.
type StepId struct {
	value string
}

// NewStepId validates and constructs a StepId. Blank values are rejected.
func NewStepId(value string) (StepId, error) {
	if isBlank(value) {
		return StepId{}, fmt.Errorf("identifiers: %w: step id must not be blank", ErrArgument)
	}
	return StepId{value: value}, nil
}

// String returns the underlying value.
func (id StepId) String() string { return id.value }

// AnonymousOwner is substituted for the owner segment of a storage key when
// no owner was supplied.
const AnonymousOwner = "anonymous"

// FlowKey identifies a running flow instance: flow name + owner + instance.
type FlowKey struct {
	flowName   string
	ownerId    string // empty when anonymous
	instanceId string
}

// NewFlowKey validates and constructs a FlowKey. flowName and instanceId must
// not be blank; ownerId may be blank, meaning an anonymous owner.
func NewFlowKey(flowName, ownerId, instanceId string) (FlowKey, error) {
	if isBlank(flowName) {
		return FlowKey{}, fmt.Errorf("identifiers: %w: flow name must not be blank", ErrArgument)
	}
	if isBlank(instanceId) {
		return FlowKey{}, fmt.Errorf("identifiers: %w: instance id must not be blank", ErrArgument)
	}
	if strings.Contains(flowName, ":") || strings.Contains(ownerId, ":") || strings.Contains(instanceId, ":") {
		return FlowKey{}, fmt.Errorf("identifiers: %w: key components must not contain ':'", ErrArgument)
	}
	return FlowKey{flowName: flowName, ownerId: strings.TrimSpace(ownerId), instanceId: instanceId}, nil
}

// FlowName returns the flow name component.
func (k FlowKey) FlowName() string { return k.flowName }

// OwnerId returns the owner id, or "" if anonymous.
func (k FlowKey) OwnerId() string { return k.ownerId }

// InstanceId returns the instance id component.
func (k FlowKey) InstanceId() string { return k.instanceId }

// StorageKey serializes the key as "<flowName>:<ownerId|anonymous>:<instanceId>".
func (k FlowKey) StorageKey() string {
	owner := k.ownerId
	if isBlank(owner) {
		owner = AnonymousOwner
	}
	return k.flowName + ":" + owner + ":" + k.instanceId
}

// String implements fmt.Stringer by returning the storage key.
func (k FlowKey) String() string { return k.StorageKey() }

// FlowContext carries the identity and partitioning information for a running
// flow instance: instance id, an optional owner, and an optional partition
// key. When partitionKey is unset, the effective partition defaults to the
// owner id.
type FlowContext struct {
	instanceId   string
	ownerId      string
	partitionKey string
}

// NewFlowContext validates and constructs a FlowContext. instanceId must not
// be blank; ownerId and partitionKey are optional.
func NewFlowContext(instanceId, ownerId, partitionKey string) (FlowContext, error) {
	if isBlank(instanceId) {
		return FlowContext{}, fmt.Errorf("identifiers: %w: instance id must not be blank", ErrArgument)
	}
	return FlowContext{
		instanceId:   instanceId,
		ownerId:      strings.TrimSpace(ownerId),
		partitionKey: strings.TrimSpace(partitionKey),
	}, nil
}

// AnonymousFlowContext builds a FlowContext with no owner or partition.
func AnonymousFlowContext(instanceId string) (FlowContext, error) {
	return NewFlowContext(instanceId, "", "")
}

// InstanceId returns the instance id component.
func (c FlowContext) InstanceId() string { return c.instanceId }

// OwnerId returns the owner id, or "" if anonymous.
func (c FlowContext) OwnerId() string { return c.ownerId }

// PartitionKey returns the explicitly-set partition key, or "" if unset.
func (c FlowContext) PartitionKey() string { return c.partitionKey }

// EffectivePartition returns partitionKey when set, else ownerId (which may
// itself be "" for a fully anonymous context).
func (c FlowContext) EffectivePartition() string {
	if !isBlank(c.partitionKey) {
		return c.partitionKey
	}
	return c.ownerId
}

// flowContextDoc is the wire shape of FlowContext: { "flowId", "ownerId",
// "partitionKey" }, matching the aggregate's on-disk encoding. "flowId" here
// names the instance id, not a FlowId value — a naming quirk carried over
// from the encoding this module's persisted shape was modeled on.
type flowContextDoc struct {
	FlowId       string `json:"flowId"`
	OwnerId      string `json:"ownerId"`
	PartitionKey string `json:"partitionKey"`
}

// MarshalJSON encodes c as { "flowId", "ownerId", "partitionKey" }.
func (c FlowContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(flowContextDoc{
		FlowId:       c.instanceId,
		OwnerId:      c.ownerId,
		PartitionKey: c.partitionKey,
	})
}

// UnmarshalJSON decodes c from { "flowId", "ownerId", "partitionKey" },
// restoring the unexported fields directly so a round-tripped FlowContext
// compares equal to the original without re-running NewFlowContext's
// validation.
func (c *FlowContext) UnmarshalJSON(data []byte) error {
	var doc flowContextDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	c.instanceId = doc.FlowId
	c.ownerId = doc.OwnerId
	c.partitionKey = doc.PartitionKey
	return nil
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
