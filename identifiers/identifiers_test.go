package identifiers

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFlowId_RejectsBlank(t *testing.T) {
	_, err := NewFlowId("   ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrArgument))
}

func TestNewFlowId_AcceptsValue(t *testing.T) {
	id, err := NewFlowId("onboarding")
	require.NoError(t, err)
	assert.Equal(t, "onboarding", id.String())
}

func TestNewStepId_RejectsBlank(t *testing.T) {
	_, err := NewStepId("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrArgument))
}

func TestNewFlowKey_StorageKey(t *testing.T) {
	tests := []struct {
		name       string
		flowName   string
		ownerId    string
		instanceId string
		want       string
	}{
		{"WithOwner", "onboarding", "u-1", "i-1", "onboarding:u-1:i-1"},
		{"AnonymousOwner", "onboarding", "", "i-1", "onboarding:anonymous:i-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := NewFlowKey(tt.flowName, tt.ownerId, tt.instanceId)
			require.NoError(t, err)
			assert.Equal(t, tt.want, k.StorageKey())
			assert.Equal(t, tt.want, k.String())
		})
	}
}

func TestNewFlowKey_RejectsBlankComponents(t *testing.T) {
	_, err := NewFlowKey("", "u-1", "i-1")
	assert.True(t, errors.Is(err, ErrArgument))

	_, err = NewFlowKey("onboarding", "u-1", "")
	assert.True(t, errors.Is(err, ErrArgument))
}

func TestNewFlowKey_RejectsColonInComponents(t *testing.T) {
	_, err := NewFlowKey("on:boarding", "u-1", "i-1")
	assert.True(t, errors.Is(err, ErrArgument))
}

func TestFlowContext_EffectivePartition(t *testing.T) {
	ctx, err := NewFlowContext("i-1", "u-1", "")
	require.NoError(t, err)
	assert.Equal(t, "u-1", ctx.EffectivePartition())

	ctx, err = NewFlowContext("i-1", "u-1", "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", ctx.EffectivePartition())

	ctx, err = AnonymousFlowContext("i-1")
	require.NoError(t, err)
	assert.Equal(t, "", ctx.EffectivePartition())
	assert.Equal(t, "", ctx.OwnerId())
}

func TestFlowContext_RejectsBlankInstanceId(t *testing.T) {
	_, err := NewFlowContext("", "u-1", "")
	assert.True(t, errors.Is(err, ErrArgument))
}

func TestFlowContext_JSONRoundTrip(t *testing.T) {
	ctx, err := NewFlowContext("i-1", "u-1", "tenant-a")
	require.NoError(t, err)

	data, err := json.Marshal(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"flowId":"i-1","ownerId":"u-1","partitionKey":"tenant-a"}`, string(data))

	var got FlowContext
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, ctx, got)
	assert.Equal(t, "i-1", got.InstanceId())
	assert.Equal(t, "u-1", got.OwnerId())
	assert.Equal(t, "tenant-a", got.PartitionKey())
}

func TestNewInstanceId_ProducesDistinctNonBlankValues(t *testing.T) {
	a := NewInstanceId()
	b := NewInstanceId()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
