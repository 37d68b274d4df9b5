package flowstate

import (
	"testing"

	"flowsentinel.dev/definition"
	"flowsentinel.dev/identifiers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTwoStepDef(t *testing.T) (definition.FlowDefinition, identifiers.StepId, identifiers.StepId) {
	t.Helper()
	flowId, err := identifiers.NewFlowId("two-step")
	require.NoError(t, err)
	s1, err := identifiers.NewStepId("s1")
	require.NoError(t, err)
	s2, err := identifiers.NewStepId("s2")
	require.NoError(t, err)

	step1, err := definition.NewStepDefinition(s1, definition.Simple, []definition.Transition{definition.To(s2)})
	require.NoError(t, err)
	step2, err := definition.NewStepDefinition(s2, definition.Simple, []definition.Transition{definition.Eof()})
	require.NoError(t, err)

	def, err := definition.NewFlowDefinition(flowId, s1, []definition.StepDefinition{step1, step2})
	require.NoError(t, err)
	return def, s1, s2
}

func TestFlowState_AdvanceToNextStep(t *testing.T) {
	def, s1, s2 := buildTwoStepDef(t)
	state := New(def, s1, map[string]interface{}{"a": 1})

	step1, _ := def.Step(s1)
	tr := step1.Transitions()[0]

	next := state.Advance(tr, map[string]interface{}{"b": 2})

	assert.Equal(t, s2, next.CurrentStep())
	assert.False(t, next.Completed())
	assert.Equal(t, 1, next.Attributes()["a"])
	assert.Equal(t, 2, next.Attributes()["b"])

	// original is untouched
	assert.Equal(t, s1, state.CurrentStep())
	assert.NotContains(t, state.Attributes(), "b")
}

func TestFlowState_AdvanceEndOfFlowPreservesCurrentStep(t *testing.T) {
	def, _, s2 := buildTwoStepDef(t)
	state := New(def, s2, nil)

	step2, _ := def.Step(s2)
	tr := step2.Transitions()[0]
	require.True(t, tr.IsEndOfFlow())

	next := state.Advance(tr, nil)

	assert.True(t, next.Completed())
	assert.Equal(t, s2, next.CurrentStep())
}

func TestRestore_RehydratesCompletedState(t *testing.T) {
	def, _, s2 := buildTwoStepDef(t)
	state := Restore(def, s2, true, map[string]interface{}{"a": 1})
	assert.Equal(t, s2, state.CurrentStep())
	assert.True(t, state.Completed())
	assert.Equal(t, 1, state.Attributes()["a"])
}

func TestFlowState_AttributesAreDefensivelyCopied(t *testing.T) {
	def, s1, _ := buildTwoStepDef(t)
	attrs := map[string]interface{}{"a": 1}
	state := New(def, s1, attrs)

	got := state.Attributes()
	got["a"] = 999

	assert.Equal(t, 1, state.Attributes()["a"])
}
