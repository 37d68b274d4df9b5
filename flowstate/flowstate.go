// Package flowstate holds the immutable in-flight state of a running flow
// instance and the pure transition function that advances it.
package flowstate

import (
	"flowsentinel.dev/definition"
	"flowsentinel.dev/identifiers"
)

// FlowState is the immutable runtime state of a flow instance: the backing
// definition, the current step, whether the flow has completed, and the
// accumulated attribute map. Advance never mutates a FlowState in place; it
// always returns a new instance.
type FlowState struct {
	def         definition.FlowDefinition
	currentStep identifiers.StepId
	completed   bool
	attributes  map[string]interface{}
}

// New constructs the initial FlowState for def, seeded with the given
// attributes.
func New(def definition.FlowDefinition, currentStep identifiers.StepId, attributes map[string]interface{}) FlowState {
	return FlowState{
		def:         def,
		currentStep: currentStep,
		completed:   false,
		attributes:  cloneAttrs(attributes),
	}
}

// Restore rehydrates a FlowState from a persisted snapshot's fields,
// bypassing Advance since no transition is being taken — this only
// reconstructs state that was already committed.
func Restore(def definition.FlowDefinition, currentStep identifiers.StepId, completed bool, attributes map[string]interface{}) FlowState {
	return FlowState{
		def:         def,
		currentStep: currentStep,
		completed:   completed,
		attributes:  cloneAttrs(attributes),
	}
}

// Definition returns the backing FlowDefinition.
func (s FlowState) Definition() definition.FlowDefinition { return s.def }

// CurrentStep returns the step the instance currently occupies.
func (s FlowState) CurrentStep() identifiers.StepId { return s.currentStep }

// Completed reports whether the flow has reached an end-of-flow transition.
func (s FlowState) Completed() bool { return s.completed }

// Attributes returns a defensive copy of the current attribute map.
func (s FlowState) Attributes() map[string]interface{} { return cloneAttrs(s.attributes) }

// Advance applies transition with payload merged into the attribute map,
// returning a new FlowState. If transition is an end-of-flow transition, the
// returned state is completed and currentStep is left unchanged — the step
// on which the flow terminated is preserved, never cleared.
func (s FlowState) Advance(transition definition.Transition, payload map[string]interface{}) FlowState {
	merged := cloneAttrs(s.attributes)
	for k, v := range payload {
		merged[k] = v
	}

	if transition.IsEndOfFlow() {
		return FlowState{def: s.def, currentStep: s.currentStep, completed: true, attributes: merged}
	}

	next, _ := transition.Target()
	return FlowState{def: s.def, currentStep: next, completed: false, attributes: merged}
}

func cloneAttrs(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
