// Package engine implements the pure decision function that advances a flow
// instance from one step to the next, and the two-phase preview/persist
// protocol that integrates it with a request handler.
package engine

import (
	"time"

	"github.com/sirupsen/logrus"

	"flowsentinel.dev/definition"
	"flowsentinel.dev/flowerr"
	"flowsentinel.dev/flowstate"
	"flowsentinel.dev/identifiers"
	"flowsentinel.dev/logging"
	"flowsentinel.dev/store"
)

// TargetStepKey is the payload control key that designates an explicit
// target step for previewAdvance, bypassing ordered predicate evaluation.
const TargetStepKey = "__targetStep"

// Engine is the stateless decision function plus store-backed persistence.
// It performs no suspension on its own; the only blocking calls are the
// Store's.
type Engine struct {
	store      store.Store
	maxHistory int
	log        *logrus.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxHistory overrides the number of snapshots retained per aggregate.
func WithMaxHistory(n int) Option {
	return func(e *Engine) { e.maxHistory = n }
}

// WithLogger overrides the engine's logger (defaults to logging.Logger).
func WithLogger(l *logrus.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New constructs an Engine backed by st.
func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{store: st, maxHistory: store.DefaultMaxHistory, log: logging.Logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PreviewStart creates the initial state for a new flow instance from
// def.InitialStep, seeded with initialAttrs. It only observes the store via
// Exists — it performs no write.
func (e *Engine) PreviewStart(key identifiers.FlowKey, def definition.FlowDefinition, initialAttrs map[string]interface{}) (flowstate.FlowState, error) {
	storageKey := key.StorageKey()
	exists, err := e.store.Exists(storageKey)
	if err != nil {
		return flowstate.FlowState{}, err
	}
	if exists {
		return flowstate.FlowState{}, flowerr.Engine("flow already exists at key %q", storageKey)
	}
	return flowstate.New(def, def.InitialStep(), initialAttrs), nil
}

// PreviewAdvance loads the current state, validates the flow is not
// completed, selects exactly one transition per the selection algorithm, and
// applies it. It performs no write.
func (e *Engine) PreviewAdvance(key identifiers.FlowKey, def definition.FlowDefinition, payload map[string]interface{}) (flowstate.FlowState, error) {
	storageKey := key.StorageKey()
	agg, ok, err := e.store.LoadAggregate(storageKey)
	if err != nil {
		return flowstate.FlowState{}, err
	}
	if !ok {
		return flowstate.FlowState{}, flowerr.Engine("flow not found at key %q", storageKey)
	}

	state, err := rehydrate(def, agg.CurrentSnapshot)
	if err != nil {
		return flowstate.FlowState{}, err
	}
	if state.Completed() {
		return flowstate.FlowState{}, flowerr.Engine("flow at key %q is already completed", storageKey)
	}

	step, ok := def.Step(state.CurrentStep())
	if !ok {
		return flowstate.FlowState{}, flowerr.Engine("current step %q is not defined in flow %q", state.CurrentStep(), def.Id())
	}

	transition, err := selectTransition(step, payload, state)
	if err != nil {
		e.log.WithFields(logging.Fields{
			"flow_key":  storageKey,
			"from_step": state.CurrentStep().String(),
		}).WithError(err).Warn("engine: transition rejected")
		return flowstate.FlowState{}, err
	}

	merged := withoutControlKey(payload)
	next := state.Advance(transition, merged)

	e.log.WithFields(logging.Fields{
		"flow_key":  storageKey,
		"from_step": state.CurrentStep().String(),
		"to_step":   next.CurrentStep().String(),
		"completed": next.Completed(),
	}).Info("engine: transition selected")

	return next, nil
}

// Persist writes an aggregate reflecting state under key: fresh meta
// (version bumped, status advanced), a new current snapshot, and the prior
// current snapshot folded into bounded history.
func (e *Engine) Persist(key identifiers.FlowKey, state flowstate.FlowState) error {
	storageKey := key.StorageKey()
	now := time.Now()

	existing, ok, err := e.store.LoadAggregate(storageKey)
	if err != nil {
		return err
	}

	var agg store.FlowAggregate
	var meta store.FlowMeta
	if ok {
		agg = existing
		meta = existing.Meta.Advance(state.CurrentStep().String(), state.Completed(), now)
		if existing.CurrentSnapshot != nil {
			agg = agg.AppendHistory(*existing.CurrentSnapshot, e.maxHistory)
		}
	} else {
		ctx, ctxErr := identifiers.NewFlowContext(key.InstanceId(), key.OwnerId(), "")
		if ctxErr != nil {
			return ctxErr
		}
		meta = store.NewMeta(ctx, now).Advance(state.CurrentStep().String(), state.Completed(), now)
	}

	snapshot := store.FlowSnapshot{
		FlowId:      storageKey,
		StepId:      state.CurrentStep().String(),
		IsCompleted: state.Completed(),
		Attributes:  state.Attributes(),
	}
	agg.Meta = meta
	agg.CurrentSnapshot = &snapshot

	if err := e.store.SaveAggregate(storageKey, agg); err != nil {
		return err
	}
	return nil
}

// Start is previewStart composed with persist, for callers that don't need
// the two-phase split.
func (e *Engine) Start(key identifiers.FlowKey, def definition.FlowDefinition, initialAttrs map[string]interface{}) (flowstate.FlowState, error) {
	state, err := e.PreviewStart(key, def, initialAttrs)
	if err != nil {
		return flowstate.FlowState{}, err
	}
	if err := e.Persist(key, state); err != nil {
		return flowstate.FlowState{}, err
	}
	return state, nil
}

// Advance is previewAdvance composed with persist.
func (e *Engine) Advance(key identifiers.FlowKey, def definition.FlowDefinition, payload map[string]interface{}) (flowstate.FlowState, error) {
	state, err := e.PreviewAdvance(key, def, payload)
	if err != nil {
		return flowstate.FlowState{}, err
	}
	if err := e.Persist(key, state); err != nil {
		return flowstate.FlowState{}, err
	}
	return state, nil
}

// GetState loads the aggregate for key, resolves its definition via
// provider, and rehydrates a FlowState from the current snapshot. ok=false
// when no aggregate exists.
func (e *Engine) GetState(key identifiers.FlowKey, provider DefinitionProvider) (flowstate.FlowState, bool, error) {
	storageKey := key.StorageKey()
	agg, ok, err := e.store.LoadAggregate(storageKey)
	if err != nil {
		return flowstate.FlowState{}, false, err
	}
	if !ok {
		return flowstate.FlowState{}, false, nil
	}

	def, found, err := provider.Definition(key.FlowName())
	if err != nil {
		return flowstate.FlowState{}, false, err
	}
	if !found {
		return flowstate.FlowState{}, false, flowerr.Engine("no definition registered for flow %q", key.FlowName())
	}

	state, err := rehydrate(def, agg.CurrentSnapshot)
	if err != nil {
		return flowstate.FlowState{}, false, err
	}
	return state, true, nil
}

func rehydrate(def definition.FlowDefinition, snap *store.FlowSnapshot) (flowstate.FlowState, error) {
	if snap == nil {
		return flowstate.FlowState{}, flowerr.Engine("aggregate has no current snapshot")
	}
	stepId, err := identifiers.NewStepId(snap.StepId)
	if err != nil {
		return flowstate.FlowState{}, err
	}
	return flowstate.Restore(def, stepId, snap.IsCompleted, snap.Attributes), nil
}

// selectTransition implements §4.1's transition selection algorithm: an
// explicit __targetStep in payload is resolved first and must itself satisfy
// its condition (no fallback to ordered evaluation on failure); otherwise
// predicates are evaluated in declaration order and exactly one must be
// satisfied.
func selectTransition(step definition.StepDefinition, payload map[string]interface{}, state flowstate.FlowState) (definition.Transition, error) {
	transitions := step.Transitions()
	attrs := state.Attributes()

	if payload != nil {
		if raw, has := payload[TargetStepKey]; has {
			target, ok := raw.(string)
			if !ok {
				return definition.Transition{}, flowerr.Engine("%s must be a string, got %T", TargetStepKey, raw)
			}
			for _, tr := range transitions {
				to, hasTo := tr.Target()
				if hasTo && to.String() == target {
					if !tr.Satisfied(attrs) {
						return definition.Transition{}, flowerr.Engine("target step %q is not reachable: its condition is not satisfied", target)
					}
					return tr, nil
				}
			}
			return definition.Transition{}, flowerr.Engine("target step %q is not a transition target of step %q", target, step.Id())
		}
	}

	var satisfied []definition.Transition
	for _, tr := range transitions {
		if tr.Satisfied(attrs) {
			satisfied = append(satisfied, tr)
		}
	}
	switch len(satisfied) {
	case 0:
		return definition.Transition{}, flowerr.Engine("no transition out of step %q is satisfied", step.Id())
	case 1:
		return satisfied[0], nil
	default:
		return definition.Transition{}, flowerr.Engine("ambiguous transitions out of step %q: %d satisfied, an explicit %s is required", step.Id(), len(satisfied), TargetStepKey)
	}
}

func withoutControlKey(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if k == TargetStepKey {
			continue
		}
		out[k] = v
	}
	return out
}
