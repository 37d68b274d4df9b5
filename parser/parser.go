// Package parser deserializes FlowDefinitions from JSON. Unknown fields are
// ignored; required fields are validated by the identifiers and definition
// constructors. JSON-loaded transitions never carry a predicate: they use the
// always-true default. Conditional transitions must be built programmatically.
package parser

import (
	"encoding/json"
	"io"
	"os"

	"flowsentinel.dev/definition"
	"flowsentinel.dev/flowerr"
	"flowsentinel.dev/identifiers"
)

type transitionDoc struct {
	To        string `json:"to"`
	EndOfFlow bool   `json:"endOfFlow"`
}

type stepDoc struct {
	Id             string          `json:"id"`
	NavigationType string          `json:"navigationType"`
	Transitions    []transitionDoc `json:"transitions"`
}

type flowDoc struct {
	Id          string    `json:"id"`
	InitialStep string    `json:"initialStep"`
	Steps       []stepDoc `json:"steps"`
}

// ParseBytes deserializes a FlowDefinition from raw JSON. source names the
// input for error reporting (a file path, or "string"/"stream").
func ParseBytes(source string, data []byte) (definition.FlowDefinition, error) {
	var doc flowDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return definition.FlowDefinition{}, flowerr.Parse(source, err)
	}
	def, err := build(doc)
	if err != nil {
		return definition.FlowDefinition{}, flowerr.Parse(source, err)
	}
	return def, nil
}

// ParseString deserializes a FlowDefinition from a JSON string.
func ParseString(s string) (definition.FlowDefinition, error) {
	return ParseBytes("string", []byte(s))
}

// ParseReader deserializes a FlowDefinition from an io.Reader.
func ParseReader(source string, r io.Reader) (definition.FlowDefinition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return definition.FlowDefinition{}, flowerr.Parse(source, err)
	}
	return ParseBytes(source, data)
}

// ParseFile deserializes a FlowDefinition from the file at path.
func ParseFile(path string) (definition.FlowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return definition.FlowDefinition{}, flowerr.Parse(path, err)
	}
	return ParseBytes(path, data)
}

func build(doc flowDoc) (definition.FlowDefinition, error) {
	flowId, err := identifiers.NewFlowId(doc.Id)
	if err != nil {
		return definition.FlowDefinition{}, err
	}
	initialStep, err := identifiers.NewStepId(doc.InitialStep)
	if err != nil {
		return definition.FlowDefinition{}, err
	}

	steps := make([]definition.StepDefinition, 0, len(doc.Steps))
	for _, sd := range doc.Steps {
		step, err := buildStep(sd)
		if err != nil {
			return definition.FlowDefinition{}, err
		}
		steps = append(steps, step)
	}

	return definition.NewFlowDefinition(flowId, initialStep, steps)
}

func buildStep(sd stepDoc) (definition.StepDefinition, error) {
	stepId, err := identifiers.NewStepId(sd.Id)
	if err != nil {
		return definition.StepDefinition{}, err
	}

	navType := definition.NavigationType(sd.NavigationType)
	if navType == "" {
		navType = definition.Simple
	}

	transitions := make([]definition.Transition, 0, len(sd.Transitions))
	for _, td := range sd.Transitions {
		tr, err := buildTransition(td)
		if err != nil {
			return definition.StepDefinition{}, err
		}
		transitions = append(transitions, tr)
	}

	return definition.NewStepDefinition(stepId, navType, transitions)
}

// buildTransition maps the three documented shapes: {to}, {endOfFlow:true},
// and {to, endOfFlow:false}. A document with neither "to" nor
// "endOfFlow":true is rejected here with a definition error.
func buildTransition(td transitionDoc) (definition.Transition, error) {
	if td.EndOfFlow {
		return definition.Eof(), nil
	}
	if td.To == "" {
		return definition.Transition{}, flowerr.Definition("transition must set either \"to\" or \"endOfFlow\": true")
	}
	stepId, err := identifiers.NewStepId(td.To)
	if err != nil {
		return definition.Transition{}, err
	}
	return definition.To(stepId), nil
}
