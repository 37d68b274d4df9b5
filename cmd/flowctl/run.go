package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"flowsentinel.dev/engine"
	"flowsentinel.dev/identifiers"
	"flowsentinel.dev/logging"
	"flowsentinel.dev/parser"
)

var (
	runDefinitionPath string
	runFlowName       string
	runOwner          string
	runInstance       string
	runTarget         string
	runAttrs          []string
	runStart          bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start or advance a flow instance against the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := parser.ParseFile(runDefinitionPath)
		if err != nil {
			return err
		}

		flowName := runFlowName
		if flowName == "" {
			flowName = def.Id().String()
		}
		instance := runInstance
		if instance == "" {
			instance = identifiers.NewInstanceId()
		}

		key, err := identifiers.NewFlowKey(flowName, runOwner, instance)
		if err != nil {
			return err
		}

		attrs, err := parseAttrs(runAttrs)
		if err != nil {
			return err
		}

		cfg := loadConfig()
		st, closeStore, err := buildStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		e := engine.New(st, engine.WithMaxHistory(cfg.Engine.MaxHistory), engine.WithLogger(newLogger(cfg)))

		var state interface {
			CurrentStep() identifiers.StepId
			Completed() bool
			Attributes() map[string]interface{}
		}

		if runStart {
			s, err := e.Start(key, def, attrs)
			if err != nil {
				return err
			}
			state = s
		} else {
			if runTarget != "" {
				attrs[engine.TargetStepKey] = runTarget
			}
			s, err := e.Advance(key, def, attrs)
			if err != nil {
				return err
			}
			state = s
		}

		fmt.Printf("instance %s: step=%s completed=%t\n", key.StorageKey(), state.CurrentStep(), state.Completed())
		fmt.Printf("attributes: %v\n", state.Attributes())
		if agg, ok, err := st.LoadAggregate(key.StorageKey()); err == nil && ok {
			fmt.Printf("last updated %s\n", logging.Age(agg.Meta.UpdatedAt))
		}
		logging.Logger.WithFields(logging.Fields{"flow_key": key.StorageKey()}).Debug("flowctl: run complete")
		return nil
	},
}

func parseAttrs(raw []string) (map[string]interface{}, error) {
	attrs := make(map[string]interface{}, len(raw))
	for _, kv := range raw {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid --attr %q, expected key=value", kv)
		}
		attrs[parts[0]] = parts[1]
	}
	return attrs, nil
}

func init() {
	runCmd.Flags().StringVar(&runDefinitionPath, "definition", "", "path to the flow definition JSON file")
	runCmd.Flags().StringVar(&runFlowName, "flow", "", "flow name for the storage key (default: the definition's own id)")
	runCmd.Flags().StringVar(&runOwner, "owner", "", "owner id (blank for anonymous)")
	runCmd.Flags().StringVar(&runInstance, "instance", "", "instance id (default: a generated uuid)")
	runCmd.Flags().StringVar(&runTarget, "target", "", "explicit __targetStep for this advance")
	runCmd.Flags().StringSliceVar(&runAttrs, "attr", nil, "attribute key=value, repeatable")
	runCmd.Flags().BoolVar(&runStart, "start", false, "start a new instance instead of advancing an existing one")
	runCmd.MarkFlagRequired("definition")
}
