package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flowsentinel.dev/parser"
)

var validateCmd = &cobra.Command{
	Use:   "validate <definition.json>",
	Short: "parse and validate a flow definition file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := parser.ParseFile(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("valid: flow %q, %d step(s), initial step %q\n", def.Id(), def.StepCount(), def.InitialStep())
		for _, id := range def.StepOrder() {
			step, _ := def.Step(id)
			fmt.Printf("  - %s (%s, %d transition(s))\n", id, step.NavigationType(), len(step.Transitions()))
		}
		return nil
	},
}
