package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"netforge/internal/rules"
	"netforge/pkg/rulespec"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Rule set utilities",
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a rule set and compile every regex pattern",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, err := rulespec.LoadFile(args[0])
		if err != nil {
			return err
		}
		eng := rules.New(log)
		diags := eng.Load(rs.Rules)

		failed := make(map[rulespec.RuleID]string, len(diags))
		for _, d := range diags {
			failed[d.RuleID] = d.Message
		}
		out := cmd.OutOrStdout()
		for _, r := range rs.Rules {
			state := "active"
			if !r.Active {
				state = "inactive"
			}
			if msg, ok := failed[r.ID]; ok {
				fmt.Fprintf(out, "%s %s [%s] %s\n", red("FAIL"), r.ID, r.Type, msg)
				continue
			}
			fmt.Fprintf(out, "%s %s [%s] %s -> %s (%s)\n", green(" OK "), r.ID, r.Type, r.Condition.Kind(), r.Action.Kind(), state)
		}
		if len(diags) > 0 {
			return fmt.Errorf("%d of %d rules have invalid patterns", len(diags), len(rs.Rules))
		}
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesCheckCmd)
}
