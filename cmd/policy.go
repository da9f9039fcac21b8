/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package cmd

import (
	"fmt"

	"github.com/fulmenhq/reface/internal/assets"
	"github.com/fulmenhq/reface/internal/mutation"
	"github.com/fulmenhq/reface/internal/pathpolicy"
	"github.com/spf13/cobra"
)

func newPolicyCommand() *cobra.Command {
	policyCmd := &cobra.Command{
		Use:   "policy",
		Short: "Check paths against the allow/deny lists, project root and Rego policy",
	}

	checkCmd := &cobra.Command{
		Use:   "check [paths...]",
		Short: "Report every path that may not be mutated",
		Long: `Checks the given repository-relative paths, or with --from/--to the paths
changed between two revisions, against the configured scope. Any violation
rejects the whole set.`,
		RunE: runPolicyCheck,
	}
	checkCmd.Flags().String("from", "", "Base revision for a changed-paths check")
	checkCmd.Flags().String("to", "HEAD", "Target revision for a changed-paths check")
	checkCmd.Flags().String("thread", "", "Record a violation in this thread's ledger")
	addPipelineFlags(checkCmd)

	exampleCmd := &cobra.Command{
		Use:   "example",
		Short: "Print an example Rego module for scope.policy_file",
		Args:  cobra.NoArgs,
		RunE:  runPolicyExample,
	}

	policyCmd.AddCommand(checkCmd, exampleCmd)
	return policyCmd
}

func runPolicyCheck(cmd *cobra.Command, args []string) error {
	p, err := openPipeline(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	from, _ := cmd.Flags().GetString("from")
	thread, _ := cmd.Flags().GetString("thread")

	if from != "" {
		if thread == "" {
			return fmt.Errorf("--thread is required with --from")
		}
		to, _ := cmd.Flags().GetString("to")
		paths, err := p.CheckChanges(cmd.Context(), thread, nil, from, to)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d changed path(s) within scope\n", len(paths))
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("no paths given")
	}
	violations := p.Check(cmd.Context(), thread, args)
	if len(violations) == 0 {
		fmt.Fprintf(out, "%d path(s) allowed\n", len(args))
		return nil
	}
	for _, v := range violations {
		fmt.Fprintln(out, v.String())
	}
	verr := mutation.NewScopeViolation(pathpolicy.ViolationStrings(violations))
	if thread != "" {
		if _, err := p.Ledger.AppendDecision(cmd.Context(), thread, p.Actor, mutation.ScopeViolation.String(), mutation.Summary(verr)); err != nil {
			return err
		}
	}
	return verr
}

func runPolicyExample(cmd *cobra.Command, _ []string) error {
	info, ok := assets.Lookup("path-policy-example")
	if !ok {
		return fmt.Errorf("example policy not registered")
	}
	data, ok := assets.GetTemplate(info.Path)
	if !ok {
		return fmt.Errorf("example policy %s not embedded", info.Path)
	}
	_, err := cmd.OutOrStdout().Write(data)
	return err
}
