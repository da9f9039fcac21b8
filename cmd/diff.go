/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package cmd

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/reface/internal/diffextract"
	"github.com/fulmenhq/reface/pkg/logger"
	"github.com/spf13/cobra"
)

func newDiffCommand() *cobra.Command {
	diffCmd := &cobra.Command{
		Use:   "diff",
		Short: "Extract, check and apply unified diffs from model output",
	}

	extractCmd := &cobra.Command{
		Use:   "extract [file|-]",
		Short: "Recover one normalized unified diff from free-form output",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDiffExtract,
	}
	extractCmd.Flags().Bool("files", false, "Print destination paths instead of the diff")
	addPipelineFlags(extractCmd)

	preflightCmd := &cobra.Command{
		Use:   "preflight [file|-]",
		Short: "Check whether an extracted diff applies cleanly without touching the tree",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDiffPreflight,
	}
	preflightCmd.Flags().String("format", "text", "Output format (text|json|yaml)")
	addPipelineFlags(preflightCmd)

	applyCmd := &cobra.Command{
		Use:   "apply [file|-]",
		Short: "Authorize and apply a diff through the strategy chain",
		Long: `Extracts the diff, rejects it whole if any destination path is outside the
authorized scope, runs a preflight check, then tries git apply, git apply --3way,
patch and, for pure file creations, direct writes. The outcome is recorded in the
thread ledger.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runDiffApply,
	}
	applyCmd.Flags().String("thread", "", "Thread id whose ledger records the outcome")
	applyCmd.Flags().String("format", "text", "Output format (text|json|yaml)")
	_ = applyCmd.MarkFlagRequired("thread")
	addPipelineFlags(applyCmd)

	diffCmd.AddCommand(extractCmd, preflightCmd, applyCmd)
	return diffCmd
}

func extractFromArgs(cmd *cobra.Command, args []string) (string, string, error) {
	raw, err := readInput(cmd, args)
	if err != nil {
		return "", "", err
	}
	cfg, dir, err := loadConfig(cmd)
	if err != nil {
		return "", "", err
	}
	text, err := diffextract.Extract(raw, diffextract.Limits{MaxSize: cfg.Diff.MaxSize, MaxFiles: cfg.Diff.MaxFiles})
	if err != nil {
		return "", "", err
	}
	return diffextract.NormalizeHeaders(diffextract.Coerce(text), dir), dir, nil
}

func runDiffExtract(cmd *cobra.Command, args []string) error {
	text, _, err := extractFromArgs(cmd, args)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if files, _ := cmd.Flags().GetBool("files"); files {
		for _, p := range diffextract.DestinationPaths(text) {
			fmt.Fprintln(out, p)
		}
		return nil
	}
	fmt.Fprint(out, text)
	if !strings.HasSuffix(text, "\n") {
		fmt.Fprintln(out)
	}
	return nil
}

func runDiffPreflight(cmd *cobra.Command, args []string) error {
	text, _, err := extractFromArgs(cmd, args)
	if err != nil {
		return err
	}
	p, err := openPipeline(cmd)
	if err != nil {
		return err
	}
	res, err := p.Engine.Preflight(cmd.Context(), text)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	if format != "text" {
		return writeOutput(cmd.OutOrStdout(), format, res)
	}
	if res.OK {
		fmt.Fprintln(cmd.OutOrStdout(), "preflight: ok")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "preflight: does not apply cleanly\n%s\n", res.Stderr)
	return fmt.Errorf("diff does not apply cleanly")
}

func runDiffApply(cmd *cobra.Command, args []string) error {
	raw, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	thread, _ := cmd.Flags().GetString("thread")
	p, err := openPipeline(cmd)
	if err != nil {
		return err
	}
	res, err := p.ApplyDiff(cmd.Context(), thread, raw)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	if format != "text" {
		return writeOutput(cmd.OutOrStdout(), format, res)
	}
	out := cmd.OutOrStdout()
	if res.DryRun {
		fmt.Fprintf(out, "dry run: %d file(s), preflight ok=%t\n", len(res.Files), res.Preflight.OK)
	} else {
		fmt.Fprintf(out, "applied via %s: %s\n", res.Strategy, strings.Join(res.Files, ", "))
		if res.CommitSHA != "" {
			fmt.Fprintf(out, "commit %s\n", res.CommitSHA)
		}
	}
	logger.Debug("diff command finished", logger.Strings("attempts", res.Attempts))
	return nil
}
