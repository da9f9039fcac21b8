/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fulmenhq/reface/internal/ledger"
	"github.com/fulmenhq/reface/internal/pipeline"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

func newLedgerCommand() *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and update per-thread ledgers",
	}
	ledgerCmd.PersistentFlags().String("thread", "", "Thread id")
	ledgerCmd.PersistentFlags().String("ledger-root", "", "Directory holding thread ledgers")
	_ = ledgerCmd.MarkPersistentFlagRequired("thread")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Record project structure and base commit for a thread",
		Args:  cobra.NoArgs,
		RunE:  runLedgerInit,
	}
	initCmd.Flags().String("project-root", "", "Authorized project root (repository relative)")
	initCmd.Flags().String("title", "", "Issue or request text searched for a project tag")
	initCmd.Flags().Int("issue", 0, "Issue number the thread works on")
	initCmd.Flags().Int("pr", 0, "Pull request number the thread works on")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print a thread ledger",
		Args:  cobra.NoArgs,
		RunE:  runLedgerShow,
	}
	showCmd.Flags().String("format", "text", "Output format (text|json|yaml)")

	statusCmd := &cobra.Command{
		Use:   "status <status>",
		Short: "Set the thread status",
		Args:  cobra.ExactArgs(1),
		RunE:  runLedgerStatus,
	}

	decideCmd := &cobra.Command{
		Use:   "decide",
		Short: "Append a decision to the thread ledger",
		Args:  cobra.NoArgs,
		RunE:  runLedgerDecide,
	}
	decideCmd.Flags().String("actor", "operator", "Who made the decision")
	decideCmd.Flags().String("kind", "", "Decision kind")
	decideCmd.Flags().String("note", "", "Decision note")
	_ = decideCmd.MarkFlagRequired("note")

	scopeCmd := &cobra.Command{
		Use:   "scope",
		Short: "Replace the thread's must-edit and must-not-edit lists",
		Args:  cobra.NoArgs,
		RunE:  runLedgerScope,
	}
	scopeCmd.Flags().StringSlice("must-edit", nil, "Paths the thread is expected to change")
	scopeCmd.Flags().StringSlice("must-not-edit", nil, "Paths the thread must leave alone")

	snapshotCmd := &cobra.Command{
		Use:   "snapshot <paths...>",
		Short: "Store and record the current content of files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runLedgerSnapshot,
	}

	restoreCmd := &cobra.Command{
		Use:   "restore <paths...>",
		Short: "Write back the content files had before their latest mutation",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runLedgerRestore,
	}

	telemetryCmd := &cobra.Command{
		Use:   "telemetry",
		Short: "Add generator usage to the thread totals",
		Args:  cobra.NoArgs,
		RunE:  runLedgerTelemetry,
	}
	telemetryCmd.Flags().String("model", "", "Model that produced the latest output")
	telemetryCmd.Flags().Int("prompt-tokens", 0, "Prompt tokens used")
	telemetryCmd.Flags().Int("completion-tokens", 0, "Completion tokens used")
	telemetryCmd.Flags().Duration("latency", 0, "Generation latency")
	telemetryCmd.Flags().Float64("cost", 0, "Estimated cost")

	ledgerCmd.AddCommand(initCmd, showCmd, statusCmd, decideCmd, scopeCmd, snapshotCmd, restoreCmd, telemetryCmd)
	return ledgerCmd
}

func threadFlag(cmd *cobra.Command) string {
	t, _ := cmd.Flags().GetString("thread")
	return t
}

func runLedgerInit(cmd *cobra.Command, _ []string) error {
	p, err := openPipeline(cmd)
	if err != nil {
		return err
	}
	var origin pipeline.ThreadOrigin
	origin.Text, _ = cmd.Flags().GetString("title")
	origin.Issue, _ = cmd.Flags().GetInt("issue")
	origin.PR, _ = cmd.Flags().GetInt("pr")
	doc, err := p.StartThread(cmd.Context(), threadFlag(cmd), origin)
	if err != nil {
		return err
	}
	return printDocument(cmd.OutOrStdout(), doc)
}

func runLedgerShow(cmd *cobra.Command, _ []string) error {
	store, _, err := openLedger(cmd)
	if err != nil {
		return err
	}
	doc, err := store.Load(threadFlag(cmd))
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	if format != "text" {
		return writeOutput(cmd.OutOrStdout(), format, doc)
	}
	return printDocument(cmd.OutOrStdout(), doc)
}

func runLedgerStatus(cmd *cobra.Command, args []string) error {
	store, _, err := openLedger(cmd)
	if err != nil {
		return err
	}
	doc, err := store.SetStatus(cmd.Context(), threadFlag(cmd), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", doc.ThreadID, doc.Status)
	return nil
}

func runLedgerDecide(cmd *cobra.Command, _ []string) error {
	store, _, err := openLedger(cmd)
	if err != nil {
		return err
	}
	actor, _ := cmd.Flags().GetString("actor")
	kind, _ := cmd.Flags().GetString("kind")
	note, _ := cmd.Flags().GetString("note")
	doc, err := store.AppendDecision(cmd.Context(), threadFlag(cmd), actor, kind, note)
	if err != nil {
		return err
	}
	last := doc.Decisions[len(doc.Decisions)-1]
	fmt.Fprintf(cmd.OutOrStdout(), "decision %s recorded\n", last.ID)
	return nil
}

func runLedgerScope(cmd *cobra.Command, _ []string) error {
	store, _, err := openLedger(cmd)
	if err != nil {
		return err
	}
	mustEdit, _ := cmd.Flags().GetStringSlice("must-edit")
	mustNot, _ := cmd.Flags().GetStringSlice("must-not-edit")
	doc, err := store.SetScope(cmd.Context(), threadFlag(cmd), mustEdit, mustNot)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "must edit: %s\nmust not edit: %s\n",
		strings.Join(doc.Scope.MustEdit, ", "), strings.Join(doc.Scope.MustNotEdit, ", "))
	return nil
}

func runLedgerSnapshot(cmd *cobra.Command, args []string) error {
	p, err := openPipeline(cmd)
	if err != nil {
		return err
	}
	for _, path := range args {
		gc, err := p.Prepare(cmd.Context(), threadFlag(cmd), path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", gc.PreHash, path)
	}
	return nil
}

func runLedgerRestore(cmd *cobra.Command, args []string) error {
	p, err := openPipeline(cmd)
	if err != nil {
		return err
	}
	for _, path := range args {
		snap, err := p.Restore(cmd.Context(), threadFlag(cmd), path)
		if err != nil {
			return err
		}
		verb := "restored"
		if p.Config.Pipeline.DryRun {
			verb = "would restore"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", verb, path, snap.Hash)
	}
	return nil
}

func runLedgerTelemetry(cmd *cobra.Command, _ []string) error {
	store, _, err := openLedger(cmd)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	prompt, _ := f.GetInt("prompt-tokens")
	completion, _ := f.GetInt("completion-tokens")
	latency, _ := f.GetDuration("latency")
	cost, _ := f.GetFloat64("cost")
	doc, err := store.RecordTelemetry(cmd.Context(), threadFlag(cmd), prompt, completion, latency, cost)
	if err != nil {
		return err
	}
	if model, _ := f.GetString("model"); model != "" {
		if doc, err = store.Update(cmd.Context(), threadFlag(cmd), func(d *ledger.Document) error {
			d.DevFix.Model = model
			return nil
		}); err != nil {
			return err
		}
	}
	t := doc.Telemetry
	fmt.Fprintf(cmd.OutOrStdout(), "tokens: %d prompt, %d completion; latency %dms; cost %.4f\n",
		t.Tokens.Prompt, t.Tokens.Completion, t.LatencyMS, t.CostEstimate)
	return nil
}

func printDocument(w io.Writer, d *ledger.Document) error {
	title := cases.Title(language.English)
	fmt.Fprintf(w, "Thread:   %s\n", d.ThreadID)
	fmt.Fprintf(w, "Status:   %s\n", title.String(strings.ReplaceAll(d.Status, "_", " ")))
	if d.ProjectRoot != "" {
		fmt.Fprintf(w, "Project:  %s\n", d.ProjectRoot)
	}
	if d.ProjectStructure != nil && d.ProjectStructure.Name != "" {
		fmt.Fprintf(w, "Name:     %s (%s)\n", d.ProjectStructure.Name, strings.Join(d.ProjectStructure.Languages, ", "))
	}
	if d.BaseSHA != "" {
		fmt.Fprintf(w, "Base:     %s %s\n", d.BaseSHA, d.Branch)
	}
	if d.DevFix.AppliedCommit != "" {
		fmt.Fprintf(w, "Applied:  %s\n", d.DevFix.AppliedCommit)
	}
	fmt.Fprintf(w, "Updated:  %s\n", d.UpdatedAt)

	if len(d.Snapshots) > 0 {
		paths := make([]string, 0, len(d.Snapshots))
		for p := range d.Snapshots {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		fmt.Fprintln(w, "\nSnapshots:")
		for _, p := range paths {
			s := d.Snapshots[p]
			fmt.Fprintf(w, "  %s  %8d  %s\n", s.Hash, s.Size, p)
		}
	}
	if len(d.Decisions) > 0 {
		fmt.Fprintln(w, "\nDecisions:")
		for _, dec := range d.Decisions {
			kind := dec.Kind
			if kind == "" {
				kind = "-"
			}
			fmt.Fprintf(w, "  %s  %-10s %-18s %s\n", dec.TS, dec.Actor, kind, dec.Note)
		}
	}
	return nil
}
