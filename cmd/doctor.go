/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fulmenhq/reface/internal/formatting"
	"github.com/fulmenhq/reface/internal/gitctx"
	"github.com/fulmenhq/reface/internal/ops"
	"github.com/fulmenhq/reface/internal/schema"
	"github.com/fulmenhq/reface/pkg/logger"
	"github.com/fulmenhq/reface/pkg/tools"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// probeTimeout bounds each "--version" call.
const probeTimeout = 5 * time.Second

type toolProbe struct {
	Tool     string `json:"tool"`
	Purpose  string `json:"purpose"`
	Required bool   `json:"required"`
	Found    bool   `json:"found"`
	Version  string `json:"version,omitempty"`
}

type doctorReport struct {
	WorkDir       string                   `json:"workdir"`
	ConfigIssues  []string                 `json:"config_issues,omitempty"`
	CommandIssues []string                 `json:"command_issues,omitempty"`
	Mutating      []string                 `json:"mutating_commands"`
	Groups        map[ops.CommandGroup]int `json:"command_groups"`
	Schemas       []string                 `json:"schemas"`
	Repository    *gitctx.ChangeContext    `json:"repository,omitempty"`
	Tools         []toolProbe              `json:"tools"`
	Summary       map[string]interface{}   `json:"summary"`
}

func newDoctorCommand() *cobra.Command {
	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, repository and external tools",
		Long: `Verifies the configuration, reports the enclosing git repository and probes
the external tools the pipeline shells out to: git and patch for diff
application, and the per-language formatters.`,
		Args: cobra.NoArgs,
		RunE: runDoctor,
	}
	doctorCmd.Flags().String("format", "text", "Output format (text|json|yaml)")
	doctorCmd.Flags().Int("concurrency", 4, "Parallel tool probes")
	return doctorCmd
}

// doctorTools lists every external tool in probe order.
func doctorTools() []toolProbe {
	probes := []toolProbe{
		{Tool: "git", Purpose: "diff strict/threeway strategies, preflight", Required: true},
		{Tool: "patch", Purpose: "diff patchfile strategy"},
	}
	seen := map[string]bool{"git": true, "patch": true}
	languages := make([]string, 0, len(formatting.Chains))
	for lang := range formatting.Chains {
		languages = append(languages, lang)
	}
	sort.Strings(languages)
	for _, lang := range languages {
		for _, step := range formatting.Chains[lang] {
			if seen[step.Tool] {
				continue
			}
			seen[step.Tool] = true
			probes = append(probes, toolProbe{Tool: step.Tool, Purpose: lang + " formatter"})
		}
	}
	return probes
}

func probeTools(ctx context.Context, exec tools.ToolExecutor, probes []toolProbe, workers int) []toolProbe {
	if workers < 1 {
		workers = 1
	}
	out := make([]toolProbe, len(probes))
	copy(out, probes)

	// Each goroutine owns one slot of out.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for idx := range out {
		g.Go(func() error {
			if exec.IsAvailable(out[idx].Tool) {
				out[idx].Found = true
				out[idx].Version = toolVersion(gctx, exec, out[idx].Tool)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func toolVersion(ctx context.Context, exec tools.ToolExecutor, tool string) string {
	if tool == "gofmt" {
		return "bundled with go"
	}
	res, err := exec.Execute(ctx, tools.ExecuteOptions{Tool: tool, Args: []string{"--version"}, Timeout: probeTimeout})
	if err != nil || res == nil {
		logger.Debug("version probe failed", logger.String("tool", tool), logger.Err(err))
		return ""
	}
	text := strings.TrimSpace(string(res.Stdout))
	if text == "" {
		text = strings.TrimSpace(string(res.Stderr))
	}
	line, _, _ := strings.Cut(text, "\n")
	return runewidth.Truncate(strings.TrimSpace(line), 48, "...")
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	report := doctorReport{}
	dir, err := workDir(cmd)
	if err != nil {
		return err
	}
	report.WorkDir = dir
	if _, _, err := loadConfig(cmd); err != nil {
		report.ConfigIssues = append(report.ConfigIssues, err.Error())
	}
	repo, err := gitctx.Collect(dir)
	if err != nil {
		logger.Warn("repository inspection failed", logger.Err(err))
	}
	report.Repository = repo

	reg := ops.GetRegistry()
	taxonomyErrs := ops.NewTaxonomyValidator().Validate(reg)
	for _, verr := range taxonomyErrs {
		report.CommandIssues = append(report.CommandIssues, verr.Error())
	}
	for _, c := range reg.GetMutatingCommands() {
		report.Mutating = append(report.Mutating, c.Name)
	}
	report.Groups = reg.ListGroups()
	report.Schemas = schema.Names()

	workers, _ := cmd.Flags().GetInt("concurrency")
	report.Tools = probeTools(cmd.Context(), tools.NewExecutor(), doctorTools(), workers)

	found, missingRequired := 0, []string{}
	for _, t := range report.Tools {
		if t.Found {
			found++
		} else if t.Required {
			missingRequired = append(missingRequired, t.Tool)
		}
	}
	report.Summary = map[string]interface{}{
		"tools_found":      found,
		"tools_total":      len(report.Tools),
		"missing_required": missingRequired,
	}

	format, _ := cmd.Flags().GetString("format")
	if format != "text" {
		if err := writeOutput(cmd.OutOrStdout(), format, report); err != nil {
			return err
		}
	} else {
		printDoctor(cmd.OutOrStdout(), report)
	}

	switch {
	case len(ops.FilterErrors(taxonomyErrs, ops.ErrorTypeCoreCommand)) > 0:
		return fmt.Errorf("core commands misregistered: %s", ops.FormatErrors(taxonomyErrs))
	case len(report.ConfigIssues) > 0:
		return fmt.Errorf("%w: %s", errInvalidConfig, strings.Join(report.ConfigIssues, "; "))
	case len(missingRequired) > 0:
		return fmt.Errorf("required tools missing: %s", strings.Join(missingRequired, ", "))
	}
	return nil
}

func printDoctor(w io.Writer, r doctorReport) {
	fmt.Fprintf(w, "Workdir: %s\n", r.WorkDir)
	if r.Repository != nil {
		fmt.Fprintf(w, "Repository: %s @ %s (%d modified, %s)\n", r.Repository.Branch, shortSHA(r.Repository.GitSHA), len(r.Repository.ModifiedFiles), r.Repository.ChangeScope)
	} else {
		fmt.Fprintln(w, "Repository: none (commits will be skipped)")
	}
	for _, issue := range r.ConfigIssues {
		fmt.Fprintf(w, "Config: %s\n", issue)
	}
	for _, issue := range r.CommandIssues {
		fmt.Fprintf(w, "Command: %s\n", issue)
	}
	if len(r.Mutating) > 0 {
		fmt.Fprintf(w, "Mutating commands: %s\n", strings.Join(r.Mutating, ", "))
	}
	if len(r.Schemas) > 0 {
		fmt.Fprintf(w, "Schemas: %s\n", strings.Join(r.Schemas, ", "))
	}
	fmt.Fprintln(w)

	width := runewidth.StringWidth("TOOL")
	for _, t := range r.Tools {
		if n := runewidth.StringWidth(t.Tool); n > width {
			width = n
		}
	}
	for _, t := range r.Tools {
		status := "ok"
		if !t.Found {
			status = "missing"
			if t.Required {
				status = "MISSING"
			}
		}
		fmt.Fprintf(w, "  %s  %-8s %-44s %s\n", runewidth.FillRight(t.Tool, width), status, t.Purpose, t.Version)
	}
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
