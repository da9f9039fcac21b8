/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/reface/internal/contract"
	"github.com/fulmenhq/reface/internal/formatting"
	"github.com/fulmenhq/reface/internal/keepblock"
	"github.com/fulmenhq/reface/internal/mutation"
	"github.com/fulmenhq/reface/internal/syntax"
	"github.com/fulmenhq/reface/pkg/safeio"
	"github.com/spf13/cobra"
)

func newContractCommand() *cobra.Command {
	contractCmd := &cobra.Command{
		Use:   "contract",
		Short: "Validate and apply full-file rewrite contracts",
	}

	applyCmd := &cobra.Command{
		Use:   "apply [file|-]",
		Short: "Run a rewrite contract through every gate and write it",
		Long: `Parses a JSON rewrite contract {file_path, pre_hash, new_content, changelog,
confidence} and checks confidence, path identity, size, base hash, keep blocks
and syntax before formatting, writing atomically and committing.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runContractApply,
	}
	applyCmd.Flags().String("thread", "", "Thread id whose ledger records the outcome")
	applyCmd.Flags().String("path", "", "Repository-relative file the contract must target")
	applyCmd.Flags().String("format", "text", "Output format (text|json|yaml)")
	_ = applyCmd.MarkFlagRequired("thread")
	_ = applyCmd.MarkFlagRequired("path")
	addPipelineFlags(applyCmd)

	hashCmd := &cobra.Command{
		Use:   "hash <file>",
		Short: "Print the pre_hash a contract for file must carry",
		Args:  cobra.ExactArgs(1),
		RunE:  runContractHash,
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Report how a rewrite of file would be gated",
		Long: `Reports whether file's extension is enabled for rewrites, the language and
formatters that apply, its size against the limit, whether the path patterns
allow it and the keep blocks a rewrite must preserve.`,
		Args: cobra.ExactArgs(1),
		RunE: runContractAnalyze,
	}
	analyzeCmd.Flags().String("format", "text", "Output format (text|json|yaml)")
	addPipelineFlags(analyzeCmd)

	contractCmd.AddCommand(applyCmd, hashCmd, analyzeCmd)
	return contractCmd
}

func runContractApply(cmd *cobra.Command, args []string) error {
	raw, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	thread, _ := cmd.Flags().GetString("thread")
	path, _ := cmd.Flags().GetString("path")
	p, err := openPipeline(cmd)
	if err != nil {
		return err
	}
	out, err := p.ApplyContract(cmd.Context(), thread, raw, path)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	if format != "text" {
		return writeOutput(cmd.OutOrStdout(), format, out)
	}
	w := cmd.OutOrStdout()
	switch {
	case out.DryRun:
		fmt.Fprintf(w, "dry run: %s accepted (%s)\n", out.Path, out.NewHash)
	case out.CommitSHA != "":
		fmt.Fprintf(w, "rewrote %s (%s), commit %s\n", out.Path, out.NewHash, out.CommitSHA)
	default:
		fmt.Fprintf(w, "rewrote %s (%s)\n", out.Path, out.NewHash)
	}
	return nil
}

func runContractHash(cmd *cobra.Command, args []string) error {
	clean, err := safeio.CleanUserPath(args[0])
	if err != nil {
		return err
	}
	data, err := os.ReadFile(clean) // #nosec G304 -- cleaned operator-supplied path
	if os.IsNotExist(err) {
		data, err = nil, nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", clean, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), contract.ContentHash(data))
	return nil
}

type fileAnalysis struct {
	Path       string                `json:"path" yaml:"path"`
	Supported  bool                  `json:"supported" yaml:"supported"`
	Language   string                `json:"language,omitempty" yaml:"language,omitempty"`
	Formatters []string              `json:"formatters,omitempty" yaml:"formatters,omitempty"`
	Size       int                   `json:"size" yaml:"size"`
	MaxSize    int                   `json:"max_size" yaml:"max_size"`
	Allowed    bool                  `json:"allowed" yaml:"allowed"`
	PreHash    string                `json:"pre_hash" yaml:"pre_hash"`
	KeepBlocks []keepblock.BlockInfo `json:"keep_blocks,omitempty" yaml:"keep_blocks,omitempty"`
}

func runContractAnalyze(cmd *cobra.Command, args []string) error {
	p, err := openPipeline(cmd)
	if err != nil {
		return err
	}
	rel := filepath.ToSlash(args[0])
	abs, err := safeio.ResolveContained(p.WorkDir, rel)
	if err != nil {
		return mutation.NewUnsafePath(rel, err.Error())
	}
	data, err := os.ReadFile(abs) // #nosec G304 -- contained in the work dir
	if err != nil {
		return fmt.Errorf("read %s: %w", rel, err)
	}

	a := fileAnalysis{
		Path:      rel,
		Supported: p.Config.SupportsExtension(filepath.Ext(rel)),
		Size:      len(data),
		MaxSize:   p.Config.Pipeline.MaxContentSize,
		Allowed:   p.Guard.Allowed(rel),
		PreHash:   contract.ContentHash(data),
	}
	if a.Supported {
		a.Language = syntax.Language(rel)
		for _, step := range formatting.Chains[a.Language] {
			a.Formatters = append(a.Formatters, step.Tool)
		}
		if a.KeepBlocks, err = keepblock.Info(string(data)); err != nil {
			return err
		}
	}

	format, _ := cmd.Flags().GetString("format")
	if format != "text" {
		return writeOutput(cmd.OutOrStdout(), format, a)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "File:       %s\n", a.Path)
	fmt.Fprintf(w, "Supported:  %s\n", yesNo(a.Supported))
	fmt.Fprintf(w, "Allowed:    %s\n", yesNo(a.Allowed))
	fmt.Fprintf(w, "Size:       %d / %d bytes\n", a.Size, a.MaxSize)
	fmt.Fprintf(w, "Pre-hash:   %s\n", a.PreHash)
	if !a.Supported {
		return nil
	}
	if a.Language != "" {
		fmt.Fprintf(w, "Language:   %s\n", a.Language)
	}
	if len(a.Formatters) > 0 {
		fmt.Fprintf(w, "Formatters: %s\n", strings.Join(a.Formatters, ", "))
	}
	fmt.Fprintf(w, "Keep blocks: %d\n", len(a.KeepBlocks))
	for _, b := range a.KeepBlocks {
		fmt.Fprintf(w, "  %s (line %d, %d lines)\n", b.ID, b.StartLine, b.LineCount)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
