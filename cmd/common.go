/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/reface/internal/contract"
	"github.com/fulmenhq/reface/internal/keepblock"
	"github.com/fulmenhq/reface/internal/ledger"
	"github.com/fulmenhq/reface/internal/mutation"
	"github.com/fulmenhq/reface/internal/ops"
	"github.com/fulmenhq/reface/internal/pipeline"
	"github.com/fulmenhq/reface/pkg/config"
	"github.com/fulmenhq/reface/pkg/exitcode"
	"github.com/fulmenhq/reface/pkg/safeio"
	"github.com/fulmenhq/reface/pkg/tools"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var commandTaxonomy = map[string]ops.CommandClassification{
	"diff":       {Group: ops.GroupMutate, Category: ops.CategoryApplication},
	"contract":   {Group: ops.GroupMutate, Category: ops.CategoryApplication},
	"ledger":     {Group: ops.GroupAudit, Category: ops.CategoryLedger},
	"policy":     {Group: ops.GroupAudit, Category: ops.CategoryInspection},
	"keepblocks": {Group: ops.GroupAudit, Category: ops.CategoryInspection},
	"doctor":     {Group: ops.GroupSupport, Category: ops.CategoryEnvironment},
	"version":    {Group: ops.GroupSupport, Category: ops.CategoryInformation},
}

func registerTaxonomy(c *cobra.Command) {
	class, ok := commandTaxonomy[c.Name()]
	if !ok {
		return
	}
	caps := ops.GetDefaultCapabilities(class.Group, class.Category)
	if err := ops.RegisterCommandWithTaxonomy(c.Name(), class.Group, class.Category, caps, c, c.Short); err != nil {
		panic(fmt.Sprintf("Failed to register %s command: %v", c.Name(), err))
	}
}

// addPipelineFlags adds the configuration overrides listed in config.FlagKeys.
func addPipelineFlags(c *cobra.Command) {
	f := c.Flags()
	f.Float64("min-confidence", 0, "Minimum contract confidence")
	f.Int("max-retries", 0, "Regeneration attempts after a base change")
	f.Int("max-content-size", 0, "Maximum rewritten content size in bytes")
	f.Bool("no-format", false, "Skip external formatters")
	f.Bool("no-commit", false, "Do not commit accepted changes")
	f.String("project-root", "", "Authorized project root (repository relative)")
	f.String("policy", "", "Rego module with additional path denials")
	f.String("ledger-root", "", "Directory holding thread ledgers")
	f.Int("max-diff-files", 0, "Maximum files in one diff")
	f.Int("max-diff-size", 0, "Maximum diff size in bytes")
}

func workDir(cmd *cobra.Command) (string, error) {
	dir, _ := cmd.Flags().GetString("workdir")
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve workdir: %w", err)
	}
	st, err := os.Stat(abs)
	if err != nil || !st.IsDir() {
		return "", fmt.Errorf("workdir %s is not a directory", dir)
	}
	return abs, nil
}

// loadConfig resolves configuration for cmd: preset, files, project overlay,
// environment, then changed flags.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	dir, err := workDir(cmd)
	if err != nil {
		return nil, "", err
	}
	cfgFile, _ := cmd.Flags().GetString("config")
	preset, _ := cmd.Flags().GetString("preset")
	cfg, err := config.Load(config.Options{
		ConfigFile: cfgFile,
		ProjectDir: dir,
		Preset:     preset,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return nil, "", err
	}
	if issues := cfg.Validate(); len(issues) > 0 {
		return nil, "", fmt.Errorf("%w: %s", errInvalidConfig, strings.Join(issues, "; "))
	}
	return cfg, dir, nil
}

var errInvalidConfig = errors.New("invalid configuration")

func openPipeline(cmd *cobra.Command) (*pipeline.Pipeline, error) {
	cfg, dir, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return pipeline.New(cmd.Context(), cfg, dir, tools.NewExecutor())
}

func openLedger(cmd *cobra.Command) (*ledger.Store, string, error) {
	cfg, dir, err := loadConfig(cmd)
	if err != nil {
		return nil, "", err
	}
	store := ledger.StoreFromConfig(cfg)
	if !filepath.IsAbs(store.Root) {
		store.Root = filepath.Join(dir, store.Root)
	}
	return store, dir, nil
}

// readInput returns the named file, or stdin when no file or "-" is given.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	clean, err := safeio.CleanUserPath(args[0])
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(clean) // #nosec G304 -- cleaned operator-supplied path
	if err != nil {
		return "", fmt.Errorf("read %s: %w", clean, err)
	}
	return string(b), nil
}

// writeOutput renders v as json or yaml. Other formats are the caller's job.
func writeOutput(w io.Writer, format string, v interface{}) error {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
}

// exitCodeFor maps a command error onto a process exit code.
func exitCodeFor(err error) int {
	if err == nil {
		return exitcode.Success
	}
	switch {
	case errors.Is(err, ledger.ErrLockContention):
		return exitcode.LockError
	case errors.Is(err, errInvalidConfig):
		return exitcode.ConfigError
	case errors.Is(err, contract.ErrInvalidContract), errors.Is(err, keepblock.ErrMalformed):
		return exitcode.ValidationError
	}
	switch mutation.KindOf(err) {
	case mutation.BaseChanged:
		return exitcode.ConflictError
	case mutation.UnsafePath, mutation.ScopeViolation:
		return exitcode.PermissionError
	case mutation.ExtractionFailed, mutation.LowConfidence, mutation.PathMismatch,
		mutation.OversizeContent, mutation.KeepBlockViolation, mutation.SyntaxInvalid:
		return exitcode.ValidationError
	default:
		return exitcode.GeneralError
	}
}
