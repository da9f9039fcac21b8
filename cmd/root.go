/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package cmd

import (
	"os"

	"github.com/fulmenhq/reface/internal/ops"
	"github.com/fulmenhq/reface/pkg/buildinfo"
	"github.com/fulmenhq/reface/pkg/exitcode"
	"github.com/fulmenhq/reface/pkg/logger"
	"github.com/spf13/cobra"
)

// newRootCommand creates a fresh root command instance.
// This factory pattern allows tests to create isolated command trees without shared state.
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reface",
		Short: "Contract-verified file mutation pipeline",
		Long: `reface applies model-generated changes to a working tree only after they pass
path policy, base-hash, keep-block, syntax and size checks, and records every
decision in a per-thread ledger.

Examples:
   reface diff apply --thread fix-42 model_output.txt
   reface contract apply --thread fix-42 --path app/main.py contract.json
   reface policy check app/x.py secrets/key.pem
   reface ledger show --thread fix-42 --format yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			initializeLogger(cmd)
		},
	}

	cmd.PersistentFlags().String("log-level", "info", "Set log level (trace|debug|info|warn|error)")
	cmd.PersistentFlags().Bool("json", false, "Output logs in JSON format")
	cmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	cmd.PersistentFlags().Bool("dry-run", false, "Run every gate but write nothing to the working tree")
	cmd.PersistentFlags().StringP("workdir", "C", ".", "Repository working directory")
	cmd.PersistentFlags().String("config", "", "Explicit configuration file")
	cmd.PersistentFlags().String("preset", "", "Configuration preset (development|production|conservative|experimental)")

	cmd.Version = buildinfo.BinaryVersion
	cmd.SetVersionTemplate("reface {{.Version}}\n")

	cmd.SetHelpFunc(func(cmd *cobra.Command, _ []string) {
		if cmd.HasParent() {
			cmd.Println(cmd.UsageString())
			return
		}
		reg := ops.GetRegistry()
		cmd.Println(cmd.Long)
		cmd.Println()
		sections := []struct {
			title string
			group ops.CommandGroup
		}{
			{"Mutation Commands:", ops.GroupMutate},
			{"Audit Commands:", ops.GroupAudit},
			{"Support Commands:", ops.GroupSupport},
		}
		for _, s := range sections {
			cmd.Println(s.title)
			for _, c := range reg.GetCommandsByGroup(s.group) {
				cmd.Printf("  %-12s %s\n", c.Name, c.Description)
			}
			cmd.Println()
		}
		cmd.Println("Flags:")
		cmd.Print(cmd.UsageString())
	})

	return cmd
}

// registerSubcommands adds all subcommands to the root command.
// This is called from init() for production and can be called explicitly in tests.
func registerSubcommands(cmd *cobra.Command) {
	cmd.AddCommand(newDiffCommand())
	cmd.AddCommand(newContractCommand())
	cmd.AddCommand(newKeepBlocksCommand())
	cmd.AddCommand(newPolicyCommand())
	cmd.AddCommand(newLedgerCommand())
	cmd.AddCommand(newDoctorCommand())
	cmd.AddCommand(newVersionCommand())
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCommand()

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command execution failed", logger.Err(err))
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	registerSubcommands(rootCmd)
	for _, c := range rootCmd.Commands() {
		registerTaxonomy(c)
	}
}

// initializeLogger sets up the logger based on command flags
func initializeLogger(cmd *cobra.Command) {
	logLevelStr, _ := cmd.Flags().GetString("log-level")
	jsonLogs, _ := cmd.Flags().GetBool("json")
	noColor, _ := cmd.Flags().GetBool("no-color")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	config := logger.Config{
		Level:     logger.ParseLevel(logLevelStr),
		UseColor:  !noColor,
		JSON:      jsonLogs,
		Component: "reface",
		DryRun:    dryRun,
	}

	if err := logger.Initialize(config); err != nil {
		_, _ = os.Stderr.WriteString("Failed to initialize logger: " + err.Error() + "\n")
		os.Exit(exitcode.ConfigError)
	}
}
