/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/reface/internal/keepblock"
	"github.com/fulmenhq/reface/pkg/safeio"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
)

func newKeepBlocksCommand() *cobra.Command {
	kbCmd := &cobra.Command{
		Use:   "keepblocks",
		Short: "Inspect and verify KEEP regions",
	}

	infoCmd := &cobra.Command{
		Use:   "info <file>",
		Short: "List the keep blocks of a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runKeepBlocksInfo,
	}
	infoCmd.Flags().String("format", "text", "Output format (text|json|yaml)")

	checkCmd := &cobra.Command{
		Use:   "check <before> <after>",
		Short: "Verify every keep block of before survives unchanged in after",
		Args:  cobra.ExactArgs(2),
		RunE:  runKeepBlocksCheck,
	}

	kbCmd.AddCommand(infoCmd, checkCmd)
	return kbCmd
}

func readCleanFile(p string) (string, error) {
	clean, err := safeio.CleanUserPath(p)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(clean) // #nosec G304 -- cleaned operator-supplied path
	if err != nil {
		return "", fmt.Errorf("read %s: %w", clean, err)
	}
	return string(b), nil
}

func runKeepBlocksInfo(cmd *cobra.Command, args []string) error {
	content, err := readCleanFile(args[0])
	if err != nil {
		return err
	}
	blocks, err := keepblock.Info(content)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	if format != "text" {
		return writeOutput(cmd.OutOrStdout(), format, blocks)
	}
	out := cmd.OutOrStdout()
	if len(blocks) == 0 {
		fmt.Fprintln(out, "no keep blocks")
		return nil
	}
	width := runewidth.StringWidth("ID")
	for _, b := range blocks {
		if w := runewidth.StringWidth(b.ID); w > width {
			width = w
		}
	}
	fmt.Fprintf(out, "%s  %6s  %5s  %6s\n", runewidth.FillRight("ID", width), "START", "LINES", "CHARS")
	for _, b := range blocks {
		fmt.Fprintf(out, "%s  %6d  %5d  %6d\n", runewidth.FillRight(b.ID, width), b.StartLine, b.LineCount, b.CharCount)
	}
	return nil
}

func runKeepBlocksCheck(cmd *cobra.Command, args []string) error {
	before, err := readCleanFile(args[0])
	if err != nil {
		return err
	}
	after, err := readCleanFile(args[1])
	if err != nil {
		return err
	}
	if err := keepblock.Verify(args[1], before, after); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "keep blocks preserved")
	return nil
}
