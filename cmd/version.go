/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/reface/internal/gitctx"
	"github.com/fulmenhq/reface/pkg/buildinfo"
	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show the reface version",
		Args:  cobra.NoArgs,
		RunE:  runVersion,
	}
	versionCmd.Flags().Bool("extended", false, "Show build and repository information")
	versionCmd.Flags().String("format", "text", "Output format (text|json|yaml)")
	return versionCmd
}

type versionInfo struct {
	Version       string `json:"version" yaml:"version"`
	ModuleVersion string `json:"module_version,omitempty" yaml:"module_version,omitempty"`
	GoVersion     string `json:"go_version" yaml:"go_version"`
	Platform      string `json:"platform" yaml:"platform"`
	Arch          string `json:"arch" yaml:"arch"`
	BuildCommit   string `json:"build_commit,omitempty" yaml:"build_commit,omitempty"`
	GitCommit     string `json:"git_commit,omitempty" yaml:"git_commit,omitempty"`
	GitBranch     string `json:"git_branch,omitempty" yaml:"git_branch,omitempty"`
}

func runVersion(cmd *cobra.Command, _ []string) error {
	extended, _ := cmd.Flags().GetBool("extended")
	format, _ := cmd.Flags().GetString("format")

	build := buildinfo.Read()
	info := versionInfo{
		Version:   build.Version,
		GoVersion: build.GoVersion,
		Platform:  runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	if extended {
		info.ModuleVersion = build.Module
		if build.Revision != "" {
			info.BuildCommit = shortSHA(build.Revision)
			if build.Modified {
				info.BuildCommit += "-dirty"
			}
		}
		if dir, err := workDir(cmd); err == nil {
			if repo, err := gitctx.Open(dir); err == nil {
				sha, branch := repo.Head()
				info.GitCommit = shortSHA(sha)
				info.GitBranch = branch
			}
		}
	}

	if format != "text" {
		return writeOutput(cmd.OutOrStdout(), format, info)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "reface %s\n", info.Version)
	if extended {
		if info.ModuleVersion != "" {
			fmt.Fprintf(out, "Module: %s\n", info.ModuleVersion)
		}
		if info.BuildCommit != "" {
			fmt.Fprintf(out, "Built from: %s\n", info.BuildCommit)
		}
		fmt.Fprintf(out, "Go: %s %s/%s\n", info.GoVersion, info.Platform, info.Arch)
		if info.GitCommit != "" {
			fmt.Fprintf(out, "Repository: %s @ %s\n", info.GitBranch, info.GitCommit)
		}
	}
	return nil
}
