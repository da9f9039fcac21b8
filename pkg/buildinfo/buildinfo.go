package buildinfo

import (
	"runtime"
	"runtime/debug"
)

// BinaryVersion is set at build time via -ldflags. Defaults to "dev".
var BinaryVersion = "dev"

// Info describes the running binary. It is stamped into run artifacts so a
// recorded mutation can be traced back to the build that made it.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Module    string `json:"module_version,omitempty" yaml:"module_version,omitempty"`
	Revision  string `json:"vcs_revision,omitempty" yaml:"vcs_revision,omitempty"`
	Modified  bool   `json:"vcs_modified,omitempty" yaml:"vcs_modified,omitempty"`
	BuiltAt   string `json:"vcs_time,omitempty" yaml:"vcs_time,omitempty"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// ModuleVersion returns the module version embedded by the Go toolchain (when available).
func ModuleVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return ""
}

// Read collects version and VCS stamps. Fields the toolchain did not embed stay empty.
func Read() Info {
	out := Info{Version: BinaryVersion, GoVersion: runtime.Version()}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	out.Module = info.Main.Version
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Revision = s.Value
		case "vcs.modified":
			out.Modified = s.Value == "true"
		case "vcs.time":
			out.BuiltAt = s.Value
		}
	}
	return out
}

// Metadata flattens Info for artifact metadata files.
func (i Info) Metadata() map[string]interface{} {
	m := map[string]interface{}{
		"reface_version": i.Version,
		"go_version":     i.GoVersion,
	}
	if i.Module != "" {
		m["module_version"] = i.Module
	}
	if i.Revision != "" {
		m["vcs_revision"] = i.Revision
		m["vcs_modified"] = i.Modified
	}
	return m
}
