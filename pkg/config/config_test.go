package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and REFACE_HOME at a temp dir so developer config files don't leak in.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("REFACE_HOME", filepath.Join(home, ".reface"))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(home))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return home
}

func TestLoadConfigDefaults(t *testing.T) {
	isolate(t)

	config, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, 0.75, config.Pipeline.MinConfidence)
	assert.Equal(t, 1, config.Pipeline.MaxRetries)
	assert.Equal(t, 1_000_000, config.Pipeline.MaxContentSize)
	assert.True(t, config.Pipeline.AutoFormat)
	assert.True(t, config.Pipeline.KeepBlocks)
	assert.True(t, config.Pipeline.GitCommit)
	assert.Equal(t, 20, config.Diff.MaxFiles)
	assert.Equal(t, 800_000, config.Diff.MaxSize)
	assert.Equal(t, 10*time.Second, config.Ledger.LockTimeout)
	assert.Equal(t, 50*time.Millisecond, config.Ledger.PollInterval)
	assert.Equal(t, 60*time.Second, config.Timeouts.Format.TypeScript)
	assert.Equal(t, 180*time.Second, config.Timeouts.Git.ThreeWay)
	assert.Equal(t, []string{"README.md"}, config.Scope.Exceptions)
	assert.Empty(t, config.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("REFACE_PIPELINE_MIN_CONFIDENCE", "0.9")
	t.Setenv("REFACE_LEDGER_LOCK_TIMEOUT", "3s")
	t.Setenv("REFACE_SCOPE_PROJECT_ROOT", "projects/alpha")

	config, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, 0.9, config.Pipeline.MinConfidence)
	assert.Equal(t, 3*time.Second, config.Ledger.LockTimeout)
	assert.Equal(t, "projects/alpha", config.Scope.ProjectRoot)
}

func TestLoadProjectOverlay(t *testing.T) {
	isolate(t)
	project := t.TempDir()
	overlay := `
pipeline:
  min_confidence: 0.5
diff:
  max_files: 3
scope:
  deny:
    - "**/*.lock"
`
	require.NoError(t, os.WriteFile(filepath.Join(project, ".reface.yaml"), []byte(overlay), 0o600))

	config, err := Load(Options{ProjectDir: project})
	require.NoError(t, err)
	assert.Equal(t, 0.5, config.Pipeline.MinConfidence)
	assert.Equal(t, 3, config.Diff.MaxFiles)
	assert.Equal(t, []string{"**/*.lock"}, config.Scope.Deny)
	// untouched keys keep defaults
	assert.Equal(t, 1, config.Pipeline.MaxRetries)
}

func TestLoadExplicitFileMissing(t *testing.T) {
	isolate(t)
	_, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "absent.yaml")})
	require.Error(t, err)
}

func TestLoadFlags(t *testing.T) {
	isolate(t)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Float64("min-confidence", 0.75, "")
	fs.Int("max-retries", 1, "")
	fs.Bool("no-format", false, "")
	fs.Bool("no-commit", false, "")
	fs.String("project-root", "", "")
	require.NoError(t, fs.Parse([]string{"--min-confidence=0.4", "--no-commit", "--project-root=app"}))

	config, err := Load(Options{Flags: fs})
	require.NoError(t, err)
	assert.Equal(t, 0.4, config.Pipeline.MinConfidence)
	assert.Equal(t, 1, config.Pipeline.MaxRetries, "unchanged flag must not override")
	assert.False(t, config.Pipeline.GitCommit)
	assert.True(t, config.Pipeline.AutoFormat)
	assert.Equal(t, "app", config.Scope.ProjectRoot)
}

func TestPresets(t *testing.T) {
	tests := []struct {
		name          string
		minConfidence float64
		maxRetries    int
		autoFormat    bool
		gitCommit     bool
	}{
		{"development", 0.7, 2, true, true},
		{"production", 0.8, 1, true, true},
		{"conservative", 0.9, 0, false, false},
		{"experimental", 0.6, 3, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Preset(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.minConfidence, c.Pipeline.MinConfidence)
			assert.Equal(t, tt.maxRetries, c.Pipeline.MaxRetries)
			assert.Equal(t, tt.autoFormat, c.Pipeline.AutoFormat)
			assert.Equal(t, tt.gitCommit, c.Pipeline.GitCommit)
			assert.True(t, c.Pipeline.KeepBlocks, "keep blocks stay on in every preset")
			assert.Empty(t, c.Validate())
		})
	}

	_, err := Preset("reckless")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "conservative"))
}

func TestPresetDoesNotLeakIntoDefaults(t *testing.T) {
	_, err := Preset("conservative")
	require.NoError(t, err)
	assert.Equal(t, 0.75, Default().Pipeline.MinConfidence)
}

func TestLoadWithPreset(t *testing.T) {
	isolate(t)
	config, err := Load(Options{Preset: "conservative"})
	require.NoError(t, err)
	assert.Equal(t, 0.9, config.Pipeline.MinConfidence)
	assert.False(t, config.Pipeline.GitCommit)
}

func TestValidate(t *testing.T) {
	c := Default()
	c.Pipeline.MinConfidence = 1.5
	c.Pipeline.MaxRetries = -1
	c.Pipeline.MaxContentSize = 0
	c.Ledger.PollInterval = time.Minute
	c.Scope.ProjectRoot = "../outside"

	issues := c.Validate()
	assert.Len(t, issues, 5)
	joined := strings.Join(issues, "\n")
	assert.Contains(t, joined, "min_confidence")
	assert.Contains(t, joined, "max_retries")
	assert.Contains(t, joined, "max_content_size")
	assert.Contains(t, joined, "poll_interval")
	assert.Contains(t, joined, "project_root")
}

func TestFormatTimeoutAndExtensions(t *testing.T) {
	c := Default()
	assert.Equal(t, 60*time.Second, c.FormatTimeout("typescript"))
	assert.Equal(t, 30*time.Second, c.FormatTimeout("python"))
	assert.Equal(t, 30*time.Second, c.FormatTimeout("cobol"))
	assert.True(t, c.SupportsExtension(".PY"))
	assert.False(t, c.SupportsExtension(".java"))
	c.Pipeline.SupportedExtensions = nil
	assert.True(t, c.SupportsExtension(".java"))
}

func TestGetRefaceHome(t *testing.T) {
	t.Setenv("REFACE_HOME", "/custom/reface")
	home, err := GetRefaceHome()
	require.NoError(t, err)
	assert.Equal(t, "/custom/reface", home)
}

func TestEnsureRefaceHome(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rh")
	t.Setenv("REFACE_HOME", dir)
	home, err := EnsureRefaceHome()
	require.NoError(t, err)
	st, err := os.Stat(home)
	require.NoError(t, err)
	assert.True(t, st.IsDir())
}

func TestParseDurationDefault(t *testing.T) {
	assert.Equal(t, 5*time.Minute, parseDurationDefault("5m"))
	assert.Equal(t, time.Duration(0), parseDurationDefault("soon"))
}
