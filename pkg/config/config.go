package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for one pipeline invocation. It is built once
// by Load and passed explicitly to every component; nothing mutates it afterwards.
type Config struct {
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Diff      DiffConfig      `mapstructure:"diff"`
	Scope     ScopeConfig     `mapstructure:"scope"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Timeouts  TimeoutConfig   `mapstructure:"timeouts"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Commit    CommitConfig    `mapstructure:"commit"`
}

// PipelineConfig holds the full-file rewrite gates
type PipelineConfig struct {
	MinConfidence       float64  `mapstructure:"min_confidence"`
	MaxRetries          int      `mapstructure:"max_retries"`
	MaxContentSize      int      `mapstructure:"max_content_size"`
	AutoFormat          bool     `mapstructure:"auto_format"`
	KeepBlocks          bool     `mapstructure:"keep_blocks"`
	SyntaxValidation    bool     `mapstructure:"syntax_validation"`
	GitCommit           bool     `mapstructure:"git_commit"`
	DryRun              bool     `mapstructure:"dry_run"`
	SupportedExtensions []string `mapstructure:"supported_extensions"`
}

// DiffConfig holds extraction ceilings for unified diffs
type DiffConfig struct {
	MaxFiles int `mapstructure:"max_files"`
	MaxSize  int `mapstructure:"max_size"`
}

// ScopeConfig holds the path scope and global allow/deny patterns
type ScopeConfig struct {
	ProjectRoot string   `mapstructure:"project_root"`
	Exceptions  []string `mapstructure:"exceptions"`
	// Allow and Deny replace the built-in pattern sets when non-empty
	Allow      []string `mapstructure:"allow"`
	Deny       []string `mapstructure:"deny"`
	PolicyFile string   `mapstructure:"policy_file"` // optional Rego module
}

// LedgerConfig holds ledger and snapshot store settings
type LedgerConfig struct {
	Root         string        `mapstructure:"root"`
	LockTimeout  time.Duration `mapstructure:"lock_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
	SnapshotRoot string        `mapstructure:"snapshot_root"`
}

// TimeoutConfig bounds every external process the pipeline starts
type TimeoutConfig struct {
	Format FormatTimeouts `mapstructure:"format"`
	Syntax time.Duration  `mapstructure:"syntax"`
	Git    GitTimeouts    `mapstructure:"git"`
}

// FormatTimeouts are per-language formatter budgets
type FormatTimeouts struct {
	Python     time.Duration `mapstructure:"python"`
	JavaScript time.Duration `mapstructure:"javascript"`
	TypeScript time.Duration `mapstructure:"typescript"`
	Go         time.Duration `mapstructure:"go"`
	Rust       time.Duration `mapstructure:"rust"`
}

// GitTimeouts are budgets for the diff application strategies
type GitTimeouts struct {
	Check    time.Duration `mapstructure:"check"`
	Apply    time.Duration `mapstructure:"apply"`
	ThreeWay time.Duration `mapstructure:"threeway"`
	Patch    time.Duration `mapstructure:"patch"`
}

// ArtifactsConfig controls per-run audit artifacts
type ArtifactsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Root    string `mapstructure:"root"`
}

// CommitConfig controls the commit stage
type CommitConfig struct {
	MessageTemplate string `mapstructure:"message_template"`
	AuthorName      string `mapstructure:"author_name"`
	AuthorEmail     string `mapstructure:"author_email"`
}

var defaultConfig = Config{
	Pipeline: PipelineConfig{
		MinConfidence:    0.75,
		MaxRetries:       1,
		MaxContentSize:   1_000_000,
		AutoFormat:       true,
		KeepBlocks:       true,
		SyntaxValidation: true,
		GitCommit:        true,
		SupportedExtensions: []string{
			".py", ".js", ".jsx", ".ts", ".tsx", ".go", ".rs", ".sh",
		},
	},
	Diff: DiffConfig{
		MaxFiles: 20,
		MaxSize:  800_000,
	},
	Scope: ScopeConfig{
		Exceptions: []string{"README.md"},
	},
	Ledger: LedgerConfig{
		Root:         filepath.Join("logs", "threads"),
		LockTimeout:  parseDurationDefault("10s"),
		PollInterval: parseDurationDefault("50ms"),
		StaleAfter:   parseDurationDefault("2m"),
		SnapshotRoot: filepath.Join("logs", "snapshots"),
	},
	Timeouts: TimeoutConfig{
		Format: FormatTimeouts{
			Python:     parseDurationDefault("30s"),
			JavaScript: parseDurationDefault("30s"),
			TypeScript: parseDurationDefault("60s"),
			Go:         parseDurationDefault("30s"),
			Rust:       parseDurationDefault("30s"),
		},
		Syntax: parseDurationDefault("10s"),
		Git: GitTimeouts{
			Check:    parseDurationDefault("60s"),
			Apply:    parseDurationDefault("120s"),
			ThreeWay: parseDurationDefault("180s"),
			Patch:    parseDurationDefault("180s"),
		},
	},
	Artifacts: ArtifactsConfig{
		Enabled: false,
		Root:    filepath.Join("logs", "agent_runs"),
	},
	Commit: CommitConfig{
		AuthorName:  "reface",
		AuthorEmail: "reface@localhost",
	},
}

// Default returns a copy of the built-in defaults
func Default() *Config {
	c := defaultConfig
	c.Pipeline.SupportedExtensions = append([]string(nil), defaultConfig.Pipeline.SupportedExtensions...)
	c.Scope.Exceptions = append([]string(nil), defaultConfig.Scope.Exceptions...)
	return &c
}

// Options controls where Load looks for configuration
type Options struct {
	// ConfigFile is an explicit file; when set the search paths are skipped
	ConfigFile string
	// ProjectDir is searched for a project overlay (.reface.yaml and friends)
	ProjectDir string
	// Preset seeds values before files and environment are applied
	Preset string
	// Flags are bound for keys listed in FlagKeys; only changed flags override
	Flags *pflag.FlagSet
}

// FlagKeys maps CLI flag names onto configuration keys
var FlagKeys = map[string]string{
	"min-confidence":   "pipeline.min_confidence",
	"max-retries":      "pipeline.max_retries",
	"max-content-size": "pipeline.max_content_size",
	"no-format":        "pipeline.auto_format",
	"dry-run":          "pipeline.dry_run",
	"no-commit":        "pipeline.git_commit",
	"project-root":     "scope.project_root",
	"policy":           "scope.policy_file",
	"ledger-root":      "ledger.root",
	"max-diff-files":   "diff.max_files",
	"max-diff-size":    "diff.max_size",
}

// negatedFlags are boolean flags whose value is the inverse of their key
var negatedFlags = map[string]bool{
	"no-format": true,
	"no-commit": true,
}

// Load builds the configuration for one invocation
func Load(opts Options) (*Config, error) {
	base := Default()
	if opts.Preset != "" {
		p, err := Preset(opts.Preset)
		if err != nil {
			return nil, err
		}
		base = p
	}

	v := viper.New()
	setDefaults(v, base)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigName("reface")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		if configDir, err := GetConfigDir(); err == nil {
			v.AddConfigPath(configDir)
		}
		// Missing file is fine; defaults apply
		_ = v.ReadInConfig()
	}

	if opts.ProjectDir != "" {
		if err := mergeProjectConfig(v, opts.ProjectDir); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix("REFACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		if err := BindFlags(v, opts.Flags); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %v", err)
	}
	if opts.Flags != nil {
		applyNegatedFlags(&config, opts.Flags)
	}

	return &config, nil
}

// BindFlags binds changed flags listed in FlagKeys onto v. Negated flags are
// applied after unmarshal by Load.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	names := make([]string, 0, len(FlagKeys))
	for name := range FlagKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if negatedFlags[name] {
			continue
		}
		f := fs.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(FlagKeys[name], f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func applyNegatedFlags(c *Config, fs *pflag.FlagSet) {
	if f := fs.Lookup("no-format"); f != nil && f.Changed && f.Value.String() == "true" {
		c.Pipeline.AutoFormat = false
	}
	if f := fs.Lookup("no-commit"); f != nil && f.Changed && f.Value.String() == "true" {
		c.Pipeline.GitCommit = false
	}
}

// projectConfigFiles are the overlay names looked up in the project directory
var projectConfigFiles = []string{
	".reface.yaml",
	".reface.yml",
	".reface.json",
	".reface.toml",
}

func mergeProjectConfig(v *viper.Viper, dir string) error {
	for _, name := range projectConfigFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		pv := viper.New()
		pv.SetConfigFile(path)
		if err := pv.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading project config %s: %w", path, err)
		}
		if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
			return fmt.Errorf("error merging project config %s: %w", path, err)
		}
		return nil
	}
	return nil
}

func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("pipeline.min_confidence", c.Pipeline.MinConfidence)
	v.SetDefault("pipeline.max_retries", c.Pipeline.MaxRetries)
	v.SetDefault("pipeline.max_content_size", c.Pipeline.MaxContentSize)
	v.SetDefault("pipeline.auto_format", c.Pipeline.AutoFormat)
	v.SetDefault("pipeline.keep_blocks", c.Pipeline.KeepBlocks)
	v.SetDefault("pipeline.syntax_validation", c.Pipeline.SyntaxValidation)
	v.SetDefault("pipeline.git_commit", c.Pipeline.GitCommit)
	v.SetDefault("pipeline.dry_run", c.Pipeline.DryRun)
	v.SetDefault("pipeline.supported_extensions", c.Pipeline.SupportedExtensions)

	v.SetDefault("diff.max_files", c.Diff.MaxFiles)
	v.SetDefault("diff.max_size", c.Diff.MaxSize)

	v.SetDefault("scope.project_root", c.Scope.ProjectRoot)
	v.SetDefault("scope.exceptions", c.Scope.Exceptions)
	v.SetDefault("scope.allow", c.Scope.Allow)
	v.SetDefault("scope.deny", c.Scope.Deny)
	v.SetDefault("scope.policy_file", c.Scope.PolicyFile)

	v.SetDefault("ledger.root", c.Ledger.Root)
	v.SetDefault("ledger.lock_timeout", c.Ledger.LockTimeout)
	v.SetDefault("ledger.poll_interval", c.Ledger.PollInterval)
	v.SetDefault("ledger.stale_after", c.Ledger.StaleAfter)
	v.SetDefault("ledger.snapshot_root", c.Ledger.SnapshotRoot)

	v.SetDefault("timeouts.format.python", c.Timeouts.Format.Python)
	v.SetDefault("timeouts.format.javascript", c.Timeouts.Format.JavaScript)
	v.SetDefault("timeouts.format.typescript", c.Timeouts.Format.TypeScript)
	v.SetDefault("timeouts.format.go", c.Timeouts.Format.Go)
	v.SetDefault("timeouts.format.rust", c.Timeouts.Format.Rust)
	v.SetDefault("timeouts.syntax", c.Timeouts.Syntax)
	v.SetDefault("timeouts.git.check", c.Timeouts.Git.Check)
	v.SetDefault("timeouts.git.apply", c.Timeouts.Git.Apply)
	v.SetDefault("timeouts.git.threeway", c.Timeouts.Git.ThreeWay)
	v.SetDefault("timeouts.git.patch", c.Timeouts.Git.Patch)

	v.SetDefault("artifacts.enabled", c.Artifacts.Enabled)
	v.SetDefault("artifacts.root", c.Artifacts.Root)

	v.SetDefault("commit.message_template", c.Commit.MessageTemplate)
	v.SetDefault("commit.author_name", c.Commit.AuthorName)
	v.SetDefault("commit.author_email", c.Commit.AuthorEmail)
}

// Validate returns a list of configuration problems; an empty list means usable
func (c *Config) Validate() []string {
	var issues []string
	if c.Pipeline.MinConfidence < 0 || c.Pipeline.MinConfidence > 1 {
		issues = append(issues, "pipeline.min_confidence must be between 0.0 and 1.0")
	}
	if c.Pipeline.MaxRetries < 0 {
		issues = append(issues, "pipeline.max_retries must be a non-negative integer")
	}
	if c.Pipeline.MaxContentSize <= 0 {
		issues = append(issues, "pipeline.max_content_size must be a positive integer")
	}
	if c.Diff.MaxFiles <= 0 {
		issues = append(issues, "diff.max_files must be a positive integer")
	}
	if c.Diff.MaxSize <= 0 {
		issues = append(issues, "diff.max_size must be a positive integer")
	}
	if strings.TrimSpace(c.Ledger.Root) == "" {
		issues = append(issues, "ledger.root must not be empty")
	}
	if c.Ledger.LockTimeout <= 0 {
		issues = append(issues, "ledger.lock_timeout must be positive")
	}
	if c.Ledger.PollInterval <= 0 || c.Ledger.PollInterval > c.Ledger.LockTimeout {
		issues = append(issues, "ledger.poll_interval must be positive and not exceed ledger.lock_timeout")
	}
	if c.Timeouts.Syntax <= 0 {
		issues = append(issues, "timeouts.syntax must be positive")
	}
	if root := c.Scope.ProjectRoot; root != "" && (filepath.IsAbs(root) || strings.Contains(root, "..")) {
		issues = append(issues, "scope.project_root must be a relative path without parent segments")
	}
	return issues
}

// FormatTimeout returns the formatter budget for a language name
func (c *Config) FormatTimeout(language string) time.Duration {
	switch language {
	case "python":
		return c.Timeouts.Format.Python
	case "javascript":
		return c.Timeouts.Format.JavaScript
	case "typescript", "tsx":
		return c.Timeouts.Format.TypeScript
	case "go":
		return c.Timeouts.Format.Go
	case "rust":
		return c.Timeouts.Format.Rust
	default:
		return 30 * time.Second
	}
}

// SupportsExtension reports whether ext (with leading dot) is enabled for rewrites.
// An empty list allows every extension.
func (c *Config) SupportsExtension(ext string) bool {
	if len(c.Pipeline.SupportedExtensions) == 0 {
		return true
	}
	ext = strings.ToLower(ext)
	for _, e := range c.Pipeline.SupportedExtensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// parseDurationDefault is a helper to create default duration values from string literal
func parseDurationDefault(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// GetRefaceHome returns the reface home directory
func GetRefaceHome() (string, error) {
	if home := os.Getenv("REFACE_HOME"); home != "" {
		return home, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %v", err)
	}

	return filepath.Join(homeDir, ".reface"), nil
}

// EnsureRefaceHome creates the reface home directory if it doesn't exist
func EnsureRefaceHome() (string, error) {
	homeDir, err := GetRefaceHome()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(homeDir, 0750); err != nil {
		return "", fmt.Errorf("failed to create reface home directory: %v", err)
	}

	return homeDir, nil
}

// GetConfigDir returns the config directory
func GetConfigDir() (string, error) {
	homeDir, err := EnsureRefaceHome()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(homeDir, "config")
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return "", fmt.Errorf("failed to create config directory: %v", err)
	}
	return configDir, nil
}
