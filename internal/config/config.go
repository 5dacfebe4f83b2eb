// Package config loads and validates the pipeline runtime's TOML
// configuration: filesystem paths, the provider router's model table, and
// logging. Loader shape (Duration wrapper, toml.Decode + applyDefaults +
// validate) follows the pack's usual config-manager convention unchanged.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the complete pipeline runtime configuration.
type Config struct {
	Paths     Paths                `toml:"paths"`
	Logging   Logging              `toml:"logging"`
	Providers ProvidersConfig      `toml:"providers"`
	Models    map[string]ModelSpec `toml:"models"`
	Pipeline  PipelineConfig       `toml:"pipeline"`
}

// Paths are the filesystem locations the runtime reads from and writes to.
type Paths struct {
	DataRoot      string `toml:"data_root"`
	Inbox         string `toml:"inbox"`
	Archive       string `toml:"archive"`
	Temp          string `toml:"temp"`
	PromptsRoot   string `toml:"prompts_root"` // optional external override root
	LedgerDB      string `toml:"ledger_db"`
	GlossaryFile  string `toml:"glossary_file"` // optional JSON glossary.Entry list
}

// Logging configures the slog handler.
type Logging struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // "text" or "json"
}

// ProvidersConfig configures the two backend transports the router dials.
type ProvidersConfig struct {
	LocalBaseURL  string   `toml:"local_base_url"`
	CloudBaseURL  string   `toml:"cloud_base_url"`
	CloudAPIKey   string   `toml:"cloud_api_key"`
	CloudProxyURL string   `toml:"cloud_proxy_url"`
	Timeout       Duration `toml:"timeout"`
	Retry         RetryPolicy `toml:"retry"`
}

// RetryPolicy mirrors internal/provider.RetryPolicy in TOML-decodable form.
type RetryPolicy struct {
	MaxRetries    int      `toml:"max_retries"`
	InitialDelay  Duration `toml:"initial_delay"`
	BackoffFactor float64  `toml:"backoff_factor"`
	MaxDelay      Duration `toml:"max_delay"`
}

// ModelSpec is one entry in the [models.<name>] table: its context profile
// and, for cloud models, its per-million-token price.
type ModelSpec struct {
	Profile         string  `toml:"profile"` // "small", "medium", "large"
	InputPerMtok    float64 `toml:"input_per_mtok"`
	OutputPerMtok   float64 `toml:"output_per_mtok"`
}

// PipelineConfig holds per-stage defaults and tunables. StageModels,
// IncludeTimestamps and SlidesBatchSize are passed to the stages by
// cmd/pipeline. DefaultModel, LargeTextThreshold, LongreadPartsPerSection,
// MaxParallelSections and ChunkWordLimit are loaded and defaulted but no
// stage reads them: a stage with no stage_models entry gets no model, and
// the stages use their own constants and the model profile's bounds.
type PipelineConfig struct {
	DefaultModel          string         `toml:"default_model"`
	StageModels            map[string]string `toml:"stage_models"`
	IncludeTimestamps      bool           `toml:"include_timestamps"`
	LargeTextThreshold     int            `toml:"large_text_threshold"`
	LongreadPartsPerSection int           `toml:"longread_parts_per_section"`
	MaxParallelSections    int            `toml:"max_parallel_sections"`
	SlidesBatchSize        int            `toml:"slides_batch_size"`
	ChunkWordLimit         int            `toml:"chunk_word_limit"`
}

// Clone returns a deep copy of cfg so callers can safely mutate the result,
// the same defensive-copy contract as config manager.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	cloned := *cfg
	cloned.Models = cloneModelMap(cfg.Models)
	cloned.Pipeline.StageModels = cloneStringMap(cfg.Pipeline.StageModels)
	return &cloned
}

func cloneModelMap(in map[string]ModelSpec) map[string]ModelSpec {
	if in == nil {
		return nil
	}
	out := make(map[string]ModelSpec, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Load reads and validates a pipeline runtime TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	normalizePaths(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Reload reads and validates a configuration file; named distinctly from
// Load to mark runtime-refresh call sites.
func Reload(path string) (*Config, error) {
	return Load(path)
}

// LoadManager reads config from path and returns a thread-safe manager.
func LoadManager(path string) (ConfigManager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	cfg, err := Reload(path)
	if err != nil {
		return nil, err
	}
	return NewRWMutexManager(cfg), nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Providers.Timeout.Duration == 0 {
		cfg.Providers.Timeout.Duration = 120 * time.Second
	}
	if cfg.Providers.Retry.MaxRetries == 0 {
		cfg.Providers.Retry.MaxRetries = 3
	}
	if cfg.Providers.Retry.InitialDelay.Duration == 0 {
		cfg.Providers.Retry.InitialDelay.Duration = 4 * time.Second
	}
	if cfg.Providers.Retry.BackoffFactor == 0 {
		cfg.Providers.Retry.BackoffFactor = 2.0
	}
	if cfg.Providers.Retry.MaxDelay.Duration == 0 {
		cfg.Providers.Retry.MaxDelay.Duration = 60 * time.Second
	}
	if cfg.Pipeline.LargeTextThreshold == 0 {
		cfg.Pipeline.LargeTextThreshold = 12000
	}
	if cfg.Pipeline.LongreadPartsPerSection == 0 {
		cfg.Pipeline.LongreadPartsPerSection = 2
	}
	if cfg.Pipeline.MaxParallelSections == 0 {
		cfg.Pipeline.MaxParallelSections = 2
	}
	if cfg.Pipeline.SlidesBatchSize == 0 {
		cfg.Pipeline.SlidesBatchSize = 5
	}
	if cfg.Pipeline.ChunkWordLimit == 0 {
		cfg.Pipeline.ChunkWordLimit = 600
	}
	if cfg.Pipeline.StageModels == nil {
		cfg.Pipeline.StageModels = map[string]string{}
	}
}

func normalizePaths(cfg *Config) {
	cfg.Paths.DataRoot = ExpandHome(strings.TrimSpace(cfg.Paths.DataRoot))
	cfg.Paths.Inbox = ExpandHome(strings.TrimSpace(cfg.Paths.Inbox))
	cfg.Paths.Archive = ExpandHome(strings.TrimSpace(cfg.Paths.Archive))
	cfg.Paths.Temp = ExpandHome(strings.TrimSpace(cfg.Paths.Temp))
	cfg.Paths.PromptsRoot = ExpandHome(strings.TrimSpace(cfg.Paths.PromptsRoot))
	cfg.Paths.LedgerDB = ExpandHome(strings.TrimSpace(cfg.Paths.LedgerDB))
	cfg.Paths.GlossaryFile = ExpandHome(strings.TrimSpace(cfg.Paths.GlossaryFile))
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

func validate(cfg *Config) error {
	if cfg.Paths.Archive == "" {
		return fmt.Errorf("paths.archive is required")
	}
	if cfg.Paths.Inbox == "" {
		return fmt.Errorf("paths.inbox is required")
	}

	validProfiles := map[string]struct{}{"small": {}, "medium": {}, "large": {}}
	names := make([]string, 0, len(cfg.Models))
	for name := range cfg.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := cfg.Models[name]
		if spec.Profile == "" {
			return fmt.Errorf("models.%s.profile is required", name)
		}
		if _, ok := validProfiles[spec.Profile]; !ok {
			return fmt.Errorf("models.%s.profile %q must be one of small, medium, large", name, spec.Profile)
		}
		if spec.InputPerMtok < 0 || spec.OutputPerMtok < 0 {
			return fmt.Errorf("models.%s: prices cannot be negative", name)
		}
	}

	for stage, model := range cfg.Pipeline.StageModels {
		if _, ok := cfg.Models[model]; !ok {
			return fmt.Errorf("pipeline.stage_models.%s references unknown model %q", stage, model)
		}
	}
	if cfg.Pipeline.DefaultModel != "" {
		if _, ok := cfg.Models[cfg.Pipeline.DefaultModel]; !ok {
			return fmt.Errorf("pipeline.default_model references unknown model %q", cfg.Pipeline.DefaultModel)
		}
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", cfg.Logging.Format)
	}

	return nil
}
