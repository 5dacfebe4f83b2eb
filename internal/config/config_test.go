package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "videoloom.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validConfig = `
[paths]
data_root = "/tmp/videoloom-test"
inbox = "/tmp/videoloom-test/inbox"
archive = "/tmp/videoloom-test/archive"
temp = "/tmp/videoloom-test/tmp"

[logging]
level = "debug"
format = "json"

[providers]
local_base_url = "http://localhost:11434"
cloud_base_url = "https://api.anthropic.com"
timeout = "90s"

[providers.retry]
max_retries = 5
initial_delay = "2s"
backoff_factor = 1.5
max_delay = "30s"

[models.llama3]
profile = "medium"

[models.claude-sonnet]
profile = "large"
input_per_mtok = 3.0
output_per_mtok = 15.0

[pipeline]
default_model = "llama3"

[pipeline.stage_models]
summarize = "claude-sonnet"
`

func TestLoadValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 90*time.Second, cfg.Providers.Timeout.Duration)
	assert.Equal(t, 5, cfg.Providers.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Providers.Retry.InitialDelay.Duration)
	assert.InDelta(t, 1.5, cfg.Providers.Retry.BackoffFactor, 0.0001)
	assert.Equal(t, "medium", cfg.Models["llama3"].Profile)
	assert.Equal(t, "large", cfg.Models["claude-sonnet"].Profile)
	assert.Equal(t, "llama3", cfg.Pipeline.DefaultModel)
	assert.Equal(t, "claude-sonnet", cfg.Pipeline.StageModels["summarize"])

	// untouched tunables fall back to defaults
	assert.Equal(t, 12000, cfg.Pipeline.LargeTextThreshold)
	assert.Equal(t, 600, cfg.Pipeline.ChunkWordLimit)
}

func TestLoadMissingArchivePath(t *testing.T) {
	cfg := `
[paths]
inbox = "/tmp/videoloom-test/inbox"
`
	path := writeTestConfig(t, cfg)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paths.archive")
}

func TestLoadMissingInboxPath(t *testing.T) {
	cfg := `
[paths]
archive = "/tmp/videoloom-test/archive"
`
	path := writeTestConfig(t, cfg)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paths.inbox")
}

func TestLoadUnknownModelProfile(t *testing.T) {
	cfg := `
[paths]
archive = "/tmp/videoloom-test/archive"
inbox = "/tmp/videoloom-test/inbox"

[models.weird]
profile = "huge"
`
	path := writeTestConfig(t, cfg)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "models.weird.profile")
}

func TestLoadNegativeModelPrice(t *testing.T) {
	cfg := `
[paths]
archive = "/tmp/videoloom-test/archive"
inbox = "/tmp/videoloom-test/inbox"

[models.cheap]
profile = "small"
input_per_mtok = -1.0
`
	path := writeTestConfig(t, cfg)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prices cannot be negative")
}

func TestLoadStageModelReferencesUnknownModel(t *testing.T) {
	cfg := `
[paths]
archive = "/tmp/videoloom-test/archive"
inbox = "/tmp/videoloom-test/inbox"

[pipeline.stage_models]
clean = "ghost-model"
`
	path := writeTestConfig(t, cfg)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown model "ghost-model"`)
}

func TestLoadDefaultModelReferencesUnknownModel(t *testing.T) {
	cfg := `
[paths]
archive = "/tmp/videoloom-test/archive"
inbox = "/tmp/videoloom-test/inbox"

[pipeline]
default_model = "ghost-model"
`
	path := writeTestConfig(t, cfg)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.default_model")
}

func TestLoadInvalidLoggingFormat(t *testing.T) {
	cfg := `
[paths]
archive = "/tmp/videoloom-test/archive"
inbox = "/tmp/videoloom-test/inbox"

[logging]
format = "xml"
`
	path := writeTestConfig(t, cfg)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg := `
[paths]
archive = "/tmp/videoloom-test/archive"
inbox = "/tmp/videoloom-test/inbox"
`
	path := writeTestConfig(t, cfg)
	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", loaded.Logging.Level)
	assert.Equal(t, "text", loaded.Logging.Format)
	assert.Equal(t, 120*time.Second, loaded.Providers.Timeout.Duration)
	assert.Equal(t, 3, loaded.Providers.Retry.MaxRetries)
	assert.Equal(t, 4*time.Second, loaded.Providers.Retry.InitialDelay.Duration)
	assert.InDelta(t, 2.0, loaded.Providers.Retry.BackoffFactor, 0.0001)
	assert.Equal(t, 60*time.Second, loaded.Providers.Retry.MaxDelay.Duration)
	assert.Equal(t, 2, loaded.Pipeline.LongreadPartsPerSection)
	assert.Equal(t, 2, loaded.Pipeline.MaxParallelSections)
	assert.Equal(t, 5, loaded.Pipeline.SlidesBatchSize)
	assert.NotNil(t, loaded.Pipeline.StageModels)
}

func TestLoadExpandsTildeInPaths(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg := `
[paths]
archive = "~/videoloom/archive"
inbox = "~/videoloom/inbox"
`
	path := writeTestConfig(t, cfg)
	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "videoloom/archive"), loaded.Paths.Archive)
	assert.Equal(t, filepath.Join(home, "videoloom/inbox"), loaded.Paths.Inbox)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.Error(t, err)
}

func TestLoadMalformedTOML(t *testing.T) {
	path := writeTestConfig(t, "this is not [ valid toml")
	_, err := Load(path)
	require.Error(t, err)
}

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"60s", 60 * time.Second},
		{"2m", 2 * time.Minute},
		{"1h", time.Hour},
		{"500ms", 500 * time.Millisecond},
	}
	for _, tt := range tests {
		var d Duration
		require.NoError(t, d.UnmarshalText([]byte(tt.input)))
		assert.Equal(t, tt.want, d.Duration)
	}
}

func TestDurationUnmarshalInvalid(t *testing.T) {
	var d Duration
	assert.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}

func TestDurationMarshalRoundTrip(t *testing.T) {
	d := Duration{Duration: 45 * time.Second}
	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "45s", string(text))

	var parsed Duration
	require.NoError(t, parsed.UnmarshalText(text))
	assert.Equal(t, d.Duration, parsed.Duration)
}

func TestCloneDeepCopiesMaps(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	clone := cfg.Clone()
	clone.Models["llama3"] = ModelSpec{Profile: "small"}
	clone.Pipeline.StageModels["clean"] = "claude-sonnet"

	assert.Equal(t, "medium", cfg.Models["llama3"].Profile)
	_, cleanStillAbsent := cfg.Pipeline.StageModels["clean"]
	assert.False(t, cleanStillAbsent)
}

func TestExpandHomeLeavesAbsolutePathAlone(t *testing.T) {
	assert.Equal(t, "/var/data", ExpandHome("/var/data"))
}

func TestExpandHomeEmptyPath(t *testing.T) {
	assert.Equal(t, "", ExpandHome(""))
}

func TestLoadManagerRequiresPath(t *testing.T) {
	_, err := LoadManager("  ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path is required")
}

func TestLoadManagerReturnsWorkingManager(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	mgr, err := LoadManager(path)
	require.NoError(t, err)

	cfg := mgr.Get()
	assert.Equal(t, "llama3", cfg.Pipeline.DefaultModel)
}

func TestValidateRejectsUnknownProfileAmongMany(t *testing.T) {
	cfg := validConfig + "\n[models.second]\nprofile = \"unknown\"\n"
	path := writeTestConfig(t, cfg)
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "models.second.profile"))
}
