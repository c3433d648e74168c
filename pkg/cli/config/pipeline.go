package config

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/tapestry/pkg/usecase"
	"github.com/secmon-lab/tapestry/pkg/utils/retry"
	"github.com/urfave/cli/v3"
)

// Pipeline holds batch and extraction tuning. An optional TOML file overrides retry policies
// and the extraction prompt; explicitly set flags win over the file.
type Pipeline struct {
	configPath           string
	batchConcurrency     int
	extractorConcurrency int
	tempDir              string
}

// PipelineFile is the TOML layout of --config
type PipelineFile struct {
	Pipeline  PipelineSection         `toml:"pipeline"`
	Extractor ExtractorSection        `toml:"extractor"`
	Retry     map[string]RetrySection `toml:"retry"`
}

type PipelineSection struct {
	BatchConcurrency     int    `toml:"batch_concurrency"`
	ExtractorConcurrency int    `toml:"extractor_concurrency"`
	TempDir              string `toml:"temp_dir"`
}

type ExtractorSection struct {
	Model        string   `toml:"model"`
	Temperature  *float32 `toml:"temperature"`
	SystemPrompt string   `toml:"system_prompt"`
	Prompt       string   `toml:"prompt"`
}

// RetrySection overrides fields of a retry policy. Zero values keep the default.
type RetrySection struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   Duration `toml:"base_delay"`
	Multiplier  float64  `toml:"multiplier"`
	MaxDelay    Duration `toml:"max_delay"`
	Jitter      *float64 `toml:"jitter"`
}

// Duration decodes Go duration strings such as "1.5s"
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return goerr.Wrap(ErrInvalidConfig, "invalid duration", goerr.V("value", string(text)))
	}
	*d = Duration(v)
	return nil
}

// PipelineSettings is the resolved pipeline configuration
type PipelineSettings struct {
	BatchConcurrency     int
	ExtractorConcurrency int
	TempDir              string
	Extractor            ExtractorSection

	FileStoreRetry retry.Policy
	ExtractorRetry retry.Policy
	EmbedderRetry  retry.Policy
	ReconnectRetry retry.Policy
}

func (p *Pipeline) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Category:    "Pipeline",
			Usage:       "Pipeline TOML file (retry policies, extraction prompt)",
			Sources:     cli.EnvVars("TAPESTRY_CONFIG"),
			Destination: &p.configPath,
		},
		&cli.IntFlag{
			Name:        "batch-concurrency",
			Category:    "Pipeline",
			Usage:       "Files processed at once by batch-process",
			Value:       usecase.DefaultBatchConcurrency,
			Sources:     cli.EnvVars("TAPESTRY_BATCH_CONCURRENCY"),
			Destination: &p.batchConcurrency,
		},
		&cli.IntFlag{
			Name:        "extractor-concurrency",
			Category:    "Pipeline",
			Usage:       "Maximum simultaneous extraction calls",
			Value:       usecase.DefaultExtractorConcurrency,
			Sources:     cli.EnvVars("TAPESTRY_EXTRACTOR_CONCURRENCY"),
			Destination: &p.extractorConcurrency,
		},
		&cli.StringFlag{
			Name:        "temp-dir",
			Category:    "Pipeline",
			Usage:       "Parent directory of download scratch dirs (default: system temp)",
			Sources:     cli.EnvVars("TAPESTRY_TEMP_DIR"),
			Destination: &p.tempDir,
		},
	}
}

func (p Pipeline) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("config", p.configPath),
		slog.Int("batch_concurrency", p.batchConcurrency),
		slog.Int("extractor_concurrency", p.extractorConcurrency),
		slog.String("temp_dir", p.tempDir),
	)
}

// Configure resolves settings from defaults, the TOML file and flags, in that order
func (p *Pipeline) Configure(c *cli.Command) (*PipelineSettings, error) {
	settings := &PipelineSettings{
		BatchConcurrency:     p.batchConcurrency,
		ExtractorConcurrency: p.extractorConcurrency,
		TempDir:              p.tempDir,
		FileStoreRetry:       retry.FileStorePolicy(),
		ExtractorRetry:       retry.ExtractorPolicy(),
		EmbedderRetry:        retry.EmbedderPolicy(),
		ReconnectRetry:       retry.ReconnectPolicy(),
	}

	if p.configPath == "" {
		return settings, nil
	}

	file, err := LoadPipelineFile(p.configPath)
	if err != nil {
		return nil, err
	}

	isSet := func(name string) bool { return c != nil && c.IsSet(name) }
	if file.Pipeline.BatchConcurrency > 0 && !isSet("batch-concurrency") {
		settings.BatchConcurrency = file.Pipeline.BatchConcurrency
	}
	if file.Pipeline.ExtractorConcurrency > 0 && !isSet("extractor-concurrency") {
		settings.ExtractorConcurrency = file.Pipeline.ExtractorConcurrency
	}
	if file.Pipeline.TempDir != "" && !isSet("temp-dir") {
		settings.TempDir = file.Pipeline.TempDir
	}
	settings.Extractor = file.Extractor

	targets := map[string]*retry.Policy{
		"file_store": &settings.FileStoreRetry,
		"extractor":  &settings.ExtractorRetry,
		"embedder":   &settings.EmbedderRetry,
		"reconnect":  &settings.ReconnectRetry,
	}
	for name, section := range file.Retry {
		target, ok := targets[name]
		if !ok {
			return nil, goerr.Wrap(ErrInvalidConfig, "unknown retry policy",
				goerr.V("policy", name), goerr.V(ConfigPathKey, p.configPath))
		}
		section.apply(target)
	}

	return settings, nil
}

func (s RetrySection) apply(p *retry.Policy) {
	if s.MaxAttempts > 0 {
		p.MaxAttempts = s.MaxAttempts
	}
	if s.BaseDelay > 0 {
		p.BaseDelay = time.Duration(s.BaseDelay)
	}
	if s.Multiplier > 0 {
		p.Multiplier = s.Multiplier
	}
	if s.MaxDelay > 0 {
		p.MaxDelay = time.Duration(s.MaxDelay)
	}
	if s.Jitter != nil {
		p.Jitter = *s.Jitter
	}
}

// LoadPipelineFile reads and validates a pipeline TOML file
func LoadPipelineFile(path string) (*PipelineFile, error) {
	// #nosec G304 - path is expected to be provided by CLI argument
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, goerr.Wrap(ErrConfigNotFound, "pipeline config not found", goerr.V(ConfigPathKey, path))
		}
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V(ConfigPathKey, path))
	}

	var file PipelineFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, goerr.Wrap(ErrInvalidConfig, "failed to parse TOML config: "+err.Error(), goerr.V(ConfigPathKey, path))
	}

	if err := file.Validate(); err != nil {
		return nil, goerr.Wrap(err, "config validation failed", goerr.V(ConfigPathKey, path))
	}
	return &file, nil
}

// Validate checks value ranges
func (f *PipelineFile) Validate() error {
	if f.Pipeline.BatchConcurrency < 0 || f.Pipeline.ExtractorConcurrency < 0 {
		return goerr.Wrap(ErrInvalidConfig, "concurrency must not be negative")
	}
	if t := f.Extractor.Temperature; t != nil && (*t < 0 || *t > 2) {
		return goerr.Wrap(ErrInvalidConfig, "temperature must be between 0 and 2", goerr.V("temperature", *t))
	}
	for name, r := range f.Retry {
		if r.MaxAttempts < 0 || r.Multiplier < 0 {
			return goerr.Wrap(ErrInvalidConfig, "retry values must not be negative", goerr.V("policy", name))
		}
		if r.Jitter != nil && (*r.Jitter < 0 || *r.Jitter > 1) {
			return goerr.Wrap(ErrInvalidConfig, "jitter must be between 0 and 1", goerr.V("policy", name))
		}
	}
	return nil
}
