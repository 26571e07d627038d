package configs

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/alpacahq/barback/utils/log"
)

// Defaults mirror the constants the downloader has always run with: one
// 90-day chunk per symbol per pass, five attempts with a 10s base delay,
// and New York as the canonical bar timezone.
const (
	DefaultChunkDays     = 90
	DefaultMaxRetries    = 5
	DefaultRetryWait     = 10 * time.Second
	DefaultTimezone      = "America/New_York"
	DefaultCheckpointCSV = "checkpoint.csv"
	DefaultUniverseCSV   = "universe.csv"
)

// Config is the runtime configuration for the barback downloader,
// parsed from a YAML file.
type Config struct {
	APIKeyID       string
	APISecretKey   string
	BaseURL        string
	DataBaseURL    string
	DataDir        string
	CheckpointFile string
	UniverseFile   string
	// Symbols pins the universe to a fixed list. When empty the universe
	// comes from the asset reference API.
	Symbols   []string
	Exchanges []string
	// SymbolPatterns narrows the API universe with glob patterns ("A*").
	SymbolPatterns []glob.Glob
	ChunkDays      int
	MaxRetries     int
	RetryWait      time.Duration
	Parallelism    int
	ClientTimeout  time.Duration
	Timezone       *time.Location
	LogLevel       log.Level
}

// Parse fills a Config from YAML data, applies environment overrides,
// derives dependent defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var aux struct {
		APIKeyID       string   `yaml:"api_key_id"`
		APISecretKey   string   `yaml:"api_secret_key"`
		BaseURL        string   `yaml:"base_url"`
		DataBaseURL    string   `yaml:"data_base_url"`
		DataDir        string   `yaml:"data_dir"`
		CheckpointFile string   `yaml:"checkpoint_file"`
		UniverseFile   string   `yaml:"universe_file"`
		Symbols        []string `yaml:"symbols"`
		Exchanges      []string `yaml:"exchanges"`
		SymbolPatterns []string `yaml:"symbol_patterns"`
		ChunkDays      int      `yaml:"chunk_days"`
		MaxRetries     int      `yaml:"max_retries"`
		RetryWait      int      `yaml:"retry_wait"`
		Parallelism    int      `yaml:"parallelism"`
		ClientTimeout  int      `yaml:"client_timeout"`
		Timezone       string   `yaml:"timezone"`
		LogLevel       string   `yaml:"log_level"`
	}

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return nil, errors.Wrap(err, "failed to parse the config file")
	}

	c := &Config{
		APIKeyID:       aux.APIKeyID,
		APISecretKey:   aux.APISecretKey,
		BaseURL:        aux.BaseURL,
		DataBaseURL:    aux.DataBaseURL,
		DataDir:        aux.DataDir,
		CheckpointFile: aux.CheckpointFile,
		UniverseFile:   aux.UniverseFile,
		Symbols:        aux.Symbols,
		Exchanges:      aux.Exchanges,
		ChunkDays:      aux.ChunkDays,
		MaxRetries:     aux.MaxRetries,
		Parallelism:    aux.Parallelism,
	}

	envOverride(c)

	if c.DataDir == "" {
		return nil, errors.New("data_dir must be set")
	}

	if c.ChunkDays == 0 {
		c.ChunkDays = DefaultChunkDays
	}
	if c.ChunkDays < 0 {
		return nil, errors.Errorf("invalid chunk_days %d", c.ChunkDays)
	}

	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxRetries < 0 {
		return nil, errors.Errorf("invalid max_retries %d", c.MaxRetries)
	}

	if aux.RetryWait < 0 {
		return nil, errors.Errorf("invalid retry_wait %d", aux.RetryWait)
	}
	c.RetryWait = time.Duration(aux.RetryWait) * time.Second
	if aux.RetryWait == 0 {
		c.RetryWait = DefaultRetryWait
	}

	if c.Parallelism == 0 {
		c.Parallelism = 1
	}
	if c.Parallelism < 0 {
		return nil, errors.Errorf("invalid parallelism %d", c.Parallelism)
	}

	if aux.ClientTimeout < 0 {
		return nil, errors.Errorf("invalid client_timeout %d", aux.ClientTimeout)
	}
	c.ClientTimeout = time.Duration(aux.ClientTimeout) * time.Second

	if c.CheckpointFile == "" {
		c.CheckpointFile = filepath.Join(c.DataDir, DefaultCheckpointCSV)
	}
	if c.UniverseFile == "" {
		c.UniverseFile = filepath.Join(c.DataDir, DefaultUniverseCSV)
	}

	tz := aux.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	location, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid timezone %q", tz)
	}
	c.Timezone = location

	for _, pattern := range aux.SymbolPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid symbol pattern %q", pattern)
		}
		c.SymbolPatterns = append(c.SymbolPatterns, g)
	}

	level, err := parseLogLevel(aux.LogLevel)
	if err != nil {
		return nil, err
	}
	c.LogLevel = level

	return c, nil
}

func parseLogLevel(name string) (log.Level, error) {
	switch strings.ToLower(name) {
	case "":
		return log.INFO, nil
	case "debug":
		return log.DEBUG, nil
	case "info":
		return log.INFO, nil
	case "warning", "warn":
		return log.WARNING, nil
	case "error":
		return log.ERROR, nil
	default:
		return log.INFO, errors.Errorf("invalid log_level %q", name)
	}
}
