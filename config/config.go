package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/models"
)

type Config struct {
	Debug     bool   `toml:"debug"`
	LogDir    string `toml:"log_dir"`
	LogFormat string `toml:"log_format"`

	// Run outputs
	OutputPath  string `toml:"output_path"`
	MetricsFile string `toml:"metrics_file"`

	Providers  ProvidersConfig  `toml:"providers"`
	Fetch      FetchConfig      `toml:"fetch"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Checkpoint CheckpointConfig `toml:"checkpoint"`
	Storage    StorageConfig    `toml:"storage"`
	Media      MediaConfig      `toml:"media"`
}

type ProvidersConfig struct {
	GoogleAPIKey string `toml:"google_api_key"`
	OpenAIAPIKey string `toml:"openai_api_key"`

	GeminiModel        string        `toml:"gemini_model"`
	GeminiPrompt       string        `toml:"gemini_prompt"`
	GeminiPollInterval time.Duration `toml:"gemini_poll_interval"`
	GeminiMaxWait      time.Duration `toml:"gemini_max_wait"`
	GeminiBaseURL      string        `toml:"gemini_base_url"`

	VisionModel  string `toml:"vision_model"`
	VisionPrompt string `toml:"vision_prompt"`
	FrameCount   int    `toml:"frame_count"`

	TranscriptionModel string `toml:"transcription_model"`
	FallbackModel      string `toml:"fallback_model"`

	OpenAIBaseURL  string        `toml:"openai_base_url"`
	RequestTimeout time.Duration `toml:"request_timeout"`
}

type FetchConfig struct {
	DownloadDir string        `toml:"download_dir"`
	Timeout     time.Duration `toml:"timeout"`
	YTDLPPath   string        `toml:"ytdlp_path"`
	YTDLPFormat string        `toml:"ytdlp_format"`
}

type PipelineConfig struct {
	DefaultBackends []string      `toml:"default_backends"`
	Delay           time.Duration `toml:"delay"`
	Concurrency     int           `toml:"concurrency"`
}

type CheckpointConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type StorageConfig struct {
	Bucket       string `toml:"bucket"`
	Prefix       string `toml:"prefix"`
	Region       string `toml:"region"`
	Endpoint     string `toml:"endpoint"`
	AccessKey    string `toml:"access_key"`
	SecretKey    string `toml:"secret_key"`
	UsePathStyle bool   `toml:"use_path_style"`
}

type MediaConfig struct {
	FFmpegPath   string        `toml:"ffmpeg_path"`
	FFprobePath  string        `toml:"ffprobe_path"`
	ClipDuration time.Duration `toml:"clip_duration"`
	ClipDir      string        `toml:"clip_dir"`
}

// Load builds the configuration from the environment (after loading an
// optional .env file) and then decodes the TOML file at path, if any, over
// it. An empty path falls back to CONFIG_FILE.
func Load(path string) (*Config, error) {
	const op = "config.Load"

	if err := loadDotEnv(getEnv("ENV_FILE", ".env")); err != nil {
		return nil, errors.Config(op, err, "failed to load env file")
	}

	cfg := fromEnv()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, errors.Config(op, err, fmt.Sprintf("failed to decode config file %s", path))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Config(op, err, "invalid configuration")
	}

	return cfg, nil
}

// loadDotEnv never overrides variables that are already set.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func fromEnv() *Config {
	return &Config{
		Debug:       getEnvAsBool("DEBUG", false),
		LogDir:      getEnv("LOG_DIR", ""),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
		OutputPath:  getEnv("OUTPUT_PATH", "analysis_results.json"),
		MetricsFile: getEnv("METRICS_FILE", ""),

		Providers: ProvidersConfig{
			GoogleAPIKey: firstNonEmpty(os.Getenv("GOOGLE_API_KEY"), os.Getenv("GEMINI_API_KEY")),
			OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),

			GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.0-flash-exp"),
			GeminiPrompt:       getEnv("GEMINI_PROMPT", ""),
			GeminiPollInterval: getEnvAsDuration("GEMINI_POLL_INTERVAL", time.Second),
			GeminiMaxWait:      getEnvAsDuration("GEMINI_MAX_WAIT", 5*time.Minute),
			GeminiBaseURL:      getEnv("GEMINI_BASE_URL", ""),

			VisionModel:  getEnv("VISION_MODEL", "gpt-4o-mini"),
			VisionPrompt: getEnv("VISION_PROMPT", ""),
			FrameCount:   getEnvAsInt("FRAME_COUNT", 8),

			TranscriptionModel: getEnv("TRANSCRIPTION_MODEL", "gpt-4o-mini-transcribe"),
			FallbackModel:      getEnv("TRANSCRIPTION_FALLBACK_MODEL", "whisper-1"),

			OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
			RequestTimeout: getEnvAsDuration("PROVIDER_TIMEOUT", 0),
		},

		Fetch: FetchConfig{
			DownloadDir: getEnv("DOWNLOAD_DIR", "./downloads"),
			Timeout:     getEnvAsDuration("FETCH_TIMEOUT", 0),
			YTDLPPath:   getEnv("YTDLP_PATH", "yt-dlp"),
			YTDLPFormat: getEnv("YTDLP_FORMAT", "worst"),
		},

		Pipeline: PipelineConfig{
			DefaultBackends: getEnvAsStringSlice("DEFAULT_BACKENDS", []string{string(models.BackendGeminiVideo)}),
			Delay:           getEnvAsDuration("PIPELINE_DELAY", 4*time.Second),
			Concurrency:     getEnvAsInt("PIPELINE_CONCURRENCY", 1),
		},

		Checkpoint: CheckpointConfig{
			Enabled: getEnvAsBool("CHECKPOINT_ENABLED", false),
			Path:    getEnv("CHECKPOINT_DB", "./checkpoints.db"),
		},

		Storage: StorageConfig{
			Bucket:       getEnv("RESULTS_BUCKET", ""),
			Prefix:       getEnv("RESULTS_PREFIX", "runs"),
			Region:       getEnv("S3_REGION", "us-east-1"),
			Endpoint:     getEnv("S3_ENDPOINT", ""),
			AccessKey:    getEnv("S3_ACCESS_KEY", ""),
			SecretKey:    getEnv("S3_SECRET_KEY", ""),
			UsePathStyle: getEnvAsBool("S3_PATH_STYLE", false),
		},

		Media: MediaConfig{
			FFmpegPath:   getEnv("FFMPEG_PATH", "ffmpeg"),
			FFprobePath:  getEnv("FFPROBE_PATH", "ffprobe"),
			ClipDuration: getEnvAsDuration("CLIP_DURATION", 30*time.Second),
			ClipDir:      getEnv("CLIP_DIR", "./video_clips"),
		},
	}
}

// Backends returns the parsed default backend set.
func (c *Config) Backends() ([]models.Backend, error) {
	return models.ParseBackends(c.Pipeline.DefaultBackends)
}

func (c *Config) Validate() error {
	if err := validatePaths(c); err != nil {
		return err
	}
	if err := validateTimeouts(c); err != nil {
		return err
	}
	if err := validatePipeline(c); err != nil {
		return err
	}
	return nil
}

func validatePaths(c *Config) error {
	if c.Fetch.DownloadDir == "" {
		return fmt.Errorf("download directory is required")
	}

	paths := []struct {
		path string
		name string
	}{
		{c.Fetch.DownloadDir, "download directory"},
		{c.LogDir, "log directory"},
	}

	for _, p := range paths {
		if p.path == "" {
			continue
		}
		if err := os.MkdirAll(p.path, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", p.name, err)
		}
	}

	if c.Checkpoint.Enabled && c.Checkpoint.Path == "" {
		return fmt.Errorf("checkpoint path is required when checkpoints are enabled")
	}
	if c.OutputPath == "" {
		return fmt.Errorf("output path is required")
	}

	return nil
}

func validateTimeouts(c *Config) error {
	if c.Providers.GeminiPollInterval <= 0 {
		return fmt.Errorf("gemini poll interval must be positive")
	}
	if c.Providers.GeminiMaxWait <= 0 {
		return fmt.Errorf("gemini max wait must be positive")
	}
	if c.Providers.RequestTimeout < 0 || c.Fetch.Timeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.Media.ClipDuration <= 0 {
		return fmt.Errorf("clip duration must be positive")
	}
	return nil
}

func validatePipeline(c *Config) error {
	if c.Pipeline.Concurrency < 1 {
		return fmt.Errorf("pipeline concurrency must be at least 1")
	}
	if c.Pipeline.Delay < 0 {
		return fmt.Errorf("pipeline delay must not be negative")
	}
	if c.Providers.FrameCount < 1 {
		return fmt.Errorf("frame count must be at least 1")
	}
	backends, err := c.Backends()
	if err != nil {
		return fmt.Errorf("default backends: %w", err)
	}
	if len(backends) == 0 {
		return fmt.Errorf("at least one default backend is required")
	}
	return nil
}

// Helper functions for reading environment variables
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		if value = strings.TrimSpace(value); value != "" {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return parts
		}
	}
	return defaultValue
}
