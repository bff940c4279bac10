package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all miaoyu environment variables.
const EnvPrefix = "MIAOYU_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	HistoryDBPath  string `yaml:"history_db_path"`
	AudioDir       string `yaml:"audio_dir"`
	ModelsDir      string `yaml:"models_dir"`
	SettingsPath   string `yaml:"settings_path"`
	ListenAddr     string `yaml:"listen_addr"`
	InferenceURL   string `yaml:"inference_url"`
	Hangover       string `yaml:"hangover"`
	MinUtterance   string `yaml:"min_utterance"`
	MinRecording   string `yaml:"min_recording"`
	FrameMillis    int    `yaml:"frame_millis"`
	AsrWorkers     int    `yaml:"asr_workers"`
	UtteranceQueue int    `yaml:"utterance_queue"`
	PolishTimeout  string `yaml:"polish_timeout"`
	SystemPrompt   string `yaml:"system_prompt"`

	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Secrets come from env vars only, never serialized to YAML.
	DeepSeekAPIKey   string `yaml:"-"`
	ModelScopeAPIKey string `yaml:"-"`
}

func defaults() Config {
	return Config{
		HistoryDBPath:  "data/history/history.db",
		AudioDir:       "data/audio",
		ModelsDir:      "data/models",
		SettingsPath:   "data/settings.json",
		ListenAddr:     "127.0.0.1:8090",
		InferenceURL:   "http://127.0.0.1:8100",
		Hangover:       "3s",
		MinUtterance:   "300ms",
		MinRecording:   "500ms",
		FrameMillis:    30,
		AsrWorkers:     2,
		UtteranceQueue: 32,
		PolishTimeout:  "8s",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedHangover returns the VAD hangover as a time.Duration, falling back
// to 3s if the configured value is invalid.
func (c *Config) ParsedHangover() time.Duration {
	return durationOr(c.Hangover, 3*time.Second)
}

// ParsedMinUtterance returns the minimum utterance duration, default 300ms.
func (c *Config) ParsedMinUtterance() time.Duration {
	return durationOr(c.MinUtterance, 300*time.Millisecond)
}

// ParsedMinRecording returns the minimum recording duration, default 500ms.
func (c *Config) ParsedMinRecording() time.Duration {
	return durationOr(c.MinRecording, 500*time.Millisecond)
}

// ParsedPolishTimeout returns the LLM polish timeout, default 8s.
func (c *Config) ParsedPolishTimeout() time.Duration {
	return durationOr(c.PolishTimeout, 8*time.Second)
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range []struct {
		key string
		dst *string
	}{
		{"HISTORY_DB_PATH", &cfg.HistoryDBPath},
		{"AUDIO_DIR", &cfg.AudioDir},
		{"MODELS_DIR", &cfg.ModelsDir},
		{"SETTINGS_PATH", &cfg.SettingsPath},
		{"LISTEN_ADDR", &cfg.ListenAddr},
		{"INFERENCE_URL", &cfg.InferenceURL},
		{"HANGOVER", &cfg.Hangover},
		{"MIN_UTTERANCE", &cfg.MinUtterance},
		{"MIN_RECORDING", &cfg.MinRecording},
		{"POLISH_TIMEOUT", &cfg.PolishTimeout},
		{"SYSTEM_PROMPT", &cfg.SystemPrompt},
		{"GDRIVE_FOLDER_ID", &cfg.GDriveFolderID},
		{"GOOGLE_CREDENTIALS_FILE", &cfg.GoogleCredentialsFile},
	} {
		if v := os.Getenv(EnvPrefix + o.key); v != "" {
			*o.dst = v
		}
	}

	for _, o := range []struct {
		key string
		dst *int
	}{
		{"FRAME_MILLIS", &cfg.FrameMillis},
		{"ASR_WORKERS", &cfg.AsrWorkers},
		{"UTTERANCE_QUEUE", &cfg.UtteranceQueue},
	} {
		if v := os.Getenv(EnvPrefix + o.key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*o.dst = n
			}
		}
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepSeekAPIKey = os.Getenv("DEEPSEEK_API_KEY")
	cfg.ModelScopeAPIKey = os.Getenv("MODELSCOPE_ACCESS_TOKEN")
}

func validate(cfg *Config) []string {
	var warnings []string

	for _, d := range []struct {
		name  string
		value string
	}{
		{"hangover", cfg.Hangover},
		{"min_utterance", cfg.MinUtterance},
		{"min_recording", cfg.MinRecording},
		{"polish_timeout", cfg.PolishTimeout},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q, using built-in default.", d.name, d.value))
		}
	}

	if cfg.FrameMillis < 10 || cfg.FrameMillis > 100 {
		warnings = append(warnings, fmt.Sprintf("frame_millis %d out of range [10,100], using 30.", cfg.FrameMillis))
		cfg.FrameMillis = 30
	}
	if cfg.AsrWorkers < 1 {
		cfg.AsrWorkers = 1
	}
	if cfg.UtteranceQueue < 1 {
		cfg.UtteranceQueue = 32
	}

	return warnings
}
