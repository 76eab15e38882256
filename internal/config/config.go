package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// AnalysisConfig tunes the monitoring scheduler. Character thresholds gate
// dispatches; the timer fields drive the warm-up, recurring, and debounce
// triggers.
type AnalysisConfig struct {
	MinTranscriptChars int `yaml:"min_transcript_chars"`
	FastPathChars      int `yaml:"fast_path_chars"`
	WarmupDelayMS      int `yaml:"warmup_delay_ms"`
	IntervalMS         int `yaml:"interval_ms"`
	DebounceMS         int `yaml:"debounce_ms"`
	DispatchTimeoutMS  int `yaml:"dispatch_timeout_ms"`
}

type ClassifierConfig struct {
	Enabled          bool    `yaml:"enabled"`
	Mode             string  `yaml:"mode"` // mock, openai, ollama, exec
	Endpoint         string  `yaml:"endpoint"`
	APIKey           string  `yaml:"api_key"`
	Model            string  `yaml:"model"`
	Command          string  `yaml:"command"`
	TimeoutMS        int     `yaml:"timeout_ms"`
	MaxTokens        int     `yaml:"max_tokens"`
	Temperature      float64 `yaml:"temperature"`
	MaxResponseBytes int64   `yaml:"max_response_bytes"`
}

type CaptureConfig struct {
	Enabled bool `yaml:"enabled"`
}

type GuidanceConfig struct {
	DefaultLanguage string `yaml:"default_language"`
	OverridesPath   string `yaml:"overrides_path"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRecords    int    `yaml:"max_records"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Analysis    AnalysisConfig   `yaml:"analysis"`
	Classifier  ClassifierConfig `yaml:"classifier"`
	Capture     CaptureConfig    `yaml:"capture"`
	Guidance    GuidanceConfig   `yaml:"guidance"`
	History     HistoryConfig    `yaml:"history"`
}

func Default() Config {
	return Config{
		RuntimeName: "guardline-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Analysis: AnalysisConfig{
			MinTranscriptChars: 15,
			FastPathChars:      10,
			WarmupDelayMS:      2000,
			IntervalMS:         5000,
			DebounceMS:         800,
			DispatchTimeoutMS:  30000,
		},
		Classifier: ClassifierConfig{
			Enabled:          false,
			Mode:             "mock",
			Endpoint:         "https://api.openai.com/v1",
			Model:            "gpt-4o-mini",
			TimeoutMS:        30000,
			MaxTokens:        512,
			Temperature:      0.1,
			MaxResponseBytes: 1 << 20,
		},
		Capture: CaptureConfig{
			Enabled: true,
		},
		Guidance: GuidanceConfig{
			DefaultLanguage: "en",
		},
		History: HistoryConfig{
			Path:          "./data/guardline-history.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxRecords:    10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "GUARDLINE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "GUARDLINE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "GUARDLINE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "GUARDLINE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "GUARDLINE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "GUARDLINE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "GUARDLINE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "GUARDLINE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "GUARDLINE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "GUARDLINE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "GUARDLINE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "GUARDLINE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "GUARDLINE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "GUARDLINE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "GUARDLINE_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Analysis.MinTranscriptChars, "GUARDLINE_ANALYSIS_MIN_TRANSCRIPT_CHARS")
	overrideInt(&cfg.Analysis.FastPathChars, "GUARDLINE_ANALYSIS_FAST_PATH_CHARS")
	overrideInt(&cfg.Analysis.WarmupDelayMS, "GUARDLINE_ANALYSIS_WARMUP_DELAY_MS")
	overrideInt(&cfg.Analysis.IntervalMS, "GUARDLINE_ANALYSIS_INTERVAL_MS")
	overrideInt(&cfg.Analysis.DebounceMS, "GUARDLINE_ANALYSIS_DEBOUNCE_MS")
	overrideInt(&cfg.Analysis.DispatchTimeoutMS, "GUARDLINE_ANALYSIS_DISPATCH_TIMEOUT_MS")
	overrideBool(&cfg.Classifier.Enabled, "GUARDLINE_CLASSIFIER_ENABLED")
	overrideString(&cfg.Classifier.Mode, "GUARDLINE_CLASSIFIER_MODE")
	overrideString(&cfg.Classifier.Endpoint, "GUARDLINE_CLASSIFIER_ENDPOINT")
	overrideString(&cfg.Classifier.APIKey, "GUARDLINE_CLASSIFIER_API_KEY")
	overrideString(&cfg.Classifier.Model, "GUARDLINE_CLASSIFIER_MODEL")
	overrideString(&cfg.Classifier.Command, "GUARDLINE_CLASSIFIER_COMMAND")
	overrideInt(&cfg.Classifier.TimeoutMS, "GUARDLINE_CLASSIFIER_TIMEOUT_MS")
	overrideInt(&cfg.Classifier.MaxTokens, "GUARDLINE_CLASSIFIER_MAX_TOKENS")
	overrideFloat(&cfg.Classifier.Temperature, "GUARDLINE_CLASSIFIER_TEMPERATURE")
	overrideBool(&cfg.Capture.Enabled, "GUARDLINE_CAPTURE_ENABLED")
	overrideString(&cfg.Guidance.DefaultLanguage, "GUARDLINE_GUIDANCE_DEFAULT_LANGUAGE")
	overrideString(&cfg.Guidance.OverridesPath, "GUARDLINE_GUIDANCE_OVERRIDES_PATH")
	overrideString(&cfg.History.Path, "GUARDLINE_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "GUARDLINE_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "GUARDLINE_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxRecords, "GUARDLINE_HISTORY_MAX_RECORDS")
	overrideBool(&cfg.History.VacuumOnStart, "GUARDLINE_HISTORY_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if cfg.Capture.Enabled {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Analysis.MinTranscriptChars <= 0 {
		return errors.New("analysis.min_transcript_chars must be positive")
	}
	if cfg.Analysis.FastPathChars <= 0 {
		return errors.New("analysis.fast_path_chars must be positive")
	}
	if cfg.Analysis.FastPathChars > cfg.Analysis.MinTranscriptChars {
		return errors.New("analysis.fast_path_chars must not exceed analysis.min_transcript_chars")
	}
	if cfg.Analysis.IntervalMS <= 0 {
		return errors.New("analysis.interval_ms must be positive")
	}
	if cfg.Analysis.DebounceMS <= 0 {
		return errors.New("analysis.debounce_ms must be positive")
	}
	if cfg.Analysis.DispatchTimeoutMS <= 0 {
		return errors.New("analysis.dispatch_timeout_ms must be positive")
	}
	if cfg.Classifier.Enabled {
		switch cfg.Classifier.Mode {
		case "mock", "openai", "ollama", "exec":
		default:
			return errors.New("classifier.mode must be one of mock|openai|ollama|exec")
		}
		if (cfg.Classifier.Mode == "openai" || cfg.Classifier.Mode == "ollama") && cfg.Classifier.Endpoint == "" {
			return errors.New("classifier.endpoint must be set for remote classifier modes")
		}
		if cfg.Classifier.Mode == "exec" && cfg.Classifier.Command == "" {
			return errors.New("classifier.command must be set when mode=exec")
		}
		if cfg.Classifier.TimeoutMS <= 0 {
			return errors.New("classifier.timeout_ms must be positive")
		}
		if cfg.Classifier.MaxTokens < 0 {
			return errors.New("classifier.max_tokens must be >= 0")
		}
	}
	if cfg.Guidance.DefaultLanguage == "" {
		return errors.New("guidance.default_language must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.History.RetentionMode == "persistent" && cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	return nil
}
