// Package config loads service configuration from an optional YAML file and
// environment variables. Environment variables always win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration is the full service configuration.
type Configuration struct {
	Service       ServiceConfig       `yaml:"service"`
	Dialogflow    DialogflowConfig    `yaml:"dialogflow"`
	Stream        StreamConfig        `yaml:"stream"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Principal   string `yaml:"principal"`
	HTTPPort    string `yaml:"httpPort"`
	MetricsPort string `yaml:"metricsPort"`
}

// DialogflowConfig holds the detect-intent provider settings.
type DialogflowConfig struct {
	Provider        string `yaml:"provider"` // google, mock
	ProjectID       string `yaml:"projectId"`
	LanguageCode    string `yaml:"languageCode"`
	SampleRateHz    int    `yaml:"sampleRateHz"`
	AudioEncoding   string `yaml:"audioEncoding"`
	SingleUtterance bool   `yaml:"singleUtterance"`
	Endpoint        string `yaml:"endpoint"`
	CredentialsFile string `yaml:"credentialsFile"`
	Environment     string `yaml:"environment"` // empty addresses the draft agent
	UserID          string `yaml:"userId"`
}

// StreamConfig bounds a single detect-intent stream.
type StreamConfig struct {
	ChunkSize     int           `yaml:"chunkSize"`
	MaxAudioBytes int64         `yaml:"maxAudioBytes"`
	MaxDuration   time.Duration `yaml:"maxDuration"`
}

// KafkaConfig holds event publisher settings.
type KafkaConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Brokers         []string `yaml:"brokers"`
	TopicTranscript string   `yaml:"topicTranscript"`
	TopicIntent     string   `yaml:"topicIntent"`
	Principal       string   `yaml:"principal"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Principal:   "svc-intent-stream",
			HTTPPort:    "8080",
			MetricsPort: "9090",
		},
		Dialogflow: DialogflowConfig{
			Provider:      "mock",
			LanguageCode:  "en-US",
			SampleRateHz:  16000,
			AudioEncoding: "LINEAR16",
		},
		Stream: StreamConfig{
			ChunkSize:     4096,
			MaxAudioBytes: 10 * 1024 * 1024,
			MaxDuration:   2 * time.Minute,
		},
		Kafka: KafkaConfig{
			TopicTranscript: "dialogflow.transcript",
			TopicIntent:     "dialogflow.intent.detected",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load builds the configuration from CONFIG_FILE (if set) and the environment.
// A missing or malformed config file is reported; bad env values fall back.
func Load() (*Configuration, error) {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Configuration) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Configuration) {
	cfg.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", cfg.Service.Principal)
	cfg.Service.HTTPPort = envOrDefault("HTTP_PORT", cfg.Service.HTTPPort)
	cfg.Service.MetricsPort = envOrDefault("METRICS_PORT", cfg.Service.MetricsPort)

	cfg.Dialogflow.Provider = envOrDefault("DIALOGFLOW_PROVIDER", cfg.Dialogflow.Provider)
	cfg.Dialogflow.ProjectID = envOrDefault("DIALOGFLOW_PROJECT_ID", cfg.Dialogflow.ProjectID)
	cfg.Dialogflow.LanguageCode = envOrDefault("DIALOGFLOW_LANGUAGE_CODE", cfg.Dialogflow.LanguageCode)
	cfg.Dialogflow.SampleRateHz = envOrDefaultInt("DIALOGFLOW_SAMPLE_RATE_HZ", cfg.Dialogflow.SampleRateHz)
	cfg.Dialogflow.AudioEncoding = envOrDefault("DIALOGFLOW_AUDIO_ENCODING", cfg.Dialogflow.AudioEncoding)
	cfg.Dialogflow.SingleUtterance = envOrDefaultBool("DIALOGFLOW_SINGLE_UTTERANCE", cfg.Dialogflow.SingleUtterance)
	cfg.Dialogflow.Endpoint = envOrDefault("DIALOGFLOW_ENDPOINT", cfg.Dialogflow.Endpoint)
	cfg.Dialogflow.CredentialsFile = envOrDefault("GOOGLE_APPLICATION_CREDENTIALS", cfg.Dialogflow.CredentialsFile)
	cfg.Dialogflow.Environment = envOrDefault("DIALOGFLOW_ENVIRONMENT", cfg.Dialogflow.Environment)
	cfg.Dialogflow.UserID = envOrDefault("DIALOGFLOW_USER_ID", cfg.Dialogflow.UserID)

	cfg.Stream.ChunkSize = envOrDefaultInt("STREAM_CHUNK_SIZE", cfg.Stream.ChunkSize)
	cfg.Stream.MaxAudioBytes = envOrDefaultInt64("STREAM_MAX_AUDIO_BYTES", cfg.Stream.MaxAudioBytes)
	cfg.Stream.MaxDuration = envOrDefaultDuration("STREAM_MAX_DURATION", cfg.Stream.MaxDuration)

	cfg.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", cfg.Kafka.Enabled)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	cfg.Kafka.TopicTranscript = envOrDefault("KAFKA_TOPIC_TRANSCRIPT", cfg.Kafka.TopicTranscript)
	cfg.Kafka.TopicIntent = envOrDefault("KAFKA_TOPIC_INTENT", cfg.Kafka.TopicIntent)
	cfg.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", cfg.Kafka.Principal)
	if cfg.Kafka.Principal == "" {
		cfg.Kafka.Principal = cfg.Service.Principal
	}

	cfg.Observability.LogLevel = envOrDefault("LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.LogFormat = envOrDefault("LOG_FORMAT", cfg.Observability.LogFormat)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
