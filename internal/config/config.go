package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration for the desktop app and the API server.
type Config struct {
	UserID     string           `yaml:"user_id"`
	AssemblyAI AssemblyAIConfig `yaml:"assemblyai"`
	Token      TokenConfig      `yaml:"token"`
	Audio      AudioConfig      `yaml:"audio"`
	Devices    DevicesConfig    `yaml:"devices"`
	Session    SessionConfig    `yaml:"session"`
	Store      StoreConfig      `yaml:"store"`
	Summary    SummaryConfig    `yaml:"summary"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type AssemblyAIConfig struct {
	APIKey       string `yaml:"api_key"`
	StreamingURL string `yaml:"streaming_url"`
	TokenURL     string `yaml:"token_url"`
	FormatTurns  bool   `yaml:"format_turns"`
}

// TokenConfig describes where the desktop app fetches streaming tokens from.
type TokenConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	AuthToken string        `yaml:"auth_token"`
	TTL       time.Duration `yaml:"ttl"`
	Timeout   time.Duration `yaml:"timeout"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"recorder_command"`
	InputFormat     string `yaml:"input_format"`
	FrameBuffer     int    `yaml:"frame_buffer"`
}

type DevicesConfig struct {
	PactlCommand string        `yaml:"pactl_command"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type SessionConfig struct {
	StopTimeout  time.Duration `yaml:"stop_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

// StoreConfig selects Redis when RedisAddr is set and the in-memory store otherwise.
type StoreConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

type SummaryConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	JWTSecret       string        `yaml:"jwt_secret"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig enables a standalone /metrics listener in the desktop app when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		UserID: "local",
		AssemblyAI: AssemblyAIConfig{
			StreamingURL: "wss://streaming.assemblyai.com/v3/ws",
			TokenURL:     "https://streaming.assemblyai.com/v3/token",
		},
		Token: TokenConfig{
			Endpoint: "http://127.0.0.1:8787/api/streaming-token",
			TTL:      10 * time.Minute,
			Timeout:  10 * time.Second,
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			FrameBuffer:     2,
		},
		Devices: DevicesConfig{
			PactlCommand: "pactl",
			PollInterval: 2 * time.Second,
		},
		Session: SessionConfig{
			StopTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			TickInterval: time.Second,
		},
		Store: StoreConfig{
			KeyPrefix: "callscribe:",
		},
		Summary: SummaryConfig{
			Model: "gpt-4o",
		},
		Server: ServerConfig{
			Addr:            ":8787",
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load resolves configuration from defaults, an optional YAML file named by
// CALLSCRIBE_CONFIG, an optional .env file and the process environment, in that order.
// Real environment variables win over .env entries.
func Load() (Config, error) {
	cfg := Default()

	env, err := newEnvSource(envOrDefault(os.Getenv, "CALLSCRIBE_ENV_FILE", ".env"))
	if err != nil {
		return Config{}, err
	}

	if path := env.get("CALLSCRIBE_CONFIG"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg, env.get)
	normalize(&cfg)
	return cfg, nil
}

type envSource struct {
	dotenv map[string]string
}

func newEnvSource(path string) (envSource, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return envSource{}, nil
		}
		return envSource{}, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return envSource{dotenv: values}, nil
}

func (s envSource) get(key string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(s.dotenv[key])
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, get func(string) string) {
	cfg.UserID = envOrDefault(get, "CALLSCRIBE_USER_ID", cfg.UserID)

	cfg.AssemblyAI.APIKey = firstNonEmpty(get("ASSEMBLYAI_API_KEY"), cfg.AssemblyAI.APIKey)
	cfg.AssemblyAI.StreamingURL = envOrDefault(get, "CALLSCRIBE_STREAMING_URL", cfg.AssemblyAI.StreamingURL)
	cfg.AssemblyAI.TokenURL = envOrDefault(get, "CALLSCRIBE_ASSEMBLYAI_TOKEN_URL", cfg.AssemblyAI.TokenURL)
	cfg.AssemblyAI.FormatTurns = envOrDefaultBool(get, "CALLSCRIBE_FORMAT_TURNS", cfg.AssemblyAI.FormatTurns)

	cfg.Token.Endpoint = envOrDefault(get, "CALLSCRIBE_TOKEN_ENDPOINT", cfg.Token.Endpoint)
	cfg.Token.AuthToken = envOrDefault(get, "CALLSCRIBE_TOKEN_AUTH", cfg.Token.AuthToken)
	cfg.Token.TTL = envOrDefaultSeconds(get, "CALLSCRIBE_TOKEN_TTL_SECONDS", cfg.Token.TTL)
	cfg.Token.Timeout = envOrDefaultMillis(get, "CALLSCRIBE_TOKEN_TIMEOUT_MS", cfg.Token.Timeout)

	cfg.Audio.RecorderCommand = envOrDefault(get, "CALLSCRIBE_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault(get, "CALLSCRIBE_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.FrameBuffer = envOrDefaultInt(get, "CALLSCRIBE_FRAME_BUFFER", cfg.Audio.FrameBuffer)

	cfg.Devices.PactlCommand = envOrDefault(get, "CALLSCRIBE_PACTL_COMMAND", cfg.Devices.PactlCommand)
	cfg.Devices.PollInterval = envOrDefaultMillis(get, "CALLSCRIBE_DEVICE_POLL_MS", cfg.Devices.PollInterval)

	cfg.Session.StopTimeout = envOrDefaultMillis(get, "CALLSCRIBE_STOP_TIMEOUT_MS", cfg.Session.StopTimeout)
	cfg.Session.WriteTimeout = envOrDefaultMillis(get, "CALLSCRIBE_WRITE_TIMEOUT_MS", cfg.Session.WriteTimeout)

	cfg.Store.RedisAddr = envOrDefault(get, "CALLSCRIBE_REDIS_ADDR", cfg.Store.RedisAddr)
	cfg.Store.RedisPassword = envOrDefault(get, "CALLSCRIBE_REDIS_PASSWORD", cfg.Store.RedisPassword)
	cfg.Store.RedisDB = envOrDefaultInt(get, "CALLSCRIBE_REDIS_DB", cfg.Store.RedisDB)
	cfg.Store.KeyPrefix = envOrDefault(get, "CALLSCRIBE_REDIS_PREFIX", cfg.Store.KeyPrefix)

	cfg.Summary.APIKey = firstNonEmpty(get("OPENAI_API_KEY"), cfg.Summary.APIKey)
	cfg.Summary.BaseURL = envOrDefault(get, "CALLSCRIBE_OPENAI_BASE_URL", cfg.Summary.BaseURL)
	cfg.Summary.Model = envOrDefault(get, "CALLSCRIBE_OPENAI_MODEL", cfg.Summary.Model)

	cfg.Server.Addr = envOrDefault(get, "CALLSCRIBE_SERVER_ADDR", cfg.Server.Addr)
	cfg.Server.JWTSecret = envOrDefault(get, "CALLSCRIBE_JWT_SECRET", cfg.Server.JWTSecret)

	cfg.Logging.Level = envOrDefault(get, "CALLSCRIBE_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envOrDefault(get, "CALLSCRIBE_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Output = envOrDefault(get, "CALLSCRIBE_LOG_OUTPUT", cfg.Logging.Output)

	cfg.Metrics.Addr = envOrDefault(get, "CALLSCRIBE_METRICS_ADDR", cfg.Metrics.Addr)
}

// normalize restores defaults for values that cannot work.
func normalize(cfg *Config) {
	def := Default()
	if cfg.UserID == "" {
		cfg.UserID = def.UserID
	}
	if cfg.Token.TTL <= 0 {
		cfg.Token.TTL = def.Token.TTL
	}
	if cfg.Token.Timeout <= 0 {
		cfg.Token.Timeout = def.Token.Timeout
	}
	if cfg.Audio.FrameBuffer <= 0 {
		cfg.Audio.FrameBuffer = def.Audio.FrameBuffer
	}
	if cfg.Devices.PollInterval <= 0 {
		cfg.Devices.PollInterval = def.Devices.PollInterval
	}
	if cfg.Session.StopTimeout <= 0 {
		cfg.Session.StopTimeout = def.Session.StopTimeout
	}
	if cfg.Session.WriteTimeout <= 0 {
		cfg.Session.WriteTimeout = def.Session.WriteTimeout
	}
	if cfg.Session.TickInterval <= 0 {
		cfg.Session.TickInterval = def.Session.TickInterval
	}
	if cfg.Store.RedisDB < 0 {
		cfg.Store.RedisDB = def.Store.RedisDB
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(get func(string) string, key string, fallback string) string {
	value := strings.TrimSpace(get(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(get func(string) string, key string, fallback int) int {
	value := strings.TrimSpace(get(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(get func(string) string, key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(get(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envOrDefaultMillis(get func(string) string, key string, fallback time.Duration) time.Duration {
	parsed := envOrDefaultInt(get, key, -1)
	if parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func envOrDefaultSeconds(get func(string) string, key string, fallback time.Duration) time.Duration {
	parsed := envOrDefaultInt(get, key, -1)
	if parsed <= 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Second
}
