package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"callscribe/internal/audio"
	"callscribe/internal/config"
	"callscribe/internal/devices"
	"callscribe/internal/domain"
	"callscribe/internal/logging"
	"callscribe/internal/metrics"
	"callscribe/internal/ports"
	"callscribe/internal/providers/assemblyai"
	"callscribe/internal/server"
	"callscribe/internal/store"
	"callscribe/internal/summary"
	"callscribe/internal/token"
	"callscribe/internal/usecase"
)

// Services is the assembled desktop runtime graph.
type Services struct {
	Config    config.Config
	Logger    *slog.Logger
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Inventory *devices.Inventory
	Recorder  *usecase.RecordingController
	Calls     *usecase.CallService

	closers []io.Closer
}

// Close releases the store connection and log output.
func (s Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build loads configuration and wires all desktop dependencies.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWithConfig(cfg, eventSink)
}

func BuildWithConfig(cfg config.Config, eventSink ports.EventSink) (Services, error) {
	logger, logCloser, err := logging.New(logging.Config(cfg.Logging))
	if err != nil {
		return Services{}, fmt.Errorf("failed to open log output: %w", err)
	}
	services := Services{Config: cfg, Logger: logger, closers: []io.Closer{logCloser}}

	services.Registry = prometheus.NewRegistry()
	services.Metrics = metrics.New(services.Registry)

	callStore, storeCloser, err := newStore(cfg.Store)
	if err != nil {
		_ = services.Close()
		return Services{}, err
	}
	if storeCloser != nil {
		services.closers = append(services.closers, storeCloser)
	}

	pactl := devices.NewPactlLister(cfg.Devices.PactlCommand)
	services.Inventory = devices.NewInventory(pactl, pactl, cfg.Devices.PollInterval, logger)

	capture := audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand)
	engineCfg := audio.EngineConfig{
		Audio:       ports.AudioConfig{InputFormat: cfg.Audio.InputFormat},
		FrameBuffer: cfg.Audio.FrameBuffer,
	}
	newEngine := func() ports.CaptureEngine {
		return audio.NewEngine(capture, pactl, engineCfg, logger, services.Metrics)
	}

	services.Recorder = usecase.NewRecordingController(
		newTokenIssuer(cfg, logger, services.Metrics),
		newStreamingClient(cfg, logger, services.Metrics),
		newEngine,
		eventSink,
		usecase.Config{
			StopTimeout:  2 * cfg.Session.StopTimeout,
			TickInterval: cfg.Session.TickInterval,
		},
		logger,
		services.Metrics,
	)

	var summarizer ports.Summarizer
	if s := newSummarizer(cfg, logger); s != nil {
		summarizer = s
	}
	services.Calls = usecase.NewCallService(callStore, services.Recorder, summarizer, eventSink, cfg.UserID, logger)
	return services, nil
}

// ServerServices is the assembled API server graph.
type ServerServices struct {
	Config  config.Config
	Logger  *slog.Logger
	Server  *server.Server
	closers []io.Closer
}

func (s ServerServices) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildServer wires the HTTP API. A JWT secret is required.
func BuildServer(cfg config.Config) (ServerServices, error) {
	if strings.TrimSpace(cfg.Server.JWTSecret) == "" {
		return ServerServices{}, errors.New("CALLSCRIBE_JWT_SECRET is not set")
	}

	logger, logCloser, err := logging.New(logging.Config(cfg.Logging))
	if err != nil {
		return ServerServices{}, fmt.Errorf("failed to open log output: %w", err)
	}
	services := ServerServices{Config: cfg, Logger: logger, closers: []io.Closer{logCloser}}

	callStore, storeCloser, err := newStore(cfg.Store)
	if err != nil {
		_ = services.Close()
		return ServerServices{}, err
	}
	if storeCloser != nil {
		services.closers = append(services.closers, storeCloser)
	}

	registry := prometheus.NewRegistry()
	deps := server.Deps{
		Store: callStore,
		Minter: assemblyai.NewIssuer(assemblyai.IssuerConfig{
			APIKey:   cfg.AssemblyAI.APIKey,
			TokenURL: cfg.AssemblyAI.TokenURL,
			TTL:      cfg.Token.TTL,
			Timeout:  cfg.Token.Timeout,
		}),
		Gatherer: registry,
		Metrics:  metrics.New(registry),
		Logger:   logger,
	}
	if summarizer := newSummarizer(cfg, logger); summarizer != nil {
		deps.Summarizer = summarizer
	}

	services.Server = server.New(server.Config{JWTSecret: cfg.Server.JWTSecret}, deps)
	return services, nil
}

// newTokenIssuer prefers the configured token endpoint and mints directly only when no
// endpoint is set and the account key is available locally.
func newTokenIssuer(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) ports.TokenIssuer {
	if cfg.Token.Endpoint == "" && cfg.AssemblyAI.APIKey != "" {
		return assemblyai.NewIssuer(assemblyai.IssuerConfig{
			APIKey:   cfg.AssemblyAI.APIKey,
			TokenURL: cfg.AssemblyAI.TokenURL,
			TTL:      cfg.Token.TTL,
			Timeout:  cfg.Token.Timeout,
		})
	}
	return token.NewClient(token.Config{
		Endpoint:  cfg.Token.Endpoint,
		AuthToken: cfg.Token.AuthToken,
		TTL:       cfg.Token.TTL,
		Timeout:   cfg.Token.Timeout,
	}, logger, m)
}

func newStreamingClient(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *assemblyai.Client {
	return assemblyai.NewClient(assemblyai.Config{
		StreamingURL: cfg.AssemblyAI.StreamingURL,
		SampleRate:   domain.SampleRate,
		FormatTurns:  cfg.AssemblyAI.FormatTurns,
		StopTimeout:  cfg.Session.StopTimeout,
		WriteTimeout: cfg.Session.WriteTimeout,
	}, logger, m)
}

// newSummarizer returns nil when no OpenAI key is configured.
func newSummarizer(cfg config.Config, logger *slog.Logger) *summary.OpenAISummarizer {
	if cfg.Summary.APIKey == "" {
		return nil
	}
	return summary.NewOpenAISummarizer(summary.Config{
		APIKey:  cfg.Summary.APIKey,
		BaseURL: cfg.Summary.BaseURL,
		Model:   cfg.Summary.Model,
	}, logger)
}

func newStore(cfg config.StoreConfig) (ports.CallStore, io.Closer, error) {
	if cfg.RedisAddr == "" {
		return store.NewMemoryStore(), nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	redisStore := store.NewRedisStore(client, cfg.KeyPrefix)
	if err := redisStore.Ping(context.Background()); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis unavailable at %s: %w", cfg.RedisAddr, err)
	}
	return redisStore, client, nil
}
