package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc"

	"dialogflow-intent-stream/internal/config"
	"dialogflow-intent-stream/internal/events"
	"dialogflow-intent-stream/internal/observability"
	"dialogflow-intent-stream/internal/observability/logging"
	"dialogflow-intent-stream/internal/observability/metrics"
	"dialogflow-intent-stream/internal/service/intent"
	"dialogflow-intent-stream/internal/service/intent/google"
	"dialogflow-intent-stream/internal/service/intent/mock"
	"dialogflow-intent-stream/internal/service/session"
	"dialogflow-intent-stream/internal/service/stream"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Metrics   *metrics.Metrics
	Publisher *events.Publisher
	Detector  intent.Detector
	Handler   *stream.Handler

	ready atomic.Bool
}

// New constructs a new Application from the provided configuration.
func New(ctx context.Context, cfg *config.Configuration, m *metrics.Metrics) (*Application, error) {
	a := &Application{
		Cfg:     cfg,
		Metrics: m,
	}
	if a.Metrics == nil {
		a.Metrics = metrics.DefaultMetrics
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	detector, err := NewDetector(ctx, cfg.Dialogflow, a.Metrics)
	if err != nil {
		return nil, err
	}
	a.Detector = detector

	a.Publisher = events.New(&events.Config{
		Enabled:         cfg.Kafka.Enabled,
		Brokers:         cfg.Kafka.Brokers,
		TopicTranscript: cfg.Kafka.TopicTranscript,
		TopicIntent:     cfg.Kafka.TopicIntent,
		Principal:       cfg.Kafka.Principal,
		Metrics:         a.Metrics,
	})

	a.Handler = stream.NewHandler(detector, stream.Options{
		Audio: intent.AudioConfig{
			Encoding:        cfg.Dialogflow.AudioEncoding,
			SampleRateHz:    cfg.Dialogflow.SampleRateHz,
			LanguageCode:    cfg.Dialogflow.LanguageCode,
			SingleUtterance: cfg.Dialogflow.SingleUtterance,
		},
		ChunkSize: cfg.Stream.ChunkSize,
		Limits: stream.Limits{
			MaxAudioBytes: cfg.Stream.MaxAudioBytes,
			MaxDuration:   cfg.Stream.MaxDuration,
		},
		Publisher: a.Publisher,
		Metrics:   a.Metrics,
		Sessions:  session.New(),

		Environment: cfg.Dialogflow.Environment,
		UserID:      cfg.Dialogflow.UserID,
	})

	appLogger.Info().
		Str("provider", detector.Name()).
		Str("projectId", cfg.Dialogflow.ProjectID).
		Msg("Dialogflow intent stream application created")
	return a, nil
}

// NewDetector creates the detect-intent provider named by cfg.Provider.
// The google provider reports every Dialogflow RPC to m.
func NewDetector(ctx context.Context, cfg config.DialogflowConfig, m *metrics.Metrics) (intent.Detector, error) {
	switch cfg.Provider {
	case "google":
		return google.New(ctx, google.Config{
			Endpoint:        cfg.Endpoint,
			CredentialsFile: cfg.CredentialsFile,
			ClientOptions: []option.ClientOption{
				option.WithGRPCDialOption(grpc.WithChainStreamInterceptor(observability.StreamClientInterceptor(m))),
				option.WithGRPCDialOption(grpc.WithChainUnaryInterceptor(observability.UnaryClientInterceptor(m))),
			},
		})
	case "mock", "":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown detect intent provider %q", cfg.Provider)
	}
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	logging.Init(logging.Config{
		Level:  a.Cfg.Observability.LogLevel,
		Format: a.Cfg.Observability.LogFormat,
	})

	a.Logger = logging.Logger().With().
		Str("service", a.Cfg.Service.Principal).
		Str("component", "application").
		Logger()

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", a.Cfg.Observability.LogFormat).
		Msg("Logger setup completed")
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Dialogflow intent stream service starting")

	return nil
}

// Ready reports whether the service accepts streams.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Shutdown stops accepting streams and releases the detector and publisher.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.ready.Store(false)
	shutdownLogger.Info().Msg("Dialogflow intent stream service shutting down")

	if err := a.Detector.Close(); err != nil {
		shutdownLogger.Error().Err(err).Msg("Error closing detector")
	}
	if err := a.Publisher.Close(); err != nil {
		shutdownLogger.Error().Err(err).Msg("Error closing publisher")
	}
}
