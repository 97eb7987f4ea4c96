// Package stream runs one detect-intent stream end to end: it resolves the
// session, enforces stream limits, feeds audio to the detector and turns
// recognition progress into published events.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"dialogflow-intent-stream/internal/audio"
	"dialogflow-intent-stream/internal/models"
	"dialogflow-intent-stream/internal/observability/logging"
	"dialogflow-intent-stream/internal/observability/metrics"
	"dialogflow-intent-stream/internal/schema"
	"dialogflow-intent-stream/internal/service/intent"
	"dialogflow-intent-stream/internal/service/session"
)

// Limits defines safety guardrails for a single stream.
type Limits struct {
	MaxAudioBytes int64         // Max audio accepted per stream
	MaxDuration   time.Duration // Max wall time per stream
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxAudioBytes: 10 * 1024 * 1024, // 10MB (~5 minutes at 16kHz 16-bit mono)
		MaxDuration:   2 * time.Minute,
	}
}

// Publisher is the subset of events.Publisher the handler needs.
type Publisher interface {
	PublishTranscript(ctx context.Context, key string, event any) error
	PublishIntent(ctx context.Context, key string, event any) error
}

// Options configures a Handler. Zero values fall back to defaults.
type Options struct {
	Audio     intent.AudioConfig
	ChunkSize int
	Limits    Limits
	Publisher Publisher
	Metrics   *metrics.Metrics
	Sessions  *session.Generator

	// Environment, when set, addresses sessions of that agent environment
	// instead of the draft agent. UserID defaults to "-".
	Environment string
	UserID      string
}

// Handler runs detect-intent streams against one detector.
// It is safe for concurrent use; every stream gets its own callback.
type Handler struct {
	detector  intent.Detector
	audio     intent.AudioConfig
	chunkSize int
	limits    Limits
	publisher Publisher
	validator *schema.Validator
	metrics   *metrics.Metrics
	sessions  *session.Generator

	environment string
	userID      string
}

// NewHandler creates a stream handler.
func NewHandler(detector intent.Detector, opts Options) *Handler {
	h := &Handler{
		detector:  detector,
		audio:     opts.Audio,
		chunkSize: opts.ChunkSize,
		limits:    opts.Limits,
		publisher: opts.Publisher,
		validator: schema.New(),
		metrics:   opts.Metrics,
		sessions:  opts.Sessions,

		environment: opts.Environment,
		userID:      opts.UserID,
	}
	if h.audio.Encoding == "" || h.audio.SampleRateHz <= 0 {
		def := intent.DefaultAudioConfig()
		if h.audio.Encoding == "" {
			h.audio.Encoding = def.Encoding
		}
		if h.audio.SampleRateHz <= 0 {
			h.audio.SampleRateHz = def.SampleRateHz
		}
	}
	if h.chunkSize <= 0 {
		h.chunkSize = audio.DefaultChunkSize
	}
	if h.metrics == nil {
		h.metrics = metrics.DefaultMetrics
	}
	if h.sessions == nil {
		h.sessions = session.New()
	}
	return h
}

// Provider returns the name of the detector behind the handler.
func (h *Handler) Provider() string {
	return h.detector.Name()
}

// Request describes one stream.
type Request struct {
	ProjectID    string
	SessionID    string // generated when empty; may be a full session path
	LanguageCode string // handler default, then en-US, when empty

	// OnTranscript, when set, receives every transcript event of the stream.
	OnTranscript func(models.TranscriptEvent)
}

// Outcome is the result of a finished stream.
type Outcome struct {
	SessionID   string
	SessionPath string
	Result      *intent.Result
	AudioBytes  int64
	Duration    time.Duration
	WAV         *audio.WAVFormat // set when the audio carried a WAV header
}

// Resolve fills in the session id and language code of req. A session id
// given as a session resource name must belong to req.ProjectID.
func (h *Handler) Resolve(req Request) (Request, error) {
	if req.ProjectID == "" {
		return req, fmt.Errorf("%w: project id is required", ErrInvalidRequest)
	}
	if strings.Contains(req.SessionID, "/") {
		projectId, sessionId, err := session.ParsePath(req.SessionID)
		if err != nil {
			return req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if projectId != req.ProjectID {
			return req, fmt.Errorf("%w: session belongs to project %q", ErrInvalidRequest, projectId)
		}
		req.SessionID = sessionId
	}
	req.SessionID = h.sessions.Resolve(req.SessionID)
	if req.LanguageCode == "" {
		req.LanguageCode = h.audio.LanguageCode
	}
	req.LanguageCode = session.LanguageOrDefault(req.LanguageCode)
	return req, nil
}

// SessionPath returns the session resource name for a resolved request.
func (h *Handler) SessionPath(req Request) string {
	if h.environment != "" {
		return session.EnvironmentPath(req.ProjectID, h.environment, h.userID, req.SessionID)
	}
	return session.Path(req.ProjectID, req.SessionID)
}

// Run streams r to the detector and publishes the resulting events.
func (h *Handler) Run(ctx context.Context, req Request, r io.Reader) (*Outcome, error) {
	req, err := h.Resolve(req)
	if err != nil {
		return nil, err
	}
	sessionPath := h.SessionPath(req)
	log := logging.WithStream(req.ProjectID, req.SessionID, h.detector.Name())

	start := time.Now()
	h.metrics.RecordStreamStart()

	sctx := ctx
	if h.limits.MaxDuration > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeoutCause(ctx, h.limits.MaxDuration,
			fmt.Errorf("%w: %s", ErrStreamTooLong, h.limits.MaxDuration))
		defer cancel()
	}

	br := bufio.NewReaderSize(r, max(h.chunkSize, audio.WAVHeaderSize))
	wav := h.inspectWAV(br, log)
	lr := newLimitedReader(br, r, h.limits.MaxAudioBytes)

	audioCfg := h.audio
	audioCfg.LanguageCode = req.LanguageCode
	cb := &streamCallback{
		h:            h,
		ctx:          ctx,
		projectID:    req.ProjectID,
		sessionID:    req.SessionID,
		sessionPath:  sessionPath,
		onTranscript: req.OnTranscript,
		log:          log,
	}

	log.Info().
		Str("session", sessionPath).
		Str("language", req.LanguageCode).
		Str("encoding", audioCfg.Encoding).
		Int("sampleRateHz", audioCfg.SampleRateHz).
		Bool("singleUtterance", audioCfg.SingleUtterance).
		Msg("Stream started")

	res, err := h.detector.DetectStream(sctx, intent.Request{
		SessionPath: sessionPath,
		Audio:       audioCfg,
		ChunkSize:   h.chunkSize,
	}, lr, cb)
	duration := time.Since(start)

	if err != nil {
		if sctx.Err() != nil && ctx.Err() == nil {
			// the duration limit fired, not the caller
			err = context.Cause(sctx)
		}
		reason := failureReason(err)
		switch reason {
		case "max_audio_bytes", "max_duration":
			h.metrics.RecordLimitExceeded(reason)
		}
		h.metrics.RecordStreamEnd(false, reason, duration.Seconds())
		log.Error().
			Err(err).
			Str("reason", reason).
			Int64("audioBytes", cb.offset.Load()).
			Dur("duration", duration).
			Msg("Stream failed")
		return nil, err
	}

	h.metrics.RecordStreamEnd(true, "", duration.Seconds())
	h.metrics.RecordIntent(res.Intent, res.IntentDetectionConfidence)

	out := &Outcome{
		SessionID:   req.SessionID,
		SessionPath: sessionPath,
		Result:      res,
		AudioBytes:  cb.offset.Load(),
		Duration:    duration,
		WAV:         wav,
	}
	h.publishIntent(ctx, req, out, log)

	log.Info().
		Str("intent", res.Intent).
		Float64("confidence", res.IntentDetectionConfidence).
		Str("queryText", res.QueryText).
		Int64("audioBytes", out.AudioBytes).
		Dur("duration", duration).
		Msg("Stream completed")

	return out, nil
}

// inspectWAV logs the WAV header of the audio, if any. The bytes are sent
// unchanged.
func (h *Handler) inspectWAV(br *bufio.Reader, log zerolog.Logger) *audio.WAVFormat {
	wav, err := audio.PeekWAV(br)
	if err != nil {
		return nil
	}
	log.Debug().
		Uint16("audioFormat", wav.AudioFormat).
		Uint16("channels", wav.NumChannels).
		Uint32("sampleRate", wav.SampleRate).
		Uint16("bitsPerSample", wav.BitsPerSample).
		Msg("WAV header detected")
	if int(wav.SampleRate) != h.audio.SampleRateHz {
		log.Warn().
			Uint32("wavSampleRate", wav.SampleRate).
			Int("configuredSampleRate", h.audio.SampleRateHz).
			Msg("WAV sample rate differs from configured sample rate")
	}
	if enc := wav.Encoding(); enc != "" && enc != h.audio.Encoding {
		log.Warn().
			Str("wavEncoding", enc).
			Str("configuredEncoding", h.audio.Encoding).
			Msg("WAV encoding differs from configured encoding")
	}
	return wav
}

func (h *Handler) publishIntent(ctx context.Context, req Request, out *Outcome, log zerolog.Logger) {
	if h.publisher == nil {
		return
	}
	res := out.Result
	ev := models.IntentEvent{
		EventType:                 models.EventTypeIntent,
		ProjectID:                 req.ProjectID,
		SessionID:                 req.SessionID,
		SessionPath:               out.SessionPath,
		Timestamp:                 time.Now().UnixMilli(),
		ResponseID:                res.ResponseID,
		QueryText:                 res.QueryText,
		LanguageCode:              res.LanguageCode,
		Intent:                    res.Intent,
		IntentDetectionConfidence: res.IntentDetectionConfidence,
		SpeechConfidence:          res.SpeechConfidence,
		FulfillmentText:           res.FulfillmentText,
		Parameters:                res.Parameters,
		AudioBytes:                out.AudioBytes,
	}
	if err := h.validator.Validate(ev); err != nil {
		log.Error().Err(err).Msg("Intent event rejected")
		return
	}
	if err := h.publisher.PublishIntent(ctx, out.SessionPath, ev); err != nil {
		log.Error().Err(err).Msg("Failed to publish intent event")
	}
}

// failureReason maps a stream error to a metrics label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrAudioTooLarge):
		return "max_audio_bytes"
	case errors.Is(err, ErrStreamTooLong):
		return "max_duration"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	case errors.Is(err, session.ErrHalfClosed), errors.Is(err, session.ErrStreamClosed):
		return "lifecycle"
	default:
		return "error"
	}
}

// streamCallback turns detector notifications into events for one stream.
type streamCallback struct {
	h            *Handler
	ctx          context.Context
	projectID    string
	sessionID    string
	sessionPath  string
	onTranscript func(models.TranscriptEvent)
	offset       atomic.Int64
	log          zerolog.Logger
}

func (c *streamCallback) OnTranscript(text string, isFinal bool, confidence float64) {
	c.h.metrics.RecordTranscript(isFinal)

	ev := models.TranscriptEvent{
		EventType:   models.EventTypeTranscript,
		ProjectID:   c.projectID,
		SessionID:   c.sessionID,
		Timestamp:   time.Now().UnixMilli(),
		Text:        text,
		IsFinal:     isFinal,
		Confidence:  confidence,
		AudioOffset: c.offset.Load(),
	}
	if err := c.h.validator.Validate(ev); err != nil {
		c.log.Warn().Err(err).Msg("Transcript event rejected")
		return
	}

	c.log.Debug().Str("text", text).Bool("final", isFinal).Msg("Transcript")

	if c.onTranscript != nil {
		c.onTranscript(ev)
	}
	if c.h.publisher != nil {
		if err := c.h.publisher.PublishTranscript(c.ctx, c.sessionPath, ev); err != nil {
			c.log.Error().Err(err).Msg("Failed to publish transcript event")
		}
	}
}

func (c *streamCallback) OnEndOfUtterance() {
	c.log.Debug().Int64("audioBytes", c.offset.Load()).Msg("End of single utterance")
}

func (c *streamCallback) OnAudioSent(n int) {
	c.offset.Add(int64(n))
	c.h.metrics.RecordAudioSent(n)
}
