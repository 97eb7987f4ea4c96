// Command detectintent streams an audio file to Dialogflow and prints the
// detected intent.
//
// Usage:
//
//	detectintent [flags] PROJECT_ID AUDIO_PATH [SESSION_ID] [LANGUAGE_CODE]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"dialogflow-intent-stream/internal/app"
	"dialogflow-intent-stream/internal/config"
	"dialogflow-intent-stream/internal/observability/logging"
	"dialogflow-intent-stream/internal/observability/metrics"
	"dialogflow-intent-stream/internal/service/intent"
	"dialogflow-intent-stream/internal/service/intent/google"
	"dialogflow-intent-stream/internal/service/stream"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "detectintent: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	projectID    string
	path         string
	sessionID    string
	languageCode string
	dryRun       bool
	dialogflow   config.DialogflowConfig
	chunkSize    int
	logLevel     string
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	o := &options{dialogflow: cfg.Dialogflow}
	o.dialogflow.Provider = "google"

	fs := flag.NewFlagSet("detectintent", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.projectID, "project", cfg.Dialogflow.ProjectID, "Dialogflow agent project ID")
	fs.StringVar(&o.path, "path", "", "Path to the audio file")
	fs.StringVar(&o.sessionID, "session", "", "Session ID (random UUID when empty)")
	fs.StringVar(&o.languageCode, "language", "", "Language code (default en-US)")
	fs.StringVar(&o.dialogflow.Provider, "provider", o.dialogflow.Provider, "Detect intent provider: google or mock")
	fs.StringVar(&o.dialogflow.AudioEncoding, "encoding", cfg.Dialogflow.AudioEncoding, "Audio encoding")
	fs.IntVar(&o.dialogflow.SampleRateHz, "rate", cfg.Dialogflow.SampleRateHz, "Sample rate in Hz")
	fs.BoolVar(&o.dialogflow.SingleUtterance, "single-utterance", cfg.Dialogflow.SingleUtterance, "Stop after the first utterance")
	fs.StringVar(&o.dialogflow.Environment, "environment", cfg.Dialogflow.Environment, "Agent environment (draft agent when empty)")
	fs.StringVar(&o.dialogflow.Endpoint, "endpoint", cfg.Dialogflow.Endpoint, "Dialogflow endpoint, e.g. europe-west1-dialogflow.googleapis.com:443")
	fs.IntVar(&o.chunkSize, "chunk", cfg.Stream.ChunkSize, "Audio bytes per request")
	fs.BoolVar(&o.dryRun, "dry-run", false, "Print the request sequence without calling Dialogflow")
	fs.StringVar(&o.logLevel, "log-level", "warn", "Log level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// PROJECT_ID AUDIO_PATH [SESSION_ID] [LANGUAGE_CODE]
	positional := []*string{&o.projectID, &o.path, &o.sessionID, &o.languageCode}
	if fs.NArg() > len(positional) {
		return nil, fmt.Errorf("too many arguments: %v", fs.Args()[len(positional):])
	}
	for i, arg := range fs.Args() {
		*positional[i] = arg
	}

	if o.projectID == "" {
		return nil, errors.New("project ID is required")
	}
	if o.path == "" {
		return nil, errors.New("audio path is required")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}

	logging.Init(logging.Config{Level: o.logLevel, Format: "console", Output: stderr})

	if o.dryRun {
		return dryRun(ctx, o, stdout)
	}

	m := metrics.NewMetrics(nil)
	detector, err := app.NewDetector(ctx, o.dialogflow, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := detector.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing detector")
		}
	}()

	h := newHandler(detector, o, m)
	req, err := h.Resolve(stream.Request{
		ProjectID:    o.projectID,
		SessionID:    o.sessionID,
		LanguageCode: o.languageCode,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Session path: %s\n", h.SessionPath(req))

	f, err := os.Open(o.path)
	if err != nil {
		return err
	}
	defer f.Close()

	out, err := h.Run(ctx, req, f)
	if err != nil {
		return err
	}

	res := out.Result
	fmt.Fprintln(stdout, strings.Repeat("=", 20))
	fmt.Fprintf(stdout, "Query text: %s\n", res.QueryText)
	fmt.Fprintf(stdout, "Detected intent: %s (confidence: %f)\n", res.Intent, res.IntentDetectionConfidence)
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "Fulfilment text: %s\n", res.FulfillmentText)
	return nil
}

func newHandler(detector intent.Detector, o *options, m *metrics.Metrics) *stream.Handler {
	return stream.NewHandler(detector, stream.Options{
		Audio:       audioConfig(o),
		ChunkSize:   o.chunkSize,
		Metrics:     m,
		Environment: o.dialogflow.Environment,
		UserID:      o.dialogflow.UserID,
	})
}

func audioConfig(o *options) intent.AudioConfig {
	return intent.AudioConfig{
		Encoding:        o.dialogflow.AudioEncoding,
		SampleRateHz:    o.dialogflow.SampleRateHz,
		LanguageCode:    o.languageCode,
		SingleUtterance: o.dialogflow.SingleUtterance,
	}
}

// dryRun prints the request sequence that would be streamed.
func dryRun(ctx context.Context, o *options, stdout io.Writer) error {
	// only Resolve and SessionPath are used
	h := newHandler(nil, o, metrics.NewMetrics(nil))
	req, err := h.Resolve(stream.Request{
		ProjectID:    o.projectID,
		SessionID:    o.sessionID,
		LanguageCode: o.languageCode,
	})
	if err != nil {
		return err
	}
	path := h.SessionPath(req)
	fmt.Fprintf(stdout, "Session path: %s\n", path)

	f, err := os.Open(o.path)
	if err != nil {
		return err
	}
	defer f.Close()

	audioCfg := audioConfig(o)
	audioCfg.LanguageCode = req.LanguageCode
	requests, err := google.BuildRequests(ctx, intent.Request{
		SessionPath: path,
		Audio:       audioCfg,
		ChunkSize:   o.chunkSize,
	}, f)
	if err != nil {
		return err
	}

	cfg := requests[0].GetQueryInput().GetAudioConfig()
	fmt.Fprintf(stdout, "Request 0: config encoding=%s sampleRateHertz=%d languageCode=%s singleUtterance=%t\n",
		cfg.GetAudioEncoding(), cfg.GetSampleRateHertz(), cfg.GetLanguageCode(), cfg.GetSingleUtterance())

	var total int
	for i, req := range requests[1:] {
		n := len(req.GetInputAudio())
		total += n
		fmt.Fprintf(stdout, "Request %d: audio %d bytes\n", i+1, n)
	}
	fmt.Fprintf(stdout, "Total: %d audio requests, %d bytes\n", len(requests)-1, total)
	return nil
}
