// Package mock provides a mock detect-intent provider for running without
// cloud credentials. Each stream plays one simulated utterance: one interim
// transcript per audio chunk, a final transcript once the audio ends, and a
// matched intent.
package mock

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"dialogflow-intent-stream/internal/audio"
	"dialogflow-intent-stream/internal/service/intent"
)

// SimulatedUtterance represents a mock utterance and the intent it matches.
type SimulatedUtterance struct {
	Partials        []string // Progressive interim transcripts
	Final           string   // Final transcript and query text
	Confidence      float64  // Speech recognition confidence
	Intent          string
	IntentScore     float64
	FulfillmentText string
	Parameters      map[string]any
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:        []string{"I want", "I want to book", "I want to book a table"},
		Final:           "I want to book a table for two",
		Confidence:      0.94,
		Intent:          "restaurant.book",
		IntentScore:     0.88,
		FulfillmentText: "For what time should I book the table?",
		Parameters:      map[string]any{"guests": 2.0},
	},
	{
		Partials:        []string{"What's", "What's the weather"},
		Final:           "What's the weather like today",
		Confidence:      0.97,
		Intent:          "weather.current",
		IntentScore:     0.92,
		FulfillmentText: "It looks sunny today.",
		Parameters:      map[string]any{"date": "today"},
	},
	{
		Partials:        []string{"Cancel", "Cancel my"},
		Final:           "Cancel my subscription",
		Confidence:      0.91,
		Intent:          "subscription.cancel",
		IntentScore:     0.81,
		FulfillmentText: "Are you sure you want to cancel?",
	},
	{
		Partials:        []string{"Hello"},
		Final:           "Hello there",
		Confidence:      0.98,
		Intent:          "Default Welcome Intent",
		IntentScore:     1,
		FulfillmentText: "Hi! How can I help?",
	},
}

// Detector implements intent.Detector with canned responses.
type Detector struct {
	utterances []SimulatedUtterance
	latency    time.Duration

	mu     sync.Mutex
	next   int
	closed bool
}

// Option configures a mock Detector.
type Option func(*Detector)

// WithUtterances replaces the utterances the detector cycles through.
func WithUtterances(u ...SimulatedUtterance) Option {
	return func(d *Detector) {
		if len(u) > 0 {
			d.utterances = u
		}
	}
}

// WithLatency delays every simulated response.
func WithLatency(l time.Duration) Option {
	return func(d *Detector) { d.latency = l }
}

// New creates a new mock detector.
func New(opts ...Option) *Detector {
	d := &Detector{utterances: DefaultUtterances}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Name returns the provider name.
func (d *Detector) Name() string {
	return "mock"
}

// Close marks the detector closed. Later streams fail with io.ErrClosedPipe.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Detector) pick() (SimulatedUtterance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return SimulatedUtterance{}, io.ErrClosedPipe
	}
	utt := d.utterances[d.next%len(d.utterances)]
	d.next++
	return utt, nil
}

// DetectStream consumes r and plays back the next simulated utterance.
// With SingleUtterance set, reading stops once the partials are exhausted.
// A stream without audio returns an empty result with no intent.
func (d *Detector) DetectStream(ctx context.Context, req intent.Request, r io.Reader, cb intent.Callback) (*intent.Result, error) {
	if cb == nil {
		cb = intent.NopCallback{}
	}
	utt, err := d.pick()
	if err != nil {
		return nil, err
	}

	size := req.ChunkSize
	if size <= 0 {
		size = audio.DefaultChunkSize
	}

	chunks := 0
	ended := false
	err = audio.ReadChunks(ctx, r, size, func(chunk []byte) error {
		if ended {
			return errUtteranceEnded
		}
		cb.OnAudioSent(len(chunk))
		if err := d.wait(ctx); err != nil {
			return err
		}
		if chunks < len(utt.Partials) {
			cb.OnTranscript(utt.Partials[chunks], false, 0)
		}
		chunks++
		if req.Audio.SingleUtterance && chunks >= len(utt.Partials) {
			ended = true
			cb.OnTranscript(utt.Final, true, utt.Confidence)
			cb.OnEndOfUtterance()
		}
		return nil
	})
	if err != nil && !errors.Is(err, errUtteranceEnded) {
		return nil, err
	}

	res := &intent.Result{
		ResponseID:   newResponseID(req.SessionPath, chunks),
		LanguageCode: languageOf(req),
	}
	if chunks == 0 {
		return res, nil
	}
	if !ended {
		if err := d.wait(ctx); err != nil {
			return nil, err
		}
		cb.OnTranscript(utt.Final, true, utt.Confidence)
	}

	res.QueryText = utt.Final
	res.Intent = utt.Intent
	res.IntentDetectionConfidence = utt.IntentScore
	res.SpeechConfidence = utt.Confidence
	res.FulfillmentText = utt.FulfillmentText
	if len(utt.Parameters) > 0 {
		res.Parameters = make(map[string]any, len(utt.Parameters))
		for k, v := range utt.Parameters {
			res.Parameters[k] = v
		}
	}
	return res, nil
}

func (d *Detector) wait(ctx context.Context) error {
	if d.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
