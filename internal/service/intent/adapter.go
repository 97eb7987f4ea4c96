// Package intent defines the interface for streaming detect-intent providers.
package intent

import (
	"context"
	"io"
)

// AudioConfig describes the audio carried by a stream.
type AudioConfig struct {
	Encoding        string // LINEAR16, FLAC, MULAW, AMR, AMR_WB, OGG_OPUS, SPEEX_WITH_HEADER_BYTE
	SampleRateHz    int
	LanguageCode    string
	SingleUtterance bool
}

// DefaultAudioConfig returns LINEAR16 at 16 kHz in en-US.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		Encoding:     "LINEAR16",
		SampleRateHz: 16000,
		LanguageCode: "en-US",
	}
}

// Request identifies the session a stream belongs to.
type Request struct {
	SessionPath string
	Audio       AudioConfig
	ChunkSize   int
}

// Result is the query result that ends a stream.
type Result struct {
	ResponseID                string
	QueryText                 string
	LanguageCode              string
	Intent                    string
	IntentDetectionConfidence float64
	SpeechConfidence          float64
	FulfillmentText           string
	Parameters                map[string]any
}

// Callback receives recognition progress while a stream is running.
// OnAudioSent runs on the sending goroutine, the others on the receiving one.
type Callback interface {
	// OnTranscript is called for every recognition result.
	OnTranscript(text string, isFinal bool, confidence float64)

	// OnEndOfUtterance is called when the provider detects the end of speech.
	OnEndOfUtterance()

	// OnAudioSent is called after each audio chunk is handed to the provider.
	OnAudioSent(n int)
}

// Detector defines the interface for detect-intent providers.
type Detector interface {
	// DetectStream sends the config request, then audio read from r in
	// chunks, and returns the query result. cb may be nil. r is not read
	// after DetectStream returns; a provider that stops before r is drained
	// closes r when it is an io.Closer.
	DetectStream(ctx context.Context, req Request, r io.Reader, cb Callback) (*Result, error)

	// Name identifies the provider in logs and metrics.
	Name() string

	// Close releases the provider's resources.
	Close() error
}

// NopCallback ignores every notification.
type NopCallback struct{}

func (NopCallback) OnTranscript(string, bool, float64) {}
func (NopCallback) OnEndOfUtterance()                  {}
func (NopCallback) OnAudioSent(int)                    {}
