package mock

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"dialogflow-intent-stream/internal/service/intent"
)

// testCallback implements intent.Callback for testing
type testCallback struct {
	mu         sync.Mutex
	interim    []string
	finals     []string
	utterances int
	audioBytes int
}

func (c *testCallback) OnTranscript(text string, isFinal bool, _ float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if isFinal {
		c.finals = append(c.finals, text)
		return
	}
	c.interim = append(c.interim, text)
}

func (c *testCallback) OnEndOfUtterance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.utterances++
}

func (c *testCallback) OnAudioSent(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioBytes += n
}

var testUtterance = SimulatedUtterance{
	Partials:        []string{"turn", "turn on"},
	Final:           "turn on the lights",
	Confidence:      0.9,
	Intent:          "lights.on",
	IntentScore:     0.8,
	FulfillmentText: "Done.",
	Parameters:      map[string]any{"room": "kitchen"},
}

func request(chunkSize int, single bool) intent.Request {
	audio := intent.DefaultAudioConfig()
	audio.SingleUtterance = single
	return intent.Request{
		SessionPath: "projects/p/agent/sessions/s",
		Audio:       audio,
		ChunkSize:   chunkSize,
	}
}

func TestDetector_Name(t *testing.T) {
	if got := New().Name(); got != "mock" {
		t.Errorf("expected name 'mock', got %s", got)
	}
}

func TestDetectStream_FullStream(t *testing.T) {
	d := New(WithUtterances(testUtterance))
	cb := &testCallback{}

	res, err := d.DetectStream(context.Background(), request(4, false), bytes.NewReader(make([]byte, 13)), cb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.QueryText != "turn on the lights" {
		t.Errorf("unexpected query text %q", res.QueryText)
	}
	if res.Intent != "lights.on" || res.IntentDetectionConfidence != 0.8 {
		t.Errorf("unexpected intent %q (%f)", res.Intent, res.IntentDetectionConfidence)
	}
	if res.LanguageCode != "en-us" {
		t.Errorf("expected language en-us, got %s", res.LanguageCode)
	}
	if res.Parameters["room"] != "kitchen" {
		t.Errorf("unexpected parameters %v", res.Parameters)
	}
	if len(cb.interim) != 2 {
		t.Errorf("expected 2 interim transcripts, got %v", cb.interim)
	}
	if len(cb.finals) != 1 {
		t.Errorf("expected exactly 1 final transcript, got %v", cb.finals)
	}
	if cb.utterances != 0 {
		t.Errorf("expected no end of utterance without single utterance mode, got %d", cb.utterances)
	}
	if cb.audioBytes != 13 {
		t.Errorf("expected 13 audio bytes, got %d", cb.audioBytes)
	}
}

func TestDetectStream_SingleUtteranceStopsReading(t *testing.T) {
	d := New(WithUtterances(testUtterance))
	cb := &testCallback{}
	r := bytes.NewReader(make([]byte, 40))

	res, err := d.DetectStream(context.Background(), request(4, true), r, cb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cb.utterances != 1 {
		t.Errorf("expected 1 end of utterance, got %d", cb.utterances)
	}
	if len(cb.finals) != 1 {
		t.Errorf("expected exactly 1 final transcript, got %v", cb.finals)
	}
	if cb.audioBytes != 8 {
		t.Errorf("expected 8 audio bytes before the utterance ended, got %d", cb.audioBytes)
	}
	if r.Len() == 0 {
		t.Error("expected unread audio after the utterance ended")
	}
	if res.Intent != "lights.on" {
		t.Errorf("unexpected intent %q", res.Intent)
	}
}

func TestDetectStream_EmptyAudio(t *testing.T) {
	d := New(WithUtterances(testUtterance))
	cb := &testCallback{}

	res, err := d.DetectStream(context.Background(), request(0, false), bytes.NewReader(nil), cb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Intent != "" || res.QueryText != "" {
		t.Errorf("expected empty result, got %+v", res)
	}
	if len(cb.finals) != 0 {
		t.Errorf("expected no transcripts, got %v", cb.finals)
	}
}

func TestDetectStream_CyclesThroughUtterances(t *testing.T) {
	second := testUtterance
	second.Intent = "lights.off"
	d := New(WithUtterances(testUtterance, second))

	var got []string
	for i := 0; i < 3; i++ {
		res, err := d.DetectStream(context.Background(), request(0, false), bytes.NewReader([]byte{1}), nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, res.Intent)
	}

	want := []string{"lights.on", "lights.off", "lights.on"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stream %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestDetectStream_ParametersAreCopied(t *testing.T) {
	d := New(WithUtterances(testUtterance))

	res, err := d.DetectStream(context.Background(), request(0, false), bytes.NewReader([]byte{1}), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res.Parameters["room"] = "garage"

	if testUtterance.Parameters["room"] != "kitchen" {
		t.Error("expected result parameters to be a copy")
	}
}

func TestDetectStream_ContextCanceled(t *testing.T) {
	d := New(WithLatency(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := d.DetectStream(ctx, request(0, false), bytes.NewReader(make([]byte, 10)), nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestDetectStream_ReadError(t *testing.T) {
	boom := errors.New("boom")
	d := New()

	_, err := d.DetectStream(context.Background(), request(0, false), io.MultiReader(bytes.NewReader([]byte{1}), errReader{boom}), nil)
	if !errors.Is(err, boom) {
		t.Errorf("expected read error, got %v", err)
	}
}

func TestDetector_Close(t *testing.T) {
	d := New()
	if err := d.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := d.DetectStream(context.Background(), request(0, false), bytes.NewReader([]byte{1}), nil)
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("expected io.ErrClosedPipe after close, got %v", err)
	}
}

func TestDefaultUtterances(t *testing.T) {
	for i, utt := range DefaultUtterances {
		if len(utt.Partials) == 0 {
			t.Errorf("utterance %d has no partials", i)
		}
		if utt.Final == "" || utt.Intent == "" {
			t.Errorf("utterance %d has empty final or intent", i)
		}
		if utt.Confidence <= 0 || utt.Confidence > 1 {
			t.Errorf("utterance %d has invalid confidence %f", i, utt.Confidence)
		}
		if utt.IntentScore <= 0 || utt.IntentScore > 1 {
			t.Errorf("utterance %d has invalid intent score %f", i, utt.IntentScore)
		}
	}
}

func TestDetector_ConcurrentStreams(t *testing.T) {
	d := New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.DetectStream(context.Background(), request(0, false), bytes.NewReader(make([]byte, 5000)), &testCallback{}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
