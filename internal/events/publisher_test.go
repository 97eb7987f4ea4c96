package events

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"dialogflow-intent-stream/internal/models"
	"dialogflow-intent-stream/internal/observability/metrics"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerTranscript != nil {
				t.Error("expected nil transcript writer when disabled")
			}
			if p.writerIntent != nil {
				t.Error("expected nil intent writer when disabled")
			}
		})
	}
}

func TestNew_EnabledCreatesWriters(t *testing.T) {
	p := New(&Config{
		Enabled:         true,
		Brokers:         []string{"localhost:9092"},
		TopicTranscript: "test.transcript",
		TopicIntent:     "test.intent",
		Metrics:         metrics.NewMetrics(nil),
	})

	if !p.enabled {
		t.Fatal("expected publisher to be enabled")
	}
	if p.writerTranscript == nil || p.writerTranscript.Topic != "test.transcript" {
		t.Errorf("unexpected transcript writer: %+v", p.writerTranscript)
	}
	if p.writerIntent == nil || p.writerIntent.Topic != "test.intent" {
		t.Errorf("unexpected intent writer: %+v", p.writerIntent)
	}
	if err := p.Close(); err != nil {
		t.Errorf("expected clean close of unused writers, got %v", err)
	}
}

func TestNew_ConfigValues(t *testing.T) {
	p := New(&Config{
		Enabled:         false,
		Brokers:         []string{"localhost:9092"},
		TopicTranscript: "test.transcript",
		TopicIntent:     "test.intent",
		Principal:       "test-principal",
	})

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicTranscript != "test.transcript" {
		t.Errorf("expected topic 'test.transcript', got %s", p.topicTranscript)
	}
	if p.topicIntent != "test.intent" {
		t.Errorf("expected topic 'test.intent', got %s", p.topicIntent)
	}
}

func TestPublisher_Disabled_RecordsMetrics(t *testing.T) {
	m := metrics.NewMetrics(nil)
	p := New(&Config{TopicTranscript: "t.transcript", TopicIntent: "t.intent", Metrics: m})
	ctx := context.Background()

	ev := models.TranscriptEvent{EventType: models.EventTypeTranscript, Text: "hello"}
	if err := p.PublishTranscript(ctx, "projects/p/agent/sessions/s", ev); err != nil {
		t.Fatalf("expected no error when disabled, got %v", err)
	}
	if err := p.PublishIntent(ctx, "projects/p/agent/sessions/s", models.IntentEvent{Intent: "greet"}); err != nil {
		t.Fatalf("expected no error when disabled, got %v", err)
	}

	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("t.transcript", "transcript")); got != 1 {
		t.Errorf("expected 1 transcript publish recorded, got %v", got)
	}
	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("t.intent", "intent")); got != 1 {
		t.Errorf("expected 1 intent publish recorded, got %v", got)
	}
}

func TestPublisher_InvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false, Metrics: metrics.NewMetrics(nil)})

	// channels cannot be marshalled
	if err := p.PublishTranscript(context.Background(), "k", make(chan int)); err == nil {
		t.Error("expected error for unmarshalable transcript event")
	}
	if err := p.PublishIntent(context.Background(), "k", make(chan int)); err == nil {
		t.Error("expected error for unmarshalable intent event")
	}
}

func TestPublisher_Close_NilWriters(t *testing.T) {
	p := &Publisher{}

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing publisher with nil writers, got %v", err)
	}
}
