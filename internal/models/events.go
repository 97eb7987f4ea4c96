// Package models defines the data structures for detect-intent events.
package models

const (
	EventTypeTranscript = "dialogflow.transcript"
	EventTypeIntent     = "dialogflow.intent.detected"
)

// TranscriptEvent carries one speech recognition result from a stream.
type TranscriptEvent struct {
	EventType   string  `json:"eventType" validate:"required,eq=dialogflow.transcript"`
	ProjectID   string  `json:"projectId" validate:"required"`
	SessionID   string  `json:"sessionId" validate:"required"`
	Timestamp   int64   `json:"timestamp" validate:"gt=0"`
	Text        string  `json:"text"`
	IsFinal     bool    `json:"isFinal"`
	Confidence  float64 `json:"confidence,omitempty" validate:"gte=0,lte=1"`
	AudioOffset int64   `json:"audioOffsetBytes" validate:"gte=0"`
}

// IntentEvent carries the query result that ends a stream.
type IntentEvent struct {
	EventType                 string         `json:"eventType" validate:"required,eq=dialogflow.intent.detected"`
	ProjectID                 string         `json:"projectId" validate:"required"`
	SessionID                 string         `json:"sessionId" validate:"required"`
	SessionPath               string         `json:"sessionPath" validate:"required"`
	Timestamp                 int64          `json:"timestamp" validate:"gt=0"`
	ResponseID                string         `json:"responseId,omitempty"`
	QueryText                 string         `json:"queryText"`
	LanguageCode              string         `json:"languageCode"`
	Intent                    string         `json:"intent"`
	IntentDetectionConfidence float64        `json:"intentDetectionConfidence" validate:"gte=0,lte=1"`
	SpeechConfidence          float64        `json:"speechRecognitionConfidence,omitempty" validate:"gte=0,lte=1"`
	FulfillmentText           string         `json:"fulfillmentText,omitempty"`
	Parameters                map[string]any `json:"parameters,omitempty"`
	AudioBytes                int64          `json:"audioBytes" validate:"gte=0"`
}
