package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"dialogflow-intent-stream/internal/app"
	"dialogflow-intent-stream/internal/observability/logging"
	"dialogflow-intent-stream/internal/service/intent/google"
	"dialogflow-intent-stream/internal/service/stream"
)

type handlers struct {
	app *app.Application
}

// DetectIntentResponse is the JSON body of a successful detect-intent call.
type DetectIntentResponse struct {
	SessionID                 string         `json:"sessionId"`
	SessionPath               string         `json:"sessionPath"`
	ResponseID                string         `json:"responseId,omitempty"`
	QueryText                 string         `json:"queryText"`
	LanguageCode              string         `json:"languageCode"`
	Intent                    string         `json:"intent"`
	IntentDetectionConfidence float64        `json:"intentDetectionConfidence"`
	SpeechConfidence          float64        `json:"speechRecognitionConfidence,omitempty"`
	FulfillmentText           string         `json:"fulfillmentText,omitempty"`
	Parameters                map[string]any `json:"parameters,omitempty"`
	AudioBytes                int64          `json:"audioBytes"`
	DurationMs                int64          `json:"durationMs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newDetectIntentResponse(out *stream.Outcome) DetectIntentResponse {
	res := out.Result
	return DetectIntentResponse{
		SessionID:                 out.SessionID,
		SessionPath:               out.SessionPath,
		ResponseID:                res.ResponseID,
		QueryText:                 res.QueryText,
		LanguageCode:              res.LanguageCode,
		Intent:                    res.Intent,
		IntentDetectionConfidence: res.IntentDetectionConfidence,
		SpeechConfidence:          res.SpeechConfidence,
		FulfillmentText:           res.FulfillmentText,
		Parameters:                res.Parameters,
		AudioBytes:                out.AudioBytes,
		DurationMs:                out.Duration.Milliseconds(),
	}
}

func (h *handlers) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.app.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service is not ready"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// detectIntent streams the request body as audio and responds with the
// query result.
func (h *handlers) detectIntent(w http.ResponseWriter, r *http.Request) {
	req, err := h.app.Handler.Resolve(stream.Request{
		ProjectID:    chi.URLParam(r, "projectId"),
		SessionID:    r.URL.Query().Get("sessionId"),
		LanguageCode: r.URL.Query().Get("languageCode"),
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	l := logging.WithSession(req.ProjectID, req.SessionID)

	out, err := h.app.Handler.Run(r.Context(), req, r.Body)
	if err != nil {
		code := httpStatus(err)
		l.Warn().
			Err(err).
			Str("requestId", middleware.GetReqID(r.Context())).
			Int("status", code).
			Msg("Detect intent failed")
		writeJSON(w, code, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, newDetectIntentResponse(out))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

// httpStatus maps a stream error to an HTTP status code.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, stream.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, stream.ErrAudioTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, stream.ErrStreamTooLong):
		return http.StatusRequestTimeout
	case errors.Is(err, google.ErrNoQueryResult):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return 499 // client closed request
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	st, ok := status.FromError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch st.Code() {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Canceled:
		return 499
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
