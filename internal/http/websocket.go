package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"dialogflow-intent-stream/internal/models"
	"dialogflow-intent-stream/internal/service/stream"
)

// Websocket message types. Clients send start, audio as binary frames, then
// end. The server answers with started, transcript frames and one result or
// error.
const (
	MessageStart      = "start"
	MessageEnd        = "end"
	MessageStarted    = "started"
	MessageTranscript = "transcript"
	MessageResult     = "result"
	MessageError      = "error"
)

const startTimeout = 10 * time.Second

// ClientMessage is a text frame sent by a websocket client.
type ClientMessage struct {
	Type         string `json:"type"`
	SessionID    string `json:"sessionId,omitempty"`
	LanguageCode string `json:"languageCode,omitempty"`
}

// ServerMessage is a text frame sent to a websocket client.
type ServerMessage struct {
	Type        string                  `json:"type"`
	SessionID   string                  `json:"sessionId,omitempty"`
	SessionPath string                  `json:"sessionPath,omitempty"`
	Transcript  *models.TranscriptEvent `json:"transcript,omitempty"`
	Result      *DetectIntentResponse   `json:"result,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msg ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) close(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	_ = c.conn.Close()
}

// stream runs one detect-intent stream over a websocket.
func (h *handlers) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	ws := &wsConn{conn: conn}

	start, err := readStart(conn)
	if err != nil {
		_ = ws.send(ServerMessage{Type: MessageError, Error: err.Error()})
		ws.close(websocket.ClosePolicyViolation, "expected start message")
		return
	}

	req, err := h.app.Handler.Resolve(stream.Request{
		ProjectID:    chi.URLParam(r, "projectId"),
		SessionID:    start.SessionID,
		LanguageCode: start.LanguageCode,
	})
	if err != nil {
		_ = ws.send(ServerMessage{Type: MessageError, Error: err.Error()})
		ws.close(websocket.ClosePolicyViolation, truncateReason(err.Error()))
		return
	}
	req.OnTranscript = func(ev models.TranscriptEvent) {
		if err := ws.send(ServerMessage{Type: MessageTranscript, Transcript: &ev}); err != nil {
			log.Debug().Err(err).Str("sessionId", ev.SessionID).Msg("Failed to push transcript")
		}
	}

	if err := ws.send(ServerMessage{Type: MessageStarted, SessionID: req.SessionID}); err != nil {
		ws.close(websocket.CloseInternalServerErr, "")
		return
	}

	pr, pw := io.Pipe()
	go pumpAudio(conn, pw)

	out, err := h.app.Handler.Run(r.Context(), req, pr)
	// unblocks pumpAudio when the detector stopped reading early
	_ = pr.CloseWithError(io.ErrClosedPipe)

	if err != nil {
		_ = ws.send(ServerMessage{Type: MessageError, SessionID: req.SessionID, Error: err.Error()})
		ws.close(websocket.CloseInternalServerErr, truncateReason(err.Error()))
		return
	}

	resp := newDetectIntentResponse(out)
	_ = ws.send(ServerMessage{
		Type:        MessageResult,
		SessionID:   out.SessionID,
		SessionPath: out.SessionPath,
		Result:      &resp,
	})
	ws.close(websocket.CloseNormalClosure, "")
}

func readStart(conn *websocket.Conn) (*ClientMessage, error) {
	_ = conn.SetReadDeadline(time.Now().Add(startTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	mt, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read start message: %w", err)
	}
	if mt != websocket.TextMessage {
		return nil, errors.New("first message must be a text start message")
	}
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode start message: %w", err)
	}
	if msg.Type != MessageStart {
		return nil, fmt.Errorf("unexpected message type %q, want %q", msg.Type, MessageStart)
	}
	return &msg, nil
}

// pumpAudio copies binary frames into pw until the client sends end.
func pumpAudio(conn *websocket.Conn, pw *io.PipeWriter) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			_ = pw.CloseWithError(fmt.Errorf("websocket closed before end message: %w", err))
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			if _, err := pw.Write(data); err != nil {
				return
			}
		case websocket.TextMessage:
			var msg ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil || msg.Type != MessageEnd {
				_ = pw.CloseWithError(fmt.Errorf("unexpected text message %q", data))
				return
			}
			_ = pw.Close()
			return
		}
	}
}

// truncateReason keeps a close reason within the 123 bytes a control frame
// allows.
func truncateReason(s string) string {
	if len(s) > 123 {
		return s[:123]
	}
	return s
}
