package mock

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"dialogflow-intent-stream/internal/service/intent"
	"dialogflow-intent-stream/internal/service/session"
)

var errUtteranceEnded = errors.New("utterance ended")

func newResponseID(sessionPath string, chunks int) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionPath))
	return fmt.Sprintf("mock-%08x-%d", h.Sum32(), chunks)
}

// languageOf mirrors the lower-cased language code Dialogflow echoes back.
func languageOf(req intent.Request) string {
	return strings.ToLower(session.LanguageOrDefault(req.Audio.LanguageCode))
}
