// Package session provides detect-intent session ids, session paths and the
// lifecycle of a single streaming request.
package session

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultLanguageCode is used when a caller does not provide one.
const DefaultLanguageCode = "en-US"

// Generator produces session ids. Ids are random UUIDv4 strings.
type Generator struct {
	newID func() string
}

func New() *Generator {
	return &Generator{newID: uuid.NewString}
}

// NewWithFunc creates a generator that takes ids from newID.
func NewWithFunc(newID func() string) *Generator {
	return &Generator{newID: newID}
}

// Next returns a fresh session id.
func (g *Generator) Next() string {
	return g.newID()
}

// Resolve returns sessionId, or a fresh id when it is empty.
// Reusing a session id continues the same conversation.
func (g *Generator) Resolve(sessionId string) string {
	if sessionId != "" {
		return sessionId
	}
	return g.Next()
}

// LanguageOrDefault returns code, or DefaultLanguageCode when it is empty.
func LanguageOrDefault(code string) string {
	if code == "" {
		return DefaultLanguageCode
	}
	return code
}

// Path returns the session resource name for the project's default agent.
func Path(projectId, sessionId string) string {
	return fmt.Sprintf("projects/%s/agent/sessions/%s", projectId, sessionId)
}

// EnvironmentPath returns the session resource name for an agent environment
// and user. An empty user id addresses the default user "-".
func EnvironmentPath(projectId, environmentId, userId, sessionId string) string {
	if userId == "" {
		userId = "-"
	}
	return fmt.Sprintf("projects/%s/agent/environments/%s/users/%s/sessions/%s",
		projectId, environmentId, userId, sessionId)
}

// ParsePath extracts the project and session ids from a session resource name
// in either the default or the environment form.
func ParsePath(path string) (projectId, sessionId string, err error) {
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 5 &&
		parts[0] == "projects" && parts[2] == "agent" && parts[3] == "sessions":
		projectId, sessionId = parts[1], parts[4]
	case len(parts) == 9 &&
		parts[0] == "projects" && parts[2] == "agent" && parts[3] == "environments" &&
		parts[5] == "users" && parts[7] == "sessions":
		projectId, sessionId = parts[1], parts[8]
	default:
		return "", "", fmt.Errorf("invalid session path %q", path)
	}
	if projectId == "" || sessionId == "" {
		return "", "", fmt.Errorf("invalid session path %q", path)
	}
	return projectId, sessionId, nil
}
