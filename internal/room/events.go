package room

import (
	"encoding/json"
	"time"

	"github.com/devsync-io/devsync/internal/models"
)

// Event names on the streaming channel. Chat traffic uses the single
// project-message event; run-* events are private to the sandbox owner.
const (
	EventProjectMessage = "project-message"
	EventRunStatus      = "run-status"
	EventRunLog         = "run-log"
	EventRunReady       = "run-ready"
	EventRunError       = "run-error"
	EventError          = "error"
)

// Event is one frame on the streaming channel.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// ChatPayload is the data of a project-message event.
type ChatPayload struct {
	Sender  models.Sender `json:"sender"`
	Message string        `json:"message"`
	SentAt  time.Time     `json:"sentAt"`
}

// RunLogPayload is one line of sandbox process output.
type RunLogPayload struct {
	RunID string `json:"runId"`
	Line  string `json:"line"`
}

// ErrorPayload reports a failure to a single client.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type inboundChat struct {
	Message string `json:"message"`
}
