package room

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/devsync-io/devsync/internal/auth"
	apperrors "github.com/devsync-io/devsync/internal/errors"
	"github.com/devsync-io/devsync/internal/metrics"
	"github.com/devsync-io/devsync/internal/models"
	"github.com/devsync-io/devsync/internal/project"
	"github.com/devsync-io/devsync/internal/sandbox"
	"github.com/devsync-io/devsync/internal/store"
)

// Agent is the opaque producer of assistant messages. The engine sends it a
// prompt and receives a structured payload; how it reasons is not this
// system's concern.
type Agent interface {
	Generate(ctx context.Context, projectID, prompt string) (models.AgentPayload, error)
}

// agentMention marks a chat message as addressed to the assistant.
const agentMention = "@ai"

const agentTimeout = 2 * time.Minute

// Server handles streaming connections: it gates the handshake, checks
// project membership, admits the connection to its room and routes inbound
// events.
type Server struct {
	gate       *auth.Gate
	store      *store.Store
	projects   *project.Service
	hub        *Hub
	agent      Agent // nil when no assistant is configured
	metrics    *metrics.Metrics
	sandboxCfg sandbox.Config
	logger     zerolog.Logger
	upgrader   websocket.Upgrader
}

// NewServer creates the streaming connection handler.
func NewServer(
	gate *auth.Gate,
	st *store.Store,
	projects *project.Service,
	hub *Hub,
	agent Agent,
	m *metrics.Metrics,
	sandboxCfg sandbox.Config,
	logger zerolog.Logger,
) *Server {
	return &Server{
		gate:       gate,
		store:      st,
		projects:   projects,
		hub:        hub,
		agent:      agent,
		metrics:    m,
		sandboxCfg: sandboxCfg,
		logger:     logger.With().Str("component", "room").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Credential checks gate admission; origin policy is the
				// reverse proxy's concern.
				return true
			},
		},
	}
}

// HandleWS serves GET /ws/:projectId. The session gate applies to the
// handshake exactly as it does to one-shot requests: no connection joins a
// room without a valid, unrevoked credential and project membership.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	raw := auth.TokenFromHTTPRequest(r)
	identity, err := s.gate.Verify(r.Context(), raw)
	if err != nil {
		ae := auth.AsError(err)
		if s.metrics != nil {
			s.metrics.RecordAuthFailure(ae.Code())
		}
		writeJSONError(w, ae.HTTPStatus(), ae.Message(), ae.Code())
		return
	}

	projectID := strings.TrimPrefix(r.URL.Path, "/ws/")
	if projectID == "" || strings.Contains(projectID, "/") {
		writeJSONError(w, http.StatusBadRequest, "Project id is required", "VALIDATION_ERROR")
		return
	}

	p, err := s.store.GetProject(projectID)
	if err != nil {
		s.logger.Error().Err(err).Str("project_id", projectID).Msg("project lookup failed")
		writeJSONError(w, http.StatusInternalServerError, "Internal error", "INTERNAL_ERROR")
		return
	}
	if p == nil {
		writeJSONError(w, http.StatusNotFound, "Project not found", "PROJECT_NOT_FOUND")
		return
	}

	member, err := s.store.IsMember(projectID, identity.UserID)
	if err != nil {
		s.logger.Error().Err(err).Str("project_id", projectID).Msg("membership check failed")
		writeJSONError(w, http.StatusInternalServerError, "Internal error", "INTERNAL_ERROR")
		return
	}
	if !member {
		writeJSONError(w, http.StatusForbidden, "Not a member of this project", "NOT_A_MEMBER")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Identity:  identity,
		hub:       s.hub,
		server:    s,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		logger: s.logger.With().
			Str("project_id", projectID).
			Str("user_id", identity.UserID).
			Logger(),
	}
	client.sandbox = sandbox.New(
		s.sandboxCfg,
		s.metrics,
		client.logger,
		func(runID, line string) {
			client.SendEvent(Event{Name: EventRunLog, Data: RunLogPayload{RunID: runID, Line: line}})
		},
		func(sess sandbox.RunSession) { s.notifyRunStatus(client, sess) },
	)

	s.hub.Join(client)
	go client.writePump()
	go client.readPump()
}

// handleInbound routes one frame from a connected client.
func (s *Server) handleInbound(c *Client, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.SendEvent(Event{Name: EventError, Data: ErrorPayload{Message: "invalid frame", Code: "VALIDATION_ERROR"}})
		return
	}

	switch frame.Event {
	case EventProjectMessage:
		s.handleChat(c, frame.Data)
	case "run":
		s.handleRun(c)
	default:
		c.SendEvent(Event{Name: EventError, Data: ErrorPayload{Message: "unknown event " + frame.Event, Code: "VALIDATION_ERROR"}})
	}
}

// handleChat broadcasts a human message to everyone else in the room. The
// sender reflects its own message locally on send; the bus never echoes it
// back.
func (s *Server) handleChat(c *Client, data json.RawMessage) {
	var chat inboundChat
	if err := json.Unmarshal(data, &chat); err != nil || chat.Message == "" {
		c.SendEvent(Event{Name: EventError, Data: ErrorPayload{Message: "message is required", Code: "VALIDATION_ERROR"}})
		return
	}

	s.hub.Broadcast(c.ProjectID, c, Event{
		Name: EventProjectMessage,
		Data: ChatPayload{
			Sender:  models.HumanSender(c.Identity),
			Message: chat.Message,
			SentAt:  time.Now(),
		},
	})

	if s.agent != nil && strings.Contains(strings.ToLower(chat.Message), agentMention) {
		go s.runAgent(c, chat.Message)
	}
}

// runAgent asks the assistant for a response and routes the result: the
// file tree payload (if any) goes through the file tree store first, and
// the message is broadcast only after that write commits. A failed persist
// is reported to the requester alone, never announced to the room.
func (s *Server) runAgent(c *Client, prompt string) {
	ctx, cancel := context.WithTimeout(context.Background(), agentTimeout)
	defer cancel()

	payload, err := s.agent.Generate(ctx, c.ProjectID, prompt)
	if err != nil {
		s.logger.Warn().Err(err).Str("project_id", c.ProjectID).Msg("agent generation failed")
		c.SendEvent(Event{Name: EventError, Data: ErrorPayload{Message: "assistant unavailable", Code: "AGENT_ERROR"}})
		return
	}

	if payload.FileTree != nil {
		if _, err := s.projects.ReplaceAll(ctx, c.ProjectID, payload.FileTree); err != nil {
			s.logger.Error().Err(err).Str("project_id", c.ProjectID).Msg("agent file tree write failed")
			code := "PERSISTENCE_ERROR"
			if apperrors.IsValidation(err) {
				code = "VALIDATION_ERROR"
			}
			c.SendEvent(Event{Name: EventError, Data: ErrorPayload{Message: "failed to apply assistant changes", Code: code}})
			return
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode agent payload")
		return
	}

	// nil origin: the assistant's reply reaches every member, including
	// the requester.
	s.hub.Broadcast(c.ProjectID, nil, Event{
		Name: EventProjectMessage,
		Data: ChatPayload{
			Sender:  models.AgentSender(),
			Message: string(body),
			SentAt:  time.Now(),
		},
	})
}

// handleRun starts (or supersedes) this client's sandbox with the
// project's current tree. Failures are private to the owning client.
func (s *Server) handleRun(c *Client) {
	p, err := s.projects.Get(context.Background(), c.ProjectID)
	if err != nil {
		c.SendEvent(Event{Name: EventRunError, Data: ErrorPayload{Message: "failed to load project", Code: "PERSISTENCE_ERROR"}})
		return
	}

	go func() {
		if _, err := c.sandbox.Run(c.ProjectID, p.FileTree); err != nil {
			c.SendEvent(Event{Name: EventRunError, Data: ErrorPayload{Message: err.Error(), Code: "SANDBOX_ERROR"}})
		}
	}()
}

// notifyRunStatus translates sandbox transitions into events for the
// owning client only.
func (s *Server) notifyRunStatus(c *Client, sess sandbox.RunSession) {
	c.SendEvent(Event{Name: EventRunStatus, Data: sess})
	switch sess.Status {
	case sandbox.StatusReady:
		c.SendEvent(Event{Name: EventRunReady, Data: sess})
	case sandbox.StatusCrashed:
		c.SendEvent(Event{Name: EventRunError, Data: ErrorPayload{Message: sess.Error, Code: "SANDBOX_ERROR"}})
	}
}

func writeJSONError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
