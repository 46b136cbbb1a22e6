// Package models holds the shared data model of the workspace engine:
// identities, message senders, chat messages and the project file tree.
package models

import (
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/devsync-io/devsync/internal/errors"
)

// Identity is the authenticated principal of a connection. Produced once by
// the session gate and immutable for the connection's lifetime.
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
}

// SenderKind discriminates the sender variant of a message.
type SenderKind string

const (
	SenderHuman  SenderKind = "human"
	SenderAgent  SenderKind = "agent"
	SenderSystem SenderKind = "system"
)

// Sender is a tagged variant: a human carries an identity, the agent and
// system tags do not. This replaces the magic-string identity check the
// message payloads used before.
type Sender struct {
	Kind     SenderKind `json:"kind"`
	Identity *Identity  `json:"identity,omitempty"`
}

// HumanSender tags a message as sent by the given identity.
func HumanSender(id Identity) Sender {
	return Sender{Kind: SenderHuman, Identity: &id}
}

// AgentSender tags a message as produced by the assistant.
func AgentSender() Sender {
	return Sender{Kind: SenderAgent}
}

// SystemSender tags a message as produced by the engine itself.
func SystemSender() Sender {
	return Sender{Kind: SenderSystem}
}

// IsAgent reports whether the sender is the assistant.
func (s Sender) IsAgent() bool { return s.Kind == SenderAgent }

// MessageKind classifies message bodies: human bodies are free text, agent
// bodies are JSON-encoded structured payloads.
type MessageKind string

const (
	MessageHuman MessageKind = "human"
	MessageAgent MessageKind = "agent"
)

// Message is a chat transcript entry. Immutable once created; ordering is
// arrival order at the bus, not a global causal order.
type Message struct {
	Sender Sender      `json:"sender"`
	Kind   MessageKind `json:"kind"`
	Body   string      `json:"message"`
	SentAt time.Time   `json:"sentAt"`
}

// FileBody holds the contents of a single file.
type FileBody struct {
	Contents string `json:"contents"`
}

// FileEntry is one node of the file tree. The nesting matches the wire
// shape {"a.js": {"file": {"contents": "..."}}}.
type FileEntry struct {
	File FileBody `json:"file"`
}

// FileTree maps file path to content. Absence of a path means the file does
// not exist; paths are unique by construction.
type FileTree map[string]FileEntry

// Validate rejects trees with empty or unsafe paths. Paths are workspace
// relative; absolute paths and parent traversal are refused because the
// tree is later mounted into a sandbox directory.
func (t FileTree) Validate() error {
	for path := range t {
		if path == "" {
			return apperrors.NewValidationError("fileTree", "empty path")
		}
		if strings.HasPrefix(path, "/") {
			return apperrors.NewValidationError("fileTree", "absolute path "+path)
		}
		for _, seg := range strings.Split(path, "/") {
			if seg == ".." {
				return apperrors.NewValidationError("fileTree", "path traversal in "+path)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the tree.
func (t FileTree) Clone() FileTree {
	if t == nil {
		return nil
	}
	out := make(FileTree, len(t))
	for p, e := range t {
		out[p] = e
	}
	return out
}

// AgentPayload is the structured body of an assistant message: explanatory
// text plus an optional replacement file tree.
type AgentPayload struct {
	Text     string   `json:"text"`
	FileTree FileTree `json:"fileTree,omitempty"`
}

// ParseAgentPayload decodes an assistant message body. Returns false when
// the body is not a JSON object with a text field.
func ParseAgentPayload(body string) (AgentPayload, bool) {
	var p AgentPayload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return AgentPayload{}, false
	}
	if p.Text == "" && p.FileTree == nil {
		return AgentPayload{}, false
	}
	return p, true
}
