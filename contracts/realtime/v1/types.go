// Package v1 defines the Content Crush realtime wire contract.
//
// It is shared between the raw-socket transport, the event-bus transport,
// and the dev/test servers so the wire vocabulary stays authoritative.
// Keep it dependency-light (ULID only).
package v1

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Canonical event kinds carried by the raw socket (server -> client).
const (
	KindNotification     = "notification"
	KindFinancialUpdated = "financial_updated"
	KindCalendarUpdated  = "calendar_updated"
	KindClientUpdated    = "client_updated"
	KindProjectUpdated   = "project_updated"
	KindTaskUpdated      = "task_updated"
	KindCommentUpdated   = "comment_updated"
	KindReactionUpdated  = "reaction_updated"
	KindUserUpdated      = "user_updated"
	KindUserStatus       = "user_status"
	KindNewComment       = "new-comment"
)

// Legacy aliases still emitted by older backend builds.
// They normalize to the canonical kind on decode.
const (
	LegacyFinancialUpdate = "financial_update"
	LegacyClientUpdate    = "client_update"
)

// Event-bus vocabulary (client -> server except new-comment).
const (
	BusIdentify       = "identify"
	BusJoinTask       = "join-task"
	BusLeaveTask      = "leave-task"
	BusTaskComment    = "task-comment"
	BusJoinProject    = "join-project"
	BusLeaveProject   = "leave-project"
	BusProjectComment = "project-comment"
	BusNotifyUser     = "notify-user"
)

// KindWildcard subscribes a handler to every decoded event, including unknown ones.
const KindWildcard = "*"

// Envelope is one raw-socket frame.
//
// The backend writes flat frames: the discriminator "type" sits next to the
// payload fields ({"type":"notification","title":...}), so Envelope keeps the
// full frame bytes and payload structs unmarshal from Raw.
type Envelope struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	TS   time.Time       `json:"ts,omitempty"`
	Raw  json.RawMessage `json:"-"`
}

// ParseEnvelope decodes one frame into an Envelope, keeping the full frame in Raw.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	env.Raw = append(json.RawMessage(nil), data...)
	return env, nil
}

// Validate performs structural validation. Unknown types are NOT an error
// here: the dispatcher surfaces them as UnknownEvent rather than dropping
// them silently.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if len(e.Raw) == 0 {
		return errors.New("missing frame bytes")
	}
	return nil
}

// Normalize maps legacy aliases to their canonical kind.
// Non-legacy kinds pass through unchanged.
func Normalize(kind string) string {
	switch kind {
	case LegacyFinancialUpdate:
		return KindFinancialUpdated
	case LegacyClientUpdate:
		return KindClientUpdated
	default:
		return kind
	}
}

// EncodeFrame builds one flat raw-socket frame: the payload fields merged
// with "type", "id" and "ts" at the top level. Used by the dev server and tests.
func EncodeFrame(kind string, payload any) ([]byte, error) {
	if strings.TrimSpace(kind) == "" {
		return nil, errors.New("missing kind")
	}

	m := map[string]any{}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}

	m["type"] = kind
	m["id"] = NewEventID(time.Now().UTC())
	m["ts"] = time.Now().UTC()

	return json.Marshal(m)
}

// NewEventID returns a ULID string for frame correlation.
// ULIDs are lexicographically sortable, which keeps event logs readable.
func NewEventID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return ""
	}
	return id.String()
}

// ---- raw-socket payloads ----

// NotificationPayload is a user-facing notification pushed by the server.
type NotificationPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Link    string `json:"link,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

// ResourceUpdatedPayload announces that a REST resource changed and cached
// reads of it are stale. ID identifies the changed entity when known.
type ResourceUpdatedPayload struct {
	ID        string `json:"id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
}

// UserStatusPayload carries presence changes.
type UserStatusPayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// CommentPayload is a room-scoped comment fanned out to members.
type CommentPayload struct {
	CommentID string    `json:"comment_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	ProjectID string    `json:"project_id,omitempty"`
	Author    string    `json:"author,omitempty"`
	Text      string    `json:"text"`
	TS        time.Time `json:"ts,omitempty"`
}

// ---- event-bus payloads ----

// IdentifyPayload authenticates the bus connection after connect.
type IdentifyPayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// RoomPayload scopes a join/leave to one task or project room.
type RoomPayload struct {
	TaskID    string `json:"task_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

// NotifyUserPayload is a direct notification addressed to one user.
type NotifyUserPayload struct {
	UserID  string `json:"user_id"`
	Title   string `json:"title"`
	Message string `json:"message"`
}
