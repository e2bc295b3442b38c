package v1

import (
	"encoding/json"
	"fmt"
)

// Event is the decoded form of one raw-socket frame.
//
// The vocabulary is closed over the kinds above plus UnknownEvent: frames the
// client does not recognize are not dropped, they decode into UnknownEvent so
// callers can observe and log them.
type Event interface {
	Kind() string
}

// NotificationEvent wraps KindNotification.
type NotificationEvent struct {
	NotificationPayload
}

// Kind implements Event.
func (NotificationEvent) Kind() string { return KindNotification }

// ResourceUpdatedEvent covers the *_updated family. Resource is the canonical
// kind (e.g. KindTaskUpdated), so one handler can fan invalidations by kind.
type ResourceUpdatedEvent struct {
	Resource string
	ResourceUpdatedPayload
}

// Kind implements Event.
func (e ResourceUpdatedEvent) Kind() string { return e.Resource }

// UserStatusEvent wraps KindUserStatus.
type UserStatusEvent struct {
	UserStatusPayload
}

// Kind implements Event.
func (UserStatusEvent) Kind() string { return KindUserStatus }

// CommentEvent wraps KindNewComment (room-scoped fanout).
type CommentEvent struct {
	CommentPayload
}

// Kind implements Event.
func (CommentEvent) Kind() string { return KindNewComment }

// UnknownEvent carries a frame whose type is outside the known vocabulary.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

// Kind implements Event.
func (e UnknownEvent) Kind() string { return e.Type }

// DecodeEvent turns a validated envelope into a typed event.
// Legacy aliases normalize to their canonical kind first.
func DecodeEvent(env Envelope) (Event, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	kind := Normalize(env.Type)

	switch kind {
	case KindNotification:
		var p NotificationPayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return NotificationEvent{NotificationPayload: p}, nil

	case KindFinancialUpdated, KindCalendarUpdated, KindClientUpdated,
		KindProjectUpdated, KindTaskUpdated, KindCommentUpdated,
		KindReactionUpdated, KindUserUpdated:
		var p ResourceUpdatedPayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return ResourceUpdatedEvent{Resource: kind, ResourceUpdatedPayload: p}, nil

	case KindUserStatus:
		var p UserStatusPayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return UserStatusEvent{UserStatusPayload: p}, nil

	case KindNewComment:
		var p CommentPayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return CommentEvent{CommentPayload: p}, nil

	default:
		return UnknownEvent{Type: env.Type, Raw: env.Raw}, nil
	}
}
