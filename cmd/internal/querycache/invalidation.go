package querycache

import (
	v1 "contentcrush/contracts/realtime/v1"
)

// invalidationRules maps a realtime event kind to the key prefixes it makes
// stale. Tasks invalidate projects too: project views aggregate task state.
var invalidationRules = map[string][]string{
	v1.KindFinancialUpdated: {"financial"},
	v1.KindCalendarUpdated:  {"calendar"},
	v1.KindClientUpdated:    {"clients"},
	v1.KindProjectUpdated:   {"projects"},
	v1.KindTaskUpdated:      {"tasks", "projects"},
	v1.KindCommentUpdated:   {"comments", "tasks"},
	v1.KindReactionUpdated:  {"comments"},
	v1.KindUserUpdated:      {"users"},
	v1.KindNewComment:       {"comments", "notifications"},
	v1.KindNotification:     {"notifications"},
	v1.KindUserStatus:       {"users"},
}

// PrefixesFor returns the key prefixes an event kind invalidates. Legacy
// type aliases are normalized first; unknown kinds invalidate nothing.
func PrefixesFor(kind string) []string {
	return invalidationRules[v1.Normalize(kind)]
}

// InvalidateForEvent applies the kind's rules and returns the total number
// of dropped entries. Unknown events are a no-op: an unrecognized frame must
// never wipe state.
func (c *Cache) InvalidateForEvent(ev v1.Event) int {
	if ev == nil {
		return 0
	}
	n := 0
	for _, p := range PrefixesFor(ev.Kind()) {
		n += c.InvalidatePrefix(p)
	}
	return n
}
