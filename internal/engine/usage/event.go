package usage

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Chat event types counted against daily chat and token limits.
const (
	EventWorkspaceChat       = "workspace_chat"
	EventWorkspaceThreadChat = "workspace_thread_chat"
	EventEmbedChat           = "embed_chat"
	EventUnknown             = "unknown"
)

// ChatEventTypes returns the event types that count as a chat.
func ChatEventTypes() []string {
	return []string{EventWorkspaceChat, EventWorkspaceThreadChat, EventEmbedChat}
}

// MaxTokens caps each token counter so daily sums stay far from int64
// overflow.
const MaxTokens = math.MaxInt32

// RawEvent is an untrusted event payload as decoded from JSON.
type RawEvent map[string]any

// Event is a sanitized usage fact. Counters are never negative and ids are
// either positive or nil.
type Event struct {
	ID               int64          `json:"id,omitempty"`
	EventType        string         `json:"event_type"`
	UserID           *int64         `json:"user_id"`
	WorkspaceID      *int64         `json:"workspace_id"`
	TeamID           *int64         `json:"team_id"`
	APIKeyID         *int64         `json:"api_key_id"`
	Provider         *string        `json:"provider"`
	Model            *string        `json:"model"`
	PromptTokens     int64          `json:"prompt_tokens"`
	CompletionTokens int64          `json:"completion_tokens"`
	TotalTokens      int64          `json:"total_tokens"`
	DurationMs       *int64         `json:"duration_ms"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	OccurredAt       int64          `json:"occurred_at,omitempty"`
}

// Sanitize coerces a payload into an Event without ever failing. Both
// camelCase and snake_case keys are accepted.
func Sanitize(raw RawEvent) Event {
	e := Event{
		EventType:        text(raw, "eventType", "event_type"),
		UserID:           id(raw, "userId", "user_id"),
		WorkspaceID:      id(raw, "workspaceId", "workspace_id"),
		TeamID:           id(raw, "teamId", "team_id"),
		APIKeyID:         id(raw, "apiKeyId", "api_key_id"),
		PromptTokens:     tokens(raw, "promptTokens", "prompt_tokens"),
		CompletionTokens: tokens(raw, "completionTokens", "completion_tokens"),
		TotalTokens:      tokens(raw, "totalTokens", "total_tokens"),
	}
	if e.EventType == "" {
		e.EventType = EventUnknown
	}
	if s := text(raw, "provider"); s != "" {
		e.Provider = &s
	}
	if s := text(raw, "model"); s != "" {
		e.Model = &s
	}
	if e.TotalTokens == 0 {
		e.TotalTokens = min(e.PromptTokens+e.CompletionTokens, MaxTokens)
	}
	if v, ok := lookup(raw, "durationMs", "duration_ms"); ok && v != nil {
		d := clamp(v)
		e.DurationMs = &d
	}
	if v, ok := lookup(raw, "occurredAt", "occurred_at"); ok {
		e.OccurredAt = clamp(v)
	}
	if m, ok := raw["metadata"].(map[string]any); ok && len(m) > 0 {
		e.Metadata = m
	}
	return e
}

// Raw renders e back into payload form. Sanitize(e.Raw()) == e.
func (e Event) Raw() RawEvent {
	raw := RawEvent{
		"eventType":        e.EventType,
		"promptTokens":     e.PromptTokens,
		"completionTokens": e.CompletionTokens,
		"totalTokens":      e.TotalTokens,
	}
	optInt := func(k string, v *int64) {
		if v != nil {
			raw[k] = *v
		} else {
			raw[k] = nil
		}
	}
	optInt("userId", e.UserID)
	optInt("workspaceId", e.WorkspaceID)
	optInt("teamId", e.TeamID)
	optInt("apiKeyId", e.APIKeyID)
	optInt("durationMs", e.DurationMs)
	if e.Provider != nil {
		raw["provider"] = *e.Provider
	}
	if e.Model != nil {
		raw["model"] = *e.Model
	}
	if e.OccurredAt != 0 {
		raw["occurredAt"] = e.OccurredAt
	}
	if e.Metadata != nil {
		raw["metadata"] = e.Metadata
	}
	return raw
}

func lookup(raw RawEvent, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func text(raw RawEvent, keys ...string) string {
	v, _ := lookup(raw, keys...)
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// number extracts a finite float from any numeric representation.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toInt(f float64) int64 {
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(f)
}

// clamp returns a non-negative integer, zero for anything unusable.
func clamp(v any) int64 {
	f, ok := number(v)
	if !ok || f <= 0 {
		return 0
	}
	return toInt(f)
}

func tokens(raw RawEvent, keys ...string) int64 {
	v, _ := lookup(raw, keys...)
	return min(clamp(v), MaxTokens)
}

func id(raw RawEvent, keys ...string) *int64 {
	v, _ := lookup(raw, keys...)
	n := clamp(v)
	if n <= 0 {
		return nil
	}
	return &n
}
