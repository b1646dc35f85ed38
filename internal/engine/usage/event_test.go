package usage

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i64(v int64) *int64 { return &v }

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		raw  RawEvent
		want Event
	}{
		{
			name: "well formed",
			raw: RawEvent{
				"eventType": "workspace_chat", "userId": 3, "workspaceId": int64(9), "provider": " openai ", "model": "gpt-4o",
				"promptTokens": 10, "completionTokens": 5.9, "durationMs": 1200,
			},
			want: Event{
				EventType: "workspace_chat", UserID: i64(3), WorkspaceID: i64(9), Provider: strp("openai"), Model: strp("gpt-4o"),
				PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, DurationMs: i64(1200),
			},
		},
		{
			name: "negatives clamp to zero",
			raw:  RawEvent{"eventType": "embed_chat", "promptTokens": -4, "completionTokens": "-1", "totalTokens": -100, "durationMs": -3},
			want: Event{EventType: "embed_chat", DurationMs: i64(0)},
		},
		{
			name: "non numeric ids become nil",
			raw:  RawEvent{"userId": "abc", "workspaceId": math.NaN(), "teamId": 0, "apiKeyId": -2},
			want: Event{EventType: EventUnknown},
		},
		{
			name: "numeric strings and snake case",
			raw:  RawEvent{"event_type": "workspace_thread_chat", "user_id": "12", "prompt_tokens": "7", "total_tokens": "30"},
			want: Event{EventType: "workspace_thread_chat", UserID: i64(12), PromptTokens: 7, TotalTokens: 30},
		},
		{
			name: "infinite and bool values",
			raw:  RawEvent{"eventType": "  ", "promptTokens": math.Inf(1), "completionTokens": true, "provider": 42},
			want: Event{EventType: EventUnknown},
		},
		{
			name: "metadata object kept",
			raw:  RawEvent{"eventType": "x", "metadata": map[string]any{"thread": "t1"}, "occurredAt": 1700000000000.0},
			want: Event{EventType: "x", Metadata: map[string]any{"thread": "t1"}, OccurredAt: 1700000000000},
		},
		{
			name: "huge counters saturate",
			raw:  RawEvent{"eventType": "workspace_chat", "promptTokens": 1e30, "completionTokens": 5},
			want: Event{EventType: "workspace_chat", PromptTokens: MaxTokens, CompletionTokens: 5, TotalTokens: MaxTokens},
		},
		{
			name: "explicit total capped",
			raw:  RawEvent{"eventType": "workspace_chat", "totalTokens": math.MaxInt64},
			want: Event{EventType: "workspace_chat", TotalTokens: MaxTokens},
		},
		{
			name: "empty payload",
			raw:  RawEvent{},
			want: Event{EventType: EventUnknown},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.raw))
		})
	}
}

func strp(s string) *string { return &s }

func TestSanitizeIdempotent(t *testing.T) {
	payloads := []RawEvent{
		{"eventType": "workspace_chat", "userId": 3, "promptTokens": 10, "completionTokens": 5},
		{"promptTokens": -1, "userId": "nope", "durationMs": -9},
		{"eventType": "embed_chat", "totalTokens": 44, "promptTokens": 1, "provider": "anthropic", "metadata": map[string]any{"k": "v"}},
		{},
	}

	for _, p := range payloads {
		once := Sanitize(p)
		twice := Sanitize(once.Raw())
		assert.Equal(t, once, twice)
	}
}

func TestSanitizeFromJSON(t *testing.T) {
	body := []byte(`{"eventType":"workspace_chat","userId":5,"promptTokens":12,"completionTokens":8,"workspaceId":null}`)

	var decoded RawEvent
	require.NoError(t, json.Unmarshal(body, &decoded))
	plain := Sanitize(decoded)

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var numbered RawEvent
	require.NoError(t, dec.Decode(&numbered))
	withNumbers := Sanitize(numbered)

	assert.Equal(t, plain, withNumbers)
	assert.Equal(t, int64(20), plain.TotalTokens)
	assert.Nil(t, plain.WorkspaceID)
	assert.Equal(t, int64(5), *plain.UserID)
}
