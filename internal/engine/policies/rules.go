package policies

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

const (
	keyAllowedProviders = "allowedProviders"
	keyAllowedModels    = "allowedModels"
	keyMaxPromptLength  = "maxPromptLength"
	keyMaxChatsPerDay   = "maxChatsPerDay"
	keyMaxTokensPerDay  = "maxTokensPerDay"
)

// Rules is the typed form of a policy's rule blob. A nil field is unset.
// Keys the evaluator does not recognize are kept in Extra so they survive
// a round trip through storage.
type Rules struct {
	AllowedProviders []string
	AllowedModels    []string
	MaxPromptLength  *int64
	MaxChatsPerDay   *int64
	MaxTokensPerDay  *int64
	Extra            map[string]json.RawMessage
}

// ParseRules decodes a stored blob. Malformed JSON yields empty rules, and a
// recognized key holding the wrong type is dropped.
func ParseRules(raw []byte) Rules {
	r, _ := decodeRules(raw, false)
	return r
}

// ValidateRules decodes a blob supplied by an administrator and rejects
// recognized keys with the wrong type.
func ValidateRules(raw []byte) (Rules, error) {
	return decodeRules(raw, true)
}

func decodeRules(raw []byte, strict bool) (Rules, error) {
	var r Rules
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return r, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		if strict {
			return Rules{}, fmt.Errorf("rules must be a JSON object: %w", err)
		}
		return Rules{}, nil
	}

	for k, v := range fields {
		if isNull(v) {
			continue
		}
		var err error
		switch k {
		case keyAllowedProviders:
			r.AllowedProviders, err = decodeList(v)
		case keyAllowedModels:
			r.AllowedModels, err = decodeList(v)
		case keyMaxPromptLength:
			r.MaxPromptLength, err = decodeLimit(v)
		case keyMaxChatsPerDay:
			r.MaxChatsPerDay, err = decodeLimit(v)
		case keyMaxTokensPerDay:
			r.MaxTokensPerDay, err = decodeLimit(v)
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]json.RawMessage)
			}
			r.Extra[k] = v
		}
		if err != nil && strict {
			return Rules{}, fmt.Errorf("rules.%s: %w", k, err)
		}
	}
	return r, nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func decodeList(v json.RawMessage) ([]string, error) {
	var list []string
	if err := json.Unmarshal(v, &list); err != nil {
		return nil, fmt.Errorf("expected a list of strings")
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}

func decodeLimit(v json.RawMessage) (*int64, error) {
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return nil, fmt.Errorf("expected a number")
	}
	var n int64
	switch {
	case f >= math.MaxInt64:
		n = math.MaxInt64
	case f <= math.MinInt64:
		n = math.MinInt64
	default:
		n = int64(f)
	}
	return &n, nil
}

// Merge applies over onto r field by field. Every field set in over
// replaces the value in r; unset fields in over leave r untouched.
func (r Rules) Merge(over Rules) Rules {
	out := r
	if over.AllowedProviders != nil {
		out.AllowedProviders = over.AllowedProviders
	}
	if over.AllowedModels != nil {
		out.AllowedModels = over.AllowedModels
	}
	if over.MaxPromptLength != nil {
		out.MaxPromptLength = over.MaxPromptLength
	}
	if over.MaxChatsPerDay != nil {
		out.MaxChatsPerDay = over.MaxChatsPerDay
	}
	if over.MaxTokensPerDay != nil {
		out.MaxTokensPerDay = over.MaxTokensPerDay
	}
	if len(over.Extra) > 0 {
		extra := make(map[string]json.RawMessage, len(r.Extra)+len(over.Extra))
		for k, v := range r.Extra {
			extra[k] = v
		}
		for k, v := range over.Extra {
			extra[k] = v
		}
		out.Extra = extra
	}
	return out
}

// IsEmpty reports whether no key at all is set, recognized or not.
func (r Rules) IsEmpty() bool {
	return r.AllowedProviders == nil && r.AllowedModels == nil &&
		r.MaxPromptLength == nil && r.MaxChatsPerDay == nil && r.MaxTokensPerDay == nil &&
		len(r.Extra) == 0
}

// Limit returns a positive limit value. Unset, zero and negative limits are
// not enforced.
func Limit(p *int64) (int64, bool) {
	if p == nil || *p <= 0 {
		return 0, false
	}
	return *p, true
}

func (r Rules) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 5+len(r.Extra))
	for k, v := range r.Extra {
		m[k] = v
	}
	if r.AllowedProviders != nil {
		m[keyAllowedProviders] = r.AllowedProviders
	}
	if r.AllowedModels != nil {
		m[keyAllowedModels] = r.AllowedModels
	}
	if r.MaxPromptLength != nil {
		m[keyMaxPromptLength] = *r.MaxPromptLength
	}
	if r.MaxChatsPerDay != nil {
		m[keyMaxChatsPerDay] = *r.MaxChatsPerDay
	}
	if r.MaxTokensPerDay != nil {
		m[keyMaxTokensPerDay] = *r.MaxTokensPerDay
	}
	return json.Marshal(m)
}

func (r *Rules) UnmarshalJSON(b []byte) error {
	parsed, err := ValidateRules(b)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Keys lists every set key in sorted order.
func (r Rules) Keys() []string {
	var keys []string
	for k := range r.Extra {
		keys = append(keys, k)
	}
	if r.AllowedProviders != nil {
		keys = append(keys, keyAllowedProviders)
	}
	if r.AllowedModels != nil {
		keys = append(keys, keyAllowedModels)
	}
	if r.MaxPromptLength != nil {
		keys = append(keys, keyMaxPromptLength)
	}
	if r.MaxChatsPerDay != nil {
		keys = append(keys, keyMaxChatsPerDay)
	}
	if r.MaxTokensPerDay != nil {
		keys = append(keys, keyMaxTokensPerDay)
	}
	sort.Strings(keys)
	return keys
}

// Value implements the driver.Valuer interface for Rules
func (r Rules) Value() (driver.Value, error) {
	b, err := r.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for Rules. Unreadable blobs
// scan as empty rules rather than failing the row.
func (r *Rules) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		*r = ParseRules(v)
	case string:
		*r = ParseRules([]byte(v))
	default:
		*r = Rules{}
	}
	return nil
}
