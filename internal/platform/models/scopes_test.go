package models

import (
	"reflect"
	"testing"
)

func TestParseScopes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"wildcard", "*", []string{"*"}},
		{"empty defaults to wildcard", "", []string{"*"}},
		{"comma list", "workspace:chat,documents:read", []string{"workspace:chat", "documents:read"}},
		{"padded duplicates", " admin:read , admin:read,, workspace:chat ", []string{"admin:read", "workspace:chat"}},
		{"json array", `["admin:write"," admin:write","usage:read"]`, []string{"admin:write", "usage:read"}},
		{"empty json array", `[]`, []string{"*"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseScopes(tt.raw); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseScopes(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
