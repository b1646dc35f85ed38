package models

import "testing"

func TestHashSecret(t *testing.T) {
	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := HashSecret("abc"); got != want {
		t.Errorf("HashSecret = %s, want %s", got, want)
	}
	k := &APIKey{Secret: "abc"}
	if k.Hash() != want {
		t.Errorf("unpersisted key should derive its hash from the secret")
	}
	k.KeyHash = "stored"
	if k.Hash() != "stored" {
		t.Errorf("stored hash should win, got %s", k.Hash())
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name string
		key  APIKey
		want string
	}{
		{"stored prefix", APIKey{KeyPrefix: "cg-1a2b3"}, "cg-1a2b3..."},
		{"fresh secret", APIKey{Secret: "cg-1a2b3c4d5e"}, "cg-1a2b3..."},
		{"short secret", APIKey{Secret: "short"}, "****"},
		{"nothing", APIKey{}, "****"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.Preview(); got != tt.want {
				t.Errorf("Preview = %q, want %q", got, tt.want)
			}
		})
	}
}
