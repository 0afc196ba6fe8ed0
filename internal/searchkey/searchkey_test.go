package searchkey

import "testing"

func TestEncode(t *testing.T) {
	tests := []struct {
		name      string
		clientID  string
		status    string
		tokenType string
		expected  string
	}{
		{"all dimensions", "app-1", "valid", "access_token", "app-1#valid#access_token"},
		{"client and status", "app-1", "valid", "", "app-1#valid"},
		{"client only", "app-1", "", "", "app-1"},
		{"no dimensions", "", "", "", ""},
		{"trailing type omitted keeps status", "app-1", "revoked", "", "app-1#revoked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Encode(tt.clientID, tt.status, tt.tokenType); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestEncodePrefixOfFullKey(t *testing.T) {
	full := Encode("app-1", "valid", "access_token")
	prefixes := []string{
		Encode("app-1", "", ""),
		Encode("app-1", "valid", ""),
	}

	for _, prefix := range prefixes {
		if len(prefix) > len(full) || full[:len(prefix)] != prefix {
			t.Errorf("%q is not a prefix of %q", prefix, full)
		}
	}
}
