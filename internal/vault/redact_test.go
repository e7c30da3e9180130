package vault

import (
	"strings"
	"testing"
)

func TestRedactExactMatch(t *testing.T) {
	keeper := newTestKeeper(t)
	if err := keeper.Put("exchange-key", []byte("sk-live-abcdef123456")); err != nil {
		t.Fatalf("put: %v", err)
	}

	got := keeper.Redact(`{"api_key":"sk-live-abcdef123456","pair":"SOL/USDC"}`)
	if strings.Contains(got, "sk-live-abcdef123456") {
		t.Errorf("credential survived redaction: %s", got)
	}
	if !strings.Contains(got, "[REDACTED]") {
		t.Errorf("no redaction marker in %s", got)
	}
	if !strings.Contains(got, "SOL/USDC") {
		t.Errorf("unrelated content mangled: %s", got)
	}
}

func TestRedactShortValueSkipped(t *testing.T) {
	keeper := newTestKeeper(t)
	if err := keeper.Put("pin", []byte("1234")); err != nil {
		t.Fatalf("put: %v", err)
	}

	content := "order 1234 filled"
	if got := keeper.Redact(content); got != content {
		t.Errorf("short value redacted: %s", got)
	}
}

func TestRedactNormalizedWhitespace(t *testing.T) {
	keeper := newTestKeeper(t)
	secret := `{"key": "value", "nested": true}`
	if err := keeper.Put("json-cred", []byte(secret)); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Same credential, reformatted with newlines and indentation.
	reformatted := "prefix {\"key\":\n  \"value\",\n  \"nested\":\ntrue} suffix"
	got := keeper.Redact(reformatted)
	if !strings.Contains(got, "[REDACTED]") {
		t.Errorf("reformatted credential not caught: %s", got)
	}
	if !strings.HasPrefix(got, "prefix ") || !strings.HasSuffix(got, " suffix") {
		t.Errorf("surrounding content damaged: %s", got)
	}
}

func TestRedactNoSecrets(t *testing.T) {
	keeper := newTestKeeper(t)

	content := "nothing sensitive here"
	if got := keeper.Redact(content); got != content {
		t.Errorf("content changed with empty vault: %s", got)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a  b", "a b"},
		{"a\n\tb", "a b"},
		{"  a  ", " a "},
		{"abc", "abc"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := collapseWhitespace(tt.in); got != tt.want {
			t.Errorf("collapseWhitespace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
