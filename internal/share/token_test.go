package share_test

import (
	"strings"
	"testing"

	"github.com/linkvault/linkvault/internal/share"
)

func TestGenerateToken_Shape(t *testing.T) {
	token, err := share.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	// 32 bytes of entropy in unpadded base64url is always 43 characters
	if len(token) != 43 {
		t.Errorf("expected 43 chars, got %d (%q)", len(token), token)
	}
	if strings.ContainsAny(token, "+/=") {
		t.Errorf("token contains non-URL-safe characters: %q", token)
	}
}

func TestGenerateToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		token, err := share.GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken failed: %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token after %d generations", i)
		}
		seen[token] = true
	}
}
