package util

import (
	"strings"
	"testing"
)

func TestTruncateLog(t *testing.T) {
	if got := TruncateLog("short", 10); got != "short" {
		t.Fatalf("short strings pass through, got %q", got)
	}

	long := strings.Repeat("x", 100)
	got := TruncateLog(long, 10)
	if !strings.HasPrefix(got, "xxxxxxxxxx...") || !strings.Contains(got, "100 bytes total") {
		t.Fatalf("unexpected truncation: %q", got)
	}
}

func TestMaskToken(t *testing.T) {
	if got := MaskToken("short-token"); got != "short-token" {
		t.Fatalf("short tokens are left alone, got %q", got)
	}

	masked := MaskToken("APP_USR-1234567890-abcdefghijkl")
	if !strings.HasPrefix(masked, "...") || len(masked) != 15 {
		t.Fatalf("unexpected mask: %q", masked)
	}
	if strings.Contains(masked, "APP_USR") {
		t.Fatalf("prefix must be hidden: %q", masked)
	}
}
