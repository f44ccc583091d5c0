package ws

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateReason(t *testing.T) {
	testCases := []struct {
		name   string
		reason string
	}{
		{"short", "thread not found"},
		{"ascii", strings.Repeat("a", 300)},
		{"two byte", strings.Repeat("é", 100)},
		{"three byte", "x" + strings.Repeat("€", 60)},
		{"four byte", strings.Repeat("😀", 40)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := truncateReason(tc.reason)
			if len(got) > maxCloseReason {
				t.Errorf("len = %d, want <= %d", len(got), maxCloseReason)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncated reason is not valid UTF-8: %q", got)
			}
			if !strings.HasPrefix(tc.reason, got) {
				t.Errorf("truncated reason %q is not a prefix", got)
			}
			if len(tc.reason) <= maxCloseReason && got != tc.reason {
				t.Errorf("short reason changed: %q", got)
			}
		})
	}
}
