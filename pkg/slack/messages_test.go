package slack

import "testing"

func TestSeverityEmoji(t *testing.T) {
	tests := []struct {
		severity string
		want     string
	}{
		{"error", "🔴"},
		{"warning", "🟡"},
		{"info", "🔵"},
		{"unknown", "⚪"},
	}

	for _, tt := range tests {
		t.Run(tt.severity, func(t *testing.T) {
			got := SeverityEmoji(tt.severity)
			if got != tt.want {
				t.Errorf("SeverityEmoji(%q) = %q, want %q", tt.severity, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		max   int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"this is a long string", 10, "this is..."},
	}

	for _, tt := range tests {
		got := truncate(tt.input, tt.max)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.want)
		}
	}
}

func TestAlertNotificationBlocks_IncludesTenantAndGroupFields(t *testing.T) {
	alert := AlertInfo{
		AlertID:     "group-1",
		Title:       "Scaling group ACTIVE -> ERROR",
		Severity:    "error",
		Description: "Scaling group entered ERROR during convergence.",
		Namespace:   "tenant-1",
		Service:     "group-1",
	}

	blocks := AlertNotificationBlocks(alert)
	if len(blocks) != 3 {
		t.Fatalf("len(blocks) = %d, want 3 (header, fields, description)", len(blocks))
	}
}

func TestAlertNotificationBlocks_OmitsFieldsSectionWhenEmpty(t *testing.T) {
	alert := AlertInfo{AlertID: "group-1", Title: "x", Severity: "info"}

	blocks := AlertNotificationBlocks(alert)
	if len(blocks) != 1 {
		t.Fatalf("len(blocks) = %d, want 1 (header only)", len(blocks))
	}
}
