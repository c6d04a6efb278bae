package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestSetupLevels(t *testing.T) {
	cases := []struct {
		env       string
		wantDebug bool
	}{
		{"local", true},
		{"", true},
		{"dev", true},
		{"production", false},
		{"staging", false},
	}
	for _, tc := range cases {
		logger := Setup("payflowd", tc.env)
		if logger == nil {
			t.Fatalf("env %q: nil logger", tc.env)
		}
		if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tc.wantDebug {
			t.Fatalf("env %q: debug enabled = %v, want %v", tc.env, got, tc.wantDebug)
		}
		if !logger.Enabled(context.Background(), slog.LevelInfo) {
			t.Fatalf("env %q: info must always be enabled", tc.env)
		}
	}
}

func TestSetupDefaultsServiceName(t *testing.T) {
	if logger := Setup("", "production"); logger == nil {
		t.Fatalf("expected logger with defaulted service name")
	}
}
