package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("signal:\n  owner_number: \"+15551234567\"\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("companion:\n  url: http://localhost:3000\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("homeassistant:\n  token: ${BRIDGE_TEST_TOKEN}\n"), 0600)
	os.Setenv("BRIDGE_TEST_TOKEN", "secret123")
	defer os.Unsetenv("BRIDGE_TEST_TOKEN")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.HomeAssistant.Token != "secret123" {
		t.Errorf("token = %q, want %q", cfg.HomeAssistant.Token, "secret123")
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("signal:\n  owner_number: \"+15551234567\"\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Signal.OwnerNumber != "+15551234567" {
		t.Errorf("owner_number = %q", cfg.Signal.OwnerNumber)
	}
	if cfg.Signal.ConnectTimeoutSec != 30 {
		t.Errorf("connect_timeout_sec = %d, want 30", cfg.Signal.ConnectTimeoutSec)
	}
	if cfg.Companion.DefaultName != "Choom" {
		t.Errorf("default_name = %q, want Choom", cfg.Companion.DefaultName)
	}
	if len(cfg.Schedule.WeatherTimes) != 3 {
		t.Errorf("weather_times = %v, want 3 defaults", cfg.Schedule.WeatherTimes)
	}
	if cfg.Schedule.HealthIntervalMin != 30 {
		t.Errorf("health_interval_min = %d, want 30", cfg.Schedule.HealthIntervalMin)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"", false},
		{"info", false},
		{"TRACE", false},
		{"Debug", false},
		{"warning", false},
		{"error", false},
		{"verbose", true},
	}
	for _, tt := range tests {
		_, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}
