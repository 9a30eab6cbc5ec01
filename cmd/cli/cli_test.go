package cli

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"minutes", 30 * time.Minute, "30m"},
		{"under an hour", 59 * time.Minute, "59m"},
		{"hours", 90 * time.Minute, "1.5h"},
		{"under a day", 23 * time.Hour, "23.0h"},
		{"days", 48 * time.Hour, "2d"},
		{"many days", 10 * 24 * time.Hour, "10d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatDuration(tt.duration)
			if result != tt.expected {
				t.Errorf("formatDuration() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestParseModuleList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty", "", nil},
		{"single", "dns", []string{"dns"}},
		{"multiple", "dns,whois,portscan", []string{"dns", "whois", "portscan"}},
		{"spaces", " dns , whois ", []string{"dns", "whois"}},
		{"trailing comma", "dns,", []string{"dns"}},
		{"only commas", ",,", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseModuleList(tt.input)
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("parseModuleList(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestGetConfigFilePath(t *testing.T) {
	original := cfgFile
	defer func() { cfgFile = original }()

	cfgFile = ""
	if got := getConfigFilePath(); got != "config.yaml" {
		t.Errorf("getConfigFilePath() = %v, want config.yaml", got)
	}

	cfgFile = "/etc/recondor/config.yaml"
	if got := getConfigFilePath(); got != "/etc/recondor/config.yaml" {
		t.Errorf("getConfigFilePath() = %v, want flag value", got)
	}
}

func TestSetVersion(t *testing.T) {
	origVersion, origCommit, origBuild := version, commit, buildTime
	defer SetVersion(origVersion, origCommit, origBuild)

	SetVersion("1.2.3", "abc123", "2026-01-01")

	got := getVersion()
	if !strings.Contains(got, "1.2.3") || !strings.Contains(got, "abc123") {
		t.Errorf("getVersion() = %v, want version and commit included", got)
	}
	if rootCmd.Version != got {
		t.Errorf("rootCmd.Version = %v, want %v", rootCmd.Version, got)
	}
}

func TestCommandRegistration(t *testing.T) {
	expected := []string{"scan", "scans", "modules", "schedule", "daemon", "status"}

	registered := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		registered[cmd.Name()] = true
	}

	for _, name := range expected {
		if !registered[name] {
			t.Errorf("command %q is not registered on the root command", name)
		}
	}
}

func TestScheduleSubcommands(t *testing.T) {
	expected := []string{"list", "add", "remove", "enable", "disable", "run"}

	registered := make(map[string]bool)
	for _, cmd := range scheduleCmd.Commands() {
		registered[cmd.Name()] = true
	}

	for _, name := range expected {
		if !registered[name] {
			t.Errorf("schedule subcommand %q is not registered", name)
		}
	}
}

func TestAPIErrorMessage(t *testing.T) {
	err := &APIError{StatusCode: 404, Message: "scan not found"}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "scan not found") {
		t.Errorf("APIError.Error() = %v, want status and message included", err.Error())
	}

	err = &APIError{StatusCode: 500, Message: "boom", RequestID: "req-1"}
	if !strings.Contains(err.Error(), "req-1") {
		t.Errorf("APIError.Error() = %v, want request id included", err.Error())
	}
}
