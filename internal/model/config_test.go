package model

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.Store.Path != "onebox.db" {
		t.Errorf("store path = %q, want onebox.db", cfg.Store.Path)
	}
	if cfg.Search.URL != "http://localhost:9200" {
		t.Errorf("search url = %q", cfg.Search.URL)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("http addr = %q", cfg.HTTP.Addr)
	}
	if len(cfg.Accounts) != 0 {
		t.Errorf("accounts = %d, want none", len(cfg.Accounts))
	}
}

func TestLoadConfigAccountDefaults(t *testing.T) {
	path := writeConfig(t, `
accounts:
  - host: imap.example.com
    use_tls: true
    username: sales@example.com
    password: secret
  - host: mail.example.com
    username: support@example.com
    folder: Support
store:
  path: /tmp/test.db
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if len(cfg.Accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(cfg.Accounts))
	}

	first := cfg.Accounts[0]
	if first.Port != 993 {
		t.Errorf("tls account port = %d, want 993", first.Port)
	}
	if first.Folder != "INBOX" {
		t.Errorf("folder = %q, want INBOX", first.Folder)
	}
	if first.Name != "sales@example.com" {
		t.Errorf("name = %q, want username fallback", first.Name)
	}

	second := cfg.Accounts[1]
	if second.Port != 143 {
		t.Errorf("plain account port = %d, want 143", second.Port)
	}
	if second.Folder != "Support" {
		t.Errorf("folder = %q, want Support", second.Folder)
	}

	if cfg.Store.Path != "/tmp/test.db" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
	if cfg.Search.Index != "onebox_messages" {
		t.Errorf("index = %q, want default", cfg.Search.Index)
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in     string
		want   Category
		wantOK bool
	}{
		{"Interested", CategoryInterested, true},
		{"interested", CategoryInterested, true},
		{" MEETINGBOOKED ", CategoryMeetingBooked, true},
		{"not interested", "", false},
		{"NotInterested", CategoryNotInterested, true},
		{"spam", CategorySpam, true},
		{"outofoffice", CategoryOutOfOffice, true},
		{"", "", false},
		{"Maybe", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseCategory(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseCategory(%q) = %q, %v; want %q, %v",
				tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
