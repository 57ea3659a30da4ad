package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/seqlab/run-uploader/internal/config"
)

// runCLI executes the full command tree with args and returns its stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	AddCommands(root)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigCommandStructure(t *testing.T) {
	tests := []struct {
		cmd *cobra.Command
		use string
	}{
		{newConfigInitCmd(), "init"},
		{newConfigShowCmd(), "show"},
		{newConfigTestCmd(), "test"},
		{newConfigPathCmd(), "path"},
	}
	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			if tt.cmd.Use != tt.use {
				t.Errorf("Use = %q, want %q", tt.cmd.Use, tt.use)
			}
			if tt.cmd.Short == "" {
				t.Error("Short description is empty")
			}
			if tt.cmd.RunE == nil {
				t.Error("RunE function is nil")
			}
		})
	}

	if newConfigInitCmd().Flags().Lookup("force") == nil {
		t.Error("init should have a --force flag")
	}
}

func TestConfigInit_SavesAnswers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploader.conf")
	answers := strings.Join([]string{
		"https://irida.example.org/api/",
		"uploader",
		"s3cret",
		"admin",
		"password1",
		"/data/miseq",
		"60",
		"",
		"n",
	}, "\n") + "\n"

	out, err := runCLI(t, answers, "--config", path, "config", "init")
	if err != nil {
		t.Fatalf("config init error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "Configuration saved") {
		t.Errorf("output = %q", out)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.BaseURL != "https://irida.example.org/api" {
		t.Errorf("BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Server.ClientSecret != "s3cret" || cfg.Server.Password != "password1" {
		t.Errorf("secrets not saved: %+v", cfg.Server)
	}
	if cfg.Uploader.WatchDirectory != "/data/miseq" || cfg.Uploader.PollIntervalSeconds != 60 {
		t.Errorf("uploader = %+v", cfg.Uploader)
	}
	if cfg.Uploader.MaxConcurrentRuns != config.NewConfig().Uploader.MaxConcurrentRuns {
		t.Errorf("empty answer should keep the default, got %d", cfg.Uploader.MaxConcurrentRuns)
	}
	if cfg.Proxy.Mode != config.ProxyModeNone {
		t.Errorf("proxy mode = %q", cfg.Proxy.Mode)
	}

	// A second init without --force leaves the file alone.
	out, err = runCLI(t, "", "--config", path, "config", "init")
	if err != nil || !strings.Contains(out, "already exists") {
		t.Errorf("second init: err = %v, out = %q", err, out)
	}
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploader.conf")
	cfg := config.NewConfig()
	cfg.Server.BaseURL = "https://irida.example.org/api"
	cfg.Server.ClientSecret = "s3cret"
	cfg.Server.Password = "password1"
	if err := config.Save(cfg, path); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "", "--config", path, "--server-url", "https://other.example.org/api/", "config", "show")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	if strings.Contains(out, "s3cret") || strings.Contains(out, "password1") {
		t.Errorf("secrets leaked:\n%s", out)
	}
	if !strings.Contains(out, "https://other.example.org/api\n") {
		t.Errorf("--server-url should override the file:\n%s", out)
	}
}

func TestConfigPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.conf")
	out, err := runCLI(t, "", "--config", path, "config", "path")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, path) || !strings.Contains(out, "does not exist") {
		t.Errorf("output = %q", out)
	}
}

func TestInvalidConfigIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploader.conf")
	cfg := config.NewConfig()
	cfg.Uploader.PollIntervalSeconds = 1
	if err := config.Save(cfg, path); err != nil {
		t.Fatal(err)
	}

	if _, err := runCLI(t, "", "--config", path, "status", t.TempDir()); err == nil {
		t.Error("commands should refuse an invalid configuration")
	}
	if _, err := runCLI(t, "", "--config", path, "config", "show"); err != nil {
		t.Errorf("config show must work on an invalid file: %v", err)
	}
}
