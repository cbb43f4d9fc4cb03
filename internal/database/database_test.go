package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"shardrun/internal/config"
)

func TestIsValidDatabaseName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{name: "worker schema", input: "integrationtest_k3j2_1_db", expected: true},
		{name: "empty", input: "", expected: false},
		{name: "too long", input: strings.Repeat("a", 65), expected: false},
		{name: "backquote", input: "a`; DROP DATABASE x", expected: false},
		{name: "quote", input: "a'b", expected: false},
		{name: "leading dash", input: "-db", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidDatabaseName(tt.input); got != tt.expected {
				t.Errorf("isValidDatabaseName(%q) = %v, expected %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	cfg := config.New()
	cfg.Database.Host = "db.internal"
	cfg.Database.Port = 3307
	cfg.Database.Username = "ci"
	cfg.Database.Password = "secret"

	dsn := NewDatabaseManager(cfg, nil).DSN()
	if !strings.HasPrefix(dsn, "ci:secret@tcp(db.internal:3307)/") {
		t.Errorf("unexpected dsn %s", dsn)
	}
}

func TestPlaceholderDefault(t *testing.T) {
	cfg := config.New()
	cfg.Database.Placeholder = ""
	if got := NewDatabaseManager(cfg, nil).placeholder(); got != "{database}" {
		t.Errorf("expected default placeholder, got %s", got)
	}
}

func TestCloseWithoutConnection(t *testing.T) {
	if err := NewDatabaseManager(config.New(), nil).Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSetupSchema(t *testing.T) {
	dir := t.TempDir()
	cfg := config.New()
	cfg.ProjectPath = dir
	cfg.Database.SetupCommand = `test "$DB_DATABASE" = "{database}" && echo ok > marker`

	if err := NewDatabaseManager(cfg, nil).setupSchema(context.Background(), "ci_1_db"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "marker")); err != nil {
		t.Errorf("expected setup command to run in project path: %v", err)
	}
}

func TestSetupSchemaFailure(t *testing.T) {
	cfg := config.New()
	cfg.ProjectPath = t.TempDir()
	cfg.Database.SetupCommand = "echo broken migration; exit 3"

	err := NewDatabaseManager(cfg, nil).setupSchema(context.Background(), "ci_1_db")
	if err == nil || !strings.Contains(err.Error(), "broken migration") {
		t.Errorf("expected failure with command output, got %v", err)
	}
}

func TestSetupSchemaDisabled(t *testing.T) {
	cfg := config.New()
	cfg.Database.SetupCommand = ""
	if err := NewDatabaseManager(cfg, nil).setupSchema(context.Background(), "ci_1_db"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
