package database

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// setupSchema runs the configured setup command (typically migrations) against a freshly
// provisioned schema. The schema name is passed as DB_DATABASE and replaces the
// placeholder in the command.
func (dm *DatabaseManager) setupSchema(ctx context.Context, dbName string) error {
	command := dm.config.Database.SetupCommand
	if command == "" {
		return nil
	}
	command = strings.ReplaceAll(command, dm.placeholder(), dbName)

	projectAbsPath, err := filepath.Abs(dm.config.ProjectPath)
	if err != nil {
		return fmt.Errorf("failed to get absolute project path: %w", err)
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Env = append(os.Environ(), "DB_DATABASE="+dbName)
	cmd.Dir = projectAbsPath

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("setup command failed for %s: %w\n%s", dbName, err, strings.TrimSpace(string(output)))
	}
	dm.logger.Info("schema set up", zap.String("database", dbName))
	return nil
}
