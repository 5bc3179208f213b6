package main

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/cratekeeper/internal/store"
	"github.com/franz/cratekeeper/internal/util"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure crate can operate correctly.

This command checks:
- SQLite engine availability
- Database accessibility and integrity
- Library, staging and holding directories (existence, writability)
- Catalog credentials (presence only, no network calls)
- Disk space under the library root

Use it to troubleshoot before starting the daemon.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	results := []checkResult{
		checkSQLite(),
		checkDatabase(viper.GetString("db")),
		checkWritableDir("Library root", layoutFromConfig().LibraryRoot),
		checkWritableDir("Staging", stagingFromConfig()),
		checkWritableDir("Review holding", layoutFromConfig().ReviewDir),
		checkWritableDir("Failed holding", layoutFromConfig().FailedDir),
		checkCatalogConfig(),
		checkDiskSpace(layoutFromConfig().LibraryRoot),
	}

	hasErrors := false
	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	if hasErrors {
		return fmt.Errorf("system diagnostics failed")
	}
	return nil
}

func checkSQLite() checkResult {
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{name: "SQLite", error: true, message: "unable to determine version"}
	}
	return checkResult{name: "SQLite", message: fmt.Sprintf("version %s (built-in)", version)}
}

func checkDatabase(dbPath string) checkResult {
	if dbPath == "" {
		return checkResult{name: "Database", warning: true, message: "no database path configured"}
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{name: "Database", message: fmt.Sprintf("%s (will be created on first run)", dbPath)}
		}
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("cannot access %s: %v", dbPath, err)}
	}
	if !info.Mode().IsRegular() {
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("%s is not a regular file", dbPath)}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("cannot open %s: %v", dbPath, err)}
	}
	defer db.Close()

	if err := db.CheckIntegrity(); err != nil {
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("integrity check failed: %v", err)}
	}

	releases, _ := db.CountReleases()
	pending, _ := db.CountJobsByStatus(store.JobPending)
	return checkResult{
		name: "Database",
		message: fmt.Sprintf("%s (%s, %d releases, %d pending jobs)",
			dbPath, humanize.Bytes(uint64(info.Size())), releases, pending),
	}
}

func checkWritableDir(name, path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{name: name, message: fmt.Sprintf("%s (will be created)", path)}
		}
		return checkResult{name: name, error: true, message: fmt.Sprintf("cannot access %s: %v", path, err)}
	}
	if !info.IsDir() {
		return checkResult{name: name, error: true, message: fmt.Sprintf("%s is not a directory", path)}
	}

	testFile := filepath.Join(path, ".crate_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return checkResult{name: name, error: true, message: fmt.Sprintf("cannot write to %s: %v", path, err)}
	}
	f.Close()
	os.Remove(testFile)

	return checkResult{name: name, message: fmt.Sprintf("%s (writable)", path)}
}

func checkCatalogConfig() checkResult {
	baseURL := viper.GetString("catalog_url")
	if baseURL == "" {
		return checkResult{name: "Catalog", warning: true, message: "not configured (catalog source disabled)"}
	}
	if viper.GetString("catalog_client_id") == "" || viper.GetString("catalog_client_secret") == "" {
		return checkResult{name: "Catalog", error: true, message: "catalog_url set but credentials missing"}
	}
	return checkResult{name: "Catalog", message: baseURL}
}

func checkDiskSpace(path string) checkResult {
	// Walk up to the nearest existing ancestor; the library may not
	// exist yet
	for {
		if _, err := os.Stat(path); err == nil {
			break
		}
		parent := filepath.Dir(path)
		if parent == path {
			break
		}
		path = parent
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return checkResult{name: "Disk space", warning: true, message: fmt.Sprintf("cannot determine: %v", err)}
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	availGB := float64(availBytes) / (1024 * 1024 * 1024)

	warning := availGB < 10
	msg := fmt.Sprintf("%.1f GB available", availGB)
	if warning {
		msg += " (low space!)"
	}
	return checkResult{name: "Disk space", warning: warning, message: msg}
}
