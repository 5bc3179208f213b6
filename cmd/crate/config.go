package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/franz/cratekeeper/internal/acquire"
	"github.com/franz/cratekeeper/internal/importer"
	"github.com/franz/cratekeeper/internal/report"
	"github.com/franz/cratekeeper/internal/store"
	"github.com/franz/cratekeeper/internal/util"
	"github.com/franz/cratekeeper/internal/validate"
)

// GetConfigString retrieves a string config value with proper precedence:
// 1. Command-line flag (if set)
// 2. Environment variable (CRATE_*)
// 3. Config file
// 4. Default value
func GetConfigString(key string, defaultValue string) string {
	val := viper.GetString(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// GetConfigInt retrieves an int config value with proper precedence
func GetConfigInt(key string, defaultValue int) int {
	val := viper.GetInt(key)
	if val == 0 {
		return defaultValue
	}
	return val
}

// workDir is the root for pipeline-internal state: staging downloads,
// holding areas, the daemon lock
func workDir() string {
	return GetConfigString("work_dir", ".crate")
}

func layoutFromConfig() importer.Layout {
	return importer.Layout{
		LibraryRoot: GetConfigString("library", "Library"),
		ReviewDir:   GetConfigString("review_dir", filepath.Join(workDir(), "review")),
		FailedDir:   GetConfigString("failed_dir", filepath.Join(workDir(), "failed")),
	}
}

func stagingFromConfig() string {
	return GetConfigString("staging", filepath.Join(workDir(), "staging"))
}

func openStore() (*store.Store, error) {
	dbPath := viper.GetString("db")
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// newEventLogger creates the JSONL event logger under the artifacts
// directory, degrading to a null logger on failure
func newEventLogger() *report.EventLogger {
	logLevel := report.LevelInfo
	if viper.GetBool("quiet") {
		logLevel = report.LevelWarning
	} else if viper.GetBool("verbose") {
		logLevel = report.LevelDebug
	}

	logger, err := report.NewEventLogger(GetConfigString("artifacts", "artifacts"), logLevel)
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		return report.NullLogger()
	}
	return logger
}

func newEngine(db *store.Store, logger *report.EventLogger) *importer.Engine {
	return importer.New(db, logger, importer.Config{
		Layout: layoutFromConfig(),
		Validation: validate.Options{
			Strict:             true,
			CompilationArtists: GetConfigInt("compilation_artists", 3),
		},
	})
}

// buildFetchers assembles the fetcher map from configuration. direct_url
// and local always work; catalog and collection_sync need their endpoints
// configured. The returned catalog client is nil when unconfigured.
func buildFetchers() (map[acquire.SourceKind]acquire.Fetcher, *acquire.CatalogClient) {
	staging := stagingFromConfig()

	fetchers := map[acquire.SourceKind]acquire.Fetcher{
		acquire.SourceDirectURL: acquire.NewDirectURLFetcher(staging),
		acquire.SourceLocal:     acquire.NewLocalFetcher(staging),
	}

	var client *acquire.CatalogClient
	if baseURL := viper.GetString("catalog_url"); baseURL != "" {
		client = acquire.NewCatalogClient(acquire.CatalogConfig{
			BaseURL:      baseURL,
			ClientID:     viper.GetString("catalog_client_id"),
			ClientSecret: viper.GetString("catalog_client_secret"),
		})
		fetchers[acquire.SourceCatalog] = acquire.NewCatalogFetcher(staging, client)
	}

	if peerRoot := viper.GetString("peer_root"); peerRoot != "" {
		fetchers[acquire.SourceCollectionSync] = acquire.NewCollectionSyncFetcher(staging, peerRoot)
	}

	return fetchers, client
}

func newController(db *store.Store, logger *report.EventLogger) (*acquire.Controller, *acquire.CatalogClient) {
	fetchers, client := buildFetchers()
	ctrl := acquire.New(db, newEngine(db, logger), logger, fetchers, nil, acquire.Config{
		StagingDir:          stagingFromConfig(),
		ConfidenceThreshold: viper.GetFloat64("confidence"),
	})
	return ctrl, client
}
