package acquire

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/franz/cratekeeper/internal/util"
)

func TestParseSourceKind(t *testing.T) {
	for _, name := range []string{"catalog", "direct_url", "collection_sync", "local"} {
		if _, err := ParseSourceKind(name); err != nil {
			t.Errorf("ParseSourceKind(%q) = %v", name, err)
		}
	}
	if _, err := ParseSourceKind("torrent"); err == nil {
		t.Error("unknown source should be rejected")
	}
}

func TestSourceTrust(t *testing.T) {
	if !SourceCatalog.Trusted() || !SourceCollectionSync.Trusted() {
		t.Error("catalog and collection_sync are authoritative sources")
	}
	if SourceDirectURL.Trusted() || SourceLocal.Trusted() {
		t.Error("direct_url and local must not be trusted")
	}
}

func TestValidateLocator(t *testing.T) {
	localDir := t.TempDir()
	localFile := filepath.Join(localDir, "file.mp3")
	if err := os.WriteFile(localFile, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		kind    SourceKind
		locator string
		wantErr bool
	}{
		{"catalog id", SourceCatalog, "rel-8842", false},
		{"catalog path-like", SourceCatalog, "albums/rel-8842", true},
		{"catalog empty", SourceCatalog, "  ", true},
		{"https url", SourceDirectURL, "https://example.com/a.zip", false},
		{"http url", SourceDirectURL, "http://example.com/a.zip", false},
		{"ftp url", SourceDirectURL, "ftp://example.com/a.zip", true},
		{"bare word", SourceDirectURL, "not a url", true},
		{"sync name", SourceCollectionSync, "peer-drop-01", false},
		{"sync traversal", SourceCollectionSync, "../etc", true},
		{"local dir", SourceLocal, localDir, false},
		{"local file", SourceLocal, localFile, true},
		{"local missing", SourceLocal, filepath.Join(localDir, "gone"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.kind.ValidateLocator(tt.locator)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateLocator(%q) = %v, wantErr %v", tt.locator, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, util.ErrInvalidLocator) {
				t.Errorf("error %v should wrap ErrInvalidLocator", err)
			}
		})
	}
}

func TestFetchErrorClassification(t *testing.T) {
	if !util.IsRetryableError(transientErr("mirror busy")) {
		t.Error("transient fetch errors must be retryable")
	}
	if util.IsRetryableError(permanentErr("release was removed")) {
		t.Error("permanent fetch errors must not be retryable")
	}
	// Classification survives wrapping
	wrapped := transientErr("wrapped: %w", errors.New("inner"))
	if !util.IsRetryableError(wrapped) {
		t.Error("wrapped transient error lost its classification")
	}
}

func TestHasAudio(t *testing.T) {
	dir := t.TempDir()
	if HasAudio(dir) {
		t.Error("empty directory has no audio")
	}
	os.WriteFile(filepath.Join(dir, "cover.jpg"), []byte("img"), 0644)
	if HasAudio(dir) {
		t.Error("artwork alone is not audio")
	}
	sub := filepath.Join(dir, "CD1")
	os.MkdirAll(sub, 0755)
	os.WriteFile(filepath.Join(sub, "01 Track.flac"), []byte("x"), 0644)
	if !HasAudio(dir) {
		t.Error("nested flac should count as audio")
	}
}

func TestLocalFetcherTakesOwnership(t *testing.T) {
	root := t.TempDir()
	drop := filepath.Join(root, "Boards of Canada - Geogaddi")
	os.MkdirAll(drop, 0755)
	os.WriteFile(filepath.Join(drop, "01 Song.mp3"), []byte("audio"), 0644)

	f := NewLocalFetcher(filepath.Join(root, "staging"))
	dir, err := f.Fetch(context.Background(), drop, "", nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "01 Song.mp3")); err != nil {
		t.Errorf("file not moved into staging: %v", err)
	}
	if _, err := os.Stat(drop); !os.IsNotExist(err) {
		t.Error("drop directory should be gone after the move")
	}
	// The drop's display name survives staging for the folder checks
	if got := filepath.Base(dir); got != "Boards of Canada - Geogaddi" {
		t.Errorf("staging dir named %q, want the drop's name", got)
	}
}

func TestCollectionSyncFetcherCopiesPeerRelease(t *testing.T) {
	root := t.TempDir()
	peer := filepath.Join(root, "peer")
	os.MkdirAll(filepath.Join(peer, "Amber"), 0755)
	os.WriteFile(filepath.Join(peer, "Amber", "01 Foil.flac"), []byte("flac-bytes"), 0644)

	f := NewCollectionSyncFetcher(filepath.Join(root, "staging"), peer)
	dir, err := f.Fetch(context.Background(), "Amber", "", nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got := filepath.Base(dir); got != "Amber" {
		t.Errorf("staging dir named %q, want the peer release's name", got)
	}
	data, err := os.ReadFile(filepath.Join(dir, "01 Foil.flac"))
	if err != nil || string(data) != "flac-bytes" {
		t.Errorf("copied track = (%q, %v)", data, err)
	}
	// Sync copies; the peer's export stays in place
	if _, err := os.Stat(filepath.Join(peer, "Amber", "01 Foil.flac")); err != nil {
		t.Errorf("peer copy should survive the sync: %v", err)
	}
}

func TestCollectionSyncFetcherMissingPeerDirIsTransient(t *testing.T) {
	root := t.TempDir()
	f := NewCollectionSyncFetcher(filepath.Join(root, "staging"), filepath.Join(root, "peer"))
	_, err := f.Fetch(context.Background(), "not-there", "", nil)
	if err == nil {
		t.Fatal("missing peer directory should fail")
	}
	if !util.IsRetryableError(err) {
		t.Error("peer not yet synced should be a transient failure")
	}
}
