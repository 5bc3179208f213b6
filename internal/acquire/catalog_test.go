package acquire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/franz/cratekeeper/internal/util"
)

// newCatalogServer serves a token endpoint, one release manifest and its
// track payloads
func newCatalogServer(t *testing.T, tokenRequests *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "client_credentials" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		if r.Form.Get("client_id") != "id" || r.Form.Get("client_secret") != "secret" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-123",
			"expires_in":   3600,
		})
	})

	mux.HandleFunc("/releases/rel-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		base := "http://" + r.Host
		json.NewEncoder(w).Encode(catalogRelease{
			Artist: "Plaid",
			Album:  "Double Figure",
			Year:   2001,
			Tracks: []catalogTrack{
				{Title: "Eyen", Number: 1, URL: base + "/files/1", Format: "flac"},
				{Title: "Squance", Number: 2, URL: base + "/files/2", Format: "flac"},
			},
		})
	})

	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "audio-bytes-%s", filepath.Base(r.URL.Path))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newCatalogTestClient(srv *httptest.Server) *CatalogClient {
	return NewCatalogClient(CatalogConfig{
		BaseURL:       srv.URL,
		ClientID:      "id",
		ClientSecret:  "secret",
		MinRequestGap: time.Millisecond,
	})
}

func TestCatalogClientTokenCaching(t *testing.T) {
	var tokenRequests atomic.Int32
	srv := newCatalogServer(t, &tokenRequests)
	c := newCatalogTestClient(srv)

	ctx := context.Background()
	if err := c.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// Two manifest fetches reuse the cached token
	for i := 0; i < 2; i++ {
		if _, err := c.GetRelease(ctx, "rel-1", ""); err != nil {
			t.Fatalf("GetRelease failed: %v", err)
		}
	}
	if got := tokenRequests.Load(); got != 1 {
		t.Errorf("token endpoint hit %d times, want 1", got)
	}
}

func TestCatalogClientBadCredentials(t *testing.T) {
	var tokenRequests atomic.Int32
	srv := newCatalogServer(t, &tokenRequests)

	c := NewCatalogClient(CatalogConfig{
		BaseURL:       srv.URL,
		ClientID:      "id",
		ClientSecret:  "wrong",
		MinRequestGap: time.Millisecond,
	})
	if err := c.Open(context.Background()); err == nil {
		t.Fatal("bad credentials should fail Open")
	}
}

func TestCatalogGetReleaseNotFound(t *testing.T) {
	var tokenRequests atomic.Int32
	srv := newCatalogServer(t, &tokenRequests)
	c := newCatalogTestClient(srv)

	_, err := c.GetRelease(context.Background(), "rel-missing", "")
	if err == nil {
		t.Fatal("missing release should fail")
	}
	if util.IsRetryableError(err) {
		t.Error("404 is permanent, not transient")
	}
}

func TestCatalogFetcherDownloadsAllTracks(t *testing.T) {
	var tokenRequests atomic.Int32
	srv := newCatalogServer(t, &tokenRequests)
	c := newCatalogTestClient(srv)

	f := NewCatalogFetcher(filepath.Join(t.TempDir(), "staging"), c)
	dir, err := f.Fetch(context.Background(), "rel-1", "lossless", nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got := filepath.Base(dir); got != "Plaid - Double Figure" {
		t.Errorf("staging dir named %q, want the manifest's display name", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d files, want 3", len(entries))
	}
	want := map[string]bool{"01 Eyen.flac": false, "02 Squance.flac": false, identityFile: false}
	for _, e := range entries {
		if _, ok := want[e.Name()]; !ok {
			t.Errorf("unexpected file %s", e.Name())
		}
		want[e.Name()] = true
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("missing %s", name)
		}
	}

	data, _ := os.ReadFile(filepath.Join(dir, "01 Eyen.flac"))
	if string(data) != "audio-bytes-1" {
		t.Errorf("track content = %q", data)
	}
}

func TestCatalogFetcherCarriesManifestIdentity(t *testing.T) {
	var tokenRequests atomic.Int32
	srv := newCatalogServer(t, &tokenRequests)
	c := newCatalogTestClient(srv)

	f := NewCatalogFetcher(filepath.Join(t.TempDir(), "staging"), c)
	dir, err := f.Fetch(context.Background(), "rel-1", "lossless", nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	id := ReadStagedIdentity(dir)
	if id == nil {
		t.Fatal("catalog fetch should stage the manifest identity")
	}
	if id.Artist != "Plaid" || id.Album != "Double Figure" || id.Year != 2001 {
		t.Errorf("identity = %+v", id)
	}
	if id.Confidence != 1.0 {
		t.Errorf("catalog identity confidence = %v, want 1.0", id.Confidence)
	}

	// The file is consumed on read
	if again := ReadStagedIdentity(dir); again != nil {
		t.Errorf("second read should find nothing, got %+v", again)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Eyen", "Eyen"},
		{"AC/DC: Live", "AC_DC_ Live"},
		{"  spaced  ", "spaced"},
		{"", "track"},
		{"a<b>c|d", "a_b_c_d"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
