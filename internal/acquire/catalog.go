package acquire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/franz/cratekeeper/internal/identify"
	"github.com/franz/cratekeeper/internal/util"
)

// CatalogConfig holds catalog API access settings
type CatalogConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// MinRequestGap spaces API calls out; the catalog rate-limits hard
	MinRequestGap time.Duration
}

// CatalogClient talks to the release catalog API. It caches the access
// token until shortly before expiry and paces requests to stay inside the
// catalog's rate limits. Open before use, Close when done.
type CatalogClient struct {
	cfg    CatalogConfig
	client *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	nextRequest time.Time
}

// NewCatalogClient creates an unopened catalog client
func NewCatalogClient(cfg CatalogConfig) *CatalogClient {
	if cfg.MinRequestGap <= 0 {
		cfg.MinRequestGap = 250 * time.Millisecond
	}
	return &CatalogClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// Open validates the configuration and primes the token cache
func (c *CatalogClient) Open(ctx context.Context) error {
	if c.cfg.BaseURL == "" {
		return fmt.Errorf("%w: catalog base url not configured", util.ErrInvalidConfig)
	}
	_, err := c.accessToken(ctx)
	return err
}

// Close discards the cached token
func (c *CatalogClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	return nil
}

// accessToken returns a valid token, refreshing when within a minute of
// expiry
func (c *CatalogClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/oauth/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", permanentErr("token request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", transientErr("token request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", transientErr("token endpoint returned %s", resp.Status)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", transientErr("token decode failed: %v", err)
	}
	if body.AccessToken == "" {
		return "", permanentErr("token endpoint returned no token")
	}

	c.token = body.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	util.DebugLog("Catalog token refreshed, expires in %ds", body.ExpiresIn)
	return c.token, nil
}

// pace blocks until the next request slot, honoring ctx
func (c *CatalogClient) pace(ctx context.Context) error {
	c.mu.Lock()
	wait := time.Until(c.nextRequest)
	c.nextRequest = time.Now().Add(c.cfg.MinRequestGap)
	if wait > 0 {
		c.nextRequest = c.nextRequest.Add(wait)
	}
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// catalogTrack is one downloadable track in a release manifest
type catalogTrack struct {
	Title  string `json:"title"`
	Number int    `json:"number"`
	Disc   int    `json:"disc"`
	URL    string `json:"url"`
	Format string `json:"format"`
}

// catalogRelease is the manifest the catalog serves for one release id
type catalogRelease struct {
	Artist string         `json:"artist"`
	Album  string         `json:"album"`
	Year   int            `json:"year"`
	Tracks []catalogTrack `json:"tracks"`
}

// GetRelease fetches a release manifest
func (c *CatalogClient) GetRelease(ctx context.Context, id, qualityHint string) (*catalogRelease, error) {
	if err := c.pace(ctx); err != nil {
		return nil, err
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/releases/%s?quality=%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(id), url.QueryEscape(qualityHint))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, permanentErr("manifest request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, transientErr("manifest request failed: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, permanentErr("release %s not found in catalog", id)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, transientErr("catalog returned %s", resp.Status)
	default:
		return nil, permanentErr("catalog returned %s", resp.Status)
	}

	var rel catalogRelease
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, transientErr("manifest decode failed: %v", err)
	}
	if len(rel.Tracks) == 0 {
		return nil, permanentErr("release %s has no tracks", id)
	}
	return &rel, nil
}

// identityFile travels alongside the downloaded tracks so the import
// pipeline uses the catalog's answer instead of whatever the files are
// tagged with
const identityFile = ".release-identity.json"

type stagedIdentity struct {
	Artist string `json:"artist"`
	Album  string `json:"album"`
	Year   int    `json:"year"`
}

func writeStagedIdentity(dir string, rel *catalogRelease) error {
	data, err := json.Marshal(stagedIdentity{Artist: rel.Artist, Album: rel.Album, Year: rel.Year})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, identityFile), data, 0644)
}

// ReadStagedIdentity consumes the identity file an authoritative fetcher
// left in a staging directory. Returns nil when the directory has none.
func ReadStagedIdentity(dir string) *identify.Identification {
	path := filepath.Join(dir, identityFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	os.Remove(path)

	var id stagedIdentity
	if err := json.Unmarshal(data, &id); err != nil {
		util.WarnLog("Discarding unreadable identity file in %s: %v", dir, err)
		return nil
	}
	if id.Artist == "" && id.Album == "" {
		return nil
	}
	return &identify.Identification{
		Artist:     id.Artist,
		Album:      id.Album,
		Year:       id.Year,
		Confidence: 1.0,
	}
}

// CatalogFetcher downloads full releases from the catalog API
type CatalogFetcher struct {
	StagingRoot string
	Client      *CatalogClient
}

func NewCatalogFetcher(stagingRoot string, client *CatalogClient) *CatalogFetcher {
	return &CatalogFetcher{StagingRoot: stagingRoot, Client: client}
}

func (f *CatalogFetcher) Fetch(ctx context.Context, locator, qualityHint string, sink ProgressSink) (string, error) {
	rel, err := f.Client.GetRelease(ctx, locator, qualityHint)
	if err != nil {
		return "", err
	}

	dir, err := stagingDir(f.StagingRoot, fmt.Sprintf("%s - %s", rel.Artist, rel.Album))
	if err != nil {
		return "", err
	}

	for i, track := range rel.Tracks {
		if err := f.Client.pace(ctx); err != nil {
			removeStaging(dir)
			return "", err
		}

		ext := strings.ToLower(track.Format)
		if ext == "" {
			ext = "flac"
		}
		name := fmt.Sprintf("%02d %s.%s", track.Number, sanitizeFilename(track.Title), ext)
		if err := downloadFile(ctx, f.Client.client, track.URL, filepath.Join(dir, name), nil); err != nil {
			removeStaging(dir)
			return "", err
		}
		if sink != nil {
			sink.Progress(float64(i+1)/float64(len(rel.Tracks))*100, 0, 0)
		}
	}

	if err := writeStagedIdentity(dir, rel); err != nil {
		util.WarnLog("Failed to record catalog identity for %s: %v", locator, err)
	}

	util.DebugLog("Fetched %d track(s) for catalog release %s", len(rel.Tracks), locator)
	return dir, nil
}

func sanitizeFilename(s string) string {
	for _, c := range []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|"} {
		s = strings.ReplaceAll(s, c, "_")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "track"
	}
	return s
}
