package acquire

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/franz/cratekeeper/internal/importer"
	"github.com/franz/cratekeeper/internal/report"
	"github.com/franz/cratekeeper/internal/store"
	"github.com/franz/cratekeeper/internal/util"
	"github.com/franz/cratekeeper/internal/validate"
)

// fakeFetcher scripts fetch behavior per test
type fakeFetcher struct {
	calls   atomic.Int32
	fetch   func(ctx context.Context, call int) (string, error)
	blockOn context.Context
}

func (f *fakeFetcher) Fetch(ctx context.Context, locator, qualityHint string, sink ProgressSink) (string, error) {
	call := int(f.calls.Add(1))
	if f.blockOn != nil {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.fetch(ctx, call)
}

func newTestController(t *testing.T, fetchers map[SourceKind]Fetcher, hook CollectionHook) (*Controller, *store.Store) {
	t.Helper()
	root := t.TempDir()

	s, err := store.Open(filepath.Join(root, "crate.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	engine := importer.New(s, report.NullLogger(), importer.Config{
		Layout: importer.Layout{
			LibraryRoot: filepath.Join(root, "library"),
			ReviewDir:   filepath.Join(root, "review"),
			FailedDir:   filepath.Join(root, "failed"),
		},
		Validation: validate.Options{Strict: false, CompilationArtists: 3},
	})

	c := New(s, engine, report.NullLogger(), fetchers, hook, Config{
		StagingDir: filepath.Join(root, "staging"),
	})
	return c, s
}

// stagedRelease fabricates a fetched release directory with recognizable
// audio filenames
func stagedRelease(t *testing.T, root string) string {
	t.Helper()
	dir := filepath.Join(root, "fetched")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 2; i++ {
		name := fmt.Sprintf("%02d Orbit Song %d.mp3", i, i)
		if err := os.WriteFile(filepath.Join(dir, name), []byte(fmt.Sprintf("audio-%d", i)), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func claimJob(t *testing.T, s *store.Store) *store.Job {
	t.Helper()
	job, err := s.ClaimNextPending()
	if err != nil {
		t.Fatalf("ClaimNextPending failed: %v", err)
	}
	if job == nil {
		t.Fatal("no pending job to claim")
	}
	return job
}

func TestSubmitValidatesLocator(t *testing.T) {
	ff := &fakeFetcher{}
	c, _ := newTestController(t, map[SourceKind]Fetcher{SourceDirectURL: ff}, nil)

	if _, err := c.Submit(SourceDirectURL, "not a url", SubmitOptions{}); err == nil {
		t.Error("malformed url should be rejected")
	}
	if _, err := c.Submit(SourceCatalog, "rel-123", SubmitOptions{}); err == nil {
		t.Error("source without a configured fetcher should be rejected")
	}

	id, err := c.Submit(SourceDirectURL, "https://example.com/album.zip", SubmitOptions{Requester: "cli"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if id == "" {
		t.Fatal("Submit returned empty job id")
	}
}

func TestRunUntaggedDropGoesToReview(t *testing.T) {
	root := t.TempDir()
	ff := &fakeFetcher{fetch: func(ctx context.Context, call int) (string, error) {
		return stagedRelease(t, root), nil
	}}
	c, s := newTestController(t, map[SourceKind]Fetcher{SourceDirectURL: ff}, nil)

	id, err := c.Submit(SourceDirectURL, "https://example.com/album.zip", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}

	c.Run(context.Background(), claimJob(t, s))

	job, _ := s.GetJob(id)
	if job.Status != store.JobPendingReview {
		t.Fatalf("untagged untrusted release should park for review, got %s (%s)", job.Status, job.Error)
	}
	if job.ReviewID == 0 {
		t.Error("job should reference its review ticket")
	}
	ticket, _ := s.GetReviewTicket(job.ReviewID)
	if ticket == nil || ticket.Status != store.ReviewPending {
		t.Errorf("ticket = %+v", ticket)
	}
}

func TestRunPrefersStagedIdentityOverTags(t *testing.T) {
	root := t.TempDir()
	ff := &fakeFetcher{fetch: func(ctx context.Context, call int) (string, error) {
		dir := stagedRelease(t, root)
		// The fetcher already knows what it downloaded; tag heuristics
		// must not override it
		if err := writeStagedIdentity(dir, &catalogRelease{Artist: "Autechre", Album: "Amber", Year: 1994}); err != nil {
			t.Fatal(err)
		}
		return dir, nil
	}}
	c, s := newTestController(t, map[SourceKind]Fetcher{SourceDirectURL: ff}, nil)

	id, err := c.Submit(SourceDirectURL, "https://example.com/album.zip", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}

	c.Run(context.Background(), claimJob(t, s))

	// The untagged files still fail validation, but the ticket carries
	// the fetcher's identity at full confidence
	job, _ := s.GetJob(id)
	if job.Status != store.JobPendingReview {
		t.Fatalf("expected pending_review, got %s (%s)", job.Status, job.Error)
	}
	ticket, _ := s.GetReviewTicket(job.ReviewID)
	if ticket == nil {
		t.Fatal("missing review ticket")
	}
	if ticket.Artist != "Autechre" || ticket.Album != "Amber" || ticket.Year != 1994 {
		t.Errorf("ticket identity = %q/%q/%d, want the staged identity", ticket.Artist, ticket.Album, ticket.Year)
	}
	if ticket.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0 from the staged identity", ticket.Confidence)
	}
}

func TestRunTransientFailureExhaustsRetries(t *testing.T) {
	ff := &fakeFetcher{fetch: func(ctx context.Context, call int) (string, error) {
		return "", transientErr("connection reset by peer")
	}}
	c, s := newTestController(t, map[SourceKind]Fetcher{SourceDirectURL: ff}, nil)

	id, err := c.Submit(SourceDirectURL, "https://example.com/a.zip", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}

	c.Run(context.Background(), claimJob(t, s))

	job, _ := s.GetJob(id)
	if job.Status != store.JobFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if got := int(ff.calls.Load()); got != 3 {
		t.Errorf("transient failure should use the untrusted retry budget of 3, got %d calls", got)
	}
}

func TestRunPermanentFailureDoesNotRetry(t *testing.T) {
	ff := &fakeFetcher{fetch: func(ctx context.Context, call int) (string, error) {
		return "", permanentErr("server returned 404 Not Found")
	}}
	c, s := newTestController(t, map[SourceKind]Fetcher{SourceDirectURL: ff}, nil)

	id, err := c.Submit(SourceDirectURL, "https://example.com/a.zip", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}

	c.Run(context.Background(), claimJob(t, s))

	job, _ := s.GetJob(id)
	if job.Status != store.JobFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if got := int(ff.calls.Load()); got != 1 {
		t.Errorf("permanent failure must not retry, got %d calls", got)
	}
}

func TestCancelPendingJob(t *testing.T) {
	ff := &fakeFetcher{}
	c, s := newTestController(t, map[SourceKind]Fetcher{SourceDirectURL: ff}, nil)

	id, err := c.Submit(SourceDirectURL, "https://example.com/a.zip", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	job, _ := s.GetJob(id)
	if job.Status != store.JobCancelled {
		t.Errorf("status = %s", job.Status)
	}

	// Terminal jobs refuse cancellation
	if err := c.Cancel(id); err == nil {
		t.Error("cancelling a cancelled job should fail")
	}
	if err := c.Cancel("no-such-job"); err == nil {
		t.Error("cancelling an unknown job should fail")
	}
}

func TestCancelRefusesImportingJob(t *testing.T) {
	ff := &fakeFetcher{}
	c, s := newTestController(t, map[SourceKind]Fetcher{SourceDirectURL: ff}, nil)

	id, err := c.Submit(SourceDirectURL, "https://example.com/a.zip", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateJobStatus(id, store.JobImporting, ""); err != nil {
		t.Fatal(err)
	}

	// A worker that reached importing keeps the job even if the operator's
	// status read predates the transition
	if err := c.Cancel(id); !errors.Is(err, util.ErrNotCancellable) {
		t.Errorf("Cancel on importing job = %v, want ErrNotCancellable", err)
	}
	job, _ := s.GetJob(id)
	if job.Status != store.JobImporting {
		t.Errorf("status = %s, importing must survive a cancel attempt", job.Status)
	}
}

func TestCancelDuringDownload(t *testing.T) {
	ff := &fakeFetcher{blockOn: context.Background()}
	c, s := newTestController(t, map[SourceKind]Fetcher{SourceDirectURL: ff}, nil)

	id, err := c.Submit(SourceDirectURL, "https://example.com/a.zip", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	job := claimJob(t, s)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), job)
		close(done)
	}()

	// Wait until the fetch is in flight
	deadline := time.Now().Add(5 * time.Second)
	for ff.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("fetch never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := c.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	got, _ := s.GetJob(id)
	if got.Status != store.JobCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestSweepRemovesOldTerminalJobs(t *testing.T) {
	ff := &fakeFetcher{}
	c, s := newTestController(t, map[SourceKind]Fetcher{SourceDirectURL: ff}, nil)

	id, err := c.Submit(SourceDirectURL, "https://example.com/a.zip", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Cancel(id); err != nil {
		t.Fatal(err)
	}

	// Retention age of zero sweeps everything terminal
	removed, err := c.Sweep(0)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("swept %d jobs, want 1", removed)
	}
	job, _ := s.GetJob(id)
	if job != nil {
		t.Error("terminal job should be gone after sweep")
	}
}
