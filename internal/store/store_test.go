package store

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreOpenAndMigrate(t *testing.T) {
	s := openTestStore(t)

	version, err := s.getSchemaVersion()
	if err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("expected schema version %d, got %d", currentSchemaVersion, version)
	}

	tables := []string{"jobs", "artists", "releases", "tracks", "fingerprints", "review_tickets", "schema_version"}
	for _, table := range tables {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("expected table %s to exist", table)
		}
	}

	// Opening again is a no-op migration
	if err := s.migrate(); err != nil {
		t.Errorf("re-migration failed: %v", err)
	}

	if err := s.CheckIntegrity(); err != nil {
		t.Errorf("integrity check failed: %v", err)
	}
}

func TestJobLifecycle(t *testing.T) {
	s := openTestStore(t)

	job := &Job{
		ID:          "job-1",
		Source:      "direct_url",
		Locator:     "https://example.com/a.zip",
		QualityTier: "lossless",
		Status:      JobPending,
		Requester:   "cli",
	}
	if err := s.InsertJob(job); err != nil {
		t.Fatalf("InsertJob failed: %v", err)
	}

	got, err := s.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got == nil || got.Locator != job.Locator || got.QualityTier != "lossless" || got.Requester != "cli" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should be stamped on insert")
	}

	if missing, err := s.GetJob("nope"); err != nil || missing != nil {
		t.Errorf("missing job should be (nil, nil), got (%v, %v)", missing, err)
	}

	// Attempts count up
	for want := 1; want <= 2; want++ {
		n, err := s.IncrementJobAttempts("job-1")
		if err != nil || n != want {
			t.Errorf("IncrementJobAttempts = (%d, %v), want %d", n, err, want)
		}
	}

	// Progress fields are transient
	if err := s.UpdateJobProgress("job-1", 42.5, "1.2 MB/s", "30s"); err != nil {
		t.Fatalf("UpdateJobProgress failed: %v", err)
	}
	got, _ = s.GetJob("job-1")
	if got.Progress != 42.5 || got.Speed != "1.2 MB/s" || got.ETA != "30s" {
		t.Errorf("progress not stored: %+v", got)
	}

	// Terminal transition stamps completion
	if err := s.UpdateJobStatus("job-1", JobComplete, ""); err != nil {
		t.Fatalf("UpdateJobStatus failed: %v", err)
	}
	got, _ = s.GetJob("job-1")
	if got.Status != JobComplete {
		t.Errorf("status = %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("terminal status should stamp completed_at")
	}

	if err := s.SetJobRelease("job-1", 7); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetJob("job-1")
	if got.ReleaseID != 7 {
		t.Errorf("ReleaseID = %d", got.ReleaseID)
	}
}

func TestCancelJobConditional(t *testing.T) {
	s := openTestStore(t)

	s.InsertJob(&Job{ID: "pend", Source: "local", Locator: "/d1", Status: JobPending})
	s.InsertJob(&Job{ID: "imp", Source: "local", Locator: "/d2", Status: JobPending})
	if err := s.UpdateJobStatus("imp", JobImporting, ""); err != nil {
		t.Fatal(err)
	}

	ok, err := s.CancelJob("pend")
	if err != nil || !ok {
		t.Fatalf("CancelJob(pending) = (%v, %v), want (true, nil)", ok, err)
	}
	got, _ := s.GetJob("pend")
	if got.Status != JobCancelled {
		t.Errorf("status = %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("cancellation should stamp completed_at")
	}

	// Once a worker reaches importing the conditional write must lose
	ok, err = s.CancelJob("imp")
	if err != nil || ok {
		t.Fatalf("CancelJob(importing) = (%v, %v), want (false, nil)", ok, err)
	}
	got, _ = s.GetJob("imp")
	if got.Status != JobImporting {
		t.Errorf("status = %s, importing row must be untouched", got.Status)
	}
}

func TestClaimNextPendingIsOrderedAndExclusive(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"a", "b"} {
		if err := s.InsertJob(&Job{ID: id, Source: "local", Locator: "/drop/" + id, Status: JobPending}); err != nil {
			t.Fatal(err)
		}
		// Distinct created_at so ordering is deterministic
		time.Sleep(5 * time.Millisecond)
	}

	first, err := s.ClaimNextPending()
	if err != nil {
		t.Fatalf("ClaimNextPending failed: %v", err)
	}
	if first == nil || first.ID != "a" {
		t.Fatalf("expected oldest job first, got %+v", first)
	}
	if first.Status != JobDownloading {
		t.Errorf("claimed job should be downloading, got %s", first.Status)
	}
	if first.StartedAt == nil {
		t.Error("claim should stamp started_at")
	}

	second, _ := s.ClaimNextPending()
	if second == nil || second.ID != "b" {
		t.Fatalf("expected second job, got %+v", second)
	}

	empty, err := s.ClaimNextPending()
	if err != nil || empty != nil {
		t.Errorf("empty queue should yield (nil, nil), got (%v, %v)", empty, err)
	}
}

func TestRequeueInFlight(t *testing.T) {
	s := openTestStore(t)

	s.InsertJob(&Job{ID: "dl", Source: "local", Locator: "/d1", Status: JobPending})
	s.InsertJob(&Job{ID: "done", Source: "local", Locator: "/d2", Status: JobPending})
	s.ClaimNextPending()
	s.UpdateJobStatus("done", JobComplete, "")

	n, err := s.RequeueInFlight()
	if err != nil {
		t.Fatalf("RequeueInFlight failed: %v", err)
	}
	if n != 1 {
		t.Errorf("requeued %d, want 1", n)
	}
	job, _ := s.GetJob("dl")
	if job.Status != JobPending {
		t.Errorf("interrupted job status = %s, want pending", job.Status)
	}
	if job.Progress != 0 {
		t.Errorf("requeue should reset progress, got %f", job.Progress)
	}
	done, _ := s.GetJob("done")
	if done.Status != JobComplete {
		t.Error("terminal job must not be requeued")
	}
}

func TestSweepTerminalJobs(t *testing.T) {
	s := openTestStore(t)

	s.InsertJob(&Job{ID: "old", Source: "local", Locator: "/d1", Status: JobPending})
	s.InsertJob(&Job{ID: "fresh", Source: "local", Locator: "/d2", Status: JobPending})
	s.InsertJob(&Job{ID: "active", Source: "local", Locator: "/d3", Status: JobPending})
	s.UpdateJobStatus("old", JobFailed, "boom")
	s.UpdateJobStatus("fresh", JobComplete, "")

	// Backdate the old job's completion
	if _, err := s.db.Exec("UPDATE jobs SET completed_at = ? WHERE id = 'old'",
		time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatal(err)
	}

	removed, err := s.SweepTerminalJobs(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("SweepTerminalJobs failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed %d, want 1", removed)
	}
	if job, _ := s.GetJob("old"); job != nil {
		t.Error("old terminal job should be swept")
	}
	if job, _ := s.GetJob("fresh"); job == nil {
		t.Error("recent terminal job must survive")
	}
	if job, _ := s.GetJob("active"); job == nil {
		t.Error("active job must survive")
	}
}

func TestReleaseAndTracks(t *testing.T) {
	s := openTestStore(t)

	var releaseID int64
	err := s.Transaction(func(tx *sql.Tx) error {
		artistID, err := s.GetOrCreateArtistTx(tx, &Artist{Name: "Kraftwerk", NormName: "kraftwerk", SortName: "Kraftwerk"})
		if err != nil {
			return err
		}

		// Same normalized name resolves to the same row
		again, err := s.GetOrCreateArtistTx(tx, &Artist{Name: "KRAFTWERK", NormName: "kraftwerk"})
		if err != nil {
			return err
		}
		if again != artistID {
			t.Errorf("artist ids differ: %d vs %d", artistID, again)
		}

		releaseID, err = s.InsertReleaseTx(tx, &Release{
			ArtistID:  artistID,
			Title:     "Computer World",
			NormTitle: "computer world",
			Year:      1981,
			Source:    "catalog",
		})
		if err != nil {
			return err
		}

		for i := 1; i <= 2; i++ {
			_, err := s.InsertTrackTx(tx, &Track{
				ReleaseID:   releaseID,
				Disc:        1,
				TrackNumber: i,
				Title:       "Track",
				Checksum:    "sum",
				Path:        "/lib/t",
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	rel, err := s.GetRelease(releaseID)
	if err != nil || rel == nil {
		t.Fatalf("GetRelease = (%v, %v)", rel, err)
	}
	if rel.Title != "Computer World" || rel.Year != 1981 {
		t.Errorf("release mismatch: %+v", rel)
	}

	byKeys, _ := s.GetReleaseByKeys("kraftwerk", "computer world")
	if byKeys == nil || byKeys.ID != releaseID {
		t.Errorf("GetReleaseByKeys = %+v", byKeys)
	}

	tracks, err := s.GetReleaseTracks(releaseID)
	if err != nil || len(tracks) != 2 {
		t.Fatalf("GetReleaseTracks = (%d tracks, %v)", len(tracks), err)
	}
	if tracks[0].TrackNumber != 1 || tracks[1].TrackNumber != 2 {
		t.Error("tracks should come back in disc/track order")
	}

	id, found, err := s.FindReleaseByTrackChecksum("sum")
	if err != nil || !found || id != releaseID {
		t.Errorf("FindReleaseByTrackChecksum = (%d, %v, %v)", id, found, err)
	}
}

func TestReleaseUniqueConstraint(t *testing.T) {
	s := openTestStore(t)

	insert := func() error {
		return s.Transaction(func(tx *sql.Tx) error {
			artistID, err := s.GetOrCreateArtistTx(tx, &Artist{Name: "Orbital", NormName: "orbital"})
			if err != nil {
				return err
			}
			_, err = s.InsertReleaseTx(tx, &Release{ArtistID: artistID, Title: "In Sides", NormTitle: "in sides"})
			return err
		})
	}

	if err := insert(); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	err := insert()
	if err == nil {
		t.Fatal("duplicate (artist, norm_title) should violate the unique constraint")
	}
	if !IsConstraintViolation(err) {
		t.Errorf("IsConstraintViolation(%v) = false", err)
	}
	if IsConstraintViolation(errors.New("disk exploded")) {
		t.Error("unrelated errors are not constraint violations")
	}
}

func TestFingerprints(t *testing.T) {
	s := openTestStore(t)

	var releaseID int64
	err := s.Transaction(func(tx *sql.Tx) error {
		artistID, err := s.GetOrCreateArtistTx(tx, &Artist{Name: "Plaid", NormName: "plaid"})
		if err != nil {
			return err
		}
		releaseID, err = s.InsertReleaseTx(tx, &Release{ArtistID: artistID, Title: "Rest Proof Clockwork", NormTitle: "rest proof clockwork"})
		if err != nil {
			return err
		}
		return s.InsertFingerprintTx(tx, &Fingerprint{
			NormArtist:   "plaid",
			NormTitle:    "rest proof clockwork",
			NormTrack:    "shackbu",
			ReleaseID:    releaseID,
			QualityScore: 400,
			Checksum:     "abc123",
		})
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	fp, err := s.FindFingerprintByChecksum("abc123")
	if err != nil || fp == nil || fp.ReleaseID != releaseID {
		t.Errorf("FindFingerprintByChecksum = (%+v, %v)", fp, err)
	}
	fp, err = s.FindFingerprintByName("plaid", "rest proof clockwork")
	if err != nil || fp == nil || fp.QualityScore != 400 {
		t.Errorf("FindFingerprintByName = (%+v, %v)", fp, err)
	}
	if fp, _ := s.FindFingerprintByChecksum("missing"); fp != nil {
		t.Errorf("missing checksum should yield nil, got %+v", fp)
	}

	err = s.Transaction(func(tx *sql.Tx) error {
		return s.DeleteReleaseFingerprintsTx(tx, releaseID)
	})
	if err != nil {
		t.Fatal(err)
	}
	if fp, _ := s.FindFingerprintByChecksum("abc123"); fp != nil {
		t.Error("fingerprints should be gone after delete")
	}
}

func TestReviewTickets(t *testing.T) {
	s := openTestStore(t)

	id, err := s.InsertReviewTicket(&ReviewTicket{
		Location:   "/hold/review/drop",
		Artist:     "Unknown Artist",
		Album:      "Untitled",
		Confidence: 0.4,
		Status:     ReviewPending,
		Source:     "direct_url",
	})
	if err != nil {
		t.Fatalf("InsertReviewTicket failed: %v", err)
	}

	pending, err := s.GetReviewTicketsByStatus(ReviewPending)
	if err != nil || len(pending) != 1 {
		t.Fatalf("GetReviewTicketsByStatus = (%d, %v)", len(pending), err)
	}

	if err := s.UpdateReviewTicketStatus(id, ReviewApproved, "looks right"); err != nil {
		t.Fatalf("UpdateReviewTicketStatus failed: %v", err)
	}
	ticket, _ := s.GetReviewTicket(id)
	if ticket.Status != ReviewApproved || ticket.Note != "looks right" {
		t.Errorf("ticket = %+v", ticket)
	}
	if ticket.ResolvedAt == nil {
		t.Error("resolution should be stamped")
	}

	all, err := s.GetAllReviewTickets()
	if err != nil || len(all) != 1 {
		t.Errorf("GetAllReviewTickets = (%d, %v)", len(all), err)
	}
	if pending, _ := s.GetReviewTicketsByStatus(ReviewPending); len(pending) != 0 {
		t.Error("resolved ticket still listed as pending")
	}
}

func TestCounts(t *testing.T) {
	s := openTestStore(t)

	s.InsertJob(&Job{ID: "p1", Source: "local", Locator: "/d", Status: JobPending})
	n, err := s.CountJobsByStatus(JobPending)
	if err != nil || n != 1 {
		t.Errorf("CountJobsByStatus = (%d, %v)", n, err)
	}
	n, err = s.CountReleases()
	if err != nil || n != 0 {
		t.Errorf("CountReleases = (%d, %v)", n, err)
	}
}
