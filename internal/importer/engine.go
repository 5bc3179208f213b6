package importer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/franz/cratekeeper/internal/dedupe"
	"github.com/franz/cratekeeper/internal/identify"
	"github.com/franz/cratekeeper/internal/integrity"
	"github.com/franz/cratekeeper/internal/meta"
	"github.com/franz/cratekeeper/internal/quality"
	"github.com/franz/cratekeeper/internal/report"
	"github.com/franz/cratekeeper/internal/store"
	"github.com/franz/cratekeeper/internal/util"
	"github.com/franz/cratekeeper/internal/validate"
)

// Config holds import engine configuration
type Config struct {
	Layout     Layout
	Validation validate.Options
}

// Candidate is one downloaded release awaiting import
type Candidate struct {
	JobID     string
	Dir       string
	Source    string
	SourceURL string
	Tracks    []meta.TrackMeta
	ID        identify.Identification
	// Threshold is the inclusive minimum identification confidence.
	// Authoritative sources set 0 so everything passes.
	Threshold float64
	// Reviewed marks a candidate re-entering after operator approval.
	// Validation and the confidence gate are bypassed; the operator's
	// judgment already covered them.
	Reviewed bool
}

// Overrides carries operator-supplied corrections on review approval
type Overrides struct {
	Artist string
	Album  string
	Year   int
}

// Engine drives the import pipeline: checksum, duplicate detection,
// integrity verification, validation, gating, and the final persist with
// two-phase file placement.
type Engine struct {
	store     *store.Store
	detector  *dedupe.Detector
	extractor *meta.Extractor
	logger    *report.EventLogger
	cfg       Config
}

// New creates a new import engine
func New(s *store.Store, logger *report.EventLogger, cfg Config) *Engine {
	if cfg.Validation.CompilationArtists == 0 {
		cfg.Validation = validate.DefaultOptions()
	}
	return &Engine{
		store:     s,
		detector:  dedupe.New(s),
		extractor: meta.New(),
		logger:    logger,
		cfg:       cfg,
	}
}

// NewCandidate extracts metadata from a downloaded directory and resolves
// its identity through the given identifier
func (e *Engine) NewCandidate(ctx context.Context, jobID, dir, source, sourceURL string, ident identify.Identifier, threshold float64) (*Candidate, error) {
	tracks, err := e.extractor.Extract(dir)
	if err != nil {
		return nil, err
	}
	id, err := ident.Identify(ctx, tracks)
	if err != nil {
		return nil, fmt.Errorf("identification failed: %w", err)
	}
	return &Candidate{
		JobID:     jobID,
		Dir:       dir,
		Source:    source,
		SourceURL: sourceURL,
		Tracks:    tracks,
		ID:        id,
		Threshold: threshold,
	}, nil
}

// Import runs the pipeline on one candidate. Stage order is fixed:
// checksum, content duplicate, integrity, validation, confidence gate,
// name duplicate with quality comparison, persist. Every exit path
// leaves the candidate files in a well-defined place: the library on
// commit, the review area on NeedsReview, the failed holding area on
// Fatal, untouched in the staging dir on Duplicate.
func (e *Engine) Import(ctx context.Context, c *Candidate) Outcome {
	start := time.Now()

	if len(c.Tracks) == 0 {
		return e.park(c, fmt.Errorf("%w: candidate has no tracks", util.ErrNotFound))
	}
	if err := ctx.Err(); err != nil {
		return Fatal(err)
	}

	// Checksum every track up front; both duplicate tiers and the
	// fingerprint rows need them
	checksums := make([]string, len(c.Tracks))
	for i, t := range c.Tracks {
		sum, err := util.HashFile(t.Path)
		if err != nil {
			return e.park(c, fmt.Errorf("failed to checksum %s: %w", filepath.Base(t.Path), err))
		}
		checksums[i] = sum
	}

	// Tier 1: content duplicates. Byte-identical audio is a duplicate no
	// matter what the tags claim.
	if match, err := e.detector.ByContent(checksums); err != nil {
		return e.park(c, err)
	} else if match != nil {
		e.logger.LogDuplicate(c.JobID, match.ReleaseID, fmt.Sprintf("%d track(s) match existing content", match.MatchingTracks))
		return DuplicateFound(match.ReleaseID, true, "audio content already in library")
	}

	paths := make([]string, len(c.Tracks))
	for i, t := range c.Tracks {
		paths[i] = t.Path
	}
	rep, err := integrity.VerifyRelease(paths)
	if err != nil {
		if rep != nil {
			e.logger.LogIntegrity(c.JobID, rep.FailedFiles(3))
		}
		return e.park(c, err)
	}

	qualities := make([]quality.Quality, len(c.Tracks))
	for i, t := range c.Tracks {
		qualities[i] = quality.Quality{
			Lossy:       t.Lossy,
			SampleRate:  t.SampleRate,
			BitDepth:    t.BitDepth,
			BitrateKbps: t.BitrateKbps,
			SizeBytes:   t.SizeBytes,
		}
	}

	valRes := validate.Check(toTrackTags(c.Tracks), meta.FolderName(c.Dir), e.cfg.Validation)
	if !c.Reviewed {
		if !valRes.Valid {
			return e.review(c, qualities, valRes.Issues, "metadata validation failed")
		}
		// Inclusive gate: confidence at the threshold passes. A zero
		// threshold (authoritative sources) passes everything.
		if c.ID.Confidence < c.Threshold {
			reason := fmt.Sprintf("identification confidence %.2f below threshold %.2f", c.ID.Confidence, c.Threshold)
			return e.review(c, qualities, nil, reason)
		}
	}

	artist, album := c.resolvedNames(valRes)
	if album == "" {
		return e.review(c, qualities, []string{"no album name could be determined"}, "unidentifiable release")
	}
	compilation := c.ID.Compilation || valRes.Compilation

	// Tier 2: name duplicates. Same artist and album after normalization
	// is the same release; only strictly better quality replaces it.
	newScore := quality.ForRelease(qualities).Score()
	var replaceID int64
	var oldScore int
	if nm, err := e.detector.ByName(artist, album); err != nil {
		return e.park(c, err)
	} else if nm != nil {
		if newScore <= nm.QualityScore {
			e.logger.LogDuplicate(c.JobID, nm.ReleaseID, "existing quality equal or better")
			return DuplicateFound(nm.ReleaseID, false, "release already in library at equal or better quality")
		}
		replaceID = nm.ReleaseID
		oldScore = nm.QualityScore
	}

	if err := ctx.Err(); err != nil {
		return Fatal(err)
	}

	return e.persist(c, checksums, qualities, artist, album, compilation, replaceID, oldScore, newScore, start)
}

// persist places files and commits rows. Files move first so the
// database never references paths that do not exist; a failed commit
// rolls the placement back into the failed holding area.
func (e *Engine) persist(c *Candidate, checksums []string, qualities []quality.Quality, artist, album string, compilation bool, replaceID int64, oldScore, newScore int, start time.Time) Outcome {
	releaseDir := e.cfg.Layout.ReleaseDir(artist, album, c.ID.Year)
	multiDisc := false
	for _, t := range c.Tracks {
		if t.DiscNumber > 1 {
			multiDisc = true
			break
		}
	}

	// Set the superseded release's files aside before staging. The new
	// tracks land on the same paths, and the committed bytes must stay
	// recoverable until the transaction lands.
	var evacDir string
	var evacuated []evacuatedFile
	if replaceID != 0 {
		oldTracks, err := e.store.GetReleaseTracks(replaceID)
		if err != nil {
			return e.park(c, err)
		}
		evacDir = filepath.Join(e.cfg.Layout.FailedDir, "replace-"+shortID())
		for i, t := range oldTracks {
			held := filepath.Join(evacDir, fmt.Sprintf("%03d-%s", i, filepath.Base(t.Path)))
			if err := util.MoveFile(t.Path, held); err != nil {
				e.restoreEvacuated(evacuated, evacDir)
				return e.park(c, fmt.Errorf("failed to set aside superseded file %s: %w", filepath.Base(t.Path), err))
			}
			evacuated = append(evacuated, evacuatedFile{orig: t.Path, held: held})
		}
	}

	staged := NewStagedMove()
	dests := make([]string, len(c.Tracks))
	for i, t := range c.Tracks {
		dests[i] = e.cfg.Layout.TrackPath(releaseDir, t, multiDisc, compilation)
		if err := staged.Stage(t.Path, dests[i]); err != nil {
			out := e.rollback(c, staged, err)
			e.restoreEvacuated(evacuated, evacDir)
			return out
		}
	}

	normArtist := dedupe.Normalize(artist)
	normAlbum := dedupe.Normalize(album)

	var releaseID int64
	err := e.store.Transaction(func(tx *sql.Tx) error {
		artistID, err := e.store.GetOrCreateArtistTx(tx, &store.Artist{
			Name:     artist,
			NormName: normArtist,
			SortName: sortName(artist),
		})
		if err != nil {
			return err
		}

		if replaceID != 0 {
			releaseID = replaceID
			rel := &store.Release{
				ID:          replaceID,
				Year:        c.ID.Year,
				Source:      c.Source,
				SourceURL:   c.SourceURL,
				Compilation: compilation,
				Verified:    c.Reviewed,
			}
			if err := e.store.TouchReleaseTx(tx, rel); err != nil {
				return err
			}
			if err := e.store.DeleteReleaseTracksTx(tx, replaceID); err != nil {
				return err
			}
			if err := e.store.DeleteReleaseFingerprintsTx(tx, replaceID); err != nil {
				return err
			}
		} else {
			releaseID, err = e.store.InsertReleaseTx(tx, &store.Release{
				ArtistID:    artistID,
				Title:       album,
				NormTitle:   normAlbum,
				Year:        c.ID.Year,
				Source:      c.Source,
				SourceURL:   c.SourceURL,
				Compilation: compilation,
				Verified:    c.Reviewed,
			})
			if err != nil {
				return err
			}
		}

		for i, t := range c.Tracks {
			q := qualities[i]
			trackID, err := e.store.InsertTrackTx(tx, &store.Track{
				ReleaseID:    releaseID,
				Disc:         t.DiscNumber,
				TrackNumber:  t.TrackNumber,
				Title:        t.Title,
				DurationMs:   t.DurationMs,
				SampleRate:   t.SampleRate,
				BitDepth:     t.BitDepth,
				BitrateKbps:  t.BitrateKbps,
				Lossy:        t.Lossy,
				SizeBytes:    t.SizeBytes,
				Checksum:     checksums[i],
				QualityLabel: q.Label(t.Format),
				Path:         dests[i],
				ISRC:         t.ISRC,
				Composer:     t.Composer,
			})
			if err != nil {
				return err
			}
			if err := e.store.InsertFingerprintTx(tx, &store.Fingerprint{
				NormArtist:   normArtist,
				NormTitle:    normAlbum,
				NormTrack:    dedupe.Normalize(t.Title),
				Source:       c.Source,
				QualityScore: q.Score(),
				Checksum:     checksums[i],
				ReleaseID:    releaseID,
				TrackID:      trackID,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if store.IsConstraintViolation(err) {
			// A release-key violation on a fresh insert means another
			// worker committed this release between our name check and
			// the insert. The layout is deterministic, so our files
			// landed on the winner's paths; leave them and report the
			// duplicate. A replacement already holds the release row,
			// so its violations are real persist failures.
			if replaceID == 0 {
				if existing, qerr := e.store.GetReleaseByKeys(normArtist, normAlbum); qerr == nil && existing != nil {
					staged.Commit()
					e.logger.LogDuplicate(c.JobID, existing.ID, "lost commit race to concurrent import")
					return DuplicateFound(existing.ID, false, "release committed concurrently by another job")
				}
			}
			err = fmt.Errorf("%w: %v", util.ErrConstraint, err)
		}
		out := e.rollback(c, staged, err)
		e.restoreEvacuated(evacuated, evacDir)
		return out
	}

	staged.Commit()

	// Superseded files go only after the transaction has landed
	if evacDir != "" {
		if rmErr := os.RemoveAll(evacDir); rmErr != nil {
			util.WarnLog("Failed to remove superseded files in %s: %v", evacDir, rmErr)
		}
	}

	// Drop the emptied staging directory and any non-audio leftovers
	if c.Dir != "" {
		if rmErr := os.RemoveAll(c.Dir); rmErr != nil {
			util.WarnLog("Failed to remove staging dir %s: %v", c.Dir, rmErr)
		}
	}

	if replaceID != 0 {
		util.SuccessLog("Replaced %s - %s (quality %d -> %d)", artist, album, oldScore, newScore)
		e.logger.LogReleaseReplaced(c.JobID, releaseID, artist, album, oldScore, newScore)
	} else {
		util.SuccessLog("Imported %s - %s (%d tracks)", artist, album, len(c.Tracks))
		e.logger.LogReleaseCreated(c.JobID, releaseID, artist, album, newScore, time.Since(start))
	}

	return Committed(releaseID, replaceID != 0)
}

// review parks the candidate in the review holding area and opens a ticket
func (e *Engine) review(c *Candidate, qualities []quality.Quality, issues []string, reason string) Outcome {
	dest := HoldingDir(e.cfg.Layout.ReviewDir, c.Dir, shortID())
	if err := util.MoveDir(c.Dir, dest); err != nil {
		return e.park(c, fmt.Errorf("failed to park candidate for review: %w", err))
	}

	note := reason
	if len(issues) > 0 {
		note += ": " + strings.Join(issues, "; ")
	}

	agg := quality.ForRelease(qualities)
	snapshot, _ := json.Marshal(map[string]any{
		"score":        agg.Score(),
		"lossy":        agg.Lossy,
		"sample_rate":  agg.SampleRate,
		"bit_depth":    agg.BitDepth,
		"bitrate_kbps": agg.BitrateKbps,
		"size_bytes":   agg.SizeBytes,
		"tracks":       len(qualities),
	})

	ticketID, err := e.store.InsertReviewTicket(&store.ReviewTicket{
		Location:    dest,
		Artist:      c.ID.Artist,
		Album:       c.ID.Album,
		Year:        c.ID.Year,
		Confidence:  c.ID.Confidence,
		QualityJSON: string(snapshot),
		Status:      store.ReviewPending,
		Note:        note,
		Source:      c.Source,
		SourceURL:   c.SourceURL,
	})
	if err != nil {
		return Fatal(fmt.Errorf("failed to open review ticket: %w", err))
	}

	util.WarnLog("Parked %s for review: %s", filepath.Base(dest), reason)
	e.logger.LogReviewNeeded(c.JobID, ticketID, c.ID.Artist, c.ID.Album, reason)

	return NeedsReview(ticketID, c.ID.Confidence, issues, reason)
}

// park evacuates an unstaged candidate into the failed holding area and
// returns Fatal carrying the original error
func (e *Engine) park(c *Candidate, cause error) Outcome {
	dest := HoldingDir(e.cfg.Layout.FailedDir, c.Dir, shortID())
	if err := util.MoveDir(c.Dir, dest); err != nil {
		util.ErrorLog("Failed to park %s: %v", c.Dir, err)
	}
	return Fatal(cause)
}

// rollback reverts staged moves into the failed holding area. A failed
// revert strands files inside the library; that gets the loudest
// escalation the system has, but the original error still wins.
func (e *Engine) rollback(c *Candidate, staged *StagedMove, cause error) Outcome {
	dest := HoldingDir(e.cfg.Layout.FailedDir, c.Dir, shortID())
	orphans, err := staged.Revert(dest)
	if err != nil {
		util.CriticalLog("Rollback for job %s left %d orphaned file(s) in the library: %v", c.JobID, len(orphans), err)
		e.logger.LogOrphanFiles(c.JobID, orphans, err)
	}
	// Whatever never got staged goes too
	if mvErr := util.MoveDir(c.Dir, dest); mvErr != nil {
		util.DebugLog("No staging leftovers to evacuate from %s: %v", c.Dir, mvErr)
	}
	return Fatal(cause)
}

// evacuatedFile records where a superseded file is held while its
// replacement commits
type evacuatedFile struct {
	orig string
	held string
}

// restoreEvacuated puts superseded files back on their committed paths
// after a failed replacement. A file that cannot be restored is an
// orphan the operator has to recover from the holding directory.
func (e *Engine) restoreEvacuated(files []evacuatedFile, evacDir string) {
	for _, f := range files {
		if err := util.MoveFile(f.held, f.orig); err != nil {
			util.CriticalLog("Failed to restore superseded file %s from %s: %v", f.orig, f.held, err)
		}
	}
	if evacDir != "" {
		os.Remove(evacDir)
	}
}

// Approve re-enters the import pipeline for a parked candidate with the
// operator's corrections applied and both gates bypassed
func (e *Engine) Approve(ctx context.Context, ticketID int64, ov Overrides) (Outcome, error) {
	t, err := e.store.GetReviewTicket(ticketID)
	if err != nil {
		return Outcome{}, err
	}
	if t.Status != store.ReviewPending {
		return Outcome{}, fmt.Errorf("ticket %d already resolved (%s)", ticketID, t.Status)
	}

	tracks, err := e.extractor.Extract(t.Location)
	if err != nil {
		e.store.UpdateReviewTicketStatus(ticketID, store.ReviewFailed, err.Error())
		return Outcome{}, err
	}

	id := identify.Identification{
		Artist:     firstNonEmpty(ov.Artist, t.Artist),
		Album:      firstNonEmpty(ov.Album, t.Album),
		Year:       t.Year,
		Confidence: 1.0,
	}
	if ov.Year > 0 {
		id.Year = ov.Year
	}

	c := &Candidate{
		Dir:       t.Location,
		Source:    t.Source,
		SourceURL: t.SourceURL,
		Tracks:    tracks,
		ID:        id,
		Reviewed:  true,
	}

	out := e.Import(ctx, c)
	switch out.Kind {
	case OutcomeCommitted:
		err = e.store.UpdateReviewTicketStatus(ticketID, store.ReviewApproved, "")
	case OutcomeDuplicate:
		err = e.store.UpdateReviewTicketStatus(ticketID, store.ReviewRejected, out.Reason)
	default:
		msg := out.Reason
		if out.Err != nil {
			msg = out.Err.Error()
		}
		err = e.store.UpdateReviewTicketStatus(ticketID, store.ReviewFailed, msg)
	}
	if err != nil {
		return out, err
	}

	e.logger.LogReviewResolved(ticketID, out.Kind.String())
	return out, nil
}

// Reject closes a ticket without importing. Files stay in the review
// holding area for manual disposal.
func (e *Engine) Reject(ticketID int64, note string) error {
	t, err := e.store.GetReviewTicket(ticketID)
	if err != nil {
		return err
	}
	if t.Status != store.ReviewPending {
		return fmt.Errorf("ticket %d already resolved (%s)", ticketID, t.Status)
	}
	if note == "" {
		note = "rejected by operator"
	}
	if err := e.store.UpdateReviewTicketStatus(ticketID, store.ReviewRejected, note); err != nil {
		return err
	}
	e.logger.LogReviewResolved(ticketID, store.ReviewRejected)
	return nil
}

// resolvedNames picks the artist and album to commit under
func (c *Candidate) resolvedNames(valRes validate.Result) (artist, album string) {
	artist = c.ID.Artist
	if artist == "" {
		artist = valRes.ArtistLabel
	}
	if artist == "" {
		artist = "Unknown Artist"
	}
	album = c.ID.Album
	if album == "" {
		for _, t := range c.Tracks {
			if t.Album != "" {
				album = t.Album
				break
			}
		}
	}
	return artist, album
}

func toTrackTags(tracks []meta.TrackMeta) []validate.TrackTags {
	tags := make([]validate.TrackTags, len(tracks))
	for i, t := range tracks {
		artist := t.Artist
		if artist == "" {
			artist = t.AlbumArtist
		}
		tags[i] = validate.TrackTags{
			Artist:      artist,
			Album:       t.Album,
			Title:       t.Title,
			Compilation: t.Compilation,
		}
	}
	return tags
}

// sortName produces a sortable artist name ("The Beatles" -> "Beatles, The")
func sortName(name string) string {
	for _, article := range []string{"The ", "A ", "An "} {
		if strings.HasPrefix(name, article) && len(name) > len(article) {
			return name[len(article):] + ", " + strings.TrimSpace(article)
		}
	}
	return name
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func shortID() string {
	return uuid.NewString()[:8]
}
