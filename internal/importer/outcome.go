package importer

import "fmt"

// OutcomeKind classifies how an import attempt ended
type OutcomeKind int

const (
	// OutcomeCommitted means the release was persisted into the library
	OutcomeCommitted OutcomeKind = iota
	// OutcomeDuplicate means the library already holds this release at
	// equal or better quality
	OutcomeDuplicate
	// OutcomeNeedsReview means the candidate was parked for a human decision
	OutcomeNeedsReview
	// OutcomeFatal means the attempt failed and the candidate files were
	// moved to the failed holding area
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCommitted:
		return "committed"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeNeedsReview:
		return "needs_review"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Outcome is the result of one import attempt. Exactly one constructor
// below produces each kind; callers switch on Kind.
type Outcome struct {
	Kind OutcomeKind

	// Committed / Duplicate
	ReleaseID int64
	// Replaced is set when a commit superseded an existing lower-quality
	// release instead of creating a new one
	Replaced bool
	// ContentMatch distinguishes checksum-level duplicates from
	// name-level ones
	ContentMatch bool

	// NeedsReview
	ReviewID   int64
	Confidence float64
	Issues     []string

	// Duplicate / NeedsReview diagnostics
	Reason string

	// Fatal
	Err error
}

func Committed(releaseID int64, replaced bool) Outcome {
	return Outcome{Kind: OutcomeCommitted, ReleaseID: releaseID, Replaced: replaced}
}

func DuplicateFound(releaseID int64, content bool, reason string) Outcome {
	return Outcome{Kind: OutcomeDuplicate, ReleaseID: releaseID, ContentMatch: content, Reason: reason}
}

func NeedsReview(reviewID int64, confidence float64, issues []string, reason string) Outcome {
	return Outcome{Kind: OutcomeNeedsReview, ReviewID: reviewID, Confidence: confidence, Issues: issues, Reason: reason}
}

func Fatal(err error) Outcome {
	return Outcome{Kind: OutcomeFatal, Err: err}
}
