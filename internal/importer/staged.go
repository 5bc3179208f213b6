package importer

import (
	"fmt"
	"path/filepath"

	"github.com/franz/cratekeeper/internal/util"
)

// stagedFile records one completed src→dst move
type stagedFile struct {
	src string
	dst string
}

// StagedMove is the two-phase file placement used by the import engine.
// Stage moves files into their final library locations while recording
// each move; Commit forgets the records once the database transaction has
// landed; Revert evacuates already-placed files into the failed holding
// area when anything later in the pipeline errors.
type StagedMove struct {
	moves []stagedFile
}

func NewStagedMove() *StagedMove {
	return &StagedMove{}
}

// Stage moves a file into its destination, creating parent directories as
// needed. A destination that already exists is overwritten; callers set
// aside any files they may still need before staging begins.
func (m *StagedMove) Stage(src, dst string) error {
	if err := util.EnsureDir(filepath.Dir(dst)); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	if err := util.MoveFile(src, dst); err != nil {
		return fmt.Errorf("failed to place %s: %w", filepath.Base(src), err)
	}
	m.moves = append(m.moves, stagedFile{src: src, dst: dst})
	return nil
}

// Placed returns the destination paths moved so far, in order
func (m *StagedMove) Placed() []string {
	paths := make([]string, len(m.moves))
	for i, mv := range m.moves {
		paths[i] = mv.dst
	}
	return paths
}

// Commit finalizes the staging. Nothing is deleted; the records are
// dropped so a later Revert cannot undo a committed import.
func (m *StagedMove) Commit() {
	m.moves = nil
}

// Revert moves every staged file into failedDir and returns the paths it
// could not move. Files that cannot be evacuated are orphans inside the
// library and need operator attention; the caller escalates them.
func (m *StagedMove) Revert(failedDir string) (orphans []string, err error) {
	if len(m.moves) == 0 {
		return nil, nil
	}

	if dirErr := util.EnsureDir(failedDir); dirErr != nil {
		// Cannot evacuate anywhere; everything placed is orphaned
		for _, mv := range m.moves {
			orphans = append(orphans, mv.dst)
		}
		m.moves = nil
		return orphans, fmt.Errorf("failed to create holding directory: %w", dirErr)
	}

	var firstErr error
	for _, mv := range m.moves {
		dst := filepath.Join(failedDir, filepath.Base(mv.dst))
		if mvErr := util.MoveFile(mv.dst, dst); mvErr != nil {
			orphans = append(orphans, mv.dst)
			if firstErr == nil {
				firstErr = mvErr
			}
		}
	}
	m.moves = nil

	if firstErr != nil {
		return orphans, fmt.Errorf("rollback incomplete, %d file(s) stranded: %w", len(orphans), firstErr)
	}
	return nil, nil
}
