// Package duplicates implements the two-phase duplicate check consulted
// before any write: a metadata match first (owner, name, size, provider),
// then a content-hash lookup across the user's registered files.
package duplicates

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mrlokans/skyferry/internal/database/files"
	"github.com/mrlokans/skyferry/internal/entities"
)

// MatchType says which phase produced the duplicate verdict.
type MatchType string

const (
	MatchNone     MatchType = ""
	MatchMetadata MatchType = "metadata"
	MatchHash     MatchType = "hash"
)

// CheckResult is the outcome of a duplicate check.
type CheckResult struct {
	IsDuplicate bool
	MatchType   MatchType
	// HashMatched is false on a metadata match whose stored hash differs
	// from the supplied one ("metadata match, not hash match"). The file
	// is still treated as a duplicate; the caller may surface the nuance.
	HashMatched bool
	Existing    *entities.FileRecord
}

// Candidate describes a file about to be written.
type Candidate struct {
	UserID      uint
	Name        string
	Size        int64
	Provider    entities.ProviderName // optional; narrows the metadata match
	ContentHash string                // optional SHA-256 digest
}

// Detector runs duplicate checks against the file registry.
type Detector struct {
	files *files.Repository
}

// NewDetector creates a duplicate detector.
func NewDetector(files *files.Repository) *Detector {
	return &Detector{files: files}
}

// Check runs both phases. Phase 1 never touches content; phase 2 only runs
// when a content hash was supplied and phase 1 found nothing.
func (d *Detector) Check(candidate Candidate) (*CheckResult, error) {
	byMeta, err := d.files.FindByMetadata(candidate.UserID, candidate.Name, candidate.Size, candidate.Provider)
	if err != nil {
		return nil, fmt.Errorf("failed to check metadata match: %w", err)
	}
	if byMeta != nil {
		hashMatched := true
		if candidate.ContentHash != "" && byMeta.ContentHash != "" && byMeta.ContentHash != candidate.ContentHash {
			hashMatched = false
		}
		return &CheckResult{
			IsDuplicate: true,
			MatchType:   MatchMetadata,
			HashMatched: hashMatched,
			Existing:    byMeta,
		}, nil
	}

	if candidate.ContentHash != "" {
		byHash, err := d.files.FindByHash(candidate.UserID, candidate.ContentHash)
		if err != nil {
			return nil, fmt.Errorf("failed to check hash match: %w", err)
		}
		if byHash != nil {
			return &CheckResult{
				IsDuplicate: true,
				MatchType:   MatchHash,
				HashMatched: true,
				Existing:    byHash,
			}, nil
		}
	}

	return &CheckResult{}, nil
}

// Register records a successfully written file for future checks. Callers
// invoke this after the write succeeds; registration is never automatic.
func (d *Detector) Register(record *entities.FileRecord) error {
	return d.files.Register(record)
}

// SuffixedName returns the name the copy_with_suffix strategy writes under:
// report.pdf becomes report_copy.pdf.
func SuffixedName(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return base + "_copy" + ext
}
