package duplicates

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/skyferry/internal/database/files"
	"github.com/mrlokans/skyferry/internal/entities"
)

func setupDetector(t *testing.T) (*Detector, func()) {
	dbPath := "./test_duplicates_" + t.Name() + ".db"

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&entities.FileRecord{})
	require.NoError(t, err)

	detector := NewDetector(files.NewRepository(db))

	cleanup := func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
		os.Remove(dbPath)
	}

	return detector, cleanup
}

func TestDetector_NoMatch(t *testing.T) {
	detector, cleanup := setupDetector(t)
	defer cleanup()

	result, err := detector.Check(Candidate{UserID: 1, Name: "report.pdf", Size: 1024})
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
	assert.Equal(t, MatchNone, result.MatchType)
	assert.Nil(t, result.Existing)
}

func TestDetector_MetadataMatch(t *testing.T) {
	detector, cleanup := setupDetector(t)
	defer cleanup()

	require.NoError(t, detector.Register(&entities.FileRecord{
		UserID: 1, Name: "report.pdf", Size: 1024,
		Provider: entities.ProviderDropbox, FileID: "dbx-1", ContentHash: "aaa",
	}))

	result, err := detector.Check(Candidate{
		UserID: 1, Name: "report.pdf", Size: 1024,
		Provider: entities.ProviderDropbox, ContentHash: "aaa",
	})
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.Equal(t, MatchMetadata, result.MatchType)
	assert.True(t, result.HashMatched)
	assert.Equal(t, "dbx-1", result.Existing.FileID)
}

func TestDetector_MetadataMatchWithDifferentHash(t *testing.T) {
	detector, cleanup := setupDetector(t)
	defer cleanup()

	require.NoError(t, detector.Register(&entities.FileRecord{
		UserID: 1, Name: "report.pdf", Size: 1024,
		Provider: entities.ProviderDropbox, ContentHash: "aaa",
	}))

	// Same name and size, different content: still a duplicate verdict, but
	// the hash mismatch is surfaced.
	result, err := detector.Check(Candidate{
		UserID: 1, Name: "report.pdf", Size: 1024,
		Provider: entities.ProviderDropbox, ContentHash: "bbb",
	})
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.Equal(t, MatchMetadata, result.MatchType)
	assert.False(t, result.HashMatched)
}

func TestDetector_HashMatchUnderDifferentName(t *testing.T) {
	detector, cleanup := setupDetector(t)
	defer cleanup()

	require.NoError(t, detector.Register(&entities.FileRecord{
		UserID: 1, Name: "original.pdf", Size: 1024,
		Provider: entities.ProviderDropbox, ContentHash: "aaa",
	}))

	result, err := detector.Check(Candidate{
		UserID: 1, Name: "renamed.pdf", Size: 2048, ContentHash: "aaa",
	})
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.Equal(t, MatchHash, result.MatchType)
	assert.True(t, result.HashMatched)
	assert.Equal(t, "original.pdf", result.Existing.Name)
}

func TestDetector_HashPhaseSkippedWithoutHash(t *testing.T) {
	detector, cleanup := setupDetector(t)
	defer cleanup()

	require.NoError(t, detector.Register(&entities.FileRecord{
		UserID: 1, Name: "original.pdf", Size: 1024, ContentHash: "aaa",
	}))

	result, err := detector.Check(Candidate{UserID: 1, Name: "renamed.pdf", Size: 2048})
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
}

func TestDetector_ScopedToUser(t *testing.T) {
	detector, cleanup := setupDetector(t)
	defer cleanup()

	require.NoError(t, detector.Register(&entities.FileRecord{
		UserID: 1, Name: "report.pdf", Size: 1024, ContentHash: "aaa",
	}))

	result, err := detector.Check(Candidate{
		UserID: 2, Name: "report.pdf", Size: 1024, ContentHash: "aaa",
	})
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
}

func TestSuffixedName(t *testing.T) {
	assert.Equal(t, "report_copy.pdf", SuffixedName("report.pdf"))
	assert.Equal(t, "archive.tar_copy.gz", SuffixedName("archive.tar.gz"))
	assert.Equal(t, "README_copy", SuffixedName("README"))
}
