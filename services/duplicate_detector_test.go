package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tender-factory/models"
)

func TestTitleFingerprint(t *testing.T) {
	base := TitleFingerprint("Supply of chairs")

	assert.Equal(t, base, TitleFingerprint("supply of chairs"))
	assert.Equal(t, base, TitleFingerprint("  Supply   OF\tchairs "))
	assert.NotEqual(t, base, TitleFingerprint("Supply of tables"))
	// Umstellungen werden bewusst nicht erkannt
	assert.NotEqual(t, base, TitleFingerprint("Chairs of supply"))
}

func TestDuplicateDetectorExactMatchWinsOverFingerprint(t *testing.T) {
	store := newFakeTenderStore()
	store.byTenderID["T-exact"] = &models.NormalizedTender{
		TenderID:   "T-exact",
		PlatformID: "platform-a",
		ExternalID: "EXT-1",
	}
	store.byTenderID["T-fuzzy"] = &models.NormalizedTender{
		TenderID:         "T-fuzzy",
		PlatformID:       "platform-a",
		ExternalID:       "EXT-other",
		TitleFingerprint: TitleFingerprint("Supply of chairs"),
	}
	detector := NewDuplicateDetector(store, zap.NewNop())

	isDup, dupOf, err := detector.Check(context.Background(), "EXT-1", "platform-a", "Supply of chairs")
	require.NoError(t, err)
	assert.True(t, isDup)
	assert.Equal(t, "T-exact", dupOf, "exact external id match takes precedence")
}

func TestDuplicateDetectorFingerprintMatch(t *testing.T) {
	store := newFakeTenderStore()
	store.byTenderID["T-fuzzy"] = &models.NormalizedTender{
		TenderID:         "T-fuzzy",
		PlatformID:       "platform-a",
		TitleFingerprint: TitleFingerprint("Supply of chairs"),
	}
	detector := NewDuplicateDetector(store, zap.NewNop())

	isDup, dupOf, err := detector.Check(context.Background(), "EXT-new", "platform-a", " supply   OF chairs ")
	require.NoError(t, err)
	assert.True(t, isDup)
	assert.Equal(t, "T-fuzzy", dupOf)

	// andere Plattform, gleicher Titel: kein Duplikat
	isDup, _, err = detector.Check(context.Background(), "EXT-new", "platform-b", "Supply of chairs")
	require.NoError(t, err)
	assert.False(t, isDup)
}

func TestDuplicateDetectorIgnoresMarkedDuplicates(t *testing.T) {
	store := newFakeTenderStore()
	store.byTenderID["T-dup"] = &models.NormalizedTender{
		TenderID:         "T-dup",
		PlatformID:       "platform-a",
		TitleFingerprint: TitleFingerprint("Supply of chairs"),
		IsDuplicate:      true,
		DuplicateOf:      "T-original",
	}
	detector := NewDuplicateDetector(store, zap.NewNop())

	isDup, _, err := detector.Check(context.Background(), "", "platform-a", "Supply of chairs")
	require.NoError(t, err)
	assert.False(t, isDup, "fingerprint matching only considers canonical records")
}

func TestDuplicateDetectorNoMatch(t *testing.T) {
	detector := NewDuplicateDetector(newFakeTenderStore(), zap.NewNop())

	isDup, dupOf, err := detector.Check(context.Background(), "EXT-1", "platform-a", "Supply of chairs")
	require.NoError(t, err)
	assert.False(t, isDup)
	assert.Empty(t, dupOf)
}

func TestDuplicateDetectorMarkAsDuplicate(t *testing.T) {
	store := newFakeTenderStore()
	store.byTenderID["T-a"] = &models.NormalizedTender{TenderID: "T-a", PlatformID: "platform-a"}
	store.byTenderID["T-b"] = &models.NormalizedTender{TenderID: "T-b", PlatformID: "platform-a"}
	detector := NewDuplicateDetector(store, zap.NewNop())

	require.NoError(t, detector.MarkAsDuplicate(context.Background(), "T-b", "T-a"))

	duplicates, err := detector.DuplicatesOf(context.Background(), "T-a")
	require.NoError(t, err)
	require.Len(t, duplicates, 1)
	assert.Equal(t, "T-b", duplicates[0].TenderID)
}
