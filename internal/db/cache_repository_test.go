package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func newTestRepository(t *testing.T, keepHistory bool) (*CacheRepository, *Database) {
	t.Helper()

	database, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return NewCacheRepository(database, keepHistory), database
}

func testFiles() []PackageFile {
	return []PackageFile{
		{FileName: "game.msixvc", Size: 1 << 30, URL: "https://cdn.example.com/game.msixvc"},
		{FileName: "game.phf", Size: 4096},
	}
}

// A cached entry stays fresh for any catalog timestamp at or before the
// stored one and goes stale the instant the catalog reports a newer one.
func TestProperty_CacheFreshness(t *testing.T) {
	repo, _ := newTestRepository(t, false)
	ctx := context.Background()

	stored := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	if err := repo.Store(ctx, "9WZDNCRFJ3TJ", "content-1", stored, testFiles()); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("hit iff candidate not newer than stored", prop.ForAll(
		func(offsetSeconds int64) bool {
			candidate := stored.Add(time.Duration(offsetSeconds) * time.Second)
			entry, err := repo.Lookup(ctx, "9WZDNCRFJ3TJ", candidate)
			if err != nil {
				return false
			}
			if offsetSeconds > 0 {
				return entry == nil
			}
			return entry != nil && entry.ContentID == "content-1"
		},
		gen.Int64Range(-86400, 86400),
	))

	properties.TestingRun(t)
}

func TestLookupBoundary(t *testing.T) {
	repo, _ := newTestRepository(t, false)
	ctx := context.Background()

	stored := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	if err := repo.Store(ctx, "9WZDNCRFJ3TJ", "content-1", stored, testFiles()); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// Equal timestamps are a hit.
	entry, err := repo.Lookup(ctx, "9WZDNCRFJ3TJ", stored)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if entry == nil {
		t.Fatal("equal last-modified should hit")
	}
	if len(entry.Files) != 2 || entry.Files[0].FileName != "game.msixvc" {
		t.Errorf("files round-trip mismatch: %+v", entry.Files)
	}

	// One nanosecond newer is a miss.
	entry, err = repo.Lookup(ctx, "9WZDNCRFJ3TJ", stored.Add(time.Nanosecond))
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if entry != nil {
		t.Error("newer candidate should miss")
	}
}

func TestLookupMissingProduct(t *testing.T) {
	repo, _ := newTestRepository(t, false)

	entry, err := repo.Lookup(context.Background(), "9WZDNCRFJ3TJ", time.Now())
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if entry != nil {
		t.Errorf("lookup on empty cache returned %+v", entry)
	}
}

func TestLookupNormalizesProductID(t *testing.T) {
	repo, _ := newTestRepository(t, false)
	ctx := context.Background()

	stored := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	if err := repo.Store(ctx, "9wzdncrfj3tj", "content-1", stored, testFiles()); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	for _, id := range []string{"9WZDNCRFJ3TJ", "9wzdncrfj3tj", "  9WzDnCrFj3Tj  "} {
		entry, err := repo.Lookup(ctx, id, stored)
		if err != nil {
			t.Fatalf("Lookup(%q) failed: %v", id, err)
		}
		if entry == nil {
			t.Errorf("Lookup(%q) missed", id)
			continue
		}
		if entry.ProductID != "9WZDNCRFJ3TJ" {
			t.Errorf("stored product id = %q, want canonical uppercase", entry.ProductID)
		}
	}
}

func TestLookupUnparseableTimestampMisses(t *testing.T) {
	repo, database := newTestRepository(t, false)
	ctx := context.Background()

	_, err := database.DB().ExecContext(ctx, `
		INSERT INTO package_cache (product_id, content_id, last_modified, files, cached_at)
		VALUES (?, ?, ?, ?, ?)`,
		"9WZDNCRFJ3TJ", "content-1", "not-a-timestamp", "[]",
		time.Now().UTC().Format(timeFormat))
	if err != nil {
		t.Fatalf("raw insert failed: %v", err)
	}

	entry, err := repo.Lookup(ctx, "9WZDNCRFJ3TJ", time.Time{})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if entry != nil {
		t.Error("row with unparseable timestamp should never hit")
	}
}

func TestStoreReplaceMode(t *testing.T) {
	repo, _ := newTestRepository(t, false)
	ctx := context.Background()

	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		lm := base.Add(time.Duration(i) * time.Hour)
		if err := repo.Store(ctx, "9WZDNCRFJ3TJ", "content-1", lm, testFiles()); err != nil {
			t.Fatalf("Store %d failed: %v", i, err)
		}
	}

	count, err := repo.EntryCount(ctx)
	if err != nil {
		t.Fatalf("EntryCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("replace mode kept %d rows, want 1", count)
	}

	entry, err := repo.Lookup(ctx, "9WZDNCRFJ3TJ", base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if entry == nil || !entry.LastModified.Equal(base.Add(2*time.Hour)) {
		t.Errorf("surviving row is not the latest write: %+v", entry)
	}
}

func TestStoreHistoryMode(t *testing.T) {
	repo, _ := newTestRepository(t, true)
	ctx := context.Background()

	// Distinct write times so the newest row is unambiguous.
	writeTime := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return writeTime }

	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		writeTime = writeTime.Add(time.Minute)
		lm := base.Add(time.Duration(i) * time.Hour)
		if err := repo.Store(ctx, "9WZDNCRFJ3TJ", "content-1", lm, testFiles()); err != nil {
			t.Fatalf("Store %d failed: %v", i, err)
		}
	}

	count, err := repo.EntryCount(ctx)
	if err != nil {
		t.Fatalf("EntryCount failed: %v", err)
	}
	if count != 3 {
		t.Errorf("history mode kept %d rows, want 3", count)
	}

	entry, err := repo.Lookup(ctx, "9WZDNCRFJ3TJ", base)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if entry == nil || !entry.LastModified.Equal(base.Add(2*time.Hour)) {
		t.Errorf("lookup did not return the most recent write: %+v", entry)
	}
}

func TestSetKeepHistoryAtRuntime(t *testing.T) {
	repo, _ := newTestRepository(t, false)
	ctx := context.Background()

	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	if err := repo.Store(ctx, "9WZDNCRFJ3TJ", "content-1", base, testFiles()); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	repo.SetKeepHistory(true)
	if !repo.KeepHistory() {
		t.Fatal("KeepHistory not toggled")
	}
	if err := repo.Store(ctx, "9WZDNCRFJ3TJ", "content-1", base.Add(time.Hour), testFiles()); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	count, err := repo.EntryCount(ctx)
	if err != nil {
		t.Fatalf("EntryCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("row count after toggle = %d, want 2", count)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	repo, _ := newTestRepository(t, true)
	ctx := context.Background()

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	ages := []time.Duration{48 * time.Hour, 25 * time.Hour, time.Hour}
	for i, age := range ages {
		repo.now = func() time.Time { return now.Add(-age) }
		if err := repo.Store(ctx, "9WZDNCRFJ3TJ", "content-1", now.Add(-age), testFiles()); err != nil {
			t.Fatalf("Store %d failed: %v", i, err)
		}
	}

	repo.now = func() time.Time { return now }
	removed, err := repo.PurgeOlderThan(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeOlderThan failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	count, err := repo.EntryCount(ctx)
	if err != nil {
		t.Fatalf("EntryCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("remaining rows = %d, want 1", count)
	}
}

func TestNormalizeProductID(t *testing.T) {
	cases := map[string]string{
		"9wzdncrfj3tj":   "9WZDNCRFJ3TJ",
		" 9WZDNCRFJ3TJ ": "9WZDNCRFJ3TJ",
		"9WZDNCRFJ3TJ":   "9WZDNCRFJ3TJ",
	}
	for in, want := range cases {
		if got := NormalizeProductID(in); got != want {
			t.Errorf("NormalizeProductID(%q) = %q, want %q", in, got, want)
		}
	}
}
