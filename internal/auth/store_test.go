package auth

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// For any valid bundle, a save/load cycle produces an equivalent bundle.
func TestProperty_StoreRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	tempDir := t.TempDir()

	nonEmptyString := gen.AnyString().SuchThat(func(s string) bool {
		return len(s) > 0
	})

	timeGen := gen.Int64Range(0, 2000000000).Map(func(ts int64) time.Time {
		return time.Unix(ts, 0).UTC()
	})

	properties.Property("save then load produces equivalent bundle", prop.ForAll(
		func(accessToken, refreshToken string, expiresAt time.Time) bool {
			store, err := NewStore(filepath.Join(tempDir, "credentials.json"), "")
			if err != nil {
				t.Logf("NewStore failed: %v", err)
				return false
			}

			original := &TokenBundle{
				AccessToken:  accessToken,
				RefreshToken: refreshToken,
				ExpiresAt:    expiresAt,
			}
			if err := store.Save(original); err != nil {
				t.Logf("Save failed: %v", err)
				return false
			}

			loaded, err := store.Load()
			if err != nil {
				t.Logf("Load failed: %v", err)
				return false
			}

			if loaded.AccessToken != original.AccessToken {
				t.Logf("AccessToken mismatch: got %q, want %q", loaded.AccessToken, original.AccessToken)
				return false
			}
			if loaded.RefreshToken != original.RefreshToken {
				t.Logf("RefreshToken mismatch")
				return false
			}
			if !loaded.ExpiresAt.Equal(original.ExpiresAt) {
				t.Logf("ExpiresAt mismatch: got %v, want %v", loaded.ExpiresAt, original.ExpiresAt)
				return false
			}
			return true
		},
		nonEmptyString,
		gen.AnyString(),
		timeGen,
	))

	properties.TestingRun(t)
}

func TestStoreLoadAbsent(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "credentials.json"), "")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	bundle, err := store.Load()
	if err != nil {
		t.Fatalf("Load of absent file failed: %v", err)
	}
	if bundle != nil {
		t.Fatalf("Load of absent file returned bundle %+v", bundle)
	}
}

func TestStoreSaveConvertsRelativeExpiry(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "credentials.json"), "")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	bundle := &TokenBundle{AccessToken: "access", ExpiresIn: 3600}
	if err := store.Save(bundle); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	want := now.Add(time.Hour)
	if !bundle.ExpiresAt.Equal(want) {
		t.Errorf("caller's ExpiresAt = %v, want %v", bundle.ExpiresAt, want)
	}
	if bundle.ExpiresIn != 0 {
		t.Errorf("caller's ExpiresIn = %d, want 0", bundle.ExpiresIn)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !loaded.ExpiresAt.Equal(want) {
		t.Errorf("persisted ExpiresAt = %v, want %v", loaded.ExpiresAt, want)
	}
	if loaded.ExpiresIn != 0 {
		t.Errorf("persisted ExpiresIn = %d, want 0", loaded.ExpiresIn)
	}
}

func TestStoreEncryptionAtRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.bin")
	store, err := NewStore(path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	bundle := &TokenBundle{
		AccessToken:  "super-secret-access-token",
		RefreshToken: "super-secret-refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour).UTC(),
	}
	if err := store.Save(bundle); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading credential file: %v", err)
	}
	if strings.Contains(string(raw), "super-secret-access-token") {
		t.Fatal("access token stored in plaintext")
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.AccessToken != bundle.AccessToken || loaded.RefreshToken != bundle.RefreshToken {
		t.Error("decrypted bundle does not match saved bundle")
	}

	// A store with the wrong passphrase must refuse the file.
	wrong, err := NewStore(path, "wrong passphrase")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if _, err := wrong.Load(); err == nil {
		t.Error("Load with wrong passphrase succeeded")
	}
}

func TestStoreSaveRestrictsPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, err := NewStore(path, "")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if err := store.Save(&TokenBundle{AccessToken: "access"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("credential file permissions = %o, want 0600", perm)
	}
}
