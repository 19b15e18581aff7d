package auth

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	facadeerrors "msixvcdl/internal/errors"
)

// fakeIdentity records calls and serves canned responses so each lifecycle
// failure mode can be simulated in isolation.
type fakeIdentity struct {
	exchangeCalls atomic.Int32
	refreshCalls  atomic.Int32
	userCalls     atomic.Int32
	xstsCalls     atomic.Int32

	refreshDelay time.Duration

	exchangeResp *TokenResponse
	exchangeErr  error
	refreshResp  *TokenResponse
	refreshErr   error
	userResp     *XBLToken
	userErr      error
	xstsResp     *XBLToken
	xstsErr      error

	mu             sync.Mutex
	lastUserAccess string
}

func (f *fakeIdentity) SignInURL(state string) string { return "http://example.invalid/authorize?state=" + state }

func (f *fakeIdentity) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	f.exchangeCalls.Add(1)
	return f.exchangeResp, f.exchangeErr
}

func (f *fakeIdentity) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	f.refreshCalls.Add(1)
	if f.refreshDelay > 0 {
		time.Sleep(f.refreshDelay)
	}
	return f.refreshResp, f.refreshErr
}

func (f *fakeIdentity) AuthenticateUser(ctx context.Context, accessToken string) (*XBLToken, error) {
	f.userCalls.Add(1)
	f.mu.Lock()
	f.lastUserAccess = accessToken
	f.mu.Unlock()
	return f.userResp, f.userErr
}

func (f *fakeIdentity) AuthenticateSecurity(ctx context.Context, userToken *XBLToken) (*XBLToken, error) {
	f.xstsCalls.Add(1)
	return f.xstsResp, f.xstsErr
}

func (f *fakeIdentity) totalCalls() int32 {
	return f.exchangeCalls.Load() + f.refreshCalls.Load() + f.userCalls.Load() + f.xstsCalls.Load()
}

func validSecurityChain() (user, xsts *XBLToken) {
	claims := DisplayClaims{XUI: []map[string]string{{"uhs": "hash-1"}}}
	user = &XBLToken{Token: "user-token", DisplayClaims: claims}
	xsts = &XBLToken{Token: "xsts-token", NotAfter: time.Now().Add(16 * time.Hour), DisplayClaims: claims}
	return user, xsts
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "credentials.json"), "")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func TestResolveNoCredentials(t *testing.T) {
	store := newTestStore(t)
	identity := &fakeIdentity{}
	mgr := NewManager(store, identity, nil)

	_, err := mgr.Resolve(context.Background())
	if !errors.Is(err, facadeerrors.ErrNoCredentials) {
		t.Fatalf("error = %v, want ErrNoCredentials", err)
	}
	if identity.totalCalls() != 0 {
		t.Errorf("identity calls = %d, want 0", identity.totalCalls())
	}
}

func TestResolveExpiredWithoutRefreshToken(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(&TokenBundle{
		AccessToken: "stale",
		ExpiresAt:   time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	identity := &fakeIdentity{}
	mgr := NewManager(store, identity, nil)

	_, err := mgr.Resolve(context.Background())
	if !errors.Is(err, facadeerrors.ErrReauthRequired) {
		t.Fatalf("error = %v, want ErrReauthRequired", err)
	}
	if identity.totalCalls() != 0 {
		t.Errorf("identity calls = %d, want 0", identity.totalCalls())
	}
}

// An expired access token with a refresh token triggers the refresh, which
// retains the old refresh token when the response omits one, clears the
// derived tokens, and re-derives them with the new access token.
func TestResolveRefreshMergesAndRederives(t *testing.T) {
	store := newTestStore(t)
	user, xsts := validSecurityChain()
	if err := store.Save(&TokenBundle{
		AccessToken:   "stale-access",
		RefreshToken:  "old-refresh",
		ExpiresAt:     time.Now().Add(-time.Hour),
		UserToken:     user,
		SecurityToken: xsts,
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	newUser, newXSTS := validSecurityChain()
	identity := &fakeIdentity{
		refreshResp: &TokenResponse{AccessToken: "fresh-access", ExpiresIn: 3600},
		userResp:    newUser,
		xstsResp:    newXSTS,
	}
	mgr := NewManager(store, identity, nil)

	bundle, err := mgr.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if bundle.AccessToken != "fresh-access" {
		t.Errorf("access token = %q", bundle.AccessToken)
	}
	if bundle.RefreshToken != "old-refresh" {
		t.Errorf("refresh token = %q, want retained old-refresh", bundle.RefreshToken)
	}
	if bundle.SecurityToken == nil || bundle.SecurityToken.Token != "xsts-token" {
		t.Errorf("security token not re-derived: %+v", bundle.SecurityToken)
	}

	identity.mu.Lock()
	lastAccess := identity.lastUserAccess
	identity.mu.Unlock()
	if lastAccess != "fresh-access" {
		t.Errorf("user auth used access token %q, want fresh-access", lastAccess)
	}

	persisted, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if persisted.RefreshToken != "old-refresh" || persisted.SecurityToken == nil {
		t.Errorf("persisted bundle not updated: %+v", persisted)
	}
}

func TestResolveRefreshFailureLeavesBundleUntouched(t *testing.T) {
	store := newTestStore(t)
	original := &TokenBundle{
		AccessToken:  "stale-access",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(-time.Hour),
	}
	if err := store.Save(original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	identity := &fakeIdentity{
		refreshErr: facadeerrors.NewUpstreamAuthError(facadeerrors.StageRefresh, 400, "invalid_grant"),
	}
	mgr := NewManager(store, identity, nil)

	_, err := mgr.Resolve(context.Background())
	var authErr *facadeerrors.UpstreamAuthError
	if !errors.As(err, &authErr) || authErr.Stage != facadeerrors.StageRefresh {
		t.Fatalf("error = %v, want refresh UpstreamAuthError", err)
	}

	persisted, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if persisted.AccessToken != "stale-access" || persisted.RefreshToken != "old-refresh" {
		t.Errorf("refresh failure corrupted persisted bundle: %+v", persisted)
	}
}

func TestResolveSecurityFailureLeavesAccessToken(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(&TokenBundle{
		AccessToken: "valid-access",
		ExpiresAt:   time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	identity := &fakeIdentity{
		userErr: facadeerrors.NewUpstreamAuthError(facadeerrors.StageUserAuth, 401, "denied"),
	}
	mgr := NewManager(store, identity, nil)

	_, err := mgr.Resolve(context.Background())
	var authErr *facadeerrors.UpstreamAuthError
	if !errors.As(err, &authErr) || authErr.Stage != facadeerrors.StageUserAuth {
		t.Fatalf("error = %v, want user-auth UpstreamAuthError", err)
	}
	if identity.refreshCalls.Load() != 0 {
		t.Errorf("refresh called %d times for a valid access token", identity.refreshCalls.Load())
	}

	persisted, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if persisted.AccessToken != "valid-access" {
		t.Errorf("security failure corrupted access token: %q", persisted.AccessToken)
	}
}

func TestResolveValidBundleMakesNoCalls(t *testing.T) {
	store := newTestStore(t)
	user, xsts := validSecurityChain()
	if err := store.Save(&TokenBundle{
		AccessToken:   "valid-access",
		ExpiresAt:     time.Now().Add(time.Hour),
		UserToken:     user,
		SecurityToken: xsts,
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	identity := &fakeIdentity{}
	mgr := NewManager(store, identity, nil)

	bundle, err := mgr.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if bundle.SecurityToken.UserHash() != "hash-1" {
		t.Errorf("user hash = %q", bundle.SecurityToken.UserHash())
	}
	if identity.totalCalls() != 0 {
		t.Errorf("identity calls = %d, want 0", identity.totalCalls())
	}
}

// Concurrent resolutions that observe an expired bundle must share a single
// refresh: upstream refresh-token rotation can invalidate the token after
// first use.
func TestResolveSingleFlight(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(&TokenBundle{
		AccessToken:  "stale-access",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	user, xsts := validSecurityChain()
	identity := &fakeIdentity{
		refreshDelay: 50 * time.Millisecond,
		refreshResp:  &TokenResponse{AccessToken: "fresh-access", ExpiresIn: 3600},
		userResp:     user,
		xstsResp:     xsts,
	}
	mgr := NewManager(store, identity, nil)

	const concurrency = 8
	var wg sync.WaitGroup
	errs := make([]error, concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = mgr.Resolve(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("request %d failed: %v", i, err)
		}
	}
	if calls := identity.refreshCalls.Load(); calls != 1 {
		t.Errorf("refresh calls = %d, want 1", calls)
	}
}

func TestCompleteAuthorization(t *testing.T) {
	store := newTestStore(t)
	user, xsts := validSecurityChain()
	identity := &fakeIdentity{
		exchangeResp: &TokenResponse{AccessToken: "first-access", RefreshToken: "first-refresh", ExpiresIn: 3600},
		userResp:     user,
		xstsResp:     xsts,
	}
	mgr := NewManager(store, identity, nil)

	if err := mgr.CompleteAuthorization(context.Background(), "auth-code"); err != nil {
		t.Fatalf("CompleteAuthorization failed: %v", err)
	}

	persisted, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if persisted.AccessToken != "first-access" || persisted.RefreshToken != "first-refresh" {
		t.Errorf("bundle not persisted: %+v", persisted)
	}
	if persisted.SecurityToken == nil || persisted.SecurityToken.Token != "xsts-token" {
		t.Errorf("security chain not run after authorization: %+v", persisted.SecurityToken)
	}

	status, err := mgr.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.Authenticated || !status.SecurityValid || !status.HasRefreshToken {
		t.Errorf("status = %+v", status)
	}
}
