package auth

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	facadeerrors "msixvcdl/internal/errors"
	"msixvcdl/internal/logger"
)

// Identity is the set of remote identity calls the manager orchestrates.
// *Gateway satisfies it; tests substitute an httptest-backed gateway or a
// recording fake.
type Identity interface {
	SignInURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error)
	AuthenticateUser(ctx context.Context, accessToken string) (*XBLToken, error)
	AuthenticateSecurity(ctx context.Context, userToken *XBLToken) (*XBLToken, error)
}

// MetricsSink receives lifecycle events for instrumentation. All methods may
// be called concurrently.
type MetricsSink interface {
	IncTokenRefresh()
	IncSecurityAuth()
}

// Manager decides, on every protected request, whether the stored
// credentials are usable, refreshable, or require full re-authentication.
// Every successful transition persists the updated bundle before returning.
//
// Concurrent Resolve calls are funneled through a single-flight group:
// upstream refresh-token rotation can invalidate a refresh token after first
// use, so two racing refreshes are a correctness hazard, not just wasted work.
type Manager struct {
	store    *Store
	identity Identity
	metrics  MetricsSink
	now      func() time.Time
	sf       singleflight.Group
}

// NewManager creates a lifecycle manager over the given store and identity
// gateway. metrics may be nil.
func NewManager(store *Store, identity Identity, metrics MetricsSink) *Manager {
	return &Manager{
		store:    store,
		identity: identity,
		metrics:  metrics,
		now:      time.Now,
	}
}

// SignInURL returns the authorization URL for the initial consent flow.
func (m *Manager) SignInURL(state string) string {
	return m.identity.SignInURL(state)
}

// Resolve returns a bundle whose security token is usable for downstream
// calls, refreshing or re-deriving tokens as needed. It fails with
// ErrNoCredentials when no bundle was ever persisted, ErrReauthRequired when
// the bundle cannot be refreshed, and UpstreamAuthError when an identity
// call is rejected.
func (m *Manager) Resolve(ctx context.Context) (*TokenBundle, error) {
	v, err, shared := m.sf.Do("resolve", func() (any, error) {
		return m.resolve(ctx)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logger.Debug("Token resolution shared with concurrent request")
	}
	return v.(*TokenBundle), nil
}

func (m *Manager) resolve(ctx context.Context) (*TokenBundle, error) {
	bundle, err := m.store.Load()
	if err != nil {
		return nil, facadeerrors.NewAuthError("load credentials", err)
	}
	if bundle == nil {
		return nil, facadeerrors.ErrNoCredentials
	}

	if bundle.NeedsRefresh(m.now()) {
		if bundle.RefreshToken == "" {
			return nil, facadeerrors.ErrReauthRequired
		}

		resp, err := m.identity.Refresh(ctx, bundle.RefreshToken)
		if err != nil {
			// The prior bundle stays untouched; the caller decides
			// whether to restart the authorization flow.
			return nil, err
		}

		bundle = Merge(bundle, resp)
		if err := m.store.Save(bundle); err != nil {
			return nil, facadeerrors.NewAuthError("persist refreshed bundle", err)
		}
		if m.metrics != nil {
			m.metrics.IncTokenRefresh()
		}
		logger.Info("Access token refreshed, expires at %s", bundle.ExpiresAt.Format(time.RFC3339))
	}

	// A fresh refresh always lands here because Merge clears the derived
	// tokens.
	if bundle.NeedsSecurityAuth(m.now()) {
		if err := m.deriveSecurityTokens(ctx, bundle); err != nil {
			return nil, err
		}
	}

	return bundle, nil
}

// deriveSecurityTokens runs the user-token and XSTS calls in sequence and
// persists the result. A failure at either step leaves the access token
// untouched.
func (m *Manager) deriveSecurityTokens(ctx context.Context, bundle *TokenBundle) error {
	userToken, err := m.identity.AuthenticateUser(ctx, bundle.AccessToken)
	if err != nil {
		return err
	}

	securityToken, err := m.identity.AuthenticateSecurity(ctx, userToken)
	if err != nil {
		return err
	}

	bundle.UserToken = userToken
	bundle.SecurityToken = securityToken

	if err := m.store.Save(bundle); err != nil {
		return facadeerrors.NewAuthError("persist security tokens", err)
	}
	if m.metrics != nil {
		m.metrics.IncSecurityAuth()
	}
	logger.Info("Xbox Live security token derived, valid until %s", securityToken.NotAfter.Format(time.RFC3339))
	return nil
}

// CompleteAuthorization exchanges an authorization code, persists the
// resulting bundle, and derives the security tokens so the first protected
// request does not pay the chain latency.
func (m *Manager) CompleteAuthorization(ctx context.Context, code string) error {
	resp, err := m.identity.ExchangeCode(ctx, code)
	if err != nil {
		return err
	}

	bundle := Merge(nil, resp)
	if err := m.store.Save(bundle); err != nil {
		return facadeerrors.NewAuthError("persist bundle", err)
	}
	logger.Info("Authorization complete, access token expires at %s", bundle.ExpiresAt.Format(time.RFC3339))

	return m.deriveSecurityTokens(ctx, bundle)
}

// Status describes the persisted credential state for diagnostics.
type Status struct {
	Authenticated   bool      `json:"authenticated"`
	HasRefreshToken bool      `json:"has_refresh_token"`
	ExpiresAt       time.Time `json:"expires_at,omitempty"`
	SecurityValid   bool      `json:"security_token_valid"`
	SecurityExpires time.Time `json:"security_token_expires,omitempty"`
}

// Status reports the current credential state without performing any network
// calls.
func (m *Manager) Status() (*Status, error) {
	bundle, err := m.store.Load()
	if err != nil {
		return nil, facadeerrors.NewAuthError("load credentials", err)
	}
	if bundle == nil {
		return &Status{}, nil
	}

	now := m.now()
	st := &Status{
		Authenticated:   !bundle.NeedsRefresh(now),
		HasRefreshToken: bundle.RefreshToken != "",
		ExpiresAt:       bundle.ExpiresAt,
		SecurityValid:   !bundle.NeedsSecurityAuth(now),
	}
	if bundle.SecurityToken != nil {
		st.SecurityExpires = bundle.SecurityToken.NotAfter
	}
	return st, nil
}
