// Package auth implements the Xbox Live token lifecycle: acquisition,
// persistence, expiry detection, and the chained refresh across the
// Live access token and the derived user/XSTS tokens.
package auth

import (
	"time"
)

// SecurityTokenBuffer is how long before a security token's NotAfter instant
// the token is considered expired. The margin avoids presenting a token that
// lapses mid-flight during the downstream call.
const SecurityTokenBuffer = 5 * time.Minute

// DisplayClaims carries the xui claim list of an Xbox Live token response.
type DisplayClaims struct {
	XUI []map[string]string `json:"xui"`
}

// XBLToken is a token issued by the Xbox Live user or XSTS authority.
// The token string is opaque; NotAfter is only present on XSTS tokens.
type XBLToken struct {
	IssueInstant  time.Time     `json:"IssueInstant,omitempty"`
	NotAfter      time.Time     `json:"NotAfter,omitempty"`
	Token         string        `json:"Token"`
	DisplayClaims DisplayClaims `json:"DisplayClaims"`
}

// UserHash returns the uhs claim, or "" if absent.
func (t *XBLToken) UserHash() string {
	if t == nil {
		return ""
	}
	for _, claims := range t.DisplayClaims.XUI {
		if uhs, ok := claims["uhs"]; ok {
			return uhs
		}
	}
	return ""
}

// TokenBundle is the durable credential record. The derived user and
// security tokens are cryptographically bound to the access token they were
// issued against and must be cleared whenever the access token changes.
type TokenBundle struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	// ExpiresIn is the relative lifetime reported by the token endpoint.
	// The credential store converts it to ExpiresAt at save time; it is
	// never consulted after persistence.
	ExpiresIn     int64     `json:"expires_in,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
	UserToken     *XBLToken `json:"user_token,omitempty"`
	SecurityToken *XBLToken `json:"security_token,omitempty"`
}

// TokenResponse is the body returned by the Live token endpoint for both the
// authorization-code and refresh-token grants.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
}

// NeedsRefresh reports whether the access token is absent or expired at now.
func (b *TokenBundle) NeedsRefresh(now time.Time) bool {
	if b == nil || b.AccessToken == "" {
		return true
	}
	return !b.ExpiresAt.After(now)
}

// NeedsSecurityAuth reports whether the derived security token is absent,
// carries no NotAfter instant, or expires within SecurityTokenBuffer of now.
// A missing NotAfter is treated as expired rather than trusted.
func (b *TokenBundle) NeedsSecurityAuth(now time.Time) bool {
	if b == nil || b.SecurityToken == nil || b.SecurityToken.Token == "" {
		return true
	}
	if b.SecurityToken.NotAfter.IsZero() {
		return true
	}
	return !now.Before(b.SecurityToken.NotAfter.Add(-SecurityTokenBuffer))
}

// Merge produces the bundle resulting from applying a refresh response to an
// existing bundle. It is a pure function: fields absent from the response
// never overwrite existing values, and the derived user and security tokens
// are unconditionally cleared because they do not survive an access token
// replacement.
func Merge(old *TokenBundle, resp *TokenResponse) *TokenBundle {
	merged := &TokenBundle{}
	if old != nil {
		*merged = *old
	}

	if resp.AccessToken != "" {
		merged.AccessToken = resp.AccessToken
	}
	if resp.RefreshToken != "" {
		merged.RefreshToken = resp.RefreshToken
	}
	merged.ExpiresIn = resp.ExpiresIn
	merged.ExpiresAt = time.Time{}

	merged.UserToken = nil
	merged.SecurityToken = nil

	return merged
}
