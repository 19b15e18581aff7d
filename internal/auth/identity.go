package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"msixvcdl/internal/config"
	facadeerrors "msixvcdl/internal/errors"
)

// userAuthRelyingParty is fixed by the user-token endpoint; only the XSTS
// audience is configurable.
const userAuthRelyingParty = "http://auth.xboxlive.com"

// contractVersion is the x-xbl-contract-version required by the Xbox Live
// JSON endpoints.
const contractVersion = "1"

// Gateway performs the four remote token-acquisition calls. Each call is a
// single HTTP exchange with no retries and no local state, so the lifecycle
// manager can be tested against each failure mode in isolation.
type Gateway struct {
	client       *http.Client
	oauth        *oauth2.Config
	userAuthURL  string
	xstsAuthURL  string
	relyingParty string
}

// NewGateway creates a Gateway from the global configuration. All outbound
// calls share one client bounded by the configured timeout.
func NewGateway(cfg *config.GlobalConfig) *Gateway {
	return &Gateway{
		client: &http.Client{Timeout: cfg.HTTPTimeout()},
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"Xboxlive.signin", "Xboxlive.offline_access"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.LiveAuthURL,
				TokenURL: cfg.LiveTokenURL,
			},
		},
		userAuthURL:  cfg.UserAuthURL,
		xstsAuthURL:  cfg.XSTSAuthURL,
		relyingParty: cfg.RelyingParty,
	}
}

// SignInURL returns the authorization URL the user is redirected to for the
// initial consent flow.
func (g *Gateway) SignInURL(state string) string {
	return g.oauth.AuthCodeURL(state)
}

// ExchangeCode exchanges an authorization code for an access/refresh token pair.
func (g *Gateway) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {g.oauth.RedirectURL},
	}
	return g.tokenCall(ctx, facadeerrors.StageExchangeCode, form)
}

// Refresh exchanges a refresh token for a new access token. The response may
// or may not carry a new refresh token; merging is the caller's concern.
func (g *Gateway) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return g.tokenCall(ctx, facadeerrors.StageRefresh, form)
}

type userAuthProperties struct {
	AuthMethod string `json:"AuthMethod"`
	SiteName   string `json:"SiteName"`
	RpsTicket  string `json:"RpsTicket"`
}

type xstsAuthProperties struct {
	SandboxID  string   `json:"SandboxId"`
	UserTokens []string `json:"UserTokens"`
}

type xblAuthRequest struct {
	Properties   any    `json:"Properties"`
	RelyingParty string `json:"RelyingParty"`
	TokenType    string `json:"TokenType"`
}

// AuthenticateUser trades a Live access token for an Xbox Live user token.
// The access token is sent as an RpsTicket under the fixed user-auth relying
// party.
func (g *Gateway) AuthenticateUser(ctx context.Context, accessToken string) (*XBLToken, error) {
	body := xblAuthRequest{
		Properties: userAuthProperties{
			AuthMethod: "RPS",
			SiteName:   "user.auth.xboxlive.com",
			RpsTicket:  "d=" + accessToken,
		},
		RelyingParty: userAuthRelyingParty,
		TokenType:    "JWT",
	}
	return g.xblCall(ctx, facadeerrors.StageUserAuth, g.userAuthURL, body)
}

// AuthenticateSecurity trades a user token for an XSTS security token scoped
// to the configured relying-party audience. The result carries NotAfter.
func (g *Gateway) AuthenticateSecurity(ctx context.Context, userToken *XBLToken) (*XBLToken, error) {
	if userToken == nil || userToken.Token == "" {
		return nil, facadeerrors.NewAuthError("xsts authorize", fmt.Errorf("no user token to present"))
	}
	body := xblAuthRequest{
		Properties: xstsAuthProperties{
			SandboxID:  "RETAIL",
			UserTokens: []string{userToken.Token},
		},
		RelyingParty: g.relyingParty,
		TokenType:    "JWT",
	}
	return g.xblCall(ctx, facadeerrors.StageXSTSAuth, g.xstsAuthURL, body)
}

// tokenCall performs a form-encoded POST against the Live token endpoint.
func (g *Gateway) tokenCall(ctx context.Context, stage facadeerrors.AuthStage, form url.Values) (*TokenResponse, error) {
	form.Set("client_id", g.oauth.ClientID)
	if g.oauth.ClientSecret != "" {
		form.Set("client_secret", g.oauth.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.oauth.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, facadeerrors.NewAuthError("build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	respBody, err := g.do(req, stage)
	if err != nil {
		return nil, err
	}

	var token TokenResponse
	if err := json.Unmarshal(respBody, &token); err != nil {
		return nil, facadeerrors.NewAuthError("parse token response", err)
	}
	if token.AccessToken == "" {
		return nil, facadeerrors.NewAuthError("parse token response", fmt.Errorf("response carries no access token"))
	}
	return &token, nil
}

// xblCall performs a JSON POST against an Xbox Live token authority.
func (g *Gateway) xblCall(ctx context.Context, stage facadeerrors.AuthStage, endpoint string, payload xblAuthRequest) (*XBLToken, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, facadeerrors.NewAuthError("encode xbl request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, facadeerrors.NewAuthError("build xbl request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-xbl-contract-version", contractVersion)

	respBody, err := g.do(req, stage)
	if err != nil {
		return nil, err
	}

	var token XBLToken
	if err := json.Unmarshal(respBody, &token); err != nil {
		return nil, facadeerrors.NewAuthError("parse xbl response", err)
	}
	return &token, nil
}

// do executes the request and normalizes all failures, including transport
// errors and timeouts, into UpstreamAuthError for the given stage.
func (g *Gateway) do(req *http.Request, stage facadeerrors.AuthStage) ([]byte, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, facadeerrors.NewUpstreamAuthError(stage, 0, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, facadeerrors.NewUpstreamAuthError(stage, resp.StatusCode, err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, facadeerrors.NewUpstreamAuthError(stage, resp.StatusCode, string(body))
	}

	return body, nil
}
