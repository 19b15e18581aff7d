// Package packages retrieves package-file lists from the Xbox package
// service using an XSTS security token.
package packages

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"msixvcdl/internal/config"
	"msixvcdl/internal/db"
	facadeerrors "msixvcdl/internal/errors"
)

// Client queries the package service for the files of a content id.
type Client struct {
	client     *http.Client
	packageURL string
}

// NewClient creates a package client from the global configuration.
func NewClient(cfg *config.GlobalConfig) *Client {
	return &Client{
		client:     &http.Client{Timeout: cfg.HTTPTimeout()},
		packageURL: strings.TrimRight(cfg.PackageURL, "/"),
	}
}

// packageResponse mirrors the package service payload.
type packageResponse struct {
	PackageFound bool `json:"PackageFound"`
	PackageFiles []struct {
		FileName     string   `json:"FileName"`
		FileSize     int64    `json:"FileSize"`
		CdnRootPaths []string `json:"CdnRootPaths"`
		RelativeURL  string   `json:"RelativeUrl"`
	} `json:"PackageFiles"`
}

// Credential formats the authorization header value the package service
// expects. The exact shape is an upstream wire contract.
func Credential(userHash, securityToken string) string {
	return fmt.Sprintf("XBL3.0 x=%s;%s", userHash, securityToken)
}

// GetBasePackage returns the ordered file list for a content id. Files whose
// response carries no CDN root keep an empty URL rather than being dropped.
func (c *Client) GetBasePackage(ctx context.Context, contentID, userHash, securityToken string) ([]db.PackageFile, error) {
	endpoint := c.packageURL + "/" + contentID

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, facadeerrors.NewUpstreamError("build package request", err)
	}
	req.Header.Set("Authorization", Credential(userHash, securityToken))
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, facadeerrors.NewUpstreamError("package lookup", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, facadeerrors.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, facadeerrors.NewUpstreamError("package lookup",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, facadeerrors.NewUpstreamError("read package response", err)
	}

	var parsed packageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, facadeerrors.NewUpstreamError("parse package response", err)
	}
	if !parsed.PackageFound {
		return nil, facadeerrors.ErrNotFound
	}

	files := make([]db.PackageFile, 0, len(parsed.PackageFiles))
	for _, f := range parsed.PackageFiles {
		file := db.PackageFile{
			FileName: f.FileName,
			Size:     f.FileSize,
		}
		if len(f.CdnRootPaths) > 0 {
			file.URL = strings.TrimRight(f.CdnRootPaths[0], "/") + f.RelativeURL
		}
		files = append(files, file)
	}

	return files, nil
}
