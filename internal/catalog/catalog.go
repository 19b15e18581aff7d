// Package catalog resolves storefront product identifiers to content
// identifiers via the public display catalog.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"msixvcdl/internal/config"
	facadeerrors "msixvcdl/internal/errors"
)

// Resolution is the outcome of a product lookup. LastModified is the
// catalog's authoritative freshness marker for the product; it is zero when
// the catalog supplied no parseable timestamp, which callers must treat as
// "cache invalid".
type Resolution struct {
	ProductID    string
	ContentID    string
	LastModified time.Time
}

// Client queries the display catalog. The lookup is unauthenticated.
type Client struct {
	client     *http.Client
	catalogURL string
	market     string
	language   string
}

// NewClient creates a catalog client from the global configuration.
func NewClient(cfg *config.GlobalConfig) *Client {
	return &Client{
		client:     &http.Client{Timeout: cfg.HTTPTimeout()},
		catalogURL: cfg.CatalogURL,
		market:     cfg.Market,
		language:   cfg.Language,
	}
}

// catalogResponse mirrors the slice of the catalog payload the facade needs;
// everything else is passed over.
type catalogResponse struct {
	Products []struct {
		ProductID        string `json:"ProductId"`
		LastModifiedDate string `json:"LastModifiedDate"`
		DisplaySkuAvailabilities []struct {
			Sku struct {
				Properties struct {
					Packages []struct {
						ContentID string `json:"ContentId"`
					} `json:"Packages"`
				} `json:"Properties"`
			} `json:"Sku"`
		} `json:"DisplaySkuAvailabilities"`
	} `json:"Products"`
}

// Resolve translates a product id into a content id and freshness marker.
// A product the catalog does not know, or one without a packaged sku,
// surfaces as ErrNotFound.
func (c *Client) Resolve(ctx context.Context, productID string) (*Resolution, error) {
	query := url.Values{
		"bigIds":    {productID},
		"market":    {c.market},
		"languages": {c.language},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.catalogURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, facadeerrors.NewUpstreamError("build catalog request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, facadeerrors.NewUpstreamError("catalog lookup", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, facadeerrors.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, facadeerrors.NewUpstreamError("catalog lookup",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, facadeerrors.NewUpstreamError("read catalog response", err)
	}

	var parsed catalogResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, facadeerrors.NewUpstreamError("parse catalog response", err)
	}
	if len(parsed.Products) == 0 {
		return nil, facadeerrors.ErrNotFound
	}

	product := parsed.Products[0]
	contentID := ""
	for _, avail := range product.DisplaySkuAvailabilities {
		for _, pkg := range avail.Sku.Properties.Packages {
			if pkg.ContentID != "" {
				contentID = pkg.ContentID
				break
			}
		}
		if contentID != "" {
			break
		}
	}
	if contentID == "" {
		return nil, facadeerrors.ErrNotFound
	}

	res := &Resolution{
		ProductID: product.ProductID,
		ContentID: contentID,
	}
	// An unparseable timestamp stays zero; the caller treats that as cache
	// invalid rather than failing the request.
	if t, err := time.Parse(time.RFC3339, product.LastModifiedDate); err == nil {
		res.LastModified = t
	}

	return res, nil
}
