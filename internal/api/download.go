package api

import (
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"msixvcdl/internal/auth"
	"msixvcdl/internal/db"
	facadeerrors "msixvcdl/internal/errors"
	"msixvcdl/internal/logger"
)

// Identifier patterns. Content ids are GUIDs; product ids are the 12-character
// alphanumeric store ids.
var (
	contentIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	productIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]{12}$`)
)

// downloadResult is the payload of a successful download resolution.
type downloadResult struct {
	ProductID    string           `json:"product_id,omitempty"`
	ContentID    string           `json:"content_id"`
	LastModified *time.Time       `json:"last_modified,omitempty"`
	Files        []db.PackageFile `json:"files"`
	Cached       bool             `json:"cached"`
	CachedAt     *time.Time       `json:"cached_at,omitempty"`
}

// getDownload resolves a content or product identifier to a package file list.
func (s *Server) getDownload(c *gin.Context) {
	id := c.Param("id")

	var isContentID bool
	switch {
	case contentIDPattern.MatchString(id):
		isContentID = true
	case productIDPattern.MatchString(id):
		isContentID = false
	default:
		s.respondFacadeError(c, facadeerrors.ErrInvalidIdentifier)
		return
	}

	// Every protected request goes through the lifecycle manager first; the
	// cache path below still demands usable credentials.
	bundle, err := s.authMgr.Resolve(c.Request.Context())
	if err != nil {
		s.respondFacadeError(c, err)
		return
	}

	if isContentID {
		files, err := s.fetchFiles(c, bundle, id)
		if err != nil {
			s.respondFacadeError(c, err)
			return
		}
		respondSuccess(c, downloadResult{ContentID: id, Files: files})
		return
	}

	s.resolveProduct(c, bundle, id)
}

// resolveProduct serves the product-identifier path: catalog translation,
// cache consultation, and fetch-on-miss.
func (s *Server) resolveProduct(c *gin.Context, bundle *auth.TokenBundle, productID string) {
	ctx := c.Request.Context()

	if s.promMetrics != nil {
		s.promMetrics.UpstreamRequests.WithLabelValues("catalog").Inc()
	}
	resolution, err := s.catalog.Resolve(ctx, productID)
	if err != nil {
		s.respondFacadeError(c, err)
		return
	}

	normalized := db.NormalizeProductID(productID)

	// A zero LastModified means the catalog's timestamp was missing or
	// unparseable; the cache cannot prove freshness against it, so skip
	// the lookup and refetch.
	if !resolution.LastModified.IsZero() {
		entry, err := s.cache.Lookup(ctx, normalized, resolution.LastModified)
		if err != nil {
			// Cache failures never fail the request.
			logger.Warn("Cache lookup failed for %s: %v", normalized, err)
		}
		if entry != nil {
			if s.promMetrics != nil {
				s.promMetrics.CacheHits.Inc()
			}
			respondSuccess(c, downloadResult{
				ProductID:    entry.ProductID,
				ContentID:    entry.ContentID,
				LastModified: &entry.LastModified,
				Files:        entry.Files,
				Cached:       true,
				CachedAt:     &entry.CachedAt,
			})
			return
		}
	}

	if s.promMetrics != nil {
		s.promMetrics.CacheMisses.Inc()
	}

	files, err := s.fetchFiles(c, bundle, resolution.ContentID)
	if err != nil {
		s.respondFacadeError(c, err)
		return
	}

	if err := s.cache.Store(ctx, normalized, resolution.ContentID, resolution.LastModified, files); err != nil {
		logger.Warn("Cache store failed for %s: %v", normalized, err)
	}

	result := downloadResult{
		ProductID: normalized,
		ContentID: resolution.ContentID,
		Files:     files,
	}
	if !resolution.LastModified.IsZero() {
		result.LastModified = &resolution.LastModified
	}
	respondSuccess(c, result)
}

// fetchFiles calls the package service with the bundle's security credential.
func (s *Server) fetchFiles(c *gin.Context, bundle *auth.TokenBundle, contentID string) ([]db.PackageFile, error) {
	if s.promMetrics != nil {
		s.promMetrics.UpstreamRequests.WithLabelValues("packages").Inc()
	}
	return s.packages.GetBasePackage(
		c.Request.Context(),
		contentID,
		bundle.SecurityToken.UserHash(),
		bundle.SecurityToken.Token,
	)
}

// respondFacadeError maps the error taxonomy onto HTTP statuses.
func (s *Server) respondFacadeError(c *gin.Context, err error) {
	var upstreamAuth *facadeerrors.UpstreamAuthError

	switch {
	case errors.Is(err, facadeerrors.ErrInvalidIdentifier):
		respondError(c, http.StatusBadRequest, "Invalid identifier",
			"expected a content id (GUID) or a 12-character product id")
	case errors.Is(err, facadeerrors.ErrNoCredentials), errors.Is(err, facadeerrors.ErrReauthRequired):
		respondError(c, http.StatusUnauthorized, "Authentication required",
			"visit /auth/login to authorize the facade")
	case errors.Is(err, facadeerrors.ErrNotFound):
		respondError(c, http.StatusNotFound, "Item not found", "")
	case errors.As(err, &upstreamAuth):
		logger.Error("Identity call failed: %v", err)
		respondError(c, http.StatusBadGateway, "Upstream authentication failed",
			string(upstreamAuth.Stage))
	default:
		logger.Error("Request failed: %v", err)
		respondError(c, http.StatusInternalServerError, "Internal error", "")
	}
}
