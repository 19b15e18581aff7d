package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"msixvcdl/internal/logger"
)

// authLogin redirects the user to the authorization endpoint.
func (s *Server) authLogin(c *gin.Context) {
	state := make([]byte, 16)
	if _, err := rand.Read(state); err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to generate state", "")
		return
	}

	c.Redirect(http.StatusFound, s.authMgr.SignInURL(hex.EncodeToString(state)))
}

// authCallback completes the authorization-code flow.
func (s *Server) authCallback(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		respondError(c, http.StatusBadRequest, "Missing authorization code",
			c.Query("error_description"))
		return
	}

	if err := s.authMgr.CompleteAuthorization(c.Request.Context(), code); err != nil {
		s.respondFacadeError(c, err)
		return
	}

	logger.Info("Authorization flow completed via callback")
	respondSuccess(c, gin.H{"message": "Authentication successful"})
}

// getAuthStatus reports the persisted credential state without network calls.
func (s *Server) getAuthStatus(c *gin.Context) {
	status, err := s.authMgr.Status()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to read credential state", "")
		return
	}
	respondSuccess(c, status)
}

// purgeCache removes cache rows older than the given age in hours.
func (s *Server) purgeCache(c *gin.Context) {
	hours := s.configMgr.CacheSettings().PurgeMaxAgeHours
	if raw := c.Query("age_hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondError(c, http.StatusBadRequest, "Invalid age_hours", raw)
			return
		}
		hours = parsed
	}
	if hours <= 0 {
		respondError(c, http.StatusBadRequest, "No purge age configured",
			"set age_hours or purge_max_age_hours")
		return
	}

	removed, err := s.cache.PurgeOlderThan(c.Request.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Cache purge failed", err.Error())
		return
	}

	logger.Info("Cache purge removed %d entries older than %dh", removed, hours)
	respondSuccess(c, gin.H{"removed": removed})
}

// getCacheStats reports cache size and mode.
func (s *Server) getCacheStats(c *gin.Context) {
	count, err := s.cache.EntryCount(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to count cache entries", "")
		return
	}

	respondSuccess(c, gin.H{
		"entries":      count,
		"keep_history": s.cache.KeepHistory(),
	})
}
