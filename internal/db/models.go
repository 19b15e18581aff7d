package db

import (
	"encoding/json"
	"time"
)

// PackageFile describes one downloadable file of a package. URL is empty
// when the upstream response carried no CDN root for the file; the sentinel
// is preserved rather than dropped so callers can report it.
type PackageFile struct {
	FileName string `json:"file_name"`
	Size     int64  `json:"size"`
	URL      string `json:"url,omitempty"`
}

// CacheEntry is a resolved package-file-list snapshot. LastModified is the
// freshness marker supplied by the catalog, not the cache's own write time;
// CachedAt is informational and orders rows in history mode.
type CacheEntry struct {
	ID           int64         `json:"id"`
	ProductID    string        `json:"product_id"`
	ContentID    string        `json:"content_id"`
	LastModified time.Time     `json:"last_modified"`
	Files        []PackageFile `json:"files"`
	CachedAt     time.Time     `json:"cached_at"`
}

// encodeFiles serializes the file list for storage.
func encodeFiles(files []PackageFile) (string, error) {
	data, err := json.Marshal(files)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeFiles deserializes a stored file list.
func decodeFiles(data string) ([]PackageFile, error) {
	var files []PackageFile
	if err := json.Unmarshal([]byte(data), &files); err != nil {
		return nil, err
	}
	return files, nil
}
