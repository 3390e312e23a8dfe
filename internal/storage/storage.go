// Package storage uploads normalized media to S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/socialnet/backend/internal/config"
)

// ContentTypeMP4 is the content type of every transcoded output.
const ContentTypeMP4 = "video/mp4"

// Object is an uploaded file.
type Object struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Store uploads local files and reports reachability.
type Store interface {
	// Put uploads localPath. name is the user-facing filename the object key
	// is derived from. The local file is left in place.
	Put(ctx context.Context, localPath, name string) (*Object, error)
	Ping(ctx context.Context) error
}

// New returns the store selected by cfg.StorageDriver.
func New(cfg *config.Config) (Store, error) {
	switch cfg.StorageDriver {
	case config.DriverMinio:
		return NewMinioStore(&MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.PublicBaseURL,
		})
	case config.DriverS3:
		return NewS3Store(&S3Config{
			Region:        cfg.S3Region,
			Bucket:        cfg.S3Bucket,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Endpoint:      cfg.S3Endpoint,
			UsePathStyle:  cfg.S3UsePathStyle,
			PublicBaseURL: cfg.PublicBaseURL,
		}), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

// ObjectKey returns a unique key for a transcoded video, for example
// "videos/2026/10/3f2a...-my-holiday.mp4". The filename part is an ASCII slug
// of name.
func ObjectKey(name string, now time.Time) string {
	slug := Slugify(strings.TrimSuffix(name, path.Ext(name)))
	id := uuid.New().String()
	if slug != "" {
		id += "-" + slug
	}
	return fmt.Sprintf("videos/%04d/%02d/%s.mp4", now.Year(), int(now.Month()), id)
}

const maxSlugLen = 60

// Slugify lowercases s, strips diacritics and replaces anything outside
// [a-z0-9] with single dashes.
func Slugify(s string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}

	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	return slug
}

// publicURL joins base and key. base is either PUBLIC_BASE_URL or the
// driver's bucket URL.
func publicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
