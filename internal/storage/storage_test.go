package storage

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/socialnet/backend/internal/config"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"My Holiday", "my-holiday"},
		{"Café Crème  2024!!", "cafe-creme-2024"},
		{"  --leading and trailing--  ", "leading-and-trailing"},
		{"日本語", ""},
		{"IMG_0042", "img-0042"},
		{strings.Repeat("a", 100), strings.Repeat("a", maxSlugLen)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Slugify(tt.input); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2026, time.March, 4, 0, 0, 0, 0, time.UTC)

	key := ObjectKey("Beach Day.MOV", now)
	pattern := regexp.MustCompile(`^videos/2026/03/[0-9a-f-]{36}-beach-day\.mp4$`)
	if !pattern.MatchString(key) {
		t.Errorf("unexpected key %q", key)
	}

	if a, b := ObjectKey("same.mov", now), ObjectKey("same.mov", now); a == b {
		t.Errorf("keys must be unique, got %q twice", a)
	}

	bare := ObjectKey("", now)
	if !regexp.MustCompile(`^videos/2026/03/[0-9a-f-]{36}\.mp4$`).MatchString(bare) {
		t.Errorf("unexpected key for empty name %q", bare)
	}
}

func TestS3BaseURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  S3Config
		want string
	}{
		{"aws default", S3Config{Bucket: "media", Region: "eu-west-1"}, "https://media.s3.eu-west-1.amazonaws.com"},
		{"path style endpoint", S3Config{Bucket: "media", Endpoint: "http://localhost:9000", UsePathStyle: true}, "http://localhost:9000/media"},
		{"public override", S3Config{Bucket: "media", PublicBaseURL: "https://cdn.example.com"}, "https://cdn.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s3BaseURL(&tt.cfg); got != tt.want {
				t.Errorf("s3BaseURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewMinioStore_BaseURL(t *testing.T) {
	s, err := NewMinioStore(&MinioConfig{Endpoint: "http://localhost:9000", Bucket: "media"})
	if err != nil {
		t.Fatalf("NewMinioStore: %v", err)
	}
	if s.baseURL != "http://localhost:9000/media" {
		t.Errorf("unexpected base URL %q", s.baseURL)
	}
	if got := publicURL(s.baseURL, "videos/x.mp4"); got != "http://localhost:9000/media/videos/x.mp4" {
		t.Errorf("unexpected public URL %q", got)
	}
}

func TestNew_SelectsDriver(t *testing.T) {
	cfg := &config.Config{
		StorageDriver: config.DriverS3,
		S3Bucket:      "media",
		S3Region:      "us-east-1",
	}
	store, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := store.(*S3Store); !ok {
		t.Errorf("expected *S3Store, got %T", store)
	}

	cfg.StorageDriver = config.DriverMinio
	cfg.MinioEndpoint = "localhost:9000"
	cfg.MinioBucket = "media"
	if store, err = New(cfg); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := store.(*MinioStore); !ok {
		t.Errorf("expected *MinioStore, got %T", store)
	}

	cfg.StorageDriver = "gcs"
	if _, err := New(cfg); err == nil {
		t.Error("expected error for unknown driver")
	}
}
