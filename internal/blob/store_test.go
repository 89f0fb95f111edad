package blob

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	// With a fixed region minio-go signs locally and never contacts the endpoint.
	s, err := New(Config{
		Endpoint:  "storage.example.test:9000",
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "uploads",
		Region:    "us-east-1",
		URLTTL:    10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestUploadURLReservesImageKey(t *testing.T) {
	s := newTestStore(t)
	key, raw, err := s.UploadURL(context.Background())
	if err != nil {
		t.Fatalf("UploadURL() error = %v", err)
	}
	if !ValidKey(key) {
		t.Fatalf("expected a valid key, got %q", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse upload url: %v", err)
	}
	if !strings.HasSuffix(u.Path, "/uploads/"+key) {
		t.Fatalf("expected path to end with bucket/key, got %q", u.Path)
	}
	if u.Query().Get("X-Amz-Expires") != "600" {
		t.Fatalf("expected 600s expiry, got %q", u.Query().Get("X-Amz-Expires"))
	}
}

func TestURLRejectsForeignKeys(t *testing.T) {
	s := newTestStore(t)
	for _, key := range []string{"", "images/", "secrets/x", "images/../etc", "images/a/b"} {
		if _, err := s.URL(context.Background(), key); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("URL(%q) = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestURLSignsDownload(t *testing.T) {
	s := newTestStore(t)
	raw, err := s.URL(context.Background(), "images/abc123")
	if err != nil {
		t.Fatalf("URL() error = %v", err)
	}
	if !strings.Contains(raw, "X-Amz-Signature=") {
		t.Fatalf("expected a signed url, got %q", raw)
	}
}
