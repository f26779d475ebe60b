package gcs

import (
	"errors"
	"net/http"
	"testing"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"papers-backend/internal/shared/storage/object"
)

func TestPublicURL(t *testing.T) {
	s := &Store{bucketNames: map[string]string{"papers": "prod-papers"}}
	if got := s.PublicURL("papers", "/1-a.pdf"); got != "https://storage.googleapis.com/prod-papers/1-a.pdf" {
		t.Fatalf("PublicURL = %q", got)
	}
	s.publicBaseURL = "http://fake-gcs:4443"
	if got := s.PublicURL("solutions", "1-b.pdf"); got != "http://fake-gcs:4443/solutions/1-b.pdf" {
		t.Fatalf("PublicURL emulator = %q", got)
	}
}

func TestClassify(t *testing.T) {
	if err := classify(storage.ErrObjectNotExist); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := classify(&googleapi.Error{Code: http.StatusPreconditionFailed}); !errors.Is(err, object.ErrKeyConflict) {
		t.Fatalf("expected key conflict, got %v", err)
	}
	if err := classify(&googleapi.Error{Code: http.StatusForbidden}); !errors.Is(err, object.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if err := classify(&googleapi.Error{Code: http.StatusServiceUnavailable}); !errors.Is(err, object.ErrStoreUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
