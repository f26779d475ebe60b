package local

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"papers-backend/internal/shared/storage/object"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir(), "http://localhost:8080/files/")

	if err := s.EnsureBucket(ctx, object.NewDocumentBucket("papers")); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	n, err := s.Put(ctx, "papers", "1700000000000-Final Exam.pdf", strings.NewReader("%PDF-1.4"), object.PutOptions{ContentType: object.ContentTypePDF})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n != 8 {
		t.Fatalf("expected 8 bytes written, got %d", n)
	}

	if _, err := s.Put(ctx, "papers", "1700000000000-Final Exam.pdf", strings.NewReader("x"), object.PutOptions{}); !errors.Is(err, object.ErrKeyConflict) {
		t.Fatalf("expected ErrKeyConflict, got %v", err)
	}
	if _, err := s.Put(ctx, "papers", "1700000000000-Final Exam.pdf", strings.NewReader("%PDF-1.5"), object.PutOptions{Overwrite: true}); err != nil {
		t.Fatalf("overwrite Put: %v", err)
	}

	rc, err := s.Get(ctx, "papers", "1700000000000-Final Exam.pdf")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != "%PDF-1.5" {
		t.Fatalf("unexpected body %q", body)
	}

	var keys []string
	for info, err := range s.List(ctx, "papers", "") {
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		keys = append(keys, info.Key)
	}
	if len(keys) != 1 || keys[0] != "1700000000000-Final Exam.pdf" {
		t.Fatalf("unexpected keys %v", keys)
	}

	want := "http://localhost:8080/files/papers/1700000000000-Final%20Exam.pdf"
	if got := s.PublicURL("papers", "1700000000000-Final Exam.pdf"); got != want {
		t.Fatalf("PublicURL = %q, want %q", got, want)
	}

	if err := s.Delete(ctx, "papers", "1700000000000-Final Exam.pdf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "papers", "1700000000000-Final Exam.pdf"); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreListMissingBucketIsEmpty(t *testing.T) {
	s := New(t.TempDir(), "")
	for _, err := range s.List(context.Background(), "solutions", "") {
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		t.Fatalf("expected no objects")
	}
}

func TestStoreRejectsTraversal(t *testing.T) {
	s := New(t.TempDir(), "")
	if _, err := s.Put(context.Background(), "papers", "../escape.pdf", strings.NewReader("x"), object.PutOptions{}); err == nil {
		t.Fatalf("expected traversal key to be rejected")
	}
}

// failingReader returns part of a body and then an error, like a disk or
// client that gives out mid-upload.
type failingReader struct{ sent bool }

func (f *failingReader) Read(p []byte) (int, error) {
	if f.sent {
		return 0, errors.New("no space left on device")
	}
	f.sent = true
	return copy(p, "%PDF-1.4 trunc"), nil
}

func TestStorePutLeavesNothingOnFailedWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := New(dir, "")

	if _, err := s.Put(ctx, "papers", "1700000000000-partial.pdf", &failingReader{}, object.PutOptions{}); err == nil {
		t.Fatalf("expected the failed body to fail the put")
	}
	if _, err := s.Get(ctx, "papers", "1700000000000-partial.pdf"); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected no blob under the key, got %v", err)
	}
	for info, err := range s.List(ctx, "papers", "") {
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		t.Fatalf("unexpected object %q after a failed put", info.Key)
	}
	staged, err := os.ReadDir(filepath.Join(dir, stagingDir))
	if err != nil {
		t.Fatalf("read staging dir: %v", err)
	}
	if len(staged) != 0 {
		t.Fatalf("staging file left behind: %v", staged)
	}

	if _, err := s.Put(ctx, "papers", "1700000000000-partial.pdf", strings.NewReader("%PDF-1.4"), object.PutOptions{}); err != nil {
		t.Fatalf("the key must still be free after a failed put: %v", err)
	}
}
