package ingest

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"papers-backend/internal/records"
	"papers-backend/internal/schema"
	"papers-backend/internal/shared/storage/object"
	"papers-backend/internal/shared/storage/object/memory"
)

func multipartBody(t *testing.T, fields map[string]string, fileName, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if fileName != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
		h.Set("Content-Type", contentType)
		part, err := writer.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func newRouter(f fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(f.pipeline).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func TestHandlerUploadPaper(t *testing.T) {
	f := newFixture(t, records.NewMemoryTablesWithEngineColumns())
	router := newRouter(f)

	body, ct := multipartBody(t, map[string]string{"title": "Final Exam 2023"}, "final.pdf", "application/pdf", pdfBytes)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/papers", body)
	req.Header.Set("Content-Type", ct)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var out ResultResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Status != StatusCompleted || out.Category != "exam" || out.DocumentID == "" {
		t.Fatalf("unexpected response %+v", out)
	}
}

func TestHandlerUploadPaperDegraded(t *testing.T) {
	tables := records.NewMemoryTablesWithEngineColumns()
	tables.DropColumn(records.TableDocuments, "category")
	tables.LockSchema(records.TableDocuments, true)
	router := newRouter(newFixture(t, tables))

	body, ct := multipartBody(t, map[string]string{"title": "Lecture 1"}, "l1.pdf", "application/pdf", pdfBytes)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/papers", body)
	req.Header.Set("Content-Type", ct)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", resp.Code, resp.Body.String())
	}
	var out ResultResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.RecordStatus != "degraded" || len(out.MissingColumns) != 1 || out.MissingColumns[0] != "category" {
		t.Fatalf("unexpected response %+v", out)
	}
}

func TestHandlerUploadErrors(t *testing.T) {
	router := newRouter(newFixture(t, records.NewMemoryTablesWithEngineColumns()))

	tests := []struct {
		name   string
		fields map[string]string
		file   string
		ct     string
		want   int
	}{
		{name: "no file", fields: map[string]string{"title": "Exam"}, want: http.StatusBadRequest},
		{name: "no title", fields: map[string]string{}, file: "a.pdf", ct: "application/pdf", want: http.StatusBadRequest},
		{name: "wrong type", fields: map[string]string{"title": "Exam"}, file: "a.png", ct: "image/png", want: http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.fields, tt.file, tt.ct, pdfBytes)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/papers", body)
			req.Header.Set("Content-Type", ct)
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			if resp.Code != tt.want {
				t.Fatalf("expected status %d, got %d: %s", tt.want, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestHandlerUploadSolutionRejectsMalformedPaperID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	backend := memory.New()
	store := object.NewAdapter(backend, object.NewDocumentBucket("papers"), object.NewDocumentBucket("solutions"))
	repo := records.NewRepository(&records.PGTables{DB: db}, schema.NewReconciler(&schema.PGExecutor{DB: db}, nil), nil)
	router := newRouter(fixture{pipeline: New(store, repo, Options{}, nil)})

	body, ct := multipartBody(t, map[string]string{"questionLabel": "Q1"}, "q1.pdf", "application/pdf", pdfBytes)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/papers/abc/solutions", body)
	req.Header.Set("Content-Type", ct)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", resp.Code, resp.Body.String())
	}
	if backend.Count("solutions") != 0 {
		t.Fatalf("nothing should be stored for a malformed paper id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no query should run: %v", err)
	}
}
