package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"testing"

	"papers-backend/internal/shared/storage/object"
)

// minimalPDF renders a valid PDF with the given number of blank pages.
func minimalPDF(pages int) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", i+3)
	}
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages),
	}
	for i := 0; i < pages; i++ {
		objects = append(objects, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func zipWith(t *testing.T, name string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte("<w:document/>")); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestPageCount(t *testing.T) {
	n, err := PageCount(minimalPDF(3))
	if err != nil {
		t.Fatalf("PageCount: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 pages, got %d", n)
	}

	if _, err := PageCount([]byte("not a pdf")); err == nil {
		t.Fatal("expected error for garbage input")
	}
}

func TestInspectPDF(t *testing.T) {
	md, err := Inspect(context.Background(), minimalPDF(2), "application/octet-stream", "exam.pdf")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if md.ContentType != object.ContentTypePDF {
		t.Fatalf("expected pdf content type, got %s", md.ContentType)
	}
	if md.PageCount == nil || *md.PageCount != 2 {
		t.Fatalf("expected 2 pages, got %v", md.PageCount)
	}

	md, err = Inspect(context.Background(), []byte("%PDF-broken"), object.ContentTypePDF, "broken.pdf")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if md.PageCount != nil {
		t.Fatalf("expected no page count for a broken pdf")
	}
}

func TestNormalizeContentType(t *testing.T) {
	t.Parallel()

	docx := zipWith(t, "word/document.xml")
	plainZip := zipWith(t, "notes.txt")

	tests := []struct {
		name     string
		declared string
		file     string
		data     []byte
		want     string
	}{
		{name: "zip docx by layout", declared: "application/zip", file: "a.bin", data: docx, want: object.ContentTypeDOCX},
		{name: "zip docx by extension", declared: "application/zip", file: "a.docx", data: []byte("x"), want: object.ContentTypeDOCX},
		{name: "real zip stays zip", declared: "application/zip", file: "notes.zip", data: plainZip, want: "application/zip"},
		{name: "octet stream pdf", declared: "application/octet-stream", file: "x", data: []byte("%PDF-1.7\n"), want: object.ContentTypePDF},
		{name: "octet stream doc by extension", declared: "", file: "old.DOC", data: nil, want: object.ContentTypeDOC},
		{name: "params stripped", declared: "Application/PDF; charset=binary", file: "a.pdf", want: object.ContentTypePDF},
		{name: "text untouched", declared: "text/plain", file: "a.txt", want: "text/plain"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeContentType(tt.declared, tt.file, tt.data); got != tt.want {
				t.Fatalf("NormalizeContentType(%q, %q) = %q, want %q", tt.declared, tt.file, got, tt.want)
			}
		})
	}
}
