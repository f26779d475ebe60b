// Package extract derives metadata from an uploaded payload: the effective
// content type and, for PDFs, the page count.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ledongthuc/pdf"

	"papers-backend/internal/shared/storage/object"
)

// Metadata is what Inspect learns about a payload.
type Metadata struct {
	ContentType string
	PageCount   *int
}

// Inspect normalizes the declared content type against the payload and
// counts PDF pages. A PDF that cannot be parsed yields a nil PageCount, not
// an error.
func Inspect(ctx context.Context, data []byte, declared, fileName string) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	md := Metadata{ContentType: NormalizeContentType(declared, fileName, data)}
	if md.ContentType == object.ContentTypePDF {
		if n, err := PageCount(data); err == nil {
			md.PageCount = &n
		}
	}
	return md, nil
}

// PageCount returns the number of pages of a PDF document.
func PageCount(data []byte) (n int, err error) {
	if len(data) == 0 {
		return 0, errors.New("empty pdf data")
	}
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return reader.NumPage(), nil
}

// NormalizeContentType returns the content type a payload should be stored
// under. Browsers report DOCX files as application/zip or
// application/octet-stream; those are resolved from the archive layout, the
// payload signature and finally the file extension.
func NormalizeContentType(declared, fileName string, data []byte) string {
	clean := object.NormalizeContentType(declared)
	switch clean {
	case "application/zip", "application/x-zip-compressed":
		if mapped := mapOOXMLFromZip(data); mapped != "" {
			return mapped
		}
		if byExt := object.ContentTypeFromName(fileName); byExt == object.ContentTypeDOCX {
			return byExt
		}
		return clean
	case "", "application/octet-stream", "binary/octet-stream":
		if len(data) > 0 {
			sniffed := object.NormalizeContentType(http.DetectContentType(data))
			switch sniffed {
			case object.ContentTypePDF:
				return sniffed
			case "application/zip":
				if mapped := mapOOXMLFromZip(data); mapped != "" {
					return mapped
				}
			}
		}
		if byExt := object.ContentTypeFromName(fileName); byExt != "" {
			return byExt
		}
		return clean
	default:
		return clean
	}
}

func mapOOXMLFromZip(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}
	for _, f := range zr.File {
		name := strings.ReplaceAll(f.Name, "\\", "/")
		switch name {
		case "word/document.xml":
			return object.ContentTypeDOCX
		case "xl/workbook.xml":
			return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		case "ppt/presentation.xml":
			return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
		}
	}
	return ""
}
