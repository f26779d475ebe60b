package records

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"

	"papers-backend/internal/categorize"
	"papers-backend/internal/schema"
)

const (
	TableDocuments   = "documents"
	TableAnnotations = "annotations"
)

// Row maps column names to values. A nil value is written as NULL.
type Row map[string]any

// Query selects rows from one table. Conditions are ANDed.
type Query struct {
	Columns []string
	Equals  map[string]any
	// AnyBlank matches rows where at least one of these text columns is NULL or empty.
	AnyBlank []string
	// Search matches SearchColumn case-insensitively as a substring.
	SearchColumn   string
	Search         string
	IncludeDeleted bool
}

// Tables is the relational table service. Implementations report missing
// columns in a form schema.MissingColumns recognises.
type Tables interface {
	Insert(ctx context.Context, table string, row Row) error
	// Update sets columns on the row with the given id; ErrNotFound when absent.
	Update(ctx context.Context, table, id string, set Row) error
	// Select yields matching rows newest first.
	Select(ctx context.Context, table string, q Query) iter.Seq2[Row, error]
}

// Columns the engine grows on top of the baseline migration.
var (
	DocumentColumns = []schema.ColumnSpec{
		{Name: "category", Type: "text"},
		{Name: "page_count", Type: "integer"},
	}
	AnnotationColumns = []schema.ColumnSpec{
		{Name: "content", Type: "text", Default: "''"},
		{Name: "status", Type: "text", Default: "'completed'"},
	}
)

// ColumnsFor returns the reconciled columns of table.
func ColumnsFor(table string) []schema.ColumnSpec {
	switch table {
	case TableDocuments:
		return DocumentColumns
	case TableAnnotations:
		return AnnotationColumns
	default:
		return nil
	}
}

var (
	documentSelect = []string{
		"id", "title", "bucket", "storage_key", "content_type", "size_bytes", "category",
		"status", "page_count", "user_id", "created_at", "updated_at", "deleted_at",
	}
	annotationSelect = []string{
		"id", "document_id", "question_label", "bucket", "storage_key", "content_type",
		"size_bytes", "content", "status", "user_id", "created_at", "updated_at", "deleted_at",
	}
)

func documentRow(d Document) Row {
	row := Row{
		"id":           d.ID,
		"title":        d.Title,
		"bucket":       d.Bucket,
		"storage_key":  d.StorageKey,
		"content_type": nullString(d.ContentType),
		"size_bytes":   nil,
		"category":     nil,
		"status":       nil,
		"page_count":   nil,
		"user_id":      nil,
		"created_at":   d.CreatedAt,
		"updated_at":   d.UpdatedAt,
	}
	if d.SizeBytes != nil {
		row["size_bytes"] = *d.SizeBytes
	}
	if d.Category != nil {
		row["category"] = string(*d.Category)
	}
	if d.Status != nil {
		row["status"] = string(*d.Status)
	}
	if d.PageCount != nil {
		row["page_count"] = int64(*d.PageCount)
	}
	if d.UserID != nil {
		row["user_id"] = *d.UserID
	}
	return row
}

func documentFromRow(row Row) Document {
	d := Document{
		ID:          asString(row["id"]),
		Title:       asString(row["title"]),
		Bucket:      asString(row["bucket"]),
		StorageKey:  asString(row["storage_key"]),
		ContentType: asString(row["content_type"]),
		SizeBytes:   asInt64Ptr(row["size_bytes"]),
		UserID:      asStringPtr(row["user_id"]),
		CreatedAt:   asTime(row["created_at"]),
		UpdatedAt:   asTime(row["updated_at"]),
		DeletedAt:   asTimePtr(row["deleted_at"]),
	}
	if s := asStringPtr(row["category"]); s != nil && *s != "" {
		c := categorize.Parse(*s)
		d.Category = &c
	}
	if s := asStringPtr(row["status"]); s != nil && *s != "" {
		st := Status(*s)
		d.Status = &st
	}
	if n := asInt64Ptr(row["page_count"]); n != nil {
		pc := int(*n)
		d.PageCount = &pc
	}
	return d
}

func annotationRow(a Annotation) Row {
	row := Row{
		"id":             a.ID,
		"document_id":    a.DocumentID,
		"question_label": a.QuestionLabel,
		"bucket":         a.Bucket,
		"storage_key":    a.StorageKey,
		"content_type":   nullString(a.ContentType),
		"size_bytes":     nil,
		"content":        a.Content,
		"status":         nil,
		"user_id":        nil,
		"created_at":     a.CreatedAt,
		"updated_at":     a.UpdatedAt,
	}
	if a.SizeBytes != nil {
		row["size_bytes"] = *a.SizeBytes
	}
	if a.Status != nil {
		row["status"] = string(*a.Status)
	}
	if a.UserID != nil {
		row["user_id"] = *a.UserID
	}
	return row
}

func annotationFromRow(row Row) Annotation {
	a := Annotation{
		ID:            asString(row["id"]),
		DocumentID:    asString(row["document_id"]),
		QuestionLabel: asString(row["question_label"]),
		Bucket:        asString(row["bucket"]),
		StorageKey:    asString(row["storage_key"]),
		ContentType:   asString(row["content_type"]),
		SizeBytes:     asInt64Ptr(row["size_bytes"]),
		Content:       asString(row["content"]),
		UserID:        asStringPtr(row["user_id"]),
		CreatedAt:     asTime(row["created_at"]),
		UpdatedAt:     asTime(row["updated_at"]),
		DeletedAt:     asTimePtr(row["deleted_at"]),
	}
	if s := asStringPtr(row["status"]); s != nil && *s != "" {
		st := Status(*s)
		a.Status = &st
	}
	return a
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func asStringPtr(v any) *string {
	switch t := v.(type) {
	case string:
		return &t
	case []byte:
		s := string(t)
		return &s
	case *string:
		return t
	case [16]byte:
		s := uuid.UUID(t).String()
		return &s
	default:
		return nil
	}
}

func asString(v any) string {
	if p := asStringPtr(v); p != nil {
		return *p
	}
	return ""
}

func asInt64Ptr(v any) *int64 {
	var n int64
	switch t := v.(type) {
	case int64:
		n = t
	case int32:
		n = int64(t)
	case int:
		n = int64(t)
	case float64:
		n = int64(t)
	case *int64:
		return t
	default:
		return nil
	}
	return &n
}

func asTime(v any) time.Time {
	if p := asTimePtr(v); p != nil {
		return *p
	}
	return time.Time{}
}

func asTimePtr(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case *time.Time:
		return t
	default:
		return nil
	}
}
