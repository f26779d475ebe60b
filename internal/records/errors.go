package records

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// UniqueViolation is the Postgres SQLSTATE for a duplicate key.
const UniqueViolation = "23505"

// ErrNotFound is returned when no live record has the given id.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when a blob already has a record.
var ErrDuplicate = errors.New("record already exists for blob")

// IsDuplicate reports whether err is a unique-key violation from either
// table service.
func IsDuplicate(err error) bool {
	if errors.Is(err, ErrDuplicate) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == UniqueViolation
}

// SchemaError reports a write that still failed on missing columns after one
// repair attempt.
type SchemaError struct {
	Table   string
	Columns []string
	Err     error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("table %s is missing column(s) %s after repair", e.Table, strings.Join(e.Columns, ", "))
}

func (e *SchemaError) Unwrap() error { return e.Err }

// PartialCascadeError reports annotations that survived a document delete.
// The document itself is marked deleted.
type PartialCascadeError struct {
	DocumentID          string
	FailedAnnotationIDs []string
	Errs                []error
}

func (e *PartialCascadeError) Error() string {
	return fmt.Sprintf("document %s deleted but annotation(s) %s were not", e.DocumentID, strings.Join(e.FailedAnnotationIDs, ", "))
}

func (e *PartialCascadeError) Unwrap() []error { return e.Errs }
