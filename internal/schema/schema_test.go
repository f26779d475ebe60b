package schema

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

var specs = []ColumnSpec{
	{Name: "category", Type: "text"},
	{Name: "page_count", Type: "integer"},
}

// fakeExec is an in-memory column set.
type fakeExec struct {
	mu      sync.Mutex
	cols    []string
	failAdd map[string]error
	adds    int
}

func (f *fakeExec) Columns(ctx context.Context, table string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cols...), nil
}

func (f *fakeExec) AddColumn(ctx context.Context, table string, col ColumnSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds++
	if err := f.failAdd[col.Name]; err != nil {
		return err
	}
	for _, c := range f.cols {
		if c == col.Name {
			return nil
		}
	}
	f.cols = append(f.cols, col.Name)
	return nil
}

func TestEnsureColumnsIsIdempotent(t *testing.T) {
	exec := &fakeExec{cols: []string{"id", "title"}}
	r := NewReconciler(exec, nil)

	first := r.EnsureColumns(context.Background(), "documents", specs)
	if !first.OK() {
		t.Fatalf("unexpected failures: %v", first.Failed)
	}
	if !reflect.DeepEqual(first.Added, []string{"category", "page_count"}) {
		t.Fatalf("expected both columns added, got %v", first.Added)
	}
	after := append([]string(nil), exec.cols...)

	second := r.EnsureColumns(context.Background(), "documents", specs)
	if !second.OK() || len(second.Added) != 0 {
		t.Fatalf("expected no changes on second call, got %+v", second)
	}
	if !reflect.DeepEqual(exec.cols, after) {
		t.Fatalf("expected schema unchanged, got %v want %v", exec.cols, after)
	}
	if exec.adds != 2 {
		t.Fatalf("expected 2 DDL calls in total, got %d", exec.adds)
	}
}

func TestEnsureColumnsRecordsFailuresWithoutError(t *testing.T) {
	denied := errors.New("permission denied for table documents")
	exec := &fakeExec{cols: []string{"id"}, failAdd: map[string]error{"category": denied}}
	r := NewReconciler(exec, nil)

	rep := r.EnsureColumns(context.Background(), "documents", specs)
	if rep.OK() {
		t.Fatalf("expected a failure to be recorded")
	}
	if !errors.Is(rep.Failed["category"], denied) {
		t.Fatalf("expected category failure, got %v", rep.Failed)
	}
	if !reflect.DeepEqual(rep.Added, []string{"page_count"}) {
		t.Fatalf("expected page_count to still be added, got %v", rep.Added)
	}

	missing, err := r.Verify(context.Background(), "documents", Names(specs))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !reflect.DeepEqual(missing, []string{"category"}) {
		t.Fatalf("expected category missing, got %v", missing)
	}
}

func TestEnsureColumnsRejectsUnsafeSpecs(t *testing.T) {
	exec := &fakeExec{}
	r := NewReconciler(exec, nil)

	rep := r.EnsureColumns(context.Background(), "documents", []ColumnSpec{
		{Name: "bad name", Type: "text"},
		{Name: "ok", Type: "text; DROP TABLE documents"},
	})
	if len(rep.Failed) != 2 || exec.adds != 0 {
		t.Fatalf("expected both specs rejected before any DDL, got %+v adds=%d", rep, exec.adds)
	}
}

func TestPGExecutorEnsureColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	r := NewReconciler(&PGExecutor{DB: db}, nil)
	withDefault := []ColumnSpec{{Name: "content", Type: "text", Default: "''"}}

	mock.ExpectQuery("SELECT column_name").
		WithArgs("annotations").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("id"))
	mock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE "annotations" ADD COLUMN IF NOT EXISTS "content" TEXT DEFAULT ''`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rep := r.EnsureColumns(context.Background(), "annotations", withDefault)
	if !rep.OK() || len(rep.Added) != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}

	// Second run sees the column and issues no DDL.
	mock.ExpectQuery("SELECT column_name").
		WithArgs("annotations").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("id").AddRow("content"))

	rep = r.EnsureColumns(context.Background(), "annotations", withDefault)
	if !rep.OK() || len(rep.Added) != 0 || len(rep.Existing) != 1 {
		t.Fatalf("unexpected report on second run: %+v", rep)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGExecutorFallsBackWhenColumnsUnreadable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	r := NewReconciler(&PGExecutor{DB: db}, nil)

	mock.ExpectQuery("SELECT column_name").WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectExec(regexp.QuoteMeta(`ADD COLUMN IF NOT EXISTS "category" TEXT`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`ADD COLUMN IF NOT EXISTS "page_count" INTEGER`)).
		WillReturnError(fmt.Errorf("lock timeout"))

	rep := r.EnsureColumns(context.Background(), "documents", specs)
	if !reflect.DeepEqual(rep.Added, []string{"category"}) {
		t.Fatalf("expected category added, got %v", rep.Added)
	}
	if !reflect.DeepEqual(rep.FailedColumns(), []string{"page_count"}) {
		t.Fatalf("expected page_count failed, got %v", rep.FailedColumns())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestMissingColumns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want []string
		ok   bool
	}{
		{
			name: "postgres insert",
			err: fmt.Errorf("insert: %w", &pgconn.PgError{
				Code:    UndefinedColumn,
				Message: `column "category" of relation "documents" does not exist`,
			}),
			want: []string{"category"},
			ok:   true,
		},
		{
			name: "postgres qualified",
			err:  &pgconn.PgError{Code: UndefinedColumn, Message: `column d.page_count does not exist`, ColumnName: "page_count"},
			want: []string{"page_count"},
			ok:   true,
		},
		{
			name: "memory table",
			err:  &MissingColumnError{Table: "documents", Columns: []string{"page_count", "category"}},
			want: []string{"page_count", "category"},
			ok:   true,
		},
		{
			name: "other postgres error",
			err:  &pgconn.PgError{Code: "23505", Message: "duplicate key"},
		},
		{name: "nil"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := MissingColumns(tt.err)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if tt.ok && !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("columns = %v, want %v", got, tt.want)
			}
		})
	}
}
