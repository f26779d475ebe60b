// Package schema grows relational tables additively so the record layer can
// rely on the columns it writes.
package schema

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"papers-backend/internal/shared/metrics"
	"papers-backend/internal/shared/telemetry"
)

// ColumnSpec describes a column the engine needs. Default is a SQL literal
// expression such as 'other' or 0; empty means no default.
type ColumnSpec struct {
	Name    string
	Type    string
	Default string
}

// Executor is the table service seen by the reconciler.
type Executor interface {
	Columns(ctx context.Context, table string) ([]string, error)
	AddColumn(ctx context.Context, table string, col ColumnSpec) error
}

// Report summarizes one EnsureColumns call.
type Report struct {
	Table    string
	Added    []string
	Existing []string
	Failed   map[string]error
}

// OK reports whether every requested column is known to be present.
func (r Report) OK() bool { return len(r.Failed) == 0 }

// FailedColumns returns the names of columns that could not be ensured, sorted.
func (r Report) FailedColumns() []string {
	out := make([]string, 0, len(r.Failed))
	for name := range r.Failed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Reconciler issues additive, idempotent column repairs.
type Reconciler struct {
	Exec Executor
	Log  *telemetry.Logger
}

// NewReconciler constructs a Reconciler.
func NewReconciler(exec Executor, log *telemetry.Logger) *Reconciler {
	if log == nil {
		log = telemetry.Nop()
	}
	return &Reconciler{Exec: exec, Log: log.With("component", "schema")}
}

var (
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	typePattern  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9 _(),]*$`)
)

// Validate rejects specs that cannot be rendered as a single additive column.
func (c ColumnSpec) Validate() error {
	if !identPattern.MatchString(c.Name) {
		return fmt.Errorf("invalid column name %q", c.Name)
	}
	if !typePattern.MatchString(c.Type) {
		return fmt.Errorf("invalid column type %q for %s", c.Type, c.Name)
	}
	if strings.ContainsAny(c.Default, ";") || strings.Contains(c.Default, "--") {
		return fmt.Errorf("invalid default for %s", c.Name)
	}
	return nil
}

// EnsureColumns adds every column that the table lacks. It never drops or
// alters existing columns and never returns an error: failures are recorded
// in the report and logged, and callers must verify before depending on a
// column. When the current column set cannot be read every column is issued with
// IF NOT EXISTS.
func (r *Reconciler) EnsureColumns(ctx context.Context, table string, specs []ColumnSpec) Report {
	rep := Report{Table: table, Failed: map[string]error{}}

	present := map[string]bool{}
	if cols, err := r.Exec.Columns(ctx, table); err != nil {
		r.Log.Warn("schema.columns_unreadable", "table", table, "error", err)
	} else {
		for _, c := range cols {
			present[strings.ToLower(c)] = true
		}
	}

	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			rep.Failed[spec.Name] = err
			continue
		}
		if present[strings.ToLower(spec.Name)] {
			rep.Existing = append(rep.Existing, spec.Name)
			continue
		}
		if err := r.Exec.AddColumn(ctx, table, spec); err != nil {
			rep.Failed[spec.Name] = err
			r.Log.Warn("schema.add_column_failed", "table", table, "column", spec.Name, "error", err)
			continue
		}
		rep.Added = append(rep.Added, spec.Name)
	}

	if len(rep.Added) > 0 {
		metrics.IncSchemaRepairs(len(rep.Added))
		r.Log.Info("schema.columns_added", "table", table, "columns", rep.Added)
	}
	return rep
}

// Verify returns the names that the table does not currently have.
func (r *Reconciler) Verify(ctx context.Context, table string, names []string) ([]string, error) {
	cols, err := r.Exec.Columns(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	present := make(map[string]bool, len(cols))
	for _, c := range cols {
		present[strings.ToLower(c)] = true
	}
	var missing []string
	for _, n := range names {
		if !present[strings.ToLower(n)] {
			missing = append(missing, n)
		}
	}
	return missing, nil
}

// Names returns the column names of specs.
func Names(specs []ColumnSpec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Name
	}
	return out
}
