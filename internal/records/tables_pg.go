package records

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
)

// PGTables implements Tables using Postgres.
type PGTables struct {
	DB *sql.DB
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Insert writes one row. Columns are emitted in name order.
func (t *PGTables) Insert(ctx context.Context, table string, row Row) error {
	cols := sortedKeys(row)
	names := make([]string, len(cols))
	params := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		names[i] = ident(c)
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[c]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ident(table), strings.Join(names, ", "), strings.Join(params, ", "))
	_, err := t.DB.ExecContext(ctx, query, args...)
	return err
}

// Update sets the given columns on one row.
func (t *PGTables) Update(ctx context.Context, table, id string, set Row) error {
	cols := sortedKeys(set)
	assigns := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		assigns[i] = fmt.Sprintf("%s = $%d", ident(c), i+1)
		args = append(args, set[c])
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
		ident(table), strings.Join(assigns, ", "), len(args))

	res, err := t.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Select streams matching rows. The query runs when iteration starts.
func (t *PGTables) Select(ctx context.Context, table string, q Query) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		query, args := selectStatement(table, q)
		rows, err := t.DB.QueryContext(ctx, query, args...)
		if err != nil {
			yield(nil, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			vals := make([]any, len(q.Columns))
			ptrs := make([]any, len(q.Columns))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				yield(nil, err)
				return
			}
			row := make(Row, len(q.Columns))
			for i, c := range q.Columns {
				row[c] = vals[i]
			}
			if !yield(row, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

func selectStatement(table string, q Query) (string, []any) {
	cols := make([]string, len(q.Columns))
	for i, c := range q.Columns {
		cols[i] = ident(c)
	}

	var where []string
	var args []any
	if !q.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	for _, c := range sortedKeys(q.Equals) {
		args = append(args, q.Equals[c])
		where = append(where, fmt.Sprintf("%s = $%d", ident(c), len(args)))
	}
	if len(q.AnyBlank) > 0 {
		blanks := make([]string, len(q.AnyBlank))
		for i, c := range q.AnyBlank {
			blanks[i] = fmt.Sprintf("%s IS NULL OR %s = ''", ident(c), ident(c))
		}
		where = append(where, "("+strings.Join(blanks, " OR ")+")")
	}
	if q.SearchColumn != "" && strings.TrimSpace(q.Search) != "" {
		args = append(args, "%"+escapeLike(strings.TrimSpace(q.Search))+"%")
		where = append(where, fmt.Sprintf("%s ILIKE $%d", ident(q.SearchColumn), len(args)))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", strings.Join(cols, ", "), ident(table))
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC")
	return sb.String(), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var _ Tables = (*PGTables)(nil)
