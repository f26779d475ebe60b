package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// PGExecutor runs reconciler DDL against Postgres.
type PGExecutor struct {
	DB *sql.DB
}

// Columns lists the columns of table in the current schema.
func (e *PGExecutor) Columns(ctx context.Context, table string) ([]string, error) {
	const query = `
SELECT column_name
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`

	rows, err := e.DB.QueryContext(ctx, query, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// AddColumn issues ALTER TABLE ... ADD COLUMN IF NOT EXISTS.
func (e *PGExecutor) AddColumn(ctx context.Context, table string, col ColumnSpec) error {
	if err := col.Validate(); err != nil {
		return err
	}
	_, err := e.DB.ExecContext(ctx, AddColumnStatement(table, col))
	return err
}

// AddColumnStatement renders the additive DDL for col.
func AddColumnStatement(table string, col ColumnSpec) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
		pgx.Identifier{table}.Sanitize(), pgx.Identifier{col.Name}.Sanitize(), strings.ToUpper(col.Type))
	if col.Default != "" {
		sb.WriteString(" DEFAULT ")
		sb.WriteString(col.Default)
	}
	return sb.String()
}

var _ Executor = (*PGExecutor)(nil)
