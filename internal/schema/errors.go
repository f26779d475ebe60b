package schema

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// UndefinedColumn is the Postgres SQLSTATE for a reference to a missing column.
const UndefinedColumn = "42703"

// MissingColumnError is reported by table services that name the absent
// columns directly.
type MissingColumnError struct {
	Table   string
	Columns []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("table %s has no column(s) %s", e.Table, strings.Join(e.Columns, ", "))
}

var columnInMessage = regexp.MustCompile(`column "([^"]+)"`)

// MissingColumns extracts the unknown column names from a table-service
// error. ok is false when err is not a missing-column error.
func MissingColumns(err error) ([]string, bool) {
	if err == nil {
		return nil, false
	}
	var mce *MissingColumnError
	if errors.As(err, &mce) {
		return append([]string(nil), mce.Columns...), true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == UndefinedColumn {
		var cols []string
		if pgErr.ColumnName != "" {
			cols = append(cols, pgErr.ColumnName)
		}
		for _, m := range columnInMessage.FindAllStringSubmatch(pgErr.Message, -1) {
			cols = append(cols, unqualify(m[1]))
		}
		return dedupe(cols), true
	}
	return nil, false
}

func unqualify(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Union merges column lists, sorted and without duplicates.
func Union(lists ...[]string) []string {
	var all []string
	for _, l := range lists {
		all = append(all, l...)
	}
	return dedupe(all)
}
