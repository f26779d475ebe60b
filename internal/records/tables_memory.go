package records

import (
	"context"
	"errors"
	"iter"
	"sort"
	"strings"
	"sync"

	"papers-backend/internal/schema"
)

var errSchemaLocked = errors.New("schema changes are not permitted")

// MemoryTables is an in-memory table service with a growable column set. It
// rejects writes and reads that name absent columns, the way a drifting
// hosted schema does.
type MemoryTables struct {
	mu      sync.RWMutex
	columns map[string]map[string]bool
	rows    map[string][]Row
	locked  map[string]bool
	unique  map[string][]string

	// OnUpdate, when set, runs before every update; a non-nil error aborts it.
	OnUpdate func(table, id string, set Row) error
	// OnInsert, when set, runs before every insert.
	OnInsert func(table string, row Row) error
}

// NewMemoryTables returns tables with the baseline migration's columns.
func NewMemoryTables() *MemoryTables {
	m := &MemoryTables{
		columns: map[string]map[string]bool{},
		rows:    map[string][]Row{},
		locked:  map[string]bool{},
		unique: map[string][]string{
			TableDocuments: {"bucket", "storage_key"},
		},
	}
	m.columns[TableDocuments] = setOf("id", "title", "bucket", "storage_key", "content_type",
		"size_bytes", "status", "user_id", "created_at", "updated_at", "deleted_at")
	m.columns[TableAnnotations] = setOf("id", "document_id", "question_label", "bucket",
		"storage_key", "content_type", "size_bytes", "user_id", "created_at", "updated_at", "deleted_at")
	return m
}

// NewMemoryTablesWithEngineColumns returns tables that already carry every
// reconciled column.
func NewMemoryTablesWithEngineColumns() *MemoryTables {
	m := NewMemoryTables()
	for _, table := range []string{TableDocuments, TableAnnotations} {
		for _, spec := range ColumnsFor(table) {
			m.columns[table][spec.Name] = true
		}
	}
	return m
}

func setOf(names ...string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// DropColumn removes a column and its values.
func (m *MemoryTables) DropColumn(table, column string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.columns[table], column)
	for _, row := range m.rows[table] {
		delete(row, column)
	}
}

// LockSchema makes AddColumn fail for table until unlocked.
func (m *MemoryTables) LockSchema(table string, locked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked[table] = locked
}

// Len returns the number of rows in table, deleted ones included.
func (m *MemoryTables) Len(table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows[table])
}

// Columns implements schema.Executor.
func (m *MemoryTables) Columns(ctx context.Context, table string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.columns[table]), nil
}

// AddColumn implements schema.Executor.
func (m *MemoryTables) AddColumn(ctx context.Context, table string, col schema.ColumnSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked[table] {
		return errSchemaLocked
	}
	cols, ok := m.columns[table]
	if !ok {
		return errors.New("relation " + table + " does not exist")
	}
	if cols[col.Name] {
		return nil
	}
	cols[col.Name] = true
	if col.Default != "" {
		def := strings.Trim(col.Default, "'")
		for _, row := range m.rows[table] {
			row[col.Name] = def
		}
	}
	return nil
}

func (m *MemoryTables) missing(table string, names []string) error {
	cols := m.columns[table]
	var absent []string
	for _, n := range names {
		if !cols[n] {
			absent = append(absent, n)
		}
	}
	if len(absent) == 0 {
		return nil
	}
	sort.Strings(absent)
	return &schema.MissingColumnError{Table: table, Columns: absent}
}

// Insert implements Tables.
func (m *MemoryTables) Insert(ctx context.Context, table string, row Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.OnInsert != nil {
		if err := m.OnInsert(table, row); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.missing(table, sortedKeys(row)); err != nil {
		return err
	}
	if m.conflicts(table, row) {
		return ErrDuplicate
	}
	stored := make(Row, len(row))
	for k, v := range row {
		stored[k] = v
	}
	m.rows[table] = append(m.rows[table], stored)
	return nil
}

// conflicts reports whether row repeats the unique key of a stored row,
// deleted rows included.
func (m *MemoryTables) conflicts(table string, row Row) bool {
	key := m.unique[table]
	if len(key) == 0 {
		return false
	}
	for _, existing := range m.rows[table] {
		same := true
		for _, c := range key {
			if existing[c] != row[c] {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}

// Update implements Tables.
func (m *MemoryTables) Update(ctx context.Context, table, id string, set Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.OnUpdate != nil {
		if err := m.OnUpdate(table, id, set); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.missing(table, sortedKeys(set)); err != nil {
		return err
	}
	for _, row := range m.rows[table] {
		if row["id"] == id {
			for k, v := range set {
				row[k] = v
			}
			return nil
		}
	}
	return ErrNotFound
}

// Select implements Tables. Matching rows are copied under the lock and
// yielded after it is released.
func (m *MemoryTables) Select(ctx context.Context, table string, q Query) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		m.mu.RLock()
		referenced := append([]string(nil), q.Columns...)
		referenced = append(referenced, sortedKeys(q.Equals)...)
		referenced = append(referenced, q.AnyBlank...)
		if q.SearchColumn != "" {
			referenced = append(referenced, q.SearchColumn)
		}
		if err := m.missing(table, referenced); err != nil {
			m.mu.RUnlock()
			yield(nil, err)
			return
		}
		var out []Row
		for _, row := range m.rows[table] {
			if !matches(row, q) {
				continue
			}
			proj := make(Row, len(q.Columns))
			for _, c := range q.Columns {
				proj[c] = row[c]
			}
			out = append(out, proj)
		}
		m.mu.RUnlock()

		sort.SliceStable(out, func(i, j int) bool {
			return asTime(out[i]["created_at"]).After(asTime(out[j]["created_at"]))
		})
		for _, row := range out {
			if !yield(row, nil) {
				return
			}
		}
	}
}

func matches(row Row, q Query) bool {
	if !q.IncludeDeleted && asTimePtr(row["deleted_at"]) != nil {
		return false
	}
	for c, want := range q.Equals {
		if row[c] != want {
			return false
		}
	}
	if len(q.AnyBlank) > 0 {
		blank := false
		for _, c := range q.AnyBlank {
			if asString(row[c]) == "" {
				blank = true
				break
			}
		}
		if !blank {
			return false
		}
	}
	if q.SearchColumn != "" && strings.TrimSpace(q.Search) != "" {
		hay := strings.ToLower(asString(row[q.SearchColumn]))
		if !strings.Contains(hay, strings.ToLower(strings.TrimSpace(q.Search))) {
			return false
		}
	}
	return true
}

var (
	_ Tables          = (*MemoryTables)(nil)
	_ schema.Executor = (*MemoryTables)(nil)
)
