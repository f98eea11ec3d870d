package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	domainStorage "github.com/orbitalweb/ow-agent/domains/storage"
	pkgError "github.com/orbitalweb/ow-agent/pkg/error"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SQLiteStore implements the persistent store contract over a single SQLite
// file. Each partition becomes one table: pk TEXT PRIMARY KEY, record TEXT
// holding the JSON document, plus one typed column per secondary index.
type SQLiteStore struct {
	path  string
	specs map[string]domainStorage.PartitionSpec

	mu          sync.Mutex
	db          *sql.DB
	initialized bool
}

// NewSQLiteStore declares the store; nothing is opened until Initialize.
// Partition and index field names must be plain identifiers since they become
// SQL table/column names.
func NewSQLiteStore(dbPath string, partitions []domainStorage.PartitionSpec) (*SQLiteStore, error) {
	specs := make(map[string]domainStorage.PartitionSpec, len(partitions))
	for _, spec := range partitions {
		if !identifierRegex.MatchString(spec.Name) || !identifierRegex.MatchString(spec.PrimaryKey) {
			return nil, fmt.Errorf("invalid partition spec %q", spec.Name)
		}
		for _, idx := range spec.Indexes {
			if !identifierRegex.MatchString(idx.Field) {
				return nil, fmt.Errorf("invalid index field %q in partition %q", idx.Field, spec.Name)
			}
		}
		specs[spec.Name] = spec
	}
	return &SQLiteStore{path: dbPath, specs: specs}, nil
}

// Initialize opens the database and creates every declared partition and
// index. Idempotent; concurrent callers block on the same in-flight
// initialization and observe its outcome.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initializeLocked(ctx)
}

func (s *SQLiteStore) initializeLocked(ctx context.Context) error {
	if s.initialized {
		return nil
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return pkgError.StorageUnavailableError(fmt.Sprintf("create storage dir: %v", err))
		}
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", s.path)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return pkgError.StorageUnavailableError(fmt.Sprintf("open %s: %v", s.path, err))
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return pkgError.StorageUnavailableError(fmt.Sprintf("ping %s: %v", s.path, err))
	}

	for _, spec := range s.specs {
		if err := createPartition(ctx, db, spec); err != nil {
			_ = db.Close()
			return pkgError.StorageUnavailableError(fmt.Sprintf("migrate partition %s: %v", spec.Name, err))
		}
	}

	s.db = db
	s.initialized = true
	logrus.Debugf("[STORE] initialized %d partitions at %s", len(s.specs), s.path)
	return nil
}

func createPartition(ctx context.Context, db *sql.DB, spec domainStorage.PartitionSpec) error {
	var cols strings.Builder
	cols.WriteString("pk TEXT PRIMARY KEY, record TEXT NOT NULL")
	for _, idx := range spec.Indexes {
		colType := "TEXT"
		if idx.Kind == domainStorage.IndexInteger {
			colType = "INTEGER"
		}
		fmt.Fprintf(&cols, ", ix_%s %s", idx.Field, colType)
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", spec.Name, cols.String())
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	for _, idx := range spec.Indexes {
		ddl := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(ix_%s)",
			spec.Name, idx.Field, spec.Name, idx.Field)
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// handle returns the live database, initializing lazily when needed.
func (s *SQLiteStore) handle(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initializeLocked(ctx); err != nil {
		return nil, err
	}
	return s.db, nil
}

// invalidate drops the cached handle after a connection-class failure so the
// next call re-initializes instead of operating on a stale connection.
func (s *SQLiteStore) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		_ = s.db.Close()
	}
	s.db = nil
	s.initialized = false
	logrus.Warnf("[STORE] connection invalidated for %s; next call re-initializes", s.path)
}

func (s *SQLiteStore) fail(op, partition string, err error) error {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		s.invalidate()
	}
	return fmt.Errorf("persistent store: %s %s: %w", op, partition, err)
}

func (s *SQLiteStore) spec(partition string) (domainStorage.PartitionSpec, error) {
	spec, ok := s.specs[partition]
	if !ok {
		return domainStorage.PartitionSpec{}, fmt.Errorf("persistent store: unknown partition %q", partition)
	}
	return spec, nil
}

// Get returns the stored record or (nil, nil) when the key is absent.
func (s *SQLiteStore) Get(ctx context.Context, partition, key string) (json.RawMessage, error) {
	if _, err := s.spec(partition); err != nil {
		return nil, err
	}
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	var record string
	query := fmt.Sprintf("SELECT record FROM %s WHERE pk = ?", partition)
	err = db.QueryRowContext(ctx, query, key).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("get", partition, err)
	}
	return json.RawMessage(record), nil
}

// Put upserts a record keyed by the partition's declared primary-key field.
// Secondary index columns are extracted from the record's top-level fields.
func (s *SQLiteStore) Put(ctx context.Context, partition string, record any) error {
	spec, err := s.spec(partition)
	if err != nil {
		return err
	}
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return s.fail("put", partition, fmt.Errorf("encode record: %w", err))
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return s.fail("put", partition, fmt.Errorf("record is not an object: %w", err))
	}

	pk, ok := fields[spec.PrimaryKey].(string)
	if !ok || pk == "" {
		return s.fail("put", partition, fmt.Errorf("record missing primary key %q", spec.PrimaryKey))
	}

	columns := []string{"pk", "record"}
	values := []any{pk, string(raw)}
	for _, idx := range spec.Indexes {
		columns = append(columns, "ix_"+idx.Field)
		values = append(values, indexValue(idx, fields[idx.Field]))
	}

	placeholders := strings.TrimRight(strings.Repeat("?, ", len(columns)), ", ")
	updates := make([]string, 0, len(columns)-1)
	for _, col := range columns[1:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(pk) DO UPDATE SET %s",
		partition, strings.Join(columns, ", "), placeholders, strings.Join(updates, ", "))

	if _, err := db.ExecContext(ctx, query, values...); err != nil {
		return s.fail("put", partition, err)
	}
	return nil
}

func indexValue(idx domainStorage.IndexSpec, value any) any {
	if value == nil {
		return nil
	}
	if idx.Kind == domainStorage.IndexInteger {
		switch v := value.(type) {
		case float64:
			return int64(math.Round(v))
		case int64:
			return v
		case int:
			return int64(v)
		default:
			return nil
		}
	}
	return fmt.Sprintf("%v", value)
}

// Delete removes one record; true when something was removed.
func (s *SQLiteStore) Delete(ctx context.Context, partition, key string) (bool, error) {
	if _, err := s.spec(partition); err != nil {
		return false, err
	}
	db, err := s.handle(ctx)
	if err != nil {
		return false, err
	}

	res, err := db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE pk = ?", partition), key)
	if err != nil {
		return false, s.fail("delete", partition, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, s.fail("delete", partition, err)
	}
	return affected > 0, nil
}

// GetAll returns every record in the partition, unordered.
func (s *SQLiteStore) GetAll(ctx context.Context, partition string) ([]json.RawMessage, error) {
	if _, err := s.spec(partition); err != nil {
		return nil, err
	}
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT record FROM %s", partition))
	if err != nil {
		return nil, s.fail("getAll", partition, err)
	}
	defer rows.Close()
	return collectRecords(rows, func(err error) error { return s.fail("getAll", partition, err) })
}

// QueryIndex returns records matching a secondary index by equality or range.
func (s *SQLiteStore) QueryIndex(ctx context.Context, partition string, query domainStorage.IndexQuery) ([]json.RawMessage, error) {
	spec, err := s.spec(partition)
	if err != nil {
		return nil, err
	}
	indexed := false
	for _, idx := range spec.Indexes {
		if idx.Field == query.Field {
			indexed = true
			break
		}
	}
	if !indexed {
		return nil, fmt.Errorf("persistent store: no index on %s.%s", partition, query.Field)
	}

	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	where := make([]string, 0, 2)
	args := make([]any, 0, 2)
	switch {
	case query.Equals != nil:
		where = append(where, fmt.Sprintf("ix_%s = ?", query.Field))
		args = append(args, query.Equals)
	default:
		if query.Min != nil {
			where = append(where, fmt.Sprintf("ix_%s >= ?", query.Field))
			args = append(args, query.Min)
		}
		if query.Max != nil {
			where = append(where, fmt.Sprintf("ix_%s < ?", query.Field))
			args = append(args, query.Max)
		}
	}
	if len(where) == 0 {
		return nil, fmt.Errorf("persistent store: empty index query on %s.%s", partition, query.Field)
	}

	sqlQuery := fmt.Sprintf("SELECT record FROM %s WHERE %s", partition, strings.Join(where, " AND "))
	rows, err := db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, s.fail("queryIndex", partition, err)
	}
	defer rows.Close()
	return collectRecords(rows, func(err error) error { return s.fail("queryIndex", partition, err) })
}

// BatchDelete removes the given keys in one statement and returns the count
// actually removed.
func (s *SQLiteStore) BatchDelete(ctx context.Context, partition string, keys []string) (int64, error) {
	if _, err := s.spec(partition); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	db, err := s.handle(ctx)
	if err != nil {
		return 0, err
	}

	placeholders := strings.TrimRight(strings.Repeat("?, ", len(keys)), ", ")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	res, err := db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE pk IN (%s)", partition, placeholders), args...)
	if err != nil {
		return 0, s.fail("batchDelete", partition, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, s.fail("batchDelete", partition, err)
	}
	return affected, nil
}

// Clear removes all records in the partition only.
func (s *SQLiteStore) Clear(ctx context.Context, partition string) error {
	if _, err := s.spec(partition); err != nil {
		return err
	}
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", partition)); err != nil {
		return s.fail("clear", partition, err)
	}
	return nil
}

// Close releases the database handle. The store can be re-initialized after.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.initialized = false
	return err
}

func collectRecords(rows *sql.Rows, wrap func(error) error) ([]json.RawMessage, error) {
	records := make([]json.RawMessage, 0)
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, wrap(err)
		}
		records = append(records, json.RawMessage(record))
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err)
	}
	return records, nil
}
