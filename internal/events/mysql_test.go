package events

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"ExtractBridge/pkg/plugin"
)

func TestMySQLSinkMigratesAndPublishes(t *testing.T) {
	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil || len(files) == 0 {
		t.Fatalf("load migrations: %v (%d files)", err, len(files))
	}

	ops := []mockOperation{
		execOp(createMigrationsTableSQL),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
	}
	for _, f := range files {
		ops = append(ops, beginOp())
		for _, stmt := range f.statements {
			ops = append(ops, execOp(stmt))
		}
		ops = append(ops, execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`), commitOp())
	}
	ops = append(ops, execOp(insertEventSQL))

	db, drv := newMockDB(t, ops)
	defer db.Close()

	sink, err := newMySQLSink(context.Background(), db)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	ev := plugin.Event{
		Kind:       plugin.EventRegistered,
		Capability: plugin.CapabilityValidator,
		Plugin:     "word_limit",
		Time:       time.UnixMilli(1700000000000),
	}
	if err := sink.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	drv.assertConsumed(t)

	args := drv.ops[len(drv.ops)-1].args
	if len(args) != 8 || args[1] != "registered" || args[3] != "word_limit" {
		t.Fatalf("unexpected insert args %v", args)
	}
	if args[5] != nil {
		t.Fatalf("empty error should be stored as NULL, got %v", args[5])
	}
	if args[7] != int64(1700000000000) {
		t.Fatalf("unexpected timestamp %v", args[7])
	}
}

func TestMySQLSinkSkipsAppliedMigrations(t *testing.T) {
	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	rows := mockRowsData{columns: []string{"version"}}
	for _, f := range files {
		rows.values = append(rows.values, []driver.Value{f.version})
	}
	db, drv := newMockDB(t, []mockOperation{
		execOp(createMigrationsTableSQL),
		queryOp(`SELECT version FROM schema_migrations`, rows),
	})
	defer db.Close()

	if _, err := newMySQLSink(context.Background(), db); err != nil {
		t.Fatalf("new sink: %v", err)
	}
	drv.assertConsumed(t)
}

func TestMigrationRollsBackOnFailure(t *testing.T) {
	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil || len(files) == 0 {
		t.Fatalf("load migrations: %v", err)
	}
	failing := execOp(files[0].statements[0])
	failing.err = errors.New("syntax error")
	db, drv := newMockDB(t, []mockOperation{
		execOp(createMigrationsTableSQL),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		failing,
		rollbackOp(),
	})
	defer db.Close()

	if _, err := newMySQLSink(context.Background(), db); err == nil || !strings.Contains(err.Error(), files[0].name) {
		t.Fatalf("expected migration error naming %s, got %v", files[0].name, err)
	}
	drv.assertConsumed(t)
}

func TestLoadMigrationFilesOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.sql":   {Data: []byte("ALTER TABLE t ADD c INT;")},
		"0001_a.sql":   {Data: []byte("CREATE TABLE t (id INT);\nCREATE INDEX i ON t (id);")},
		"README.md":    {Data: []byte("not sql")},
		"0003_e.sql":   {Data: []byte(" ; ")},
		"nested/x.sql": {Data: []byte("SELECT 1")},
	}
	files, err := loadMigrationFiles(fsys)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 2 || files[0].version != "0001" || files[1].version != "0002" {
		t.Fatalf("unexpected order %+v", files)
	}
	if len(files[0].statements) != 2 {
		t.Fatalf("expected two statements, got %q", files[0].statements)
	}
}

func TestMySQLSinkRequiresDSN(t *testing.T) {
	if _, err := NewMySQLSink(context.Background(), MySQLConfig{}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestFanoutPublishesToEverySink(t *testing.T) {
	mem := NewMemorySink()
	failing := failingSink{calls: make(chan struct{}, 1)}
	f := Fanout{failing, mem}
	err := f.Publish(context.Background(), plugin.Event{Kind: plugin.EventCleared})
	if err == nil {
		t.Fatal("expected the failing sink's error")
	}
	if got := mem.Events(); len(got) != 1 {
		t.Fatalf("memory sink should still receive the event, got %d", len(got))
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ   operationType
	query string
	rows  mockRowsData
	err   error
	args  []driver.Value
}

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type mockResult struct{}

func (mockResult) LastInsertId() (int64, error) { return 0, nil }
func (mockResult) RowsAffected() (int64, error) { return 1, nil }

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()
	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-events-%d", driverSeq.Add(1))
	sql.Register(name, drv)
	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string) mockOperation { return mockOperation{typ: opExec, query: query} }

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation    { return mockOperation{typ: opBegin} }
func commitOp() mockOperation   { return mockOperation{typ: opCommit} }
func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()
	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(string) (driver.Conn, error) { return &mockConn{driver: d}, nil }

func (d *queueDriver) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", op.typ, expected)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" && normalizeSQL(op.query) != normalizeSQL(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", normalizeSQL(op.query), normalizeSQL(query))
	}
	return op, nil
}

type mockConn struct{ driver *queueDriver }

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	for _, a := range args {
		op.args = append(op.args, a.Value)
	}
	return mockResult{}, nil
}

func (c *mockConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(context.Context) error { return nil }

type mockTx struct{ driver *queueDriver }

func (t *mockTx) Commit() error {
	op, err := t.driver.next(opCommit, "")
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.driver.next(opRollback, "")
	if err != nil {
		return err
	}
	return op.err
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
