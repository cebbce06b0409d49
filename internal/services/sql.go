package services

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/desertthunder/exporter/internal/formatter"
	"github.com/desertthunder/exporter/internal/models"
	"github.com/desertthunder/exporter/internal/shared"
)

// OpenFunc opens a database handle for a driver and DSN.
type OpenFunc func(driver, dsn string) (*sql.DB, error)

// SQLBackend runs structured queries and writes the results as TSV.
//
// The connection comes from sql_dsn when set, otherwise a MySQL DSN is built from sql_host, sql_port, sql_user,
// sql_password and sql_db. sql_driver selects the driver and defaults to mysql.
// Handles are cached per DSN until [SQLBackend.Close].
type SQLBackend struct {
	open OpenFunc

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewSQLBackend creates a SQLBackend. A nil open uses [shared.NewDatabase].
func NewSQLBackend(open OpenFunc) *SQLBackend {
	if open == nil {
		open = shared.NewDatabase
	}
	return &SQLBackend{open: open, dbs: make(map[string]*sql.DB)}
}

// Query binds the task's template, appending a row limit when the context sets one.
func (b *SQLBackend) Query(task models.Descriptor, ec models.ExecContext, params map[string]string) (string, error) {
	q := shared.CleanCommand(task.Template)
	if ec.Limit > 0 {
		q = q + " limit " + strconv.Itoa(ec.Limit)
	}
	return shared.Bind(q, params)
}

func (b *SQLBackend) Validate(task models.Descriptor, params map[string]string) error {
	if _, err := shared.Bind(task.Template, params); err != nil {
		return fmt.Errorf("task %s: %w", task.Name, err)
	}
	if _, ok := params["sql_dsn"]; ok {
		return nil
	}
	if err := requireParams(params, "sql_host", "sql_user", "sql_db"); err != nil {
		return fmt.Errorf("task %s: %w", task.Name, err)
	}
	return nil
}

func (b *SQLBackend) Run(ctx context.Context, inv Invocation) (err error) {
	logger := loggerFor(inv)

	query, err := b.Query(inv.Task, inv.Context, inv.Params)
	if err != nil {
		return err
	}
	logger.Debug("query", "sql", query)

	if inv.Context.DryRun {
		logger.Info("dry run: skipping query", "task", inv.Task.Name, "sql", query)
		return nil
	}

	db, err := b.db(inv.Params)
	if err != nil {
		return err
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	out, err := os.Create(inv.Filename)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", inv.Filename, err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close %s: %w", inv.Filename, cerr)
		}
	}()

	count, err := formatter.WriteRows(out, rows)
	if err != nil {
		return err
	}
	logger.Debug("wrote rows", "file", inv.Filename, "rows", count)
	return nil
}

func (b *SQLBackend) db(params map[string]string) (*sql.DB, error) {
	driver := params["sql_driver"]
	if driver == "" {
		driver = "mysql"
	}
	dsn := params["sql_dsn"]
	if dsn == "" {
		if err := requireParams(params, "sql_host", "sql_user", "sql_db"); err != nil {
			return nil, err
		}
		dsn = shared.MySQLDSN(params["sql_host"], params["sql_port"], params["sql_user"], params["sql_password"], params["sql_db"])
	}

	key := driver + "\x00" + dsn
	b.mu.Lock()
	defer b.mu.Unlock()
	if db, ok := b.dbs[key]; ok {
		return db, nil
	}
	db, err := b.open(driver, dsn)
	if err != nil {
		return nil, err
	}
	// tasks run one at a time
	shared.ConfigureDatabase(db, 1, 1)
	b.dbs[key] = db
	return db, nil
}

// Close closes every cached database handle.
func (b *SQLBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for key, db := range b.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(b.dbs, key)
	}
	return firstErr
}
