// Package sqlexec runs generated SQL against the target database.
package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const defaultMaxRows = 1000

// ErrEmptyQuery is returned by Run for a blank statement.
var ErrEmptyQuery = errors.New("empty query")

// Result is a tabular query result.
type Result struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"`
}

// Runner executes statements over a database/sql handle.
type Runner struct {
	db      *sql.DB
	maxRows int
	logger  *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxRows caps the number of rows collected per query.
func WithMaxRows(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxRows = n
		}
	}
}

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// Open connects to a PostgreSQL database through the pgx driver.
func Open(ctx context.Context, url string, opts ...Option) (*Runner, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return New(db, opts...), nil
}

// New wraps an existing handle.
func New(db *sql.DB, opts ...Option) *Runner {
	r := &Runner{db: db, maxRows: defaultMaxRows, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes query and collects up to the row limit.
func (r *Runner) Run(ctx context.Context, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	res := &Result{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if len(res.Rows) >= r.maxRows {
			res.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	r.logger.Debug("query executed", "rows", len(res.Rows), "truncated", res.Truncated)
	return res, nil
}

// Close closes the underlying handle.
func (r *Runner) Close() error {
	return r.db.Close()
}
