package sqlite

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"
)

const slowQueryThreshold = 100 * time.Millisecond

// queryLogger wraps a *sql.DB and logs queries that exceed the slow
// query threshold.
type queryLogger struct {
	inner *sql.DB
	log   zerolog.Logger
}

func (l *queryLogger) slow(d time.Duration, query string) {
	l.log.Warn().
		Dur("duration", d.Round(time.Millisecond)).
		Str("query", truncateQuery(query)).
		Msg("slow query")
}

func (l *queryLogger) Exec(query string, args ...any) (sql.Result, error) {
	start := time.Now()
	result, err := l.inner.Exec(query, args...)
	if d := time.Since(start); d >= slowQueryThreshold {
		l.slow(d, query)
	}
	return result, err
}

func (l *queryLogger) Query(query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := l.inner.Query(query, args...)
	if d := time.Since(start); d >= slowQueryThreshold {
		l.slow(d, query)
	}
	return rows, err
}

func (l *queryLogger) QueryRow(query string, args ...any) *sql.Row {
	start := time.Now()
	row := l.inner.QueryRow(query, args...)
	if d := time.Since(start); d >= slowQueryThreshold {
		l.slow(d, query)
	}
	return row
}

func (l *queryLogger) Begin() (*sql.Tx, error) {
	return l.inner.Begin()
}

func (l *queryLogger) Close() error {
	return l.inner.Close()
}

func truncateQuery(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
