package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	dbTracer      = otel.Tracer("nero/postgres")
	dbMeter       = otel.Meter("nero/postgres")
	dbDuration, _ = dbMeter.Float64Histogram("db.client.operation.duration",
		metric.WithDescription("Statement duration in seconds by operation and table"),
		metric.WithUnit("s"),
	)
)

// DB is a connection pool that traces and times every statement with the
// table it touches, so a slow sync can be pinned to bank_accounts,
// synced_transactions or sync_logs.
type DB struct {
	*sql.DB
}

// New opens and pings a PostgreSQL pool
func New(connStr string) (*DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The scheduler's workers, the API and the listener share this pool.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	ctx, obs := db.observe(ctx, query)
	rows, err := db.DB.QueryContext(ctx, query, args...)
	obs.end(ctx, err)
	return rows, err
}

// QueryRowContext defers the end of the span to Scan, where sql.Row reports
// its errors, sql.ErrNoRows included.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *tracedRow {
	ctx, obs := db.observe(ctx, query)
	return &tracedRow{
		row: db.DB.QueryRowContext(ctx, query, args...),
		ctx: ctx,
		obs: obs,
	}
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, obs := db.observe(ctx, query)
	result, err := db.DB.ExecContext(ctx, query, args...)
	obs.end(ctx, err)
	return result, err
}

type tracedRow struct {
	row *sql.Row
	ctx context.Context
	obs *observation
}

func (r *tracedRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if r.obs != nil {
		// A missing row is an answer, not a failed statement.
		if errors.Is(err, sql.ErrNoRows) {
			r.obs.end(r.ctx, nil)
		} else {
			r.obs.end(r.ctx, err)
		}
		r.obs = nil
	}
	return err
}

type observation struct {
	stmt  statement
	span  trace.Span
	start time.Time
}

func (db *DB) observe(ctx context.Context, query string) (context.Context, *observation) {
	stmt := describe(query)
	ctx, span := dbTracer.Start(ctx, stmt.spanName(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(stmt.attributes()...),
	)
	return ctx, &observation{stmt: stmt, span: span, start: time.Now()}
}

func (o *observation) end(ctx context.Context, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
	}
	o.span.End()
	dbDuration.Record(ctx, time.Since(o.start).Seconds(), metric.WithAttributes(
		attribute.String("db.operation", o.stmt.verb),
		attribute.String("db.sql.table", o.stmt.table),
		attribute.String("outcome", outcome),
	))
}

// statement is what gets recorded about a query: never its values.
type statement struct {
	verb  string
	table string
	text  string
}

func (s statement) spanName() string {
	if s.table == "" {
		return s.verb
	}
	return s.verb + " " + s.table
}

func (s statement) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", s.verb),
		attribute.String("db.statement", s.text),
	}
	if s.table != "" {
		attrs = append(attrs, attribute.String("db.sql.table", s.table))
	}
	return attrs
}

// Repositories only issue constant query strings, so each is described once.
var statements sync.Map

func describe(query string) statement {
	if cached, ok := statements.Load(query); ok {
		return cached.(statement)
	}
	stmt := statement{
		verb:  extractSQLVerb(query),
		table: extractTable(query),
		text:  sanitizeQuery(query),
	}
	statements.Store(query, stmt)
	return stmt
}

func extractSQLVerb(q string) string {
	fields := strings.Fields(q)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// extractTable returns the first table named by an UPDATE, INTO or FROM
// clause. Subqueries and function calls yield "".
func extractTable(q string) string {
	fields := strings.Fields(q)
	for i := 0; i < len(fields)-1; i++ {
		keyword := strings.ToUpper(fields[i])
		isTarget := keyword == "FROM" || keyword == "INTO" || (i == 0 && keyword == "UPDATE")
		if !isTarget {
			continue
		}
		name := fields[i+1]
		if strings.HasPrefix(name, "(") {
			return ""
		}
		if idx := strings.IndexAny(name, "(,;"); idx >= 0 {
			name = name[:idx]
		}
		return strings.ToLower(name)
	}
	return ""
}

// sanitizeQuery hides string and numeric literals so that values never reach
// traces. $N placeholders carry no data and stay.
func sanitizeQuery(q string) string {
	var b strings.Builder
	b.Grow(len(q))

	for i := 0; i < len(q); {
		switch ch := q[i]; {
		case ch == '\'':
			b.WriteString("'?'")
			i = skipStringLiteral(q, i+1)
		case isDigit(ch) && (i == 0 || !isIdentChar(q[i-1])):
			b.WriteByte('?')
			for i < len(q) && (isDigit(q[i]) || q[i] == '.') {
				i++
			}
		default:
			b.WriteByte(ch)
			i++
		}
	}

	s := strings.Join(strings.Fields(b.String()), " ")
	if len(s) > 256 {
		return s[:256] + "..."
	}
	return s
}

// skipStringLiteral returns the index just past the literal's closing quote.
// A doubled quote is an escaped one.
func skipStringLiteral(q string, i int) int {
	for i < len(q) {
		if q[i] != '\'' {
			i++
			continue
		}
		if i+1 < len(q) && q[i+1] == '\'' {
			i += 2
			continue
		}
		return i + 1
	}
	return i
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || isDigit(c) || c == '_' || c == '$'
}
