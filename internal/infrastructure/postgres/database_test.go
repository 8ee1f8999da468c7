package postgres

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSanitizeQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "placeholders kept",
			query: "SELECT * FROM bank_connections WHERE id = $1 AND user_id = $2",
			want:  "SELECT * FROM bank_connections WHERE id = $1 AND user_id = $2",
		},
		{
			name:  "string literal hidden",
			query: "UPDATE bank_connections SET status = 'login_error' WHERE id = $1",
			want:  "UPDATE bank_connections SET status = '?' WHERE id = $1",
		},
		{
			name:  "escaped quote inside literal",
			query: "SELECT 'it''s' FROM categories",
			want:  "SELECT '?' FROM categories",
		},
		{
			name:  "numeric literal hidden",
			query: "SELECT * FROM synced_transactions LIMIT 100 OFFSET 20",
			want:  "SELECT * FROM synced_transactions LIMIT ? OFFSET ?",
		},
		{
			name:  "multi-digit placeholders kept",
			query: "VALUES ($10, $11, 42)",
			want:  "VALUES ($10, $11, ?)",
		},
		{
			name:  "whitespace collapsed",
			query: "\n\t\tSELECT id\n\t\tFROM sync_logs\n\t\tWHERE connection_id = $1",
			want:  "SELECT id FROM sync_logs WHERE connection_id = $1",
		},
		{
			name:  "digits inside identifiers kept",
			query: "SELECT a1.id FROM bank_accounts a1",
			want:  "SELECT a1.id FROM bank_accounts a1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeQuery(tt.query); got != tt.want {
				t.Errorf("sanitizeQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeQuery_Truncates(t *testing.T) {
	got := sanitizeQuery("SELECT " + strings.Repeat("x", 400))
	if len(got) != 256+len("...") || !strings.HasSuffix(got, "...") {
		t.Errorf("sanitizeQuery() length = %d, want truncated to 256 plus ellipsis", len(got))
	}
}

func TestExtractSQLVerb(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"\n\t\tINSERT INTO sync_logs (connection_id) VALUES ($1)", "INSERT"},
		{"select 1", "SELECT"},
		{"DELETE FROM bank_connections WHERE id = $1", "DELETE"},
		{"commit", "COMMIT"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := extractSQLVerb(tt.query); got != tt.want {
				t.Errorf("extractSQLVerb() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractTable(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"SELECT id FROM bank_connections WHERE id = $1", "bank_connections"},
		{"\n\t\tINSERT INTO synced_transactions (id, account_id) VALUES ($1, $2)", "synced_transactions"},
		{"UPDATE bank_connections SET status = $1", "bank_connections"},
		{"DELETE FROM fcm_device_tokens WHERE token = $1", "fcm_device_tokens"},
		{"SELECT a.id FROM bank_accounts a JOIN bank_connections c ON c.id = a.connection_id", "bank_accounts"},
		{"INSERT INTO sync_logs(connection_id) VALUES ($1)", "sync_logs"},
		{"SELECT n FROM (SELECT 1 AS n) sub", ""},
		{"SELECT pg_notify($1, $2)", ""},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := extractTable(tt.query); got != tt.want {
				t.Errorf("extractTable(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

var (
	spanRecorder     *tracetest.SpanRecorder
	spanRecorderOnce sync.Once
)

// recordSpans installs a recording tracer provider once per test binary; the
// package tracer delegates to the first global provider.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	spanRecorderOnce.Do(func() {
		spanRecorder = tracetest.NewSpanRecorder()
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder)))
	})
	spanRecorder.Reset()
	return spanRecorder
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) string {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value.AsString()
		}
	}
	return ""
}

func TestDB_SpansNameTheTable(t *testing.T) {
	recorder := recordSpans(t)
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer sqlDB.Close()
	db := &DB{sqlDB}

	mock.ExpectExec("INSERT INTO sync_logs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT status FROM bank_connections").WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectExec("UPDATE bank_connections").WillReturnError(errors.New("deadlock detected"))

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "INSERT INTO sync_logs (connection_id, status) VALUES ($1, 'running')", "conn-1"); err != nil {
		t.Fatalf("ExecContext() error: %v", err)
	}
	var status string
	if err := db.QueryRowContext(ctx, "SELECT status FROM bank_connections WHERE id = $1", "conn-1").Scan(&status); err == nil {
		t.Fatal("Scan() expected sql.ErrNoRows")
	}
	db.ExecContext(ctx, "UPDATE bank_connections SET status = $1 WHERE id = $2", "updated", "conn-1")

	spans := recorder.Ended()
	if len(spans) != 3 {
		t.Fatalf("ended spans = %d, want 3", len(spans))
	}

	want := []struct {
		name   string
		table  string
		status codes.Code
	}{
		{"INSERT sync_logs", "sync_logs", codes.Unset},
		{"SELECT bank_connections", "bank_connections", codes.Unset},
		{"UPDATE bank_connections", "bank_connections", codes.Error},
	}
	for i, w := range want {
		span := spans[i]
		if span.Name() != w.name {
			t.Errorf("span %d name = %q, want %q", i, span.Name(), w.name)
		}
		if got := spanAttr(span, "db.sql.table"); got != w.table {
			t.Errorf("span %d table = %q, want %q", i, got, w.table)
		}
		if span.Status().Code != w.status {
			t.Errorf("span %d status = %v, want %v", i, span.Status().Code, w.status)
		}
	}
	if stmt := spanAttr(spans[0], "db.statement"); strings.Contains(stmt, "running") {
		t.Errorf("statement leaks a literal: %q", stmt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
