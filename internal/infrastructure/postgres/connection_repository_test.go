package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"nero/internal/domain/connection"
)

var connectionColumnNames = []string{
	"id", "user_id", "item_id", "connector_id", "connector_name", "connector_image_url",
	"status", "last_sync_at", "error_message", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*ConnectionRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
	return NewConnectionRepository(&DB{db}), mock
}

func connectionRow(rows *sqlmock.Rows, id string, lastSyncAt driver.Value) *sqlmock.Rows {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return rows.AddRow(id, "user-1", "item-"+id, 201, "Banco Teste", "", "updated", lastSyncAt, nil, created, created)
}

func TestListStale_SelectsNeverSyncedFirst(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	synced := cutoff.Add(-time.Hour)

	rows := sqlmock.NewRows(connectionColumnNames)
	connectionRow(rows, "never", nil)
	connectionRow(rows, "old", synced)
	mock.ExpectQuery(`FROM bank_connections WHERE status = \$1 AND \(last_sync_at IS NULL OR last_sync_at < \$2\) ORDER BY last_sync_at ASC NULLS FIRST LIMIT \$3`).
		WithArgs("updated", cutoff, 10).
		WillReturnRows(rows)

	got, err := repo.ListStale(context.Background(), cutoff, 10)
	if err != nil {
		t.Fatalf("ListStale() unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListStale() returned %d connections, want 2", len(got))
	}
	if got[0].ID != "never" || got[0].LastSyncAt != nil {
		t.Errorf("first = %s (last sync %v), want the never-synced connection", got[0].ID, got[0].LastSyncAt)
	}
	if got[1].LastSyncAt == nil || !got[1].LastSyncAt.Equal(synced) {
		t.Errorf("second last sync = %v, want %v", got[1].LastSyncAt, synced)
	}
}

func TestListStale_NonPositiveLimitIsUnbounded(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`LIMIT \$3`).
		WithArgs("updated", cutoff, nil).
		WillReturnRows(sqlmock.NewRows(connectionColumnNames))

	got, err := repo.ListStale(context.Background(), cutoff, 0)
	if err != nil {
		t.Fatalf("ListStale() unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListStale() = %d connections, want none", len(got))
	}
}

func TestListForSweep_OrdersByLastSync(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows(connectionColumnNames)
	connectionRow(rows, "conn-1", nil)
	mock.ExpectQuery(`WHERE status = ANY\(\$1\) ORDER BY last_sync_at ASC NULLS FIRST, created_at ASC LIMIT \$2`).
		WithArgs(pq.Array([]string{"updated", "updating", "outdated"}), nil).
		WillReturnRows(rows)

	got, err := repo.ListForSweep(context.Background(), connection.SweepStatuses, 0)
	if err != nil {
		t.Fatalf("ListForSweep() unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Status != connection.StatusUpdated {
		t.Errorf("ListForSweep() = %+v", got)
	}
}

func TestFindByID_MalformedIDSkipsQuery(t *testing.T) {
	repo, _ := newMockRepo(t)

	_, err := repo.FindByID(context.Background(), "user-1", "not-a-uuid")
	if !errors.Is(err, connection.ErrNotFound) {
		t.Errorf("FindByID() error = %v, want ErrNotFound", err)
	}
}
