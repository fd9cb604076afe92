package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/brunocascio/amargo/pkg/registry"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestSQLStore_GetArtifact(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "repository_id", "name", "version", "storage_key", "size",
		"digest", "content_type", "metadata", "ttl_seconds", "created_at", "last_accessed_at",
	}).AddRow(7, 1, "express", "4.18.2", "repositories/npm/express/4.18.2/artifact",
		1234, "deadbeef", "application/octet-stream", `{"filename":"express-4.18.2.tgz"}`, 0, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs(int64(1), "express", "4.18.2").
		WillReturnRows(rows)

	artifact, err := store.GetArtifact(context.Background(), 1, "express", "4.18.2")
	if err != nil {
		t.Fatalf("GetArtifact() error = %v", err)
	}
	if artifact.ID != 7 || artifact.Digest != "deadbeef" {
		t.Errorf("GetArtifact() = %+v", artifact)
	}
	if artifact.Metadata["filename"] != "express-4.18.2.tgz" {
		t.Errorf("GetArtifact() metadata = %v", artifact.Metadata)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_GetArtifactMiss(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs(int64(1), "left-pad", "1.0.0").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetArtifact(context.Background(), 1, "left-pad", "1.0.0")
	if !registry.IsNotFound(err) {
		t.Errorf("GetArtifact() error = %v, want ErrNotFound", err)
	}
}

func TestSQLStore_PutArtifactTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO artifacts")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(42, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cache_entries")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	artifact := &registry.Artifact{
		RepositoryID: 3,
		Name:         "requests",
		Version:      "2.31.0",
		StorageKey:   "repositories/pypi/requests/2.31.0/artifact",
		Size:         100,
		Digest:       "cafef00d",
	}
	err := store.PutArtifact(context.Background(), artifact, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("PutArtifact() error = %v", err)
	}
	if artifact.ID != 42 {
		t.Errorf("PutArtifact() assigned ID %d, want 42", artifact.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_PutArtifactRollbackOnCacheEntryFailure(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO artifacts")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(42, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cache_entries")).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	artifact := &registry.Artifact{RepositoryID: 3, Name: "x", Version: "1", StorageKey: "k"}
	if err := store.PutArtifact(context.Background(), artifact, now.Add(time.Hour)); err == nil {
		t.Fatal("PutArtifact() should propagate cache-entry insert failure")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_ExpiredCacheEntries(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"key", "repository_id", "storage_key", "expires_at"}).
		AddRow("1:a:1", 1, "repositories/r/a/1/artifact", now.Add(-time.Hour)).
		AddRow("1:b:1", 1, "repositories/r/b/1/artifact", now.Add(-time.Minute))

	mock.ExpectQuery(regexp.QuoteMeta("FROM cache_entries")).
		WithArgs(sqlmock.AnyArg(), 100).
		WillReturnRows(rows)

	entries, err := store.ExpiredCacheEntries(context.Background(), now, 100)
	if err != nil {
		t.Fatalf("ExpiredCacheEntries() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ExpiredCacheEntries() returned %d entries, want 2", len(entries))
	}
	if entries[0].Key != "1:a:1" {
		t.Errorf("first entry key = %q", entries[0].Key)
	}
}

func TestSQLStore_DeleteArtifactsByID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM artifacts WHERE id IN ($1, $2, $3)")).
		WithArgs(int64(1), int64(2), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := store.DeleteArtifactsByID(context.Background(), []int64{1, 2, 3}); err != nil {
		t.Fatalf("DeleteArtifactsByID() error = %v", err)
	}

	// Empty slice short-circuits without touching the database.
	if err := store.DeleteArtifactsByID(context.Background(), nil); err != nil {
		t.Fatalf("DeleteArtifactsByID(nil) error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_DeleteArtifactsByIDInvalidatesCache(t *testing.T) {
	store, mock := newMockStore(t)
	cache, _ := newTestCache(t)
	store.WithCache(cache)
	ctx := context.Background()

	artifact := &registry.Artifact{ID: 42, RepositoryID: 7, Name: "express", Version: "4.18.2"}
	if err := cache.Set(ctx, artifact); err != nil {
		t.Fatalf("cache.Set() error = %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT repository_id, name, version FROM artifacts WHERE id IN ($1)")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"repository_id", "name", "version"}).
			AddRow(int64(7), "express", "4.18.2"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM artifacts WHERE id IN ($1)")).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.DeleteArtifactsByID(ctx, []int64{42}); err != nil {
		t.Fatalf("DeleteArtifactsByID() error = %v", err)
	}

	if got, err := cache.Get(ctx, 7, "express", "4.18.2"); err != nil {
		t.Fatalf("cache.Get() error = %v", err)
	} else if got != nil {
		t.Error("cached artifact row survived bulk delete")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_TouchArtifact(t *testing.T) {
	store, mock := newMockStore(t)

	// Zero rows affected is still success: a concurrent delete won.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE artifacts SET last_accessed_at")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.TouchArtifact(context.Background(), 1, "gone", "1", time.Now()); err != nil {
		t.Errorf("TouchArtifact() error = %v", err)
	}
}
