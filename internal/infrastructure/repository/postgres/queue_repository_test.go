package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
)

func newQueueRepoWithMock(t *testing.T) (*QueueRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewQueueRepository(db), mock, func() { _ = db.Close() }
}

func queueRow(id string, status domain.QueueStatus, attempts int) *sqlmock.Rows {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(queueColumns).AddRow(
		id, "inst-1", 123, nil, "bot-1",
		10, now, string(status), attempts, 3, nil,
		now, now, nil, nil,
	)
}

func TestQueueRepositoryClaimNextReturnsClaimedItem(t *testing.T) {
	repo, mock, done := newQueueRepoWithMock(t)
	defer done()

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(now).
		WillReturnRows(queueRow("q-1", domain.QueueStatusProcessing, 1))

	item, err := repo.ClaimNext(context.Background(), now)
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if item == nil || item.ID != "q-1" {
		t.Fatalf("expected claimed item q-1, got %+v", item)
	}
	if item.Status != domain.QueueStatusProcessing || item.Attempts != 1 {
		t.Fatalf("unexpected claimed state: %+v", item)
	}
	if item.LastError != nil || item.StartedAt != nil {
		t.Fatalf("expected nil nullable fields, got %+v", item)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueueRepositoryClaimNextReturnsNilWhenEmpty(t *testing.T) {
	repo, mock, done := newQueueRepoWithMock(t)
	defer done()

	mock.ExpectQuery("UPDATE queue_items").
		WillReturnRows(sqlmock.NewRows(queueColumns))

	item, err := repo.ClaimNext(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if item != nil {
		t.Fatalf("expected no item, got %+v", item)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueueRepositoryInsertMapsUniqueViolationToConflict(t *testing.T) {
	repo, mock, done := newQueueRepoWithMock(t)
	defer done()

	mock.ExpectExec("INSERT INTO queue_items").
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})

	now := time.Now().UTC()
	err := repo.Insert(context.Background(), &domain.QueueItem{
		ID: "q-1", InstanceID: "inst-1", RemoteDocumentID: 123, AIBotID: "bot-1",
		Priority: 10, ScheduledFor: now, Status: domain.QueueStatusPending, MaxAttempts: 3,
		CreatedAt: now, UpdatedAt: now,
	})
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueueRepositoryGetByIDReturnsNotFound(t *testing.T) {
	repo, mock, done := newQueueRepoWithMock(t)
	defer done()

	mock.ExpectQuery("FROM queue_items").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(queueColumns))

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueueRepositoryResetFailedRejectsOtherStatuses(t *testing.T) {
	repo, mock, done := newQueueRepoWithMock(t)
	defer done()

	mock.ExpectQuery("UPDATE queue_items SET status").
		WillReturnRows(sqlmock.NewRows(queueColumns))

	_, err := repo.ResetFailed(context.Background(), "q-1", time.Now())
	if !domain.IsKind(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueueRepositoryResetFailedMapsUniqueViolationToConflict(t *testing.T) {
	repo, mock, done := newQueueRepoWithMock(t)
	defer done()

	mock.ExpectQuery("UPDATE queue_items SET status").
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})

	_, err := repo.ResetFailed(context.Background(), "q-1", time.Now())
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if domain.IsKind(err, domain.ErrPersistence) {
		t.Fatalf("unique violation must not surface as persistence failure: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueueRepositoryResetAllFailedReturnsAffectedRows(t *testing.T) {
	repo, mock, done := newQueueRepoWithMock(t)
	defer done()

	mock.ExpectExec(`UPDATE queue_items SET status .* NOT EXISTS \(SELECT 1 FROM queue_items a`).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.ResetAllFailed(context.Background(), "inst-1", time.Now())
	if err != nil {
		t.Fatalf("ResetAllFailed() error = %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 rows, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueueRepositoryDeleteIdleRejectsProcessing(t *testing.T) {
	repo, mock, done := newQueueRepoWithMock(t)
	defer done()

	mock.ExpectExec("DELETE FROM queue_items").
		WithArgs("q-1", string(domain.QueueStatusProcessing)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteIdle(context.Background(), "q-1")
	if !domain.IsKind(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueueRepositoryStatsCountsEveryStatus(t *testing.T) {
	repo, mock, done := newQueueRepoWithMock(t)
	defer done()

	mock.ExpectQuery("GROUP BY status").
		WithArgs("inst-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 2).
			AddRow("processing", 1).
			AddRow("failed", 5))

	stats, err := repo.Stats(context.Background(), "inst-1")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	want := domain.QueueStats{Pending: 2, Processing: 1, Completed: 0, Failed: 5}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueueRepositoryListAppliesStatusFilterAndPaging(t *testing.T) {
	repo, mock, done := newQueueRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("inst-1", "failed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(21))
	mock.ExpectQuery("ORDER BY priority DESC, created_at DESC LIMIT 20 OFFSET 20").
		WithArgs("inst-1", "failed").
		WillReturnRows(queueRow("q-21", domain.QueueStatusFailed, 3))

	items, total, err := repo.List(context.Background(), domain.QueueFilter{
		InstanceID: "inst-1",
		Status:     domain.QueueStatusFailed,
		Page:       2,
		Limit:      20,
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 21 || len(items) != 1 {
		t.Fatalf("expected total 21 and one item, got %d/%d", total, len(items))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueueRepositoryMarkCompletedDetectsLostClaim(t *testing.T) {
	repo, mock, done := newQueueRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE queue_items SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkCompleted(context.Background(), "q-1", time.Now())
	if !domain.IsKind(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueueRepositoryReclaimStaleReturnsCount(t *testing.T) {
	repo, mock, done := newQueueRepoWithMock(t)
	defer done()

	cutoff := time.Date(2026, 10, 1, 11, 45, 0, 0, time.UTC)
	now := cutoff.Add(15 * time.Minute)
	mock.ExpectExec("WHERE status = 'processing' AND started_at <").
		WithArgs(cutoff, now, "processing timed out").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.ReclaimStale(context.Background(), cutoff, now, "processing timed out")
	if err != nil {
		t.Fatalf("ReclaimStale() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 reclaimed, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueueRepositoryKnownRemoteDocumentsSkipsEmptyInput(t *testing.T) {
	repo, mock, done := newQueueRepoWithMock(t)
	defer done()

	known, err := repo.KnownRemoteDocuments(context.Background(), "inst-1", nil)
	if err != nil {
		t.Fatalf("KnownRemoteDocuments() error = %v", err)
	}
	if len(known) != 0 {
		t.Fatalf("expected empty map, got %v", known)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
