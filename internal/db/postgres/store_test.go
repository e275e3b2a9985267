package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"semaphore/coursework/internal/apperr"
	"semaphore/coursework/internal/db"
	"semaphore/coursework/internal/model"
)

func TestClassify(t *testing.T) {
	cases := map[string]struct {
		err       error
		code      apperr.Code
		retryable bool
	}{
		"serialization": {err: &pgconn.PgError{Code: "40001"}, code: apperr.CodeConflict},
		"deadlock":      {err: &pgconn.PgError{Code: "40P01"}, code: apperr.CodeConflict},
		"foreign key":   {err: &pgconn.PgError{Code: "23503"}, code: apperr.CodeConflict},
		"admin":         {err: &pgconn.PgError{Code: "57P01"}, code: apperr.CodeStorage, retryable: true},
		"syntax":        {err: &pgconn.PgError{Code: "42601"}, code: apperr.CodeStorage},
		"deadline":      {err: context.DeadlineExceeded, code: apperr.CodeStorage, retryable: true},
		"plain":         {err: errors.New("boom"), code: apperr.CodeStorage},
	}
	for name, tc := range cases {
		err := classify("op", tc.err)
		if apperr.CodeOf(err) != tc.code {
			t.Fatalf("%s: expected %s, got %v", name, tc.code, err)
		}
		if apperr.IsRetryable(err) != tc.retryable {
			t.Fatalf("%s: expected retryable=%v", name, tc.retryable)
		}
	}
	if classify("op", nil) != nil {
		t.Fatalf("expected nil passthrough")
	}
	already := apperr.NotFound("inner", "gone")
	if classify("outer", already) != already {
		t.Fatalf("expected classified error to pass through")
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	url := os.Getenv("COURSEWORK_TEST_DB")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		t.Skip("COURSEWORK_TEST_DB or DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := NewPool(ctx, url, 4)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
	}
	if err := Migrate(pool, 0); err != nil {
		pool.Close()
		t.Fatalf("migrate: %v", err)
	}
	store := NewStore(pool)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreCourseLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	q := store.Queries()

	instructor := model.User{ID: uuid.New(), Name: "Ada", Email: uuid.NewString() + "@example.test", Role: model.RoleInstructor}
	if err := q.CreateUser(ctx, instructor); err != nil {
		t.Fatalf("create user: %v", err)
	}
	course := model.Course{ID: uuid.New(), Title: "Go", InstructorID: uuid.NullUUID{UUID: instructor.ID, Valid: true}}
	if err := q.CreateCourse(ctx, course); err != nil {
		t.Fatalf("create course: %v", err)
	}
	assessment := model.Assessment{ID: uuid.New(), CourseID: course.ID, Title: "Quiz", MaxScore: 10}
	if err := q.CreateAssessment(ctx, assessment); err != nil {
		t.Fatalf("create assessment: %v", err)
	}
	result := model.Result{ID: uuid.New(), AssessmentID: assessment.ID, UserID: instructor.ID, Score: 7, AttemptDate: time.Now().UTC(), Version: 1}
	if err := q.CreateResult(ctx, result); err != nil {
		t.Fatalf("create result: %v", err)
	}

	result.Score = 9
	updated, err := q.UpdateResult(ctx, result, 1)
	if err != nil {
		t.Fatalf("update result: %v", err)
	}
	if updated.Version != 2 || updated.Score != 9 {
		t.Fatalf("unexpected update: %+v", updated)
	}
	if _, err := q.UpdateResult(ctx, result, 1); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for stale version, got %v", err)
	}

	err = store.WithTx(ctx, func(tx db.Queries) error {
		if _, err := tx.LockCourse(ctx, course.ID); err != nil {
			return err
		}
		if _, err := tx.DeleteResults(ctx, []uuid.UUID{result.ID}); err != nil {
			return err
		}
		if _, err := tx.DeleteAssessments(ctx, []uuid.UUID{assessment.ID}); err != nil {
			return err
		}
		return tx.DeleteCourse(ctx, course.ID)
	})
	if err != nil {
		t.Fatalf("delete tx: %v", err)
	}
	if _, err := q.GetCourse(ctx, course.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := q.DeleteCourse(ctx, course.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestStoreForeignKeyIsConflict(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	err := store.Queries().CreateAssessment(ctx, model.Assessment{ID: uuid.New(), CourseID: uuid.New(), Title: "orphan", MaxScore: 1})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}
