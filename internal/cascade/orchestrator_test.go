package cascade

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"semaphore/coursework/internal/apperr"
	"semaphore/coursework/internal/db"
	"semaphore/coursework/internal/db/sqlite"
	"semaphore/coursework/internal/model"
	"semaphore/coursework/internal/telemetry"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "cascade.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(0); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

type fixture struct {
	course      model.Course
	assessments []model.Assessment
	results     []model.Result
	enrollments []model.Enrollment
}

// seed creates a course with the given number of assessments, results per
// assessment and enrolled students.
func seed(t *testing.T, q db.Queries, assessments, resultsPer, students int) fixture {
	t.Helper()
	ctx := context.Background()
	var f fixture

	instructor := model.User{ID: uuid.New(), Name: "teacher", Email: uuid.NewString() + "@example.test", Role: model.RoleInstructor}
	if err := q.CreateUser(ctx, instructor); err != nil {
		t.Fatalf("create instructor: %v", err)
	}
	f.course = model.Course{ID: uuid.New(), Title: "course " + uuid.NewString()[:8], InstructorID: uuid.NullUUID{UUID: instructor.ID, Valid: true}}
	if err := q.CreateCourse(ctx, f.course); err != nil {
		t.Fatalf("create course: %v", err)
	}

	var users []model.User
	for i := 0; i < students; i++ {
		u := model.User{ID: uuid.New(), Name: "student", Email: uuid.NewString() + "@example.test", Role: model.RoleStudent}
		if err := q.CreateUser(ctx, u); err != nil {
			t.Fatalf("create student: %v", err)
		}
		users = append(users, u)
		e := model.Enrollment{ID: uuid.New(), UserID: u.ID, CourseID: f.course.ID, EnrolledOn: time.Now().UTC()}
		if err := q.CreateEnrollment(ctx, e); err != nil {
			t.Fatalf("create enrollment: %v", err)
		}
		f.enrollments = append(f.enrollments, e)
	}
	if len(users) == 0 {
		users = append(users, instructor)
	}

	for i := 0; i < assessments; i++ {
		a := model.Assessment{ID: uuid.New(), CourseID: f.course.ID, Title: "quiz", MaxScore: 10}
		if err := q.CreateAssessment(ctx, a); err != nil {
			t.Fatalf("create assessment: %v", err)
		}
		f.assessments = append(f.assessments, a)
		for j := 0; j < resultsPer; j++ {
			r := model.Result{ID: uuid.New(), AssessmentID: a.ID, UserID: users[j%len(users)].ID, Score: j, AttemptDate: time.Now().UTC(), Version: 1}
			if err := q.CreateResult(ctx, r); err != nil {
				t.Fatalf("create result: %v", err)
			}
			f.results = append(f.results, r)
		}
	}
	return f
}

func countRows(t *testing.T, q db.Queries) db.RowCounts {
	t.Helper()
	counts, err := q.CountRows(context.Background())
	if err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return counts
}

func TestDeleteCourseRemovesDependents(t *testing.T) {
	store := openStore(t)
	q := store.Queries()
	target := seed(t, q, 3, 2, 4)
	other := seed(t, q, 2, 1, 1)
	before := countRows(t, q)

	o := New(store, zerolog.Nop(), telemetry.NewMetrics())
	summary, err := o.DeleteCourse(context.Background(), target.course.ID)
	if err != nil {
		t.Fatalf("delete course: %v", err)
	}
	want := Summary{Courses: 1, Assessments: 3, Results: 6, Enrollments: 4}
	if summary != want {
		t.Fatalf("expected %+v, got %+v", want, summary)
	}

	ctx := context.Background()
	if _, err := q.GetCourse(ctx, target.course.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected course gone, got %v", err)
	}
	left, err := q.ListAssessmentsByCourse(ctx, target.course.ID)
	if err != nil || len(left) != 0 {
		t.Fatalf("expected no assessments, got %v %d", err, len(left))
	}
	orphans, err := q.ListResultsByAssessments(ctx, model.AssessmentIDs(target.assessments))
	if err != nil || len(orphans) != 0 {
		t.Fatalf("expected no results, got %v %d", err, len(orphans))
	}
	enrolled, err := q.ListEnrollmentsByCourse(ctx, target.course.ID)
	if err != nil || len(enrolled) != 0 {
		t.Fatalf("expected no enrollments, got %v %d", err, len(enrolled))
	}

	kept, err := q.ListAssessmentsByCourse(ctx, other.course.ID)
	if err != nil || len(kept) != 2 {
		t.Fatalf("expected other course intact, got %v %d", err, len(kept))
	}
	after := countRows(t, q)
	if after.Users != before.Users {
		t.Fatalf("users must not be touched: %d -> %d", before.Users, after.Users)
	}
	if before.Total()-after.Total() != 1+3+6+4 {
		t.Fatalf("unexpected row delta: %+v -> %+v", before, after)
	}
}

func TestDeleteCourseMissingWritesNothing(t *testing.T) {
	store := openStore(t)
	q := store.Queries()
	seed(t, q, 1, 1, 1)
	before := countRows(t, q)

	o := New(store, zerolog.Nop(), nil)
	_, err := o.DeleteCourse(context.Background(), uuid.New())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if after := countRows(t, q); after != before {
		t.Fatalf("expected unchanged counts, %+v -> %+v", before, after)
	}
}

func TestDeleteCourseWithoutChildren(t *testing.T) {
	store := openStore(t)
	q := store.Queries()
	f := seed(t, q, 0, 0, 0)

	o := New(store, zerolog.Nop(), nil)
	summary, err := o.DeleteCourse(context.Background(), f.course.ID)
	if err != nil {
		t.Fatalf("delete course: %v", err)
	}
	if summary != (Summary{Courses: 1}) {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestConcurrentDeleteCourse(t *testing.T) {
	store := openStore(t)
	q := store.Queries()
	f := seed(t, q, 2, 3, 2)
	before := countRows(t, q)

	o := New(store, zerolog.Nop(), nil)
	var (
		wg        sync.WaitGroup
		summaries [2]Summary
		errs      [2]error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			summaries[i], errs[i] = o.DeleteCourse(context.Background(), f.course.ID)
		}(i)
	}
	wg.Wait()

	var ok, notFound int
	var winner Summary
	for i, err := range errs {
		switch {
		case err == nil:
			ok++
			winner = summaries[i]
		case errors.Is(err, apperr.ErrNotFound):
			notFound++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || notFound != 1 {
		t.Fatalf("expected one success and one not found, got %d/%d", ok, notFound)
	}
	if winner != (Summary{Courses: 1, Assessments: 2, Results: 6, Enrollments: 2}) {
		t.Fatalf("unexpected winner summary %+v", winner)
	}
	after := countRows(t, q)
	if before.Total()-after.Total() != 1+2+6+2 {
		t.Fatalf("expected a single cascade worth of deletes, %+v -> %+v", before, after)
	}
}

func TestDeleteAssessmentKeepsSiblings(t *testing.T) {
	store := openStore(t)
	q := store.Queries()
	f := seed(t, q, 2, 3, 3)
	target, sibling := f.assessments[0], f.assessments[1]

	o := New(store, zerolog.Nop(), nil)
	summary, err := o.DeleteAssessment(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("delete assessment: %v", err)
	}
	if summary != (Summary{Assessments: 1, Results: 3}) {
		t.Fatalf("unexpected summary %+v", summary)
	}

	ctx := context.Background()
	if _, err := q.GetAssessment(ctx, target.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected assessment gone, got %v", err)
	}
	if _, err := q.GetCourse(ctx, f.course.ID); err != nil {
		t.Fatalf("expected course intact: %v", err)
	}
	siblingResults, err := q.ListResultsByAssessments(ctx, []uuid.UUID{sibling.ID})
	if err != nil || len(siblingResults) != 3 {
		t.Fatalf("expected sibling results intact, got %v %d", err, len(siblingResults))
	}
	enrolled, err := q.ListEnrollmentsByCourse(ctx, f.course.ID)
	if err != nil || len(enrolled) != 3 {
		t.Fatalf("expected enrollments intact, got %v %d", err, len(enrolled))
	}

	if _, err := o.DeleteAssessment(ctx, target.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found on repeat, got %v", err)
	}
}

// failingGateway runs the real transaction but fails one named step.
type failingGateway struct {
	db.Gateway
	failOn string
}

type failingQueries struct {
	db.Queries
	failOn string
}

var errInjected = apperr.Storage("delete enrollments", errors.New("disk I/O error"), true)

func (q failingQueries) DeleteEnrollments(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if q.failOn == "enrollments" {
		return 0, errInjected
	}
	return q.Queries.DeleteEnrollments(ctx, ids)
}

func (g failingGateway) WithTx(ctx context.Context, fn func(db.Queries) error) error {
	return g.Gateway.WithTx(ctx, func(q db.Queries) error {
		return fn(failingQueries{Queries: q, failOn: g.failOn})
	})
}

func TestDeleteCourseRollsBackOnFailure(t *testing.T) {
	store := openStore(t)
	q := store.Queries()
	f := seed(t, q, 2, 2, 2)
	before := countRows(t, q)

	o := New(failingGateway{Gateway: store, failOn: "enrollments"}, zerolog.Nop(), nil)
	_, err := o.DeleteCourse(context.Background(), f.course.ID)
	if !errors.Is(err, apperr.ErrStorage) || !apperr.IsRetryable(err) {
		t.Fatalf("expected retryable storage error, got %v", err)
	}
	if after := countRows(t, q); after != before {
		t.Fatalf("expected rollback, %+v -> %+v", before, after)
	}
}
