package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"semaphore/coursework/internal/apperr"
	"semaphore/coursework/internal/db"
	"semaphore/coursework/internal/model"
)

type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type Queries struct {
	db DBTX
}

var _ db.Queries = (*Queries)(nil)

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// Users

func (q *Queries) CreateUser(ctx context.Context, user model.User) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO users (id, name, email, role)
		VALUES ($1, $2, $3, $4)
	`, pgUUID(user.ID), user.Name, user.Email, string(user.Role))
	return classify("create user", err)
}

func (q *Queries) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	var (
		user   model.User
		userID pgtype.UUID
		role   string
	)
	err := q.db.QueryRow(ctx, `
		SELECT id, name, email, role FROM users WHERE id = $1
	`, pgUUID(id)).Scan(&userID, &user.Name, &user.Email, &role)
	if err != nil {
		return model.User{}, classify("get user", err)
	}
	user.ID = fromPgUUID(userID)
	user.Role = model.Role(role)
	return user, nil
}

func (q *Queries) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := q.db.Query(ctx, `SELECT id, name, email, role FROM users ORDER BY name, id`)
	if err != nil {
		return nil, classify("list users", err)
	}
	defer rows.Close()
	users := []model.User{}
	for rows.Next() {
		var (
			user   model.User
			userID pgtype.UUID
			role   string
		)
		if err := rows.Scan(&userID, &user.Name, &user.Email, &role); err != nil {
			return nil, classify("list users", err)
		}
		user.ID = fromPgUUID(userID)
		user.Role = model.Role(role)
		users = append(users, user)
	}
	return users, classify("list users", rows.Err())
}

func (q *Queries) UpdateUser(ctx context.Context, user model.User) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE users SET name = $2, email = $3, role = $4 WHERE id = $1
	`, pgUUID(user.ID), user.Name, user.Email, string(user.Role))
	if err != nil {
		return classify("update user", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("update user", "user not found")
	}
	return nil
}

func (q *Queries) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, pgUUID(id))
	if err != nil {
		return classify("delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("delete user", "user not found")
	}
	return nil
}

// Courses

const courseColumns = `id, title, description, media_url, instructor_id, version`

func (q *Queries) CreateCourse(ctx context.Context, course model.Course) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO courses (id, title, description, media_url, instructor_id, version)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, pgUUID(course.ID), course.Title, course.Description, course.MediaURL, pgNullUUID(course.InstructorID), course.Version)
	return classify("create course", err)
}

func (q *Queries) GetCourse(ctx context.Context, id uuid.UUID) (model.Course, error) {
	course, err := scanCourse(q.db.QueryRow(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, pgUUID(id)))
	return course, classify("get course", err)
}

func (q *Queries) LockCourse(ctx context.Context, id uuid.UUID) (model.Course, error) {
	course, err := scanCourse(q.db.QueryRow(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = $1 FOR UPDATE`, pgUUID(id)))
	return course, classify("lock course", err)
}

func (q *Queries) ListCourses(ctx context.Context, instructorID uuid.NullUUID) ([]model.Course, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if instructorID.Valid {
		rows, err = q.db.Query(ctx, `SELECT `+courseColumns+` FROM courses WHERE instructor_id = $1 ORDER BY title, id`, pgUUID(instructorID.UUID))
	} else {
		rows, err = q.db.Query(ctx, `SELECT `+courseColumns+` FROM courses ORDER BY title, id`)
	}
	if err != nil {
		return nil, classify("list courses", err)
	}
	defer rows.Close()
	courses := []model.Course{}
	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, classify("list courses", err)
		}
		courses = append(courses, course)
	}
	return courses, classify("list courses", rows.Err())
}

func (q *Queries) UpdateCourse(ctx context.Context, course model.Course, expectedVersion int) (model.Course, error) {
	updated, err := scanCourse(q.db.QueryRow(ctx, `
		UPDATE courses
		SET title = $2, description = $3, media_url = $4, instructor_id = $5, version = version + 1
		WHERE id = $1 AND ($6 = 0 OR version = $6)
		RETURNING `+courseColumns,
		pgUUID(course.ID), course.Title, course.Description, course.MediaURL, pgNullUUID(course.InstructorID), expectedVersion))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Course{}, classify("update course", err)
	}
	if _, getErr := q.GetCourse(ctx, course.ID); getErr != nil {
		return model.Course{}, getErr
	}
	return model.Course{}, apperr.Conflict("update course", fmt.Errorf("version %d is stale", expectedVersion))
}

func (q *Queries) DeleteCourse(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM courses WHERE id = $1`, pgUUID(id))
	if err != nil {
		return classify("delete course", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("delete course", "course not found")
	}
	return nil
}

func scanCourse(row pgx.Row) (model.Course, error) {
	var (
		course       model.Course
		id           pgtype.UUID
		instructorID pgtype.UUID
	)
	if err := row.Scan(&id, &course.Title, &course.Description, &course.MediaURL, &instructorID, &course.Version); err != nil {
		return model.Course{}, err
	}
	course.ID = fromPgUUID(id)
	course.InstructorID = fromPgNullUUID(instructorID)
	return course, nil
}

// Assessments

const (
	assessmentColumns  = `id, course_id, title, questions, max_score, version`
	assessmentColumnsA = `a.id, a.course_id, a.title, a.questions, a.max_score, a.version`
)

func (q *Queries) CreateAssessment(ctx context.Context, assessment model.Assessment) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO assessments (id, course_id, title, questions, max_score, version)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, pgUUID(assessment.ID), pgUUID(assessment.CourseID), assessment.Title, assessment.Questions, assessment.MaxScore, assessment.Version)
	return classify("create assessment", err)
}

func (q *Queries) GetAssessment(ctx context.Context, id uuid.UUID) (model.Assessment, error) {
	assessment, err := scanAssessment(q.db.QueryRow(ctx, `SELECT `+assessmentColumns+` FROM assessments WHERE id = $1`, pgUUID(id)))
	return assessment, classify("get assessment", err)
}

func (q *Queries) LockAssessment(ctx context.Context, id uuid.UUID) (model.Assessment, error) {
	assessment, err := scanAssessment(q.db.QueryRow(ctx, `SELECT `+assessmentColumns+` FROM assessments WHERE id = $1 FOR UPDATE`, pgUUID(id)))
	return assessment, classify("lock assessment", err)
}

func (q *Queries) ListAssessmentsByCourse(ctx context.Context, courseID uuid.UUID) ([]model.Assessment, error) {
	return q.listAssessments(ctx, `SELECT `+assessmentColumns+` FROM assessments WHERE course_id = $1 ORDER BY title, id`, pgUUID(courseID))
}

func (q *Queries) ListAssessments(ctx context.Context, instructorID uuid.NullUUID) ([]model.Assessment, error) {
	if !instructorID.Valid {
		return q.listAssessments(ctx, `SELECT `+assessmentColumns+` FROM assessments ORDER BY title, id`)
	}
	return q.listAssessments(ctx, `
		SELECT `+assessmentColumnsA+`
		FROM assessments a
		JOIN courses c ON c.id = a.course_id
		WHERE c.instructor_id = $1
		ORDER BY a.title, a.id
	`, pgUUID(instructorID.UUID))
}

func (q *Queries) listAssessments(ctx context.Context, query string, args ...interface{}) ([]model.Assessment, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list assessments", err)
	}
	defer rows.Close()
	assessments := []model.Assessment{}
	for rows.Next() {
		assessment, err := scanAssessment(rows)
		if err != nil {
			return nil, classify("list assessments", err)
		}
		assessments = append(assessments, assessment)
	}
	return assessments, classify("list assessments", rows.Err())
}

func (q *Queries) UpdateAssessment(ctx context.Context, assessment model.Assessment, expectedVersion int) (model.Assessment, error) {
	updated, err := scanAssessment(q.db.QueryRow(ctx, `
		UPDATE assessments
		SET course_id = $2, title = $3, questions = $4, max_score = $5, version = version + 1
		WHERE id = $1 AND ($6 = 0 OR version = $6)
		RETURNING `+assessmentColumns,
		pgUUID(assessment.ID), pgUUID(assessment.CourseID), assessment.Title, assessment.Questions, assessment.MaxScore, expectedVersion))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Assessment{}, classify("update assessment", err)
	}
	if _, getErr := q.GetAssessment(ctx, assessment.ID); getErr != nil {
		return model.Assessment{}, getErr
	}
	return model.Assessment{}, apperr.Conflict("update assessment", fmt.Errorf("version %d is stale", expectedVersion))
}

func (q *Queries) DeleteAssessments(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := q.db.Exec(ctx, `DELETE FROM assessments WHERE id = ANY($1)`, pgUUIDs(ids))
	if err != nil {
		return 0, classify("delete assessments", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) DeleteAssessment(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM assessments WHERE id = $1`, pgUUID(id))
	if err != nil {
		return classify("delete assessment", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("delete assessment", "assessment not found")
	}
	return nil
}

func scanAssessment(row pgx.Row) (model.Assessment, error) {
	var (
		assessment model.Assessment
		id         pgtype.UUID
		courseID   pgtype.UUID
	)
	if err := row.Scan(&id, &courseID, &assessment.Title, &assessment.Questions, &assessment.MaxScore, &assessment.Version); err != nil {
		return model.Assessment{}, err
	}
	assessment.ID = fromPgUUID(id)
	assessment.CourseID = fromPgUUID(courseID)
	return assessment, nil
}

// Enrollments

const enrollmentColumns = `id, user_id, course_id, enrolled_on`

func (q *Queries) CreateEnrollment(ctx context.Context, enrollment model.Enrollment) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO enrollments (id, user_id, course_id, enrolled_on)
		VALUES ($1, $2, $3, $4)
	`, pgUUID(enrollment.ID), pgUUID(enrollment.UserID), pgUUID(enrollment.CourseID), pgTime(enrollment.EnrolledOn))
	return classify("create enrollment", err)
}

func (q *Queries) GetEnrollment(ctx context.Context, id uuid.UUID) (model.Enrollment, error) {
	enrollment, err := scanEnrollment(q.db.QueryRow(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`, pgUUID(id)))
	return enrollment, classify("get enrollment", err)
}

func (q *Queries) FindEnrollment(ctx context.Context, userID, courseID uuid.UUID) (model.Enrollment, error) {
	enrollment, err := scanEnrollment(q.db.QueryRow(ctx, `
		SELECT `+enrollmentColumns+` FROM enrollments WHERE user_id = $1 AND course_id = $2
	`, pgUUID(userID), pgUUID(courseID)))
	return enrollment, classify("find enrollment", err)
}

func (q *Queries) ListEnrollmentsByCourse(ctx context.Context, courseID uuid.UUID) ([]model.Enrollment, error) {
	return q.listEnrollments(ctx, "list course enrollments", `SELECT `+enrollmentColumns+` FROM enrollments WHERE course_id = $1 ORDER BY enrolled_on, id`, pgUUID(courseID))
}

func (q *Queries) ListEnrollmentsByUser(ctx context.Context, userID uuid.UUID) ([]model.Enrollment, error) {
	return q.listEnrollments(ctx, "list user enrollments", `SELECT `+enrollmentColumns+` FROM enrollments WHERE user_id = $1 ORDER BY enrolled_on, id`, pgUUID(userID))
}

func (q *Queries) ListEnrollments(ctx context.Context) ([]model.Enrollment, error) {
	return q.listEnrollments(ctx, "list enrollments", `SELECT `+enrollmentColumns+` FROM enrollments ORDER BY enrolled_on, id`)
}

func (q *Queries) listEnrollments(ctx context.Context, op, query string, args ...interface{}) ([]model.Enrollment, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()
	enrollments := []model.Enrollment{}
	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		enrollments = append(enrollments, enrollment)
	}
	return enrollments, classify(op, rows.Err())
}

func (q *Queries) UpdateEnrollment(ctx context.Context, enrollment model.Enrollment) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE enrollments SET user_id = $2, course_id = $3, enrolled_on = $4 WHERE id = $1
	`, pgUUID(enrollment.ID), pgUUID(enrollment.UserID), pgUUID(enrollment.CourseID), pgTime(enrollment.EnrolledOn))
	if err != nil {
		return classify("update enrollment", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("update enrollment", "enrollment not found")
	}
	return nil
}

func (q *Queries) DeleteEnrollments(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := q.db.Exec(ctx, `DELETE FROM enrollments WHERE id = ANY($1)`, pgUUIDs(ids))
	if err != nil {
		return 0, classify("delete enrollments", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) DeleteEnrollment(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM enrollments WHERE id = $1`, pgUUID(id))
	if err != nil {
		return classify("delete enrollment", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("delete enrollment", "enrollment not found")
	}
	return nil
}

func scanEnrollment(row pgx.Row) (model.Enrollment, error) {
	var (
		enrollment model.Enrollment
		id         pgtype.UUID
		userID     pgtype.UUID
		courseID   pgtype.UUID
		enrolledOn pgtype.Timestamptz
	)
	if err := row.Scan(&id, &userID, &courseID, &enrolledOn); err != nil {
		return model.Enrollment{}, err
	}
	enrollment.ID = fromPgUUID(id)
	enrollment.UserID = fromPgUUID(userID)
	enrollment.CourseID = fromPgUUID(courseID)
	enrollment.EnrolledOn = enrolledOn.Time.UTC()
	return enrollment, nil
}

// Results

const (
	resultColumns  = `id, assessment_id, user_id, score, attempt_date, version`
	resultColumnsR = `r.id, r.assessment_id, r.user_id, r.score, r.attempt_date, r.version`
)

func (q *Queries) CreateResult(ctx context.Context, result model.Result) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO results (id, assessment_id, user_id, score, attempt_date, version)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, pgUUID(result.ID), pgUUID(result.AssessmentID), pgUUID(result.UserID), result.Score, pgTime(result.AttemptDate), result.Version)
	return classify("create result", err)
}

func (q *Queries) GetResult(ctx context.Context, id uuid.UUID) (model.Result, error) {
	result, err := scanResult(q.db.QueryRow(ctx, `SELECT `+resultColumns+` FROM results WHERE id = $1`, pgUUID(id)))
	return result, classify("get result", err)
}

func (q *Queries) ListResultsByAssessments(ctx context.Context, assessmentIDs []uuid.UUID) ([]model.Result, error) {
	if len(assessmentIDs) == 0 {
		return []model.Result{}, nil
	}
	return q.listResults(ctx, "list assessment results", `SELECT `+resultColumns+` FROM results WHERE assessment_id = ANY($1) ORDER BY attempt_date, id`, pgUUIDs(assessmentIDs))
}

func (q *Queries) ListResultsByUser(ctx context.Context, userID uuid.UUID) ([]model.Result, error) {
	return q.listResults(ctx, "list user results", `SELECT `+resultColumns+` FROM results WHERE user_id = $1 ORDER BY attempt_date, id`, pgUUID(userID))
}

func (q *Queries) ListResults(ctx context.Context, instructorID uuid.NullUUID) ([]model.Result, error) {
	if !instructorID.Valid {
		return q.listResults(ctx, "list results", `SELECT `+resultColumns+` FROM results ORDER BY attempt_date, id`)
	}
	return q.listResults(ctx, "list instructor results", `
		SELECT `+resultColumnsR+`
		FROM results r
		JOIN assessments a ON a.id = r.assessment_id
		JOIN courses c ON c.id = a.course_id
		WHERE c.instructor_id = $1
		ORDER BY r.attempt_date, r.id
	`, pgUUID(instructorID.UUID))
}

func (q *Queries) listResults(ctx context.Context, op, query string, args ...interface{}) ([]model.Result, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()
	results := []model.Result{}
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		results = append(results, result)
	}
	return results, classify(op, rows.Err())
}

func (q *Queries) UpdateResult(ctx context.Context, result model.Result, expectedVersion int) (model.Result, error) {
	updated, err := scanResult(q.db.QueryRow(ctx, `
		UPDATE results
		SET assessment_id = $2, user_id = $3, score = $4, attempt_date = $5, version = version + 1
		WHERE id = $1 AND ($6 = 0 OR version = $6)
		RETURNING `+resultColumns,
		pgUUID(result.ID), pgUUID(result.AssessmentID), pgUUID(result.UserID), result.Score, pgTime(result.AttemptDate), expectedVersion))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Result{}, classify("update result", err)
	}
	// No row matched: either it is gone or the version moved on.
	if _, getErr := q.GetResult(ctx, result.ID); getErr != nil {
		return model.Result{}, getErr
	}
	return model.Result{}, apperr.Conflict("update result", fmt.Errorf("version %d is stale", expectedVersion))
}

func (q *Queries) DeleteResults(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := q.db.Exec(ctx, `DELETE FROM results WHERE id = ANY($1)`, pgUUIDs(ids))
	if err != nil {
		return 0, classify("delete results", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) DeleteResult(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM results WHERE id = $1`, pgUUID(id))
	if err != nil {
		return classify("delete result", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("delete result", "result not found")
	}
	return nil
}

func scanResult(row pgx.Row) (model.Result, error) {
	var (
		result       model.Result
		id           pgtype.UUID
		assessmentID pgtype.UUID
		userID       pgtype.UUID
		attemptDate  pgtype.Timestamptz
	)
	if err := row.Scan(&id, &assessmentID, &userID, &result.Score, &attemptDate, &result.Version); err != nil {
		return model.Result{}, err
	}
	result.ID = fromPgUUID(id)
	result.AssessmentID = fromPgUUID(assessmentID)
	result.UserID = fromPgUUID(userID)
	result.AttemptDate = attemptDate.Time.UTC()
	return result, nil
}

func (q *Queries) CountRows(ctx context.Context) (db.RowCounts, error) {
	var counts db.RowCounts
	err := q.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM courses),
			(SELECT COUNT(*) FROM assessments),
			(SELECT COUNT(*) FROM enrollments),
			(SELECT COUNT(*) FROM results)
	`).Scan(&counts.Users, &counts.Courses, &counts.Assessments, &counts.Enrollments, &counts.Results)
	if err != nil {
		return db.RowCounts{}, classify("count rows", err)
	}
	return counts, nil
}
