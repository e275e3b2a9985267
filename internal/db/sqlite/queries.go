package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"semaphore/coursework/internal/apperr"
	"semaphore/coursework/internal/db"
	"semaphore/coursework/internal/model"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

var _ db.Queries = (*Queries)(nil)

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// inClause renders "(?, ?, ...)" and the matching arguments.
func inClause(ids []uuid.UUID) (string, []interface{}) {
	marks := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id.String()
	}
	return "(" + strings.Join(marks, ", ") + ")", args
}

func nullString(id uuid.NullUUID) sql.NullString {
	if !id.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: id.UUID.String(), Valid: true}
}

func (q *Queries) exec(ctx context.Context, op, query string, args ...interface{}) (int64, error) {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(op, err)
	}
	return n, nil
}

func (q *Queries) deleteOne(ctx context.Context, op, what, query string, id uuid.UUID) error {
	n, err := q.exec(ctx, op, query, id.String())
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound(op, what+" not found")
	}
	return nil
}

func (q *Queries) deleteMany(ctx context.Context, op, table string, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	in, args := inClause(ids)
	return q.exec(ctx, op, `DELETE FROM `+table+` WHERE id IN `+in, args...)
}

// Users

func (q *Queries) CreateUser(ctx context.Context, user model.User) error {
	_, err := q.exec(ctx, "create user", `
		INSERT INTO users (id, name, email, role) VALUES (?, ?, ?, ?)
	`, user.ID.String(), user.Name, user.Email, string(user.Role))
	return err
}

func (q *Queries) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	var (
		user model.User
		role string
	)
	err := q.db.QueryRowContext(ctx, `SELECT id, name, email, role FROM users WHERE id = ?`, id.String()).
		Scan(&user.ID, &user.Name, &user.Email, &role)
	if err != nil {
		return model.User{}, classify("get user", err)
	}
	user.Role = model.Role(role)
	return user, nil
}

func (q *Queries) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id, name, email, role FROM users ORDER BY name, id`)
	if err != nil {
		return nil, classify("list users", err)
	}
	defer rows.Close()
	users := []model.User{}
	for rows.Next() {
		var (
			user model.User
			role string
		)
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &role); err != nil {
			return nil, classify("list users", err)
		}
		user.Role = model.Role(role)
		users = append(users, user)
	}
	return users, classify("list users", rows.Err())
}

func (q *Queries) UpdateUser(ctx context.Context, user model.User) error {
	n, err := q.exec(ctx, "update user", `
		UPDATE users SET name = ?, email = ?, role = ? WHERE id = ?
	`, user.Name, user.Email, string(user.Role), user.ID.String())
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("update user", "user not found")
	}
	return nil
}

func (q *Queries) DeleteUser(ctx context.Context, id uuid.UUID) error {
	return q.deleteOne(ctx, "delete user", "user", `DELETE FROM users WHERE id = ?`, id)
}

// Courses

const courseColumns = `id, title, description, media_url, instructor_id, version`

func (q *Queries) CreateCourse(ctx context.Context, course model.Course) error {
	_, err := q.exec(ctx, "create course", `
		INSERT INTO courses (id, title, description, media_url, instructor_id, version) VALUES (?, ?, ?, ?, ?, ?)
	`, course.ID.String(), course.Title, course.Description, course.MediaURL, nullString(course.InstructorID), course.Version)
	return err
}

func (q *Queries) GetCourse(ctx context.Context, id uuid.UUID) (model.Course, error) {
	course, err := scanCourse(q.db.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = ?`, id.String()))
	return course, classify("get course", err)
}

// LockCourse is a plain read: the IMMEDIATE transaction already holds the
// database write lock.
func (q *Queries) LockCourse(ctx context.Context, id uuid.UUID) (model.Course, error) {
	course, err := scanCourse(q.db.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = ?`, id.String()))
	return course, classify("lock course", err)
}

func (q *Queries) ListCourses(ctx context.Context, instructorID uuid.NullUUID) ([]model.Course, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if instructorID.Valid {
		rows, err = q.db.QueryContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE instructor_id = ? ORDER BY title, id`, instructorID.UUID.String())
	} else {
		rows, err = q.db.QueryContext(ctx, `SELECT `+courseColumns+` FROM courses ORDER BY title, id`)
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
	n, err := q.exec(ctx, "update course", `
		UPDATE courses
		SET title = ?, description = ?, media_url = ?, instructor_id = ?, version = version + 1
		WHERE id = ? AND (? = 0 OR version = ?)
	`, course.Title, course.Description, course.MediaURL, nullString(course.InstructorID),
		course.ID.String(), expectedVersion, expectedVersion)
	if err != nil {
		return model.Course{}, err
	}
	current, err := q.GetCourse(ctx, course.ID)
	if err != nil {
		return model.Course{}, err
	}
	if n == 0 {
		return model.Course{}, apperr.Conflict("update course", fmt.Errorf("version %d is stale", expectedVersion))
	}
	return current, nil
}

func (q *Queries) DeleteCourse(ctx context.Context, id uuid.UUID) error {
	return q.deleteOne(ctx, "delete course", "course", `DELETE FROM courses WHERE id = ?`, id)
}

func scanCourse(row scanner) (model.Course, error) {
	var course model.Course
	if err := row.Scan(&course.ID, &course.Title, &course.Description, &course.MediaURL, &course.InstructorID, &course.Version); err != nil {
		return model.Course{}, err
	}
	return course, nil
}

// Assessments

const (
	assessmentColumns = `id, course_id, title, questions, max_score, version`
	// assessmentColumnsA is assessmentColumns qualified with the "a" alias.
	assessmentColumnsA = `a.id, a.course_id, a.title, a.questions, a.max_score, a.version`
)

func (q *Queries) CreateAssessment(ctx context.Context, assessment model.Assessment) error {
	_, err := q.exec(ctx, "create assessment", `
		INSERT INTO assessments (id, course_id, title, questions, max_score, version) VALUES (?, ?, ?, ?, ?, ?)
	`, assessment.ID.String(), assessment.CourseID.String(), assessment.Title, assessment.Questions, assessment.MaxScore, assessment.Version)
	return err
}

func (q *Queries) GetAssessment(ctx context.Context, id uuid.UUID) (model.Assessment, error) {
	assessment, err := scanAssessment(q.db.QueryRowContext(ctx, `SELECT `+assessmentColumns+` FROM assessments WHERE id = ?`, id.String()))
	return assessment, classify("get assessment", err)
}

func (q *Queries) LockAssessment(ctx context.Context, id uuid.UUID) (model.Assessment, error) {
	assessment, err := scanAssessment(q.db.QueryRowContext(ctx, `SELECT `+assessmentColumns+` FROM assessments WHERE id = ?`, id.String()))
	return assessment, classify("lock assessment", err)
}

func (q *Queries) ListAssessmentsByCourse(ctx context.Context, courseID uuid.UUID) ([]model.Assessment, error) {
	return q.listAssessments(ctx, `SELECT `+assessmentColumns+` FROM assessments WHERE course_id = ? ORDER BY title, id`, courseID.String())
}

func (q *Queries) ListAssessments(ctx context.Context, instructorID uuid.NullUUID) ([]model.Assessment, error) {
	if !instructorID.Valid {
		return q.listAssessments(ctx, `SELECT `+assessmentColumns+` FROM assessments ORDER BY title, id`)
	}
	return q.listAssessments(ctx, `
		SELECT `+assessmentColumnsA+`
		FROM assessments a
		JOIN courses c ON c.id = a.course_id
		WHERE c.instructor_id = ?
		ORDER BY a.title, a.id
	`, instructorID.UUID.String())
}

func (q *Queries) listAssessments(ctx context.Context, query string, args ...interface{}) ([]model.Assessment, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
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
	n, err := q.exec(ctx, "update assessment", `
		UPDATE assessments
		SET course_id = ?, title = ?, questions = ?, max_score = ?, version = version + 1
		WHERE id = ? AND (? = 0 OR version = ?)
	`, assessment.CourseID.String(), assessment.Title, assessment.Questions, assessment.MaxScore,
		assessment.ID.String(), expectedVersion, expectedVersion)
	if err != nil {
		return model.Assessment{}, err
	}
	current, err := q.GetAssessment(ctx, assessment.ID)
	if err != nil {
		return model.Assessment{}, err
	}
	if n == 0 {
		return model.Assessment{}, apperr.Conflict("update assessment", fmt.Errorf("version %d is stale", expectedVersion))
	}
	return current, nil
}

func (q *Queries) DeleteAssessments(ctx context.Context, ids []uuid.UUID) (int64, error) {
	return q.deleteMany(ctx, "delete assessments", "assessments", ids)
}

func (q *Queries) DeleteAssessment(ctx context.Context, id uuid.UUID) error {
	return q.deleteOne(ctx, "delete assessment", "assessment", `DELETE FROM assessments WHERE id = ?`, id)
}

func scanAssessment(row scanner) (model.Assessment, error) {
	var assessment model.Assessment
	if err := row.Scan(&assessment.ID, &assessment.CourseID, &assessment.Title, &assessment.Questions, &assessment.MaxScore, &assessment.Version); err != nil {
		return model.Assessment{}, err
	}
	return assessment, nil
}

// Enrollments

const enrollmentColumns = `id, user_id, course_id, enrolled_on`

func (q *Queries) CreateEnrollment(ctx context.Context, enrollment model.Enrollment) error {
	_, err := q.exec(ctx, "create enrollment", `
		INSERT INTO enrollments (id, user_id, course_id, enrolled_on) VALUES (?, ?, ?, ?)
	`, enrollment.ID.String(), enrollment.UserID.String(), enrollment.CourseID.String(), toMillis(enrollment.EnrolledOn))
	return err
}

func (q *Queries) GetEnrollment(ctx context.Context, id uuid.UUID) (model.Enrollment, error) {
	enrollment, err := scanEnrollment(q.db.QueryRowContext(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = ?`, id.String()))
	return enrollment, classify("get enrollment", err)
}

func (q *Queries) FindEnrollment(ctx context.Context, userID, courseID uuid.UUID) (model.Enrollment, error) {
	enrollment, err := scanEnrollment(q.db.QueryRowContext(ctx, `
		SELECT `+enrollmentColumns+` FROM enrollments WHERE user_id = ? AND course_id = ?
	`, userID.String(), courseID.String()))
	return enrollment, classify("find enrollment", err)
}

func (q *Queries) ListEnrollmentsByCourse(ctx context.Context, courseID uuid.UUID) ([]model.Enrollment, error) {
	return q.listEnrollments(ctx, "list course enrollments", `SELECT `+enrollmentColumns+` FROM enrollments WHERE course_id = ? ORDER BY enrolled_on, id`, courseID.String())
}

func (q *Queries) ListEnrollmentsByUser(ctx context.Context, userID uuid.UUID) ([]model.Enrollment, error) {
	return q.listEnrollments(ctx, "list user enrollments", `SELECT `+enrollmentColumns+` FROM enrollments WHERE user_id = ? ORDER BY enrolled_on, id`, userID.String())
}

func (q *Queries) ListEnrollments(ctx context.Context) ([]model.Enrollment, error) {
	return q.listEnrollments(ctx, "list enrollments", `SELECT `+enrollmentColumns+` FROM enrollments ORDER BY enrolled_on, id`)
}

func (q *Queries) listEnrollments(ctx context.Context, op, query string, args ...interface{}) ([]model.Enrollment, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
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
	n, err := q.exec(ctx, "update enrollment", `
		UPDATE enrollments SET user_id = ?, course_id = ?, enrolled_on = ? WHERE id = ?
	`, enrollment.UserID.String(), enrollment.CourseID.String(), toMillis(enrollment.EnrolledOn), enrollment.ID.String())
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("update enrollment", "enrollment not found")
	}
	return nil
}

func (q *Queries) DeleteEnrollments(ctx context.Context, ids []uuid.UUID) (int64, error) {
	return q.deleteMany(ctx, "delete enrollments", "enrollments", ids)
}

func (q *Queries) DeleteEnrollment(ctx context.Context, id uuid.UUID) error {
	return q.deleteOne(ctx, "delete enrollment", "enrollment", `DELETE FROM enrollments WHERE id = ?`, id)
}

func scanEnrollment(row scanner) (model.Enrollment, error) {
	var (
		enrollment model.Enrollment
		enrolledOn int64
	)
	if err := row.Scan(&enrollment.ID, &enrollment.UserID, &enrollment.CourseID, &enrolledOn); err != nil {
		return model.Enrollment{}, err
	}
	enrollment.EnrolledOn = fromMillis(enrolledOn)
	return enrollment, nil
}

// Results

const (
	resultColumns  = `id, assessment_id, user_id, score, attempt_date, version`
	resultColumnsR = `r.id, r.assessment_id, r.user_id, r.score, r.attempt_date, r.version`
)

func (q *Queries) CreateResult(ctx context.Context, result model.Result) error {
	_, err := q.exec(ctx, "create result", `
		INSERT INTO results (id, assessment_id, user_id, score, attempt_date, version) VALUES (?, ?, ?, ?, ?, ?)
	`, result.ID.String(), result.AssessmentID.String(), result.UserID.String(), result.Score, toMillis(result.AttemptDate), result.Version)
	return err
}

func (q *Queries) GetResult(ctx context.Context, id uuid.UUID) (model.Result, error) {
	result, err := scanResult(q.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM results WHERE id = ?`, id.String()))
	return result, classify("get result", err)
}

func (q *Queries) ListResultsByAssessments(ctx context.Context, assessmentIDs []uuid.UUID) ([]model.Result, error) {
	if len(assessmentIDs) == 0 {
		return []model.Result{}, nil
	}
	in, args := inClause(assessmentIDs)
	return q.listResults(ctx, "list assessment results", `SELECT `+resultColumns+` FROM results WHERE assessment_id IN `+in+` ORDER BY attempt_date, id`, args...)
}

func (q *Queries) ListResultsByUser(ctx context.Context, userID uuid.UUID) ([]model.Result, error) {
	return q.listResults(ctx, "list user results", `SELECT `+resultColumns+` FROM results WHERE user_id = ? ORDER BY attempt_date, id`, userID.String())
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
		WHERE c.instructor_id = ?
		ORDER BY r.attempt_date, r.id
	`, instructorID.UUID.String())
}

func (q *Queries) listResults(ctx context.Context, op, query string, args ...interface{}) ([]model.Result, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
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
	n, err := q.exec(ctx, "update result", `
		UPDATE results
		SET assessment_id = ?, user_id = ?, score = ?, attempt_date = ?, version = version + 1
		WHERE id = ? AND (? = 0 OR version = ?)
	`, result.AssessmentID.String(), result.UserID.String(), result.Score, toMillis(result.AttemptDate),
		result.ID.String(), expectedVersion, expectedVersion)
	if err != nil {
		return model.Result{}, err
	}
	current, err := q.GetResult(ctx, result.ID)
	if err != nil {
		return model.Result{}, err
	}
	if n == 0 {
		return model.Result{}, apperr.Conflict("update result", fmt.Errorf("version %d is stale", expectedVersion))
	}
	return current, nil
}

func (q *Queries) DeleteResults(ctx context.Context, ids []uuid.UUID) (int64, error) {
	return q.deleteMany(ctx, "delete results", "results", ids)
}

func (q *Queries) DeleteResult(ctx context.Context, id uuid.UUID) error {
	return q.deleteOne(ctx, "delete result", "result", `DELETE FROM results WHERE id = ?`, id)
}

func scanResult(row scanner) (model.Result, error) {
	var (
		result      model.Result
		attemptDate int64
	)
	if err := row.Scan(&result.ID, &result.AssessmentID, &result.UserID, &result.Score, &attemptDate, &result.Version); err != nil {
		return model.Result{}, err
	}
	result.AttemptDate = fromMillis(attemptDate)
	return result, nil
}

func (q *Queries) CountRows(ctx context.Context) (db.RowCounts, error) {
	var counts db.RowCounts
	err := q.db.QueryRowContext(ctx, `
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
