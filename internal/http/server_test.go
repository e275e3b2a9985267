package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"semaphore/coursework/internal/apperr"
	"semaphore/coursework/internal/cascade"
	"semaphore/coursework/internal/coursework"
	"semaphore/coursework/internal/db/sqlite"
	"semaphore/coursework/internal/events"
	"semaphore/coursework/internal/telemetry"
)

type errorResponse struct {
	Error string `json:"error"`
}

type switchBroker struct {
	mu   sync.Mutex
	fail bool
}

func (b *switchBroker) CreateBatch(context.Context) (events.Batch, error) {
	return events.NewSizedBatch(1 << 20), nil
}

func (b *switchBroker) Send(context.Context, events.Batch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("broker down")
	}
	return nil
}

func (b *switchBroker) setFail(fail bool) {
	b.mu.Lock()
	b.fail = fail
	b.mu.Unlock()
}

type testEnv struct {
	server  *httptest.Server
	service *coursework.Service
	broker  *switchBroker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "http.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(0); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := zerolog.Nop()
	metrics := telemetry.NewMetrics()
	broker := &switchBroker{}
	service := coursework.New(store, cascade.New(store, log, metrics), events.NewPublisher(broker, log, metrics), log)
	ts := httptest.NewServer(NewServer(service, nil, metrics, log).Router())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = service.Wait(ctx)
	})
	return &testEnv{server: ts, service: service, broker: broker}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type idResponse struct {
	UserID       string `json:"userId"`
	CourseID     string `json:"courseId"`
	AssessmentID string `json:"assessmentId"`
	EnrollmentID string `json:"enrollmentId"`
	ResultID     string `json:"resultId"`
	Score        int    `json:"score"`
	Version      int    `json:"version"`
}

func (e *testEnv) seed(t *testing.T) (student, course, assessment idResponse) {
	t.Helper()
	var instructor idResponse
	if code := e.do(t, http.MethodPost, "/users", map[string]string{"name": "Ada", "email": "ada@example.test", "role": "instructor"}, &instructor); code != http.StatusCreated {
		t.Fatalf("create instructor: %d", code)
	}
	if code := e.do(t, http.MethodPost, "/users", map[string]string{"name": "Bob", "email": "bob@example.test", "role": "student"}, &student); code != http.StatusCreated {
		t.Fatalf("create student: %d", code)
	}
	if code := e.do(t, http.MethodPost, "/courses", map[string]string{"title": "Networks", "instructorId": instructor.UserID}, &course); code != http.StatusCreated {
		t.Fatalf("create course: %d", code)
	}
	if code := e.do(t, http.MethodPost, "/assessments", map[string]interface{}{"courseId": course.CourseID, "title": "Quiz 1", "maxScore": 10}, &assessment); code != http.StatusCreated {
		t.Fatalf("create assessment: %d", code)
	}
	return student, course, assessment
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	var body map[string]string
	if code := env.do(t, http.MethodGet, "/health", nil, &body); code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected health %d %v", code, body)
	}
	resp, err := http.Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", resp.StatusCode)
	}
}

func TestCourseCascadeOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	student, course, assessment := env.seed(t)

	var enrollment idResponse
	if code := env.do(t, http.MethodPost, "/enrollments", map[string]string{"userId": student.UserID, "courseId": course.CourseID}, &enrollment); code != http.StatusCreated {
		t.Fatalf("enroll: %d", code)
	}
	var result idResponse
	if code := env.do(t, http.MethodPost, "/results", map[string]interface{}{"assessmentId": assessment.AssessmentID, "userId": student.UserID, "score": 7}, &result); code != http.StatusCreated {
		t.Fatalf("create result: %d", code)
	}

	if code := env.do(t, http.MethodDelete, "/courses/"+course.CourseID, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete course: %d", code)
	}
	var errResp errorResponse
	if code := env.do(t, http.MethodDelete, "/courses/"+course.CourseID, nil, &errResp); code != http.StatusNotFound || errResp.Error != "not_found" {
		t.Fatalf("expected 404 not_found, got %d %q", code, errResp.Error)
	}
	for _, path := range []string{
		"/assessments/" + assessment.AssessmentID,
		"/results/" + result.ResultID,
		"/enrollments/" + enrollment.EnrollmentID,
	} {
		if code := env.do(t, http.MethodGet, path, nil, &errResp); code != http.StatusNotFound {
			t.Fatalf("expected %s gone, got %d", path, code)
		}
	}
}

func TestDeleteAssessmentOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	student, course, assessment := env.seed(t)
	for i := 0; i < 3; i++ {
		if code := env.do(t, http.MethodPost, "/results", map[string]interface{}{"assessmentId": assessment.AssessmentID, "userId": student.UserID, "score": i}, nil); code != http.StatusCreated {
			t.Fatalf("create result: %d", code)
		}
	}
	if code := env.do(t, http.MethodDelete, "/assessments/"+assessment.AssessmentID, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete assessment: %d", code)
	}
	var list []idResponse
	if code := env.do(t, http.MethodGet, "/courses/"+course.CourseID+"/assessments", nil, &list); code != http.StatusOK || len(list) != 0 {
		t.Fatalf("expected empty assessments, got %d %v", code, list)
	}
	var results []idResponse
	if code := env.do(t, http.MethodGet, "/users/"+student.UserID+"/results", nil, &results); code != http.StatusOK || len(results) != 0 {
		t.Fatalf("expected results removed, got %d %v", code, results)
	}
}

func TestResultPublishPolicyOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	student, _, assessment := env.seed(t)
	env.broker.setFail(true)

	var result idResponse
	if code := env.do(t, http.MethodPost, "/results", map[string]interface{}{"assessmentId": assessment.AssessmentID, "userId": student.UserID, "score": 4}, &result); code != http.StatusCreated {
		t.Fatalf("create must succeed with broker down, got %d", code)
	}

	var errResp errorResponse
	update := map[string]interface{}{"assessmentId": assessment.AssessmentID, "userId": student.UserID, "score": 9, "version": 1}
	if code := env.do(t, http.MethodPut, "/results/"+result.ResultID, update, &errResp); code != http.StatusInternalServerError || errResp.Error != "server_error" {
		t.Fatalf("expected 500 server_error on update, got %d %q", code, errResp.Error)
	}
	var stored idResponse
	if code := env.do(t, http.MethodGet, "/results/"+result.ResultID, nil, &stored); code != http.StatusOK || stored.Score != 9 || stored.Version != 2 {
		t.Fatalf("expected committed update, got %d %+v", code, stored)
	}

	env.broker.setFail(false)
	if code := env.do(t, http.MethodPut, "/results/"+result.ResultID, update, &errResp); code != http.StatusConflict {
		t.Fatalf("expected 409 for stale version, got %d", code)
	}

	env.broker.setFail(true)
	if code := env.do(t, http.MethodDelete, "/results/"+result.ResultID, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete must succeed with broker down, got %d", code)
	}
}

func TestBadRequests(t *testing.T) {
	env := newTestEnv(t)
	student, course, _ := env.seed(t)

	cases := map[string]struct {
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		"bad id":          {http.MethodGet, "/courses/not-a-uuid", nil, http.StatusBadRequest, "invalid_course_id"},
		"unknown field":   {http.MethodPost, "/users", map[string]string{"nickname": "x"}, http.StatusBadRequest, "invalid_request"},
		"zero max score":  {http.MethodPost, "/assessments", map[string]interface{}{"courseId": course.CourseID, "title": "x", "maxScore": 0}, http.StatusBadRequest, "invalid_request"},
		"duplicate email": {http.MethodPost, "/users", map[string]string{"name": "Bob", "email": "bob@example.test", "role": "student"}, http.StatusConflict, "conflict"},
		"missing check":   {http.MethodGet, "/enrollments/check?userId=" + student.UserID, nil, http.StatusBadRequest, "invalid_course_id"},
		"path mismatch":   {http.MethodPut, "/results/" + course.CourseID, map[string]interface{}{"resultId": student.UserID, "assessmentId": course.CourseID, "userId": student.UserID}, http.StatusBadRequest, "result_id_mismatch"},
	}
	for name, tc := range cases {
		var errResp errorResponse
		code := env.do(t, tc.method, tc.path, tc.body, &errResp)
		if code != tc.status || errResp.Error != tc.code {
			t.Fatalf("%s: expected %d %s, got %d %s", name, tc.status, tc.code, code, errResp.Error)
		}
	}
}

func TestEnrollmentCheck(t *testing.T) {
	env := newTestEnv(t)
	student, course, _ := env.seed(t)

	var check map[string]bool
	path := "/enrollments/check?userId=" + student.UserID + "&courseId=" + course.CourseID
	if code := env.do(t, http.MethodGet, path, nil, &check); code != http.StatusOK || check["enrolled"] {
		t.Fatalf("expected not enrolled, got %d %v", code, check)
	}
	if code := env.do(t, http.MethodPost, "/enrollments", map[string]string{"userId": student.UserID, "courseId": course.CourseID}, nil); code != http.StatusCreated {
		t.Fatalf("enroll: %d", code)
	}
	if code := env.do(t, http.MethodGet, path, nil, &check); code != http.StatusOK || !check["enrolled"] {
		t.Fatalf("expected enrolled, got %d %v", code, check)
	}
	var courses []idResponse
	if code := env.do(t, http.MethodGet, "/users/"+student.UserID+"/courses", nil, &courses); code != http.StatusOK || len(courses) != 1 || courses[0].CourseID != course.CourseID {
		t.Fatalf("unexpected enrolled courses %d %v", code, courses)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
		code   string
	}{
		"not found":  {apperr.NotFound("op", "x"), http.StatusNotFound, "not_found"},
		"conflict":   {apperr.Conflict("op", nil), http.StatusConflict, "conflict"},
		"retryable":  {apperr.Storage("op", errors.New("timeout"), true), http.StatusServiceUnavailable, "storage_unavailable"},
		"permanent":  {apperr.Storage("op", errors.New("syntax"), false), http.StatusInternalServerError, "server_error"},
		"too large":  {apperr.EventTooLarge("op", 10, 5), http.StatusInternalServerError, "event_too_large"},
		"publish":    {apperr.PublishFailure("op", errors.New("down")), http.StatusInternalServerError, "server_error"},
		"unexpected": {errors.New("boom"), http.StatusInternalServerError, "server_error"},
	}
	for name, tc := range cases {
		status, code := statusFor(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("%s: expected %d %s, got %d %s", name, tc.status, tc.code, status, code)
		}
	}
}

func TestUpdateEndpointsOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	student, course, assessment := env.seed(t)

	var updated idResponse
	body := map[string]interface{}{"title": "Networks II", "version": 1}
	if code := env.do(t, http.MethodPut, "/courses/"+course.CourseID, body, &updated); code != http.StatusOK || updated.Version != 2 {
		t.Fatalf("update course: %d %+v", code, updated)
	}
	var errResp errorResponse
	if code := env.do(t, http.MethodPut, "/courses/"+course.CourseID, body, &errResp); code != http.StatusConflict || errResp.Error != "conflict" {
		t.Fatalf("expected 409 for stale course version, got %d %q", code, errResp.Error)
	}
	mismatch := map[string]interface{}{"courseId": assessment.AssessmentID, "title": "x"}
	if code := env.do(t, http.MethodPut, "/courses/"+course.CourseID, mismatch, &errResp); code != http.StatusBadRequest || errResp.Error != "course_id_mismatch" {
		t.Fatalf("expected course_id_mismatch, got %d %q", code, errResp.Error)
	}

	body = map[string]interface{}{"courseId": course.CourseID, "title": "Quiz 1b", "maxScore": 20, "version": 1}
	if code := env.do(t, http.MethodPut, "/assessments/"+assessment.AssessmentID, body, &updated); code != http.StatusOK || updated.Version != 2 {
		t.Fatalf("update assessment: %d %+v", code, updated)
	}
	if code := env.do(t, http.MethodPut, "/assessments/"+assessment.AssessmentID, body, &errResp); code != http.StatusConflict {
		t.Fatalf("expected 409 for stale assessment version, got %d", code)
	}

	var enrollment idResponse
	if code := env.do(t, http.MethodPost, "/enrollments", map[string]string{"userId": student.UserID, "courseId": course.CourseID}, &enrollment); code != http.StatusCreated {
		t.Fatalf("enroll: %d", code)
	}
	move := map[string]string{"userId": student.UserID, "courseId": uuid.NewString()}
	if code := env.do(t, http.MethodPut, "/enrollments/"+enrollment.EnrollmentID, move, &errResp); code != http.StatusBadRequest || errResp.Error != "invalid_request" {
		t.Fatalf("expected invalid_request for unknown course, got %d %q", code, errResp.Error)
	}
	var enrollments []idResponse
	if code := env.do(t, http.MethodGet, "/enrollments", nil, &enrollments); code != http.StatusOK || len(enrollments) != 1 {
		t.Fatalf("unexpected enrollments %d %v", code, enrollments)
	}

	rename := map[string]string{"name": "Robert", "email": "bob@example.test", "role": "student"}
	var user idResponse
	if code := env.do(t, http.MethodPut, "/users/"+student.UserID, rename, &user); code != http.StatusOK || user.UserID != student.UserID {
		t.Fatalf("update user: %d %+v", code, user)
	}
}

func TestUserDeletePolicyOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	student, course, _ := env.seed(t)

	var users []idResponse
	if code := env.do(t, http.MethodGet, "/users", nil, &users); code != http.StatusOK || len(users) != 2 {
		t.Fatalf("unexpected users %d %v", code, users)
	}
	var enrollment idResponse
	if code := env.do(t, http.MethodPost, "/enrollments", map[string]string{"userId": student.UserID, "courseId": course.CourseID}, &enrollment); code != http.StatusCreated {
		t.Fatalf("enroll: %d", code)
	}
	var errResp errorResponse
	if code := env.do(t, http.MethodDelete, "/users/"+student.UserID, nil, &errResp); code != http.StatusConflict || errResp.Error != "conflict" {
		t.Fatalf("expected 409 deleting an enrolled user, got %d %q", code, errResp.Error)
	}
	if code := env.do(t, http.MethodDelete, "/enrollments/"+enrollment.EnrollmentID, nil, nil); code != http.StatusNoContent {
		t.Fatalf("unenroll: %d", code)
	}
	if code := env.do(t, http.MethodDelete, "/users/"+student.UserID, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete user: %d", code)
	}
	if code := env.do(t, http.MethodGet, "/users/"+student.UserID, nil, &errResp); code != http.StatusNotFound {
		t.Fatalf("expected deleted user gone, got %d", code)
	}
}

func TestInstructorListingsOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	student, course, assessment := env.seed(t)
	var result idResponse
	if code := env.do(t, http.MethodPost, "/results", map[string]interface{}{"assessmentId": assessment.AssessmentID, "userId": student.UserID, "score": 6}, &result); code != http.StatusCreated {
		t.Fatalf("create result: %d", code)
	}
	var courseView struct {
		InstructorID string `json:"instructorId"`
	}
	if code := env.do(t, http.MethodGet, "/courses/"+course.CourseID, nil, &courseView); code != http.StatusOK {
		t.Fatalf("get course: %d", code)
	}
	instructorID := courseView.InstructorID

	var list []idResponse
	for _, path := range []string{
		"/assessments?instructorId=" + instructorID,
		"/instructors/" + instructorID + "/assessments",
	} {
		if code := env.do(t, http.MethodGet, path, nil, &list); code != http.StatusOK || len(list) != 1 || list[0].AssessmentID != assessment.AssessmentID {
			t.Fatalf("%s: unexpected %d %v", path, code, list)
		}
	}
	for _, path := range []string{
		"/results?instructorId=" + instructorID,
		"/instructors/" + instructorID + "/results",
	} {
		if code := env.do(t, http.MethodGet, path, nil, &list); code != http.StatusOK || len(list) != 1 || list[0].ResultID != result.ResultID {
			t.Fatalf("%s: unexpected %d %v", path, code, list)
		}
	}
	if code := env.do(t, http.MethodGet, "/instructors/"+instructorID+"/courses", nil, &list); code != http.StatusOK || len(list) != 1 {
		t.Fatalf("unexpected instructor courses %d %v", code, list)
	}
	if code := env.do(t, http.MethodGet, "/results?instructorId="+student.UserID, nil, &list); code != http.StatusOK || len(list) != 0 {
		t.Fatalf("expected no results for a student filter, got %d %v", code, list)
	}
	var errResp errorResponse
	if code := env.do(t, http.MethodGet, "/assessments?instructorId=nope", nil, &errResp); code != http.StatusBadRequest || errResp.Error != "invalid_instructor_id" {
		t.Fatalf("expected invalid_instructor_id, got %d %q", code, errResp.Error)
	}
}
