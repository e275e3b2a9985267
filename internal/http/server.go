package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"semaphore/coursework/internal/apperr"
	"semaphore/coursework/internal/coursework"
	coursegrpc "semaphore/coursework/internal/grpc"
	"semaphore/coursework/internal/telemetry"
)

type Server struct {
	service *coursework.Service
	health  *coursegrpc.HealthReporter
	metrics *telemetry.Metrics
	log     zerolog.Logger
}

func NewServer(service *coursework.Service, health *coursegrpc.HealthReporter, metrics *telemetry.Metrics, log zerolog.Logger) *Server {
	return &Server{
		service: service,
		health:  health,
		metrics: metrics,
		log:     telemetry.Component(log, "http"),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(s.log))
	r.Use(s.accessLog)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", s.handleReady)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Post("/users", s.handleCreateUser)
	r.Get("/users", s.handleListUsers)
	r.Get("/users/{userId}", s.handleGetUser)
	r.Put("/users/{userId}", s.handleUpdateUser)
	r.Delete("/users/{userId}", s.handleDeleteUser)
	r.Get("/users/{userId}/courses", s.handleListEnrolledCourses)
	r.Get("/users/{userId}/results", s.handleListUserResults)

	r.Post("/courses", s.handleCreateCourse)
	r.Get("/courses", s.handleListCourses)
	r.Get("/courses/{courseId}", s.handleGetCourse)
	r.Put("/courses/{courseId}", s.handleUpdateCourse)
	r.Delete("/courses/{courseId}", s.handleDeleteCourse)
	r.Get("/courses/{courseId}/assessments", s.handleListCourseAssessments)

	r.Post("/assessments", s.handleCreateAssessment)
	r.Get("/assessments", s.handleListAssessments)
	r.Get("/assessments/{assessmentId}", s.handleGetAssessment)
	r.Put("/assessments/{assessmentId}", s.handleUpdateAssessment)
	r.Delete("/assessments/{assessmentId}", s.handleDeleteAssessment)
	r.Get("/assessments/{assessmentId}/results", s.handleListAssessmentResults)

	r.Post("/enrollments", s.handleEnroll)
	r.Get("/enrollments", s.handleListEnrollments)
	r.Get("/enrollments/check", s.handleCheckEnrollment)
	r.Get("/enrollments/{enrollmentId}", s.handleGetEnrollment)
	r.Put("/enrollments/{enrollmentId}", s.handleUpdateEnrollment)
	r.Delete("/enrollments/{enrollmentId}", s.handleDeleteEnrollment)

	r.Post("/results", s.handleCreateResult)
	r.Get("/results", s.handleListResults)
	r.Get("/results/{resultId}", s.handleGetResult)
	r.Put("/results/{resultId}", s.handleUpdateResult)
	r.Delete("/results/{resultId}", s.handleDeleteResult)

	r.Get("/instructors/{instructorId}/courses", s.handleListInstructorCourses)
	r.Get("/instructors/{instructorId}/assessments", s.handleListInstructorAssessments)
	r.Get("/instructors/{instructorId}/results", s.handleListInstructorResults)

	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveHTTP(route, r.Method, strconv.Itoa(status), duration)
		hlog.FromRequest(r).Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(next)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, err := s.health.Check(r.Context())
	if err != nil || status != healthpb.HealthCheckResponse_SERVING {
		writeError(w, http.StatusServiceUnavailable, "not_ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Users

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req coursework.CreateUserInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	user, err := s.service.CreateUser(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userId", "invalid_user_id")
	if !ok {
		return
	}
	user, err := s.service.GetUser(r.Context(), userID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.service.ListUsers(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userId", "invalid_user_id")
	if !ok {
		return
	}
	var req coursework.UpdateUserInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if !matchPathID(w, &req.ID, userID, "user_id_mismatch") {
		return
	}
	user, err := s.service.UpdateUser(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userId", "invalid_user_id")
	if !ok {
		return
	}
	if err := s.service.DeleteUser(r.Context(), userID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEnrolledCourses(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userId", "invalid_user_id")
	if !ok {
		return
	}
	courses, err := s.service.EnrolledCourses(r.Context(), userID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, courses)
}

func (s *Server) handleListUserResults(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userId", "invalid_user_id")
	if !ok {
		return
	}
	results, err := s.service.ResultsByUser(r.Context(), userID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// Courses

func (s *Server) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var req coursework.CreateCourseInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	course, err := s.service.CreateCourse(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, course)
}

func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	instructorID, ok := queryInstructorID(w, r)
	if !ok {
		return
	}
	s.listCourses(w, r, instructorID)
}

func (s *Server) handleListInstructorCourses(w http.ResponseWriter, r *http.Request) {
	instructorID, ok := pathUUID(w, r, "instructorId", "invalid_instructor_id")
	if !ok {
		return
	}
	s.listCourses(w, r, &instructorID)
}

func (s *Server) listCourses(w http.ResponseWriter, r *http.Request, instructorID *uuid.UUID) {
	courses, err := s.service.ListCourses(r.Context(), instructorID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, courses)
}

func (s *Server) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	courseID, ok := pathUUID(w, r, "courseId", "invalid_course_id")
	if !ok {
		return
	}
	course, err := s.service.GetCourse(r.Context(), courseID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, course)
}

func (s *Server) handleUpdateCourse(w http.ResponseWriter, r *http.Request) {
	courseID, ok := pathUUID(w, r, "courseId", "invalid_course_id")
	if !ok {
		return
	}
	var req coursework.UpdateCourseInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if !matchPathID(w, &req.ID, courseID, "course_id_mismatch") {
		return
	}
	course, err := s.service.UpdateCourse(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, course)
}

func (s *Server) handleDeleteCourse(w http.ResponseWriter, r *http.Request) {
	courseID, ok := pathUUID(w, r, "courseId", "invalid_course_id")
	if !ok {
		return
	}
	if _, err := s.service.DeleteCourse(r.Context(), courseID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListCourseAssessments(w http.ResponseWriter, r *http.Request) {
	courseID, ok := pathUUID(w, r, "courseId", "invalid_course_id")
	if !ok {
		return
	}
	assessments, err := s.service.CourseAssessments(r.Context(), courseID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assessments)
}

// Assessments

func (s *Server) handleCreateAssessment(w http.ResponseWriter, r *http.Request) {
	var req coursework.CreateAssessmentInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	assessment, err := s.service.CreateAssessment(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, assessment)
}

func (s *Server) handleListAssessments(w http.ResponseWriter, r *http.Request) {
	instructorID, ok := queryInstructorID(w, r)
	if !ok {
		return
	}
	s.listAssessments(w, r, instructorID)
}

func (s *Server) handleListInstructorAssessments(w http.ResponseWriter, r *http.Request) {
	instructorID, ok := pathUUID(w, r, "instructorId", "invalid_instructor_id")
	if !ok {
		return
	}
	s.listAssessments(w, r, &instructorID)
}

func (s *Server) listAssessments(w http.ResponseWriter, r *http.Request, instructorID *uuid.UUID) {
	assessments, err := s.service.ListAssessments(r.Context(), instructorID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assessments)
}

func (s *Server) handleUpdateAssessment(w http.ResponseWriter, r *http.Request) {
	assessmentID, ok := pathUUID(w, r, "assessmentId", "invalid_assessment_id")
	if !ok {
		return
	}
	var req coursework.UpdateAssessmentInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if !matchPathID(w, &req.ID, assessmentID, "assessment_id_mismatch") {
		return
	}
	assessment, err := s.service.UpdateAssessment(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

func (s *Server) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	assessmentID, ok := pathUUID(w, r, "assessmentId", "invalid_assessment_id")
	if !ok {
		return
	}
	assessment, err := s.service.GetAssessment(r.Context(), assessmentID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

func (s *Server) handleDeleteAssessment(w http.ResponseWriter, r *http.Request) {
	assessmentID, ok := pathUUID(w, r, "assessmentId", "invalid_assessment_id")
	if !ok {
		return
	}
	if _, err := s.service.DeleteAssessment(r.Context(), assessmentID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAssessmentResults(w http.ResponseWriter, r *http.Request) {
	assessmentID, ok := pathUUID(w, r, "assessmentId", "invalid_assessment_id")
	if !ok {
		return
	}
	results, err := s.service.ResultsByAssessment(r.Context(), assessmentID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// Enrollments

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req coursework.EnrollInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	enrollment, err := s.service.Enroll(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, enrollment)
}

func (s *Server) handleListEnrollments(w http.ResponseWriter, r *http.Request) {
	enrollments, err := s.service.ListEnrollments(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollments)
}

func (s *Server) handleUpdateEnrollment(w http.ResponseWriter, r *http.Request) {
	enrollmentID, ok := pathUUID(w, r, "enrollmentId", "invalid_enrollment_id")
	if !ok {
		return
	}
	var req coursework.UpdateEnrollmentInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if !matchPathID(w, &req.ID, enrollmentID, "enrollment_id_mismatch") {
		return
	}
	enrollment, err := s.service.UpdateEnrollment(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollment)
}

func (s *Server) handleCheckEnrollment(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user_id")
		return
	}
	courseID, err := uuid.Parse(r.URL.Query().Get("courseId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_course_id")
		return
	}
	enrolled, err := s.service.IsEnrolled(r.Context(), userID, courseID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enrolled": enrolled})
}

func (s *Server) handleGetEnrollment(w http.ResponseWriter, r *http.Request) {
	enrollmentID, ok := pathUUID(w, r, "enrollmentId", "invalid_enrollment_id")
	if !ok {
		return
	}
	enrollment, err := s.service.GetEnrollment(r.Context(), enrollmentID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollment)
}

func (s *Server) handleDeleteEnrollment(w http.ResponseWriter, r *http.Request) {
	enrollmentID, ok := pathUUID(w, r, "enrollmentId", "invalid_enrollment_id")
	if !ok {
		return
	}
	if err := s.service.Unenroll(r.Context(), enrollmentID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Results

func (s *Server) handleCreateResult(w http.ResponseWriter, r *http.Request) {
	var req coursework.CreateResultInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	result, err := s.service.CreateResult(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	instructorID, ok := queryInstructorID(w, r)
	if !ok {
		return
	}
	s.listResults(w, r, instructorID)
}

func (s *Server) handleListInstructorResults(w http.ResponseWriter, r *http.Request) {
	instructorID, ok := pathUUID(w, r, "instructorId", "invalid_instructor_id")
	if !ok {
		return
	}
	s.listResults(w, r, &instructorID)
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request, instructorID *uuid.UUID) {
	results, err := s.service.ListResults(r.Context(), instructorID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	resultID, ok := pathUUID(w, r, "resultId", "invalid_result_id")
	if !ok {
		return
	}
	result, err := s.service.GetResult(r.Context(), resultID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpdateResult(w http.ResponseWriter, r *http.Request) {
	resultID, ok := pathUUID(w, r, "resultId", "invalid_result_id")
	if !ok {
		return
	}
	var req coursework.UpdateResultInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if !matchPathID(w, &req.ID, resultID, "result_id_mismatch") {
		return
	}
	result, err := s.service.UpdateResult(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeleteResult(w http.ResponseWriter, r *http.Request) {
	resultID, ok := pathUUID(w, r, "resultId", "invalid_result_id")
	if !ok {
		return
	}
	if err := s.service.DeleteResult(r.Context(), resultID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeAppError maps the apperr code of err onto a status and error code.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("code", code).Msg("request failed")
	}
	writeError(w, status, code)
}

func statusFor(err error) (int, string) {
	switch apperr.CodeOf(err) {
	case apperr.CodeNotFound:
		return http.StatusNotFound, "not_found"
	case apperr.CodeConflict:
		return http.StatusConflict, "conflict"
	case apperr.CodeInvalid:
		return http.StatusBadRequest, "invalid_request"
	case apperr.CodeStorage:
		if apperr.IsRetryable(err) {
			return http.StatusServiceUnavailable, "storage_unavailable"
		}
		return http.StatusInternalServerError, "server_error"
	case apperr.CodeEventTooLarge:
		return http.StatusInternalServerError, "event_too_large"
	case apperr.CodePublishFailure:
		return http.StatusInternalServerError, "server_error"
	}
	return http.StatusInternalServerError, "server_error"
}

func pathUUID(w http.ResponseWriter, r *http.Request, param, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, code)
		return uuid.Nil, false
	}
	return id, true
}

// queryInstructorID reads the optional instructorId filter.
func queryInstructorID(w http.ResponseWriter, r *http.Request) (*uuid.UUID, bool) {
	raw := r.URL.Query().Get("instructorId")
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_instructor_id")
		return nil, false
	}
	return &id, true
}

// matchPathID fills an omitted body id from the path and rejects a body id
// that names another record.
func matchPathID(w http.ResponseWriter, bodyID *uuid.UUID, pathID uuid.UUID, code string) bool {
	if *bodyID == uuid.Nil {
		*bodyID = pathID
	}
	if *bodyID != pathID {
		writeError(w, http.StatusBadRequest, code)
		return false
	}
	return true
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("trailing data after json body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
