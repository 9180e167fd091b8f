package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/npezzotti/lecture-qa/internal/auth"
	"github.com/npezzotti/lecture-qa/internal/database"
	"github.com/npezzotti/lecture-qa/internal/policy"
	"github.com/npezzotti/lecture-qa/internal/server"
	"github.com/npezzotti/lecture-qa/internal/types"
	"go.uber.org/zap"
)

type CreateCourseRequest struct {
	Title        string `json:"title"`
	InstructorId string `json:"instructorId"`
}

type EnrollRequest struct {
	UserId   string `json:"userId"`
	CourseId string `json:"courseId"`
}

type EnrollResponse struct {
	Message       string `json:"message"`
	CourseId      string `json:"courseId"`
	UserId        string `json:"userId"`
	TotalStudents int    `json:"totalStudents"`
}

type CreateLectureRequest struct {
	Title     string    `json:"title"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

type JoinResponse struct {
	Ok      bool          `json:"ok"`
	Lecture types.Lecture `json:"lecture"`
}

type AskRequest struct {
	Content string `json:"content"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

func (s *LectureApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("json encode", zap.Error(err))
	}
}

// dbError converts a repository failure, logging anything but a missing row.
func (s *LectureApp) dbError(op string, err error) *ApiError {
	if errors.Is(err, sql.ErrNoRows) {
		return NewNotFoundError()
	}

	s.log.Error(op, zap.Error(err))
	return NewInternalServerError(err)
}

func (s *LectureApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Error("health check", zap.Error(err))
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *LectureApp) listCourses(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var (
		dbCourses []database.Course
		err       error
	)
	if id.Role == database.RoleAdmin {
		dbCourses, err = s.db.ListCourses()
	} else {
		dbCourses, err = s.db.ListCoursesForUser(id.Id)
	}
	if err != nil {
		errResp := s.dbError("list courses", err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	courses := make([]types.Course, 0, len(dbCourses))
	for _, c := range dbCourses {
		courses = append(courses, types.NewCourse(c))
	}

	s.writeJson(w, http.StatusOK, courses)
}

func (s *LectureApp) createCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if id.Role != database.RoleInstructor && id.Role != database.RoleAdmin {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateCourseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		errResp := NewValidationError("title is required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// instructors create their own courses, admins assign one
	if req.InstructorId == "" {
		if id.Role == database.RoleAdmin {
			errResp := NewValidationError("instructorId is required")
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		req.InstructorId = id.Id
	}
	if id.Role != database.RoleAdmin && req.InstructorId != id.Id {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	instructor, err := s.db.GetUserById(req.InstructorId)
	if err != nil {
		errResp := s.dbError("get instructor", err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if instructor.Role != database.RoleInstructor {
		errResp := NewValidationError("instructorId must refer to an instructor")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	course, err := s.db.CreateCourse(database.CreateCourseParams{
		Title:        req.Title,
		InstructorId: instructor.Id,
	})
	if err != nil {
		errResp := s.dbError("create course", err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.NewCourse(course))
}

func (s *LectureApp) getCourse(w http.ResponseWriter, r *http.Request) {
	course, err := s.db.GetCourseById(r.PathValue("courseId"))
	if err != nil {
		errResp := s.dbError("get course", err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, types.NewCourse(course))
}

func (s *LectureApp) enroll(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.UserId == "" || req.CourseId == "" {
		errResp := NewValidationError("userId and courseId are required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.db.GetUserById(req.UserId); err != nil {
		errResp := s.dbError("get user", err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	course, err := s.db.GetCourseById(req.CourseId)
	if err != nil {
		errResp := s.dbError("get course", err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.UserId != id.Id && !policy.CanManageCourse(id.Id, id.Role, course) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	course, err = s.db.EnrollStudent(req.CourseId, req.UserId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrAlreadyEnrolled) {
			errResp = NewValidationError("user is already enrolled in this course")
		} else {
			errResp = s.dbError("enroll", err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, EnrollResponse{
		Message:       "user enrolled",
		CourseId:      course.Id,
		UserId:        req.UserId,
		TotalStudents: len(course.Students),
	})
}

// canView reports whether the caller may see the lectures and questions of
// a course.
func canView(id auth.Identity, course database.Course) bool {
	return policy.CanJoin(id.Id, id.Role, course) || policy.CanModerate(id.Id, id.Role, course)
}

func (s *LectureApp) listLectures(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	course, err := s.db.GetCourseById(r.PathValue("courseId"))
	if err != nil {
		errResp := s.dbError("get course", err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !canView(id, course) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbLectures, err := s.db.ListLectures(course.Id)
	if err != nil {
		errResp := s.dbError("list lectures", err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	now := s.now()
	lectures := make([]types.Lecture, 0, len(dbLectures))
	for _, l := range dbLectures {
		lectures = append(lectures, types.NewLecture(l, now))
	}

	s.writeJson(w, http.StatusOK, lectures)
}

func (s *LectureApp) createLecture(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	course, err := s.db.GetCourseById(r.PathValue("courseId"))
	if err != nil {
		errResp := s.dbError("get course", err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !policy.CanManageCourse(id.Id, id.Role, course) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateLectureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	switch {
	case req.Title == "":
		errResp := NewValidationError("title is required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	case req.StartTime.IsZero() || req.EndTime.IsZero():
		errResp := NewValidationError("startTime and endTime are required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	case !req.EndTime.After(req.StartTime):
		errResp := NewValidationError("endTime must be after startTime")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	lecture, err := s.db.CreateLecture(database.CreateLectureParams{
		CourseId:  course.Id,
		Title:     req.Title,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	})
	if err != nil {
		errResp := s.dbError("create lecture", err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.NewLecture(lecture, s.now()))
}

func (s *LectureApp) joinLecture(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	lecture, err := s.ls.CheckJoin(r.PathValue("lectureId"), id)
	if err != nil {
		errResp := fromServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, JoinResponse{Ok: true, Lecture: lecture})
}

func (s *LectureApp) listQuestions(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	lecture, err := s.db.GetLectureById(r.PathValue("lectureId"))
	if err != nil {
		errResp := s.dbError("get lecture", err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	course, err := s.db.GetCourseById(lecture.CourseId)
	if err != nil {
		errResp := s.dbError("get course", err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !canView(id, course) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	questions, err := s.db.ListQuestions(lecture.Id)
	if err != nil {
		errResp := s.dbError("list questions", err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, types.NewQuestions(questions))
}

// submit runs m through the lecture server and writes the resulting question.
func (s *LectureApp) submit(w http.ResponseWriter, r *http.Request, lectureId string, m server.Mutation, status int) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.ls.Submit(r.Context(), lectureId, id, m)
	if err != nil {
		errResp := fromServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	payload, ok := msg.Data.(server.QuestionPayload)
	if !ok {
		errResp := NewInternalServerError(errors.New("unexpected result for " + m.Kind))
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, status, payload.Question)
}

func (s *LectureApp) askQuestion(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.submit(w, r, r.PathValue("lectureId"), server.Mutation{
		Kind:    server.EventAskQuestion,
		Content: req.Content,
	}, http.StatusCreated)
}

func (s *LectureApp) updateQuestionStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	questionId := r.PathValue("questionId")
	lectureId, err := s.ls.LectureForQuestion(questionId)
	if err != nil {
		errResp := fromServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	status := database.QuestionStatus(req.Status)
	s.submit(w, r, lectureId, server.Mutation{
		Kind:       server.EventUpdateQuestionStatus,
		QuestionId: questionId,
		Status:     &status,
	}, http.StatusOK)
}

func (s *LectureApp) markImportant(important bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		questionId := r.PathValue("questionId")
		lectureId, err := s.ls.LectureForQuestion(questionId)
		if err != nil {
			errResp := fromServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		s.submit(w, r, lectureId, server.Mutation{
			Kind:        server.EventToggleImportant,
			QuestionId:  questionId,
			IsImportant: &important,
		}, http.StatusOK)
	}
}
