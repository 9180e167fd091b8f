package database

import (
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateUser(params CreateUserParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetUserById(id string) (User, error) {
	args := m.Called(id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetUserByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) CreateCourse(params CreateCourseParams) (Course, error) {
	args := m.Called(params)
	return args.Get(0).(Course), args.Error(1)
}
func (m *MockRepository) GetCourseById(id string) (Course, error) {
	args := m.Called(id)
	return args.Get(0).(Course), args.Error(1)
}
func (m *MockRepository) ListCourses() ([]Course, error) {
	args := m.Called()
	return args.Get(0).([]Course), args.Error(1)
}
func (m *MockRepository) ListCoursesForUser(userId string) ([]Course, error) {
	args := m.Called(userId)
	return args.Get(0).([]Course), args.Error(1)
}
func (m *MockRepository) EnrollStudent(courseId, userId string) (Course, error) {
	args := m.Called(courseId, userId)
	return args.Get(0).(Course), args.Error(1)
}
func (m *MockRepository) CreateLecture(params CreateLectureParams) (Lecture, error) {
	args := m.Called(params)
	return args.Get(0).(Lecture), args.Error(1)
}
func (m *MockRepository) GetLectureById(id string) (Lecture, error) {
	args := m.Called(id)
	return args.Get(0).(Lecture), args.Error(1)
}
func (m *MockRepository) ListLectures(courseId string) ([]Lecture, error) {
	args := m.Called(courseId)
	return args.Get(0).([]Lecture), args.Error(1)
}
func (m *MockRepository) CreateQuestion(params CreateQuestionParams) (Question, error) {
	args := m.Called(params)
	return args.Get(0).(Question), args.Error(1)
}
func (m *MockRepository) GetQuestionById(id string) (Question, error) {
	args := m.Called(id)
	return args.Get(0).(Question), args.Error(1)
}
func (m *MockRepository) ListQuestions(lectureId string) ([]Question, error) {
	args := m.Called(lectureId)
	return args.Get(0).([]Question), args.Error(1)
}
func (m *MockRepository) SetQuestionImportant(id, lectureId string, important bool) (Question, error) {
	args := m.Called(id, lectureId, important)
	return args.Get(0).(Question), args.Error(1)
}
func (m *MockRepository) SetQuestionStatus(id, lectureId string, status QuestionStatus) (Question, error) {
	args := m.Called(id, lectureId, status)
	return args.Get(0).(Question), args.Error(1)
}
func (m *MockRepository) UpdateQuestion(id, lectureId string, status *QuestionStatus, important *bool) (Question, error) {
	args := m.Called(id, lectureId, status, important)
	return args.Get(0).(Question), args.Error(1)
}
func (m *MockRepository) DeleteQuestion(id, lectureId string) error {
	args := m.Called(id, lectureId)
	return args.Error(0)
}
func (m *MockRepository) DeleteQuestionsByLecture(lectureId string) (int64, error) {
	args := m.Called(lectureId)
	return args.Get(0).(int64), args.Error(1)
}
