package database

// Repository is the entity store used by the realtime core and the HTTP
// surface. Lookups of a missing entity return sql.ErrNoRows. Question
// mutations are scoped to (questionId, lectureId) and applied as a single
// atomic step.
type Repository interface {
	Ping() error
	CreateUser(params CreateUserParams) (User, error)
	GetUserById(id string) (User, error)
	GetUserByEmail(email string) (User, error)
	CreateCourse(params CreateCourseParams) (Course, error)
	GetCourseById(id string) (Course, error)
	ListCourses() ([]Course, error)
	ListCoursesForUser(userId string) ([]Course, error)
	EnrollStudent(courseId, userId string) (Course, error)
	CreateLecture(params CreateLectureParams) (Lecture, error)
	GetLectureById(id string) (Lecture, error)
	ListLectures(courseId string) ([]Lecture, error)
	CreateQuestion(params CreateQuestionParams) (Question, error)
	GetQuestionById(id string) (Question, error)
	ListQuestions(lectureId string) ([]Question, error)
	SetQuestionImportant(id, lectureId string, important bool) (Question, error)
	SetQuestionStatus(id, lectureId string, status QuestionStatus) (Question, error)
	// UpdateQuestion sets the non-nil fields in one write.
	UpdateQuestion(id, lectureId string, status *QuestionStatus, important *bool) (Question, error)
	DeleteQuestion(id, lectureId string) error
	DeleteQuestionsByLecture(lectureId string) (int64, error)
}
