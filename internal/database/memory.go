package database

import (
	"database/sql"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memQuestion struct {
	Question
	seq int64
}

// MemoryRepository is a process-local Repository. Every method runs under
// a single lock, so each mutation is atomic with respect to the others.
type MemoryRepository struct {
	mu        sync.RWMutex
	users     map[string]User
	courses   map[string]Course
	lectures  map[string]Lecture
	questions map[string]*memQuestion
	seq       int64
	now       func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:     make(map[string]User),
		courses:   make(map[string]Course),
		lectures:  make(map[string]Lecture),
		questions: make(map[string]*memQuestion),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryRepository) Ping() error {
	return nil
}

func (m *MemoryRepository) CreateUser(params CreateUserParams) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(params.EmailAddress)
	for _, u := range m.users {
		if u.EmailAddress == email {
			return User{}, ErrEmailTaken
		}
	}

	u := User{
		Id:           uuid.NewString(),
		Name:         params.Name,
		EmailAddress: email,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		CreatedAt:    m.now(),
	}
	m.users[u.Id] = u

	return u, nil
}

func (m *MemoryRepository) GetUserById(id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	u.PasswordHash = ""

	return u, nil
}

func (m *MemoryRepository) GetUserByEmail(email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	email = strings.ToLower(email)
	for _, u := range m.users {
		if u.EmailAddress == email {
			return u, nil
		}
	}

	return User{}, sql.ErrNoRows
}

func copyCourse(c Course) Course {
	c.Students = slices.Clone(c.Students)
	if c.Students == nil {
		c.Students = []string{}
	}
	return c
}

func (m *MemoryRepository) CreateCourse(params CreateCourseParams) (Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[params.InstructorId]; !ok {
		return Course{}, sql.ErrNoRows
	}

	c := Course{
		Id:           uuid.NewString(),
		Title:        params.Title,
		InstructorId: params.InstructorId,
		Students:     []string{},
		CreatedAt:    m.now(),
	}
	m.courses[c.Id] = c

	return copyCourse(c), nil
}

func (m *MemoryRepository) GetCourseById(id string) (Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.courses[id]
	if !ok {
		return Course{}, sql.ErrNoRows
	}

	return copyCourse(c), nil
}

func (m *MemoryRepository) listCourses(keep func(Course) bool) []Course {
	out := make([]Course, 0, len(m.courses))
	for _, c := range m.courses {
		if keep(c) {
			out = append(out, copyCourse(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryRepository) ListCourses() ([]Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.listCourses(func(Course) bool { return true }), nil
}

func (m *MemoryRepository) ListCoursesForUser(userId string) ([]Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.listCourses(func(c Course) bool {
		return c.InstructorId == userId || slices.Contains(c.Students, userId)
	}), nil
}

func (m *MemoryRepository) EnrollStudent(courseId, userId string) (Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.courses[courseId]
	if !ok {
		return Course{}, sql.ErrNoRows
	}
	if _, ok := m.users[userId]; !ok {
		return Course{}, sql.ErrNoRows
	}
	if slices.Contains(c.Students, userId) {
		return Course{}, ErrAlreadyEnrolled
	}

	c.Students = append(slices.Clone(c.Students), userId)
	m.courses[courseId] = c

	return copyCourse(c), nil
}

func (m *MemoryRepository) CreateLecture(params CreateLectureParams) (Lecture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.courses[params.CourseId]; !ok {
		return Lecture{}, sql.ErrNoRows
	}

	l := Lecture{
		Id:        uuid.NewString(),
		CourseId:  params.CourseId,
		Title:     params.Title,
		StartTime: params.StartTime.UTC(),
		EndTime:   params.EndTime.UTC(),
		CreatedAt: m.now(),
	}
	m.lectures[l.Id] = l

	return l, nil
}

func (m *MemoryRepository) GetLectureById(id string) (Lecture, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.lectures[id]
	if !ok {
		return Lecture{}, sql.ErrNoRows
	}

	return l, nil
}

func (m *MemoryRepository) ListLectures(courseId string) ([]Lecture, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Lecture, 0)
	for _, l := range m.lectures {
		if l.CourseId == courseId {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })

	return out, nil
}

// withName resolves the asking user's display name. Callers hold mu.
func (m *MemoryRepository) withName(q Question) Question {
	q.AskedByName = m.users[q.AskedBy].Name
	return q
}

func (m *MemoryRepository) CreateQuestion(params CreateQuestionParams) (Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lectures[params.LectureId]; !ok {
		return Question{}, sql.ErrNoRows
	}
	if _, ok := m.users[params.AskedBy]; !ok {
		return Question{}, sql.ErrNoRows
	}

	m.seq++
	q := &memQuestion{
		Question: Question{
			Id:        uuid.NewString(),
			LectureId: params.LectureId,
			AskedBy:   params.AskedBy,
			Content:   params.Content,
			Status:    StatusOpen,
			CreatedAt: m.now(),
		},
		seq: m.seq,
	}
	m.questions[q.Id] = q

	return m.withName(q.Question), nil
}

func (m *MemoryRepository) GetQuestionById(id string) (Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.questions[id]
	if !ok {
		return Question{}, sql.ErrNoRows
	}

	return m.withName(q.Question), nil
}

func (m *MemoryRepository) ListQuestions(lectureId string) ([]Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*memQuestion, 0)
	for _, q := range m.questions {
		if q.LectureId == lectureId {
			matched = append(matched, q)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	out := make([]Question, 0, len(matched))
	for _, q := range matched {
		out = append(out, m.withName(q.Question))
	}

	return out, nil
}

func (m *MemoryRepository) update(id, lectureId string, apply func(q *Question)) (Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.questions[id]
	if !ok || q.LectureId != lectureId {
		return Question{}, sql.ErrNoRows
	}
	apply(&q.Question)

	return m.withName(q.Question), nil
}

func (m *MemoryRepository) SetQuestionImportant(id, lectureId string, important bool) (Question, error) {
	return m.update(id, lectureId, func(q *Question) { q.IsImportant = important })
}

func (m *MemoryRepository) SetQuestionStatus(id, lectureId string, status QuestionStatus) (Question, error) {
	return m.update(id, lectureId, func(q *Question) { q.Status = status })
}

func (m *MemoryRepository) UpdateQuestion(id, lectureId string, status *QuestionStatus, important *bool) (Question, error) {
	return m.update(id, lectureId, func(q *Question) {
		if status != nil {
			q.Status = *status
		}
		if important != nil {
			q.IsImportant = *important
		}
	})
}

func (m *MemoryRepository) DeleteQuestion(id, lectureId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.questions[id]
	if !ok || q.LectureId != lectureId {
		return sql.ErrNoRows
	}
	delete(m.questions, id)

	return nil
}

func (m *MemoryRepository) DeleteQuestionsByLecture(lectureId string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, q := range m.questions {
		if q.LectureId == lectureId {
			delete(m.questions, id)
			n++
		}
	}

	return n, nil
}
