package types

import (
	"time"

	"github.com/npezzotti/lecture-qa/internal/database"
	"github.com/npezzotti/lecture-qa/internal/policy"
)

type User struct {
	Id           string    `json:"id"`
	Name         string    `json:"name"`
	EmailAddress string    `json:"email,omitempty"`
	Role         string    `json:"role,omitempty"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
}

type Course struct {
	Id           string    `json:"id"`
	Title        string    `json:"title"`
	InstructorId string    `json:"instructorId"`
	Students     []string  `json:"students"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Lecture struct {
	Id        string    `json:"id"`
	CourseId  string    `json:"courseId"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Author is the asking user as surfaced on a question.
type Author struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

// Question is the single wire shape used by snapshots, broadcasts and the
// HTTP surface.
type Question struct {
	Id          string    `json:"id"`
	LectureId   string    `json:"lectureId"`
	AskedBy     Author    `json:"askedBy"`
	Content     string    `json:"content"`
	Status      string    `json:"status"`
	IsImportant bool      `json:"isImportant"`
	CreatedAt   time.Time `json:"createdAt"`
}

func NewUser(u database.User) User {
	return User{
		Id:           u.Id,
		Name:         u.Name,
		EmailAddress: u.EmailAddress,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
	}
}

func NewCourse(c database.Course) Course {
	students := c.Students
	if students == nil {
		students = []string{}
	}

	return Course{
		Id:           c.Id,
		Title:        c.Title,
		InstructorId: c.InstructorId,
		Students:     students,
		CreatedAt:    c.CreatedAt,
	}
}

// NewLecture converts a stored lecture, deriving its lifecycle status at now.
func NewLecture(l database.Lecture, now time.Time) Lecture {
	return Lecture{
		Id:        l.Id,
		CourseId:  l.CourseId,
		Title:     l.Title,
		StartTime: l.StartTime,
		EndTime:   l.EndTime,
		Status:    string(policy.LectureStatus(l.StartTime, l.EndTime, now)),
		CreatedAt: l.CreatedAt,
	}
}

func NewQuestion(q database.Question) Question {
	return Question{
		Id:        q.Id,
		LectureId: q.LectureId,
		AskedBy: Author{
			Id:   q.AskedBy,
			Name: q.AskedByName,
		},
		Content:     q.Content,
		Status:      string(q.Status),
		IsImportant: q.IsImportant,
		CreatedAt:   q.CreatedAt,
	}
}

func NewQuestions(qs []database.Question) []Question {
	out := make([]Question, 0, len(qs))
	for _, q := range qs {
		out = append(out, NewQuestion(q))
	}
	return out
}
