package database

import (
	"errors"
	"time"
)

var (
	ErrEmailTaken      = errors.New("email already registered")
	ErrAlreadyEnrolled = errors.New("user already enrolled in course")
)

type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleTA         Role = "ta"
	RoleAdmin      Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleTA, RoleAdmin:
		return true
	}
	return false
}

type QuestionStatus string

const (
	StatusOpen     QuestionStatus = "open"
	StatusAnswered QuestionStatus = "answered"
)

func (s QuestionStatus) Valid() bool {
	return s == StatusOpen || s == StatusAnswered
}

type User struct {
	Id           string
	Name         string
	EmailAddress string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

type Course struct {
	Id           string
	Title        string
	InstructorId string
	Students     []string
	CreatedAt    time.Time
}

type Lecture struct {
	Id        string
	CourseId  string
	Title     string
	StartTime time.Time
	EndTime   time.Time
	CreatedAt time.Time
}

type Question struct {
	Id          string
	LectureId   string
	AskedBy     string
	AskedByName string
	Content     string
	Status      QuestionStatus
	IsImportant bool
	CreatedAt   time.Time
}

type CreateUserParams struct {
	Name         string
	EmailAddress string
	PasswordHash string
	Role         Role
}

type CreateCourseParams struct {
	Title        string
	InstructorId string
}

type CreateLectureParams struct {
	CourseId  string
	Title     string
	StartTime time.Time
	EndTime   time.Time
}

type CreateQuestionParams struct {
	LectureId string
	AskedBy   string
	Content   string
}
