// Package policy decides when a lecture is joinable and who may act on it.
// Every function is pure; callers pass the wall-clock time they validated at.
package policy

import (
	"slices"
	"time"

	"github.com/npezzotti/lecture-qa/internal/database"
)

type Status string

const (
	StatusUpcoming  Status = "upcoming"
	StatusLive      Status = "live"
	StatusCompleted Status = "completed"
)

// IsOngoing reports whether now falls within [start, end], inclusive on
// both ends.
func IsOngoing(start, end, now time.Time) bool {
	return !now.Before(start) && !now.After(end)
}

// LectureStatus derives the lifecycle status of a lecture. It agrees with
// IsOngoing at both boundaries.
func LectureStatus(start, end, now time.Time) Status {
	switch {
	case now.Before(start):
		return StatusUpcoming
	case now.After(end):
		return StatusCompleted
	default:
		return StatusLive
	}
}

func isEnrolled(userId string, course database.Course) bool {
	return slices.Contains(course.Students, userId)
}

// CanJoin reports whether the user may enter the lecture room of a course.
func CanJoin(userId string, role database.Role, course database.Course) bool {
	return isEnrolled(userId, course) ||
		course.InstructorId == userId ||
		role == database.RoleAdmin
}

func CanAsk(userId string, course database.Course) bool {
	return isEnrolled(userId, course)
}

// CanModerate reports whether the user may change status, importance or
// delete questions of the course.
func CanModerate(userId string, role database.Role, course database.Course) bool {
	return course.InstructorId == userId ||
		role == database.RoleTA ||
		role == database.RoleAdmin
}

// CanManageCourse covers lecture scheduling and staff enrollment.
func CanManageCourse(userId string, role database.Role, course database.Course) bool {
	return course.InstructorId == userId || role == database.RoleAdmin
}
