package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	courseColumns = "c.id, c.title, c.instructor_id, c.created_at, " +
		"COALESCE(array_agg(cs.student_id::text ORDER BY cs.enrolled_at) " +
		"FILTER (WHERE cs.student_id IS NOT NULL), '{}')"
	courseFrom = " FROM courses c LEFT JOIN course_students cs ON cs.course_id = c.id "

	questionColumns = "q.id, q.lecture_id, q.asked_by, u.name, q.content, q.status, q.is_important, q.created_at"
	lectureColumns  = "id, course_id, title, start_time, end_time, created_at"
)

func (db *PgRepository) CreateUser(params CreateUserParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO users (id, name, email, password_hash, role, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, name, email, role, created_at",
		uuid.NewString(),
		params.Name,
		strings.ToLower(params.EmailAddress),
		params.PasswordHash,
		params.Role,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Name,
		&u.EmailAddress,
		&u.Role,
		&u.CreatedAt,
	)
	if isPgError(err, uniqueViolation) {
		return User{}, ErrEmailTaken
	}

	return u, err
}

func (db *PgRepository) GetUserById(id string) (User, error) {
	if !validId(id) {
		return User{}, sql.ErrNoRows
	}

	row := db.conn.QueryRow(
		"SELECT id, name, email, role, created_at FROM users "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Name,
		&user.EmailAddress,
		&user.Role,
		&user.CreatedAt,
	)

	return user, err
}

func (db *PgRepository) GetUserByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, email, password_hash, role, created_at FROM users "+
			"WHERE email = $1 LIMIT 1",
		strings.ToLower(email),
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Name,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.Role,
		&user.CreatedAt,
	)

	return user, err
}

func (db *PgRepository) CreateCourse(params CreateCourseParams) (Course, error) {
	if !validId(params.InstructorId) {
		return Course{}, sql.ErrNoRows
	}

	res := db.conn.QueryRow(
		"INSERT INTO courses (id, title, instructor_id, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, title, instructor_id, created_at",
		uuid.NewString(),
		params.Title,
		params.InstructorId,
		time.Now().UTC(),
	)

	course := Course{Students: []string{}}
	err := res.Scan(
		&course.Id,
		&course.Title,
		&course.InstructorId,
		&course.CreatedAt,
	)
	if isPgError(err, foreignKeyViolation) {
		return Course{}, sql.ErrNoRows
	}

	return course, err
}

func scanCourse(row rowScanner) (Course, error) {
	var course Course
	err := row.Scan(
		&course.Id,
		&course.Title,
		&course.InstructorId,
		&course.CreatedAt,
		pq.Array(&course.Students),
	)

	return course, err
}

func (db *PgRepository) GetCourseById(id string) (Course, error) {
	if !validId(id) {
		return Course{}, sql.ErrNoRows
	}

	row := db.conn.QueryRow(
		"SELECT "+courseColumns+courseFrom+"WHERE c.id = $1 GROUP BY c.id",
		id,
	)

	return scanCourse(row)
}

func (db *PgRepository) queryCourses(query string, args ...any) ([]Course, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	courses := make([]Course, 0)
	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}

		courses = append(courses, course)
	}

	return courses, rows.Err()
}

func (db *PgRepository) ListCourses() ([]Course, error) {
	return db.queryCourses(
		"SELECT " + courseColumns + courseFrom + "GROUP BY c.id ORDER BY c.created_at",
	)
}

func (db *PgRepository) ListCoursesForUser(userId string) ([]Course, error) {
	if !validId(userId) {
		return []Course{}, nil
	}

	return db.queryCourses(
		"SELECT "+courseColumns+courseFrom+
			"WHERE c.instructor_id = $1 OR EXISTS "+
			"(SELECT 1 FROM course_students x WHERE x.course_id = c.id AND x.student_id = $1) "+
			"GROUP BY c.id ORDER BY c.created_at",
		userId,
	)
}

func (db *PgRepository) EnrollStudent(courseId, userId string) (Course, error) {
	if !validId(courseId) || !validId(userId) {
		return Course{}, sql.ErrNoRows
	}

	res, err := db.conn.Exec(
		"INSERT INTO course_students (course_id, student_id, enrolled_at) "+
			"VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
		courseId,
		userId,
		time.Now().UTC(),
	)
	if err != nil {
		if isPgError(err, foreignKeyViolation) {
			return Course{}, sql.ErrNoRows
		}
		return Course{}, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Course{}, err
	}
	if n == 0 {
		return Course{}, ErrAlreadyEnrolled
	}

	return db.GetCourseById(courseId)
}

func scanLecture(row rowScanner) (Lecture, error) {
	var l Lecture
	err := row.Scan(
		&l.Id,
		&l.CourseId,
		&l.Title,
		&l.StartTime,
		&l.EndTime,
		&l.CreatedAt,
	)

	return l, err
}

func (db *PgRepository) CreateLecture(params CreateLectureParams) (Lecture, error) {
	if !validId(params.CourseId) {
		return Lecture{}, sql.ErrNoRows
	}

	row := db.conn.QueryRow(
		"INSERT INTO lectures (id, course_id, title, start_time, end_time, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING "+lectureColumns,
		uuid.NewString(),
		params.CourseId,
		params.Title,
		params.StartTime.UTC(),
		params.EndTime.UTC(),
		time.Now().UTC(),
	)

	l, err := scanLecture(row)
	if isPgError(err, foreignKeyViolation) {
		return Lecture{}, sql.ErrNoRows
	}

	return l, err
}

func (db *PgRepository) GetLectureById(id string) (Lecture, error) {
	if !validId(id) {
		return Lecture{}, sql.ErrNoRows
	}

	row := db.conn.QueryRow(
		"SELECT "+lectureColumns+" FROM lectures WHERE id = $1 LIMIT 1",
		id,
	)

	return scanLecture(row)
}

func (db *PgRepository) ListLectures(courseId string) ([]Lecture, error) {
	if !validId(courseId) {
		return []Lecture{}, nil
	}

	rows, err := db.conn.Query(
		"SELECT "+lectureColumns+" FROM lectures WHERE course_id = $1 ORDER BY start_time",
		courseId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lectures := make([]Lecture, 0)
	for rows.Next() {
		l, err := scanLecture(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lecture: %w", err)
		}

		lectures = append(lectures, l)
	}

	return lectures, rows.Err()
}

func scanQuestion(row rowScanner) (Question, error) {
	var q Question
	err := row.Scan(
		&q.Id,
		&q.LectureId,
		&q.AskedBy,
		&q.AskedByName,
		&q.Content,
		&q.Status,
		&q.IsImportant,
		&q.CreatedAt,
	)

	return q, err
}

func (db *PgRepository) CreateQuestion(params CreateQuestionParams) (Question, error) {
	if !validId(params.LectureId) || !validId(params.AskedBy) {
		return Question{}, sql.ErrNoRows
	}

	row := db.conn.QueryRow(
		"WITH q AS ("+
			"INSERT INTO questions (id, lecture_id, asked_by, content, status, is_important, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, FALSE, $6) RETURNING *"+
			") SELECT "+questionColumns+" FROM q JOIN users u ON u.id = q.asked_by",
		uuid.NewString(),
		params.LectureId,
		params.AskedBy,
		params.Content,
		StatusOpen,
		time.Now().UTC(),
	)

	q, err := scanQuestion(row)
	if isPgError(err, foreignKeyViolation) {
		return Question{}, sql.ErrNoRows
	}

	return q, err
}

func (db *PgRepository) GetQuestionById(id string) (Question, error) {
	if !validId(id) {
		return Question{}, sql.ErrNoRows
	}

	row := db.conn.QueryRow(
		"SELECT "+questionColumns+" FROM questions q JOIN users u ON u.id = q.asked_by "+
			"WHERE q.id = $1 LIMIT 1",
		id,
	)

	return scanQuestion(row)
}

func (db *PgRepository) ListQuestions(lectureId string) ([]Question, error) {
	if !validId(lectureId) {
		return []Question{}, nil
	}

	rows, err := db.conn.Query(
		"SELECT "+questionColumns+" FROM questions q JOIN users u ON u.id = q.asked_by "+
			"WHERE q.lecture_id = $1 ORDER BY q.created_at, q.id",
		lectureId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := make([]Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}

		questions = append(questions, q)
	}

	return questions, rows.Err()
}

// updateQuestion applies set to a single question of the lecture and
// returns the updated row, in one statement.
func (db *PgRepository) updateQuestion(id, lectureId, set string, value any) (Question, error) {
	if !validId(id) || !validId(lectureId) {
		return Question{}, sql.ErrNoRows
	}

	row := db.conn.QueryRow(
		"WITH q AS ("+
			"UPDATE questions SET "+set+" = $3 WHERE id = $1 AND lecture_id = $2 RETURNING *"+
			") SELECT "+questionColumns+" FROM q JOIN users u ON u.id = q.asked_by",
		id,
		lectureId,
		value,
	)

	return scanQuestion(row)
}

func (db *PgRepository) SetQuestionImportant(id, lectureId string, important bool) (Question, error) {
	return db.updateQuestion(id, lectureId, "is_important", important)
}

func (db *PgRepository) SetQuestionStatus(id, lectureId string, status QuestionStatus) (Question, error) {
	return db.updateQuestion(id, lectureId, "status", status)
}

// UpdateQuestion leaves a column unchanged when its value is NULL.
func (db *PgRepository) UpdateQuestion(id, lectureId string, status *QuestionStatus, important *bool) (Question, error) {
	if !validId(id) || !validId(lectureId) {
		return Question{}, sql.ErrNoRows
	}

	row := db.conn.QueryRow(
		"WITH q AS ("+
			"UPDATE questions SET status = COALESCE($3, status), is_important = COALESCE($4, is_important) "+
			"WHERE id = $1 AND lecture_id = $2 RETURNING *"+
			") SELECT "+questionColumns+" FROM q JOIN users u ON u.id = q.asked_by",
		id,
		lectureId,
		status,
		important,
	)

	return scanQuestion(row)
}

func (db *PgRepository) DeleteQuestion(id, lectureId string) error {
	if !validId(id) || !validId(lectureId) {
		return sql.ErrNoRows
	}

	res, err := db.conn.Exec(
		"DELETE FROM questions WHERE id = $1 AND lecture_id = $2",
		id,
		lectureId,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *PgRepository) DeleteQuestionsByLecture(lectureId string) (int64, error) {
	if !validId(lectureId) {
		return 0, nil
	}

	res, err := db.conn.Exec("DELETE FROM questions WHERE lecture_id = $1", lectureId)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
