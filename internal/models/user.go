package models

import "time"

// UserRole represents the roles known to the notification engine.
type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleTeacher UserRole = "teacher"
	RoleAdmin   UserRole = "admin"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	return r == RoleStudent || r == RoleTeacher || r == RoleAdmin
}

// TeachingAssignment binds a teacher to a subject within a course.
type TeachingAssignment struct {
	Course  string `json:"course"`
	Subject string `json:"subject"`
}

// User is read-only for the engine; memberships are maintained by administration.
type User struct {
	Username string               `json:"username"`
	Role     UserRole             `json:"role"`
	Courses  []string             `json:"courses,omitempty"`
	Teaching []TeachingAssignment `json:"teaching,omitempty"`
}

// MemberOf reports course membership.
func (u User) MemberOf(course string) bool {
	for _, c := range u.Courses {
		if c == course {
			return true
		}
	}
	return false
}

// Teaches reports whether the user teaches subject in course. An empty subject
// on the assignment covers every subject of the course.
func (u User) Teaches(course, subject string) bool {
	if u.Role != RoleTeacher {
		return false
	}
	for _, a := range u.Teaching {
		if a.Course == course && (a.Subject == "" || a.Subject == subject) {
			return true
		}
	}
	return false
}

// Session is the per-user scalar record of the current session.
type Session struct {
	Username   string    `json:"username"`
	Role       UserRole  `json:"role"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}
