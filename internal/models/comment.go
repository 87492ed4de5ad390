package models

import (
	"encoding/json"
	"time"
)

// ReadSet is the set of usernames that have seen a record. It only grows.
type ReadSet []string

// Contains reports whether username has read the record.
func (r ReadSet) Contains(username string) bool {
	for _, u := range r {
		if u == username {
			return true
		}
	}
	return false
}

// Add returns the set with username included and whether it changed.
func (r ReadSet) Add(username string) (ReadSet, bool) {
	if username == "" || r.Contains(username) {
		return r, false
	}
	out := make(ReadSet, len(r), len(r)+1)
	copy(out, r)
	return append(out, username), true
}

// Union adds every member of other.
func (r ReadSet) Union(other ReadSet) ReadSet {
	for _, u := range other {
		r, _ = r.Add(u)
	}
	return r
}

// Covers reports whether every member of other is in r.
func (r ReadSet) Covers(other ReadSet) bool {
	for _, u := range other {
		if !r.Contains(u) {
			return false
		}
	}
	return true
}

// MarshalJSON always encodes an array.
func (r ReadSet) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(r))
}

// Comment is either a discussion comment or a graded submission.
type Comment struct {
	ID             string    `json:"id"`
	TaskID         string    `json:"taskId"`
	AuthorUsername string    `json:"authorUsername"`
	Body           string    `json:"body"`
	Timestamp      time.Time `json:"timestamp"`
	IsSubmission   bool      `json:"isSubmission"`
	Grade          *float64  `json:"grade,omitempty"`
	ReadBy         ReadSet   `json:"readBy"`
}

// Graded reports whether a grade has been attached.
func (c Comment) Graded() bool {
	return c.Grade != nil
}
