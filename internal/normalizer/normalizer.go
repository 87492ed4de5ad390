// Package normalizer is the ingress gate between the raw key-value store and
// the rest of the engine. Every record read from storage passes through it and
// comes out fully populated, so downstream code never branches on absent fields.
package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/sma-notify-engine/internal/models"
	appErrors "github.com/noah-isme/sma-notify-engine/pkg/errors"
)

type rawTask struct {
	ID               flexString  `json:"id"`
	Title            flexString  `json:"title"`
	Course           flexString  `json:"course"`
	Subject          flexString  `json:"subject"`
	CreatedBy        flexString  `json:"createdBy"`
	Teacher          flexString  `json:"teacher"`
	Scope            flexString  `json:"scope"`
	AssignedStudents flexStrings `json:"assignedStudents"`
	Students         flexStrings `json:"students"`
	DueDate          flexTime    `json:"dueDate"`
	Kind             flexString  `json:"kind"`
	Type             flexString  `json:"type"`
	IsEvaluation     flexBool    `json:"isEvaluation"`
	Status           flexString  `json:"status"`
	CreatedAt        flexTime    `json:"createdAt"`
}

type rawComment struct {
	ID             flexString  `json:"id"`
	TaskID         flexString  `json:"taskId"`
	AuthorUsername flexString  `json:"authorUsername"`
	Author         flexString  `json:"author"`
	Body           flexString  `json:"body"`
	Text           flexString  `json:"text"`
	Message        flexString  `json:"message"`
	Timestamp      flexTime    `json:"timestamp"`
	Date           flexTime    `json:"date"`
	IsSubmission   flexBool    `json:"isSubmission"`
	Grade          flexFloat   `json:"grade"`
	ReadBy         flexStrings `json:"readBy"`
}

type rawNotification struct {
	ID              flexString  `json:"id"`
	Type            flexString  `json:"type"`
	TaskID          flexString  `json:"taskId"`
	SourceUsername  flexString  `json:"sourceUsername"`
	FromUser        flexString  `json:"fromUser"`
	TargetRole      flexString  `json:"targetRole"`
	TargetUsernames flexStrings `json:"targetUsernames"`
	TargetUsers     flexStrings `json:"targetUsers"`
	Timestamp       flexTime    `json:"timestamp"`
	ReadBy          flexStrings `json:"readBy"`
	Read            flexBool    `json:"read"`
}

type rawCompletion struct {
	TaskID          flexString `json:"taskId"`
	StudentUsername flexString `json:"studentUsername"`
	Student         flexString `json:"student"`
	CompletedAt     flexTime   `json:"completedAt"`
	Score           flexFloat  `json:"score"`
	Percentage      flexFloat  `json:"percentage"`
}

type rawTeaching struct {
	Course  flexString `json:"course"`
	Subject flexString `json:"subject"`
}

// flexTeaching ignores teaching entries that are not objects.
type flexTeaching []rawTeaching

func (f *flexTeaching) UnmarshalJSON(data []byte) error {
	*f = nil
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil
	}
	for _, item := range items {
		var t rawTeaching
		if err := json.Unmarshal(item, &t); err == nil {
			*f = append(*f, t)
		}
	}
	return nil
}

type rawUser struct {
	Username flexString    `json:"username"`
	Role     flexString    `json:"role"`
	Courses  flexStrings   `json:"courses"`
	Course   flexStrings   `json:"course"`
	Teaching flexTeaching  `json:"teaching"`
	Subjects flexStrings   `json:"subjects"`
}

var legacyRoles = map[string]models.UserRole{
	"professor": models.RoleTeacher,
	"aluno":     models.RoleStudent,
	"admin":     models.RoleAdmin,
}

var legacyStatuses = map[string]models.TaskStatus{
	"graded":    models.TaskStatusReviewed,
	"completed": models.TaskStatusReviewed,
	"closed":    models.TaskStatusFinalized,
}

// Task normalizes a single raw task record.
func Task(raw json.RawMessage) (models.Task, error) {
	var r rawTask
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.Task{}, &appErrors.MalformedRecordError{Collection: string(models.CollectionTasks), Index: -1, Err: err}
	}
	if r.ID == "" {
		return models.Task{}, missing(models.CollectionTasks, "id")
	}
	assigned := []string(r.AssignedStudents)
	if len(assigned) == 0 {
		assigned = r.Students
	}
	scope := models.TaskScope(strings.ToLower(string(r.Scope)))
	if scope != models.TaskScopeCourse && scope != models.TaskScopeStudents {
		scope = models.TaskScopeCourse
		if len(assigned) > 0 {
			scope = models.TaskScopeStudents
		}
	}
	kind := models.TaskKindStandard
	if strings.EqualFold(firstString(r.Kind, r.Type), string(models.TaskKindEvaluation)) || bool(r.IsEvaluation) {
		kind = models.TaskKindEvaluation
	}
	status := models.TaskStatus(strings.ToLower(string(r.Status)))
	if legacy, ok := legacyStatuses[string(status)]; ok {
		status = legacy
	}
	if !status.Valid() {
		status = models.TaskStatusPending
	}
	return models.Task{
		ID:               string(r.ID),
		Title:            string(r.Title),
		Course:           string(r.Course),
		Subject:          string(r.Subject),
		CreatedBy:        firstString(r.CreatedBy, r.Teacher),
		Scope:            scope,
		AssignedStudents: assigned,
		DueDate:          timePtr(r.DueDate.value),
		Kind:             kind,
		Status:           status,
		CreatedAt:        r.CreatedAt.value,
	}, nil
}

// Comment normalizes a single raw comment or submission record.
func Comment(raw json.RawMessage) (models.Comment, error) {
	var r rawComment
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.Comment{}, &appErrors.MalformedRecordError{Collection: string(models.CollectionComments), Index: -1, Err: err}
	}
	author := firstString(r.AuthorUsername, r.Author)
	switch {
	case r.ID == "":
		return models.Comment{}, missing(models.CollectionComments, "id")
	case r.TaskID == "":
		return models.Comment{}, missing(models.CollectionComments, "taskId")
	case author == "":
		return models.Comment{}, missing(models.CollectionComments, "authorUsername")
	}
	return models.Comment{
		ID:             string(r.ID),
		TaskID:         string(r.TaskID),
		AuthorUsername: author,
		Body:           firstString(r.Body, r.Text, r.Message),
		Timestamp:      firstTime(r.Timestamp, r.Date),
		IsSubmission:   bool(r.IsSubmission),
		Grade:          r.Grade.value,
		ReadBy:         readSet(r.ReadBy),
	}, nil
}

// Notification normalizes a single raw notification record.
func Notification(raw json.RawMessage) (models.Notification, error) {
	var r rawNotification
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.Notification{}, &appErrors.MalformedRecordError{Collection: string(models.CollectionNotifications), Index: -1, Err: err}
	}
	switch {
	case r.ID == "":
		return models.Notification{}, missing(models.CollectionNotifications, "id")
	case r.TaskID == "":
		return models.Notification{}, missing(models.CollectionNotifications, "taskId")
	}
	notifType := models.NotificationType(strings.ToLower(string(r.Type)))
	targets := []string(r.TargetUsernames)
	if len(targets) == 0 {
		targets = r.TargetUsers
	}
	if targets == nil {
		targets = []string{}
	}
	readBy := readSet(r.ReadBy)
	if r.Read {
		readBy = readBy.Union(targets)
	}
	role := models.UserRole(strings.ToLower(string(r.TargetRole)))
	if !role.Valid() {
		role = defaultTargetRole(notifType)
	}
	return models.Notification{
		ID:              string(r.ID),
		Type:            notifType,
		TaskID:          string(r.TaskID),
		SourceUsername:  firstString(r.SourceUsername, r.FromUser),
		TargetRole:      role,
		TargetUsernames: targets,
		Timestamp:       r.Timestamp.value,
		ReadBy:          readBy,
	}, nil
}

// Completion normalizes a single raw evaluation completion record.
func Completion(raw json.RawMessage) (models.CompletionRecord, error) {
	var r rawCompletion
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.CompletionRecord{}, &appErrors.MalformedRecordError{Collection: string(models.CollectionCompletions), Index: -1, Err: err}
	}
	student := firstString(r.StudentUsername, r.Student)
	switch {
	case r.TaskID == "":
		return models.CompletionRecord{}, missing(models.CollectionCompletions, "taskId")
	case student == "":
		return models.CompletionRecord{}, missing(models.CollectionCompletions, "studentUsername")
	}
	return models.CompletionRecord{
		TaskID:          string(r.TaskID),
		StudentUsername: student,
		CompletedAt:     timePtr(r.CompletedAt.value),
		Score:           r.Score.value,
		Percentage:      r.Percentage.value,
	}, nil
}

// User normalizes a single raw user record.
func User(raw json.RawMessage) (models.User, error) {
	var r rawUser
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.User{}, &appErrors.MalformedRecordError{Collection: string(models.CollectionUsers), Index: -1, Err: err}
	}
	if r.Username == "" {
		return models.User{}, missing(models.CollectionUsers, "username")
	}
	role := models.UserRole(strings.ToLower(string(r.Role)))
	if legacy, ok := legacyRoles[string(role)]; ok {
		role = legacy
	}
	if !role.Valid() {
		role = models.RoleStudent
	}
	courses := uniqueStrings(append(append([]string{}, r.Courses...), r.Course...))
	var teaching []models.TeachingAssignment
	for _, t := range r.Teaching {
		if t.Course == "" {
			continue
		}
		teaching = append(teaching, models.TeachingAssignment{Course: string(t.Course), Subject: string(t.Subject)})
	}
	if role == models.RoleTeacher && len(teaching) == 0 {
		for _, course := range courses {
			if len(r.Subjects) == 0 {
				teaching = append(teaching, models.TeachingAssignment{Course: course})
				continue
			}
			for _, subject := range r.Subjects {
				teaching = append(teaching, models.TeachingAssignment{Course: course, Subject: subject})
			}
		}
	}
	return models.User{
		Username: string(r.Username),
		Role:     role,
		Courses:  courses,
		Teaching: teaching,
	}, nil
}

// Tasks normalizes a whole tasks collection.
func Tasks(data []byte) ([]models.Task, []error, error) {
	return collection(models.CollectionTasks, data, Task)
}

// Comments normalizes a whole comments collection.
func Comments(data []byte) ([]models.Comment, []error, error) {
	return collection(models.CollectionComments, data, Comment)
}

// Notifications normalizes a whole notifications collection.
func Notifications(data []byte) ([]models.Notification, []error, error) {
	return collection(models.CollectionNotifications, data, Notification)
}

// Completions normalizes a whole completion records collection.
func Completions(data []byte) ([]models.CompletionRecord, []error, error) {
	return collection(models.CollectionCompletions, data, Completion)
}

// Users normalizes a whole users collection.
func Users(data []byte) ([]models.User, []error, error) {
	return collection(models.CollectionUsers, data, User)
}

// Record normalizes one record of the named collection, returning the typed value.
func Record(c models.Collection, raw json.RawMessage) (interface{}, error) {
	switch c {
	case models.CollectionTasks:
		return Task(raw)
	case models.CollectionComments:
		return Comment(raw)
	case models.CollectionNotifications:
		return Notification(raw)
	case models.CollectionCompletions:
		return Completion(raw)
	case models.CollectionUsers:
		return User(raw)
	default:
		return nil, fmt.Errorf("unknown collection %q", c)
	}
}

// collection splits the stored value into records and normalizes each one.
// Per-record failures are returned alongside the good records; only a value
// that cannot be read as a collection at all is a hard error.
func collection[T any](c models.Collection, data []byte, one func(json.RawMessage) (T, error)) ([]T, []error, error) {
	items, err := splitCollection(data)
	if err != nil {
		return nil, nil, fmt.Errorf("decode %s collection: %w", c, err)
	}
	records := make([]T, 0, len(items))
	var skipped []error
	for i, item := range items {
		record, err := one(item)
		if err != nil {
			skipped = append(skipped, withIndex(err, i))
			continue
		}
		records = append(records, record)
	}
	return records, skipped, nil
}

// splitCollection accepts an array, null/empty, or a legacy object keyed by id.
func splitCollection(data []byte) ([]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, null) {
		return nil, nil
	}
	if data[0] == '{' {
		var keyed map[string]json.RawMessage
		if err := json.Unmarshal(data, &keyed); err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(keyed))
		for k := range keyed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]json.RawMessage, 0, len(keys))
		for _, k := range keys {
			items = append(items, keyed[k])
		}
		return items, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func readSet(values flexStrings) models.ReadSet {
	if len(values) == 0 {
		return models.ReadSet{}
	}
	return models.ReadSet(values)
}

func defaultTargetRole(t models.NotificationType) models.UserRole {
	switch t {
	case models.NotificationTaskSubmission, models.NotificationPendingGrading, models.NotificationTaskCompleted:
		return models.RoleTeacher
	default:
		return models.RoleStudent
	}
}

func missing(c models.Collection, field string) error {
	return &appErrors.MalformedRecordError{Collection: string(c), Index: -1, Field: field}
}

func withIndex(err error, index int) error {
	if malformed, ok := err.(*appErrors.MalformedRecordError); ok {
		copied := *malformed
		copied.Index = index
		return &copied
	}
	return err
}
