package models

// Collection names a persisted collection.
type Collection string

const (
	CollectionTasks         Collection = "tasks"
	CollectionComments      Collection = "comments"
	CollectionNotifications Collection = "notifications"
	CollectionUsers         Collection = "users"
	CollectionCompletions   Collection = "completionRecords"
	CollectionSessions      Collection = "session"
)

// Collections lists the shared collections in dependency order.
var Collections = []Collection{
	CollectionTasks,
	CollectionComments,
	CollectionNotifications,
	CollectionUsers,
	CollectionCompletions,
}

// Snapshot is one read of every shared collection.
type Snapshot struct {
	Tasks         []Task
	Comments      []Comment
	Notifications []Notification
	Users         []User
	Completions   []CompletionRecord
}

// TaskByID indexes tasks by id.
func (s *Snapshot) TaskByID() map[string]*Task {
	index := make(map[string]*Task, len(s.Tasks))
	for i := range s.Tasks {
		index[s.Tasks[i].ID] = &s.Tasks[i]
	}
	return index
}

// UserByName indexes users by username.
func (s *Snapshot) UserByName() map[string]*User {
	index := make(map[string]*User, len(s.Users))
	for i := range s.Users {
		index[s.Users[i].Username] = &s.Users[i]
	}
	return index
}

// ChangeSignal says a collection changed. It carries nothing consumers should
// trust beyond the collection name; they must re-read the store.
type ChangeSignal struct {
	Collection Collection `json:"collection"`
	Remote     bool       `json:"-"`
}
