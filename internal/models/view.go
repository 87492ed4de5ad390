package models

import "time"

// BadgeCounts summarises a user's derived view.
type BadgeCounts struct {
	UnreadComments      int `json:"unreadComments"`
	PendingTasks        int `json:"pendingTasks"`
	UnreadNotifications int `json:"unreadNotifications"`
	Total               int `json:"total"`
}

// DerivedView holds the three display buckets for one user.
type DerivedView struct {
	Username            string         `json:"username"`
	Role                UserRole       `json:"role"`
	UnreadComments      []Comment      `json:"unreadComments"`
	PendingTasks        []Task         `json:"pendingTasks"`
	UnreadNotifications []Notification `json:"unreadNotifications"`
	Counts              BadgeCounts    `json:"counts"`
	Flagged             int            `json:"flagged"`
	DerivedAt           time.Time      `json:"derivedAt"`
}
