package service

import (
	"sort"
	"strings"
	"time"

	"github.com/noah-isme/sma-notify-engine/internal/models"
)

// DedupComments collapses comments sharing task, author, body and timestamp.
// The copy written last wins, and read markers of the collapsed copies are
// carried over so a user never sees a record become unread again.
func DedupComments(comments []models.Comment) []models.Comment {
	return dedup(comments, commentKey, func(keep, drop models.Comment) models.Comment {
		keep.ReadBy = keep.ReadBy.Union(drop.ReadBy)
		return keep
	})
}

// DedupNotifications collapses notifications sharing task, source, type,
// audience and timestamp. Copies addressed to different recipients are kept.
func DedupNotifications(notifications []models.Notification) []models.Notification {
	return dedup(notifications, notificationKey, func(keep, drop models.Notification) models.Notification {
		keep.ReadBy = keep.ReadBy.Union(drop.ReadBy)
		return keep
	})
}

func commentKey(c models.Comment) string {
	return c.TaskID + "\x00" + c.AuthorUsername + "\x00" + c.Body + "\x00" + stamp(c.Timestamp)
}

func notificationKey(n models.Notification) string {
	return n.TaskID + "\x00" + n.SourceUsername + "\x00" + string(n.Type) + "\x00" + stamp(n.Timestamp) +
		"\x00" + string(n.TargetRole) + "\x00" + audience(n.TargetUsernames)
}

// audience is the order-independent form of a target list.
func audience(targets []string) string {
	if len(targets) == 0 {
		return ""
	}
	sorted := append([]string(nil), targets...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func completionRecordKey(r models.CompletionRecord) string {
	return r.TaskID + "\x00" + r.StudentUsername
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// lastIndexByKey maps each key to the position of its most recently written copy.
func lastIndexByKey[T any](items []T, key func(T) string) map[string]int {
	last := make(map[string]int, len(items))
	for i, item := range items {
		last[key(item)] = i
	}
	return last
}

func dedup[T any](items []T, key func(T) string, merge func(keep, drop T) T) []T {
	last := lastIndexByKey(items, key)
	if len(last) == len(items) {
		return items
	}
	merged := make(map[string]T, len(last))
	for k, i := range last {
		merged[k] = items[i]
	}
	for i, item := range items {
		k := key(item)
		if last[k] != i {
			merged[k] = merge(merged[k], item)
		}
	}
	result := make([]T, 0, len(last))
	for i, item := range items {
		k := key(item)
		if last[k] == i {
			result = append(result, merged[k])
		}
	}
	return result
}
