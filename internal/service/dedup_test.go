package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-notify-engine/internal/models"
)

func TestDedupCommentsKeepsLastAndMergesReaders(t *testing.T) {
	at := fixedNow
	comments := []models.Comment{
		comment("c1", "T", "jose", "dup", at, "felipin"),
		comment("c2", "T", "jose", "other", at),
		comment("c3", "T", "jose", "dup", at, "maria"),
	}

	out := DedupComments(comments)
	assert.Equal(t, []string{"c2", "c3"}, commentIDs(out))
	assert.ElementsMatch(t, []string{"maria", "felipin"}, out[1].ReadBy)
	assert.Equal(t, models.ReadSet{"felipin"}, comments[0].ReadBy, "input must not be modified")
}

func TestDedupDistinguishesTimestamps(t *testing.T) {
	comments := []models.Comment{
		comment("c1", "T", "jose", "same", fixedNow),
		comment("c2", "T", "jose", "same", fixedNow.Add(time.Second)),
	}
	assert.Len(t, DedupComments(comments), 2)
}

func TestDedupIsIdempotent(t *testing.T) {
	comments := []models.Comment{
		comment("c1", "T", "jose", "a", fixedNow, "x"),
		comment("c2", "T", "jose", "a", fixedNow, "y"),
		comment("c3", "T", "maria", "a", fixedNow),
		comment("c4", "T", "jose", "a", fixedNow),
	}
	once := DedupComments(comments)
	assert.Equal(t, once, DedupComments(once))

	n1 := notification("n1", "T", models.NotificationNewTask, "felipin", models.RoleStudent, "jose")
	n2 := n1
	n2.ID = "n2"
	n2.ReadBy = models.ReadSet{"jose"}
	n3 := notification("n3", "T", models.NotificationTeacherComment, "felipin", models.RoleStudent, "jose")

	notifications := DedupNotifications([]models.Notification{n1, n2, n3})
	assert.Equal(t, []string{"n2", "n3"}, notificationIDs(notifications))
	assert.Equal(t, notifications, DedupNotifications(notifications))
}

func TestDedupNotificationsKeepsDistinctRecipients(t *testing.T) {
	toJose := notification("nA", "T", models.NotificationGradeReceived, "felipin", models.RoleStudent, "jose")
	toMaria := notification("nB", "T", models.NotificationGradeReceived, "felipin", models.RoleStudent, "maria")
	reordered := notification("nC", "T", models.NotificationNewTask, "felipin", models.RoleStudent, "jose", "maria")
	same := notification("nD", "T", models.NotificationNewTask, "felipin", models.RoleStudent, "maria", "jose")

	out := DedupNotifications([]models.Notification{toJose, toMaria, reordered, same})
	assert.Equal(t, []string{"nA", "nB", "nD"}, notificationIDs(out))
}

func TestDedupEmpty(t *testing.T) {
	assert.Empty(t, DedupComments(nil))
	assert.Empty(t, DedupNotifications([]models.Notification{}))
}
