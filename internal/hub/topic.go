// Package hub defines the topic naming scheme shared by journals, personal
// user channels, and game rooms.
package hub

import "strings"

// TopicKind identifies which family of channel a Topic belongs to.
type TopicKind string

const (
	// KindJournal is a shared journal thread.
	KindJournal TopicKind = "journal"
	// KindUser is the personal notification channel of a single user.
	KindUser TopicKind = "user"
	// KindGame is the room of a couple's game session.
	KindGame TopicKind = "game"
)

// Topic is a logical channel name of the form "<kind>:<key>".
type Topic string

// JournalTopic returns the topic of a journal thread.
func JournalTopic(journalID string) Topic {
	return Topic(string(KindJournal) + ":" + journalID)
}

// UserTopic returns the personal channel of a user.
func UserTopic(userID string) Topic {
	return Topic(string(KindUser) + ":" + userID)
}

// GameTopic returns the game room of a couple.
func GameTopic(coupleID string) Topic {
	return Topic(string(KindGame) + ":" + coupleID)
}

// Kind returns the family of the topic.
func (t Topic) Kind() TopicKind {
	kind, _, _ := strings.Cut(string(t), ":")
	return TopicKind(kind)
}

// Key returns the identifier part of the topic (journal, user or couple id).
func (t Topic) Key() string {
	_, key, _ := strings.Cut(string(t), ":")
	return key
}

func (t Topic) String() string {
	return string(t)
}
