package vault

import (
	"strings"
	"time"
)

// Source records where a vault entry came from.
type Source string

const (
	SourceManual    Source = "manual"
	SourceLesson    Source = "lesson"
	SourceFreestyle Source = "freestyle"
)

func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceLesson, SourceFreestyle:
		return true
	}
	return false
}

// Entry is one saved line in the Flow Vault.
type Entry struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Tags        []string  `json:"tags"`
	AddedFrom   Source    `json:"addedFrom"`
	LessonID    string    `json:"lessonId,omitempty"`
	DateCreated time.Time `json:"dateCreated"`
	IsFavorite  bool      `json:"isFavorite"`
}

// NewEntry is what callers hand to AddEntry; ID and DateCreated are assigned
// by the store.
type NewEntry struct {
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
	AddedFrom  Source   `json:"addedFrom"`
	LessonID   string   `json:"lessonId,omitempty"`
	IsFavorite bool     `json:"isFavorite"`
}

// HasTag reports whether any tag contains tag, ignoring case.
func (e Entry) HasTag(tag string) bool {
	tag = strings.ToLower(tag)
	for _, t := range e.Tags {
		if strings.Contains(strings.ToLower(t), tag) {
			return true
		}
	}
	return false
}
