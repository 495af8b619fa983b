package coedit

import (
	"slices"
	"strings"
	"time"
)

// Document is the server snapshot of one shared document.
// The id is issued by the persistence service and is opaque to the client.
type Document struct {
	Id          string     `json:"_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Comments    []*Comment `json:"comments,omitempty"`
}

func (self *Document) Clone() *Document {
	out := &Document{
		Id:          self.Id,
		Title:       self.Title,
		Description: self.Description,
	}
	if self.Comments != nil {
		out.Comments = make([]*Comment, len(self.Comments))
		for i, comment := range self.Comments {
			c := *comment
			out.Comments[i] = &c
		}
	}
	return out
}

// Comment is a line-anchored annotation on a document description.
// Line is a 1-based anchor and need not be unique per document.
type Comment struct {
	Id          string    `json:"_id"`
	DocumentId  string    `json:"documentId"`
	Line        int       `json:"line"`
	Text        string    `json:"text"`
	AuthorEmail string    `json:"authorEmail,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// SortComments orders comments by (line ascending, createdAt ascending).
// This is the only sanctioned comment order anywhere in the system.
// The input is not modified.
func SortComments(comments []*Comment) []*Comment {
	out := slices.Clone(comments)
	slices.SortStableFunc(out, func(a *Comment, b *Comment) int {
		if a.Line != b.Line {
			return a.Line - b.Line
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		if b.CreatedAt.Before(a.CreatedAt) {
			return 1
		}
		return 0
	})
	return out
}

// CountLines interprets a description as a sequence of text lines.
// An empty description has no lines, so no anchor into it is valid.
func CountLines(description string) int {
	if description == "" {
		return 0
	}
	return strings.Count(description, "\n") + 1
}
