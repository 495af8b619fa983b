package coedit

import (
	"errors"
)

// AnchorMode selects how draft anchors are chosen and invalidated.
type AnchorMode int

const (
	// AnchorModeSequential defaults the draft anchor to the next
	// sequential comment number and clamps it against the comment
	// count after deletions.
	AnchorModeSequential AnchorMode = iota
	// AnchorModeLine anchors into the working description's text
	// lines. The anchor is cleared whenever the description shrinks
	// below it.
	AnchorModeLine
)

var ErrEmptyComment = errors.New("comment text is empty")
var ErrNoDraftAnchor = errors.New("no draft anchor staged")

// CommentSet is the flat comment list and draft state for the one open
// document. Comments for non-open documents are read-only and come
// from the cache mirror instead. The engine serializes all access.
type CommentSet struct {
	mode AnchorMode

	comments []*Comment

	draftAnchor int // 0 means no anchor staged
	draftText   string
}

func NewCommentSet(mode AnchorMode) *CommentSet {
	return &CommentSet{
		mode: mode,
	}
}

func (self *CommentSet) Mode() AnchorMode {
	return self.mode
}

// List returns the comments in (line asc, createdAt asc) order.
func (self *CommentSet) List() []*Comment {
	return SortComments(self.comments)
}

func (self *CommentSet) Len() int {
	return len(self.comments)
}

// Replace swaps in a freshly fetched list, keeping draft state.
func (self *CommentSet) Replace(comments []*Comment) {
	self.comments = make([]*Comment, 0, len(comments))
	for _, comment := range comments {
		c := *comment
		self.comments = append(self.comments, &c)
	}
}

// Upsert dedupes by comment id, per the channel's no-guarantee
// delivery. Returns false when the id is already present.
func (self *CommentSet) Upsert(comment *Comment) bool {
	for _, existing := range self.comments {
		if existing.Id == comment.Id {
			return false
		}
	}
	c := *comment
	self.comments = append(self.comments, &c)
	return true
}

// Remove drops the comment and then repairs the draft anchor: an empty
// list clears the draft entirely, and a sequential anchor past the new
// count clamps down to it. An anchor must never point past the end of
// a shrunken sequence.
func (self *CommentSet) Remove(commentId string) bool {
	removed := false
	for i, comment := range self.comments {
		if comment.Id == commentId {
			self.comments = append(self.comments[:i], self.comments[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		return false
	}

	if len(self.comments) == 0 {
		self.ClearDraft()
	} else if self.mode == AnchorModeSequential && len(self.comments) < self.draftAnchor {
		self.draftAnchor = len(self.comments)
	}
	return true
}

// BeginDraft stages a pending comment at anchor. anchor 0 asks for the
// default, which in sequential mode is the next comment number.
func (self *CommentSet) BeginDraft(anchor int) int {
	if anchor <= 0 {
		anchor = len(self.comments) + 1
	}
	self.draftAnchor = anchor
	return anchor
}

func (self *CommentSet) DraftAnchor() (int, bool) {
	if self.draftAnchor == 0 {
		return 0, false
	}
	return self.draftAnchor, true
}

func (self *CommentSet) SetDraftText(text string) {
	self.draftText = text
}

func (self *CommentSet) DraftText() string {
	return self.draftText
}

func (self *CommentSet) ClearDraft() {
	self.draftAnchor = 0
	self.draftText = ""
}

func (self *CommentSet) Clear() {
	self.comments = nil
	self.ClearDraft()
}

// InvalidateAnchor clears a line-mode anchor that points past the end
// of the description. Stored comments are untouched; only the draft
// selection is invalidated, never renumbered.
func (self *CommentSet) InvalidateAnchor(description string) bool {
	if self.mode != AnchorModeLine {
		return false
	}
	if self.draftAnchor == 0 {
		return false
	}
	if CountLines(description) < self.draftAnchor {
		self.draftAnchor = 0
		return true
	}
	return false
}
