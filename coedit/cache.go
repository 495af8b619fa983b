package coedit

import (
	"golang.org/x/exp/maps"
)

// DocumentCache is the authoritative-for-this-client view of the
// document list. It is owned by the engine, which serializes all
// access; the cache itself does no locking.
//
// Patches and comment mirror updates never create entries. A patch for
// an unknown id means the owning document was deleted or not yet
// loaded, and is dropped.
type DocumentCache struct {
	documents map[string]*Document
	// server list order, replaced wholesale on reload
	order []string
}

func NewDocumentCache() *DocumentCache {
	return &DocumentCache{
		documents: map[string]*Document{},
	}
}

// ReplaceAll swaps in the full server list. Anything not in the new
// list is gone.
func (self *DocumentCache) ReplaceAll(documents []*Document) {
	self.documents = map[string]*Document{}
	self.order = make([]string, 0, len(documents))
	for _, document := range documents {
		if _, ok := self.documents[document.Id]; ok {
			continue
		}
		self.documents[document.Id] = document.Clone()
		self.order = append(self.order, document.Id)
	}
}

func (self *DocumentCache) Clear() {
	self.documents = map[string]*Document{}
	self.order = nil
}

func (self *DocumentCache) Len() int {
	return len(self.documents)
}

func (self *DocumentCache) Has(documentId string) bool {
	_, ok := self.documents[documentId]
	return ok
}

// Get returns a copy. Callers never mutate cache entries directly.
func (self *DocumentCache) Get(documentId string) (*Document, bool) {
	document, ok := self.documents[documentId]
	if !ok {
		return nil, false
	}
	return document.Clone(), true
}

// Documents returns copies in server list order.
func (self *DocumentCache) Documents() []*Document {
	out := make([]*Document, 0, len(self.order))
	for _, documentId := range self.order {
		if document, ok := self.documents[documentId]; ok {
			out = append(out, document.Clone())
		}
	}
	return out
}

// DocumentIds returns the cached ids in no particular order.
func (self *DocumentCache) DocumentIds() []string {
	return maps.Keys(self.documents)
}

// ApplyFieldPatch merges only the present fields into the matching
// document. Absent fields are left untouched. Unknown ids are a no-op.
func (self *DocumentCache) ApplyFieldPatch(patch FieldPatch) bool {
	document, ok := self.documents[patch.DocumentId]
	if !ok {
		return false
	}
	if patch.Title != nil {
		document.Title = *patch.Title
	}
	if patch.Description != nil {
		document.Description = *patch.Description
	}
	return true
}

// UpsertComment maintains the embedded per-document comment mirror.
// Adding an already-present comment id is a no-op.
func (self *DocumentCache) UpsertComment(comment *Comment) bool {
	document, ok := self.documents[comment.DocumentId]
	if !ok {
		return false
	}
	for _, existing := range document.Comments {
		if existing.Id == comment.Id {
			return false
		}
	}
	c := *comment
	document.Comments = append(document.Comments, &c)
	return true
}

// RemoveComment removes the comment id from whichever document mirrors
// it. Removing an absent id is a no-op.
func (self *DocumentCache) RemoveComment(commentId string) bool {
	for _, document := range self.documents {
		for i, comment := range document.Comments {
			if comment.Id == commentId {
				document.Comments = append(document.Comments[:i], document.Comments[i+1:]...)
				return true
			}
		}
	}
	return false
}
