package coedit

// EditSession is the at-most-one open edit buffer. Closed -> Open ->
// Closed. While open, the working fields diverge from the cached
// document until save or cancel. The divergence is the unit broadcast
// to other clients as the user types.
//
// The engine serializes all access and owns the surrounding side
// effects (broadcasts, persistence, comment state); this type only
// tracks the buffer itself.
type EditSession struct {
	open       bool
	documentId string

	workingTitle       string
	workingDescription string

	// epoch increments on every open and close. Completions of calls
	// issued against an older epoch are stale and must be discarded.
	epoch uint64
}

func NewEditSession() *EditSession {
	return &EditSession{}
}

func (self *EditSession) IsOpen() bool {
	return self.open
}

func (self *EditSession) DocumentId() string {
	return self.documentId
}

func (self *EditSession) WorkingTitle() string {
	return self.workingTitle
}

func (self *EditSession) WorkingDescription() string {
	return self.workingDescription
}

func (self *EditSession) Epoch() uint64 {
	return self.epoch
}

// Open seeds the working fields from the document snapshot.
func (self *EditSession) Open(document *Document) {
	self.open = true
	self.documentId = document.Id
	self.workingTitle = document.Title
	self.workingDescription = document.Description
	self.epoch += 1
}

func (self *EditSession) Close() {
	self.open = false
	self.documentId = ""
	self.workingTitle = ""
	self.workingDescription = ""
	self.epoch += 1
}

// EditTitle stages the local edit and returns the patch to broadcast.
func (self *EditSession) EditTitle(title string) *FieldPatch {
	if !self.open {
		return nil
	}
	self.workingTitle = title
	return &FieldPatch{
		DocumentId: self.documentId,
		Title:      &title,
	}
}

func (self *EditSession) EditDescription(description string) *FieldPatch {
	if !self.open {
		return nil
	}
	self.workingDescription = description
	return &FieldPatch{
		DocumentId:  self.documentId,
		Description: &description,
	}
}

// ReceivePatch merges a remote patch into the open buffer, so that a
// remote edit updates what this user is looking at without a close and
// reopen. Absent fields stay put.
func (self *EditSession) ReceivePatch(patch FieldPatch) bool {
	if !self.open || patch.DocumentId != self.documentId {
		return false
	}
	if patch.Title != nil {
		self.workingTitle = *patch.Title
	}
	if patch.Description != nil {
		self.workingDescription = *patch.Description
	}
	return true
}
