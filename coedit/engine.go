package coedit

import (
	"errors"
	"strings"
	"sync"

	"github.com/golang/glog"
)

var ErrLoggedOut = errors.New("not logged in")
var ErrLoginRejected = errors.New("login rejected")
var ErrNoEditSession = errors.New("no open edit session")
var ErrUnknownDocument = errors.New("unknown document")
var ErrAnchorOutOfRange = errors.New("anchor past end of description")

// ChannelSender is the outbound half of the event channel. Sends are
// best effort; a false return means the event was dropped and peers
// will catch up on their next reload.
type ChannelSender interface {
	Send(event Event) bool
	Join(documentId string) bool
	Leave()
}

type EngineSettings struct {
	AnchorMode AnchorMode
}

func DefaultEngineSettings() *EngineSettings {
	return &EngineSettings{
		AnchorMode: AnchorModeSequential,
	}
}

// Engine owns the document cache, the active edit session, and the
// comment state, and applies every mutation to them: user actions,
// persistence responses, and inbound channel events. The single mutex
// makes each handler atomic with respect to the others, which stands
// in for the single-threaded dispatch of a browser client.
//
// Persistence calls run outside the lock. Their completions re-check
// the edit session epoch before applying, so a late response cannot
// resurrect a closed session.
type Engine struct {
	api      *Api
	channel  ChannelSender
	sessions *SessionStore

	settings *EngineSettings

	mutex    sync.Mutex
	cache    *DocumentCache
	edit     *EditSession
	comments *CommentSet

	monitor *Monitor
}

func NewEngineWithDefaults(api *Api, channel ChannelSender, sessions *SessionStore) *Engine {
	return NewEngine(api, channel, sessions, DefaultEngineSettings())
}

func NewEngine(api *Api, channel ChannelSender, sessions *SessionStore, settings *EngineSettings) *Engine {
	engine := &Engine{
		api:      api,
		channel:  channel,
		sessions: sessions,
		settings: settings,
		cache:    NewDocumentCache(),
		edit:     NewEditSession(),
		comments: NewCommentSet(settings.AnchorMode),
		monitor:  NewMonitor(),
	}
	// restore a persisted credential
	if session, ok := sessions.Current(); ok {
		api.SetToken(session.Token)
	}
	return engine
}

// Monitor notifies after every state change. Watchers re-read through
// the accessors.
func (self *Engine) Monitor() *Monitor {
	return self.monitor
}

func (self *Engine) CurrentSession() (*Session, bool) {
	return self.sessions.Current()
}

// auth

func (self *Engine) Register(email string, password string) error {
	_, err := self.api.AuthRegisterSync(&AuthRegisterArgs{
		Email:    email,
		Password: password,
	})
	return err
}

func (self *Engine) Login(email string, password string) error {
	result, err := self.api.AuthLoginSync(&AuthLoginArgs{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return err
	}
	if result.Token == "" {
		return ErrLoginRejected
	}

	self.sessions.SetCredential(result.Token, email)
	self.api.SetToken(result.Token)
	self.monitor.NotifyAll()

	return self.Reload()
}

func (self *Engine) Logout() {
	self.mutex.Lock()
	self.sessions.Clear()
	self.api.SetToken("")
	self.cache.Clear()
	self.closeEdit()
	self.mutex.Unlock()

	self.monitor.NotifyAll()
}

// invalidate maps 401/403 to "session invalid": everything is cleared
// and the error is returned to surface near the triggering action.
// Other request errors leave local optimistic state as-is.
func (self *Engine) invalidate(err error) error {
	if !IsAuthError(err) {
		return err
	}

	glog.Infof("[eng]session invalid = %s\n", err)

	self.mutex.Lock()
	self.sessions.Clear()
	self.api.SetToken("")
	self.cache.Clear()
	self.closeEdit()
	self.mutex.Unlock()

	self.monitor.NotifyAll()
	return err
}

// documents

// Reload fetches the full document list and replaces the cache
// wholesale. Coarse "update" broadcasts land here, because the engine
// does not attempt to diff them. Idempotent, so event order does not
// matter.
func (self *Engine) Reload() error {
	if _, ok := self.sessions.Current(); !ok {
		return ErrLoggedOut
	}

	documents, err := self.api.GetItemsSync()
	if err != nil {
		return self.invalidate(err)
	}

	self.mutex.Lock()
	self.cache.ReplaceAll(documents)
	// the open document may have been deleted elsewhere. Unsaved
	// edits are lost here, which is accepted and documented, not
	// hidden as a success.
	if self.edit.IsOpen() && !self.cache.Has(self.edit.DocumentId()) {
		engineLog("force close %s, document deleted", self.edit.DocumentId())
		self.closeEdit()
	}
	self.mutex.Unlock()

	self.monitor.NotifyAll()
	return nil
}

func (self *Engine) Documents() []*Document {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.cache.Documents()
}

func (self *Engine) Document(documentId string) (*Document, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.cache.Get(documentId)
}

func (self *Engine) CreateDocument(title string, description string) (*Document, error) {
	if _, ok := self.sessions.Current(); !ok {
		return nil, ErrLoggedOut
	}

	document, err := self.api.CreateItemSync(&CreateItemArgs{
		Title:       title,
		Description: description,
	})
	if err != nil {
		return nil, self.invalidate(err)
	}

	if err := self.Reload(); err != nil {
		return document, err
	}
	self.channel.Send(FullReload{})
	return document, nil
}

func (self *Engine) DeleteDocument(documentId string) error {
	if _, ok := self.sessions.Current(); !ok {
		return ErrLoggedOut
	}

	if _, err := self.api.DeleteItemSync(documentId); err != nil {
		return self.invalidate(err)
	}

	// a reload drops the document from the cache and force-closes
	// the edit session if it was open on it
	if err := self.Reload(); err != nil {
		return err
	}
	self.channel.Send(FullReload{})
	return nil
}

// active edit session

// Open transitions Closed -> Open, seeded from the cached snapshot,
// announces presence on the channel, and loads the document's flat
// comment list. A failed comment fetch leaves the list empty without
// closing the session.
func (self *Engine) Open(documentId string) error {
	if _, ok := self.sessions.Current(); !ok {
		return ErrLoggedOut
	}

	self.mutex.Lock()
	document, ok := self.cache.Get(documentId)
	if !ok {
		self.mutex.Unlock()
		return ErrUnknownDocument
	}
	self.edit.Open(document)
	self.comments.Clear()
	epoch := self.edit.Epoch()
	self.mutex.Unlock()

	self.channel.Join(documentId)
	self.monitor.NotifyAll()

	comments, err := self.api.GetCommentsSync(documentId)
	if err != nil {
		if IsAuthError(err) {
			return self.invalidate(err)
		}
		engineLog("comment load %s error = %s", documentId, err)
		return nil
	}

	self.mutex.Lock()
	if self.edit.IsOpen() && self.edit.Epoch() == epoch {
		self.comments.Replace(comments)
	}
	self.mutex.Unlock()

	self.monitor.NotifyAll()
	return nil
}

func (self *Engine) OpenDocumentId() (string, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if !self.edit.IsOpen() {
		return "", false
	}
	return self.edit.DocumentId(), true
}

func (self *Engine) WorkingTitle() string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.edit.WorkingTitle()
}

func (self *Engine) WorkingDescription() string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.edit.WorkingDescription()
}

// EditTitle applies the local edit optimistically and broadcasts the
// field patch. No acknowledgement is awaited and no retry occurs.
func (self *Engine) EditTitle(title string) error {
	self.mutex.Lock()
	patch := self.edit.EditTitle(title)
	self.mutex.Unlock()

	if patch == nil {
		return ErrNoEditSession
	}
	self.channel.Send(*patch)
	self.monitor.NotifyAll()
	return nil
}

func (self *Engine) EditDescription(description string) error {
	self.mutex.Lock()
	patch := self.edit.EditDescription(description)
	if patch != nil {
		self.comments.InvalidateAnchor(description)
	}
	self.mutex.Unlock()

	if patch == nil {
		return ErrNoEditSession
	}
	self.channel.Send(*patch)
	self.monitor.NotifyAll()
	return nil
}

// Save persists the working fields and closes the session. On failure
// the session stays open with the in-progress edits preserved.
func (self *Engine) Save() error {
	self.mutex.Lock()
	if !self.edit.IsOpen() {
		self.mutex.Unlock()
		return ErrNoEditSession
	}
	documentId := self.edit.DocumentId()
	epoch := self.edit.Epoch()
	title := self.edit.WorkingTitle()
	description := self.edit.WorkingDescription()
	self.mutex.Unlock()

	_, err := self.api.UpdateItemSync(documentId, &UpdateItemArgs{
		Title:       &title,
		Description: &description,
	})
	if err != nil {
		return self.invalidate(err)
	}

	self.mutex.Lock()
	if !self.edit.IsOpen() || self.edit.Epoch() != epoch {
		// the session closed while the save was in flight. The write
		// persisted, but there is nothing left to clean up locally.
		self.mutex.Unlock()
		return nil
	}
	self.closeEdit()
	self.mutex.Unlock()

	return self.Reload()
}

// Cancel closes the session without persisting and reloads, so the
// optimistic echoes already broadcast to others are reconciled against
// the last-saved server truth for this client's own view.
func (self *Engine) Cancel() error {
	self.mutex.Lock()
	if !self.edit.IsOpen() {
		self.mutex.Unlock()
		return ErrNoEditSession
	}
	self.closeEdit()
	self.mutex.Unlock()

	return self.Reload()
}

// caller must hold the mutex
func (self *Engine) closeEdit() {
	self.edit.Close()
	self.comments.Clear()
	self.channel.Leave()
}

// comments

// CommentsFor returns the live flat list for the open document, and
// the embedded cache mirror for any other, both in the sanctioned
// (line, createdAt) order.
func (self *Engine) CommentsFor(documentId string) []*Comment {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.edit.IsOpen() && self.edit.DocumentId() == documentId {
		return self.comments.List()
	}
	document, ok := self.cache.Get(documentId)
	if !ok {
		return nil
	}
	return SortComments(document.Comments)
}

// BeginCommentDraft stages a pending comment. anchor 0 asks for the
// default. In line mode an anchor past the end of the working
// description is rejected.
func (self *Engine) BeginCommentDraft(anchor int) (int, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if !self.edit.IsOpen() {
		return 0, ErrNoEditSession
	}
	if self.comments.Mode() == AnchorModeLine && 0 < anchor {
		if CountLines(self.edit.WorkingDescription()) < anchor {
			return 0, ErrAnchorOutOfRange
		}
	}
	return self.comments.BeginDraft(anchor), nil
}

func (self *Engine) DraftAnchor() (int, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.comments.DraftAnchor()
}

func (self *Engine) SetCommentDraftText(text string) {
	self.mutex.Lock()
	self.comments.SetDraftText(text)
	self.mutex.Unlock()
}

// SubmitCommentDraft persists the staged comment, appends the result
// locally with the server-issued id, clears the draft, and broadcasts
// it. Peers de-duplicate by comment id. Empty text is an error and
// leaves the draft staged.
func (self *Engine) SubmitCommentDraft(text string) (*Comment, error) {
	self.mutex.Lock()
	if !self.edit.IsOpen() {
		self.mutex.Unlock()
		return nil, ErrNoEditSession
	}
	anchor, ok := self.comments.DraftAnchor()
	if !ok {
		self.mutex.Unlock()
		return nil, ErrNoDraftAnchor
	}
	text = strings.TrimSpace(text)
	if text == "" {
		self.mutex.Unlock()
		return nil, ErrEmptyComment
	}
	documentId := self.edit.DocumentId()
	epoch := self.edit.Epoch()
	self.mutex.Unlock()

	comment, err := self.api.CreateCommentSync(documentId, &CreateCommentArgs{
		Line: anchor,
		Text: text,
	})
	if err != nil {
		return nil, self.invalidate(err)
	}

	self.mutex.Lock()
	// the comment persisted either way; the mirror keeps it even if
	// the session closed while the call was in flight
	self.cache.UpsertComment(comment)
	if self.edit.IsOpen() && self.edit.Epoch() == epoch {
		self.comments.Upsert(comment)
		self.comments.ClearDraft()
	}
	self.mutex.Unlock()

	self.channel.Send(CommentCreated{
		RoomId:  documentId,
		Comment: comment,
	})
	self.monitor.NotifyAll()
	return comment, nil
}

func (self *Engine) DeleteComment(commentId string) error {
	self.mutex.Lock()
	if !self.edit.IsOpen() {
		self.mutex.Unlock()
		return ErrNoEditSession
	}
	documentId := self.edit.DocumentId()
	self.mutex.Unlock()

	if _, err := self.api.DeleteCommentSync(documentId, commentId); err != nil {
		return self.invalidate(err)
	}

	self.mutex.Lock()
	self.comments.Remove(commentId)
	self.cache.RemoveComment(commentId)
	self.mutex.Unlock()

	self.channel.Send(CommentDeleted{
		RoomId:    documentId,
		CommentId: commentId,
	})
	self.monitor.NotifyAll()
	return nil
}

// reconciliation loop

// HandleEvent applies one inbound channel event. Attach it to a
// Channel with AddReceiveCallback. Field patches merge into the cache
// and the open buffer, comment events maintain both comment views, and
// a full reload replaces the cache wholesale.
func (self *Engine) HandleEvent(event Event) {
	switch v := event.(type) {
	case FieldPatch:
		self.handleFieldPatch(v)
	case *FieldPatch:
		self.handleFieldPatch(*v)
	case FullReload, *FullReload:
		if err := self.Reload(); err != nil {
			engineLog("reload error = %s", err)
		}
	case CommentCreated:
		self.handleCommentCreated(v)
	case *CommentCreated:
		self.handleCommentCreated(*v)
	case CommentDeleted:
		self.handleCommentDeleted(v)
	case *CommentDeleted:
		self.handleCommentDeleted(*v)
	}
}

func (self *Engine) handleFieldPatch(patch FieldPatch) {
	self.mutex.Lock()
	applied := self.cache.ApplyFieldPatch(patch)
	if self.edit.ReceivePatch(patch) {
		applied = true
		if patch.Description != nil {
			// a remote edit can shrink the text under a staged anchor
			self.comments.InvalidateAnchor(self.edit.WorkingDescription())
		}
	}
	self.mutex.Unlock()

	if applied {
		engineLog("patch %s", patch.DocumentId)
		self.monitor.NotifyAll()
	}
}

func (self *Engine) handleCommentCreated(created CommentCreated) {
	self.mutex.Lock()
	applied := self.cache.UpsertComment(created.Comment)
	if self.edit.IsOpen() && self.edit.DocumentId() == created.Comment.DocumentId {
		if self.comments.Upsert(created.Comment) {
			applied = true
		}
	}
	self.mutex.Unlock()

	if applied {
		engineLog("comment new %s", created.Comment.Id)
		self.monitor.NotifyAll()
	}
}

func (self *Engine) handleCommentDeleted(deleted CommentDeleted) {
	self.mutex.Lock()
	applied := self.cache.RemoveComment(deleted.CommentId)
	if self.edit.IsOpen() {
		if self.comments.Remove(deleted.CommentId) {
			applied = true
		}
	}
	self.mutex.Unlock()

	if applied {
		engineLog("comment removed %s", deleted.CommentId)
		self.monitor.NotifyAll()
	}
}

var engineLog = LogFn(LogLevelDebug, "engine")
