package coedit

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestDecodeFieldPatch(t *testing.T) {
	event, err := DecodeEvent([]byte(`{"event":"doc","data":{"_id":"d1","title":"New"}}`))
	assert.Equal(t, err, nil)

	patch, ok := event.(FieldPatch)
	assert.Equal(t, true, ok)
	assert.Equal(t, "d1", patch.DocumentId)
	assert.Equal(t, "New", *patch.Title)
	// absent means untouched, even though empty string is a valid value
	assert.Equal(t, patch.Description, nil)

	event, err = DecodeEvent([]byte(`{"event":"doc","data":{"_id":"d1","description":""}}`))
	assert.Equal(t, err, nil)
	patch = event.(FieldPatch)
	assert.Equal(t, patch.Title, nil)
	assert.Equal(t, "", *patch.Description)
}

func TestDecodeFieldPatchRejectsMissingId(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"event":"doc","data":{"title":"New"}}`))
	assert.NotEqual(t, err, nil)
}

func TestDecodeFullReload(t *testing.T) {
	event, err := DecodeEvent([]byte(`{"event":"update"}`))
	assert.Equal(t, err, nil)
	_, ok := event.(FullReload)
	assert.Equal(t, true, ok)
}

func TestDecodeCommentNew(t *testing.T) {
	// the server mirrors comment:create as comment:new with the bare comment
	event, err := DecodeEvent([]byte(`{"event":"comment:new","data":{"_id":"c1","documentId":"d1","line":2,"text":"hi"}}`))
	assert.Equal(t, err, nil)

	created, ok := event.(CommentCreated)
	assert.Equal(t, true, ok)
	assert.Equal(t, "c1", created.Comment.Id)
	assert.Equal(t, "d1", created.Comment.DocumentId)
	assert.Equal(t, 2, created.Comment.Line)

	// the outbound shape wraps the comment with the room id
	event, err = DecodeEvent([]byte(`{"event":"comment:create","data":{"roomId":"d1","comment":{"_id":"c2","documentId":"d1","line":1,"text":"yo"}}}`))
	assert.Equal(t, err, nil)
	created = event.(CommentCreated)
	assert.Equal(t, "c2", created.Comment.Id)
}

func TestDecodeCommentRemoved(t *testing.T) {
	// comment:removed delivers the bare comment id
	event, err := DecodeEvent([]byte(`{"event":"comment:removed","data":"c1"}`))
	assert.Equal(t, err, nil)

	deleted, ok := event.(CommentDeleted)
	assert.Equal(t, true, ok)
	assert.Equal(t, "c1", deleted.CommentId)

	event, err = DecodeEvent([]byte(`{"event":"comment:delete","data":{"roomId":"d1","commentId":"c2"}}`))
	assert.Equal(t, err, nil)
	deleted = event.(CommentDeleted)
	assert.Equal(t, "c2", deleted.CommentId)
}

func TestDecodeRejectsUnknownEvent(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"event":"presence","data":{}}`))
	assert.NotEqual(t, err, nil)

	_, err = DecodeEvent([]byte(`not json`))
	assert.NotEqual(t, err, nil)

	// comment events without ids never reach the handlers
	_, err = DecodeEvent([]byte(`{"event":"comment:new","data":{"text":"hi"}}`))
	assert.NotEqual(t, err, nil)

	_, err = DecodeEvent([]byte(`{"event":"comment:removed","data":""}`))
	assert.NotEqual(t, err, nil)
}

func TestEncodeEventRoundTrip(t *testing.T) {
	patch := FieldPatch{
		DocumentId: "d1",
		Title:      stringPtr("New"),
	}
	frame, err := EncodeEvent(patch)
	assert.Equal(t, err, nil)

	decoded, err := DecodeEvent(frame)
	assert.Equal(t, err, nil)
	assert.Equal(t, patch, decoded.(FieldPatch))

	frame, err = EncodeEvent(FullReload{})
	assert.Equal(t, err, nil)
	decoded, err = DecodeEvent(frame)
	assert.Equal(t, err, nil)
	_, ok := decoded.(FullReload)
	assert.Equal(t, true, ok)
}

func TestEncodeJoin(t *testing.T) {
	frame, err := EncodeJoin("d1")
	assert.Equal(t, err, nil)

	var e struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	err = json.Unmarshal(frame, &e)
	assert.Equal(t, err, nil)
	assert.Equal(t, "create", e.Event)

	var documentId string
	err = json.Unmarshal(e.Data, &documentId)
	assert.Equal(t, err, nil)
	assert.Equal(t, "d1", documentId)
}
