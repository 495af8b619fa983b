package coedit

import (
	"encoding/json"
	"fmt"
)

// Event channel wire format. Each frame is one JSON envelope
//   {"event": <name>, "data": <payload>}
// The inbound payload shapes are loose, so everything is validated here,
// at the channel boundary, before an event reaches the reconciliation
// handlers. Handlers only ever see one of the typed event kinds below.

const (
	eventNameHello          = "hello"
	eventNameJoin           = "create"
	eventNameDoc            = "doc"
	eventNameUpdate         = "update"
	eventNameCommentCreate  = "comment:create"
	eventNameCommentDelete  = "comment:delete"
	eventNameCommentNew     = "comment:new"
	eventNameCommentRemoved = "comment:removed"
)

type Event interface {
	isEvent()
}

// FieldPatch names only the fields that changed. A nil field was not
// touched by the originating client and must be left as-is.
type FieldPatch struct {
	DocumentId  string  `json:"_id"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (FieldPatch) isEvent() {}

// FullReload carries no payload. It means "something changed, reload",
// and compensates for the channel having no ordering guarantee.
type FullReload struct{}

func (FullReload) isEvent() {}

type CommentCreated struct {
	RoomId  string   `json:"roomId,omitempty"`
	Comment *Comment `json:"comment"`
}

func (CommentCreated) isEvent() {}

type CommentDeleted struct {
	RoomId    string `json:"roomId,omitempty"`
	CommentId string `json:"commentId"`
}

func (CommentDeleted) isEvent() {}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type helloData struct {
	InstanceId Id     `json:"instanceId"`
	Token      string `json:"token,omitempty"`
}

func encodeEnvelope(event string, data any) ([]byte, error) {
	e := envelope{
		Event: event,
	}
	if data != nil {
		dataBytes, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		e.Data = dataBytes
	}
	return json.Marshal(e)
}

func EncodeFieldPatch(patch *FieldPatch) ([]byte, error) {
	return encodeEnvelope(eventNameDoc, patch)
}

func EncodeFullReload() ([]byte, error) {
	return encodeEnvelope(eventNameUpdate, nil)
}

func EncodeJoin(documentId string) ([]byte, error) {
	return encodeEnvelope(eventNameJoin, documentId)
}

func EncodeHello(instanceId Id, token string) ([]byte, error) {
	return encodeEnvelope(eventNameHello, &helloData{
		InstanceId: instanceId,
		Token:      token,
	})
}

func EncodeCommentCreated(roomId string, comment *Comment) ([]byte, error) {
	return encodeEnvelope(eventNameCommentCreate, &CommentCreated{
		RoomId:  roomId,
		Comment: comment,
	})
}

func EncodeCommentDeleted(roomId string, commentId string) ([]byte, error) {
	return encodeEnvelope(eventNameCommentDelete, &CommentDeleted{
		RoomId:    roomId,
		CommentId: commentId,
	})
}

// EncodeEvent maps a typed event back to its outbound envelope.
func EncodeEvent(event Event) ([]byte, error) {
	switch v := event.(type) {
	case FieldPatch:
		return EncodeFieldPatch(&v)
	case *FieldPatch:
		return EncodeFieldPatch(v)
	case FullReload, *FullReload:
		return EncodeFullReload()
	case CommentCreated:
		return EncodeCommentCreated(v.RoomId, v.Comment)
	case *CommentCreated:
		return EncodeCommentCreated(v.RoomId, v.Comment)
	case CommentDeleted:
		return EncodeCommentDeleted(v.RoomId, v.CommentId)
	case *CommentDeleted:
		return EncodeCommentDeleted(v.RoomId, v.CommentId)
	default:
		return nil, fmt.Errorf("cannot encode event %T", event)
	}
}

// DecodeEvent validates one inbound frame and returns the typed event.
// The server mirrors comment:create/comment:delete back out as
// comment:new/comment:removed, so both spellings decode to the same kinds.
func DecodeEvent(frame []byte) (Event, error) {
	var e envelope
	if err := json.Unmarshal(frame, &e); err != nil {
		return nil, err
	}

	switch e.Event {
	case eventNameDoc:
		var patch FieldPatch
		if err := json.Unmarshal(e.Data, &patch); err != nil {
			return nil, err
		}
		if patch.DocumentId == "" {
			return nil, fmt.Errorf("doc event without _id")
		}
		return patch, nil
	case eventNameUpdate:
		return FullReload{}, nil
	case eventNameCommentNew, eventNameCommentCreate:
		var created CommentCreated
		if err := json.Unmarshal(e.Data, &created); err != nil {
			// comment:new delivers the bare comment object
			var comment Comment
			if err := json.Unmarshal(e.Data, &comment); err != nil {
				return nil, err
			}
			created = CommentCreated{Comment: &comment}
		}
		if created.Comment == nil {
			var comment Comment
			if err := json.Unmarshal(e.Data, &comment); err != nil {
				return nil, err
			}
			created.Comment = &comment
		}
		if created.Comment.Id == "" || created.Comment.DocumentId == "" {
			return nil, fmt.Errorf("comment event without ids")
		}
		return created, nil
	case eventNameCommentRemoved, eventNameCommentDelete:
		var deleted CommentDeleted
		if err := json.Unmarshal(e.Data, &deleted); err != nil {
			// comment:removed delivers the bare comment id
			var commentId string
			if err := json.Unmarshal(e.Data, &commentId); err != nil {
				return nil, err
			}
			deleted = CommentDeleted{CommentId: commentId}
		}
		if deleted.CommentId == "" {
			var commentId string
			if err := json.Unmarshal(e.Data, &commentId); err == nil {
				deleted.CommentId = commentId
			}
		}
		if deleted.CommentId == "" {
			return nil, fmt.Errorf("comment removal without commentId")
		}
		return deleted, nil
	default:
		return nil, fmt.Errorf("unknown event %q", e.Event)
	}
}
