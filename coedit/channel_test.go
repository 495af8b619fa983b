package coedit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"
)

func testChannelSettings() *ChannelSettings {
	return &ChannelSettings{
		WsHandshakeTimeout: 2 * time.Second,
		ReconnectTimeout:   50 * time.Millisecond,
		PingTimeout:        200 * time.Millisecond,
		WriteTimeout:       2 * time.Second,
		ReadTimeout:        5 * time.Second,
		SendBufferSize:     8,
	}
}

// channelTestServer accepts websocket connections and exposes the
// decoded inbound envelopes and the raw connections.
type channelTestServer struct {
	server    *httptest.Server
	envelopes chan envelope
	conns     chan *websocket.Conn
}

func newChannelTestServer() *channelTestServer {
	testServer := &channelTestServer{
		envelopes: make(chan envelope, 32),
		conns:     make(chan *websocket.Conn, 4),
	}

	upgrader := websocket.Upgrader{}
	testServer.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		testServer.conns <- ws
		for {
			_, frame, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if len(frame) == 0 {
				// ping
				continue
			}
			var e envelope
			if err := json.Unmarshal(frame, &e); err != nil {
				continue
			}
			testServer.envelopes <- e
		}
	}))

	return testServer
}

func (self *channelTestServer) url() string {
	return "ws" + strings.TrimPrefix(self.server.URL, "http")
}

func (self *channelTestServer) nextEnvelope(t *testing.T) envelope {
	select {
	case e := <-self.envelopes:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for frame")
		return envelope{}
	}
}

func (self *channelTestServer) nextConn(t *testing.T) *websocket.Conn {
	select {
	case ws := <-self.conns:
		return ws
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for connection")
		return nil
	}
}

func (self *channelTestServer) close() {
	self.server.Close()
}

func TestChannelHelloAndJoin(t *testing.T) {
	testServer := newChannelTestServer()
	defer testServer.close()

	instanceId := NewId()
	channel := NewChannel(context.Background(), testServer.url(), &ChannelAuth{
		Token:      "test-token",
		InstanceId: instanceId,
	}, testChannelSettings())
	defer channel.Close()

	testServer.nextConn(t)

	// the hello frame announces the instance before anything else
	hello := testServer.nextEnvelope(t)
	assert.Equal(t, "hello", hello.Event)
	var auth helloData
	err := json.Unmarshal(hello.Data, &auth)
	assert.Equal(t, err, nil)
	assert.Equal(t, instanceId, auth.InstanceId)
	assert.Equal(t, "test-token", auth.Token)

	ok := channel.Join("d1")
	assert.Equal(t, true, ok)

	join := testServer.nextEnvelope(t)
	assert.Equal(t, "create", join.Event)
	var documentId string
	err = json.Unmarshal(join.Data, &documentId)
	assert.Equal(t, err, nil)
	assert.Equal(t, "d1", documentId)
}

func TestChannelRejoinAfterReconnect(t *testing.T) {
	testServer := newChannelTestServer()
	defer testServer.close()

	channel := NewChannel(context.Background(), testServer.url(), &ChannelAuth{
		Token:      "test-token",
		InstanceId: NewId(),
	}, testChannelSettings())
	defer channel.Close()

	ws := testServer.nextConn(t)
	assert.Equal(t, "hello", testServer.nextEnvelope(t).Event)

	channel.Join("d1")
	assert.Equal(t, "create", testServer.nextEnvelope(t).Event)

	// drop the connection server side. The channel reconnects and
	// re-announces the room without another Join call.
	ws.Close()
	testServer.nextConn(t)

	assert.Equal(t, "hello", testServer.nextEnvelope(t).Event)
	rejoin := testServer.nextEnvelope(t)
	assert.Equal(t, "create", rejoin.Event)
	var documentId string
	err := json.Unmarshal(rejoin.Data, &documentId)
	assert.Equal(t, err, nil)
	assert.Equal(t, "d1", documentId)
}

func TestChannelSendEvent(t *testing.T) {
	testServer := newChannelTestServer()
	defer testServer.close()

	channel := NewChannel(context.Background(), testServer.url(), &ChannelAuth{
		Token:      "test-token",
		InstanceId: NewId(),
	}, testChannelSettings())
	defer channel.Close()

	testServer.nextConn(t)
	assert.Equal(t, "hello", testServer.nextEnvelope(t).Event)

	ok := channel.Send(FieldPatch{
		DocumentId: "d1",
		Title:      stringPtr("New"),
	})
	assert.Equal(t, true, ok)

	e := testServer.nextEnvelope(t)
	assert.Equal(t, "doc", e.Event)
	var patch FieldPatch
	err := json.Unmarshal(e.Data, &patch)
	assert.Equal(t, err, nil)
	assert.Equal(t, "d1", patch.DocumentId)
	assert.Equal(t, "New", *patch.Title)
}

func TestChannelReceiveDispatch(t *testing.T) {
	testServer := newChannelTestServer()
	defer testServer.close()

	channel := NewChannel(context.Background(), testServer.url(), &ChannelAuth{
		Token:      "test-token",
		InstanceId: NewId(),
	}, testChannelSettings())
	defer channel.Close()

	received := make(chan Event, 8)
	callbackId := channel.AddReceiveCallback(func(event Event) {
		received <- event
	})
	defer channel.RemoveReceiveCallback(callbackId)

	ws := testServer.nextConn(t)
	assert.Equal(t, "hello", testServer.nextEnvelope(t).Event)

	err := ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"doc","data":{"_id":"d1","title":"New"}}`))
	assert.Equal(t, err, nil)
	// malformed frames are rejected at the boundary
	err = ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"doc","data":{"title":"no id"}}`))
	assert.Equal(t, err, nil)
	err = ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"update"}`))
	assert.Equal(t, err, nil)

	timeout := time.After(5 * time.Second)

	select {
	case event := <-received:
		patch, ok := event.(FieldPatch)
		assert.Equal(t, true, ok)
		assert.Equal(t, "d1", patch.DocumentId)
		assert.Equal(t, "New", *patch.Title)
	case <-timeout:
		t.Fatal("timeout waiting for patch event")
	}

	select {
	case event := <-received:
		_, ok := event.(FullReload)
		assert.Equal(t, true, ok)
	case <-timeout:
		t.Fatal("timeout waiting for reload event")
	}
}
