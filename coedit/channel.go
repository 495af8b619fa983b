package coedit

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// Channel is the bidirectional publish/subscribe handle to the event
// service. It interprets no payloads beyond envelope validation; the
// reconciliation handlers are attached with AddReceiveCallback.
//
// Sends are fire-and-forget. The channel provides no ordering or
// delivery guarantee, and callers must not rely on one; the
// consistency floor is the next successful reload.

type ChannelSettings struct {
	WsHandshakeTimeout time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	SendBufferSize     int
}

func DefaultChannelSettings() *ChannelSettings {
	return &ChannelSettings{
		WsHandshakeTimeout: 2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
		SendBufferSize:     32,
	}
}

type ChannelAuth struct {
	Token      string
	InstanceId Id
}

type ReceiveEventFunction func(event Event)

type Channel struct {
	ctx    context.Context
	cancel context.CancelFunc

	channelUrl string
	auth       *ChannelAuth

	settings *ChannelSettings

	send chan []byte

	receiveCallbacks CallbackList[ReceiveEventFunction]

	stateMutex sync.Mutex
	// the document room this client is in, re-joined after reconnect
	room string
}

func NewChannelWithDefaults(
	ctx context.Context,
	channelUrl string,
	auth *ChannelAuth,
) *Channel {
	return NewChannel(ctx, channelUrl, auth, DefaultChannelSettings())
}

func NewChannel(
	ctx context.Context,
	channelUrl string,
	auth *ChannelAuth,
	settings *ChannelSettings,
) *Channel {
	cancelCtx, cancel := context.WithCancel(ctx)
	channel := &Channel{
		ctx:        cancelCtx,
		cancel:     cancel,
		channelUrl: channelUrl,
		auth:       auth,
		settings:   settings,
		send:       make(chan []byte, settings.SendBufferSize),
	}
	go channel.run()
	return channel
}

func (self *Channel) AddReceiveCallback(receiveCallback ReceiveEventFunction) int {
	return self.receiveCallbacks.add(receiveCallback)
}

func (self *Channel) RemoveReceiveCallback(callbackId int) {
	self.receiveCallbacks.remove(callbackId)
}

// Send queues one event without blocking. When the buffer is full the
// event is dropped, which degrades the channel to reload-only
// consistency. That is acceptable.
func (self *Channel) Send(event Event) bool {
	frame, err := EncodeEvent(event)
	if err != nil {
		glog.Infof("[ch]encode error = %s\n", err)
		return false
	}
	return self.sendFrame(frame)
}

// Join announces that this client is viewing the document, so the
// server subscribes it to the document's patch room. The room is
// re-announced after every reconnect until Leave.
func (self *Channel) Join(documentId string) bool {
	self.stateMutex.Lock()
	self.room = documentId
	self.stateMutex.Unlock()

	frame, err := EncodeJoin(documentId)
	if err != nil {
		return false
	}
	return self.sendFrame(frame)
}

func (self *Channel) Leave() {
	self.stateMutex.Lock()
	self.room = ""
	self.stateMutex.Unlock()
}

func (self *Channel) currentRoom() string {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.room
}

func (self *Channel) sendFrame(frame []byte) bool {
	select {
	case self.send <- frame:
		return true
	default:
		// full
		glog.Infof("[ch]drop %s->\n", self.auth.InstanceId)
		return false
	}
}

func (self *Channel) receive(event Event) {
	for _, receiveCallback := range self.receiveCallbacks.get() {
		func() {
			defer func() {
				recover()
			}()
			receiveCallback(event)
		}()
	}
}

func (self *Channel) run() {
	defer self.cancel()

	for {
		reconnect := NewReconnect(self.settings.ReconnectTimeout)
		connect := func() (*websocket.Conn, error) {
			dialer := &websocket.Dialer{
				HandshakeTimeout: self.settings.WsHandshakeTimeout,
			}
			ws, _, err := dialer.DialContext(self.ctx, self.channelUrl, nil)
			if err != nil {
				return nil, err
			}

			success := false
			defer func() {
				if !success {
					ws.Close()
				}
			}()

			helloFrame, err := EncodeHello(self.auth.InstanceId, self.auth.Token)
			if err != nil {
				return nil, err
			}
			ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, helloFrame); err != nil {
				return nil, err
			}

			// re-join the open document's room after a reconnect,
			// otherwise a dropped socket would leave this client
			// permanently stale
			if room := self.currentRoom(); room != "" {
				joinFrame, err := EncodeJoin(room)
				if err != nil {
					return nil, err
				}
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, joinFrame); err != nil {
					return nil, err
				}
			}

			success = true
			return ws, nil
		}

		ws, err := connect()
		if err != nil {
			glog.Infof("[ch]connect error %s = %s\n", self.auth.InstanceId, err)
			select {
			case <-self.ctx.Done():
				return
			case <-reconnect.After():
				continue
			}
		}

		c := func() {
			defer ws.Close()

			handleCtx, handleCancel := context.WithCancel(self.ctx)
			defer handleCancel()

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					case frame, ok := <-self.send:
						if !ok {
							return
						}

						ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
						if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
							// note that for websocket a deadline timeout cannot be recovered
							glog.Infof("[ch]%s-> error = %s\n", self.auth.InstanceId, err)
							return
						}
						glog.V(2).Infof("[ch]%s->\n", self.auth.InstanceId)
					case <-time.After(self.settings.PingTimeout):
						ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
						if err := ws.WriteMessage(websocket.TextMessage, make([]byte, 0)); err != nil {
							return
						}
					}
				}
			}()

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					default:
					}

					ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
					messageType, frame, err := ws.ReadMessage()
					if err != nil {
						glog.Infof("[ch]%s<- error = %s\n", self.auth.InstanceId, err)
						return
					}

					switch messageType {
					case websocket.TextMessage, websocket.BinaryMessage:
						if len(frame) == 0 {
							// ping
							glog.V(2).Infof("[ch]ping %s<-\n", self.auth.InstanceId)
							continue
						}

						event, err := DecodeEvent(frame)
						if err != nil {
							// reject at the boundary, handlers never see it
							glog.V(2).Infof("[ch]bad event %s<- = %s\n", self.auth.InstanceId, err)
							continue
						}
						self.receive(event)
						glog.V(2).Infof("[ch]%s<-\n", self.auth.InstanceId)
					default:
						glog.V(2).Infof("[ch]other=%d %s<-\n", messageType, self.auth.InstanceId)
					}
				}
			}()

			select {
			case <-handleCtx.Done():
			}
		}
		reconnect = NewReconnect(self.settings.ReconnectTimeout)
		c()
		select {
		case <-self.ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}

func (self *Channel) Close() {
	self.cancel()
}
