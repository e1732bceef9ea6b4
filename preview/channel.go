package preview

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

const ChannelBufferSize = 32

// MessageChannel is the async, untyped, fire-and-forget link to the peer.
// `Send` never blocks on the peer and never returns an error; after `Close`
// it is a no-op. The single receive callback is invoked once per inbound
// payload, in receipt order, never concurrently with itself.
// Malformed or foreign payloads are discarded before the callback.
type MessageChannel interface {
	Send(payload map[string]any)
	SetReceiveCallback(receiveCallback func(payload map[string]any))
	Done() <-chan struct{}
	Close()
}

type WebSocketChannelSettings struct {
	WsHandshakeTimeout time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

func DefaultWebSocketChannelSettings() *WebSocketChannelSettings {
	return &WebSocketChannelSettings{
		WsHandshakeTimeout: 2 * time.Second,
		PingTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        30 * time.Second,
	}
}

// WebSocketChannel carries json payloads to the embedded rendering surface.
// There is no reconnect loop. The embed frame has one life; when the socket
// drops the channel is done and the owner tears down pending work.
type WebSocketChannel struct {
	ctx    context.Context
	cancel context.CancelFunc

	ws       *websocket.Conn
	settings *WebSocketChannelSettings

	send chan map[string]any

	stateLock       sync.Mutex
	receiveCallback func(payload map[string]any)
}

func NewWebSocketChannelWithDefaults(ctx context.Context, url string) (*WebSocketChannel, error) {
	return NewWebSocketChannel(ctx, url, DefaultWebSocketChannelSettings())
}

func NewWebSocketChannel(ctx context.Context, url string, settings *WebSocketChannelSettings) (*WebSocketChannel, error) {
	cancelCtx, cancel := context.WithCancel(ctx)

	dialer := &websocket.Dialer{
		HandshakeTimeout: settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(cancelCtx, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}

	channel := &WebSocketChannel{
		ctx:      cancelCtx,
		cancel:   cancel,
		ws:       ws,
		settings: settings,
		send:     make(chan map[string]any, ChannelBufferSize),
	}
	go channel.runSend()
	go channel.runReceive()
	return channel, nil
}

func (self *WebSocketChannel) SetReceiveCallback(receiveCallback func(payload map[string]any)) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.receiveCallback = receiveCallback
}

func (self *WebSocketChannel) Send(payload map[string]any) {
	if payload == nil {
		return
	}
	select {
	case <-self.ctx.Done():
		// closed, drop
	case self.send <- payload:
	}
}

func (self *WebSocketChannel) runSend() {
	defer func() {
		self.cancel()
		self.ws.Close()
	}()

	for {
		select {
		case <-self.ctx.Done():
			return
		case payload := <-self.send:
			message, err := json.Marshal(payload)
			if err != nil {
				glog.Infof("[ch]send encode error = %s\n", err)
				continue
			}
			self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := self.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				// a deadline timeout cannot be recovered on websocket
				glog.Infof("[ch]-> error = %s\n", err)
				return
			}
			glog.V(2).Infof("[ch]->\n")
		case <-time.After(self.settings.PingTimeout):
			self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := self.ws.WriteMessage(websocket.PingMessage, make([]byte, 0)); err != nil {
				return
			}
		}
	}
}

func (self *WebSocketChannel) runReceive() {
	defer self.cancel()

	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		self.ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		messageType, message, err := self.ws.ReadMessage()
		if err != nil {
			glog.Infof("[ch]<- error = %s\n", err)
			return
		}

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			// transport noise must never reach the callback as an error.
			// anything that is not a json object from the peer is dropped.
			var payload map[string]any
			if err := json.Unmarshal(message, &payload); err != nil {
				glog.V(2).Infof("[ch]drop malformed<-\n")
				continue
			}
			if payload == nil {
				glog.V(2).Infof("[ch]drop null<-\n")
				continue
			}
			self.dispatch(payload)
		default:
			glog.V(2).Infof("[ch]other=%d<-\n", messageType)
		}
	}
}

func (self *WebSocketChannel) dispatch(payload map[string]any) {
	self.stateLock.Lock()
	receiveCallback := self.receiveCallback
	self.stateLock.Unlock()

	if receiveCallback == nil {
		return
	}
	safeInvoke(func() {
		receiveCallback(payload)
	})
}

func (self *WebSocketChannel) Done() <-chan struct{} {
	return self.ctx.Done()
}

func (self *WebSocketChannel) Close() {
	self.cancel()
}

// PipeChannel is an in-process channel pair. One side is handed to the
// controller, the other side scripts the peer. Used by tests and by
// `previewctl` loopback mode.
type PipeChannel struct {
	ctx    context.Context
	cancel context.CancelFunc

	peer *PipeChannel

	inbox chan map[string]any

	stateLock       sync.Mutex
	receiveCallback func(payload map[string]any)
}

func NewPipeChannel(ctx context.Context) (*PipeChannel, *PipeChannel) {
	cancelCtx, cancel := context.WithCancel(ctx)

	a := &PipeChannel{
		ctx:    cancelCtx,
		cancel: cancel,
		inbox:  make(chan map[string]any, ChannelBufferSize),
	}
	b := &PipeChannel{
		ctx:    cancelCtx,
		cancel: cancel,
		inbox:  make(chan map[string]any, ChannelBufferSize),
	}
	a.peer = b
	b.peer = a
	go a.run()
	go b.run()
	return a, b
}

func (self *PipeChannel) run() {
	for {
		select {
		case <-self.ctx.Done():
			return
		case payload := <-self.inbox:
			self.stateLock.Lock()
			receiveCallback := self.receiveCallback
			self.stateLock.Unlock()
			if receiveCallback != nil {
				safeInvoke(func() {
					receiveCallback(payload)
				})
			}
		}
	}
}

func (self *PipeChannel) SetReceiveCallback(receiveCallback func(payload map[string]any)) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.receiveCallback = receiveCallback
}

func (self *PipeChannel) Send(payload map[string]any) {
	if payload == nil {
		return
	}
	select {
	case <-self.ctx.Done():
	case self.peer.inbox <- payload:
	}
}

func (self *PipeChannel) Done() <-chan struct{} {
	return self.ctx.Done()
}

// Close severs both sides. The pipe models one embed frame whose two ends
// live and die together.
func (self *PipeChannel) Close() {
	self.cancel()
}
